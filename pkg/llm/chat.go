package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"

	"github.com/xhad/ragingest/internal/models"
)

const AnswerPrefix = "Answer: "

var ErrEmptyResponse = errors.New("no response from LLM")

// ChatConfig represents the configuration for a chat engine.
type ChatConfig struct {
	Model          string
	Temperature    float64
	MaxTokens      int
	SystemTemplate string
	BaseURL        string // Ollama server URL
}

func (c ChatConfig) withDefaults() (ChatConfig, error) {
	if c.Model == "" {
		c.Model = "mistral" // Default Ollama model
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		return c, fmt.Errorf("temperature must be between 0 and 2")
	}
	if c.MaxTokens < 0 {
		return c, fmt.Errorf("max tokens cannot be negative")
	} else if c.MaxTokens == 0 {
		c.MaxTokens = 2000
	}
	if c.SystemTemplate == "" {
		c.SystemTemplate = "Use the following context to answer the user's question. " +
			"If the context does not contain the answer, say that you don't know.\n\nContext:\n%s"
	}
	if c.BaseURL == "" {
		c.BaseURL = "http://localhost:11434" // Default Ollama URL
	}
	return c, nil
}

// ChatEngine answers questions from retrieved chunks.
type ChatEngine struct {
	config ChatConfig
	llm    llms.Model
}

// NewWithConfig creates a ChatEngine backed by an Ollama server.
func NewWithConfig(config ChatConfig) (*ChatEngine, error) {
	config, err := config.withDefaults()
	if err != nil {
		return nil, err
	}

	llm, err := ollama.New(ollama.WithModel(config.Model),
		ollama.WithServerURL(config.BaseURL))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize LLM: %w", err)
	}

	return &ChatEngine{
		config: config,
		llm:    llm,
	}, nil
}

// NewWithModel creates a ChatEngine around an existing model.
func NewWithModel(model llms.Model, config ChatConfig) (*ChatEngine, error) {
	config, err := config.withDefaults()
	if err != nil {
		return nil, err
	}
	return &ChatEngine{config: config, llm: model}, nil
}

// Answer asks the model the question with chunks as context and returns the
// reply prefixed with "Answer: ".
func (ce *ChatEngine) Answer(ctx context.Context, question string, chunks []models.Chunk) (string, error) {
	response, err := ce.llm.GenerateContent(ctx, ce.messages(question, chunks), ce.options()...)
	if err != nil {
		return "", fmt.Errorf("chat error: %w", err)
	}
	if response == nil || len(response.Choices) == 0 || response.Choices[0] == nil {
		return "", ErrEmptyResponse
	}

	return AnswerPrefix + strings.TrimSpace(response.Choices[0].Content), nil
}

// ChatStream streams the reply in pieces. The channel is closed when the
// model finishes; a failure is sent as a final "Error: ..." piece.
func (ce *ChatEngine) ChatStream(ctx context.Context, question string, chunks []models.Chunk) (<-chan string, error) {
	resultChan := make(chan string)
	messages := ce.messages(question, chunks)

	go func() {
		defer close(resultChan)

		opts := append(ce.options(), llms.WithStreamingFunc(func(ctx context.Context, chunk []byte) error {
			select {
			case resultChan <- string(chunk):
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}))

		if _, err := ce.llm.GenerateContent(ctx, messages, opts...); err != nil {
			select {
			case resultChan <- fmt.Sprintf("Error: %v", err):
			case <-ctx.Done():
			}
		}
	}()

	return resultChan, nil
}

func (ce *ChatEngine) messages(question string, chunks []models.Chunk) []llms.MessageContent {
	system := ce.config.SystemTemplate
	if strings.Contains(system, "%s") {
		system = fmt.Sprintf(system, formatContext(chunks))
	} else {
		system += "\n\nContext:\n" + formatContext(chunks)
	}

	return []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, system),
		llms.TextParts(llms.ChatMessageTypeHuman, question),
	}
}

func (ce *ChatEngine) options() []llms.CallOption {
	return []llms.CallOption{
		llms.WithTemperature(ce.config.Temperature),
		llms.WithMaxTokens(ce.config.MaxTokens),
	}
}

func formatContext(chunks []models.Chunk) string {
	var contextBuilder strings.Builder
	for _, ch := range chunks {
		contextBuilder.WriteString(fmt.Sprintf("Source: %s\n%s\n\n", ch.Meta.Source(), ch.Content))
	}
	return strings.TrimSpace(contextBuilder.String())
}

// FormatSources lists the distinct sources of chunks for citation.
func FormatSources(chunks []models.Chunk) string {
	var sources []string
	seen := make(map[string]bool)

	for _, ch := range chunks {
		src := ch.Meta.Source()
		if src != "" && !seen[src] {
			sources = append(sources, src)
			seen[src] = true
		}
	}

	if len(sources) == 0 {
		return ""
	}

	return fmt.Sprintf("Sources:\n%s", strings.Join(sources, "\n"))
}
