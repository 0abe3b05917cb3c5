package llm

import (
	"context"
	"fmt"
	"net/http"

	"github.com/tmc/langchaingo/llms/ollama"
)

// EmbedderConfig represents the configuration for an Ollama embedder.
type EmbedderConfig struct {
	Model      string
	BaseURL    string // Ollama server URL
	HTTPClient *http.Client
}

// Embedder turns chunk texts into vectors with an Ollama embedding model.
type Embedder struct {
	config EmbedderConfig
	embed  *ollama.LLM
}

func NewEmbedderWithConfig(config EmbedderConfig) (*Embedder, error) {
	if config.Model == "" {
		config.Model = "nomic-embed-text:latest" // Default Ollama model
	}
	if config.BaseURL == "" {
		config.BaseURL = "http://localhost:11434" // Default Ollama URL
	}

	opts := []ollama.Option{
		ollama.WithModel(config.Model),
		ollama.WithServerURL(config.BaseURL),
	}
	if config.HTTPClient != nil {
		opts = append(opts, ollama.WithHTTPClient(config.HTTPClient))
	}

	emb, err := ollama.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}

	return &Embedder{
		config: config,
		embed:  emb,
	}, nil
}

func NewEmbedder() (*Embedder, error) {
	return NewEmbedderWithConfig(EmbedderConfig{})
}

func (e *Embedder) Model() string {
	return e.config.Model
}

func (e *Embedder) CreateEmbedding(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	embeddings, err := e.embed.CreateEmbedding(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("failed to create embeddings: %w", err)
	}
	if len(embeddings) != len(texts) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d texts", len(embeddings), len(texts))
	}

	return embeddings, nil
}
