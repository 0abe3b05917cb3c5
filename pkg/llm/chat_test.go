package llm_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"

	"github.com/xhad/ragingest/internal/models"
	"github.com/xhad/ragingest/pkg/llm"
)

type fakeModel struct {
	reply    string
	err      error
	messages []llms.MessageContent
	opts     llms.CallOptions
}

func (f *fakeModel) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	f.messages = messages
	for _, opt := range options {
		opt(&f.opts)
	}
	if f.err != nil {
		return nil, f.err
	}
	if f.opts.StreamingFunc != nil {
		for _, piece := range strings.SplitAfter(f.reply, " ") {
			if err := f.opts.StreamingFunc(ctx, []byte(piece)); err != nil {
				return nil, err
			}
		}
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: f.reply}}}, nil
}

func (f *fakeModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, f, prompt, options...)
}

func text(t *testing.T, m llms.MessageContent) string {
	require.NotEmpty(t, m.Parts)
	part, ok := m.Parts[0].(llms.TextContent)
	require.True(t, ok)
	return part.Text
}

func sampleChunks() []models.Chunk {
	return []models.Chunk{
		{
			Content: "Dropout randomly disables units during training.",
			Meta:    models.Metadata{SourceType: models.SourceTypeWeb, SourceURL: "https://example.com/dropout"},
		},
		{
			Content: "Batch normalization rescales activations.",
			Meta:    models.Metadata{SourceType: models.SourceTypePDF, SourcePath: "deep.pdf", Page: 3},
		},
	}
}

func TestNewWithConfig(t *testing.T) {
	config := llm.ChatConfig{
		Model:          "testmodel",
		Temperature:    0.5,
		MaxTokens:      1000,
		SystemTemplate: "Test system template",
		BaseURL:        "http://localhost:1234",
	}
	engine, err := llm.NewWithConfig(config)
	assert.NoError(t, err)
	assert.NotNil(t, engine)
}

func TestNewWithConfigRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		config llm.ChatConfig
	}{
		{"temperature too high", llm.ChatConfig{Temperature: 2.5}},
		{"negative temperature", llm.ChatConfig{Temperature: -1}},
		{"negative max tokens", llm.ChatConfig{Temperature: 0.5, MaxTokens: -1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := llm.NewWithModel(&fakeModel{}, tt.config)
			assert.Error(t, err)
		})
	}
}

func TestAnswer(t *testing.T) {
	model := &fakeModel{reply: "  Dropout disables units at random.\n"}
	engine, err := llm.NewWithModel(model, llm.ChatConfig{Temperature: 0.3, MaxTokens: 256})
	require.NoError(t, err)

	answer, err := engine.Answer(context.Background(), "What does dropout do?", sampleChunks())
	require.NoError(t, err)
	assert.Equal(t, "Answer: Dropout disables units at random.", answer)

	require.Len(t, model.messages, 2)
	assert.Equal(t, llms.ChatMessageTypeSystem, model.messages[0].Role)
	system := text(t, model.messages[0])
	assert.Contains(t, system, "Use the following context")
	assert.Contains(t, system, "Source: https://example.com/dropout")
	assert.Contains(t, system, "Source: deep.pdf")
	assert.Contains(t, system, "Batch normalization rescales activations.")
	assert.Equal(t, "What does dropout do?", text(t, model.messages[1]))
	assert.Equal(t, 0.3, model.opts.Temperature)
	assert.Equal(t, 256, model.opts.MaxTokens)
}

func TestAnswerCustomTemplateWithoutPlaceholder(t *testing.T) {
	model := &fakeModel{reply: "ok"}
	engine, err := llm.NewWithModel(model, llm.ChatConfig{SystemTemplate: "Be brief."})
	require.NoError(t, err)

	_, err = engine.Answer(context.Background(), "q", sampleChunks())
	require.NoError(t, err)

	system := text(t, model.messages[0])
	assert.True(t, strings.HasPrefix(system, "Be brief."))
	assert.Contains(t, system, "Dropout randomly disables units")
	assert.NotContains(t, system, "%!")
}

func TestAnswerErrors(t *testing.T) {
	engine, err := llm.NewWithModel(&fakeModel{err: errors.New("model offline")}, llm.ChatConfig{})
	require.NoError(t, err)

	_, err = engine.Answer(context.Background(), "q", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model offline")
}

func TestChatStream(t *testing.T) {
	engine, err := llm.NewWithModel(&fakeModel{reply: "one two three"}, llm.ChatConfig{})
	require.NoError(t, err)

	stream, err := engine.ChatStream(context.Background(), "count", nil)
	require.NoError(t, err)

	var pieces []string
	for piece := range stream {
		pieces = append(pieces, piece)
	}
	assert.Equal(t, "one two three", strings.Join(pieces, ""))
	assert.Len(t, pieces, 3)
}

func TestChatStreamReportsError(t *testing.T) {
	engine, err := llm.NewWithModel(&fakeModel{err: errors.New("boom")}, llm.ChatConfig{})
	require.NoError(t, err)

	stream, err := engine.ChatStream(context.Background(), "q", nil)
	require.NoError(t, err)

	var last string
	for piece := range stream {
		last = piece
	}
	assert.Equal(t, "Error: boom", last)
}

func TestFormatSources(t *testing.T) {
	chunks := append(sampleChunks(), sampleChunks()[0])
	assert.Equal(t, "Sources:\nhttps://example.com/dropout\ndeep.pdf", llm.FormatSources(chunks))
	assert.Empty(t, llm.FormatSources(nil))
}
