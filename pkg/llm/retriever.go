package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/xhad/ragingest/internal/models"
	"github.com/xhad/ragingest/internal/types"
)

const DefaultTopK = 4

var ErrEmptyQuestion = errors.New("question is empty")

// Retriever answers questions against stored chunks: it embeds the question,
// fetches the nearest chunks and passes them to the chat engine.
type Retriever struct {
	embedder types.Embedder
	store    types.VectorStore
	chat     *ChatEngine
	logger   *zap.Logger
}

func NewRetriever(embedder types.Embedder, store types.VectorStore, chat *ChatEngine, logger *zap.Logger) *Retriever {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Retriever{
		embedder: embedder,
		store:    store,
		chat:     chat,
		logger:   logger.With(zap.String("component", "retriever")),
	}
}

// Retrieve returns up to topK chunks closest to the question.
func (r *Retriever) Retrieve(ctx context.Context, question string, topK int) ([]models.Chunk, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, ErrEmptyQuestion
	}
	if topK <= 0 {
		topK = DefaultTopK
	}

	vectors, err := r.embedder.CreateEmbedding(ctx, []string{question})
	if err != nil {
		return nil, fmt.Errorf("failed to embed question: %w", err)
	}
	if len(vectors) == 0 {
		return nil, fmt.Errorf("failed to embed question: %w", ErrEmptyResponse)
	}

	chunks, err := r.store.Query(ctx, vectors[0], topK)
	if err != nil {
		return nil, fmt.Errorf("failed to query store: %w", err)
	}

	r.logger.Debug("retrieved context", zap.Int("chunks", len(chunks)), zap.Int("top_k", topK))
	return chunks, nil
}

// Ask retrieves context and returns the model's answer together with the
// chunks it was given.
func (r *Retriever) Ask(ctx context.Context, question string, topK int) (string, []models.Chunk, error) {
	chunks, err := r.Retrieve(ctx, question, topK)
	if err != nil {
		return "", nil, err
	}

	answer, err := r.chat.Answer(ctx, question, chunks)
	if err != nil {
		return "", chunks, err
	}
	return answer, chunks, nil
}

// AskStream is Ask with the reply streamed in pieces.
func (r *Retriever) AskStream(ctx context.Context, question string, topK int) (<-chan string, []models.Chunk, error) {
	chunks, err := r.Retrieve(ctx, question, topK)
	if err != nil {
		return nil, nil, err
	}

	stream, err := r.chat.ChatStream(ctx, question, chunks)
	if err != nil {
		return nil, chunks, err
	}
	return stream, chunks, nil
}
