package types

import (
	"context"

	"github.com/xhad/ragingest/internal/models"
)

// Core interfaces

// Loader binds one source identifier to the logic that turns it into Documents.
// A Loader is invoked once and discarded.
type Loader interface {
	Source() string
	Load(ctx context.Context) ([]models.Document, error)
}

type VectorStore interface {
	Store(ctx context.Context, chunks []models.Chunk) error
	Query(ctx context.Context, embedding []float32, limit int) ([]models.Chunk, error)
	Close()
}

type Embedder interface {
	CreateEmbedding(ctx context.Context, texts []string) ([][]float32, error)
}

type Chunker interface {
	Chunk(docs []models.Document) []models.Chunk
}
