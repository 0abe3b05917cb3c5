// Package pipeline wires source classification, batch loading and chunking
// into a single blocking call.
package pipeline

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/xhad/ragingest/internal/models"
	"github.com/xhad/ragingest/internal/types"
	"github.com/xhad/ragingest/pkg/batch"
	"github.com/xhad/ragingest/pkg/chunker"
	"github.com/xhad/ragingest/pkg/loader"
)

var ErrBatchAborted = errors.New("batch aborted")

// BatchAbortedError is returned when not a single loader could be built from
// the given sources. Skipped holds the reason for each rejected source.
type BatchAbortedError struct {
	Skipped []error
}

func (e *BatchAbortedError) Error() string {
	return fmt.Sprintf("%s: no loadable sources (%d skipped)", ErrBatchAborted, len(e.Skipped))
}

func (e *BatchAbortedError) Is(target error) bool {
	return target == ErrBatchAborted
}

func (e *BatchAbortedError) Unwrap() []error {
	return e.Skipped
}

type Config struct {
	MaxConcurrent int
	Factory       *loader.Factory
	Batch         *batch.Loader
	Chunker       types.Chunker
	// Store receives the chunks of every Run. Nil skips persistence.
	Store  types.VectorStore
	Logger *zap.Logger
}

type Pipeline struct {
	config Config
	logger *zap.Logger
}

type Result struct {
	Documents []models.Document
	Chunks    []models.Chunk
	Skipped   []error
}

func New(config Config) (*Pipeline, error) {
	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = batch.DefaultMaxConcurrent
	}
	if config.Factory == nil {
		config.Factory = loader.NewFactory(loader.FactoryConfig{Logger: logger})
	}
	if config.Batch == nil {
		config.Batch = batch.NewWithConfig(batch.Config{Logger: logger})
	}
	if config.Chunker == nil {
		c, err := chunker.NewWithConfig(chunker.Config{
			ChunkSize:    chunker.DefaultChunkSize,
			ChunkOverlap: chunker.DefaultChunkOverlap,
			Logger:       logger,
		})
		if err != nil {
			return nil, err
		}
		config.Chunker = c
	}

	return &Pipeline{
		config: config,
		logger: logger.With(zap.String("component", "pipeline")),
	}, nil
}

// WithProgress returns a pipeline sharing p's components whose batch reports
// per-source progress to fn.
func (p *Pipeline) WithProgress(fn batch.ProgressFunc) *Pipeline {
	c := *p
	c.config.Batch = p.config.Batch.WithProgress(fn)
	return &c
}

// Load classifies and loads sources without chunking. Per-source failures are
// absorbed; only a batch with no loadable source returns an error.
func (p *Pipeline) Load(ctx context.Context, sources []string) (*Result, error) {
	loaders, skipped := p.config.Factory.CreateAll(sources)
	if len(loaders) == 0 {
		p.logger.Error("no valid loaders could be created", zap.Int("sources", len(sources)))
		return nil, &BatchAbortedError{Skipped: skipped}
	}

	p.logger.Info("loading sources",
		zap.Int("loaders", len(loaders)),
		zap.Int("skipped", len(skipped)),
		zap.Int("max_concurrent", p.config.MaxConcurrent),
	)

	docs := p.config.Batch.LoadAll(ctx, loaders, p.config.MaxConcurrent)
	return &Result{Documents: docs, Skipped: skipped}, nil
}

// Run loads and chunks sources, then hands the chunks to the configured store.
func (p *Pipeline) Run(ctx context.Context, sources []string) (*Result, error) {
	res, err := p.Load(ctx, sources)
	if err != nil {
		return nil, err
	}

	res.Chunks = p.config.Chunker.Chunk(res.Documents)
	p.logger.Info("pipeline finished",
		zap.Int("documents", len(res.Documents)),
		zap.Int("chunks", len(res.Chunks)),
	)

	if p.config.Store != nil && len(res.Chunks) > 0 {
		if err := p.config.Store.Store(ctx, res.Chunks); err != nil {
			return res, fmt.Errorf("failed to store chunks: %w", err)
		}
	}

	return res, nil
}
