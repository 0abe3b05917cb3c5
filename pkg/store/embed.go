package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"

	"github.com/xhad/ragingest/internal/models"
	"github.com/xhad/ragingest/internal/types"
)

var chunkNamespace = uuid.MustParse("6f1c2b7e-3d4a-4c59-9e8b-2a7d51c0f3e4")

// ChunkID derives a stable row id so re-ingesting a source upserts instead of
// duplicating.
func ChunkID(c models.Chunk) string {
	key := fmt.Sprintf("%s\x00%d\x00%d\x00%s", c.Meta.Source(), c.Meta.Page, c.StartIndex, c.Content)
	return uuid.NewSHA1(chunkNamespace, []byte(key)).String()
}

// embedAll embeds texts in batches of batchSize, running up to workers
// batches at once. The result is aligned with texts.
func embedAll(ctx context.Context, embedder types.Embedder, texts []string, batchSize, workers int) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if batchSize < 1 {
		batchSize = len(texts)
	}
	if workers < 1 {
		workers = 1
	}

	pool, err := ants.NewPool(workers)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding pool: %w", err)
	}
	defer pool.Release()

	out := make([][]float32, len(texts))
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
	)
	setErr := func(err error) {
		mu.Lock()
		if firstErr == nil {
			firstErr = err
		}
		mu.Unlock()
	}

	for start := 0; start < len(texts); start += batchSize {
		end := start + batchSize
		if end > len(texts) {
			end = len(texts)
		}
		start := start

		wg.Add(1)
		submitErr := pool.Submit(func() {
			defer wg.Done()
			if ctx.Err() != nil {
				setErr(ctx.Err())
				return
			}

			vectors, err := embedder.CreateEmbedding(ctx, texts[start:end])
			if err != nil {
				setErr(fmt.Errorf("batch %d-%d: %w", start, end, err))
				return
			}
			if len(vectors) != end-start {
				setErr(fmt.Errorf("batch %d-%d: got %d vectors", start, end, len(vectors)))
				return
			}
			copy(out[start:end], vectors)
		})
		if submitErr != nil {
			wg.Done()
			setErr(fmt.Errorf("failed to submit embedding batch: %w", submitErr))
			break
		}
	}

	wg.Wait()
	if firstErr != nil {
		return nil, firstErr
	}
	return out, nil
}
