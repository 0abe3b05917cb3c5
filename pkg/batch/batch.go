// Package batch runs document loaders concurrently under a bounded
// concurrency limit, isolates their failures and deduplicates the output.
package batch

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/xhad/ragingest/internal/models"
	"github.com/xhad/ragingest/internal/types"
	"github.com/xhad/ragingest/pkg/loader"
)

const DefaultMaxConcurrent = 5

const (
	outcomeOK    = "ok"
	outcomeEmpty = "empty"
	outcomeError = "error"

	kindNone = "none"
)

// ProgressFunc is called once per loader after it settles. Calls are serialized.
type ProgressFunc func(source string, docs int, err error)

type Config struct {
	// RateLimit caps loader starts per second within one batch. Zero disables it.
	RateLimit  float64
	OnProgress ProgressFunc
	Logger     *zap.Logger
	Metrics    *Metrics
}

// Loader is stateless between calls: the limiter and dedup set live only for
// the duration of one LoadAll.
type Loader struct {
	config Config
	logger *zap.Logger
}

func NewWithConfig(config Config) *Loader {
	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{
		config: config,
		logger: logger.With(zap.String("component", "batch_loader")),
	}
}

func New() *Loader {
	return NewWithConfig(Config{})
}

// WithProgress returns a copy of b reporting to fn instead.
func (b *Loader) WithProgress(fn ProgressFunc) *Loader {
	c := *b
	c.config.OnProgress = fn
	return &c
}

type outcome struct {
	docs []models.Document
	err  error
}

// LoadAll invokes every loader once, with at most maxConcurrent running at a
// time, and returns after all of them have settled. Failed loaders contribute
// no documents. Output keeps loader input order, then page order within a loader,
// with later documents sharing a content hash dropped.
func (b *Loader) LoadAll(ctx context.Context, loaders []types.Loader, maxConcurrent int) []models.Document {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}

	sem := semaphore.NewWeighted(int64(maxConcurrent))
	var limiter *rate.Limiter
	if b.config.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(b.config.RateLimit), 1)
	}

	results := make([]outcome, len(loaders))
	var (
		wg         sync.WaitGroup
		progressMu sync.Mutex
	)

	for i, l := range loaders {
		wg.Add(1)
		go func(i int, l types.Loader) {
			defer wg.Done()

			res := b.run(ctx, sem, limiter, l)
			results[i] = res

			if res.err != nil {
				b.logger.Warn("document loading failed",
					zap.String("source", l.Source()),
					zap.String("kind", string(loader.KindOf(res.err))),
					zap.Error(res.err),
				)
			}

			if b.config.OnProgress != nil {
				progressMu.Lock()
				b.config.OnProgress(l.Source(), len(res.docs), res.err)
				progressMu.Unlock()
			}
		}(i, l)
	}
	wg.Wait()

	var flattened []models.Document
	for i, res := range results {
		for _, doc := range res.docs {
			if strings.TrimSpace(doc.Content) == "" {
				b.logger.Debug("dropping empty document", zap.String("source", loaders[i].Source()))
				continue
			}
			flattened = append(flattened, doc)
		}
	}

	unique, duplicates := Deduplicate(flattened)
	for _, dup := range duplicates {
		b.logger.Info("skipping duplicate document",
			zap.String("source", dup.Meta.Source()),
			zap.String("content_hash", dup.Meta.ContentHash),
		)
	}
	b.config.Metrics.addDuplicates(len(duplicates))

	b.logger.Info("batch loaded",
		zap.Int("loaders", len(loaders)),
		zap.Int("documents", len(flattened)),
		zap.Int("unique", len(unique)),
	)

	return unique
}

func (b *Loader) run(ctx context.Context, sem *semaphore.Weighted, limiter *rate.Limiter, l types.Loader) (res outcome) {
	if err := sem.Acquire(ctx, 1); err != nil {
		return outcome{err: fmt.Errorf("loader for %s not started: %w", l.Source(), err)}
	}
	defer sem.Release(1)

	b.config.Metrics.trackInFlight(1)
	defer b.config.Metrics.trackInFlight(-1)

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			res = outcome{err: &loader.LoadError{Source: l.Source(), Kind: loader.KindPanic, Err: fmt.Errorf("%v", r)}}
		}

		switch {
		case res.err != nil:
			b.config.Metrics.observeLoad(outcomeError, string(loader.KindOf(res.err)), time.Since(start).Seconds())
		case len(res.docs) == 0:
			b.config.Metrics.observeLoad(outcomeEmpty, kindNone, time.Since(start).Seconds())
		default:
			b.config.Metrics.observeLoad(outcomeOK, kindNone, time.Since(start).Seconds())
		}
	}()

	if limiter != nil {
		if err := limiter.Wait(ctx); err != nil {
			return outcome{err: fmt.Errorf("loader for %s not started: %w", l.Source(), err)}
		}
	}

	docs, err := l.Load(ctx)
	if err != nil {
		return outcome{err: err}
	}
	return outcome{docs: docs}
}

// Deduplicate keeps the first document seen for each content hash. Documents
// without a hash are always kept.
func Deduplicate(docs []models.Document) (unique, duplicates []models.Document) {
	seen := make(map[string]struct{}, len(docs))
	unique = make([]models.Document, 0, len(docs))

	for _, doc := range docs {
		hash := doc.Meta.ContentHash
		if hash != "" {
			if _, ok := seen[hash]; ok {
				duplicates = append(duplicates, doc)
				continue
			}
			seen[hash] = struct{}{}
		}
		unique = append(unique, doc)
	}

	return unique, duplicates
}
