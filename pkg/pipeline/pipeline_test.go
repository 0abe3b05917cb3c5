package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xhad/ragingest/internal/models"
	"github.com/xhad/ragingest/internal/testutil"
	"github.com/xhad/ragingest/pkg/loader"
)

type recordingStore struct {
	chunks []models.Chunk
	err    error
}

func (s *recordingStore) Store(ctx context.Context, chunks []models.Chunk) error {
	s.chunks = append(s.chunks, chunks...)
	return s.err
}

func (s *recordingStore) Query(ctx context.Context, embedding []float32, limit int) ([]models.Chunk, error) {
	return nil, nil
}

func (s *recordingStore) Close() {}

func fivePagePDF(t *testing.T) string {
	pages := make([]string, 5)
	for i := range pages {
		pages[i] = fmt.Sprintf("Chapter %d covers supervised learning, loss functions and evaluation metrics.", i+1)
	}
	return testutil.WritePDF(t, t.TempDir(), "book.pdf", "Learning Book", pages)
}

func TestRunPDFPerPageChunks(t *testing.T) {
	path := fivePagePDF(t)

	p, err := New(Config{})
	require.NoError(t, err)

	res, err := p.Run(context.Background(), []string{path})
	require.NoError(t, err)
	require.Len(t, res.Documents, 5)
	require.GreaterOrEqual(t, len(res.Chunks), 5)

	lastStart := map[int]int{}
	for _, ch := range res.Chunks {
		assert.Equal(t, models.SourceTypePDF, ch.Meta.SourceType)
		prev, seen := lastStart[ch.Meta.Page]
		if seen {
			assert.Greater(t, ch.StartIndex, prev)
		}
		lastStart[ch.Meta.Page] = ch.StartIndex
	}
	assert.Len(t, lastStart, 5)
}

func TestRunSkipsUnsupportedSources(t *testing.T) {
	path := fivePagePDF(t)

	p, err := New(Config{})
	require.NoError(t, err)

	res, err := p.Run(context.Background(), []string{"readme-without-extension", path})
	require.NoError(t, err)
	assert.Len(t, res.Documents, 5)
	require.Len(t, res.Skipped, 1)
	assert.ErrorIs(t, res.Skipped[0], loader.ErrUnsupportedSource)
}

func TestRunAbortsWhenNothingLoadable(t *testing.T) {
	p, err := New(Config{})
	require.NoError(t, err)

	tests := []struct {
		name    string
		sources []string
		skipped int
	}{
		{"no sources", nil, 0},
		{"all unsupported", []string{"alpha", "ftp://example.com/x", filepath.Join(t.TempDir(), "missing")}, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := p.Run(context.Background(), tt.sources)
			assert.Nil(t, res)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrBatchAborted))

			var aborted *BatchAbortedError
			require.True(t, errors.As(err, &aborted))
			assert.Len(t, aborted.Skipped, tt.skipped)
			if tt.skipped > 0 {
				assert.ErrorIs(t, err, loader.ErrUnsupportedSource)
			}
		})
	}
}

func TestRunPartialFailureStillSucceeds(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/gone" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte("<html><head><title>Ok</title></head><body><main><p>" +
			strings.Repeat("Gradient boosting builds an ensemble of weak learners. ", 4) +
			"</p></main></body></html>"))
	}))
	defer srv.Close()

	p, err := New(Config{})
	require.NoError(t, err)

	res, err := p.Run(context.Background(), []string{srv.URL + "/gone"})
	require.NoError(t, err)
	assert.Empty(t, res.Documents)
	assert.Empty(t, res.Chunks)

	res, err = p.Run(context.Background(), []string{srv.URL + "/gone", srv.URL + "/ok"})
	require.NoError(t, err)
	require.Len(t, res.Documents, 1)
	assert.Equal(t, "Ok", res.Documents[0].Meta.Title)
	assert.NotEmpty(t, res.Chunks)
}

func TestLoadDoesNotChunk(t *testing.T) {
	p, err := New(Config{})
	require.NoError(t, err)

	res, err := p.Load(context.Background(), []string{fivePagePDF(t)})
	require.NoError(t, err)
	assert.Len(t, res.Documents, 5)
	assert.Nil(t, res.Chunks)
}

func TestRunStoresChunks(t *testing.T) {
	store := &recordingStore{}
	p, err := New(Config{Store: store})
	require.NoError(t, err)

	res, err := p.Run(context.Background(), []string{fivePagePDF(t)})
	require.NoError(t, err)
	assert.Equal(t, res.Chunks, store.chunks)

	store.err = errors.New("database down")
	res, err = p.Run(context.Background(), []string{fivePagePDF(t)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database down")
	assert.NotNil(t, res)
}

func TestWithProgress(t *testing.T) {
	p, err := New(Config{})
	require.NoError(t, err)

	var sources []string
	_, err = p.WithProgress(func(source string, docs int, err error) {
		sources = append(sources, source)
		assert.Equal(t, 5, docs)
		assert.NoError(t, err)
	}).Run(context.Background(), []string{fivePagePDF(t)})
	require.NoError(t, err)
	assert.Len(t, sources, 1)
}
