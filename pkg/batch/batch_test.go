package batch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/xhad/ragingest/internal/models"
	"github.com/xhad/ragingest/internal/types"
	"github.com/xhad/ragingest/pkg/loader"
)

type fakeLoader struct {
	source  string
	docs    []models.Document
	err     error
	panics  bool
	delay   time.Duration
	onEnter func()
	onExit  func()
}

func (f *fakeLoader) Source() string { return f.source }

func (f *fakeLoader) Load(ctx context.Context) ([]models.Document, error) {
	if f.onEnter != nil {
		f.onEnter()
	}
	if f.onExit != nil {
		defer f.onExit()
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.panics {
		panic("loader exploded")
	}
	return f.docs, f.err
}

func doc(content string) models.Document {
	return models.Document{
		Content: content,
		Meta: models.Metadata{
			SourceType:  models.SourceTypeWeb,
			SourceURL:   "https://example.com/" + content,
			ContentHash: loader.ContentHash(content),
		},
	}
}

func contents(docs []models.Document) []string {
	out := make([]string, len(docs))
	for i, d := range docs {
		out[i] = d.Content
	}
	return out
}

func TestLoadAllIsolatesFailures(t *testing.T) {
	loaders := []types.Loader{
		&fakeLoader{source: "a", docs: []models.Document{doc("a1"), doc("a2")}},
		&fakeLoader{source: "b", err: &loader.LoadError{Source: "b", Kind: loader.KindNotFound, Err: errors.New("404")}},
		&fakeLoader{source: "c", panics: true},
		&fakeLoader{source: "d"},
		&fakeLoader{source: "e", docs: []models.Document{doc("e1")}},
	}

	got := New().LoadAll(context.Background(), loaders, 2)
	assert.Equal(t, []string{"a1", "a2", "e1"}, contents(got))
}

func TestLoadAllDropsDocumentsFromFailedLoader(t *testing.T) {
	loaders := []types.Loader{
		&fakeLoader{source: "partial", docs: []models.Document{doc("half")}, err: errors.New("late failure")},
	}

	assert.Empty(t, New().LoadAll(context.Background(), loaders, 1))
}

func TestLoadAllDropsEmptyContent(t *testing.T) {
	loaders := []types.Loader{
		&fakeLoader{source: "a", docs: []models.Document{{Content: "   "}, doc("kept")}},
	}

	assert.Equal(t, []string{"kept"}, contents(New().LoadAll(context.Background(), loaders, 1)))
}

func TestLoadAllPreservesLoaderOrder(t *testing.T) {
	loaders := make([]types.Loader, 10)
	want := make([]string, 10)
	for i := range loaders {
		content := fmt.Sprintf("doc-%d", i)
		// Earlier loaders finish later.
		loaders[i] = &fakeLoader{source: content, docs: []models.Document{doc(content)}, delay: time.Duration(10-i) * time.Millisecond}
		want[i] = content
	}

	assert.Equal(t, want, contents(New().LoadAll(context.Background(), loaders, 10)))
}

func TestLoadAllRespectsConcurrencyLimit(t *testing.T) {
	for _, limit := range []int{1, 3, 8} {
		t.Run(fmt.Sprintf("limit %d", limit), func(t *testing.T) {
			var active, peak int64
			enter := func() {
				n := atomic.AddInt64(&active, 1)
				for {
					p := atomic.LoadInt64(&peak)
					if n <= p || atomic.CompareAndSwapInt64(&peak, p, n) {
						return
					}
				}
			}
			exit := func() { atomic.AddInt64(&active, -1) }

			loaders := make([]types.Loader, 20)
			for i := range loaders {
				loaders[i] = &fakeLoader{
					source:  fmt.Sprintf("s%d", i),
					docs:    []models.Document{doc(fmt.Sprintf("c%d", i))},
					delay:   5 * time.Millisecond,
					onEnter: enter,
					onExit:  exit,
				}
			}

			got := New().LoadAll(context.Background(), loaders, limit)
			assert.Len(t, got, 20)
			assert.LessOrEqual(t, atomic.LoadInt64(&peak), int64(limit))
			assert.Greater(t, atomic.LoadInt64(&peak), int64(0))
		})
	}
}

func TestLoadAllNonPositiveLimitRunsSerially(t *testing.T) {
	var active, peak int64
	loaders := make([]types.Loader, 4)
	for i := range loaders {
		loaders[i] = &fakeLoader{
			source: fmt.Sprintf("s%d", i),
			delay:  2 * time.Millisecond,
			onEnter: func() {
				if n := atomic.AddInt64(&active, 1); n > atomic.LoadInt64(&peak) {
					atomic.StoreInt64(&peak, n)
				}
			},
			onExit: func() { atomic.AddInt64(&active, -1) },
		}
	}

	New().LoadAll(context.Background(), loaders, 0)
	assert.Equal(t, int64(1), atomic.LoadInt64(&peak))
}

func TestLoadAllEmptyInput(t *testing.T) {
	assert.Empty(t, New().LoadAll(context.Background(), nil, 5))
}

func TestLoadAllReportsProgress(t *testing.T) {
	var (
		mu     sync.Mutex
		events = map[string]int{}
		failed []string
	)
	b := NewWithConfig(Config{
		OnProgress: func(source string, docs int, err error) {
			mu.Lock()
			defer mu.Unlock()
			events[source] = docs
			if err != nil {
				failed = append(failed, source)
			}
		},
	})

	b.LoadAll(context.Background(), []types.Loader{
		&fakeLoader{source: "ok", docs: []models.Document{doc("one"), doc("two")}},
		&fakeLoader{source: "bad", err: errors.New("nope")},
	}, 2)

	assert.Equal(t, map[string]int{"ok": 2, "bad": 0}, events)
	assert.Equal(t, []string{"bad"}, failed)
}

func TestLoadAllRateLimit(t *testing.T) {
	b := NewWithConfig(Config{RateLimit: 20})
	loaders := make([]types.Loader, 5)
	for i := range loaders {
		loaders[i] = &fakeLoader{source: fmt.Sprintf("s%d", i)}
	}

	start := time.Now()
	b.LoadAll(context.Background(), loaders, 5)
	// Five starts at 20/s with a burst of one need four 50ms waits.
	assert.GreaterOrEqual(t, time.Since(start), 150*time.Millisecond)
}

func TestLoadAllMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics("ragingest", reg)
	b := NewWithConfig(Config{Metrics: m})

	b.LoadAll(context.Background(), []types.Loader{
		&fakeLoader{source: "a", docs: []models.Document{doc("same")}},
		&fakeLoader{source: "b", docs: []models.Document{doc("same")}},
		&fakeLoader{source: "c"},
		&fakeLoader{source: "d", err: &loader.LoadError{Kind: loader.KindTimeout, Err: errors.New("slow")}},
		&fakeLoader{source: "e", panics: true},
	}, 3)

	assert.Equal(t, 2.0, promtest.ToFloat64(m.loads.WithLabelValues(outcomeOK, kindNone)))
	assert.Equal(t, 1.0, promtest.ToFloat64(m.loads.WithLabelValues(outcomeEmpty, kindNone)))
	assert.Equal(t, 1.0, promtest.ToFloat64(m.loads.WithLabelValues(outcomeError, string(loader.KindTimeout))))
	assert.Equal(t, 1.0, promtest.ToFloat64(m.loads.WithLabelValues(outcomeError, string(loader.KindPanic))))
	assert.Equal(t, 1.0, promtest.ToFloat64(m.duplicates))
	assert.Equal(t, 0.0, promtest.ToFloat64(m.inFlight))
}

func TestLoadAllMixedWebSources(t *testing.T) {
	body := func(topic string) string {
		return "<html><head><title>" + topic + "</title></head><body><article><p>" +
			strings.Repeat(topic+" is explained in depth in this paragraph. ", 5) +
			"</p></article></body></html>"
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ml":
			_, _ = w.Write([]byte(body("Machine learning")))
		case "/dl":
			_, _ = w.Write([]byte(body("Deep learning")))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	f := loader.NewFactory(loader.FactoryConfig{})
	loaders, skipped := f.CreateAll([]string{srv.URL + "/ml", srv.URL + "/dl", srv.URL + "/missing"})
	require.Empty(t, skipped)

	got := New().LoadAll(context.Background(), loaders, 2)
	require.Len(t, got, 2)
	assert.Equal(t, "Machine learning", got[0].Meta.Title)
	assert.Equal(t, "Deep learning", got[1].Meta.Title)
	for _, d := range got {
		assert.Equal(t, models.SourceTypeWeb, d.Meta.SourceType)
	}
}

func TestDeduplicateKeepsFirstOccurrence(t *testing.T) {
	first := doc("x")
	first.Meta.SourceURL = "https://first"
	second := doc("x")
	second.Meta.SourceURL = "https://second"

	unique, dups := Deduplicate([]models.Document{first, doc("y"), second})
	require.Len(t, unique, 2)
	assert.Equal(t, "https://first", unique[0].Meta.SourceURL)
	require.Len(t, dups, 1)
	assert.Equal(t, "https://second", dups[0].Meta.SourceURL)
}

func TestDeduplicateKeepsUnhashed(t *testing.T) {
	docs := []models.Document{{Content: "a"}, {Content: "a"}}
	unique, dups := Deduplicate(docs)
	assert.Len(t, unique, 2)
	assert.Empty(t, dups)
}

func TestDeduplicateProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		picks := rapid.SliceOf(rapid.SampledFrom([]string{"alpha", "beta", "gamma", "delta", "epsilon"})).Draw(t, "contents")

		docs := make([]models.Document, len(picks))
		distinct := map[string]struct{}{}
		for i, c := range picks {
			docs[i] = doc(c)
			docs[i].Meta.Page = i
			distinct[c] = struct{}{}
		}

		unique, dups := Deduplicate(docs)
		if len(unique) != len(distinct) {
			t.Fatalf("got %d unique documents, want %d", len(unique), len(distinct))
		}
		if len(unique)+len(dups) != len(docs) {
			t.Fatalf("lost documents: %d + %d != %d", len(unique), len(dups), len(docs))
		}

		firstSeen := map[string]int{}
		for i, c := range picks {
			if _, ok := firstSeen[c]; !ok {
				firstSeen[c] = i
			}
		}
		for _, u := range unique {
			if u.Meta.Page != firstSeen[u.Content] {
				t.Fatalf("%q kept from position %d, want %d", u.Content, u.Meta.Page, firstSeen[u.Content])
			}
		}
	})
}

func TestWithProgressDoesNotMutateOriginal(t *testing.T) {
	var calls int64
	base := New()
	withProgress := base.WithProgress(func(string, int, error) { atomic.AddInt64(&calls, 1) })

	loaders := []types.Loader{&fakeLoader{source: "a"}, &fakeLoader{source: "b"}}
	base.LoadAll(context.Background(), loaders, 2)
	assert.Zero(t, atomic.LoadInt64(&calls))

	withProgress.LoadAll(context.Background(), loaders, 2)
	assert.Equal(t, int64(2), atomic.LoadInt64(&calls))
}
