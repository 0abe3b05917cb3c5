package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/xhad/ragingest/internal/types"
	"github.com/xhad/ragingest/pkg/batch"
	"github.com/xhad/ragingest/pkg/chunker"
	"github.com/xhad/ragingest/pkg/config"
	"github.com/xhad/ragingest/pkg/extract"
	"github.com/xhad/ragingest/pkg/llm"
	"github.com/xhad/ragingest/pkg/loader"
	"github.com/xhad/ragingest/pkg/pipeline"
	"github.com/xhad/ragingest/pkg/store"
	"github.com/xhad/ragingest/server"
)

// env is the per-invocation state shared by every command.
type env struct {
	cfg    *config.Config
	logger *zap.Logger
	dryRun bool
}

func setup(c *cli.Context) (*env, error) {
	cfg, err := config.LoadConfig(c.String("config"))
	if err != nil {
		return nil, err
	}
	applyFlags(c, cfg)

	if errs := cfg.Validate(); len(errs) > 0 {
		msgs := make([]string, len(errs))
		for i, e := range errs {
			msgs[i] = e.Error()
		}
		return nil, cli.Exit("invalid configuration:\n  "+strings.Join(msgs, "\n  "), 2)
	}

	logger, err := newLogger(cfg.Log.Level, c.Bool("verbose"))
	if err != nil {
		return nil, err
	}

	return &env{cfg: cfg, logger: logger, dryRun: c.Bool("dry-run")}, nil
}

// applyFlags lets explicitly set command line flags win over the config file.
func applyFlags(c *cli.Context, cfg *config.Config) {
	if c.IsSet("max-concurrent") {
		cfg.Pipeline.MaxConcurrent = c.Int("max-concurrent")
	}
	if c.IsSet("chunk-size") {
		cfg.Pipeline.ChunkSize = c.Int("chunk-size")
	}
	if c.IsSet("chunk-overlap") {
		cfg.Pipeline.ChunkOverlap = c.Int("chunk-overlap")
	}
	if c.IsSet("log-level") {
		cfg.Log.Level = c.String("log-level")
	}
	if c.Bool("verbose") {
		cfg.Log.Level = "debug"
	}
}

func newLogger(level string, verbose bool) (*zap.Logger, error) {
	var zc zap.Config
	if verbose {
		zc = zap.NewDevelopmentConfig()
	} else {
		zc = zap.NewProductionConfig()
		zc.Encoding = "console"
	}

	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	zc.Level = lvl
	zc.OutputPaths = []string{"stderr"}

	return zc.Build()
}

func signalContext(c *cli.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
}

func (e *env) newEmbedder() (*llm.Embedder, error) {
	return llm.NewEmbedderWithConfig(llm.EmbedderConfig{
		Model:   e.cfg.Embedder.Model,
		BaseURL: e.cfg.EmbedderURL(),
	})
}

func (e *env) newStore(ctx context.Context, embedder types.Embedder) (*store.VectorStore, error) {
	vs, err := store.NewWithConfig(ctx, store.VectorStoreConfig{
		ConnString: e.cfg.Database.URL,
		TableName:  e.cfg.Database.TableName,
		VectorDim:  e.cfg.Database.VectorDim,
		BatchSize:  e.cfg.Database.BatchSize,
		Workers:    e.cfg.Embedder.Workers,
		Embedder:   embedder,
		Logger:     e.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize vector store: %w", err)
	}
	return vs, nil
}

func (e *env) newPipeline(sink types.VectorStore, metrics *batch.Metrics) (*pipeline.Pipeline, error) {
	web := e.cfg.WebConfig()
	factory := loader.NewFactory(loader.FactoryConfig{
		Web:       web,
		Extractor: extract.NewWithConfig(e.cfg.ExtractConfig()),
		Logger:    e.logger,
	})

	ch, err := chunker.NewWithConfig(chunker.Config{
		ChunkSize:    e.cfg.Pipeline.ChunkSize,
		ChunkOverlap: e.cfg.Pipeline.ChunkOverlap,
		Logger:       e.logger,
	})
	if err != nil {
		return nil, err
	}

	return pipeline.New(pipeline.Config{
		MaxConcurrent: e.cfg.Pipeline.MaxConcurrent,
		Factory:       factory,
		Batch: batch.NewWithConfig(batch.Config{
			RateLimit: e.cfg.Pipeline.RateLimit,
			Logger:    e.logger,
			Metrics:   metrics,
		}),
		Chunker: ch,
		Store:   sink,
		Logger:  e.logger,
	})
}

// ingest runs the pipeline over sources, persisting unless this is a dry run
// or no database is configured.
func ingest(c *cli.Context, sources []string) error {
	e, err := setup(c)
	if err != nil {
		return err
	}
	defer e.logger.Sync()

	ctx, cancel := signalContext(c)
	defer cancel()

	var sink types.VectorStore
	switch {
	case e.dryRun:
		color.Yellow("Dry run: chunks will not be stored")
	case e.cfg.Database.URL == "":
		color.Yellow("No database configured: chunks will not be stored")
	default:
		embedder, err := e.newEmbedder()
		if err != nil {
			return err
		}
		vs, err := e.newStore(ctx, embedder)
		if err != nil {
			return err
		}
		defer vs.Close()
		sink = vs
	}

	p, err := e.newPipeline(sink, nil)
	if err != nil {
		return err
	}

	color.Blue("\nProcessing %d source(s) with up to %d at a time\n", len(sources), e.cfg.Pipeline.MaxConcurrent)
	bar := getProgressBar(len(sources), "Loading sources...")
	var failed []string
	p = p.WithProgress(func(source string, docs int, err error) {
		if err != nil {
			failed = append(failed, fmt.Sprintf("%s (%s)", source, loader.KindOf(err)))
		}
		_ = bar.Add(1)
	})

	res, err := p.Run(ctx, sources)
	_ = bar.Finish()
	fmt.Println()
	if err != nil {
		var aborted *pipeline.BatchAbortedError
		if errors.As(err, &aborted) {
			for _, skipped := range aborted.Skipped {
				color.Yellow("  skipped: %v", skipped)
			}
			return cli.Exit(err.Error(), 1)
		}
		if res == nil {
			return err
		}
	}

	printResult(res, failed)
	return err
}

func processCommand(c *cli.Context) error {
	path := c.String("pdf-path")
	if !strings.HasSuffix(strings.ToLower(path), ".pdf") {
		return cli.Exit(fmt.Sprintf("--pdf-path must point to a .pdf file, got %q", path), 2)
	}
	if _, err := os.Stat(path); err != nil {
		return cli.Exit(fmt.Sprintf("PDF file not found: %s", path), 2)
	}
	return ingest(c, []string{path})
}

func processURLsCommand(c *cli.Context) error {
	urls := c.StringSlice("urls")
	for _, u := range urls {
		lower := strings.ToLower(u)
		if !strings.HasPrefix(lower, "http://") && !strings.HasPrefix(lower, "https://") {
			return cli.Exit(fmt.Sprintf("not an http(s) URL: %s", u), 2)
		}
	}
	return ingest(c, urls)
}

func processBatchCommand(c *cli.Context) error {
	sources, err := batchSources(c.StringSlice("sources"), c.String("sources-file"))
	if err != nil {
		return cli.Exit(err.Error(), 2)
	}
	return ingest(c, sources)
}

// batchSources merges the inline sources with a JSON array read from file.
func batchSources(inline []string, file string) ([]string, error) {
	sources := append([]string(nil), inline...)

	if file != "" {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("failed to read sources file: %w", err)
		}
		var fromFile []string
		if err := json.Unmarshal(data, &fromFile); err != nil {
			return nil, fmt.Errorf("sources file must hold a JSON array of strings: %w", err)
		}
		sources = append(sources, fromFile...)
	}

	if len(sources) == 0 {
		return nil, errors.New("either --sources or --sources-file is required")
	}
	return sources, nil
}

func (e *env) newRetriever(ctx context.Context, model string) (*llm.Retriever, *store.VectorStore, error) {
	if e.cfg.Database.URL == "" {
		return nil, nil, cli.Exit("database.url (or DATABASE_URL) is required for queries", 2)
	}

	embedder, err := e.newEmbedder()
	if err != nil {
		return nil, nil, err
	}
	vs, err := e.newStore(ctx, embedder)
	if err != nil {
		return nil, nil, err
	}

	if model == "" {
		model = e.cfg.LLM.Model
	}
	chat, err := llm.NewWithConfig(llm.ChatConfig{
		Model:       model,
		Temperature: e.cfg.LLM.Temperature,
		MaxTokens:   e.cfg.LLM.MaxTokens,
		BaseURL:     e.cfg.LLM.BaseURL,
	})
	if err != nil {
		vs.Close()
		return nil, nil, fmt.Errorf("failed to initialize chat engine: %w", err)
	}

	return llm.NewRetriever(embedder, vs, chat, e.logger), vs, nil
}

func queryCommand(c *cli.Context) error {
	e, err := setup(c)
	if err != nil {
		return err
	}
	defer e.logger.Sync()

	ctx, cancel := signalContext(c)
	defer cancel()

	r, vs, err := e.newRetriever(ctx, c.String("model"))
	if err != nil {
		return err
	}
	defer vs.Close()

	spinner := getSpinner("Searching documents...")
	answer, chunks, err := r.Ask(ctx, c.String("question"), c.Int("top-k"))
	_ = spinner.Finish()
	fmt.Print("\r")
	if err != nil {
		return err
	}

	color.New(color.FgCyan).Printf("\n%s\n", answer)
	if sources := llm.FormatSources(chunks); sources != "" {
		color.New(color.Faint).Printf("\n%s\n", sources)
	}
	return nil
}

func serveCommand(c *cli.Context) error {
	e, err := setup(c)
	if err != nil {
		return err
	}
	defer e.logger.Sync()

	ctx, cancel := signalContext(c)
	defer cancel()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := batch.NewMetrics("ragingest", reg)

	var (
		sink  types.VectorStore
		asker server.Asker
	)
	if e.cfg.Database.URL != "" && !e.dryRun {
		r, vs, err := e.newRetriever(ctx, "")
		if err != nil {
			return err
		}
		defer vs.Close()
		sink, asker = vs, r
	} else {
		e.logger.Warn("no database configured, serving ingest without persistence or queries")
	}

	p, err := e.newPipeline(sink, metrics)
	if err != nil {
		return err
	}

	addr := e.cfg.Server.Addr
	if c.IsSet("addr") {
		addr = c.String("addr")
	}

	srv := server.NewWSServer(server.Config{
		Addr:              addr,
		Streaming:         c.Bool("stream"),
		AllowedOrigins:    e.cfg.Server.AllowedOrigins,
		AllowLocalSources: e.cfg.Server.AllowLocalSources,
	}, p, asker, reg, e.logger)

	color.Blue("Serving on %s (ws: /ws, health: /health, metrics: /metrics)", addr)
	return srv.ListenAndServe(ctx)
}

func debugURLCommand(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("usage: ragingest debug-url <url>", 2)
	}
	url := c.Args().First()

	e, err := setup(c)
	if err != nil {
		return err
	}
	defer e.logger.Sync()

	web := loader.NewWebLoader(url, e.cfg.WebConfig(), nil, extract.NewWithConfig(e.cfg.ExtractConfig()), e.logger)
	docs, err := web.Load(c.Context)
	if err != nil {
		color.Red("Load failed (%s): %v", loader.KindOf(err), err)
		return nil
	}

	printDebugDocument(docs[0])
	return nil
}
