package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/xhad/ragingest/internal/models"
	"github.com/xhad/ragingest/pkg/llm"
	"github.com/xhad/ragingest/pkg/pipeline"
)

const (
	TypeIngest   = "ingest"
	TypeQuery    = "query"
	TypeProgress = "progress"
	TypeResult   = "result"
	TypeResponse = "response"
	TypeStream   = "stream"
	TypeDone     = "done"
	TypeError    = "error"
)

// Request is a client message. Ingest requests carry their sources in Data.
type Request struct {
	Type    string          `json:"type"`
	Content string          `json:"content"`
	Data    json.RawMessage `json:"data,omitempty"`
}

type Message struct {
	Type    string      `json:"type"`
	Content string      `json:"content"`
	Data    interface{} `json:"data,omitempty"`
}

type Progress struct {
	Source    string `json:"source"`
	Documents int    `json:"documents"`
	Error     string `json:"error,omitempty"`
}

type Summary struct {
	Documents int      `json:"documents"`
	Chunks    int      `json:"chunks"`
	Skipped   []string `json:"skipped,omitempty"`
}

// Asker answers questions from stored chunks.
type Asker interface {
	Ask(ctx context.Context, question string, topK int) (string, []models.Chunk, error)
	AskStream(ctx context.Context, question string, topK int) (<-chan string, []models.Chunk, error)
}

type Config struct {
	Addr      string
	TopK      int
	Streaming bool
	// AllowedOrigins lists browser origins that may open a websocket. "*"
	// allows any. Empty allows only the server's own host. Requests without an
	// Origin header (non-browser clients) are always accepted.
	AllowedOrigins []string
	// AllowLocalSources lets ingest requests name local files. Off by default,
	// so only http(s) URLs are accepted over the websocket.
	AllowLocalSources bool
}

type WSServer struct {
	config   Config
	upgrader websocket.Upgrader
	pipeline *pipeline.Pipeline
	asker    Asker
	gatherer prometheus.Gatherer
	logger   *zap.Logger
}

// NewWSServer builds the server. asker may be nil, in which case queries are
// rejected; gatherer may be nil to serve the default registry.
func NewWSServer(config Config, p *pipeline.Pipeline, asker Asker, gatherer prometheus.Gatherer, logger *zap.Logger) *WSServer {
	if config.Addr == "" {
		config.Addr = ":8080"
	}
	if config.TopK <= 0 {
		config.TopK = llm.DefaultTopK
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &WSServer{
		config:   config,
		pipeline: p,
		asker:    asker,
		gatherer: gatherer,
		logger:   logger.With(zap.String("component", "ws_server")),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

func (s *WSServer) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}

	for _, allowed := range s.config.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}

	if len(s.config.AllowedOrigins) == 0 {
		if u, err := url.Parse(origin); err == nil && strings.EqualFold(u.Host, r.Host) {
			return true
		}
	}

	s.logger.Warn("rejected websocket origin", zap.String("origin", origin))
	return false
}

func (s *WSServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	mux.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	return mux
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *WSServer) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.config.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting websocket server", zap.String("addr", s.config.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// conn serializes writes; gorilla connections allow a single concurrent writer.
type conn struct {
	ws *websocket.Conn
	mu sync.Mutex
}

func (c *conn) send(msg Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteJSON(msg)
}

func (s *WSServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer ws.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	c := &conn{ws: ws}
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		_, message, err := ws.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("error reading message", zap.Error(err))
			}
			cancel()
			return
		}

		var req Request
		if err := json.Unmarshal(message, &req); err != nil {
			s.sendMessage(c, TypeError, fmt.Sprintf("invalid message: %v", err), nil)
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			s.handleMessage(ctx, c, req)
		}()
	}
}

func (s *WSServer) handleMessage(ctx context.Context, c *conn, req Request) {
	switch req.Type {
	case TypeIngest:
		s.handleIngest(ctx, c, req)
	case TypeQuery:
		s.handleQuery(ctx, c, req)
	default:
		s.sendMessage(c, TypeError, fmt.Sprintf("unknown message type %q", req.Type), nil)
	}
}

func (s *WSServer) handleIngest(ctx context.Context, c *conn, req Request) {
	var sources []string
	if len(req.Data) > 0 {
		if err := json.Unmarshal(req.Data, &sources); err != nil {
			s.sendMessage(c, TypeError, "ingest data must be an array of source strings", nil)
			return
		}
	}
	if len(sources) == 0 && strings.TrimSpace(req.Content) != "" {
		sources = strings.Fields(req.Content)
	}

	if !s.config.AllowLocalSources {
		for _, source := range sources {
			if !isWebSource(source) {
				s.sendMessage(c, TypeError, fmt.Sprintf("local sources are disabled on this server: %s", source), nil)
				return
			}
		}
	}

	p := s.pipeline.WithProgress(func(source string, docs int, err error) {
		progress := Progress{Source: source, Documents: docs}
		if err != nil {
			progress.Error = err.Error()
		}
		s.sendMessage(c, TypeProgress, source, progress)
	})

	res, err := p.Run(ctx, sources)
	if err != nil && res == nil {
		s.sendMessage(c, TypeError, err.Error(), nil)
		return
	}

	summary := Summary{Documents: len(res.Documents), Chunks: len(res.Chunks)}
	for _, skipped := range res.Skipped {
		summary.Skipped = append(summary.Skipped, skipped.Error())
	}

	if err != nil {
		s.sendMessage(c, TypeError, err.Error(), summary)
		return
	}
	s.sendMessage(c, TypeResult, fmt.Sprintf("Loaded %d documents into %d chunks", summary.Documents, summary.Chunks), summary)
}

func isWebSource(source string) bool {
	lower := strings.ToLower(source)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}

func (s *WSServer) handleQuery(ctx context.Context, c *conn, req Request) {
	if s.asker == nil {
		s.sendMessage(c, TypeError, "querying is not configured", nil)
		return
	}

	if s.config.Streaming {
		stream, chunks, err := s.asker.AskStream(ctx, req.Content, s.config.TopK)
		if err != nil {
			s.sendMessage(c, TypeError, err.Error(), nil)
			return
		}

		for piece := range stream {
			if strings.HasPrefix(piece, "Error:") {
				s.sendMessage(c, TypeError, piece, nil)
				return
			}
			s.sendMessage(c, TypeStream, piece, nil)
		}
		s.sendMessage(c, TypeDone, llm.FormatSources(chunks), nil)
		return
	}

	answer, chunks, err := s.asker.Ask(ctx, req.Content, s.config.TopK)
	if err != nil {
		s.sendMessage(c, TypeError, err.Error(), nil)
		return
	}
	s.sendMessage(c, TypeResponse, answer, llm.FormatSources(chunks))
}

func (s *WSServer) sendMessage(c *conn, msgType string, content string, data interface{}) {
	msg := Message{
		Type:    msgType,
		Content: content,
		Data:    data,
	}
	if err := c.send(msg); err != nil {
		s.logger.Debug("error sending message", zap.String("type", msgType), zap.Error(err))
	}
}
