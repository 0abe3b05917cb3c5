package loader

import (
	"bytes"
	"context"
	"errors"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/html/charset"

	"github.com/xhad/ragingest/internal/models"
	"github.com/xhad/ragingest/pkg/extract"
)

const (
	DefaultWebTimeout     = 60 * time.Second
	DefaultMaxBodyBytes   = 10 << 20
	DefaultUserAgent      = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	DefaultAccept         = "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8"
	DefaultAcceptLanguage = "en-US,en;q=0.5"
)

// ErrBodyTooLarge marks a response larger than WebConfig.MaxBodyBytes. Such
// pages are rejected rather than extracted from a truncated body.
var ErrBodyTooLarge = errors.New("response body too large")

type WebConfig struct {
	Timeout        time.Duration
	UserAgent      string
	Accept         string
	AcceptLanguage string
	// InsecureSkipVerify disables TLS certificate checks. Diagnostics only.
	InsecureSkipVerify bool
	MaxBodyBytes       int64
}

func (c WebConfig) withDefaults() WebConfig {
	if c.Timeout == 0 {
		c.Timeout = DefaultWebTimeout
	}
	if c.UserAgent == "" {
		c.UserAgent = DefaultUserAgent
	}
	if c.Accept == "" {
		c.Accept = DefaultAccept
	}
	if c.AcceptLanguage == "" {
		c.AcceptLanguage = DefaultAcceptLanguage
	}
	if c.MaxBodyBytes == 0 {
		c.MaxBodyBytes = DefaultMaxBodyBytes
	}
	return c
}

// NewHTTPClient builds the client used by web loaders. The timeout bounds the
// whole request including reading the body.
func NewHTTPClient(config WebConfig) *http.Client {
	config = config.withDefaults()

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if config.InsecureSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // explicit opt-in
	}

	return &http.Client{
		Timeout:   config.Timeout,
		Transport: transport,
	}
}

// WebLoader fetches one URL and produces at most one Document.
type WebLoader struct {
	url       string
	config    WebConfig
	client    *http.Client
	extractor *extract.Extractor
	logger    *zap.Logger
	now       func() time.Time
}

func NewWebLoader(url string, config WebConfig, client *http.Client, extractor *extract.Extractor, logger *zap.Logger) *WebLoader {
	config = config.withDefaults()
	if client == nil {
		client = NewHTTPClient(config)
	}
	if extractor == nil {
		extractor = extract.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &WebLoader{
		url:       url,
		config:    config,
		client:    client,
		extractor: extractor,
		logger:    logger.With(zap.String("loader", "web"), zap.String("url", url)),
		now:       time.Now,
	}
}

func (l *WebLoader) Source() string {
	return l.url
}

func (l *WebLoader) Load(ctx context.Context) ([]models.Document, error) {
	page, err := l.fetch(ctx)
	if err != nil {
		return nil, err
	}

	result := l.extractor.Extract(page)
	l.logger.Info("extracted web page",
		zap.String("method", string(result.Method)),
		zap.Int("content_length", len([]rune(result.Text))),
	)

	if !result.Usable {
		preview := page
		if len(preview) > 500 {
			preview = preview[:500]
		}
		l.logger.Debug("html preview", zap.String("html", preview))

		return nil, &LoadError{
			Source: l.url,
			Kind:   KindNoContent,
			Err: fmt.Errorf("very little content extracted (%d characters, need %d)",
				len([]rune(result.Text)), l.extractor.MinContentLength()),
		}
	}

	doc := models.Document{
		Content: result.Text,
		Meta: models.Metadata{
			SourceType:       models.SourceTypeWeb,
			SourceURL:        l.url,
			ContentHash:      ContentHash(result.Text),
			Title:            result.Title,
			ProcessedAt:      l.now(),
			ContentLength:    len([]rune(result.Text)),
			ExtractionMethod: string(result.Method),
		},
	}

	return []models.Document{doc}, nil
}

func (l *WebLoader) fetch(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.url, nil)
	if err != nil {
		return "", &LoadError{Source: l.url, Kind: KindRequest, Err: err}
	}
	req.Header.Set("User-Agent", l.config.UserAgent)
	req.Header.Set("Accept", l.config.Accept)
	req.Header.Set("Accept-Language", l.config.AcceptLanguage)

	resp, err := l.client.Do(req)
	if err != nil {
		return "", &LoadError{Source: l.url, Kind: classifyTransport(err), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", &LoadError{
			Source:     l.url,
			Kind:       statusKind(resp.StatusCode),
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("HTTP %d for %s", resp.StatusCode, l.url),
		}
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, l.config.MaxBodyBytes+1))
	if err != nil {
		return "", &LoadError{Source: l.url, Kind: classifyTransport(err), Err: fmt.Errorf("failed to read body: %w", err)}
	}
	if int64(len(raw)) > l.config.MaxBodyBytes {
		return "", &LoadError{
			Source: l.url,
			Kind:   KindIO,
			Err:    fmt.Errorf("%w: limit is %d bytes", ErrBodyTooLarge, l.config.MaxBodyBytes),
		}
	}

	body, err := charset.NewReader(bytes.NewReader(raw), resp.Header.Get("Content-Type"))
	if err != nil {
		return "", &LoadError{Source: l.url, Kind: KindIO, Err: fmt.Errorf("failed to decode body: %w", err)}
	}

	data, err := io.ReadAll(body)
	if err != nil {
		return "", &LoadError{Source: l.url, Kind: KindIO, Err: fmt.Errorf("failed to decode body: %w", err)}
	}

	return string(data), nil
}
