package loader

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/ledongthuc/pdf"
	"github.com/tmc/langchaingo/documentloaders"
	"go.uber.org/zap"

	"github.com/xhad/ragingest/internal/models"
)

const pdfMIME = "application/pdf"

// PDFLoader produces one Document per non-empty page of a local PDF file.
type PDFLoader struct {
	path   string
	logger *zap.Logger
	now    func() time.Time
}

func NewPDFLoader(path string, logger *zap.Logger) *PDFLoader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PDFLoader{
		path:   path,
		logger: logger.With(zap.String("loader", "pdf"), zap.String("path", path)),
		now:    time.Now,
	}
}

func (l *PDFLoader) Source() string {
	return l.path
}

func (l *PDFLoader) Load(ctx context.Context) (docs []models.Document, err error) {
	// the underlying parser panics on some malformed files
	defer func() {
		if r := recover(); r != nil {
			docs = nil
			err = &LoadError{Source: l.path, Kind: KindCorrupt, Err: fmt.Errorf("pdf parser panic: %v", r)}
		}
	}()

	mtype, err := mimetype.DetectFile(l.path)
	if err != nil {
		return nil, &LoadError{Source: l.path, Kind: KindIO, Err: err}
	}
	if !mtype.Is(pdfMIME) {
		return nil, &LoadError{Source: l.path, Kind: KindCorrupt, Err: fmt.Errorf("not a PDF file (detected %s)", mtype.String())}
	}

	f, err := os.Open(l.path)
	if err != nil {
		return nil, &LoadError{Source: l.path, Kind: KindIO, Err: err}
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, &LoadError{Source: l.path, Kind: KindIO, Err: err}
	}

	pages, err := documentloaders.NewPDF(f, info.Size()).Load(ctx)
	if err != nil {
		return nil, &LoadError{Source: l.path, Kind: KindCorrupt, Err: fmt.Errorf("failed to read pdf pages: %w", err)}
	}

	title := pdfTitle(f, info.Size())
	processedAt := l.now()

	docs = make([]models.Document, 0, len(pages))
	for i, page := range pages {
		if strings.TrimSpace(page.PageContent) == "" {
			l.logger.Debug("skipping empty page", zap.Int("page", i+1))
			continue
		}

		pageNum := intMeta(page.Metadata, "page", i+1)
		docs = append(docs, models.Document{
			Content: page.PageContent,
			Meta: models.Metadata{
				SourceType:    models.SourceTypePDF,
				SourcePath:    l.path,
				ContentHash:   ContentHash(page.PageContent),
				Title:         title,
				ProcessedAt:   processedAt,
				ContentLength: len([]rune(page.PageContent)),
				Page:          pageNum,
				TotalPages:    intMeta(page.Metadata, "total_pages", len(pages)),
			},
		})
	}

	l.logger.Info("split pdf into pages", zap.Int("pages", len(pages)), zap.Int("documents", len(docs)))
	return docs, nil
}

// pdfTitle reads the document Info /Title, falling back to "Untitled".
func pdfTitle(r io.ReaderAt, size int64) (title string) {
	defer func() {
		if recover() != nil {
			title = models.UntitledTitle
		}
	}()

	reader, err := pdf.NewReader(r, size)
	if err != nil {
		return models.UntitledTitle
	}

	title = strings.TrimSpace(reader.Trailer().Key("Info").Key("Title").Text())
	if title == "" {
		return models.UntitledTitle
	}
	return title
}

func intMeta(meta map[string]any, key string, fallback int) int {
	switch v := meta[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return fallback
}
