package loader

import (
	"net/http"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/xhad/ragingest/internal/types"
	"github.com/xhad/ragingest/pkg/extract"
)

type FactoryConfig struct {
	Web        WebConfig
	Extractor  *extract.Extractor
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// Factory classifies source strings and builds the matching loader.
type Factory struct {
	web       WebConfig
	extractor *extract.Extractor
	client    *http.Client
	logger    *zap.Logger
	stat      func(string) (os.FileInfo, error)
}

func NewFactory(config FactoryConfig) *Factory {
	web := config.Web.withDefaults()
	if config.Extractor == nil {
		config.Extractor = extract.New()
	}
	if config.HTTPClient == nil {
		config.HTTPClient = NewHTTPClient(web)
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}

	return &Factory{
		web:       web,
		extractor: config.Extractor,
		client:    config.HTTPClient,
		logger:    config.Logger,
		stat:      os.Stat,
	}
}

// Create checks for a URL scheme first, then a .pdf extension, then falls back
// to treating an existing regular file as a PDF.
func (f *Factory) Create(source string) (types.Loader, error) {
	trimmed := strings.TrimSpace(source)
	lower := strings.ToLower(trimmed)

	switch {
	case strings.HasPrefix(lower, "http://"), strings.HasPrefix(lower, "https://"):
		return NewWebLoader(trimmed, f.web, f.client, f.extractor, f.logger), nil
	case strings.HasSuffix(lower, ".pdf"):
		return NewPDFLoader(trimmed, f.logger), nil
	}

	if trimmed != "" {
		if info, err := f.stat(trimmed); err == nil && info.Mode().IsRegular() {
			return NewPDFLoader(trimmed, f.logger), nil
		}
	}

	return nil, &UnsupportedSourceError{Source: source}
}

// CreateAll builds loaders for every supported source, in input order, and
// returns one error per skipped source.
func (f *Factory) CreateAll(sources []string) ([]types.Loader, []error) {
	loaders := make([]types.Loader, 0, len(sources))
	var skipped []error

	for _, source := range sources {
		l, err := f.Create(source)
		if err != nil {
			f.logger.Warn("skipping unsupported source", zap.String("source", source), zap.Error(err))
			skipped = append(skipped, err)
			continue
		}
		loaders = append(loaders, l)
	}

	return loaders, skipped
}
