package chunker

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/xhad/ragingest/internal/models"
)

const (
	DefaultChunkSize    = 4000
	DefaultChunkOverlap = 20
)

var ErrInvalidChunkConfig = errors.New("invalid chunk configuration")

// Separators are the preferred cut points, coarsest first. Only the back half
// of a window is searched (and never its overlap region); a window with no
// separator there is cut hard at the size limit.
var Separators = []string{"\n\n", "\n", ". ", " "}

type Config struct {
	ChunkSize    int
	ChunkOverlap int
	Logger       *zap.Logger
}

// Chunker splits documents into windows of at most ChunkSize runes. Consecutive
// windows of a document share exactly ChunkOverlap runes.
type Chunker struct {
	config     Config
	separators [][]rune
	logger     *zap.Logger
}

func NewWithConfig(config Config) (*Chunker, error) {
	if config.ChunkSize <= 0 {
		return nil, fmt.Errorf("%w: chunk size %d must be positive", ErrInvalidChunkConfig, config.ChunkSize)
	}
	if config.ChunkOverlap < 0 {
		return nil, fmt.Errorf("%w: chunk overlap %d must not be negative", ErrInvalidChunkConfig, config.ChunkOverlap)
	}
	if config.ChunkOverlap >= config.ChunkSize {
		return nil, fmt.Errorf("%w: chunk overlap %d must be smaller than chunk size %d",
			ErrInvalidChunkConfig, config.ChunkOverlap, config.ChunkSize)
	}

	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	separators := make([][]rune, len(Separators))
	for i, sep := range Separators {
		separators[i] = []rune(sep)
	}

	return &Chunker{
		config:     config,
		separators: separators,
		logger:     logger.With(zap.String("component", "chunker")),
	}, nil
}

func New(chunkSize, chunkOverlap int) (*Chunker, error) {
	return NewWithConfig(Config{ChunkSize: chunkSize, ChunkOverlap: chunkOverlap})
}

// Chunk splits every document and returns the pieces in document order.
// Each chunk carries its parent's metadata and its rune offset in the parent.
func (c *Chunker) Chunk(docs []models.Document) []models.Chunk {
	var chunks []models.Chunk

	for _, doc := range docs {
		for _, w := range c.windows([]rune(doc.Content)) {
			chunks = append(chunks, models.Chunk{
				Content:    w.text,
				Meta:       doc.Meta,
				StartIndex: w.start,
			})
		}
	}

	c.logger.Debug("chunked documents",
		zap.Int("documents", len(docs)),
		zap.Int("chunks", len(chunks)),
	)

	return chunks
}

type window struct {
	start int
	text  string
}

func (c *Chunker) windows(text []rune) []window {
	var out []window
	size, overlap := c.config.ChunkSize, c.config.ChunkOverlap

	for start := 0; start < len(text); {
		end := start + size
		if end >= len(text) {
			out = append(out, window{start: start, text: string(text[start:])})
			break
		}

		floor := start + overlap
		if half := start + size/2; half > floor {
			floor = half
		}
		cut := c.cut(text, floor, end)
		out = append(out, window{start: start, text: string(text[start:cut])})
		start = cut - overlap
	}

	return out
}

// cut returns the end of the last separator inside text[floor:end], trying
// coarser separators first. It falls back to end.
func (c *Chunker) cut(text []rune, floor, end int) int {
	for _, sep := range c.separators {
		for i := end - len(sep); i >= floor; i-- {
			if hasPrefix(text[i:], sep) {
				return i + len(sep)
			}
		}
	}
	return end
}

func hasPrefix(text, prefix []rune) bool {
	if len(text) < len(prefix) {
		return false
	}
	for i, r := range prefix {
		if text[i] != r {
			return false
		}
	}
	return true
}
