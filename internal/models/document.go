package models

import "time"

type SourceType string

const (
	SourceTypePDF SourceType = "pdf"
	SourceTypeWeb SourceType = "web"
)

// UntitledTitle is used when no title can be discovered for a source.
const UntitledTitle = "Untitled"

// Metadata is the fixed-shape metadata record shared by pdf and web documents.
// Fields that only apply to one variant are left at their zero value for the other.
type Metadata struct {
	SourceType    SourceType
	SourcePath    string // pdf only
	SourceURL     string // web only
	ContentHash   string
	Title         string
	ProcessedAt   time.Time
	ContentLength int

	// pdf only, 1-based
	Page       int
	TotalPages int

	// web only
	ExtractionMethod string
}

// Source returns the identifier of the origin, path or URL.
func (m Metadata) Source() string {
	if m.SourceType == SourceTypeWeb {
		return m.SourceURL
	}
	return m.SourcePath
}

// Map renders the metadata as the key/value mapping consumed by vector stores.
func (m Metadata) Map() map[string]interface{} {
	out := map[string]interface{}{
		"source_type":    string(m.SourceType),
		"title":          m.Title,
		"processed_at":   m.ProcessedAt.Format(time.RFC3339Nano),
		"content_length": m.ContentLength,
	}
	if m.ContentHash != "" {
		out["content_hash"] = m.ContentHash
	}

	switch m.SourceType {
	case SourceTypePDF:
		out["source_path"] = m.SourcePath
		out["page"] = m.Page
		if m.TotalPages > 0 {
			out["total_pages"] = m.TotalPages
		}
	case SourceTypeWeb:
		out["source_url"] = m.SourceURL
		if m.ExtractionMethod != "" {
			out["extraction_method"] = m.ExtractionMethod
		}
	}

	return out
}

type Document struct {
	Content string
	Meta    Metadata
}

// Chunk is a contiguous piece of a Document's content. StartIndex is the
// character (rune) offset of the chunk within the parent content.
type Chunk struct {
	Content    string
	Meta       Metadata
	StartIndex int
}

func (c Chunk) Map() map[string]interface{} {
	out := c.Meta.Map()
	out["start_index"] = c.StartIndex
	return out
}

// MetadataFromMap is the inverse of Metadata.Map. Unknown keys are ignored and
// numbers may arrive as float64 after a JSON round trip.
func MetadataFromMap(in map[string]interface{}) Metadata {
	m := Metadata{
		SourceType:       SourceType(stringValue(in["source_type"])),
		SourcePath:       stringValue(in["source_path"]),
		SourceURL:        stringValue(in["source_url"]),
		ContentHash:      stringValue(in["content_hash"]),
		Title:            stringValue(in["title"]),
		ContentLength:    intValue(in["content_length"]),
		Page:             intValue(in["page"]),
		TotalPages:       intValue(in["total_pages"]),
		ExtractionMethod: stringValue(in["extraction_method"]),
	}
	if ts, err := time.Parse(time.RFC3339Nano, stringValue(in["processed_at"])); err == nil {
		m.ProcessedAt = ts
	}
	return m
}

func stringValue(v interface{}) string {
	s, _ := v.(string)
	return s
}

func intValue(v interface{}) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	}
	return 0
}
