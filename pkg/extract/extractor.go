// Package extract turns raw HTML into clean text and a title.
//
// Extraction runs a primary boilerplate-removal strategy and falls back to a
// structural strategy when the primary output is too sparse to be useful.
package extract

import (
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/xhad/ragingest/internal/models"
)

// DefaultMinContentLength is the minimum trimmed length, in characters, of
// extracted text considered usable.
const DefaultMinContentLength = 100

type Method string

const (
	MethodPrimary  Method = "primary"
	MethodFallback Method = "fallback"
)

type Config struct {
	MinContentLength int
	// Blocks made only of link text and shorter than this are treated as navigation.
	MinBlockLength int
}

type Extraction struct {
	Text   string
	Title  string
	Method Method
	// Usable is false when even the fallback produced less than MinContentLength.
	Usable bool
}

type Extractor struct {
	config Config
}

var (
	primaryNoise = "script, style, noscript, nav, header, footer, aside, form, iframe, svg, template"

	fallbackNoise = "script, style, nav, header, footer"

	contentSelectors = []string{
		"main",
		"article",
		"[role=main]",
		"#content",
		".content",
		"#main",
		".main",
		".post",
		".entry-content",
		".documentation",
	}

	blockSelector = "p, h1, h2, h3, h4, h5, h6, li, pre, blockquote, td, th, dd, dt, figcaption"

	// Lines dropped from primary output.
	noisePhrases = []string{
		"cookie policy",
		"accept cookies",
		"privacy policy",
		"terms of service",
	}
)

func NewWithConfig(config Config) *Extractor {
	if config.MinContentLength <= 0 {
		config.MinContentLength = DefaultMinContentLength
	}
	if config.MinBlockLength <= 0 {
		config.MinBlockLength = 40
	}
	return &Extractor{config: config}
}

func New() *Extractor {
	return NewWithConfig(Config{})
}

// MinContentLength reports the usable-content threshold in effect.
func (e *Extractor) MinContentLength() int {
	return e.config.MinContentLength
}

// Extract never fails: unparseable input yields an unusable Extraction titled "Untitled".
func (e *Extractor) Extract(rawHTML string) Extraction {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(rawHTML))
	if err != nil {
		return Extraction{Title: models.UntitledTitle, Method: MethodPrimary}
	}

	result := Extraction{
		Title:  extractTitle(doc),
		Text:   e.primary(doc),
		Method: MethodPrimary,
	}

	if e.tooShort(result.Text) {
		fallbackDoc, err := goquery.NewDocumentFromReader(strings.NewReader(rawHTML))
		if err == nil {
			result.Text = fallback(fallbackDoc)
			result.Method = MethodFallback
		}
	}

	result.Usable = !e.tooShort(result.Text)
	return result
}

func (e *Extractor) tooShort(text string) bool {
	return utf8.RuneCountInString(strings.TrimSpace(text)) < e.config.MinContentLength
}

// primary keeps the block-level text of the main content area.
func (e *Extractor) primary(doc *goquery.Document) string {
	doc.Find(primaryNoise).Remove()

	root := doc.Find("body").First()
	for _, selector := range contentSelectors {
		if selected := doc.Find(selector).First(); selected.Length() > 0 {
			root = selected
			break
		}
	}
	if root.Length() == 0 {
		root = doc.Selection
	}

	var lines []string
	root.Find(blockSelector).Each(func(_ int, block *goquery.Selection) {
		// nested blocks are already covered by their outermost block
		if block.ParentsUntilSelection(root).Filter(blockSelector).Length() > 0 {
			return
		}

		text := collapse(block.Text())
		if text == "" || isNoise(text) {
			return
		}

		linkText := collapse(block.Find("a").Text())
		if linkText == text && utf8.RuneCountInString(text) < e.config.MinBlockLength {
			return
		}

		lines = append(lines, text)
	})

	if len(lines) == 0 {
		return collapse(root.Text())
	}
	return strings.Join(lines, "\n")
}

// fallback strips structural chrome and joins every remaining text node with a space.
func fallback(doc *goquery.Document) string {
	doc.Find(fallbackNoise).Remove()

	var parts []string
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			if text := strings.TrimSpace(n.Data); text != "" {
				parts = append(parts, text)
			}
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	for _, n := range doc.Nodes {
		walk(n)
	}

	return strings.Join(parts, " ")
}

func extractTitle(doc *goquery.Document) (title string) {
	defer func() {
		if recover() != nil {
			title = models.UntitledTitle
		}
	}()

	title = collapse(doc.Find("title").First().Text())
	if title == "" {
		return models.UntitledTitle
	}
	return title
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func isNoise(line string) bool {
	lower := strings.ToLower(line)
	for _, phrase := range noisePhrases {
		if lower == phrase {
			return true
		}
	}
	return false
}
