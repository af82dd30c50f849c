// Package filing turns filing documents on disk into plain text and the 10-K
// sections relationship extraction reads.
package filing

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/brunobiangulo/relgraph/extract"
)

var (
	// ErrUnsupportedFormat is returned for file extensions with no parser.
	ErrUnsupportedFormat = errors.New("filing: unsupported format")
	// ErrNoText is returned when a document yields no text at all.
	ErrNoText = errors.New("filing: no text extracted")
)

// Document is a parsed filing.
type Document struct {
	Path   string
	Format string
	// Text is the cleaned full text. Paragraphs are separated by blank lines.
	Text string
	// Sections holds the 10-K items found in Text, in document order.
	Sections []Section
	// Pages is set for paginated formats.
	Pages int
}

// Sentences splits the document into sentences. When sectionsOnly is set
// and 10-K items were found, only their text is used.
func (d *Document) Sentences(sectionsOnly bool) []string {
	if !sectionsOnly || len(d.Sections) == 0 {
		return extract.SplitSentences(d.Text)
	}
	var out []string
	for _, s := range d.Sections {
		out = append(out, extract.SplitSentences(s.Text)...)
	}
	return out
}

// Parser extracts text from one family of formats.
type Parser interface {
	Parse(ctx context.Context, path string) (*Document, error)
	SupportedFormats() []string
}

// Registry maps formats to parsers.
type Registry struct {
	parsers map[string]Parser
}

// NewRegistry returns a registry with the text, HTML and PDF parsers.
func NewRegistry() *Registry {
	r := &Registry{parsers: make(map[string]Parser)}
	for _, p := range []Parser{&TextParser{}, &HTMLParser{}, &PDFParser{}} {
		for _, f := range p.SupportedFormats() {
			r.parsers[f] = p
		}
	}
	return r
}

// Register adds or replaces the parser for format.
func (r *Registry) Register(format string, p Parser) {
	r.parsers[format] = p
}

// Get returns the parser for format.
func (r *Registry) Get(format string) (Parser, error) {
	p, ok := r.parsers[format]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
	return p, nil
}

// Parse picks a parser by extension, parses path and locates 10-K items.
func (r *Registry) Parse(ctx context.Context, path string) (*Document, error) {
	p, err := r.Get(FormatOf(path))
	if err != nil {
		return nil, err
	}
	doc, err := p.Parse(ctx, path)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(doc.Text) == "" {
		return nil, fmt.Errorf("%s: %w", path, ErrNoText)
	}
	doc.Sections = Items(doc.Text)
	return doc, nil
}

// FormatOf returns the lower-case extension of path without the dot, with
// htm folded into html.
func FormatOf(path string) string {
	f := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	if f == "htm" {
		return "html"
	}
	return f
}

func readFile(ctx context.Context, path string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading filing: %w", err)
	}
	return data, nil
}
