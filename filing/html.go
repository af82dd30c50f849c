package filing

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// HTMLParser handles EDGAR .htm/.html documents, including inline XBRL.
type HTMLParser struct{}

func (p *HTMLParser) SupportedFormats() []string { return []string{"html"} }

func (p *HTMLParser) Parse(ctx context.Context, path string) (*Document, error) {
	data, err := readFile(ctx, path)
	if err != nil {
		return nil, err
	}
	text, err := htmlText(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	return &Document{Path: path, Format: "html", Text: normalizeText(text)}, nil
}

// blockElements start a new paragraph.
var blockElements = map[string]bool{
	"p": true, "div": true, "br": true, "tr": true, "li": true, "table": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"section": true, "article": true, "blockquote": true, "hr": true, "body": true,
	"ul": true, "ol": true, "pre": true, "document": true, "page": true,
}

// htmlText renders visible text. Block elements become paragraph breaks,
// table cells are separated by spaces and inline markup is flattened.
func htmlText(r io.Reader) (string, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return "", fmt.Errorf("parsing HTML: %w", err)
	}
	doc.Find("script, style, noscript, head, title").Remove()
	// Inline XBRL header data and hidden facts are not prose.
	doc.Find(`[style*="display:none"], [style*="display: none"]`).Remove()
	doc.Find("*").FilterFunction(func(_ int, s *goquery.Selection) bool {
		return goquery.NodeName(s) == "ix:header"
	}).Remove()

	var b strings.Builder
	walk(doc.Selection, &b)
	return b.String(), nil
}

func walk(s *goquery.Selection, b *strings.Builder) {
	s.Contents().Each(func(_ int, c *goquery.Selection) {
		name := goquery.NodeName(c)
		switch {
		case name == "#text":
			b.WriteString(c.Text())
		case name == "td" || name == "th":
			walk(c, b)
			b.WriteByte(' ')
		case blockElements[name]:
			b.WriteString("\n\n")
			walk(c, b)
			b.WriteString("\n\n")
		default:
			walk(c, b)
		}
	})
}
