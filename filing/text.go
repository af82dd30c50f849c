package filing

import (
	"bytes"
	"context"
	"strings"
)

// TextParser handles plain text (.txt) files. EDGAR full-submission text
// files embed HTML documents; those are routed through the HTML extractor.
type TextParser struct{}

func (p *TextParser) SupportedFormats() []string { return []string{"txt"} }

func (p *TextParser) Parse(ctx context.Context, path string) (*Document, error) {
	data, err := readFile(ctx, path)
	if err != nil {
		return nil, err
	}

	text := string(data)
	if looksLikeHTML(data) {
		if text, err = htmlText(bytes.NewReader(data)); err != nil {
			return nil, err
		}
	}
	return &Document{Path: path, Format: "txt", Text: normalizeText(text)}, nil
}

func looksLikeHTML(data []byte) bool {
	head := data
	if len(head) > 4096 {
		head = head[:4096]
	}
	lower := bytes.ToLower(head)
	return bytes.Contains(lower, []byte("<html")) || bytes.Contains(lower, []byte("<body"))
}

// normalizeText trims every line, collapses runs of blank lines to one and
// drops carriage returns.
func normalizeText(s string) string {
	lines := strings.Split(strings.ReplaceAll(s, "\r", ""), "\n")
	var (
		b     strings.Builder
		blank bool
	)
	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line == "" {
			blank = b.Len() > 0
			continue
		}
		if b.Len() > 0 {
			if blank {
				b.WriteString("\n\n")
			} else {
				b.WriteByte('\n')
			}
		}
		b.WriteString(line)
		blank = false
	}
	return b.String()
}
