// Package chunker splits long text into overlapping, token-bounded pieces
// so that every piece fits an embedding model's input limit.
package chunker

import (
	"math"
	"strings"
)

// Config controls the chunking behaviour.
type Config struct {
	MaxTokens int `json:"max_tokens" yaml:"max_tokens" mapstructure:"max_tokens"` // Maximum estimated tokens per chunk.
	Overlap   int `json:"overlap" yaml:"overlap" mapstructure:"overlap"`          // Token overlap between consecutive chunks.
}

// Chunker splits text according to its Config.
type Chunker struct {
	cfg Config
}

// New returns a Chunker with the given configuration.
// Zero-value fields are replaced with defaults sized for hosted embedding
// models with an 8k token window.
func New(cfg Config) *Chunker {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 7000
	}
	if cfg.Overlap <= 0 {
		cfg.Overlap = 200
	}
	if cfg.Overlap >= cfg.MaxTokens {
		cfg.Overlap = cfg.MaxTokens / 4
	}
	return &Chunker{cfg: cfg}
}

// Chunk is one piece of a split text.
type Chunk struct {
	Text   string
	Tokens int // estimated
}

// Split breaks text into chunks that each fit within MaxTokens, splitting at
// paragraph and then sentence boundaries. Text that already fits is returned
// as a single chunk; blank text yields none.
func (c *Chunker) Split(text string) []Chunk {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	var frags []string
	if EstimateTokens(text) <= c.cfg.MaxTokens {
		frags = []string{text}
	} else {
		frags = c.splitContent(text)
	}
	out := make([]Chunk, 0, len(frags))
	for _, f := range frags {
		out = append(out, Chunk{Text: f, Tokens: EstimateTokens(f)})
	}
	return out
}

// splitContent packs paragraphs into fragments. Consecutive fragments share
// c.cfg.Overlap tokens of trailing text from the previous fragment.
func (c *Chunker) splitContent(text string) []string {
	var fragments []string
	var current strings.Builder
	currentTokens := 0
	overlapText := ""

	for _, para := range splitParagraphs(text) {
		paraTokens := EstimateTokens(para)

		if paraTokens > c.cfg.MaxTokens {
			if current.Len() > 0 {
				fragments = append(fragments, strings.TrimSpace(current.String()))
				overlapText = extractOverlap(current.String(), c.cfg.Overlap)
				current.Reset()
				currentTokens = 0
			}
			sentenceFragments := c.splitBySentences(para, overlapText)
			fragments = append(fragments, sentenceFragments...)
			if len(sentenceFragments) > 0 {
				overlapText = extractOverlap(sentenceFragments[len(sentenceFragments)-1], c.cfg.Overlap)
			}
			continue
		}

		if currentTokens+paraTokens > c.cfg.MaxTokens && current.Len() > 0 {
			fragments = append(fragments, strings.TrimSpace(current.String()))
			overlapText = extractOverlap(current.String(), c.cfg.Overlap)
			current.Reset()
			currentTokens = 0
			if overlapText != "" {
				current.WriteString(overlapText)
				current.WriteString("\n\n")
				currentTokens = EstimateTokens(overlapText)
			}
		}

		if current.Len() > 0 {
			current.WriteString("\n\n")
		}
		current.WriteString(para)
		currentTokens += paraTokens
	}

	if current.Len() > 0 {
		fragments = append(fragments, strings.TrimSpace(current.String()))
	}
	return fragments
}

// splitBySentences breaks a paragraph at sentence boundaries. A single
// sentence longer than MaxTokens is cut by words.
func (c *Chunker) splitBySentences(text, initialOverlap string) []string {
	var fragments []string
	var current strings.Builder
	currentTokens := 0

	if initialOverlap != "" {
		current.WriteString(initialOverlap)
		current.WriteString(" ")
		currentTokens = EstimateTokens(initialOverlap)
	}

	flush := func() {
		fragments = append(fragments, strings.TrimSpace(current.String()))
		overlap := extractOverlap(current.String(), c.cfg.Overlap)
		current.Reset()
		currentTokens = 0
		if overlap != "" {
			current.WriteString(overlap)
			current.WriteString(" ")
			currentTokens = EstimateTokens(overlap)
		}
	}

	for _, sent := range splitSentences(text) {
		for _, piece := range c.splitWords(sent) {
			pieceTokens := EstimateTokens(piece)
			if currentTokens+pieceTokens > c.cfg.MaxTokens && current.Len() > 0 {
				flush()
			}
			if current.Len() > 0 {
				current.WriteString(" ")
			}
			current.WriteString(piece)
			currentTokens += pieceTokens
		}
	}

	if s := strings.TrimSpace(current.String()); s != "" {
		fragments = append(fragments, s)
	}
	return fragments
}

// splitWords cuts s into runs of words that leave room for the overlap
// prefix. Most sentences come back whole.
func (c *Chunker) splitWords(s string) []string {
	budget := c.cfg.MaxTokens - c.cfg.Overlap
	if EstimateTokens(s) <= budget {
		return []string{s}
	}
	words := strings.Fields(s)
	per := max(int(float64(budget)/1.3), 1)
	var out []string
	for len(words) > 0 {
		n := min(per, len(words))
		out = append(out, strings.Join(words[:n], " "))
		words = words[n:]
	}
	return out
}

// EstimateTokens approximates the token count of text using a simple
// word-based heuristic: tokens ~ words * 1.3.
func EstimateTokens(text string) int {
	words := len(strings.Fields(text))
	return int(math.Ceil(float64(words) * 1.3))
}

// splitParagraphs splits text on blank-line boundaries.
func splitParagraphs(text string) []string {
	raw := strings.Split(text, "\n\n")
	out := make([]string, 0, len(raw))
	for _, p := range raw {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// splitSentences splits on terminal punctuation followed by whitespace or
// end of string.
func splitSentences(text string) []string {
	var sentences []string
	var cur strings.Builder

	runes := []rune(text)
	for i := 0; i < len(runes); i++ {
		cur.WriteRune(runes[i])
		if runes[i] == '.' || runes[i] == '?' || runes[i] == '!' {
			if i+1 >= len(runes) || runes[i+1] == ' ' || runes[i+1] == '\n' || runes[i+1] == '\t' {
				if s := strings.TrimSpace(cur.String()); s != "" {
					sentences = append(sentences, s)
				}
				cur.Reset()
			}
		}
	}
	if s := strings.TrimSpace(cur.String()); s != "" {
		sentences = append(sentences, s)
	}
	return sentences
}

// extractOverlap returns the trailing portion of text whose estimated
// token count is at most maxTokens.
func extractOverlap(text string, maxTokens int) string {
	words := strings.Fields(text)
	maxWords := min(int(float64(maxTokens)/1.3), len(words))
	if maxWords <= 0 {
		return ""
	}
	return strings.Join(words[len(words)-maxWords:], " ")
}
