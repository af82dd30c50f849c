package extract

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// abbreviations end in a period without ending the sentence.
var abbreviations = map[string]bool{
	"inc.": true, "corp.": true, "co.": true, "ltd.": true, "l.p.": true, "n.v.": true,
	"s.a.": true, "u.s.": true, "mr.": true, "ms.": true, "mrs.": true, "dr.": true,
	"no.": true, "vs.": true, "e.g.": true, "i.e.": true, "jr.": true, "sr.": true,
	"st.": true, "approx.": true, "fig.": true,
}

// SplitSentences splits text on '.', '!' and '?' followed by whitespace, and
// on blank lines. A period after a known abbreviation, or one followed by a
// lowercase word, does not end a sentence.
func SplitSentences(text string) []string {
	var (
		out   []string
		start int
	)
	emit := func(end int) {
		s := strings.Join(strings.Fields(text[start:end]), " ")
		if s != "" {
			out = append(out, s)
		}
		start = end
	}

	for i := 0; i < len(text); {
		r, size := utf8.DecodeRuneInString(text[i:])
		next := i + size

		switch {
		case r == '\n' && strings.HasPrefix(strings.TrimLeft(text[next:], " \t\r"), "\n"):
			emit(next)
		case r == '.' || r == '!' || r == '?':
			if next < len(text) {
				nr, _ := utf8.DecodeRuneInString(text[next:])
				if !unicode.IsSpace(nr) {
					break
				}
			}
			if r == '.' && !endsSentence(text, start, next) {
				break
			}
			emit(next)
		}
		i = next
	}
	emit(len(text))
	return out
}

// endsSentence decides whether the period ending at end closes a sentence.
func endsSentence(text string, start, end int) bool {
	word := text[start:end]
	if idx := strings.LastIndexFunc(word, unicode.IsSpace); idx >= 0 {
		word = word[idx+1:]
	}
	if abbreviations[strings.ToLower(strings.TrimLeft(word, "(\"'"))] {
		return false
	}
	rest := strings.TrimLeftFunc(text[end:], unicode.IsSpace)
	if rest == "" {
		return true
	}
	r, _ := utf8.DecodeRuneInString(rest)
	return !unicode.IsLower(r)
}
