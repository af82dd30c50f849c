package registry

import (
	"strings"
	"unicode"
)

// corporateSuffixes are stripped from the end of names, longest first so that
// "holdings ltd" goes before "ltd".
var corporateSuffixes = []string{
	"holdings ltd",
	"corporation",
	"incorporated",
	"technologies",
	"technology",
	"holdings",
	"holding",
	"solutions",
	"platforms",
	"services",
	"systems",
	"company",
	"group",
	"corp.",
	"corp",
	"inc.",
	"inc",
	"ltd.",
	"ltd",
	"llc",
	"plc",
	"l.p.",
	"lp",
	"n.v.",
	"s.a.",
	"ag",
	"co.",
	"co",
	"/de/",
	"/md/",
	"/nv/",
}

// Normalize lowercases a company name, drops punctuation that does not carry
// identity and strips trailing corporate suffixes. A name made only of
// suffix words ("Group Inc") keeps its last remaining word.
func Normalize(name string) string {
	s := strings.ToLower(strings.TrimSpace(name))
	s = strings.Map(func(r rune) rune {
		switch r {
		case ',', '"', '\'', '(', ')', ';', ':':
			return ' '
		}
		if unicode.IsSpace(r) {
			return ' '
		}
		return r
	}, s)
	s = strings.Join(strings.Fields(s), " ")
	s = strings.TrimPrefix(s, "the ")

	for {
		stripped := false
		for _, suf := range corporateSuffixes {
			if !strings.HasSuffix(s, " "+suf) {
				continue
			}
			rest := strings.TrimSpace(s[:len(s)-len(suf)])
			if rest == "" {
				break
			}
			s = strings.TrimRight(rest, " &-")
			stripped = true
			break
		}
		if !stripped {
			break
		}
	}
	return strings.TrimRight(s, ".")
}

// Tokens splits a normalized name into words.
func Tokens(normalized string) []string {
	return strings.FieldsFunc(normalized, func(r rune) bool {
		return unicode.IsSpace(r) || r == '-' || r == '&' || r == '/'
	})
}
