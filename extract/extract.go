// Package extract finds relationship mentions in filing sentences.
//
// Extraction is purely syntactic: it reports which company-like span follows
// a relationship trigger, and leaves resolution and scoring to later stages.
// All functions are pure and safe for concurrent use.
package extract

import (
	"regexp"
	"strings"

	"github.com/brunobiangulo/relgraph/relation"
)

// Candidate is an unresolved mention of a possible relationship target.
// Sentence[Start:End] == Mention always holds.
type Candidate struct {
	Mention  string        `json:"mention"`
	Sentence string        `json:"sentence"`
	Start    int           `json:"start"`
	End      int           `json:"end"`
	Pattern  string        `json:"pattern"`
	Type     relation.Type `json:"type"`
}

// Pattern ids used by keyword scan mode.
const (
	PatternCapitalized = "capitalized"
	PatternTicker      = "ticker"
	PatternQuoted      = "quoted"
)

var (
	// A company name: up to five capitalised words, allowing "of", "&" and
	// "de" joiners ("Bank of America", "Procter & Gamble").
	reName = regexp.MustCompile(`^(?:[Tt]he\s+)?([A-Z][\w&.'\-]*(?:\s+(?:of\s+|&\s+|de\s+)?[A-Z0-9][\w&.'\-]*){0,4})`)

	// Separator between enumerated names.
	reListSep = regexp.MustCompile(`^(?:\s*,\s*(?:and\s+|or\s+)?|\s+(?:and|or)\s+)`)

	// A corporate suffix set off by a comma ("Amazon.com, Inc.") belongs to
	// the preceding name.
	reSuffixTail = regexp.MustCompile(`^,\s*(?:Inc|Incorporated|Corp|Corporation|Ltd|Limited|LLC|L\.L\.C|LP|L\.P|PLC|plc|N\.V|S\.A|Co)\b\.?`)

	reCapitalized = regexp.MustCompile(`\b([A-Z][a-zA-Z&.\-]*(?:\s+[A-Z][a-zA-Z&.\-]*){0,3})\b`)
	reTicker      = regexp.MustCompile(`\b([A-Z]{2,5})\b`)
	reQuoted      = regexp.MustCompile(`"([^"]{2,50})"`)
)

// keepDot lists name endings whose trailing period belongs to the name.
var keepDot = map[string]bool{
	"inc.": true, "corp.": true, "co.": true, "ltd.": true, "l.p.": true,
	"n.v.": true, "s.a.": true, "plc.": true, "llc.": true, "u.s.": true,
}

// corporateSuffixes are name endings that are never a company on their own,
// compared lowercased without periods.
var corporateSuffixes = map[string]bool{
	"inc": true, "incorporated": true, "corp": true, "corporation": true, "ltd": true,
	"limited": true, "llc": true, "lp": true, "plc": true, "nv": true, "sa": true, "co": true,
}

func bareSuffix(s string) bool {
	return corporateSuffixes[strings.ToLower(strings.ReplaceAll(s, ".", ""))]
}

// leadingStopWords never start a company name on their own.
var leadingStopWords = map[string]bool{
	"we": true, "our": true, "us": true, "these": true, "this": true, "such": true,
	"other": true, "certain": true, "many": true, "some": true, "several": true,
	"each": true, "all": true, "any": true, "company": true, "its": true, "their": true,
}

// DefaultTickerBlocklist holds uppercase tokens that look like tickers but
// are common words or abbreviations in filings.
func DefaultTickerBlocklist() []string {
	return []string{
		"A", "I", "AN", "AS", "AT", "BY", "IF", "IN", "IS", "IT", "OF", "ON", "OR", "TO", "WE", "US",
		"THE", "AND", "FOR", "ARE", "BUT", "NOT", "ALL", "ANY", "CAN", "HAS", "HAD", "OUR", "NEW",
		"USA", "AI", "IP", "IT", "UK", "EU", "CEO", "CFO", "COO", "CTO", "SEC", "GAAP", "IRS", "FDA",
		"LLC", "INC", "LTD", "PLC", "ITEM", "PART", "NOTE", "FORM", "Q", "K", "R&D", "ESG", "API",
		"SAAS", "IOT", "EPS", "EBIT", "LIBOR", "SOFR", "NYSE", "AMEX", "OTC",
	}
}

// DefaultNameBlocklist holds lowercase words that are capitalised in filings
// but almost never name a counterparty on their own.
func DefaultNameBlocklist() []string {
	return []string{
		"reliance", "alliance", "target", "focus", "insight", "advantage", "premier", "progress",
		"catalyst", "service", "services", "system", "systems", "technology", "technologies",
		"solutions", "platform", "platforms", "group", "holdings", "partners", "capital",
		"company", "corporation", "board", "directors", "management", "item", "part", "note",
		"risk factors", "united states", "federal", "state", "government", "internet",
	}
}

// Extractor produces Candidates from sentences.
type Extractor struct {
	vocab       Vocabulary
	keywordScan bool
	tickers     map[string]bool
	names       map[string]bool
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithKeywordScan also emits every capitalised phrase, ticker and quoted name
// in sentences that contain a relationship keyword. It trades precision for
// recall; later tiers filter the noise.
func WithKeywordScan() Option {
	return func(e *Extractor) { e.keywordScan = true }
}

// WithTickerBlocklist replaces the ticker blocklist.
func WithTickerBlocklist(words []string) Option {
	return func(e *Extractor) { e.tickers = toSet(words, strings.ToUpper) }
}

// WithNameBlocklist replaces the name blocklist.
func WithNameBlocklist(words []string) Option {
	return func(e *Extractor) { e.names = toSet(words, strings.ToLower) }
}

// New creates an Extractor over vocab.
func New(vocab Vocabulary, opts ...Option) *Extractor {
	e := &Extractor{
		vocab:   vocab,
		tickers: toSet(DefaultTickerBlocklist(), strings.ToUpper),
		names:   toSet(DefaultNameBlocklist(), strings.ToLower),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

func toSet(words []string, fold func(string) string) map[string]bool {
	m := make(map[string]bool, len(words))
	for _, w := range words {
		m[fold(w)] = true
	}
	return m
}

type spanKey struct {
	typ        relation.Type
	start, end int
}

// Extract returns the candidates in one sentence. An empty or malformed
// sentence yields no candidates.
func (e *Extractor) Extract(sentence string) []Candidate {
	if strings.TrimSpace(sentence) == "" {
		return nil
	}

	var out []Candidate
	seen := make(map[spanKey]bool)
	add := func(c Candidate) {
		k := spanKey{c.Type, c.Start, c.End}
		if seen[k] {
			return
		}
		seen[k] = true
		out = append(out, c)
	}

	for _, tr := range e.vocab.Triggers {
		for _, m := range tr.Pattern.FindAllStringIndex(sentence, -1) {
			start, end, ok := e.nameAt(sentence, m[1])
			if !ok || bareSuffix(sentence[start:end]) {
				continue
			}
			add(Candidate{
				Mention:  sentence[start:end],
				Sentence: sentence,
				Start:    start,
				End:      end,
				Pattern:  tr.ID,
				Type:     tr.Type,
			})
			if !tr.Enumerates {
				continue
			}
			for _, item := range e.listItems(sentence, end) {
				add(Candidate{
					Mention:  sentence[item[0]:item[1]],
					Sentence: sentence,
					Start:    item[0],
					End:      item[1],
					Pattern:  tr.ID + "/list",
					Type:     tr.Type,
				})
			}
		}
	}

	if e.keywordScan {
		for _, c := range e.scanKeywords(sentence) {
			add(c)
		}
	}
	return out
}

// ExtractText splits text into sentences and extracts from each.
func (e *Extractor) ExtractText(text string) []Candidate {
	var out []Candidate
	for _, s := range SplitSentences(text) {
		out = append(out, e.Extract(s)...)
	}
	return out
}

// nameAt finds a company name starting at pos. It returns byte offsets into
// sentence.
func (e *Extractor) nameAt(sentence string, pos int) (int, int, bool) {
	if pos >= len(sentence) {
		return 0, 0, false
	}
	loc := reName.FindStringSubmatchIndex(sentence[pos:])
	if loc == nil {
		return 0, 0, false
	}
	start, end := pos+loc[2], pos+loc[3]
	end = start + len(trimMention(sentence[start:end]))
	if end <= start {
		return 0, 0, false
	}
	if tail := reSuffixTail.FindStringIndex(sentence[end:]); tail != nil {
		end = start + len(trimMention(sentence[start:end+tail[1]]))
	}
	first := strings.ToLower(strings.Fields(sentence[start:end])[0])
	if leadingStopWords[first] {
		return 0, 0, false
	}
	return start, end, true
}

// listItems follows an enumeration after the first listed name.
func (e *Extractor) listItems(sentence string, pos int) [][2]int {
	var items [][2]int
	for len(items) < 20 {
		sep := reListSep.FindStringIndex(sentence[pos:])
		if sep == nil {
			break
		}
		start, end, ok := e.nameAt(sentence, pos+sep[1])
		if !ok {
			break
		}
		pos = end
		if bareSuffix(sentence[start:end]) {
			continue
		}
		items = append(items, [2]int{start, end})
	}
	return items
}

// trimMention drops trailing punctuation and possessives that are not part of
// the name.
func trimMention(s string) string {
	for {
		before := s
		s = strings.TrimRight(s, " ,;:-&")
		s = strings.TrimSuffix(s, "'s")
		s = strings.TrimSuffix(s, "’s")
		if strings.HasSuffix(s, ".") {
			fields := strings.Fields(s)
			if last := strings.ToLower(fields[len(fields)-1]); !keepDot[last] {
				s = strings.TrimRight(s, ".")
			}
		}
		if s == before {
			return s
		}
	}
}

// scanKeywords implements the recall-oriented keyword scan mode.
func (e *Extractor) scanKeywords(sentence string) []Candidate {
	lower := strings.ToLower(sentence)
	var types []relation.Type
	for _, typ := range relation.All() {
		for _, kw := range e.vocab.Keywords[typ] {
			if strings.Contains(lower, kw) {
				types = append(types, typ)
				break
			}
		}
	}
	if len(types) == 0 {
		return nil
	}

	type hit struct {
		start, end int
		pattern    string
	}
	var hits []hit
	seen := make(map[string]bool)
	collect := func(re *regexp.Regexp, pattern string, accept func(string) bool) {
		for _, m := range re.FindAllStringSubmatchIndex(sentence, -1) {
			start, end := m[2], m[3]
			end = start + len(trimMention(sentence[start:end]))
			if end <= start {
				continue
			}
			text := sentence[start:end]
			key := strings.ToLower(text)
			if seen[key] || !accept(text) {
				continue
			}
			seen[key] = true
			hits = append(hits, hit{start, end, pattern})
		}
	}

	collect(reQuoted, PatternQuoted, func(s string) bool { return !e.names[strings.ToLower(s)] })
	collect(reCapitalized, PatternCapitalized, func(s string) bool {
		if len(s) < 2 || e.names[strings.ToLower(s)] || e.tickers[strings.ToUpper(s)] {
			return false
		}
		return !leadingStopWords[strings.ToLower(strings.Fields(s)[0])]
	})
	collect(reTicker, PatternTicker, func(s string) bool { return !e.tickers[s] })

	var out []Candidate
	for _, typ := range types {
		for _, h := range hits {
			out = append(out, Candidate{
				Mention:  sentence[h.start:h.end],
				Sentence: sentence,
				Start:    h.start,
				End:      h.end,
				Pattern:  h.pattern,
				Type:     typ,
			})
		}
	}
	return out
}
