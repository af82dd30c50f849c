package decision

import (
	"regexp"
	"strings"

	"github.com/brunobiangulo/relgraph/resolve"
)

// DefaultGenericWords are common words that double as company names. An
// unresolved mention equal to one of them is rejected unless it appears in a
// list of companies. The list is the resolver's, so Tier 1 and the resolver
// guard agree.
func DefaultGenericWords() []string {
	return resolve.DefaultGenericWords()
}

// DefaultShortNames are mentions of two characters or fewer that are still
// worth evaluating.
func DefaultShortNames() []string {
	return []string{"ibm", "hp", "ge", "at", "ma"}
}

var (
	reListAfter  = regexp.MustCompile(`^(?:\s*,|\s+and\b)`)
	reListBefore = regexp.MustCompile(`(?:such\s+as|including)\s+$`)
)

// inCompanyList reports whether mention sits in an enumeration of companies
// within sentence ("Target, Walmart", "customers such as Target").
func inCompanyList(sentence, mention string) bool {
	if mention == "" {
		return false
	}
	lower, m := strings.ToLower(sentence), strings.ToLower(mention)
	for from := 0; from <= len(lower); {
		i := strings.Index(lower[from:], m)
		if i < 0 {
			return false
		}
		i += from
		if reListAfter.MatchString(lower[i+len(m):]) || reListBefore.MatchString(lower[:i]) {
			return true
		}
		from = i + 1
	}
	return false
}

// filter is a named group of sentence patterns that rule out a business
// relationship.
type filter struct {
	name     string
	patterns []*regexp.Regexp
}

func newFilter(name string, exprs ...string) filter {
	f := filter{name: name}
	for _, e := range exprs {
		f.patterns = append(f.patterns, regexp.MustCompile(`(?i)`+e))
	}
	return f
}

// match returns the first matching text.
func (f filter) match(sentence string) (string, bool) {
	for _, p := range f.patterns {
		if m := p.FindString(sentence); m != "" {
			return strings.TrimSpace(m), true
		}
	}
	return "", false
}

var sentenceFilters = []filter{
	newFilter("negation",
		`\b(?:do|does|did)\s+not\s+(?:currently\s+|directly\s+)?(?:compete|sell|purchase|buy|partner|source|supply)\b`,
		`\bno\s+longer\s+(?:compete|sell|purchase|buy|partner|supply|source|a\s+(?:customer|supplier|partner|competitor))`,
		`\bformerly\s+(?:partnered|competed|supplied|sold)\b`,
		`\bterminated\s+(?:our|its|the)\s+(?:supply\s+|distribution\s+|license\s+)?(?:agreement|relationship|partnership|contract)\b`,
		`\b(?:is|are)\s+not\s+(?:a|an|our)\s+(?:significant\s+)?(?:competitor|customer|supplier|partner)s?\b`,
	),
	newFilter("hypothetical",
		`\bpotential\s+(?:future\s+)?(?:competitors?|customers?|suppliers?|partners?)\b`,
		`\b(?:may|might|could)\s+(?:in\s+the\s+future\s+)?(?:compete|become\s+(?:a\s+|an\s+)?(?:competitor|customer|supplier|partner))`,
		`\bprospective\s+(?:customers?|partners?|suppliers?)\b`,
		`\bif\s+we\s+(?:were\s+to\s+|are\s+unable\s+to\s+)?(?:partner|enter\s+into)\b`,
	),
	newFilter("biographical",
		`\b(?:previously|formerly)\s+(?:worked|served|was\s+employed|held\s+(?:various\s+)?positions)\b`,
		`\b(?:prior\s+to|before)\s+joining\b`,
		`\bformerly\s+(?:with|at)\b`,
		`\bserves?\s+(?:as\s+)?(?:a\s+|an\s+)?(?:member\s+of\s+the\s+board|director|board\s+member|trustee)\b`,
		`\bhas\s+served\s+as\b`,
	),
	newFilter("exchange listing",
		`\b(?:listed|traded|trades|quoted)\s+on\s+(?:the\s+)?(?:NASDAQ|Nasdaq|NYSE|New\s+York\s+Stock\s+Exchange|London\s+Stock\s+Exchange)`,
		`\bunder\s+the\s+(?:ticker\s+|trading\s+)?symbol\b`,
	),
	newFilter("corporate structure",
		`\bwholly[\s-]owned\s+subsidiar(?:y|ies)\b`,
		`\b(?:is|became)\s+a\s+subsidiary\s+of\b`,
		`\b(?:our|its)\s+(?:former\s+)?parent(?:\s+company)?\b`,
		`\bacquired\s+by\b`,
		`\bspun\s+off\s+from\b`,
	),
	newFilter("platform reference",
		`\bavailable\s+(?:for\s+download\s+)?(?:on|through|via|in)\s+(?:the\s+)?(?:Apple\s+)?(?:App\s+Store|Google\s+Play|Amazon\s+Appstore)`,
		`\bdownload(?:ed)?\s+(?:from|on)\s+(?:the\s+)?(?:Apple\s+)?(?:App\s+Store|Google\s+Play)`,
	),
}
