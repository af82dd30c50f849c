package extract

import (
	"regexp"

	"github.com/brunobiangulo/relgraph/relation"
)

// Trigger is a relationship-indicating phrase. Pattern must match the phrase
// up to the position where the mentioned company name starts.
type Trigger struct {
	ID      string
	Type    relation.Type
	Pattern *regexp.Regexp
	// Enumerates marks triggers that usually introduce a list of companies
	// ("customers include A, B and C").
	Enumerates bool
}

// Vocabulary is the closed set of triggers the extractor looks for.
type Vocabulary struct {
	Triggers []Trigger
	// Keywords per type, used by the keyword scan mode.
	Keywords map[relation.Type][]string
}

func trigger(id string, typ relation.Type, enumerates bool, expr string) Trigger {
	return Trigger{
		ID:         id,
		Type:       typ,
		Pattern:    regexp.MustCompile(`(?i:` + expr + `)`),
		Enumerates: enumerates,
	}
}

// DefaultVocabulary returns the trigger phrases used for 10-K business and
// risk-factor sections.
func DefaultVocabulary() Vocabulary {
	return Vocabulary{
		Triggers: []Trigger{
			trigger("competitor.compete_with", relation.Competitor, true,
				`\bcompet(?:e|es|ed|ing)\s+(?:directly\s+|primarily\s+|principally\s+|mainly\s+|also\s+)?(?:with|against)\s+`),
			trigger("competitor.competitors_include", relation.Competitor, true,
				`\b(?:competitors|competition|competitive\s+products)\s+(?:include|includes|included|including|such\s+as|consists?\s+of|from)\s+(?:companies\s+such\s+as\s+)?`),
			trigger("competitor.rivals_include", relation.Competitor, true,
				`\brivals?\s+(?:include|includes|including|such\s+as)\s+`),

			trigger("customer.customers_include", relation.Customer, true,
				`\b(?:customers|clients)\s+(?:include|includes|included|including|such\s+as)\s+`),
			trigger("customer.significant_customer", relation.Customer, false,
				`\b(?:largest|significant|major|principal|single\s+largest)\s+customers?,?\s+(?:including|includes|include|is|was|are|were)?\s*`),
			trigger("customer.sell_to", relation.Customer, false,
				`\b(?:we\s+)?(?:sell|sells|sold)\s+(?:our\s+)?(?:products\s+|services\s+|solutions\s+)?(?:directly\s+)?to\s+`),
			trigger("customer.revenue_from", relation.Customer, false,
				`\d{1,3}(?:\.\d+)?%\s+of\s+(?:our\s+)?(?:total\s+|net\s+|consolidated\s+)?(?:revenues?|net\s+sales|sales)\s+(?:was\s+|were\s+)?(?:from|to|attributable\s+to)\s+`),

			trigger("supplier.suppliers_include", relation.Supplier, true,
				`\b(?:suppliers|vendors|manufacturers|contract\s+manufacturers)\s+(?:include|includes|including|such\s+as)\s+`),
			trigger("supplier.purchase_from", relation.Supplier, false,
				`\b(?:purchase|purchases|purchased|buy|buys|source|sources|procure|procures|obtain|obtains|license|licenses)\s+(?:[a-z\-]+\s+){0,6}?from\s+`),
			trigger("supplier.supplied_by", relation.Supplier, false,
				`\b(?:supplied|manufactured|provided|sourced|produced|fabricated)\s+(?:exclusively\s+|solely\s+|primarily\s+)?(?:for\s+us\s+)?by\s+`),
			trigger("supplier.sole_source", relation.Supplier, false,
				`\b(?:sole|single|primary|key|principal)\s+(?:source\s+)?suppliers?,?\s+(?:is\s+|was\s+|are\s+)?`),
			trigger("supplier.depend_on", relation.Supplier, false,
				`\b(?:depend|depends|rely|relies)\s+(?:heavily\s+|substantially\s+|significantly\s+)?(?:up)?on\s+`),

			trigger("partner.partner_with", relation.Partner, false,
				`\b(?:partner|partners|partnered|partnering|collaborate|collaborates|collaborated|collaborating)\s+(?:closely\s+)?with\s+`),
			trigger("partner.agreement_with", relation.Partner, false,
				`\b(?:partnership|strategic\s+alliance|alliance|collaboration|joint\s+venture|licensing\s+agreement|distribution\s+agreement|co-development\s+agreement)\s+with\s+`),
			trigger("partner.partners_include", relation.Partner, true,
				`\bpartners\s+(?:include|includes|including|such\s+as)\s+`),
		},
		Keywords: map[relation.Type][]string{
			relation.Competitor: {"competitor", "competitors", "compete", "competes", "competing", "competition", "rival", "rivals"},
			relation.Customer:   {"customer", "customers", "client", "clients", "significant customer", "% of revenue", "% of our revenue", "% of net sales"},
			relation.Supplier:   {"supplier", "suppliers", "vendor", "vendors", "supply chain", "sole source", "single source", "raw material", "components from", "contract manufacturer"},
			relation.Partner:    {"partner", "partners", "partnership", "alliance", "joint venture", "collaborate", "collaboration", "agreement with", "licensing agreement"},
		},
	}
}
