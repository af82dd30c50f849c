package filing

import "regexp"

// MinSectionLength is the shortest span accepted as a 10-K item body.
// Shorter spans are table-of-contents entries.
const MinSectionLength = 500

// Section is one 10-K item.
type Section struct {
	Item  string `json:"item"`
	Title string `json:"title"`
	Text  string `json:"text"`
}

type itemSpec struct {
	item  string
	title string
	start *regexp.Regexp
	end   *regexp.Regexp
}

// Item 1 (Business) and Item 1A (Risk Factors) carry nearly all competitor,
// customer, supplier and partner disclosures.
var itemSpecs = []itemSpec{
	{
		item:  "1",
		title: "Business",
		start: regexp.MustCompile(`(?im)^[ \t]*item[ \t]*1[ \t]*[.:\-–—]?[ \t]*business\b`),
		end:   regexp.MustCompile(`(?im)^[ \t]*(?:item[ \t]*(?:1a|1b|1c|2)\b|risk[ \t]+factors[ \t]*$)`),
	},
	{
		item:  "1A",
		title: "Risk Factors",
		start: regexp.MustCompile(`(?im)^[ \t]*item[ \t]*1a[ \t]*[.:\-–—]?[ \t]*risk[ \t]+factors\b`),
		end:   regexp.MustCompile(`(?im)^[ \t]*(?:item[ \t]*(?:1b|1c|2|3)\b|part[ \t]+ii\b)`),
	},
}

// Items locates 10-K items in text. Every heading occurrence is tried and
// the longest body wins, which skips the table of contents. Items whose body
// is shorter than MinSectionLength are omitted.
func Items(text string) []Section {
	var out []Section
	for _, spec := range itemSpecs {
		best := ""
		for _, loc := range spec.start.FindAllStringIndex(text, -1) {
			body := text[loc[1]:]
			if end := spec.end.FindStringIndex(body); end != nil {
				body = body[:end[0]]
			}
			if len(body) > len(best) {
				best = body
			}
		}
		if len(best) >= MinSectionLength {
			out = append(out, Section{Item: spec.item, Title: spec.title, Text: best})
		}
	}
	return out
}
