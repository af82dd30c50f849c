package filing

import (
	"strings"
	"testing"
)

func filler(sentence string) string {
	return strings.Repeat(sentence+" ", 1+MinSectionLength/len(sentence))
}

func TestItemsSkipsTableOfContents(t *testing.T) {
	business := filler("We compete with Microsoft Corporation in cloud services.")
	risks := filler("Our suppliers include a small number of foundries.")
	text := strings.Join([]string{
		"TABLE OF CONTENTS",
		"Item 1. Business 3",
		"Item 1A. Risk Factors 12",
		"Item 2. Properties 30",
		"PART I",
		"ITEM 1. BUSINESS",
		business,
		"ITEM 1A. RISK FACTORS",
		risks,
		"ITEM 1B. UNRESOLVED STAFF COMMENTS",
		"None.",
	}, "\n")

	got := Items(text)
	if len(got) != 2 {
		t.Fatalf("found %d items, want 2: %+v", len(got), got)
	}
	if got[0].Item != "1" || strings.TrimSpace(got[0].Text) != strings.TrimSpace(business) {
		t.Errorf("item 1 = %q", got[0].Text)
	}
	if got[1].Item != "1A" || strings.TrimSpace(got[1].Text) != strings.TrimSpace(risks) {
		t.Errorf("item 1A = %q", got[1].Text)
	}
}

func TestItemsShortBodiesIgnored(t *testing.T) {
	text := "Item 1. Business\nWe make chips.\nItem 1A. Risk Factors\nThere are risks.\nItem 2. Properties\n"
	if got := Items(text); len(got) != 0 {
		t.Errorf("Items = %+v, want none", got)
	}
}

func TestSentencesSectionsOnly(t *testing.T) {
	doc := &Document{
		Text:     "Cover page sentence. Item text.",
		Sections: []Section{{Item: "1", Text: "We compete with Intel. We partner with Dell."}},
	}
	if got := doc.Sentences(true); len(got) != 2 || got[0] != "We compete with Intel." {
		t.Errorf("Sentences(true) = %q", got)
	}
	if got := doc.Sentences(false); len(got) != 2 || got[0] != "Cover page sentence." {
		t.Errorf("Sentences(false) = %q", got)
	}
	doc.Sections = nil
	if got := doc.Sentences(true); len(got) != 2 {
		t.Errorf("fallback to full text failed: %q", got)
	}
}
