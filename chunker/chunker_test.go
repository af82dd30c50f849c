package chunker

import (
	"strings"
	"testing"
)

func words(n int, w string) string {
	return strings.TrimSpace(strings.Repeat(w+" ", n))
}

func TestNewDefaults(t *testing.T) {
	c := New(Config{})
	if c.cfg.MaxTokens != 7000 || c.cfg.Overlap != 200 {
		t.Errorf("defaults = %+v", c.cfg)
	}
	c = New(Config{MaxTokens: 100, Overlap: 300})
	if c.cfg.Overlap != 25 {
		t.Errorf("overlap not clamped: %+v", c.cfg)
	}
}

func TestSplitShortText(t *testing.T) {
	c := New(Config{MaxTokens: 100, Overlap: 10})
	got := c.Split("  Apple designs smartphones.  ")
	if len(got) != 1 || got[0].Text != "Apple designs smartphones." {
		t.Fatalf("Split = %+v", got)
	}
	if got[0].Tokens != EstimateTokens("Apple designs smartphones.") {
		t.Errorf("tokens = %d", got[0].Tokens)
	}
	if c.Split("   \n ") != nil {
		t.Error("blank text should yield no chunks")
	}
}

func TestSplitParagraphs(t *testing.T) {
	c := New(Config{MaxTokens: 40, Overlap: 5})
	text := words(20, "alpha") + "\n\n" + words(20, "beta") + "\n\n" + words(20, "gamma")
	got := c.Split(text)
	if len(got) != 3 {
		t.Fatalf("chunks = %d, want 3: %+v", len(got), got)
	}
	for i, ch := range got {
		if ch.Tokens > 40 {
			t.Errorf("chunk %d has %d tokens", i, ch.Tokens)
		}
	}
	if !strings.HasPrefix(got[1].Text, "alpha") || !strings.Contains(got[1].Text, "beta") {
		t.Errorf("second chunk missing overlap: %q", got[1].Text)
	}
}

func TestSplitLongSentence(t *testing.T) {
	c := New(Config{MaxTokens: 20, Overlap: 4})
	got := c.Split(words(100, "semiconductor"))
	if len(got) < 5 {
		t.Fatalf("chunks = %d, want at least 5", len(got))
	}
	for i, ch := range got {
		if ch.Tokens > 20 {
			t.Errorf("chunk %d has %d tokens: %q", i, ch.Tokens, ch.Text)
		}
	}
}

func TestSplitSentences(t *testing.T) {
	got := splitSentences("We compete with Dell. We buy from TSMC! Really? yes")
	want := []string{"We compete with Dell.", "We buy from TSMC!", "Really?", "yes"}
	if len(got) != len(want) {
		t.Fatalf("got %q", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sentence %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestExtractOverlap(t *testing.T) {
	if got := extractOverlap("a b c d e f g h i j", 6); got != "g h i j" {
		t.Errorf("extractOverlap = %q", got)
	}
	if got := extractOverlap("", 4); got != "" {
		t.Errorf("extractOverlap(empty) = %q", got)
	}
}
