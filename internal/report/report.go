// Package report renders batch summaries, reconciliation reports and
// threshold policies as terminal or Markdown tables.
package report

import (
	"fmt"
	"sort"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/brunobiangulo/relgraph"
	"github.com/brunobiangulo/relgraph/confidence"
	"github.com/brunobiangulo/relgraph/decision"
	"github.com/brunobiangulo/relgraph/eval"
	"github.com/brunobiangulo/relgraph/reconcile"
	"github.com/brunobiangulo/relgraph/relation"
	"github.com/brunobiangulo/relgraph/store"
)

// Mode controls the output format.
type Mode int

const (
	Text     Mode = iota // box-drawn terminal tables
	Markdown             // GitHub-flavoured Markdown tables
)

// ParseMode maps "text" or "markdown" to a Mode.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "", "text", "table":
		return Text, nil
	case "markdown", "md":
		return Markdown, nil
	}
	return Text, fmt.Errorf("unknown output format %q", s)
}

type tableWriter struct {
	w    table.Writer
	mode Mode
}

func newTable(m Mode, title string, header ...any) *tableWriter {
	w := table.NewWriter()
	style := table.StyleDefault
	if m == Text {
		style = table.StyleLight
		w.SetTitle(title)
	}
	// Keep cell text as written; upper-casing turns "1m 15s" into "1M 15S".
	style.Format.Header = text.FormatDefault
	style.Format.Footer = text.FormatDefault
	w.SetStyle(style)
	w.AppendHeader(table.Row(header))
	return &tableWriter{w: w, mode: m}
}

func (t *tableWriter) row(vals ...any)    { t.w.AppendRow(table.Row(vals)) }
func (t *tableWriter) footer(vals ...any) { t.w.AppendFooter(table.Row(vals)) }

// alignRight right-aligns the given 1-based columns.
func (t *tableWriter) alignRight(cols ...int) {
	cfgs := make([]table.ColumnConfig, len(cols))
	for i, c := range cols {
		cfgs[i] = table.ColumnConfig{Number: c, Align: text.AlignRight, AlignFooter: text.AlignRight}
	}
	t.w.SetColumnConfigs(cfgs)
}

func (t *tableWriter) String() string {
	if t.mode == Markdown {
		return t.w.RenderMarkdown()
	}
	return t.w.Render()
}

// Summary renders the per-stage counts of a filing batch.
func Summary(s *relgraph.Summary, m Mode) string {
	c := s.Counts
	t := newTable(m, "Extraction summary", "Stage", "Count")
	t.alignRight(2)
	t.row("Filings", s.Filings)
	t.row("  processed", s.Processed)
	t.row("  skipped (unchanged)", s.Skipped)
	t.row("  failed", s.Failed)
	t.row("Sentences", c.Sentences)
	t.row("Candidates", c.Candidates)
	t.row("  unresolved", c.Unresolved)
	t.row("  self references", c.SelfReferences)
	t.row("Accepted", c.Accepted())
	t.row("Rejected", c.Rejected())
	t.row("Escalated without signal", c.EscalatedWithoutSignal)
	t.row("Accepted but LOW (dropped)", c.AcceptedLow)
	t.row("Fact edges", c.Facts)
	t.row("Candidate edges", c.CandidateEdges)
	t.footer("Elapsed", Duration(s.Elapsed))
	return t.String()
}

// Tiers renders decisions by the tier that made them.
func Tiers(tiers [4]decision.TierCounts, m Mode) string {
	t := newTable(m, "Decisions by tier", "Tier", "Accepted", "Rejected", "Total")
	t.alignRight(2, 3, 4)
	var acc, rej int64
	for i, tc := range tiers {
		t.row(fmt.Sprintf("Tier %d", i+1), tc.Accepted, tc.Rejected, tc.Accepted+tc.Rejected)
		acc += tc.Accepted
		rej += tc.Rejected
	}
	t.footer("Total", acc, rej, acc+rej)
	return t.String()
}

// Decisions renders decision engine counters and estimated spend.
func Decisions(s decision.Snapshot, m Mode) string {
	t := newTable(m, "Decision engine", "Metric", "Value")
	t.alignRight(2)
	t.row("Decisions", s.Decisions())
	t.row("Fail-closed rejects", s.FailClosed)
	t.row("Escalated without signal", s.EscalatedWithoutSignal)
	t.row("Tier 3 embedding calls", s.Tier3Calls)
	t.row("Tier 4 verifier calls", s.Tier4Calls)
	t.row("Tier 4 failures", s.Tier4Failures)
	t.row("Estimated cost", fmt.Sprintf("$%.4f", s.Cost()))
	t.row("Cost per decision", fmt.Sprintf("$%.5f", s.CostPerDecision()))
	return t.String()
}

// Failures lists filings that failed, or returns "" when none did.
func Failures(s *relgraph.Summary, m Mode) string {
	if len(s.Failures) == 0 {
		return ""
	}
	t := newTable(m, "Failed filings", "Filing", "Error")
	for _, f := range s.Failures {
		t.row(f.Path, Truncate(f.Error, 120))
	}
	return t.String()
}

// Reconcile renders a reconciliation report.
func Reconcile(r reconcile.Report, m Mode) string {
	title := "Reconciliation"
	if r.DryRun {
		title += " (dry run)"
	}
	t := newTable(m, title, "Outcome", "Edges")
	t.alignRight(2)
	t.row("Scanned", r.Scanned)
	t.row("Kept", r.Kept)
	t.row("Promoted", r.Promoted)
	t.row("Demoted", r.Demoted)
	t.row("Deleted (below medium)", r.Deleted)
	t.row("Deleted (orphaned)", r.Orphaned)
	t.row("Rescored", r.Rescored)
	t.row("Rescore failed", r.RescoreFailed)
	if r.Invalid > 0 {
		t.row("Unknown kind", r.Invalid)
	}
	t.row("Batches", r.Batches)
	t.row("Last edge id", r.LastID)
	t.footer("Complete", BoolMark(r.Complete))
	return t.String()
}

// Thresholds renders the policy for every relationship type.
func Thresholds(p *confidence.Policy, m Mode) string {
	t := newTable(m, "Relationship thresholds", "Fact label", "Candidate label", "High", "Medium", "Tier 4")
	t.alignRight(3, 4)
	for _, typ := range relation.All() {
		th, _ := p.Thresholds(typ)
		t.row(typ.Label(), typ.CandidateLabel(),
			fmt.Sprintf("%.2f", th.High), fmt.Sprintf("%.2f", th.Medium), BoolMark(th.RequireTier4))
	}
	return t.String()
}

// EdgeCounts renders stored edge totals by kind.
func EdgeCounts(counts map[relation.Label]int, m Mode) string {
	labels := make([]relation.Label, 0, len(counts))
	for l := range counts {
		labels = append(labels, l)
	}
	sort.Slice(labels, func(i, j int) bool { return labels[i] < labels[j] })

	t := newTable(m, "Stored edges", "Kind", "Edges")
	t.alignRight(2)
	total := 0
	for _, l := range labels {
		t.row(l, counts[l])
		total += counts[l]
	}
	t.footer("Total", total)
	return t.String()
}

// Edges lists edges with their evidence.
func Edges(edges []store.Edge, m Mode) string {
	t := newTable(m, "Edges", "Source", "Target", "Kind", "Similarity", "Tier", "Mention")
	t.alignRight(4, 5)
	for _, e := range edges {
		sim := "-"
		if e.Similarity != nil {
			sim = fmt.Sprintf("%.3f", *e.Similarity)
		}
		t.row(e.SourceID, e.TargetID, e.Kind, sim, e.DecisionTier, Truncate(e.RawMention, 40))
	}
	return t.String()
}

// Judgement renders the outcome of a single judged mention.
func Judgement(j *relgraph.Judgement, m Mode) string {
	t := newTable(m, "Judgement", "Field", "Value")
	if j.Resolved == nil {
		t.row("Resolved", "no match")
		return t.String()
	}
	r := j.Resolved
	t.row("Resolved", fmt.Sprintf("%s (%s) via %s, %.2f", r.Name, r.EntityID, r.Method, r.Similarity))
	if j.SelfReference {
		t.row("Outcome", "self reference, skipped")
		return t.String()
	}
	t.row("Tier", j.Decision.Tier)
	t.row("Verdict", j.Decision.Verdict)
	t.row("Reasoning", Truncate(j.Decision.Reasoning, 100))
	sim := "-"
	if j.Similarity != nil {
		sim = fmt.Sprintf("%.3f", *j.Similarity)
	}
	t.row("Similarity", sim)
	if j.LLMVerified != nil {
		t.row("LLM verified", BoolMark(*j.LLMVerified))
	}
	if j.Decision.Verdict == decision.Accept {
		t.row("Confidence", j.Confidence)
	}
	kind := "not stored"
	if j.Persisted() {
		kind = string(j.Label)
	}
	t.footer("Edge", kind)
	return t.String()
}

// Eval renders an evaluation run: overall and per-type precision, then the
// reasons mentions were rejected.
func Eval(r *eval.Report, m Mode) string {
	t := newTable(m, "Evaluation: "+r.Dataset, "Relationship", "Cases", "TP", "FP", "TN", "FN", "Precision", "Recall", "F1")
	t.alignRight(2, 3, 4, 5, 6, 7, 8, 9)
	for _, typ := range r.Types() {
		c := r.ByType[typ]
		t.row(append([]any{typ}, confusionRow(c)...)...)
	}
	t.footer(append([]any{"Total"}, confusionRow(r.Overall)...)...)
	out := t.String()

	s := newTable(m, "Baseline", "Metric", "Value")
	s.alignRight(2)
	s.row("Accept everything (precision)", pct(r.Overall.Baseline()))
	s.row("Accuracy", pct(r.Overall.Accuracy()))
	s.row("Case errors", r.Errors)
	s.footer("Elapsed", Duration(r.Elapsed))
	out += "\n" + s.String()

	if len(r.Rejected) > 0 {
		rj := newTable(m, "Rejections", "Reason", "Cases")
		rj.alignRight(2)
		for _, reason := range r.Reasons() {
			rj.row(reason, r.Rejected[reason])
		}
		out += "\n" + rj.String()
	}
	return out
}

func confusionRow(c eval.Confusion) []any {
	return []any{c.Total(), c.TP, c.FP, c.TN, c.FN, pct(c.Precision()), pct(c.Recall()), pct(c.F1())}
}

func pct(v float64) string { return fmt.Sprintf("%.1f%%", v*100) }

// Duration formats d as "Xm Ys", "Ys" or milliseconds below a second.
func Duration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	s := int(d.Seconds())
	if s >= 60 {
		return fmt.Sprintf("%dm %ds", s/60, s%60)
	}
	return fmt.Sprintf("%ds", s)
}

// Truncate shortens s to maxLen runes, appending "..." if truncated.
func Truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string(r[:maxLen])
	}
	return string(r[:maxLen-3]) + "..."
}

// BoolMark returns "✓" for true and "✗" for false.
func BoolMark(v bool) string {
	if v {
		return "✓"
	}
	return "✗"
}
