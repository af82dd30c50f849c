package relgraph

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/brunobiangulo/relgraph/decision"
	"github.com/brunobiangulo/relgraph/extract"
	"github.com/brunobiangulo/relgraph/registry"
	"github.com/brunobiangulo/relgraph/relation"
	"github.com/brunobiangulo/relgraph/resolve"
	"github.com/brunobiangulo/relgraph/store"
)

// PatternManual marks candidates built from a Mention rather than
// extracted from text.
const PatternManual = "manual"

// Mention is a single relationship mention judged outside a filing.
type Mention struct {
	CompanyID string
	Sentence  string
	Text      string
	Type      relation.Type
	// TargetID skips resolution when set.
	TargetID string
}

// Judgement is the outcome of running one mention through resolution,
// the decision tiers and the confidence classifier. Nothing is persisted.
type Judgement struct {
	Resolved *resolve.Resolved `json:"resolved,omitempty"`
	// SelfReference is set when the mention resolved to the filing company.
	SelfReference bool              `json:"self_reference,omitempty"`
	Decision      decision.Decision `json:"decision"`
	Similarity    *float64          `json:"similarity,omitempty"`
	LLMVerified   *bool             `json:"llm_verified,omitempty"`
	// EscalatedWithoutSignal is set when Tier 3 was reached but no
	// similarity could be computed.
	EscalatedWithoutSignal bool                `json:"escalated_without_signal,omitempty"`
	Confidence             relation.Confidence `json:"confidence"`
	// Label is the edge kind that would be stored, empty when none would.
	Label relation.Label `json:"label,omitempty"`
}

// Persisted reports whether the mention would become an edge.
func (j *Judgement) Persisted() bool { return j.Label != "" }

// Judge evaluates one mention without writing an edge.
func (e *engine) Judge(ctx context.Context, m Mention) (*Judgement, error) {
	if !m.Type.Valid() {
		return nil, fmt.Errorf("invalid relationship type %d", int(m.Type))
	}
	snap := e.snapshot()
	source, ok := snap.reg.Get(m.CompanyID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCompany, m.CompanyID)
	}
	start, end, ok := findMention(m.Sentence, m.Text)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrMentionNotFound, m.Text)
	}
	cand := extract.Candidate{
		Mention:  m.Sentence[start:end],
		Sentence: m.Sentence,
		Start:    start,
		End:      end,
		Pattern:  PatternManual,
		Type:     m.Type,
	}

	if m.TargetID == "" {
		return e.judge(ctx, snap, source, cand), nil
	}
	target, ok := snap.reg.Get(m.TargetID)
	if !ok {
		return nil, fmt.Errorf("%w: target %s", ErrUnknownCompany, m.TargetID)
	}
	resolved := resolve.Resolved{
		EntityID:   target.ID,
		Name:       target.Name,
		Ticker:     target.Ticker,
		Method:     resolve.MethodExact,
		Similarity: 1,
	}
	return e.decide(ctx, source, cand, resolved), nil
}

// judge resolves cand and decides it. Resolved is nil when the mention did
// not resolve.
func (e *engine) judge(ctx context.Context, snap *snapshot, source registry.Entity, cand extract.Candidate) *Judgement {
	resolved, ok := snap.resolver.ResolveCandidate(ctx, cand)
	if !ok {
		return &Judgement{}
	}
	return e.decide(ctx, source, cand, resolved)
}

func (e *engine) decide(ctx context.Context, source registry.Entity, cand extract.Candidate, resolved resolve.Resolved) *Judgement {
	j := &Judgement{Resolved: &resolved}
	if resolved.EntityID == source.ID {
		j.SelfReference = true
		return j
	}

	sig := &decision.Signals{}
	j.Decision = e.decider.Decide(ctx, decision.Input{
		Candidate:  cand,
		Resolved:   &resolved,
		Type:       cand.Type,
		SourceName: source.Name,
		Signals:    sig,
	})
	if sim, ok := sig.Similarity(); ok {
		j.Similarity = &sim
	} else if e.cfg.Decision.Tier3 && j.Decision.Tier >= 3 {
		j.EscalatedWithoutSignal = true
	}
	if v, ok := sig.Verification(); ok {
		verified := v.Verified
		j.LLMVerified = &verified
	}
	if j.Decision.Verdict != decision.Accept {
		return j
	}

	conf, err := e.policy.Classify(cand.Type, j.Similarity)
	if err != nil {
		slog.Error("judge: classifying accepted mention", "type", cand.Type, "error", err)
		return j
	}
	j.Confidence = conf
	if label, ok := cand.Type.EdgeLabel(j.Confidence); ok {
		j.Label = label
	}
	return j
}

// edge builds the record a persisted judgement is stored as.
func (j *Judgement) edge(source string, cand extract.Candidate, filingID *int64) store.Edge {
	return store.Edge{
		SourceID:     source,
		TargetID:     j.Resolved.EntityID,
		Type:         cand.Type,
		Kind:         j.Label,
		Confidence:   j.Confidence,
		Similarity:   j.Similarity,
		LLMVerified:  j.LLMVerified,
		RawMention:   cand.Mention,
		Context:      cand.Sentence,
		DecisionTier: j.Decision.Tier,
		Reasoning:    j.Decision.Reasoning,
		FilingID:     filingID,
	}
}

// findMention locates text in sentence, falling back to a case-insensitive
// match when the folded forms keep their byte offsets.
func findMention(sentence, text string) (int, int, bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return 0, 0, false
	}
	if i := strings.Index(sentence, text); i >= 0 {
		return i, i + len(text), true
	}
	ls, lt := strings.ToLower(sentence), strings.ToLower(text)
	if len(ls) != len(sentence) || len(lt) != len(text) {
		return 0, 0, false
	}
	if i := strings.Index(ls, lt); i >= 0 {
		return i, i + len(text), true
	}
	return 0, 0, false
}
