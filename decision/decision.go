// Package decision implements the cost-ordered tiered decision engine that
// accepts or rejects a resolved relationship candidate.
//
// Tiers run cheapest first: heuristic rules, sentence patterns, embedding
// similarity, and LLM verification. Each tier either reaches a terminal
// verdict or escalates to the next. A candidate that escalates past every
// enabled tier is rejected.
package decision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/brunobiangulo/relgraph/confidence"
	"github.com/brunobiangulo/relgraph/extract"
	"github.com/brunobiangulo/relgraph/relation"
	"github.com/brunobiangulo/relgraph/resolve"
)

var (
	// ErrNoPolicy is returned by New without a threshold policy.
	ErrNoPolicy = errors.New("decision: threshold policy required")

	// ErrPermanent marks a verifier error that retrying cannot fix.
	ErrPermanent = errors.New("decision: permanent verifier failure")
)

// Verdict is a tier outcome.
type Verdict int

const (
	Escalate Verdict = iota
	Accept
	Reject
)

func (v Verdict) String() string {
	switch v {
	case Accept:
		return "ACCEPT"
	case Reject:
		return "REJECT"
	default:
		return "ESCALATE"
	}
}

func (v Verdict) MarshalText() ([]byte, error) { return []byte(v.String()), nil }

// Decision is the outcome of one tier, or of the engine as a whole.
type Decision struct {
	Tier      int     `json:"tier"`
	Verdict   Verdict `json:"verdict"`
	Reasoning string  `json:"reasoning"`
}

// Terminal reports whether the decision ends evaluation.
func (d Decision) Terminal() bool {
	return d.Verdict == Accept || d.Verdict == Reject
}

// Input is everything the engine knows about a candidate.
type Input struct {
	Candidate extract.Candidate
	// Resolved is nil when the mention did not resolve.
	Resolved *resolve.Resolved
	Type     relation.Type
	// SourceName is the filing company, used in the verifier prompt.
	SourceName string
	// Signals is extended in place as tiers run. May be nil.
	Signals *Signals
}

// Scorer computes the embedding similarity between a sentence and an
// entity's business description.
type Scorer interface {
	Score(ctx context.Context, sentence, entityID string) (float64, error)
}

// Request is what the Tier 4 verifier is asked to confirm.
type Request struct {
	Mention    string
	Sentence   string
	Type       relation.Type
	SourceName string
	EntityName string
}

// Verifier confirms a relationship from its sentence context.
type Verifier interface {
	Verify(ctx context.Context, req Request) (Verification, error)
}

// Config controls which tiers run and how Tier 4 calls are paced.
type Config struct {
	Tier1 bool `json:"tier1" yaml:"tier1" mapstructure:"tier1"`
	Tier2 bool `json:"tier2" yaml:"tier2" mapstructure:"tier2"`
	Tier3 bool `json:"tier3" yaml:"tier3" mapstructure:"tier3"`
	Tier4 bool `json:"tier4" yaml:"tier4" mapstructure:"tier4"`

	// Verifier pacing.
	VerifierRPS     float64       `json:"verifier_rps" yaml:"verifier_rps" mapstructure:"verifier_rps"`
	VerifierBurst   int           `json:"verifier_burst" yaml:"verifier_burst" mapstructure:"verifier_burst"`
	VerifierTimeout time.Duration `json:"verifier_timeout" yaml:"verifier_timeout" mapstructure:"verifier_timeout"`
	VerifierRetries int           `json:"verifier_retries" yaml:"verifier_retries" mapstructure:"verifier_retries"`
	RetryBaseDelay  time.Duration `json:"retry_base_delay" yaml:"retry_base_delay" mapstructure:"retry_base_delay"`

	GenericWords []string `json:"generic_words" yaml:"generic_words" mapstructure:"generic_words"`
	ShortNames   []string `json:"short_names" yaml:"short_names" mapstructure:"short_names"`
}

// DefaultConfig enables every tier.
func DefaultConfig() Config {
	return Config{
		Tier1:           true,
		Tier2:           true,
		Tier3:           true,
		Tier4:           true,
		VerifierRPS:     2,
		VerifierBurst:   4,
		VerifierTimeout: 30 * time.Second,
		VerifierRetries: 3,
		RetryBaseDelay:  time.Second,
		GenericWords:    DefaultGenericWords(),
		ShortNames:      DefaultShortNames(),
	}
}

// Option configures an Engine.
type Option func(*Engine)

// WithScorer lets Tier 3 compute a missing similarity signal.
func WithScorer(s Scorer) Option {
	return func(e *Engine) { e.scorer = s }
}

// WithVerifier sets the Tier 4 verifier.
func WithVerifier(v Verifier) Option {
	return func(e *Engine) { e.verifier = v }
}

// WithMetrics shares a Metrics value across engines.
func WithMetrics(m *Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// Engine is safe for concurrent use.
type Engine struct {
	cfg      Config
	policy   *confidence.Policy
	scorer   Scorer
	verifier Verifier
	limiter  *rate.Limiter
	metrics  *Metrics
	generic  map[string]bool
	short    map[string]bool
}

// New creates an Engine over a validated threshold policy.
func New(cfg Config, policy *confidence.Policy, opts ...Option) (*Engine, error) {
	if policy == nil {
		return nil, ErrNoPolicy
	}
	def := DefaultConfig()
	if cfg.VerifierTimeout <= 0 {
		cfg.VerifierTimeout = def.VerifierTimeout
	}
	if cfg.VerifierRetries < 0 {
		cfg.VerifierRetries = 0
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = def.RetryBaseDelay
	}
	if cfg.GenericWords == nil {
		cfg.GenericWords = def.GenericWords
	}
	if cfg.ShortNames == nil {
		cfg.ShortNames = def.ShortNames
	}

	limit := rate.Inf
	if cfg.VerifierRPS > 0 {
		limit = rate.Limit(cfg.VerifierRPS)
	}
	burst := cfg.VerifierBurst
	if burst <= 0 {
		burst = 1
	}

	e := &Engine{
		cfg:     cfg,
		policy:  policy,
		limiter: rate.NewLimiter(limit, burst),
		generic: lowerSet(cfg.GenericWords),
		short:   lowerSet(cfg.ShortNames),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.metrics == nil {
		e.metrics = &Metrics{}
	}
	return e, nil
}

func lowerSet(words []string) map[string]bool {
	m := make(map[string]bool, len(words))
	for _, w := range words {
		m[strings.ToLower(strings.TrimSpace(w))] = true
	}
	return m
}

// Metrics returns the engine's counters.
func (e *Engine) Metrics() *Metrics { return e.metrics }

// Decide runs the enabled tiers in order and always returns a terminal
// decision.
func (e *Engine) Decide(ctx context.Context, in Input) Decision {
	if in.Signals == nil {
		in.Signals = &Signals{}
	}
	if in.Resolved != nil {
		in.Signals.SetLexical(in.Resolved.Similarity)
	}

	tiers := []struct {
		enabled bool
		run     func(context.Context, Input) Decision
	}{
		{e.cfg.Tier1, e.tier1},
		{e.cfg.Tier2, e.tier2},
		{e.cfg.Tier3, e.tier3},
		{e.cfg.Tier4, e.tier4},
	}

	last := Decision{Tier: 1, Verdict: Escalate, Reasoning: "all tiers disabled"}
	for _, t := range tiers {
		if !t.enabled {
			continue
		}
		d := t.run(ctx, in)
		if d.Terminal() {
			e.metrics.record(d, false)
			slog.Debug("decision: terminal",
				"mention", in.Candidate.Mention, "type", in.Type.String(),
				"tier", d.Tier, "verdict", d.Verdict.String(), "reasoning", d.Reasoning)
			return d
		}
		last = d
	}

	d := Decision{
		Tier:      last.Tier,
		Verdict:   Reject,
		Reasoning: "no tier reached a terminal decision (last: " + last.Reasoning + ")",
	}
	e.metrics.record(d, true)
	return d
}

func escalate(tier int, format string, args ...any) Decision {
	return Decision{Tier: tier, Verdict: Escalate, Reasoning: fmt.Sprintf(format, args...)}
}

func reject(tier int, format string, args ...any) Decision {
	return Decision{Tier: tier, Verdict: Reject, Reasoning: fmt.Sprintf(format, args...)}
}

func accept(tier int, format string, args ...any) Decision {
	return Decision{Tier: tier, Verdict: Accept, Reasoning: fmt.Sprintf(format, args...)}
}

// tier1 applies the free heuristics. A resolved entity bypasses them: the
// resolver already matched the mention against the registry.
func (e *Engine) tier1(_ context.Context, in Input) Decision {
	mention := strings.ToLower(strings.TrimSpace(in.Candidate.Mention))
	if mention == "" {
		return reject(1, "empty mention")
	}
	if in.Resolved != nil {
		return escalate(1, "resolved to %s via %s; blocklist bypassed", in.Resolved.Name, in.Resolved.Method)
	}

	sentence := in.Candidate.Sentence
	if e.generic[mention] {
		if inCompanyList(sentence, mention) {
			return escalate(1, "generic word %q appears in a company list", mention)
		}
		return reject(1, "generic word %q outside a company list", mention)
	}
	if len(mention) <= 2 {
		if e.short[mention] || inCompanyList(sentence, mention) {
			return escalate(1, "short mention %q allowed", mention)
		}
		return reject(1, "mention %q too short", mention)
	}
	return escalate(1, "no rule matched")
}

// tier2 rejects sentences whose wording rules out a current business
// relationship.
func (e *Engine) tier2(_ context.Context, in Input) Decision {
	for _, f := range sentenceFilters {
		if m, ok := f.match(in.Candidate.Sentence); ok {
			return reject(2, "%s: %q", f.name, m)
		}
	}
	return escalate(2, "no negative pattern")
}

// tier3 classifies the embedding similarity against the type's thresholds.
func (e *Engine) tier3(ctx context.Context, in Input) Decision {
	if _, ok := in.Signals.Similarity(); !ok && e.scorer != nil && in.Resolved != nil {
		e.metrics.tier3Calls.Add(1)
		sim, err := e.scorer.Score(ctx, in.Candidate.Sentence, in.Resolved.EntityID)
		if err != nil {
			slog.Warn("decision: embedding similarity unavailable",
				"mention", in.Candidate.Mention, "entity", in.Resolved.EntityID, "error", err)
		} else {
			in.Signals.SetSimilarity(sim)
		}
	}

	sim, ok := in.Signals.Similarity()
	if !ok {
		e.metrics.escalatedWithoutSignal.Add(1)
		return escalate(3, "no embedding similarity")
	}

	label := in.Type.Label()
	conf, err := e.policy.Classify(in.Type, in.Signals.similarityRef())
	if err != nil {
		return reject(3, "no thresholds for %s: %v", label, err)
	}
	switch conf {
	case relation.High:
		return accept(3, "similarity %.3f at or above %s high threshold", sim, label)
	case relation.Medium:
		return escalate(3, "similarity %.3f in %s ambiguous band", sim, label)
	default:
		return reject(3, "similarity %.3f below %s medium threshold", sim, label)
	}
}

// tier4 asks the verifier, for types that require it.
func (e *Engine) tier4(ctx context.Context, in Input) Decision {
	label := in.Type.Label()
	if !e.policy.RequiresTier4(in.Type) {
		return escalate(4, "verification not required for %s", label)
	}
	if e.verifier == nil {
		return escalate(4, "no verifier configured")
	}

	req := Request{
		Mention:    in.Candidate.Mention,
		Sentence:   in.Candidate.Sentence,
		Type:       in.Type,
		SourceName: in.SourceName,
	}
	if in.Resolved != nil {
		req.EntityName = in.Resolved.Name
	}

	v, err := e.verify(ctx, req)
	if err != nil {
		e.metrics.tier4Failures.Add(1)
		slog.Warn("decision: verification failed", "mention", in.Candidate.Mention, "type", label, "error", err)
		return reject(4, "verification failed: %v", err)
	}
	in.Signals.SetVerification(v)
	if v.Verified {
		return accept(4, "verified (confidence %.2f): %s", v.Confidence, v.Explanation)
	}
	return reject(4, "not verified (confidence %.2f): %s", v.Confidence, v.Explanation)
}

// verify calls the verifier with pacing, a per-attempt timeout and bounded
// exponential backoff.
func (e *Engine) verify(ctx context.Context, req Request) (Verification, error) {
	var lastErr error
	attempts := 0
	for attempt := 0; attempt <= e.cfg.VerifierRetries; attempt++ {
		if attempt > 0 {
			delay := e.cfg.RetryBaseDelay * time.Duration(1<<(attempt-1))
			slog.Warn("decision: retrying verification", "attempt", attempt+1, "delay", delay, "error", lastErr)
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return Verification{}, ctx.Err()
			case <-timer.C:
			}
		}
		if err := e.limiter.Wait(ctx); err != nil {
			return Verification{}, err
		}

		attempts++
		e.metrics.tier4Calls.Add(1)
		actx, cancel := context.WithTimeout(ctx, e.cfg.VerifierTimeout)
		v, err := e.verifier.Verify(actx, req)
		cancel()
		if err == nil {
			return v, nil
		}
		lastErr = err
		if errors.Is(err, ErrPermanent) || ctx.Err() != nil {
			break
		}
	}
	return Verification{}, fmt.Errorf("after %d attempts: %w", attempts, lastErr)
}
