// Package verify asks a chat model whether a sentence really states a
// business relationship. It implements decision.Verifier.
package verify

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"

	"github.com/brunobiangulo/relgraph/decision"
	"github.com/brunobiangulo/relgraph/llm"
	"github.com/brunobiangulo/relgraph/relation"
)

// ErrMalformedResponse is returned when the model's reply has no usable JSON.
var ErrMalformedResponse = errors.New("verify: malformed verifier response")

// Descriptions explain each relationship to the model, keyed by edge label.
var Descriptions = map[relation.Label]string{
	relation.Supplier.Label():   "The target company supplies goods, components or services TO the source company. The source company buys from the target.",
	relation.Customer.Label():   "The target company buys goods or services FROM the source company. The target is a customer or client of the source.",
	relation.Competitor.Label(): "The target company competes with the source company in the same market for the same customers.",
	relation.Partner.Label():    "The target company has a strategic partnership, alliance, joint venture or collaboration agreement with the source company.",
}

const systemPrompt = `You verify business relationships stated in SEC filings.
Answer only with a JSON object of the form:
{"verified": true|false, "confidence": 0.0-1.0, "explanation": "<one sentence>", "actual_relationship": "HAS_SUPPLIER|HAS_CUSTOMER|HAS_COMPETITOR|HAS_PARTNER|NONE"}
A relationship is verified only if the sentence states it as a current fact. Hypothetical, negated, historical or biographical mentions are not verified.`

// Options configures a Verifier.
type Options struct {
	Model       string  `json:"model" yaml:"model" mapstructure:"model"`
	Temperature float64 `json:"temperature" yaml:"temperature" mapstructure:"temperature"`
	MaxTokens   int     `json:"max_tokens" yaml:"max_tokens" mapstructure:"max_tokens"`
	// MinConfidence is the confidence below which a positive answer is
	// treated as unverified.
	MinConfidence float64 `json:"min_confidence" yaml:"min_confidence" mapstructure:"min_confidence"`
}

// DefaultOptions returns deterministic, short-answer settings.
func DefaultOptions() Options {
	return Options{Temperature: 0, MaxTokens: 300, MinConfidence: 0.5}
}

// response is the JSON shape the model is asked to produce.
type response struct {
	Verified           bool    `json:"verified"`
	Confidence         float64 `json:"confidence"`
	Explanation        string  `json:"explanation"`
	ActualRelationship string  `json:"actual_relationship"`
}

// Verifier is safe for concurrent use. Successful answers are cached in
// memory for the lifetime of the Verifier.
type Verifier struct {
	provider llm.Provider
	opts     Options

	mu     sync.Mutex
	cache  map[string]decision.Verification
	hits   int
	misses int
}

var _ decision.Verifier = (*Verifier)(nil)

// New creates a Verifier over a chat provider.
func New(p llm.Provider, opts Options) *Verifier {
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = DefaultOptions().MaxTokens
	}
	return &Verifier{provider: p, opts: opts, cache: make(map[string]decision.Verification)}
}

// CacheKey identifies a request; identical requests share an answer.
func CacheKey(req decision.Request) string {
	h := sha256.New()
	for _, part := range []string{req.Sentence, req.SourceName, req.EntityName, req.Mention, string(req.Type.Label())} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// CacheStats returns the cached entry count and the hit and miss counters.
func (v *Verifier) CacheStats() (entries, hits, misses int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.cache), v.hits, v.misses
}

// Verify implements decision.Verifier.
func (v *Verifier) Verify(ctx context.Context, req decision.Request) (decision.Verification, error) {
	if !req.Type.Valid() {
		return decision.Verification{}, fmt.Errorf("verify: %w: invalid relationship type %d", decision.ErrPermanent, req.Type)
	}
	key := CacheKey(req)
	v.mu.Lock()
	if cached, ok := v.cache[key]; ok {
		v.hits++
		v.mu.Unlock()
		return cached, nil
	}
	v.misses++
	v.mu.Unlock()

	resp, err := v.provider.Chat(ctx, llm.ChatRequest{
		Model: v.opts.Model,
		Messages: []llm.Message{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: Prompt(req)},
		},
		Temperature:    v.opts.Temperature,
		MaxTokens:      v.opts.MaxTokens,
		ResponseFormat: "json_object",
	})
	if err != nil {
		return decision.Verification{}, fmt.Errorf("verify: chat: %w", err)
	}

	out, err := v.parse(req, resp.Content)
	if err != nil {
		return decision.Verification{}, err
	}
	slog.Debug("verify: answered",
		"mention", req.Mention, "type", req.Type.Label(), "verified", out.Verified,
		"confidence", out.Confidence, "tokens", resp.TotalTokens)

	v.mu.Lock()
	v.cache[key] = out
	v.mu.Unlock()
	return out, nil
}

// Prompt renders the user message for req.
func Prompt(req decision.Request) string {
	label := req.Type.Label()
	source := req.SourceName
	if source == "" {
		source = "the filing company"
	}
	target := req.EntityName
	if target == "" {
		target = req.Mention
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Source company: %s\n", source)
	fmt.Fprintf(&b, "Target company: %s (mentioned as %q)\n", target, req.Mention)
	fmt.Fprintf(&b, "Claimed relationship: %s\n", label)
	fmt.Fprintf(&b, "Meaning: %s\n\n", Descriptions[label])
	fmt.Fprintf(&b, "Sentence from the source company's filing:\n%s\n", req.Sentence)
	return b.String()
}

func (v *Verifier) parse(req decision.Request, raw string) (decision.Verification, error) {
	js, err := extractJSON(raw)
	if err != nil {
		return decision.Verification{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	var r response
	if err := json.Unmarshal([]byte(js), &r); err != nil {
		return decision.Verification{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	conf := min(max(r.Confidence, 0), 1)

	verified := r.Verified && conf >= v.opts.MinConfidence
	explanation := strings.TrimSpace(r.Explanation)
	// A confirmed relationship of a different kind does not confirm this one.
	if actual := relation.Label(strings.ToUpper(strings.TrimSpace(r.ActualRelationship))); verified && actual != "" && actual != "NONE" {
		if typ, _, err := relation.ParseLabel(actual); err == nil && typ != req.Type {
			verified = false
			explanation = fmt.Sprintf("model reports %s instead: %s", actual, explanation)
		}
	}
	return decision.Verification{Verified: verified, Confidence: conf, Explanation: explanation}, nil
}

// codeBlockRe strips markdown code fences from model output.
var codeBlockRe = regexp.MustCompile("(?s)```(?:json)?\\s*\\n?(.*?)\\n?```")

// extractJSON finds the JSON object in a model reply, tolerating code fences
// and surrounding prose.
func extractJSON(raw string) (string, error) {
	if m := codeBlockRe.FindStringSubmatch(raw); len(m) > 1 {
		raw = m[1]
	}
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "{") {
		return raw, nil
	}
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start >= 0 && end > start {
		return raw[start : end+1], nil
	}
	return "", fmt.Errorf("no JSON object found in response")
}
