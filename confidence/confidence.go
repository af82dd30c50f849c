// Package confidence classifies relationship similarity scores into
// confidence tiers using per-relationship-type thresholds.
package confidence

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/brunobiangulo/relgraph/relation"
)

// ErrInvalidThresholds is returned when a threshold policy is incomplete or
// inconsistent.
var ErrInvalidThresholds = errors.New("confidence: invalid thresholds")

// ErrUnknownType is returned when classifying a type the policy does not
// cover.
var ErrUnknownType = errors.New("confidence: unknown relationship type")

// Thresholds configures one relationship type.
type Thresholds struct {
	High         float64 `json:"high_threshold" yaml:"high_threshold" mapstructure:"high_threshold"`
	Medium       float64 `json:"medium_threshold" yaml:"medium_threshold" mapstructure:"medium_threshold"`
	RequireTier4 bool    `json:"require_tier4" yaml:"require_tier4" mapstructure:"require_tier4"`
}

// Policy holds validated thresholds keyed by fact edge label.
type Policy struct {
	byLabel map[relation.Label]Thresholds
}

// DefaultThresholds returns the production defaults. Competitor mentions are
// noisier in filings, so their bands sit lower; supplier and customer errors
// are costlier and go through LLM verification.
func DefaultThresholds() map[relation.Label]Thresholds {
	return map[relation.Label]Thresholds{
		relation.Competitor.Label(): {High: 0.35, Medium: 0.25},
		relation.Customer.Label():   {High: 0.55, Medium: 0.30, RequireTier4: true},
		relation.Supplier.Label():   {High: 0.55, Medium: 0.30, RequireTier4: true},
		relation.Partner.Label():    {High: 0.55, Medium: 0.30},
	}
}

// NewPolicy validates thresholds and returns a Policy. Every relationship type
// must be configured under its fact label, and 0 <= medium < high must hold.
func NewPolicy(thresholds map[relation.Label]Thresholds) (*Policy, error) {
	var problems []string
	for label := range thresholds {
		if _, conf, err := relation.ParseLabel(label); err != nil || conf != relation.High {
			problems = append(problems, fmt.Sprintf("%q is not a fact edge label", string(label)))
		}
	}
	for _, typ := range relation.All() {
		th, ok := thresholds[typ.Label()]
		if !ok {
			problems = append(problems, fmt.Sprintf("%s: not configured", typ.Label()))
			continue
		}
		if math.IsNaN(th.High) || math.IsNaN(th.Medium) {
			problems = append(problems, fmt.Sprintf("%s: threshold is NaN", typ.Label()))
			continue
		}
		if th.Medium < 0 {
			problems = append(problems, fmt.Sprintf("%s: medium_threshold %.3f is negative", typ.Label(), th.Medium))
		}
		if th.Medium >= th.High {
			problems = append(problems, fmt.Sprintf("%s: medium_threshold %.3f must be below high_threshold %.3f", typ.Label(), th.Medium, th.High))
		}
	}
	if len(problems) > 0 {
		sort.Strings(problems)
		return nil, fmt.Errorf("%w: %v", ErrInvalidThresholds, problems)
	}

	byLabel := make(map[relation.Label]Thresholds, len(thresholds))
	for k, v := range thresholds {
		byLabel[k] = v
	}
	return &Policy{byLabel: byLabel}, nil
}

// Thresholds returns the configuration for typ. Lookups go through the
// type so only its fact label can reach the table.
func (p *Policy) Thresholds(typ relation.Type) (Thresholds, bool) {
	if !typ.Valid() {
		return Thresholds{}, false
	}
	th, ok := p.byLabel[typ.Label()]
	return th, ok
}

// RequiresTier4 reports whether typ is configured for LLM verification.
func (p *Policy) RequiresTier4(typ relation.Type) bool {
	th, _ := p.Thresholds(typ)
	return th.RequireTier4
}

// Classify maps a similarity score to a confidence tier. A nil score or a
// score below the medium threshold classify Low. A type without thresholds
// is an error, never Low.
func (p *Policy) Classify(typ relation.Type, similarity *float64) (relation.Confidence, error) {
	th, ok := p.Thresholds(typ)
	if !ok {
		return relation.Low, fmt.Errorf("%w: %d", ErrUnknownType, int(typ))
	}
	if similarity == nil || math.IsNaN(*similarity) {
		return relation.Low, nil
	}
	switch s := *similarity; {
	case s >= th.High:
		return relation.High, nil
	case s >= th.Medium:
		return relation.Medium, nil
	default:
		return relation.Low, nil
	}
}

// Score is a convenience for building the optional similarity argument.
func Score(v float64) *float64 { return &v }
