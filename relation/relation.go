// Package relation defines the closed set of business relationship types and
// the edge-kind labels under which they are stored.
//
// Every relationship type has two representations: an internal Tag used by
// extraction and decision logic, and external Labels used for storage and
// threshold lookup. They are distinct named types so one cannot be passed
// where the other is expected. Type.Label and Type.CandidateLabel are the only
// conversions from a type to a label, and ParseLabel is the only inverse.
package relation

import "fmt"

// Type is a business relationship type.
type Type int

const (
	Competitor Type = iota + 1
	Customer
	Supplier
	Partner
)

// Tag is the internal semantic name of a relationship type.
type Tag string

// Label is an external edge-kind label, e.g. "HAS_COMPETITOR".
type Label string

// Confidence is the calibrated certainty of a relationship.
type Confidence int

const (
	Low Confidence = iota
	Medium
	High
)

type variant struct {
	tag       Tag
	name      string
	fact      Label
	candidate Label
}

var variants = map[Type]variant{
	Competitor: {tag: "competitor", name: "COMPETITOR", fact: "HAS_COMPETITOR", candidate: "CANDIDATE_COMPETITOR"},
	Customer:   {tag: "customer", name: "CUSTOMER", fact: "HAS_CUSTOMER", candidate: "CANDIDATE_CUSTOMER"},
	Supplier:   {tag: "supplier", name: "SUPPLIER", fact: "HAS_SUPPLIER", candidate: "CANDIDATE_SUPPLIER"},
	Partner:    {tag: "partner", name: "PARTNER", fact: "HAS_PARTNER", candidate: "CANDIDATE_PARTNER"},
}

// All returns every relationship type in declaration order.
func All() []Type {
	return []Type{Competitor, Customer, Supplier, Partner}
}

// Valid reports whether t is one of the declared types.
func (t Type) Valid() bool {
	_, ok := variants[t]
	return ok
}

// Tag returns the internal semantic tag.
func (t Type) Tag() Tag { return variants[t].tag }

// Label returns the fact edge label. Threshold lookups are keyed by it.
func (t Type) Label() Label { return variants[t].fact }

// CandidateLabel returns the label used for medium-confidence edges.
func (t Type) CandidateLabel() Label { return variants[t].candidate }

func (t Type) String() string {
	if v, ok := variants[t]; ok {
		return v.name
	}
	return fmt.Sprintf("Type(%d)", int(t))
}

// EdgeLabel returns the label under which an edge of confidence c is stored.
// Low confidence edges are never stored, so ok is false for Low.
func (t Type) EdgeLabel(c Confidence) (Label, bool) {
	if !t.Valid() {
		return "", false
	}
	switch c {
	case High:
		return t.Label(), true
	case Medium:
		return t.CandidateLabel(), true
	default:
		return "", false
	}
}

// ParseLabel maps a stored label back to its type and the confidence it
// encodes (High for fact labels, Medium for candidate labels).
func ParseLabel(l Label) (Type, Confidence, error) {
	for _, t := range All() {
		switch l {
		case t.Label():
			return t, High, nil
		case t.CandidateLabel():
			return t, Medium, nil
		}
	}
	return 0, Low, fmt.Errorf("unknown edge label %q", string(l))
}

// ParseType accepts a type name ("SUPPLIER"), a tag ("supplier") or either
// label and returns the relationship type.
func ParseType(s string) (Type, error) {
	for _, t := range All() {
		v := variants[t]
		if s == v.name || s == string(v.tag) {
			return t, nil
		}
	}
	t, _, err := ParseLabel(Label(s))
	if err != nil {
		return 0, fmt.Errorf("unknown relationship type %q", s)
	}
	return t, nil
}

func (c Confidence) String() string {
	switch c {
	case High:
		return "HIGH"
	case Medium:
		return "MEDIUM"
	default:
		return "LOW"
	}
}

// ParseConfidence parses "HIGH", "MEDIUM" or "LOW".
func ParseConfidence(s string) (Confidence, error) {
	switch s {
	case "HIGH":
		return High, nil
	case "MEDIUM":
		return Medium, nil
	case "LOW":
		return Low, nil
	}
	return Low, fmt.Errorf("unknown confidence tier %q", s)
}

// MarshalText encodes a type by name so JSON output reads "SUPPLIER".
func (t Type) MarshalText() ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("invalid relationship type %d", int(t))
	}
	return []byte(t.String()), nil
}

func (t *Type) UnmarshalText(b []byte) error {
	v, err := ParseType(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

func (c Confidence) MarshalText() ([]byte, error) { return []byte(c.String()), nil }

func (c *Confidence) UnmarshalText(b []byte) error {
	v, err := ParseConfidence(string(b))
	if err != nil {
		return err
	}
	*c = v
	return nil
}
