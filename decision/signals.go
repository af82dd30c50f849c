package decision

import "math"

// Verification is the Tier 4 verifier outcome.
type Verification struct {
	Verified    bool    `json:"verified"`
	Confidence  float64 `json:"confidence"`
	Explanation string  `json:"explanation,omitempty"`
}

// Signals is the evidence gathered for one candidate while tiers run. Fields
// are write-once: a setter returns false and leaves the bundle unchanged when
// the field is already present or the value is out of range.
//
// A Signals value is not safe for concurrent use; each candidate owns one.
type Signals struct {
	similarity   *float64
	verification *Verification
	lexical      *float64
}

// SetSimilarity records the embedding similarity, which must lie in [-1, 1].
func (s *Signals) SetSimilarity(v float64) bool {
	if s.similarity != nil || math.IsNaN(v) || v < -1 || v > 1 {
		return false
	}
	s.similarity = &v
	return true
}

// Similarity returns the embedding similarity if present.
func (s *Signals) Similarity() (float64, bool) {
	if s.similarity == nil {
		return 0, false
	}
	return *s.similarity, true
}

// similarityRef returns a copy of the similarity for the classifier, or nil.
func (s *Signals) similarityRef() *float64 {
	if s.similarity == nil {
		return nil
	}
	v := *s.similarity
	return &v
}

// SetVerification records the verifier outcome. Confidence must lie in
// [0, 1].
func (s *Signals) SetVerification(v Verification) bool {
	if s.verification != nil || math.IsNaN(v.Confidence) || v.Confidence < 0 || v.Confidence > 1 {
		return false
	}
	s.verification = &v
	return true
}

// Verification returns the verifier outcome if present.
func (s *Signals) Verification() (Verification, bool) {
	if s.verification == nil {
		return Verification{}, false
	}
	return *s.verification, true
}

// SetLexical records the lexical match quality in [0, 1].
func (s *Signals) SetLexical(q float64) bool {
	if s.lexical != nil || math.IsNaN(q) || q < 0 || q > 1 {
		return false
	}
	s.lexical = &q
	return true
}

// Lexical returns the lexical match quality, 0 when unknown.
func (s *Signals) Lexical() float64 {
	if s.lexical == nil {
		return 0
	}
	return *s.lexical
}
