package decision

import "sync/atomic"

// Estimated per-call cost in dollars of the paid tiers.
const (
	Tier3Cost = 0.001
	Tier4Cost = 0.01
)

// Metrics counts engine outcomes. It is safe for concurrent use.
type Metrics struct {
	accepted               [4]atomic.Int64
	rejected               [4]atomic.Int64
	failClosed             atomic.Int64
	escalatedWithoutSignal atomic.Int64
	tier3Calls             atomic.Int64
	tier4Calls             atomic.Int64
	tier4Failures          atomic.Int64
}

// TierCounts are the terminal decisions one tier made.
type TierCounts struct {
	Accepted int64 `json:"accepted"`
	Rejected int64 `json:"rejected"`
}

// Snapshot is a point-in-time copy of Metrics.
type Snapshot struct {
	Tiers                  [4]TierCounts `json:"tiers"`
	FailClosed             int64         `json:"fail_closed"`
	EscalatedWithoutSignal int64         `json:"escalated_without_signal"`
	Tier3Calls             int64         `json:"tier3_calls"`
	Tier4Calls             int64         `json:"tier4_calls"`
	Tier4Failures          int64         `json:"tier4_failures"`
}

// Decisions returns the total number of terminal decisions.
func (s Snapshot) Decisions() int64 {
	var n int64
	for _, t := range s.Tiers {
		n += t.Accepted + t.Rejected
	}
	return n
}

// Cost returns the estimated spend on embedding and verifier calls.
func (s Snapshot) Cost() float64 {
	return float64(s.Tier3Calls)*Tier3Cost + float64(s.Tier4Calls)*Tier4Cost
}

// CostPerDecision returns Cost divided by Decisions, or 0.
func (s Snapshot) CostPerDecision() float64 {
	n := s.Decisions()
	if n == 0 {
		return 0
	}
	return s.Cost() / float64(n)
}

func (m *Metrics) record(d Decision, failClosed bool) {
	if d.Tier < 1 || d.Tier > 4 {
		return
	}
	switch d.Verdict {
	case Accept:
		m.accepted[d.Tier-1].Add(1)
	case Reject:
		m.rejected[d.Tier-1].Add(1)
	}
	if failClosed {
		m.failClosed.Add(1)
	}
}

// Snapshot copies the current counters.
func (m *Metrics) Snapshot() Snapshot {
	var s Snapshot
	for i := range s.Tiers {
		s.Tiers[i] = TierCounts{Accepted: m.accepted[i].Load(), Rejected: m.rejected[i].Load()}
	}
	s.FailClosed = m.failClosed.Load()
	s.EscalatedWithoutSignal = m.escalatedWithoutSignal.Load()
	s.Tier3Calls = m.tier3Calls.Load()
	s.Tier4Calls = m.tier4Calls.Load()
	s.Tier4Failures = m.tier4Failures.Load()
	return s
}
