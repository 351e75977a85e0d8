package domain

import (
	"time"
)

// Direction is the actionable side of a decision.
type Direction string

const (
	Buy  Direction = "buy"
	Sell Direction = "sell"
	Hold Direction = "hold"
)

// Opposes reports whether two directions directly disagree (buy vs sell).
// Hold never opposes anything.
func (d Direction) Opposes(other Direction) bool {
	return (d == Buy && other == Sell) || (d == Sell && other == Buy)
}

// SourceWeights records how much each signal source contributed to the fused
// confidence. The weights always sum to 1.0; on advisory fallback the rule
// weight renormalizes to 1.0 and the advisory weight drops to 0.
type SourceWeights struct {
	Rule     float64 `json:"rule"`
	Advisory float64 `json:"advisory"`
}

// Decision is the policy engine's output for one symbol. Immutable once
// produced; every decision, allowed or not, is appended to the audit log.
type Decision struct {
	Symbol        string        `json:"symbol"`
	Direction     Direction     `json:"direction"`
	Confidence    float64       `json:"confidence"`
	Size          float64       `json:"size"`
	SourceWeights SourceWeights `json:"source_weights"`
	SafetyVerdict string        `json:"safety_verdict"`
	CreatedAt     time.Time     `json:"created_at"`
}
