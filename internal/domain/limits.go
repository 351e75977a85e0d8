package domain

import (
	"fmt"
	"time"
)

// RiskLimits are the hard caps the safety gate enforces. Read-only at
// decision time; mutated only through the validated administrative path.
type RiskLimits struct {
	MaxPositionSize        float64 `json:"max_position_size" yaml:"max_position_size"`
	MaxDailyLoss           float64 `json:"max_daily_loss" yaml:"max_daily_loss"`
	MaxLeverage            float64 `json:"max_leverage" yaml:"max_leverage"`
	MaxConcurrentPositions int     `json:"max_concurrent_positions" yaml:"max_concurrent_positions"`
}

// Validate rejects limit sets that would disable the gate entirely.
func (l RiskLimits) Validate() error {
	if l.MaxPositionSize <= 0 {
		return fmt.Errorf("max_position_size must be positive, got %v", l.MaxPositionSize)
	}
	if l.MaxDailyLoss <= 0 {
		return fmt.Errorf("max_daily_loss must be positive, got %v", l.MaxDailyLoss)
	}
	if l.MaxLeverage <= 0 {
		return fmt.Errorf("max_leverage must be positive, got %v", l.MaxLeverage)
	}
	if l.MaxConcurrentPositions <= 0 {
		return fmt.Errorf("max_concurrent_positions must be positive, got %d", l.MaxConcurrentPositions)
	}
	return nil
}

// SuspensionAction is what an active safety suspension does to new decisions,
// ordered from least to most restrictive.
type SuspensionAction string

const (
	ActionReduceSize SuspensionAction = "reduce_size"
	ActionBlockNew   SuspensionAction = "block_new"
	ActionHaltAll    SuspensionAction = "halt_all"
)

// restrictiveness ranks actions so overlapping suspensions combine by taking
// the most restrictive one.
func (a SuspensionAction) restrictiveness() int {
	switch a {
	case ActionHaltAll:
		return 3
	case ActionBlockNew:
		return 2
	case ActionReduceSize:
		return 1
	}
	return 0
}

// MoreRestrictiveThan reports whether a dominates other when suspensions are
// combined.
func (a SuspensionAction) MoreRestrictiveThan(other SuspensionAction) bool {
	return a.restrictiveness() > other.restrictiveness()
}

// SafetySuspension is a time-bounded trading restriction, typically created
// from a high-impact calendar event. It auto-expires at ExpiresAt.
type SafetySuspension struct {
	RuleName        string           `json:"rule_name"`
	TriggeringEvent string           `json:"triggering_event"`
	Action          SuspensionAction `json:"action"`
	ActivatedAt     time.Time        `json:"activated_at"`
	ExpiresAt       time.Time        `json:"expires_at"`
}

// ActiveAt reports whether the suspension is in force at the given instant.
// A suspension whose expiry has passed is inactive even if still registered.
func (s SafetySuspension) ActiveAt(now time.Time) bool {
	return !now.Before(s.ActivatedAt) && now.Before(s.ExpiresAt)
}

// MostRestrictive returns the dominating action among the suspensions active
// at now, and whether any suspension is active at all.
func MostRestrictive(suspensions []SafetySuspension, now time.Time) (SuspensionAction, bool) {
	var best SuspensionAction
	found := false
	for _, s := range suspensions {
		if !s.ActiveAt(now) {
			continue
		}
		if !found || s.Action.MoreRestrictiveThan(best) {
			best = s.Action
			found = true
		}
	}
	return best, found
}
