package domain

import (
	"time"
)

// AdaptationSpeed bounds how fast the adaptive manager may drift strategy
// parameters. It caps both sensitivity and the maximum nudge per tick.
type AdaptationSpeed string

const (
	SpeedOff        AdaptationSpeed = "off"
	SpeedSlow       AdaptationSpeed = "slow"
	SpeedModerate   AdaptationSpeed = "moderate"
	SpeedAggressive AdaptationSpeed = "aggressive"
)

// MaxNudge returns the largest relative parameter change allowed per tick for
// the speed setting. Zero disables adaptation entirely.
func (s AdaptationSpeed) MaxNudge() float64 {
	switch s {
	case SpeedSlow:
		return 0.05
	case SpeedModerate:
		return 0.10
	case SpeedAggressive:
		return 0.20
	}
	return 0
}

// StrategyProfile describes one tunable strategy: its parameters, which
// regime it is built for, and its rolling performance. Mutated only by the
// adaptive strategy manager; AdaptationVersion strictly increases per change.
type StrategyProfile struct {
	Name              string             `json:"name"`
	Parameters        map[string]float64 `json:"parameters"`
	RegimeAffinity    Regime             `json:"regime_affinity"`
	RollingWinRate    float64            `json:"rolling_win_rate"`
	RollingPnL        float64            `json:"rolling_pnl"`
	MaxDrawdown       float64            `json:"max_drawdown"`
	AdaptationVersion int64              `json:"adaptation_version"`
}

// Clone returns a deep copy so callers cannot mutate the stored profile
// through the shared parameter map.
func (p StrategyProfile) Clone() StrategyProfile {
	out := p
	out.Parameters = make(map[string]float64, len(p.Parameters))
	for k, v := range p.Parameters {
		out.Parameters[k] = v
	}
	return out
}

// ParameterUpdate is one bounded adaptation proposed by a Tick: the before and
// after values for a single parameter of a single strategy.
type ParameterUpdate struct {
	Strategy    string    `json:"strategy"`
	Parameter   string    `json:"parameter"`
	Before      float64   `json:"before"`
	After       float64   `json:"after"`
	Reason      string    `json:"reason"`
	FromVersion int64     `json:"from_version"`
	ToVersion   int64     `json:"to_version"`
	AppliedAt   time.Time `json:"applied_at"`
}

// TradeOutcome is an executed-trade result fed back into the performance
// tracker by learn tasks.
type TradeOutcome struct {
	Strategy  string    `json:"strategy"`
	Symbol    string    `json:"symbol"`
	PnL       float64   `json:"pnl"`
	ClosedAt  time.Time `json:"closed_at"`
}
