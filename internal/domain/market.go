package domain

import (
	"time"
)

// Regime is a discrete market-condition label used to select and adapt
// strategy parameters.
type Regime string

const (
	RegimeTrendingUp   Regime = "trending_up"
	RegimeTrendingDown Regime = "trending_down"
	RegimeRanging      Regime = "ranging"
	RegimeHighVol      Regime = "high_volatility"
	RegimeLowVol       Regime = "low_volatility"
	RegimeBreakout     Regime = "breakout"
	RegimeReversal     Regime = "reversal"
	RegimeUnknown      Regime = "unknown"
)

// PriceSample is one observation in the rolling market window.
type PriceSample struct {
	Price     float64   `json:"price"`
	Volume    float64   `json:"volume"`
	Timestamp time.Time `json:"timestamp"`
}

// MarketSnapshot is the synchronous read the policy engine works from: the
// rolling window plus the current top-of-book view supplied by the market
// data collaborator.
type MarketSnapshot struct {
	Symbol    string        `json:"symbol"`
	Window    []PriceSample `json:"window"`
	LastPrice float64       `json:"last_price"`
	Bid       float64       `json:"bid"`
	Ask       float64       `json:"ask"`
	Timestamp time.Time     `json:"timestamp"`
}

// Exposure is the orchestrator-owned view of current risk usage for one
// symbol, passed into the gate by value so the gate stays pure.
type Exposure struct {
	Symbol        string  `json:"symbol"`
	PositionSize  float64 `json:"position_size"`
	OpenPositions int     `json:"open_positions"` // total across all symbols
	DailyLoss     float64 `json:"daily_loss"`     // realized + unrealized, positive = loss
}
