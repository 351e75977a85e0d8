// Package perf records executed-trade outcomes per strategy and computes the
// rolling statistics the risk gate and adaptive manager consume.
package perf

import (
	"sync"

	"github.com/rs/zerolog/log"

	"tradekernel/internal/domain"
)

// Stats are the rolling figures for one strategy over its bounded window.
type Stats struct {
	Strategy    string  `json:"strategy"`
	Trades      int     `json:"trades"`
	WinRate     float64 `json:"win_rate"`
	PnL         float64 `json:"pnl"`
	MaxDrawdown float64 `json:"max_drawdown"` // positive = worst peak-to-trough fall
}

// Tracker keeps a bounded window of outcomes per strategy. Safe for
// concurrent use.
type Tracker struct {
	mu         sync.RWMutex
	windowSize int
	outcomes   map[string][]domain.TradeOutcome
}

// DefaultWindowSize bounds how many outcomes per strategy feed the rolling
// statistics.
const DefaultWindowSize = 200

// NewTracker creates a tracker. windowSize <= 0 falls back to the default.
func NewTracker(windowSize int) *Tracker {
	if windowSize <= 0 {
		windowSize = DefaultWindowSize
	}
	return &Tracker{
		windowSize: windowSize,
		outcomes:   make(map[string][]domain.TradeOutcome),
	}
}

// Record appends an outcome to the strategy's window, evicting the oldest
// entry once the window is full.
func (t *Tracker) Record(outcome domain.TradeOutcome) {
	t.mu.Lock()
	defer t.mu.Unlock()

	window := append(t.outcomes[outcome.Strategy], outcome)
	if len(window) > t.windowSize {
		window = window[len(window)-t.windowSize:]
	}
	t.outcomes[outcome.Strategy] = window

	log.Debug().
		Str("strategy", outcome.Strategy).
		Str("symbol", outcome.Symbol).
		Float64("pnl", outcome.PnL).
		Int("window", len(window)).
		Msg("Trade outcome recorded")
}

// Stats computes the rolling figures for one strategy. Unknown strategies
// return zero stats.
func (t *Tracker) Stats(strategy string) Stats {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return computeStats(strategy, t.outcomes[strategy])
}

// All returns stats for every strategy with at least one recorded outcome.
func (t *Tracker) All() []Stats {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]Stats, 0, len(t.outcomes))
	for name, window := range t.outcomes {
		out = append(out, computeStats(name, window))
	}
	return out
}

func computeStats(strategy string, window []domain.TradeOutcome) Stats {
	stats := Stats{Strategy: strategy, Trades: len(window)}
	if len(window) == 0 {
		return stats
	}

	wins := 0
	var cumulative, peak, maxDrawdown float64
	for _, o := range window {
		if o.PnL > 0 {
			wins++
		}
		stats.PnL += o.PnL

		cumulative += o.PnL
		if cumulative > peak {
			peak = cumulative
		}
		if dd := peak - cumulative; dd > maxDrawdown {
			maxDrawdown = dd
		}
	}

	stats.WinRate = float64(wins) / float64(len(window))
	stats.MaxDrawdown = maxDrawdown
	return stats
}
