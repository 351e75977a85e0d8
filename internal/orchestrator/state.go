package orchestrator

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"tradekernel/internal/catalyst"
	"tradekernel/internal/domain"
	"tradekernel/internal/policy"
	"tradekernel/internal/store"
)

// State is the shared trading state the orchestrator owns: open positions,
// the running daily loss, and manually registered suspensions. Calendar
// suspensions are merged in at read time. Workers take one exclusive section
// per symbol, so two decisions for the same symbol cannot both size against a
// stale exposure snapshot while decisions for different symbols run in
// parallel.
type State struct {
	limits   *store.LimitsRecord
	calendar *catalyst.Calendar

	mu          sync.Mutex
	symbolLocks map[string]*sync.Mutex
	positions   map[string]float64
	manual      []domain.SafetySuspension
	dailyLoss   float64
	lossDay     string
}

// NewState creates the shared state. calendar may be nil when no event feed
// is wired.
func NewState(limits *store.LimitsRecord, calendar *catalyst.Calendar) *State {
	return &State{
		limits:      limits,
		calendar:    calendar,
		symbolLocks: make(map[string]*sync.Mutex),
		positions:   make(map[string]float64),
	}
}

// LockSymbol enters the symbol's exclusive section and returns the matching
// unlock. The section spans gate-input read through exposure apply for one
// decision task.
func (s *State) LockSymbol(symbol string) func() {
	s.mu.Lock()
	lock, ok := s.symbolLocks[symbol]
	if !ok {
		lock = &sync.Mutex{}
		s.symbolLocks[symbol] = lock
	}
	s.mu.Unlock()

	lock.Lock()
	return lock.Unlock
}

// GateInputs assembles the safety-gate view for one symbol at now: its
// exposure, every suspension in force, and the current limits.
func (s *State) GateInputs(symbol string, now time.Time) policy.GateInputs {
	s.mu.Lock()
	s.rollDayLocked(now)

	open := 0
	for _, size := range s.positions {
		if size > 0 {
			open++
		}
	}
	exposure := domain.Exposure{
		Symbol:        symbol,
		PositionSize:  s.positions[symbol],
		OpenPositions: open,
		DailyLoss:     s.dailyLoss,
	}
	suspensions := s.activeManualLocked(now)
	s.mu.Unlock()

	if s.calendar != nil {
		suspensions = append(suspensions, s.calendar.ActiveSuspensions(now)...)
	}
	return policy.GateInputs{
		Exposure:    exposure,
		Suspensions: suspensions,
		Limits:      s.limits.Get(),
	}
}

// ApplyDecision folds an allowed decision into the exposure table. Holds and
// zero sizes change nothing; sells never take a position below zero.
func (s *State) ApplyDecision(d domain.Decision) {
	if d.Size <= 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch d.Direction {
	case domain.Buy:
		s.positions[d.Symbol] += d.Size
	case domain.Sell:
		next := s.positions[d.Symbol] - d.Size
		if next <= 0 {
			delete(s.positions, d.Symbol)
		} else {
			s.positions[d.Symbol] = next
		}
	}
}

// RecordOutcome folds a closed trade's PnL into the daily loss figure. The
// counter resets at the UTC day boundary; gains do not pay back prior losses.
func (s *State) RecordOutcome(pnl float64, now time.Time) {
	if pnl >= 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.rollDayLocked(now)
	s.dailyLoss += -pnl
}

// SetPosition reconciles one symbol's exposure from an external source of
// truth. Administrative path only.
func (s *State) SetPosition(symbol string, size float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if size <= 0 {
		delete(s.positions, symbol)
		return
	}
	s.positions[symbol] = size
}

// Positions returns a copy of the exposure table.
func (s *State) Positions() map[string]float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]float64, len(s.positions))
	for symbol, size := range s.positions {
		out[symbol] = size
	}
	return out
}

// Suspend registers a manual suspension alongside whatever the calendar
// derives. Overlaps are fine; the gate combines to the most restrictive
// action.
func (s *State) Suspend(susp domain.SafetySuspension) error {
	if susp.RuleName == "" {
		return fmt.Errorf("%w: suspension rule name is required", domain.ErrValidation)
	}
	if !susp.ExpiresAt.After(susp.ActivatedAt) {
		return fmt.Errorf("%w: suspension expiry must follow activation", domain.ErrValidation)
	}
	switch susp.Action {
	case domain.ActionHaltAll, domain.ActionBlockNew, domain.ActionReduceSize:
	default:
		return fmt.Errorf("%w: unknown suspension action %q", domain.ErrValidation, susp.Action)
	}

	s.mu.Lock()
	s.manual = append(s.manual, susp)
	s.mu.Unlock()

	log.Warn().
		Str("rule", susp.RuleName).
		Str("action", string(susp.Action)).
		Time("expires_at", susp.ExpiresAt).
		Msg("Safety suspension registered")
	return nil
}

// ActiveSuspensions lists every suspension in force at now, manual and
// calendar-derived.
func (s *State) ActiveSuspensions(now time.Time) []domain.SafetySuspension {
	s.mu.Lock()
	out := s.activeManualLocked(now)
	s.mu.Unlock()

	if s.calendar != nil {
		out = append(out, s.calendar.ActiveSuspensions(now)...)
	}
	return out
}

// DailyLoss reports today's accumulated loss.
func (s *State) DailyLoss(now time.Time) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rollDayLocked(now)
	return s.dailyLoss
}

// activeManualLocked also compacts away expired entries so the slice cannot
// grow without bound.
func (s *State) activeManualLocked(now time.Time) []domain.SafetySuspension {
	kept := s.manual[:0]
	var active []domain.SafetySuspension
	for _, susp := range s.manual {
		if now.After(susp.ExpiresAt) {
			continue
		}
		kept = append(kept, susp)
		if susp.ActiveAt(now) {
			active = append(active, susp)
		}
	}
	s.manual = kept
	return active
}

func (s *State) rollDayLocked(now time.Time) {
	day := now.UTC().Format("2006-01-02")
	if day != s.lossDay {
		if s.lossDay != "" && s.dailyLoss > 0 {
			log.Info().Float64("daily_loss", s.dailyLoss).Str("day", s.lossDay).Msg("Daily loss counter reset")
		}
		s.lossDay = day
		s.dailyLoss = 0
	}
}
