package store

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"tradekernel/internal/domain"
)

// LimitsRecord holds the active RiskLimits. Reads are lock-cheap copies;
// writes go through the validated administrative path only.
type LimitsRecord struct {
	mu     sync.RWMutex
	limits domain.RiskLimits
}

// NewLimitsRecord creates the record with an initial validated limit set.
func NewLimitsRecord(initial domain.RiskLimits) (*LimitsRecord, error) {
	if err := initial.Validate(); err != nil {
		return nil, fmt.Errorf("invalid initial risk limits: %w", err)
	}
	return &LimitsRecord{limits: initial}, nil
}

// Get returns the current limits by value.
func (r *LimitsRecord) Get() domain.RiskLimits {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.limits
}

// Update replaces the limits after validation. This is the administrative
// path; decision-time code never calls it.
func (r *LimitsRecord) Update(next domain.RiskLimits) error {
	if err := next.Validate(); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}

	r.mu.Lock()
	prev := r.limits
	r.limits = next
	r.mu.Unlock()

	log.Info().
		Float64("prev_max_position", prev.MaxPositionSize).
		Float64("next_max_position", next.MaxPositionSize).
		Float64("prev_max_daily_loss", prev.MaxDailyLoss).
		Float64("next_max_daily_loss", next.MaxDailyLoss).
		Int("next_max_positions", next.MaxConcurrentPositions).
		Msg("Risk limits updated")
	return nil
}
