// Package adapt re-tunes strategy parameters at a bounded cadence, nudging
// profiles whose regime affinity or rolling performance has drifted. Nudges
// are bounded and never reset a profile, so behavior can only drift as fast
// as the configured adaptation speed allows.
package adapt

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"tradekernel/internal/domain"
	"tradekernel/internal/metrics"
	"tradekernel/internal/perf"
	"tradekernel/internal/regime"
	"tradekernel/internal/store"
)

// Config tunes the adaptation triggers and cadence.
type Config struct {
	// Speed bounds sensitivity and the maximum per-tick nudge.
	Speed domain.AdaptationSpeed `yaml:"speed"`

	// MinInterval is the bounded cadence: ticks arriving faster than this
	// are skipped regardless of what the external scheduler does.
	MinInterval time.Duration `yaml:"min_interval"`

	// AffinityTolerance is the regime-classification confidence required
	// before an affinity mismatch counts as a trigger.
	AffinityTolerance float64 `yaml:"affinity_tolerance"`

	// Degradation thresholds over the rolling window.
	MinWinRate  float64 `yaml:"min_win_rate"`
	MaxDrawdown float64 `yaml:"max_drawdown"`

	// MinTrades is the fewest recorded outcomes before performance triggers
	// fire; fresh strategies are not punished for an empty window.
	MinTrades int `yaml:"min_trades"`
}

// DefaultConfig returns the adaptation defaults.
func DefaultConfig() Config {
	return Config{
		Speed:             domain.SpeedSlow,
		MinInterval:       5 * time.Minute,
		AffinityTolerance: 0.6,
		MinWinRate:        0.4,
		MaxDrawdown:       300,
		MinTrades:         10,
	}
}

// Manager applies bounded parameter updates to the profile table.
type Manager struct {
	cfg      Config
	profiles store.ProfileStore
	tracker  *perf.Tracker
	limiter  *rate.Limiter
	metrics  *metrics.Registry
}

// NewManager wires the manager. The rate limiter enforces MinInterval even
// when the external scheduler misbehaves.
func NewManager(cfg Config, profiles store.ProfileStore, tracker *perf.Tracker, reg *metrics.Registry) *Manager {
	limiter := rate.NewLimiter(rate.Every(cfg.MinInterval), 1)
	if cfg.MinInterval <= 0 {
		limiter = rate.NewLimiter(rate.Inf, 1)
	}
	return &Manager{
		cfg:      cfg,
		profiles: profiles,
		tracker:  tracker,
		limiter:  limiter,
		metrics:  reg,
	}
}

// Tick evaluates every profile against the current regime and rolling
// performance and applies bounded nudges where triggers fire. Invoked by a
// scheduler external to the core; there are no hidden timers here.
func (m *Manager) Tick(ctx context.Context, current regime.Snapshot) ([]domain.ParameterUpdate, error) {
	if m.cfg.Speed == domain.SpeedOff || m.cfg.Speed.MaxNudge() == 0 {
		return nil, nil
	}
	if !m.limiter.Allow() {
		log.Debug().Msg("Adaptation tick skipped: cadence bound")
		return nil, nil
	}

	profiles, err := m.profiles.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load profiles: %w", err)
	}

	var applied []domain.ParameterUpdate
	for _, profile := range profiles {
		stats := m.tracker.Stats(profile.Name)
		trigger, severity := m.trigger(profile, current, stats)
		if trigger == "" {
			continue
		}

		updates, err := m.nudge(ctx, profile, stats, trigger, severity)
		if err != nil {
			return applied, err
		}
		applied = append(applied, updates...)
	}
	return applied, nil
}

// trigger decides whether a profile needs adaptation and how urgently,
// returning an empty trigger when the profile is healthy. Severity is in
// (0,1] and scales the nudge within the speed bound.
func (m *Manager) trigger(profile domain.StrategyProfile, current regime.Snapshot, stats perf.Stats) (string, float64) {
	if profile.RegimeAffinity != current.Regime &&
		current.Regime != domain.RegimeUnknown &&
		current.Confidence >= m.cfg.AffinityTolerance {
		return fmt.Sprintf("regime_mismatch:%s->%s", profile.RegimeAffinity, current.Regime), current.Confidence
	}

	if stats.Trades >= m.cfg.MinTrades {
		if stats.WinRate < m.cfg.MinWinRate {
			severity := (m.cfg.MinWinRate - stats.WinRate) / m.cfg.MinWinRate
			return fmt.Sprintf("win_rate_degraded:%.2f", stats.WinRate), clampSeverity(severity)
		}
		if m.cfg.MaxDrawdown > 0 && stats.MaxDrawdown > m.cfg.MaxDrawdown {
			severity := (stats.MaxDrawdown - m.cfg.MaxDrawdown) / m.cfg.MaxDrawdown
			return fmt.Sprintf("drawdown_exceeded:%.2f", stats.MaxDrawdown), clampSeverity(severity)
		}
	}
	return "", 0
}

// nudge shrinks every parameter toward conservative by a bounded relative
// step, advances the adaptation version, and persists the profile.
func (m *Manager) nudge(ctx context.Context, profile domain.StrategyProfile, stats perf.Stats,
	trigger string, severity float64) ([]domain.ParameterUpdate, error) {

	maxNudge := m.cfg.Speed.MaxNudge()
	step := maxNudge * severity
	if step > maxNudge {
		step = maxNudge
	}
	if step <= 0 {
		return nil, nil
	}

	next := profile.Clone()
	next.AdaptationVersion = profile.AdaptationVersion + 1
	next.RollingWinRate = stats.WinRate
	next.RollingPnL = stats.PnL
	next.MaxDrawdown = stats.MaxDrawdown

	now := time.Now().UTC()
	updates := make([]domain.ParameterUpdate, 0, len(profile.Parameters))
	for name, before := range profile.Parameters {
		if before == 0 {
			continue
		}
		after := before * (1 - step)
		next.Parameters[name] = after
		updates = append(updates, domain.ParameterUpdate{
			Strategy:    profile.Name,
			Parameter:   name,
			Before:      before,
			After:       after,
			Reason:      trigger,
			FromVersion: profile.AdaptationVersion,
			ToVersion:   next.AdaptationVersion,
			AppliedAt:   now,
		})
	}
	if len(updates) == 0 {
		return nil, nil
	}

	if err := m.profiles.Save(ctx, next); err != nil {
		return nil, fmt.Errorf("failed to save adapted profile %s: %w", profile.Name, err)
	}
	m.metrics.RecordAdaptation(profile.Name)

	log.Info().
		Str("strategy", profile.Name).
		Str("trigger", trigger).
		Float64("step", step).
		Int64("from_version", profile.AdaptationVersion).
		Int64("to_version", next.AdaptationVersion).
		Interface("before", profile.Parameters).
		Interface("after", next.Parameters).
		Msg("Strategy parameters adapted")

	return updates, nil
}

func clampSeverity(s float64) float64 {
	if s <= 0 {
		return 0.1 // a fired trigger always nudges at least a little
	}
	return math.Min(s, 1)
}
