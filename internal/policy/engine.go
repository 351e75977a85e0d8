// Package policy fuses the deterministic rule signal with the advisory
// oracle's opinion into one gated Decision.
package policy

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog/log"

	"tradekernel/internal/domain"
	"tradekernel/internal/domain/risk"
	"tradekernel/internal/metrics"
	"tradekernel/internal/regime"
	"tradekernel/internal/store"
)

// Config tunes signal fusion and oracle handling.
type Config struct {
	// RuleWeight and AdvisoryWeight are the fusion weights; they are
	// normalized to sum to 1 at load time.
	RuleWeight     float64 `yaml:"rule_weight"`
	AdvisoryWeight float64 `yaml:"advisory_weight"`

	// DisagreementEpsilon: a direct buy-vs-sell disagreement with
	// confidences closer than this resolves to hold.
	DisagreementEpsilon float64 `yaml:"disagreement_epsilon"`

	// OracleTimeout is the hard deadline on the advisory call.
	OracleTimeout time.Duration `yaml:"oracle_timeout"`

	// BaseSize scales confidence into a proposed position size.
	BaseSize float64 `yaml:"base_size"`
}

// DefaultConfig returns the fusion defaults.
func DefaultConfig() Config {
	return Config{
		RuleWeight:          0.6,
		AdvisoryWeight:      0.4,
		DisagreementEpsilon: 0.15,
		OracleTimeout:       2 * time.Second,
		BaseSize:            100,
	}
}

// Normalize validates the config and scales the weights to sum to 1.
func (c *Config) Normalize() error {
	if c.RuleWeight < 0 || c.AdvisoryWeight < 0 {
		return fmt.Errorf("fusion weights must be non-negative")
	}
	sum := c.RuleWeight + c.AdvisoryWeight
	if sum <= 0 {
		return fmt.Errorf("at least one fusion weight must be positive")
	}
	c.RuleWeight /= sum
	c.AdvisoryWeight /= sum
	if c.OracleTimeout <= 0 {
		return fmt.Errorf("oracle_timeout must be positive")
	}
	if c.BaseSize <= 0 {
		return fmt.Errorf("base_size must be positive")
	}
	return nil
}

// GateInputs is the orchestrator-owned shared state, passed by value so the
// engine and gate stay free of back-references.
type GateInputs struct {
	Exposure    domain.Exposure
	Suspensions []domain.SafetySuspension
	Limits      domain.RiskLimits
}

// Engine is the policy engine.
type Engine struct {
	cfg        Config
	classifier *regime.Classifier
	guard      *oracleGuard
	audit      store.DecisionLog
	metrics    *metrics.Registry
}

// NewEngine wires the engine. audit must be non-nil; oracle may be nil, in
// which case every decision is rule-only.
func NewEngine(cfg Config, classifier *regime.Classifier, oracle Oracle,
	audit store.DecisionLog, reg *metrics.Registry) (*Engine, error) {
	if err := cfg.Normalize(); err != nil {
		return nil, fmt.Errorf("invalid policy config: %w", err)
	}
	if audit == nil {
		return nil, fmt.Errorf("decision log is required")
	}
	return &Engine{
		cfg:        cfg,
		classifier: classifier,
		guard:      newOracleGuard(oracle, cfg.OracleTimeout),
		audit:      audit,
		metrics:    reg,
	}, nil
}

// Decide produces one gated Decision for the symbol. The gate inputs are the
// orchestrator's per-symbol exclusive view at call time. Every decision,
// allowed or not, lands in the audit log before it is returned.
func (e *Engine) Decide(ctx context.Context, symbol string, snapshot domain.MarketSnapshot, gate GateInputs) (domain.Decision, error) {
	start := time.Now()

	reg := e.classifier.Classify(snapshot.Window)
	ruleDir, ruleConf := RuleSignal(snapshot, reg)

	advisory := e.guard.consult(ctx, symbol, snapshot)
	e.metrics.RecordOracleOutcome(advisory.Outcome)
	if advisory.Outcome != OutcomeOK {
		log.Warn().
			Str("symbol", symbol).
			Str("outcome", advisory.Outcome).
			Err(advisory.Err).
			Msg("Advisory oracle unavailable, falling back to rule-only")
	}

	direction, confidence, weights := e.fuse(ruleDir, ruleConf, advisory)

	// Propose a size from fused confidence; hold proposes nothing.
	size := 0.0
	if direction != domain.Hold {
		size = e.cfg.BaseSize * confidence
	}

	verdict := risk.Evaluate(
		risk.Proposal{Symbol: symbol, Direction: direction, Size: size},
		gate.Exposure, gate.Suspensions, gate.Limits, time.Now(),
	)

	finalDir := direction
	finalSize := verdict.AllowedSize
	if !verdict.Allowed() {
		finalDir = domain.Hold
		finalSize = 0
		if verdict.Verdict != risk.VerdictOK {
			log.Info().
				Str("symbol", symbol).
				Str("verdict", verdict.Verdict).
				Str("reason", verdict.Reason).
				Interface("metrics", verdict.Metrics).
				Msg("Decision denied by safety gate")
		}
	} else if verdict.Verdict != risk.VerdictOK {
		log.Info().
			Str("symbol", symbol).
			Str("verdict", verdict.Verdict).
			Float64("proposed_size", size).
			Float64("allowed_size", verdict.AllowedSize).
			Msg("Decision resized by safety gate")
	}

	decision := domain.Decision{
		Symbol:        symbol,
		Direction:     finalDir,
		Confidence:    confidence,
		Size:          finalSize,
		SourceWeights: weights,
		SafetyVerdict: verdict.Verdict,
		CreatedAt:     time.Now().UTC(),
	}

	if err := e.audit.Append(ctx, decision); err != nil {
		// The audit trail is a hard requirement: a decision we cannot log is
		// a decision we do not act on.
		return domain.Decision{}, fmt.Errorf("failed to audit decision: %w", err)
	}

	e.metrics.RecordDecision(string(decision.Direction), decision.SafetyVerdict, time.Since(start).Seconds())

	log.Debug().
		Str("symbol", symbol).
		Str("direction", string(decision.Direction)).
		Float64("confidence", decision.Confidence).
		Float64("size", decision.Size).
		Str("regime", string(reg.Regime)).
		Float64("w_rule", weights.Rule).
		Float64("w_advisory", weights.Advisory).
		Str("safety_verdict", decision.SafetyVerdict).
		Msg("Decision produced")

	return decision, nil
}

// fuse blends the two signals into one direction/confidence pair plus the
// weights actually used. On advisory fallback the rule weight renormalizes
// to 1.0.
func (e *Engine) fuse(ruleDir domain.Direction, ruleConf float64, advisory advisoryResult) (domain.Direction, float64, domain.SourceWeights) {
	if advisory.Outcome != OutcomeOK {
		return ruleDir, ruleConf, domain.SourceWeights{Rule: 1.0, Advisory: 0.0}
	}

	weights := domain.SourceWeights{Rule: e.cfg.RuleWeight, Advisory: e.cfg.AdvisoryWeight}
	advDir, advConf := advisory.Advice.Direction, advisory.Advice.Confidence
	fusedConf := weights.Rule*ruleConf + weights.Advisory*advConf

	switch {
	case ruleDir == advDir:
		return ruleDir, fusedConf, weights

	case ruleDir.Opposes(advDir):
		// Direct disagreement with close confidences means nobody knows: hold.
		if math.Abs(ruleConf-advConf) <= e.cfg.DisagreementEpsilon {
			return domain.Hold, fusedConf, weights
		}
		if ruleConf > advConf {
			return ruleDir, fusedConf, weights
		}
		return advDir, fusedConf, weights

	case ruleDir == domain.Hold:
		// Rule abstains: follow the advisory opinion at fused confidence.
		return advDir, fusedConf, weights

	default: // advisory holds, rule has a direction
		return ruleDir, fusedConf, weights
	}
}
