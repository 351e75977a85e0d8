package policy

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradekernel/internal/domain"
	"tradekernel/internal/domain/risk"
	"tradekernel/internal/regime"
	"tradekernel/internal/store"
)

func trendingUpSnapshot() domain.MarketSnapshot {
	prices := []float64{100, 100.5, 101, 101.4, 102, 102.4, 103, 103.5, 104}
	base := time.Now().Add(-time.Duration(len(prices)) * time.Minute)
	window := make([]domain.PriceSample, len(prices))
	for i, p := range prices {
		window[i] = domain.PriceSample{Price: p, Volume: 100, Timestamp: base.Add(time.Duration(i) * time.Minute)}
	}
	return domain.MarketSnapshot{
		Symbol:    "BTCUSD",
		Window:    window,
		LastPrice: 104,
		Bid:       103.9,
		Ask:       104.1,
		Timestamp: time.Now(),
	}
}

func openGate() GateInputs {
	return GateInputs{
		Exposure: domain.Exposure{Symbol: "BTCUSD", OpenPositions: 1},
		Limits: domain.RiskLimits{
			MaxPositionSize: 1000, MaxDailyLoss: 500, MaxLeverage: 3, MaxConcurrentPositions: 5,
		},
	}
}

func fixedOracle(dir domain.Direction, conf float64) Oracle {
	return OracleFunc(func(context.Context, string, domain.MarketSnapshot) (Advice, error) {
		return Advice{Direction: dir, Confidence: conf}, nil
	})
}

func newTestEngine(t *testing.T, oracle Oracle, cfg Config) (*Engine, *store.MemoryLog) {
	t.Helper()
	audit := store.NewMemoryLog(100)
	classifier := regime.NewClassifier(regime.DefaultThresholds(), 0)
	engine, err := NewEngine(cfg, classifier, oracle, audit, nil)
	require.NoError(t, err)
	return engine, audit
}

func TestDecide_FusesAgreeingSignals(t *testing.T) {
	engine, audit := newTestEngine(t, fixedOracle(domain.Buy, 0.8), DefaultConfig())

	d, err := engine.Decide(context.Background(), "BTCUSD", trendingUpSnapshot(), openGate())
	require.NoError(t, err)

	assert.Equal(t, domain.Buy, d.Direction)
	assert.InDelta(t, 1.0, d.SourceWeights.Rule+d.SourceWeights.Advisory, 1e-9)
	assert.Greater(t, d.SourceWeights.Advisory, 0.0)
	assert.Greater(t, d.Size, 0.0)
	assert.Equal(t, risk.VerdictOK, d.SafetyVerdict)
	assert.Equal(t, 1, audit.Len())
}

func TestDecide_CloseDisagreementResolvesToHold(t *testing.T) {
	// Rule says buy with high confidence; oracle says sell nearly as hard.
	engine, _ := newTestEngine(t, fixedOracle(domain.Sell, 0.95), DefaultConfig())

	d, err := engine.Decide(context.Background(), "BTCUSD", trendingUpSnapshot(), openGate())
	require.NoError(t, err)

	assert.Equal(t, domain.Hold, d.Direction)
	assert.Equal(t, 0.0, d.Size)
	assert.InDelta(t, 1.0, d.SourceWeights.Rule+d.SourceWeights.Advisory, 1e-9)
}

func TestDecide_ClearDisagreementFollowsStrongerSource(t *testing.T) {
	// Oracle opposes but with far lower confidence than the rule signal.
	engine, _ := newTestEngine(t, fixedOracle(domain.Sell, 0.1), DefaultConfig())

	d, err := engine.Decide(context.Background(), "BTCUSD", trendingUpSnapshot(), openGate())
	require.NoError(t, err)

	assert.Equal(t, domain.Buy, d.Direction)
}

func TestDecide_OracleErrorFallsBackToRuleOnly(t *testing.T) {
	failing := OracleFunc(func(context.Context, string, domain.MarketSnapshot) (Advice, error) {
		return Advice{}, assert.AnError
	})
	engine, audit := newTestEngine(t, failing, DefaultConfig())

	d, err := engine.Decide(context.Background(), "BTCUSD", trendingUpSnapshot(), openGate())
	require.NoError(t, err)

	assert.Equal(t, domain.Buy, d.Direction)
	assert.Equal(t, 1.0, d.SourceWeights.Rule)
	assert.Equal(t, 0.0, d.SourceWeights.Advisory)
	assert.Equal(t, 1, audit.Len())
}

func TestDecide_MalformedAdviceFallsBack(t *testing.T) {
	cases := []Advice{
		{Direction: "long", Confidence: 0.8}, // unknown direction
		{Direction: domain.Buy, Confidence: 1.5},
		{Direction: domain.Buy, Confidence: -0.1},
	}

	for _, malformed := range cases {
		bad := malformed
		oracle := OracleFunc(func(context.Context, string, domain.MarketSnapshot) (Advice, error) {
			return bad, nil
		})
		engine, _ := newTestEngine(t, oracle, DefaultConfig())

		d, err := engine.Decide(context.Background(), "BTCUSD", trendingUpSnapshot(), openGate())
		require.NoError(t, err)
		assert.Equal(t, 0.0, d.SourceWeights.Advisory, "advice %+v must not contribute", bad)
	}
}

func TestDecide_SlowOracleTimesOutWithinDeadline(t *testing.T) {
	// Oracle takes far longer than the configured timeout and ignores ctx.
	slow := OracleFunc(func(context.Context, string, domain.MarketSnapshot) (Advice, error) {
		time.Sleep(2 * time.Second)
		return Advice{Direction: domain.Buy, Confidence: 0.9}, nil
	})

	cfg := DefaultConfig()
	cfg.OracleTimeout = 150 * time.Millisecond
	engine, _ := newTestEngine(t, slow, cfg)

	start := time.Now()
	d, err := engine.Decide(context.Background(), "BTCUSD", trendingUpSnapshot(), openGate())
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.Equal(t, 0.0, d.SourceWeights.Advisory)
	assert.Equal(t, 1.0, d.SourceWeights.Rule)
	assert.Less(t, elapsed, time.Second, "decision must return at the timeout, not the oracle's pace")
}

func TestDecide_NoOracleConfigured(t *testing.T) {
	engine, _ := newTestEngine(t, nil, DefaultConfig())

	d, err := engine.Decide(context.Background(), "BTCUSD", trendingUpSnapshot(), openGate())
	require.NoError(t, err)
	assert.Equal(t, domain.SourceWeights{Rule: 1, Advisory: 0}, d.SourceWeights)
}

func TestDecide_HaltAllForcesHoldAndAudits(t *testing.T) {
	engine, audit := newTestEngine(t, fixedOracle(domain.Buy, 0.9), DefaultConfig())

	gate := openGate()
	now := time.Now()
	gate.Suspensions = []domain.SafetySuspension{
		{RuleName: "cpi-print", Action: domain.ActionHaltAll, ActivatedAt: now.Add(-time.Minute), ExpiresAt: now.Add(time.Hour)},
	}

	d, err := engine.Decide(context.Background(), "BTCUSD", trendingUpSnapshot(), gate)
	require.NoError(t, err)

	assert.Equal(t, domain.Hold, d.Direction)
	assert.Equal(t, 0.0, d.Size)
	assert.Equal(t, risk.VerdictHalted, d.SafetyVerdict)
	// Denied decisions are still audited.
	assert.Equal(t, 1, audit.Len())
}

func TestDecide_GateResizesToHeadroom(t *testing.T) {
	engine, _ := newTestEngine(t, fixedOracle(domain.Buy, 1.0), DefaultConfig())

	gate := openGate()
	gate.Exposure.PositionSize = 950 // headroom 50 under the 1000 cap

	d, err := engine.Decide(context.Background(), "BTCUSD", trendingUpSnapshot(), gate)
	require.NoError(t, err)

	assert.Equal(t, risk.VerdictResized, d.SafetyVerdict)
	assert.Equal(t, 50.0, d.Size)
	assert.LessOrEqual(t, d.Size+gate.Exposure.PositionSize, gate.Limits.MaxPositionSize)
}

func TestConfig_NormalizeWeights(t *testing.T) {
	cfg := Config{RuleWeight: 3, AdvisoryWeight: 1, DisagreementEpsilon: 0.1, OracleTimeout: time.Second, BaseSize: 10}
	require.NoError(t, cfg.Normalize())
	assert.InDelta(t, 0.75, cfg.RuleWeight, 1e-9)
	assert.InDelta(t, 0.25, cfg.AdvisoryWeight, 1e-9)

	bad := Config{RuleWeight: 0, AdvisoryWeight: 0, OracleTimeout: time.Second, BaseSize: 10}
	assert.Error(t, bad.Normalize())
}
