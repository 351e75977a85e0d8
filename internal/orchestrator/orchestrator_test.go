package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradekernel/internal/domain"
	"tradekernel/internal/perf"
	"tradekernel/internal/policy"
	"tradekernel/internal/regime"
	"tradekernel/internal/store"
)

func trendingWindow(symbol string) domain.MarketSnapshot {
	prices := []float64{100, 100.5, 101, 101.4, 102, 102.4, 103, 103.5, 104}
	base := time.Now().Add(-time.Duration(len(prices)) * time.Minute)
	window := make([]domain.PriceSample, len(prices))
	for i, p := range prices {
		window[i] = domain.PriceSample{Price: p, Volume: 100, Timestamp: base.Add(time.Duration(i) * time.Minute)}
	}
	return domain.MarketSnapshot{
		Symbol: symbol, Window: window, LastPrice: 104, Bid: 103.9, Ask: 104.1, Timestamp: time.Now(),
	}
}

type stubMarket struct {
	err error
}

func (m stubMarket) Snapshot(_ context.Context, symbol string) (domain.MarketSnapshot, error) {
	if m.err != nil {
		return domain.MarketSnapshot{}, m.err
	}
	return trendingWindow(symbol), nil
}

// gatedMarket blocks every Snapshot call until released, to freeze a decision
// task mid-run.
type gatedMarket struct {
	release chan struct{}
}

func (m *gatedMarket) Snapshot(_ context.Context, symbol string) (domain.MarketSnapshot, error) {
	<-m.release
	return trendingWindow(symbol), nil
}

func testLimits(t *testing.T) *store.LimitsRecord {
	t.Helper()
	limits, err := store.NewLimitsRecord(domain.RiskLimits{
		MaxPositionSize: 1000, MaxDailyLoss: 500, MaxLeverage: 3, MaxConcurrentPositions: 5,
	})
	require.NoError(t, err)
	return limits
}

func newTestOrchestrator(t *testing.T, cfg Config, market MarketData) *Orchestrator {
	t.Helper()

	classifier := regime.NewClassifier(regime.DefaultThresholds(), 0)
	engine, err := policy.NewEngine(policy.DefaultConfig(), classifier, nil, store.NewMemoryLog(100), nil)
	require.NoError(t, err)

	state := NewState(testLimits(t), nil)
	o, err := New(cfg, engine, market, nil, perf.NewTracker(100), state, nil)
	require.NoError(t, err)
	return o
}

func waitTerminal(t *testing.T, o *Orchestrator, id string) domain.Task {
	t.Helper()
	var task domain.Task
	require.Eventually(t, func() bool {
		got, err := o.GetStatus(id)
		if err != nil {
			return false
		}
		task = got
		return task.State.Terminal()
	}, 3*time.Second, 5*time.Millisecond)
	return task
}

func TestSubmit_RejectsInvalidRequests(t *testing.T) {
	o := newTestOrchestrator(t, DefaultConfig(), stubMarket{})

	_, err := o.Submit(SubmitRequest{Type: "speculate", Goal: "BTCUSD"})
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = o.Submit(SubmitRequest{Type: domain.TaskDecision})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestSubmit_BackpressureAtCapacity(t *testing.T) {
	cfg := DefaultConfig()
	cfg.QueueCapacity = 2
	o := newTestOrchestrator(t, cfg, stubMarket{}) // never started, so nothing drains

	for i := 0; i < 2; i++ {
		_, err := o.Submit(SubmitRequest{Type: domain.TaskDecision, Goal: "BTCUSD"})
		require.NoError(t, err)
	}

	_, err := o.Submit(SubmitRequest{Type: domain.TaskDecision, Goal: "BTCUSD"})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrBackpressure)

	// Rejected submissions leave no trace.
	assert.Len(t, o.ListActive(), 2)
	assert.Equal(t, 2, o.QueueDepth())
}

func TestDecisionTask_CompletesWithAuditedDecision(t *testing.T) {
	o := newTestOrchestrator(t, DefaultConfig(), stubMarket{})
	o.Start(context.Background())
	defer o.Stop()

	task, err := o.Submit(SubmitRequest{
		Type: domain.TaskDecision, Goal: "evaluate BTCUSD",
		Context: map[string]string{"symbol": "BTCUSD"},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.TaskQueued, task.State)

	done := waitTerminal(t, o, task.ID)
	assert.Equal(t, domain.TaskCompleted, done.State)
	require.NotNil(t, done.StartedAt)
	require.NotNil(t, done.FinishedAt)

	var decision domain.Decision
	require.NoError(t, json.Unmarshal([]byte(done.Result), &decision))
	assert.Equal(t, "BTCUSD", decision.Symbol)
	assert.Equal(t, domain.Buy, decision.Direction)
	assert.Greater(t, decision.Size, 0.0)

	// The allowed decision moved the exposure table.
	assert.InDelta(t, decision.Size, o.State().Positions()["BTCUSD"], 1e-9)

	// Terminal status reads are stable.
	again, err := o.GetStatus(task.ID)
	require.NoError(t, err)
	assert.Equal(t, done, again)
	assert.Len(t, o.ListHistory(0, 0), 1)
}

func TestDecisionTask_MarketFailureFailsTask(t *testing.T) {
	o := newTestOrchestrator(t, DefaultConfig(), stubMarket{err: fmt.Errorf("feed down")})
	o.Start(context.Background())
	defer o.Stop()

	task, err := o.Submit(SubmitRequest{Type: domain.TaskDecision, Goal: "BTCUSD"})
	require.NoError(t, err)

	done := waitTerminal(t, o, task.ID)
	assert.Equal(t, domain.TaskFailed, done.State)
	assert.Contains(t, done.Result, "feed down")
}

func TestConcurrentSameSymbolDecisionsNeverExceedCap(t *testing.T) {
	o := newTestOrchestrator(t, DefaultConfig(), stubMarket{})
	o.State().SetPosition("BTCUSD", 900) // 100 of headroom under the 1000 cap
	o.Start(context.Background())
	defer o.Stop()

	var ids []string
	for i := 0; i < 2; i++ {
		task, err := o.Submit(SubmitRequest{Type: domain.TaskDecision, Goal: "BTCUSD"})
		require.NoError(t, err)
		ids = append(ids, task.ID)
	}
	for _, id := range ids {
		done := waitTerminal(t, o, id)
		assert.Equal(t, domain.TaskCompleted, done.State)
	}

	// Both decisions sized against live exposure, never a stale snapshot:
	// combined they cannot pass the position cap.
	assert.LessOrEqual(t, o.State().Positions()["BTCUSD"], 1000.0+1e-9)
	assert.GreaterOrEqual(t, o.State().Positions()["BTCUSD"], 900.0)
}

func TestCancel_QueuedTaskCancelsImmediately(t *testing.T) {
	o := newTestOrchestrator(t, DefaultConfig(), stubMarket{}) // not started

	task, err := o.Submit(SubmitRequest{Type: domain.TaskDecision, Goal: "BTCUSD"})
	require.NoError(t, err)

	ok, err := o.Cancel(task.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 0, o.QueueDepth())

	done, err := o.GetStatus(task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskCancelled, done.State)
	require.NotNil(t, done.FinishedAt)

	// Terminal tasks are a cancel no-op, unknown ids an error.
	ok, err = o.Cancel(task.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = o.Cancel("no-such-task")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCancel_RunningTaskDiscardsResult(t *testing.T) {
	market := &gatedMarket{release: make(chan struct{})}
	o := newTestOrchestrator(t, DefaultConfig(), market)
	o.Start(context.Background())
	defer o.Stop()

	task, err := o.Submit(SubmitRequest{Type: domain.TaskDecision, Goal: "BTCUSD"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		got, err := o.GetStatus(task.ID)
		return err == nil && got.State == domain.TaskRunning
	}, 3*time.Second, 5*time.Millisecond)

	ok, err := o.Cancel(task.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	close(market.release)
	done := waitTerminal(t, o, task.ID)
	assert.Equal(t, domain.TaskCancelled, done.State)

	// The cancelled decision was never applied.
	assert.Empty(t, o.State().Positions())
}

func TestLearnTask_RecordsOutcomeAndDailyLoss(t *testing.T) {
	o := newTestOrchestrator(t, DefaultConfig(), stubMarket{})
	o.Start(context.Background())
	defer o.Stop()

	task, err := o.Submit(SubmitRequest{
		Type: domain.TaskLearn, Goal: "record momentum-v2 BTCUSD close",
		Context: map[string]string{"strategy": "momentum-v2", "symbol": "BTCUSD", "pnl": "-50"},
	})
	require.NoError(t, err)

	done := waitTerminal(t, o, task.ID)
	assert.Equal(t, domain.TaskCompleted, done.State)

	var stats perf.Stats
	require.NoError(t, json.Unmarshal([]byte(done.Result), &stats))
	assert.Equal(t, 1, stats.Trades)
	assert.InDelta(t, -50.0, stats.PnL, 1e-9)

	assert.InDelta(t, 50.0, o.State().DailyLoss(time.Now()), 1e-9)
}

func TestLearnTask_MissingContextFails(t *testing.T) {
	o := newTestOrchestrator(t, DefaultConfig(), stubMarket{})
	o.Start(context.Background())
	defer o.Stop()

	task, err := o.Submit(SubmitRequest{Type: domain.TaskLearn, Goal: "record close"})
	require.NoError(t, err)

	done := waitTerminal(t, o, task.ID)
	assert.Equal(t, domain.TaskFailed, done.State)
	assert.Contains(t, done.Result, "strategy and symbol")
}

func TestReportTask_SummarizesState(t *testing.T) {
	o := newTestOrchestrator(t, DefaultConfig(), stubMarket{})
	now := time.Now()
	require.NoError(t, o.State().Suspend(domain.SafetySuspension{
		RuleName: "manual-freeze", Action: domain.ActionHaltAll,
		ActivatedAt: now.Add(-time.Minute), ExpiresAt: now.Add(time.Hour),
	}))
	o.State().SetPosition("ETHUSD", 120)
	o.Start(context.Background())
	defer o.Stop()

	task, err := o.Submit(SubmitRequest{Type: domain.TaskReport, Goal: "status"})
	require.NoError(t, err)

	done := waitTerminal(t, o, task.ID)
	require.Equal(t, domain.TaskCompleted, done.State)

	var report statusReport
	require.NoError(t, json.Unmarshal([]byte(done.Result), &report))
	assert.Len(t, report.ActiveSuspensions, 1)
	assert.Equal(t, "manual-freeze", report.ActiveSuspensions[0].RuleName)
	assert.InDelta(t, 120.0, report.Positions["ETHUSD"], 1e-9)
}

func TestHistoryRing_EvictsOldestTerminalTask(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Workers = 1 // serialize so completion order matches submission order
	cfg.HistoryCapacity = 2
	o := newTestOrchestrator(t, cfg, stubMarket{})
	o.Start(context.Background())
	defer o.Stop()

	var ids []string
	for i := 0; i < 3; i++ {
		task, err := o.Submit(SubmitRequest{
			Type: domain.TaskLearn, Goal: "close",
			Context: map[string]string{"strategy": "s", "symbol": "BTCUSD", "pnl": "1"},
		})
		require.NoError(t, err)
		ids = append(ids, task.ID)
		waitTerminal(t, o, task.ID)
	}

	_, err := o.GetStatus(ids[0])
	assert.ErrorIs(t, err, domain.ErrNotFound)
	for _, id := range ids[1:] {
		_, err := o.GetStatus(id)
		assert.NoError(t, err)
	}
	assert.Len(t, o.ListHistory(0, 0), 2)

	// Pagination walks newest first.
	page := o.ListHistory(1, 1)
	require.Len(t, page, 1)
	assert.Equal(t, ids[1], page[0].ID)
}

func TestSubmit_RejectedAfterStop(t *testing.T) {
	o := newTestOrchestrator(t, DefaultConfig(), stubMarket{})
	o.Start(context.Background())
	o.Stop()

	_, err := o.Submit(SubmitRequest{Type: domain.TaskReport, Goal: "status"})
	assert.ErrorIs(t, err, domain.ErrBackpressure)
}

func TestListActive_OrderedBySubmission(t *testing.T) {
	o := newTestOrchestrator(t, DefaultConfig(), stubMarket{}) // not started

	var ids []string
	for i := 0; i < 3; i++ {
		task, err := o.Submit(SubmitRequest{Type: domain.TaskReport, Goal: fmt.Sprintf("status-%d", i)})
		require.NoError(t, err)
		ids = append(ids, task.ID)
	}

	active := o.ListActive()
	require.Len(t, active, 3)
	for _, task := range active {
		assert.Equal(t, domain.TaskQueued, task.State)
	}
}
