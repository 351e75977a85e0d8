// Package orchestrator accepts goal-directed tasks, schedules them onto a
// fixed worker pool through a bounded priority queue, and owns the shared
// trading state those tasks read and mutate. Submission fails fast under
// backpressure; finished tasks land in a capped history ring.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"tradekernel/internal/domain"
	"tradekernel/internal/metrics"
	"tradekernel/internal/perf"
	"tradekernel/internal/policy"
)

// MarketData is the synchronous read the decision path needs from the market
// data collaborator.
type MarketData interface {
	Snapshot(ctx context.Context, symbol string) (domain.MarketSnapshot, error)
}

// Execution receives allowed decisions for downstream order placement. The
// handoff is fire-and-forget from the orchestrator's point of view; failures
// are logged, not retried here.
type Execution interface {
	Execute(ctx context.Context, decision domain.Decision) error
}

// Config sizes the pool, the queue, and the history ring.
type Config struct {
	Workers         int `yaml:"workers"`
	QueueCapacity   int `yaml:"queue_capacity"`
	HistoryCapacity int `yaml:"history_capacity"`
}

// DefaultConfig returns the orchestrator defaults.
func DefaultConfig() Config {
	return Config{
		Workers:         4,
		QueueCapacity:   64,
		HistoryCapacity: 1000,
	}
}

func (c *Config) normalize() {
	if c.Workers <= 0 {
		c.Workers = DefaultConfig().Workers
	}
	if c.QueueCapacity <= 0 {
		c.QueueCapacity = DefaultConfig().QueueCapacity
	}
	if c.HistoryCapacity <= 0 {
		c.HistoryCapacity = DefaultConfig().HistoryCapacity
	}
}

// SubmitRequest is what callers hand to Submit.
type SubmitRequest struct {
	Type     domain.TaskType   `json:"type"`
	Goal     string            `json:"goal"`
	Context  map[string]string `json:"context,omitempty"`
	Priority int               `json:"priority"`
}

// taskRecord pairs the task with its cooperative cancel flag. The flag is
// checked between phases; a task cancelled mid-run finishes its current phase
// and discards the result.
type taskRecord struct {
	task      domain.Task
	cancelled atomic.Bool
}

// Orchestrator is the task front door and scheduler.
type Orchestrator struct {
	cfg     Config
	engine  *policy.Engine
	market  MarketData
	exec    Execution
	tracker *perf.Tracker
	state   *State
	metrics *metrics.Registry

	queue   *taskQueue
	history *historyRing

	mu      sync.Mutex
	active  map[string]*taskRecord
	started bool
	stopped bool

	wg sync.WaitGroup
}

// New wires the orchestrator. engine, market, tracker, and state are
// required; exec and reg may be nil.
func New(cfg Config, engine *policy.Engine, market MarketData, exec Execution,
	tracker *perf.Tracker, state *State, reg *metrics.Registry) (*Orchestrator, error) {

	cfg.normalize()
	if engine == nil {
		return nil, fmt.Errorf("policy engine is required")
	}
	if market == nil {
		return nil, fmt.Errorf("market data source is required")
	}
	if tracker == nil {
		return nil, fmt.Errorf("performance tracker is required")
	}
	if state == nil {
		return nil, fmt.Errorf("shared state is required")
	}

	return &Orchestrator{
		cfg:     cfg,
		engine:  engine,
		market:  market,
		exec:    exec,
		tracker: tracker,
		state:   state,
		metrics: reg,
		queue:   newTaskQueue(cfg.QueueCapacity),
		history: newHistoryRing(cfg.HistoryCapacity),
		active:  make(map[string]*taskRecord),
	}, nil
}

// State exposes the shared trading state for administrative callers.
func (o *Orchestrator) State() *State { return o.state }

// Start launches the worker pool. Workers exit when Stop is called; ctx
// bounds the work they do, not their lifetime.
func (o *Orchestrator) Start(ctx context.Context) {
	o.mu.Lock()
	if o.started {
		o.mu.Unlock()
		return
	}
	o.started = true
	o.mu.Unlock()

	for i := 0; i < o.cfg.Workers; i++ {
		o.wg.Add(1)
		go func(id int) {
			defer o.wg.Done()
			o.workerLoop(ctx, id)
		}(i)
	}
	log.Info().
		Int("workers", o.cfg.Workers).
		Int("queue_capacity", o.cfg.QueueCapacity).
		Msg("Orchestrator started")
}

// Stop closes the queue, drains in-flight work, and rejects further
// submissions.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	if o.stopped {
		o.mu.Unlock()
		return
	}
	o.stopped = true
	o.mu.Unlock()

	o.queue.close()
	o.wg.Wait()
	log.Info().Msg("Orchestrator stopped")
}

// Submit validates and enqueues a task, returning it in queued state.
// Fails with ErrBackpressure when the queue is at capacity; the caller is
// expected to retry or shed load, not block.
func (o *Orchestrator) Submit(req SubmitRequest) (domain.Task, error) {
	if !domain.ValidTaskType(req.Type) {
		return domain.Task{}, fmt.Errorf("%w: unknown task type %q", domain.ErrValidation, req.Type)
	}
	if req.Goal == "" {
		return domain.Task{}, fmt.Errorf("%w: task goal is required", domain.ErrValidation)
	}

	task := domain.Task{
		ID:        uuid.NewString(),
		Type:      req.Type,
		Goal:      req.Goal,
		Context:   req.Context,
		Priority:  req.Priority,
		State:     domain.TaskQueued,
		CreatedAt: time.Now().UTC(),
	}

	o.mu.Lock()
	if o.stopped {
		o.mu.Unlock()
		return domain.Task{}, fmt.Errorf("%w: orchestrator is stopped", domain.ErrBackpressure)
	}
	record := &taskRecord{task: task}
	o.active[task.ID] = record
	o.mu.Unlock()

	if err := o.queue.push(task.ID, task.Priority); err != nil {
		o.mu.Lock()
		delete(o.active, task.ID)
		o.mu.Unlock()
		return domain.Task{}, fmt.Errorf("task queue at capacity (%d): %w", o.cfg.QueueCapacity, err)
	}
	o.metrics.SetQueueDepth(o.queue.depth())

	log.Debug().
		Str("task_id", task.ID).
		Str("type", string(task.Type)).
		Str("goal", task.Goal).
		Int("priority", task.Priority).
		Msg("Task submitted")
	return task, nil
}

// GetStatus returns the task by id. Terminal tasks stay resolvable until the
// history ring evicts them; after that the id is gone for good.
func (o *Orchestrator) GetStatus(id string) (domain.Task, error) {
	o.mu.Lock()
	if record, ok := o.active[id]; ok {
		task := record.task
		o.mu.Unlock()
		return task, nil
	}
	o.mu.Unlock()

	if task, ok := o.history.get(id); ok {
		return task, nil
	}
	return domain.Task{}, fmt.Errorf("task %s: %w", id, domain.ErrNotFound)
}

// ListActive returns queued and running tasks ordered by submission time.
func (o *Orchestrator) ListActive() []domain.Task {
	o.mu.Lock()
	out := make([]domain.Task, 0, len(o.active))
	for _, record := range o.active {
		out = append(out, record.task)
	}
	o.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// ListHistory pages through terminal tasks newest first.
func (o *Orchestrator) ListHistory(limit, offset int) []domain.Task {
	return o.history.list(limit, offset)
}

// Cancel requests cancellation. Queued tasks cancel immediately; running
// tasks get a cooperative flag and finish as cancelled at their next
// checkpoint, discarding their result. Terminal tasks are a no-op. Unknown
// ids fail with ErrNotFound.
func (o *Orchestrator) Cancel(id string) (bool, error) {
	o.mu.Lock()
	record, ok := o.active[id]
	if !ok {
		o.mu.Unlock()
		if _, done := o.history.get(id); done {
			return false, nil
		}
		return false, fmt.Errorf("task %s: %w", id, domain.ErrNotFound)
	}

	record.cancelled.Store(true)
	if record.task.State == domain.TaskQueued && o.queue.remove(id) {
		o.transitionLocked(record, domain.TaskCancelled)
		o.mu.Unlock()
		o.metrics.SetQueueDepth(o.queue.depth())
		log.Info().Str("task_id", id).Msg("Queued task cancelled")
		return true, nil
	}
	o.mu.Unlock()

	log.Info().Str("task_id", id).Msg("Running task flagged for cancellation")
	return true, nil
}

// QueueDepth reports tasks currently waiting.
func (o *Orchestrator) QueueDepth() int { return o.queue.depth() }

func (o *Orchestrator) workerLoop(ctx context.Context, id int) {
	for {
		taskID, ok := o.queue.pop()
		if !ok {
			return
		}
		o.metrics.SetQueueDepth(o.queue.depth())
		o.runTask(ctx, taskID)
	}
}

func (o *Orchestrator) runTask(ctx context.Context, id string) {
	o.mu.Lock()
	record, ok := o.active[id]
	if !ok {
		o.mu.Unlock()
		return
	}
	// Cancel may have flagged the task after it was popped but before it
	// started; honor it without running anything.
	if record.cancelled.Load() {
		o.transitionLocked(record, domain.TaskCancelled)
		o.mu.Unlock()
		return
	}
	o.transitionLocked(record, domain.TaskRunning)
	task := record.task
	o.mu.Unlock()

	o.metrics.WorkerStarted()
	defer o.metrics.WorkerFinished()

	result, err := o.execute(ctx, record, task)

	o.mu.Lock()
	defer o.mu.Unlock()
	switch {
	case record.cancelled.Load():
		o.transitionLocked(record, domain.TaskCancelled)
	case err != nil:
		record.task.Result = err.Error()
		o.transitionLocked(record, domain.TaskFailed)
		log.Error().Err(err).Str("task_id", task.ID).Str("type", string(task.Type)).Msg("Task failed")
	default:
		record.task.Result = result
		o.transitionLocked(record, domain.TaskCompleted)
	}
}

// execute dispatches on task type. A non-empty result is stored verbatim on
// the task.
func (o *Orchestrator) execute(ctx context.Context, record *taskRecord, task domain.Task) (string, error) {
	switch task.Type {
	case domain.TaskDecision:
		return o.runDecision(ctx, record, task)
	case domain.TaskLearn:
		return o.runLearn(task)
	case domain.TaskReport:
		return o.runReport(task)
	}
	return "", fmt.Errorf("%w: unknown task type %q", domain.ErrValidation, task.Type)
}

// runDecision holds the symbol's exclusive section from gate-input read
// through exposure apply, so concurrent decisions for one symbol serialize
// while other symbols proceed in parallel.
func (o *Orchestrator) runDecision(ctx context.Context, record *taskRecord, task domain.Task) (string, error) {
	symbol := task.Context["symbol"]
	if symbol == "" {
		symbol = task.Goal
	}

	snapshot, err := o.market.Snapshot(ctx, symbol)
	if err != nil {
		return "", fmt.Errorf("failed to read market snapshot for %s: %w", symbol, err)
	}

	unlock := o.state.LockSymbol(symbol)
	defer unlock()

	gate := o.state.GateInputs(symbol, time.Now())
	decision, err := o.engine.Decide(ctx, symbol, snapshot, gate)
	if err != nil {
		return "", err
	}

	if record.cancelled.Load() {
		// Cancelled mid-run: the decision is audited but never applied.
		return "", nil
	}
	o.state.ApplyDecision(decision)

	if o.exec != nil && decision.Size > 0 {
		if err := o.exec.Execute(ctx, decision); err != nil {
			log.Warn().Err(err).Str("symbol", symbol).Msg("Execution handoff failed")
		}
	}

	payload, err := json.Marshal(decision)
	if err != nil {
		return "", fmt.Errorf("failed to encode decision: %w", err)
	}
	return string(payload), nil
}

// runLearn records an executed-trade outcome from the task context:
// strategy, symbol, and pnl are required.
func (o *Orchestrator) runLearn(task domain.Task) (string, error) {
	strategy := task.Context["strategy"]
	symbol := task.Context["symbol"]
	if strategy == "" || symbol == "" {
		return "", fmt.Errorf("%w: learn task requires strategy and symbol context", domain.ErrValidation)
	}
	pnl, err := strconv.ParseFloat(task.Context["pnl"], 64)
	if err != nil {
		return "", fmt.Errorf("%w: learn task requires numeric pnl context: %v", domain.ErrValidation, err)
	}

	now := time.Now().UTC()
	o.tracker.Record(domain.TradeOutcome{
		Strategy: strategy,
		Symbol:   symbol,
		PnL:      pnl,
		ClosedAt: now,
	})
	o.state.RecordOutcome(pnl, now)

	stats := o.tracker.Stats(strategy)
	payload, err := json.Marshal(stats)
	if err != nil {
		return "", fmt.Errorf("failed to encode stats: %w", err)
	}
	return string(payload), nil
}

// statusReport is the report task's output shape.
type statusReport struct {
	GeneratedAt       time.Time                 `json:"generated_at"`
	Strategies        []perf.Stats              `json:"strategies"`
	Positions         map[string]float64        `json:"positions"`
	DailyLoss         float64                   `json:"daily_loss"`
	ActiveSuspensions []domain.SafetySuspension `json:"active_suspensions"`
	QueueDepth        int                       `json:"queue_depth"`
}

func (o *Orchestrator) runReport(task domain.Task) (string, error) {
	now := time.Now().UTC()
	strategies := o.tracker.All()
	sort.Slice(strategies, func(i, j int) bool { return strategies[i].Strategy < strategies[j].Strategy })

	suspensions := o.state.ActiveSuspensions(now)
	o.metrics.SetActiveSuspensions(len(suspensions))

	payload, err := json.Marshal(statusReport{
		GeneratedAt:       now,
		Strategies:        strategies,
		Positions:         o.state.Positions(),
		DailyLoss:         o.state.DailyLoss(now),
		ActiveSuspensions: suspensions,
		QueueDepth:        o.queue.depth(),
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode report: %w", err)
	}
	return string(payload), nil
}

// transitionLocked applies a state-machine edge under o.mu, stamping times
// and retiring terminal tasks into the history ring.
func (o *Orchestrator) transitionLocked(record *taskRecord, next domain.TaskState) {
	current := record.task.State
	if !current.CanTransition(next) {
		log.Error().
			Str("task_id", record.task.ID).
			Str("from", string(current)).
			Str("to", string(next)).
			Msg("Rejected invalid task state transition")
		return
	}

	now := time.Now().UTC()
	record.task.State = next
	if next == domain.TaskRunning {
		record.task.StartedAt = &now
	}
	if next.Terminal() {
		record.task.FinishedAt = &now
		o.history.add(record.task)
		delete(o.active, record.task.ID)
		o.metrics.RecordTaskTerminal(string(record.task.Type), string(next))
	}
}
