package policy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"

	"tradekernel/internal/domain"
)

// Advice is the advisory oracle's opinion for one symbol.
type Advice struct {
	Direction  domain.Direction `json:"direction"`
	Confidence float64          `json:"confidence"`
}

// Oracle is the external advisory-model collaborator. Implementations should
// honor ctx cancellation, but the engine does not rely on it: the consult
// path returns at the deadline regardless.
type Oracle interface {
	Advise(ctx context.Context, symbol string, snapshot domain.MarketSnapshot) (Advice, error)
}

// OracleFunc adapts a function to the Oracle interface.
type OracleFunc func(ctx context.Context, symbol string, snapshot domain.MarketSnapshot) (Advice, error)

func (f OracleFunc) Advise(ctx context.Context, symbol string, snapshot domain.MarketSnapshot) (Advice, error) {
	return f(ctx, symbol, snapshot)
}

// Advisory outcome tags. The consult result is strictly one of these;
// malformed oracle responses never propagate past this boundary.
const (
	OutcomeOK      = "ok"
	OutcomeTimeout = "timeout"
	OutcomeError   = "error"
	OutcomeSkipped = "skipped" // breaker open or no oracle configured
)

// advisoryResult is the tagged outcome of one oracle consultation.
type advisoryResult struct {
	Outcome string
	Advice  Advice
	Err     error
}

// oracleGuard wraps the oracle with a hard timeout and a circuit breaker so
// a degraded oracle degrades to rule-only decisions instead of stalling
// workers.
type oracleGuard struct {
	oracle  Oracle
	timeout time.Duration
	breaker *gobreaker.CircuitBreaker
}

func newOracleGuard(oracle Oracle, timeout time.Duration) *oracleGuard {
	st := gobreaker.Settings{Name: "advisory-oracle"}
	st.Interval = 60 * time.Second
	st.Timeout = 30 * time.Second
	st.ReadyToTrip = func(counts gobreaker.Counts) bool {
		if counts.ConsecutiveFailures >= 3 {
			return true
		}
		total := counts.Requests
		if total < 20 {
			return false
		}
		return float64(counts.TotalFailures)/float64(total) > 0.5
	}

	return &oracleGuard{
		oracle:  oracle,
		timeout: timeout,
		breaker: gobreaker.NewCircuitBreaker(st),
	}
}

// consult asks the oracle once under the deadline. The call runs in its own
// goroutine so a non-cooperative oracle cannot hold the worker past the
// timeout; a late result is discarded, never reused.
func (g *oracleGuard) consult(ctx context.Context, symbol string, snapshot domain.MarketSnapshot) advisoryResult {
	if g.oracle == nil {
		return advisoryResult{Outcome: OutcomeSkipped, Err: domain.ErrOracleUnavailable}
	}

	res, err := g.breaker.Execute(func() (any, error) {
		callCtx, cancel := context.WithTimeout(ctx, g.timeout)
		defer cancel()

		type reply struct {
			advice Advice
			err    error
		}
		// Buffered so a post-deadline reply is dropped without leaking the
		// goroutine.
		ch := make(chan reply, 1)
		go func() {
			advice, err := g.oracle.Advise(callCtx, symbol, snapshot)
			ch <- reply{advice, err}
		}()

		select {
		case r := <-ch:
			if r.err != nil {
				return Advice{}, fmt.Errorf("%w: %v", domain.ErrOracleUnavailable, r.err)
			}
			return r.advice, nil
		case <-callCtx.Done():
			return Advice{}, fmt.Errorf("%w after %s", domain.ErrOracleTimeout, g.timeout)
		}
	})

	if err != nil {
		switch {
		case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
			return advisoryResult{Outcome: OutcomeSkipped, Err: fmt.Errorf("%w: circuit open", domain.ErrOracleUnavailable)}
		case errors.Is(err, domain.ErrOracleTimeout):
			return advisoryResult{Outcome: OutcomeTimeout, Err: err}
		default:
			return advisoryResult{Outcome: OutcomeError, Err: err}
		}
	}

	advice := res.(Advice)
	if err := validateAdvice(advice); err != nil {
		return advisoryResult{Outcome: OutcomeError, Err: err}
	}
	return advisoryResult{Outcome: OutcomeOK, Advice: advice}
}

// validateAdvice rejects malformed oracle responses at the boundary.
func validateAdvice(a Advice) error {
	switch a.Direction {
	case domain.Buy, domain.Sell, domain.Hold:
	default:
		return fmt.Errorf("%w: malformed direction %q", domain.ErrOracleUnavailable, a.Direction)
	}
	if a.Confidence < 0 || a.Confidence > 1 {
		return fmt.Errorf("%w: confidence %v outside [0,1]", domain.ErrOracleUnavailable, a.Confidence)
	}
	return nil
}
