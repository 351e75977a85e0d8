// Package risk implements the safety gate every decision passes through
// before it may reach the execution layer. Evaluation is pure: all state is
// passed in as arguments and the gate holds no references back into the
// orchestrator.
package risk

import (
	"fmt"
	"time"

	"tradekernel/internal/domain"
)

// Verdict strings reported by Evaluate. The first violated check wins and
// its verdict is the one reported.
const (
	VerdictOK            = "ok"
	VerdictHalted        = "halted"
	VerdictBlockedNew    = "suspension_block_new"
	VerdictReducedSize   = "suspension_reduce_size"
	VerdictResized       = "resized"
	VerdictDailyLoss     = "daily_loss_limit"
	VerdictPositionCap   = "position_cap"
)

// Proposal is the decision candidate under evaluation.
type Proposal struct {
	Symbol    string
	Direction domain.Direction
	Size      float64
}

// Result is the gate's output: the size actually allowed plus the verdict and
// enough metrics to reconstruct the evaluation offline.
type Result struct {
	AllowedSize float64            `json:"allowed_size"`
	Verdict     string             `json:"verdict"`
	Reason      string             `json:"reason"`
	Metrics     map[string]float64 `json:"metrics"`
}

// Allowed reports whether any size survived the gate.
func (r Result) Allowed() bool {
	return r.AllowedSize > 0
}

// Evaluate runs the ordered safety checks. The ordering is a frozen contract:
// suspensions dominate, then hard caps, then soft caps.
//
//  1. any active halt_all suspension zeroes the size;
//  2. (suspension domination, continued) block_new denies symbols with no
//     existing exposure; reduce_size halves the proposal;
//  3. proposed size plus current exposure above MaxPositionSize clamps to the
//     remaining headroom;
//  4. daily realized+unrealized loss at or past MaxDailyLoss zeroes the size;
//  5. open positions at MaxConcurrentPositions with a new symbol zeroes the
//     size; otherwise the (possibly reduced) proposal is allowed.
func Evaluate(p Proposal, exposure domain.Exposure, suspensions []domain.SafetySuspension,
	limits domain.RiskLimits, now time.Time) Result {

	metrics := map[string]float64{
		"proposed_size":    p.Size,
		"position_size":    exposure.PositionSize,
		"open_positions":   float64(exposure.OpenPositions),
		"daily_loss":       exposure.DailyLoss,
		"max_position":     limits.MaxPositionSize,
		"max_daily_loss":   limits.MaxDailyLoss,
		"max_positions":    float64(limits.MaxConcurrentPositions),
	}

	// Hold proposals and non-positive sizes carry no risk; report ok with
	// zero size so callers cannot smuggle a size through a hold.
	if p.Direction == domain.Hold || p.Size <= 0 {
		return Result{AllowedSize: 0, Verdict: VerdictOK, Reason: "no position requested", Metrics: metrics}
	}

	action, suspended := domain.MostRestrictive(suspensions, now)

	// 1. Suspensions dominate everything else.
	if suspended && action == domain.ActionHaltAll {
		return Result{
			AllowedSize: 0,
			Verdict:     VerdictHalted,
			Reason:      "halt_all suspension active",
			Metrics:     metrics,
		}
	}

	size := p.Size
	reducedBySuspension := false
	if suspended {
		switch action {
		case domain.ActionBlockNew:
			if exposure.PositionSize == 0 {
				return Result{
					AllowedSize: 0,
					Verdict:     VerdictBlockedNew,
					Reason:      "block_new suspension active and symbol has no exposure",
					Metrics:     metrics,
				}
			}
		case domain.ActionReduceSize:
			size = size / 2
			reducedBySuspension = true
			metrics["suspension_reduced_size"] = size
		}
	}

	// 2. Hard cap: per-symbol position size. Clamp, don't deny.
	headroom := limits.MaxPositionSize - exposure.PositionSize
	if headroom < 0 {
		headroom = 0
	}
	if size > headroom {
		metrics["headroom"] = headroom
		return Result{
			AllowedSize: headroom,
			Verdict:     VerdictResized,
			Reason: fmt.Sprintf("size %.4f exceeds headroom %.4f (exposure %.4f of max %.4f)",
				size, headroom, exposure.PositionSize, limits.MaxPositionSize),
			Metrics: metrics,
		}
	}

	// 3. Daily loss limit.
	if exposure.DailyLoss >= limits.MaxDailyLoss {
		return Result{
			AllowedSize: 0,
			Verdict:     VerdictDailyLoss,
			Reason: fmt.Sprintf("daily loss %.4f at or above limit %.4f",
				exposure.DailyLoss, limits.MaxDailyLoss),
			Metrics: metrics,
		}
	}

	// 4. Concurrent position cap applies only to symbols we hold nothing in.
	if exposure.PositionSize == 0 && exposure.OpenPositions >= limits.MaxConcurrentPositions {
		return Result{
			AllowedSize: 0,
			Verdict:     VerdictPositionCap,
			Reason: fmt.Sprintf("open positions %d at cap %d and %s is new",
				exposure.OpenPositions, limits.MaxConcurrentPositions, p.Symbol),
			Metrics: metrics,
		}
	}

	// 5. Allowed.
	verdict := VerdictOK
	reason := "all checks passed"
	if reducedBySuspension {
		verdict = VerdictReducedSize
		reason = "reduce_size suspension halved the proposal"
	}
	return Result{AllowedSize: size, Verdict: verdict, Reason: reason, Metrics: metrics}
}
