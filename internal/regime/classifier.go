// Package regime turns a rolling window of price/volume samples into a
// discrete market-condition label and a volatility estimate.
package regime

import (
	"math"
	"sync"
	"time"

	"tradekernel/internal/domain"
)

// Thresholds control how window statistics map onto regime labels.
type Thresholds struct {
	// TrendMin is the minimum absolute drift (net return over the window)
	// for a trending classification.
	TrendMin float64 `yaml:"trend_min"`

	// HighVol and LowVol bound the realized-volatility bands.
	HighVol float64 `yaml:"high_vol"`
	LowVol  float64 `yaml:"low_vol"`

	// BreakoutRange is how far beyond the prior window range the last price
	// must close, as a fraction of that range, to count as a breakout.
	BreakoutRange float64 `yaml:"breakout_range"`

	// ReversalMin is the minimum opposing drift in each half of the window
	// for a reversal classification.
	ReversalMin float64 `yaml:"reversal_min"`
}

// DefaultThresholds returns the classification defaults.
func DefaultThresholds() Thresholds {
	return Thresholds{
		TrendMin:      0.01,
		HighVol:       0.015,
		LowVol:        0.003,
		BreakoutRange: 0.10,
		ReversalMin:   0.008,
	}
}

// Snapshot is one classification result.
type Snapshot struct {
	Regime     domain.Regime `json:"regime"`
	Volatility float64       `json:"volatility"`
	Confidence float64       `json:"confidence"`
	Timestamp  time.Time     `json:"timestamp"`
}

// Classifier classifies market regimes with a short-lived cache so repeated
// reads within one evaluation cycle agree with each other.
type Classifier struct {
	thresholds Thresholds
	cacheTTL   time.Duration

	mu   sync.Mutex
	last *Snapshot
}

// NewClassifier creates a classifier. A zero ttl disables the cache.
func NewClassifier(th Thresholds, ttl time.Duration) *Classifier {
	return &Classifier{thresholds: th, cacheTTL: ttl}
}

// MinWindow is the fewest samples that produce a meaningful classification.
const MinWindow = 8

// Classify labels the current window. Windows shorter than MinWindow come
// back as unknown with low confidence.
func (c *Classifier) Classify(window []domain.PriceSample) Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	if c.last != nil && c.cacheTTL > 0 && now.Sub(c.last.Timestamp) < c.cacheTTL {
		return *c.last
	}

	snap := classify(window, c.thresholds)
	snap.Timestamp = now
	c.last = &snap
	return snap
}

// Invalidate drops the cached classification so the next call recomputes.
func (c *Classifier) Invalidate() {
	c.mu.Lock()
	c.last = nil
	c.mu.Unlock()
}

func classify(window []domain.PriceSample, th Thresholds) Snapshot {
	if len(window) < MinWindow {
		return Snapshot{Regime: domain.RegimeUnknown, Confidence: 0.3}
	}

	vol := realizedVol(window)
	drift := netDrift(window)
	firstHalf := netDrift(window[:len(window)/2])
	secondHalf := netDrift(window[len(window)/2:])

	// Breakout: a range-bound prior window whose last price escapes the
	// established range by a meaningful margin. The drift requirement keeps
	// steady trends, which set new highs every sample, from counting.
	prior := window[:len(window)-1]
	lo, hi := priceRange(prior)
	last := window[len(window)-1].Price
	if span := hi - lo; span > 0 && math.Abs(netDrift(prior)) < th.TrendMin {
		margin := th.BreakoutRange * span
		if last > hi+margin || last < lo-margin {
			conf := clamp01(math.Abs(last-midpoint(lo, hi)) / span)
			return Snapshot{Regime: domain.RegimeBreakout, Volatility: vol, Confidence: conf}
		}
	}

	// Reversal: the two halves of the window drift in opposite directions
	// with real magnitude.
	if firstHalf*secondHalf < 0 &&
		math.Abs(firstHalf) >= th.ReversalMin && math.Abs(secondHalf) >= th.ReversalMin {
		conf := clamp01((math.Abs(firstHalf) + math.Abs(secondHalf)) / (4 * th.ReversalMin))
		return Snapshot{Regime: domain.RegimeReversal, Volatility: vol, Confidence: conf}
	}

	// Volatility bands trump direction when extreme.
	if vol >= th.HighVol {
		return Snapshot{Regime: domain.RegimeHighVol, Volatility: vol, Confidence: clamp01(vol / (2 * th.HighVol))}
	}

	if math.Abs(drift) >= th.TrendMin {
		regime := domain.RegimeTrendingUp
		if drift < 0 {
			regime = domain.RegimeTrendingDown
		}
		return Snapshot{Regime: regime, Volatility: vol, Confidence: clamp01(math.Abs(drift) / (2 * th.TrendMin))}
	}

	if vol <= th.LowVol {
		return Snapshot{Regime: domain.RegimeLowVol, Volatility: vol, Confidence: 0.7}
	}

	return Snapshot{Regime: domain.RegimeRanging, Volatility: vol, Confidence: 0.6}
}

// realizedVol is the standard deviation of per-sample log returns.
func realizedVol(window []domain.PriceSample) float64 {
	if len(window) < 2 {
		return 0
	}
	returns := make([]float64, 0, len(window)-1)
	for i := 1; i < len(window); i++ {
		prev, cur := window[i-1].Price, window[i].Price
		if prev <= 0 || cur <= 0 {
			continue
		}
		returns = append(returns, math.Log(cur/prev))
	}
	if len(returns) == 0 {
		return 0
	}
	var mean float64
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))
	var variance float64
	for _, r := range returns {
		variance += (r - mean) * (r - mean)
	}
	variance /= float64(len(returns))
	return math.Sqrt(variance)
}

// netDrift is the fractional change from the first to the last sample.
func netDrift(window []domain.PriceSample) float64 {
	if len(window) < 2 || window[0].Price <= 0 {
		return 0
	}
	return (window[len(window)-1].Price - window[0].Price) / window[0].Price
}

func priceRange(window []domain.PriceSample) (lo, hi float64) {
	lo, hi = math.Inf(1), math.Inf(-1)
	for _, s := range window {
		if s.Price < lo {
			lo = s.Price
		}
		if s.Price > hi {
			hi = s.Price
		}
	}
	return lo, hi
}

func midpoint(lo, hi float64) float64 { return (lo + hi) / 2 }

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
