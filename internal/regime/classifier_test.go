package regime

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"tradekernel/internal/domain"
)

func window(prices ...float64) []domain.PriceSample {
	base := time.Now().Add(-time.Duration(len(prices)) * time.Minute)
	out := make([]domain.PriceSample, len(prices))
	for i, p := range prices {
		out[i] = domain.PriceSample{Price: p, Volume: 100, Timestamp: base.Add(time.Duration(i) * time.Minute)}
	}
	return out
}

func newTestClassifier() *Classifier {
	// No cache so every call recomputes.
	return NewClassifier(DefaultThresholds(), 0)
}

func TestClassify_ShortWindowIsUnknown(t *testing.T) {
	snap := newTestClassifier().Classify(window(100, 101, 102))
	assert.Equal(t, domain.RegimeUnknown, snap.Regime)
}

func TestClassify_TrendingUp(t *testing.T) {
	snap := newTestClassifier().Classify(window(100, 100.5, 101, 101.4, 102, 102.4, 103, 103.5, 104))
	assert.Equal(t, domain.RegimeTrendingUp, snap.Regime)
	assert.Greater(t, snap.Confidence, 0.0)
}

func TestClassify_TrendingDown(t *testing.T) {
	snap := newTestClassifier().Classify(window(104, 103.5, 103, 102.4, 102, 101.4, 101, 100.5, 100))
	assert.Equal(t, domain.RegimeTrendingDown, snap.Regime)
}

func TestClassify_Ranging(t *testing.T) {
	snap := newTestClassifier().Classify(window(100, 100.4, 99.7, 100.3, 99.8, 100.2, 99.9, 100.1, 100.0))
	assert.Equal(t, domain.RegimeRanging, snap.Regime)
}

func TestClassify_HighVolatility(t *testing.T) {
	snap := newTestClassifier().Classify(window(100, 104, 98, 105, 97, 103, 96, 104, 99))
	assert.Equal(t, domain.RegimeHighVol, snap.Regime)
	assert.Greater(t, snap.Volatility, DefaultThresholds().HighVol)
}

func TestClassify_LowVolatility(t *testing.T) {
	snap := newTestClassifier().Classify(window(100, 100.01, 100.02, 100.01, 100.02, 100.03, 100.02, 100.03, 100.02))
	assert.Equal(t, domain.RegimeLowVol, snap.Regime)
}

func TestClassify_Breakout(t *testing.T) {
	// Tight range then a close well above it.
	snap := newTestClassifier().Classify(window(100, 100.2, 99.9, 100.1, 100.0, 100.2, 99.8, 100.1, 101.5))
	assert.Equal(t, domain.RegimeBreakout, snap.Regime)
}

func TestClassify_Reversal(t *testing.T) {
	// Strong rise in the first half, strong fall in the second.
	snap := newTestClassifier().Classify(window(100, 101, 102, 103, 104, 103, 102, 101, 100))
	assert.Equal(t, domain.RegimeReversal, snap.Regime)
}

func TestClassify_CacheReturnsSameResultWithinTTL(t *testing.T) {
	c := NewClassifier(DefaultThresholds(), time.Minute)

	first := c.Classify(window(100, 100.5, 101, 101.4, 102, 102.4, 103, 103.5, 104))
	// A completely different window inside the TTL still returns the cached
	// classification, so all reads in one cycle agree.
	second := c.Classify(window(104, 103.5, 103, 102.4, 102, 101.4, 101, 100.5, 100))
	assert.Equal(t, first.Regime, second.Regime)

	c.Invalidate()
	third := c.Classify(window(104, 103.5, 103, 102.4, 102, 101.4, 101, 100.5, 100))
	assert.Equal(t, domain.RegimeTrendingDown, third.Regime)
}

func TestRealizedVol_EmptyAndConstant(t *testing.T) {
	assert.Equal(t, 0.0, realizedVol(nil))
	assert.Equal(t, 0.0, realizedVol(window(100, 100, 100, 100)))
}
