package policy

import (
	"math"

	"tradekernel/internal/domain"
	"tradekernel/internal/regime"
)

// RuleSignal is the deterministic signal: a pure function of the snapshot
// and the current regime classification. It never blocks and never touches
// shared state, so it can run on a worker without coordination.
func RuleSignal(snapshot domain.MarketSnapshot, reg regime.Snapshot) (domain.Direction, float64) {
	drift := windowDrift(snapshot.Window)

	switch reg.Regime {
	case domain.RegimeTrendingUp:
		// Trend following: ride the trend unless the window contradicts it.
		if drift >= 0 {
			return domain.Buy, combine(reg.Confidence, magnitude(drift))
		}
		return domain.Hold, 0.4

	case domain.RegimeTrendingDown:
		if drift <= 0 {
			return domain.Sell, combine(reg.Confidence, magnitude(drift))
		}
		return domain.Hold, 0.4

	case domain.RegimeBreakout:
		// Follow the breakout direction.
		if drift > 0 {
			return domain.Buy, combine(reg.Confidence, magnitude(drift))
		}
		if drift < 0 {
			return domain.Sell, combine(reg.Confidence, magnitude(drift))
		}
		return domain.Hold, 0.3

	case domain.RegimeReversal:
		// Fade the first-half move: the second half's direction leads.
		half := snapshot.Window[len(snapshot.Window)/2:]
		recent := windowDrift(half)
		if recent > 0 {
			return domain.Buy, combine(reg.Confidence, magnitude(recent)) * 0.8
		}
		if recent < 0 {
			return domain.Sell, combine(reg.Confidence, magnitude(recent)) * 0.8
		}
		return domain.Hold, 0.3

	case domain.RegimeHighVol:
		// Stand aside in disorderly markets.
		return domain.Hold, 0.7

	case domain.RegimeRanging, domain.RegimeLowVol:
		// Mean reversion off the band edges.
		lo, hi := windowRange(snapshot.Window)
		if span := hi - lo; span > 0 && snapshot.LastPrice > 0 {
			pos := (snapshot.LastPrice - lo) / span
			if pos <= 0.2 {
				return domain.Buy, 0.5 + 0.3*(0.2-pos)/0.2
			}
			if pos >= 0.8 {
				return domain.Sell, 0.5 + 0.3*(pos-0.8)/0.2
			}
		}
		return domain.Hold, 0.5
	}

	return domain.Hold, 0.2
}

func windowDrift(window []domain.PriceSample) float64 {
	if len(window) < 2 || window[0].Price <= 0 {
		return 0
	}
	return (window[len(window)-1].Price - window[0].Price) / window[0].Price
}

func windowRange(window []domain.PriceSample) (lo, hi float64) {
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

// magnitude maps a drift onto [0,1]; a 2% move saturates.
func magnitude(drift float64) float64 {
	m := math.Abs(drift) / 0.02
	if m > 1 {
		return 1
	}
	return m
}

// combine blends regime confidence and signal strength.
func combine(regimeConf, strength float64) float64 {
	c := 0.5*regimeConf + 0.5*strength
	if c > 1 {
		return 1
	}
	if c < 0 {
		return 0
	}
	return c
}
