package signal

import (
	"math"

	"MTFTrader/internal/domain/models"
)

// DecideEntry checks score strength, timeframe agreement and the base hold margin.
func DecideEntry(agg models.AggregatedSignal, base models.ProbabilityTriple, entryThreshold, minSupport, holdMarginMin float64) models.Decision {
	ok := math.Abs(agg.Score) >= entryThreshold &&
		agg.Support >= minSupport &&
		base.HoldMargin() >= holdMarginMin
	return models.Decision{Allowed: ok, Direction: agg.Direction, Strength: math.Abs(agg.Score)}
}

// ExitRule holds the thresholds DecideExit checks.
type ExitRule struct {
	ExitThreshold float64
	MinSupport    float64
	HoldMarginMin float64
	ExitOnFlip    bool
}

// ExitRuleFrom extracts the exit rule from live parameters.
func ExitRuleFrom(p models.SignalParams) ExitRule {
	return ExitRule{
		ExitThreshold: p.ExitThreshold,
		MinSupport:    p.MinSupport,
		HoldMarginMin: p.HoldMarginMin,
		ExitOnFlip:    p.ExitOnFlip,
	}
}

// DecideExit reports whether an open position in openDir should be closed.
// A zero score counts as a flip against any open direction.
func DecideExit(agg models.AggregatedSignal, openDir int, base models.ProbabilityTriple, rule ExitRule) bool {
	flip := openDir != 0 && sign(agg.Score) != sign(float64(openDir))
	if rule.ExitOnFlip && flip {
		return true
	}
	return math.Abs(agg.Score) < rule.ExitThreshold ||
		agg.Support < rule.MinSupport ||
		base.HoldMargin() < rule.HoldMarginMin
}

// ConsistentHigherCount counts non-base timeframes whose own buy/sell imbalance
// points in dir.
func ConsistentHigherCount(dir int, probs map[models.Timeframe]models.ProbabilityTriple, base models.Timeframe) int {
	if dir == 0 {
		return 0
	}
	n := 0
	for tf, p := range probs {
		if tf == base {
			continue
		}
		if sign(p.Buy-p.Sell) == dir {
			n++
		}
	}
	return n
}
