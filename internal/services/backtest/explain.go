package backtest

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"MTFTrader/internal/domain/apperr"
	"MTFTrader/internal/domain/models"
	"MTFTrader/internal/services/features"
	"MTFTrader/internal/services/precompute"
	"MTFTrader/internal/services/signal"
)

const (
	explainHistory = 5000
	snapshotBars   = 400
)

// snapshotSettings are the indicators reported next to an explanation.
var snapshotSettings = models.FeatureSettings{
	RSIPeriod:   14,
	StochK:      14,
	StochSmooth: 3,
	StochD:      3,
	MACDFast:    12,
	MACDSlow:    26,
	MACDSignal:  9,
	EMAPeriods:  []int{50, 200},
}

var snapshotColumns = map[string]string{
	"rsi":       "rsi14",
	"stoch_k":   "stoch_k",
	"stoch_d":   "stoch_d",
	"macd_hist": "macd_hist",
	"ema_50":    "ema50",
	"ema_200":   "ema200",
}

// Explain reports how the entry decision for the base bar at or before at was
// reached. Aggregation is unsmoothed. A time before the first forecast is Invalid.
func (r *Runner) Explain(ctx context.Context, symbol string, tf models.Timeframe, at time.Time, params models.SignalParams) (models.SignalExplanation, error) {
	const op = "backtest.Explain"
	pre, err := r.builder.Build(ctx, symbol, tf, explainHistory)
	if err != nil {
		return models.SignalExplanation{}, err
	}
	pos := precompute.AsOf(pre.Index(), at)
	if pos < 0 {
		return models.SignalExplanation{}, apperr.Invalid(op, "%s is before the first %s %s forecast", at.UTC().Format(time.RFC3339), symbol, tf)
	}

	ts, probs := pre.At(pos)
	base := probs[tf]
	agg := signal.Aggregate(probs, r.opts.Weights, nil)
	d := signal.DecideEntry(agg, base, params.EntryThreshold, params.MinSupport, params.HoldMarginMin)

	ex := models.SignalExplanation{
		Symbol:    symbol,
		Timeframe: tf,
		Time:      ts,
		Decision:  decisionLabel(d),
		Score:     agg.Score,
		Support:   agg.Support,
		Thresholds: models.ExplainThresholds{
			Entry:         params.EntryThreshold,
			MinSupport:    params.MinSupport,
			HoldMarginMin: params.HoldMarginMin,
		},
		BaseProbs:    base,
		PerTimeframe: contributions(probs, agg, r.opts.Weights),
	}
	ex.Text = explainText(ex, base.HoldMargin())

	ind, err := r.snapshot(ctx, symbol, tf, ts)
	if err != nil {
		return ex, err
	}
	ex.Indicators = ind
	return ex, nil
}

// snapshot computes indicator values on the bar at ts over the preceding window.
func (r *Runner) snapshot(ctx context.Context, symbol string, tf models.Timeframe, ts time.Time) (map[string]float64, error) {
	candles, err := r.candles.LatestCandles(ctx, symbol, tf, explainHistory)
	if err != nil {
		return nil, fmt.Errorf("load %s candles: %w", tf, err)
	}
	end := sort.Search(len(candles), func(i int) bool { return candles[i].OpenTime.After(ts) })
	window := models.TailCandles(candles[:end], snapshotBars)
	if len(window) == 0 {
		return nil, nil
	}

	m := features.Extract(window, snapshotSettings)
	out := make(map[string]float64, len(snapshotColumns))
	for col, key := range snapshotColumns {
		if vals := m.Column(col); len(vals) > 0 {
			if v := vals[len(vals)-1]; !math.IsNaN(v) {
				out[key] = v
			}
		}
	}
	return out, nil
}

func decisionLabel(d models.Decision) string {
	switch {
	case d.Allowed && d.Direction > 0:
		return models.DecisionBuy
	case d.Allowed && d.Direction < 0:
		return models.DecisionSell
	default:
		return models.DecisionHold
	}
}

// contributions are ordered by weight, then by score magnitude, both descending.
func contributions(probs map[models.Timeframe]models.ProbabilityTriple, agg models.AggregatedSignal, weights signal.Weights) []models.TimeframeContribution {
	tfs := make([]models.Timeframe, 0, len(probs))
	for tf := range probs {
		tfs = append(tfs, tf)
	}
	tfs = models.SortFastToSlow(tfs)

	rows := make([]models.TimeframeContribution, 0, len(tfs))
	for _, tf := range tfs {
		p := probs[tf]
		score, ok := agg.Scores[tf]
		if !ok {
			score = signal.TimeframeScore(p)
		}
		rows = append(rows, models.TimeframeContribution{
			Timeframe: tf,
			Weight:    weights[tf],
			Buy:       p.Buy,
			Hold:      p.Hold,
			Sell:      p.Sell,
			Score:     score,
		})
	}
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].Weight != rows[j].Weight {
			return rows[i].Weight > rows[j].Weight
		}
		return math.Abs(rows[i].Score) > math.Abs(rows[j].Score)
	})
	return rows
}

func explainText(ex models.SignalExplanation, holdMargin float64) []string {
	strength := math.Abs(ex.Score)
	return []string{
		fmt.Sprintf("|score| %.3f %s entry threshold %.3f", strength, compare(strength, ex.Thresholds.Entry), ex.Thresholds.Entry),
		fmt.Sprintf("support %.3f %s min support %.3f", ex.Support, compare(ex.Support, ex.Thresholds.MinSupport), ex.Thresholds.MinSupport),
		fmt.Sprintf("base hold margin %.3f %s minimum %.3f", holdMargin, compare(holdMargin, ex.Thresholds.HoldMarginMin), ex.Thresholds.HoldMarginMin),
		"decision: " + ex.Decision,
	}
}

func compare(v, threshold float64) string {
	if v >= threshold {
		return ">="
	}
	return "<"
}
