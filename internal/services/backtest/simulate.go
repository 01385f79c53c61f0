// Package backtest replays the entry and exit rules over historical forecasts.
package backtest

import (
	"fmt"
	"time"

	"MTFTrader/internal/domain/models"
	"MTFTrader/internal/services/precompute"
	"MTFTrader/internal/services/signal"
)

const originBacktest = "backtest"

// Options carries the rule settings that are not tuned per run.
type Options struct {
	Weights    signal.Weights
	MinSupport float64
	ExitOnFlip bool
	ATRPeriod  int
}

// DefaultOptions matches the stock signal configuration.
func DefaultOptions() Options {
	return Options{
		Weights:    signal.DefaultWeights(),
		MinSupport: 0.3,
		ExitOnFlip: true,
		ATRPeriod:  14,
	}
}

type bars struct {
	candles []models.Candle
	atr     []float64
	pos     map[int64]int
}

func newBars(candles []models.Candle, atrPeriod int) bars {
	high := make([]float64, len(candles))
	low := make([]float64, len(candles))
	closes := make([]float64, len(candles))
	pos := make(map[int64]int, len(candles))
	for i, c := range candles {
		high[i], low[i], closes[i] = c.High, c.Low, c.Close
		pos[c.OpenTime.UnixNano()] = i
	}
	return bars{candles: candles, atr: ATR(high, low, closes, atrPeriod), pos: pos}
}

func (b bars) lookup(ts time.Time) (int, bool) {
	i, ok := b.pos[ts.UnixNano()]
	return i, ok
}

// Simulate walks the last min(pre.Len(), limit) bars of the precompute and
// trades at most one position at a time.
func Simulate(candles []models.Candle, pre *precompute.Precompute, symbol string, tf models.Timeframe,
	limit int, params models.BacktestParams, opts Options,
) models.BacktestResult {
	res := models.EmptyBacktestResult(symbol, tf)
	if pre == nil || pre.Len() == 0 || len(candles) == 0 {
		return res
	}
	if opts.Weights == nil {
		opts.Weights = signal.DefaultWeights()
	}

	data := newBars(candles, opts.ATRPeriod)
	base := pre.BaseTimeframe()
	start := pre.Len() - min(pre.Len(), max(limit, 0))

	var open *models.Trade
	record := func(t *models.Trade) {
		res.Trades = append(res.Trades, *t)
		res.Markers = append(res.Markers, tradeMarkers(t)...)
	}

	for i := start; i < pre.Len(); i++ {
		ts, probs := pre.At(i)
		baseProbs := probs[base]
		agg := signal.Aggregate(probs, opts.Weights, nil)

		d := signal.DecideEntry(agg, baseProbs, params.SignalThreshold, opts.MinSupport, params.HoldMargin)
		ok := d.Allowed
		if ok && params.MinConfirmedHigher > 0 &&
			signal.ConsistentHigherCount(agg.Direction, probs, base) < params.MinConfirmedHigher {
			ok = false
		}

		k, found := data.lookup(ts)
		if !found {
			continue
		}
		bar := data.candles[k]

		if open != nil {
			open.BarsHeld++
			if reason, price, exit := checkExit(open, bar, ok, d.Direction, opts.ExitOnFlip); exit {
				open.Close(price, ts, reason)
				record(open)
				open = nil
			}
		}

		if open == nil && ok && d.Direction != 0 {
			open = openTrade(symbol, tf, bar, data.atr[k], d.Direction, params)
		}
	}

	if open != nil {
		last := data.candles[len(data.candles)-1]
		open.Close(last.Close, last.OpenTime, models.ExitEnd)
		record(open)
	}

	res.Stats = Stats(res.Trades)
	return res
}

// checkExit applies stop loss, take profit, flip and timeout in that order.
func checkExit(t *models.Trade, bar models.Candle, ok bool, dir int, exitOnFlip bool) (models.ExitReason, float64, bool) {
	var hitSL, hitTP bool
	if t.Side == models.SideBuy {
		hitSL = bar.Low <= t.StopLoss
		hitTP = bar.High >= t.TakeProfit
	} else {
		hitSL = bar.High >= t.StopLoss
		hitTP = bar.Low <= t.TakeProfit
	}
	switch {
	case hitSL:
		return models.ExitStopLoss, t.StopLoss, true
	case hitTP:
		return models.ExitTakeProfit, t.TakeProfit, true
	case exitOnFlip && ok && dir != 0 && dir != t.Side.Direction():
		return models.ExitFlip, bar.Close, true
	case t.BarsHeld >= t.MaxBars:
		return models.ExitTimeout, bar.Close, true
	}
	return "", 0, false
}

func openTrade(symbol string, tf models.Timeframe, bar models.Candle, atr float64, dir int, p models.BacktestParams) *models.Trade {
	side := models.SideFromDirection(dir)
	sl, tp := Levels(side, bar.Close, atr, p.SLATRMult, p.TPATRMult)
	return &models.Trade{
		Symbol:     symbol,
		Timeframe:  tf,
		Side:       side,
		Quantity:   1,
		EntryPrice: bar.Close,
		EntryTime:  bar.OpenTime,
		StopLoss:   sl,
		TakeProfit: tp,
		MaxBars:    p.MaxBarsInTrade,
		Status:     models.TradeOpen,
		Origin:     originBacktest,
	}
}

// Levels returns stop loss and take profit around entry.
func Levels(side models.Side, entry, atr, slMult, tpMult float64) (sl, tp float64) {
	if side == models.SideBuy {
		return entry - slMult*atr, entry + tpMult*atr
	}
	return entry + slMult*atr, entry - tpMult*atr
}

func tradeMarkers(t *models.Trade) []models.Marker {
	entry := models.Marker{
		Time:  t.EntryTime,
		Type:  models.MarkerEntryBuy,
		Note:  fmt.Sprintf("%s %.4f", t.Side, t.EntryPrice),
		Color: models.ColorEntryBuy,
	}
	if t.Side == models.SideSell {
		entry.Type, entry.Color = models.MarkerEntrySell, models.ColorEntrySell
	}
	out := []models.Marker{entry}
	if t.ExitTime != nil && t.ExitPrice != nil {
		out = append(out, models.Marker{
			Time:  *t.ExitTime,
			Type:  models.MarkerExit,
			Note:  fmt.Sprintf("EXIT %.4f PnL %.2f%%", *t.ExitPrice, t.PnLPercent),
			Color: models.ColorExit,
		})
	}
	return out
}

// Stats counts closed trades and the share with positive PnL.
func Stats(trades []models.Trade) models.BacktestStats {
	var count, wins int
	for _, t := range trades {
		if t.Status != models.TradeClosed {
			continue
		}
		count++
		if t.PnLPercent > 0 {
			wins++
		}
	}
	st := models.BacktestStats{Count: count}
	if count > 0 {
		st.Winrate = float64(wins) / float64(count) * 100
	}
	return st
}
