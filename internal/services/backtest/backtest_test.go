package backtest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"MTFTrader/internal/domain/apperr"
	"MTFTrader/internal/domain/models"
	"MTFTrader/internal/services/precompute"
	applogger "MTFTrader/pkg/logger"
)

var (
	t0     = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	strong = models.ProbabilityTriple{Buy: 0.9, Hold: 0.05, Sell: 0.05}
	short  = models.ProbabilityTriple{Buy: 0.05, Hold: 0.05, Sell: 0.9}
	flat   = models.ProbabilityTriple{Hold: 1}
)

type bar struct{ high, low, close float64 }

func flatBar() bar { return bar{101, 99, 100} }

func fixture(tf models.Timeframe, bs []bar, probs []models.ProbabilityTriple) ([]models.Candle, *precompute.Precompute) {
	candles := make([]models.Candle, len(bs))
	base := models.ProbabilitySeries{Timeframe: tf}
	for i, b := range bs {
		ts := t0.Add(time.Duration(i) * tf.Duration())
		candles[i] = models.Candle{OpenTime: ts, Symbol: "BTC/USDT", Timeframe: tf, Open: b.close, High: b.high, Low: b.low, Close: b.close}
		base.Timestamps = append(base.Timestamps, ts)
		base.Probs = append(base.Probs, probs[i])
	}
	return candles, precompute.New("BTC/USDT", base)
}

func params() models.BacktestParams {
	return models.BacktestParams{SignalThreshold: 0.6, HoldMargin: 0.05, SLATRMult: 1, TPATRMult: 2, MaxBarsInTrade: 100}
}

func TestATR(t *testing.T) {
	high := []float64{11, 12, 13}
	low := []float64{9, 10, 12}
	closes := []float64{10, 11, 12}
	got := ATR(high, low, closes, 2)
	// TR = 2, 2, max(1, 2, 1) = 2
	assert.InDeltaSlice(t, []float64{2, 2, 2}, got, 1e-12)

	got = ATR([]float64{10, 20}, []float64{10, 10}, []float64{10, 15}, 14)
	assert.InDeltaSlice(t, []float64{0, 5}, got, 1e-12)
}

func TestLevels(t *testing.T) {
	sl, tp := Levels(models.SideBuy, 100, 2, 1, 2)
	assert.Equal(t, 98.0, sl)
	assert.Equal(t, 104.0, tp)
	sl, tp = Levels(models.SideSell, 100, 2, 1.5, 3)
	assert.Equal(t, 103.0, sl)
	assert.Equal(t, 94.0, tp)
}

func TestSimulate_Exits(t *testing.T) {
	tests := map[string]struct {
		bars       []bar
		probs      []models.ProbabilityTriple
		maxBars    int
		wantReason []models.ExitReason
		wantExit   []float64
		wantPnL    []float64
		winrate    float64
	}{
		"stop loss": {
			bars:       []bar{flatBar(), {100, 97, 98.5}, flatBar()},
			probs:      []models.ProbabilityTriple{strong, flat, flat},
			wantReason: []models.ExitReason{models.ExitStopLoss},
			wantExit:   []float64{98},
			wantPnL:    []float64{-2},
			winrate:    0,
		},
		"stop loss wins over take profit": {
			bars:       []bar{flatBar(), {105, 97, 100}, flatBar()},
			probs:      []models.ProbabilityTriple{strong, flat, flat},
			wantReason: []models.ExitReason{models.ExitStopLoss},
			wantExit:   []float64{98},
			wantPnL:    []float64{-2},
		},
		"take profit": {
			bars:       []bar{flatBar(), {105, 99.5, 103}, flatBar()},
			probs:      []models.ProbabilityTriple{strong, flat, flat},
			wantReason: []models.ExitReason{models.ExitTakeProfit},
			wantExit:   []float64{104},
			wantPnL:    []float64{4},
			winrate:    100,
		},
		"timeout": {
			bars:       []bar{flatBar(), flatBar(), flatBar(), flatBar()},
			probs:      []models.ProbabilityTriple{strong, flat, flat, flat},
			maxBars:    2,
			wantReason: []models.ExitReason{models.ExitTimeout},
			wantExit:   []float64{100},
			wantPnL:    []float64{0},
		},
		"force close at end": {
			bars:       []bar{flatBar(), flatBar(), {101.5, 100.5, 101}},
			probs:      []models.ProbabilityTriple{strong, flat, flat},
			wantReason: []models.ExitReason{models.ExitEnd},
			wantExit:   []float64{101},
			wantPnL:    []float64{1},
			winrate:    100,
		},
		"flip then reverse": {
			bars:       []bar{flatBar(), flatBar(), flatBar(), flatBar()},
			probs:      []models.ProbabilityTriple{strong, flat, short, flat},
			wantReason: []models.ExitReason{models.ExitFlip, models.ExitEnd},
			wantExit:   []float64{100, 100},
			wantPnL:    []float64{0, 0},
		},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			candles, pre := fixture(models.TF15m, tc.bars, tc.probs)
			p := params()
			if tc.maxBars > 0 {
				p.MaxBarsInTrade = tc.maxBars
			}
			res := Simulate(candles, pre, "BTC/USDT", models.TF15m, 500, p, DefaultOptions())

			require.Len(t, res.Trades, len(tc.wantReason))
			for i, tr := range res.Trades {
				assert.Equal(t, models.TradeClosed, tr.Status)
				require.NotNil(t, tr.ExitReason)
				assert.Equal(t, tc.wantReason[i], *tr.ExitReason)
				assert.InDelta(t, tc.wantExit[i], *tr.ExitPrice, 1e-9)
				assert.InDelta(t, tc.wantPnL[i], tr.PnLPercent, 1e-9)
			}
			assert.Len(t, res.Markers, 2*len(tc.wantReason))
			assert.Equal(t, len(tc.wantReason), res.Stats.Count)
			assert.InDelta(t, tc.winrate, res.Stats.Winrate, 1e-9)
		})
	}
}

func TestSimulate_Markers(t *testing.T) {
	candles, pre := fixture(models.TF15m, []bar{flatBar(), {100, 97, 98.5}}, []models.ProbabilityTriple{strong, flat})
	res := Simulate(candles, pre, "BTC/USDT", models.TF15m, 500, params(), DefaultOptions())

	require.Len(t, res.Markers, 2)
	assert.Equal(t, models.Marker{Time: t0, Type: models.MarkerEntryBuy, Note: "BUY 100.0000", Color: "#66BB6A"}, res.Markers[0])
	assert.Equal(t, models.MarkerExit, res.Markers[1].Type)
	assert.Equal(t, "EXIT 98.0000 PnL -2.00%", res.Markers[1].Note)
	assert.Equal(t, "#78909C", res.Markers[1].Color)
}

func TestSimulate_OneOpenTradeAtATime(t *testing.T) {
	bs := make([]bar, 30)
	probs := make([]models.ProbabilityTriple, 30)
	for i := range bs {
		bs[i] = flatBar()
		probs[i] = strong
		if i%7 == 3 {
			probs[i] = short
		}
	}
	candles, pre := fixture(models.TF15m, bs, probs)
	res := Simulate(candles, pre, "BTC/USDT", models.TF15m, 500, params(), DefaultOptions())

	require.NotEmpty(t, res.Trades)
	for i := 1; i < len(res.Trades); i++ {
		prevExit := *res.Trades[i-1].ExitTime
		assert.False(t, res.Trades[i].EntryTime.Before(prevExit), "trade %d opened before previous exit", i)
	}
}

func TestSimulate_Window(t *testing.T) {
	bs := []bar{flatBar(), flatBar(), flatBar(), flatBar(), flatBar()}
	probs := []models.ProbabilityTriple{strong, flat, flat, flat, flat}
	candles, pre := fixture(models.TF15m, bs, probs)

	res := Simulate(candles, pre, "BTC/USDT", models.TF15m, 2, params(), DefaultOptions())
	assert.Empty(t, res.Trades)
	assert.Equal(t, models.BacktestStats{}, res.Stats)

	// a forecast bar with no matching candle is skipped
	res = Simulate(candles[1:], pre, "BTC/USDT", models.TF15m, 500, params(), DefaultOptions())
	assert.Empty(t, res.Trades)
}

func TestSimulate_MinConfirmedHigher(t *testing.T) {
	bs := []bar{flatBar(), flatBar(), flatBar()}
	candles, pre := fixture(models.TF15m, bs, []models.ProbabilityTriple{strong, flat, flat})
	hourly := models.ProbabilitySeries{
		Timeframe:  models.TF1h,
		Timestamps: []time.Time{t0},
		Probs:      []models.ProbabilityTriple{{Buy: 0.3, Hold: 0.3, Sell: 0.4}},
	}
	pre = precompute.New("BTC/USDT", pre.Base, hourly)

	p := params()
	p.SignalThreshold = 0.1
	p.MinConfirmedHigher = 1
	res := Simulate(candles, pre, "BTC/USDT", models.TF15m, 500, p, DefaultOptions())
	assert.Empty(t, res.Trades, "higher timeframe disagrees")

	hourly.Probs[0] = models.ProbabilityTriple{Buy: 0.4, Hold: 0.3, Sell: 0.3}
	pre = precompute.New("BTC/USDT", pre.Base, hourly)
	res = Simulate(candles, pre, "BTC/USDT", models.TF15m, 500, p, DefaultOptions())
	assert.Len(t, res.Trades, 1)
}

func TestSimulate_AllHoldNeverTrades(t *testing.T) {
	bs := make([]bar, 20)
	probs := make([]models.ProbabilityTriple, 20)
	for i := range bs {
		bs[i] = flatBar()
		probs[i] = flat
	}
	candles, pre := fixture(models.TF1h, bs, probs)
	res := Simulate(candles, pre, "BTC/USDT", models.TF1h, 500, params(), DefaultOptions())
	assert.Empty(t, res.Trades)
	assert.Empty(t, res.Markers)
}

type memCandles struct{ candles []models.Candle }

func (m memCandles) LatestCandles(_ context.Context, _ string, _ models.Timeframe, limit int) ([]models.Candle, error) {
	return models.TailCandles(m.candles, limit), nil
}

func (m memCandles) LastOpenTime(context.Context, string, models.Timeframe) (time.Time, bool, error) {
	return time.Time{}, false, nil
}

func (memCandles) UpsertCandles(context.Context, []models.Candle) error { return nil }

type constModel struct {
	probs   []models.ProbabilityTriple
	trained bool
}

func (m constModel) Predict(_ context.Context, _ string, tf models.Timeframe, candles []models.Candle) (models.ProbabilitySeries, error) {
	if !m.trained {
		return models.ProbabilitySeries{}, apperr.Unavailable("constModel", "untrained")
	}
	s := models.ProbabilitySeries{Timeframe: tf}
	for i, c := range candles {
		s.Timestamps = append(s.Timestamps, c.OpenTime)
		s.Probs = append(s.Probs, m.probs[i%len(m.probs)])
	}
	return s, nil
}

func TestRunner(t *testing.T) {
	bs := []bar{flatBar(), {100, 97, 98.5}, flatBar(), flatBar()}
	probs := []models.ProbabilityTriple{strong, flat, flat, flat}
	candles, pre := fixture(models.TF15m, bs, probs)
	tfs := []models.Timeframe{models.TF15m}

	t.Run("matches direct simulation", func(t *testing.T) {
		b := precompute.NewBuilder(memCandles{candles}, constModel{probs: probs, trained: true}, tfs, applogger.Nop())
		r := NewRunner(memCandles{candles}, b, applogger.Nop())
		got, err := r.Run(context.Background(), "BTC/USDT", models.TF15m, 500, params(), nil)
		require.NoError(t, err)
		want := Simulate(candles, pre, "BTC/USDT", models.TF15m, 500, params(), DefaultOptions())
		assert.Equal(t, want.Stats, got.Stats)
		assert.Equal(t, 1, got.Stats.Count)
	})

	t.Run("untrained model yields empty result", func(t *testing.T) {
		b := precompute.NewBuilder(memCandles{candles}, constModel{}, tfs, applogger.Nop())
		r := NewRunner(memCandles{candles}, b, applogger.Nop())
		got, err := r.Run(context.Background(), "BTC/USDT", models.TF15m, 500, params(), nil)
		require.NoError(t, err)
		assert.Empty(t, got.Trades)
		assert.NotNil(t, got.Markers)
	})

	t.Run("no history", func(t *testing.T) {
		b := precompute.NewBuilder(memCandles{}, constModel{trained: true}, tfs, applogger.Nop())
		r := NewRunner(memCandles{}, b, applogger.Nop())
		got, err := r.Run(context.Background(), "BTC/USDT", models.TF15m, 500, params(), nil)
		require.NoError(t, err)
		assert.Equal(t, 0, got.Stats.Count)
	})

	t.Run("panel", func(t *testing.T) {
		b := precompute.NewBuilder(memCandles{candles}, constModel{probs: probs, trained: true}, tfs, applogger.Nop())
		r := NewRunner(memCandles{candles}, b, applogger.Nop(), WithLookback(0))
		sp := models.SignalParams{EntryThreshold: 0.6, MinSupport: 0.3, HoldMarginMin: 0.05}
		panel, err := r.Panel(context.Background(), "BTC/USDT", models.TF15m, 3, sp)
		require.NoError(t, err)
		assert.Len(t, panel.Score, 3)
		assert.Equal(t, []int{0, 0, 0}, panel.Entry)

		panel, err = r.Panel(context.Background(), "BTC/USDT", models.TF15m, 10, sp)
		require.NoError(t, err)
		require.Len(t, panel.Entry, 4)
		assert.Equal(t, []int{1, 0, 0, 0}, panel.Entry)
		assert.InDelta(t, 0.7225, panel.Score[0], 1e-9)
	})
}
