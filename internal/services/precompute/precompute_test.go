package precompute

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"MTFTrader/internal/domain/apperr"
	"MTFTrader/internal/domain/models"
	applogger "MTFTrader/pkg/logger"
)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func series(tf models.Timeframe, n int, step time.Duration, p models.ProbabilityTriple) models.ProbabilitySeries {
	s := models.ProbabilitySeries{Timeframe: tf}
	for i := 0; i < n; i++ {
		s.Timestamps = append(s.Timestamps, t0.Add(time.Duration(i)*step))
		s.Probs = append(s.Probs, p)
	}
	return s
}

func TestAsOf(t *testing.T) {
	idx := []time.Time{t0, t0.Add(time.Hour), t0.Add(2 * time.Hour)}
	tests := map[string]struct {
		ts   time.Time
		want int
	}{
		"before first": {ts: t0.Add(-time.Minute), want: -1},
		"exact first":  {ts: t0, want: 0},
		"between":      {ts: t0.Add(90 * time.Minute), want: 1},
		"exact last":   {ts: t0.Add(2 * time.Hour), want: 2},
		"after last":   {ts: t0.Add(10 * time.Hour), want: 2},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.want, AsOf(idx, tc.ts))
		})
	}
	assert.Equal(t, -1, AsOf(nil, t0))
}

func TestPrecompute_At(t *testing.T) {
	base := series(models.TF15m, 8, 15*time.Minute, models.ProbabilityTriple{Buy: 0.6, Hold: 0.2, Sell: 0.2})
	hourly := series(models.TF1h, 2, time.Hour, models.ProbabilityTriple{Buy: 0.1, Hold: 0.1, Sell: 0.8})
	hourly.Probs[1] = models.ProbabilityTriple{Buy: 0.9, Hold: 0.05, Sell: 0.05}
	late := models.ProbabilitySeries{
		Timeframe:  models.TF4h,
		Timestamps: []time.Time{t0.Add(time.Hour)},
		Probs:      []models.ProbabilityTriple{{Hold: 1}},
	}
	pre := New("BTC/USDT", base, hourly, late)

	ts, probs := pre.At(0)
	assert.Equal(t, t0, ts)
	assert.Equal(t, base.Probs[0], probs[models.TF15m])
	assert.Equal(t, hourly.Probs[0], probs[models.TF1h])
	_, has4h := probs[models.TF4h]
	assert.False(t, has4h, "no 4h bar at or before t0")

	ts, probs = pre.At(5)
	assert.Equal(t, t0.Add(75*time.Minute), ts)
	assert.Equal(t, hourly.Probs[1], probs[models.TF1h])
	assert.Equal(t, late.Probs[0], probs[models.TF4h])
	assert.Equal(t, 8, pre.Len())
	assert.Equal(t, models.TF15m, pre.BaseTimeframe())
}

type fakeCandles struct {
	bars map[models.Timeframe]int
	got  map[models.Timeframe]int
}

func (f *fakeCandles) LatestCandles(_ context.Context, symbol string, tf models.Timeframe, limit int) ([]models.Candle, error) {
	if f.got == nil {
		f.got = map[models.Timeframe]int{}
	}
	f.got[tf] = limit
	n := min(f.bars[tf], limit)
	out := make([]models.Candle, n)
	for i := range out {
		out[i] = models.Candle{Symbol: symbol, Timeframe: tf, OpenTime: t0.Add(time.Duration(i) * tf.Duration()), Close: 100}
	}
	return out, nil
}

func (f *fakeCandles) LastOpenTime(context.Context, string, models.Timeframe) (time.Time, bool, error) {
	return time.Time{}, false, nil
}

func (f *fakeCandles) UpsertCandles(context.Context, []models.Candle) error { return nil }

type fakeModel struct {
	trained map[models.Timeframe]bool
}

func (m fakeModel) Predict(_ context.Context, _ string, tf models.Timeframe, candles []models.Candle) (models.ProbabilitySeries, error) {
	if !m.trained[tf] {
		return models.ProbabilitySeries{}, apperr.Unavailable("fake.Predict", "no model for %s", tf)
	}
	s := models.ProbabilitySeries{Timeframe: tf}
	for _, c := range candles {
		s.Timestamps = append(s.Timestamps, c.OpenTime)
		s.Probs = append(s.Probs, models.ProbabilityTriple{Buy: 0.5, Hold: 0.3, Sell: 0.2})
	}
	return s, nil
}

func TestBuilder_Build(t *testing.T) {
	tfs := models.DefaultTimeframes()

	t.Run("omits untrained and empty timeframes", func(t *testing.T) {
		store := &fakeCandles{bars: map[models.Timeframe]int{models.TF15m: 50, models.TF1h: 20, models.TF4h: 0, models.TF1d: 5}}
		b := NewBuilder(store, fakeModel{trained: map[models.Timeframe]bool{
			models.TF15m: true, models.TF1h: true, models.TF4h: true,
		}}, tfs, applogger.Nop())

		pre, err := b.Build(context.Background(), "BTC/USDT", models.TF15m, 300)
		require.NoError(t, err)
		assert.Equal(t, 50, pre.Len())
		assert.Len(t, pre.Others, 1)
		assert.Contains(t, pre.Others, models.TF1h)
		assert.Equal(t, MinHistory, store.got[models.TF15m])
	})

	t.Run("limit above minimum", func(t *testing.T) {
		store := &fakeCandles{bars: map[models.Timeframe]int{models.TF1h: 10}}
		b := NewBuilder(store, fakeModel{trained: map[models.Timeframe]bool{models.TF1h: true}}, tfs, applogger.Nop())
		_, err := b.Build(context.Background(), "BTC/USDT", models.TF1h, 5000)
		require.NoError(t, err)
		assert.Equal(t, 5000, store.got[models.TF1h])
	})

	t.Run("base without model", func(t *testing.T) {
		store := &fakeCandles{bars: map[models.Timeframe]int{models.TF15m: 50}}
		b := NewBuilder(store, fakeModel{}, tfs, applogger.Nop())
		_, err := b.Build(context.Background(), "BTC/USDT", models.TF15m, 300)
		assert.True(t, apperr.IsUnavailable(err))
	})

	t.Run("base without history", func(t *testing.T) {
		b := NewBuilder(&fakeCandles{}, fakeModel{trained: map[models.Timeframe]bool{models.TF15m: true}}, tfs, applogger.Nop())
		_, err := b.Build(context.Background(), "BTC/USDT", models.TF15m, 300)
		assert.True(t, apperr.IsUnavailable(err))
	})
}
