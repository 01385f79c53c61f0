package features

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"MTFTrader/internal/domain/models"
)

func syntheticCandles(n int) []models.Candle {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make([]models.Candle, n)
	for i := range out {
		p := 100 + 5*math.Sin(float64(i)/7) + float64(i)*0.05
		out[i] = models.Candle{
			OpenTime:  start.Add(time.Duration(i) * time.Hour),
			Symbol:    "BTC/USDT",
			Timeframe: models.TF1h,
			Open:      p - 0.2,
			High:      p + 1,
			Low:       p - 1,
			Close:     p,
			Volume:    10,
		}
	}
	return out
}

func TestAligner(t *testing.T) {
	m := Matrix{
		Names: []string{"rsi", "macd", "ema_9"},
		Rows: [][]float64{
			{50, 1.5, 100},
			{math.NaN(), math.Inf(1), 101},
		},
	}

	tests := map[string]struct {
		aligner    Aligner
		wantNames  []string
		wantFirst  []float64
		wantSecond []float64
	}{
		"saved names reorder and zero missing": {
			aligner:    Aligner{Names: []string{"ema_9", "stoch_k", "rsi"}},
			wantNames:  []string{"ema_9", "stoch_k", "rsi"},
			wantFirst:  []float64{100, 0, 50},
			wantSecond: []float64{101, 0, 0},
		},
		"no names sorts lexicographically": {
			aligner:    Aligner{Width: 3},
			wantNames:  []string{"ema_9", "macd", "rsi"},
			wantFirst:  []float64{100, 1.5, 50},
			wantSecond: []float64{101, 0, 0},
		},
		"no names truncates": {
			aligner:    Aligner{Width: 2},
			wantNames:  []string{"ema_9", "macd"},
			wantFirst:  []float64{100, 1.5},
			wantSecond: []float64{101, 0},
		},
		"no names pads": {
			aligner:    Aligner{Width: 5},
			wantNames:  []string{"ema_9", "macd", "rsi", "_pad_3", "_pad_4"},
			wantFirst:  []float64{100, 1.5, 50, 0, 0},
			wantSecond: []float64{101, 0, 0, 0, 0},
		},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			rows, names := tc.aligner.Align(m)
			assert.Equal(t, tc.wantNames, names)
			require.Len(t, rows, 2)
			assert.Equal(t, tc.wantFirst, rows[0])
			assert.Equal(t, tc.wantSecond, rows[1])
		})
	}
}

func TestExtract_ShapeAndNames(t *testing.T) {
	settings := models.DefaultFeatureSettings()
	candles := syntheticCandles(200)
	m := Extract(candles, settings)

	assert.Equal(t, []string{
		"rsi", "stoch_k", "stoch_d", "macd", "macd_signal", "macd_hist",
		"ema_9", "ema_21", "ema_50", "sma_20", "sma_50", "log_ret", "rvol_20",
	}, m.Names)
	require.Len(t, m.Rows, 200)
	for _, row := range m.Rows {
		assert.Len(t, row, len(m.Names))
	}

	rsi := m.Column("rsi")
	last := rsi[len(rsi)-1]
	assert.Greater(t, last, 0.0)
	assert.Less(t, last, 100.0)
	assert.Nil(t, m.Column("unknown"))
}

func TestExtract_ShortHistoryIsZeroFilled(t *testing.T) {
	m := Extract(syntheticCandles(5), models.DefaultFeatureSettings())
	require.Len(t, m.Rows, 5)
	for _, v := range m.Column("ema_50") {
		assert.Equal(t, 0.0, v)
	}
	for _, v := range m.Column("macd") {
		assert.Equal(t, 0.0, v)
	}
}

func TestMakeLabels(t *testing.T) {
	closes := []float64{100, 101, 100.9, 99, 99.1}
	assert.Equal(t, []int{1, 0, -1, 0}, MakeLabels(closes, 1, 0.002))
	assert.Nil(t, MakeLabels(closes[:1], 1, 0.002))
}

func TestRollingVolatility(t *testing.T) {
	r := []float64{0.01, -0.01, 0.01, -0.01}
	vol := RollingVolatility(r, 2)
	assert.Equal(t, 0.0, vol[0])
	assert.InDelta(t, math.Sqrt(0.0002), vol[1], 1e-12)
	assert.InDelta(t, math.Sqrt(0.0002), vol[3], 1e-12)
}

func TestWarmup(t *testing.T) {
	assert.Equal(t, 50, Warmup(models.DefaultFeatureSettings()))
}
