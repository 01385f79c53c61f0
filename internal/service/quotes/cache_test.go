package quotes

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"MTFTrader/internal/domain/models"
)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func bar(i int, close float64) models.Candle {
	return models.Candle{Symbol: "BTC/USDT", Timeframe: models.TF1h, OpenTime: t0.Add(time.Duration(i) * time.Hour), Close: close}
}

func TestCache_BoundedRing(t *testing.T) {
	c := NewCache(3)
	for i := 0; i < 5; i++ {
		assert.True(t, c.Append(bar(i, float64(i))))
	}
	assert.Equal(t, 3, c.Len("BTC/USDT", models.TF1h))
	assert.Equal(t, []float64{2, 3, 4}, models.Closes(c.Candles("BTC/USDT", models.TF1h, 0)))
	assert.Equal(t, []float64{3, 4}, models.Closes(c.Candles("BTC/USDT", models.TF1h, 2)))
	assert.Equal(t, []float64{2, 3, 4}, models.Closes(c.Candles("BTC/USDT", models.TF1h, 10)))
}

func TestCache_Append(t *testing.T) {
	tests := map[string]struct {
		next   models.Candle
		stored bool
		want   []float64
	}{
		"newer bar appends":       {next: bar(2, 20), stored: true, want: []float64{0, 10, 20}},
		"same open time replaces": {next: bar(1, 11), stored: true, want: []float64{0, 11}},
		"older bar is dropped":    {next: bar(0, 99), stored: false, want: []float64{0, 10}},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			c := NewCache(10)
			c.Append(bar(0, 0))
			c.Append(bar(1, 10))
			assert.Equal(t, tc.stored, c.Append(tc.next))
			assert.Equal(t, tc.want, models.Closes(c.Candles("BTC/USDT", models.TF1h, 0)))
		})
	}
}

func TestCache_UnknownSeries(t *testing.T) {
	c := NewCache(10)
	c.Append(bar(0, 1))
	assert.Nil(t, c.Candles("ETH/USDT", models.TF1h, 5))
	assert.Nil(t, c.Candles("BTC/USDT", models.TF4h, 5))
}
