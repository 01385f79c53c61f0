package middleware

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"MTFTrader/internal/domain/models"
	"MTFTrader/internal/service/quotes"
	applogger "MTFTrader/pkg/logger"
	"MTFTrader/pkg/metrics"
)

type flakySink struct {
	mu       sync.Mutex
	failures int
	got      []models.Candle
}

func (s *flakySink) PublishCandles(_ context.Context, candles []models.Candle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failures > 0 {
		s.failures--
		return errors.New("broker down")
	}
	s.got = append(s.got, candles...)
	return nil
}

func (s *flakySink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.got)
}

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func candle(i int) models.Candle {
	return models.Candle{
		Symbol: "BTC/USDT", Timeframe: models.TF1h, OpenTime: t0.Add(time.Duration(i) * time.Hour),
		Open: 10, High: 12, Low: 9, Close: 11, Volume: 1,
	}
}

func TestValidateCandle(t *testing.T) {
	tests := map[string]struct {
		mutate func(*models.Candle)
		ok     bool
	}{
		"valid":           {mutate: func(*models.Candle) {}, ok: true},
		"no symbol":       {mutate: func(c *models.Candle) { c.Symbol = "" }},
		"bad timeframe":   {mutate: func(c *models.Candle) { c.Timeframe = "3m" }},
		"zero open time":  {mutate: func(c *models.Candle) { c.OpenTime = time.Time{} }},
		"zero close":      {mutate: func(c *models.Candle) { c.Close = 0 }},
		"negative volume": {mutate: func(c *models.Candle) { c.Volume = -1 }},
		"high below low":  {mutate: func(c *models.Candle) { c.High, c.Low = 8, 9 }},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			c := candle(0)
			tc.mutate(&c)
			assert.Equal(t, tc.ok, ValidateCandle(c) == nil)
		})
	}
}

func TestCandlePipeline_BuffersAndRedelivers(t *testing.T) {
	sink := &flakySink{failures: 2}
	cache := quotes.NewCache(10)
	p := NewCandlePipeline(cache, sink, metrics.New(prometheus.NewRegistry()), applogger.Nop(),
		WithBackoff(time.Millisecond, 5*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	err := p.Process(ctx, candle(0))
	require.Error(t, err)
	assert.Equal(t, 1, p.Pending())
	assert.Len(t, cache.Candles("BTC/USDT", models.TF1h, 0), 1, "the live cache is fed even when the sink fails")

	p.Start(ctx)
	defer p.Stop()
	assert.Eventually(t, func() bool { return sink.count() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, p.Process(ctx, candle(1)))
	assert.Equal(t, 2, sink.count())
}

func TestCandlePipeline_DropsStaleBars(t *testing.T) {
	sink := &flakySink{}
	p := NewCandlePipeline(quotes.NewCache(10), sink, metrics.New(prometheus.NewRegistry()), applogger.Nop())

	require.NoError(t, p.Process(context.Background(), candle(2)))
	require.NoError(t, p.Process(context.Background(), candle(1)))
	assert.Equal(t, 1, sink.count())
}

func TestCandlePipeline_RetriesBufferedBarAndDropsOverflow(t *testing.T) {
	sink := &flakySink{failures: 6}
	p := NewCandlePipeline(quotes.NewCache(10), sink, metrics.New(prometheus.NewRegistry()), applogger.Nop(),
		WithBufferSize(1), WithBackoff(time.Millisecond, 2*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.Error(t, p.Process(ctx, candle(0)))
	require.Error(t, p.Process(ctx, candle(1)))
	assert.Equal(t, 1, p.Pending(), "the second bar does not fit and is dropped")

	p.Start(ctx)
	defer p.Stop()
	assert.Eventually(t, func() bool { return sink.count() == 1 }, time.Second, 2*time.Millisecond)

	sink.mu.Lock()
	defer sink.mu.Unlock()
	assert.Equal(t, candle(0).OpenTime, sink.got[0].OpenTime)
}
