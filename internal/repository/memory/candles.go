package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"MTFTrader/internal/domain/models"
)

// CandleStore keeps bars per (symbol, timeframe) sorted by open time.
type CandleStore struct {
	mu     sync.RWMutex
	series map[seriesKey][]models.Candle
}

func NewCandleStore() *CandleStore {
	return &CandleStore{series: make(map[seriesKey][]models.Candle)}
}

func (s *CandleStore) LatestCandles(_ context.Context, symbol string, tf models.Timeframe, limit int) ([]models.Candle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	bars := models.TailCandles(s.series[seriesKey{symbol, tf}], limit)
	return append([]models.Candle(nil), bars...), nil
}

func (s *CandleStore) LastOpenTime(_ context.Context, symbol string, tf models.Timeframe) (time.Time, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	bars := s.series[seriesKey{symbol, tf}]
	if len(bars) == 0 {
		return time.Time{}, false, nil
	}
	return bars[len(bars)-1].OpenTime, true, nil
}

// UpsertCandles replaces bars with an equal open time and inserts the rest in order.
func (s *CandleStore) UpsertCandles(_ context.Context, candles []models.Candle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range candles {
		k := seriesKey{c.Symbol, c.Timeframe}
		bars := s.series[k]
		n := len(bars)
		// fast path: appending the next bar
		if n == 0 || bars[n-1].OpenTime.Before(c.OpenTime) {
			s.series[k] = append(bars, c)
			continue
		}
		i := sort.Search(n, func(i int) bool { return !bars[i].OpenTime.Before(c.OpenTime) })
		if i < n && bars[i].OpenTime.Equal(c.OpenTime) {
			bars[i] = c
			continue
		}
		bars = append(bars, models.Candle{})
		copy(bars[i+1:], bars[i:])
		bars[i] = c
		s.series[k] = bars
	}
	return nil
}
