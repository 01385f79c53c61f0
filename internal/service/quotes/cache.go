// Package quotes keeps the most recent closed bars from the live stream.
package quotes

import (
	"sync"

	"MTFTrader/internal/domain/models"
)

type seriesKey struct {
	symbol string
	tf     models.Timeframe
}

// ring is a fixed-capacity buffer ordered by open time.
type ring struct {
	buf   []models.Candle
	start int
	n     int
}

func (r *ring) at(i int) *models.Candle {
	return &r.buf[(r.start+i)%len(r.buf)]
}

func (r *ring) push(c models.Candle) {
	if r.n < len(r.buf) {
		*r.at(r.n) = c
		r.n++
		return
	}
	r.buf[r.start] = c
	r.start = (r.start + 1) % len(r.buf)
}

// Cache is a bounded per-(symbol, timeframe) candle history.
type Cache struct {
	mu       sync.RWMutex
	capacity int
	series   map[seriesKey]*ring
}

// NewCache keeps at most capacity bars per series.
func NewCache(capacity int) *Cache {
	if capacity < 1 {
		capacity = 1
	}
	return &Cache{capacity: capacity, series: make(map[seriesKey]*ring)}
}

// Append stores a closed bar. A bar with the newest open time replaces it, an
// older bar is dropped and reported as false.
func (c *Cache) Append(candle models.Candle) bool {
	k := seriesKey{candle.Symbol, candle.Timeframe}
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.series[k]
	if !ok {
		r = &ring{buf: make([]models.Candle, c.capacity)}
		c.series[k] = r
	}
	if r.n > 0 {
		last := r.at(r.n - 1)
		if last.OpenTime.Equal(candle.OpenTime) {
			*last = candle
			return true
		}
		if candle.OpenTime.Before(last.OpenTime) {
			return false
		}
	}
	r.push(candle)
	return true
}

// Candles returns up to limit most recent bars, oldest first. limit <= 0 returns all.
func (c *Cache) Candles(symbol string, tf models.Timeframe, limit int) []models.Candle {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.series[seriesKey{symbol, tf}]
	if !ok || r.n == 0 {
		return nil
	}
	n := r.n
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]models.Candle, n)
	for i := 0; i < n; i++ {
		out[i] = *r.at(r.n - n + i)
	}
	return out
}

// Len reports how many bars are held for a series.
func (c *Cache) Len(symbol string, tf models.Timeframe) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if r, ok := c.series[seriesKey{symbol, tf}]; ok {
		return r.n
	}
	return 0
}
