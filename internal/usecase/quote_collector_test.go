package usecase

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"MTFTrader/internal/domain/models"
	mid "MTFTrader/internal/middleware"
	"MTFTrader/internal/repository/memory"
	"MTFTrader/internal/service/quotes"
	applogger "MTFTrader/pkg/logger"
	"MTFTrader/pkg/metrics"
)

type fakeStream struct {
	mu         sync.Mutex
	subscribed []string
	connected  atomic.Bool
	closed     atomic.Bool
	candles    chan models.Candle
	errs       chan error
}

func newFakeStream() *fakeStream {
	return &fakeStream{candles: make(chan models.Candle, 8), errs: make(chan error, 1)}
}

func (s *fakeStream) Connect(context.Context) error {
	s.connected.Store(true)
	return nil
}

func (s *fakeStream) Read(context.Context) (<-chan models.Candle, <-chan error) {
	return s.candles, s.errs
}

func (s *fakeStream) Subscribe(symbols []string, _ []models.Timeframe) {
	s.mu.Lock()
	s.subscribed = append([]string(nil), symbols...)
	s.mu.Unlock()
}

func (s *fakeStream) Close() error {
	s.closed.Store(true)
	s.connected.Store(false)
	return nil
}

func (s *fakeStream) IsConnected() bool { return s.connected.Load() }

func TestQuoteCollector_FeedsCacheAndStore(t *testing.T) {
	stream := newFakeStream()
	cache := quotes.NewCache(100)
	store := memory.NewCandleStore()
	rec := metrics.New(prometheus.NewRegistry())
	pipe := mid.NewCandlePipeline(cache, mid.StoreSink{Store: store}, rec, applogger.Nop())
	c := NewQuoteCollector(stream, pipe, rec, applogger.Nop(), []string{sym}, []models.Timeframe{models.TF1h})

	require.NoError(t, c.Start(context.Background()))
	assert.True(t, c.IsConnected())
	assert.Equal(t, []string{sym}, stream.subscribed)

	bars := flatBars(sym, models.TF1h, 3)
	bad := bars[2]
	bad.High = 50
	stream.errs <- errors.New("read: connection reset")
	stream.candles <- bars[0]
	stream.candles <- bad
	stream.candles <- bars[1]

	require.Eventually(t, func() bool {
		stored, err := store.LatestCandles(context.Background(), sym, models.TF1h, 10)
		return err == nil && len(stored) == 2
	}, time.Second, 5*time.Millisecond)
	assert.Len(t, cache.Candles(sym, models.TF1h, 0), 2, "invalid bar skipped")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, c.Shutdown(ctx))
	assert.True(t, stream.closed.Load())
	assert.False(t, c.IsConnected())
}

func TestQuoteCollector_NilIsDisconnected(t *testing.T) {
	var c *QuoteCollector
	assert.False(t, c.IsConnected())
}
