// Package middleware sits between the live stream and the candle sinks.
package middleware

import (
	"context"
	"fmt"
	"sync"
	"time"

	"MTFTrader/internal/domain/models"
	domrepo "MTFTrader/internal/domain/repository"
	applogger "MTFTrader/pkg/logger"
)

// CandleSink receives validated closed candles.
type CandleSink interface {
	PublishCandles(ctx context.Context, candles []models.Candle) error
}

// StoreSink writes straight to a CandleStore when no broker is configured.
type StoreSink struct {
	Store domrepo.CandleStore
}

func (s StoreSink) PublishCandles(ctx context.Context, candles []models.Candle) error {
	return s.Store.UpsertCandles(ctx, candles)
}

// CandlePipeline validates stream candles, feeds the live cache and forwards
// them downstream, buffering when the sink is unavailable.
type CandlePipeline struct {
	cache   domrepo.QuoteCache
	sink    CandleSink
	metrics domrepo.Metrics
	l       *applogger.Logger

	bufCh   chan models.Candle
	stopCh  chan struct{}
	doneCh  chan struct{}
	started bool
	mu      sync.Mutex

	backoffMin time.Duration
	backoffMax time.Duration
}

type PipelineOption func(*CandlePipeline)

// WithBufferSize sets the buffer used while downstream is unavailable.
func WithBufferSize(n int) PipelineOption {
	return func(p *CandlePipeline) {
		if n > 0 {
			p.bufCh = make(chan models.Candle, n)
		}
	}
}

// WithBackoff bounds the wait between redelivery attempts.
func WithBackoff(min, max time.Duration) PipelineOption {
	return func(p *CandlePipeline) {
		p.backoffMin = min
		p.backoffMax = max
	}
}

func NewCandlePipeline(cache domrepo.QuoteCache, sink CandleSink, metrics domrepo.Metrics, l *applogger.Logger, opts ...PipelineOption) *CandlePipeline {
	p := &CandlePipeline{
		cache:      cache,
		sink:       sink,
		metrics:    metrics,
		l:          l,
		bufCh:      make(chan models.Candle, 1000),
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
		backoffMin: 50 * time.Millisecond,
		backoffMax: 2 * time.Second,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start launches background redelivery of buffered candles.
func (p *CandlePipeline) Start(ctx context.Context) {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return
	}
	p.started = true
	p.mu.Unlock()

	go func() {
		defer close(p.doneCh)
		backoff := p.backoffMin
		for {
			select {
			case <-p.stopCh:
				return
			case <-ctx.Done():
				return
			case c := <-p.bufCh:
				if err := p.sink.PublishCandles(ctx, []models.Candle{c}); err != nil {
					p.metrics.RecordError("pipeline_flush")
					if backoff < p.backoffMax {
						backoff *= 2
					}
					if backoff > p.backoffMax {
						backoff = p.backoffMax
					}
					select {
					case <-time.After(backoff):
					case <-p.stopCh:
						return
					}
					// Retry the bar after the backoff. A full buffer drops it.
					select {
					case p.bufCh <- c:
					default:
						p.metrics.RecordError("pipeline_buffer_drop")
					}
				} else {
					backoff = p.backoffMin
				}
			}
		}
	}()
}

// Stop stops redelivery and waits for the loop to exit.
func (p *CandlePipeline) Stop() {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return
	}
	p.started = false
	p.mu.Unlock()
	close(p.stopCh)
	<-p.doneCh
}

// Pending reports the buffered candle count.
func (p *CandlePipeline) Pending() int { return len(p.bufCh) }

// Process validates c, stores it in the live cache and forwards it. Stale bars
// are dropped silently.
func (p *CandlePipeline) Process(ctx context.Context, c models.Candle) error {
	if err := ValidateCandle(c); err != nil {
		p.metrics.RecordError("pipeline_validate")
		return err
	}
	if !p.cache.Append(c) {
		return nil
	}
	p.metrics.RecordQuote(c.Symbol, c.Timeframe)

	if err := p.sink.PublishCandles(ctx, []models.Candle{c}); err != nil {
		p.metrics.RecordError("pipeline_process")
		select {
		case p.bufCh <- c:
		default:
			p.metrics.RecordError("pipeline_buffer_full")
			p.l.Warn("candle buffer full, dropping",
				applogger.String("symbol", c.Symbol),
				applogger.String("tf", string(c.Timeframe)))
		}
		return fmt.Errorf("pipeline downstream: %w", err)
	}
	return nil
}

// ValidateCandle rejects bars that cannot be real OHLCV data.
func ValidateCandle(c models.Candle) error {
	switch {
	case c.Symbol == "":
		return fmt.Errorf("symbol empty")
	case !c.Timeframe.IsValid():
		return fmt.Errorf("timeframe %q invalid", c.Timeframe)
	case c.OpenTime.IsZero():
		return fmt.Errorf("open time missing")
	case c.Open <= 0 || c.High <= 0 || c.Low <= 0 || c.Close <= 0:
		return fmt.Errorf("non-positive price")
	case c.Volume < 0:
		return fmt.Errorf("negative volume")
	case c.High < c.Low:
		return fmt.Errorf("high below low")
	}
	return nil
}
