package usecase

import (
	"context"
	"errors"

	"MTFTrader/internal/domain/models"
	domrepo "MTFTrader/internal/domain/repository"
	"MTFTrader/internal/domain/service"
	mid "MTFTrader/internal/middleware"
	applogger "MTFTrader/pkg/logger"
)

// QuoteCollector feeds closed candles from the live stream through the pipeline.
type QuoteCollector struct {
	stream  service.QuoteStream
	pipe    *mid.CandlePipeline
	metrics domrepo.Metrics
	l       *applogger.Logger

	symbols []string
	tfs     []models.Timeframe
	cancel  context.CancelFunc
	done    chan struct{}
}

func NewQuoteCollector(stream service.QuoteStream, pipe *mid.CandlePipeline, metrics domrepo.Metrics, l *applogger.Logger, symbols []string, tfs []models.Timeframe) *QuoteCollector {
	return &QuoteCollector{stream: stream, pipe: pipe, metrics: metrics, l: l, symbols: symbols, tfs: tfs}
}

// IsConnected returns true if the stream is connected. A nil collector is
// never connected.
func (c *QuoteCollector) IsConnected() bool {
	if c == nil {
		return false
	}
	return c.stream.IsConnected()
}

// Start subscribes and consumes in the background. The stream reconnects on
// its own, so errors are only counted and logged here.
func (c *QuoteCollector) Start(ctx context.Context) error {
	c.stream.Subscribe(c.symbols, c.tfs)
	if err := c.stream.Connect(ctx); err != nil {
		c.l.Warn("initial stream connect failed, will retry", applogger.Error(err))
	}
	ctx, c.cancel = context.WithCancel(ctx)
	c.done = make(chan struct{})
	c.pipe.Start(ctx)
	candles, errs := c.stream.Read(ctx)
	go c.consume(ctx, candles, errs)
	return nil
}

// Resubscribe changes the watched symbols and restarts only the stream.
func (c *QuoteCollector) Resubscribe(symbols []string, tfs []models.Timeframe) {
	c.symbols, c.tfs = symbols, tfs
	c.stream.Subscribe(symbols, tfs)
}

func (c *QuoteCollector) consume(ctx context.Context, candles <-chan models.Candle, errs <-chan error) {
	defer close(c.done)
	for {
		select {
		case <-ctx.Done():
			return
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			if err != nil && !errors.Is(err, context.Canceled) {
				c.metrics.RecordError("stream")
				c.l.Warn("quote stream error", applogger.Error(err))
			}
		case cd, ok := <-candles:
			if !ok {
				return
			}
			if err := c.pipe.Process(ctx, cd); err != nil {
				c.l.Debug("candle not forwarded",
					applogger.String("symbol", cd.Symbol),
					applogger.String("tf", string(cd.Timeframe)),
					applogger.Error(err))
			}
		}
	}
}

// Shutdown stops the pipeline and closes the stream.
func (c *QuoteCollector) Shutdown(ctx context.Context) error {
	if c.cancel != nil {
		c.cancel()
	}
	err := c.stream.Close()
	if c.done != nil {
		select {
		case <-c.done:
		case <-ctx.Done():
		}
	}
	c.pipe.Stop()
	return err
}
