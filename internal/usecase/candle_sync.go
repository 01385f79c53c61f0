package usecase

import (
	"context"
	"fmt"
	"time"

	"MTFTrader/internal/domain/models"
	domrepo "MTFTrader/internal/domain/repository"
	"MTFTrader/internal/domain/service"
	applogger "MTFTrader/pkg/logger"
)

const upsertChunk = 1000

// CandleSync pulls missing history from the exchange into the candle store.
type CandleSync struct {
	fetcher service.HistoryFetcher
	candles domrepo.CandleStore
	years   int
	l       *applogger.Logger
	now     func() time.Time
}

func NewCandleSync(fetcher service.HistoryFetcher, candles domrepo.CandleStore, historyYears int, l *applogger.Logger) *CandleSync {
	if historyYears <= 0 {
		historyYears = 2
	}
	return &CandleSync{fetcher: fetcher, candles: candles, years: historyYears, l: l, now: time.Now}
}

// Since is where an incremental sync resumes: one bar after the newest stored
// bar, or the start of the history window when nothing is stored or full is
// set. It never lies in the future.
func (s *CandleSync) Since(ctx context.Context, symbol string, tf models.Timeframe, full bool) (time.Time, error) {
	now := s.now().UTC()
	floor := now.AddDate(-s.years, 0, 0)
	if full {
		return floor, nil
	}
	last, ok, err := s.candles.LastOpenTime(ctx, symbol, tf)
	if err != nil {
		return time.Time{}, fmt.Errorf("last open time %s %s: %w", symbol, tf, err)
	}
	if !ok {
		return floor, nil
	}
	since := last.Add(tf.Duration())
	if since.After(now) {
		since = now
	}
	return since, nil
}

// Sync fetches and stores everything after Since and returns the bar count.
func (s *CandleSync) Sync(ctx context.Context, symbol string, tf models.Timeframe, full bool) (int, error) {
	since, err := s.Since(ctx, symbol, tf, full)
	if err != nil {
		return 0, err
	}
	started := time.Now()
	bars, err := s.fetcher.FetchKlines(ctx, symbol, tf, since, 0)
	if err != nil {
		return 0, fmt.Errorf("fetch %s %s: %w", symbol, tf, err)
	}
	for from := 0; from < len(bars); from += upsertChunk {
		to := min(from+upsertChunk, len(bars))
		if err := s.candles.UpsertCandles(ctx, bars[from:to]); err != nil {
			return from, fmt.Errorf("store %s %s: %w", symbol, tf, err)
		}
	}
	s.l.Info("history synced",
		applogger.String("symbol", symbol),
		applogger.String("timeframe", string(tf)),
		applogger.String("since", since.Format(time.RFC3339)),
		applogger.Int("bars", len(bars)),
		applogger.Bool("full", full),
		applogger.Duration("took_ms", time.Since(started)),
	)
	return len(bars), nil
}
