package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"MTFTrader/internal/domain/models"
	"MTFTrader/internal/repository/memory"
	applogger "MTFTrader/pkg/logger"
)

type fakeFetcher struct {
	since []time.Time
	bars  []models.Candle
	err   error
}

func (f *fakeFetcher) FetchKlines(_ context.Context, _ string, _ models.Timeframe, since time.Time, _ int) ([]models.Candle, error) {
	f.since = append(f.since, since)
	return f.bars, f.err
}

func TestCandleSync_Since(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	tests := map[string]struct {
		stored int
		full   bool
		want   time.Time
	}{
		"empty store starts at history window": {stored: 0, want: now.AddDate(-2, 0, 0)},
		"resumes one bar after last":            {stored: 3, want: t0.Add(3 * time.Hour)},
		"full ignores stored bars":               {stored: 3, full: true, want: now.AddDate(-2, 0, 0)},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			store := memory.NewCandleStore()
			if tc.stored > 0 {
				require.NoError(t, store.UpsertCandles(context.Background(), flatBars(sym, models.TF1h, tc.stored)))
			}
			s := NewCandleSync(&fakeFetcher{}, store, 2, applogger.Nop())
			s.now = func() time.Time { return now }

			got, err := s.Since(context.Background(), sym, models.TF1h, tc.full)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestCandleSync_SinceNeverInFuture(t *testing.T) {
	store := memory.NewCandleStore()
	require.NoError(t, store.UpsertCandles(context.Background(), flatBars(sym, models.TF1h, 3)))
	now := t0.Add(150 * time.Minute) // inside the last stored bar

	s := NewCandleSync(&fakeFetcher{}, store, 2, applogger.Nop())
	s.now = func() time.Time { return now }

	got, err := s.Since(context.Background(), sym, models.TF1h, false)
	require.NoError(t, err)
	assert.Equal(t, now, got)
}

func TestCandleSync_StoresInChunks(t *testing.T) {
	store := memory.NewCandleStore()
	f := &fakeFetcher{bars: flatBars(sym, models.TF15m, 2500)}
	s := NewCandleSync(f, store, 2, applogger.Nop())

	n, err := s.Sync(context.Background(), sym, models.TF15m, false)
	require.NoError(t, err)
	assert.Equal(t, 2500, n)
	got, err := store.LatestCandles(context.Background(), sym, models.TF15m, 5000)
	require.NoError(t, err)
	assert.Len(t, got, 2500)

	f.bars = nil
	n, err = s.Sync(context.Background(), sym, models.TF15m, false)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, got[len(got)-1].OpenTime.Add(15*time.Minute), f.since[1])
}
