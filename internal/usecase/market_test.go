package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"MTFTrader/internal/domain/models"
	"MTFTrader/internal/repository/memory"
	applogger "MTFTrader/pkg/logger"
)

type syncCall struct {
	symbol string
	tf     models.Timeframe
	full   bool
}

type recordingSyncer struct {
	mu    sync.Mutex
	calls []syncCall
	fail  map[models.Timeframe]error
}

func (r *recordingSyncer) Sync(_ context.Context, symbol string, tf models.Timeframe, full bool) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, syncCall{symbol, tf, full})
	if err := r.fail[tf]; err != nil {
		return 0, err
	}
	return 10, nil
}

func TestMarketService_SyncHistory(t *testing.T) {
	configured := []string{"BTC/USDT", "ETH/USDT"}
	tfs := []models.Timeframe{models.TF1h, models.TF4h}

	tests := map[string]struct {
		req   HistorySyncRequest
		fail  map[models.Timeframe]error
		calls []syncCall
		bars  int
		n     int
	}{
		"configured symbols and timeframes": {
			req: HistorySyncRequest{},
			calls: []syncCall{
				{"BTC/USDT", models.TF1h, false}, {"BTC/USDT", models.TF4h, false},
				{"ETH/USDT", models.TF1h, false}, {"ETH/USDT", models.TF4h, false},
			},
			bars: 40,
		},
		"one symbol forced": {
			req:   HistorySyncRequest{Symbol: "SOL/USDT", Timeframes: []models.Timeframe{models.TF1d}, Force: true},
			calls: []syncCall{{"SOL/USDT", models.TF1d, true}},
			bars:  10,
		},
		"failed timeframe does not stop the rest": {
			req:  HistorySyncRequest{Symbol: sym},
			fail: map[models.Timeframe]error{models.TF1h: errors.New("exchange down")},
			calls: []syncCall{
				{sym, models.TF1h, false}, {sym, models.TF4h, false},
			},
			bars: 10,
			n:    1,
		},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			syncer := &recordingSyncer{fail: tc.fail}
			s := NewMarketService(syncer, memory.NewCandleStore(), memory.NewStore(), configured, tfs, applogger.Nop())
			report, err := s.SyncHistory(context.Background(), tc.req)
			require.NoError(t, err)
			assert.Equal(t, tc.calls, syncer.calls)
			assert.Equal(t, tc.bars, report.Bars)
			assert.Equal(t, tc.n, report.Failed)
			assert.Equal(t, tc.req.Force, report.Force)
			assert.Len(t, report.Results, len(tc.calls))
			if tc.n > 0 {
				assert.Equal(t, "exchange down", report.Results[0].Error)
			}
		})
	}
}

func TestMarketService_SyncHistoryCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := NewMarketService(&recordingSyncer{}, memory.NewCandleStore(), memory.NewStore(), []string{sym}, []models.Timeframe{models.TF1h}, applogger.Nop())
	_, err := s.SyncHistory(ctx, HistorySyncRequest{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMarketService_PairsStatus(t *testing.T) {
	ctx := context.Background()
	tfs := []models.Timeframe{models.TF1h, models.TF4h}
	candles := memory.NewCandleStore()
	require.NoError(t, candles.UpsertCandles(ctx, flatBars(sym, models.TF1h, 3)))

	store := memory.NewStore()
	older := t0.Add(24 * time.Hour)
	newer := older.Add(time.Hour)
	require.NoError(t, store.SaveModel(ctx, &models.ModelBundle{Symbol: sym, Timeframe: models.TF1h, TrainedAt: older, Metrics: models.ModelMetrics{Accuracy: 0.55}}))
	require.NoError(t, store.SaveModel(ctx, &models.ModelBundle{Symbol: sym, Timeframe: models.TF4h, TrainedAt: newer, Metrics: models.ModelMetrics{Accuracy: 0.61}}))

	s := NewMarketService(&recordingSyncer{}, candles, store, []string{sym, "ETH/USDT"}, tfs, applogger.Nop())
	got, err := s.PairsStatus(ctx, nil)
	require.NoError(t, err)
	require.Len(t, got, 2)

	btc := got[0]
	assert.Equal(t, sym, btc.Symbol)
	assert.True(t, btc.IsTrained)
	require.NotNil(t, btc.LastTrainedAt)
	assert.Equal(t, newer, *btc.LastTrainedAt)
	assert.Equal(t, 0.61, *btc.Accuracy)
	require.Len(t, btc.Timeframes, 2)
	require.NotNil(t, btc.Timeframes[0].LastCandle)
	assert.Equal(t, t0.Add(2*time.Hour), *btc.Timeframes[0].LastCandle)
	assert.Nil(t, btc.Timeframes[1].LastCandle)

	eth := got[1]
	assert.False(t, eth.IsTrained)
	assert.Nil(t, eth.LastTrainedAt)
	assert.Nil(t, eth.Accuracy)
	for _, ts := range eth.Timeframes {
		assert.False(t, ts.Trained)
		assert.Nil(t, ts.TrainedAt)
	}

	only, err := s.PairsStatus(ctx, []string{"ETH/USDT"})
	require.NoError(t, err)
	require.Len(t, only, 1)
	assert.Equal(t, "ETH/USDT", only[0].Symbol)
}
