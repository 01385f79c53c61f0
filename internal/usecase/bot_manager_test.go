package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"MTFTrader/internal/domain/apperr"
	"MTFTrader/internal/domain/models"
	"MTFTrader/internal/repository/memory"
	"MTFTrader/internal/service/quotes"
	applogger "MTFTrader/pkg/logger"
	"MTFTrader/pkg/metrics"
)

const sym = "BTC/USDT"

type botFixture struct {
	mgr     *BotManager
	candles *memory.CandleStore
	quotes  *quotes.Cache
	store   *memory.Store
	model   *fakeModel
	pub     *capturePublisher
}

func newBotFixture(t *testing.T, tfs []models.Timeframe, probs map[models.Timeframe]models.ProbabilityTriple) *botFixture {
	t.Helper()
	f := &botFixture{
		candles: memory.NewCandleStore(),
		quotes:  quotes.NewCache(3000),
		store:   memory.NewStore(),
		model:   newFakeModel(probs),
		pub:     &capturePublisher{},
	}
	for _, tf := range tfs {
		require.NoError(t, f.candles.UpsertCandles(context.Background(), flatBars(sym, tf, 50)))
	}
	cfg := DefaultBotConfig()
	cfg.Timeframes = tfs
	cfg.StopTimeout = time.Second
	f.mgr = NewBotManager(cfg, f.candles, f.quotes, f.model, f.store, f.store,
		staticParams{p: testParams()}, f.pub, metrics.New(prometheus.NewRegistry()), applogger.Nop())
	return f
}

func TestBotManager_TickOpensTradeOnStrongSignal(t *testing.T) {
	tfs := []models.Timeframe{models.TF1h, models.TF4h}
	f := newBotFixture(t, tfs, map[models.Timeframe]models.ProbabilityTriple{models.TF1h: strongBuy, models.TF4h: strongBuy})
	ctx := context.Background()

	res, err := f.mgr.tick(ctx, sym, tfs)
	require.NoError(t, err)
	assert.Equal(t, "entry", res)

	open, err := f.store.OpenTrades(ctx, sym, "testnet")
	require.NoError(t, err)
	require.Len(t, open, 1)
	tr := open[0]
	assert.Equal(t, models.SideBuy, tr.Side)
	assert.Equal(t, models.TF1h, tr.Timeframe)
	assert.Equal(t, 1.0, tr.Quantity)
	assert.Equal(t, "bot", tr.Origin)
	assert.InDelta(t, 98.0, tr.StopLoss, 1e-9)
	assert.InDelta(t, 104.0, tr.TakeProfit, 1e-9)
	bars := flatBars(sym, models.TF1h, 50)
	assert.Equal(t, bars[len(bars)-1].OpenTime, tr.EntryTime, "entry is stamped with the evaluated bar")
	assert.Equal(t, []string{models.EventTradeOpened}, f.pub.types())

	// a second tick with the trade open neither reopens nor exits
	res, err = f.mgr.tick(ctx, sym, tfs)
	require.NoError(t, err)
	assert.Equal(t, "idle", res)
}

func TestBotManager_TickExits(t *testing.T) {
	tests := map[string]struct {
		probs      models.ProbabilityTriple
		lastLow    float64
		lastHigh   float64
		wantReason models.ExitReason
		wantPrice  float64
	}{
		"stop loss from current atr": {
			probs: strongBuy, lastLow: 97, lastHigh: 101,
			wantReason: models.ExitStopLoss, wantPrice: 100 - (13*2.0+4)/14,
		},
		"take profit": {
			probs: strongBuy, lastLow: 99, lastHigh: 110,
			wantReason: models.ExitTakeProfit, wantPrice: 100 + 2*(13*2.0+11)/14,
		},
		"signal flip exits at close": {
			probs: strongSell, lastLow: 99, lastHigh: 101,
			wantReason: models.ExitSignal, wantPrice: 100,
		},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			tfs := []models.Timeframe{models.TF1h}
			f := newBotFixture(t, tfs, map[models.Timeframe]models.ProbabilityTriple{models.TF1h: tc.probs})
			ctx := context.Background()

			last := flatBars(sym, models.TF1h, 50)[49]
			last.Low, last.High = tc.lastLow, tc.lastHigh
			require.NoError(t, f.candles.UpsertCandles(ctx, []models.Candle{last}))
			require.NoError(t, f.store.AddTrade(ctx, &models.Trade{
				Symbol: sym, Side: models.SideBuy, Quantity: 1, EntryPrice: 100,
				Status: models.TradeOpen, Network: "testnet", Origin: "bot",
			}))

			res, err := f.mgr.tick(ctx, sym, tfs)
			require.NoError(t, err)
			assert.Equal(t, "exit", res)

			closed, err := f.store.ListTrades(ctx, models.TradeFilter{Symbol: sym, Status: models.TradeClosed})
			require.NoError(t, err)
			require.Len(t, closed, 1)
			assert.Equal(t, tc.wantReason, *closed[0].ExitReason)
			assert.InDelta(t, tc.wantPrice, *closed[0].ExitPrice, 1e-9)
			assert.Equal(t, []string{models.EventTradeClosed}, f.pub.types())

			bots, err := f.store.ListBots(ctx)
			require.NoError(t, err)
			require.Len(t, bots, 1)
			assert.Equal(t, "exit", bots[0].Stats["last_event"])
		})
	}
}

func TestBotManager_TickWithoutModelsIsUnavailable(t *testing.T) {
	tfs := []models.Timeframe{models.TF1h}
	f := newBotFixture(t, tfs, nil)

	_, err := f.mgr.tick(context.Background(), sym, tfs)
	assert.True(t, apperr.IsUnavailable(err))
	assert.NotPanics(t, func() { f.mgr.runTick(context.Background(), sym, tfs) })
}

func TestBotManager_BaseIsFastestPredictedTimeframe(t *testing.T) {
	tfs := []models.Timeframe{models.TF15m, models.TF1h, models.TF4h}
	f := newBotFixture(t, tfs, map[models.Timeframe]models.ProbabilityTriple{models.TF1h: strongBuy, models.TF4h: strongBuy})

	_, err := f.mgr.tick(context.Background(), sym, tfs)
	require.NoError(t, err)
	open, err := f.store.OpenTrades(context.Background(), sym, "testnet")
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, models.TF1h, open[0].Timeframe)
}

func TestBotManager_PrefersLiveCache(t *testing.T) {
	tfs := []models.Timeframe{models.TF1h}
	f := newBotFixture(t, tfs, map[models.Timeframe]models.ProbabilityTriple{models.TF1h: strongBuy})
	ctx := context.Background()

	_, err := f.mgr.tick(ctx, sym, tfs)
	require.NoError(t, err)
	assert.Equal(t, 50, f.model.windows[models.TF1h], "short cache falls back to the store")

	for _, c := range flatBars(sym, models.TF1h, 250) {
		f.quotes.Append(c)
	}
	_, err = f.mgr.tick(ctx, sym, tfs)
	require.NoError(t, err)
	assert.Equal(t, 200, f.model.windows[models.TF1h])
}

func TestBotManager_FallsBackToConfiguredParams(t *testing.T) {
	tfs := []models.Timeframe{models.TF1h}
	f := newBotFixture(t, tfs, map[models.Timeframe]models.ProbabilityTriple{models.TF1h: strongBuy})
	f.mgr.params = staticParams{err: errors.New("settings down")}
	f.mgr.cfg.Params = testParams()

	res, err := f.mgr.tick(context.Background(), sym, tfs)
	require.NoError(t, err)
	assert.Equal(t, "entry", res)
}

func TestBotManager_StartStop(t *testing.T) {
	tfs := []models.Timeframe{models.TF1h}
	f := newBotFixture(t, tfs, nil)
	ctx := context.Background()

	tests := map[string]struct {
		interval int
		want     int
	}{
		"default interval": {interval: 0, want: 60},
		"clamped to floor": {interval: 3, want: 10},
		"explicit":         {interval: 90, want: 90},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			st, err := f.mgr.Start(ctx, sym, tc.interval, nil)
			require.NoError(t, err)
			assert.Equal(t, tc.want, st.IntervalSec)
			assert.Equal(t, tfs, st.Timeframes)

			_, err = f.mgr.Start(ctx, sym, tc.interval, nil)
			assert.ErrorIs(t, err, ErrBotRunning)

			require.NoError(t, f.mgr.Stop(ctx, sym))
			assert.ErrorIs(t, f.mgr.Stop(ctx, sym), ErrBotNotRunning)
		})
	}

	bots, err := f.mgr.List(ctx)
	require.NoError(t, err)
	require.Len(t, bots, 1)
	assert.Equal(t, models.BotStopped, bots[0].Status)
	assert.False(t, bots[0].Running)
}

func TestBotManager_ListMergesRunningAndStopAll(t *testing.T) {
	tfs := []models.Timeframe{models.TF1h}
	f := newBotFixture(t, tfs, nil)
	ctx := context.Background()

	for _, s := range []string{"ETH/USDT", "BTC/USDT"} {
		_, err := f.mgr.Start(ctx, s, 0, nil)
		require.NoError(t, err)
	}
	bots, err := f.mgr.List(ctx)
	require.NoError(t, err)
	require.Len(t, bots, 2)
	assert.Equal(t, "BTC/USDT", bots[0].Symbol)
	assert.True(t, bots[0].Running)
	assert.True(t, bots[1].Running)

	f.mgr.StopAll(ctx)
	assert.Empty(t, f.mgr.Running())
	bots, err = f.mgr.List(ctx)
	require.NoError(t, err)
	for _, b := range bots {
		assert.False(t, b.Running)
		assert.Equal(t, models.BotStopped, b.Status)
	}
}

// stuckModel blocks inside Predict until released, ignoring cancellation.
type stuckModel struct {
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (m *stuckModel) Predict(context.Context, string, models.Timeframe, []models.Candle) (models.ProbabilitySeries, error) {
	m.once.Do(func() { close(m.entered) })
	<-m.release
	return models.ProbabilitySeries{}, apperr.Unavailable("stuck.Predict", "no model")
}

func TestBotManager_StopTimeoutKeepsSymbolReserved(t *testing.T) {
	tfs := []models.Timeframe{models.TF1h}
	store := memory.NewStore()
	candles := memory.NewCandleStore()
	require.NoError(t, candles.UpsertCandles(context.Background(), flatBars(sym, models.TF1h, 50)))
	model := &stuckModel{entered: make(chan struct{}), release: make(chan struct{})}

	cfg := DefaultBotConfig()
	cfg.Timeframes = tfs
	cfg.StopTimeout = 20 * time.Millisecond
	mgr := NewBotManager(cfg, candles, quotes.NewCache(100), model, store, store,
		staticParams{p: testParams()}, &capturePublisher{}, nil, applogger.Nop())
	ctx := context.Background()

	_, err := mgr.Start(ctx, sym, 0, nil)
	require.NoError(t, err)
	<-model.entered

	require.NoError(t, mgr.Stop(ctx, sym), "a timed out wait still records the stop")
	assert.ErrorIs(t, mgr.Stop(ctx, sym), ErrBotNotRunning)
	assert.Equal(t, []string{sym}, mgr.Running(), "the old loop is still alive")
	_, err = mgr.Start(ctx, sym, 0, nil)
	assert.ErrorIs(t, err, ErrBotRunning)

	close(model.release)
	assert.Eventually(t, func() bool { return len(mgr.Running()) == 0 }, time.Second, 5*time.Millisecond)

	_, err = mgr.Start(ctx, sym, 0, nil)
	require.NoError(t, err)
	require.NoError(t, mgr.Stop(ctx, sym))
}
