package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"MTFTrader/internal/domain/apperr"
	"MTFTrader/internal/domain/models"
	domrepo "MTFTrader/internal/domain/repository"
	"MTFTrader/internal/domain/service"
	"MTFTrader/internal/services/backtest"
	"MTFTrader/internal/services/signal"
	applogger "MTFTrader/pkg/logger"
)

var (
	ErrBotRunning    = errors.New("bot already running")
	ErrBotNotRunning = errors.New("bot not running")
)

const (
	originBot = "bot"

	liveWindow    = 200
	storeWindow   = 400
	predictWindow = 600
	atrWindow     = 200
)

// BotConfig carries the settings shared by every bot.
type BotConfig struct {
	Network         string
	StopTimeout     time.Duration
	DefaultInterval time.Duration
	MinInterval     time.Duration
	Timeframes      []models.Timeframe
	Weights         signal.Weights
	ATRPeriod       int

	// Params is used when the active profile cannot be read.
	Params models.SignalParams
}

// DefaultBotConfig runs on testnet every minute over the stock timeframes.
func DefaultBotConfig() BotConfig {
	return BotConfig{
		Network:         "testnet",
		StopTimeout:     5 * time.Second,
		DefaultInterval: 60 * time.Second,
		MinInterval:     10 * time.Second,
		Timeframes:      models.DefaultTimeframes(),
		Weights:         signal.DefaultWeights(),
		ATRPeriod:       14,
	}
}

// ParamsSource yields the live decision parameters.
type ParamsSource interface {
	ActiveParams(ctx context.Context) (models.SignalParams, error)
}

type botRuntime struct {
	cancel     context.CancelFunc
	mu         sync.Mutex
	interval   time.Duration
	timeframes []models.Timeframe
	done       chan struct{}
	stopping   bool // guarded by BotManager.mu
}

// BotManager runs one decision loop per symbol against sandbox trades.
type BotManager struct {
	cfg       BotConfig
	candles   domrepo.CandleStore
	quotes    domrepo.QuoteCache
	model     service.ProbabilityModel
	trades    domrepo.TradeStore
	store     domrepo.BotStore
	params    ParamsSource
	publisher domrepo.EventPublisher
	metrics   domrepo.Metrics
	l         *applogger.Logger

	mu   sync.Mutex
	bots map[string]*botRuntime
	now  func() time.Time
}

func NewBotManager(
	cfg BotConfig,
	candles domrepo.CandleStore,
	quotes domrepo.QuoteCache,
	model service.ProbabilityModel,
	trades domrepo.TradeStore,
	store domrepo.BotStore,
	params ParamsSource,
	publisher domrepo.EventPublisher,
	metrics domrepo.Metrics,
	l *applogger.Logger,
) *BotManager {
	if cfg.Weights == nil {
		cfg.Weights = signal.DefaultWeights()
	}
	if len(cfg.Timeframes) == 0 {
		cfg.Timeframes = models.DefaultTimeframes()
	}
	if cfg.ATRPeriod <= 0 {
		cfg.ATRPeriod = 14
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = 5 * time.Second
	}
	if cfg.DefaultInterval <= 0 {
		cfg.DefaultInterval = 60 * time.Second
	}
	return &BotManager{
		cfg:       cfg,
		candles:   candles,
		quotes:    quotes,
		model:     model,
		trades:    trades,
		store:     store,
		params:    params,
		publisher: publisher,
		metrics:   metrics,
		l:         l,
		bots:      make(map[string]*botRuntime),
		now:       time.Now,
	}
}

// Start launches the loop for symbol. intervalSec 0 means the default interval.
func (m *BotManager) Start(ctx context.Context, symbol string, intervalSec int, tfs []models.Timeframe) (models.BotStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.bots[symbol]; ok {
		return models.BotStatus{}, fmt.Errorf("start %s: %w", symbol, ErrBotRunning)
	}

	interval := time.Duration(intervalSec) * time.Second
	if interval <= 0 {
		interval = m.cfg.DefaultInterval
	}
	interval = max(interval, m.cfg.MinInterval)
	if len(tfs) == 0 {
		tfs = m.cfg.Timeframes
	}

	st := models.BotStatus{
		Symbol:      symbol,
		Status:      models.BotRunning,
		IntervalSec: int(interval / time.Second),
		Timeframes:  tfs,
		Stats: map[string]any{
			"interval_sec": int(interval / time.Second),
			"timeframes":   tfs,
		},
		Running:   true,
		UpdatedAt: m.now().UTC(),
	}
	if err := m.store.SaveBotStatus(ctx, st); err != nil {
		return models.BotStatus{}, fmt.Errorf("save bot status: %w", err)
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	rt := &botRuntime{
		cancel:     cancel,
		interval:   interval,
		timeframes: tfs,
		done:       make(chan struct{}),
	}
	m.bots[symbol] = rt
	go m.loop(loopCtx, symbol, rt)

	m.publish(ctx, models.EventBotState, symbol, st)
	m.l.Info("bot started",
		applogger.String("symbol", symbol),
		applogger.Duration("interval", interval),
		applogger.Any("timeframes", tfs),
	)
	return st, nil
}

// Stop cancels the loop and waits up to the stop timeout for it to exit. The
// runtime leaves the registry only when its loop returns, so a loop that
// outlives the timeout still blocks a new Start for the symbol.
func (m *BotManager) Stop(ctx context.Context, symbol string) error {
	m.mu.Lock()
	rt, ok := m.bots[symbol]
	if ok && rt.stopping {
		ok = false
	}
	if ok {
		rt.stopping = true
	}
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("stop %s: %w", symbol, ErrBotNotRunning)
	}

	rt.cancel()
	select {
	case <-rt.done:
	case <-time.After(m.cfg.StopTimeout):
		m.l.Warn("bot did not stop in time", applogger.String("symbol", symbol), applogger.Duration("timeout", m.cfg.StopTimeout))
	}

	st := models.BotStatus{
		Symbol:      symbol,
		Status:      models.BotStopped,
		IntervalSec: int(rt.interval / time.Second),
		Timeframes:  rt.timeframes,
		UpdatedAt:   m.now().UTC(),
	}
	if err := m.store.SaveBotStatus(ctx, st); err != nil {
		return fmt.Errorf("save bot status: %w", err)
	}
	m.publish(ctx, models.EventBotState, symbol, st)
	m.l.Info("bot stopped", applogger.String("symbol", symbol))
	return nil
}

// StopAll stops every running bot. Used on shutdown.
func (m *BotManager) StopAll(ctx context.Context) {
	for _, symbol := range m.Running() {
		if err := m.Stop(ctx, symbol); err != nil && !errors.Is(err, ErrBotNotRunning) {
			m.l.Error("stop bot", applogger.String("symbol", symbol), applogger.Error(err))
		}
	}
}

// Running returns the symbols with a live loop, sorted.
func (m *BotManager) Running() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.bots))
	for s := range m.bots {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// List returns persisted statuses with the in-memory running flag merged in.
func (m *BotManager) List(ctx context.Context) ([]models.BotStatus, error) {
	stored, err := m.store.ListBots(ctx)
	if err != nil {
		return nil, fmt.Errorf("list bots: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := make(map[string]bool, len(stored))
	for i := range stored {
		_, running := m.bots[stored[i].Symbol]
		stored[i].Running = running
		seen[stored[i].Symbol] = true
	}
	for symbol, rt := range m.bots {
		if seen[symbol] {
			continue
		}
		stored = append(stored, models.BotStatus{
			Symbol:      symbol,
			Status:      models.BotRunning,
			IntervalSec: int(rt.interval / time.Second),
			Timeframes:  rt.timeframes,
			Running:     true,
		})
	}
	sort.Slice(stored, func(i, j int) bool { return stored[i].Symbol < stored[j].Symbol })
	return stored, nil
}

func (m *BotManager) loop(ctx context.Context, symbol string, rt *botRuntime) {
	defer close(rt.done)
	defer m.release(symbol, rt)
	for {
		rt.mu.Lock()
		m.runTick(ctx, symbol, rt.timeframes)
		rt.mu.Unlock()

		select {
		case <-ctx.Done():
			return
		case <-time.After(rt.interval):
		}
	}
}

func (m *BotManager) release(symbol string, rt *botRuntime) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.bots[symbol] == rt {
		delete(m.bots, symbol)
	}
}

// runTick never lets a failure escape the loop.
func (m *BotManager) runTick(ctx context.Context, symbol string, tfs []models.Timeframe) {
	started := m.now()
	outcome := "ok"
	defer func() {
		if r := recover(); r != nil {
			outcome = "panic"
			m.l.Error("bot tick panic", applogger.String("symbol", symbol), applogger.Any("panic", r))
		}
		if m.metrics != nil {
			m.metrics.RecordBotTick(symbol, outcome, time.Since(started).Seconds())
		}
	}()

	res, err := m.tick(ctx, symbol, tfs)
	switch {
	case ctx.Err() != nil:
		outcome = "cancelled"
	case apperr.IsUnavailable(err):
		outcome = "skipped"
		m.l.Debug("bot tick skipped", applogger.String("symbol", symbol), applogger.Error(err))
	case err != nil:
		outcome = "error"
		if m.metrics != nil {
			m.metrics.RecordError("bot_tick")
		}
		m.l.Error("bot tick failed", applogger.String("symbol", symbol), applogger.Error(err))
	default:
		outcome = res
	}
}

// tick runs one decision and returns "entry", "exit" or "idle".
func (m *BotManager) tick(ctx context.Context, symbol string, tfs []models.Timeframe) (string, error) {
	params, err := m.params.ActiveParams(ctx)
	if err != nil {
		params = m.cfg.Params
		m.l.Warn("active params unavailable, using defaults", applogger.String("symbol", symbol), applogger.Error(err))
	}

	windows, err := m.windows(ctx, symbol, tfs)
	if err != nil {
		return "", err
	}

	probs := make(map[models.Timeframe]models.ProbabilityTriple, len(windows))
	var base models.Timeframe
	for _, tf := range models.SortSlowToFast(tfs) {
		w := windows[tf]
		if len(w) == 0 {
			continue
		}
		series, err := m.model.Predict(ctx, symbol, tf, models.TailCandles(w, predictWindow))
		if apperr.IsUnavailable(err) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("predict %s %s: %w", symbol, tf, err)
		}
		last, ok := series.Last()
		if !ok {
			continue
		}
		probs[tf] = last
		base = tf
	}
	if base == "" {
		return "", apperr.Unavailable("bot.tick", "no predictions for %s", symbol)
	}

	agg := signal.Aggregate(probs, m.cfg.Weights, nil)
	baseBars := models.TailCandles(windows[base], atrWindow)
	last := baseBars[len(baseBars)-1]
	atr := lastATR(baseBars, m.cfg.ATRPeriod)

	open, err := m.trades.OpenTrades(ctx, symbol, m.cfg.Network)
	if err != nil {
		return "", fmt.Errorf("open trades: %w", err)
	}

	stats := map[string]any{
		"last_tick": m.now().UTC(),
		"score":     agg.Score,
		"support":   agg.Support,
		"direction": agg.Direction,
		"base_tf":   base,
	}
	result := "idle"

	if len(open) == 0 {
		d := signal.DecideEntry(agg, probs[base], params.EntryThreshold, params.MinSupport, params.HoldMarginMin)
		if d.Allowed && d.Direction != 0 {
			t, err := m.openTrade(ctx, symbol, base, last, atr, d.Direction, params)
			if err != nil {
				return "", err
			}
			stats["last_event"] = "entry"
			stats["last_entry_price"] = t.EntryPrice
			stats["last_entry_side"] = t.Side
			result = "entry"
		}
	} else {
		t := open[0]
		reason, price, exit := liveExit(t, last, atr, params)
		if !exit && signal.DecideExit(agg, t.Side.Direction(), probs[base], signal.ExitRuleFrom(params)) {
			reason, price, exit = models.ExitSignal, last.Close, true
		}
		if exit {
			closed, err := m.trades.CloseAllOpen(ctx, symbol, m.cfg.Network, price, m.now().UTC(), reason)
			if err != nil {
				return "", fmt.Errorf("close trades: %w", err)
			}
			for i := range closed {
				m.recordTrade(ctx, models.EventTradeClosed, &closed[i], string(reason))
			}
			stats["last_event"] = "exit"
			stats["last_exit_price"] = price
			stats["last_exit_reason"] = reason
			result = "exit"
		}
	}

	if err := m.store.UpdateBotStats(ctx, symbol, stats); err != nil {
		m.l.Warn("update bot stats", applogger.String("symbol", symbol), applogger.Error(err))
	}
	return result, nil
}

// windows prefers the live cache and falls back to stored history.
func (m *BotManager) windows(ctx context.Context, symbol string, tfs []models.Timeframe) (map[models.Timeframe][]models.Candle, error) {
	out := make(map[models.Timeframe][]models.Candle, len(tfs))
	for _, tf := range tfs {
		if m.quotes != nil {
			if live := m.quotes.Candles(symbol, tf, liveWindow); len(live) >= liveWindow {
				out[tf] = live
				continue
			}
		}
		stored, err := m.candles.LatestCandles(ctx, symbol, tf, storeWindow)
		if err != nil {
			return nil, fmt.Errorf("load %s %s: %w", symbol, tf, err)
		}
		out[tf] = stored
	}
	return out, nil
}

func (m *BotManager) openTrade(ctx context.Context, symbol string, tf models.Timeframe, bar models.Candle, atr float64, dir int, p models.SignalParams) (*models.Trade, error) {
	side := models.SideFromDirection(dir)
	sl, tp := backtest.Levels(side, bar.Close, atr, p.SLATRMult, p.TPATRMult)
	t := &models.Trade{
		Symbol:     symbol,
		Timeframe:  tf,
		Side:       side,
		Quantity:   1,
		EntryPrice: bar.Close,
		EntryTime:  bar.OpenTime.UTC(),
		StopLoss:   sl,
		TakeProfit: tp,
		MaxBars:    p.MaxBarsInTrade,
		Status:     models.TradeOpen,
		Network:    m.cfg.Network,
		Origin:     originBot,
	}
	if err := m.trades.AddTrade(ctx, t); err != nil {
		return nil, fmt.Errorf("add trade: %w", err)
	}
	m.recordTrade(ctx, models.EventTradeOpened, t, "")
	return t, nil
}

func (m *BotManager) recordTrade(ctx context.Context, event string, t *models.Trade, reason string) {
	if m.metrics != nil {
		m.metrics.RecordTrade(t.Symbol, event, reason)
	}
	m.l.Info("bot trade",
		applogger.String("event", event),
		applogger.String("symbol", t.Symbol),
		applogger.String("side", string(t.Side)),
		applogger.Float64("entry", t.EntryPrice),
		applogger.String("reason", reason),
	)
	m.publish(ctx, event, t.Symbol, t)
}

func (m *BotManager) publish(ctx context.Context, typ, symbol string, payload any) {
	if m.publisher == nil {
		return
	}
	ev := models.Event{Type: typ, Symbol: symbol, TS: m.now().UTC(), Payload: payload}
	if err := m.publisher.Publish(ctx, ev); err != nil {
		m.l.Warn("publish event", applogger.String("type", typ), applogger.Error(err))
	}
}

// liveExit re-derives stops from the current ATR and checks stop loss before
// take profit against the latest bar.
func liveExit(t models.Trade, bar models.Candle, atr float64, p models.SignalParams) (models.ExitReason, float64, bool) {
	sl, tp := backtest.Levels(t.Side, t.EntryPrice, atr, p.SLATRMult, p.TPATRMult)
	var hitSL, hitTP bool
	if t.Side == models.SideBuy {
		hitSL, hitTP = bar.Low <= sl, bar.High >= tp
	} else {
		hitSL, hitTP = bar.High >= sl, bar.Low <= tp
	}
	switch {
	case hitSL:
		return models.ExitStopLoss, sl, true
	case hitTP:
		return models.ExitTakeProfit, tp, true
	}
	return "", 0, false
}

func lastATR(bars []models.Candle, period int) float64 {
	if len(bars) == 0 {
		return 0
	}
	high := make([]float64, len(bars))
	low := make([]float64, len(bars))
	closes := make([]float64, len(bars))
	for i, c := range bars {
		high[i], low[i], closes[i] = c.High, c.Low, c.Close
	}
	atr := backtest.ATR(high, low, closes, period)
	return atr[len(atr)-1]
}
