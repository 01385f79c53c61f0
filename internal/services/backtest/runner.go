package backtest

import (
	"context"
	"time"

	"MTFTrader/internal/domain/apperr"
	"MTFTrader/internal/domain/models"
	"MTFTrader/internal/domain/repository"
	"MTFTrader/internal/services/precompute"
	"MTFTrader/internal/services/signal"
	applogger "MTFTrader/pkg/logger"
)

// MinWindow is the fewest candles a backtest or panel loads.
const MinWindow = 600

// Runner loads history and forecasts, then simulates.
type Runner struct {
	candles  repository.CandleStore
	builder  *precompute.Builder
	opts     Options
	lookback int
	metrics  repository.Metrics
	logger   *applogger.Logger
}

type RunnerOption func(*Runner)

func WithOptions(o Options) RunnerOption {
	return func(r *Runner) { r.opts = o }
}

// WithLookback sets how many previous scores the panel smooths over.
func WithLookback(k int) RunnerOption {
	return func(r *Runner) { r.lookback = k }
}

func WithMetrics(m repository.Metrics) RunnerOption {
	return func(r *Runner) { r.metrics = m }
}

func NewRunner(candles repository.CandleStore, builder *precompute.Builder, logger *applogger.Logger, opts ...RunnerOption) *Runner {
	r := &Runner{
		candles:  candles,
		builder:  builder,
		opts:     DefaultOptions(),
		lookback: 2,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Runner) Options() Options { return r.opts }

// Prepare loads the candle window and the precompute once so several
// simulations can share them.
func (r *Runner) Prepare(ctx context.Context, symbol string, tf models.Timeframe, limit int) ([]models.Candle, *precompute.Precompute, error) {
	n := max(MinWindow, limit)
	candles, err := r.candles.LatestCandles(ctx, symbol, tf, n)
	if err != nil {
		return nil, nil, err
	}
	if len(candles) == 0 {
		return nil, nil, apperr.Unavailable("backtest.Prepare", "no history for %s %s", symbol, tf)
	}
	pre, err := r.builder.Build(ctx, symbol, tf, n)
	if err != nil {
		return nil, nil, err
	}
	return candles, pre, nil
}

// Run simulates params over the last limit bars. Missing history or forecasts
// produce an empty result rather than an error. pre may be nil.
func (r *Runner) Run(ctx context.Context, symbol string, tf models.Timeframe, limit int, params models.BacktestParams, pre *precompute.Precompute) (models.BacktestResult, error) {
	started := time.Now()
	n := max(MinWindow, limit)

	candles, err := r.candles.LatestCandles(ctx, symbol, tf, n)
	if err != nil {
		return models.BacktestResult{}, err
	}
	if len(candles) == 0 {
		return models.EmptyBacktestResult(symbol, tf), nil
	}
	if pre == nil {
		pre, err = r.builder.Build(ctx, symbol, tf, n)
		if apperr.IsUnavailable(err) {
			r.logger.Debug("backtest skipped",
				applogger.String("symbol", symbol),
				applogger.String("timeframe", string(tf)),
				applogger.Error(err),
			)
			return models.EmptyBacktestResult(symbol, tf), nil
		}
		if err != nil {
			return models.BacktestResult{}, err
		}
	}

	res := Simulate(candles, pre, symbol, tf, limit, params, r.opts)
	if r.metrics != nil {
		r.metrics.RecordBacktest(symbol, tf, res.Stats.Count, time.Since(started).Seconds())
	}
	return res, nil
}

// Panel traces score, support, direction and entry permission over the last
// limit bars, smoothing scores with the configured lookback.
func (r *Runner) Panel(ctx context.Context, symbol string, tf models.Timeframe, limit int, params models.SignalParams) (models.SignalPanel, error) {
	panel := models.SignalPanel{
		Symbol:         symbol,
		Timeframe:      tf,
		Time:           []time.Time{},
		Score:          []float64{},
		Support:        []float64{},
		Direction:      []int{},
		Entry:          []int{},
		EntryThreshold: params.EntryThreshold,
		ExitThreshold:  params.ExitThreshold,
		MinSupport:     params.MinSupport,
	}

	pre, err := r.builder.Build(ctx, symbol, tf, max(limit, MinWindow))
	if apperr.IsUnavailable(err) {
		return panel, nil
	}
	if err != nil {
		return panel, err
	}

	start := pre.Len() - min(pre.Len(), max(limit, 0))
	lb := signal.NewLookback(r.lookback)
	for i := start; i < pre.Len(); i++ {
		ts, probs := pre.At(i)
		agg := signal.Aggregate(probs, r.opts.Weights, lb)
		lb.Push(agg.Score)
		d := signal.DecideEntry(agg, probs[tf], params.EntryThreshold, params.MinSupport, params.HoldMarginMin)

		entry := 0
		if d.Allowed && d.Direction != 0 {
			entry = 1
		}
		panel.Time = append(panel.Time, ts)
		panel.Score = append(panel.Score, agg.Score)
		panel.Support = append(panel.Support, agg.Support)
		panel.Direction = append(panel.Direction, agg.Direction)
		panel.Entry = append(panel.Entry, entry)
	}
	return panel, nil
}
