package optimizer

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"MTFTrader/internal/domain/apperr"
	"MTFTrader/internal/domain/models"
	"MTFTrader/internal/domain/repository"
	"MTFTrader/internal/services/backtest"
	"MTFTrader/internal/services/precompute"
	applogger "MTFTrader/pkg/logger"
	"MTFTrader/pkg/workpool"
)

// ProgressFunc receives a report after every finished evaluation.
type ProgressFunc func(models.OptimizeProgress)

type Optimizer struct {
	runner  *backtest.Runner
	params  repository.ParamStore
	grid    Grid
	workers int
	metrics repository.Metrics
	logger  *applogger.Logger
}

type Option func(*Optimizer)

func WithGrid(g Grid) Option {
	return func(o *Optimizer) { o.grid = g }
}

// WithWorkers bounds the evaluation pool; zero or less selects a size from the CPU count.
func WithWorkers(n int) Option {
	return func(o *Optimizer) { o.workers = n }
}

func WithMetrics(m repository.Metrics) Option {
	return func(o *Optimizer) { o.metrics = m }
}

func New(runner *backtest.Runner, params repository.ParamStore, logger *applogger.Logger, opts ...Option) *Optimizer {
	o := &Optimizer{runner: runner, params: params, grid: DefaultGrid(), logger: logger}
	for _, opt := range opts {
		opt(o)
	}
	if o.workers <= 0 {
		o.workers = AutoWorkers()
	}
	return o
}

// AutoWorkers is min(64, max(4, NumCPU)).
func AutoWorkers() int {
	return min(64, max(4, runtime.NumCPU()))
}

func (o *Optimizer) GridSize() int { return o.grid.Size() }

// Optimize evaluates every grid point over the last limit bars, persists the
// best parameters and returns the summary. When nothing usable came out the
// defaults are persisted instead.
func (o *Optimizer) Optimize(ctx context.Context, symbol string, tf models.Timeframe, limit int, progress ProgressFunc) (models.OptimizationResult, error) {
	started := time.Now()
	res := models.OptimizationResult{Symbol: symbol, Timeframe: tf}

	candles, pre, err := o.runner.Prepare(ctx, symbol, tf, limit)
	switch {
	case apperr.IsUnavailable(err):
		o.logger.Warn("optimizer has no data, persisting defaults",
			applogger.String("symbol", symbol),
			applogger.String("timeframe", string(tf)),
			applogger.Error(err),
		)
	case err != nil:
		return res, fmt.Errorf("prepare %s %s: %w", symbol, tf, err)
	default:
		evals, failed := o.evaluate(ctx, candles, pre, symbol, tf, limit, progress)
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		res.Evaluated, res.Failed = len(evals), failed
		res.Best = selectBest(evals)
	}

	tuned := models.TunedParams{Symbol: symbol, Timeframe: tf}
	if res.Best != nil {
		tuned.Params, tuned.Stats = res.Best.Params, res.Best.Stats
	} else {
		tuned.Params, tuned.Defaulted = models.DefaultBacktestParams(), true
	}
	res.Tuned, res.Defaulted = tuned.Params, tuned.Defaulted

	if err := o.params.SaveTunedParams(ctx, tuned); err != nil {
		return res, fmt.Errorf("save tuned params: %w", err)
	}

	o.logger.Info("optimization finished",
		applogger.String("symbol", symbol),
		applogger.String("timeframe", string(tf)),
		applogger.Int("evaluated", res.Evaluated),
		applogger.Int("failed", res.Failed),
		applogger.Bool("defaulted", res.Defaulted),
		applogger.Duration("took_ms", time.Since(started)),
	)
	return res, nil
}

// evaluate runs every grid point and returns successful evaluations in grid order.
func (o *Optimizer) evaluate(ctx context.Context, candles []models.Candle, pre *precompute.Precompute,
	symbol string, tf models.Timeframe, limit int, progress ProgressFunc,
) ([]models.Evaluation, int) {
	total := o.grid.Size()
	opts := o.runner.Options()

	tasks := make([]workpool.Task[models.Evaluation], total)
	for i := range tasks {
		p := o.grid.Params(i)
		tasks[i] = func(ctx context.Context) (models.Evaluation, error) {
			if err := ctx.Err(); err != nil {
				return models.Evaluation{}, err
			}
			r := backtest.Simulate(candles, pre, symbol, tf, limit, p, opts)
			return models.Evaluation{Params: p, Stats: r.Stats}, nil
		}
	}

	var (
		done int
		best *models.Evaluation
	)
	results := workpool.Run(ctx, tasks, o.workers, func(r workpool.Result[models.Evaluation]) {
		done++
		if r.Err != nil {
			o.record("error")
			o.logger.Debug("evaluation failed", applogger.Int("index", r.Index), applogger.Error(r.Err))
		} else {
			o.record("ok")
			if best == nil || r.Value.Stats.Better(best.Stats) {
				v := r.Value
				best = &v
			}
		}
		if progress != nil {
			progress(models.OptimizeProgress{Timeframe: tf, Done: done, Total: total, Best: best})
		}
	})

	evals := make([]models.Evaluation, 0, total)
	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
			continue
		}
		evals = append(evals, r.Value)
	}
	return evals, failed
}

func (o *Optimizer) record(outcome string) {
	if o.metrics != nil {
		o.metrics.RecordEvaluation(outcome)
	}
}

// selectBest keeps the first strictly better (winrate, count) pair in grid order.
func selectBest(evals []models.Evaluation) *models.Evaluation {
	var best *models.Evaluation
	for i := range evals {
		if best == nil || evals[i].Stats.Better(best.Stats) {
			best = &evals[i]
		}
	}
	return best
}
