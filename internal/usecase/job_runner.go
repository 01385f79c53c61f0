package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"MTFTrader/internal/domain/apperr"
	"MTFTrader/internal/domain/models"
	domrepo "MTFTrader/internal/domain/repository"
	"MTFTrader/internal/domain/service"
	"MTFTrader/internal/services/optimizer"
	"MTFTrader/internal/services/precompute"
	"MTFTrader/pkg/cache"
	applogger "MTFTrader/pkg/logger"
	"MTFTrader/pkg/queue"
	"MTFTrader/pkg/retry"
	"MTFTrader/pkg/workpool"
)

// MsgTrainingPipeline is the queue message type carrying a models.JobSpec.
const MsgTrainingPipeline = "training.pipeline"

const (
	progressTrainStart    = 0.05
	progressTrainEnd      = 0.80
	progressOptimizeEnd   = 0.97
	progressBacktestSpan  = 0.02
	optimizeReportBuckets = 50
)

// JobConfig carries the pipeline settings.
type JobConfig struct {
	Timeframes      []models.Timeframe
	OptimizeDefault bool
	TrainWorkers    int
	TrainBars       int
	OptimizeLimit   int
	BacktestLimit   int
	BacktestWorkers int
	BacktestTimeout time.Duration
	LockTTL         time.Duration
}

func DefaultJobConfig() JobConfig {
	return JobConfig{
		Timeframes:      models.DefaultTimeframes(),
		TrainWorkers:    2,
		TrainBars:       100000,
		OptimizeLimit:   3000,
		BacktestLimit:   500,
		BacktestTimeout: 180 * time.Second,
		LockTTL:         2 * time.Hour,
	}
}

// Optimizer tunes backtest parameters for one timeframe.
type Optimizer interface {
	Optimize(ctx context.Context, symbol string, tf models.Timeframe, limit int, progress optimizer.ProgressFunc) (models.OptimizationResult, error)
}

// Backtester simulates parameters over history.
type Backtester interface {
	Run(ctx context.Context, symbol string, tf models.Timeframe, limit int, params models.BacktestParams, pre *precompute.Precompute) (models.BacktestResult, error)
}

// ModelInvalidator drops cached models after retraining.
type ModelInvalidator interface {
	Invalidate(ctx context.Context, symbol string, tf models.Timeframe)
}

// Retry policies for durable job writes.
var (
	contentionPolicy = retry.Policy{Tries: 12, Delay: 120 * time.Millisecond, Backoff: 1.6, MaxDelay: 2 * time.Second, Retryable: apperr.IsContention}
	finalPolicy      = retry.Policy{Tries: 4, Delay: 120 * time.Millisecond, Backoff: 1.6, MaxDelay: 2 * time.Second, Retryable: apperr.IsContention}
	errorPolicy      = retry.Policy{Tries: 3, Delay: 200 * time.Millisecond, Backoff: 1}
)

// JobRunner accepts training jobs and runs the sync, train, optimize and
// backtest pipeline for them.
type JobRunner struct {
	cfg        JobConfig
	jobs       domrepo.JobStore
	status     domrepo.StatusCache
	sync       *CandleSync
	candles    domrepo.CandleStore
	trainer    service.ModelTrainer
	modelStore domrepo.ModelStore
	invalidate ModelInvalidator
	optimizer  Optimizer
	backtester Backtester
	params     domrepo.ParamStore
	dispatcher queue.Dispatcher
	locks      cache.Service
	publisher  domrepo.EventPublisher
	metrics    domrepo.Metrics
	l          *applogger.Logger
	now        func() time.Time
}

// JobDeps groups the collaborators of a JobRunner.
type JobDeps struct {
	Jobs        domrepo.JobStore
	Status      domrepo.StatusCache
	Sync        *CandleSync
	Candles     domrepo.CandleStore
	Trainer     service.ModelTrainer
	Models      domrepo.ModelStore
	Invalidator ModelInvalidator
	Optimizer   Optimizer
	Backtester  Backtester
	Params      domrepo.ParamStore
	Dispatcher  queue.Dispatcher
	Locks       cache.Service
	Publisher   domrepo.EventPublisher
	Metrics     domrepo.Metrics
}

// NewJobRunner registers the pipeline handler on the dispatcher. The
// dispatcher must be started by the caller.
func NewJobRunner(cfg JobConfig, deps JobDeps, l *applogger.Logger) *JobRunner {
	def := DefaultJobConfig()
	if len(cfg.Timeframes) == 0 {
		cfg.Timeframes = def.Timeframes
	}
	if cfg.TrainWorkers <= 0 {
		cfg.TrainWorkers = def.TrainWorkers
	}
	if cfg.TrainBars <= 0 {
		cfg.TrainBars = def.TrainBars
	}
	if cfg.OptimizeLimit <= 0 {
		cfg.OptimizeLimit = def.OptimizeLimit
	}
	if cfg.BacktestLimit <= 0 {
		cfg.BacktestLimit = def.BacktestLimit
	}
	if cfg.BacktestTimeout <= 0 {
		cfg.BacktestTimeout = def.BacktestTimeout
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = def.LockTTL
	}
	if cfg.BacktestWorkers <= 0 {
		cfg.BacktestWorkers = optimizer.AutoWorkers()
	}
	r := &JobRunner{
		cfg:        cfg,
		jobs:       deps.Jobs,
		status:     deps.Status,
		sync:       deps.Sync,
		candles:    deps.Candles,
		trainer:    deps.Trainer,
		modelStore: deps.Models,
		invalidate: deps.Invalidator,
		optimizer:  deps.Optimizer,
		backtester: deps.Backtester,
		params:     deps.Params,
		dispatcher: deps.Dispatcher,
		locks:      deps.Locks,
		publisher:  deps.Publisher,
		metrics:    deps.Metrics,
		l:          l,
		now:        time.Now,
	}
	r.dispatcher.RegisterJob(queue.JobFunc{
		JobName: "training-pipeline",
		MsgType: MsgTrainingPipeline,
		Fn:      r.handle,
	})
	return r
}

// SubmitRequest describes a job to run.
type SubmitRequest struct {
	Symbol     string
	Timeframes []models.Timeframe
	Mode       models.JobMode
	Optimize   *bool
}

// Submit records a queued job and hands it to the dispatcher. A symbol with
// a queued or running job is rejected.
func (r *JobRunner) Submit(ctx context.Context, req SubmitRequest) (*models.TrainingJob, error) {
	if req.Symbol == "" {
		return nil, apperr.Invalid("jobs.Submit", "symbol is required")
	}
	if active, err := r.jobs.ActiveJob(ctx, req.Symbol); err == nil && active != nil {
		return active, apperr.Conflict("jobs.Submit", "job %s for %s is %s", active.ID, req.Symbol, active.Status)
	} else if err != nil && !apperr.IsUnavailable(err) {
		return nil, fmt.Errorf("active job: %w", err)
	}

	tfs := req.Timeframes
	if len(tfs) == 0 {
		tfs = r.cfg.Timeframes
	}
	mode := req.Mode
	if mode == "" {
		mode = models.JobModeIncremental
	}
	opt := r.cfg.OptimizeDefault
	if req.Optimize != nil {
		opt = *req.Optimize
	}

	now := r.now().UTC()
	job := &models.TrainingJob{
		ID:         uuid.NewString(),
		Symbol:     req.Symbol,
		Timeframes: models.SortFastToSlow(tfs),
		Mode:       mode,
		Optimize:   opt,
		Status:     models.JobQueued,
		Message:    "Queued",
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := retry.Do(ctx, r.policy(contentionPolicy, "create_job"), func(ctx context.Context) error {
		return r.jobs.CreateJob(ctx, job)
	}); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	r.writeStatus(ctx, job.ID, models.JobStatusRecord{TS: now, Status: job.Status, Message: job.Message})

	spec := models.JobSpec{JobID: job.ID, Symbol: job.Symbol, Timeframes: job.Timeframes, Mode: job.Mode, Optimize: job.Optimize}
	if err := r.dispatcher.Enqueue(ctx, MsgTrainingPipeline, spec); err != nil {
		r.fail(ctx, job.ID, fmt.Errorf("enqueue: %w", err))
		return nil, fmt.Errorf("enqueue job: %w", err)
	}
	r.l.Info("training job submitted",
		applogger.String("job_id", job.ID),
		applogger.String("symbol", job.Symbol),
		applogger.Any("timeframes", job.Timeframes),
		applogger.String("mode", string(job.Mode)),
		applogger.Bool("optimize", job.Optimize),
	)
	return job, nil
}

// Get returns the durable job row overlaid with the fresher status record.
func (r *JobRunner) Get(ctx context.Context, id string) (*models.TrainingJob, error) {
	job, err := r.jobs.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec, err := r.status.ReadStatus(ctx, id); err == nil && rec.TS.After(job.UpdatedAt) {
		job.Status, job.Progress, job.Message, job.UpdatedAt = rec.Status, rec.Progress, rec.Message, rec.TS
	}
	return job, nil
}

// Active returns the most recent queued or running job for symbol.
func (r *JobRunner) Active(ctx context.Context, symbol string) (*models.TrainingJob, error) {
	job, err := r.jobs.ActiveJob(ctx, symbol)
	if err != nil {
		return nil, err
	}
	return r.Get(ctx, job.ID)
}

func (r *JobRunner) Logs(ctx context.Context, id string, limit int) ([]models.JobLog, error) {
	if _, err := r.jobs.GetJob(ctx, id); err != nil {
		return nil, err
	}
	return r.jobs.Logs(ctx, id, limit)
}

// ActiveLogs returns the newest logs of the symbol's active job, or none when
// no job is queued or running.
func (r *JobRunner) ActiveLogs(ctx context.Context, symbol string, limit int) (*models.TrainingJob, []models.JobLog, error) {
	job, err := r.jobs.ActiveJob(ctx, symbol)
	if apperr.IsUnavailable(err) {
		return nil, []models.JobLog{}, nil
	}
	if err != nil {
		return nil, nil, err
	}
	logs, err := r.jobs.Logs(ctx, job.ID, limit)
	if err != nil {
		return nil, nil, err
	}
	return job, logs, nil
}

func (r *JobRunner) handle(ctx context.Context, payload json.RawMessage) error {
	spec, err := queue.ParsePayload[models.JobSpec](payload)
	if err != nil {
		return err
	}
	return r.Execute(ctx, *spec)
}

// Execute runs the pipeline for spec under the per-symbol lock. Pipeline
// failures are recorded on the job and not returned, so the queue does not
// replay a job that already reached a terminal state. Lock contention is
// returned so the queue retries later.
func (r *JobRunner) Execute(ctx context.Context, spec models.JobSpec) error {
	key := cache.Key("lock", "pipeline", spec.Symbol)
	ok, err := r.locks.TryLock(ctx, key, r.cfg.LockTTL)
	if err != nil {
		return fmt.Errorf("pipeline lock: %w", err)
	}
	if !ok {
		return apperr.Contention("jobs.Execute", fmt.Errorf("pipeline for %s already running", spec.Symbol))
	}
	defer func() {
		if err := r.locks.Unlock(context.Background(), key); err != nil {
			r.l.Warn("release pipeline lock", applogger.String("symbol", spec.Symbol), applogger.Error(err))
		}
	}()

	if err := r.runPipeline(ctx, spec); err != nil {
		r.fail(ctx, spec.JobID, err)
	}
	return nil
}

func (r *JobRunner) runPipeline(ctx context.Context, spec models.JobSpec) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = apperr.Fatal("jobs.pipeline", fmt.Errorf("panic: %v", rec))
		}
	}()

	p := &pipeline{r: r, spec: spec}
	started := r.now()
	if err := p.progress(ctx, models.JobRunning, 0, "Syncing history"); err != nil {
		return err
	}

	steps := []struct {
		phase string
		run   func(context.Context) error
		skip  bool
	}{
		{models.PhaseSync, p.syncPhase, false},
		{models.PhaseTrain, p.trainPhase, false},
		{models.PhaseOptimize, p.optimizePhase, !spec.Optimize},
		{models.PhaseBacktest, p.backtestPhase, false},
	}
	for _, s := range steps {
		if s.skip {
			continue
		}
		phaseStart := r.now()
		err := s.run(ctx)
		r.recordPhase(s.phase, err, phaseStart)
		if err != nil {
			return err
		}
	}

	rec := models.JobStatusRecord{TS: r.now().UTC(), Status: models.JobFinished, Progress: 1, Message: "Completed"}
	r.writeStatus(ctx, spec.JobID, rec)
	if err := retry.Do(ctx, r.policy(finalPolicy, "finish_job"), func(ctx context.Context) error {
		return r.jobs.UpdateJob(ctx, spec.JobID, rec.Status, rec.Progress, rec.Message)
	}); err != nil {
		return fmt.Errorf("finish job: %w", err)
	}
	p.log(ctx, models.LevelInfo, models.PhaseFinalize, "Completed", map[string]any{
		"timeframes": p.tfs,
		"took_ms":    r.now().Sub(started).Milliseconds(),
	})
	r.publish(ctx, spec, rec)
	r.recordPhase("pipeline", nil, started)
	return nil
}

// fail marks the job as errored on every channel.
func (r *JobRunner) fail(ctx context.Context, jobID string, cause error) {
	msg := cause.Error()
	now := r.now().UTC()
	r.l.Error("training job failed", applogger.String("job_id", jobID), applogger.Error(cause))
	if r.metrics != nil {
		r.metrics.RecordError("job_" + apperr.KindOf(cause).String())
	}

	ctx = context.WithoutCancel(ctx)
	rec := models.JobStatusRecord{TS: now, Status: models.JobError, Message: msg}
	if cur, err := r.status.ReadStatus(ctx, jobID); err == nil {
		rec.Progress = cur.Progress
	}
	r.writeStatus(ctx, jobID, rec)
	if err := retry.Do(ctx, r.policy(errorPolicy, "fail_job"), func(ctx context.Context) error {
		return r.jobs.UpdateJob(ctx, jobID, models.JobError, rec.Progress, msg)
	}); err != nil {
		r.l.Error("record job failure", applogger.String("job_id", jobID), applogger.Error(err))
	}
	entry := models.JobLog{JobID: jobID, TS: now, Level: models.LevelError, Phase: models.PhaseFinalize, Message: msg}
	if err := r.status.AppendLog(ctx, jobID, entry); err != nil {
		r.l.Warn("append job file log", applogger.String("job_id", jobID), applogger.Error(err))
	}
	if err := r.jobs.AppendLog(ctx, entry); err != nil {
		r.l.Warn("append job log", applogger.String("job_id", jobID), applogger.Error(err))
	}
}

func (r *JobRunner) writeStatus(ctx context.Context, jobID string, rec models.JobStatusRecord) {
	if err := r.status.WriteStatus(ctx, jobID, rec); err != nil {
		r.l.Warn("write job status", applogger.String("job_id", jobID), applogger.Error(err))
	}
}

func (r *JobRunner) publish(ctx context.Context, spec models.JobSpec, rec models.JobStatusRecord) {
	if r.publisher == nil {
		return
	}
	ev := models.Event{Type: models.EventJobStatus, Symbol: spec.Symbol, TS: rec.TS, Payload: map[string]any{
		"job_id":   spec.JobID,
		"status":   rec.Status,
		"progress": rec.Progress,
		"message":  rec.Message,
	}}
	if err := r.publisher.Publish(ctx, ev); err != nil {
		r.l.Debug("publish job status", applogger.String("job_id", spec.JobID), applogger.Error(err))
	}
}

func (r *JobRunner) recordPhase(phase string, err error, started time.Time) {
	if r.metrics == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	r.metrics.RecordJobPhase(phase, status, r.now().Sub(started).Seconds())
}

func (r *JobRunner) policy(p retry.Policy, op string) retry.Policy {
	p.OnRetry = func(attempt int, err error) {
		if r.metrics != nil {
			r.metrics.RecordStoreRetry(op)
		}
		r.l.Debug("retrying job store write", applogger.String("op", op), applogger.Int("attempt", attempt), applogger.Error(err))
	}
	return p
}

// pipeline is the state of one job execution.
type pipeline struct {
	r    *JobRunner
	spec models.JobSpec
	tfs  []models.Timeframe

	mu  sync.Mutex
	max float64
}

// progress never moves backwards. The status cache is written first and the
// durable row is retried on contention.
func (p *pipeline) progress(ctx context.Context, status models.JobStatus, value float64, msg string) error {
	p.mu.Lock()
	value = max(value, p.max)
	p.max = value
	p.mu.Unlock()

	rec := models.JobStatusRecord{TS: p.r.now().UTC(), Status: status, Progress: value, Message: msg}
	p.r.writeStatus(ctx, p.spec.JobID, rec)
	err := retry.Do(ctx, p.r.policy(contentionPolicy, "update_job"), func(ctx context.Context) error {
		return p.r.jobs.UpdateJob(ctx, p.spec.JobID, status, value, msg)
	})
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	p.r.publish(ctx, p.spec, rec)
	return nil
}

func (p *pipeline) log(ctx context.Context, level models.LogLevel, phase, msg string, data map[string]any) {
	entry := models.JobLog{JobID: p.spec.JobID, TS: p.r.now().UTC(), Level: level, Phase: phase, Message: msg, Data: data}
	if err := p.r.status.AppendLog(ctx, p.spec.JobID, entry); err != nil {
		p.r.l.Warn("append job file log", applogger.String("job_id", p.spec.JobID), applogger.Error(err))
	}
	err := retry.Do(ctx, p.r.policy(contentionPolicy, "append_log"), func(ctx context.Context) error {
		return p.r.jobs.AppendLog(ctx, entry)
	})
	if err != nil {
		p.r.l.Warn("append job log", applogger.String("job_id", p.spec.JobID), applogger.Error(err))
	}
}

func (p *pipeline) syncPhase(ctx context.Context) error {
	full := p.spec.Mode == models.JobModeFull
	for _, tf := range p.spec.Timeframes {
		n, err := p.r.sync.Sync(ctx, p.spec.Symbol, tf, full)
		if err != nil {
			p.log(ctx, models.LevelError, models.PhaseSync, "sync failed", map[string]any{"timeframe": tf, "error": err.Error()})
			return apperr.Fatal("jobs.sync", err)
		}
		p.log(ctx, models.LevelInfo, models.PhaseSync, "synced", map[string]any{"timeframe": tf, "bars": n})
	}
	return nil
}

func (p *pipeline) trainPhase(ctx context.Context) error {
	if err := p.progress(ctx, models.JobRunning, progressTrainStart, "Training models"); err != nil {
		return err
	}
	tfs := p.spec.Timeframes
	tasks := make([]workpool.Task[*models.ModelBundle], len(tfs))
	for i, tf := range tfs {
		tasks[i] = func(ctx context.Context) (*models.ModelBundle, error) {
			return p.trainOne(ctx, tf)
		}
	}

	done := 0
	results := workpool.Run(ctx, tasks, p.r.cfg.TrainWorkers, func(res workpool.Result[*models.ModelBundle]) {
		done++
		tf := tfs[res.Index]
		if res.Err != nil {
			p.log(ctx, models.LevelError, models.PhaseTrain, "training failed", map[string]any{"timeframe": tf, "error": res.Err.Error()})
		} else {
			p.log(ctx, models.LevelInfo, models.PhaseTrain, "trained", map[string]any{
				"timeframe": tf,
				"accuracy":  res.Value.Metrics.Accuracy,
				"samples":   res.Value.Metrics.Samples,
			})
		}
		frac := progressTrainStart + (progressTrainEnd-progressTrainStart)*float64(done)/float64(len(tfs))
		if err := p.progress(ctx, models.JobRunning, frac, fmt.Sprintf("Trained %d/%d", done, len(tfs))); err != nil {
			p.r.l.Warn("train progress", applogger.String("job_id", p.spec.JobID), applogger.Error(err))
		}
	})
	if err := ctx.Err(); err != nil {
		return err
	}

	for _, res := range results {
		if res.Err == nil {
			p.tfs = append(p.tfs, tfs[res.Index])
		}
	}
	if len(p.tfs) == 0 {
		return apperr.Fatal("jobs.train", errors.New("training failed for every timeframe"))
	}
	return nil
}

func (p *pipeline) trainOne(ctx context.Context, tf models.Timeframe) (*models.ModelBundle, error) {
	candles, err := p.r.candles.LatestCandles(ctx, p.spec.Symbol, tf, p.r.cfg.TrainBars)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	bundle, err := p.r.trainer.Train(ctx, p.spec.Symbol, tf, candles)
	if err != nil {
		return nil, err
	}
	if err := retry.Do(ctx, p.r.policy(contentionPolicy, "save_model"), func(ctx context.Context) error {
		return p.r.modelStore.SaveModel(ctx, bundle)
	}); err != nil {
		return nil, fmt.Errorf("save model: %w", err)
	}
	if p.r.invalidate != nil {
		p.r.invalidate.Invalidate(ctx, p.spec.Symbol, tf)
	}
	return bundle, nil
}

func (p *pipeline) optimizePhase(ctx context.Context) error {
	n := len(p.tfs)
	span := (progressOptimizeEnd - progressTrainEnd) / float64(n)
	for i, tf := range p.tfs {
		base := progressTrainEnd + span*float64(i)
		report := func(pr models.OptimizeProgress) {
			step := max(1, pr.Total/optimizeReportBuckets)
			if pr.Done%step != 0 && pr.Done != pr.Total {
				return
			}
			frac := base + span*float64(pr.Done)/float64(max(pr.Total, 1))
			msg := fmt.Sprintf("Optimizing %s %d/%d", tf, pr.Done, pr.Total)
			if err := p.progress(ctx, models.JobRunning, frac, msg); err != nil {
				p.r.l.Warn("optimize progress", applogger.String("job_id", p.spec.JobID), applogger.Error(err))
			}
		}
		res, err := p.r.optimizer.Optimize(ctx, p.spec.Symbol, tf, p.r.cfg.OptimizeLimit, report)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			p.log(ctx, models.LevelError, models.PhaseOptimize, "optimization failed", map[string]any{"timeframe": tf, "error": err.Error()})
			continue
		}
		p.log(ctx, models.LevelInfo, models.PhaseOptimize, "optimized", map[string]any{
			"timeframe": tf,
			"evaluated": res.Evaluated,
			"failed":    res.Failed,
			"defaulted": res.Defaulted,
			"tuned":     res.Tuned,
		})
	}
	return p.progress(ctx, models.JobRunning, progressOptimizeEnd, "Optimization done")
}

type backtestOutcome struct {
	params models.BacktestParams
	result models.BacktestResult
}

func (p *pipeline) backtestPhase(ctx context.Context) error {
	if err := p.progress(ctx, models.JobRunning, progressOptimizeEnd, "Backtesting"); err != nil {
		return err
	}
	tfs := p.tfs
	tasks := make([]workpool.Task[backtestOutcome], len(tfs))
	for i, tf := range tfs {
		tasks[i] = func(ctx context.Context) (backtestOutcome, error) {
			return p.backtestOne(ctx, tf)
		}
	}

	done := 0
	workpool.RunWithDeadlineFallback(ctx, tasks, p.r.cfg.BacktestWorkers, p.r.cfg.BacktestTimeout, func(res workpool.Result[backtestOutcome]) {
		done++
		tf := tfs[res.Index]
		if res.Err != nil {
			p.log(ctx, models.LevelError, models.PhaseBacktest, "backtest failed", map[string]any{"timeframe": tf, "error": res.Err.Error()})
		} else {
			p.applyBacktest(ctx, tf, res.Value, res.Fallback)
		}
		frac := progressOptimizeEnd + progressBacktestSpan*float64(done)/float64(len(tfs))
		if err := p.progress(ctx, models.JobRunning, frac, fmt.Sprintf("Backtested %d/%d", done, len(tfs))); err != nil {
			p.r.l.Warn("backtest progress", applogger.String("job_id", p.spec.JobID), applogger.Error(err))
		}
	})
	return ctx.Err()
}

func (p *pipeline) backtestOne(ctx context.Context, tf models.Timeframe) (backtestOutcome, error) {
	params := models.DefaultBacktestParams()
	tuned, err := p.r.params.TunedParams(ctx, p.spec.Symbol, tf)
	switch {
	case err == nil:
		params = tuned.Params
	case !apperr.IsUnavailable(err):
		return backtestOutcome{}, fmt.Errorf("tuned params: %w", err)
	}
	res, err := p.r.backtester.Run(ctx, p.spec.Symbol, tf, p.r.cfg.BacktestLimit, params, nil)
	if err != nil {
		return backtestOutcome{}, err
	}
	return backtestOutcome{params: params, result: res}, nil
}

func (p *pipeline) applyBacktest(ctx context.Context, tf models.Timeframe, out backtestOutcome, fallback bool) {
	winrate, count, params := out.result.Stats.Winrate, out.result.Stats.Count, out.params
	patch := models.ModelMetrics{BTWinrate: &winrate, BTTradesCount: &count, TunedParams: &params}
	err := retry.Do(ctx, p.r.policy(contentionPolicy, "model_metrics"), func(ctx context.Context) error {
		return p.r.modelStore.UpdateModelMetrics(ctx, p.spec.Symbol, tf, patch)
	})
	if err != nil {
		p.log(ctx, models.LevelWarn, models.PhaseBacktest, "metrics update failed", map[string]any{"timeframe": tf, "error": err.Error()})
		return
	}
	p.log(ctx, models.LevelInfo, models.PhaseBacktest, "backtested", map[string]any{
		"timeframe": tf,
		"winrate":   winrate,
		"trades":    count,
		"fallback":  fallback,
	})
}
