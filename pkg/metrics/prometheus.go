package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"MTFTrader/internal/domain/models"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	botTicks     *prometheus.CounterVec
	botTickTime  *prometheus.HistogramVec
	trades       *prometheus.CounterVec
	backtests    *prometheus.CounterVec
	backtestTime *prometheus.HistogramVec
	evaluations  *prometheus.CounterVec
	jobPhases    *prometheus.HistogramVec
	storeRetries *prometheus.CounterVec
	quotes       *prometheus.CounterVec
	errorsTotal  *prometheus.CounterVec
}

// New registers the collectors on reg, or on the default registry when reg is nil.
func New(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	if reg == nil {
		f = promauto.With(prometheus.DefaultRegisterer)
	}
	return &Recorder{
		botTicks: f.NewCounterVec(prometheus.CounterOpts{
			Name: "mtf_bot_ticks_total",
			Help: "Bot ticks by outcome",
		}, []string{"symbol", "outcome"}),
		botTickTime: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mtf_bot_tick_seconds",
			Help:    "Duration of a bot tick",
			Buckets: prometheus.DefBuckets,
		}, []string{"symbol"}),
		trades: f.NewCounterVec(prometheus.CounterOpts{
			Name: "mtf_trades_total",
			Help: "Sandbox trade events",
		}, []string{"symbol", "event", "reason"}),
		backtests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "mtf_backtest_trades_total",
			Help: "Trades produced by backtests",
		}, []string{"symbol", "timeframe"}),
		backtestTime: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mtf_backtest_seconds",
			Help:    "Duration of a backtest run",
			Buckets: prometheus.DefBuckets,
		}, []string{"timeframe"}),
		evaluations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "mtf_optimizer_evaluations_total",
			Help: "Optimizer grid evaluations by outcome",
		}, []string{"outcome"}),
		jobPhases: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mtf_job_phase_seconds",
			Help:    "Duration of pipeline phases",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 180, 600, 1800},
		}, []string{"phase", "status"}),
		storeRetries: f.NewCounterVec(prometheus.CounterOpts{
			Name: "mtf_store_retries_total",
			Help: "Store writes retried after contention",
		}, []string{"op"}),
		quotes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "mtf_live_candles_total",
			Help: "Closed candles received from the live stream",
		}, []string{"symbol", "timeframe"}),
		errorsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "mtf_errors_total",
			Help: "Total number of errors encountered",
		}, []string{"type"}),
	}
}

func (r *Recorder) RecordBotTick(symbol, outcome string, seconds float64) {
	r.botTicks.WithLabelValues(symbol, outcome).Inc()
	r.botTickTime.WithLabelValues(symbol).Observe(seconds)
}

func (r *Recorder) RecordTrade(symbol, event, reason string) {
	r.trades.WithLabelValues(symbol, event, reason).Inc()
}

func (r *Recorder) RecordBacktest(symbol string, tf models.Timeframe, trades int, seconds float64) {
	r.backtests.WithLabelValues(symbol, string(tf)).Add(float64(trades))
	r.backtestTime.WithLabelValues(string(tf)).Observe(seconds)
}

func (r *Recorder) RecordEvaluation(outcome string) {
	r.evaluations.WithLabelValues(outcome).Inc()
}

func (r *Recorder) RecordJobPhase(phase, status string, seconds float64) {
	r.jobPhases.WithLabelValues(phase, status).Observe(seconds)
}

func (r *Recorder) RecordStoreRetry(op string) {
	r.storeRetries.WithLabelValues(op).Inc()
}

func (r *Recorder) RecordQuote(symbol string, tf models.Timeframe) {
	r.quotes.WithLabelValues(symbol, string(tf)).Inc()
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}
