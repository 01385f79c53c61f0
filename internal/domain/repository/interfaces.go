package repository

import (
	"context"
	"time"

	"MTFTrader/internal/domain/models"
)

// CandleStore persists closed OHLCV bars per (symbol, timeframe).
type CandleStore interface {
	// LatestCandles returns up to limit most recent bars, oldest first.
	LatestCandles(ctx context.Context, symbol string, tf models.Timeframe, limit int) ([]models.Candle, error)
	// LastOpenTime returns the newest stored bar time; ok is false when empty.
	LastOpenTime(ctx context.Context, symbol string, tf models.Timeframe) (t time.Time, ok bool, err error)
	UpsertCandles(ctx context.Context, candles []models.Candle) error
}

// ModelStore keeps trained bundles and their metrics.
type ModelStore interface {
	SaveModel(ctx context.Context, bundle *models.ModelBundle) error
	// LoadModel returns an apperr.Unavailable error when no model was trained.
	LoadModel(ctx context.Context, symbol string, tf models.Timeframe) (*models.ModelBundle, error)
	UpdateModelMetrics(ctx context.Context, symbol string, tf models.Timeframe, patch models.ModelMetrics) error
}

type ParamStore interface {
	SaveTunedParams(ctx context.Context, tuned models.TunedParams) error
	// TunedParams returns an apperr.Unavailable error when nothing was tuned.
	TunedParams(ctx context.Context, symbol string, tf models.Timeframe) (*models.TunedParams, error)
}

type TradeStore interface {
	AddTrade(ctx context.Context, t *models.Trade) error
	OpenTrades(ctx context.Context, symbol, network string) ([]models.Trade, error)
	// CloseAllOpen closes every open trade of (symbol, network) and returns the closed ones.
	CloseAllOpen(ctx context.Context, symbol, network string, price float64, at time.Time, reason models.ExitReason) ([]models.Trade, error)
	ListTrades(ctx context.Context, filter models.TradeFilter) ([]models.Trade, error)
}

type JobStore interface {
	CreateJob(ctx context.Context, job *models.TrainingJob) error
	UpdateJob(ctx context.Context, id string, status models.JobStatus, progress float64, message string) error
	GetJob(ctx context.Context, id string) (*models.TrainingJob, error)
	// ActiveJob returns the most recent queued or running job for symbol.
	ActiveJob(ctx context.Context, symbol string) (*models.TrainingJob, error)
	AppendLog(ctx context.Context, entry models.JobLog) error
	Logs(ctx context.Context, jobID string, limit int) ([]models.JobLog, error)
}

// SettingsStore is a JSON key/value store.
type SettingsStore interface {
	GetSetting(ctx context.Context, key string, dest any) (bool, error)
	PutSetting(ctx context.Context, key string, value any) error
}

type BotStore interface {
	SaveBotStatus(ctx context.Context, st models.BotStatus) error
	UpdateBotStats(ctx context.Context, symbol string, stats map[string]any) error
	ListBots(ctx context.Context) ([]models.BotStatus, error)
}

// StatusCache is the fast job status side channel.
type StatusCache interface {
	WriteStatus(ctx context.Context, jobID string, rec models.JobStatusRecord) error
	ReadStatus(ctx context.Context, jobID string) (*models.JobStatusRecord, error)
	AppendLog(ctx context.Context, jobID string, entry models.JobLog) error
}

type EventPublisher interface {
	Publish(ctx context.Context, ev models.Event) error
}

// QuoteCache exposes recent closed bars from the live stream.
type QuoteCache interface {
	Candles(symbol string, tf models.Timeframe, limit int) []models.Candle
	Append(c models.Candle) bool
}

type Metrics interface {
	RecordBotTick(symbol, outcome string, seconds float64)
	RecordTrade(symbol, event, reason string)
	RecordBacktest(symbol string, tf models.Timeframe, trades int, seconds float64)
	RecordEvaluation(outcome string)
	RecordJobPhase(phase, status string, seconds float64)
	RecordStoreRetry(op string)
	RecordQuote(symbol string, tf models.Timeframe)
	RecordError(kind string)
}
