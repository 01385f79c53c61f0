package service

import (
	"context"
	"time"

	"MTFTrader/internal/domain/models"
)

// ProbabilityModel produces per-bar buy/hold/sell forecasts for a candle window.
// It returns an apperr.Unavailable error when no model is trained.
type ProbabilityModel interface {
	Predict(ctx context.Context, symbol string, tf models.Timeframe, candles []models.Candle) (models.ProbabilitySeries, error)
}

// ModelTrainer fits a model from history.
type ModelTrainer interface {
	Train(ctx context.Context, symbol string, tf models.Timeframe, candles []models.Candle) (*models.ModelBundle, error)
}

// HistoryFetcher pulls klines from an exchange.
type HistoryFetcher interface {
	FetchKlines(ctx context.Context, symbol string, tf models.Timeframe, since time.Time, limit int) ([]models.Candle, error)
}

// QuoteStream delivers closed candles from a live feed.
type QuoteStream interface {
	Connect(ctx context.Context) error
	Read(ctx context.Context) (<-chan models.Candle, <-chan error)
	Subscribe(symbols []string, tfs []models.Timeframe)
	Close() error
	IsConnected() bool
}
