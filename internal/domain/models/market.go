package models

import "time"

// TimeframeStatus is the stored state of one (symbol, timeframe).
type TimeframeStatus struct {
	Timeframe  Timeframe  `json:"timeframe"`
	Trained    bool       `json:"trained"`
	TrainedAt  *time.Time `json:"trained_at"`
	Accuracy   *float64   `json:"accuracy"`
	LastCandle *time.Time `json:"last_candle"`
}

// PairStatus summarizes training and history per timeframe for a symbol.
// LastTrainedAt and Accuracy come from the most recently trained model and
// are nil when no timeframe is trained.
type PairStatus struct {
	Symbol        string            `json:"symbol"`
	IsTrained     bool              `json:"is_trained"`
	LastTrainedAt *time.Time        `json:"last_trained_at"`
	Accuracy      *float64          `json:"accuracy"`
	Timeframes    []TimeframeStatus `json:"timeframes"`
}

// HistorySyncResult is the outcome of one (symbol, timeframe) sync.
type HistorySyncResult struct {
	Symbol    string    `json:"symbol"`
	Timeframe Timeframe `json:"timeframe"`
	Bars      int       `json:"bars"`
	Error     string    `json:"error,omitempty"`
}

// HistorySyncReport lists every sync attempted by one request.
type HistorySyncReport struct {
	Force   bool                `json:"force"`
	Bars    int                 `json:"bars"`
	Failed  int                 `json:"failed"`
	Results []HistorySyncResult `json:"results"`
}
