package models

import "time"

// FeatureSettings configures the indicator columns fed to models.
type FeatureSettings struct {
	RSIPeriod   int   `json:"rsi_period" yaml:"rsi_period"`
	StochK      int   `json:"stoch_k" yaml:"stoch_k"`
	StochSmooth int   `json:"stoch_smooth" yaml:"stoch_smooth"`
	StochD      int   `json:"stoch_d" yaml:"stoch_d"`
	MACDFast    int   `json:"macd_fast" yaml:"macd_fast"`
	MACDSlow    int   `json:"macd_slow" yaml:"macd_slow"`
	MACDSignal  int   `json:"macd_signal" yaml:"macd_signal"`
	EMAPeriods  []int `json:"ema_periods" yaml:"ema_periods"`
	SMAPeriods  []int `json:"sma_periods" yaml:"sma_periods"`
	VolWindow   int   `json:"vol_window" yaml:"vol_window"`
}

// DefaultFeatureSettings mirrors the usual indicator periods.
func DefaultFeatureSettings() FeatureSettings {
	return FeatureSettings{
		RSIPeriod:   14,
		StochK:      14,
		StochSmooth: 3,
		StochD:      3,
		MACDFast:    12,
		MACDSlow:    26,
		MACDSignal:  9,
		EMAPeriods:  []int{9, 21, 50},
		SMAPeriods:  []int{20, 50},
		VolWindow:   20,
	}
}

// ModelBundle is a trained linear softmax classifier with its scaler.
// Classes holds the label per output row: 1 buy, 0 hold, -1 sell.
type ModelBundle struct {
	Symbol          string          `json:"symbol"`
	Timeframe       Timeframe       `json:"timeframe"`
	Classes         []int           `json:"classes"`
	Coef            [][]float64     `json:"coef"`
	Intercept       []float64       `json:"intercept"`
	ScalerMean      []float64       `json:"scaler_mean"`
	ScalerScale     []float64       `json:"scaler_scale"`
	FeatureNames    []string        `json:"feature_names,omitempty"`
	FeatureSettings FeatureSettings `json:"feature_settings"`
	TrainedAt       time.Time       `json:"trained_at"`
	Metrics         ModelMetrics    `json:"metrics"`
}

// NFeatures is the input width the scaler expects.
func (b *ModelBundle) NFeatures() int { return len(b.ScalerMean) }

type ModelMetrics struct {
	Accuracy      float64         `json:"accuracy"`
	Samples       int             `json:"samples"`
	BTWinrate     *float64        `json:"bt_winrate,omitempty"`
	BTTradesCount *int            `json:"bt_trades_count,omitempty"`
	TunedParams   *BacktestParams `json:"tuned_params,omitempty"`
}

// Merge overlays the non-nil backtest fields of patch.
func (m ModelMetrics) Merge(patch ModelMetrics) ModelMetrics {
	if patch.BTWinrate != nil {
		m.BTWinrate = patch.BTWinrate
	}
	if patch.BTTradesCount != nil {
		m.BTTradesCount = patch.BTTradesCount
	}
	if patch.TunedParams != nil {
		m.TunedParams = patch.TunedParams
	}
	if patch.Samples > 0 {
		m.Accuracy = patch.Accuracy
		m.Samples = patch.Samples
	}
	return m
}
