package model

import (
	"context"
	"fmt"
	"time"

	"MTFTrader/internal/domain/models"
	xhttp "MTFTrader/pkg/http"
	"MTFTrader/pkg/retry"
)

// RemoteTrainer delegates the fit to an external model service. Features and
// labels are built locally so the returned bundle matches what Predictor computes.
type RemoteTrainer struct {
	client   *xhttp.Client
	attempts int
	cfg      TrainerConfig
}

func NewRemoteTrainer(baseURL string, timeout time.Duration, attempts int, cfg TrainerConfig) *RemoteTrainer {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &RemoteTrainer{
		client:   xhttp.NewClient(xhttp.WithTimeout(timeout), xhttp.WithBaseURL(baseURL)),
		attempts: attempts,
		cfg:      cfg,
	}
}

type trainRequest struct {
	Symbol       string      `json:"symbol"`
	Timeframe    string      `json:"timeframe"`
	FeatureNames []string    `json:"feature_names"`
	Rows         [][]float64 `json:"rows"`
	Labels       []int       `json:"labels"`
	HoldoutFrac  float64     `json:"holdout_frac"`
}

type trainResponse struct {
	Classes     []int       `json:"classes"`
	Coef        [][]float64 `json:"coef"`
	Intercept   []float64   `json:"intercept"`
	ScalerMean  []float64   `json:"scaler_mean"`
	ScalerScale []float64   `json:"scaler_scale"`
	Accuracy    float64     `json:"accuracy"`
}

func (t *RemoteTrainer) Train(ctx context.Context, symbol string, tf models.Timeframe, candles []models.Candle) (*models.ModelBundle, error) {
	ds, err := BuildDataset(candles, t.cfg)
	if err != nil {
		return nil, err
	}
	req := trainRequest{
		Symbol:       symbol,
		Timeframe:    string(tf),
		FeatureNames: ds.Names,
		Rows:         ds.Rows,
		Labels:       ds.Labels,
		HoldoutFrac:  t.cfg.HoldoutFrac,
	}
	var resp trainResponse
	if err := t.post(ctx, "/train", req, &resp); err != nil {
		return nil, err
	}
	bundle := &models.ModelBundle{
		Symbol:          symbol,
		Timeframe:       tf,
		Classes:         resp.Classes,
		Coef:            resp.Coef,
		Intercept:       resp.Intercept,
		ScalerMean:      resp.ScalerMean,
		ScalerScale:     resp.ScalerScale,
		FeatureNames:    ds.Names,
		FeatureSettings: t.cfg.Settings,
		TrainedAt:       time.Now().UTC(),
		Metrics:         models.ModelMetrics{Accuracy: resp.Accuracy, Samples: len(ds.Rows)},
	}
	if _, err := Infer(bundle, ds.Rows[:1]); err != nil {
		return nil, fmt.Errorf("model service returned unusable bundle: %w", err)
	}
	return bundle, nil
}

// post retries throttling, server errors and network failures.
func (t *RemoteTrainer) post(ctx context.Context, path string, payload, dest interface{}) error {
	err := retry.Do(ctx, retry.Policy{
		Tries:     t.attempts,
		Delay:     200 * time.Millisecond,
		Backoff:   2,
		MaxDelay:  2 * time.Second,
		Retryable: xhttp.IsRetryable,
	}, func(ctx context.Context) error {
		return t.client.PostJSON(ctx, path, payload, dest)
	})
	if err != nil {
		return fmt.Errorf("post %s: %w", path, err)
	}
	return nil
}
