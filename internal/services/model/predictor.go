// Package model runs and trains the per-timeframe linear softmax classifiers.
package model

import (
	"context"
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/mat"

	"MTFTrader/internal/domain/apperr"
	"MTFTrader/internal/domain/models"
	"MTFTrader/internal/domain/repository"
	"MTFTrader/internal/services/features"
	"MTFTrader/pkg/cache"
	applogger "MTFTrader/pkg/logger"
)

// Predictor implements service.ProbabilityModel on stored bundles.
type Predictor struct {
	store  repository.ModelStore
	cache  cache.Service
	ttl    time.Duration
	logger *applogger.Logger
}

func NewPredictor(store repository.ModelStore, c cache.Service, ttl time.Duration, logger *applogger.Logger) *Predictor {
	return &Predictor{store: store, cache: c, ttl: ttl, logger: logger}
}

func bundleKey(symbol string, tf models.Timeframe) string {
	return cache.Key("model", symbol, tf)
}

// Predict returns one triple per candle.
func (p *Predictor) Predict(ctx context.Context, symbol string, tf models.Timeframe, candles []models.Candle) (models.ProbabilitySeries, error) {
	series := models.ProbabilitySeries{Timeframe: tf}
	if len(candles) == 0 {
		return series, apperr.Unavailable("model.Predict", "no candles for %s %s", symbol, tf)
	}

	bundle, err := p.load(ctx, symbol, tf)
	if err != nil {
		return series, err
	}

	m := features.Extract(candles, bundle.FeatureSettings)
	rows, layout := features.Aligner{Names: bundle.FeatureNames, Width: bundle.NFeatures()}.Align(m)
	if len(layout) != bundle.NFeatures() {
		return series, apperr.Unavailable("model.Predict", "model %s %s expects %d features, aligned %d",
			symbol, tf, bundle.NFeatures(), len(layout))
	}

	probs, err := Infer(bundle, rows)
	if err != nil {
		return series, fmt.Errorf("infer %s %s: %w", symbol, tf, err)
	}

	series.Timestamps = make([]time.Time, len(candles))
	for i, c := range candles {
		series.Timestamps[i] = c.OpenTime
	}
	series.Probs = probs
	return series, nil
}

// Invalidate drops a cached bundle after retraining.
func (p *Predictor) Invalidate(ctx context.Context, symbol string, tf models.Timeframe) {
	if p.cache == nil {
		return
	}
	if err := p.cache.Delete(ctx, bundleKey(symbol, tf)); err != nil {
		p.logger.Warn("Failed to drop cached model",
			applogger.String("symbol", symbol),
			applogger.String("tf", string(tf)),
			applogger.Error(err),
		)
	}
}

func (p *Predictor) load(ctx context.Context, symbol string, tf models.Timeframe) (*models.ModelBundle, error) {
	if p.cache == nil {
		return p.store.LoadModel(ctx, symbol, tf)
	}
	return cache.GetOrLoad(ctx, p.cache, bundleKey(symbol, tf), p.ttl, func(ctx context.Context) (*models.ModelBundle, error) {
		return p.store.LoadModel(ctx, symbol, tf)
	})
}

// Infer standardizes rows, applies the linear layer and maps class
// probabilities onto buy/hold/sell. A binary model has a single coefficient
// row; its missing hold class is 1-(buy+sell).
func Infer(b *models.ModelBundle, rows [][]float64) ([]models.ProbabilityTriple, error) {
	d := b.NFeatures()
	k := len(b.Coef)
	if d == 0 || k == 0 || len(b.ScalerScale) != d || len(b.Intercept) != k {
		return nil, fmt.Errorf("malformed model bundle")
	}
	binary := k == 1
	if binary && len(b.Classes) != 2 || !binary && len(b.Classes) != k {
		return nil, fmt.Errorf("model has %d classes for %d coefficient rows", len(b.Classes), k)
	}
	if len(rows) == 0 {
		return []models.ProbabilityTriple{}, nil
	}

	x := mat.NewDense(len(rows), d, nil)
	for i, row := range rows {
		if len(row) != d {
			return nil, fmt.Errorf("row %d has %d features, want %d", i, len(row), d)
		}
		for j := 0; j < d; j++ {
			scale := b.ScalerScale[j]
			if scale == 0 {
				scale = 1
			}
			x.Set(i, j, (row[j]-b.ScalerMean[j])/scale)
		}
	}
	w := mat.NewDense(k, d, nil)
	for c, coef := range b.Coef {
		if len(coef) != d {
			return nil, fmt.Errorf("coefficient row %d has %d weights, want %d", c, len(coef), d)
		}
		w.SetRow(c, coef)
	}

	var z mat.Dense
	z.Mul(x, w.T())

	out := make([]models.ProbabilityTriple, len(rows))
	classProbs := make([]float64, len(b.Classes))
	for i := range rows {
		if binary {
			p1 := sigmoid(z.At(i, 0) + b.Intercept[0])
			classProbs[0], classProbs[1] = 1-p1, p1
		} else {
			logits := make([]float64, k)
			for c := 0; c < k; c++ {
				logits[c] = z.At(i, c) + b.Intercept[c]
			}
			softmaxInto(classProbs, logits)
		}
		out[i] = toTriple(b.Classes, classProbs)
	}
	return out, nil
}

func toTriple(classes []int, probs []float64) models.ProbabilityTriple {
	var t models.ProbabilityTriple
	hasHold := false
	for i, c := range classes {
		switch c {
		case 1:
			t.Buy += probs[i]
		case 0:
			t.Hold += probs[i]
			hasHold = true
		case -1:
			t.Sell += probs[i]
		}
	}
	if !hasHold {
		t.Hold = math.Max(0, math.Min(1, 1-(t.Buy+t.Sell)))
	}
	sum := t.Buy + t.Hold + t.Sell
	if sum == 0 {
		sum = 1
	}
	t.Buy /= sum
	t.Hold /= sum
	t.Sell /= sum
	return t
}

func softmaxInto(dst, logits []float64) {
	maxZ := math.Inf(-1)
	for _, v := range logits {
		maxZ = math.Max(maxZ, v)
	}
	var sum float64
	for i, v := range logits {
		dst[i] = math.Exp(v - maxZ)
		sum += dst[i]
	}
	for i := range dst {
		dst[i] /= sum
	}
}

func sigmoid(z float64) float64 {
	return 1 / (1 + math.Exp(-z))
}
