package model

import (
	"context"
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"MTFTrader/internal/domain/apperr"
	"MTFTrader/internal/domain/models"
	"MTFTrader/internal/services/features"
)

// TrainerConfig controls labelling and the gradient descent fit.
type TrainerConfig struct {
	Settings       models.FeatureSettings
	Horizon        int
	LabelThreshold float64
	MinSamples     int
	HoldoutFrac    float64
	Epochs         int
	LearningRate   float64
	L2             float64
}

func DefaultTrainerConfig() TrainerConfig {
	return TrainerConfig{
		Settings:       models.DefaultFeatureSettings(),
		Horizon:        1,
		LabelThreshold: 0.002,
		MinSamples:     100,
		HoldoutFrac:    0.2,
		Epochs:         300,
		LearningRate:   0.5,
		L2:             1e-3,
	}
}

// Dataset is the labelled feature table for one (symbol, timeframe).
type Dataset struct {
	Names  []string
	Rows   [][]float64
	Labels []int
}

// BuildDataset extracts features and forward-return labels, dropping the
// indicator warmup rows and the unlabelled tail.
func BuildDataset(candles []models.Candle, cfg TrainerConfig) (Dataset, error) {
	m := features.Extract(candles, cfg.Settings)
	labels := features.MakeLabels(models.Closes(candles), cfg.Horizon, cfg.LabelThreshold)
	start := features.Warmup(cfg.Settings)
	if len(labels)-start < cfg.MinSamples {
		return Dataset{}, apperr.Unavailable("model.BuildDataset",
			"need %d labelled rows after warmup, have %d", cfg.MinSamples, max(len(labels)-start, 0))
	}
	window := features.Matrix{Names: m.Names, Rows: m.Rows[start:len(labels)]}
	rows, names := features.Aligner{}.Align(window)
	return Dataset{Names: names, Rows: rows, Labels: labels[start:]}, nil
}

// LocalTrainer fits a multinomial logistic regression in process.
type LocalTrainer struct {
	cfg TrainerConfig
}

func NewLocalTrainer(cfg TrainerConfig) *LocalTrainer {
	return &LocalTrainer{cfg: cfg}
}

func (t *LocalTrainer) Train(ctx context.Context, symbol string, tf models.Timeframe, candles []models.Candle) (*models.ModelBundle, error) {
	ds, err := BuildDataset(candles, t.cfg)
	if err != nil {
		return nil, err
	}
	return Fit(ctx, symbol, tf, ds, t.cfg)
}

// Fit trains on the leading part of ds and scores accuracy on the holdout.
func Fit(ctx context.Context, symbol string, tf models.Timeframe, ds Dataset, cfg TrainerConfig) (*models.ModelBundle, error) {
	classes := uniqueSorted(ds.Labels)
	if len(classes) < 2 {
		return nil, apperr.Unavailable("model.Fit", "%s %s has a single label class", symbol, tf)
	}
	n, d := len(ds.Rows), len(ds.Names)
	k := len(classes)

	mean, scale := fitScaler(ds.Rows, d)
	x := mat.NewDense(n, d, nil)
	for i, row := range ds.Rows {
		for j := 0; j < d; j++ {
			x.Set(i, j, (row[j]-mean[j])/scale[j])
		}
	}
	classIdx := make(map[int]int, k)
	for i, c := range classes {
		classIdx[c] = i
	}

	trainN := int(float64(n) * (1 - cfg.HoldoutFrac))
	if trainN < 1 {
		trainN = n
	}
	xTrain := x.Slice(0, trainN, 0, d).(*mat.Dense)
	y := mat.NewDense(trainN, k, nil)
	for i := 0; i < trainN; i++ {
		y.Set(i, classIdx[ds.Labels[i]], 1)
	}

	w := mat.NewDense(k, d, nil)
	bias := make([]float64, k)
	probs := mat.NewDense(trainN, k, nil)
	var z, grad mat.Dense
	for epoch := 0; epoch < cfg.Epochs; epoch++ {
		if epoch%25 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		z.Mul(xTrain, w.T())
		row := make([]float64, k)
		logits := make([]float64, k)
		for i := 0; i < trainN; i++ {
			for c := 0; c < k; c++ {
				logits[c] = z.At(i, c) + bias[c]
			}
			softmaxInto(row, logits)
			probs.SetRow(i, row)
		}

		var diff mat.Dense
		diff.Sub(probs, y)
		grad.Mul(diff.T(), xTrain)
		grad.Scale(1/float64(trainN), &grad)
		var reg mat.Dense
		reg.Scale(cfg.L2, w)
		grad.Add(&grad, &reg)

		var step mat.Dense
		step.Scale(cfg.LearningRate, &grad)
		w.Sub(w, &step)
		for c := 0; c < k; c++ {
			bias[c] -= cfg.LearningRate * stat.Mean(mat.Col(nil, c, &diff), nil)
		}
	}

	coef := make([][]float64, k)
	for c := 0; c < k; c++ {
		coef[c] = mat.Row(nil, c, w)
	}
	bundle := &models.ModelBundle{
		Symbol:          symbol,
		Timeframe:       tf,
		Classes:         classes,
		Coef:            coef,
		Intercept:       bias,
		ScalerMean:      mean,
		ScalerScale:     scale,
		FeatureNames:    ds.Names,
		FeatureSettings: cfg.Settings,
		TrainedAt:       time.Now().UTC(),
	}
	bundle.Metrics = models.ModelMetrics{
		Accuracy: holdoutAccuracy(bundle, ds, trainN),
		Samples:  n,
	}
	return bundle, nil
}

func holdoutAccuracy(b *models.ModelBundle, ds Dataset, from int) float64 {
	if from >= len(ds.Rows) {
		from = 0
	}
	probs, err := Infer(b, ds.Rows[from:])
	if err != nil || len(probs) == 0 {
		return 0
	}
	hits := 0
	for i, p := range probs {
		pred := 0
		switch {
		case p.Buy >= p.Hold && p.Buy >= p.Sell:
			pred = 1
		case p.Sell >= p.Hold && p.Sell > p.Buy:
			pred = -1
		}
		if pred == ds.Labels[from+i] {
			hits++
		}
	}
	return float64(hits) / float64(len(probs))
}

func fitScaler(rows [][]float64, d int) (mean, scale []float64) {
	mean = make([]float64, d)
	scale = make([]float64, d)
	col := make([]float64, len(rows))
	for j := 0; j < d; j++ {
		for i, row := range rows {
			col[i] = row[j]
		}
		m, s := stat.PopMeanStdDev(col, nil)
		if s == 0 || math.IsNaN(s) {
			s = 1
		}
		mean[j], scale[j] = m, s
	}
	return mean, scale
}

func uniqueSorted(labels []int) []int {
	seen := map[int]struct{}{}
	for _, l := range labels {
		seen[l] = struct{}{}
	}
	out := make([]int, 0, len(seen))
	for l := range seen {
		out = append(out, l)
	}
	sort.Ints(out)
	return out
}
