// Package signal turns per-timeframe probability triples into one trading decision.
package signal

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"MTFTrader/internal/domain/models"
)

const directionEpsilon = 1e-9

// Weights is the per-timeframe hierarchy weight table.
type Weights map[models.Timeframe]float64

// DefaultWeights favors slower timeframes.
func DefaultWeights() Weights {
	return Weights{
		models.TF15m: 1.0,
		models.TF1h:  1.2,
		models.TF4h:  1.4,
		models.TF1d:  1.6,
		models.TF1w:  1.8,
	}
}

// TimeframeScore maps a triple to [-1, 1]: direction from buy vs sell, damped by hold.
func TimeframeScore(p models.ProbabilityTriple) float64 {
	margin := math.Max(math.Max(p.Buy, p.Sell)-p.Hold, 0)
	return clip((p.Buy-p.Sell)*margin, -1, 1)
}

// Aggregate combines the probabilities of every timeframe present.
// Timeframes missing from weights are ignored unless none of them match, in which
// case every provided timeframe gets a uniform weight. lb may be nil.
func Aggregate(probs map[models.Timeframe]models.ProbabilityTriple, weights Weights, lb *Lookback) models.AggregatedSignal {
	used := make([]models.Timeframe, 0, len(probs))
	for tf := range probs {
		if _, ok := weights[tf]; ok {
			used = append(used, tf)
		}
	}
	uniform := len(used) == 0
	if uniform {
		for tf := range probs {
			used = append(used, tf)
		}
	}
	used = models.SortFastToSlow(used)

	raw := make([]float64, len(used))
	for i, tf := range used {
		if uniform {
			raw[i] = 1
		} else {
			raw[i] = math.Max(weights[tf], 0)
		}
	}
	w := normalize(raw)

	scores := make(map[models.Timeframe]float64, len(used))
	perTF := make([]float64, len(used))
	for i, tf := range used {
		perTF[i] = TimeframeScore(probs[tf])
		scores[tf] = perTF[i]
	}
	score := floats.Dot(perTF, w)
	if lb != nil {
		score = lb.Smooth(score)
	}

	dir := Direction(score)
	support := 0.0
	if dir != 0 {
		total := floats.Sum(w)
		if total == 0 {
			total = 1
		}
		agree := 0.0
		for i, s := range perTF {
			if s != 0 && sign(s) == dir {
				agree += w[i]
			}
		}
		support = agree / total
	}

	return models.AggregatedSignal{
		Score:      clip(score, -1, 1),
		Direction:  dir,
		Confidence: clip(math.Abs(score), 0, 1),
		Support:    clip(support, 0, 1),
		Scores:     scores,
	}
}

// Direction is sign(score) with a small deadband around zero.
func Direction(score float64) int {
	switch {
	case score > directionEpsilon:
		return 1
	case score < -directionEpsilon:
		return -1
	default:
		return 0
	}
}

// Lookback is a bounded buffer of previous aggregate scores.
type Lookback struct {
	k      int
	limit  int
	scores []float64
}

// NewLookback keeps 3*k scores and smooths over the last k.
func NewLookback(k int) *Lookback {
	if k < 0 {
		k = 0
	}
	limit := 3 * k
	if limit < 1 {
		limit = 1
	}
	return &Lookback{k: k, limit: limit}
}

// Smooth averages the last k buffered scores with the current one.
func (l *Lookback) Smooth(current float64) float64 {
	if l.k == 0 || len(l.scores) == 0 {
		return current
	}
	start := len(l.scores) - l.k
	if start < 0 {
		start = 0
	}
	window := append(append([]float64(nil), l.scores[start:]...), current)
	return stat.Mean(window, nil)
}

// Push records a returned score.
func (l *Lookback) Push(score float64) {
	l.scores = append(l.scores, score)
	if len(l.scores) > l.limit {
		l.scores = l.scores[len(l.scores)-l.limit:]
	}
}

func normalize(w []float64) []float64 {
	out := make([]float64, len(w))
	sum := floats.Sum(w)
	if sum <= 0 {
		if len(w) == 0 {
			return out
		}
		for i := range out {
			out[i] = 1 / float64(len(w))
		}
		return out
	}
	for i, v := range w {
		out[i] = v / sum
	}
	return out
}

func sign(v float64) int {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	default:
		return 0
	}
}

func clip(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
