package signal

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"MTFTrader/internal/domain/models"
)

func triple(b, h, s float64) models.ProbabilityTriple {
	return models.ProbabilityTriple{Buy: b, Hold: h, Sell: s}
}

// halfBuy and halfSell score exactly +0.5 and -0.5: b*(2b-1) = 0.5 at b = (1+sqrt5)/4.
var (
	halfProb = (1 + math.Sqrt(5)) / 4
	halfBuy  = triple(halfProb, 1-halfProb, 0)
	halfSell = triple(0, 1-halfProb, halfProb)
)

func TestTimeframeScore(t *testing.T) {
	tests := map[string]struct {
		in   models.ProbabilityTriple
		want float64
	}{
		"strong buy":        {triple(0.8, 0.1, 0.1), 0.7 * 0.7},
		"strong sell":       {triple(0.1, 0.1, 0.8), -0.7 * 0.7},
		"half buy":          {halfBuy, 0.5},
		"half sell":         {halfSell, -0.5},
		"hold dominates":    {triple(0.3, 0.5, 0.2), 0},
		"all hold":          {triple(0, 1, 0), 0},
		"balanced":          {triple(0.45, 0.1, 0.45), 0},
		"missing is zeroed": {triple(0, 0, 0), 0},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			assert.InDelta(t, tc.want, TimeframeScore(tc.in), 1e-12)
		})
	}
}

func TestScoresStayInRange(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	for i := 0; i < 2000; i++ {
		probs := map[models.Timeframe]models.ProbabilityTriple{}
		for _, tf := range models.DefaultTimeframes() {
			if r.Intn(3) == 0 {
				continue
			}
			b, h := r.Float64(), r.Float64()
			s := r.Float64()
			sum := b + h + s
			probs[tf] = triple(b/sum, h/sum, s/sum)
		}
		sc := TimeframeScore(triple(r.Float64(), r.Float64(), r.Float64()))
		require.GreaterOrEqual(t, sc, -1.0)
		require.LessOrEqual(t, sc, 1.0)

		agg := Aggregate(probs, DefaultWeights(), nil)
		require.GreaterOrEqual(t, agg.Score, -1.0)
		require.LessOrEqual(t, agg.Score, 1.0)
		require.GreaterOrEqual(t, agg.Support, 0.0)
		require.LessOrEqual(t, agg.Support, 1.0)
	}
}

func TestAggregate_FullAgreement(t *testing.T) {
	p := halfBuy
	require.InDelta(t, 0.5, TimeframeScore(p), 1e-12)

	agg := Aggregate(map[models.Timeframe]models.ProbabilityTriple{
		models.TF15m: p,
		models.TF1h:  p,
	}, Weights{models.TF15m: 1.0, models.TF1h: 1.2}, nil)

	assert.InDelta(t, 0.5, agg.Score, 1e-12)
	assert.Equal(t, 1.0, agg.Support)
	assert.Equal(t, 1, agg.Direction)
	assert.InDelta(t, 0.5, agg.Confidence, 1e-12)
}

func TestAggregate_AllHoldNeverEnters(t *testing.T) {
	probs := map[models.Timeframe]models.ProbabilityTriple{}
	for _, tf := range models.DefaultTimeframes() {
		probs[tf] = triple(0, 1, 0)
	}
	agg := Aggregate(probs, DefaultWeights(), nil)
	assert.Equal(t, 0.0, agg.Score)
	assert.Equal(t, 0, agg.Direction)
	assert.Equal(t, 0.0, agg.Support)

	for _, thr := range []float64{0, 0.3, 0.9} {
		d := DecideEntry(agg, probs[models.TF15m], thr, 0, -1)
		assert.False(t, d.Allowed && d.Direction != 0, "threshold %v", thr)
	}
}

func TestAggregate_WeightFallback(t *testing.T) {
	probs := map[models.Timeframe]models.ProbabilityTriple{
		"3m": halfBuy,
		"5m": halfSell,
	}
	agg := Aggregate(probs, DefaultWeights(), nil)
	assert.InDelta(t, 0, agg.Score, 1e-12)
	assert.Len(t, agg.Scores, 2)

	probs["5m"] = halfBuy
	agg = Aggregate(probs, DefaultWeights(), nil)
	assert.InDelta(t, 0.5, agg.Score, 1e-12)
	assert.Equal(t, 1.0, agg.Support)
}

func TestAggregate_IgnoresUnweightedWhenSomeMatch(t *testing.T) {
	probs := map[models.Timeframe]models.ProbabilityTriple{
		models.TF1h: halfBuy,
		"3m":        halfSell,
	}
	agg := Aggregate(probs, DefaultWeights(), nil)
	assert.InDelta(t, 0.5, agg.Score, 1e-12)
	assert.Equal(t, 1.0, agg.Support)
	assert.NotContains(t, agg.Scores, models.Timeframe("3m"))
}

func TestAggregate_NegativeWeightsClampToUniform(t *testing.T) {
	probs := map[models.Timeframe]models.ProbabilityTriple{
		models.TF15m: halfBuy,
		models.TF1h:  halfBuy,
	}
	agg := Aggregate(probs, Weights{models.TF15m: -1, models.TF1h: -2}, nil)
	assert.InDelta(t, 0.5, agg.Score, 1e-12)
}

func TestAggregate_PartialSupport(t *testing.T) {
	probs := map[models.Timeframe]models.ProbabilityTriple{
		models.TF15m: halfBuy,
		models.TF1h:  triple(0.34, 0.33, 0.33),
	}
	agg := Aggregate(probs, Weights{models.TF15m: 1, models.TF1h: 1}, nil)
	require.Equal(t, 1, agg.Direction)
	assert.InDelta(t, 1.0, agg.Support, 1e-12)

	probs[models.TF1h] = triple(0, 0.5, 0.5)
	agg = Aggregate(probs, Weights{models.TF15m: 1, models.TF1h: 1}, nil)
	assert.InDelta(t, 0.5, agg.Support, 1e-12)
}

func TestLookbackSmoothing(t *testing.T) {
	lb := NewLookback(2)
	assert.Equal(t, 0.3, lb.Smooth(0.3))

	lb.Push(0.1)
	lb.Push(0.2)
	lb.Push(0.4)
	// last two buffered (0.2, 0.4) plus current 0.6
	assert.InDelta(t, 0.4, lb.Smooth(0.6), 1e-12)

	for i := 0; i < 20; i++ {
		lb.Push(float64(i))
	}
	assert.Len(t, lb.scores, 6)

	none := NewLookback(0)
	none.Push(1)
	assert.Equal(t, 0.25, none.Smooth(0.25))
}

func TestDirectionDeadband(t *testing.T) {
	assert.Equal(t, 0, Direction(1e-10))
	assert.Equal(t, 0, Direction(-1e-10))
	assert.Equal(t, 1, Direction(1e-6))
	assert.Equal(t, -1, Direction(-1e-6))
}
