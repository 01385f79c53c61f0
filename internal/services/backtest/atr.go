package backtest

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// ATR is the rolling mean of true range over period bars. The first bars
// average over whatever history exists.
func ATR(high, low, close []float64, period int) []float64 {
	n := len(close)
	if period < 1 {
		period = 1
	}
	tr := make([]float64, n)
	for i := 0; i < n; i++ {
		tr[i] = high[i] - low[i]
		if i > 0 {
			prev := close[i-1]
			tr[i] = math.Max(tr[i], math.Max(math.Abs(high[i]-prev), math.Abs(low[i]-prev)))
		}
	}
	out := make([]float64, n)
	for i := range out {
		from := max(0, i-period+1)
		out[i] = floats.Sum(tr[from:i+1]) / float64(i+1-from)
	}
	return out
}
