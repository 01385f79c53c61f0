package features

import (
	"fmt"
	"math"

	"github.com/markcheno/go-talib"

	"MTFTrader/internal/domain/models"
)

// Matrix is a named feature table with one row per candle.
type Matrix struct {
	Names []string
	Rows  [][]float64
}

// Column returns the values of a named column, or nil.
func (m Matrix) Column(name string) []float64 {
	idx := -1
	for i, n := range m.Names {
		if n == name {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil
	}
	out := make([]float64, len(m.Rows))
	for i, row := range m.Rows {
		out[i] = row[idx]
	}
	return out
}

// Extract computes the indicator columns for every candle. Columns whose
// warmup is longer than the history are filled with zeros.
func Extract(candles []models.Candle, s models.FeatureSettings) Matrix {
	n := len(candles)
	high := make([]float64, n)
	low := make([]float64, n)
	closes := make([]float64, n)
	for i, c := range candles {
		high[i], low[i], closes[i] = c.High, c.Low, c.Close
	}

	var names []string
	var cols [][]float64
	add := func(name string, col []float64) {
		names = append(names, name)
		cols = append(cols, col)
	}
	zeros := func() []float64 { return make([]float64, n) }

	if s.RSIPeriod > 0 {
		if n > s.RSIPeriod+1 {
			add("rsi", talib.Rsi(closes, s.RSIPeriod))
		} else {
			add("rsi", zeros())
		}
	}

	if s.StochK > 0 && s.StochSmooth > 0 && s.StochD > 0 {
		if n > s.StochK+s.StochSmooth+s.StochD {
			k, d := talib.Stoch(high, low, closes, s.StochK, s.StochSmooth, talib.SMA, s.StochD, talib.SMA)
			add("stoch_k", k)
			add("stoch_d", d)
		} else {
			add("stoch_k", zeros())
			add("stoch_d", zeros())
		}
	}

	if s.MACDFast > 0 && s.MACDSlow > s.MACDFast && s.MACDSignal > 0 {
		if n > s.MACDSlow+s.MACDSignal {
			macd, sig, hist := talib.Macd(closes, s.MACDFast, s.MACDSlow, s.MACDSignal)
			add("macd", macd)
			add("macd_signal", sig)
			add("macd_hist", hist)
		} else {
			add("macd", zeros())
			add("macd_signal", zeros())
			add("macd_hist", zeros())
		}
	}

	for _, p := range s.EMAPeriods {
		name := fmt.Sprintf("ema_%d", p)
		if p > 1 && n > p {
			add(name, talib.Ema(closes, p))
		} else {
			add(name, zeros())
		}
	}
	for _, p := range s.SMAPeriods {
		name := fmt.Sprintf("sma_%d", p)
		if p > 1 && n > p {
			add(name, talib.Sma(closes, p))
		} else {
			add(name, zeros())
		}
	}

	returns := LogReturnSeries(candles)
	add("log_ret", returns)
	if s.VolWindow > 1 {
		add(fmt.Sprintf("rvol_%d", s.VolWindow), RollingVolatility(returns, s.VolWindow))
	}

	rows := make([][]float64, n)
	for i := range rows {
		row := make([]float64, len(cols))
		for j, col := range cols {
			row[j] = col[i]
		}
		rows[i] = row
	}
	return Matrix{Names: names, Rows: rows}
}

// LogReturnSeries computes r_t = ln(C_t / C_{t-1}) aligned to the candles; r_0 = 0.
func LogReturnSeries(candles []models.Candle) []float64 {
	out := make([]float64, len(candles))
	for i := 1; i < len(candles); i++ {
		prev, cur := candles[i-1].Close, candles[i].Close
		if prev <= 0 || cur <= 0 {
			continue
		}
		out[i] = math.Log(cur / prev)
	}
	return out
}

// RollingVolatility is the sample standard deviation of returns over a trailing
// window. Bars before the first full window are zero.
func RollingVolatility(returns []float64, window int) []float64 {
	out := make([]float64, len(returns))
	if window <= 1 {
		return out
	}
	var sum, sum2 float64
	for i, r := range returns {
		sum += r
		sum2 += r * r
		if i >= window {
			old := returns[i-window]
			sum -= old
			sum2 -= old * old
		}
		if i >= window-1 {
			w := float64(window)
			mean := sum / w
			variance := (sum2 - w*mean*mean) / (w - 1)
			if variance < 0 {
				variance = 0
			}
			out[i] = math.Sqrt(variance)
		}
	}
	return out
}

// MakeLabels classifies forward returns over horizon bars: 1 above threshold,
// -1 below -threshold, else 0. The result covers the first len-horizon candles.
func MakeLabels(closes []float64, horizon int, threshold float64) []int {
	if horizon <= 0 || len(closes) <= horizon {
		return nil
	}
	out := make([]int, len(closes)-horizon)
	for i := range out {
		if closes[i] <= 0 {
			continue
		}
		r := closes[i+horizon]/closes[i] - 1
		switch {
		case r > threshold:
			out[i] = 1
		case r < -threshold:
			out[i] = -1
		}
	}
	return out
}

// Warmup is the number of leading rows whose indicators are not yet meaningful.
func Warmup(s models.FeatureSettings) int {
	w := s.RSIPeriod + 1
	if v := s.StochK + s.StochSmooth + s.StochD; v > w {
		w = v
	}
	if v := s.MACDSlow + s.MACDSignal; v > w {
		w = v
	}
	for _, p := range append(append([]int(nil), s.EMAPeriods...), s.SMAPeriods...) {
		if p > w {
			w = p
		}
	}
	if s.VolWindow > w {
		w = s.VolWindow
	}
	return w
}
