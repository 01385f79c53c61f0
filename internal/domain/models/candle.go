package models

import "time"

// Candle is one closed OHLCV bar.
type Candle struct {
	OpenTime  time.Time `json:"open_time" db:"open_time"`
	Symbol    string    `json:"symbol" db:"symbol"`
	Timeframe Timeframe `json:"timeframe" db:"timeframe"`
	Open      float64   `json:"open" db:"open"`
	High      float64   `json:"high" db:"high"`
	Low       float64   `json:"low" db:"low"`
	Close     float64   `json:"close" db:"close"`
	Volume    float64   `json:"volume" db:"volume"`
}

// Closes extracts the close column.
func Closes(candles []Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Close
	}
	return out
}

// TailCandles returns the last n candles (all of them when n <= 0 or n >= len).
func TailCandles(candles []Candle, n int) []Candle {
	if n <= 0 || n >= len(candles) {
		return candles
	}
	return candles[len(candles)-n:]
}

// ExchangeSymbol maps "BTC/USDT" to "BTCUSDT".
func ExchangeSymbol(symbol string) string {
	out := make([]byte, 0, len(symbol))
	for i := 0; i < len(symbol); i++ {
		if symbol[i] != '/' {
			out = append(out, symbol[i])
		}
	}
	return string(out)
}

// DisplaySymbol maps "BTCUSDT" to "BTC/USDT". Only USDT quotes are split.
func DisplaySymbol(raw string) string {
	const quote = "USDT"
	if len(raw) > len(quote) && raw[len(raw)-len(quote):] == quote {
		return raw[:len(raw)-len(quote)] + "/" + quote
	}
	return raw
}
