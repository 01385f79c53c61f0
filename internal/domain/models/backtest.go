package models

import "time"

// BacktestParams are the tunable parameters of a simulation.
type BacktestParams struct {
	SignalThreshold    float64 `json:"signal_threshold"`
	HoldMargin         float64 `json:"hold_margin"`
	MinConfirmedHigher int     `json:"min_confirmed_higher"`
	SLATRMult          float64 `json:"sl_atr_mult"`
	TPATRMult          float64 `json:"tp_atr_mult"`
	MaxBarsInTrade     int     `json:"max_bars_in_trade"`
}

// DefaultBacktestParams is what gets persisted when tuning produced nothing usable.
func DefaultBacktestParams() BacktestParams {
	return BacktestParams{
		SignalThreshold:    0.6,
		HoldMargin:         0.05,
		MinConfirmedHigher: 0,
		SLATRMult:          1.0,
		TPATRMult:          2.0,
		MaxBarsInTrade:     200,
	}
}

type MarkerType string

const (
	MarkerEntryBuy  MarkerType = "entry_buy"
	MarkerEntrySell MarkerType = "entry_sell"
	MarkerExit      MarkerType = "exit"
)

const (
	ColorEntryBuy  = "#66BB6A"
	ColorEntrySell = "#EF5350"
	ColorExit      = "#78909C"
)

// Marker annotates a chart point.
type Marker struct {
	Time  time.Time  `json:"time"`
	Type  MarkerType `json:"type"`
	Note  string     `json:"note"`
	Color string     `json:"color"`
}

type BacktestStats struct {
	Count   int     `json:"count"`
	Winrate float64 `json:"winrate"`
}

// Better reports strict lexicographic improvement on (winrate, count).
func (s BacktestStats) Better(than BacktestStats) bool {
	if s.Winrate != than.Winrate {
		return s.Winrate > than.Winrate
	}
	return s.Count > than.Count
}

type BacktestResult struct {
	Symbol    string        `json:"symbol"`
	Timeframe Timeframe     `json:"timeframe"`
	Trades    []Trade       `json:"trades"`
	Markers   []Marker      `json:"markers"`
	Stats     BacktestStats `json:"stats"`
}

// EmptyBacktestResult is returned when there is nothing to simulate.
func EmptyBacktestResult(symbol string, tf Timeframe) BacktestResult {
	return BacktestResult{Symbol: symbol, Timeframe: tf, Trades: []Trade{}, Markers: []Marker{}}
}

// SignalPanel is the per-bar decision trace used by analysis views.
type SignalPanel struct {
	Symbol         string      `json:"symbol"`
	Timeframe      Timeframe   `json:"timeframe"`
	Time           []time.Time `json:"time"`
	Score          []float64   `json:"score"`
	Support        []float64   `json:"support"`
	Direction      []int       `json:"dir"`
	Entry          []int       `json:"entry"`
	EntryThreshold float64     `json:"entry_threshold"`
	ExitThreshold  float64     `json:"exit_threshold"`
	MinSupport     float64     `json:"min_support"`
}
