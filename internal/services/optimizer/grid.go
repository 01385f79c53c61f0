// Package optimizer grid-searches backtest parameters for one symbol and timeframe.
package optimizer

import "MTFTrader/internal/domain/models"

// Grid lists candidate values per tuned parameter.
type Grid struct {
	SignalThreshold    []float64 `yaml:"signal_threshold"`
	HoldMargin         []float64 `yaml:"hold_margin"`
	MinConfirmedHigher []int     `yaml:"min_confirmed_higher"`
	SLATRMult          []float64 `yaml:"sl_atr_mult"`
	TPATRMult          []float64 `yaml:"tp_atr_mult"`
	MaxBarsInTrade     []int     `yaml:"max_bars_in_trade"`
}

func DefaultGrid() Grid {
	return Grid{
		SignalThreshold:    []float64{0.55, 0.60, 0.65},
		HoldMargin:         []float64{0.00, 0.05, 0.10},
		MinConfirmedHigher: []int{0, 1, 2},
		SLATRMult:          []float64{1.0, 1.5, 2.0},
		TPATRMult:          []float64{1.5, 2.0, 3.0},
		MaxBarsInTrade:     []int{100, 200, 300},
	}
}

// Single is a one-point grid.
func Single(p models.BacktestParams) Grid {
	return Grid{
		SignalThreshold:    []float64{p.SignalThreshold},
		HoldMargin:         []float64{p.HoldMargin},
		MinConfirmedHigher: []int{p.MinConfirmedHigher},
		SLATRMult:          []float64{p.SLATRMult},
		TPATRMult:          []float64{p.TPATRMult},
		MaxBarsInTrade:     []int{p.MaxBarsInTrade},
	}
}

func (g Grid) dims() []int {
	return []int{
		len(g.SignalThreshold), len(g.HoldMargin), len(g.MinConfirmedHigher),
		len(g.SLATRMult), len(g.TPATRMult), len(g.MaxBarsInTrade),
	}
}

// Size is the number of combinations.
func (g Grid) Size() int {
	n := 1
	for _, d := range g.dims() {
		n *= d
	}
	return n
}

// Params decodes combination i, with the last parameter varying fastest.
func (g Grid) Params(i int) models.BacktestParams {
	dims := g.dims()
	idx := make([]int, len(dims))
	for k := len(dims) - 1; k >= 0; k-- {
		idx[k] = i % dims[k]
		i /= dims[k]
	}
	return models.BacktestParams{
		SignalThreshold:    g.SignalThreshold[idx[0]],
		HoldMargin:         g.HoldMargin[idx[1]],
		MinConfirmedHigher: g.MinConfirmedHigher[idx[2]],
		SLATRMult:          g.SLATRMult[idx[3]],
		TPATRMult:          g.TPATRMult[idx[4]],
		MaxBarsInTrade:     g.MaxBarsInTrade[idx[5]],
	}
}

// GridSize is the size of the default grid.
func GridSize() int { return DefaultGrid().Size() }
