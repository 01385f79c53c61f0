package models

// Evaluation is one grid point and its outcome.
type Evaluation struct {
	Params BacktestParams `json:"params"`
	Stats  BacktestStats  `json:"stats"`
}

type OptimizationResult struct {
	Symbol    string         `json:"symbol"`
	Timeframe Timeframe      `json:"timeframe"`
	Best      *Evaluation    `json:"best,omitempty"`
	Tuned     BacktestParams `json:"tuned"`
	Evaluated int            `json:"evaluated"`
	Failed    int            `json:"failed"`
	Defaulted bool           `json:"defaulted"`
}

// OptimizeProgress is reported after each finished evaluation.
type OptimizeProgress struct {
	Timeframe Timeframe   `json:"timeframe"`
	Done      int         `json:"done"`
	Total     int         `json:"total"`
	Best      *Evaluation `json:"best,omitempty"`
}

// TunedParams is the persisted result for (symbol, timeframe).
type TunedParams struct {
	Symbol    string         `json:"symbol" db:"symbol"`
	Timeframe Timeframe      `json:"timeframe" db:"timeframe"`
	Params    BacktestParams `json:"params"`
	Stats     BacktestStats  `json:"stats"`
	Defaulted bool           `json:"defaulted" db:"defaulted"`
}
