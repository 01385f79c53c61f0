package models

import (
	"math"
	"time"
)

// ProbabilityTriple is a model forecast for one bar.
type ProbabilityTriple struct {
	Buy  float64 `json:"buy"`
	Hold float64 `json:"hold"`
	Sell float64 `json:"sell"`
}

// HoldMargin is max(buy, sell) - hold.
func (p ProbabilityTriple) HoldMargin() float64 {
	return math.Max(p.Buy, p.Sell) - p.Hold
}

// ProbabilitySeries is a forecast per bar of one timeframe, ordered by time.
type ProbabilitySeries struct {
	Timeframe  Timeframe           `json:"timeframe"`
	Timestamps []time.Time         `json:"timestamps"`
	Probs      []ProbabilityTriple `json:"probs"`
}

func (s ProbabilitySeries) Len() int { return len(s.Timestamps) }

// Last returns the most recent triple.
func (s ProbabilitySeries) Last() (ProbabilityTriple, bool) {
	if len(s.Probs) == 0 {
		return ProbabilityTriple{}, false
	}
	return s.Probs[len(s.Probs)-1], true
}

// Tail keeps the last n bars.
func (s ProbabilitySeries) Tail(n int) ProbabilitySeries {
	if n <= 0 || n >= len(s.Timestamps) {
		return s
	}
	k := len(s.Timestamps) - n
	return ProbabilitySeries{Timeframe: s.Timeframe, Timestamps: s.Timestamps[k:], Probs: s.Probs[k:]}
}

// AggregatedSignal is the combined cross-timeframe view for one bar.
type AggregatedSignal struct {
	Score      float64               `json:"score"`
	Direction  int                   `json:"direction"`
	Confidence float64               `json:"confidence"`
	Support    float64               `json:"support"`
	Scores     map[Timeframe]float64 `json:"scores"`
}

// Decision is the outcome of an entry check.
type Decision struct {
	Allowed   bool    `json:"allowed"`
	Direction int     `json:"direction"`
	Strength  float64 `json:"strength"`
}

// Entry decisions reported by an explanation.
const (
	DecisionBuy  = "BUY"
	DecisionSell = "SELL"
	DecisionHold = "HOLD"
)

// ExplainThresholds are the active profile values a decision was checked against.
type ExplainThresholds struct {
	Entry         float64 `json:"entry"`
	MinSupport    float64 `json:"min_support"`
	HoldMarginMin float64 `json:"hold_margin_min"`
}

// TimeframeContribution is one timeframe's share of an aggregated score.
type TimeframeContribution struct {
	Timeframe Timeframe `json:"tf"`
	Weight    float64   `json:"weight"`
	Buy       float64   `json:"pb_buy"`
	Hold      float64   `json:"pb_hold"`
	Sell      float64   `json:"pb_sell"`
	Score     float64   `json:"score_tf"`
}

// SignalExplanation breaks the entry decision of one base bar down by timeframe.
type SignalExplanation struct {
	Symbol       string                  `json:"symbol"`
	Timeframe    Timeframe               `json:"timeframe"`
	Time         time.Time               `json:"time"`
	Decision     string                  `json:"decision"`
	Score        float64                 `json:"score"`
	Support      float64                 `json:"support"`
	Thresholds   ExplainThresholds       `json:"thresholds"`
	BaseProbs    ProbabilityTriple       `json:"base_probs"`
	PerTimeframe []TimeframeContribution `json:"per_timeframe"`
	Indicators   map[string]float64      `json:"indicators,omitempty"`
	Text         []string                `json:"text"`
}
