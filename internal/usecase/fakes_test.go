package usecase

import (
	"context"
	"sync"
	"time"

	"MTFTrader/internal/domain/apperr"
	"MTFTrader/internal/domain/models"
)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

var (
	strongBuy  = models.ProbabilityTriple{Buy: 0.9, Hold: 0.05, Sell: 0.05}
	strongSell = models.ProbabilityTriple{Buy: 0.05, Hold: 0.05, Sell: 0.9}
)

func testParams() models.SignalParams {
	return models.SignalParams{
		EntryThreshold: 0.6,
		ExitThreshold:  0.4,
		MinSupport:     0.3,
		HoldMarginMin:  0.05,
		ExitOnFlip:     true,
		SLATRMult:      1.0,
		TPATRMult:      2.0,
		MaxBarsInTrade: 200,
	}
}

// flatBars builds n bars closing at 100 with a 2 point range.
func flatBars(symbol string, tf models.Timeframe, n int) []models.Candle {
	out := make([]models.Candle, n)
	for i := range out {
		out[i] = models.Candle{
			OpenTime: t0.Add(time.Duration(i) * tf.Duration()), Symbol: symbol, Timeframe: tf,
			Open: 100, High: 101, Low: 99, Close: 100, Volume: 10,
		}
	}
	return out
}

// fakeModel returns the same triple for every bar of a timeframe.
type fakeModel struct {
	mu      sync.Mutex
	probs   map[models.Timeframe]models.ProbabilityTriple
	windows map[models.Timeframe]int
}

func newFakeModel(probs map[models.Timeframe]models.ProbabilityTriple) *fakeModel {
	return &fakeModel{probs: probs, windows: make(map[models.Timeframe]int)}
}

func (f *fakeModel) set(probs map[models.Timeframe]models.ProbabilityTriple) {
	f.mu.Lock()
	f.probs = probs
	f.mu.Unlock()
}

func (f *fakeModel) Predict(_ context.Context, symbol string, tf models.Timeframe, candles []models.Candle) (models.ProbabilitySeries, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.windows[tf] = len(candles)
	p, ok := f.probs[tf]
	if !ok {
		return models.ProbabilitySeries{}, apperr.Unavailable("fake.Predict", "no model for %s %s", symbol, tf)
	}
	s := models.ProbabilitySeries{Timeframe: tf}
	for _, c := range candles {
		s.Timestamps = append(s.Timestamps, c.OpenTime)
		s.Probs = append(s.Probs, p)
	}
	return s, nil
}

type capturePublisher struct {
	mu     sync.Mutex
	events []models.Event
}

func (p *capturePublisher) Publish(_ context.Context, ev models.Event) error {
	p.mu.Lock()
	p.events = append(p.events, ev)
	p.mu.Unlock()
	return nil
}

func (p *capturePublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, ev := range p.events {
		out[i] = ev.Type
	}
	return out
}

type staticParams struct {
	p   models.SignalParams
	err error
}

func (s staticParams) ActiveParams(context.Context) (models.SignalParams, error) { return s.p, s.err }
