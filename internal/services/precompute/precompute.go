// Package precompute aligns per-timeframe forecasts onto one base timeline.
package precompute

import (
	"context"
	"fmt"
	"sort"
	"time"

	"MTFTrader/internal/domain/apperr"
	"MTFTrader/internal/domain/models"
	"MTFTrader/internal/domain/repository"
	"MTFTrader/internal/domain/service"
	applogger "MTFTrader/pkg/logger"
)

// MinHistory is the fewest bars loaded per timeframe.
const MinHistory = 1000

// Precompute holds the base forecast series plus every other timeframe's
// series with its own index. It is read-only once built.
type Precompute struct {
	Symbol string
	Base   models.ProbabilitySeries
	Others map[models.Timeframe]models.ProbabilitySeries
}

// New assembles a precompute from already predicted series.
func New(symbol string, base models.ProbabilitySeries, others ...models.ProbabilitySeries) *Precompute {
	p := &Precompute{Symbol: symbol, Base: base, Others: make(map[models.Timeframe]models.ProbabilitySeries, len(others))}
	for _, s := range others {
		if s.Timeframe == base.Timeframe || s.Len() == 0 {
			continue
		}
		p.Others[s.Timeframe] = s
	}
	return p
}

func (p *Precompute) BaseTimeframe() models.Timeframe { return p.Base.Timeframe }

// Len is the number of base bars.
func (p *Precompute) Len() int { return p.Base.Len() }

// Index returns the base timestamps.
func (p *Precompute) Index() []time.Time { return p.Base.Timestamps }

// At returns the base timestamp of bar i together with the base triple and
// each other timeframe's latest triple at or before that timestamp.
func (p *Precompute) At(i int) (time.Time, map[models.Timeframe]models.ProbabilityTriple) {
	ts := p.Base.Timestamps[i]
	probs := make(map[models.Timeframe]models.ProbabilityTriple, len(p.Others)+1)
	probs[p.Base.Timeframe] = p.Base.Probs[i]
	for tf, s := range p.Others {
		if pos := AsOf(s.Timestamps, ts); pos >= 0 {
			probs[tf] = s.Probs[pos]
		}
	}
	return ts, probs
}

// AsOf returns the position of the last timestamp <= ts, or -1.
func AsOf(index []time.Time, ts time.Time) int {
	return sort.Search(len(index), func(k int) bool { return index[k].After(ts) }) - 1
}

// Builder loads history and forecasts for every configured timeframe.
type Builder struct {
	candles    repository.CandleStore
	model      service.ProbabilityModel
	timeframes []models.Timeframe
	logger     *applogger.Logger
}

func NewBuilder(candles repository.CandleStore, model service.ProbabilityModel, timeframes []models.Timeframe, logger *applogger.Logger) *Builder {
	return &Builder{candles: candles, model: model, timeframes: timeframes, logger: logger}
}

// Build predicts the base timeframe and then every other configured one.
// Missing base history or model is Unavailable; problems with other
// timeframes only drop them.
func (b *Builder) Build(ctx context.Context, symbol string, base models.Timeframe, limit int) (*Precompute, error) {
	const op = "precompute.Build"
	n := max(MinHistory, limit)

	baseSeries, err := b.series(ctx, symbol, base, n)
	if err != nil {
		return nil, err
	}
	if baseSeries.Len() == 0 {
		return nil, apperr.Unavailable(op, "no forecast for %s %s", symbol, base)
	}

	others := make([]models.ProbabilitySeries, 0, len(b.timeframes))
	for _, tf := range b.timeframes {
		if tf == base {
			continue
		}
		s, err := b.series(ctx, symbol, tf, n)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			b.logger.Debug("timeframe omitted from precompute",
				applogger.String("symbol", symbol),
				applogger.String("timeframe", string(tf)),
				applogger.Error(err),
			)
			continue
		}
		others = append(others, s)
	}
	return New(symbol, baseSeries, others...), nil
}

func (b *Builder) series(ctx context.Context, symbol string, tf models.Timeframe, n int) (models.ProbabilitySeries, error) {
	candles, err := b.candles.LatestCandles(ctx, symbol, tf, n)
	if err != nil {
		return models.ProbabilitySeries{}, fmt.Errorf("load %s candles: %w", tf, err)
	}
	if len(candles) == 0 {
		return models.ProbabilitySeries{}, apperr.Unavailable("precompute.series", "no history for %s %s", symbol, tf)
	}
	return b.model.Predict(ctx, symbol, tf, candles)
}
