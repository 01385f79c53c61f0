package usecase

import (
	"context"
	"fmt"

	"MTFTrader/internal/domain/apperr"
	"MTFTrader/internal/domain/models"
	domrepo "MTFTrader/internal/domain/repository"
	applogger "MTFTrader/pkg/logger"
)

// HistorySyncer is the candle sync surface used for manual syncs.
type HistorySyncer interface {
	Sync(ctx context.Context, symbol string, tf models.Timeframe, full bool) (int, error)
}

// MarketService reports per-symbol state and syncs history on demand for the
// configured symbols and timeframes.
type MarketService struct {
	syncer     HistorySyncer
	candles    domrepo.CandleStore
	modelStore domrepo.ModelStore
	symbols    []string
	timeframes []models.Timeframe
	l          *applogger.Logger
}

func NewMarketService(syncer HistorySyncer, candles domrepo.CandleStore, ms domrepo.ModelStore, symbols []string, timeframes []models.Timeframe, l *applogger.Logger) *MarketService {
	return &MarketService{syncer: syncer, candles: candles, modelStore: ms, symbols: symbols, timeframes: timeframes, l: l}
}

// HistorySyncRequest selects what to sync. Empty fields fall back to the
// configured symbols and timeframes. Force refetches the whole history window.
type HistorySyncRequest struct {
	Symbol     string
	Timeframes []models.Timeframe
	Force      bool
}

// SyncHistory syncs every requested (symbol, timeframe). A failed pair is
// recorded in the report and the rest continue.
func (s *MarketService) SyncHistory(ctx context.Context, req HistorySyncRequest) (models.HistorySyncReport, error) {
	symbols := s.symbols
	if req.Symbol != "" {
		symbols = []string{req.Symbol}
	}
	tfs := req.Timeframes
	if len(tfs) == 0 {
		tfs = s.timeframes
	}

	report := models.HistorySyncReport{Force: req.Force, Results: make([]models.HistorySyncResult, 0, len(symbols)*len(tfs))}
	for _, sym := range symbols {
		for _, tf := range tfs {
			n, err := s.syncer.Sync(ctx, sym, tf, req.Force)
			if ctx.Err() != nil {
				return report, ctx.Err()
			}
			res := models.HistorySyncResult{Symbol: sym, Timeframe: tf, Bars: n}
			if err != nil {
				res.Error = err.Error()
				report.Failed++
				s.l.Warn("history sync failed",
					applogger.String("symbol", sym),
					applogger.String("timeframe", string(tf)),
					applogger.Error(err),
				)
			}
			report.Bars += n
			report.Results = append(report.Results, res)
		}
	}
	return report, nil
}

// PairsStatus reports training and history state for symbols, or for every
// configured symbol when none are given.
func (s *MarketService) PairsStatus(ctx context.Context, symbols []string) ([]models.PairStatus, error) {
	if len(symbols) == 0 {
		symbols = s.symbols
	}
	out := make([]models.PairStatus, 0, len(symbols))
	for _, sym := range symbols {
		st, err := s.pairStatus(ctx, sym)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, nil
}

func (s *MarketService) pairStatus(ctx context.Context, symbol string) (models.PairStatus, error) {
	st := models.PairStatus{Symbol: symbol, Timeframes: make([]models.TimeframeStatus, 0, len(s.timeframes))}
	for _, tf := range s.timeframes {
		ts := models.TimeframeStatus{Timeframe: tf}

		bundle, err := s.modelStore.LoadModel(ctx, symbol, tf)
		switch {
		case err == nil:
			trained := bundle.TrainedAt.UTC()
			acc := bundle.Metrics.Accuracy
			ts.Trained, ts.TrainedAt, ts.Accuracy = true, &trained, &acc
			if st.LastTrainedAt == nil || trained.After(*st.LastTrainedAt) {
				st.LastTrainedAt, st.Accuracy = ts.TrainedAt, ts.Accuracy
			}
			st.IsTrained = true
		case !apperr.IsUnavailable(err):
			return st, fmt.Errorf("load model %s %s: %w", symbol, tf, err)
		}

		last, ok, err := s.candles.LastOpenTime(ctx, symbol, tf)
		if err != nil {
			return st, fmt.Errorf("last open time %s %s: %w", symbol, tf, err)
		}
		if ok {
			last = last.UTC()
			ts.LastCandle = &last
		}
		st.Timeframes = append(st.Timeframes, ts)
	}
	return st, nil
}

