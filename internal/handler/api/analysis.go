package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"MTFTrader/internal/domain/apperr"
	"MTFTrader/internal/domain/models"
	domrepo "MTFTrader/internal/domain/repository"
	"MTFTrader/internal/services/optimizer"
	"MTFTrader/internal/services/precompute"
	xhttp "MTFTrader/pkg/http"
	applogger "MTFTrader/pkg/logger"
)

// Backtester runs simulations and signal panels.
type Backtester interface {
	Run(ctx context.Context, symbol string, tf models.Timeframe, limit int, params models.BacktestParams, pre *precompute.Precompute) (models.BacktestResult, error)
	Panel(ctx context.Context, symbol string, tf models.Timeframe, limit int, params models.SignalParams) (models.SignalPanel, error)
	Explain(ctx context.Context, symbol string, tf models.Timeframe, at time.Time, params models.SignalParams) (models.SignalExplanation, error)
}

type Optimizer interface {
	Optimize(ctx context.Context, symbol string, tf models.Timeframe, limit int, progress optimizer.ProgressFunc) (models.OptimizationResult, error)
}

// ActiveParams yields the signal parameters of the active profile.
type ActiveParams interface {
	ActiveParams(ctx context.Context) (models.SignalParams, error)
}

// AnalysisHandler serves backtests, the signal panel and parameter tuning.
type AnalysisHandler struct {
	logger     *applogger.Logger
	backtester Backtester
	optimizer  Optimizer
	params     domrepo.ParamStore
	profiles   ActiveParams
}

func NewAnalysisHandler(logger *applogger.Logger, bt Backtester, opt Optimizer, params domrepo.ParamStore, profiles ActiveParams) *AnalysisHandler {
	return &AnalysisHandler{logger: logger, backtester: bt, optimizer: opt, params: params, profiles: profiles}
}

func (h *AnalysisHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api")
	g.POST("/backtest", h.Backtest)
	g.GET("/panel", h.Panel)
	g.GET("/signal/explain", h.Explain)
	g.POST("/optimize", h.Optimize)
	g.GET("/optimize/tuned", h.Tuned)
}

// Backtest uses the request params, then the tuned params, then defaults.
func (h *AnalysisHandler) Backtest(c echo.Context) error {
	req := &models.BacktestRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	ctx := c.Request().Context()
	tf := models.Timeframe(req.Timeframe)

	params := models.DefaultBacktestParams()
	switch tuned, err := h.params.TunedParams(ctx, req.Symbol, tf); {
	case req.Params != nil:
		params = *req.Params
	case err == nil:
		params = tuned.Params
	case !apperr.IsUnavailable(err):
		return errorResponse(c, h.logger, "tuned params", err, http.StatusUnprocessableEntity)
	}

	res, err := h.backtester.Run(ctx, req.Symbol, tf, req.Limit, params, nil)
	if err != nil {
		return errorResponse(c, h.logger, "backtest", err, http.StatusUnprocessableEntity)
	}
	return xhttp.SuccessResponse(c, res)
}

func (h *AnalysisHandler) Panel(c echo.Context) error {
	req := &models.PanelRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	ctx := c.Request().Context()
	params, err := h.profiles.ActiveParams(ctx)
	if err != nil {
		h.logger.Warn("active signal params unavailable, using defaults", applogger.Error(err))
	}
	panel, err := h.backtester.Panel(ctx, req.Symbol, models.Timeframe(req.Timeframe), req.Limit, params)
	if err != nil {
		return errorResponse(c, h.logger, "signal panel", err, http.StatusUnprocessableEntity)
	}
	c.Response().Header().Set(echo.HeaderCacheControl, "private, max-age=15")
	return xhttp.SuccessResponse(c, panel)
}

// Explain breaks down the entry decision at a bar using the active profile.
func (h *AnalysisHandler) Explain(c echo.Context) error {
	req := &models.ExplainRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	at, err := parseTime(req.Time)
	if err != nil {
		return xhttp.AppErrorResponse(c, xhttp.BadRequestErrorf("invalid time %q", req.Time).WithParam("field", "time"))
	}
	ctx := c.Request().Context()
	params, err := h.profiles.ActiveParams(ctx)
	if err != nil {
		h.logger.Warn("active signal params unavailable, using defaults", applogger.Error(err))
	}
	ex, err := h.backtester.Explain(ctx, req.Symbol, models.Timeframe(req.Timeframe), at, params)
	if err != nil {
		return errorResponse(c, h.logger, "explain signal", err, http.StatusUnprocessableEntity)
	}
	return xhttp.SuccessResponse(c, ex)
}

// Optimize runs the grid search inline and persists the tuned params.
func (h *AnalysisHandler) Optimize(c echo.Context) error {
	req := &models.OptimizeRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	started := time.Now()
	res, err := h.optimizer.Optimize(c.Request().Context(), req.Symbol, models.Timeframe(req.Timeframe), req.Limit, nil)
	if err != nil {
		return errorResponse(c, h.logger, "optimize", err, http.StatusUnprocessableEntity)
	}
	h.logger.Info("optimization finished",
		applogger.String("symbol", req.Symbol),
		applogger.String("timeframe", req.Timeframe),
		applogger.Int("evaluated", res.Evaluated),
		applogger.Bool("defaulted", res.Defaulted),
		applogger.Duration("took_ms", time.Since(started)),
	)
	return xhttp.SuccessResponse(c, res)
}

func (h *AnalysisHandler) Tuned(c echo.Context) error {
	req := &models.TunedRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	tuned, err := h.params.TunedParams(c.Request().Context(), req.Symbol, models.Timeframe(req.Timeframe))
	if err != nil {
		return errorResponse(c, h.logger, "tuned params", err, http.StatusNotFound)
	}
	return xhttp.SuccessResponse(c, tuned)
}

// parseTime accepts RFC 3339 or unix seconds.
func parseTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	sec, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(sec, 0).UTC(), nil
}
