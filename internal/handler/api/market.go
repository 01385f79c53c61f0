package api

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"MTFTrader/internal/domain/models"
	"MTFTrader/internal/usecase"
	xhttp "MTFTrader/pkg/http"
	applogger "MTFTrader/pkg/logger"
)

// MarketService reports per-symbol state and syncs history on demand.
type MarketService interface {
	PairsStatus(ctx context.Context, symbols []string) ([]models.PairStatus, error)
	SyncHistory(ctx context.Context, req usecase.HistorySyncRequest) (models.HistorySyncReport, error)
}

type MarketHandler struct {
	logger *applogger.Logger
	market MarketService
}

func NewMarketHandler(logger *applogger.Logger, market MarketService) *MarketHandler {
	return &MarketHandler{logger: logger, market: market}
}

func (h *MarketHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api")
	g.GET("/pairs/status", h.PairsStatus)
	g.POST("/history/sync", h.SyncHistory)
}

// PairsStatus accepts repeated symbol params and defaults to the configured symbols.
func (h *MarketHandler) PairsStatus(c echo.Context) error {
	req := &models.PairsStatusRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	st, err := h.market.PairsStatus(c.Request().Context(), req.Symbols)
	if err != nil {
		return errorResponse(c, h.logger, "pairs status", err, http.StatusNotFound)
	}
	return xhttp.ListResponse(c, st, int64(len(st)))
}

// SyncHistory runs inline. Failed pairs are reported in the body.
func (h *MarketHandler) SyncHistory(c echo.Context) error {
	req := &models.SyncHistoryRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	tfs, err := models.ParseTimeframes(req.Timeframes)
	if err != nil {
		return xhttp.AppErrorResponse(c, xhttp.BadRequestErrorf("%v", err).WithParam("field", "timeframes"))
	}
	started := time.Now()
	report, err := h.market.SyncHistory(c.Request().Context(), usecase.HistorySyncRequest{
		Symbol:     req.Symbol,
		Timeframes: tfs,
		Force:      req.Force,
	})
	if err != nil {
		return errorResponse(c, h.logger, "sync history", err, http.StatusNotFound)
	}
	h.logger.Info("history sync finished",
		applogger.String("symbol", req.Symbol),
		applogger.Bool("force", req.Force),
		applogger.Int("bars", report.Bars),
		applogger.Int("failed", report.Failed),
		applogger.Duration("took_ms", time.Since(started)),
	)
	return xhttp.SuccessResponse(c, report)
}
