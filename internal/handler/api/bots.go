package api

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"

	"MTFTrader/internal/domain/models"
	xhttp "MTFTrader/pkg/http"
	applogger "MTFTrader/pkg/logger"
)

// BotService is the part of the bot manager the API drives.
type BotService interface {
	Start(ctx context.Context, symbol string, intervalSec int, tfs []models.Timeframe) (models.BotStatus, error)
	Stop(ctx context.Context, symbol string) error
	List(ctx context.Context) ([]models.BotStatus, error)
}

type BotsHandler struct {
	logger *applogger.Logger
	bots   BotService
}

func NewBotsHandler(logger *applogger.Logger, bots BotService) *BotsHandler {
	return &BotsHandler{logger: logger, bots: bots}
}

func (h *BotsHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api/bots")
	g.GET("", h.List)
	g.POST("/start", h.Start)
	g.POST("/stop", h.Stop)
}

func (h *BotsHandler) List(c echo.Context) error {
	rows, err := h.bots.List(c.Request().Context())
	if err != nil {
		return errorResponse(c, h.logger, "list bots", err, http.StatusNotFound)
	}
	return xhttp.ListResponse(c, rows, int64(len(rows)))
}

func (h *BotsHandler) Start(c echo.Context) error {
	req := &models.StartBotRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	tfs, err := models.ParseTimeframes(req.Timeframes)
	if err != nil {
		return xhttp.AppErrorResponse(c, xhttp.BadRequestErrorf("%v", err).WithParam("field", "timeframes"))
	}
	st, err := h.bots.Start(c.Request().Context(), req.Symbol, req.IntervalSec, tfs)
	if err != nil {
		return errorResponse(c, h.logger, "start bot", err, http.StatusNotFound)
	}
	return xhttp.CreatedResponse(c, st)
}

func (h *BotsHandler) Stop(c echo.Context) error {
	req := &models.StopBotRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	if err := h.bots.Stop(c.Request().Context(), req.Symbol); err != nil {
		return errorResponse(c, h.logger, "stop bot", err, http.StatusNotFound)
	}
	return xhttp.SuccessResponse(c, map[string]any{"symbol": req.Symbol, "status": models.BotStopped})
}
