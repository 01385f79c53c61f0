package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"MTFTrader/internal/domain/models"
	domrepo "MTFTrader/internal/domain/repository"
	xhttp "MTFTrader/pkg/http"
	applogger "MTFTrader/pkg/logger"
)

type TradesHandler struct {
	logger *applogger.Logger
	trades domrepo.TradeStore
}

func NewTradesHandler(logger *applogger.Logger, trades domrepo.TradeStore) *TradesHandler {
	return &TradesHandler{logger: logger, trades: trades}
}

func (h *TradesHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/api/trades", h.List)
}

// List returns trades newest first.
func (h *TradesHandler) List(c echo.Context) error {
	req := &models.TradesRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	rows, err := h.trades.ListTrades(c.Request().Context(), models.TradeFilter{
		Symbol:  req.Symbol,
		Network: req.Network,
		Status:  models.TradeStatus(req.Status),
		Limit:   req.Limit,
	})
	if err != nil {
		return errorResponse(c, h.logger, "list trades", err, http.StatusNotFound)
	}
	return xhttp.ListResponse(c, rows, int64(len(rows)))
}
