package api

import (
	"github.com/labstack/echo/v4"

	"MTFTrader/internal/domain/models"
	domrepo "MTFTrader/internal/domain/repository"
	xhttp "MTFTrader/pkg/http"
	applogger "MTFTrader/pkg/logger"
)

// StreamState reports whether the live stream is connected.
type StreamState interface {
	IsConnected() bool
}

type QuotesHandler struct {
	logger *applogger.Logger
	quotes domrepo.QuoteCache
	stream StreamState
}

// NewQuotesHandler serves the live candle cache. stream may be nil when the
// live feed is disabled.
func NewQuotesHandler(logger *applogger.Logger, quotes domrepo.QuoteCache, stream StreamState) *QuotesHandler {
	return &QuotesHandler{logger: logger, quotes: quotes, stream: stream}
}

func (h *QuotesHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/api/quotes", h.Candles)
}

type quotesResponse struct {
	Symbol    string           `json:"symbol"`
	Timeframe models.Timeframe `json:"timeframe"`
	Connected bool             `json:"connected"`
	Candles   []models.Candle  `json:"candles"`
}

func (h *QuotesHandler) Candles(c echo.Context) error {
	req := &models.QuotesRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	tf := models.Timeframe(req.Timeframe)
	candles := h.quotes.Candles(req.Symbol, tf, req.Limit)
	if candles == nil {
		candles = []models.Candle{}
	}
	return xhttp.SuccessResponse(c, quotesResponse{
		Symbol:    req.Symbol,
		Timeframe: tf,
		Connected: h.stream != nil && h.stream.IsConnected(),
		Candles:   candles,
	})
}
