package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"MTFTrader/internal/domain/apperr"
	"MTFTrader/internal/usecase"
	xhttp "MTFTrader/pkg/http"
	applogger "MTFTrader/pkg/logger"
)

// toAppError maps domain failures to API errors. Lookups answer a missing
// resource with 404; computations that lack data answer 422.
func toAppError(err error, unavailable int) *xhttp.AppError {
	var appErr *xhttp.AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	switch {
	case errors.Is(err, usecase.ErrBotRunning):
		return xhttp.ConflictErrorf("%v", err).WithError(err)
	case errors.Is(err, usecase.ErrBotNotRunning):
		return xhttp.NotFoundErrorf("%v", err).WithError(err)
	}
	switch apperr.KindOf(err) {
	case apperr.KindUnavailable:
		if unavailable == http.StatusUnprocessableEntity {
			return xhttp.UnprocessableErrorf("%v", err).WithError(err)
		}
		return xhttp.NotFoundErrorf("%v", err).WithError(err)
	case apperr.KindInvalid:
		return xhttp.BadRequestErrorf("%v", err).WithError(err)
	case apperr.KindConflict:
		return xhttp.ConflictErrorf("%v", err).WithError(err)
	case apperr.KindContention:
		return xhttp.UnavailableErrorf("%v", err).WithError(err)
	}
	return xhttp.InternalErrorf("internal error").WithError(err)
}

func errorResponse(c echo.Context, l *applogger.Logger, op string, err error, unavailable int) error {
	appErr := toAppError(err, unavailable)
	if appErr.Status >= http.StatusInternalServerError {
		l.Error(op+" failed", applogger.Error(err))
	} else {
		l.Debug(op+" rejected", applogger.Int("status", appErr.Status), applogger.Error(err))
	}
	return xhttp.AppErrorResponse(c, appErr)
}
