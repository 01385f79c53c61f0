package api

import (
	"github.com/labstack/echo/v4"

	xhttp "MTFTrader/pkg/http"
)

// Routes registers a set of handlers as one.
type Routes []xhttp.Handler

func (r Routes) RegisterRoutes(e *echo.Echo) {
	for _, h := range r {
		if h != nil {
			h.RegisterRoutes(e)
		}
	}
}
