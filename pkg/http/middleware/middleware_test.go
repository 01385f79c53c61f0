package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	applogger "MTFTrader/pkg/logger"
)

func newEcho(m *HTTPMetrics) *echo.Echo {
	e := echo.New()
	e.Use(Recover(applogger.Nop()))
	e.Use(m.Middleware(applogger.Nop(), 0))
	e.Use(CORS(CORSConfig{AllowOrigins: []string{"*"}, AllowMethods: []string{http.MethodGet}}))
	e.GET("/api/bots/:symbol", func(c echo.Context) error { return c.String(http.StatusOK, c.Param("symbol")) })
	e.GET("/panic", func(echo.Context) error { panic("boom") })
	return e
}

func TestMetrics_UsesRouteTemplate(t *testing.T) {
	m := NewHTTPMetrics(prometheus.NewRegistry())
	e := newEcho(m)

	for _, sym := range []string{"BTC", "ETH"} {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/bots/"+sym, nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	}
	assert.Equal(t, 2.0, testutil.ToFloat64(m.requests.WithLabelValues("/api/bots/:symbol", http.MethodGet, "2xx")))
}

func TestRecover(t *testing.T) {
	e := newEcho(NewHTTPMetrics(prometheus.NewRegistry()))
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/panic", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestCORS_Preflight(t *testing.T) {
	e := newEcho(NewHTTPMetrics(prometheus.NewRegistry()))
	req := httptest.NewRequest(http.MethodOptions, "/api/bots/BTC", nil)
	req.Header.Set(echo.HeaderOrigin, "http://localhost:3000")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	assert.Equal(t, "http://localhost:3000", rec.Header().Get(echo.HeaderAccessControlAllowOrigin))
	assert.Equal(t, http.MethodGet, rec.Header().Get(echo.HeaderAccessControlAllowMethods))
}

func TestStatusClass(t *testing.T) {
	tests := map[int]string{101: "1xx", 204: "2xx", 302: "3xx", 404: "4xx", 503: "5xx"}
	for code, want := range tests {
		assert.Equal(t, want, statusClass(code))
	}
}
