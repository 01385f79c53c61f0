package binance

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"MTFTrader/internal/domain/models"
	xhttp "MTFTrader/pkg/http"
	applogger "MTFTrader/pkg/logger"
)

const closedKline = `{"stream":"btcusdt@kline_1h","data":{"e":"kline","s":"BTCUSDT","k":{"t":1704067200000,"i":"1h","o":"42000.10","h":"42500.00","l":"41900.5","c":"42250.25","v":"123.456","x":true,"s":"BTCUSDT"}}}`

func TestParseKlineMessage(t *testing.T) {
	tests := map[string]struct {
		frame  string
		ok     bool
		hasErr bool
	}{
		"closed combined frame": {frame: closedKline, ok: true},
		"open kline is skipped": {frame: strings.Replace(closedKline, `"x":true`, `"x":false`, 1)},
		"raw frame":             {frame: `{"s":"ETHUSDT","k":{"t":1704067200000,"i":"4h","o":"1","h":"2","l":"0.5","c":"1.5","v":"10","x":true}}`, ok: true},
		"unsupported interval":  {frame: strings.Replace(closedKline, `"i":"1h"`, `"i":"3m"`, 1)},
		"bad price":             {frame: strings.Replace(closedKline, `"42250.25"`, `"n/a"`, 1), hasErr: true},
		"not json":              {frame: `pong`, hasErr: true},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			_, ok, err := ParseKlineMessage([]byte(tc.frame))
			assert.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.hasErr, err != nil)
		})
	}

	c, ok, err := ParseKlineMessage([]byte(closedKline))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "BTC/USDT", c.Symbol)
	assert.Equal(t, models.TF1h, c.Timeframe)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), c.OpenTime)
	assert.Equal(t, 42250.25, c.Close)
	assert.Equal(t, 123.456, c.Volume)
}

func TestStreamNames_SortedAndDeduplicated(t *testing.T) {
	got := StreamNames([]string{"ETH/USDT", "BTC/USDT", "BTC/USDT"}, []models.Timeframe{models.TF4h, models.TF1h})
	assert.Equal(t, []string{"btcusdt@kline_1h", "btcusdt@kline_4h", "ethusdt@kline_1h", "ethusdt@kline_4h"}, got)
}

func TestStream_ReadsAndReconnects(t *testing.T) {
	var (
		dials   atomic.Int32
		lastURL atomic.Value
	)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		lastURL.Store(r.URL.RawQuery)
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		n := dials.Add(1)
		_ = conn.WriteMessage(websocket.TextMessage, []byte(closedKline))
		if n == 1 {
			// first connection drops right away to force a reconnect
			_ = conn.Close()
			return
		}
		time.Sleep(200 * time.Millisecond)
		_ = conn.Close()
	}))
	defer srv.Close()

	s := NewStream("ws"+strings.TrimPrefix(srv.URL, "http"), 10*time.Millisecond, 0, 8, applogger.Nop())
	assert.ErrorIs(t, s.Connect(context.Background()), errNoStreams)

	s.Subscribe([]string{"BTC/USDT"}, []models.Timeframe{models.TF1h})
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	candles, _ := s.Read(ctx)

	for i := 0; i < 2; i++ {
		select {
		case c := <-candles:
			assert.Equal(t, "BTC/USDT", c.Symbol)
		case <-ctx.Done():
			t.Fatal("timed out waiting for candles")
		}
	}
	assert.GreaterOrEqual(t, dials.Load(), int32(2))
	assert.Equal(t, "streams=btcusdt@kline_1h", lastURL.Load())
}

func TestRESTClient_FetchKlinesPages(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		if n == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		assert.Equal(t, "BTCUSDT", r.URL.Query().Get("symbol"))
		assert.Equal(t, "1h", r.URL.Query().Get("interval"))
		start, size := base, 2
		if r.URL.Query().Get("startTime") != "1704067200000" {
			start, size = base.Add(2*time.Hour), 1
		}
		var rows [][]any
		for i := 0; i < size; i++ {
			ot := start.Add(time.Duration(i) * time.Hour).UnixMilli()
			rows = append(rows, []any{ot, "1.0", "2.0", "0.5", "1.5", "10", ot + 3599999})
		}
		_ = json.NewEncoder(w).Encode(rows)
	}))
	defer srv.Close()

	c := NewRESTClient("", applogger.Nop(),
		WithHTTPClient(xhttp.NewClient(xhttp.WithBaseURL(srv.URL))),
		WithPageSize(2),
		WithRetry(time.Millisecond, 3),
		WithRateLimit(1000),
	)
	c.now = func() time.Time { return base.Add(10 * time.Hour) }

	got, err := c.FetchKlines(context.Background(), "BTC/USDT", models.TF1h, base, 0)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, base, got[0].OpenTime)
	assert.Equal(t, base.Add(2*time.Hour), got[2].OpenTime)
	assert.Equal(t, 1.5, got[2].Close)
	assert.Equal(t, int32(3), calls.Load(), "one throttled call plus two pages")
}

func TestRESTClient_DropsUnclosedBar(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ot := base.UnixMilli()
		_ = json.NewEncoder(w).Encode([][]any{{ot, "1", "1", "1", "1", "1", ot + 3599999}})
	}))
	defer srv.Close()

	c := NewRESTClient("", applogger.Nop(), WithHTTPClient(xhttp.NewClient(xhttp.WithBaseURL(srv.URL))))
	c.now = func() time.Time { return base.Add(30 * time.Minute) }

	got, err := c.FetchKlines(context.Background(), "BTC/USDT", models.TF1h, base.Add(-time.Hour), 0)
	require.NoError(t, err)
	assert.Empty(t, got)
}
