package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_GetJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v3/klines", r.URL.Path)
		assert.Equal(t, "BTCUSDT", r.URL.Query().Get("symbol"))
		assert.Equal(t, "mtf", r.Header.Get("User-Agent"))
		_ = json.NewEncoder(w).Encode([]int{1, 2, 3})
	}))
	defer srv.Close()

	c := NewClient(WithBaseURL(srv.URL), WithHeader("User-Agent", "mtf"))
	var got []int
	require.NoError(t, c.GetJSON(context.Background(), "/api/v3/klines", url.Values{"symbol": {"BTCUSDT"}}, &got))
	assert.Equal(t, []int{1, 2, 3}, got)
}

func TestClient_PostJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var in map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		_ = json.NewEncoder(w).Encode(map[string]string{"echo": in["symbol"]})
	}))
	defer srv.Close()

	var out map[string]string
	require.NoError(t, NewClient(WithBaseURL(srv.URL)).PostJSON(context.Background(), "/train", map[string]string{"symbol": "ETH/USDT"}, &out))
	assert.Equal(t, "ETH/USDT", out["echo"])
}

func TestClient_StatusErrors(t *testing.T) {
	tests := map[string]struct {
		status    int
		retryable bool
	}{
		"throttled":   {status: http.StatusTooManyRequests, retryable: true},
		"ip banned":   {status: 418, retryable: true},
		"server":      {status: http.StatusBadGateway, retryable: true},
		"bad request": {status: http.StatusBadRequest, retryable: false},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				http.Error(w, "nope", tc.status)
			}))
			defer srv.Close()

			err := NewClient(WithBaseURL(srv.URL)).GetJSON(context.Background(), "/", nil, nil)
			var se *StatusError
			require.True(t, errors.As(err, &se))
			assert.Equal(t, tc.status, se.Code)
			assert.Equal(t, tc.retryable, IsRetryable(err))
		})
	}
}
