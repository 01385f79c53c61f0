package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"MTFTrader/internal/domain/models"
	"MTFTrader/internal/service/ratelimit"
	xhttp "MTFTrader/pkg/http"
	applogger "MTFTrader/pkg/logger"
	"MTFTrader/pkg/retry"
)

const klinesPath = "/api/v3/klines"

// RESTOption configures RESTClient.
type RESTOption func(*RESTClient)

// RESTClient pages historical klines from the public REST API.
type RESTClient struct {
	http       *xhttp.Client
	limiter    *ratelimit.Limiter
	rate       float64
	pageSize   int
	retryDelay time.Duration
	tries      int
	timeout    time.Duration
	now        func() time.Time
	l          *applogger.Logger
}

func NewRESTClient(baseURL string, l *applogger.Logger, opts ...RESTOption) *RESTClient {
	c := &RESTClient{
		limiter:    ratelimit.New(),
		rate:       10,
		pageSize:   1000,
		retryDelay: time.Second,
		tries:      5,
		timeout:    15 * time.Second,
		now:        time.Now,
		l:          l,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.http == nil {
		c.http = xhttp.NewClient(xhttp.WithBaseURL(baseURL), xhttp.WithTimeout(c.timeout))
	}
	return c
}

// WithRateLimit caps requests per second.
func WithRateLimit(perSec int) RESTOption {
	return func(c *RESTClient) {
		if perSec > 0 {
			c.rate = float64(perSec)
		}
	}
}

func WithPageSize(n int) RESTOption {
	return func(c *RESTClient) {
		if n > 0 && n <= 1000 {
			c.pageSize = n
		}
	}
}

// WithRetry sets the wait after a network or throttling error and the attempts per page.
func WithRetry(delay time.Duration, tries int) RESTOption {
	return func(c *RESTClient) {
		c.retryDelay = delay
		if tries > 0 {
			c.tries = tries
		}
	}
}

func WithTimeout(d time.Duration) RESTOption {
	return func(c *RESTClient) {
		if d > 0 {
			c.timeout = d
		}
	}
}

func WithHTTPClient(h *xhttp.Client) RESTOption {
	return func(c *RESTClient) { c.http = h }
}

// FetchKlines returns closed bars from since onward, oldest first. limit <= 0
// pages until the exchange runs out of bars.
func (c *RESTClient) FetchKlines(ctx context.Context, symbol string, tf models.Timeframe, since time.Time, limit int) ([]models.Candle, error) {
	step := tf.Duration()
	if step == 0 {
		return nil, fmt.Errorf("fetch klines: unsupported timeframe %q", tf)
	}
	now := c.now()
	// never ask for the future
	if latest := now.Add(-step); since.After(latest) {
		since = latest
	}

	var out []models.Candle
	cursor := since
	for {
		page, err := c.fetchPage(ctx, symbol, tf, cursor)
		if err != nil {
			return out, err
		}
		for _, k := range page {
			if !k.OpenTime.Add(step).After(now) {
				out = append(out, k)
			}
		}
		if len(page) < c.pageSize || (limit > 0 && len(out) >= limit) {
			break
		}
		cursor = page[len(page)-1].OpenTime.Add(step)
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	c.l.Debug("binance klines fetched",
		applogger.String("symbol", symbol),
		applogger.String("tf", string(tf)),
		applogger.Int("rows", len(out)),
	)
	return out, nil
}

func (c *RESTClient) fetchPage(ctx context.Context, symbol string, tf models.Timeframe, start time.Time) ([]models.Candle, error) {
	q := url.Values{}
	q.Set("symbol", models.ExchangeSymbol(symbol))
	q.Set("interval", string(tf))
	q.Set("startTime", strconv.FormatInt(start.UnixMilli(), 10))
	q.Set("limit", strconv.Itoa(c.pageSize))

	var rows [][]json.RawMessage
	err := retry.Do(ctx, retry.Policy{
		Tries:     c.tries,
		Delay:     c.retryDelay,
		Backoff:   2,
		MaxDelay:  8 * c.retryDelay,
		Retryable: xhttp.IsRetryable,
		OnRetry: func(attempt int, err error) {
			c.l.Warn("binance klines retry",
				applogger.String("symbol", symbol),
				applogger.Int("attempt", attempt),
				applogger.Error(err),
			)
		},
	}, func(ctx context.Context) error {
		if err := c.limiter.Wait(ctx, "klines", c.rate, c.rate); err != nil {
			return err
		}
		rows = rows[:0]
		return c.http.GetJSON(ctx, klinesPath, q, &rows)
	})
	if err != nil {
		return nil, fmt.Errorf("fetch klines %s %s: %w", symbol, tf, err)
	}

	out := make([]models.Candle, 0, len(rows))
	for _, r := range rows {
		k, err := parseRESTKline(symbol, tf, r)
		if err != nil {
			return nil, err
		}
		out = append(out, k)
	}
	return out, nil
}

// parseRESTKline reads [openTime, open, high, low, close, volume, closeTime, ...].
func parseRESTKline(symbol string, tf models.Timeframe, row []json.RawMessage) (models.Candle, error) {
	if len(row) < 6 {
		return models.Candle{}, fmt.Errorf("kline row has %d fields", len(row))
	}
	var openMs int64
	if err := json.Unmarshal(row[0], &openMs); err != nil {
		return models.Candle{}, fmt.Errorf("kline open time: %w", err)
	}
	var vals [5]float64
	for i := range vals {
		var s string
		if err := json.Unmarshal(row[i+1], &s); err != nil {
			return models.Candle{}, fmt.Errorf("kline field %d: %w", i+1, err)
		}
		d, err := decimal.NewFromString(s)
		if err != nil {
			return models.Candle{}, fmt.Errorf("kline field %d: %w", i+1, err)
		}
		vals[i] = d.InexactFloat64()
	}
	return models.Candle{
		OpenTime: time.UnixMilli(openMs).UTC(), Symbol: symbol, Timeframe: tf,
		Open: vals[0], High: vals[1], Low: vals[2], Close: vals[3], Volume: vals[4],
	}, nil
}
