// Package binance talks to the Binance public market data endpoints.
package binance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"MTFTrader/internal/domain/models"
	applogger "MTFTrader/pkg/logger"
)

var errNoStreams = errors.New("binance: no streams subscribed")

// Stream implements QuoteStream over the combined kline WebSocket.
type Stream struct {
	websocketURL   string
	reconnectDelay time.Duration
	pingInterval   time.Duration
	bufferSize     int
	l              *applogger.Logger

	mu      sync.Mutex
	streams []string
	conn    *websocket.Conn
	writeMu sync.Mutex

	connected atomic.Bool
}

// NewStream creates a stream for wss://host/stream style endpoints.
func NewStream(websocketURL string, reconnectDelay, pingInterval time.Duration, bufferSize int, l *applogger.Logger) *Stream {
	if bufferSize < 1 {
		bufferSize = 1024
	}
	return &Stream{
		websocketURL:   websocketURL,
		reconnectDelay: reconnectDelay,
		pingInterval:   pingInterval,
		bufferSize:     bufferSize,
		l:              l,
	}
}

// StreamNames returns the sorted <sym>@kline_<tf> names.
func StreamNames(symbols []string, tfs []models.Timeframe) []string {
	seen := make(map[string]struct{}, len(symbols)*len(tfs))
	out := make([]string, 0, len(symbols)*len(tfs))
	for _, s := range symbols {
		sym := strings.ToLower(models.ExchangeSymbol(s))
		for _, tf := range tfs {
			name := fmt.Sprintf("%s@kline_%s", sym, tf)
			if _, dup := seen[name]; dup {
				continue
			}
			seen[name] = struct{}{}
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// Subscribe replaces the stream set. A live connection is closed so the read
// loop reconnects with the new set.
func (s *Stream) Subscribe(symbols []string, tfs []models.Timeframe) {
	names := StreamNames(symbols, tfs)
	s.mu.Lock()
	s.streams = names
	conn := s.conn
	s.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
	s.l.Info("binance streams updated", applogger.Int("streams", len(names)))
}

func (s *Stream) url() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.streams) == 0 {
		return "", errNoStreams
	}
	return s.websocketURL + "?streams=" + strings.Join(s.streams, "/"), nil
}

// Connect dials the combined stream for the current subscription.
func (s *Stream) Connect(ctx context.Context) error {
	u, err := s.url()
	if err != nil {
		return err
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u, nil)
	if err != nil {
		return fmt.Errorf("binance connect: %w", err)
	}
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
	s.connected.Store(true)
	s.l.Info("binance stream connected", applogger.Int("url_len", len(u)))
	return nil
}

// Read delivers closed klines until ctx is done. Read errors are reported on
// the error channel without blocking and followed by a reconnect after the
// reconnect delay.
func (s *Stream) Read(ctx context.Context) (<-chan models.Candle, <-chan error) {
	candles := make(chan models.Candle, s.bufferSize)
	errs := make(chan error, 16)

	go s.pingLoop(ctx)

	go func() {
		defer close(candles)
		defer close(errs)
		for ctx.Err() == nil {
			if !s.IsConnected() {
				if err := s.Connect(ctx); err != nil {
					report(errs, err)
					if !sleepCtx(ctx, s.reconnectDelay) {
						return
					}
					continue
				}
			}
			if err := s.readConn(ctx, candles); err != nil && ctx.Err() == nil {
				report(errs, err)
				s.dropConn()
				if !sleepCtx(ctx, s.reconnectDelay) {
					return
				}
			}
		}
		s.dropConn()
	}()

	return candles, errs
}

func (s *Stream) readConn(ctx context.Context, out chan<- models.Candle) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("binance conn nil")
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()
	for {
		_, b, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("binance read: %w", err)
		}
		c, ok, err := ParseKlineMessage(b)
		if err != nil {
			s.l.Debug("binance parse error", applogger.Error(err))
			continue
		}
		if !ok {
			continue
		}
		select {
		case out <- c:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *Stream) pingLoop(ctx context.Context) {
	if s.pingInterval <= 0 {
		return
	}
	ticker := time.NewTicker(s.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.mu.Lock()
			conn := s.conn
			s.mu.Unlock()
			if conn == nil {
				continue
			}
			s.writeMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
			s.writeMu.Unlock()
			if err != nil {
				s.l.Debug("binance ping failed", applogger.Error(err))
			}
		}
	}
}

func (s *Stream) dropConn() {
	s.connected.Store(false)
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
}

// Close closes the WS connection.
func (s *Stream) Close() error {
	s.dropConn()
	return nil
}

func (s *Stream) IsConnected() bool { return s.connected.Load() }

type klineEnvelope struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

type klineEvent struct {
	Symbol string `json:"s"`
	K      struct {
		OpenTime int64  `json:"t"`
		Interval string `json:"i"`
		Open     string `json:"o"`
		High     string `json:"h"`
		Low      string `json:"l"`
		Close    string `json:"c"`
		Volume   string `json:"v"`
		Closed   bool   `json:"x"`
		Symbol   string `json:"s"`
	} `json:"k"`
}

// ParseKlineMessage decodes a combined or raw kline frame. ok is false for
// frames that are not closed klines.
func ParseKlineMessage(b []byte) (models.Candle, bool, error) {
	payload := b
	var env klineEnvelope
	if err := json.Unmarshal(b, &env); err == nil && len(env.Data) > 0 {
		payload = env.Data
	}
	var ev klineEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return models.Candle{}, false, err
	}
	if !ev.K.Closed || ev.K.Interval == "" {
		return models.Candle{}, false, nil
	}
	sym := ev.Symbol
	if sym == "" {
		sym = ev.K.Symbol
	}
	if sym == "" {
		return models.Candle{}, false, nil
	}
	tf, err := models.NormalizeTimeframe(ev.K.Interval)
	if err != nil {
		return models.Candle{}, false, nil
	}

	var vals [5]float64
	for i, raw := range []string{ev.K.Open, ev.K.High, ev.K.Low, ev.K.Close, ev.K.Volume} {
		d, err := decimal.NewFromString(raw)
		if err != nil {
			return models.Candle{}, false, fmt.Errorf("kline field %d: %w", i, err)
		}
		vals[i] = d.InexactFloat64()
	}
	return models.Candle{
		OpenTime:  time.UnixMilli(ev.K.OpenTime).UTC(),
		Symbol:    models.DisplaySymbol(sym),
		Timeframe: tf,
		Open:      vals[0],
		High:      vals[1],
		Low:       vals[2],
		Close:     vals[3],
		Volume:    vals[4],
	}, true, nil
}

func report(errs chan<- error, err error) {
	select {
	case errs <- err:
	default:
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
