package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"MTFTrader/internal/domain/models"
	pkgch "MTFTrader/pkg/clickhouse"
	applogger "MTFTrader/pkg/logger"
)

// CandleSchema is the DDL for the candle table. ReplacingMergeTree keeps the
// newest version of a bar so re-synced pages overwrite instead of duplicating.
func CandleSchema(database string) []string {
	return []string{
		fmt.Sprintf(`CREATE DATABASE IF NOT EXISTS %s`, database),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.candles (
			symbol     LowCardinality(String),
			timeframe  LowCardinality(String),
			open_time  DateTime64(3, 'UTC'),
			open       Float64,
			high       Float64,
			low        Float64,
			close      Float64,
			volume     Float64,
			updated_at DateTime64(3, 'UTC') DEFAULT now64(3)
		) ENGINE = ReplacingMergeTree(updated_at)
		ORDER BY (symbol, timeframe, open_time)`, database),
	}
}

// CHCandleStore implements CandleStore backed by ClickHouse.
type CHCandleStore struct {
	db    *sql.DB
	table string
	l     *applogger.Logger
}

func NewCHCandleStore(ch *pkgch.Client, l *applogger.Logger) *CHCandleStore {
	return &CHCandleStore{db: ch.DB(), table: ch.Database() + ".candles", l: l}
}

func (s *CHCandleStore) LatestCandles(ctx context.Context, symbol string, tf models.Timeframe, limit int) ([]models.Candle, error) {
	start := time.Now()
	const qtpl = `
        SELECT open_time, open, high, low, close, volume
        FROM %s FINAL
        WHERE symbol = ? AND timeframe = ?
        ORDER BY open_time DESC
        LIMIT ?
    `
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(qtpl, s.table), symbol, string(tf), limit)
	if err != nil {
		s.l.Error("clickhouse latest_candles query error",
			applogger.String("symbol", symbol),
			applogger.String("tf", string(tf)),
			applogger.Int("limit", limit),
			applogger.Error(err),
		)
		return nil, fmt.Errorf("get latest candles: %w", err)
	}
	defer rows.Close()

	tmp := make([]models.Candle, 0, limit)
	for rows.Next() {
		c := models.Candle{Symbol: symbol, Timeframe: tf}
		if err := rows.Scan(&c.OpenTime, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume); err != nil {
			return nil, fmt.Errorf("scan candle: %w", err)
		}
		c.OpenTime = c.OpenTime.UTC()
		tmp = append(tmp, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	// reverse to ASC
	for i, j := 0, len(tmp)-1; i < j; i, j = i+1, j-1 {
		tmp[i], tmp[j] = tmp[j], tmp[i]
	}
	s.l.Debug("clickhouse latest_candles ok",
		applogger.String("symbol", symbol),
		applogger.String("tf", string(tf)),
		applogger.Int("rows", len(tmp)),
		applogger.Duration("duration", time.Since(start)),
	)
	return tmp, nil
}

func (s *CHCandleStore) LastOpenTime(ctx context.Context, symbol string, tf models.Timeframe) (time.Time, bool, error) {
	q := fmt.Sprintf(`SELECT count(), max(open_time) FROM %s WHERE symbol = ? AND timeframe = ?`, s.table)
	var (
		n    uint64
		last time.Time
	)
	if err := s.db.QueryRowContext(ctx, q, symbol, string(tf)).Scan(&n, &last); err != nil {
		return time.Time{}, false, fmt.Errorf("last open time: %w", err)
	}
	if n == 0 {
		return time.Time{}, false, nil
	}
	return last.UTC(), true, nil
}

// UpsertCandles inserts in one batch per call.
func (s *CHCandleStore) UpsertCandles(ctx context.Context, candles []models.Candle) error {
	if len(candles) == 0 {
		return nil
	}
	start := time.Now()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin batch: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(
		`INSERT INTO %s (symbol, timeframe, open_time, open, high, low, close, volume)`, s.table))
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("prepare batch: %w", err)
	}
	defer stmt.Close()

	for _, c := range candles {
		if c.Symbol == "" || c.OpenTime.IsZero() {
			continue
		}
		if _, err := stmt.ExecContext(ctx, c.Symbol, string(c.Timeframe), c.OpenTime.UTC(),
			c.Open, c.High, c.Low, c.Close, c.Volume); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("append candle: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		s.l.Error("clickhouse upsert_candles commit error",
			applogger.Int("rows", len(candles)),
			applogger.Error(err),
		)
		return fmt.Errorf("commit batch: %w", err)
	}
	s.l.Debug("clickhouse upsert_candles ok",
		applogger.Int("rows", len(candles)),
		applogger.Duration("duration", time.Since(start)),
	)
	return nil
}
