// Package postgres implements the durable stores on PostgreSQL via sqlx.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"MTFTrader/internal/domain/apperr"
	applogger "MTFTrader/pkg/logger"
)

// Options configures the connection pool.
type Options struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Store implements ModelStore, ParamStore, TradeStore, JobStore, SettingsStore and BotStore.
type Store struct {
	db *sqlx.DB
	l  *applogger.Logger
}

// Connect opens the pool, pings it and applies the schema.
func Connect(ctx context.Context, opts Options, l *applogger.Logger) (*Store, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", opts.DSN)
	if err != nil {
		return nil, fmt.Errorf("postgres connect: %w", err)
	}
	db.SetMaxOpenConns(opts.MaxOpenConns)
	db.SetMaxIdleConns(opts.MaxIdleConns)
	db.SetConnMaxLifetime(opts.ConnMaxLifetime)

	s := New(db, l)
	if err := s.InitSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	l.Info("postgres store ready", applogger.Int("max_open_conns", opts.MaxOpenConns))
	return s, nil
}

func New(db *sqlx.DB, l *applogger.Logger) *Store {
	return &Store{db: db, l: l}
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Health(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS trades (
		id          TEXT PRIMARY KEY,
		symbol      TEXT NOT NULL,
		timeframe   TEXT NOT NULL DEFAULT '',
		side        TEXT NOT NULL,
		quantity    DOUBLE PRECISION NOT NULL,
		entry_price DOUBLE PRECISION NOT NULL,
		entry_time  TIMESTAMPTZ NOT NULL,
		stop_loss   DOUBLE PRECISION NOT NULL,
		take_profit DOUBLE PRECISION NOT NULL,
		max_bars    INTEGER NOT NULL DEFAULT 0,
		bars_held   INTEGER NOT NULL DEFAULT 0,
		status      TEXT NOT NULL,
		exit_price  DOUBLE PRECISION,
		exit_time   TIMESTAMPTZ,
		exit_reason TEXT,
		pnl_pct     DOUBLE PRECISION NOT NULL DEFAULT 0,
		network     TEXT NOT NULL DEFAULT '',
		origin      TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS trades_one_open ON trades (symbol, network) WHERE status = 'open'`,
	`CREATE INDEX IF NOT EXISTS trades_entry_time ON trades (entry_time DESC)`,
	`CREATE TABLE IF NOT EXISTS model_bundles (
		symbol     TEXT NOT NULL,
		timeframe  TEXT NOT NULL,
		bundle     JSONB NOT NULL,
		trained_at TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (symbol, timeframe)
	)`,
	`CREATE TABLE IF NOT EXISTS tuned_params (
		symbol     TEXT NOT NULL,
		timeframe  TEXT NOT NULL,
		params     JSONB NOT NULL,
		stats      JSONB NOT NULL,
		defaulted  BOOLEAN NOT NULL DEFAULT FALSE,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (symbol, timeframe)
	)`,
	`CREATE TABLE IF NOT EXISTS training_jobs (
		id         TEXT PRIMARY KEY,
		symbol     TEXT NOT NULL,
		timeframes TEXT[] NOT NULL,
		mode       TEXT NOT NULL,
		optimize   BOOLEAN NOT NULL,
		status     TEXT NOT NULL,
		progress   DOUBLE PRECISION NOT NULL DEFAULT 0,
		message    TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS training_jobs_symbol ON training_jobs (symbol, created_at DESC)`,
	`CREATE TABLE IF NOT EXISTS job_logs (
		id      BIGSERIAL PRIMARY KEY,
		job_id  TEXT NOT NULL,
		ts      TIMESTAMPTZ NOT NULL,
		level   TEXT NOT NULL,
		phase   TEXT NOT NULL DEFAULT '',
		message TEXT NOT NULL,
		data    JSONB
	)`,
	`CREATE INDEX IF NOT EXISTS job_logs_job ON job_logs (job_id, id)`,
	`CREATE TABLE IF NOT EXISTS settings (
		key        TEXT PRIMARY KEY,
		value      JSONB NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS bots (
		symbol       TEXT PRIMARY KEY,
		status       TEXT NOT NULL,
		interval_sec INTEGER NOT NULL DEFAULT 0,
		timeframes   TEXT[] NOT NULL DEFAULT '{}',
		stats        JSONB NOT NULL DEFAULT '{}',
		updated_at   TIMESTAMPTZ NOT NULL
	)`,
}

// InitSchema creates tables and indexes when missing.
func (s *Store) InitSchema(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

// Contention codes: serialization_failure, deadlock_detected, lock_not_available.
var contentionCodes = map[pq.ErrorCode]struct{}{
	"40001": {},
	"40P01": {},
	"55P03": {},
}

const uniqueViolation pq.ErrorCode = "23505"

// classify wraps err with the apperr kind its SQLSTATE implies.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		if _, ok := contentionCodes[pqErr.Code]; ok {
			return apperr.Contention(op, err)
		}
		if pqErr.Code == uniqueViolation {
			return apperr.New(apperr.KindConflict, op, err)
		}
	}
	if errors.Is(err, sql.ErrNoRows) {
		return apperr.New(apperr.KindUnavailable, op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// inTx runs fn in a transaction and commits when it returns nil.
func (s *Store) inTx(ctx context.Context, op string, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return classify(op, err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return classify(op, tx.Commit())
}
