package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"MTFTrader/internal/domain/apperr"
	"MTFTrader/internal/domain/models"
)

func (s *Store) SaveModel(ctx context.Context, bundle *models.ModelBundle) error {
	raw, err := json.Marshal(bundle)
	if err != nil {
		return fmt.Errorf("encode bundle: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO model_bundles (symbol, timeframe, bundle, trained_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (symbol, timeframe) DO UPDATE SET bundle = EXCLUDED.bundle, trained_at = EXCLUDED.trained_at`,
		bundle.Symbol, string(bundle.Timeframe), string(raw), bundle.TrainedAt)
	return classify("save model", err)
}

func (s *Store) LoadModel(ctx context.Context, symbol string, tf models.Timeframe) (*models.ModelBundle, error) {
	var raw []byte
	err := s.db.GetContext(ctx, &raw, `SELECT bundle FROM model_bundles WHERE symbol = $1 AND timeframe = $2`, symbol, string(tf))
	if err != nil {
		return nil, classify("load model", err)
	}
	var b models.ModelBundle
	if err := json.Unmarshal(raw, &b); err != nil {
		return nil, fmt.Errorf("decode bundle: %w", err)
	}
	return &b, nil
}

// UpdateModelMetrics merges patch under a row lock. A held lock surfaces as contention.
func (s *Store) UpdateModelMetrics(ctx context.Context, symbol string, tf models.Timeframe, patch models.ModelMetrics) error {
	return s.inTx(ctx, "update model metrics", func(tx *sqlx.Tx) error {
		var raw []byte
		if err := tx.GetContext(ctx, &raw, `SELECT bundle FROM model_bundles
			WHERE symbol = $1 AND timeframe = $2 FOR UPDATE NOWAIT`, symbol, string(tf)); err != nil {
			return classify("update model metrics", err)
		}
		var b models.ModelBundle
		if err := json.Unmarshal(raw, &b); err != nil {
			return fmt.Errorf("decode bundle: %w", err)
		}
		b.Metrics = b.Metrics.Merge(patch)
		out, err := json.Marshal(&b)
		if err != nil {
			return fmt.Errorf("encode bundle: %w", err)
		}
		_, err = tx.ExecContext(ctx, `UPDATE model_bundles SET bundle = $3 WHERE symbol = $1 AND timeframe = $2`,
			symbol, string(tf), string(out))
		return classify("update model metrics", err)
	})
}

func (s *Store) SaveTunedParams(ctx context.Context, t models.TunedParams) error {
	params, err := json.Marshal(t.Params)
	if err != nil {
		return fmt.Errorf("encode params: %w", err)
	}
	stats, err := json.Marshal(t.Stats)
	if err != nil {
		return fmt.Errorf("encode stats: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO tuned_params (symbol, timeframe, params, stats, defaulted, updated_at)
		VALUES ($1, $2, $3, $4, $5, now())
		ON CONFLICT (symbol, timeframe) DO UPDATE
		SET params = EXCLUDED.params, stats = EXCLUDED.stats, defaulted = EXCLUDED.defaulted, updated_at = now()`,
		t.Symbol, string(t.Timeframe), string(params), string(stats), t.Defaulted)
	return classify("save tuned params", err)
}

func (s *Store) TunedParams(ctx context.Context, symbol string, tf models.Timeframe) (*models.TunedParams, error) {
	var row struct {
		Params    []byte `db:"params"`
		Stats     []byte `db:"stats"`
		Defaulted bool   `db:"defaulted"`
	}
	err := s.db.GetContext(ctx, &row, `SELECT params, stats, defaulted FROM tuned_params
		WHERE symbol = $1 AND timeframe = $2`, symbol, string(tf))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.Unavailable("tuned params", "nothing tuned for %s %s", symbol, tf)
		}
		return nil, classify("tuned params", err)
	}
	out := &models.TunedParams{Symbol: symbol, Timeframe: tf, Defaulted: row.Defaulted}
	if err := json.Unmarshal(row.Params, &out.Params); err != nil {
		return nil, fmt.Errorf("decode params: %w", err)
	}
	if err := json.Unmarshal(row.Stats, &out.Stats); err != nil {
		return nil, fmt.Errorf("decode stats: %w", err)
	}
	return out, nil
}
