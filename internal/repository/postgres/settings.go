package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"

	"MTFTrader/internal/domain/apperr"
	"MTFTrader/internal/domain/models"
)

func (s *Store) GetSetting(ctx context.Context, key string, dest any) (bool, error) {
	var raw []byte
	err := s.db.GetContext(ctx, &raw, `SELECT value FROM settings WHERE key = $1`, key)
	if err != nil {
		err = classify("get setting", err)
		if apperr.IsUnavailable(err) {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return false, fmt.Errorf("decode setting %s: %w", key, err)
	}
	return true, nil
}

func (s *Store) PutSetting(ctx context.Context, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode setting %s: %w", key, err)
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO settings (key, value, updated_at) VALUES ($1, $2, now())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`, key, string(raw))
	return classify("put setting", err)
}

type botRow struct {
	Symbol      string         `db:"symbol"`
	Status      string         `db:"status"`
	IntervalSec int            `db:"interval_sec"`
	Timeframes  pq.StringArray `db:"timeframes"`
	Stats       []byte         `db:"stats"`
	UpdatedAt   time.Time      `db:"updated_at"`
}

// SaveBotStatus upserts the row. Nil stats keep the stored map.
func (s *Store) SaveBotStatus(ctx context.Context, st models.BotStatus) error {
	var stats sql.NullString
	if st.Stats != nil {
		raw, err := json.Marshal(st.Stats)
		if err != nil {
			return fmt.Errorf("encode bot stats: %w", err)
		}
		stats = sql.NullString{String: string(raw), Valid: true}
	}
	tfs := make([]string, len(st.Timeframes))
	for i, tf := range st.Timeframes {
		tfs[i] = string(tf)
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO bots (symbol, status, interval_sec, timeframes, stats, updated_at)
		VALUES ($1, $2, $3, $4, COALESCE($5::jsonb, '{}'::jsonb), now())
		ON CONFLICT (symbol) DO UPDATE SET status = EXCLUDED.status, interval_sec = EXCLUDED.interval_sec,
			timeframes = EXCLUDED.timeframes, stats = COALESCE($5::jsonb, bots.stats), updated_at = now()`,
		st.Symbol, string(st.Status), st.IntervalSec, pq.Array(tfs), stats)
	return classify("save bot status", err)
}

// UpdateBotStats merges stats into the stored object with jsonb concatenation.
func (s *Store) UpdateBotStats(ctx context.Context, symbol string, stats map[string]any) error {
	raw, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("encode bot stats: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO bots (symbol, status, stats, updated_at)
		VALUES ($1, $2, $3::jsonb, now())
		ON CONFLICT (symbol) DO UPDATE SET stats = bots.stats || EXCLUDED.stats, updated_at = now()`,
		symbol, string(models.BotStopped), string(raw))
	return classify("update bot stats", err)
}

func (s *Store) ListBots(ctx context.Context) ([]models.BotStatus, error) {
	var rows []botRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT symbol, status, interval_sec, timeframes, stats, updated_at
		FROM bots ORDER BY symbol`); err != nil {
		return nil, classify("list bots", err)
	}
	out := make([]models.BotStatus, 0, len(rows))
	for _, r := range rows {
		st := models.BotStatus{
			Symbol: r.Symbol, Status: models.BotState(r.Status), IntervalSec: r.IntervalSec, UpdatedAt: r.UpdatedAt.UTC(),
		}
		for _, tf := range r.Timeframes {
			st.Timeframes = append(st.Timeframes, models.Timeframe(tf))
		}
		if len(r.Stats) > 0 {
			_ = json.Unmarshal(r.Stats, &st.Stats)
		}
		out = append(out, st)
	}
	return out, nil
}
