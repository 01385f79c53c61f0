package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"MTFTrader/internal/domain/models"
)

const tradeColumns = `id, symbol, timeframe, side, quantity, entry_price, entry_time, stop_loss,
	take_profit, max_bars, bars_held, status, exit_price, exit_time, exit_reason, pnl_pct, network, origin`

func (s *Store) AddTrade(ctx context.Context, t *models.Trade) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	q := `INSERT INTO trades (` + tradeColumns + `) VALUES (:id, :symbol, :timeframe, :side, :quantity,
		:entry_price, :entry_time, :stop_loss, :take_profit, :max_bars, :bars_held, :status, :exit_price,
		:exit_time, :exit_reason, :pnl_pct, :network, :origin)`
	_, err := s.db.NamedExecContext(ctx, q, t)
	return classify("add trade", err)
}

func (s *Store) OpenTrades(ctx context.Context, symbol, network string) ([]models.Trade, error) {
	var out []models.Trade
	err := s.db.SelectContext(ctx, &out,
		`SELECT `+tradeColumns+` FROM trades WHERE symbol = $1 AND network = $2 AND status = 'open' ORDER BY entry_time`,
		symbol, network)
	return out, classify("open trades", err)
}

// CloseAllOpen locks the open rows and closes them through Trade.Close.
func (s *Store) CloseAllOpen(ctx context.Context, symbol, network string, price float64, at time.Time, reason models.ExitReason) ([]models.Trade, error) {
	var closed []models.Trade
	err := s.inTx(ctx, "close trades", func(tx *sqlx.Tx) error {
		var open []models.Trade
		if err := tx.SelectContext(ctx, &open,
			`SELECT `+tradeColumns+` FROM trades WHERE symbol = $1 AND network = $2 AND status = 'open' FOR UPDATE NOWAIT`,
			symbol, network); err != nil {
			return classify("close trades", err)
		}
		for i := range open {
			t := open[i]
			if !t.Close(price, at, reason) {
				continue
			}
			if _, err := tx.NamedExecContext(ctx, `UPDATE trades SET status = :status, exit_price = :exit_price,
				exit_time = :exit_time, exit_reason = :exit_reason, pnl_pct = :pnl_pct, bars_held = :bars_held
				WHERE id = :id`, &t); err != nil {
				return classify("close trades", err)
			}
			closed = append(closed, t)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return closed, nil
}

func (s *Store) ListTrades(ctx context.Context, f models.TradeFilter) ([]models.Trade, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.Symbol != "" {
		add("symbol = $%d", f.Symbol)
	}
	if f.Network != "" {
		add("network = $%d", f.Network)
	}
	if f.Status != "" {
		add("status = $%d", string(f.Status))
	}
	q := `SELECT ` + tradeColumns + ` FROM trades`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	q += ` ORDER BY entry_time DESC`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		q += fmt.Sprintf(` LIMIT $%d`, len(args))
	}
	var out []models.Trade
	err := s.db.SelectContext(ctx, &out, q, args...)
	return out, classify("list trades", err)
}
