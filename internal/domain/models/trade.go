package models

import "time"

type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// SideFromDirection maps +1 to BUY and anything else to SELL.
func SideFromDirection(dir int) Side {
	if dir > 0 {
		return SideBuy
	}
	return SideSell
}

// Direction returns +1 for BUY, -1 for SELL.
func (s Side) Direction() int {
	if s == SideBuy {
		return 1
	}
	return -1
}

type TradeStatus string

const (
	TradeOpen   TradeStatus = "open"
	TradeClosed TradeStatus = "closed"
)

type ExitReason string

const (
	ExitStopLoss   ExitReason = "sl"
	ExitTakeProfit ExitReason = "tp"
	ExitFlip       ExitReason = "flip"
	ExitTimeout    ExitReason = "timeout"
	ExitEnd        ExitReason = "end"
	ExitSignal     ExitReason = "signal_exit"
)

// Trade is a simulated or sandbox position.
type Trade struct {
	ID         string      `json:"id" db:"id"`
	Symbol     string      `json:"symbol" db:"symbol"`
	Timeframe  Timeframe   `json:"timeframe,omitempty" db:"timeframe"`
	Side       Side        `json:"side" db:"side"`
	Quantity   float64     `json:"quantity" db:"quantity"`
	EntryPrice float64     `json:"entry_price" db:"entry_price"`
	EntryTime  time.Time   `json:"entry_time" db:"entry_time"`
	StopLoss   float64     `json:"stop_loss" db:"stop_loss"`
	TakeProfit float64     `json:"take_profit" db:"take_profit"`
	MaxBars    int         `json:"max_bars,omitempty" db:"max_bars"`
	BarsHeld   int         `json:"bars_held,omitempty" db:"bars_held"`
	Status     TradeStatus `json:"status" db:"status"`
	ExitPrice  *float64    `json:"exit_price,omitempty" db:"exit_price"`
	ExitTime   *time.Time  `json:"exit_time,omitempty" db:"exit_time"`
	ExitReason *ExitReason `json:"exit_reason,omitempty" db:"exit_reason"`
	PnLPercent float64     `json:"pnl_pct" db:"pnl_pct"`
	Network    string      `json:"network,omitempty" db:"network"`
	Origin     string      `json:"origin,omitempty" db:"origin"`
}

// IsOpen reports whether the trade still holds a position.
func (t *Trade) IsOpen() bool { return t.Status == TradeOpen }

// Close is the single transition to the closed state. Closing twice is a no-op.
func (t *Trade) Close(price float64, at time.Time, reason ExitReason) bool {
	if t.Status == TradeClosed {
		return false
	}
	t.Status = TradeClosed
	t.ExitPrice = &price
	t.ExitTime = &at
	t.ExitReason = &reason
	t.PnLPercent = PnLPercent(t.Side, t.EntryPrice, price)
	return true
}

// PnLPercent is the signed return in percent for a side.
func PnLPercent(side Side, entry, exit float64) float64 {
	if entry == 0 || exit == 0 {
		return 0
	}
	if side == SideBuy {
		return (exit/entry - 1) * 100
	}
	return (entry/exit - 1) * 100
}

// TradeFilter narrows trade listings.
type TradeFilter struct {
	Symbol  string
	Network string
	Status  TradeStatus
	Limit   int
}
