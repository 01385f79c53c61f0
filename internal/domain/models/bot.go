package models

import "time"

type BotState string

const (
	BotRunning BotState = "running"
	BotStopped BotState = "stopped"
)

// BotStatus is the persisted view of a bot.
type BotStatus struct {
	Symbol      string         `json:"symbol" db:"symbol"`
	Status      BotState       `json:"status" db:"status"`
	IntervalSec int            `json:"interval_sec" db:"interval_sec"`
	Timeframes  []Timeframe    `json:"timeframes"`
	Stats       map[string]any `json:"stats"`
	Running     bool           `json:"running"`
	UpdatedAt   time.Time      `json:"updated_at" db:"updated_at"`
}
