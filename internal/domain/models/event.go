package models

import "time"

// Event types published to the event bus.
const (
	EventTradeOpened  = "trade.opened"
	EventTradeClosed  = "trade.closed"
	EventJobStatus    = "job.status"
	EventCandleClosed = "candle.closed"
	EventBotState     = "bot.state"
)

// Event is the envelope for everything published outward.
type Event struct {
	ID      string    `json:"id"`
	Type    string    `json:"type"`
	Symbol  string    `json:"symbol,omitempty"`
	TS      time.Time `json:"ts"`
	Payload any       `json:"payload"`
}
