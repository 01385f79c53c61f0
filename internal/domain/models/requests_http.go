package models

// Requests for the HTTP API. Defined in domain for consistency and reuse.

type BacktestRequest struct {
	Symbol    string          `json:"symbol" query:"symbol" validate:"required"`
	Timeframe string          `json:"timeframe" query:"timeframe" default:"1h" validate:"oneof=15m 1h 4h 1d 1w"`
	Limit     int             `json:"limit" query:"limit" default:"500" validate:"gte=10,lte=20000"`
	Params    *BacktestParams `json:"params,omitempty"`
}

type PanelRequest struct {
	Symbol    string `query:"symbol" json:"symbol" validate:"required"`
	Timeframe string `query:"timeframe" json:"timeframe" default:"1h" validate:"oneof=15m 1h 4h 1d 1w"`
	Limit     int    `query:"limit" json:"limit" default:"300" validate:"gte=10,lte=5000"`
}

type OptimizeRequest struct {
	Symbol    string `json:"symbol" validate:"required"`
	Timeframe string `json:"timeframe" default:"1h" validate:"oneof=15m 1h 4h 1d 1w"`
	Limit     int    `json:"limit" default:"3000" validate:"gte=50,lte=20000"`
}

type TunedRequest struct {
	Symbol    string `query:"symbol" validate:"required"`
	Timeframe string `query:"timeframe" default:"1h" validate:"oneof=15m 1h 4h 1d 1w"`
}

type StartBotRequest struct {
	Symbol      string   `json:"symbol" validate:"required"`
	IntervalSec int      `json:"interval_sec" validate:"gte=0,lte=86400"`
	Timeframes  []string `json:"timeframes" validate:"omitempty,dive,oneof=15m 1h 4h 1d 1w"`
}

type StopBotRequest struct {
	Symbol string `json:"symbol" validate:"required"`
}

type SubmitJobRequest struct {
	Symbol     string   `json:"symbol" validate:"required"`
	Timeframes []string `json:"timeframes" validate:"omitempty,dive,oneof=15m 1h 4h 1d 1w"`
	Mode       string   `json:"mode" default:"incremental" validate:"oneof=incremental full"`
	Optimize   *bool    `json:"optimize,omitempty"`
}

type JobLogsRequest struct {
	ID    string `param:"id" validate:"required"`
	Limit int    `query:"limit" default:"200" validate:"gte=1,lte=5000"`
}

type ActiveJobRequest struct {
	Symbol string `query:"symbol" validate:"required"`
}

type SaveProfileRequest struct {
	Name   string            `json:"name" validate:"required,max=64"`
	Params SignalParamsPatch `json:"params"`
}

type ActivateProfileRequest struct {
	Name string `json:"name" validate:"required"`
}

type TradesRequest struct {
	Symbol  string `query:"symbol"`
	Network string `query:"network"`
	Status  string `query:"status" validate:"omitempty,oneof=open closed"`
	Limit   int    `query:"limit" default:"200" validate:"gte=1,lte=5000"`
}

type QuotesRequest struct {
	Symbol    string `query:"symbol" validate:"required"`
	Timeframe string `query:"timeframe" default:"1h" validate:"oneof=15m 1h 4h 1d 1w"`
	Limit     int    `query:"limit" default:"200" validate:"gte=1,lte=3000"`
}

type ExplainRequest struct {
	Symbol    string `query:"symbol" validate:"required"`
	Timeframe string `query:"timeframe" default:"15m" validate:"oneof=15m 1h 4h 1d 1w"`
	// Time is RFC 3339 or unix seconds.
	Time string `query:"time" validate:"required"`
}

type PairsStatusRequest struct {
	Symbols []string `query:"symbol"`
}

type SyncHistoryRequest struct {
	Symbol     string   `json:"symbol"`
	Timeframes []string `json:"timeframes" validate:"omitempty,dive,oneof=15m 1h 4h 1d 1w"`
	Force      bool     `json:"force"`
}

type ActiveJobLogsRequest struct {
	Symbol string `query:"symbol" validate:"required"`
	Limit  int    `query:"limit" default:"200" validate:"gte=1,lte=5000"`
}

// ImportProfilesRequest accepts the exported document either wrapped in data
// or at the top level. Merge and Overwrite default to true.
type ImportProfilesRequest struct {
	Data      *SignalProfilesDocument      `json:"data" validate:"omitempty"`
	Active    string                       `json:"active"`
	Profiles  map[string]SignalParamsPatch `json:"profiles" validate:"omitempty,dive"`
	Merge     *bool                        `json:"merge"`
	Overwrite *bool                        `json:"overwrite"`
}

// Document returns the profile set to import; ok is false when none was sent.
func (r *ImportProfilesRequest) Document() (doc SignalProfilesDocument, ok bool) {
	if r.Data != nil && r.Data.Profiles != nil {
		return *r.Data, true
	}
	if r.Profiles != nil {
		return SignalProfilesDocument{Active: r.Active, Profiles: r.Profiles}, true
	}
	return SignalProfilesDocument{}, false
}
