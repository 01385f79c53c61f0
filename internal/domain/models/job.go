package models

import "time"

type JobStatus string

const (
	JobQueued   JobStatus = "queued"
	JobRunning  JobStatus = "running"
	JobFinished JobStatus = "finished"
	JobError    JobStatus = "error"
)

// Terminal reports whether no further transitions are allowed.
func (s JobStatus) Terminal() bool { return s == JobFinished || s == JobError }

type JobMode string

const (
	JobModeIncremental JobMode = "incremental"
	JobModeFull        JobMode = "full"
)

// Pipeline phases, also used as log phase names.
const (
	PhaseSync     = "sync"
	PhaseTrain    = "train"
	PhaseOptimize = "optimize"
	PhaseBacktest = "backtest"
	PhaseFinalize = "finalize"
)

type TrainingJob struct {
	ID         string      `json:"id" db:"id"`
	Symbol     string      `json:"symbol" db:"symbol"`
	Timeframes []Timeframe `json:"timeframes"`
	Mode       JobMode     `json:"mode" db:"mode"`
	Optimize   bool        `json:"optimize" db:"optimize"`
	Status     JobStatus   `json:"status" db:"status"`
	Progress   float64     `json:"progress" db:"progress"`
	Message    string      `json:"message" db:"message"`
	CreatedAt  time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time   `json:"updated_at" db:"updated_at"`
}

// JobSpec is the queued pipeline payload.
type JobSpec struct {
	JobID      string      `json:"job_id"`
	Symbol     string      `json:"symbol"`
	Timeframes []Timeframe `json:"timeframes"`
	Mode       JobMode     `json:"mode"`
	Optimize   bool        `json:"optimize"`
}

type LogLevel string

const (
	LevelDebug LogLevel = "DEBUG"
	LevelInfo  LogLevel = "INFO"
	LevelWarn  LogLevel = "WARN"
	LevelError LogLevel = "ERROR"
)

// JobLog is an append-only structured job event.
type JobLog struct {
	JobID   string         `json:"job_id" db:"job_id"`
	TS      time.Time      `json:"ts" db:"ts"`
	Level   LogLevel       `json:"level" db:"level"`
	Phase   string         `json:"phase" db:"phase"`
	Message string         `json:"message" db:"message"`
	Data    map[string]any `json:"data,omitempty"`
}

// JobStatusRecord is the fast status side channel.
type JobStatusRecord struct {
	TS       time.Time `json:"ts"`
	Status   JobStatus `json:"status"`
	Progress float64   `json:"progress"`
	Message  string    `json:"message"`
}
