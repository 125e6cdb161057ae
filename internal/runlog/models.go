package runlog

import (
	"time"

	"github.com/google/uuid"
)

// Status of one window attempt.
type Status string

const (
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusEmpty     Status = "empty" // no feature survived, nothing persisted
	StatusFailed    Status = "failed"
)

// TableName is the ledger table inside the ingest schema.
const TableName = "ingest_window_runs"

// WindowRun is one attempt at ingesting a year window of a layer.
type WindowRun struct {
	ID        uuid.UUID `json:"id" gorm:"type:uuid;primaryKey"`
	RunID     uuid.UUID `json:"run_id" gorm:"type:uuid;index"`
	Workspace string    `json:"workspace" gorm:"index:idx_window_runs_layer"`
	Layer     string    `json:"layer" gorm:"index:idx_window_runs_layer"`
	Source    string    `json:"source"`
	YearStart int       `json:"year_start"`
	YearEnd   int       `json:"year_end"`
	Status    Status    `json:"status" gorm:"type:text;index"`
	Stage     string    `json:"stage"` // stage that failed: fetch or persist

	Fetched  int   `json:"fetched"`
	Rejected int   `json:"rejected"`
	Written  int64 `json:"written"`
	DryRun   bool  `json:"dry_run"`

	Error      string     `json:"error"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at"`
}

// Window identifies the slice of a layer an attempt covers.
type Window struct {
	Workspace string
	Layer     string
	Source    string
	YearStart int
	YearEnd   int
	DryRun    bool
}

// Counts are the per-window totals written when an attempt ends.
type Counts struct {
	Fetched  int
	Rejected int
	Written  int64
}
