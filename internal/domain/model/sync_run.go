package model

import "time"

// RunStatus is the state of one sync run.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
	RunCancelled RunStatus = "cancelled"
)

func (s RunStatus) Terminal() bool { return s != RunRunning }

// RunCounts are the per-run ingestion counters.
type RunCounts struct {
	Fetched   int `json:"fetched"`
	Created   int `json:"created"`
	Updated   int `json:"updated"`
	Duplicate int `json:"duplicate"`
	Errored   int `json:"errored"`
	Filtered  int `json:"filtered"`
}

func (c *RunCounts) Add(o RunCounts) {
	c.Fetched += o.Fetched
	c.Created += o.Created
	c.Updated += o.Updated
	c.Duplicate += o.Duplicate
	c.Errored += o.Errored
	c.Filtered += o.Filtered
}

// MaxDiagnostics bounds the per-item messages kept on a run or import.
const MaxDiagnostics = 100

// SyncRun is the in-memory record of one orchestration.
type SyncRun struct {
	ID          string     `json:"id"`
	Account     string     `json:"account"`
	StartedAt   time.Time  `json:"startedAt"`
	FinishedAt  *time.Time `json:"finishedAt,omitempty"`
	Since       *time.Time `json:"since,omitempty"`
	Pairs       []string   `json:"pairs,omitempty"`
	Status      RunStatus  `json:"status"`
	Counts      RunCounts  `json:"counts"`
	Pages       int        `json:"pages"`
	Error       string     `json:"error,omitempty"`
	Diagnostics []string   `json:"diagnostics,omitempty"`
}

// Note appends a diagnostic, dropping it once the bound is reached.
func (r *SyncRun) Note(msg string) {
	if len(r.Diagnostics) < MaxDiagnostics {
		r.Diagnostics = append(r.Diagnostics, msg)
	}
}

func (r SyncRun) Clone() SyncRun {
	c := r
	c.Pairs = append([]string(nil), r.Pairs...)
	c.Diagnostics = append([]string(nil), r.Diagnostics...)
	return c
}

// Checkpoint is the per-account resume point for sync.
type Checkpoint struct {
	Account   string    `json:"account"`
	HighWater time.Time `json:"highWater"`
	Cursor    string    `json:"cursor,omitempty"`
	CursorAt  time.Time `json:"cursorSince"` // since used by the run that left Cursor
	UpdatedAt time.Time `json:"updatedAt"`
}
