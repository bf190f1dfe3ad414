package domain

import (
	"time"

	"github.com/google/uuid"
)

// FileReport summarises the ingestion of one trip CSV.
type FileReport struct {
	File      string `json:"file"`
	Chunks    int    `json:"chunks"`
	Rows      int64  `json:"rows"`       // rows read, including degraded ones
	Merged    int64  `json:"merged"`     // rows affected by the upsert
	Malformed int64  `json:"malformed"`  // records the CSV parser rejected
	NullTimes int64  `json:"null_times"` // rows with at least one null timestamp
}

// SnapshotReport is the outcome of one feed of a snapshot load.
type SnapshotReport struct {
	Feed     string    `json:"feed"`
	Path     string    `json:"path"`
	TS       time.Time `json:"ts,omitzero"`
	Appended bool      `json:"appended"`
	Skipped  string    `json:"skipped,omitempty"` // reason when not appended
}

// RunReport is the full outcome of one pipeline run.
type RunReport struct {
	RunID      uuid.UUID        `json:"run_id"`
	StartedAt  time.Time        `json:"started_at"`
	FinishedAt time.Time        `json:"finished_at"`
	Migrations int              `json:"migrations"`
	Files      []FileReport     `json:"files"`
	Snapshot   string           `json:"snapshot,omitempty"`
	Snapshots  []SnapshotReport `json:"snapshots"`
	Weather    int64            `json:"weather_rows"`
	Err        string           `json:"error,omitempty"`
}

// RowsMerged totals the merged rows across all files.
func (r RunReport) RowsMerged() int64 {
	var n int64
	for _, f := range r.Files {
		n += f.Merged
	}
	return n
}
