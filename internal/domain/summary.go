package domain

import "time"

// BatchStatus describes how a single source batch ended.
type BatchStatus string

const (
	BatchOK           BatchStatus = "ok"
	BatchPartial      BatchStatus = "partial"
	BatchFetchFailed  BatchStatus = "fetch_failed"
	BatchConfigError  BatchStatus = "config_error"
	BatchStorageError BatchStatus = "storage_error"
	BatchDisabled     BatchStatus = "disabled"
)

// CandidateError records why a single candidate was not committed.
type CandidateError struct {
	Index   int       `json:"index"`
	URL     string    `json:"url,omitempty"`
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

// BatchSummary reports the outcome of one batch for one source.
type BatchSummary struct {
	RunID         string           `json:"run_id,omitempty"`
	SourceID      int64            `json:"source_id"`
	SourceName    string           `json:"source_name"`
	Status        BatchStatus      `json:"status"`
	Error         string           `json:"error,omitempty"`
	Fetched       int              `json:"fetched"`
	Processed     int              `json:"processed"`
	Inserted      int              `json:"inserted"`
	Deduped       int              `json:"deduped"`
	Skipped       int              `json:"skipped"`
	Updated       int              `json:"updated"`
	Errored       int              `json:"errored"`
	Errors        []CandidateError `json:"errors,omitempty"`
	Cursor        string           `json:"cursor"`
	StoppedReason string           `json:"stopped_reason,omitempty"`
	StartedAt     time.Time        `json:"started_at"`
	Duration      time.Duration    `json:"duration_ns"`
}

// Totals aggregates counters across sources.
type Totals struct {
	Sources   int `json:"sources"`
	Processed int `json:"processed"`
	Inserted  int `json:"inserted"`
	Deduped   int `json:"deduped"`
	Skipped   int `json:"skipped"`
	Updated   int `json:"updated"`
	Errored   int `json:"errored"`
	Failed    int `json:"failed_sources"`
}

// RunSummary reports one invocation across all enabled sources.
type RunSummary struct {
	RunID      string         `json:"run_id"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	Sources    []BatchSummary `json:"sources"`
	Totals     Totals         `json:"totals"`
}

// Add folds a batch into the run totals.
func (t *Totals) Add(b BatchSummary) {
	t.Sources++
	t.Processed += b.Processed
	t.Inserted += b.Inserted
	t.Deduped += b.Deduped
	t.Skipped += b.Skipped
	t.Updated += b.Updated
	t.Errored += b.Errored
	switch b.Status {
	case BatchFetchFailed, BatchConfigError, BatchStorageError:
		t.Failed++
	}
}
