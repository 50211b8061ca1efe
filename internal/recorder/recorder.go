package recorder

import "time"

// Run statuses persisted in the history database.
const (
	StatusRunning = "RUNNING"
	StatusSuccess = "SUCCESS"
	StatusFailed  = "FAILED"
)

// RunRecord is one pipeline run in the history database.
type RunRecord struct {
	RunID         string    `json:"run_id"`
	StartedAt     time.Time `json:"started_at"`
	FinishedAt    time.Time `json:"finished_at,omitempty"`
	Status        string    `json:"status"`
	QualityResult string    `json:"quality_result,omitempty"`
	FailedStage   string    `json:"failed_stage,omitempty"`
	Error         string    `json:"error,omitempty"`
}

// AttemptRecord is one stage attempt. Attempts are append-only; retries of
// the same stage produce separate records.
type AttemptRecord struct {
	RunID   string    `json:"run_id"`
	Stage   string    `json:"stage"`
	Attempt int       `json:"attempt"`
	Status  string    `json:"status"`
	Error   string    `json:"error,omitempty"`
	At      time.Time `json:"at"`
}

// Recorder persists run and attempt history. The health gate and the ops API
// read from it; the pipeline writes to it.
type Recorder interface {
	StartRun(runID string, at time.Time) error
	FinishRun(rec RunRecord) error
	RecordAttempt(a AttemptRecord) error

	// RecentRuns returns runs that finished (or started, when still running)
	// at or after since, newest first.
	RecentRuns(since time.Time) ([]RunRecord, error)
	// ListRuns returns the newest runs up to limit.
	ListRuns(limit int) ([]RunRecord, error)
	// Attempts returns the attempt history of one run in insertion order.
	Attempts(runID string) ([]AttemptRecord, error)

	Close() error
}

// Noop discards everything, for tests and isolated stage invocations.
type Noop struct{}

func (Noop) StartRun(string, time.Time) error              { return nil }
func (Noop) FinishRun(RunRecord) error                     { return nil }
func (Noop) RecordAttempt(AttemptRecord) error             { return nil }
func (Noop) RecentRuns(time.Time) ([]RunRecord, error)     { return nil, nil }
func (Noop) ListRuns(int) ([]RunRecord, error)             { return nil, nil }
func (Noop) Attempts(string) ([]AttemptRecord, error)      { return nil, nil }
func (Noop) Close() error                                  { return nil }
