// Package store persists run state and per-row outcomes so an interrupted
// run resumes from its last completed batch instead of starting over.
package store

import (
	"context"

	"github.com/sells-group/alttext-cli/internal/model"
)

// Checkpoint is the atomic unit of durable progress: the outcome of one
// completed batch plus the counters it moves. Either all of it lands or
// none of it does.
type Checkpoint struct {
	BatchID   string
	Records   []model.ImageRecord
	CostDelta float64
	Completed int
	Skipped   int
	Failed    int
}

// Store persists run state keyed by manifest path.
type Store interface {
	Migrate(ctx context.Context) error
	Close() error

	// CreateRun registers a new run for a manifest. Fails if a run for the
	// same manifest path already exists.
	CreateRun(ctx context.Context, manifestPath string, totalRows int) (*model.RunState, error)

	// LoadRun returns the run for a manifest path, or nil when none exists.
	LoadRun(ctx context.Context, manifestPath string) (*model.RunState, error)

	// ResetRun wipes a run's records and counters for restart mode.
	ResetRun(ctx context.Context, runID string, totalRows int) error

	// UpsertRecords writes the current state of rows, keyed by (run, row).
	UpsertRecords(ctx context.Context, runID string, records []model.ImageRecord) error

	// ListRecords returns every persisted row of a run in row order.
	ListRecords(ctx context.Context, runID string) ([]model.ImageRecord, error)

	// ApplyCheckpoint durably records one batch outcome: row states, the
	// cost delta, and the progress counters, in a single transaction.
	ApplyCheckpoint(ctx context.Context, runID string, cp Checkpoint) error

	// FinishRun stamps the run's terminal status and optional halt reason.
	FinishRun(ctx context.Context, runID string, status model.RunStatus, haltReason string) error

	// ListRuns returns recent runs, newest first.
	ListRuns(ctx context.Context, limit int) ([]model.RunState, error)
}
