package model

import "time"

// RunStatus is the lifecycle state of a manifest run.
type RunStatus string

const (
	RunStatusQueued     RunStatus = "queued"
	RunStatusProcessing RunStatus = "processing"
	RunStatusComplete   RunStatus = "complete"
	RunStatusHalted     RunStatus = "halted"
	RunStatusFailed     RunStatus = "failed"
)

// Halt reasons recorded on RunState when a run stops early.
const (
	HaltCostExceeded = "cost_ceiling_exceeded"
	HaltBlocked      = "source_blocked_403"
	HaltStopped      = "stop_requested"
)

// RunState is the persisted progress of one manifest, checkpointed after
// every batch. It is exclusively owned by the active run.
type RunState struct {
	ID                 string    `json:"id"`
	ManifestPath       string    `json:"manifest_path"`
	TotalRows          int       `json:"total_rows"`
	RowsCompleted      int       `json:"rows_completed"`
	RowsSkipped        int       `json:"rows_skipped"`
	RowsFailed         int       `json:"rows_failed"`
	CumulativeCost     float64   `json:"cumulative_cost"`
	LastCompletedBatch string    `json:"last_completed_batch,omitempty"`
	Status             RunStatus `json:"status"`
	HaltReason         string    `json:"halt_reason,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// Terminal reports whether every row has reached a final status.
func (r *RunState) Terminal() bool {
	return r.RowsCompleted+r.RowsSkipped+r.RowsFailed >= r.TotalRows
}
