// Package progress tracks per-run counters for periodic logging and the
// end-of-run summary.
package progress

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Snapshot is a point-in-time view of run progress.
type Snapshot struct {
	TotalRows    int
	Processed    int
	Skipped      int
	Failed       int
	CostUSD      float64
	CurrentBatch string // batch ID in flight, empty between batches
	Elapsed      time.Duration
}

// Remaining returns the number of rows not yet in a terminal state.
func (s Snapshot) Remaining() int {
	n := s.TotalRows - s.Processed - s.Skipped - s.Failed
	if n < 0 {
		return 0
	}
	return n
}

// Tracker accumulates run counters. Safe for concurrent use.
type Tracker struct {
	mu           sync.Mutex
	totalRows    int
	processed    int
	skipped      int
	failed       int
	costUSD      float64
	currentBatch string
	started      time.Time
}

// NewTracker starts tracking a run of totalRows rows. Prior counts seed the
// tracker when resuming.
func NewTracker(totalRows, priorProcessed, priorSkipped, priorFailed int, priorCost float64) *Tracker {
	return &Tracker{
		totalRows: totalRows,
		processed: priorProcessed,
		skipped:   priorSkipped,
		failed:    priorFailed,
		costUSD:   priorCost,
		started:   time.Now(),
	}
}

// Record adds one batch's outcome to the counters.
func (t *Tracker) Record(processed, skipped, failed int, costDelta float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.processed += processed
	t.skipped += skipped
	t.failed += failed
	t.costUSD += costDelta
}

// StartBatch records the batch now in flight.
func (t *Tracker) StartBatch(batchID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.currentBatch = batchID
}

// FinishBatch clears the in-flight batch.
func (t *Tracker) FinishBatch() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.currentBatch = ""
}

// Snapshot returns the current counters.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Snapshot{
		TotalRows:    t.totalRows,
		Processed:    t.processed,
		Skipped:      t.skipped,
		Failed:       t.failed,
		CostUSD:      t.costUSD,
		CurrentBatch: t.currentBatch,
		Elapsed:      time.Since(t.started),
	}
}

// LogBatch logs progress after a completed batch.
func (t *Tracker) LogBatch(batchID string) {
	s := t.Snapshot()
	zap.L().Info("progress: batch complete",
		zap.String("batch_id", batchID),
		zap.Int("processed", s.Processed),
		zap.Int("skipped", s.Skipped),
		zap.Int("failed", s.Failed),
		zap.Int("remaining", s.Remaining()),
		zap.Float64("cost_usd", s.CostUSD),
	)
}

// LogSummary logs the end-of-run summary.
func (t *Tracker) LogSummary() {
	s := t.Snapshot()
	zap.L().Info("progress: run summary",
		zap.Int("total_rows", s.TotalRows),
		zap.Int("processed", s.Processed),
		zap.Int("skipped", s.Skipped),
		zap.Int("failed", s.Failed),
		zap.Float64("cost_usd", s.CostUSD),
		zap.String("elapsed", FormatDuration(s.Elapsed)),
	)
}

// FormatDuration renders a duration as 1h02m03s / 4m05s / 6s.
func FormatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	switch {
	case h > 0:
		return fmt.Sprintf("%dh%02dm%02ds", h, m, s)
	case m > 0:
		return fmt.Sprintf("%dm%02ds", m, s)
	default:
		return fmt.Sprintf("%ds", s)
	}
}
