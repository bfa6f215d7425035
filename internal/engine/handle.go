package engine

import (
	"context"

	"github.com/sells-group/alttext-cli/internal/config"
	"github.com/sells-group/alttext-cli/internal/progress"
)

// Handle is a running manifest job. Status may be polled while the run is in
// flight; Wait blocks until it finishes.
type Handle struct {
	engine  *Engine
	done    chan struct{}
	summary *Summary
	err     error
}

// Start runs a manifest in the background and returns a handle to it. The
// Engine processes one manifest at a time; callers must Wait before starting
// the next.
func (e *Engine) Start(ctx context.Context, manifestPath string, job config.JobConfig) *Handle {
	h := &Handle{engine: e, done: make(chan struct{})}
	go func() {
		defer close(h.done)
		h.summary, h.err = e.Run(ctx, manifestPath, job)
	}()
	return h
}

// Status returns the run's live counters. Zero before the run has loaded its
// manifest.
func (h *Handle) Status() progress.Snapshot {
	h.engine.mu.Lock()
	t := h.engine.tracker
	h.engine.mu.Unlock()
	if t == nil {
		return progress.Snapshot{}
	}
	return t.Snapshot()
}

// Stop asks the run to halt at the next batch boundary.
func (h *Handle) Stop() {
	h.engine.RequestStop()
}

// Done is closed when the run finishes.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Wait blocks until the run finishes and returns its outcome.
func (h *Handle) Wait() (*Summary, error) {
	<-h.done
	return h.summary, h.err
}
