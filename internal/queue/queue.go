// Package queue manages manifests dropped into a watched directory. Files
// are processed strictly one at a time, in arrival order, and completed
// inputs are optionally cleaned up.
package queue

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Status of a job in the queue.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Job is one manifest waiting for, undergoing, or done with processing.
type Job struct {
	CSVPath     string
	YAMLPath    string // sidecar config, empty when none exists
	Status      Status
	StartedAt   time.Time
	CompletedAt time.Time
	Err         string

	Processed int
	Skipped   int
	Failed    int
	CostUSD   float64
}

// Stats summarizes the queue by status.
type Stats struct {
	Total      int
	Queued     int
	Processing int
	Completed  int
	Failed     int
}

// Queue holds jobs in arrival order. Safe for concurrent use.
type Queue struct {
	mu   sync.Mutex
	jobs []*Job
	seen map[string]bool
}

// New creates an empty queue.
func New() *Queue {
	return &Queue{seen: make(map[string]bool)}
}

// Add enqueues a manifest unless it is already known. The sidecar YAML next
// to the CSV, if present, is attached to the job.
func (q *Queue) Add(csvPath string) *Job {
	abs, err := filepath.Abs(csvPath)
	if err != nil {
		abs = csvPath
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.seen[abs] {
		return nil
	}
	q.seen[abs] = true

	job := &Job{CSVPath: abs, Status: StatusQueued}
	yamlPath := strings.TrimSuffix(abs, filepath.Ext(abs)) + ".yaml"
	if _, err := os.Stat(yamlPath); err == nil {
		job.YAMLPath = yamlPath
	}
	q.jobs = append(q.jobs, job)

	zap.L().Info("queue: job added",
		zap.String("csv", abs),
		zap.Bool("has_config", job.YAMLPath != ""))
	return job
}

// Next returns the oldest queued job, or nil when nothing is waiting.
func (q *Queue) Next() *Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, job := range q.jobs {
		if job.Status == StatusQueued {
			return job
		}
	}
	return nil
}

// MarkProcessing transitions a job to processing.
func (q *Queue) MarkProcessing(job *Job) {
	q.mu.Lock()
	defer q.mu.Unlock()
	job.Status = StatusProcessing
	job.StartedAt = time.Now()
}

// MarkCompleted records a successful run's counters on the job.
func (q *Queue) MarkCompleted(job *Job, processed, skipped, failed int, costUSD float64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	job.Status = StatusCompleted
	job.CompletedAt = time.Now()
	job.Processed = processed
	job.Skipped = skipped
	job.Failed = failed
	job.CostUSD = costUSD
}

// MarkFailed records a failure on the job.
func (q *Queue) MarkFailed(job *Job, errMsg string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	job.Status = StatusFailed
	job.CompletedAt = time.Now()
	job.Err = errMsg
}

// Stats returns queue counts by status.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	s := Stats{Total: len(q.jobs)}
	for _, job := range q.jobs {
		switch job.Status {
		case StatusQueued:
			s.Queued++
		case StatusProcessing:
			s.Processing++
		case StatusCompleted:
			s.Completed++
		case StatusFailed:
			s.Failed++
		}
	}
	return s
}

// Jobs returns a copy of all jobs in arrival order.
func (q *Queue) Jobs() []Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Job, len(q.jobs))
	for i, job := range q.jobs {
		out[i] = *job
	}
	return out
}

// CleanupCompleted deletes the input CSV and sidecar YAML of every completed
// job from the watched directory. Returns the number of files removed.
func (q *Queue) CleanupCompleted() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	removed := 0
	for _, job := range q.jobs {
		if job.Status != StatusCompleted {
			continue
		}
		for _, path := range []string{job.CSVPath, job.YAMLPath} {
			if path == "" {
				continue
			}
			if err := os.Remove(path); err == nil {
				removed++
			} else if !os.IsNotExist(err) {
				zap.L().Warn("queue: cleanup failed",
					zap.String("path", path), zap.Error(err))
			}
		}
	}
	return removed
}
