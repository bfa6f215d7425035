package queue

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
}

func TestAdd_DiscoverSidecar(t *testing.T) {
	dir := t.TempDir()
	csvPath := filepath.Join(dir, "site.csv")
	writeFile(t, csvPath)
	writeFile(t, filepath.Join(dir, "site.yaml"))

	q := New()
	job := q.Add(csvPath)
	require.NotNil(t, job)
	assert.Equal(t, StatusQueued, job.Status)
	assert.Equal(t, filepath.Join(dir, "site.yaml"), job.YAMLPath)
}

func TestAdd_NoSidecar(t *testing.T) {
	dir := t.TempDir()
	csvPath := filepath.Join(dir, "bare.csv")
	writeFile(t, csvPath)

	q := New()
	job := q.Add(csvPath)
	require.NotNil(t, job)
	assert.Empty(t, job.YAMLPath)
}

func TestAdd_DuplicateIgnored(t *testing.T) {
	dir := t.TempDir()
	csvPath := filepath.Join(dir, "site.csv")
	writeFile(t, csvPath)

	q := New()
	require.NotNil(t, q.Add(csvPath))
	assert.Nil(t, q.Add(csvPath))
	assert.Equal(t, 1, q.Stats().Total)
}

func TestNext_OrderAndLifecycle(t *testing.T) {
	dir := t.TempDir()
	first := filepath.Join(dir, "a.csv")
	second := filepath.Join(dir, "b.csv")
	writeFile(t, first)
	writeFile(t, second)

	q := New()
	q.Add(first)
	q.Add(second)

	job := q.Next()
	require.NotNil(t, job)
	assert.Equal(t, first, job.CSVPath)

	q.MarkProcessing(job)
	assert.False(t, job.StartedAt.IsZero())

	// Next skips the in-flight job.
	next := q.Next()
	require.NotNil(t, next)
	assert.Equal(t, second, next.CSVPath)

	q.MarkCompleted(job, 10, 2, 1, 0.35)
	assert.Equal(t, StatusCompleted, job.Status)
	assert.Equal(t, 10, job.Processed)
	assert.InDelta(t, 0.35, job.CostUSD, 1e-9)

	q.MarkFailed(next, "manifest: csv is empty")
	assert.Equal(t, StatusFailed, next.Status)
	assert.Equal(t, "manifest: csv is empty", next.Err)

	assert.Nil(t, q.Next())

	stats := q.Stats()
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 1, stats.Completed)
	assert.Equal(t, 1, stats.Failed)
	assert.Zero(t, stats.Queued)
}

func TestCleanupCompleted(t *testing.T) {
	dir := t.TempDir()
	csvPath := filepath.Join(dir, "done.csv")
	yamlPath := filepath.Join(dir, "done.yaml")
	keepPath := filepath.Join(dir, "pending.csv")
	writeFile(t, csvPath)
	writeFile(t, yamlPath)
	writeFile(t, keepPath)

	q := New()
	done := q.Add(csvPath)
	q.Add(keepPath)
	q.MarkProcessing(done)
	q.MarkCompleted(done, 1, 0, 0, 0.01)

	removed := q.CleanupCompleted()
	assert.Equal(t, 2, removed)
	assert.NoFileExists(t, csvPath)
	assert.NoFileExists(t, yamlPath)
	assert.FileExists(t, keepPath)

	// Idempotent: already-removed files are not errors.
	assert.Zero(t, q.CleanupCompleted())
}

func TestWatcher_ScanExisting(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "one.csv"))
	writeFile(t, filepath.Join(dir, "two.csv"))
	writeFile(t, filepath.Join(dir, "notes.txt"))

	q := New()
	w, err := NewWatcher(dir, q)
	require.NoError(t, err)
	defer w.watcher.Close()

	require.NoError(t, w.ScanExisting())
	assert.Equal(t, 2, q.Stats().Total)
}

func TestJobs_ReturnsCopy(t *testing.T) {
	dir := t.TempDir()
	csvPath := filepath.Join(dir, "site.csv")
	writeFile(t, csvPath)

	q := New()
	q.Add(csvPath)

	jobs := q.Jobs()
	require.Len(t, jobs, 1)
	jobs[0].Status = StatusFailed
	assert.Equal(t, StatusQueued, q.Jobs()[0].Status)
}
