package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/alttext-cli/internal/model"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestCreateAndLoadRun(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	created, err := s.CreateRun(ctx, "/data/site.csv", 120)
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, model.RunStatusQueued, created.Status)

	loaded, err := s.LoadRun(ctx, "/data/site.csv")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, created.ID, loaded.ID)
	assert.Equal(t, 120, loaded.TotalRows)
	assert.Zero(t, loaded.CumulativeCost)
}

func TestLoadRun_Missing(t *testing.T) {
	s := newTestStore(t)
	loaded, err := s.LoadRun(context.Background(), "/data/nope.csv")
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestCreateRun_DuplicateManifest(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.CreateRun(ctx, "/data/site.csv", 10)
	require.NoError(t, err)
	_, err = s.CreateRun(ctx, "/data/site.csv", 10)
	assert.Error(t, err)
}

func sampleRecords() []model.ImageRecord {
	return []model.ImageRecord{
		{
			Row:          0,
			SourcePage:   "https://a.com/p1",
			ImageURL:     "https://a.com/img/one.jpg",
			CanonicalKey: "https://a.com/img/one.jpg",
			Context:      model.PageContext{Title: "Page One", H1: "One"},
			Status:       model.StatusPending,
		},
		{
			Row:           1,
			SourcePage:    "https://a.com/p2",
			ImageURL:      "https://a.com/img/two.jpg",
			CanonicalKey:  "https://a.com/img/two.jpg",
			DeclaredBytes: 2048,
			DeclaredW:     640,
			DeclaredH:     480,
			Status:        model.StatusPending,
		},
	}
}

func TestUpsertAndListRecords(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	run, err := s.CreateRun(ctx, "/data/site.csv", 2)
	require.NoError(t, err)

	require.NoError(t, s.UpsertRecords(ctx, run.ID, sampleRecords()))

	records, err := s.ListRecords(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "Page One", records[0].Context.Title)
	assert.Equal(t, int64(2048), records[1].DeclaredBytes)
	assert.Equal(t, model.StatusPending, records[0].Status)

	// Upsert replaces in place.
	updated := sampleRecords()
	updated[0].Status = model.StatusDone
	updated[0].AltText = "A product photo"
	require.NoError(t, s.UpsertRecords(ctx, run.ID, updated[:1]))

	records, err = s.ListRecords(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, model.StatusDone, records[0].Status)
	assert.Equal(t, "A product photo", records[0].AltText)
}

func TestApplyCheckpoint(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	run, err := s.CreateRun(ctx, "/data/site.csv", 2)
	require.NoError(t, err)
	require.NoError(t, s.UpsertRecords(ctx, run.ID, sampleRecords()))

	done := sampleRecords()
	done[0].Status = model.StatusDone
	done[0].AltText = "Alt one"
	done[1].Status = model.StatusFailed
	done[1].Message = "Download error: timeout"

	cp := Checkpoint{
		BatchID:   "batch-1",
		Records:   done,
		CostDelta: 0.0123,
		Completed: 1,
		Failed:    1,
	}
	require.NoError(t, s.ApplyCheckpoint(ctx, run.ID, cp))

	loaded, err := s.LoadRun(ctx, "/data/site.csv")
	require.NoError(t, err)
	assert.Equal(t, 1, loaded.RowsCompleted)
	assert.Equal(t, 1, loaded.RowsFailed)
	assert.InDelta(t, 0.0123, loaded.CumulativeCost, 1e-9)
	assert.Equal(t, "batch-1", loaded.LastCompletedBatch)
	assert.Equal(t, model.RunStatusProcessing, loaded.Status)
	assert.True(t, loaded.Terminal())

	// A checkpoint without a batch ID keeps the previous one.
	require.NoError(t, s.ApplyCheckpoint(ctx, run.ID, Checkpoint{Skipped: 0}))
	loaded, err = s.LoadRun(ctx, "/data/site.csv")
	require.NoError(t, err)
	assert.Equal(t, "batch-1", loaded.LastCompletedBatch)
}

func TestResetRun(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	run, err := s.CreateRun(ctx, "/data/site.csv", 2)
	require.NoError(t, err)
	require.NoError(t, s.UpsertRecords(ctx, run.ID, sampleRecords()))
	require.NoError(t, s.ApplyCheckpoint(ctx, run.ID, Checkpoint{
		BatchID: "b1", CostDelta: 1.5, Completed: 2,
	}))

	require.NoError(t, s.ResetRun(ctx, run.ID, 3))

	loaded, err := s.LoadRun(ctx, "/data/site.csv")
	require.NoError(t, err)
	assert.Equal(t, 3, loaded.TotalRows)
	assert.Zero(t, loaded.RowsCompleted)
	assert.Zero(t, loaded.CumulativeCost)
	assert.Empty(t, loaded.LastCompletedBatch)
	assert.Equal(t, model.RunStatusQueued, loaded.Status)

	records, err := s.ListRecords(ctx, run.ID)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestFinishRun(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	run, err := s.CreateRun(ctx, "/data/site.csv", 1)
	require.NoError(t, err)

	require.NoError(t, s.FinishRun(ctx, run.ID, model.RunStatusHalted, model.HaltCostExceeded))

	loaded, err := s.LoadRun(ctx, "/data/site.csv")
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusHalted, loaded.Status)
	assert.Equal(t, model.HaltCostExceeded, loaded.HaltReason)
}

func TestFinishRun_NotFound(t *testing.T) {
	s := newTestStore(t)
	err := s.FinishRun(context.Background(), "no-such-run", model.RunStatusComplete, "")
	assert.Error(t, err)
}

func TestListRuns(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.CreateRun(ctx, "/data/a.csv", 1)
	require.NoError(t, err)
	_, err = s.CreateRun(ctx, "/data/b.csv", 2)
	require.NoError(t, err)

	runs, err := s.ListRuns(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, runs, 2)

	runs, err = s.ListRuns(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}
