package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/alttext-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id                   TEXT PRIMARY KEY,
	manifest_path        TEXT NOT NULL UNIQUE,
	total_rows           INTEGER NOT NULL,
	rows_completed       INTEGER NOT NULL DEFAULT 0,
	rows_skipped         INTEGER NOT NULL DEFAULT 0,
	rows_failed          INTEGER NOT NULL DEFAULT 0,
	cumulative_cost      REAL NOT NULL DEFAULT 0,
	last_completed_batch TEXT,
	status               TEXT NOT NULL DEFAULT 'queued',
	halt_reason          TEXT,
	created_at           DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at           DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS records (
	run_id         TEXT NOT NULL REFERENCES runs(id),
	row_idx        INTEGER NOT NULL,
	source_page    TEXT NOT NULL,
	image_url      TEXT NOT NULL,
	canonical_key  TEXT NOT NULL,
	declared_bytes INTEGER NOT NULL DEFAULT 0,
	declared_w     INTEGER NOT NULL DEFAULT 0,
	declared_h     INTEGER NOT NULL DEFAULT 0,
	context        TEXT NOT NULL DEFAULT '{}',
	status         TEXT NOT NULL DEFAULT 'pending',
	alt_text       TEXT,
	message        TEXT,
	PRIMARY KEY (run_id, row_idx)
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_records_status ON records(run_id, status);
CREATE INDEX IF NOT EXISTS idx_records_key ON records(run_id, canonical_key);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateRun(ctx context.Context, manifestPath string, totalRows int) (*model.RunState, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, manifest_path, total_rows, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		id, manifestPath, totalRows, string(model.RunStatusQueued), now, now,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: insert run for %s", manifestPath)
	}

	return &model.RunState{
		ID:           id,
		ManifestPath: manifestPath,
		TotalRows:    totalRows,
		Status:       model.RunStatusQueued,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

func (s *SQLiteStore) LoadRun(ctx context.Context, manifestPath string) (*model.RunState, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, manifest_path, total_rows, rows_completed, rows_skipped, rows_failed,
		        cumulative_cost, last_completed_batch, status, halt_reason, created_at, updated_at
		 FROM runs WHERE manifest_path = ?`,
		manifestPath,
	)
	r, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return r, err
}

func (s *SQLiteStore) ResetRun(ctx context.Context, runID string, totalRows int) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin reset")
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM records WHERE run_id = ?`, runID); err != nil {
		return eris.Wrapf(err, "sqlite: clear records for run %s", runID)
	}
	res, err := tx.ExecContext(ctx,
		`UPDATE runs SET total_rows = ?, rows_completed = 0, rows_skipped = 0, rows_failed = 0,
		        cumulative_cost = 0, last_completed_batch = NULL, status = ?, halt_reason = NULL,
		        updated_at = ?
		 WHERE id = ?`,
		totalRows, string(model.RunStatusQueued), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: reset run %s", runID)
	}
	if err := checkRowsAffected(res, "run", runID); err != nil {
		return err
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit reset")
}

const upsertRecordSQL = `
INSERT INTO records (run_id, row_idx, source_page, image_url, canonical_key,
                     declared_bytes, declared_w, declared_h, context, status, alt_text, message)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (run_id, row_idx) DO UPDATE SET
	source_page    = excluded.source_page,
	image_url      = excluded.image_url,
	canonical_key  = excluded.canonical_key,
	declared_bytes = excluded.declared_bytes,
	declared_w     = excluded.declared_w,
	declared_h     = excluded.declared_h,
	context        = excluded.context,
	status         = excluded.status,
	alt_text       = excluded.alt_text,
	message        = excluded.message`

func (s *SQLiteStore) UpsertRecords(ctx context.Context, runID string, records []model.ImageRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin upsert")
	}
	defer func() { _ = tx.Rollback() }()

	if err := upsertRecordsTx(ctx, tx, runID, records); err != nil {
		return err
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit upsert")
}

func upsertRecordsTx(ctx context.Context, tx *sql.Tx, runID string, records []model.ImageRecord) error {
	stmt, err := tx.PrepareContext(ctx, upsertRecordSQL)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare upsert")
	}
	defer stmt.Close()

	for _, rec := range records {
		contextJSON, err := json.Marshal(rec.Context)
		if err != nil {
			return eris.Wrapf(err, "sqlite: marshal context for row %d", rec.Row)
		}
		_, err = stmt.ExecContext(ctx,
			runID, rec.Row, rec.SourcePage, rec.ImageURL, rec.CanonicalKey,
			rec.DeclaredBytes, rec.DeclaredW, rec.DeclaredH,
			string(contextJSON), string(rec.Status), rec.AltText, rec.Message,
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: upsert row %d", rec.Row)
		}
	}
	return nil
}

func (s *SQLiteStore) ListRecords(ctx context.Context, runID string) ([]model.ImageRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT row_idx, source_page, image_url, canonical_key,
		        declared_bytes, declared_w, declared_h, context, status, alt_text, message
		 FROM records WHERE run_id = ? ORDER BY row_idx`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list records for run %s", runID)
	}
	defer rows.Close()

	var records []model.ImageRecord
	for rows.Next() {
		var rec model.ImageRecord
		var contextJSON string
		var altText, message sql.NullString
		err := rows.Scan(&rec.Row, &rec.SourcePage, &rec.ImageURL, &rec.CanonicalKey,
			&rec.DeclaredBytes, &rec.DeclaredW, &rec.DeclaredH,
			&contextJSON, &rec.Status, &altText, &message)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan record")
		}
		if err := json.Unmarshal([]byte(contextJSON), &rec.Context); err != nil {
			return nil, eris.Wrapf(err, "sqlite: unmarshal context for row %d", rec.Row)
		}
		rec.AltText = altText.String
		rec.Message = message.String
		records = append(records, rec)
	}
	return records, eris.Wrap(rows.Err(), "sqlite: list records iterate")
}

func (s *SQLiteStore) ApplyCheckpoint(ctx context.Context, runID string, cp Checkpoint) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin checkpoint")
	}
	defer func() { _ = tx.Rollback() }()

	if err := upsertRecordsTx(ctx, tx, runID, cp.Records); err != nil {
		return err
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE runs SET
		        rows_completed = rows_completed + ?,
		        rows_skipped   = rows_skipped + ?,
		        rows_failed    = rows_failed + ?,
		        cumulative_cost = cumulative_cost + ?,
		        last_completed_batch = CASE WHEN ? != '' THEN ? ELSE last_completed_batch END,
		        status = ?,
		        updated_at = ?
		 WHERE id = ?`,
		cp.Completed, cp.Skipped, cp.Failed, cp.CostDelta,
		cp.BatchID, cp.BatchID,
		string(model.RunStatusProcessing), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: checkpoint run %s", runID)
	}
	if err := checkRowsAffected(res, "run", runID); err != nil {
		return err
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit checkpoint")
}

func (s *SQLiteStore) FinishRun(ctx context.Context, runID string, status model.RunStatus, haltReason string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, halt_reason = ?, updated_at = ? WHERE id = ?`,
		string(status), nullIfEmpty(haltReason), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: finish run %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]model.RunState, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, manifest_path, total_rows, rows_completed, rows_skipped, rows_failed,
		        cumulative_cost, last_completed_batch, status, halt_reason, created_at, updated_at
		 FROM runs ORDER BY created_at DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close()

	var runs []model.RunState
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

type scannable interface {
	Scan(dest ...any) error
}

func scanRun(row scannable) (*model.RunState, error) {
	var r model.RunState
	var lastBatch, haltReason sql.NullString

	err := row.Scan(&r.ID, &r.ManifestPath, &r.TotalRows, &r.RowsCompleted, &r.RowsSkipped,
		&r.RowsFailed, &r.CumulativeCost, &lastBatch, &r.Status, &haltReason,
		&r.CreatedAt, &r.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan run")
	}
	r.LastCompletedBatch = lastBatch.String
	r.HaltReason = haltReason.String
	return &r, nil
}
