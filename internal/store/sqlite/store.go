// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Finsight Contributors

// Package sqlite persists analysis runs in a local SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/finsight-dev/finsight/internal/pipeline"
	"github.com/finsight-dev/finsight/internal/store"
	finerr "github.com/finsight-dev/finsight/pkg/errors"
)

// Compile-time interface check.
var _ store.ResultStore = (*Store)(nil)

// Store implements store.ResultStore backed by SQLite. The full run is
// stored as a JSON document; status and timestamps are lifted into
// columns so listing and resume queries never parse documents.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at dbPath and initialises the
// runs table.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, finerr.Wrap(err, finerr.CodeStoreDatabaseFailure, "opening sqlite db")
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, finerr.Wrap(err, finerr.CodeStoreDatabaseFailure, "pinging sqlite db")
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, finerr.Wrap(err, finerr.CodeStoreDatabaseFailure, "migrating sqlite db")
	}

	return &Store{db: db}, nil
}

func migrate(db *sql.DB) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS runs (
	session_id  TEXT PRIMARY KEY,
	status      TEXT NOT NULL,
	request     TEXT NOT NULL DEFAULT '',
	stages      INTEGER NOT NULL DEFAULT 0,
	active      INTEGER NOT NULL DEFAULT 1,
	context     TEXT NOT NULL,
	created_at  TEXT NOT NULL,
	updated_at  TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
`
	_, err := db.Exec(ddl)
	return err
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Save upserts the run document. Last writer wins for a session.
func (s *Store) Save(ctx context.Context, run *pipeline.Context) error {
	if run == nil || run.SessionID == "" {
		return finerr.New(finerr.CodeStoreInvalidInput, "run requires a session id")
	}

	doc, err := json.Marshal(run)
	if err != nil {
		return finerr.Wrap(err, finerr.CodeStorePersistFailure, "marshalling run",
			finerr.FieldSessionID(run.SessionID))
	}

	// A save reactivates the session; deactivation only happens through
	// MarkActive.
	const q = `INSERT INTO runs (session_id, status, request, stages, active, context, created_at, updated_at)
VALUES (?, ?, ?, ?, 1, ?, ?, ?)
ON CONFLICT(session_id) DO UPDATE SET
	status = excluded.status,
	request = excluded.request,
	stages = excluded.stages,
	active = 1,
	context = excluded.context,
	updated_at = excluded.updated_at`

	_, err = s.db.ExecContext(ctx, q,
		run.SessionID,
		string(run.Status),
		run.Request,
		len(run.Stages),
		string(doc),
		formatTime(run.CreatedAt),
		formatTime(run.UpdatedAt),
	)
	if err != nil {
		return finerr.Wrap(err, finerr.CodeStorePersistFailure, "saving run",
			finerr.FieldSessionID(run.SessionID))
	}
	return nil
}

// Get returns the stored run for a session.
func (s *Store) Get(ctx context.Context, sessionID string) (*pipeline.Context, error) {
	var doc string
	err := s.db.QueryRowContext(ctx,
		`SELECT context FROM runs WHERE session_id = ?`, sessionID).Scan(&doc)
	if err == sql.ErrNoRows {
		return nil, finerr.New(finerr.CodeStoreResultNotFound, "no results for session",
			finerr.FieldSessionID(sessionID))
	}
	if err != nil {
		return nil, finerr.Wrap(err, finerr.CodeStoreDatabaseFailure, "getting run",
			finerr.FieldSessionID(sessionID))
	}

	var run pipeline.Context
	if err := json.Unmarshal([]byte(doc), &run); err != nil {
		return nil, finerr.Wrap(err, finerr.CodeStoreDatabaseFailure, "unmarshalling run",
			finerr.FieldSessionID(sessionID))
	}
	return &run, nil
}

// List returns session records ordered by most recent update.
func (s *Store) List(ctx context.Context) ([]store.SessionRecord, error) {
	const q = `SELECT session_id, status, request, stages, active, created_at, updated_at
FROM runs ORDER BY updated_at DESC`

	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, finerr.Wrap(err, finerr.CodeStoreDatabaseFailure, "listing runs")
	}
	defer rows.Close()

	var records []store.SessionRecord
	for rows.Next() {
		var rec store.SessionRecord
		var createdAt, updatedAt string
		if err := rows.Scan(&rec.SessionID, &rec.Status, &rec.Request, &rec.Stages,
			&rec.Active, &createdAt, &updatedAt); err != nil {
			return nil, finerr.Wrap(err, finerr.CodeStoreDatabaseFailure, "scanning run row")
		}
		rec.CreatedAt = parseTime(createdAt)
		rec.UpdatedAt = parseTime(updatedAt)
		records = append(records, rec)
	}
	return records, rows.Err()
}

// MarkActive flips the session's active flag.
func (s *Store) MarkActive(ctx context.Context, sessionID string, active bool) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE runs SET active = ? WHERE session_id = ?`, active, sessionID)
	if err != nil {
		return finerr.Wrap(err, finerr.CodeStoreDatabaseFailure, "marking session",
			finerr.FieldSessionID(sessionID))
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return finerr.Wrap(err, finerr.CodeStoreDatabaseFailure, "checking rows affected",
			finerr.FieldSessionID(sessionID))
	}
	if rows == 0 {
		return finerr.New(finerr.CodeStoreResultNotFound, "no results for session",
			finerr.FieldSessionID(sessionID))
	}
	return nil
}

// ActiveSessions returns every active run that can still make progress:
// pending, running, and failed (resumable) runs.
func (s *Store) ActiveSessions(ctx context.Context) ([]*pipeline.Context, error) {
	const q = `SELECT context FROM runs WHERE active = 1 AND status IN (?, ?, ?) ORDER BY updated_at DESC`

	rows, err := s.db.QueryContext(ctx, q,
		string(pipeline.StatusPending),
		string(pipeline.StatusRunning),
		string(pipeline.StatusFailed),
	)
	if err != nil {
		return nil, finerr.Wrap(err, finerr.CodeStoreDatabaseFailure, "listing active runs")
	}
	defer rows.Close()

	var runs []*pipeline.Context
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, finerr.Wrap(err, finerr.CodeStoreDatabaseFailure, "scanning run row")
		}
		var run pipeline.Context
		if err := json.Unmarshal([]byte(doc), &run); err != nil {
			return nil, finerr.Wrap(err, finerr.CodeStoreDatabaseFailure, "unmarshalling run")
		}
		runs = append(runs, &run)
	}
	return runs, rows.Err()
}

// Clear removes one session's run.
func (s *Store) Clear(ctx context.Context, sessionID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE session_id = ?`, sessionID)
	if err != nil {
		return finerr.Wrap(err, finerr.CodeStoreDatabaseFailure, "clearing run",
			finerr.FieldSessionID(sessionID))
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return finerr.Wrap(err, finerr.CodeStoreDatabaseFailure, "checking rows affected",
			finerr.FieldSessionID(sessionID))
	}
	if rows == 0 {
		return finerr.New(finerr.CodeStoreResultNotFound, "no results for session",
			finerr.FieldSessionID(sessionID))
	}
	return nil
}

// ClearAll removes every stored run.
func (s *Store) ClearAll(ctx context.Context) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM runs`)
	if err != nil {
		return 0, finerr.Wrap(err, finerr.CodeStoreDatabaseFailure, "clearing runs")
	}
	return result.RowsAffected()
}

// formatTime serialises a time.Time to RFC3339 with nanosecond precision.
func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

// parseTime deserialises a time string stored in the database.
func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}
