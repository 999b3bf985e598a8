// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Finsight Contributors

// Package store defines the persistence contract for analysis runs.
// Runs are keyed by session; saving the same session twice is a
// last-writer-wins replace, which is what lets a resumed run overwrite
// its failed predecessor.
package store

import (
	"context"
	"time"

	"github.com/finsight-dev/finsight/internal/pipeline"
)

// SessionRecord is the listing view of one stored run. Active starts
// true on first save and flips only through MarkActive; an inactive
// session keeps its stored run but is excluded from startup restore.
type SessionRecord struct {
	SessionID string          `json:"session_id"`
	Status    pipeline.Status `json:"status"`
	Request   string          `json:"request"`
	Stages    int             `json:"stages"`
	Active    bool            `json:"active"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// ResultStore persists analysis runs across restarts.
type ResultStore interface {
	// Save writes the run, replacing any prior state for its session.
	Save(ctx context.Context, run *pipeline.Context) error
	// Get returns the full run for a session, or a not-found error.
	Get(ctx context.Context, sessionID string) (*pipeline.Context, error)
	// List returns records for every stored session, newest update first.
	List(ctx context.Context) ([]SessionRecord, error)
	// MarkActive flips a session's active flag without touching its run.
	// Marking an unknown session is a not-found error.
	MarkActive(ctx context.Context, sessionID string, active bool) error
	// ActiveSessions returns active-flagged runs that have not reached a
	// completed state, for restoring resumable work at startup.
	ActiveSessions(ctx context.Context) ([]*pipeline.Context, error)
	// Clear removes one session's run. Clearing an unknown session is a
	// not-found error.
	Clear(ctx context.Context, sessionID string) error
	// ClearAll removes every stored run and reports how many were removed.
	ClearAll(ctx context.Context) (int64, error)

	Close() error
}
