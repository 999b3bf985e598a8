// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Finsight Contributors

package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finsight-dev/finsight/internal/pipeline"
	"github.com/finsight-dev/finsight/internal/store/sqlite"
	finerr "github.com/finsight-dev/finsight/pkg/errors"
)

func openStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.Open(filepath.Join(t.TempDir(), "finsight.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleRun(sessionID string, status pipeline.Status) *pipeline.Context {
	run := pipeline.NewContext(sessionID, "grow my savings", pipeline.Profile{
		Age: 35, Income: 85000, RiskTolerance: "moderate", Horizon: "medium-term",
	})
	run.Status = status
	run.Stages = []pipeline.StageResult{
		{Stage: "risk_assessment", Raw: map[string]any{"tier": "moderate", "risk_score": 60.0}, Confidence: 0.9},
		{Stage: "market_analysis", Raw: map[string]any{"sentiment": "neutral"}, Confidence: 0.85},
	}
	return run
}

func TestStore_SaveAndGet(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	run := sampleRun("session-1", pipeline.StatusCompleted)
	require.NoError(t, s.Save(ctx, run))

	got, err := s.Get(ctx, "session-1")
	require.NoError(t, err)

	assert.Equal(t, run.SessionID, got.SessionID)
	assert.Equal(t, run.Status, got.Status)
	assert.Equal(t, run.Profile, got.Profile)

	// Stage order survives the round trip.
	require.Len(t, got.Stages, 2)
	assert.Equal(t, "risk_assessment", got.Stages[0].Stage)
	assert.Equal(t, "market_analysis", got.Stages[1].Stage)
	assert.Equal(t, "moderate", got.Stages[0].Raw["tier"])
}

func TestStore_SaveIsLastWriterWins(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	first := sampleRun("session-1", pipeline.StatusFailed)
	require.NoError(t, s.Save(ctx, first))

	second := sampleRun("session-1", pipeline.StatusCompleted)
	second.Stages = append(second.Stages, pipeline.StageResult{
		Stage: "portfolio_generation", Raw: map[string]any{"tier": "moderate"}, Confidence: 0.9,
	})
	require.NoError(t, s.Save(ctx, second))

	got, err := s.Get(ctx, "session-1")
	require.NoError(t, err)
	assert.Equal(t, pipeline.StatusCompleted, got.Status)
	assert.Len(t, got.Stages, 3)

	records, err := s.List(ctx)
	require.NoError(t, err)
	assert.Len(t, records, 1, "upsert must not create a second row")
}

func TestStore_GetMissing(t *testing.T) {
	s := openStore(t)

	_, err := s.Get(context.Background(), "no-such-session")
	require.Error(t, err)
	assert.True(t, finerr.IsNotFound(err))
}

func TestStore_SaveRequiresSessionID(t *testing.T) {
	s := openStore(t)

	err := s.Save(context.Background(), &pipeline.Context{})
	require.Error(t, err)
	assert.True(t, finerr.IsInvalidInput(err))
}

func TestStore_List(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	older := sampleRun("older", pipeline.StatusCompleted)
	older.UpdatedAt = time.Now().UTC().Add(-time.Hour)
	require.NoError(t, s.Save(ctx, older))

	newer := sampleRun("newer", pipeline.StatusFailed)
	newer.UpdatedAt = time.Now().UTC()
	require.NoError(t, s.Save(ctx, newer))

	records, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "newer", records[0].SessionID)
	assert.Equal(t, pipeline.StatusFailed, records[0].Status)
	assert.Equal(t, 2, records[0].Stages)
	assert.Equal(t, "older", records[1].SessionID)
}

func TestStore_ActiveSessions(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, sampleRun("done", pipeline.StatusCompleted)))
	require.NoError(t, s.Save(ctx, sampleRun("stuck", pipeline.StatusFailed)))
	require.NoError(t, s.Save(ctx, sampleRun("fresh", pipeline.StatusPending)))

	active, err := s.ActiveSessions(ctx)
	require.NoError(t, err)

	ids := make([]string, 0, len(active))
	for _, run := range active {
		ids = append(ids, run.SessionID)
	}
	assert.ElementsMatch(t, []string{"stuck", "fresh"}, ids)
}

func TestStore_MarkActive(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, sampleRun("stuck", pipeline.StatusFailed)))
	require.NoError(t, s.MarkActive(ctx, "stuck", false))

	// The run is kept but no longer restored at startup.
	active, err := s.ActiveSessions(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)

	records, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.False(t, records[0].Active)

	// A new save reactivates the session.
	require.NoError(t, s.Save(ctx, sampleRun("stuck", pipeline.StatusFailed)))
	active, err = s.ActiveSessions(ctx)
	require.NoError(t, err)
	assert.Len(t, active, 1)

	err = s.MarkActive(ctx, "no-such-session", false)
	require.Error(t, err)
	assert.True(t, finerr.IsNotFound(err))
}

func TestStore_Clear(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, sampleRun("session-1", pipeline.StatusCompleted)))
	require.NoError(t, s.Clear(ctx, "session-1"))

	_, err := s.Get(ctx, "session-1")
	assert.True(t, finerr.IsNotFound(err))

	err = s.Clear(ctx, "session-1")
	require.Error(t, err)
	assert.True(t, finerr.IsNotFound(err))
}

func TestStore_ClearAll(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, sampleRun("a", pipeline.StatusCompleted)))
	require.NoError(t, s.Save(ctx, sampleRun("b", pipeline.StatusFailed)))

	removed, err := s.ClearAll(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, removed)

	records, err := s.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, records)
}
