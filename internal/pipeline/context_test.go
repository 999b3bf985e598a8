// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Finsight Contributors

package pipeline_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finsight-dev/finsight/internal/pipeline"
	finerr "github.com/finsight-dev/finsight/pkg/errors"
)

func TestValidTransition(t *testing.T) {
	tests := []struct {
		from, to pipeline.Status
		want     bool
	}{
		{pipeline.StatusPending, pipeline.StatusRunning, true},
		{pipeline.StatusRunning, pipeline.StatusCompleted, true},
		{pipeline.StatusRunning, pipeline.StatusFailed, true},
		{pipeline.StatusFailed, pipeline.StatusRunning, true},
		{pipeline.StatusPending, pipeline.StatusCompleted, false},
		{pipeline.StatusCompleted, pipeline.StatusRunning, false},
		{pipeline.StatusCompleted, pipeline.StatusFailed, false},
		{pipeline.StatusFailed, pipeline.StatusCompleted, false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, pipeline.ValidTransition(tt.from, tt.to),
			"%s -> %s", tt.from, tt.to)
	}
}

func TestNewContext(t *testing.T) {
	profile := pipeline.Profile{Age: 35, Income: 85000, RiskTolerance: "moderate"}

	t.Run("generates session id when absent", func(t *testing.T) {
		run := pipeline.NewContext("", "plan my retirement", profile)
		assert.NotEmpty(t, run.SessionID)
		assert.Equal(t, pipeline.StatusPending, run.Status)
		assert.False(t, run.CreatedAt.IsZero())
	})

	t.Run("keeps caller session id", func(t *testing.T) {
		run := pipeline.NewContext("session-7", "plan my retirement", profile)
		assert.Equal(t, "session-7", run.SessionID)
	})
}

func TestContext_StageResult(t *testing.T) {
	run := pipeline.NewContext("s", "r", pipeline.Profile{})
	run.Stages = append(run.Stages,
		pipeline.StageResult{Stage: "first", Confidence: 0.9},
		pipeline.StageResult{Stage: "second", Confidence: 0.8},
	)

	sr, ok := run.StageResult("second")
	require.True(t, ok)
	assert.Equal(t, 0.8, sr.Confidence)

	_, ok = run.StageResult("missing")
	assert.False(t, ok)
}

func TestProfile_Validate(t *testing.T) {
	tests := []struct {
		name    string
		profile pipeline.Profile
		wantErr bool
	}{
		{
			name:    "valid moderate profile",
			profile: pipeline.Profile{Age: 35, Income: 85000, RiskTolerance: "moderate", Horizon: "medium-term"},
		},
		{
			name:    "horizon optional",
			profile: pipeline.Profile{Age: 35, Income: 85000, RiskTolerance: "aggressive"},
		},
		{
			name:    "under 18",
			profile: pipeline.Profile{Age: 12, Income: 0, RiskTolerance: "moderate"},
			wantErr: true,
		},
		{
			name:    "negative income",
			profile: pipeline.Profile{Age: 35, Income: -1, RiskTolerance: "moderate"},
			wantErr: true,
		},
		{
			name:    "unknown tolerance",
			profile: pipeline.Profile{Age: 35, Income: 0, RiskTolerance: "yolo"},
			wantErr: true,
		},
		{
			name:    "unknown horizon",
			profile: pipeline.Profile{Age: 35, Income: 0, RiskTolerance: "moderate", Horizon: "forever"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.profile.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, finerr.IsInvalidInput(err))
				return
			}
			require.NoError(t, err)
		})
	}
}
