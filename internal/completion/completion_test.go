// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Finsight Contributors

package completion_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finsight-dev/finsight/internal/completion"
	finerr "github.com/finsight-dev/finsight/pkg/errors"
)

// flakyCompleter fails a scripted number of times before succeeding.
type flakyCompleter struct {
	failures int
	calls    int
}

func (f *flakyCompleter) Complete(context.Context, string, map[string]any) (string, error) {
	f.calls++
	if f.calls <= f.failures {
		return "", fmt.Errorf("upstream busy")
	}
	return "ok", nil
}

func TestStatic_RendersSortedContext(t *testing.T) {
	c := completion.NewStatic()

	out, err := c.Complete(context.Background(), "Summarize the findings.", map[string]any{
		"zeta":  2,
		"alpha": 1,
	})
	require.NoError(t, err)
	assert.Equal(t, "Summarize the findings.\n\nalpha: 1\nzeta: 2", out)

	again, err := c.Complete(context.Background(), "Summarize the findings.", map[string]any{
		"alpha": 1,
		"zeta":  2,
	})
	require.NoError(t, err)
	assert.Equal(t, out, again, "rendering is independent of map iteration order")
}

func TestStatic_NoContext(t *testing.T) {
	c := completion.NewStatic()

	out, err := c.Complete(context.Background(), "Just the prompt.", nil)
	require.NoError(t, err)
	assert.Equal(t, "Just the prompt.", out)
}

func TestWithRetry_RecoversFromOneFailure(t *testing.T) {
	inner := &flakyCompleter{failures: 1}
	c := completion.WithRetry(inner, time.Second)

	out, err := c.Complete(context.Background(), "p", nil)
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.Equal(t, 2, inner.calls)
}

func TestWithRetry_GivesUpAfterSecondFailure(t *testing.T) {
	inner := &flakyCompleter{failures: 5}
	c := completion.WithRetry(inner, time.Second)

	_, err := c.Complete(context.Background(), "p", nil)
	require.Error(t, err)
	assert.Equal(t, 2, inner.calls, "exactly one retry")
	assert.Equal(t, finerr.CodeCompletionUpstreamFailure, finerr.CodeOf(err))
	assert.True(t, finerr.IsUpstreamFailure(err))
}

func TestWithRetry_HonorsCallerCancellation(t *testing.T) {
	inner := &flakyCompleter{failures: 5}
	c := completion.WithRetry(inner, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Complete(ctx, "p", nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, inner.calls)
}
