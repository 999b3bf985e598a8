// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Finsight Contributors

// Package completion models the text-completion collaborator used for
// narrative generation. The collaborator is nondeterministic and
// potentially slow; callers go through WithRetry which applies a bounded
// timeout and a single retry. Nondeterminism is tolerated only in
// narrative fields, never in numeric results.
package completion

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	finerr "github.com/finsight-dev/finsight/pkg/errors"
)

// Completer produces narrative text for a prompt. The context map carries
// prior stage outputs the narrative should reference.
type Completer interface {
	Complete(ctx context.Context, prompt string, context map[string]any) (string, error)
}

// retrier wraps a Completer with a per-attempt timeout and one retry.
type retrier struct {
	inner   Completer
	timeout time.Duration
}

// DefaultTimeout bounds a single completion attempt.
const DefaultTimeout = 20 * time.Second

// WithRetry wraps c so each call gets a bounded timeout and at most one
// retry. Caller cancellation is honored between attempts.
func WithRetry(c Completer, timeout time.Duration) Completer {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &retrier{inner: c, timeout: timeout}
}

func (r *retrier) Complete(ctx context.Context, prompt string, cc map[string]any) (string, error) {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		attemptCtx, cancel := context.WithTimeout(ctx, r.timeout)
		text, err := r.inner.Complete(attemptCtx, prompt, cc)
		cancel()
		if err == nil {
			return text, nil
		}
		lastErr = err
	}
	return "", finerr.Wrap(lastErr, finerr.CodeCompletionUpstreamFailure, "completion failed after retry")
}

// Static is a deterministic Completer used when no upstream provider is
// configured. It renders the prompt's context into a fixed template so
// offline runs still produce a readable narrative.
type Static struct{}

// NewStatic creates a deterministic completer.
func NewStatic() *Static {
	return &Static{}
}

func (s *Static) Complete(ctx context.Context, prompt string, cc map[string]any) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString(prompt)

	if len(cc) > 0 {
		keys := make([]string, 0, len(cc))
		for k := range cc {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		b.WriteString("\n")
		for _, k := range keys {
			fmt.Fprintf(&b, "\n%s: %v", k, cc[k])
		}
	}

	return b.String(), nil
}
