// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Finsight Contributors

package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/finsight-dev/finsight/internal/capability"
	"github.com/finsight-dev/finsight/internal/completion"
	finerr "github.com/finsight-dev/finsight/pkg/errors"
)

// ToolSource yields the tools available in a capability category. Each
// stage resolves its tools exactly once, at stage start, so a hot swap
// mid-stage never mixes tool generations within one stage.
type ToolSource interface {
	ToolsFor(category capability.Category) []capability.ToolDescriptor
}

// Deps is what stages get to work with.
type Deps struct {
	Tools     ToolSource
	Completer completion.Completer
	Logger    *slog.Logger
}

// Stage runs one step of the analysis. Stages absorb collaborator
// failures into a degraded StageResult; a returned error means
// something unexpected and is retried by the executor.
type Stage interface {
	Name() string
	Run(ctx context.Context, deps Deps, run *Context) (StageResult, error)
}

// Options tunes the executor. Zero values take the defaults below.
type Options struct {
	MaxAttempts  int
	RetryBase    time.Duration
	StageTimeout time.Duration
}

const (
	defaultMaxAttempts  = 2
	defaultRetryBase    = 200 * time.Millisecond
	defaultStageTimeout = 30 * time.Second
)

func (o Options) withDefaults() Options {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = defaultMaxAttempts
	}
	if o.RetryBase <= 0 {
		o.RetryBase = defaultRetryBase
	}
	if o.StageTimeout <= 0 {
		o.StageTimeout = defaultStageTimeout
	}
	return o
}

// Executor drives a run through its stages in order, retrying failed
// stages with exponential backoff and recording every attempt in the
// run history.
type Executor struct {
	deps   Deps
	stages []Stage
	opts   Options
}

func NewExecutor(deps Deps, stages []Stage, opts Options) *Executor {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Executor{
		deps:   deps,
		stages: stages,
		opts:   opts.withDefaults(),
	}
}

// StageNames lists the configured stages in execution order.
func (e *Executor) StageNames() []string {
	names := make([]string, len(e.stages))
	for i, s := range e.stages {
		names[i] = s.Name()
	}
	return names
}

// Run executes every stage the run has not yet completed. On stage
// failure the run is marked failed with its partial results intact, so
// the caller can persist it and a later Run call picks up where this
// one stopped.
func (e *Executor) Run(ctx context.Context, run *Context) error {
	if err := run.Profile.Validate(); err != nil {
		return err
	}
	// A run persisted mid-flight still carries StatusRunning; it resumes
	// without a status change.
	if run.Status != StatusRunning {
		if err := run.transition(StatusRunning); err != nil {
			return err
		}
	}

	log := e.deps.Logger.With(slog.String("session_id", run.SessionID))

	for _, stage := range e.stages {
		if _, done := run.StageResult(stage.Name()); done {
			continue
		}
		if err := e.runStage(ctx, log, stage, run); err != nil {
			run.Error = err.Error()
			if terr := run.transition(StatusFailed); terr != nil {
				return finerr.Join(err, terr)
			}
			return err
		}
	}

	run.Error = ""
	return run.transition(StatusCompleted)
}

func (e *Executor) runStage(ctx context.Context, log *slog.Logger, stage Stage, run *Context) error {
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			run.record(stage.Name(), attempt, OutcomeFailed, "run cancelled", 0)
			return finerr.Wrap(err, finerr.CodePipelineCancelled, "run cancelled",
				finerr.FieldStage(stage.Name()))
		}

		run.record(stage.Name(), attempt, OutcomeStarted, "", 0)

		stageCtx, cancel := context.WithTimeout(ctx, e.opts.StageTimeout)
		start := time.Now()
		result, err := stage.Run(stageCtx, e.deps, run)
		cancel()
		elapsed := time.Since(start)

		if err == nil {
			result.Stage = stage.Name()
			result.Attempts = attempt
			run.Stages = append(run.Stages, result)

			outcome := OutcomeSucceeded
			if result.Degraded {
				outcome = OutcomeDegraded
				log.Warn("stage completed degraded",
					slog.String("stage", stage.Name()),
					slog.Any("issues", result.Issues))
			}
			run.record(stage.Name(), attempt, outcome, "", elapsed)
			return nil
		}

		if attempt >= e.opts.MaxAttempts {
			run.record(stage.Name(), attempt, OutcomeFailed, err.Error(), elapsed)
			log.Error("stage failed",
				slog.String("stage", stage.Name()),
				slog.Int("attempts", attempt),
				slog.Any("error", err))
			return finerr.Wrap(err, finerr.CodePipelineStageFailure, "stage failed",
				finerr.FieldStage(stage.Name()))
		}

		run.record(stage.Name(), attempt, OutcomeRetried, err.Error(), elapsed)
		log.Warn("stage attempt failed, retrying",
			slog.String("stage", stage.Name()),
			slog.Int("attempt", attempt),
			slog.Any("error", err))

		backoff := e.opts.RetryBase << (attempt - 1)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
		}
	}
}
