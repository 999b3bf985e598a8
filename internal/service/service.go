// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Finsight Contributors

// Package service is the application facade: every caller-facing
// operation goes through it, so input moderation, pipeline execution,
// output moderation, and persistence happen in one place and in that
// order.
package service

import (
	"context"
	"log/slog"

	"github.com/finsight-dev/finsight/internal/capability"
	"github.com/finsight-dev/finsight/internal/moderation"
	"github.com/finsight-dev/finsight/internal/pipeline"
	"github.com/finsight-dev/finsight/internal/store"
	finerr "github.com/finsight-dev/finsight/pkg/errors"
)

// blockedMessage is the fixed safe response for blocked input. The
// original request text is never echoed back.
const blockedMessage = "This request cannot be processed as submitted. " +
	"Please remove any personal identifying information or prohibited phrasing and try again."

// AnalysisRequest is one analysis submission.
type AnalysisRequest struct {
	SessionID string           `json:"session_id,omitempty"`
	Request   string           `json:"request"`
	Profile   pipeline.Profile `json:"profile"`
}

// AnalysisResult is what callers get back. When Blocked is true the
// pipeline never ran and Report carries the fixed safe message; when a
// run fails partway, Run still carries the partial results.
type AnalysisResult struct {
	SessionID string               `json:"session_id"`
	Status    pipeline.Status      `json:"status"`
	Blocked   bool                 `json:"blocked"`
	RiskLevel moderation.RiskLevel `json:"risk_level"`
	Issues    []string             `json:"issues,omitempty"`
	Report    string               `json:"report"`
	Run       *pipeline.Context    `json:"run,omitempty"`
}

// Service wires the moderation gate, pipeline executor, capability
// registry, and result store into the operations the CLI exposes.
type Service struct {
	registry *capability.Registry
	gate     *moderation.Gate
	executor *pipeline.Executor
	results  store.ResultStore
	logger   *slog.Logger
}

// Options carries the collaborators a Service needs. All fields except
// Logger are required.
type Options struct {
	Registry *capability.Registry
	Gate     *moderation.Gate
	Executor *pipeline.Executor
	Store    store.ResultStore
	Logger   *slog.Logger
}

func New(opts Options) (*Service, error) {
	if opts.Registry == nil || opts.Gate == nil || opts.Executor == nil || opts.Store == nil {
		return nil, finerr.New(finerr.CodeServiceInternalFailure,
			"service requires a registry, gate, executor, and store")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Service{
		registry: opts.Registry,
		gate:     opts.Gate,
		executor: opts.Executor,
		results:  opts.Store,
		logger:   opts.Logger,
	}, nil
}

// RunAnalysis moderates the request, runs the pipeline on the sanitized
// text, moderates the narrative output, and persists the run. A failed
// run is persisted and returned with its partial results; only blocked
// input skips the pipeline entirely.
func (s *Service) RunAnalysis(ctx context.Context, req AnalysisRequest) (*AnalysisResult, error) {
	inVerdict := s.gate.ModerateInput(req.Request)
	if !inVerdict.Passed {
		s.logger.Warn("analysis request blocked",
			slog.String("risk_level", string(inVerdict.RiskLevel)),
			slog.Any("issues", inVerdict.Issues))
		return &AnalysisResult{
			SessionID: req.SessionID,
			Blocked:   true,
			RiskLevel: inVerdict.RiskLevel,
			Issues:    inVerdict.Issues,
			Report:    blockedMessage,
		}, nil
	}

	run := pipeline.NewContext(req.SessionID, inVerdict.SanitizedText, req.Profile)
	return s.execute(ctx, run, inVerdict.Issues)
}

// ResumeAnalysis re-runs a persisted, resumable run from its last
// incomplete stage.
func (s *Service) ResumeAnalysis(ctx context.Context, sessionID string) (*AnalysisResult, error) {
	run, err := s.results.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if run.Status == pipeline.StatusCompleted {
		return nil, finerr.New(finerr.CodePipelineStateInvalid, "run already completed",
			finerr.FieldSessionID(sessionID))
	}
	return s.execute(ctx, run, nil)
}

func (s *Service) execute(ctx context.Context, run *pipeline.Context, issues []string) (*AnalysisResult, error) {
	runErr := s.executor.Run(ctx, run)

	result := &AnalysisResult{
		SessionID: run.SessionID,
		Status:    run.Status,
		RiskLevel: moderation.RiskLow,
		Issues:    issues,
		Run:       run,
	}

	if runErr == nil {
		if report, ok := run.StageResult(pipeline.StageReportGeneration); ok {
			outVerdict := s.gate.ModerateOutput(report.Narrative)
			result.Report = outVerdict.SanitizedText
			result.RiskLevel = outVerdict.RiskLevel
			result.Issues = append(result.Issues, outVerdict.Issues...)

			// Persist the sanitized narrative, not the raw one.
			for i := range run.Stages {
				if run.Stages[i].Stage == pipeline.StageReportGeneration {
					run.Stages[i].Narrative = outVerdict.SanitizedText
				}
			}
		}
	}

	if err := s.results.Save(ctx, run); err != nil {
		s.logger.Error("persisting run failed",
			slog.String("session_id", run.SessionID), slog.Any("error", err))
		if runErr == nil {
			return result, err
		}
	}

	result.Status = run.Status
	return result, runErr
}

// GetResults returns the stored run for a session.
func (s *Service) GetResults(ctx context.Context, sessionID string) (*pipeline.Context, error) {
	return s.results.Get(ctx, sessionID)
}

// ListSessions returns records for all stored runs.
func (s *Service) ListSessions(ctx context.Context) ([]store.SessionRecord, error) {
	return s.results.List(ctx)
}

// ActiveSessions returns the resumable runs, used at startup to report
// work that survived a restart.
func (s *Service) ActiveSessions(ctx context.Context) ([]*pipeline.Context, error) {
	return s.results.ActiveSessions(ctx)
}

// DeactivateSession marks a session inactive, keeping its stored run
// but excluding it from startup restore.
func (s *Service) DeactivateSession(ctx context.Context, sessionID string) error {
	return s.results.MarkActive(ctx, sessionID, false)
}

// ClearResults removes one session's run.
func (s *Service) ClearResults(ctx context.Context, sessionID string) error {
	return s.results.Clear(ctx, sessionID)
}

// ClearAllResults removes every stored run.
func (s *Service) ClearAllResults(ctx context.Context) (int64, error) {
	return s.results.ClearAll(ctx)
}

// CheckModeration runs one text through the gate in the given direction.
func (s *Service) CheckModeration(text, direction string) (moderation.Verdict, error) {
	switch direction {
	case "input":
		return s.gate.ModerateInput(text), nil
	case "output":
		return s.gate.ModerateOutput(text), nil
	default:
		return moderation.Verdict{}, finerr.Errorf(finerr.CodeModerationDirection,
			"direction must be input or output, got %q", direction)
	}
}

// ModerationStats reports gate counters.
func (s *Service) ModerationStats() moderation.Stats {
	return s.gate.Stats()
}

// ListPlugins returns descriptors for all registered providers.
func (s *Service) ListPlugins() []capability.Descriptor {
	return s.registry.List()
}

// DescribePlugin returns one provider's descriptor.
func (s *Service) DescribePlugin(name string) (capability.Descriptor, error) {
	return s.registry.Describe(name)
}

// PluginStats summarizes the registry.
func (s *Service) PluginStats() capability.Stats {
	return s.registry.Stats()
}

// LoadPlugin activates a registered provider.
func (s *Service) LoadPlugin(ctx context.Context, name string) error {
	return s.registry.Load(ctx, name)
}

// UnloadPlugin removes a provider's tools from discovery. In-flight
// stages holding its tools finish against the snapshot they captured.
func (s *Service) UnloadPlugin(ctx context.Context, name string) error {
	return s.registry.Unload(ctx, name)
}

// ReloadPlugin atomically replaces a provider with a fresh instance.
func (s *Service) ReloadPlugin(ctx context.Context, name string) error {
	return s.registry.Reload(ctx, name)
}

// ConfigurePlugin applies a new configuration map to an active provider.
func (s *Service) ConfigurePlugin(ctx context.Context, name string, config map[string]any) error {
	return s.registry.Configure(ctx, name, config)
}

// Close releases the store and unloads all providers.
func (s *Service) Close(ctx context.Context) error {
	var errs []error
	if err := s.registry.Close(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := s.results.Close(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return finerr.Join(errs...)
	}
	return nil
}
