// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Finsight Contributors

package main

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/finsight-dev/finsight/internal/capability"
	"github.com/finsight-dev/finsight/internal/capability/builtin"
	"github.com/finsight-dev/finsight/internal/completion"
	"github.com/finsight-dev/finsight/internal/config"
	"github.com/finsight-dev/finsight/internal/marketdata"
	"github.com/finsight-dev/finsight/internal/moderation"
	"github.com/finsight-dev/finsight/internal/pipeline"
	"github.com/finsight-dev/finsight/internal/service"
	"github.com/finsight-dev/finsight/internal/store/sqlite"
	finerr "github.com/finsight-dev/finsight/pkg/errors"
)

// App holds the wired subsystems for one command invocation.
type App struct {
	Service *service.Service
	Config  *config.Config
}

// Close releases everything the app holds.
func (a *App) Close(ctx context.Context) error {
	return a.Service.Close(ctx)
}

// wireApp assembles the full stack from configuration: result store,
// moderation gate, capability registry with the enabled providers
// loaded, pipeline executor, and the service facade on top.
func wireApp(ctx context.Context, cmd *cobra.Command) (*App, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}

	dataDir, _ := cmd.Flags().GetString("data-dir")
	if dataDir == "" {
		dataDir = defaultDataDir()
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, finerr.Errorf(finerr.CodeCLISetupFailure, "creating data directory: %w", err)
	}

	dbPath := cfg.Storage.Path
	if !filepath.IsAbs(dbPath) {
		dbPath = filepath.Join(dataDir, dbPath)
	}
	results, err := sqlite.Open(dbPath)
	if err != nil {
		return nil, err
	}

	gate, err := moderation.NewGate(moderation.Options{
		ComplianceChecking: cfg.Moderation.ComplianceChecking,
		Lexicon: moderation.Lexicon{
			JailbreakPhrases: cfg.Moderation.JailbreakPhrases,
			ComplianceTerms:  cfg.Moderation.ComplianceTerms,
			BorderlineTerms:  cfg.Moderation.BorderlineTerms,
		},
	})
	if err != nil {
		results.Close()
		return nil, err
	}

	registry := capability.NewRegistry()
	if err := builtin.Register(registry, marketdata.NewStaticProvider()); err != nil {
		results.Close()
		return nil, err
	}
	for _, name := range cfg.Plugins.Enabled {
		if err := registry.Load(ctx, name); err != nil {
			slog.Warn("skipping provider: load failed", "provider", name, "error", err)
		}
	}

	completer, err := newCompleter(cfg.Completion)
	if err != nil {
		results.Close()
		return nil, err
	}

	executor := pipeline.NewExecutor(pipeline.Deps{
		Tools:     registry,
		Completer: completer,
		Logger:    slog.Default(),
	}, pipeline.DefaultStages(), pipeline.Options{
		MaxAttempts:  cfg.Pipeline.MaxAttempts,
		RetryBase:    time.Duration(cfg.Pipeline.RetryBaseMS) * time.Millisecond,
		StageTimeout: time.Duration(cfg.Pipeline.StageTimeoutSeconds) * time.Second,
	})

	svc, err := service.New(service.Options{
		Registry: registry,
		Gate:     gate,
		Executor: executor,
		Store:    results,
		Logger:   slog.Default(),
	})
	if err != nil {
		results.Close()
		return nil, err
	}

	// Surface work that survived a restart.
	if active, err := svc.ActiveSessions(ctx); err == nil && len(active) > 0 {
		slog.Info("restored resumable sessions", "count", len(active))
	}

	return &App{Service: svc, Config: cfg}, nil
}

// newCompleter builds the configured narrative completer, always wrapped
// with the bounded-retry policy.
func newCompleter(cfg config.CompletionConfig) (completion.Completer, error) {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second

	var inner completion.Completer
	switch cfg.Provider {
	case "openai":
		oa, err := completion.NewOpenAI(completion.OpenAIConfig{
			APIKey:  cfg.APIKey,
			Model:   cfg.Model,
			BaseURL: cfg.BaseURL,
		})
		if err != nil {
			return nil, err
		}
		inner = oa
	default:
		inner = completion.NewStatic()
	}
	return completion.WithRetry(inner, timeout), nil
}

// defaultDataDir is ~/.local/share/finsight, falling back to the
// working directory when the home directory is unknown.
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".finsight"
	}
	return filepath.Join(home, ".local", "share", "finsight")
}
