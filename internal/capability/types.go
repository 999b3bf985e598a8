// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Finsight Contributors

// Package capability defines the provider contract and the registry that
// makes categorized tools discoverable to pipeline stages.
package capability

import (
	"context"
	"time"

	finerr "github.com/finsight-dev/finsight/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Category groups tools by the pipeline concern they serve.
type Category string

const (
	CategoryMarketData Category = "market-data"
	CategoryAnalysis   Category = "analysis"
	CategoryCompliance Category = "compliance"
	CategoryRisk       Category = "risk"
)

// Valid reports whether the category is a known tool category.
func (c Category) Valid() bool {
	switch c {
	case CategoryMarketData, CategoryAnalysis, CategoryCompliance, CategoryRisk:
		return true
	default:
		return false
	}
}

// ToolSpec describes a single named, schema-described operation.
type ToolSpec struct {
	Name        string         `yaml:"name"`
	Description string         `yaml:"description,omitempty"`
	InputSchema map[string]any `yaml:"input_schema,omitempty"`
}

// Manifest describes a capability provider: its identity, category, and
// the tools it exposes. Providers ship their manifest as a YAML document.
type Manifest struct {
	Name         string         `yaml:"name"`
	Version      string         `yaml:"version"`
	Description  string         `yaml:"description,omitempty"`
	Category     Category       `yaml:"category"`
	Tools        []ToolSpec     `yaml:"tools"`
	ConfigSchema map[string]any `yaml:"config_schema,omitempty"`
}

// ParseManifest parses and validates a YAML provider manifest.
func ParseManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, finerr.Wrap(err, finerr.CodePluginLoadFailure, "parsing provider manifest")
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Validate checks manifest invariants: non-empty identity, a known
// category, and at least one uniquely named tool.
func (m *Manifest) Validate() error {
	if m.Name == "" {
		return finerr.New(finerr.CodePluginLoadFailure, "manifest missing name")
	}
	if m.Version == "" {
		return finerr.New(finerr.CodePluginLoadFailure, "manifest missing version", finerr.FieldPlugin(m.Name))
	}
	if !m.Category.Valid() {
		return finerr.Errorf(finerr.CodePluginLoadFailure, "manifest %s: invalid category %q", m.Name, m.Category)
	}
	if len(m.Tools) == 0 {
		return finerr.New(finerr.CodePluginLoadFailure, "manifest declares no tools", finerr.FieldPlugin(m.Name))
	}

	seen := make(map[string]bool, len(m.Tools))
	for _, t := range m.Tools {
		if t.Name == "" {
			return finerr.New(finerr.CodePluginLoadFailure, "manifest has tool with empty name", finerr.FieldPlugin(m.Name))
		}
		if seen[t.Name] {
			return finerr.Errorf(finerr.CodePluginLoadFailure, "manifest %s: duplicate tool %q", m.Name, t.Name)
		}
		seen[t.Name] = true
	}
	return nil
}

// Provider is a versioned unit exposing named tools grouped by category.
// Implementations must tolerate Invoke being called after Close for calls
// that started before a concurrent unload: in-flight invocations complete
// against the snapshot they captured.
type Provider interface {
	Manifest() Manifest
	Init(ctx context.Context, config map[string]any) error
	Invoke(ctx context.Context, tool string, args map[string]any) (any, error)
	Close(ctx context.Context) error
}

// Factory constructs a fresh provider instance. Load and Reload always go
// through the factory so a reload picks up manifest changes.
type Factory func() Provider

// ToolDescriptor is the transient handle a stage holds for one tool.
// Descriptors are resolved from an immutable registry snapshot at
// stage start and stay invocable for the stage's duration even if the
// owning provider is unloaded concurrently.
type ToolDescriptor struct {
	Name        string
	Category    Category
	Provider    string
	Description string
	InputSchema map[string]any

	invoke func(ctx context.Context, args map[string]any) (any, error)
}

// Invoke executes the tool. Failures are wrapped as tool-invocation
// errors so callers can degrade instead of aborting the run.
func (t ToolDescriptor) Invoke(ctx context.Context, args map[string]any) (any, error) {
	if t.invoke == nil {
		return nil, finerr.New(finerr.CodePluginToolNotFound, "tool has no bound provider", finerr.FieldTool(t.Name))
	}
	out, err := t.invoke(ctx, args)
	if err != nil {
		return nil, finerr.Wrap(err, finerr.CodePluginToolInvokeFailure, "invoking tool",
			finerr.FieldTool(t.Name), finerr.FieldPlugin(t.Provider))
	}
	return out, nil
}

// Descriptor is the externally visible state of one loaded (or failed,
// or unloaded) capability provider.
type Descriptor struct {
	Name       string         `json:"name"`
	Version    string         `json:"version"`
	Category   Category       `json:"category"`
	Status     Status         `json:"status"`
	Generation uint64         `json:"generation"`
	Tools      []ToolSpec     `json:"tools,omitempty"`
	LastError  string         `json:"last_error,omitempty"`
	LoadedAt   time.Time      `json:"loaded_at,omitzero"`
	Config     map[string]any `json:"config,omitempty"`
}

// Stats summarizes registry contents for the management surface.
type Stats struct {
	TotalProviders  int              `json:"total_providers"`
	ActiveProviders int              `json:"active_providers"`
	ErrorProviders  int              `json:"error_providers"`
	TotalTools      int              `json:"total_tools"`
	ByCategory      map[Category]int `json:"by_category"`
}
