// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Finsight Contributors

package config

import (
	"errors"
	"strings"

	"github.com/spf13/viper"

	finerr "github.com/finsight-dev/finsight/pkg/errors"
)

// Config is the top-level Finsight configuration.
type Config struct {
	Storage    StorageConfig    `mapstructure:"storage"`
	Pipeline   PipelineConfig   `mapstructure:"pipeline"`
	Completion CompletionConfig `mapstructure:"completion"`
	Moderation ModerationConfig `mapstructure:"moderation"`
	Plugins    PluginsConfig    `mapstructure:"plugins"`
}

// StorageConfig selects where analysis runs are persisted.
type StorageConfig struct {
	Backend string `mapstructure:"backend"`
	Path    string `mapstructure:"path"`
}

// PipelineConfig tunes stage execution.
type PipelineConfig struct {
	MaxAttempts         int `mapstructure:"max_attempts"`
	RetryBaseMS         int `mapstructure:"retry_base_ms"`
	StageTimeoutSeconds int `mapstructure:"stage_timeout_seconds"`
}

// CompletionConfig selects the narrative completion provider.
type CompletionConfig struct {
	Provider       string `mapstructure:"provider"`
	Model          string `mapstructure:"model"`
	APIKey         string `mapstructure:"api_key"`
	BaseURL        string `mapstructure:"base_url"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// ModerationConfig controls the moderation gate. The phrase lists
// override the built-in lexicons when non-empty.
type ModerationConfig struct {
	ComplianceChecking bool     `mapstructure:"compliance_checking"`
	JailbreakPhrases   []string `mapstructure:"jailbreak_phrases"`
	ComplianceTerms    []string `mapstructure:"compliance_terms"`
	BorderlineTerms    []string `mapstructure:"borderline_terms"`
}

// PluginsConfig selects which capability providers load at startup.
type PluginsConfig struct {
	Enabled []string `mapstructure:"enabled"`
}

// builtinPlugins are the provider names shipped with the binary.
var builtinPlugins = map[string]bool{
	"market-data": true,
	"analysis":    true,
	"compliance":  true,
	"risk":        true,
}

// Load reads configuration from the given path (or defaults) with
// environment variable overrides (prefix FINSIGHT_).
func Load(path string) (*Config, error) {
	v := viper.New()

	// Defaults
	v.SetDefault("storage.backend", "sqlite")
	v.SetDefault("storage.path", "finsight.db")
	v.SetDefault("pipeline.max_attempts", 2)
	v.SetDefault("pipeline.retry_base_ms", 200)
	v.SetDefault("pipeline.stage_timeout_seconds", 30)
	v.SetDefault("completion.provider", "static")
	v.SetDefault("completion.model", "gpt-4.1-mini")
	v.SetDefault("completion.timeout_seconds", 20)
	v.SetDefault("moderation.compliance_checking", true)
	v.SetDefault("plugins.enabled", []string{"market-data", "analysis", "compliance", "risk"})

	// Environment
	v.SetEnvPrefix("FINSIGHT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// File
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, finerr.Errorf(finerr.CodeConfigLoadReadFailure, "reading config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, finerr.Errorf(finerr.CodeConfigValidateInvalidValue, "unmarshalling config: %w", err)
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, finerr.Errorf(finerr.CodeConfigValidateInvalidValue, "validating config: %w", errors.Join(errs...))
	}

	return &cfg, nil
}

// Validate checks the configuration for logical errors. It returns all
// validation errors found, collecting every issue rather than stopping
// at the first one.
func (c *Config) Validate() []error {
	var errs []error

	errs = append(errs, c.validateStorage()...)
	errs = append(errs, c.validatePipeline()...)
	errs = append(errs, c.validateCompletion()...)
	errs = append(errs, c.validatePlugins()...)

	return errs
}

func (c *Config) validateStorage() []error {
	var errs []error

	validBackends := map[string]bool{"sqlite": true}
	if !validBackends[c.Storage.Backend] {
		errs = append(errs, finerr.Errorf(finerr.CodeConfigValidateInvalidValue,
			"config: storage.backend must be one of [sqlite], got %q",
			c.Storage.Backend,
		))
	}

	if c.Storage.Path == "" {
		errs = append(errs, finerr.Errorf(finerr.CodeConfigValidateInvalidValue,
			"config: storage.path must not be empty"))
	}

	return errs
}

func (c *Config) validatePipeline() []error {
	var errs []error

	if c.Pipeline.MaxAttempts <= 0 {
		errs = append(errs, finerr.Errorf(finerr.CodeConfigValidateInvalidValue,
			"config: pipeline.max_attempts must be greater than 0, got %d",
			c.Pipeline.MaxAttempts,
		))
	}

	if c.Pipeline.RetryBaseMS <= 0 {
		errs = append(errs, finerr.Errorf(finerr.CodeConfigValidateInvalidValue,
			"config: pipeline.retry_base_ms must be greater than 0, got %d",
			c.Pipeline.RetryBaseMS,
		))
	}

	if c.Pipeline.StageTimeoutSeconds <= 0 {
		errs = append(errs, finerr.Errorf(finerr.CodeConfigValidateInvalidValue,
			"config: pipeline.stage_timeout_seconds must be greater than 0, got %d",
			c.Pipeline.StageTimeoutSeconds,
		))
	}

	return errs
}

func (c *Config) validateCompletion() []error {
	var errs []error

	switch c.Completion.Provider {
	case "static":
	case "openai":
		if c.Completion.APIKey == "" {
			errs = append(errs, finerr.Errorf(finerr.CodeConfigValidateInvalidValue,
				"config: completion.api_key is required when completion.provider is openai"))
		}
	default:
		errs = append(errs, finerr.Errorf(finerr.CodeConfigValidateInvalidValue,
			"config: completion.provider must be one of [static, openai], got %q",
			c.Completion.Provider,
		))
	}

	if c.Completion.TimeoutSeconds <= 0 {
		errs = append(errs, finerr.Errorf(finerr.CodeConfigValidateInvalidValue,
			"config: completion.timeout_seconds must be greater than 0, got %d",
			c.Completion.TimeoutSeconds,
		))
	}

	return errs
}

func (c *Config) validatePlugins() []error {
	var errs []error

	for i, name := range c.Plugins.Enabled {
		if !builtinPlugins[name] {
			errs = append(errs, finerr.Errorf(finerr.CodeConfigValidateInvalidValue,
				"config: plugins.enabled[%d] references unknown provider %q",
				i, name,
			))
		}
	}

	return errs
}
