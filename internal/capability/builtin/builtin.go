// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Finsight Contributors

// Package builtin ships the capability providers the registry rebuilds
// from manifests at startup: market-data, analysis, compliance, and risk.
package builtin

import (
	"fmt"

	"github.com/finsight-dev/finsight/internal/capability"
	"github.com/finsight-dev/finsight/internal/marketdata"
)

// Register adds factories for all builtin providers. The market data
// collaborator is shared by every market-data provider instance so
// reloads keep pointing at the same upstream.
func Register(reg *capability.Registry, md marketdata.Provider) error {
	factories := map[string]capability.Factory{
		"market-data": func() capability.Provider { return newMarketDataProvider(md) },
		"analysis":    func() capability.Provider { return newAnalysisProvider() },
		"compliance":  func() capability.Provider { return newComplianceProvider() },
		"risk":        func() capability.Provider { return newRiskProvider() },
	}

	for name, f := range factories {
		if err := reg.RegisterFactory(name, f); err != nil {
			return err
		}
	}
	return nil
}

// mustManifest parses an embedded manifest document. Manifests are
// compiled in, so a parse failure is a programmer error.
func mustManifest(data string) capability.Manifest {
	m, err := capability.ParseManifest([]byte(data))
	if err != nil {
		panic(fmt.Sprintf("builtin manifest: %v", err))
	}
	return *m
}

// stringArg extracts a string argument, with a default when absent.
func stringArg(args map[string]any, key, fallback string) string {
	if v, ok := args[key].(string); ok && v != "" {
		return v
	}
	return fallback
}

// floatArg extracts a numeric argument, tolerating int and float inputs.
func floatArg(args map[string]any, key string, fallback float64) float64 {
	switch v := args[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	default:
		return fallback
	}
}
