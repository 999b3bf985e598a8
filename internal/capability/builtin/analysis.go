// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Finsight Contributors

package builtin

import (
	"context"
	"math"

	"github.com/finsight-dev/finsight/internal/capability"
	finerr "github.com/finsight-dev/finsight/pkg/errors"
)

const analysisManifest = `
name: analysis
version: 1.1.0
description: Deterministic market sentiment and allocation review.
category: analysis
tools:
  - name: market_sentiment
    description: Aggregate a set of daily change percents into a sentiment label and score.
    input_schema:
      changes: "list of float (daily change percent per index)"
  - name: allocation_review
    description: Sanity-check an allocation map (percent per asset class).
    input_schema:
      allocation: "map of asset class to percent"
`

type analysisProvider struct {
	manifest capability.Manifest
}

func newAnalysisProvider() *analysisProvider {
	return &analysisProvider{manifest: mustManifest(analysisManifest)}
}

func (p *analysisProvider) Manifest() capability.Manifest { return p.manifest }

func (p *analysisProvider) Init(context.Context, map[string]any) error { return nil }

func (p *analysisProvider) Invoke(ctx context.Context, tool string, args map[string]any) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	switch tool {
	case "market_sentiment":
		return sentimentFromChanges(args["changes"]), nil
	case "allocation_review":
		return reviewAllocation(args["allocation"])
	default:
		return nil, finerr.New(finerr.CodePluginToolNotFound, "unknown tool", finerr.FieldTool(tool))
	}
}

func (p *analysisProvider) Close(context.Context) error { return nil }

// sentimentFromChanges averages daily change percents into a label.
// Thresholds: mean >= +0.25 bullish, <= -0.25 bearish, else neutral.
func sentimentFromChanges(raw any) map[string]any {
	changes, _ := raw.([]any)

	var sum float64
	var n int
	for _, c := range changes {
		switch v := c.(type) {
		case float64:
			sum += v
			n++
		case int:
			sum += float64(v)
			n++
		}
	}

	mean := 0.0
	if n > 0 {
		mean = sum / float64(n)
	}

	label := "neutral"
	switch {
	case mean >= 0.25:
		label = "bullish"
	case mean <= -0.25:
		label = "bearish"
	}

	return map[string]any{
		"sentiment": label,
		"score":     math.Round(mean*100) / 100,
		"samples":   n,
	}
}

// reviewAllocation verifies percentages are non-negative and sum to 100.
func reviewAllocation(raw any) (any, error) {
	allocation, ok := raw.(map[string]any)
	if !ok || len(allocation) == 0 {
		return nil, finerr.New(finerr.CodePluginToolInvokeFailure, "allocation_review requires a non-empty allocation map")
	}

	var total float64
	var issues []string
	for asset := range allocation {
		pct := floatArg(allocation, asset, 0)
		if pct < 0 {
			issues = append(issues, "negative allocation for "+asset)
		}
		total += pct
	}

	if math.Abs(total-100) > 0.01 {
		issues = append(issues, "allocation does not sum to 100")
	}

	return map[string]any{
		"total":  math.Round(total*100) / 100,
		"valid":  len(issues) == 0,
		"issues": issues,
	}, nil
}
