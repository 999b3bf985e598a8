// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Finsight Contributors

package builtin

import (
	"context"
	"strings"

	"github.com/finsight-dev/finsight/internal/capability"
	finerr "github.com/finsight-dev/finsight/pkg/errors"
)

const riskManifest = `
name: risk
version: 1.0.1
description: Deterministic risk scoring for user financial profiles.
category: risk
tools:
  - name: score_profile
    description: Score a profile 0-100 and map it to a risk tier.
    input_schema:
      risk_tolerance: "string (conservative|moderate|aggressive)"
      age: int
      income: float
      horizon: "string (short-term|medium-term|long-term)"
  - name: capacity_check
    description: Estimate loss capacity from age and income.
    input_schema:
      age: int
      income: float
`

type riskProvider struct {
	manifest capability.Manifest
}

func newRiskProvider() *riskProvider {
	return &riskProvider{manifest: mustManifest(riskManifest)}
}

func (p *riskProvider) Manifest() capability.Manifest { return p.manifest }

func (p *riskProvider) Init(context.Context, map[string]any) error { return nil }

func (p *riskProvider) Invoke(ctx context.Context, tool string, args map[string]any) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	switch tool {
	case "score_profile":
		return scoreProfile(args), nil
	case "capacity_check":
		return capacityCheck(args), nil
	default:
		return nil, finerr.New(finerr.CodePluginToolNotFound, "unknown tool", finerr.FieldTool(tool))
	}
}

func (p *riskProvider) Close(context.Context) error { return nil }

// scoreProfile maps tolerance, age, income, and horizon to a 0-100 score.
// The function is a pure table: identical inputs always score identically.
func scoreProfile(args map[string]any) map[string]any {
	score := 50.0
	switch strings.ToLower(stringArg(args, "risk_tolerance", "moderate")) {
	case "conservative":
		score = 25
	case "aggressive":
		score = 75
	}

	age := floatArg(args, "age", 35)
	ageAdj := (65 - age) / 3
	if ageAdj > 10 {
		ageAdj = 10
	}
	if ageAdj < -10 {
		ageAdj = -10
	}
	score += ageAdj

	income := floatArg(args, "income", 0)
	switch {
	case income >= 150000:
		score += 5
	case income > 0 && income < 30000:
		score -= 5
	}

	switch strings.ToLower(stringArg(args, "horizon", "medium-term")) {
	case "long-term":
		score += 5
	case "short-term":
		score -= 5
	}

	if score < 5 {
		score = 5
	}
	if score > 95 {
		score = 95
	}

	tier := "moderate"
	switch {
	case score <= 35:
		tier = "conservative"
	case score > 65:
		tier = "aggressive"
	}

	return map[string]any{
		"risk_score": score,
		"tier":       tier,
	}
}

// capacityCheck estimates how much drawdown a profile can absorb.
func capacityCheck(args map[string]any) map[string]any {
	age := floatArg(args, "age", 35)
	income := floatArg(args, "income", 0)

	capacity := "medium"
	switch {
	case age >= 60 || income < 30000:
		capacity = "low"
	case age <= 40 && income >= 100000:
		capacity = "high"
	}

	return map[string]any{
		"capacity": capacity,
	}
}
