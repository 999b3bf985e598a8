// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Finsight Contributors

package pipeline

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/finsight-dev/finsight/internal/capability"
	finerr "github.com/finsight-dev/finsight/pkg/errors"
)

// Stage names, in execution order.
const (
	StageRiskAssessment      = "risk_assessment"
	StageMarketAnalysis      = "market_analysis"
	StagePortfolioGeneration = "portfolio_generation"
	StageReportGeneration    = "report_generation"
)

// DefaultStages returns the standard four-stage analysis sequence.
func DefaultStages() []Stage {
	return []Stage{
		riskAssessmentStage{},
		marketAnalysisStage{},
		portfolioGenerationStage{},
		reportGenerationStage{},
	}
}

// marketIndexes are the symbols sampled for sentiment.
var marketIndexes = []string{"^GSPC", "^IXIC", "^DJI"}

// baseAllocations maps a risk tier to its asset split (percent). The
// conservative tier keeps bonds at or above stocks; adjustments must
// preserve that.
var baseAllocations = map[string]map[string]float64{
	"conservative": {
		"bonds": 45, "stocks": 25, "cash": 15, "real_estate": 10, "etfs": 5,
	},
	"moderate": {
		"stocks": 50, "bonds": 25, "etfs": 10, "real_estate": 8, "cash": 5, "reits": 2,
	},
	"aggressive": {
		"stocks": 65, "bonds": 15, "etfs": 10, "real_estate": 5, "crypto": 3, "commodities": 2,
	},
}

// findTool resolves a named tool from a category snapshot.
func findTool(tools []capability.ToolDescriptor, name string) (capability.ToolDescriptor, bool) {
	for _, t := range tools {
		if t.Name == name {
			return t, true
		}
	}
	return capability.ToolDescriptor{}, false
}

// degradable reports whether a collaborator failure should downgrade the
// stage result instead of failing the run. Cancellation and unexpected
// internal errors still propagate to the executor.
func degradable(ctx context.Context, err error) bool {
	if err == nil || ctx.Err() != nil {
		return false
	}
	return finerr.HasCode(err, finerr.CodePluginToolInvokeFailure) ||
		finerr.HasCode(err, finerr.CodeMarketDataUnavailable) ||
		finerr.HasCode(err, finerr.CodeCompletionUpstreamFailure)
}

type riskAssessmentStage struct{}

func (riskAssessmentStage) Name() string { return StageRiskAssessment }

// Run scores the profile through the risk category. When risk tools are
// missing or failing it falls back to the tolerance the user stated, at
// reduced confidence, and marks the result degraded.
func (riskAssessmentStage) Run(ctx context.Context, deps Deps, run *Context) (StageResult, error) {
	tools := deps.Tools.ToolsFor(capability.CategoryRisk)

	scoreTool, ok := findTool(tools, "score_profile")
	if !ok {
		return statedToleranceResult(run, "risk tools unavailable, using stated tolerance"), nil
	}

	out, err := scoreTool.Invoke(ctx, map[string]any{
		"risk_tolerance": run.Profile.RiskTolerance,
		"age":            run.Profile.Age,
		"income":         run.Profile.Income,
		"horizon":        run.Profile.Horizon,
	})
	if err != nil {
		if !degradable(ctx, err) {
			return StageResult{}, err
		}
		return statedToleranceResult(run, "risk scoring failed, using stated tolerance"), nil
	}

	raw, _ := out.(map[string]any)
	if raw == nil {
		raw = map[string]any{}
	}

	var issues []string
	if capTool, ok := findTool(tools, "capacity_check"); ok {
		capOut, err := capTool.Invoke(ctx, map[string]any{
			"age":    run.Profile.Age,
			"income": run.Profile.Income,
		})
		if err != nil {
			if !degradable(ctx, err) {
				return StageResult{}, err
			}
			issues = append(issues, "capacity check failed")
		} else if m, ok := capOut.(map[string]any); ok {
			raw["capacity"] = m["capacity"]
		}
	} else {
		issues = append(issues, "capacity check unavailable")
	}

	return StageResult{Raw: raw, Issues: issues, Confidence: 0.9}, nil
}

// statedToleranceResult is the degraded risk assessment used when no
// score can be computed: take the tolerance the user stated at face value.
func statedToleranceResult(run *Context, issue string) StageResult {
	tier := strings.ToLower(run.Profile.RiskTolerance)
	return StageResult{
		Raw: map[string]any{
			"risk_score": fallbackScore(tier),
			"tier":       tier,
		},
		Degraded:   true,
		Issues:     []string{issue},
		Confidence: 0.5,
	}
}

func fallbackScore(tier string) float64 {
	switch tier {
	case "conservative":
		return 25
	case "aggressive":
		return 75
	default:
		return 50
	}
}

type marketAnalysisStage struct{}

func (marketAnalysisStage) Name() string { return StageMarketAnalysis }

// Run samples the tracked indexes and condenses them into a sentiment.
// Missing or failing market-data tools degrade to a neutral read rather
// than fail; a symbol whose quote errors is skipped.
func (marketAnalysisStage) Run(ctx context.Context, deps Deps, run *Context) (StageResult, error) {
	mdTools := deps.Tools.ToolsFor(capability.CategoryMarketData)

	quoteTool, ok := findTool(mdTools, "get_quote")
	if !ok {
		return StageResult{
			Raw: map[string]any{
				"sentiment": "neutral",
				"score":     0.0,
				"samples":   0,
			},
			Degraded:   true,
			Issues:     []string{"market data unavailable, assuming neutral conditions"},
			Confidence: 0.4,
		}, nil
	}

	var issues []string
	degraded := false

	changes := make([]any, 0, len(marketIndexes))
	quotes := make(map[string]any, len(marketIndexes))
	for _, symbol := range marketIndexes {
		out, err := quoteTool.Invoke(ctx, map[string]any{"symbol": symbol})
		if err != nil {
			if !degradable(ctx, err) {
				return StageResult{}, err
			}
			issues = append(issues, "quote unavailable for "+symbol)
			degraded = true
			continue
		}
		quotes[symbol] = out
		if pct, ok := changePercent(out); ok {
			changes = append(changes, pct)
		}
	}

	raw := map[string]any{"quotes": quotes}

	sentimentTool, haveSentiment := findTool(deps.Tools.ToolsFor(capability.CategoryAnalysis), "market_sentiment")
	if haveSentiment {
		out, err := sentimentTool.Invoke(ctx, map[string]any{"changes": changes})
		if err != nil {
			if !degradable(ctx, err) {
				return StageResult{}, err
			}
			haveSentiment = false
			issues = append(issues, "sentiment scoring failed, defaulted to neutral")
			degraded = true
		} else if m, ok := out.(map[string]any); ok {
			raw["sentiment"] = m["sentiment"]
			raw["score"] = m["score"]
			raw["samples"] = m["samples"]
		}
	} else {
		issues = append(issues, "analysis tools unavailable, sentiment defaulted to neutral")
		degraded = true
	}
	if !haveSentiment {
		raw["sentiment"] = "neutral"
		raw["score"] = 0.0
		raw["samples"] = len(changes)
	}

	confidence := 0.85
	if degraded {
		confidence = 0.5
	}
	return StageResult{Raw: raw, Degraded: degraded, Issues: issues, Confidence: confidence}, nil
}

// changePercent digs the change percent out of a quote payload, which
// may be a struct marshaled through JSON or a plain map.
func changePercent(quote any) (float64, bool) {
	m, ok := quote.(map[string]any)
	if !ok {
		return 0, false
	}
	switch v := m["change_percent"].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	}
	return 0, false
}

type portfolioGenerationStage struct{}

func (portfolioGenerationStage) Name() string { return StagePortfolioGeneration }

// Run builds an allocation from the risk tier and tilts it by market
// sentiment. Conservative allocations never let stocks overtake bonds.
func (portfolioGenerationStage) Run(ctx context.Context, deps Deps, run *Context) (StageResult, error) {
	tier, ok := run.rawString(StageRiskAssessment, "tier")
	if !ok {
		tier = strings.ToLower(run.Profile.RiskTolerance)
	}
	base, ok := baseAllocations[tier]
	if !ok {
		base = baseAllocations["moderate"]
		tier = "moderate"
	}

	allocation := make(map[string]float64, len(base))
	for asset, pct := range base {
		allocation[asset] = pct
	}

	sentiment, _ := run.rawString(StageMarketAnalysis, "sentiment")
	rationale := tiltAllocation(allocation, tier, sentiment)

	raw := map[string]any{
		"tier":       tier,
		"allocation": allocationAny(allocation),
		"rationale":  rationale,
	}
	if score, ok := run.rawFloat(StageRiskAssessment, "risk_score"); ok {
		raw["risk_score"] = score
	}

	var issues []string
	degraded := false
	if reviewTool, ok := findTool(deps.Tools.ToolsFor(capability.CategoryAnalysis), "allocation_review"); ok {
		out, err := reviewTool.Invoke(ctx, map[string]any{"allocation": allocationAny(allocation)})
		if err != nil {
			if !degradable(ctx, err) {
				return StageResult{}, err
			}
			issues = append(issues, "allocation review failed")
			degraded = true
		} else if m, ok := out.(map[string]any); ok {
			raw["review"] = m
			if valid, ok := m["valid"].(bool); ok && !valid {
				issues = append(issues, "allocation review reported issues")
			}
		}
	} else {
		issues = append(issues, "allocation review skipped, analysis tools unavailable")
		degraded = true
	}

	confidence := 0.9
	if degraded {
		confidence = 0.7
	}
	return StageResult{Raw: raw, Degraded: degraded, Issues: issues, Confidence: confidence}, nil
}

// tiltAllocation shifts five points between stocks and bonds on a
// directional market read. The conservative tier is left untouched so
// bonds stay at or above stocks.
func tiltAllocation(allocation map[string]float64, tier, sentiment string) string {
	if tier == "conservative" {
		return "allocation held at the conservative baseline"
	}
	switch sentiment {
	case "bullish":
		allocation["stocks"] += 5
		allocation["bonds"] -= 5
		return "bullish market read, shifted 5% from bonds to stocks"
	case "bearish":
		allocation["stocks"] -= 5
		allocation["bonds"] += 5
		return "bearish market read, shifted 5% from stocks to bonds"
	default:
		return "neutral market read, allocation held at baseline"
	}
}

// allocationAny converts for tool arguments and JSON persistence.
func allocationAny(allocation map[string]float64) map[string]any {
	out := make(map[string]any, len(allocation))
	for asset, pct := range allocation {
		out[asset] = pct
	}
	return out
}

type reportGenerationStage struct{}

func (reportGenerationStage) Name() string { return StageReportGeneration }

// Run renders the narrative report from the accumulated stage results
// and collects the disclosures compliance requires alongside it. The
// narrative is the one non-deterministic field in the run.
func (reportGenerationStage) Run(ctx context.Context, deps Deps, run *Context) (StageResult, error) {
	promptCtx := map[string]any{
		"request":        run.Request,
		"risk_tolerance": run.Profile.RiskTolerance,
		"horizon":        run.Profile.Horizon,
	}
	if tier, ok := run.rawString(StageRiskAssessment, "tier"); ok {
		promptCtx["risk_tier"] = tier
	}
	if score, ok := run.rawFloat(StageRiskAssessment, "risk_score"); ok {
		promptCtx["risk_score"] = score
	}
	if sentiment, ok := run.rawString(StageMarketAnalysis, "sentiment"); ok {
		promptCtx["market_sentiment"] = sentiment
	}
	if sr, ok := run.StageResult(StagePortfolioGeneration); ok {
		promptCtx["allocation"] = summarizeAllocation(sr.Raw["allocation"])
	}

	raw := map[string]any{}
	var issues []string
	degraded := false

	narrative, err := deps.Completer.Complete(ctx,
		"Write a concise financial analysis report for this profile.", promptCtx)
	if err != nil {
		if !degradable(ctx, err) {
			return StageResult{}, err
		}
		narrative = fallbackNarrative(promptCtx)
		issues = append(issues, "narrative service unavailable, using summary fallback")
		degraded = true
	}

	complianceTools := deps.Tools.ToolsFor(capability.CategoryCompliance)
	if checkTool, ok := findTool(complianceTools, "check_compliance"); ok {
		out, err := checkTool.Invoke(ctx, map[string]any{"content": narrative})
		if err != nil {
			if !degradable(ctx, err) {
				return StageResult{}, err
			}
			issues = append(issues, "compliance review failed")
			degraded = true
		} else if m, ok := out.(map[string]any); ok {
			raw["compliance"] = m
		}
	} else {
		issues = append(issues, "compliance review skipped, compliance tools unavailable")
		degraded = true
	}
	if discTool, ok := findTool(complianceTools, "check_disclosure_requirements"); ok {
		out, err := discTool.Invoke(ctx, map[string]any{"content": narrative})
		if err != nil {
			if !degradable(ctx, err) {
				return StageResult{}, err
			}
			issues = append(issues, "disclosure check failed")
		} else if m, ok := out.(map[string]any); ok {
			raw["required_disclosures"] = m["required_disclosures"]
		}
	}

	confidence := 0.85
	if degraded {
		confidence = 0.6
	}
	return StageResult{
		Raw:        raw,
		Narrative:  narrative,
		Degraded:   degraded,
		Issues:     issues,
		Confidence: confidence,
	}, nil
}

// fallbackNarrative renders a fixed-form report from the accumulated
// stage context so the run still carries a readable result when the
// completer is down. Output is deterministic for a given context.
func fallbackNarrative(cc map[string]any) string {
	keys := make([]string, 0, len(cc))
	for k := range cc {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString("Financial analysis summary.")
	for _, k := range keys {
		fmt.Fprintf(&b, "\n- %s: %v", strings.ReplaceAll(k, "_", " "), cc[k])
	}
	b.WriteString("\nAll investments involve risk, and this summary is informational only.")
	return b.String()
}

// summarizeAllocation renders an allocation map as a stable
// "asset pct%" listing, sorted by asset name.
func summarizeAllocation(raw any) string {
	m, ok := raw.(map[string]any)
	if !ok || len(m) == 0 {
		return ""
	}
	assets := make([]string, 0, len(m))
	for asset := range m {
		assets = append(assets, asset)
	}
	sort.Strings(assets)

	parts := make([]string, 0, len(assets))
	for _, asset := range assets {
		if pct, ok := m[asset].(float64); ok {
			parts = append(parts, fmt.Sprintf("%s %s%%", asset, trimFloat(pct)))
		}
	}
	return strings.Join(parts, ", ")
}

func trimFloat(f float64) string {
	if f == math.Trunc(f) {
		return fmt.Sprintf("%.0f", f)
	}
	return fmt.Sprintf("%.2f", f)
}
