// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Finsight Contributors

package builtin

import (
	"context"
	"strings"

	"github.com/finsight-dev/finsight/internal/capability"
	finerr "github.com/finsight-dev/finsight/pkg/errors"
)

const complianceManifest = `
name: compliance
version: 1.3.0
description: Regulatory checks and disclosure guidance for generated advice.
category: compliance
tools:
  - name: check_compliance
    description: Flag guaranteed-return and unlicensed-advice phrasing in content.
    input_schema:
      content: string
  - name: get_regulatory_guidance
    description: Guidance, requirements, and references for a regulatory topic.
    input_schema:
      topic: "string (investment advice|securities|portfolio management)"
  - name: check_disclosure_requirements
    description: Disclosures required before presenting a recommendation.
    input_schema:
      content: string
config_schema:
  strict_mode: bool
`

// prohibitedTerms is phrasing that must never appear in advice output.
var prohibitedTerms = []string{
	"guaranteed returns",
	"guaranteed profit",
	"risk-free investment",
	"risk-free returns",
	"no risk",
	"sure thing",
	"cannot lose",
	"get rich quick",
	"insider information",
}

// adviceTriggers is phrasing that requires a disclaimer alongside it.
var adviceTriggers = []string{
	"you should invest",
	"i recommend buying",
	"best investment",
}

type regulatoryTopic struct {
	Guidance     string   `json:"guidance"`
	Requirements []string `json:"requirements"`
	References   []string `json:"references"`
}

var guidanceTopics = map[string]regulatoryTopic{
	"investment advice": {
		Guidance:     "Investment advice must include appropriate disclaimers and suitability assessments.",
		Requirements: []string{"Suitability determination", "Risk disclosure", "Fiduciary duty consideration"},
		References:   []string{"Investment Advisers Act of 1940", "SEC Release IA-1092"},
	},
	"securities": {
		Guidance:     "Securities recommendations must comply with FINRA rules and SEC regulations.",
		Requirements: []string{"Know Your Customer", "Suitability", "Best execution"},
		References:   []string{"FINRA Rule 2111", "Securities Act of 1933"},
	},
	"portfolio management": {
		Guidance:     "Portfolio management services require proper registration and disclosure.",
		Requirements: []string{"ADV filing", "Client agreements", "Performance reporting"},
		References:   []string{"Investment Advisers Act", "SEC Form ADV"},
	},
}

type complianceProvider struct {
	manifest   capability.Manifest
	strictMode bool
}

func newComplianceProvider() *complianceProvider {
	return &complianceProvider{manifest: mustManifest(complianceManifest)}
}

func (p *complianceProvider) Manifest() capability.Manifest { return p.manifest }

func (p *complianceProvider) Init(_ context.Context, config map[string]any) error {
	if v, ok := config["strict_mode"].(bool); ok {
		p.strictMode = v
	} else {
		p.strictMode = true
	}
	return nil
}

func (p *complianceProvider) Invoke(ctx context.Context, tool string, args map[string]any) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	switch tool {
	case "check_compliance":
		return p.checkCompliance(stringArg(args, "content", "")), nil
	case "get_regulatory_guidance":
		return p.regulatoryGuidance(stringArg(args, "topic", "investment advice")), nil
	case "check_disclosure_requirements":
		return p.disclosureRequirements(stringArg(args, "content", "")), nil
	default:
		return nil, finerr.New(finerr.CodePluginToolNotFound, "unknown tool", finerr.FieldTool(tool))
	}
}

func (p *complianceProvider) Close(context.Context) error { return nil }

func (p *complianceProvider) checkCompliance(content string) map[string]any {
	lower := strings.ToLower(content)
	var issues []string

	for _, term := range prohibitedTerms {
		if strings.Contains(lower, term) {
			issues = append(issues, "prohibited phrasing: "+term)
		}
	}

	hasDisclaimer := strings.Contains(lower, "not financial advice") ||
		strings.Contains(lower, "consult with a qualified financial advisor")
	for _, trigger := range adviceTriggers {
		if strings.Contains(lower, trigger) && !hasDisclaimer {
			issues = append(issues, "advice phrasing without disclaimer: "+trigger)
		}
	}

	return map[string]any{
		"compliant":   len(issues) == 0,
		"issues":      issues,
		"strict_mode": p.strictMode,
	}
}

func (p *complianceProvider) regulatoryGuidance(topic string) map[string]any {
	t, ok := guidanceTopics[strings.ToLower(topic)]
	if !ok {
		return map[string]any{
			"topic":    topic,
			"guidance": "No specific guidance recorded for this topic; general suitability and disclosure rules apply.",
		}
	}
	return map[string]any{
		"topic":        topic,
		"guidance":     t.Guidance,
		"requirements": t.Requirements,
		"references":   t.References,
	}
}

func (p *complianceProvider) disclosureRequirements(content string) map[string]any {
	required := []string{"Educational purpose statement", "Risk of loss disclosure"}

	lower := strings.ToLower(content)
	if strings.Contains(lower, "allocation") || strings.Contains(lower, "portfolio") {
		required = append(required, "Past performance disclaimer")
	}
	if strings.Contains(lower, "specific") || strings.Contains(lower, "recommend") {
		required = append(required, "Suitability assessment notice")
	}

	return map[string]any{
		"required_disclosures": required,
	}
}
