// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Finsight Contributors

package moderation

import (
	"sort"
	"strings"
	"sync/atomic"

	"golang.org/x/text/unicode/norm"
)

// RiskLevel orders moderation severity. Aggregation takes the maximum
// across all matched rules.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

var riskRank = map[RiskLevel]int{
	RiskLow:      0,
	RiskMedium:   1,
	RiskHigh:     2,
	RiskCritical: 3,
}

func maxRisk(a, b RiskLevel) RiskLevel {
	if riskRank[b] > riskRank[a] {
		return b
	}
	return a
}

// Verdict is the result of moderating one piece of text.
//
// SanitizedText is never empty: when no rewriting was needed it carries
// the original text unchanged, so callers can always forward it.
type Verdict struct {
	Passed        bool      `json:"passed"`
	RiskLevel     RiskLevel `json:"risk_level"`
	Issues        []string  `json:"issues"`
	SanitizedText string    `json:"sanitized_text"`
}

// Stats counts gate activity since process start.
type Stats struct {
	InputsChecked  uint64 `json:"inputs_checked"`
	OutputsChecked uint64 `json:"outputs_checked"`
	InputsBlocked  uint64 `json:"inputs_blocked"`
	Redactions     uint64 `json:"redactions"`
}

// Options configures a Gate.
type Options struct {
	// ComplianceChecking gates input blocking. When false, inputs are
	// still scanned and redacted but never blocked.
	ComplianceChecking bool
	// Lexicon overrides the default phrase lists. Zero value keeps defaults.
	Lexicon Lexicon
}

// Gate is the synchronous moderation checkpoint. Both user input and
// generated output pass through it; evaluation is pure and deterministic
// for a fixed rule set.
type Gate struct {
	rules              []Rule
	complianceChecking bool

	inputsChecked  atomic.Uint64
	outputsChecked atomic.Uint64
	inputsBlocked  atomic.Uint64
	redactions     atomic.Uint64
}

func NewGate(opts Options) (*Gate, error) {
	rules, err := buildRules(opts.Lexicon)
	if err != nil {
		return nil, err
	}
	return &Gate{
		rules:              rules,
		complianceChecking: opts.ComplianceChecking,
	}, nil
}

// ComplianceChecking reports whether input blocking is enabled.
func (g *Gate) ComplianceChecking() bool { return g.complianceChecking }

// ModerateInput scans user-supplied text before it enters the pipeline.
// The input is blocked when risk reaches high or critical and compliance
// checking is enabled. PII is redacted regardless of the block decision.
func (g *Gate) ModerateInput(text string) Verdict {
	g.inputsChecked.Add(1)

	eval := g.evaluate(text)

	blocked := g.complianceChecking && riskRank[eval.risk] >= riskRank[RiskHigh]
	if blocked {
		g.inputsBlocked.Add(1)
	}

	return Verdict{
		Passed:        !blocked,
		RiskLevel:     eval.risk,
		Issues:        eval.issues,
		SanitizedText: eval.sanitized,
	}
}

// ModerateOutput scans generated text before it is returned. Output is
// never blocked; PII is redacted and a disclaimer is appended when
// compliance terms matched or no disclaimer language is present.
func (g *Gate) ModerateOutput(text string) Verdict {
	g.outputsChecked.Add(1)

	eval := g.evaluate(text)

	sanitized := eval.sanitized
	issues := eval.issues
	risk := eval.risk

	if eval.complianceHit || !hasDisclaimer(sanitized) {
		sanitized += Disclaimer
		if !eval.complianceHit {
			issues = append(issues, "missing required financial disclaimer")
			risk = maxRisk(risk, RiskMedium)
		}
	}

	return Verdict{
		Passed:        true,
		RiskLevel:     risk,
		Issues:        issues,
		SanitizedText: sanitized,
	}
}

// Stats returns a snapshot of the gate counters.
func (g *Gate) Stats() Stats {
	return Stats{
		InputsChecked:  g.inputsChecked.Load(),
		OutputsChecked: g.outputsChecked.Load(),
		InputsBlocked:  g.inputsBlocked.Load(),
		Redactions:     g.redactions.Load(),
	}
}

type evaluation struct {
	risk          RiskLevel
	issues        []string
	sanitized     string
	complianceHit bool
}

// evaluate runs every rule against the normalized text and aggregates
// the result. Rule order in g.rules fixes the issue order.
func (g *Gate) evaluate(text string) evaluation {
	normalized := normalize(text)

	eval := evaluation{risk: RiskLow, sanitized: normalized}

	type redaction struct {
		start, end  int
		placeholder string
	}
	var redactions []redaction

	for _, rule := range g.rules {
		locs := rule.Pattern.FindAllStringIndex(normalized, -1)
		if len(locs) == 0 {
			continue
		}

		switch rule.Kind {
		case KindPII:
			eval.risk = maxRisk(eval.risk, RiskHigh)
			eval.issues = append(eval.issues, "pii detected: "+rule.Name)
			for _, loc := range locs {
				redactions = append(redactions, redaction{loc[0], loc[1], rule.Placeholder})
			}
		case KindJailbreak:
			eval.risk = maxRisk(eval.risk, RiskCritical)
			eval.issues = append(eval.issues, "instruction override attempt detected")
		case KindCompliance:
			eval.risk = maxRisk(eval.risk, RiskHigh)
			eval.complianceHit = true
			eval.issues = append(eval.issues, "compliance violation: "+strings.TrimPrefix(rule.Name, "compliance:"))
		case KindBorderline:
			eval.risk = maxRisk(eval.risk, RiskMedium)
			eval.issues = append(eval.issues, "borderline phrasing: "+strings.TrimPrefix(rule.Name, "borderline:"))
		}
	}

	if len(redactions) > 0 {
		// Earlier matches win when spans overlap. Sort by start, then
		// longer span first so a contained match cannot split its host.
		sort.Slice(redactions, func(i, j int) bool {
			if redactions[i].start != redactions[j].start {
				return redactions[i].start < redactions[j].start
			}
			return redactions[i].end > redactions[j].end
		})

		var b strings.Builder
		last := 0
		for _, r := range redactions {
			if r.start < last {
				continue
			}
			b.WriteString(normalized[last:r.start])
			b.WriteString(r.placeholder)
			last = r.end
			g.redactions.Add(1)
		}
		b.WriteString(normalized[last:])
		eval.sanitized = b.String()
	}

	return eval
}

// invisibleCharReplacer strips zero-width and other invisible Unicode
// characters that would otherwise let obfuscated text slip past the rules.
// Allocated once at package init.
var invisibleCharReplacer = strings.NewReplacer(
	"\u200b", "", // zero-width space
	"\u200c", "", // zero-width non-joiner
	"\u200d", "", // zero-width joiner
	"\ufeff", "", // zero-width no-break space / BOM
	"\u00ad", "", // soft hyphen
	"\u2060", "", // word joiner
	"\u2063", "", // invisible separator
)

// normalize strips invisible characters and folds the text to NFKC so
// compatibility equivalents collapse before matching.
func normalize(s string) string {
	s = invisibleCharReplacer.Replace(s)
	return norm.NFKC.String(s)
}
