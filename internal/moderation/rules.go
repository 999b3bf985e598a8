// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Finsight Contributors

package moderation

import (
	"regexp"
	"strings"

	finerr "github.com/finsight-dev/finsight/pkg/errors"
)

// Kind is the detection category a rule belongs to. Categories are
// normative; the phrase lists behind compliance and borderline rules are
// configurable data.
type Kind string

const (
	KindPII        Kind = "pii"
	KindJailbreak  Kind = "jailbreak"
	KindCompliance Kind = "compliance"
	KindBorderline Kind = "borderline"
)

// Rule is one detection pattern. PII rules carry the fixed placeholder
// their matches are redacted to.
type Rule struct {
	Name        string
	Kind        Kind
	Pattern     *regexp.Regexp
	Placeholder string
}

// Lexicon holds the configurable phrase lists. Empty fields fall back to
// the defaults below.
type Lexicon struct {
	JailbreakPhrases []string
	ComplianceTerms  []string
	BorderlineTerms  []string
}

// piiRules are format-driven patterns for personally identifying data.
// Each category redacts to its own placeholder token.
func piiRules() []Rule {
	return []Rule{
		{
			Name:        "credit_card",
			Kind:        KindPII,
			Pattern:     regexp.MustCompile(`\b(?:\d{4}[-\s]?){3}\d{4}\b`),
			Placeholder: "[CREDIT_CARD_REDACTED]",
		},
		{
			Name:        "ssn",
			Kind:        KindPII,
			Pattern:     regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`),
			Placeholder: "[SSN_REDACTED]",
		},
		{
			Name:        "email",
			Kind:        KindPII,
			Pattern:     regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`),
			Placeholder: "[EMAIL_REDACTED]",
		},
		{
			Name:        "phone",
			Kind:        KindPII,
			Pattern:     regexp.MustCompile(`\b\d{3}[-.]\d{3}[-.]\d{4}\b`),
			Placeholder: "[PHONE_REDACTED]",
		},
		{
			Name:        "bank_account",
			Kind:        KindPII,
			Pattern:     regexp.MustCompile(`\b(?:account|acct)\s*(?:number|no\.?|#)?\s*:?\s*\d{8,17}\b`),
			Placeholder: "[BANK_ACCOUNT_REDACTED]",
		},
		{
			// Anchored on explicit DOB phrasing so ordinary dates in
			// market commentary are not redacted.
			Name:        "date_of_birth",
			Kind:        KindPII,
			Pattern:     regexp.MustCompile(`(?i)\b(?:date of birth|dob|born on)\s*:?\s*\d{1,2}[/-]\d{1,2}[/-]\d{2,4}\b`),
			Placeholder: "[DOB_REDACTED]",
		},
	}
}

// defaultJailbreakPhrases are instruction-override patterns (regex syntax).
var defaultJailbreakPhrases = []string{
	`ignore\s+(all\s+)?(previous|prior|above)\s+instructions`,
	`disregard\s+(all\s+)?(previous|prior|above)\s+(instructions|rules)`,
	`forget\s+(that\s+)?you\s+are`,
	`pretend\s+to\s+be`,
	`act\s+like\s+(a\s+)?different`,
	`bypass\s+(your\s+)?safety\s+guidelines`,
	`override\s+(your\s+)?restrictions`,
	`you\s+are\s+now\s+\w+[,.]?\s*(do|ignore|forget|disregard)`,
}

// defaultComplianceTerms are guaranteed-return and unlicensed-advice
// phrasings (plain substrings, matched case-insensitively).
var defaultComplianceTerms = []string{
	"guaranteed returns",
	"guaranteed profit",
	"guaranteed to make money",
	"risk-free investment",
	"risk-free returns",
	"zero risk investment",
	"cannot lose",
	"you should invest",
	"i recommend buying",
}

// defaultBorderlineTerms flag medium risk but never block on their own.
var defaultBorderlineTerms = []string{
	"get rich quick",
	"sure thing",
	"no risk",
	"double your money",
	"secret strategy",
	"insider information",
}

// buildRules compiles the full ordered rule list: PII, then jailbreak,
// then compliance, then borderline. Evaluation preserves this order so
// reported issues follow the detection order.
func buildRules(lex Lexicon) ([]Rule, error) {
	rules := piiRules()

	jailbreak := lex.JailbreakPhrases
	if len(jailbreak) == 0 {
		jailbreak = defaultJailbreakPhrases
	}
	for i, phrase := range jailbreak {
		pat, err := regexp.Compile(`(?i)` + phrase)
		if err != nil {
			return nil, finerr.Wrapf(err, finerr.CodeModerationRuleInvalid, "jailbreak pattern %d", i)
		}
		rules = append(rules, Rule{Name: "jailbreak", Kind: KindJailbreak, Pattern: pat})
	}

	compliance := lex.ComplianceTerms
	if len(compliance) == 0 {
		compliance = defaultComplianceTerms
	}
	for _, term := range compliance {
		rules = append(rules, Rule{
			Name:    "compliance:" + term,
			Kind:    KindCompliance,
			Pattern: regexp.MustCompile(`(?i)` + regexp.QuoteMeta(term)),
		})
	}

	borderline := lex.BorderlineTerms
	if len(borderline) == 0 {
		borderline = defaultBorderlineTerms
	}
	for _, term := range borderline {
		rules = append(rules, Rule{
			Name:    "borderline:" + term,
			Kind:    KindBorderline,
			Pattern: regexp.MustCompile(`(?i)` + regexp.QuoteMeta(term)),
		})
	}

	return rules, nil
}

// Disclaimer is the fixed block appended to outputs that trip compliance
// terms or lack any disclaimer language.
const Disclaimer = "\n\nDisclaimer: This information is for educational purposes only and " +
	"should not be considered personalized financial advice. Past performance does not " +
	"guarantee future results. Please consult with a qualified financial advisor before " +
	"making investment decisions."

// disclaimerMarkers detect whether output already carries disclaimer language.
var disclaimerMarkers = []string{
	"not financial advice",
	"not be considered personalized financial advice",
	"consult with a qualified financial advisor",
	"past performance does not guarantee",
	"investment involves risk",
}

func hasDisclaimer(text string) bool {
	lower := strings.ToLower(text)
	for _, marker := range disclaimerMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}
