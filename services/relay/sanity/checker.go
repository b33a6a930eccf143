// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package sanity implements fast, stateless plausibility checks on
// intermediate response text.
//
// Rules are data: each rule is a query trigger pattern, a numeric
// extractor pattern, and a plausible range. The checker ships with a
// battery-engineering rule set but functions with an empty table (it
// then never escalates on sanity grounds).
//
// Thread Safety:
//
//	Checker is immutable after construction and safe for concurrent use.
package sanity

import (
	"fmt"
	"log/slog"
	"regexp"
	"strconv"

	"github.com/AleutianAI/AleutianRelay/services/relay/datatypes"
)

// Category grades how serious an out-of-range finding is.
type Category string

const (
	// CategoryHard findings force severity high and specialist
	// escalation.
	CategoryHard Category = "hard"

	// CategorySoft findings yield severity medium.
	CategorySoft Category = "soft"
)

// Rule is one data-driven plausibility heuristic.
type Rule struct {
	// Name identifies the rule in issues and logs.
	Name string `yaml:"name"`

	// Category is hard or soft.
	Category Category `yaml:"category"`

	// QueryPattern is a regex the query must match for the rule to
	// apply.
	QueryPattern string `yaml:"query_pattern"`

	// ExtractPattern is a regex run over the response text. Capture
	// group 1 must be the numeric value to range-check.
	ExtractPattern string `yaml:"extract_pattern"`

	// Min and Max bound the plausible range, inclusive.
	Min float64 `yaml:"min"`
	Max float64 `yaml:"max"`

	// Message is a fmt template receiving the offending value.
	Message string `yaml:"message"`
}

type compiledRule struct {
	rule    Rule
	query   *regexp.Regexp
	extract *regexp.Regexp
}

// Checker applies a rule table to accumulated response text.
type Checker struct {
	rules  []compiledRule
	logger *slog.Logger
}

// NewChecker compiles the rule table.
//
// Inputs:
//
//	rules - Rule table. May be empty.
//	logger - Logger for rule firings. If nil, uses slog.Default().
//
// Outputs:
//
//	*Checker - Ready checker.
//	error - Non-nil if any pattern fails to compile or lacks a capture
//	group.
func NewChecker(rules []Rule, logger *slog.Logger) (*Checker, error) {
	if logger == nil {
		logger = slog.Default()
	}

	compiled := make([]compiledRule, 0, len(rules))
	for _, r := range rules {
		q, err := regexp.Compile(r.QueryPattern)
		if err != nil {
			return nil, fmt.Errorf("rule %q: compiling query pattern: %w", r.Name, err)
		}
		e, err := regexp.Compile(r.ExtractPattern)
		if err != nil {
			return nil, fmt.Errorf("rule %q: compiling extract pattern: %w", r.Name, err)
		}
		if e.NumSubexp() < 1 {
			return nil, fmt.Errorf("rule %q: extract pattern needs a capture group", r.Name)
		}
		compiled = append(compiled, compiledRule{rule: r, query: q, extract: e})
	}

	return &Checker{rules: compiled, logger: logger}, nil
}

// DefaultRules returns the battery-domain rule table.
//
// Single lithium cells live in a narrow envelope: the rules flag claims
// that put a cell's capacity or voltage far outside it.
func DefaultRules() []Rule {
	return []Rule{
		{
			Name:           "cell_capacity_ah",
			Category:       CategoryHard,
			QueryPattern:   `(?i)(capacity|\bmAh\b|\bAh\b|18650|21700|26650|\bcell\b)`,
			ExtractPattern: `(\d+(?:\.\d+)?)\s*Ah\b`,
			Min:            0.5,
			Max:            10,
			Message:        "claimed cell capacity %.1f Ah is outside the plausible 0.5-10 Ah range for a single cell",
		},
		{
			Name:           "cell_capacity_mah",
			Category:       CategoryHard,
			QueryPattern:   `(?i)(capacity|\bmAh\b|18650|21700|26650|\bcell\b)`,
			ExtractPattern: `(\d+(?:\.\d+)?)\s*mAh\b`,
			Min:            100,
			Max:            10000,
			Message:        "claimed cell capacity %.0f mAh is outside the plausible 100-10000 mAh range for a single cell",
		},
		{
			Name:           "cell_voltage",
			Category:       CategorySoft,
			QueryPattern:   `(?i)(voltage|\bcell\b|18650|21700|26650)`,
			ExtractPattern: `(\d+(?:\.\d+)?)\s*V\b`,
			Min:            2.0,
			Max:            4.5,
			Message:        "claimed per-cell voltage %.2f V is outside the plausible 2.0-4.5 V window",
		},
	}
}

// Check runs the rule table against the accumulated content for the
// given query.
//
// Description:
//
//	A rule applies when the query matches its trigger pattern. Every
//	extractor match in the content is range-checked; each out-of-range
//	value emits one issue. Severity is high when any hard rule fired,
//	medium when only soft rules fired, none otherwise.
//
// Outputs:
//
//	*datatypes.SanityResult - Never nil. Severity none iff no issues.
func (c *Checker) Check(query, content string) *datatypes.SanityResult {
	var issues []string
	hardFired := false

	for _, cr := range c.rules {
		if !cr.query.MatchString(query) {
			continue
		}
		for _, m := range cr.extract.FindAllStringSubmatch(content, -1) {
			value, err := strconv.ParseFloat(m[1], 64)
			if err != nil {
				continue
			}
			if value >= cr.rule.Min && value <= cr.rule.Max {
				continue
			}
			issues = append(issues, fmt.Sprintf(cr.rule.Message, value))
			if cr.rule.Category == CategoryHard {
				hardFired = true
			}
			c.logger.Warn("sanity rule fired",
				"rule", cr.rule.Name,
				"value", value,
				"min", cr.rule.Min,
				"max", cr.rule.Max,
			)
		}
	}

	severity := datatypes.SeverityNone
	if hardFired {
		severity = datatypes.SeverityHigh
	} else if len(issues) > 0 {
		severity = datatypes.SeverityMedium
	}

	return &datatypes.SanityResult{
		Suspicious: len(issues) > 0,
		Issues:     issues,
		Severity:   severity,
	}
}

// ShouldEscalate reports whether a sanity result warrants strong-tier
// specialist verification: suspicious with high severity. Any
// suspicious result is verified; this only selects the tier.
func ShouldEscalate(result *datatypes.SanityResult) bool {
	return result != nil && result.Suspicious && result.Severity == datatypes.SeverityHigh
}
