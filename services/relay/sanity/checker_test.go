// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package sanity

import (
	"testing"

	"github.com/AleutianAI/AleutianRelay/services/relay/datatypes"
)

func defaultChecker(t *testing.T) *Checker {
	t.Helper()
	c, err := NewChecker(DefaultRules(), nil)
	if err != nil {
		t.Fatalf("NewChecker: %v", err)
	}
	return c
}

func TestCheckImplausibleCapacity(t *testing.T) {
	c := defaultChecker(t)

	// The Samsung 50E is a 5.0 Ah cell; 25 Ah is off by 5x.
	result := c.Check(
		"What's the capacity of Samsung 50E 21700?",
		"The Samsung 50E has a capacity of 25Ah per cell.",
	)

	if !result.Suspicious {
		t.Fatal("25 Ah single-cell claim should be suspicious")
	}
	if result.Severity != datatypes.SeverityHigh {
		t.Errorf("capacity is a hard rule, severity = %q", result.Severity)
	}
	if len(result.Issues) == 0 {
		t.Error("expected at least one issue")
	}
	if !ShouldEscalate(result) {
		t.Error("high-severity suspicious result must escalate")
	}
}

func TestCheckPlausibleContent(t *testing.T) {
	c := defaultChecker(t)

	result := c.Check(
		"What's the capacity of Samsung 50E 21700?",
		"The Samsung 50E is rated at 5.0 Ah (5000 mAh) nominal at 3.6 V.",
	)

	if result.Suspicious {
		t.Errorf("plausible claims flagged: %v", result.Issues)
	}
	if result.Severity != datatypes.SeverityNone {
		t.Errorf("severity = %q, want none", result.Severity)
	}
	if ShouldEscalate(result) {
		t.Error("clean result must not escalate")
	}
}

func TestCheckQueryGating(t *testing.T) {
	c := defaultChecker(t)

	// Same implausible content, but the query is not about cells, so
	// no rule applies.
	result := c.Check("Tell me about the weather", "around 25Ah yesterday")
	if result.Suspicious {
		t.Errorf("rules should be gated on the query, got issues %v", result.Issues)
	}
}

func TestCheckSoftRuleSeverity(t *testing.T) {
	c := defaultChecker(t)

	result := c.Check(
		"What is the nominal voltage of a 21700 cell?",
		"Each cell runs at 12 V nominal.",
	)

	if !result.Suspicious {
		t.Fatal("12 V per cell should be suspicious")
	}
	if result.Severity != datatypes.SeverityMedium {
		t.Errorf("voltage is a soft rule, severity = %q", result.Severity)
	}
	if ShouldEscalate(result) {
		t.Error("medium severity must not escalate")
	}
}

func TestMilliampHoursNotDoubleCounted(t *testing.T) {
	c := defaultChecker(t)

	// "3400mAh" must not also match the Ah extractor.
	result := c.Check("capacity of this cell?", "rated 3400mAh")
	if result.Suspicious {
		t.Errorf("3400 mAh is plausible, got issues %v", result.Issues)
	}
}

func TestEmptyRuleSet(t *testing.T) {
	c, err := NewChecker(nil, nil)
	if err != nil {
		t.Fatalf("NewChecker(nil): %v", err)
	}

	result := c.Check("capacity?", "999999 Ah of nonsense")
	if result.Suspicious || result.Severity != datatypes.SeverityNone {
		t.Error("empty rule set must never flag anything")
	}
}

func TestNewCheckerRejectsBadPatterns(t *testing.T) {
	_, err := NewChecker([]Rule{{
		Name:           "broken",
		QueryPattern:   "[",
		ExtractPattern: `(\d+)`,
	}}, nil)
	if err == nil {
		t.Error("invalid query pattern should fail compilation")
	}

	_, err = NewChecker([]Rule{{
		Name:           "no-group",
		QueryPattern:   ".*",
		ExtractPattern: `\d+`,
	}}, nil)
	if err == nil {
		t.Error("extract pattern without capture group should be rejected")
	}
}

func TestShouldEscalateNil(t *testing.T) {
	if ShouldEscalate(nil) {
		t.Error("nil result must not escalate")
	}
}
