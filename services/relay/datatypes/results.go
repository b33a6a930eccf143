// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import "time"

// Outcome is the terminal state of a tool step.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailed  Outcome = "failed"
	OutcomeSkipped Outcome = "skipped"
)

// ToolResult is the per-step record of a tool invocation.
//
// Data is empty only when Outcome is not success or the tool explicitly
// returned nothing.
type ToolResult struct {
	// StepID is the plan step that produced this result.
	StepID string `json:"step_id"`

	// Tool is the tool name.
	Tool string `json:"tool"`

	// Outcome is success, failed, or skipped.
	Outcome Outcome `json:"outcome"`

	// Data is the tool's free-form output mapping.
	Data map[string]any `json:"data,omitempty"`

	// Error is the failure message when Outcome is failed.
	Error string `json:"error,omitempty"`

	// Duration is the wall-clock execution time.
	Duration time.Duration `json:"duration"`
}

// Severity grades a sanity result.
type Severity string

const (
	SeverityNone   Severity = "none"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// SanityResult is the output of the plausibility checker.
//
// Invariant: Severity is SeverityNone iff Issues is empty.
type SanityResult struct {
	// Suspicious is true when any rule fired.
	Suspicious bool `json:"suspicious"`

	// Issues lists human-readable findings.
	Issues []string `json:"issues,omitempty"`

	// Severity is none, medium, or high. High means a hard-category
	// rule fired.
	Severity Severity `json:"severity"`
}

// Confidence grades a verified field.
type Confidence string

const (
	ConfidenceLow    Confidence = "low"
	ConfidenceMedium Confidence = "medium"
	ConfidenceHigh   Confidence = "high"
)

// VerificationErrorType classifies specialist failures.
const (
	VerifyErrNoConnector = "no_connector"
	VerifyErrParse       = "parse_error"
	VerifyErrException   = "exception"
	VerifyErrCostBlocked = "cost_blocked"
)

// VerificationError is the structured failure payload of a specialist
// call. It reaches the presenter as data, never as a Go error.
type VerificationError struct {
	// Type is one of the VerifyErr* constants.
	Type string `json:"type"`

	// Message describes the failure.
	Message string `json:"message"`

	// SuggestedAction hints what the caller might do.
	SuggestedAction string `json:"suggested_action,omitempty"`
}

// Citation is a source reference carried through tool and specialist
// results into the finalization output.
type Citation struct {
	// ID is assigned by the presenter, starting at 1.
	ID int `json:"id,omitempty"`

	// Title is the human-readable source title.
	Title string `json:"title"`

	// URL is the source location.
	URL string `json:"url"`
}

// VerificationResult is the specialist verifier's output. Exactly one of
// the typed payload (the value fields) or Error is present.
type VerificationResult struct {
	// VerifiedSpecs holds facts the specialist confirmed.
	VerifiedSpecs map[string]any `json:"verified_specs,omitempty"`

	// PackCalculation holds checked calculation results.
	PackCalculation map[string]any `json:"pack_calculation,omitempty"`

	// RangeEstimate holds a plausible-range estimate when exact
	// verification was not possible.
	RangeEstimate map[string]any `json:"range_estimate,omitempty"`

	// Issues lists problems the specialist found in the draft evidence.
	Issues []string `json:"issues,omitempty"`

	// Confidence grades each verified field (low, medium, high).
	Confidence map[string]Confidence `json:"confidence,omitempty"`

	// Sources lists citations backing the verified facts.
	Sources []Citation `json:"sources,omitempty"`

	// ModelUsed records which specialist model answered.
	ModelUsed string `json:"model_used,omitempty"`

	// Error is the structured failure payload. Mutually exclusive with
	// the fields above.
	Error *VerificationError `json:"error,omitempty"`
}

// IsError reports whether the result carries an error payload.
func (v *VerificationResult) IsError() bool {
	return v != nil && v.Error != nil
}

// FinalizationOutput is the user-visible result of a query.
type FinalizationOutput struct {
	// FinalAnswer is the grounded prose answer. Never empty.
	FinalAnswer string `json:"final_answer"`

	// ShortSummary is at most two sentences.
	ShortSummary string `json:"short_summary"`

	// CitationsUsed lists citation ids referenced by the answer.
	CitationsUsed []int `json:"citations_used,omitempty"`

	// Citations resolves the used ids to their sources.
	Citations []Citation `json:"citations,omitempty"`

	// Debug is opaque metadata: escalations, fallbacks, validation
	// defects, unknown plan fields.
	Debug map[string]any `json:"debug,omitempty"`
}

// ExecutionResults aggregates everything the executor produced for one
// plan, keyed by step id. Sanity-triggered verifications are stored
// under the "verification" key in SpecialistResults.
type ExecutionResults struct {
	// ToolResults maps step id to tool outcome.
	ToolResults map[string]*ToolResult `json:"tool_results"`

	// SanityResults maps step id to sanity outcome.
	SanityResults map[string]*SanityResult `json:"sanity_results,omitempty"`

	// SpecialistResults maps step id (or "verification") to the
	// specialist's answer.
	SpecialistResults map[string]*VerificationResult `json:"specialist_results,omitempty"`
}

// NewExecutionResults returns an empty, initialized result set.
func NewExecutionResults() *ExecutionResults {
	return &ExecutionResults{
		ToolResults:       make(map[string]*ToolResult),
		SanityResults:     make(map[string]*SanityResult),
		SpecialistResults: make(map[string]*VerificationResult),
	}
}
