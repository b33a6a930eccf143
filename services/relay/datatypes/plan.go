// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes defines the wire-level data model shared by the relay
// pipeline: plans, step results, verification payloads, finalization output,
// and cost records.
//
// All enums serialize as lowercase strings. Parsers in this package coerce
// unknown enum values to safe defaults instead of failing, because most of
// these structures are produced by language models and arrive noisy.
//
// Thread Safety:
//
//	All types in this package are plain data. A Plan is owned by a single
//	query and must not be shared across queries.
package datatypes

import (
	"encoding/json"
	"fmt"
	"strings"
)

// StepType identifies what kind of work a plan step performs.
type StepType string

const (
	// StepToolCall invokes a registered tool.
	StepToolCall StepType = "tool_call"

	// StepSanityCheck runs plausibility heuristics over accumulated text.
	StepSanityCheck StepType = "sanity_check"

	// StepModelCall invokes a specialist model directly.
	StepModelCall StepType = "model_call"

	// StepFinalization marks the terminal presentation step. It is owned
	// by the presenter; the executor skips it.
	StepFinalization StepType = "finalization"
)

// Complexity is the analyzer's complexity classification of a query.
type Complexity string

const (
	ComplexitySimple   Complexity = "simple"
	ComplexityModerate Complexity = "moderate"
	ComplexityComplex  Complexity = "complex"
)

// Priority is the declared priority of a plan.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

// SafetyLevel is the declared safety sensitivity of a plan. Anything above
// SafetyNormal routes verification to the strong specialist tier.
type SafetyLevel string

const (
	SafetyNormal   SafetyLevel = "normal"
	SafetyHigh     SafetyLevel = "high"
	SafetyCritical SafetyLevel = "critical"
)

// LatencyTier expresses the caller's latency preference.
type LatencyTier string

const (
	LatencyFast     LatencyTier = "fast"
	LatencyBalanced LatencyTier = "balanced"
	LatencyThorough LatencyTier = "thorough"
)

// Source tags where a query entered the system. Informational only; it
// never alters routing.
type Source string

const (
	SourceCLI Source = "cli"
	SourceAPI Source = "api"
)

// Capability tags a plan may declare.
const (
	CapabilityWebSearch = "web_search"
	CapabilityCodeExec  = "code_exec"
	CapabilityRAG       = "rag"
	CapabilitySentiment = "sentiment"
)

// Budget declares the maximum external spend and latency preference
// for a single plan.
type Budget struct {
	// MaxExternalUSD caps specialist spend for this plan, in USD.
	MaxExternalUSD float64 `json:"max_external_usd"`

	// LatencyTier is the caller's latency preference.
	LatencyTier LatencyTier `json:"latency_tier"`
}

// PlanStep is a single node in a plan's dependency graph.
type PlanStep struct {
	// ID is unique within the owning Plan.
	ID string `json:"id"`

	// Type is the step kind (tool_call, sanity_check, model_call,
	// finalization).
	Type StepType `json:"type"`

	// Tool names the tool to invoke. Required when Type is tool_call.
	Tool string `json:"tool,omitempty"`

	// Model tags the specialist model. Required when Type is model_call.
	Model string `json:"model,omitempty"`

	// Description is free-form text from the analyzer.
	Description string `json:"description,omitempty"`

	// Input is the typed input mapping. Values of the form "FROM_<id>"
	// are resolved by the executor to the named step's result data.
	Input map[string]any `json:"input,omitempty"`

	// DependsOn lists sibling step ids that must complete first.
	DependsOn []string `json:"depends_on,omitempty"`

	// Required marks the step as mandatory; a missing tool fails the
	// step instead of skipping it.
	Required bool `json:"required"`

	// CanSkipIfUnavailable permits a skipped result when the tool is
	// not registered.
	CanSkipIfUnavailable bool `json:"can_skip_if_unavailable"`
}

// Plan is a typed DAG of steps produced by the analyzer from a user
// query. It is consumed once by the executor and then read-only for
// the presenter.
type Plan struct {
	// PlanID is a fresh identifier for this plan.
	PlanID string `json:"plan_id"`

	// Query is the original user query text.
	Query string `json:"query"`

	// Source tags where the query entered (cli or api).
	Source Source `json:"source"`

	// Intent is the analyzer's declared intent string.
	Intent string `json:"intent,omitempty"`

	// Complexity is the analyzer's complexity classification.
	Complexity Complexity `json:"complexity"`

	// Priority is the declared priority.
	Priority Priority `json:"priority"`

	// SafetyLevel is the declared safety sensitivity.
	SafetyLevel SafetyLevel `json:"safety_level"`

	// Budget caps external spend and declares latency preference.
	Budget Budget `json:"budget"`

	// Capabilities lists declared capability tags (web_search,
	// code_exec, rag, sentiment).
	Capabilities []string `json:"capabilities,omitempty"`

	// Steps is the ordered step list.
	Steps []PlanStep `json:"steps"`

	// Unknown holds top-level fields the wire format does not define.
	// They are preserved verbatim for debug metadata and ignored by
	// the executor.
	Unknown map[string]any `json:"-"`
}

// planKnownFields are the top-level keys defined by the plan wire format.
var planKnownFields = map[string]struct{}{
	"plan_id": {}, "query": {}, "source": {}, "intent": {},
	"complexity": {}, "priority": {}, "safety_level": {}, "budget": {},
	"capabilities": {}, "steps": {},
}

// CoerceComplexity maps a raw string to a Complexity, defaulting unknown
// values to ComplexityModerate.
func CoerceComplexity(raw string) Complexity {
	switch Complexity(strings.ToLower(strings.TrimSpace(raw))) {
	case ComplexitySimple:
		return ComplexitySimple
	case ComplexityComplex:
		return ComplexityComplex
	default:
		return ComplexityModerate
	}
}

// CoercePriority maps a raw string to a Priority, defaulting unknown
// values to PriorityNormal.
func CoercePriority(raw string) Priority {
	switch Priority(strings.ToLower(strings.TrimSpace(raw))) {
	case PriorityLow:
		return PriorityLow
	case PriorityHigh:
		return PriorityHigh
	default:
		return PriorityNormal
	}
}

// CoerceSafetyLevel maps a raw string to a SafetyLevel, defaulting unknown
// values to SafetyNormal.
func CoerceSafetyLevel(raw string) SafetyLevel {
	switch SafetyLevel(strings.ToLower(strings.TrimSpace(raw))) {
	case SafetyHigh, "elevated":
		// Planning models sometimes grade safety as "elevated".
		return SafetyHigh
	case SafetyCritical:
		return SafetyCritical
	default:
		return SafetyNormal
	}
}

// CoerceStepType maps a raw string to a StepType, defaulting unknown
// values to StepToolCall.
func CoerceStepType(raw string) StepType {
	switch StepType(strings.ToLower(strings.TrimSpace(raw))) {
	case StepSanityCheck:
		return StepSanityCheck
	case StepModelCall:
		return StepModelCall
	case StepFinalization:
		return StepFinalization
	default:
		return StepToolCall
	}
}

// CoerceLatencyTier maps a raw string to a LatencyTier, defaulting unknown
// values to LatencyBalanced.
func CoerceLatencyTier(raw string) LatencyTier {
	switch LatencyTier(strings.ToLower(strings.TrimSpace(raw))) {
	case LatencyFast:
		return LatencyFast
	case LatencyThorough:
		return LatencyThorough
	default:
		return LatencyBalanced
	}
}

// PlanFromJSON decodes a plan from its canonical wire format.
//
// Description:
//
//	Unmarshals the JSON object, coerces enum fields to safe defaults
//	(complexity to moderate, safety to normal, step type to tool_call),
//	and preserves unknown top-level fields in Plan.Unknown. The function
//	fails only on malformed JSON or a non-object payload; noisy enum
//	values never fail.
//
// Inputs:
//
//	data - Raw JSON bytes.
//
// Outputs:
//
//	*Plan - The coerced plan.
//	error - Non-nil if data is not a JSON object.
func PlanFromJSON(data []byte) (*Plan, error) {
	var plan Plan
	if err := json.Unmarshal(data, &plan); err != nil {
		return nil, fmt.Errorf("decoding plan: %w", err)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decoding plan object: %w", err)
	}
	for key, val := range raw {
		if _, known := planKnownFields[key]; known {
			continue
		}
		var v any
		if err := json.Unmarshal(val, &v); err != nil {
			continue
		}
		if plan.Unknown == nil {
			plan.Unknown = make(map[string]any)
		}
		plan.Unknown[key] = v
	}

	plan.Complexity = CoerceComplexity(string(plan.Complexity))
	plan.Priority = CoercePriority(string(plan.Priority))
	plan.SafetyLevel = CoerceSafetyLevel(string(plan.SafetyLevel))
	plan.Budget.LatencyTier = CoerceLatencyTier(string(plan.Budget.LatencyTier))
	for i := range plan.Steps {
		plan.Steps[i].Type = CoerceStepType(string(plan.Steps[i].Type))
	}

	return &plan, nil
}

// AsMap renders the plan as a generic map for prompt construction and
// for the verification wire format.
func (p *Plan) AsMap() map[string]any {
	data, err := json.Marshal(p)
	if err != nil {
		return map[string]any{"plan_id": p.PlanID, "query": p.Query}
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return map[string]any{"plan_id": p.PlanID, "query": p.Query}
	}
	return m
}

// StepByID returns the step with the given id, or nil.
func (p *Plan) StepByID(id string) *PlanStep {
	for i := range p.Steps {
		if p.Steps[i].ID == id {
			return &p.Steps[i]
		}
	}
	return nil
}

// HasStepType reports whether any step has the given type.
func (p *Plan) HasStepType(t StepType) bool {
	for i := range p.Steps {
		if p.Steps[i].Type == t {
			return true
		}
	}
	return false
}
