// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package analyzer turns a raw user query into an execution plan.
//
// The analyzer asks the local planning model for a structured Plan in
// JSON, parses it leniently (unknown enum values coerce to defaults,
// unknown fields are preserved for debugging), and patches the plan
// deterministically: queries that clearly need arithmetic get a
// code_exec step injected whether or not the model planned one.
//
// A model outage never fails analysis; the degenerate single-step plan
// still answers the query directly.
package analyzer

import (
	"context"
	"log/slog"
	"strings"

	"github.com/AleutianAI/AleutianRelay/services/llm"
	"github.com/AleutianAI/AleutianRelay/services/relay/datatypes"
	"github.com/AleutianAI/AleutianRelay/services/relay/packs"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var tracer = otel.Tracer("relay.analyzer")

const (
	// planTemperature keeps planning near-deterministic.
	planTemperature = 0.3

	// injectedCalcStepID is the id given to the analyzer-injected
	// code_exec step.
	injectedCalcStepID = "calc_injected"
)

const systemPrompt = `You are a query planner for a battery-engineering assistant.
Given a user query, respond with ONLY a JSON object describing an execution plan:

{
  "intent": "<short intent label, e.g. spec_lookup, calculation, recommendation>",
  "complexity": "simple" | "moderate" | "complex",
  "priority": "low" | "normal" | "high",
  "safety_level": "normal" | "high" | "critical",
  "budget": {"max_external_usd": <number>, "latency_tier": "fast" | "balanced" | "thorough"},
  "capabilities": ["web_search", "code_exec", "rag_retrieval", "sentiment"],
  "steps": [
    {
      "id": "<unique step id>",
      "type": "tool_call" | "sanity_check" | "model_call" | "finalization",
      "tool": "<tool name, for tool_call steps>",
      "description": "<what this step does>",
      "input": {<tool parameters; use "FROM_<step id>" to reference an earlier step's output>},
      "depends_on": ["<step ids>"],
      "required": true | false
    }
  ]
}

Rules:
- The last step must have type "finalization" and depend on every other step.
- Use code_exec (language "python", mode "task") for any arithmetic; never do math in prose.
- Keep plans minimal: no step without a purpose.`

// Analyzer plans queries with a local model.
type Analyzer struct {
	connector llm.Connector
	logger    *slog.Logger
}

// New creates an analyzer over the local planning connector.
func New(connector llm.Connector, logger *slog.Logger) *Analyzer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Analyzer{connector: connector, logger: logger}
}

// Analyze produces the execution plan for one query.
//
// Description:
//
//	Asks the planning model for a JSON plan, extracts and coerces it,
//	then applies deterministic patches: plan identity, source, the
//	code_exec injection for calculation-shaped queries, and
//	finalization-step repair. Any model or parse failure falls back to
//	the degenerate direct-answer plan.
//
// Outputs:
//
//	*datatypes.Plan - Never nil and always executable.
func (a *Analyzer) Analyze(ctx context.Context, query string, source datatypes.Source) *datatypes.Plan {
	ctx, span := tracer.Start(ctx, "analyzer.Analyze")
	span.SetAttributes(attribute.String("source", string(source)))
	defer span.End()

	plan := a.planFromModel(ctx, query)
	if plan == nil {
		plan = fallbackPlan(query)
		a.logger.Warn("analysis fell back to direct-answer plan", "query_len", len(query))
	}

	plan.PlanID = uuid.NewString()
	plan.Query = query
	plan.Source = source

	a.injectCalculation(plan)
	ensureFinalization(plan)

	span.SetAttributes(
		attribute.String("intent", plan.Intent),
		attribute.Int("steps", len(plan.Steps)),
	)
	return plan
}

// planFromModel runs the planning call and parses the result. Returns
// nil on any failure.
func (a *Analyzer) planFromModel(ctx context.Context, query string) *datatypes.Plan {
	if a.connector == nil {
		return nil
	}

	result, err := a.connector.Generate(ctx, []llm.Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: query},
	}, llm.Options{Temperature: planTemperature, JSONMode: true})
	if err != nil {
		a.logger.Warn("planning model call failed", "error", err)
		return nil
	}

	raw, err := llm.ExtractJSON(result.Content)
	if err != nil {
		a.logger.Warn("planning output had no JSON object", "error", err)
		return nil
	}

	plan, err := datatypes.PlanFromJSON(raw)
	if err != nil {
		a.logger.Warn("planning output did not parse as a plan", "error", err)
		return nil
	}
	if len(plan.Steps) == 0 {
		a.logger.Warn("planning output had no steps")
		return nil
	}
	return plan
}

// fallbackPlan is the degenerate plan: answer directly, no tools.
func fallbackPlan(query string) *datatypes.Plan {
	return &datatypes.Plan{
		Intent:     "direct_answer",
		Complexity: datatypes.ComplexitySimple,
		Priority:   datatypes.PriorityNormal,
		SafetyLevel: datatypes.SafetyNormal,
		Budget:     datatypes.Budget{LatencyTier: datatypes.LatencyBalanced},
		Steps: []datatypes.PlanStep{
			{
				ID:          "finalize",
				Type:        datatypes.StepFinalization,
				Description: "Answer the query directly",
				Input:       map[string]any{"query": query},
				Required:    true,
			},
		},
	}
}

// injectCalculation adds a code_exec step when the query is
// calculation-shaped and the model did not plan one.
func (a *Analyzer) injectCalculation(plan *datatypes.Plan) {
	if !packs.NeedsCalculation(plan.Query) {
		return
	}
	for _, step := range plan.Steps {
		if step.Type == datatypes.StepToolCall && step.Tool == "code_exec" {
			return
		}
	}

	task := "Compute the numeric result this query asks for: " + plan.Query
	calc := datatypes.PlanStep{
		ID:          injectedCalcStepID,
		Type:        datatypes.StepToolCall,
		Tool:        "code_exec",
		Description: "Deterministic arithmetic for the query",
		Input: map[string]any{
			"language": "python",
			"mode":     "task",
			"task":     task,
		},
		Required: true,
	}

	// Insert before finalization and make finalization depend on it.
	inserted := false
	for i := range plan.Steps {
		if plan.Steps[i].Type != datatypes.StepFinalization {
			continue
		}
		plan.Steps = append(plan.Steps[:i],
			append([]datatypes.PlanStep{calc}, plan.Steps[i:]...)...)
		inserted = true
		break
	}
	if !inserted {
		plan.Steps = append(plan.Steps, calc)
	}
	for i := range plan.Steps {
		if plan.Steps[i].Type == datatypes.StepFinalization &&
			!containsString(plan.Steps[i].DependsOn, injectedCalcStepID) {
			plan.Steps[i].DependsOn = append(plan.Steps[i].DependsOn, injectedCalcStepID)
		}
	}

	if !containsString(plan.Capabilities, datatypes.CapabilityCodeExec) {
		plan.Capabilities = append(plan.Capabilities, datatypes.CapabilityCodeExec)
	}

	a.logger.Info("injected code_exec step", "plan_id", plan.PlanID)
}

// ensureFinalization guarantees the plan ends with a finalization step
// depending on all other steps.
func ensureFinalization(plan *datatypes.Plan) {
	var finalIdx = -1
	for i := range plan.Steps {
		if plan.Steps[i].Type == datatypes.StepFinalization {
			finalIdx = i
		}
	}

	if finalIdx == -1 {
		plan.Steps = append(plan.Steps, datatypes.PlanStep{
			ID:          "finalize",
			Type:        datatypes.StepFinalization,
			Description: "Synthesize the final answer",
			Input:       map[string]any{"query": plan.Query},
			Required:    true,
		})
		finalIdx = len(plan.Steps) - 1
	}

	final := &plan.Steps[finalIdx]
	for _, step := range plan.Steps {
		if step.Type == datatypes.StepFinalization {
			continue
		}
		if !containsString(final.DependsOn, step.ID) {
			final.DependsOn = append(final.DependsOn, step.ID)
		}
	}
	if final.Input == nil {
		final.Input = map[string]any{"query": plan.Query}
	}
}

func containsString(list []string, want string) bool {
	for _, s := range list {
		if strings.EqualFold(s, want) {
			return true
		}
	}
	return false
}
