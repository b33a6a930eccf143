// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package presenter

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/AleutianAI/AleutianRelay/services/llm"
	"github.com/AleutianAI/AleutianRelay/services/relay/datatypes"
)

type fakeConnector struct {
	content string
	err     error
}

func (f *fakeConnector) Generate(ctx context.Context, msgs []llm.Message, opts llm.Options) (*llm.GenerateResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &llm.GenerateResult{Content: f.content, ModelUsed: "local"}, nil
}

func (f *fakeConnector) Stream(ctx context.Context, msgs []llm.Message, opts llm.Options) (<-chan string, error) {
	ch := make(chan string)
	close(ch)
	return ch, nil
}

func (f *fakeConnector) Health(ctx context.Context) bool { return true }
func (f *fakeConnector) Model() string                   { return "local" }

func planWithSteps(ids ...string) *datatypes.Plan {
	plan := &datatypes.Plan{PlanID: "p1", Query: "test query"}
	for _, id := range ids {
		plan.Steps = append(plan.Steps, datatypes.PlanStep{
			ID: id, Type: datatypes.StepToolCall, Tool: id,
		})
	}
	return plan
}

func TestPresentModelAnswer(t *testing.T) {
	p := New(&fakeConnector{content: `{
      "final_answer": "The pack stores 636.48 Wh [1].",
      "short_summary": "636.48 Wh total.",
      "citations_used": [1]
    }`}, nil)

	results := datatypes.NewExecutionResults()
	results.ToolResults["search"] = &datatypes.ToolResult{
		StepID: "search", Tool: "web_search", Outcome: datatypes.OutcomeSuccess,
		Data: map[string]any{
			"citations": []any{
				map[string]any{"title": "Datasheet", "url": "https://example.com/ds"},
			},
		},
	}

	output := p.Present(context.Background(), planWithSteps("search"), results)
	if !strings.Contains(output.FinalAnswer, "636.48") {
		t.Errorf("final_answer = %q", output.FinalAnswer)
	}
	if len(output.Citations) != 1 || output.Citations[0].URL != "https://example.com/ds" {
		t.Errorf("citations = %+v", output.Citations)
	}
	if output.Citations[0].ID != 1 {
		t.Errorf("citation id = %d, want 1", output.Citations[0].ID)
	}
}

func TestPresentFallbackConcatenatesStdout(t *testing.T) {
	p := New(&fakeConnector{err: errors.New("model down")}, nil)

	results := datatypes.NewExecutionResults()
	results.ToolResults["calc"] = &datatypes.ToolResult{
		StepID: "calc", Tool: "code_exec", Outcome: datatypes.OutcomeSuccess,
		Data: map[string]any{"stdout": "energy_wh = 636.48"},
	}

	output := p.Present(context.Background(), planWithSteps("calc"), results)
	if !strings.Contains(output.FinalAnswer, "636.48") {
		t.Errorf("fallback should carry tool output, got %q", output.FinalAnswer)
	}
	if output.Debug["presenter_fallback"] != true {
		t.Error("fallback must be flagged in debug")
	}
}

func TestPresentFallbackReportsFailures(t *testing.T) {
	p := New(&fakeConnector{content: "not json at all"}, nil)

	results := datatypes.NewExecutionResults()
	results.ToolResults["search"] = &datatypes.ToolResult{
		StepID: "search", Tool: "web_search", Outcome: datatypes.OutcomeFailed,
		Error: "endpoint unreachable",
	}

	output := p.Present(context.Background(), planWithSteps("search"), results)
	if !strings.Contains(output.FinalAnswer, "endpoint unreachable") {
		t.Errorf("failures should surface, got %q", output.FinalAnswer)
	}
}

func TestPresentFallbackReportsSpecialistFailures(t *testing.T) {
	// A blocked verification is a failure the user should hear about,
	// not a silent drop into the generic apology.
	p := New(&fakeConnector{err: errors.New("model down")}, nil)

	results := datatypes.NewExecutionResults()
	results.SpecialistResults["verification"] = &datatypes.VerificationResult{
		Error: &datatypes.VerificationError{
			Type:    datatypes.VerifyErrCostBlocked,
			Message: "verification denied: hard_cap_exceeded (estimated $0.0500)",
		},
	}

	output := p.Present(context.Background(), planWithSteps(), results)
	if !strings.Contains(output.FinalAnswer, "hard_cap_exceeded") {
		t.Errorf("specialist failure should surface, got %q", output.FinalAnswer)
	}
	if !strings.Contains(output.FinalAnswer, "specialist verification") {
		t.Errorf("failure should name the specialist step, got %q", output.FinalAnswer)
	}
}

func TestPresentNeverEmpty(t *testing.T) {
	p := New(nil, nil)

	output := p.Present(context.Background(), planWithSteps(), datatypes.NewExecutionResults())
	if strings.TrimSpace(output.FinalAnswer) == "" {
		t.Error("final answer must never be empty")
	}
}

func TestPresentValidationErrorApology(t *testing.T) {
	p := New(nil, nil)

	results := datatypes.NewExecutionResults()
	results.ToolResults["validation_error"] = &datatypes.ToolResult{
		StepID: "validation_error", Tool: "validation",
		Outcome: datatypes.OutcomeFailed, Error: "duplicate step id \"a\"",
	}

	output := p.Present(context.Background(), planWithSteps(), results)
	if !strings.Contains(output.FinalAnswer, "duplicate step id") {
		t.Errorf("validation defect should be named, got %q", output.FinalAnswer)
	}
	if output.Debug["validation_error"] == nil {
		t.Error("validation defect must appear in debug")
	}
}

func TestPresentDebugMetadata(t *testing.T) {
	p := New(&fakeConnector{content: `{"final_answer": "ok", "short_summary": "ok"}`}, nil)

	plan := planWithSteps("calc")
	plan.Unknown = map[string]any{"novel_field": 7}

	results := datatypes.NewExecutionResults()
	results.ToolResults["calc"] = &datatypes.ToolResult{
		StepID: "calc", Tool: "code_exec", Outcome: datatypes.OutcomeSuccess,
		Data: map[string]any{"stdout": "x", "fallback": true},
	}
	results.SpecialistResults["verification"] = &datatypes.VerificationResult{
		VerifiedSpecs: map[string]any{"capacity_ah": 5.0},
	}
	results.SpecialistResults["blocked"] = &datatypes.VerificationResult{
		Error: &datatypes.VerificationError{Type: datatypes.VerifyErrCostBlocked, Message: "over budget"},
	}

	output := p.Present(context.Background(), plan, results)

	if output.Debug["unknown_plan_fields"] == nil {
		t.Error("unknown plan fields must reach debug")
	}
	fallbacks, _ := output.Debug["tool_fallbacks"].([]string)
	if len(fallbacks) != 1 || fallbacks[0] != "calc" {
		t.Errorf("tool_fallbacks = %v", output.Debug["tool_fallbacks"])
	}
	escalations, _ := output.Debug["escalations"].([]string)
	if len(escalations) != 1 || escalations[0] != "verification" {
		t.Errorf("escalations = %v", output.Debug["escalations"])
	}
	if output.Debug["specialist_error_blocked"] != datatypes.VerifyErrCostBlocked {
		t.Errorf("specialist error type missing: %v", output.Debug)
	}
}

func TestCollectCitationsDedupes(t *testing.T) {
	results := datatypes.NewExecutionResults()
	results.ToolResults["a"] = &datatypes.ToolResult{
		Outcome: datatypes.OutcomeSuccess,
		Data: map[string]any{"citations": []datatypes.Citation{
			{Title: "One", URL: "https://example.com/1"},
			{Title: "Two", URL: "https://example.com/2"},
		}},
	}
	results.SpecialistResults["verification"] = &datatypes.VerificationResult{
		Sources: []datatypes.Citation{
			{Title: "One again", URL: "https://example.com/1"},
			{Title: "Three", URL: "https://example.com/3"},
		},
	}

	citations := collectCitations(results)
	if len(citations) != 3 {
		t.Fatalf("got %d citations, want 3 after dedupe", len(citations))
	}
	for i, c := range citations {
		if c.ID != i+1 {
			t.Errorf("citation %d has id %d", i, c.ID)
		}
	}
}

func TestResolveCitationsDropsInventedIDs(t *testing.T) {
	citations := []datatypes.Citation{{ID: 1, Title: "One", URL: "u1"}}
	out := resolveCitations(citations, []int{1, 7, 0, -2})
	if len(out) != 1 || out[0].Title != "One" {
		t.Errorf("resolved = %+v", out)
	}
}
