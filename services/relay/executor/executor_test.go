// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package executor

import (
	"context"
	"sync"
	"testing"

	"github.com/AleutianAI/AleutianRelay/services/llm"
	"github.com/AleutianAI/AleutianRelay/services/relay/costs"
	"github.com/AleutianAI/AleutianRelay/services/relay/datatypes"
	"github.com/AleutianAI/AleutianRelay/services/relay/sanity"
	"github.com/AleutianAI/AleutianRelay/services/relay/tools"
	"github.com/AleutianAI/AleutianRelay/services/relay/verifier"
)

// recordingTool captures invocation order and inputs.
type recordingTool struct {
	name string
	data map[string]any

	mu     sync.Mutex
	order  *[]string
	inputs map[string]map[string]any
}

func (r *recordingTool) Name() string              { return r.name }
func (r *recordingTool) Definition() tools.Definition { return tools.Definition{Name: r.name} }

func (r *recordingTool) Execute(ctx context.Context, params map[string]any) (*datatypes.ToolResult, error) {
	r.mu.Lock()
	if r.order != nil {
		*r.order = append(*r.order, r.name)
	}
	if r.inputs == nil {
		r.inputs = make(map[string]map[string]any)
	}
	r.inputs[r.name] = params
	r.mu.Unlock()
	return &datatypes.ToolResult{Outcome: datatypes.OutcomeSuccess, Data: r.data}, nil
}

func (r *recordingTool) Fallback(ctx context.Context, params map[string]any, cause error) (*datatypes.ToolResult, error) {
	return nil, cause
}

type fakeConnector struct {
	content string
}

func (f *fakeConnector) Generate(ctx context.Context, msgs []llm.Message, opts llm.Options) (*llm.GenerateResult, error) {
	return &llm.GenerateResult{
		Content:    f.content,
		ModelUsed:  "fake-specialist",
		TokenCount: llm.TokenCount{Input: 200, Output: 100},
		Cost:       0.02,
	}, nil
}

func (f *fakeConnector) Stream(ctx context.Context, msgs []llm.Message, opts llm.Options) (<-chan string, error) {
	ch := make(chan string)
	close(ch)
	return ch, nil
}

func (f *fakeConnector) Health(ctx context.Context) bool { return true }
func (f *fakeConnector) Model() string                   { return "fake-specialist" }

const specialistVerdict = `{"verified_specs": {"capacity_ah": 5.0}, "issues": ["draft overstated capacity"]}`

// countingConnector counts Generate calls, for tier-routing assertions.
type countingConnector struct {
	fakeConnector

	mu    sync.Mutex
	calls int
}

func (c *countingConnector) Generate(ctx context.Context, msgs []llm.Message, opts llm.Options) (*llm.GenerateResult, error) {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
	return c.fakeConnector.Generate(ctx, msgs, opts)
}

func (c *countingConnector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func newTestExecutor(t *testing.T, reg *tools.Registry, v *verifier.Verifier, tracker *costs.Tracker) *Executor {
	t.Helper()
	checker, err := sanity.NewChecker(sanity.DefaultRules(), nil)
	if err != nil {
		t.Fatalf("NewChecker: %v", err)
	}
	return New(reg, checker, v, tracker, nil)
}

func basicPlan(steps ...datatypes.PlanStep) *datatypes.Plan {
	return &datatypes.Plan{
		PlanID:      "plan-1",
		Query:       "test query",
		Complexity:  datatypes.ComplexityModerate,
		Priority:    datatypes.PriorityNormal,
		SafetyLevel: datatypes.SafetyNormal,
		Steps:       steps,
	}
}

func TestValidateRejections(t *testing.T) {
	cases := []struct {
		name string
		plan *datatypes.Plan
	}{
		{"empty plan", basicPlan()},
		{"duplicate ids", basicPlan(
			datatypes.PlanStep{ID: "a", Type: datatypes.StepToolCall, Tool: "t"},
			datatypes.PlanStep{ID: "a", Type: datatypes.StepToolCall, Tool: "t"},
		)},
		{"unknown dependency", basicPlan(
			datatypes.PlanStep{ID: "a", Type: datatypes.StepToolCall, Tool: "t", DependsOn: []string{"ghost"}},
		)},
		{"cycle", basicPlan(
			datatypes.PlanStep{ID: "a", Type: datatypes.StepToolCall, Tool: "t", DependsOn: []string{"b"}},
			datatypes.PlanStep{ID: "b", Type: datatypes.StepToolCall, Tool: "t", DependsOn: []string{"a"}},
		)},
		{"self dependency", basicPlan(
			datatypes.PlanStep{ID: "a", Type: datatypes.StepToolCall, Tool: "t", DependsOn: []string{"a"}},
		)},
		{"bad code_exec input", basicPlan(
			datatypes.PlanStep{ID: "a", Type: datatypes.StepToolCall, Tool: "code_exec",
				Input: map[string]any{"language": "ruby", "mode": "task", "task": "x"}},
		)},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := Validate(tc.plan); err == nil {
				t.Error("Validate should reject this plan")
			}
		})
	}
}

func TestExecuteRejectedPlanRunsNothing(t *testing.T) {
	var order []string
	reg := tools.NewRegistry(nil)
	reg.Register(&recordingTool{name: "t", order: &order})
	e := newTestExecutor(t, reg, nil, nil)

	plan := basicPlan(
		datatypes.PlanStep{ID: "a", Type: datatypes.StepToolCall, Tool: "t"},
		datatypes.PlanStep{ID: "a", Type: datatypes.StepToolCall, Tool: "t"},
	)
	results := e.Execute(context.Background(), plan, "s1")

	ve, ok := results.ToolResults["validation_error"]
	if !ok || ve.Outcome != datatypes.OutcomeFailed {
		t.Fatalf("want synthetic validation_error, got %+v", results.ToolResults)
	}
	if len(order) != 0 {
		t.Errorf("no steps may run after validation failure, ran %v", order)
	}
	if len(results.ToolResults) != 1 {
		t.Errorf("only the synthetic result may exist, got %d", len(results.ToolResults))
	}
}

func TestExecuteDependencyOrder(t *testing.T) {
	var order []string
	reg := tools.NewRegistry(nil)
	reg.Register(&recordingTool{name: "first", order: &order})
	reg.Register(&recordingTool{name: "second", order: &order})
	e := newTestExecutor(t, reg, nil, nil)

	plan := basicPlan(
		datatypes.PlanStep{ID: "b", Type: datatypes.StepToolCall, Tool: "second", DependsOn: []string{"a"}},
		datatypes.PlanStep{ID: "a", Type: datatypes.StepToolCall, Tool: "first"},
	)
	e.Execute(context.Background(), plan, "s1")

	if len(order) != 2 || order[0] != "first" || order[1] != "second" {
		t.Errorf("execution order = %v, want [first second]", order)
	}
}

func TestExecuteParallelWave(t *testing.T) {
	reg := tools.NewRegistry(nil)
	reg.Register(&recordingTool{name: "x", data: map[string]any{"k": "vx"}})
	reg.Register(&recordingTool{name: "y", data: map[string]any{"k": "vy"}})
	e := newTestExecutor(t, reg, nil, nil)

	plan := basicPlan(
		datatypes.PlanStep{ID: "a", Type: datatypes.StepToolCall, Tool: "x"},
		datatypes.PlanStep{ID: "b", Type: datatypes.StepToolCall, Tool: "y"},
	)
	results := e.Execute(context.Background(), plan, "s1")

	for _, id := range []string{"a", "b"} {
		tr, ok := results.ToolResults[id]
		if !ok || tr.Outcome != datatypes.OutcomeSuccess {
			t.Errorf("step %q result missing or failed: %+v", id, tr)
		}
		if tr != nil && tr.StepID != id {
			t.Errorf("step id not stamped: %+v", tr)
		}
	}
}

func TestResolveFromReferences(t *testing.T) {
	producer := &recordingTool{name: "producer", data: map[string]any{"stdout": "636.48"}}
	consumer := &recordingTool{name: "consumer", data: map[string]any{}}
	reg := tools.NewRegistry(nil)
	reg.Register(producer)
	reg.Register(consumer)
	e := newTestExecutor(t, reg, nil, nil)

	plan := basicPlan(
		datatypes.PlanStep{ID: "calc", Type: datatypes.StepToolCall, Tool: "producer"},
		datatypes.PlanStep{ID: "use", Type: datatypes.StepToolCall, Tool: "consumer",
			DependsOn: []string{"calc"},
			Input: map[string]any{
				"evidence": "FROM_calc",
				"dangling": "FROM_ghost_step",
				"plain":    "literal",
			}},
	)
	e.Execute(context.Background(), plan, "s1")

	got := consumer.inputs["consumer"]
	if got == nil {
		t.Fatal("consumer never ran")
	}
	data, ok := got["evidence"].(map[string]any)
	if !ok || data["stdout"] != "636.48" {
		t.Errorf("FROM_calc should resolve to producer data, got %v", got["evidence"])
	}
	if got["dangling"] != "FROM_ghost_step" {
		t.Errorf("dangling reference must pass through literally, got %v", got["dangling"])
	}
	if got["plain"] != "literal" {
		t.Errorf("plain value altered: %v", got["plain"])
	}
}

func TestSkippableUnavailableTool(t *testing.T) {
	reg := tools.NewRegistry(nil)
	e := newTestExecutor(t, reg, nil, nil)

	plan := basicPlan(
		datatypes.PlanStep{ID: "opt", Type: datatypes.StepToolCall, Tool: "missing",
			CanSkipIfUnavailable: true},
		datatypes.PlanStep{ID: "req", Type: datatypes.StepToolCall, Tool: "missing",
			Required: true},
	)
	results := e.Execute(context.Background(), plan, "s1")

	if results.ToolResults["opt"].Outcome != datatypes.OutcomeSkipped {
		t.Errorf("skippable step = %q, want skipped", results.ToolResults["opt"].Outcome)
	}
	if results.ToolResults["req"].Outcome != datatypes.OutcomeFailed {
		t.Errorf("required step = %q, want failed", results.ToolResults["req"].Outcome)
	}
}

func TestFinalizationStepIsNotExecuted(t *testing.T) {
	reg := tools.NewRegistry(nil)
	e := newTestExecutor(t, reg, nil, nil)

	plan := basicPlan(
		datatypes.PlanStep{ID: "finalize", Type: datatypes.StepFinalization},
	)
	results := e.Execute(context.Background(), plan, "s1")
	if len(results.ToolResults) != 0 {
		t.Errorf("finalization must not produce a tool result: %+v", results.ToolResults)
	}
}

func TestSanityEscalationToSpecialist(t *testing.T) {
	reg := tools.NewRegistry(nil)
	reg.Register(&recordingTool{name: "search",
		data: map[string]any{"stdout": "The Samsung 50E has 25Ah per cell."}})
	v := verifier.New(&fakeConnector{content: specialistVerdict}, nil,
		llm.ModelPrice{InputPer1K: 0.001, OutputPer1K: 0.002}, llm.ModelPrice{}, nil)
	tracker := costs.NewTracker(datatypes.CostLimit{TotalLimitUSD: 1.0, SoftCapFraction: 0.8})
	e := newTestExecutor(t, reg, v, tracker)

	plan := basicPlan(
		datatypes.PlanStep{ID: "search", Type: datatypes.StepToolCall, Tool: "search"},
		datatypes.PlanStep{ID: "check", Type: datatypes.StepSanityCheck, DependsOn: []string{"search"}},
	)
	plan.Query = "What's the capacity of Samsung 50E?"
	results := e.Execute(context.Background(), plan, "s1")

	check := results.SanityResults["check"]
	if check == nil || !check.Suspicious || check.Severity != datatypes.SeverityHigh {
		t.Fatalf("sanity result = %+v", check)
	}
	verdict := results.SpecialistResults["verification"]
	if verdict == nil || verdict.IsError() {
		t.Fatalf("specialist verdict = %+v", verdict)
	}
	if verdict.VerifiedSpecs["capacity_ah"] != 5.0 {
		t.Errorf("verified_specs = %v", verdict.VerifiedSpecs)
	}

	// The specialist call must be accounted.
	if tracker.SessionCost("s1") != 0.02 {
		t.Errorf("session cost = %f, want 0.02", tracker.SessionCost("s1"))
	}
}

func TestSanityCleanContentDoesNotEscalate(t *testing.T) {
	reg := tools.NewRegistry(nil)
	reg.Register(&recordingTool{name: "search",
		data: map[string]any{"stdout": "The Samsung 50E is a 5.0 Ah cell."}})
	v := verifier.New(&fakeConnector{content: specialistVerdict}, nil,
		llm.ModelPrice{}, llm.ModelPrice{}, nil)
	e := newTestExecutor(t, reg, v, nil)

	plan := basicPlan(
		datatypes.PlanStep{ID: "search", Type: datatypes.StepToolCall, Tool: "search"},
		datatypes.PlanStep{ID: "check", Type: datatypes.StepSanityCheck, DependsOn: []string{"search"}},
	)
	plan.Query = "capacity of Samsung 50E?"
	results := e.Execute(context.Background(), plan, "s1")

	if _, escalated := results.SpecialistResults["verification"]; escalated {
		t.Error("clean content must not reach the specialist")
	}
}

func TestSanityMediumSeverityStillVerified(t *testing.T) {
	// A soft rule firing (medium severity) must still reach a
	// specialist; only the tier depends on severity and safety level.
	reg := tools.NewRegistry(nil)
	reg.Register(&recordingTool{name: "search",
		data: map[string]any{"stdout": "Charge the cell to 4.8 V."}})
	fast := &countingConnector{fakeConnector: fakeConnector{content: specialistVerdict}}
	strong := &countingConnector{fakeConnector: fakeConnector{content: specialistVerdict}}
	v := verifier.New(fast, strong, llm.ModelPrice{}, llm.ModelPrice{}, nil)
	e := newTestExecutor(t, reg, v, nil)

	plan := basicPlan(
		datatypes.PlanStep{ID: "search", Type: datatypes.StepToolCall, Tool: "search"},
		datatypes.PlanStep{ID: "check", Type: datatypes.StepSanityCheck, DependsOn: []string{"search"}},
	)
	plan.Query = "what voltage should I charge this cell to?"
	results := e.Execute(context.Background(), plan, "s1")

	check := results.SanityResults["check"]
	if check == nil || !check.Suspicious || check.Severity != datatypes.SeverityMedium {
		t.Fatalf("sanity result = %+v, want suspicious medium", check)
	}
	verdict := results.SpecialistResults["verification"]
	if verdict == nil || verdict.IsError() {
		t.Fatalf("medium-severity finding must be verified, got %+v", verdict)
	}
	if fast.count() != 1 || strong.count() != 0 {
		t.Errorf("medium severity at normal safety uses the fast tier: fast=%d strong=%d",
			fast.count(), strong.count())
	}
}

func TestSanityMediumSeverityElevatedSafetyUsesStrongTier(t *testing.T) {
	reg := tools.NewRegistry(nil)
	reg.Register(&recordingTool{name: "search",
		data: map[string]any{"stdout": "Charge the cell to 4.8 V."}})
	fast := &countingConnector{fakeConnector: fakeConnector{content: specialistVerdict}}
	strong := &countingConnector{fakeConnector: fakeConnector{content: specialistVerdict}}
	v := verifier.New(fast, strong, llm.ModelPrice{}, llm.ModelPrice{}, nil)
	e := newTestExecutor(t, reg, v, nil)

	plan := basicPlan(
		datatypes.PlanStep{ID: "search", Type: datatypes.StepToolCall, Tool: "search"},
		datatypes.PlanStep{ID: "check", Type: datatypes.StepSanityCheck, DependsOn: []string{"search"}},
	)
	plan.Query = "what voltage should I charge this cell to?"
	plan.SafetyLevel = datatypes.SafetyHigh
	e.Execute(context.Background(), plan, "s1")

	if fast.count() != 0 || strong.count() != 1 {
		t.Errorf("elevated safety routes to the strong tier: fast=%d strong=%d",
			fast.count(), strong.count())
	}
}

func TestSanityScopedToContextSteps(t *testing.T) {
	// The out-of-range pack voltage lives in a step the sanity check
	// does not reference; scoping must keep it out of view.
	reg := tools.NewRegistry(nil)
	reg.Register(&recordingTool{name: "search",
		data: map[string]any{"stdout": "Nominal per-cell voltage is 3.6 V."}})
	reg.Register(&recordingTool{name: "pack_info",
		data: map[string]any{"stdout": "Full packs run at 48 V."}})
	e := newTestExecutor(t, reg, nil, nil)

	scoped := basicPlan(
		datatypes.PlanStep{ID: "search", Type: datatypes.StepToolCall, Tool: "search"},
		datatypes.PlanStep{ID: "pack", Type: datatypes.StepToolCall, Tool: "pack_info"},
		datatypes.PlanStep{ID: "check", Type: datatypes.StepSanityCheck,
			DependsOn: []string{"search", "pack"},
			Input:     map[string]any{"context_step_ids": []any{"search"}}},
	)
	scoped.Query = "what is the cell voltage?"
	results := e.Execute(context.Background(), scoped, "s1")

	check := results.SanityResults["check"]
	if check == nil || check.Suspicious {
		t.Errorf("scoped check saw out-of-scope content: %+v", check)
	}

	// Without the scope the same plan sees everything and flags 48 V.
	unscoped := basicPlan(
		datatypes.PlanStep{ID: "search", Type: datatypes.StepToolCall, Tool: "search"},
		datatypes.PlanStep{ID: "pack", Type: datatypes.StepToolCall, Tool: "pack_info"},
		datatypes.PlanStep{ID: "check", Type: datatypes.StepSanityCheck,
			DependsOn: []string{"search", "pack"}},
	)
	unscoped.Query = "what is the cell voltage?"
	results = e.Execute(context.Background(), unscoped, "s2")

	check = results.SanityResults["check"]
	if check == nil || !check.Suspicious {
		t.Errorf("unscoped check must see all steps: %+v", check)
	}
}

func TestResolveReferenceToDatalessResult(t *testing.T) {
	// A completed step with no data payload still resolves: the whole
	// result stands in, never the FROM_ literal.
	producer := &recordingTool{name: "ping"}
	consumer := &recordingTool{name: "consumer"}
	reg := tools.NewRegistry(nil)
	reg.Register(producer)
	reg.Register(consumer)
	e := newTestExecutor(t, reg, nil, nil)

	plan := basicPlan(
		datatypes.PlanStep{ID: "status", Type: datatypes.StepToolCall, Tool: "ping"},
		datatypes.PlanStep{ID: "use", Type: datatypes.StepToolCall, Tool: "consumer",
			DependsOn: []string{"status"},
			Input:     map[string]any{"evidence": "FROM_status"}},
	)
	e.Execute(context.Background(), plan, "s1")

	got := consumer.inputs["consumer"]
	if got == nil {
		t.Fatal("consumer never ran")
	}
	tr, ok := got["evidence"].(*datatypes.ToolResult)
	if !ok {
		t.Fatalf("data-less reference must resolve to the result, got %T %v",
			got["evidence"], got["evidence"])
	}
	if tr.StepID != "status" || tr.Outcome != datatypes.OutcomeSuccess {
		t.Errorf("resolved result = %+v", tr)
	}
}

func TestSpecialistBlockedByBudget(t *testing.T) {
	reg := tools.NewRegistry(nil)
	reg.Register(&recordingTool{name: "search",
		data: map[string]any{"stdout": "around 25Ah per cell"}})
	v := verifier.New(&fakeConnector{content: specialistVerdict}, nil,
		llm.ModelPrice{InputPer1K: 10, OutputPer1K: 10}, llm.ModelPrice{}, nil)
	// Hard cap already effectively consumed.
	tracker := costs.NewTracker(datatypes.CostLimit{TotalLimitUSD: 0.01, SoftCapFraction: 0.8})
	e := newTestExecutor(t, reg, v, tracker)

	plan := basicPlan(
		datatypes.PlanStep{ID: "search", Type: datatypes.StepToolCall, Tool: "search"},
		datatypes.PlanStep{ID: "check", Type: datatypes.StepSanityCheck, DependsOn: []string{"search"}},
	)
	plan.Query = "capacity of this cell?"
	results := e.Execute(context.Background(), plan, "s1")

	verdict := results.SpecialistResults["verification"]
	if verdict == nil || !verdict.IsError() {
		t.Fatalf("want cost_blocked error, got %+v", verdict)
	}
	if verdict.Error.Type != datatypes.VerifyErrCostBlocked {
		t.Errorf("error type = %q, want cost_blocked", verdict.Error.Type)
	}
	// Denied calls must not be charged.
	if tracker.SessionCost("s1") != 0 {
		t.Errorf("denied call was charged: %f", tracker.SessionCost("s1"))
	}
}

func TestModelCallStep(t *testing.T) {
	reg := tools.NewRegistry(nil)
	v := verifier.New(&fakeConnector{content: specialistVerdict}, nil,
		llm.ModelPrice{}, llm.ModelPrice{}, nil)
	e := newTestExecutor(t, reg, v, nil)

	plan := basicPlan(
		datatypes.PlanStep{ID: "consult", Type: datatypes.StepModelCall, Model: "specialist"},
	)
	results := e.Execute(context.Background(), plan, "s1")

	verdict := results.SpecialistResults["consult"]
	if verdict == nil || verdict.IsError() {
		t.Fatalf("model_call verdict = %+v", verdict)
	}
}

func TestTopoOrderStableTies(t *testing.T) {
	plan := basicPlan(
		datatypes.PlanStep{ID: "c", Type: datatypes.StepToolCall, Tool: "t"},
		datatypes.PlanStep{ID: "a", Type: datatypes.StepToolCall, Tool: "t"},
		datatypes.PlanStep{ID: "b", Type: datatypes.StepToolCall, Tool: "t", DependsOn: []string{"c", "a"}},
	)
	waves, err := topoOrder(plan)
	if err != nil {
		t.Fatalf("topoOrder: %v", err)
	}
	if len(waves) != 2 {
		t.Fatalf("waves = %v", waves)
	}
	// First wave keeps plan order: c before a.
	if waves[0][0] != 0 || waves[0][1] != 1 {
		t.Errorf("first wave = %v, want [0 1]", waves[0])
	}
}
