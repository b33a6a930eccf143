// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package relay

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"regexp"
	"strings"
	"testing"

	"github.com/AleutianAI/AleutianRelay/pkg/extensions"
	"github.com/AleutianAI/AleutianRelay/services/llm"
	"github.com/AleutianAI/AleutianRelay/services/relay/analyzer"
	"github.com/AleutianAI/AleutianRelay/services/relay/costs"
	"github.com/AleutianAI/AleutianRelay/services/relay/datatypes"
	"github.com/AleutianAI/AleutianRelay/services/relay/executor"
	"github.com/AleutianAI/AleutianRelay/services/relay/memory"
	"github.com/AleutianAI/AleutianRelay/services/relay/presenter"
	"github.com/AleutianAI/AleutianRelay/services/relay/sanity"
	"github.com/AleutianAI/AleutianRelay/services/relay/tools"
	"github.com/AleutianAI/AleutianRelay/services/relay/verifier"
)

// scriptedLocal answers the planner and presenter prompts differently,
// keyed on the system prompt.
type scriptedLocal struct {
	planJSON    string
	presentJSON string
	err         error
	healthy     bool
}

func (s *scriptedLocal) Generate(ctx context.Context, msgs []llm.Message, opts llm.Options) (*llm.GenerateResult, error) {
	if s.err != nil {
		return nil, s.err
	}
	system := msgs[0].Content
	switch {
	case strings.Contains(system, "query planner"):
		return &llm.GenerateResult{Content: s.planJSON, ModelUsed: "local"}, nil
	case strings.Contains(system, "final-answer writer"):
		return &llm.GenerateResult{Content: s.presentJSON, ModelUsed: "local"}, nil
	default:
		return nil, errors.New("unexpected prompt")
	}
}

func (s *scriptedLocal) Stream(ctx context.Context, msgs []llm.Message, opts llm.Options) (<-chan string, error) {
	ch := make(chan string)
	close(ch)
	return ch, nil
}

func (s *scriptedLocal) Health(ctx context.Context) bool { return s.healthy }
func (s *scriptedLocal) Model() string                   { return "local" }

type fakeSpecialist struct {
	content string
}

func (f *fakeSpecialist) Generate(ctx context.Context, msgs []llm.Message, opts llm.Options) (*llm.GenerateResult, error) {
	return &llm.GenerateResult{
		Content:    f.content,
		ModelUsed:  "specialist",
		TokenCount: llm.TokenCount{Input: 200, Output: 100},
		Cost:       0.02,
	}, nil
}

func (f *fakeSpecialist) Stream(ctx context.Context, msgs []llm.Message, opts llm.Options) (<-chan string, error) {
	ch := make(chan string)
	close(ch)
	return ch, nil
}

func (f *fakeSpecialist) Health(ctx context.Context) bool { return true }
func (f *fakeSpecialist) Model() string                   { return "specialist" }

// canned web search tool, avoids HTTP in facade tests.
type cannedSearch struct {
	stdout string
}

func (c *cannedSearch) Name() string               { return "web_search" }
func (c *cannedSearch) Definition() tools.Definition { return tools.Definition{Name: "web_search"} }

func (c *cannedSearch) Execute(ctx context.Context, params map[string]any) (*datatypes.ToolResult, error) {
	return &datatypes.ToolResult{
		Outcome: datatypes.OutcomeSuccess,
		Data: map[string]any{
			"stdout": c.stdout,
			"citations": []datatypes.Citation{
				{Title: "Samsung 50E datasheet", URL: "https://example.com/50e"},
			},
		},
	}, nil
}

func (c *cannedSearch) Fallback(ctx context.Context, params map[string]any, cause error) (*datatypes.ToolResult, error) {
	return nil, cause
}

type testEnv struct {
	orch    *Orchestrator
	tracker *costs.Tracker
	store   *memory.Store
}

func newTestOrchestrator(t *testing.T, local llm.Connector, fast llm.Connector, limit datatypes.CostLimit, searchStdout string) *testEnv {
	t.Helper()

	store, err := memory.Open(memory.InMemoryConfig())
	if err != nil {
		t.Fatalf("memory.Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	reg := tools.NewRegistry(nil)
	reg.Register(tools.NewCodeExecTool("", nil)) // no sandbox: native fallback
	reg.Register(&cannedSearch{stdout: searchStdout})
	reg.Register(tools.NewSentimentTool())
	reg.Register(tools.NewMemoryTool(store))

	checker, err := sanity.NewChecker(sanity.DefaultRules(), nil)
	if err != nil {
		t.Fatalf("NewChecker: %v", err)
	}

	tracker := costs.NewTracker(limit)
	v := verifier.New(fast, nil,
		llm.ModelPrice{InputPer1K: 0.001, OutputPer1K: 0.002}, llm.ModelPrice{}, nil)

	orch := &Orchestrator{
		analyzer:  analyzer.New(local, nil),
		executor:  executor.New(reg, checker, v, tracker, nil),
		presenter: presenter.New(local, nil),
		tracker:   tracker,
		registry:  reg,
		store:     store,
		local:     local,
		fast:      fast,
		logger:    slog.Default(),
	}
	return &testEnv{orch: orch, tracker: tracker, store: store}
}

const lookupPlan = `{
  "intent": "spec_lookup",
  "complexity": "simple",
  "steps": [
    {"id": "search", "type": "tool_call", "tool": "web_search",
     "input": {"query": "Samsung 50E datasheet"}, "required": true},
    {"id": "check", "type": "sanity_check", "depends_on": ["search"]},
    {"id": "finalize", "type": "finalization", "depends_on": ["search", "check"]}
  ]
}`

const lookupAnswer = `{
  "final_answer": "The Samsung 50E is a 5.0 Ah 21700 cell [1].",
  "short_summary": "5.0 Ah nominal.",
  "citations_used": [1]
}`

const specialistVerdict = `{
  "verified_specs": {"capacity_ah": 5.0},
  "issues": ["draft claimed 25 Ah"],
  "confidence": {"capacity_ah": "high"},
  "sources": [{"title": "Samsung 50E datasheet", "url": "https://example.com/50e"}]
}`

func TestScenarioSimpleLookup(t *testing.T) {
	local := &scriptedLocal{planJSON: lookupPlan, presentJSON: lookupAnswer, healthy: true}
	env := newTestOrchestrator(t, local, nil, datatypes.DefaultCostLimit(),
		"The Samsung 50E is rated at 5.0 Ah nominal.")

	output := env.orch.ProcessQuery(context.Background(),
		"What's the capacity of Samsung 50E?", "s1", datatypes.SourceCLI)

	if !strings.Contains(output.FinalAnswer, "5.0 Ah") {
		t.Errorf("final_answer = %q", output.FinalAnswer)
	}
	if len(output.Citations) != 1 {
		t.Errorf("citations = %+v", output.Citations)
	}
	// Clean content: no escalation, no spend.
	if env.tracker.TotalCost() != 0 {
		t.Errorf("lookup should cost nothing, spent %f", env.tracker.TotalCost())
	}
}

func TestScenarioPackCalculation(t *testing.T) {
	// The planner forgets code_exec; injection must add it, and with no
	// sandbox the native fallback computes the answer.
	plan := `{
      "intent": "calculation",
      "steps": [
        {"id": "finalize", "type": "finalization", "input": {"query": "q"}}
      ]
    }`
	local := &scriptedLocal{planJSON: plan, err: nil, healthy: true,
		presentJSON: `{"final_answer": "Your 13S4P pack stores 636.48 Wh.", "short_summary": "636.48 Wh."}`}
	env := newTestOrchestrator(t, local, nil, datatypes.DefaultCostLimit(), "")

	output := env.orch.ProcessQuery(context.Background(),
		"Total Wh for a 13S4P pack of 3400mAh cells at 3.6V?", "s2", datatypes.SourceCLI)

	if !strings.Contains(output.FinalAnswer, "636.48") {
		t.Errorf("final_answer = %q", output.FinalAnswer)
	}
	fallbacks, _ := output.Debug["tool_fallbacks"].([]string)
	if len(fallbacks) != 1 {
		t.Errorf("native calc fallback should be flagged, debug = %v", output.Debug)
	}
}

func TestScenarioSanityEscalation(t *testing.T) {
	local := &scriptedLocal{planJSON: lookupPlan, presentJSON: lookupAnswer, healthy: true}
	fast := &fakeSpecialist{content: specialistVerdict}
	env := newTestOrchestrator(t, local, fast, datatypes.DefaultCostLimit(),
		"The Samsung 50E has a capacity of 25Ah per cell.")

	output := env.orch.ProcessQuery(context.Background(),
		"What's the capacity of Samsung 50E?", "s3", datatypes.SourceCLI)

	escalations, _ := output.Debug["escalations"].([]string)
	if len(escalations) != 1 || escalations[0] != "verification" {
		t.Fatalf("escalations = %v", output.Debug["escalations"])
	}
	if env.tracker.SessionCost("s3") != 0.02 {
		t.Errorf("specialist spend not tracked: %f", env.tracker.SessionCost("s3"))
	}
}

func TestScenarioCostBlocked(t *testing.T) {
	local := &scriptedLocal{planJSON: lookupPlan, presentJSON: lookupAnswer, healthy: true}
	fast := &fakeSpecialist{content: specialistVerdict}
	// Cap so small any estimate exceeds it.
	env := newTestOrchestrator(t, local, fast,
		datatypes.CostLimit{TotalLimitUSD: 0.0000001, SoftCapFraction: 0.8},
		"The Samsung 50E has a capacity of 25Ah per cell.")

	output := env.orch.ProcessQuery(context.Background(),
		"What's the capacity of Samsung 50E?", "s4", datatypes.SourceCLI)

	if output.Debug["specialist_error_verification"] != datatypes.VerifyErrCostBlocked {
		t.Errorf("want cost_blocked in debug, got %v", output.Debug)
	}
	if env.tracker.SessionCost("s4") != 0 {
		t.Errorf("blocked call was charged: %f", env.tracker.SessionCost("s4"))
	}
	if strings.TrimSpace(output.FinalAnswer) == "" {
		t.Error("answer must still be produced")
	}
}

func TestScenarioPlannerDown(t *testing.T) {
	local := &scriptedLocal{err: errors.New("model down")}
	env := newTestOrchestrator(t, local, nil, datatypes.DefaultCostLimit(), "")

	output := env.orch.ProcessQuery(context.Background(),
		"what is a BMS?", "s5", datatypes.SourceCLI)
	if strings.TrimSpace(output.FinalAnswer) == "" {
		t.Error("planner outage must still yield an answer")
	}
	if output.Debug["presenter_fallback"] != true {
		t.Errorf("presenter fallback expected, debug = %v", output.Debug)
	}
}

func TestScenarioValidationDefect(t *testing.T) {
	badPlan := `{
      "intent": "x",
      "steps": [
        {"id": "a", "type": "tool_call", "tool": "web_search", "input": {"query": "q"}},
        {"id": "a", "type": "tool_call", "tool": "web_search", "input": {"query": "q"}},
        {"id": "finalize", "type": "finalization", "depends_on": ["a"]}
      ]
    }`
	local := &scriptedLocal{planJSON: badPlan, presentJSON: "not json", healthy: true}
	env := newTestOrchestrator(t, local, nil, datatypes.DefaultCostLimit(), "")

	output := env.orch.ProcessQuery(context.Background(), "q", "s6", datatypes.SourceCLI)
	if output.Debug["validation_error"] == nil {
		t.Errorf("validation defect must surface in debug: %v", output.Debug)
	}
	if !strings.Contains(output.FinalAnswer, "duplicate step id") {
		t.Errorf("final_answer = %q", output.FinalAnswer)
	}
}

func TestProcessQueryStream(t *testing.T) {
	local := &scriptedLocal{planJSON: lookupPlan, presentJSON: lookupAnswer, healthy: true}
	env := newTestOrchestrator(t, local, nil, datatypes.DefaultCostLimit(),
		"The Samsung 50E is rated at 5.0 Ah nominal.")

	chunks, output := env.orch.ProcessQueryStream(context.Background(),
		"capacity of 50E?", "s7", datatypes.SourceCLI)

	var streamed strings.Builder
	for c := range chunks {
		streamed.WriteString(c)
	}
	if streamed.String() != output.FinalAnswer {
		t.Errorf("streamed %q != final %q", streamed.String(), output.FinalAnswer)
	}
}

func TestProcessQueryPanicRecovery(t *testing.T) {
	local := &scriptedLocal{planJSON: lookupPlan, presentJSON: lookupAnswer, healthy: true}
	env := newTestOrchestrator(t, local, nil, datatypes.DefaultCostLimit(), "")
	env.orch.analyzer = nil // force a nil dereference inside the pipeline

	output := env.orch.ProcessQuery(context.Background(), "q", "s8", datatypes.SourceCLI)
	if output == nil || !strings.Contains(output.FinalAnswer, "something went wrong") {
		t.Errorf("panic must resolve to an apology, got %+v", output)
	}
}

func TestEpisodeRecorded(t *testing.T) {
	local := &scriptedLocal{planJSON: lookupPlan, presentJSON: lookupAnswer, healthy: true}
	env := newTestOrchestrator(t, local, nil, datatypes.DefaultCostLimit(),
		"The Samsung 50E is rated at 5.0 Ah nominal.")

	env.orch.ProcessQuery(context.Background(),
		"capacity of 50E?", "s9", datatypes.SourceCLI)

	episodes, err := env.store.RecentEpisodes(context.Background(), "s9", "", 10)
	if err != nil {
		t.Fatalf("RecentEpisodes: %v", err)
	}
	if len(episodes) != 1 {
		t.Fatalf("got %d episodes, want 1", len(episodes))
	}
	if episodes[0].Intent != "spec_lookup" || episodes[0].FinalAnswer == "" {
		t.Errorf("episode = %+v", episodes[0])
	}
}

func TestCheckHealth(t *testing.T) {
	local := &scriptedLocal{planJSON: lookupPlan, presentJSON: lookupAnswer, healthy: true}
	env := newTestOrchestrator(t, local, nil, datatypes.DefaultCostLimit(), "")

	h := env.orch.CheckHealth(context.Background())
	if !h.Local || !h.Tools {
		t.Errorf("health = %+v", h)
	}
	if h.Externals {
		t.Error("no specialists configured, externals must be false")
	}
	if !h.Healthy() {
		t.Error("local up means healthy")
	}
}

func TestExtensionHooks(t *testing.T) {
	local := &scriptedLocal{planJSON: lookupPlan, presentJSON: lookupAnswer, healthy: true}
	env := newTestOrchestrator(t, local, nil, datatypes.DefaultCostLimit(),
		"The Samsung 50E is rated at 5.0 Ah nominal.")

	var buf bytes.Buffer
	env.orch.SetExtensions(&extensions.Options{
		Auditor: extensions.LogAuditor{Logger: slog.New(slog.NewTextHandler(&buf, nil))},
		Filter: extensions.RedactFilter{
			Patterns: []*regexp.Regexp{regexp.MustCompile(`Samsung 50E`)},
		},
	})

	output := env.orch.ProcessQuery(context.Background(),
		"capacity of Samsung 50E?", "s10", datatypes.SourceCLI)

	if strings.Contains(output.FinalAnswer, "Samsung 50E") {
		t.Errorf("filter did not redact: %q", output.FinalAnswer)
	}
	if !strings.Contains(output.FinalAnswer, "[redacted]") {
		t.Errorf("redaction marker missing: %q", output.FinalAnswer)
	}
	if !strings.Contains(buf.String(), "s10") {
		t.Errorf("auditor did not record the query: %s", buf.String())
	}
}

func TestInvalidSessionIDReplaced(t *testing.T) {
	local := &scriptedLocal{planJSON: lookupPlan, presentJSON: lookupAnswer, healthy: true}
	env := newTestOrchestrator(t, local, nil, datatypes.DefaultCostLimit(),
		"The Samsung 50E is rated at 5.0 Ah nominal.")

	// A colon would corrupt the memory key layout; the facade must
	// substitute a generated session instead.
	env.orch.ProcessQuery(context.Background(),
		"capacity of 50E?", "bad:session", datatypes.SourceCLI)

	episodes, err := env.store.RecentEpisodes(context.Background(), "bad:session", "", 10)
	if err != nil {
		t.Fatalf("RecentEpisodes: %v", err)
	}
	if len(episodes) != 0 {
		t.Errorf("episode stored under rejected session id")
	}
}
