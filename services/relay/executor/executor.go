// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package executor runs a validated plan as a dependency graph.
//
// Steps with satisfied dependencies execute in parallel waves; within a
// wave, results land deterministically by plan order. Tool failures
// degrade the affected branch rather than aborting the plan, and every
// specialist invocation passes budget admission first.
//
// Thread Safety:
//
//	An Executor is safe for concurrent use; per-plan state lives in the
//	run, not the Executor.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/AleutianAI/AleutianRelay/pkg/validation"
	"github.com/AleutianAI/AleutianRelay/services/relay/costs"
	"github.com/AleutianAI/AleutianRelay/services/relay/datatypes"
	"github.com/AleutianAI/AleutianRelay/services/relay/sanity"
	"github.com/AleutianAI/AleutianRelay/services/relay/tools"
	"github.com/AleutianAI/AleutianRelay/services/relay/verifier"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"
)

var (
	tracer = otel.Tracer("relay.executor")
	meter  = otel.Meter("relay.executor")

	stepDuration metric.Float64Histogram
	planSteps    metric.Int64Counter
	metricsOnce  sync.Once
)

func initMetrics() {
	metricsOnce.Do(func() {
		var err error
		stepDuration, err = meter.Float64Histogram(
			"relay.executor.step.duration",
			metric.WithDescription("Per-step execution time in seconds"),
			metric.WithUnit("s"),
		)
		if err != nil {
			stepDuration = nil
		}
		planSteps, err = meter.Int64Counter(
			"relay.executor.steps",
			metric.WithDescription("Executed steps by outcome"),
		)
		if err != nil {
			planSteps = nil
		}
	})
}

// verificationKey stores sanity-triggered specialist results in the
// specialist result map.
const verificationKey = "verification"

// Executor runs plans.
type Executor struct {
	registry *tools.Registry
	checker  *sanity.Checker
	verifier *verifier.Verifier
	tracker  *costs.Tracker
	logger   *slog.Logger
}

// New creates an executor over its collaborators. checker and verifier
// may be nil; the corresponding step types then degrade.
func New(registry *tools.Registry, checker *sanity.Checker, v *verifier.Verifier, tracker *costs.Tracker, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	initMetrics()
	return &Executor{
		registry: registry,
		checker:  checker,
		verifier: v,
		tracker:  tracker,
		logger:   logger,
	}
}

// Validate checks a plan's structure before any step runs.
//
// Description:
//
//	Rejects duplicate step ids, dependencies on unknown steps,
//	dependency cycles, and malformed code_exec inputs. A rejected plan
//	executes zero steps.
func Validate(plan *datatypes.Plan) error {
	if plan == nil || len(plan.Steps) == 0 {
		return fmt.Errorf("plan has no steps")
	}

	seen := make(map[string]struct{}, len(plan.Steps))
	for _, step := range plan.Steps {
		if err := validation.ValidateStepID(step.ID); err != nil {
			return err
		}
		if _, dup := seen[step.ID]; dup {
			return fmt.Errorf("duplicate step id %q", step.ID)
		}
		seen[step.ID] = struct{}{}
	}

	for _, step := range plan.Steps {
		for _, dep := range step.DependsOn {
			if _, ok := seen[dep]; !ok {
				return fmt.Errorf("step %q depends on unknown step %q", step.ID, dep)
			}
			if dep == step.ID {
				return fmt.Errorf("step %q depends on itself", step.ID)
			}
		}
		if step.Type == datatypes.StepToolCall && step.Tool == tools.ToolCodeExec {
			if err := tools.ValidateCodeExecInput(step.Input); err != nil {
				return fmt.Errorf("step %q: %w", step.ID, err)
			}
		}
	}

	if _, err := topoOrder(plan); err != nil {
		return err
	}
	return nil
}

// topoOrder produces the execution waves via Kahn's algorithm. Ties
// within a wave keep plan order, so execution is deterministic.
func topoOrder(plan *datatypes.Plan) ([][]int, error) {
	n := len(plan.Steps)
	indegree := make(map[string]int, n)
	dependents := make(map[string][]string, n)
	index := make(map[string]int, n)

	for i, step := range plan.Steps {
		index[step.ID] = i
		indegree[step.ID] += 0
	}
	for _, step := range plan.Steps {
		for _, dep := range step.DependsOn {
			indegree[step.ID]++
			dependents[dep] = append(dependents[dep], step.ID)
		}
	}

	var waves [][]int
	placed := 0
	ready := make([]int, 0, n)
	for _, step := range plan.Steps {
		if indegree[step.ID] == 0 {
			ready = append(ready, index[step.ID])
		}
	}

	for len(ready) > 0 {
		wave := ready
		ready = nil
		waves = append(waves, wave)
		placed += len(wave)

		released := make(map[string]struct{})
		for _, i := range wave {
			for _, dep := range dependents[plan.Steps[i].ID] {
				indegree[dep]--
				if indegree[dep] == 0 {
					released[dep] = struct{}{}
				}
			}
		}
		// Plan order within the wave.
		for i, step := range plan.Steps {
			if _, ok := released[step.ID]; ok {
				ready = append(ready, i)
			}
		}
	}

	if placed != n {
		return nil, fmt.Errorf("plan has a dependency cycle")
	}
	return waves, nil
}

// Execute runs the plan and returns everything it produced.
//
// Description:
//
//	Validation failures short-circuit: the returned results carry one
//	synthetic failed ToolResult under "validation_error" and nothing
//	executed. Otherwise steps run in topological waves; finalization
//	steps are skipped here because the presenter owns them.
//
// Outputs:
//
//	*datatypes.ExecutionResults - Never nil.
func (e *Executor) Execute(ctx context.Context, plan *datatypes.Plan, sessionID string) *datatypes.ExecutionResults {
	ctx, span := tracer.Start(ctx, "executor.Execute")
	defer span.End()

	results := datatypes.NewExecutionResults()

	if err := Validate(plan); err != nil {
		e.logger.Warn("plan rejected", "error", err)
		span.SetAttributes(attribute.Bool("validation_failed", true))
		results.ToolResults["validation_error"] = &datatypes.ToolResult{
			StepID:  "validation_error",
			Tool:    "validation",
			Outcome: datatypes.OutcomeFailed,
			Error:   err.Error(),
		}
		return results
	}

	waves, _ := topoOrder(plan)
	span.SetAttributes(
		attribute.Int("steps", len(plan.Steps)),
		attribute.Int("waves", len(waves)),
	)

	var mu sync.Mutex
	for _, wave := range waves {
		g, gctx := errgroup.WithContext(ctx)
		for _, idx := range wave {
			step := &plan.Steps[idx]
			g.Go(func() error {
				e.runStep(gctx, plan, step, sessionID, results, &mu)
				return nil
			})
		}
		// Step failures are encoded in results, never as errors.
		_ = g.Wait()
	}

	return results
}

// runStep executes one step and records its outputs under mu.
func (e *Executor) runStep(ctx context.Context, plan *datatypes.Plan, step *datatypes.PlanStep, sessionID string, results *datatypes.ExecutionResults, mu *sync.Mutex) {
	ctx, span := tracer.Start(ctx, "executor.runStep")
	span.SetAttributes(
		attribute.String("step_id", step.ID),
		attribute.String("step_type", string(step.Type)),
	)
	defer span.End()

	start := time.Now()
	defer func() {
		if stepDuration != nil {
			stepDuration.Record(ctx, time.Since(start).Seconds(),
				metric.WithAttributes(attribute.String("step_type", string(step.Type))))
		}
	}()

	switch step.Type {
	case datatypes.StepFinalization:
		// Owned by the presenter.
		return

	case datatypes.StepToolCall:
		e.runToolStep(ctx, plan, step, results, mu)

	case datatypes.StepSanityCheck:
		e.runSanityStep(ctx, plan, step, sessionID, results, mu)

	case datatypes.StepModelCall:
		e.runModelStep(ctx, plan, step, sessionID, results, mu)
	}
}

func (e *Executor) runToolStep(ctx context.Context, plan *datatypes.Plan, step *datatypes.PlanStep, results *datatypes.ExecutionResults, mu *sync.Mutex) {
	mu.Lock()
	input := e.resolveInputs(step, results)
	_, registered := e.registry.Get(step.Tool)
	mu.Unlock()

	var result *datatypes.ToolResult
	if !registered && step.CanSkipIfUnavailable {
		result = &datatypes.ToolResult{
			Tool:    step.Tool,
			Outcome: datatypes.OutcomeSkipped,
			Error:   fmt.Sprintf("tool %q unavailable", step.Tool),
		}
		e.logger.Info("step skipped, tool unavailable", "step_id", step.ID, "tool", step.Tool)
	} else {
		result = e.registry.Execute(ctx, step.Tool, input)
	}
	result.StepID = step.ID

	if planSteps != nil {
		planSteps.Add(ctx, 1, metric.WithAttributes(
			attribute.String("outcome", string(result.Outcome))))
	}

	mu.Lock()
	results.ToolResults[step.ID] = result
	mu.Unlock()
}

func (e *Executor) runSanityStep(ctx context.Context, plan *datatypes.Plan, step *datatypes.PlanStep, sessionID string, results *datatypes.ExecutionResults, mu *sync.Mutex) {
	if e.checker == nil {
		return
	}

	mu.Lock()
	content := sanityContent(plan, step, results)
	mu.Unlock()

	check := e.checker.Check(plan.Query, content)
	mu.Lock()
	results.SanityResults[step.ID] = check
	mu.Unlock()

	if !check.Suspicious {
		return
	}

	// Every suspicious result goes to a specialist; severity and the
	// plan's safety level only pick the tier.
	useStrong := sanity.ShouldEscalate(check) ||
		plan.SafetyLevel != datatypes.SafetyNormal

	e.logger.Warn("sanity check escalating to specialist",
		"step_id", step.ID, "issues", len(check.Issues), "strong_tier", useStrong)

	verdict := e.verify(ctx, plan, sessionID, verifier.Request{
		Query:     plan.Query,
		Evidence:  content,
		Issues:    check.Issues,
		UseStrong: useStrong,
	})

	mu.Lock()
	results.SpecialistResults[verificationKey] = verdict
	mu.Unlock()
}

func (e *Executor) runModelStep(ctx context.Context, plan *datatypes.Plan, step *datatypes.PlanStep, sessionID string, results *datatypes.ExecutionResults, mu *sync.Mutex) {
	mu.Lock()
	content := accumulatedContent(plan, results)
	mu.Unlock()

	verdict := e.verify(ctx, plan, sessionID, verifier.Request{
		Query:     plan.Query,
		Evidence:  content,
		UseStrong: plan.SafetyLevel != datatypes.SafetyNormal,
	})

	mu.Lock()
	results.SpecialistResults[step.ID] = verdict
	mu.Unlock()
}

// verify runs one budget-admitted specialist call and tracks its cost.
func (e *Executor) verify(ctx context.Context, plan *datatypes.Plan, sessionID string, req verifier.Request) *datatypes.VerificationResult {
	if e.verifier == nil || !e.verifier.Available() {
		return &datatypes.VerificationResult{
			Error: &datatypes.VerificationError{
				Type:    datatypes.VerifyErrNoConnector,
				Message: "no specialist connector configured",
			},
		}
	}

	if e.tracker != nil {
		estimate := e.verifier.EstimateCost(req)
		critical := plan.SafetyLevel != datatypes.SafetyNormal
		allowed, reason := e.tracker.CanProceed(sessionID, estimate, critical)
		if !allowed {
			e.logger.Warn("specialist call blocked by budget",
				"session_id", sessionID, "estimate_usd", estimate, "reason", reason)
			return &datatypes.VerificationResult{
				Error: &datatypes.VerificationError{
					Type:            datatypes.VerifyErrCostBlocked,
					Message:         fmt.Sprintf("verification denied: %s (estimated $%.4f)", reason, estimate),
					SuggestedAction: "raise the session budget or enable manual override",
				},
			}
		}
		if reason == costs.ReasonSoftCapWarning {
			e.logger.Warn("session spend passed the soft cap", "session_id", sessionID)
		}
	}

	verdict, raw := e.verifier.Verify(ctx, req)
	if e.tracker != nil && raw != nil && (raw.Cost > 0 || raw.TokenCount.Input > 0 || raw.TokenCount.Output > 0) {
		e.tracker.Track(datatypes.CostRecord{
			QueryID:      plan.PlanID,
			SessionID:    sessionID,
			Model:        raw.ModelUsed,
			InputTokens:  raw.TokenCount.Input,
			OutputTokens: raw.TokenCount.Output,
			CostUSD:      raw.Cost,
			Timestamp:    time.Now().UTC(),
		})
	}
	return verdict
}

// resolveInputs substitutes FROM_<id> references with the named step's
// result data, or the whole result when the step produced no data
// payload. Only a reference to an unknown step passes through as a
// literal.
func (e *Executor) resolveInputs(step *datatypes.PlanStep, results *datatypes.ExecutionResults) map[string]any {
	if len(step.Input) == 0 {
		return step.Input
	}
	resolved := make(map[string]any, len(step.Input))
	for key, value := range step.Input {
		str, ok := value.(string)
		if !ok || !strings.HasPrefix(str, "FROM_") {
			resolved[key] = value
			continue
		}
		ref := strings.TrimPrefix(str, "FROM_")
		if tr, ok := results.ToolResults[ref]; ok {
			if tr.Data != nil {
				resolved[key] = tr.Data
			} else {
				resolved[key] = tr
			}
			continue
		}
		e.logger.Warn("dangling step reference passed through as literal",
			"step_id", step.ID, "reference", str)
		resolved[key] = str
	}
	return resolved
}

// sanityContent picks the text a sanity step examines. A step that
// names context_step_ids is scoped to those steps' output; otherwise
// it sees everything accumulated so far.
func sanityContent(plan *datatypes.Plan, step *datatypes.PlanStep, results *datatypes.ExecutionResults) string {
	ids := stepIDList(step.Input["context_step_ids"])
	if len(ids) == 0 {
		return accumulatedContent(plan, results)
	}
	var b strings.Builder
	for _, id := range ids {
		tr, ok := results.ToolResults[id]
		if !ok || tr.Outcome != datatypes.OutcomeSuccess {
			continue
		}
		writeResultText(&b, tr)
	}
	return b.String()
}

// stepIDList parses a context_step_ids value, which arrives from JSON
// as []any of strings.
func stepIDList(raw any) []string {
	switch v := raw.(type) {
	case []string:
		return v
	case []any:
		ids := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok && s != "" {
				ids = append(ids, s)
			}
		}
		return ids
	default:
		return nil
	}
}

// accumulatedContent renders completed tool output as text for sanity
// checks and specialist evidence, in plan order.
func accumulatedContent(plan *datatypes.Plan, results *datatypes.ExecutionResults) string {
	var b strings.Builder
	for _, step := range plan.Steps {
		tr, ok := results.ToolResults[step.ID]
		if !ok || tr.Outcome != datatypes.OutcomeSuccess {
			continue
		}
		writeResultText(&b, tr)
	}
	return b.String()
}

func writeResultText(b *strings.Builder, tr *datatypes.ToolResult) {
	if stdout, ok := tr.Data["stdout"].(string); ok && stdout != "" {
		b.WriteString(stdout)
		b.WriteString("\n")
		return
	}
	for key, value := range tr.Data {
		if s, ok := value.(string); ok {
			fmt.Fprintf(b, "%s: %s\n", key, s)
		}
	}
}
