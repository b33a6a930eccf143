// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package relay is the orchestrator facade: one entry point that plans,
// executes, verifies, and presents a query.
//
// The facade owns the component graph (analyzer, executor, presenter,
// cost tracker, tool registry, episodic memory) and guarantees the
// caller always receives a presentable answer, whatever fails inside.
package relay

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/AleutianAI/AleutianRelay/pkg/extensions"
	"github.com/AleutianAI/AleutianRelay/pkg/validation"
	"github.com/AleutianAI/AleutianRelay/services/llm"
	"github.com/AleutianAI/AleutianRelay/services/relay/analyzer"
	"github.com/AleutianAI/AleutianRelay/services/relay/config"
	"github.com/AleutianAI/AleutianRelay/services/relay/costs"
	"github.com/AleutianAI/AleutianRelay/services/relay/datatypes"
	"github.com/AleutianAI/AleutianRelay/services/relay/executor"
	"github.com/AleutianAI/AleutianRelay/services/relay/memory"
	"github.com/AleutianAI/AleutianRelay/services/relay/presenter"
	"github.com/AleutianAI/AleutianRelay/services/relay/sanity"
	"github.com/AleutianAI/AleutianRelay/services/relay/tools"
	"github.com/AleutianAI/AleutianRelay/services/relay/verifier"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("relay.orchestrator")

// streamChunkSize is the number of bytes per streamed answer chunk.
const streamChunkSize = 64

// Health reports component availability.
type Health struct {
	// Local is the planning/presentation model.
	Local bool `json:"local"`

	// Tools is the tool registry (at least one enabled tool).
	Tools bool `json:"tools"`

	// Externals is true when any specialist tier is reachable.
	Externals bool `json:"externals"`
}

// Healthy reports whether the minimum viable pipeline is up: the local
// model. Tools and externals degrade, they don't block.
func (h Health) Healthy() bool { return h.Local }

// Orchestrator is the facade over the full pipeline.
type Orchestrator struct {
	analyzer  *analyzer.Analyzer
	executor  *executor.Executor
	presenter *presenter.Presenter
	tracker   *costs.Tracker
	registry  *tools.Registry
	store     *memory.Store
	local     llm.Connector
	fast      llm.Connector
	strong    llm.Connector
	ext       *extensions.Options
	logger    *slog.Logger
}

// New assembles the pipeline from configuration.
//
// Description:
//
//	Builds the local Ollama connector, the optional specialist
//	connectors, the tool registry (code_exec, web_search, sentiment,
//	memory), the sanity checker with the stock rule table, the cost
//	tracker, and the episodic store. Specialist tiers without an API
//	key stay nil and verification degrades to no_connector.
func New(cfg *config.Config, logger *slog.Logger) (*Orchestrator, error) {
	if logger == nil {
		logger = slog.Default()
	}

	local, err := llm.NewOllamaConnector(cfg.Local.BaseURL, cfg.Local.Model, logger)
	if err != nil {
		return nil, fmt.Errorf("relay: building local connector: %w", err)
	}

	var fast, strong llm.Connector
	fastPrice := llm.ModelPrice{InputPer1K: cfg.Fast.InputPer1K, OutputPer1K: cfg.Fast.OutputPer1K}
	strongPrice := llm.ModelPrice{InputPer1K: cfg.Strong.InputPer1K, OutputPer1K: cfg.Strong.OutputPer1K}
	if cfg.Fast.Enabled() {
		conn, err := llm.NewOpenAIConnector(cfg.Fast.APIKey, cfg.Fast.BaseURL, cfg.Fast.Model, fastPrice, logger)
		if err != nil {
			return nil, fmt.Errorf("relay: building fast specialist: %w", err)
		}
		fast = conn
	}
	if cfg.Strong.Enabled() {
		conn, err := llm.NewOpenAIConnector(cfg.Strong.APIKey, cfg.Strong.BaseURL, cfg.Strong.Model, strongPrice, logger)
		if err != nil {
			return nil, fmt.Errorf("relay: building strong specialist: %w", err)
		}
		strong = conn
	}

	memCfg := memory.Config{Path: cfg.Memory.Path, InMemory: cfg.Memory.InMemory, SyncWrites: true, Logger: logger}
	if cfg.Memory.InMemory {
		memCfg = memory.InMemoryConfig()
	}
	store, err := memory.Open(memCfg)
	if err != nil {
		return nil, fmt.Errorf("relay: opening memory store: %w", err)
	}

	registry := tools.NewRegistry(logger)
	for _, t := range []tools.Tool{
		tools.NewCodeExecTool(cfg.Tools.SandboxURL, logger),
		tools.NewWebSearchTool(cfg.Tools.SearchEndpoint, cfg.Tools.SearchMaxResults, logger),
		tools.NewSentimentTool(),
		tools.NewMemoryTool(store),
	} {
		if err := registry.Register(t); err != nil {
			store.Close()
			return nil, fmt.Errorf("relay: registering tools: %w", err)
		}
	}
	for _, name := range cfg.Tools.Disabled {
		registry.Disable(name)
	}

	checker, err := sanity.NewChecker(sanity.DefaultRules(), logger)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("relay: compiling sanity rules: %w", err)
	}

	tracker := costs.NewTracker(datatypes.CostLimit{
		TotalLimitUSD:   cfg.Costs.TotalLimitUSD,
		SoftCapFraction: cfg.Costs.SoftCapFraction,
	})
	v := verifier.New(fast, strong, fastPrice, strongPrice, logger)

	return &Orchestrator{
		analyzer:  analyzer.New(local, logger),
		executor:  executor.New(registry, checker, v, tracker, logger),
		presenter: presenter.New(local, logger),
		tracker:   tracker,
		registry:  registry,
		store:     store,
		local:     local,
		fast:      fast,
		strong:    strong,
		ext:       extensions.Defaults(),
		logger:    logger,
	}, nil
}

// SetExtensions installs deployment-specific audit and filter hooks.
// Nil hooks fall back to no-ops. Not safe to call while queries run.
func (o *Orchestrator) SetExtensions(opts *extensions.Options) {
	o.ext = opts.Normalize()
}

// Close releases held resources.
func (o *Orchestrator) Close() error {
	if o.store != nil {
		return o.store.Close()
	}
	return nil
}

// ProcessQuery runs one query end to end.
//
// Description:
//
//	Analyze, execute, present, remember. Panics anywhere in the
//	pipeline are recovered into an apology answer; the caller always
//	gets a FinalizationOutput.
//
// Outputs:
//
//	*datatypes.FinalizationOutput - Never nil.
func (o *Orchestrator) ProcessQuery(ctx context.Context, query, sessionID string, source datatypes.Source) (output *datatypes.FinalizationOutput) {
	ctx, span := tracer.Start(ctx, "relay.ProcessQuery")
	defer span.End()

	if err := validation.ValidateSessionID(sessionID); err != nil {
		if sessionID != "" {
			o.logger.Warn("replacing unusable session id", "error", err)
		}
		sessionID = uuid.NewString()
	}
	span.SetAttributes(attribute.String("session_id", sessionID))

	ext := o.ext.Normalize()
	ext.Auditor.RecordQuery(ctx, extensions.AuditEntry{
		SessionID: sessionID,
		Query:     query,
		Source:    string(source),
		Timestamp: time.Now().UTC(),
	})

	// Registered before the recover handler so filtering also covers
	// the recovered apology output.
	defer func() {
		if output != nil {
			output.FinalAnswer = ext.Filter.FilterAnswer(output.FinalAnswer)
		}
	}()

	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("query pipeline panicked", "panic", r, "session_id", sessionID)
			output = &datatypes.FinalizationOutput{
				FinalAnswer:  "I'm sorry, something went wrong while processing that query.",
				ShortSummary: "Internal failure.",
				Debug:        map[string]any{"panic": fmt.Sprint(r)},
			}
		}
	}()

	start := time.Now()
	plan := o.analyzer.Analyze(ctx, query, source)
	results := o.executor.Execute(ctx, plan, sessionID)
	output = o.presenter.Present(ctx, plan, results)

	o.remember(ctx, sessionID, plan, results, output)

	o.logger.Info("query processed",
		"session_id", sessionID,
		"plan_id", plan.PlanID,
		"intent", plan.Intent,
		"steps", len(plan.Steps),
		"duration", time.Since(start),
		"trace_id", trace.SpanFromContext(ctx).SpanContext().TraceID().String(),
	)
	return output
}

// ProcessQueryStream runs the query to completion, then streams the
// final answer in chunks.
//
// Description:
//
//	All tool, sanity, and specialist work finishes before the first
//	chunk: streaming starts only when the answer is fully grounded.
//	The full output accompanies the channel for citation rendering.
func (o *Orchestrator) ProcessQueryStream(ctx context.Context, query, sessionID string, source datatypes.Source) (<-chan string, *datatypes.FinalizationOutput) {
	output := o.ProcessQuery(ctx, query, sessionID, source)

	chunks := make(chan string)
	go func() {
		defer close(chunks)
		answer := output.FinalAnswer
		for len(answer) > 0 {
			n := streamChunkSize
			if n > len(answer) {
				n = len(answer)
			}
			select {
			case chunks <- answer[:n]:
				answer = answer[n:]
			case <-ctx.Done():
				return
			}
		}
	}()
	return chunks, output
}

// remember records the query as an episode. Memory failures are logged
// and ignored; recall is a convenience, not a dependency.
func (o *Orchestrator) remember(ctx context.Context, sessionID string, plan *datatypes.Plan, results *datatypes.ExecutionResults, output *datatypes.FinalizationOutput) {
	if o.store == nil {
		return
	}

	escalated := false
	for _, verdict := range results.SpecialistResults {
		if !verdict.IsError() {
			escalated = true
			break
		}
	}

	ep := &memory.Episode{
		SessionID:   sessionID,
		Query:       plan.Query,
		Intent:      plan.Intent,
		StepCount:   len(plan.Steps),
		Escalated:   escalated,
		FinalAnswer: output.FinalAnswer,
		CostUSD:     o.queryCost(plan.PlanID),
	}
	if err := o.store.SaveEpisode(ctx, ep); err != nil {
		o.logger.Warn("failed to record episode", "error", err)
	}
}

// queryCost sums tracked spend for one plan.
func (o *Orchestrator) queryCost(planID string) float64 {
	var total float64
	for _, rec := range o.tracker.Records() {
		if rec.QueryID == planID {
			total += rec.CostUSD
		}
	}
	return total
}

// CheckHealth reports the status of each pipeline component.
func (o *Orchestrator) CheckHealth(ctx context.Context) Health {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	h := Health{Tools: o.registry.Healthy()}
	if o.local != nil {
		h.Local = o.local.Health(ctx)
	}
	if o.fast != nil && o.fast.Health(ctx) {
		h.Externals = true
	} else if o.strong != nil && o.strong.Health(ctx) {
		h.Externals = true
	}
	return h
}

// CostSummary reports spend for a session, or process-wide when
// sessionID is empty.
func (o *Orchestrator) CostSummary(sessionID string) datatypes.CostSummary {
	return o.tracker.Summary(sessionID)
}

// SetSessionLimit installs a per-session spend cap.
func (o *Orchestrator) SetSessionLimit(sessionID string, limit datatypes.CostLimit) {
	o.tracker.SetSessionLimit(sessionID, limit)
}

// EnableManualOverride lets critical calls through a reached hard cap.
func (o *Orchestrator) EnableManualOverride(enabled bool) {
	o.tracker.EnableManualOverride(enabled)
}
