// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package presenter synthesizes the user-facing answer from everything
// a plan produced.
//
// The presenter numbers citations, asks the local model for a grounded
// answer in JSON, and falls back to deterministic synthesis when the
// model fails. The final answer is never empty: worst case the user
// gets an apology naming what went wrong.
package presenter

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/AleutianAI/AleutianRelay/services/llm"
	"github.com/AleutianAI/AleutianRelay/services/relay/datatypes"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var tracer = otel.Tracer("relay.presenter")

const presentTemperature = 0.5

const systemPrompt = `You are the final-answer writer for a battery-engineering assistant.
You receive the user's query, the evidence gathered by tools and specialists,
and a numbered citation list. Respond with ONLY a JSON object:

{
  "final_answer": "<grounded prose answer; cite sources as [n]>",
  "short_summary": "<at most two sentences>",
  "citations_used": [<citation numbers you actually referenced>]
}

Ground every number in the evidence. If the evidence is thin, say so
plainly instead of inventing figures.`

// Presenter owns the finalization step.
type Presenter struct {
	connector llm.Connector
	logger    *slog.Logger
}

// New creates a presenter over the local connector.
func New(connector llm.Connector, logger *slog.Logger) *Presenter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Presenter{connector: connector, logger: logger}
}

// Present synthesizes the final answer.
//
// Outputs:
//
//	*datatypes.FinalizationOutput - Never nil; FinalAnswer never empty.
func (p *Presenter) Present(ctx context.Context, plan *datatypes.Plan, results *datatypes.ExecutionResults) *datatypes.FinalizationOutput {
	ctx, span := tracer.Start(ctx, "presenter.Present")
	defer span.End()

	citations := collectCitations(results)
	evidence := renderEvidence(plan, results, citations)
	debug := buildDebug(plan, results)

	output := p.presentFromModel(ctx, plan.Query, evidence, citations)
	if output == nil {
		output = synthesizeFallback(plan, results)
		debug["presenter_fallback"] = true
		span.SetAttributes(attribute.Bool("fallback", true))
	}

	output.Citations = resolveCitations(citations, output.CitationsUsed)
	output.Debug = debug
	if strings.TrimSpace(output.FinalAnswer) == "" {
		output.FinalAnswer = apology(results)
	}
	return output
}

// presentFromModel runs the synthesis call. Returns nil on any failure.
func (p *Presenter) presentFromModel(ctx context.Context, query, evidence string, citations []datatypes.Citation) *datatypes.FinalizationOutput {
	if p.connector == nil {
		return nil
	}

	result, err := p.connector.Generate(ctx, []llm.Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: buildUserPrompt(query, evidence, citations)},
	}, llm.Options{Temperature: presentTemperature, JSONMode: true})
	if err != nil {
		p.logger.Warn("presentation model call failed", "error", err)
		return nil
	}

	raw, err := llm.ExtractJSON(result.Content)
	if err != nil {
		p.logger.Warn("presentation output had no JSON object", "error", err)
		return nil
	}

	var output datatypes.FinalizationOutput
	if err := json.Unmarshal(raw, &output); err != nil {
		p.logger.Warn("presentation output did not parse", "error", err)
		return nil
	}
	if strings.TrimSpace(output.FinalAnswer) == "" {
		return nil
	}
	return &output
}

func buildUserPrompt(query, evidence string, citations []datatypes.Citation) string {
	var b strings.Builder
	b.WriteString("Query:\n")
	b.WriteString(query)
	b.WriteString("\n\nEvidence:\n")
	if evidence == "" {
		b.WriteString("(no evidence was gathered)\n")
	} else {
		b.WriteString(evidence)
	}
	if len(citations) > 0 {
		b.WriteString("\nCitations:\n")
		for _, c := range citations {
			fmt.Fprintf(&b, "[%d] %s - %s\n", c.ID, c.Title, c.URL)
		}
	}
	return b.String()
}

// collectCitations gathers sources from tool results and specialist
// verdicts, dedupes by URL, and numbers them from 1 in deterministic
// order.
func collectCitations(results *datatypes.ExecutionResults) []datatypes.Citation {
	var all []datatypes.Citation

	toolIDs := make([]string, 0, len(results.ToolResults))
	for id := range results.ToolResults {
		toolIDs = append(toolIDs, id)
	}
	sort.Strings(toolIDs)
	for _, id := range toolIDs {
		all = append(all, citationsFromData(results.ToolResults[id].Data)...)
	}

	specIDs := make([]string, 0, len(results.SpecialistResults))
	for id := range results.SpecialistResults {
		specIDs = append(specIDs, id)
	}
	sort.Strings(specIDs)
	for _, id := range specIDs {
		all = append(all, results.SpecialistResults[id].Sources...)
	}

	seen := make(map[string]struct{})
	var numbered []datatypes.Citation
	for _, c := range all {
		if c.URL == "" {
			continue
		}
		if _, dup := seen[c.URL]; dup {
			continue
		}
		seen[c.URL] = struct{}{}
		c.ID = len(numbered) + 1
		numbered = append(numbered, c)
	}
	return numbered
}

// citationsFromData pulls citations out of a tool's data map, which may
// carry them as typed Citations or as decoded JSON maps.
func citationsFromData(data map[string]any) []datatypes.Citation {
	if data == nil {
		return nil
	}
	switch v := data["citations"].(type) {
	case []datatypes.Citation:
		return v
	case []any:
		var out []datatypes.Citation
		for _, item := range v {
			m, ok := item.(map[string]any)
			if !ok {
				continue
			}
			title, _ := m["title"].(string)
			url, _ := m["url"].(string)
			out = append(out, datatypes.Citation{Title: title, URL: url})
		}
		return out
	default:
		return nil
	}
}

// renderEvidence flattens the execution results into prompt text, in
// plan order.
func renderEvidence(plan *datatypes.Plan, results *datatypes.ExecutionResults, citations []datatypes.Citation) string {
	var b strings.Builder

	for _, step := range plan.Steps {
		tr, ok := results.ToolResults[step.ID]
		if !ok {
			continue
		}
		switch tr.Outcome {
		case datatypes.OutcomeSuccess:
			fmt.Fprintf(&b, "[%s/%s]\n", step.ID, tr.Tool)
			if stdout, ok := tr.Data["stdout"].(string); ok && stdout != "" {
				b.WriteString(stdout)
				b.WriteString("\n")
			} else if data, err := json.Marshal(tr.Data); err == nil {
				b.Write(data)
				b.WriteString("\n")
			}
		case datatypes.OutcomeFailed:
			fmt.Fprintf(&b, "[%s/%s] failed: %s\n", step.ID, tr.Tool, tr.Error)
		}
	}

	specIDs := make([]string, 0, len(results.SpecialistResults))
	for id := range results.SpecialistResults {
		specIDs = append(specIDs, id)
	}
	sort.Strings(specIDs)
	for _, id := range specIDs {
		verdict := results.SpecialistResults[id]
		if verdict.IsError() {
			fmt.Fprintf(&b, "[specialist/%s] unavailable: %s\n", id, verdict.Error.Message)
			continue
		}
		if data, err := json.Marshal(verdict); err == nil {
			fmt.Fprintf(&b, "[specialist/%s] %s\n", id, data)
		}
	}

	return b.String()
}

// buildDebug assembles the opaque debug metadata.
func buildDebug(plan *datatypes.Plan, results *datatypes.ExecutionResults) map[string]any {
	debug := make(map[string]any)

	if len(plan.Unknown) > 0 {
		debug["unknown_plan_fields"] = plan.Unknown
	}
	if ve, ok := results.ToolResults["validation_error"]; ok {
		debug["validation_error"] = ve.Error
	}

	var fallbacks []string
	for id, tr := range results.ToolResults {
		if tr.Data != nil && tr.Data["fallback"] == true {
			fallbacks = append(fallbacks, id)
		}
	}
	sort.Strings(fallbacks)
	if len(fallbacks) > 0 {
		debug["tool_fallbacks"] = fallbacks
	}

	var escalations []string
	for id, verdict := range results.SpecialistResults {
		if verdict.IsError() {
			debug["specialist_error_"+id] = verdict.Error.Type
		} else {
			escalations = append(escalations, id)
		}
	}
	sort.Strings(escalations)
	if len(escalations) > 0 {
		debug["escalations"] = escalations
	}

	return debug
}

// resolveCitations maps used ids back to citation entries, dropping ids
// the model invented.
func resolveCitations(citations []datatypes.Citation, used []int) []datatypes.Citation {
	var out []datatypes.Citation
	for _, id := range used {
		if id >= 1 && id <= len(citations) {
			out = append(out, citations[id-1])
		}
	}
	return out
}

// synthesizeFallback builds a deterministic answer when the model
// cannot: successful output first, then tool and specialist failures,
// then the apology.
func synthesizeFallback(plan *datatypes.Plan, results *datatypes.ExecutionResults) *datatypes.FinalizationOutput {
	var parts []string
	for _, step := range plan.Steps {
		tr, ok := results.ToolResults[step.ID]
		if !ok || tr.Outcome != datatypes.OutcomeSuccess {
			continue
		}
		if stdout, ok := tr.Data["stdout"].(string); ok && strings.TrimSpace(stdout) != "" {
			parts = append(parts, strings.TrimSpace(stdout))
		}
	}
	if len(parts) > 0 {
		answer := strings.Join(parts, "\n")
		return &datatypes.FinalizationOutput{
			FinalAnswer:  answer,
			ShortSummary: firstLine(answer),
		}
	}

	var failures []string
	for _, step := range plan.Steps {
		tr, ok := results.ToolResults[step.ID]
		if ok && tr.Outcome == datatypes.OutcomeFailed {
			failures = append(failures, fmt.Sprintf("%s: %s", tr.Tool, tr.Error))
		}
	}
	specIDs := make([]string, 0, len(results.SpecialistResults))
	for id := range results.SpecialistResults {
		specIDs = append(specIDs, id)
	}
	sort.Strings(specIDs)
	for _, id := range specIDs {
		if verdict := results.SpecialistResults[id]; verdict.IsError() {
			failures = append(failures, fmt.Sprintf("specialist %s: %s", id, verdict.Error.Message))
		}
	}
	if len(failures) > 0 {
		return &datatypes.FinalizationOutput{
			FinalAnswer:  "I couldn't complete the request. " + strings.Join(failures, "; "),
			ShortSummary: "The request could not be completed.",
		}
	}

	return &datatypes.FinalizationOutput{
		FinalAnswer:  apology(results),
		ShortSummary: "No answer could be produced.",
	}
}

func apology(results *datatypes.ExecutionResults) string {
	if ve, ok := results.ToolResults["validation_error"]; ok {
		return "I'm sorry, I couldn't process that query: " + ve.Error
	}
	return "I'm sorry, I wasn't able to produce an answer for that query."
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
