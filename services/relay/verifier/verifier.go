// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package verifier consults external specialist models to verify
// suspect claims.
//
// Verification never fails a query: every failure mode is encoded as a
// structured error inside the VerificationResult so the presenter can
// tell the user what was and was not verified.
package verifier

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/AleutianAI/AleutianRelay/services/llm"
	"github.com/AleutianAI/AleutianRelay/services/relay/datatypes"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var tracer = otel.Tracer("relay.verifier")

const (
	// maxOutputTokens bounds the specialist's answer for cost
	// estimation and the request itself.
	maxOutputTokens = 1024

	verifyTemperature = 0.2
)

const systemPrompt = `You are a battery-engineering fact checker.
You receive a user query, draft evidence gathered so far, and a list of
suspected issues. Verify the claims and respond with ONLY a JSON object:

{
  "verified_specs": {"<fact>": <value>, ...},
  "pack_calculation": {"<figure>": <value>, ...},
  "range_estimate": {"<figure>": <value>, ...},
  "issues": ["<problems you found in the draft evidence>"],
  "confidence": {"<fact>": "low" | "medium" | "high", ...},
  "sources": [{"title": "<source>", "url": "<url>"}]
}

Include only the sections you can actually verify. Do not invent sources.`

// Tier selects which specialist connector handles a verification.
type Tier string

const (
	TierFast   Tier = "fast"
	TierStrong Tier = "strong"
)

// Request carries everything the specialist needs for one verification.
type Request struct {
	// Query is the original user query.
	Query string

	// Evidence is the accumulated draft content to verify.
	Evidence string

	// Issues lists the suspicions that triggered verification.
	Issues []string

	// UseStrong routes to the strong tier.
	UseStrong bool
}

// Verifier holds the two specialist tiers. Either may be nil when the
// deployment has no key for it.
type Verifier struct {
	fast        llm.Connector
	strong      llm.Connector
	fastPrice   llm.ModelPrice
	strongPrice llm.ModelPrice
	logger      *slog.Logger
}

// New creates a verifier. Prices are used only for pre-invocation cost
// estimates; actual spend comes from the connector's reported cost.
func New(fast, strong llm.Connector, fastPrice, strongPrice llm.ModelPrice, logger *slog.Logger) *Verifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Verifier{
		fast:        fast,
		strong:      strong,
		fastPrice:   fastPrice,
		strongPrice: strongPrice,
		logger:      logger,
	}
}

// connector returns the tier's connector, falling back from strong to
// fast when only one is configured.
func (v *Verifier) connector(useStrong bool) (llm.Connector, Tier) {
	if useStrong && v.strong != nil {
		return v.strong, TierStrong
	}
	if v.fast != nil {
		return v.fast, TierFast
	}
	if v.strong != nil {
		return v.strong, TierStrong
	}
	return nil, ""
}

// Available reports whether any specialist connector is configured.
func (v *Verifier) Available() bool {
	return v.fast != nil || v.strong != nil
}

// EstimateCost predicts the USD cost of verifying the request,
// assuming a full-length answer. Used by callers for budget admission
// before the call is made.
func (v *Verifier) EstimateCost(req Request) float64 {
	price := v.fastPrice
	if req.UseStrong {
		price = v.strongPrice
	}
	inputTokens := llm.EstimateTokens(systemPrompt + req.Query + req.Evidence + strings.Join(req.Issues, " "))
	return float64(inputTokens)/1000.0*price.InputPer1K +
		float64(maxOutputTokens)/1000.0*price.OutputPer1K
}

// Verify runs one specialist verification.
//
// Description:
//
//	Routes to the requested tier, asks for a structured verdict, and
//	parses it. A missing connector, a transport failure, and an
//	unparseable answer each produce a VerificationResult whose Error
//	field classifies the failure; the function never returns a Go
//	error.
//
// Outputs:
//
//	*datatypes.VerificationResult - Never nil.
//	*llm.GenerateResult - The raw model result for cost accounting, or
//	nil when no call was made.
func (v *Verifier) Verify(ctx context.Context, req Request) (*datatypes.VerificationResult, *llm.GenerateResult) {
	ctx, span := tracer.Start(ctx, "verifier.Verify")
	span.SetAttributes(attribute.Bool("use_strong", req.UseStrong))
	defer span.End()

	conn, tier := v.connector(req.UseStrong)
	if conn == nil {
		return &datatypes.VerificationResult{
			Error: &datatypes.VerificationError{
				Type:            datatypes.VerifyErrNoConnector,
				Message:         "no specialist connector configured",
				SuggestedAction: "configure a specialist API key or accept unverified results",
			},
		}, nil
	}
	span.SetAttributes(attribute.String("tier", string(tier)))

	result, err := conn.Generate(ctx, []llm.Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: buildUserPrompt(req)},
	}, llm.Options{
		Temperature: verifyTemperature,
		MaxTokens:   maxOutputTokens,
		JSONMode:    true,
	})
	if err != nil {
		v.logger.Warn("specialist call failed", "tier", tier, "error", err)
		return &datatypes.VerificationResult{
			Error: &datatypes.VerificationError{
				Type:            datatypes.VerifyErrException,
				Message:         err.Error(),
				SuggestedAction: "retry later or fall back to local reasoning",
			},
		}, nil
	}

	verdict, perr := parseVerdict(result.Content)
	if perr != nil {
		v.logger.Warn("specialist answer did not parse", "tier", tier, "error", perr)
		return &datatypes.VerificationResult{
			ModelUsed: result.ModelUsed,
			Error: &datatypes.VerificationError{
				Type:            datatypes.VerifyErrParse,
				Message:         perr.Error(),
				SuggestedAction: "treat the draft evidence as unverified",
			},
		}, result
	}

	verdict.ModelUsed = result.ModelUsed
	return verdict, result
}

func buildUserPrompt(req Request) string {
	var b strings.Builder
	b.WriteString("Query:\n")
	b.WriteString(req.Query)
	b.WriteString("\n\nDraft evidence:\n")
	b.WriteString(req.Evidence)
	if len(req.Issues) > 0 {
		b.WriteString("\n\nSuspected issues:\n")
		for _, issue := range req.Issues {
			b.WriteString("- ")
			b.WriteString(issue)
			b.WriteString("\n")
		}
	}
	return b.String()
}

// parseVerdict extracts the typed verification payload from the model
// answer.
func parseVerdict(content string) (*datatypes.VerificationResult, error) {
	raw, err := llm.ExtractJSON(content)
	if err != nil {
		return nil, fmt.Errorf("no JSON object in specialist answer: %w", err)
	}

	var verdict datatypes.VerificationResult
	if err := json.Unmarshal(raw, &verdict); err != nil {
		return nil, fmt.Errorf("decoding specialist verdict: %w", err)
	}
	if verdict.VerifiedSpecs == nil && verdict.PackCalculation == nil &&
		verdict.RangeEstimate == nil && len(verdict.Issues) == 0 {
		return nil, fmt.Errorf("specialist verdict carried no usable sections")
	}
	// Unknown confidence grades degrade to low rather than failing.
	for key, c := range verdict.Confidence {
		switch c {
		case datatypes.ConfidenceLow, datatypes.ConfidenceMedium, datatypes.ConfidenceHigh:
		default:
			verdict.Confidence[key] = datatypes.ConfidenceLow
		}
	}
	return &verdict, nil
}
