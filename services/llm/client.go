// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package llm provides the uniform connector contract over LLM providers
// and the shared JSON-extraction helpers for their noisy output.
//
// Connectors surface three error classes: transport errors and rate
// limits are retriable (by higher layers, never by the orchestration
// core), schema errors are not. Cost is computed by each connector from
// its own price table.
package llm

import (
	"context"
	"errors"
)

// Sentinel error classes. Wrap with fmt.Errorf("...: %w", Err...) so
// callers can classify with errors.Is.
var (
	// ErrTransport marks network-level failures. Retriable.
	ErrTransport = errors.New("llm: transport error")

	// ErrRateLimited marks provider rate limiting. Retriable with
	// backoff.
	ErrRateLimited = errors.New("llm: rate limited")

	// ErrSchema marks malformed requests or responses. Not retriable.
	ErrSchema = errors.New("llm: schema error")
)

// FinishReason values reported by Generate.
const (
	FinishStop      = "stop"
	FinishLength    = "length"
	FinishToolCalls = "tool_calls"
	FinishOther     = "other"
)

// Message is a single chat message.
type Message struct {
	// Role is "system", "user", or "assistant".
	Role string `json:"role"`

	// Content is the message text.
	Content string `json:"content"`
}

// Options tunes a single generate or stream call.
type Options struct {
	// Temperature controls sampling randomness. Zero means the
	// connector default.
	Temperature float32 `json:"temperature,omitempty"`

	// MaxTokens caps the completion length. Zero means the connector
	// default.
	MaxTokens int `json:"max_tokens,omitempty"`

	// JSONMode asks the provider to prefer a valid-JSON-only response.
	// Advisory: callers must still defensively parse.
	JSONMode bool `json:"json_mode,omitempty"`
}

// TokenCount reports prompt and completion token usage.
type TokenCount struct {
	Input  int `json:"input"`
	Output int `json:"output"`
}

// GenerateResult is the uniform response shape of Generate.
type GenerateResult struct {
	// Content is the model's text output.
	Content string `json:"content"`

	// TokenCount is the reported (or estimated) token usage.
	TokenCount TokenCount `json:"token_count"`

	// Cost is the USD cost computed from the connector's price table.
	// Zero for local models.
	Cost float64 `json:"cost"`

	// ModelUsed is the model identifier that actually answered.
	ModelUsed string `json:"model_used"`

	// FinishReason is stop, length, tool_calls, or other.
	FinishReason string `json:"finish_reason"`

	// Metadata carries provider-specific extras.
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Connector is the uniform contract every provider binding exposes.
//
// Implementations must be safe for concurrent use.
type Connector interface {
	// Generate performs one chat completion.
	//
	// Inputs:
	//   ctx - Context for cancellation. Every call may suspend.
	//   messages - Conversation so far (system prompt first).
	//   opts - Sampling options.
	//
	// Outputs:
	//   *GenerateResult - Uniform response. Nil on error.
	//   error - Wraps ErrTransport, ErrRateLimited, or ErrSchema.
	Generate(ctx context.Context, messages []Message, opts Options) (*GenerateResult, error)

	// Stream performs one chat completion, delivering content chunks
	// as they arrive. The channel is finite, closed on completion or
	// error, and not restartable.
	Stream(ctx context.Context, messages []Message, opts Options) (<-chan string, error)

	// Health reports whether the provider is reachable.
	Health(ctx context.Context) bool

	// Model returns the configured model identifier.
	Model() string
}

// EstimateTokens gives a crude token estimate for budgeting when the
// provider reports no usage (roughly 4 characters per token).
func EstimateTokens(text string) int {
	n := len(text) / 4
	if n == 0 && len(text) > 0 {
		n = 1
	}
	return n
}
