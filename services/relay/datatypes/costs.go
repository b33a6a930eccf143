// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import "time"

// CostRecord is one append-only accounting entry for an LLM call.
//
// CostUSD is computed once from the token counts and the model's price
// table and never mutated afterwards.
type CostRecord struct {
	// QueryID identifies the query that triggered the call.
	QueryID string `json:"query_id"`

	// SessionID identifies the owning session.
	SessionID string `json:"session_id"`

	// Model is the model identifier the connector reported.
	Model string `json:"model"`

	// InputTokens is the prompt token count.
	InputTokens int `json:"input_tokens"`

	// OutputTokens is the completion token count.
	OutputTokens int `json:"output_tokens"`

	// CostUSD is the computed cost in US dollars.
	CostUSD float64 `json:"cost_usd"`

	// Timestamp is when the call returned.
	Timestamp time.Time `json:"timestamp"`
}

// CostLimit configures the soft/hard spend caps for a session or for
// the process as a whole.
type CostLimit struct {
	// TotalLimitUSD is the hard cap in US dollars.
	TotalLimitUSD float64 `json:"total_limit_usd"`

	// SoftCapFraction in [0,1) places the warning threshold at
	// TotalLimitUSD * SoftCapFraction.
	SoftCapFraction float64 `json:"soft_cap_fraction"`

	// ManualOverride lets critical calls through a reached hard cap.
	ManualOverride bool `json:"manual_override"`
}

// DefaultCostLimit returns the stock limit: $1.00 hard cap with the
// soft warning at 80%.
func DefaultCostLimit() CostLimit {
	return CostLimit{
		TotalLimitUSD:   1.00,
		SoftCapFraction: 0.8,
	}
}

// Session carries the per-session identity and budget. The zero value
// is not usable; construct with a session id.
type Session struct {
	// SessionID identifies the session.
	SessionID string `json:"session_id"`

	// CostLimit is this session's spend cap.
	CostLimit CostLimit `json:"cost_limit"`
}

// CostSummary reports accumulated spend for a session or the process.
type CostSummary struct {
	// SessionID is empty for the process-wide summary.
	SessionID string `json:"session_id,omitempty"`

	// TotalUSD is the accumulated spend.
	TotalUSD float64 `json:"total_usd"`

	// RecordCount is the number of cost records.
	RecordCount int `json:"record_count"`

	// SoftCapReached is true once spend passed the warning threshold.
	SoftCapReached bool `json:"soft_cap_reached"`

	// HardCapReached is true once spend passed the hard cap.
	HardCapReached bool `json:"hard_cap_reached"`

	// Limit echoes the applicable limit.
	Limit CostLimit `json:"limit"`
}
