// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package costs implements the spend tracker that gates specialist
// escalation.
//
// The tracker keeps an append-only record list and per-session totals.
// Totals accumulate in integer micro-USD so exact-boundary spends trip
// the caps (0.07+0.01 must reach an 0.08 soft cap; summing float64
// dollars does not). It performs no I/O; every operation is an
// infallible value return.
//
// Thread Safety:
//
//	Tracker is safe for concurrent use. Track and CanProceed share one
//	critical section so a projected-cost decision cannot interleave
//	with an append.
package costs

import (
	"math"
	"sync"

	"github.com/AleutianAI/AleutianRelay/services/relay/datatypes"
)

// microUSD converts dollars to integer micro-USD for cap arithmetic.
func microUSD(usd float64) int64 {
	return int64(math.Round(usd * 1e6))
}

// toUSD converts micro-USD back to dollars.
func toUSD(micros int64) float64 {
	return float64(micros) / 1e6
}

// Decision reasons returned by CanProceed.
const (
	ReasonOK              = "ok"
	ReasonSoftCapWarning  = "soft_cap_warning"
	ReasonHardCapExceeded = "hard_cap_exceeded"
	ReasonManualOverride  = "manual_override"
)

// Tracker records per-query and per-session spend and answers cap
// questions.
type Tracker struct {
	mu             sync.Mutex
	records        []datatypes.CostRecord
	sessionTotals  map[string]int64 // micro-USD
	sessionLimits  map[string]datatypes.CostLimit
	globalLimit    datatypes.CostLimit
	manualOverride bool
}

// NewTracker creates a tracker with the given process-wide limit.
// Sessions without their own limit inherit it.
func NewTracker(globalLimit datatypes.CostLimit) *Tracker {
	return &Tracker{
		sessionTotals: make(map[string]int64),
		sessionLimits: make(map[string]datatypes.CostLimit),
		globalLimit:   globalLimit,
	}
}

// CalculateCost computes USD cost from token counts and per-1k prices.
//
// cost = inputTokens/1000*priceIn + outputTokens/1000*priceOut
func CalculateCost(inputTokens, outputTokens int, priceInPer1K, priceOutPer1K float64) float64 {
	return float64(inputTokens)/1000.0*priceInPer1K + float64(outputTokens)/1000.0*priceOutPer1K
}

// SetSessionLimit registers a per-session limit. Call before tracking
// for that session; later calls replace the limit but never rewrite
// recorded history.
func (t *Tracker) SetSessionLimit(sessionID string, limit datatypes.CostLimit) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sessionLimits[sessionID] = limit
}

// Track appends a record and updates the session total.
func (t *Tracker) Track(record datatypes.CostRecord) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.records = append(t.records, record)
	t.sessionTotals[record.SessionID] += microUSD(record.CostUSD)
}

// SessionCost returns the accumulated spend for a session.
func (t *Tracker) SessionCost(sessionID string) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return toUSD(t.sessionTotals[sessionID])
}

// TotalCost returns the accumulated spend across all sessions.
func (t *Tracker) TotalCost() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	var total int64
	for _, v := range t.sessionTotals {
		total += v
	}
	return toUSD(total)
}

// limitFor returns the applicable limit for a session id. Must be
// called with the mutex held.
func (t *Tracker) limitFor(sessionID string) datatypes.CostLimit {
	if limit, ok := t.sessionLimits[sessionID]; ok {
		return limit
	}
	return t.globalLimit
}

// SoftCapReached reports whether session spend passed the warning
// threshold (limit * soft fraction). An empty session id checks the
// process total against the global limit.
func (t *Tracker) SoftCapReached(sessionID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	cost, limit := t.costAndLimit(sessionID)
	return limit.TotalLimitUSD > 0 && cost >= microUSD(limit.TotalLimitUSD*limit.SoftCapFraction)
}

// HardCapReached reports whether session spend passed the hard cap.
// Monotonic: once true it stays true until the session is reset,
// because records are append-only.
func (t *Tracker) HardCapReached(sessionID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	cost, limit := t.costAndLimit(sessionID)
	return limit.TotalLimitUSD > 0 && cost >= microUSD(limit.TotalLimitUSD)
}

// costAndLimit returns current spend in micro-USD and the applicable
// limit. Must be called with the mutex held.
func (t *Tracker) costAndLimit(sessionID string) (int64, datatypes.CostLimit) {
	if sessionID == "" {
		var total int64
		for _, v := range t.sessionTotals {
			total += v
		}
		return total, t.globalLimit
	}
	return t.sessionTotals[sessionID], t.limitFor(sessionID)
}

// CanProceed decides whether an external call estimated at estimatedUSD
// may go ahead.
//
// Description:
//
//	Projected cost is current spend plus the estimate. If the projection
//	reaches the hard cap the call is denied unless it is critical and
//	manual override is enabled. A projection past the soft cap allows
//	the call with a warning reason.
//
// Outputs:
//
//	bool - True when the call may proceed.
//	string - One of ok, soft_cap_warning, hard_cap_exceeded,
//	manual_override.
func (t *Tracker) CanProceed(sessionID string, estimatedUSD float64, critical bool) (bool, string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	cost, limit := t.costAndLimit(sessionID)
	if limit.TotalLimitUSD <= 0 {
		return true, ReasonOK
	}

	projected := cost + microUSD(estimatedUSD)
	override := t.manualOverride || limit.ManualOverride

	if projected >= microUSD(limit.TotalLimitUSD) {
		if critical && override {
			return true, ReasonManualOverride
		}
		return false, ReasonHardCapExceeded
	}
	if projected >= microUSD(limit.TotalLimitUSD*limit.SoftCapFraction) {
		return true, ReasonSoftCapWarning
	}
	return true, ReasonOK
}

// EnableManualOverride toggles the process-wide override that lets
// critical calls through a reached hard cap.
func (t *Tracker) EnableManualOverride(enabled bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.manualOverride = enabled
}

// ResetSession clears a session's accumulated spend. Its records stay
// in the append-only history.
func (t *Tracker) ResetSession(sessionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.sessionTotals, sessionID)
}

// Records returns a copy of the append-only record history.
func (t *Tracker) Records() []datatypes.CostRecord {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]datatypes.CostRecord, len(t.records))
	copy(out, t.records)
	return out
}

// Summary reports spend and cap status for a session, or for the whole
// process when sessionID is empty.
func (t *Tracker) Summary(sessionID string) datatypes.CostSummary {
	t.mu.Lock()
	defer t.mu.Unlock()

	cost, limit := t.costAndLimit(sessionID)

	count := 0
	if sessionID == "" {
		count = len(t.records)
	} else {
		for i := range t.records {
			if t.records[i].SessionID == sessionID {
				count++
			}
		}
	}

	return datatypes.CostSummary{
		SessionID:      sessionID,
		TotalUSD:       toUSD(cost),
		RecordCount:    count,
		SoftCapReached: limit.TotalLimitUSD > 0 && cost >= microUSD(limit.TotalLimitUSD*limit.SoftCapFraction),
		HardCapReached: limit.TotalLimitUSD > 0 && cost >= microUSD(limit.TotalLimitUSD),
		Limit:          limit,
	}
}
