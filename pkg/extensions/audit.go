// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package extensions

import (
	"context"
	"log/slog"
	"time"
)

// QueryAuditor records query activity for compliance review.
//
// Implementations must not block: RecordQuery runs on the request path
// before the pipeline starts.
type QueryAuditor interface {
	// RecordQuery is called once per incoming query, before processing.
	RecordQuery(ctx context.Context, entry AuditEntry)
}

// AuditEntry is one query audit record.
type AuditEntry struct {
	// SessionID groups related queries.
	SessionID string `json:"session_id"`

	// Query is the raw user question.
	Query string `json:"query"`

	// Source is where the query entered (cli, api).
	Source string `json:"source"`

	// Timestamp is when the query was received, in UTC.
	Timestamp time.Time `json:"timestamp"`
}

// NoopAuditor discards all audit records.
type NoopAuditor struct{}

func (NoopAuditor) RecordQuery(context.Context, AuditEntry) {}

// LogAuditor writes audit records to a structured logger. Suitable for
// deployments where the log pipeline is the system of record.
type LogAuditor struct {
	Logger *slog.Logger
}

func (a LogAuditor) RecordQuery(ctx context.Context, entry AuditEntry) {
	if a.Logger == nil {
		return
	}
	a.Logger.InfoContext(ctx, "query audit",
		"session_id", entry.SessionID,
		"source", entry.Source,
		"query_len", len(entry.Query),
		"timestamp", entry.Timestamp,
	)
}
