// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers implements the relay's HTTP endpoints.
package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/AleutianAI/AleutianRelay/services/orchestrator/observability"
	"github.com/AleutianAI/AleutianRelay/services/relay"
	"github.com/AleutianAI/AleutianRelay/services/relay/datatypes"
)

// Relay is the pipeline surface the handlers depend on. The concrete
// implementation is *relay.Orchestrator; tests substitute fakes.
type Relay interface {
	ProcessQuery(ctx context.Context, query, sessionID string, source datatypes.Source) *datatypes.FinalizationOutput
	ProcessQueryStream(ctx context.Context, query, sessionID string, source datatypes.Source) (<-chan string, *datatypes.FinalizationOutput)
	CheckHealth(ctx context.Context) relay.Health
	CostSummary(sessionID string) datatypes.CostSummary
}

// QueryRequest is the POST body for /v1/query and /v1/query/stream.
type QueryRequest struct {
	// Query is the user's question. Required.
	Query string `json:"query" binding:"required"`

	// SessionID groups queries; a fresh one is issued when empty.
	SessionID string `json:"session_id"`
}

// QueryResponse wraps the finalization output with session identity.
type QueryResponse struct {
	SessionID string                        `json:"session_id"`
	Result    *datatypes.FinalizationOutput `json:"result"`
}

// HandleQuery processes one query synchronously.
//
// # Description
//
// Binds the request, runs the full pipeline, and returns the
// finalization output. Pipeline degradation (tool failures, blocked
// specialists) is still a 200: the output's debug section carries the
// details. Only malformed requests produce errors.
func HandleQuery(r Relay, metrics *observability.QueryMetrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req QueryRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			metrics.RequestsTotal.WithLabelValues("query", "error").Inc()
			c.JSON(http.StatusBadRequest, gin.H{"error": "query is required"})
			return
		}
		if req.SessionID == "" {
			req.SessionID = uuid.NewString()
		}

		start := time.Now()
		output := r.ProcessQuery(c.Request.Context(), req.Query, req.SessionID, datatypes.SourceAPI)
		metrics.QueryDurationSeconds.WithLabelValues("query").Observe(time.Since(start).Seconds())
		metrics.RequestsTotal.WithLabelValues("query", "success").Inc()

		c.JSON(http.StatusOK, QueryResponse{
			SessionID: req.SessionID,
			Result:    output,
		})
	}
}

// HandleHealth reports component availability.
//
// Returns 200 when the local model is reachable, 503 otherwise. Tool
// and specialist status ride along in the body either way.
func HandleHealth(r Relay) gin.HandlerFunc {
	return func(c *gin.Context) {
		h := r.CheckHealth(c.Request.Context())
		status := http.StatusOK
		if !h.Healthy() {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, h)
	}
}

// HandleCosts reports accumulated spend.
//
// The session_id query parameter scopes the summary; omitting it
// returns the process-wide view.
func HandleCosts(r Relay) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionID := c.Query("session_id")
		c.JSON(http.StatusOK, r.CostSummary(sessionID))
	}
}
