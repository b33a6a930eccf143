// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/AleutianAI/AleutianRelay/services/orchestrator/observability"
	"github.com/AleutianAI/AleutianRelay/services/relay/datatypes"
)

// SSE event names emitted by the stream endpoint.
const (
	eventChunk = "chunk"
	eventDone  = "done"
	eventError = "error"
)

// chunkEvent is the payload for one streamed answer fragment.
type chunkEvent struct {
	Text string `json:"text"`
}

// doneEvent closes the stream with the full structured output.
type doneEvent struct {
	SessionID string                        `json:"session_id"`
	Result    *datatypes.FinalizationOutput `json:"result"`
}

// HandleQueryStream processes one query and streams the answer as SSE.
//
// # Description
//
// All planning, tool, and specialist work completes before the first
// chunk; the stream then carries the grounded answer in order, followed
// by a single done event with citations and debug metadata.
//
// # Limitations
//
//   - Requires an http.Flusher-compatible ResponseWriter.
func HandleQueryStream(r Relay, metrics *observability.QueryMetrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req QueryRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			metrics.RequestsTotal.WithLabelValues("stream", "error").Inc()
			c.JSON(http.StatusBadRequest, gin.H{"error": "query is required"})
			return
		}
		if req.SessionID == "" {
			req.SessionID = uuid.NewString()
		}

		flusher, ok := c.Writer.(http.Flusher)
		if !ok {
			metrics.RequestsTotal.WithLabelValues("stream", "error").Inc()
			c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming unsupported"})
			return
		}

		c.Header("Content-Type", "text/event-stream")
		c.Header("Cache-Control", "no-cache")
		c.Header("Connection", "keep-alive")
		c.Header("X-Accel-Buffering", "no")
		c.Writer.WriteHeader(http.StatusOK)
		flusher.Flush()

		metrics.ActiveStreams.Inc()
		defer metrics.ActiveStreams.Dec()

		start := time.Now()
		chunks, output := r.ProcessQueryStream(c.Request.Context(), req.Query, req.SessionID, datatypes.SourceAPI)

		for chunk := range chunks {
			if err := writeSSE(c, flusher, eventChunk, chunkEvent{Text: chunk}); err != nil {
				metrics.RequestsTotal.WithLabelValues("stream", "error").Inc()
				return
			}
		}

		if err := writeSSE(c, flusher, eventDone, doneEvent{
			SessionID: req.SessionID,
			Result:    output,
		}); err != nil {
			metrics.RequestsTotal.WithLabelValues("stream", "error").Inc()
			return
		}

		metrics.QueryDurationSeconds.WithLabelValues("stream").Observe(time.Since(start).Seconds())
		metrics.RequestsTotal.WithLabelValues("stream", "success").Inc()
	}
}

// writeSSE writes one event in SSE wire format and flushes it.
func writeSSE(c *gin.Context, flusher http.Flusher, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(c.Writer, "event: %s\ndata: %s\n\n", event, data); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}
