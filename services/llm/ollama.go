// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("relay.llm")

// OllamaConnector binds the local planning/presentation model served by
// Ollama. Local inference carries zero USD cost.
//
// Thread Safety: safe for concurrent use.
type OllamaConnector struct {
	httpClient *http.Client
	baseURL    string
	model      string
	logger     *slog.Logger
}

type ollamaChatRequest struct {
	Model    string         `json:"model"`
	Messages []Message      `json:"messages"`
	Stream   bool           `json:"stream"`
	Format   string         `json:"format,omitempty"`
	Options  map[string]any `json:"options,omitempty"`
}

type ollamaChatResponse struct {
	Message         Message `json:"message"`
	Done            bool    `json:"done"`
	DoneReason      string  `json:"done_reason,omitempty"`
	PromptEvalCount int     `json:"prompt_eval_count,omitempty"`
	EvalCount       int     `json:"eval_count,omitempty"`
}

// NewOllamaConnector creates a connector for the given Ollama endpoint
// and model.
//
// Inputs:
//
//	baseURL - Ollama server URL, e.g. "http://localhost:11434".
//	model - Model tag, e.g. "granite4:micro-h".
//	logger - Logger for request logs. If nil, uses slog.Default().
//
// Outputs:
//
//	*OllamaConnector - The configured connector.
//	error - Non-nil if baseURL or model is empty.
func NewOllamaConnector(baseURL, model string, logger *slog.Logger) (*OllamaConnector, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("%w: ollama base URL not set", ErrSchema)
	}
	if model == "" {
		return nil, fmt.Errorf("%w: ollama model not set", ErrSchema)
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &OllamaConnector{
		httpClient: &http.Client{Timeout: 5 * time.Minute},
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		model:      model,
		logger:     logger,
	}, nil
}

// Model returns the configured model tag.
func (o *OllamaConnector) Model() string {
	return o.model
}

// buildRequest assembles the chat payload from messages and options.
func (o *OllamaConnector) buildRequest(messages []Message, opts Options, stream bool) ollamaChatRequest {
	options := map[string]any{
		"temperature": opts.Temperature,
	}
	if opts.MaxTokens > 0 {
		options["num_predict"] = opts.MaxTokens
	}

	req := ollamaChatRequest{
		Model:    o.model,
		Messages: messages,
		Stream:   stream,
		Options:  options,
	}
	if opts.JSONMode {
		req.Format = "json"
	}
	return req
}

// Generate implements Connector.
func (o *OllamaConnector) Generate(ctx context.Context, messages []Message, opts Options) (*GenerateResult, error) {
	ctx, span := tracer.Start(ctx, "OllamaConnector.Generate")
	defer span.End()
	span.SetAttributes(
		attribute.String("llm.model", o.model),
		attribute.Int("llm.num_messages", len(messages)),
	)

	payload := o.buildRequest(messages, opts, false)
	body, err := json.Marshal(payload)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("%w: marshaling ollama request: %v", ErrSchema, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: building ollama request: %v", ErrSchema, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.httpClient.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		o.logger.Error("ollama call failed", "error", err)
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading ollama response: %v", ErrTransport, err)
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, fmt.Errorf("%w: ollama status %d", ErrRateLimited, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		o.logger.Error("ollama returned an error",
			"status_code", resp.StatusCode, "response", string(respBody))
		return nil, fmt.Errorf("%w: ollama status %d: %s", ErrTransport, resp.StatusCode, string(respBody))
	}

	var chatResp ollamaChatResponse
	if err := json.Unmarshal(respBody, &chatResp); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("%w: parsing ollama response: %v", ErrSchema, err)
	}

	inTokens := chatResp.PromptEvalCount
	outTokens := chatResp.EvalCount
	if inTokens == 0 {
		for _, m := range messages {
			inTokens += EstimateTokens(m.Content)
		}
	}
	if outTokens == 0 {
		outTokens = EstimateTokens(chatResp.Message.Content)
	}

	finish := FinishStop
	if chatResp.DoneReason == "length" {
		finish = FinishLength
	}

	return &GenerateResult{
		Content:      chatResp.Message.Content,
		TokenCount:   TokenCount{Input: inTokens, Output: outTokens},
		Cost:         0, // local inference
		ModelUsed:    o.model,
		FinishReason: finish,
	}, nil
}

// Stream implements Connector. Chunks are the incremental message
// contents from Ollama's NDJSON stream.
func (o *OllamaConnector) Stream(ctx context.Context, messages []Message, opts Options) (<-chan string, error) {
	ctx, span := tracer.Start(ctx, "OllamaConnector.Stream")
	span.SetAttributes(attribute.String("llm.model", o.model))

	payload := o.buildRequest(messages, opts, true)
	body, err := json.Marshal(payload)
	if err != nil {
		span.End()
		return nil, fmt.Errorf("%w: marshaling ollama request: %v", ErrSchema, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		span.End()
		return nil, fmt.Errorf("%w: building ollama request: %v", ErrSchema, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.httpClient.Do(req)
	if err != nil {
		span.RecordError(err)
		span.End()
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		span.End()
		return nil, fmt.Errorf("%w: ollama status %d: %s", ErrTransport, resp.StatusCode, string(respBody))
	}

	chunks := make(chan string)
	go func() {
		defer close(chunks)
		defer resp.Body.Close()
		defer span.End()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			var part ollamaChatResponse
			if err := json.Unmarshal(scanner.Bytes(), &part); err != nil {
				o.logger.Warn("skipping malformed stream chunk", "error", err)
				continue
			}
			if part.Message.Content != "" {
				select {
				case chunks <- part.Message.Content:
				case <-ctx.Done():
					return
				}
			}
			if part.Done {
				return
			}
		}
		if err := scanner.Err(); err != nil {
			span.RecordError(err)
			o.logger.Error("ollama stream aborted", "error", err)
		}
	}()

	return chunks, nil
}

// Health implements Connector by probing the version endpoint.
func (o *OllamaConnector) Health(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.baseURL+"/api/version", nil)
	if err != nil {
		return false
	}
	resp, err := o.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}
