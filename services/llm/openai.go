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
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// ModelPrice is the per-1k-token price pair for one model.
type ModelPrice struct {
	// InputPer1K is USD per 1000 prompt tokens.
	InputPer1K float64 `json:"input_per_1k" yaml:"input_per_1k"`

	// OutputPer1K is USD per 1000 completion tokens.
	OutputPer1K float64 `json:"output_per_1k" yaml:"output_per_1k"`
}

// OpenAIConnector binds an OpenAI-compatible provider for the fast and
// strong specialist tiers. Cost is computed from the connector's own
// price table.
//
// Thread Safety: safe for concurrent use.
type OpenAIConnector struct {
	client *openai.Client
	model  string
	price  ModelPrice
	logger *slog.Logger
}

// NewOpenAIConnector creates a connector for the given model.
//
// Inputs:
//
//	apiKey - Provider API key. Must not be empty.
//	baseURL - Optional override for OpenAI-compatible gateways.
//	model - Model identifier, e.g. "gpt-4o-mini".
//	price - Per-1k prices used for cost accounting.
//	logger - Logger for request logs. If nil, uses slog.Default().
//
// Outputs:
//
//	*OpenAIConnector - The configured connector.
//	error - Non-nil if apiKey or model is empty.
func NewOpenAIConnector(apiKey, baseURL, model string, price ModelPrice, logger *slog.Logger) (*OpenAIConnector, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: API key not set", ErrSchema)
	}
	if model == "" {
		return nil, fmt.Errorf("%w: model not set", ErrSchema)
	}
	if logger == nil {
		logger = slog.Default()
	}

	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}

	return &OpenAIConnector{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
		price:  price,
		logger: logger,
	}, nil
}

// Model returns the configured model identifier.
func (c *OpenAIConnector) Model() string {
	return c.model
}

// buildRequest converts our message/option shapes to the provider's.
func (c *OpenAIConnector) buildRequest(messages []Message, opts Options, stream bool) openai.ChatCompletionRequest {
	chatMessages := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		chatMessages = append(chatMessages, openai.ChatCompletionMessage{
			Role:    m.Role,
			Content: m.Content,
		})
	}

	req := openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    chatMessages,
		Temperature: opts.Temperature,
		Stream:      stream,
	}
	if opts.MaxTokens > 0 {
		req.MaxTokens = opts.MaxTokens
	}
	if opts.JSONMode {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}
	return req
}

// classify maps provider errors onto the package sentinel classes.
func classify(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.HTTPStatusCode == http.StatusTooManyRequests:
			return fmt.Errorf("%w: %v", ErrRateLimited, err)
		case apiErr.HTTPStatusCode >= 400 && apiErr.HTTPStatusCode < 500:
			return fmt.Errorf("%w: %v", ErrSchema, err)
		}
	}
	return fmt.Errorf("%w: %v", ErrTransport, err)
}

// Generate implements Connector.
func (c *OpenAIConnector) Generate(ctx context.Context, messages []Message, opts Options) (*GenerateResult, error) {
	ctx, span := tracer.Start(ctx, "OpenAIConnector.Generate")
	defer span.End()
	span.SetAttributes(
		attribute.String("llm.model", c.model),
		attribute.Int("llm.num_messages", len(messages)),
	)

	resp, err := c.client.CreateChatCompletion(ctx, c.buildRequest(messages, opts, false))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.logger.Error("openai call failed", "model", c.model, "error", err)
		return nil, classify(err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%w: empty choices from %s", ErrSchema, c.model)
	}

	choice := resp.Choices[0]
	finish := FinishOther
	switch choice.FinishReason {
	case openai.FinishReasonStop:
		finish = FinishStop
	case openai.FinishReasonLength:
		finish = FinishLength
	case openai.FinishReasonToolCalls:
		finish = FinishToolCalls
	}

	cost := float64(resp.Usage.PromptTokens)/1000.0*c.price.InputPer1K +
		float64(resp.Usage.CompletionTokens)/1000.0*c.price.OutputPer1K

	span.SetAttributes(
		attribute.Int("llm.input_tokens", resp.Usage.PromptTokens),
		attribute.Int("llm.output_tokens", resp.Usage.CompletionTokens),
	)

	return &GenerateResult{
		Content: choice.Message.Content,
		TokenCount: TokenCount{
			Input:  resp.Usage.PromptTokens,
			Output: resp.Usage.CompletionTokens,
		},
		Cost:         cost,
		ModelUsed:    resp.Model,
		FinishReason: finish,
	}, nil
}

// Stream implements Connector.
func (c *OpenAIConnector) Stream(ctx context.Context, messages []Message, opts Options) (<-chan string, error) {
	ctx, span := tracer.Start(ctx, "OpenAIConnector.Stream")
	span.SetAttributes(attribute.String("llm.model", c.model))

	stream, err := c.client.CreateChatCompletionStream(ctx, c.buildRequest(messages, opts, true))
	if err != nil {
		span.RecordError(err)
		span.End()
		return nil, classify(err)
	}

	chunks := make(chan string)
	go func() {
		defer close(chunks)
		defer stream.Close()
		defer span.End()

		for {
			part, err := stream.Recv()
			if err != nil {
				// io.EOF is normal completion; anything else is
				// logged and ends the finite stream.
				if !errors.Is(err, io.EOF) && !errors.Is(err, context.Canceled) {
					c.logger.Warn("stream aborted", "model", c.model, "error", err)
				}
				return
			}
			if len(part.Choices) == 0 {
				continue
			}
			delta := part.Choices[0].Delta.Content
			if delta == "" {
				continue
			}
			select {
			case chunks <- delta:
			case <-ctx.Done():
				return
			}
		}
	}()

	return chunks, nil
}

// Health implements Connector by listing models with a short deadline.
func (c *OpenAIConnector) Health(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := c.client.ListModels(ctx)
	return err == nil
}
