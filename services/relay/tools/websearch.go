// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/AleutianAI/AleutianRelay/services/relay/datatypes"
)

// ToolWebSearch is the registry name for the search adapter.
const ToolWebSearch = "web_search"

// WebSearchTool queries a SearXNG-compatible JSON search endpoint.
type WebSearchTool struct {
	endpoint   string
	maxResults int
	httpClient *http.Client
	logger     *slog.Logger
}

// NewWebSearchTool creates the tool. An empty endpoint leaves the tool
// registered but permanently failing, which the registry's disabled
// handling usually covers instead.
func NewWebSearchTool(endpoint string, maxResults int, logger *slog.Logger) *WebSearchTool {
	if maxResults <= 0 {
		maxResults = 5
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &WebSearchTool{
		endpoint:   strings.TrimRight(endpoint, "/"),
		maxResults: maxResults,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		logger:     logger,
	}
}

// Name returns the tool name.
func (t *WebSearchTool) Name() string { return ToolWebSearch }

// Definition returns the tool's parameter schema.
func (t *WebSearchTool) Definition() Definition {
	return Definition{
		Name:        ToolWebSearch,
		Description: "Search the web and return snippets with source citations.",
		Parameters: map[string]ParamDef{
			"query": {Type: ParamTypeString, Required: true, Description: "Search query."},
		},
		Timeout: 15 * time.Second,
	}
}

type searchResponse struct {
	Results []struct {
		Title   string `json:"title"`
		URL     string `json:"url"`
		Content string `json:"content"`
	} `json:"results"`
}

// Execute runs one search and maps the hits to snippets plus citations.
func (t *WebSearchTool) Execute(ctx context.Context, params map[string]any) (*datatypes.ToolResult, error) {
	query, _ := params["query"].(string)
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("web_search: query is required")
	}
	if t.endpoint == "" {
		return nil, fmt.Errorf("web_search: no search endpoint configured")
	}

	reqURL := fmt.Sprintf("%s/search?q=%s&format=json", t.endpoint, url.QueryEscape(query))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("web_search: building request: %w", err)
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("web_search: endpoint unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("web_search: endpoint returned %d: %s", resp.StatusCode, string(data))
	}

	var out searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("web_search: decoding response: %w", err)
	}

	var snippets []map[string]any
	var citations []datatypes.Citation
	for i, r := range out.Results {
		if i >= t.maxResults {
			break
		}
		snippets = append(snippets, map[string]any{
			"title":   r.Title,
			"url":     r.URL,
			"content": r.Content,
		})
		citations = append(citations, datatypes.Citation{Title: r.Title, URL: r.URL})
	}

	t.logger.Debug("web search completed", "query", query, "hits", len(snippets))

	return &datatypes.ToolResult{
		Outcome: datatypes.OutcomeSuccess,
		Data: map[string]any{
			"results":   snippets,
			"citations": citations,
		},
	}, nil
}

// Fallback has nothing to offer offline: the failure propagates as a
// failed result and downstream steps decide whether they can skip.
func (t *WebSearchTool) Fallback(ctx context.Context, params map[string]any, cause error) (*datatypes.ToolResult, error) {
	return nil, fmt.Errorf("web_search: no offline fallback (%v)", cause)
}
