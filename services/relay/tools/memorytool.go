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
	"fmt"

	"github.com/AleutianAI/AleutianRelay/services/relay/datatypes"
	"github.com/AleutianAI/AleutianRelay/services/relay/memory"
)

// ToolMemory is the registry name for episodic recall.
const ToolMemory = "memory"

// MemoryTool exposes episodic recall to plan steps: what did this
// session already ask and conclude.
type MemoryTool struct {
	store *memory.Store
}

// NewMemoryTool creates the tool over an opened store.
func NewMemoryTool(store *memory.Store) *MemoryTool {
	return &MemoryTool{store: store}
}

// Name returns the tool name.
func (t *MemoryTool) Name() string { return ToolMemory }

// Definition returns the tool's parameter schema.
func (t *MemoryTool) Definition() Definition {
	return Definition{
		Name:        ToolMemory,
		Description: "Recall recent episodes from this session's memory.",
		Parameters: map[string]ParamDef{
			"session_id": {Type: ParamTypeString, Required: true, Description: "Session to recall from."},
			"query":      {Type: ParamTypeString, Description: "Optional substring filter."},
			"limit":      {Type: ParamTypeInt, Description: "Maximum episodes to return. Default 5."},
		},
	}
}

// Execute fetches matching episodes, newest first.
func (t *MemoryTool) Execute(ctx context.Context, params map[string]any) (*datatypes.ToolResult, error) {
	if t.store == nil {
		return nil, fmt.Errorf("memory: no store configured")
	}
	sessionID, _ := params["session_id"].(string)
	if sessionID == "" {
		return nil, fmt.Errorf("memory: session_id is required")
	}
	query, _ := params["query"].(string)
	limit := 5
	if v, ok := numericVar(params, "limit"); ok && v > 0 {
		limit = int(v)
	}

	episodes, err := t.store.RecentEpisodes(ctx, sessionID, query, limit)
	if err != nil {
		return nil, fmt.Errorf("memory: recall failed: %w", err)
	}

	items := make([]map[string]any, 0, len(episodes))
	for _, ep := range episodes {
		items = append(items, map[string]any{
			"query":        ep.Query,
			"final_answer": ep.FinalAnswer,
			"intent":       ep.Intent,
			"created_at":   ep.CreatedAt,
		})
	}

	return &datatypes.ToolResult{
		Outcome: datatypes.OutcomeSuccess,
		Data: map[string]any{
			"episodes": items,
			"count":    len(items),
		},
	}, nil
}

// Fallback returns an empty recall: a query can always proceed without
// memory.
func (t *MemoryTool) Fallback(ctx context.Context, params map[string]any, cause error) (*datatypes.ToolResult, error) {
	return &datatypes.ToolResult{
		Outcome: datatypes.OutcomeSuccess,
		Data: map[string]any{
			"episodes": []map[string]any{},
			"count":    0,
		},
	}, nil
}
