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
	"log/slog"
	"sort"
	"sync"

	"github.com/AleutianAI/AleutianRelay/services/relay/datatypes"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var tracer = otel.Tracer("relay.tools")

// Registry holds the available tools and their enabled state.
//
// Registration happens during startup; after that only the enabled
// flags change, guarded by the mutex.
type Registry struct {
	mu       sync.RWMutex
	tools    map[string]Tool
	disabled map[string]bool
	logger   *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		tools:    make(map[string]Tool),
		disabled: make(map[string]bool),
		logger:   logger,
	}
}

// Register adds a tool. Registering a duplicate name is an error.
func (r *Registry) Register(t Tool) error {
	if t == nil || t.Name() == "" {
		return fmt.Errorf("tools: cannot register unnamed tool")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[t.Name()]; exists {
		return fmt.Errorf("tools: %q already registered", t.Name())
	}
	r.tools[t.Name()] = t
	return nil
}

// Get returns the tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Names returns registered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Disable marks a tool disabled. Executing a disabled tool yields a
// failed result without invoking it.
func (r *Registry) Disable(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.disabled[name] = true
}

// Enable clears a tool's disabled flag.
func (r *Registry) Enable(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.disabled, name)
}

// IsDisabled reports the disabled flag for a tool.
func (r *Registry) IsDisabled(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.disabled[name]
}

// Healthy reports whether the registry has at least one enabled tool.
func (r *Registry) Healthy() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for name := range r.tools {
		if !r.disabled[name] {
			return true
		}
	}
	return false
}

// Execute runs the named tool with fallback handling.
//
// Description:
//
//	An unknown tool or a disabled tool yields a failed ToolResult
//	rather than a Go error, so a broken plan step degrades instead of
//	aborting the plan.
//
// Outputs:
//
//	*datatypes.ToolResult - Never nil. StepID is left for the caller.
func (r *Registry) Execute(ctx context.Context, name string, params map[string]any) *datatypes.ToolResult {
	ctx, span := tracer.Start(ctx, "tools.Execute")
	span.SetAttributes(attribute.String("tool", name))
	defer span.End()

	t, ok := r.Get(name)
	if !ok {
		r.logger.Warn("unknown tool requested", "tool", name)
		return &datatypes.ToolResult{
			Tool:    name,
			Outcome: datatypes.OutcomeFailed,
			Error:   fmt.Sprintf("unknown tool %q", name),
		}
	}
	if r.IsDisabled(name) {
		r.logger.Warn("disabled tool requested", "tool", name)
		return &datatypes.ToolResult{
			Tool:    name,
			Outcome: datatypes.OutcomeFailed,
			Error:   "Tool disabled",
		}
	}

	result := ExecuteWithFallback(ctx, t, params)
	if result.Outcome == datatypes.OutcomeFailed {
		r.logger.Warn("tool failed", "tool", name, "error", result.Error)
	}
	return result
}
