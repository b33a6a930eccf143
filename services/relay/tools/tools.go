// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package tools provides the tool registry and execution framework for
// plan steps.
//
// Each tool is described by a Definition and implements the Tool
// interface. Tools degrade rather than fail: when primary execution
// errors, the tool's Fallback produces a best-effort result so the plan
// can continue.
//
// Thread Safety:
//
//	All types in this package are safe for concurrent use after
//	construction.
package tools

import (
	"context"
	"time"

	"github.com/AleutianAI/AleutianRelay/services/relay/datatypes"
)

// ParamType represents the type of a tool parameter.
type ParamType string

const (
	ParamTypeString ParamType = "string"
	ParamTypeInt    ParamType = "integer"
	ParamTypeFloat  ParamType = "number"
	ParamTypeBool   ParamType = "boolean"
	ParamTypeObject ParamType = "object"
)

// ParamDef defines a single parameter for a tool.
type ParamDef struct {
	// Type is the parameter type.
	Type ParamType `json:"type"`

	// Description explains what the parameter is for.
	Description string `json:"description"`

	// Required indicates if the parameter must be provided.
	Required bool `json:"required"`

	// Enum restricts values to a set of options.
	Enum []any `json:"enum,omitempty"`
}

// Definition describes a tool's interface for the planner LLM.
type Definition struct {
	// Name is the unique identifier for the tool.
	Name string `json:"name"`

	// Description explains what the tool does.
	Description string `json:"description"`

	// Parameters defines the input parameters.
	Parameters map[string]ParamDef `json:"parameters"`

	// Timeout is the default execution timeout.
	Timeout time.Duration `json:"timeout,omitempty"`
}

// RequiredParams returns a list of required parameter names.
func (d *Definition) RequiredParams() []string {
	var required []string
	for name, param := range d.Parameters {
		if param.Required {
			required = append(required, name)
		}
	}
	return required
}

// Tool defines the interface for executable plan-step tools.
//
// Implementations must be safe for concurrent use.
type Tool interface {
	// Name returns the unique tool name.
	Name() string

	// Definition returns the tool's parameter schema.
	Definition() Definition

	// Execute runs the tool with the given parameters.
	//
	// Inputs:
	//   ctx - Context for cancellation and timeout
	//   params - Input parameters from the plan step
	//
	// Outputs:
	//   *datatypes.ToolResult - Execution result
	//   error - Non-nil if primary execution failed
	Execute(ctx context.Context, params map[string]any) (*datatypes.ToolResult, error)

	// Fallback produces a degraded result after primary execution
	// failed with cause. Returning an error here means the tool has no
	// usable fallback for these parameters.
	Fallback(ctx context.Context, params map[string]any, cause error) (*datatypes.ToolResult, error)
}

// ExecuteWithFallback runs a tool and, on failure, its fallback.
//
// Description:
//
//	The returned result always has Tool and Duration populated. When
//	both primary and fallback fail, the result is a failed ToolResult
//	carrying the primary cause; the plan continues with it rather than
//	aborting.
//
// Outputs:
//
//	*datatypes.ToolResult - Never nil.
func ExecuteWithFallback(ctx context.Context, t Tool, params map[string]any) *datatypes.ToolResult {
	start := time.Now()

	result, err := t.Execute(ctx, params)
	if err == nil && result != nil {
		result.Tool = t.Name()
		result.Duration = time.Since(start)
		return result
	}
	cause := err

	result, fbErr := t.Fallback(ctx, params, cause)
	if fbErr == nil && result != nil {
		if result.Data == nil {
			result.Data = map[string]any{}
		}
		result.Data["fallback"] = true
		result.Tool = t.Name()
		result.Duration = time.Since(start)
		return result
	}

	msg := "tool execution failed"
	if cause != nil {
		msg = cause.Error()
	}
	return &datatypes.ToolResult{
		Tool:     t.Name(),
		Outcome:  datatypes.OutcomeFailed,
		Error:    msg,
		Duration: time.Since(start),
	}
}
