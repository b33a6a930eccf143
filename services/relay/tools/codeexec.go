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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/AleutianAI/AleutianRelay/services/relay/datatypes"
	"github.com/AleutianAI/AleutianRelay/services/relay/packs"
)

// ToolCodeExec is the registry name for the sandboxed code runner.
const ToolCodeExec = "code_exec"

// ValidateCodeExecInput checks a code_exec step's input before any
// execution happens.
//
// Description:
//
//	The step input must carry language "python" and mode "task" or
//	"raw_code". Task mode requires a task string and forbids code; raw
//	code mode requires code and forbids task/variables. Unknown modes
//	and missing fields are structural defects the planner produced, so
//	the caller treats them as validation errors rather than tool
//	failures.
func ValidateCodeExecInput(input map[string]any) error {
	lang, _ := input["language"].(string)
	if lang != "python" {
		return fmt.Errorf("code_exec: language must be \"python\", got %q", lang)
	}

	mode, _ := input["mode"].(string)
	switch mode {
	case "task":
		task, _ := input["task"].(string)
		if strings.TrimSpace(task) == "" {
			return fmt.Errorf("code_exec: task mode requires a non-empty task")
		}
		if _, hasCode := input["code"]; hasCode {
			return fmt.Errorf("code_exec: task mode must not carry code")
		}
	case "raw_code":
		code, _ := input["code"].(string)
		if strings.TrimSpace(code) == "" {
			return fmt.Errorf("code_exec: raw_code mode requires non-empty code")
		}
		if _, hasTask := input["task"]; hasTask {
			return fmt.Errorf("code_exec: raw_code mode must not carry a task")
		}
		if _, hasVars := input["variables"]; hasVars {
			return fmt.Errorf("code_exec: raw_code mode must not carry variables")
		}
	default:
		return fmt.Errorf("code_exec: mode must be \"task\" or \"raw_code\", got %q", mode)
	}
	return nil
}

// CodeExecTool runs Python in an external sandbox service, with a
// native fallback for pack-energy arithmetic when the sandbox is
// unreachable or unconfigured.
type CodeExecTool struct {
	sandboxURL string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewCodeExecTool creates the tool. An empty sandboxURL disables the
// sandbox path; every execution then goes straight to the fallback.
func NewCodeExecTool(sandboxURL string, logger *slog.Logger) *CodeExecTool {
	if logger == nil {
		logger = slog.Default()
	}
	return &CodeExecTool{
		sandboxURL: strings.TrimRight(sandboxURL, "/"),
		httpClient: &http.Client{Timeout: 60 * time.Second},
		logger:     logger,
	}
}

// Name returns the tool name.
func (t *CodeExecTool) Name() string { return ToolCodeExec }

// Definition returns the tool's parameter schema.
func (t *CodeExecTool) Definition() Definition {
	return Definition{
		Name:        ToolCodeExec,
		Description: "Execute Python for deterministic arithmetic. Task mode describes the calculation; raw_code mode runs a snippet verbatim.",
		Parameters: map[string]ParamDef{
			"language": {Type: ParamTypeString, Required: true, Enum: []any{"python"}, Description: "Execution language."},
			"mode":     {Type: ParamTypeString, Required: true, Enum: []any{"task", "raw_code"}, Description: "Task description or raw snippet."},
			"task":     {Type: ParamTypeString, Description: "What to compute, in task mode."},
			"variables": {Type: ParamTypeObject, Description: "Named numeric inputs for task mode."},
			"code":     {Type: ParamTypeString, Description: "Python snippet, in raw_code mode."},
		},
		Timeout: 60 * time.Second,
	}
}

type sandboxRequest struct {
	Language  string         `json:"language"`
	Mode      string         `json:"mode"`
	Task      string         `json:"task,omitempty"`
	Variables map[string]any `json:"variables,omitempty"`
	Code      string         `json:"code,omitempty"`
}

type sandboxResponse struct {
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	ExitCode int    `json:"exit_code"`
}

// Execute sends the step input to the sandbox service.
func (t *CodeExecTool) Execute(ctx context.Context, params map[string]any) (*datatypes.ToolResult, error) {
	if err := ValidateCodeExecInput(params); err != nil {
		return nil, err
	}
	if t.sandboxURL == "" {
		return nil, fmt.Errorf("code_exec: no sandbox configured")
	}

	req := sandboxRequest{Language: "python"}
	req.Mode, _ = params["mode"].(string)
	req.Task, _ = params["task"].(string)
	req.Code, _ = params["code"].(string)
	if vars, ok := params["variables"].(map[string]any); ok {
		req.Variables = vars
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("code_exec: encoding request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		t.sandboxURL+"/execute", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("code_exec: building request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := t.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("code_exec: sandbox unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("code_exec: sandbox returned %d: %s", resp.StatusCode, string(data))
	}

	var out sandboxResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("code_exec: decoding sandbox response: %w", err)
	}
	if out.ExitCode != 0 {
		return nil, fmt.Errorf("code_exec: exit %d: %s", out.ExitCode, out.Stderr)
	}

	return &datatypes.ToolResult{
		Outcome: datatypes.OutcomeSuccess,
		Data: map[string]any{
			"stdout": out.Stdout,
			"stderr": out.Stderr,
		},
	}, nil
}

// Fallback evaluates pack-energy tasks natively.
//
// Description:
//
//	When the sandbox is unavailable, battery-pack arithmetic is simple
//	enough to compute in-process: the task string and variables are
//	parsed for a pack layout, cell capacity, and nominal voltage, and
//	the energy figures are derived directly. Tasks outside that shape
//	have no fallback.
func (t *CodeExecTool) Fallback(ctx context.Context, params map[string]any, cause error) (*datatypes.ToolResult, error) {
	mode, _ := params["mode"].(string)
	if mode != "task" {
		return nil, fmt.Errorf("code_exec: no fallback for raw code (%v)", cause)
	}
	task, _ := params["task"].(string)

	spec, err := packSpecFromTask(task, params)
	if err != nil {
		return nil, fmt.Errorf("code_exec: fallback cannot evaluate task: %w", err)
	}

	energy, err := packs.ComputeEnergy(spec)
	if err != nil {
		return nil, fmt.Errorf("code_exec: fallback: %w", err)
	}

	t.logger.Info("code_exec fallback computed pack energy natively",
		"series", spec.Series, "parallel", spec.Parallel, "energy_wh", energy.EnergyWh)

	return &datatypes.ToolResult{
		Outcome: datatypes.OutcomeSuccess,
		Data: map[string]any{
			"stdout":           energy.Describe(spec),
			"pack_voltage_v":   energy.PackVoltageV,
			"pack_capacity_ah": energy.PackCapacityAh,
			"energy_wh":        energy.EnergyWh,
			"energy_kwh":       energy.EnergyKWh,
		},
	}, nil
}

// packSpecFromTask builds a pack spec from the task text plus any
// explicit variables. Variables win over values parsed from the text.
func packSpecFromTask(task string, params map[string]any) (*packs.Spec, error) {
	spec, err := packs.ParseQuery(task)
	if err != nil {
		spec = &packs.Spec{}
	}

	if vars, ok := params["variables"].(map[string]any); ok {
		if v, ok := numericVar(vars, "series"); ok {
			spec.Series = int(v)
		}
		if v, ok := numericVar(vars, "parallel"); ok {
			spec.Parallel = int(v)
		}
		if v, ok := numericVar(vars, "capacity_mah"); ok {
			spec.CapacityMah = v
		}
		if v, ok := numericVar(vars, "capacity_ah"); ok {
			spec.CapacityMah = v * 1000
		}
		if v, ok := numericVar(vars, "nominal_v"); ok {
			spec.NominalV = v
		}
	}

	if spec.Series == 0 && spec.Parallel == 0 {
		return nil, fmt.Errorf("no pack layout in task %q", task)
	}
	return spec, nil
}

func numericVar(vars map[string]any, key string) (float64, bool) {
	switch v := vars[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
