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
	"encoding/json"
	"errors"
	"regexp"
	"strings"
)

// ErrNoJSON is returned when no parseable JSON object can be found in
// a model response.
var ErrNoJSON = errors.New("llm: no JSON object in response")

// fencedJSONPattern matches the first ```json ... ``` block. The tag is
// optional because smaller models frequently drop it.
var fencedJSONPattern = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*?\\})\\s*```")

// ExtractJSON pulls a JSON object out of free-form model output.
//
// Description:
//
//	Three-tier parse, in order:
//	  1. direct parse of the whole response
//	  2. first fenced ```json code block
//	  3. substring from the first '{' to the last '}'
//	The tiers are a contract: callers must not rely on any provider's
//	structured-output mode producing clean JSON.
//
// Inputs:
//
//	text - Raw model output.
//
// Outputs:
//
//	json.RawMessage - The extracted object bytes.
//	error - ErrNoJSON when every tier fails.
//
// Thread Safety: Safe for concurrent use.
func ExtractJSON(text string) (json.RawMessage, error) {
	trimmed := strings.TrimSpace(text)

	// Tier 1: the whole response is the object.
	if isJSONObject(trimmed) {
		return json.RawMessage(trimmed), nil
	}

	// Tier 2: fenced code block.
	if m := fencedJSONPattern.FindStringSubmatch(text); len(m) > 1 {
		if isJSONObject(m[1]) {
			return json.RawMessage(m[1]), nil
		}
	}

	// Tier 3: outermost braces.
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		candidate := text[start : end+1]
		if isJSONObject(candidate) {
			return json.RawMessage(candidate), nil
		}
	}

	return nil, ErrNoJSON
}

// ExtractJSONInto extracts and unmarshals in one step.
func ExtractJSONInto(text string, v any) error {
	raw, err := ExtractJSON(text)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return errors.Join(ErrNoJSON, err)
	}
	return nil
}

// isJSONObject reports whether s parses as a JSON object (not an array
// or scalar).
func isJSONObject(s string) bool {
	if !strings.HasPrefix(strings.TrimSpace(s), "{") {
		return false
	}
	var m map[string]json.RawMessage
	return json.Unmarshal([]byte(s), &m) == nil
}
