// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package validation provides input validation utilities for security-critical operations.
//
// This package contains validators for user-provided identifiers that end
// up in datastore keys or subprocess payloads. Using these validators
// prevents key-separator injection and keeps episodic memory keys parseable.
package validation

import (
	"fmt"
	"regexp"
)

// sessionIDPattern matches valid session identifiers.
// Allows: letters, digits, hyphens, underscores.
// Max length: 64 characters (covers UUIDs and human-chosen names).
// Colons are excluded: the memory store uses ":" as its key separator.
var sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_\-]{0,63}$`)

// stepIDPattern matches valid plan step identifiers.
var stepIDPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_\-]{0,63}$`)

// ValidateSessionID validates a session identifier before it is used
// in datastore keys.
//
// Valid session IDs:
//   - 1-64 characters
//   - Letters, digits, hyphens, underscores
//   - No colons (reserved as the memory key separator)
//
// Returns an error if the identifier is invalid.
//
// Example:
//
//	if err := validation.ValidateSessionID(sessionID); err != nil {
//	    sessionID = uuid.NewString()
//	}
func ValidateSessionID(id string) error {
	if id == "" {
		return fmt.Errorf("session id cannot be empty")
	}
	if !sessionIDPattern.MatchString(id) {
		return fmt.Errorf("invalid session id %q (must be 1-64 alphanumeric chars, hyphens, or underscores)", id)
	}
	return nil
}

// ValidateStepID validates a plan step identifier. Step IDs appear in
// result maps and input references (FROM_<id>), so they must be
// lowercase machine names.
func ValidateStepID(id string) error {
	if id == "" {
		return fmt.Errorf("step id cannot be empty")
	}
	if !stepIDPattern.MatchString(id) {
		return fmt.Errorf("invalid step id %q (must be 1-64 lowercase alphanumeric chars, hyphens, or underscores)", id)
	}
	return nil
}
