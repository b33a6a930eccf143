// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package extensions

import "regexp"

// AnswerFilter post-processes final answers before they leave the
// service. Filters see only the prose answer, not citations or debug
// metadata.
type AnswerFilter interface {
	// FilterAnswer returns the (possibly rewritten) answer text.
	FilterAnswer(answer string) string
}

// NoopFilter passes answers through unchanged.
type NoopFilter struct{}

func (NoopFilter) FilterAnswer(answer string) string { return answer }

// RedactFilter replaces every match of its patterns with the
// replacement marker. Used by deployments that must strip internal
// part numbers or customer identifiers from answers.
type RedactFilter struct {
	Patterns    []*regexp.Regexp
	Replacement string
}

func (f RedactFilter) FilterAnswer(answer string) string {
	marker := f.Replacement
	if marker == "" {
		marker = "[redacted]"
	}
	for _, p := range f.Patterns {
		if p == nil {
			continue
		}
		answer = p.ReplaceAllString(answer, marker)
	}
	return answer
}
