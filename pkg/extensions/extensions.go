// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package extensions defines the pluggable hooks of the relay service.
//
// The open-source build ships no-op implementations; deployments with
// compliance requirements supply their own auditor and answer filter
// when constructing the service. Hooks must be non-blocking: they run
// on the request path.
package extensions

// Options bundles the hook implementations for one service instance.
type Options struct {
	// Auditor records every query for compliance review.
	Auditor QueryAuditor

	// Filter post-processes answers before they leave the service.
	Filter AnswerFilter
}

// Defaults returns no-op hooks suitable for the open-source build.
func Defaults() *Options {
	return &Options{
		Auditor: NoopAuditor{},
		Filter:  NoopFilter{},
	}
}

// Normalize fills nil hooks with their no-op defaults.
func (o *Options) Normalize() *Options {
	if o == nil {
		return Defaults()
	}
	if o.Auditor == nil {
		o.Auditor = NoopAuditor{}
	}
	if o.Filter == nil {
		o.Filter = NoopFilter{}
	}
	return o
}
