// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package packs parses battery-pack shorthand (NsMp) and computes pack
// energy figures. It backs both the code_exec fallback evaluator and
// the analyzer's calculation-detection heuristic.
package packs

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Spec describes one pack configuration extracted from a query.
type Spec struct {
	// Series is the cell count in series (the N in NsMp).
	Series int `json:"series"`

	// Parallel is the string count in parallel (the M in NsMp).
	Parallel int `json:"parallel"`

	// CapacityMah is the single-cell capacity in mAh. Zero if the
	// query did not state it.
	CapacityMah float64 `json:"capacity_mah,omitempty"`

	// NominalV is the single-cell nominal voltage. Zero if the query
	// did not state it.
	NominalV float64 `json:"nominal_v,omitempty"`
}

var (
	// shorthandPattern matches pack shorthand like "13S4P" or "13s4p".
	shorthandPattern = regexp.MustCompile(`\b(\d{1,3})[sS](\d{1,3})[pP]\b`)

	// capacityPattern matches a cell capacity like "3400mAh" or "3.4 Ah".
	capacityMahPattern = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*mAh\b`)
	capacityAhPattern  = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*Ah\b`)

	// voltagePattern matches a nominal voltage like "3.6V" or "3.7 V".
	voltagePattern = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*[vV]\b`)

	// unitNumberPattern spots unit-bearing numeric tokens that suggest
	// a calculation is wanted even without pack shorthand.
	unitNumberPattern = regexp.MustCompile(`(?i)\d+(?:\.\d+)?\s*(mAh|Ah|Wh|kWh|V|A|W|km|mi)\b`)
)

// HasShorthand reports whether the text contains NsMp pack shorthand.
func HasShorthand(text string) bool {
	return shorthandPattern.MatchString(text)
}

// NeedsCalculation reports whether the query carries strong indicators
// that numeric work is required: pack shorthand or unit-bearing
// numeric tokens.
func NeedsCalculation(query string) bool {
	return HasShorthand(query) || unitNumberPattern.MatchString(query)
}

// ParseQuery extracts a pack Spec from free-form query text.
//
// Description:
//
//	Finds the first NsMp shorthand plus any stated cell capacity and
//	nominal voltage. Capacity stated in Ah is converted to mAh.
//
// Outputs:
//
//	*Spec - The parsed configuration.
//	error - Non-nil when no shorthand is present.
func ParseQuery(query string) (*Spec, error) {
	m := shorthandPattern.FindStringSubmatch(query)
	if m == nil {
		return nil, fmt.Errorf("no NsMp pack shorthand in query")
	}

	series, err := strconv.Atoi(m[1])
	if err != nil {
		return nil, fmt.Errorf("parsing series count: %w", err)
	}
	parallel, err := strconv.Atoi(m[2])
	if err != nil {
		return nil, fmt.Errorf("parsing parallel count: %w", err)
	}

	spec := &Spec{Series: series, Parallel: parallel}

	if cm := capacityMahPattern.FindStringSubmatch(query); cm != nil {
		spec.CapacityMah, _ = strconv.ParseFloat(cm[1], 64)
	} else if ca := capacityAhPattern.FindStringSubmatch(query); ca != nil {
		ah, _ := strconv.ParseFloat(ca[1], 64)
		spec.CapacityMah = ah * 1000
	}

	if vm := voltagePattern.FindStringSubmatch(query); vm != nil {
		spec.NominalV, _ = strconv.ParseFloat(vm[1], 64)
	}

	return spec, nil
}

// Energy is the computed output for one pack configuration.
type Energy struct {
	// PackVoltageV is series count times nominal cell voltage.
	PackVoltageV float64 `json:"pack_voltage_v"`

	// PackCapacityAh is parallel count times cell capacity.
	PackCapacityAh float64 `json:"pack_capacity_ah"`

	// EnergyWh is pack voltage times pack capacity.
	EnergyWh float64 `json:"energy_wh"`

	// EnergyKWh is EnergyWh / 1000.
	EnergyKWh float64 `json:"energy_kwh"`
}

// ComputeEnergy derives pack figures from a complete Spec.
//
// Outputs:
//
//	*Energy - The derived figures.
//	error - Non-nil when series/parallel/capacity/voltage are not all
//	positive.
func ComputeEnergy(spec *Spec) (*Energy, error) {
	if spec == nil {
		return nil, fmt.Errorf("nil pack spec")
	}
	if spec.Series <= 0 || spec.Parallel <= 0 {
		return nil, fmt.Errorf("pack layout %dS%dP is not positive", spec.Series, spec.Parallel)
	}
	if spec.CapacityMah <= 0 {
		return nil, fmt.Errorf("cell capacity missing")
	}
	if spec.NominalV <= 0 {
		return nil, fmt.Errorf("nominal voltage missing")
	}

	packV := float64(spec.Series) * spec.NominalV
	packAh := float64(spec.Parallel) * spec.CapacityMah / 1000.0
	wh := packV * packAh

	return &Energy{
		PackVoltageV:   packV,
		PackCapacityAh: packAh,
		EnergyWh:       wh,
		EnergyKWh:      wh / 1000.0,
	}, nil
}

// Describe renders the energy figures as the human-readable stdout a
// calculation tool would print.
func (e *Energy) Describe(spec *Spec) string {
	var b strings.Builder
	fmt.Fprintf(&b, "pack: %dS%dP\n", spec.Series, spec.Parallel)
	fmt.Fprintf(&b, "pack_voltage_v = %.2f\n", e.PackVoltageV)
	fmt.Fprintf(&b, "pack_capacity_ah = %.2f\n", e.PackCapacityAh)
	fmt.Fprintf(&b, "energy_wh = %.2f\n", e.EnergyWh)
	fmt.Fprintf(&b, "energy_kwh = %.5f\n", e.EnergyKWh)
	return b.String()
}
