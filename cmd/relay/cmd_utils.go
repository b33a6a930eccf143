// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"encoding/json"
	"fmt"
	"log"
	"os"

	"github.com/google/uuid"

	"github.com/AleutianAI/AleutianRelay/pkg/logging"
	"github.com/AleutianAI/AleutianRelay/pkg/ux"
	"github.com/AleutianAI/AleutianRelay/services/relay"
	"github.com/AleutianAI/AleutianRelay/services/relay/datatypes"
)

// newPipeline builds the in-process pipeline from the loaded config
// and applies CLI-level cost flags. Callers must Close the returned
// orchestrator.
func newPipeline() (*relay.Orchestrator, *logging.Logger) {
	logger := logging.New(logging.Config{
		Level:   logging.ParseLevel(cfg.Logging.Level),
		LogDir:  cfg.Logging.Dir,
		Service: "relay-cli",
		JSON:    cfg.Logging.JSON,
		Quiet:   !verbose,
	})

	orch, err := relay.New(cfg, logger.Logger)
	if err != nil {
		log.Fatalf("Error building pipeline: %v", err)
	}

	if limitUSD > 0 {
		if sessionID == "" {
			sessionID = uuid.NewString()
		}
		orch.SetSessionLimit(sessionID, datatypes.CostLimit{
			TotalLimitUSD:   limitUSD,
			SoftCapFraction: cfg.Costs.SoftCapFraction,
		})
	}
	if override {
		orch.EnableManualOverride(true)
	}

	return orch, logger
}

// printJSON writes v as indented JSON to stdout.
func printJSON(v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		log.Fatalf("Error encoding output: %v", err)
	}
	fmt.Println(string(data))
}

// printCitations renders the numbered source list under an answer.
func printCitations(citations []datatypes.Citation) {
	if len(citations) == 0 {
		return
	}
	fmt.Println()
	fmt.Println(ux.Styles.Subtitle.Render("Sources"))
	for _, c := range citations {
		line := fmt.Sprintf("  [%d] %s", c.ID, c.Title)
		if c.URL != "" {
			line += " " + ux.Styles.Muted.Render(c.URL)
		}
		fmt.Println(line)
	}
}

// printDebugWarnings surfaces pipeline degradation from the debug
// metadata: fallbacks, escalations, and validation defects.
func printDebugWarnings(debug map[string]any) {
	if len(debug) == 0 {
		return
	}

	warn := func(format string, args ...any) {
		fmt.Fprintf(os.Stderr, "%s %s\n",
			ux.IconWarning.Render(), fmt.Sprintf(format, args...))
	}

	if v, ok := debug["validation_error"]; ok {
		warn("plan validation failed: %v", v)
	}
	if v, ok := debug["tool_fallbacks"]; ok {
		warn("tool fallbacks used: %v", v)
	}
	if v, ok := debug["escalations"]; ok {
		warn("sanity escalations: %v", v)
	}
	if _, ok := debug["presenter_fallback"]; ok {
		warn("presenter model unavailable, answer synthesized from tool output")
	}
	if _, ok := debug["panic"]; ok {
		warn("pipeline recovered from an internal error")
	}
}
