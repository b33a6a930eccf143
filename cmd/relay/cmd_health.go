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
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianRelay/pkg/ux"
)

// runHealthCommand checks each pipeline component and reports status.
// Exits non-zero when the local model is unreachable; degraded tools
// or specialists only warn.
func runHealthCommand(cmd *cobra.Command, args []string) {
	orch, logger := newPipeline()
	defer orch.Close()
	defer logger.Close()

	h := orch.CheckHealth(context.Background())

	if jsonOutput {
		printJSON(h)
		if !h.Healthy() {
			os.Exit(1)
		}
		return
	}

	fmt.Println(ux.Styles.Title.Render("Relay health"))
	fmt.Println(ux.StatusLine(h.Local, fmt.Sprintf("local model (%s)", cfg.Local.Model)))
	fmt.Println(ux.StatusLine(h.Tools, "tools"))
	fmt.Println(ux.StatusLine(h.Externals, "specialists"))

	if !h.Healthy() {
		fmt.Println(ux.Styles.Error.Render("local model unreachable, pipeline cannot answer"))
		os.Exit(1)
	}
	if !h.Externals {
		fmt.Println(ux.Styles.Warning.Render("no specialist configured, verification degraded"))
	}
}
