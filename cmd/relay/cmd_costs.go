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
	"fmt"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianRelay/pkg/ux"
)

// runCostsCommand prints accumulated specialist spend. With --session
// the summary is scoped to that session; otherwise it is process-wide.
func runCostsCommand(cmd *cobra.Command, args []string) {
	orch, logger := newPipeline()
	defer orch.Close()
	defer logger.Close()

	summary := orch.CostSummary(sessionID)

	if jsonOutput {
		printJSON(summary)
		return
	}

	scope := "all sessions"
	if summary.SessionID != "" {
		scope = "session " + summary.SessionID
	}
	fmt.Println(ux.Styles.Title.Render("Specialist spend") + " " + ux.Styles.Muted.Render("("+scope+")"))
	fmt.Println(ux.KeyValue("total", fmt.Sprintf("$%.4f", summary.TotalUSD)))
	fmt.Println(ux.KeyValue("records", fmt.Sprintf("%d", summary.RecordCount)))
	fmt.Println(ux.KeyValue("hard cap", fmt.Sprintf("$%.2f", summary.Limit.TotalLimitUSD)))

	switch {
	case summary.HardCapReached:
		fmt.Println(ux.IconError.Render() + " hard cap reached, non-critical specialist calls are blocked")
	case summary.SoftCapReached:
		fmt.Println(ux.IconWarning.Render() + " soft cap reached, approaching the spend limit")
	}
}
