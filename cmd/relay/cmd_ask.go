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
	"strings"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianRelay/pkg/ux"
	"github.com/AleutianAI/AleutianRelay/services/relay/datatypes"
)

// runAskCommand runs one query through the full pipeline and prints
// the grounded answer.
func runAskCommand(cmd *cobra.Command, args []string) {
	query := strings.Join(args, " ")

	orch, logger := newPipeline()
	defer orch.Close()
	defer logger.Close()

	output := orch.ProcessQuery(context.Background(), query, sessionID, datatypes.SourceCLI)

	if jsonOutput {
		printJSON(output)
		return
	}

	fmt.Println(output.FinalAnswer)
	if output.ShortSummary != "" && output.ShortSummary != output.FinalAnswer {
		fmt.Println()
		fmt.Println(ux.Styles.Muted.Render(output.ShortSummary))
	}
	printCitations(output.Citations)
	printDebugWarnings(output.Debug)
}
