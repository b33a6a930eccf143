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

	"github.com/AleutianAI/AleutianRelay/services/relay/datatypes"
)

// runStreamCommand runs one query and prints the answer incrementally
// as chunks arrive. Planning and tool work completes before the first
// chunk; the stream carries the finished answer in order.
func runStreamCommand(cmd *cobra.Command, args []string) {
	query := strings.Join(args, " ")

	orch, logger := newPipeline()
	defer orch.Close()
	defer logger.Close()

	chunks, output := orch.ProcessQueryStream(context.Background(), query, sessionID, datatypes.SourceCLI)

	if jsonOutput {
		// Drain the stream; JSON mode reports the structured result.
		for range chunks {
		}
		printJSON(output)
		return
	}

	for chunk := range chunks {
		fmt.Print(chunk)
	}
	fmt.Println()

	printCitations(output.Citations)
	printDebugWarnings(output.Debug)
}
