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
	"github.com/spf13/cobra"
)

// ===== GLOBAL COMMAND FLAGS =====

var (
	configPath string // --config: YAML config file path
	sessionID  string // --session: conversation/session identifier
	jsonOutput bool   // --json: machine-readable output
	verbose    bool   // --verbose: pipeline logs on stderr

	limitUSD float64 // --limit-usd: per-session specialist spend cap
	override bool    // --override: allow critical calls past the hard cap

	rootCmd = &cobra.Command{
		Use:   "relay",
		Short: "A CLI for the AleutianRelay battery-engineering assistant",
		Long: `Relay answers battery-engineering questions using a local
planning model, deterministic tools, and tiered cloud specialists
for verification. The pipeline runs in-process.`,
	}

	askCmd = &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask a question and print the grounded answer",
		Long: `Runs the full pipeline for one question: plan, execute tools,
sanity-check, verify if needed, and present the answer with citations.

Examples:
  relay ask "What is the energy of a 13s4p pack of Samsung 50E cells?"
  relay ask --session work --json "Is 4.25 V a safe charge cutoff?"`,
		Args: cobra.MinimumNArgs(1),
		Run:  runAskCommand, // Defined in cmd_ask.go
	}

	streamCmd = &cobra.Command{
		Use:   "stream [question]",
		Short: "Ask a question and stream the answer as it renders",
		Args:  cobra.MinimumNArgs(1),
		Run:   runStreamCommand, // Defined in cmd_stream.go
	}

	healthCmd = &cobra.Command{
		Use:   "health",
		Short: "Check local model, tool, and specialist availability",
		Run:   runHealthCommand, // Defined in cmd_health.go
	}

	costsCmd = &cobra.Command{
		Use:   "costs",
		Short: "Show accumulated specialist spend",
		Run:   runCostsCommand, // Defined in cmd_costs.go
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "",
		"Path to YAML config file (default: built-in defaults + RELAY_* env)")
	rootCmd.PersistentFlags().StringVar(&sessionID, "session", "",
		"Session identifier for memory and cost grouping")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false,
		"Emit machine-readable JSON instead of styled text")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false,
		"Show pipeline logs on stderr")

	askCmd.Flags().Float64Var(&limitUSD, "limit-usd", 0,
		"Session spend cap in USD (0 = configured default)")
	askCmd.Flags().BoolVar(&override, "override", false,
		"Allow safety-critical specialist calls past a reached hard cap")
	streamCmd.Flags().Float64Var(&limitUSD, "limit-usd", 0,
		"Session spend cap in USD (0 = configured default)")

	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(streamCmd)
	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(costsCmd)
}
