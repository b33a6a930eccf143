// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command orchestrator starts the AleutianRelay HTTP server.
//
// This is the main entry point for the containerized relay service. It
// reads configuration from an optional YAML file plus environment
// variables and starts the server.
//
// # Environment Variables
//
//   - RELAY_CONFIG: path to the YAML config file (optional)
//   - RELAY_PORT: HTTP server port (default: 8080)
//   - RELAY_OLLAMA_URL: local model endpoint (default: http://localhost:11434)
//   - RELAY_FAST_API_KEY / RELAY_STRONG_API_KEY: specialist credentials
//   - RELAY_OTLP_ENDPOINT: OpenTelemetry collector (enables tracing)
//
// # Usage
//
//	# Build
//	go build -o relay-server ./cmd/orchestrator
//
//	# Run
//	RELAY_CONFIG=relay.yaml ./relay-server
package main

import (
	"flag"
	"log"
	"log/slog"
	"os"

	"github.com/AleutianAI/AleutianRelay/services/orchestrator"
	"github.com/AleutianAI/AleutianRelay/services/relay/config"
)

func main() {
	configPath := flag.String("config", os.Getenv("RELAY_CONFIG"),
		"path to YAML config file (optional)")
	flag.Parse()

	// Setup structured logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	slog.Info("Starting relay orchestrator",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"local_model", cfg.Local.Model,
		"fast_specialist", cfg.Fast.Enabled(),
		"strong_specialist", cfg.Strong.Enabled(),
	)

	// Default (no-op) extension hooks; compliance builds pass their
	// own auditor and answer filter here.
	svc, err := orchestrator.New(cfg, logger, nil)
	if err != nil {
		log.Fatalf("Failed to create orchestrator: %v", err)
	}

	// Run the server (blocks until shutdown)
	if err := svc.Run(); err != nil {
		log.Fatalf("Orchestrator error: %v", err)
	}
}
