// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads and validates the relay configuration.
//
// Configuration is YAML with environment overrides: a file sets the
// durable shape of a deployment and env vars carry secrets and
// per-host differences. Missing file means defaults plus env.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port" validate:"min=1,max=65535"`
}

// LocalModelConfig configures the local (free) model used for planning
// and presentation.
type LocalModelConfig struct {
	BaseURL string `yaml:"base_url" validate:"required,url"`
	Model   string `yaml:"model" validate:"required"`
}

// SpecialistConfig configures one external specialist tier.
type SpecialistConfig struct {
	// APIKey may come from the environment; empty disables the tier.
	APIKey  string  `yaml:"api_key"`
	BaseURL string  `yaml:"base_url"`
	Model   string  `yaml:"model"`
	// Prices are USD per 1K tokens.
	InputPer1K  float64 `yaml:"input_per_1k" validate:"gte=0"`
	OutputPer1K float64 `yaml:"output_per_1k" validate:"gte=0"`
}

// Enabled reports whether the tier has a key and a model.
func (s SpecialistConfig) Enabled() bool {
	return s.APIKey != "" && s.Model != ""
}

// ToolsConfig configures the tool registry.
type ToolsConfig struct {
	// SandboxURL is the code execution sandbox. Empty means native
	// fallback only.
	SandboxURL string `yaml:"sandbox_url"`

	// SearchEndpoint is the SearXNG-compatible search service.
	SearchEndpoint string `yaml:"search_endpoint"`

	// SearchMaxResults caps hits per search.
	SearchMaxResults int `yaml:"search_max_results" validate:"gte=0"`

	// Disabled lists tool names to register but keep disabled.
	Disabled []string `yaml:"disabled"`
}

// MemoryConfig configures the episodic store.
type MemoryConfig struct {
	Path     string `yaml:"path"`
	InMemory bool   `yaml:"in_memory"`
}

// CostsConfig configures spend caps.
type CostsConfig struct {
	TotalLimitUSD   float64 `yaml:"total_limit_usd" validate:"gte=0"`
	SoftCapFraction float64 `yaml:"soft_cap_fraction" validate:"gte=0,lt=1"`
}

// LoggingConfig configures the logger.
type LoggingConfig struct {
	Level string `yaml:"level" validate:"oneof=debug info warn error"`
	Dir   string `yaml:"dir"`
	JSON  bool   `yaml:"json"`
}

// TelemetryConfig configures OTLP trace export.
type TelemetryConfig struct {
	Enabled      bool   `yaml:"enabled"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
}

// Config is the root configuration.
type Config struct {
	Server    ServerConfig     `yaml:"server"`
	Local     LocalModelConfig `yaml:"local"`
	Fast      SpecialistConfig `yaml:"fast_specialist"`
	Strong    SpecialistConfig `yaml:"strong_specialist"`
	Tools     ToolsConfig      `yaml:"tools"`
	Memory    MemoryConfig     `yaml:"memory"`
	Costs     CostsConfig      `yaml:"costs"`
	Logging   LoggingConfig    `yaml:"logging"`
	Telemetry TelemetryConfig  `yaml:"telemetry"`
}

// Default returns the stock configuration: local Ollama, no
// specialists, $1.00 hard cap.
func Default() *Config {
	return &Config{
		Server: ServerConfig{Host: "0.0.0.0", Port: 8080},
		Local: LocalModelConfig{
			BaseURL: "http://localhost:11434",
			Model:   "qwen2.5:14b",
		},
		Tools: ToolsConfig{SearchMaxResults: 5},
		Memory: MemoryConfig{
			Path: "~/.aleutian/relay/memory",
		},
		Costs: CostsConfig{
			TotalLimitUSD:   1.00,
			SoftCapFraction: 0.8,
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

// Load reads the configuration.
//
// Description:
//
//	Starts from Default(), overlays the YAML file if path is non-empty
//	and exists, applies environment overrides, then validates. A
//	non-empty path naming a missing file is an error; an empty path
//	skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: reading %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parsing %s: %w", path, err)
		}
	}

	applyEnv(cfg)

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("config: validation: %w", err)
	}
	return cfg, nil
}

// applyEnv overlays RELAY_* environment variables. Secrets always come
// from env when present.
func applyEnv(cfg *Config) {
	if v := os.Getenv("RELAY_OLLAMA_URL"); v != "" {
		cfg.Local.BaseURL = v
	}
	if v := os.Getenv("RELAY_LOCAL_MODEL"); v != "" {
		cfg.Local.Model = v
	}
	if v := os.Getenv("RELAY_FAST_API_KEY"); v != "" {
		cfg.Fast.APIKey = v
	}
	if v := os.Getenv("RELAY_STRONG_API_KEY"); v != "" {
		cfg.Strong.APIKey = v
	}
	if v := os.Getenv("RELAY_SANDBOX_URL"); v != "" {
		cfg.Tools.SandboxURL = v
	}
	if v := os.Getenv("RELAY_SEARCH_ENDPOINT"); v != "" {
		cfg.Tools.SearchEndpoint = v
	}
	if v := os.Getenv("RELAY_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("RELAY_COST_LIMIT_USD"); v != "" {
		if limit, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Costs.TotalLimitUSD = limit
		}
	}
	if v := os.Getenv("RELAY_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("RELAY_OTLP_ENDPOINT"); v != "" {
		cfg.Telemetry.OTLPEndpoint = v
		cfg.Telemetry.Enabled = true
	}
}
