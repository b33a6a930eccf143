// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want Level
	}{
		{"debug", "debug", LevelDebug},
		{"info", "info", LevelInfo},
		{"warn", "warn", LevelWarn},
		{"warning alias", "WARNING", LevelWarn},
		{"error", "error", LevelError},
		{"unknown defaults to info", "verbose", LevelInfo},
		{"whitespace tolerated", "  error ", LevelError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ParseLevel(tt.in); got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestLevelString(t *testing.T) {
	if LevelDebug.String() != "DEBUG" || LevelError.String() != "ERROR" {
		t.Errorf("unexpected level names: %s %s", LevelDebug, LevelError)
	}
	if Level(99).String() != "UNKNOWN" {
		t.Errorf("out-of-range level should be UNKNOWN")
	}
}

func TestNewWithFileSink(t *testing.T) {
	dir := t.TempDir()

	logger := New(Config{
		Level:   LevelDebug,
		LogDir:  dir,
		Service: "test",
		Quiet:   true,
	})
	logger.Info("hello", "key", "value")

	if err := logger.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("reading log dir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 log file, got %d", len(entries))
	}
	if !strings.HasPrefix(entries[0].Name(), "test_") {
		t.Errorf("log file %q missing service prefix", entries[0].Name())
	}

	data, err := os.ReadFile(filepath.Join(dir, entries[0].Name()))
	if err != nil {
		t.Fatalf("reading log file: %v", err)
	}
	if !strings.Contains(string(data), `"msg":"hello"`) {
		t.Errorf("file sink should be JSON, got: %s", data)
	}
	if !strings.Contains(string(data), `"service":"test"`) {
		t.Errorf("service attribute missing from entry: %s", data)
	}
}

func TestCloseWithoutFile(t *testing.T) {
	logger := Default()
	if err := logger.Close(); err != nil {
		t.Errorf("Close on stderr-only logger should be nil, got %v", err)
	}
	// Second close is a no-op.
	if err := logger.Close(); err != nil {
		t.Errorf("double Close should be nil, got %v", err)
	}
}
