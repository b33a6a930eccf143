// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// generate_tool_docs generates a markdown reference table from the
// built-in tool definitions.
//
// Usage:
//
//	go run scripts/generate_tool_docs.go > docs/tool_reference.md
//
// The generated documentation includes:
//   - Full tool inventory with descriptions and timeouts
//   - Per-tool parameter tables with types and required markers
package main

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/AleutianAI/AleutianRelay/services/relay/tools"
)

func main() {
	defs := []tools.Definition{
		tools.NewCodeExecTool("", nil).Definition(),
		tools.NewWebSearchTool("", 0, nil).Definition(),
		tools.NewSentimentTool().Definition(),
		tools.NewMemoryTool(nil).Definition(),
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })

	fmt.Println("# Tool Reference")
	fmt.Println()
	fmt.Printf("Generated %s. Do not edit by hand.\n", time.Now().UTC().Format("2006-01-02"))
	fmt.Println()
	fmt.Println("| Tool | Description | Timeout |")
	fmt.Println("|------|-------------|---------|")
	for _, d := range defs {
		fmt.Printf("| `%s` | %s | %s |\n", d.Name, d.Description, timeoutLabel(d.Timeout))
	}

	for _, d := range defs {
		fmt.Println()
		fmt.Printf("## %s\n", d.Name)
		fmt.Println()
		fmt.Println(d.Description)
		if len(d.Parameters) == 0 {
			continue
		}
		fmt.Println()
		fmt.Println("| Parameter | Type | Required | Description |")
		fmt.Println("|-----------|------|----------|-------------|")

		names := make([]string, 0, len(d.Parameters))
		for name := range d.Parameters {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			p := d.Parameters[name]
			required := ""
			if p.Required {
				required = "yes"
			}
			desc := p.Description
			if len(p.Enum) > 0 {
				opts := make([]string, len(p.Enum))
				for i, v := range p.Enum {
					opts[i] = fmt.Sprintf("`%v`", v)
				}
				desc += " One of: " + strings.Join(opts, ", ") + "."
			}
			fmt.Printf("| `%s` | %s | %s | %s |\n", name, p.Type, required, desc)
		}
	}
}

func timeoutLabel(d time.Duration) string {
	if d == 0 {
		return "default"
	}
	return d.String()
}
