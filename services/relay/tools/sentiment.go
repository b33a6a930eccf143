// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package tools

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/AleutianAI/AleutianRelay/services/relay/datatypes"
)

// ToolSentiment is the registry name for the lexicon scorer.
const ToolSentiment = "sentiment"

// SentimentTool scores text polarity with a small lexicon. It exists
// for plan steps that want a cheap local signal, not for serious NLP.
type SentimentTool struct {
	positive map[string]struct{}
	negative map[string]struct{}
}

var wordPattern = regexp.MustCompile(`[a-zA-Z']+`)

// NewSentimentTool creates the tool with the built-in lexicon.
func NewSentimentTool() *SentimentTool {
	toSet := func(words []string) map[string]struct{} {
		set := make(map[string]struct{}, len(words))
		for _, w := range words {
			set[w] = struct{}{}
		}
		return set
	}
	return &SentimentTool{
		positive: toSet([]string{
			"good", "great", "excellent", "reliable", "safe", "efficient",
			"best", "solid", "recommended", "strong", "impressive", "happy",
			"love", "like", "works", "durable",
		}),
		negative: toSet([]string{
			"bad", "poor", "unreliable", "dangerous", "fire", "swelling",
			"worst", "broken", "failed", "failure", "avoid", "disappointed",
			"hate", "dead", "leaking", "overheats",
		}),
	}
}

// Name returns the tool name.
func (t *SentimentTool) Name() string { return ToolSentiment }

// Definition returns the tool's parameter schema.
func (t *SentimentTool) Definition() Definition {
	return Definition{
		Name:        ToolSentiment,
		Description: "Score text polarity in [-1, 1] with a local lexicon.",
		Parameters: map[string]ParamDef{
			"text": {Type: ParamTypeString, Required: true, Description: "Text to score."},
		},
	}
}

// Execute scores the text: (positive - negative) / matched words.
func (t *SentimentTool) Execute(ctx context.Context, params map[string]any) (*datatypes.ToolResult, error) {
	text, _ := params["text"].(string)
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("sentiment: text is required")
	}

	var pos, neg int
	for _, word := range wordPattern.FindAllString(strings.ToLower(text), -1) {
		if _, ok := t.positive[word]; ok {
			pos++
		}
		if _, ok := t.negative[word]; ok {
			neg++
		}
	}

	score := 0.0
	if pos+neg > 0 {
		score = float64(pos-neg) / float64(pos+neg)
	}
	label := "neutral"
	switch {
	case score > 0.2:
		label = "positive"
	case score < -0.2:
		label = "negative"
	}

	return &datatypes.ToolResult{
		Outcome: datatypes.OutcomeSuccess,
		Data: map[string]any{
			"score":          score,
			"label":          label,
			"positive_hits":  pos,
			"negative_hits":  neg,
		},
	}, nil
}

// Fallback is unreachable in practice: the only failure is a missing
// text parameter, which no fallback can repair.
func (t *SentimentTool) Fallback(ctx context.Context, params map[string]any, cause error) (*datatypes.ToolResult, error) {
	return nil, cause
}
