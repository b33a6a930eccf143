// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package memory

import (
	"context"
	"errors"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(InMemoryConfig())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSaveAndFetchEpisode(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	ep := &Episode{
		SessionID:   "sess-1",
		Query:       "what is a 13S4P pack worth in Wh?",
		Intent:      "calculation",
		StepCount:   3,
		FinalAnswer: "636.48 Wh",
		CostUSD:     0.02,
	}
	if err := s.SaveEpisode(ctx, ep); err != nil {
		t.Fatalf("SaveEpisode: %v", err)
	}
	if ep.ID == "" {
		t.Error("SaveEpisode should assign an ID")
	}
	if ep.CreatedAt.IsZero() {
		t.Error("SaveEpisode should assign CreatedAt")
	}

	got, err := s.Episode(ctx, "sess-1", ep.ID)
	if err != nil {
		t.Fatalf("Episode: %v", err)
	}
	if got.Query != ep.Query || got.FinalAnswer != ep.FinalAnswer {
		t.Errorf("round trip mismatch: %+v", got)
	}
}

func TestEpisodeNotFound(t *testing.T) {
	s := openTestStore(t)

	_, err := s.Episode(context.Background(), "sess-1", "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("want ErrNotFound, got %v", err)
	}
}

func TestRecentEpisodesOrderingAndFilter(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	base := time.Now().UTC()
	queries := []string{"cell capacity of 50E", "range of my ebike", "pack energy 13S4P"}
	for i, q := range queries {
		ep := &Episode{
			SessionID: "sess-2",
			Query:     q,
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}
		if err := s.SaveEpisode(ctx, ep); err != nil {
			t.Fatalf("SaveEpisode %d: %v", i, err)
		}
	}

	all, err := s.RecentEpisodes(ctx, "sess-2", "", 10)
	if err != nil {
		t.Fatalf("RecentEpisodes: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("got %d episodes, want 3", len(all))
	}
	if all[0].Query != "pack energy 13S4P" {
		t.Errorf("newest first, got %q", all[0].Query)
	}

	limited, err := s.RecentEpisodes(ctx, "sess-2", "", 2)
	if err != nil {
		t.Fatalf("RecentEpisodes limited: %v", err)
	}
	if len(limited) != 2 {
		t.Errorf("limit ignored, got %d", len(limited))
	}

	filtered, err := s.RecentEpisodes(ctx, "sess-2", "EBIKE", 10)
	if err != nil {
		t.Fatalf("RecentEpisodes filtered: %v", err)
	}
	if len(filtered) != 1 || filtered[0].Query != "range of my ebike" {
		t.Errorf("case-insensitive filter failed: %+v", filtered)
	}
}

func TestRecentEpisodesSessionIsolation(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	s.SaveEpisode(ctx, &Episode{SessionID: "a", Query: "one"})
	s.SaveEpisode(ctx, &Episode{SessionID: "b", Query: "two"})

	got, err := s.RecentEpisodes(ctx, "a", "", 10)
	if err != nil {
		t.Fatalf("RecentEpisodes: %v", err)
	}
	if len(got) != 1 || got[0].Query != "one" {
		t.Errorf("session isolation broken: %+v", got)
	}
}

func TestReflections(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	base := time.Now().UTC()
	for i, content := range []string{"first lesson", "second lesson"} {
		r := &Reflection{
			SessionID: "sess-3",
			Content:   content,
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}
		if err := s.SaveReflection(ctx, r); err != nil {
			t.Fatalf("SaveReflection: %v", err)
		}
	}

	got, err := s.Reflections(ctx, "sess-3")
	if err != nil {
		t.Fatalf("Reflections: %v", err)
	}
	if len(got) != 2 || got[0].Content != "first lesson" {
		t.Errorf("reflections should be oldest first: %+v", got)
	}
}

func TestOpenRequiresPath(t *testing.T) {
	if _, err := Open(Config{}); err == nil {
		t.Error("persistent store without a path should fail")
	}
}
