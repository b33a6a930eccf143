// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package memory provides episodic storage for completed queries.
//
// Episodes are stored in BadgerDB for low-latency local access. Each
// episode records one query's plan summary, outcome, and final answer so
// later queries in the same session can recall what already happened.
//
// Thread Safety:
//
//	Store is safe for concurrent use; BadgerDB transactions provide
//	isolation.
package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("relay.memory")

// ErrNotFound indicates the requested episode does not exist.
var ErrNotFound = errors.New("memory: episode not found")

const (
	episodePrefix    = "episode:"
	reflectionPrefix = "reflection:"
)

// Episode is one completed query's record.
type Episode struct {
	// ID is a generated UUID.
	ID string `json:"id"`

	// SessionID groups episodes by session.
	SessionID string `json:"session_id"`

	// Query is the original user query.
	Query string `json:"query"`

	// Intent is the analyzer's classified intent.
	Intent string `json:"intent"`

	// StepCount is how many plan steps executed.
	StepCount int `json:"step_count"`

	// Escalated records whether a specialist was consulted.
	Escalated bool `json:"escalated"`

	// FinalAnswer is the presented answer.
	FinalAnswer string `json:"final_answer"`

	// CostUSD is the total external spend for the query.
	CostUSD float64 `json:"cost_usd"`

	// CreatedAt is when the episode was saved.
	CreatedAt time.Time `json:"created_at"`
}

// Reflection is a free-form lesson attached to a session.
type Reflection struct {
	// ID is a generated UUID.
	ID string `json:"id"`

	// SessionID groups reflections by session.
	SessionID string `json:"session_id"`

	// Content is the lesson text.
	Content string `json:"content"`

	// CreatedAt is when the reflection was saved.
	CreatedAt time.Time `json:"created_at"`
}

// Config holds configuration for the episodic store.
type Config struct {
	// Path is the directory for BadgerDB files. Ignored when InMemory
	// is true.
	Path string

	// InMemory enables in-memory mode. Useful for testing.
	InMemory bool

	// SyncWrites enables synchronous writes for durability.
	SyncWrites bool

	// Logger receives store and BadgerDB log output. If nil, uses
	// slog.Default() and silences BadgerDB internals.
	Logger *slog.Logger
}

// DefaultConfig returns the production configuration for the given
// data directory.
func DefaultConfig(path string) Config {
	return Config{Path: path, SyncWrites: true}
}

// InMemoryConfig returns a configuration for tests: no disk, no sync.
func InMemoryConfig() Config {
	return Config{InMemory: true}
}

// badgerLogger adapts slog.Logger to BadgerDB's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// Store is the BadgerDB-backed episodic memory.
type Store struct {
	db     *badger.DB
	logger *slog.Logger
}

// Open creates the episodic store.
//
// Inputs:
//
//	cfg - Store configuration. Path is required unless InMemory is true.
//
// Outputs:
//
//	*Store - The opened store. Caller must Close() it.
//	error - Non-nil if the database cannot be opened.
func Open(cfg Config) (*Store, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("memory: path is required for persistent store")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("memory: opening badger: %w", err)
	}

	return &Store{db: db, logger: logger}, nil
}

// Close releases the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveEpisode persists one episode. A missing ID or timestamp is filled
// in.
func (s *Store) SaveEpisode(ctx context.Context, ep *Episode) error {
	_, span := tracer.Start(ctx, "memory.SaveEpisode")
	defer span.End()

	if ep == nil {
		return errors.New("memory: nil episode")
	}
	if ep.ID == "" {
		ep.ID = uuid.NewString()
	}
	if ep.CreatedAt.IsZero() {
		ep.CreatedAt = time.Now().UTC()
	}

	data, err := json.Marshal(ep)
	if err != nil {
		return fmt.Errorf("memory: encoding episode: %w", err)
	}

	key := episodeKey(ep.SessionID, ep.ID)
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, data)
	})
	if err != nil {
		return fmt.Errorf("memory: writing episode: %w", err)
	}

	s.logger.Debug("episode saved", "session_id", ep.SessionID, "episode_id", ep.ID)
	return nil
}

// Episode fetches one episode by session and id.
func (s *Store) Episode(ctx context.Context, sessionID, id string) (*Episode, error) {
	_, span := tracer.Start(ctx, "memory.Episode")
	defer span.End()

	var ep Episode
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(episodeKey(sessionID, id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &ep)
		})
	})
	if err != nil {
		return nil, err
	}
	return &ep, nil
}

// RecentEpisodes returns up to limit episodes for the session, newest
// first. An empty query returns all; otherwise only episodes whose
// query or answer contains the substring (case-insensitive) match.
func (s *Store) RecentEpisodes(ctx context.Context, sessionID, query string, limit int) ([]*Episode, error) {
	_, span := tracer.Start(ctx, "memory.RecentEpisodes")
	defer span.End()

	if limit <= 0 {
		limit = 10
	}
	needle := strings.ToLower(query)

	var episodes []*Episode
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(episodePrefix + sessionID + ":")
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var ep Episode
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &ep)
			})
			if err != nil {
				return err
			}
			if needle != "" &&
				!strings.Contains(strings.ToLower(ep.Query), needle) &&
				!strings.Contains(strings.ToLower(ep.FinalAnswer), needle) {
				continue
			}
			episodes = append(episodes, &ep)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("memory: scanning episodes: %w", err)
	}

	sort.Slice(episodes, func(i, j int) bool {
		return episodes[i].CreatedAt.After(episodes[j].CreatedAt)
	})
	if len(episodes) > limit {
		episodes = episodes[:limit]
	}
	return episodes, nil
}

// SaveReflection persists one session reflection.
func (s *Store) SaveReflection(ctx context.Context, r *Reflection) error {
	_, span := tracer.Start(ctx, "memory.SaveReflection")
	defer span.End()

	if r == nil {
		return errors.New("memory: nil reflection")
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}

	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("memory: encoding reflection: %w", err)
	}

	key := []byte(reflectionPrefix + r.SessionID + ":" + r.ID)
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, data)
	})
	if err != nil {
		return fmt.Errorf("memory: writing reflection: %w", err)
	}
	return nil
}

// Reflections returns all reflections for a session, oldest first.
func (s *Store) Reflections(ctx context.Context, sessionID string) ([]*Reflection, error) {
	_, span := tracer.Start(ctx, "memory.Reflections")
	defer span.End()

	var reflections []*Reflection
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(reflectionPrefix + sessionID + ":")
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var r Reflection
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &r)
			})
			if err != nil {
				return err
			}
			reflections = append(reflections, &r)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("memory: scanning reflections: %w", err)
	}

	sort.Slice(reflections, func(i, j int) bool {
		return reflections[i].CreatedAt.Before(reflections[j].CreatedAt)
	})
	return reflections, nil
}

func episodeKey(sessionID, id string) []byte {
	return []byte(episodePrefix + sessionID + ":" + id)
}
