// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package memory keeps a bounded window of recent messages per conversation.
//
// Two backends implement Store: a durable SQLite store and a process-local
// map. Open picks the durable one when it answers a probe and otherwise
// falls back to memory for the life of the process.
package memory

import (
	"context"
	"log/slog"

	"github.com/AleutianAI/askai/services/orchestrator/datatypes"
)

// DefaultWindow is the number of messages Get returns per conversation.
const DefaultWindow = 10

// Kind tells which backend a Store is.
type Kind int

const (
	Durable Kind = iota
	InMemory
)

func (k Kind) String() string {
	switch k {
	case Durable:
		return "durable"
	case InMemory:
		return "in_memory"
	default:
		return "unknown"
	}
}

// Store holds conversation messages.
//
// Append writes all msgs atomically and in order. Get returns at most the
// last window messages, oldest first. Appends for the same conversation are
// applied in arrival order; different conversations never block each other
// on a shared per-conversation lock.
type Store interface {
	Append(ctx context.Context, conversationID string, msgs ...datatypes.Message) error
	Get(ctx context.Context, conversationID string) ([]datatypes.Message, error)
	ConversationIDs(ctx context.Context) ([]string, error)
	Kind() Kind
	Close() error
}

// Config selects and sizes the backend. An empty SQLitePath means memory
// only.
type Config struct {
	SQLitePath string
	Window     int
}

// Open builds the durable store and probes it once. If it cannot be opened
// or the probe fails, Open logs a warning and returns an in-memory store;
// the choice is never revisited.
func Open(ctx context.Context, cfg Config) Store {
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	if cfg.SQLitePath == "" {
		slog.Info("Using in-memory conversation memory", "reason", "no sqlite path configured", "window", cfg.Window)
		return NewMemoryStore(cfg.Window)
	}

	store, err := NewSQLiteStore(ctx, cfg.SQLitePath, cfg.Window)
	if err != nil {
		slog.Warn("Using in-memory conversation memory because the database is unavailable", "path", cfg.SQLitePath, "error", err)
		return NewMemoryStore(cfg.Window)
	}
	if _, err := store.ConversationIDs(ctx); err != nil {
		_ = store.Close()
		slog.Warn("Using in-memory conversation memory because the database probe failed", "path", cfg.SQLitePath, "error", err)
		return NewMemoryStore(cfg.Window)
	}

	slog.Info("Using durable conversation memory", "path", cfg.SQLitePath, "window", cfg.Window)
	return store
}
