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
	"sort"
	"sync"

	"github.com/AleutianAI/askai/services/orchestrator/datatypes"
)

type conversation struct {
	mu   sync.Mutex
	msgs []datatypes.Message
}

// MemoryStore is the process-local Store. The outer lock only guards the
// map; each conversation has its own mutex.
type MemoryStore struct {
	mu            sync.RWMutex
	conversations map[string]*conversation
	window        int
}

func NewMemoryStore(window int) *MemoryStore {
	if window <= 0 {
		window = DefaultWindow
	}
	return &MemoryStore{conversations: make(map[string]*conversation), window: window}
}

func (s *MemoryStore) conversation(id string, create bool) *conversation {
	s.mu.RLock()
	c, ok := s.conversations[id]
	s.mu.RUnlock()
	if ok || !create {
		return c
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok = s.conversations[id]; !ok {
		c = &conversation{}
		s.conversations[id] = c
	}
	return c
}

func (s *MemoryStore) Append(ctx context.Context, conversationID string, msgs ...datatypes.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(msgs) == 0 {
		return nil
	}
	c := s.conversation(conversationID, true)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, msgs...)
	if over := len(c.msgs) - s.window; over > 0 {
		c.msgs = append([]datatypes.Message(nil), c.msgs[over:]...)
	}
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, conversationID string) ([]datatypes.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c := s.conversation(conversationID, false)
	if c == nil {
		return []datatypes.Message{}, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]datatypes.Message{}, c.msgs...), nil
}

func (s *MemoryStore) ConversationIDs(_ context.Context) ([]string, error) {
	s.mu.RLock()
	ids := make([]string, 0, len(s.conversations))
	for id := range s.conversations {
		ids = append(ids, id)
	}
	s.mu.RUnlock()
	sort.Strings(ids)
	return ids, nil
}

func (s *MemoryStore) Kind() Kind { return InMemory }

func (s *MemoryStore) Close() error { return nil }

var _ Store = (*MemoryStore)(nil)
