// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package retrieval

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/AleutianAI/askai/services/orchestrator/datatypes"
)

type memoryEntry struct {
	seq    uint64
	doc    datatypes.Document
	vector []float32
	norm   float64
}

// MemoryIndex is an in-process VectorIndex scored by cosine similarity.
// Adding a document whose ID already exists replaces it in place and keeps
// its original insertion position.
type MemoryIndex struct {
	mu      sync.RWMutex
	entries []memoryEntry
	byID    map[string]int
	nextSeq uint64
}

// NewMemoryIndex returns an empty index.
func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{byID: make(map[string]int)}
}

func (m *MemoryIndex) Add(_ context.Context, docs []datatypes.Document, vectors [][]float32) (int, error) {
	if len(docs) != len(vectors) {
		return 0, fmt.Errorf("memory index: %d documents but %d vectors", len(docs), len(vectors))
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for i, doc := range docs {
		vec := append([]float32(nil), vectors[i]...)
		entry := memoryEntry{doc: doc, vector: vec, norm: norm(vec)}
		if pos, ok := m.byID[doc.ID]; ok && doc.ID != "" {
			entry.seq = m.entries[pos].seq
			m.entries[pos] = entry
			continue
		}
		entry.seq = m.nextSeq
		m.nextSeq++
		if doc.ID != "" {
			m.byID[doc.ID] = len(m.entries)
		}
		m.entries = append(m.entries, entry)
	}
	return len(docs), nil
}

func (m *MemoryIndex) Search(_ context.Context, vector []float32, limit int) ([]datatypes.Document, error) {
	if limit < 1 {
		return []datatypes.Document{}, nil
	}
	qn := norm(vector)

	m.mu.RLock()
	hits := make([]datatypes.Document, 0, len(m.entries))
	for _, e := range m.entries {
		if len(e.vector) != len(vector) {
			m.mu.RUnlock()
			return nil, fmt.Errorf("memory index: query has dimension %d, index has %d", len(vector), len(e.vector))
		}
		doc := e.doc
		doc.Score = cosine(vector, qn, e.vector, e.norm)
		hits = append(hits, doc)
	}
	m.mu.RUnlock()

	// entries are kept in seq order, so a stable sort preserves insertion order on ties
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

func (m *MemoryIndex) DeleteSource(_ context.Context, source string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.entries[:0]
	removed := 0
	for _, e := range m.entries {
		if e.doc.Source == source {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	if removed == 0 {
		return 0, nil
	}
	for i := len(kept); i < len(m.entries); i++ {
		m.entries[i] = memoryEntry{}
	}
	m.entries = kept
	m.byID = make(map[string]int, len(kept))
	for i, e := range kept {
		if e.doc.ID != "" {
			m.byID[e.doc.ID] = i
		}
	}
	return removed, nil
}

func (m *MemoryIndex) Count(_ context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries), nil
}

func norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

func cosine(a []float32, an float64, b []float32, bn float64) float64 {
	if an == 0 || bn == 0 {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot / (an * bn)
}

var _ VectorIndex = (*MemoryIndex)(nil)
