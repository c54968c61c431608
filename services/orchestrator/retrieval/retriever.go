// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package retrieval finds the passages most similar to a question.
//
// A Retriever embeds the query with an llm.Embedder and searches a
// VectorIndex. Two indexes are provided: WeaviateIndex for a running
// Weaviate instance and MemoryIndex for tests and single-node setups.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/AleutianAI/askai/services/llm"
	"github.com/AleutianAI/askai/services/orchestrator/datatypes"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("askai.retrieval")

// VectorIndex stores embedded passages and returns the nearest ones.
//
// Search returns hits ordered by descending Score. Hits with equal scores
// keep the order in which they were first added. DeleteSource removes every
// passage of one source and reports how many were removed.
type VectorIndex interface {
	Search(ctx context.Context, vector []float32, limit int) ([]datatypes.Document, error)
	Add(ctx context.Context, docs []datatypes.Document, vectors [][]float32) (int, error)
	DeleteSource(ctx context.Context, source string) (int, error)
	Count(ctx context.Context) (int, error)
}

// RetrievalError wraps a failure to embed the query or search the index.
type RetrievalError struct {
	Stage string
	Err   error
}

func (e *RetrievalError) Error() string {
	return fmt.Sprintf("retrieval failed during %s: %v", e.Stage, e.Err)
}

func (e *RetrievalError) Unwrap() error { return e.Err }

// IsRetrievalError reports whether err is or wraps a RetrievalError.
func IsRetrievalError(err error) bool {
	var re *RetrievalError
	return errors.As(err, &re)
}

// Retriever answers similarity queries against a VectorIndex.
type Retriever struct {
	embedder llm.Embedder
	index    VectorIndex
}

// NewRetriever wires an embedder to an index.
func NewRetriever(embedder llm.Embedder, index VectorIndex) *Retriever {
	return &Retriever{embedder: embedder, index: index}
}

// Index returns the underlying VectorIndex.
func (r *Retriever) Index() VectorIndex { return r.index }

// Retrieve returns at most topK passages whose similarity to query is at
// least minSimilarity.
//
// # Description
//
// The query is embedded once and searched with limit topK. Hits below the
// threshold are dropped. An empty index or a query with no hit above the
// threshold yields an empty, non-nil slice and no error.
//
// # Inputs
//
//   - ctx: Context for cancellation.
//   - query: The user text to embed.
//   - topK: Maximum passages to return. Values < 1 return nothing.
//   - minSimilarity: Inclusive lower bound on Score.
//
// # Outputs
//
//   - []datatypes.Document: Passages sorted by descending Score.
//   - error: *RetrievalError when embedding or search fails.
func (r *Retriever) Retrieve(ctx context.Context, query string, topK int, minSimilarity float64) ([]datatypes.Document, error) {
	ctx, span := tracer.Start(ctx, "Retriever.Retrieve")
	defer span.End()
	span.SetAttributes(attribute.Int("retrieval.top_k", topK), attribute.Float64("retrieval.min_similarity", minSimilarity))

	docs := []datatypes.Document{}
	if topK < 1 {
		return docs, nil
	}

	vectors, err := r.embedder.Embed(ctx, []string{query})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "embed failed")
		return nil, &RetrievalError{Stage: "embed", Err: err}
	}
	if len(vectors) != 1 {
		err = fmt.Errorf("expected 1 query vector, got %d", len(vectors))
		span.RecordError(err)
		span.SetStatus(codes.Error, "embed failed")
		return nil, &RetrievalError{Stage: "embed", Err: err}
	}

	hits, err := r.index.Search(ctx, vectors[0], topK)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "search failed")
		return nil, &RetrievalError{Stage: "search", Err: err}
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	for _, h := range hits {
		if h.Score < minSimilarity {
			continue
		}
		docs = append(docs, h)
		if len(docs) == topK {
			break
		}
	}

	span.SetAttributes(attribute.Int("retrieval.hits", len(hits)), attribute.Int("retrieval.passages", len(docs)))
	slog.Debug("Retrieved passages", "hits", len(hits), "kept", len(docs), "min_similarity", minSimilarity)
	return docs, nil
}
