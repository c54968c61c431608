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
	"log/slog"
	"time"

	"github.com/AleutianAI/askai/services/orchestrator/datatypes"
	"github.com/go-openapi/strfmt"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"
)

// WeaviateIndex is a VectorIndex backed by a Weaviate class with
// client-supplied vectors. Certainty is reported as the similarity Score.
type WeaviateIndex struct {
	client    *weaviate.Client
	className string
}

// NewWeaviateIndex returns an index over className, creating the class
// if it is missing.
func NewWeaviateIndex(ctx context.Context, client *weaviate.Client, className string) (*WeaviateIndex, error) {
	if className == "" {
		className = datatypes.DefaultDocumentClass
	}
	if err := datatypes.EnsureWeaviateSchema(ctx, client, className); err != nil {
		return nil, err
	}
	return &WeaviateIndex{client: client, className: className}, nil
}

func (w *WeaviateIndex) Search(ctx context.Context, vector []float32, limit int) ([]datatypes.Document, error) {
	if limit < 1 {
		return []datatypes.Document{}, nil
	}

	nearVector := w.client.GraphQL().NearVectorArgBuilder().
		WithVector(vector)

	// certainty is always in [0,1], distance depends on the metric
	fields := []graphql.Field{
		{Name: "content"},
		{Name: "source_file"},
		{Name: "ingestion_timestamp"},
		{Name: "_additional", Fields: []graphql.Field{
			{Name: "id"},
			{Name: "certainty"},
		}},
	}

	result, err := w.client.GraphQL().Get().
		WithClassName(w.className).
		WithFields(fields...).
		WithNearVector(nearVector).
		WithLimit(limit).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("weaviate search failed: %w", err)
	}

	parsed, err := datatypes.ParseGraphQLResponse[datatypes.DocumentQueryResponse](result)
	if err != nil {
		return nil, fmt.Errorf("failed to parse search results: %w", err)
	}

	rows := parsed.Get[w.className]
	docs := make([]datatypes.Document, 0, len(rows))
	for _, r := range rows {
		doc := datatypes.Document{
			ID:         r.Additional.ID,
			Content:    r.Content,
			Source:     r.SourceFile,
			IngestedAt: time.UnixMilli(int64(r.IngestedAt)).UTC(),
		}
		if r.Additional.Certainty != nil {
			doc.Score = *r.Additional.Certainty
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// Add imports docs in one batch. The returned count only includes objects
// Weaviate reported as stored; per-object failures are logged.
func (w *WeaviateIndex) Add(ctx context.Context, docs []datatypes.Document, vectors [][]float32) (int, error) {
	if len(docs) != len(vectors) {
		return 0, fmt.Errorf("weaviate index: %d documents but %d vectors", len(docs), len(vectors))
	}
	if len(docs) == 0 {
		return 0, nil
	}

	objects := make([]*models.Object, len(docs))
	for i, doc := range docs {
		props := datatypes.DocumentProperties{
			Content:    doc.Content,
			SourceFile: doc.Source,
			IngestedAt: doc.IngestedAt.UnixMilli(),
		}
		objects[i] = &models.Object{
			Class:      w.className,
			ID:         strfmt.UUID(doc.ID),
			Vector:     vectors[i],
			Properties: props.ToMap(),
		}
	}

	resp, err := w.client.Batch().ObjectsBatcher().WithObjects(objects...).Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to save objects to Weaviate: %w", err)
	}

	stored := 0
	for _, item := range resp {
		if item.Result != nil && item.Result.Errors != nil && len(item.Result.Errors.Error) > 0 {
			for _, e := range item.Result.Errors.Error {
				slog.Warn("Error in Weaviate batch item", "id", item.ID, "error", e.Message)
			}
			continue
		}
		stored++
	}
	return stored, nil
}

// DeleteSource batch-deletes every chunk whose source_file equals source.
func (w *WeaviateIndex) DeleteSource(ctx context.Context, source string) (int, error) {
	where := filters.Where().
		WithPath([]string{"source_file"}).
		WithOperator(filters.Equal).
		WithValueText(source)

	resp, err := w.client.Batch().ObjectsBatchDeleter().
		WithClassName(w.className).
		WithOutput("minimal").
		WithWhere(where).
		Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to delete chunks of %s from Weaviate: %w", source, err)
	}
	if resp == nil || resp.Results == nil {
		return 0, nil
	}
	if resp.Results.Failed > 0 {
		slog.Warn("Some stale chunks were not deleted", "source", source, "failed", resp.Results.Failed)
	}
	return int(resp.Results.Successful), nil
}

func (w *WeaviateIndex) Count(ctx context.Context) (int, error) {
	result, err := w.client.GraphQL().Aggregate().
		WithClassName(w.className).
		WithFields(graphql.Field{
			Name:   "meta",
			Fields: []graphql.Field{{Name: "count"}},
		}).
		Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("aggregate query failed: %w", err)
	}

	parsed, err := datatypes.ParseGraphQLResponse[datatypes.AggregateCountResponse](result)
	if err != nil {
		return 0, err
	}
	rows := parsed.Aggregate[w.className]
	if len(rows) == 0 {
		return 0, nil
	}
	return rows[0].Meta.Count, nil
}

var _ VectorIndex = (*WeaviateIndex)(nil)
