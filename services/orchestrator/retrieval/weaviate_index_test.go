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
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
)

// newTestWeaviateIndex answers the client's /v1/meta version lookup itself;
// every other request goes to handler.
func newTestWeaviateIndex(t *testing.T, handler http.HandlerFunc) *WeaviateIndex {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v1/meta" {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"version":"1.25.0"}`))
			return
		}
		handler(w, r)
	}))
	t.Cleanup(server.Close)

	client, err := weaviate.NewClient(weaviate.Config{
		Host:   strings.TrimPrefix(server.URL, "http://"),
		Scheme: "http",
	})
	require.NoError(t, err)
	return &WeaviateIndex{client: client, className: "Document"}
}

func TestWeaviateIndex_SearchParsesCertainty(t *testing.T) {
	var query string
	idx := newTestWeaviateIndex(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/graphql" {
			http.NotFound(w, r)
			return
		}
		body, _ := io.ReadAll(r.Body)
		var payload struct {
			Query string `json:"query"`
		}
		_ = json.Unmarshal(body, &payload)
		query = payload.Query

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":{"Get":{"Document":[
			{"content":"Paris is the capital of France.","source_file":"docs/fr.md","ingestion_timestamp":1740830400000,
			 "_additional":{"id":"11111111-1111-1111-1111-111111111111","certainty":0.91}},
			{"content":"Lyon is in France.","source_file":"docs/fr.md","ingestion_timestamp":1740830400000,
			 "_additional":{"id":"22222222-2222-2222-2222-222222222222","certainty":0.55}}
		]}}}`))
	})

	docs, err := idx.Search(context.Background(), []float32{0.1, 0.2}, 4)
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "Paris is the capital of France.", docs[0].Content)
	assert.Equal(t, "docs/fr.md", docs[0].Source)
	assert.InDelta(t, 0.91, docs[0].Score, 1e-9)
	assert.Equal(t, "11111111-1111-1111-1111-111111111111", docs[0].ID)
	assert.Equal(t, int64(1740830400000), docs[0].IngestedAt.UnixMilli())

	assert.Contains(t, query, "nearVector")
	assert.Contains(t, query, "certainty")
}

func TestWeaviateIndex_SearchGraphQLError(t *testing.T) {
	idx := newTestWeaviateIndex(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"errors":[{"message":"class Document not found"}]}`))
	})

	_, err := idx.Search(context.Background(), []float32{1}, 4)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "class Document not found")
}

func TestWeaviateIndex_Count(t *testing.T) {
	idx := newTestWeaviateIndex(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":{"Aggregate":{"Document":[{"meta":{"count":7}}]}}}`))
	})

	n, err := idx.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 7, n)
}

func TestWeaviateIndex_AddRejectsMismatch(t *testing.T) {
	idx := newTestWeaviateIndex(t, func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("unexpected request to %s", r.URL.Path)
	})

	_, err := idx.Add(context.Background(), nil, [][]float32{{1}})
	assert.Error(t, err)
}

func TestWeaviateIndex_DeleteSource(t *testing.T) {
	var method, body string
	idx := newTestWeaviateIndex(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/batch/objects" {
			http.NotFound(w, r)
			return
		}
		method = r.Method
		raw, _ := io.ReadAll(r.Body)
		body = string(raw)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"output":"minimal","results":{"matched":3,"successful":3,"failed":0,"limit":10000}}`))
	})

	n, err := idx.DeleteSource(context.Background(), "docs/fr.md")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, http.MethodDelete, method)
	assert.Contains(t, body, `"source_file"`)
	assert.Contains(t, body, `"docs/fr.md"`)
	assert.Contains(t, body, `"Document"`)
}
