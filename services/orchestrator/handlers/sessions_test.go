// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/AleutianAI/askai/services/orchestrator/datatypes"
	"github.com/AleutianAI/askai/services/orchestrator/memory"
	"github.com/AleutianAI/askai/services/policy_engine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type MockIngester struct {
	Chunks     int
	Err        error
	CallCount  int
	LastSource string
}

func (m *MockIngester) IngestText(_ context.Context, source, _ string) (int, error) {
	m.CallCount++
	m.LastSource = source
	return m.Chunks, m.Err
}

func TestHandleCreateDocument(t *testing.T) {
	mock := &MockIngester{Chunks: 3}
	router := createTestRouter("POST", "/api/v1/documents", HandleCreateDocument(mock))

	w := performRequest(router, "POST", "/api/v1/documents", IngestDocumentRequest{Content: "Aleutian is local.", Source: "notes.md"})

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.JSONEq(t, `{"status":"success","source":"notes.md","chunks_processed":3}`, w.Body.String())
	assert.Equal(t, "notes.md", mock.LastSource)
}

func TestHandleCreateDocument_Rejects(t *testing.T) {
	mock := &MockIngester{}
	router := createTestRouter("POST", "/api/v1/documents", HandleCreateDocument(mock))

	for _, body := range []IngestDocumentRequest{{Source: "a.md"}, {Content: "x"}, {Content: "  ", Source: "a.md"}} {
		w := performRequest(router, "POST", "/api/v1/documents", body)
		assert.Equal(t, http.StatusBadRequest, w.Code, "%+v", body)
	}
	assert.Equal(t, 0, mock.CallCount)
}

func TestHandleCreateDocument_IngestFailure(t *testing.T) {
	mock := &MockIngester{Err: errors.New("index unavailable")}
	router := createTestRouter("POST", "/api/v1/documents", HandleCreateDocument(mock))

	w := performRequest(router, "POST", "/api/v1/documents", IngestDocumentRequest{Content: "x", Source: "a.md"})

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, ErrorTypeInternal, decodeError(t, w).ErrorType)
}

func TestHandleCreateDocument_PolicyViolation(t *testing.T) {
	mock := &MockIngester{Err: &policy_engine.PolicyViolationError{
		Source:   "creds.env",
		Findings: []policy_engine.ScanFinding{{PatternId: "AWS_ACCESS_KEY_ID"}},
	}}
	router := createTestRouter("POST", "/api/v1/documents", HandleCreateDocument(mock))

	w := performRequest(router, "POST", "/api/v1/documents", IngestDocumentRequest{Content: "x", Source: "creds.env"})

	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	body := decodeError(t, w)
	assert.Equal(t, ErrorTypePolicy, body.ErrorType)
	assert.Contains(t, body.Message, "AWS_ACCESS_KEY_ID")
}

func TestConversationEndpoints(t *testing.T) {
	store := memory.NewMemoryStore(memory.DefaultWindow)
	ctx := context.Background()
	require.NoError(t, store.Append(ctx, "b", datatypes.UserMessage("hi"), datatypes.AssistantMessage("hello")))
	require.NoError(t, store.Append(ctx, "a", datatypes.UserMessage("yo")))

	router := createTestRouter("GET", "/api/v1/conversations", ListConversations(store))
	w := performRequest(router, "GET", "/api/v1/conversations", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"backend":"in_memory","conversations":["a","b"]}`, w.Body.String())

	router = createTestRouter("GET", "/api/v1/conversations/:conversationId/history", GetConversationHistory(store))
	w = performRequest(router, "GET", "/api/v1/conversations/b/history", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		ConversationID string              `json:"conversationId"`
		Messages       []datatypes.Message `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "b", resp.ConversationID)
	require.Len(t, resp.Messages, 2)
	assert.Equal(t, "hello", resp.Messages[1].Content)

	w = performRequest(router, "GET", "/api/v1/conversations/missing/history", nil)
	assert.JSONEq(t, `{"conversationId":"missing","messages":[]}`, w.Body.String())
}
