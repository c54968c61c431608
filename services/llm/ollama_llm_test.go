// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/AleutianAI/askai/services/orchestrator/datatypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestOllamaClient points an OllamaClient at a test server.
func newTestOllamaClient(t *testing.T, handler http.HandlerFunc) (*OllamaClient, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewOllamaClient(OllamaConfig{BaseURL: server.URL + "/", Model: "test-model"})
	require.NoError(t, err)
	return client, server
}

// TestNewOllamaClient_RequiresBaseURL rejects an empty base URL.
func TestNewOllamaClient_RequiresBaseURL(t *testing.T) {
	_, err := NewOllamaClient(OllamaConfig{})
	assert.Error(t, err)
}

// TestOllamaClient_Chat sends tools and JSON mode and parses tool calls.
func TestOllamaClient_Chat(t *testing.T) {
	var captured ollamaChatRequest
	client, _ := newTestOllamaClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &captured))
		_, _ = w.Write([]byte(`{"message":{"role":"assistant","content":"","tool_calls":[{"function":{"name":"CurrentWeather","arguments":{"lat":38.7,"lon":-9.1}}}]},"done":true,"done_reason":"stop"}`))
	})

	result, err := client.Chat(context.Background(),
		[]datatypes.Message{datatypes.UserMessage("weather in Lisbon?")},
		GenerationParams{
			JSONMode: true,
			Tools:    []ToolDefinition{{Name: "CurrentWeather", Description: "weather", Parameters: map[string]any{"type": "object"}}},
		})
	require.NoError(t, err)

	assert.Equal(t, "test-model", captured.Model)
	assert.False(t, captured.Stream)
	assert.Equal(t, "json", captured.Format)
	require.Len(t, captured.Tools, 1)
	assert.Equal(t, "CurrentWeather", captured.Tools[0].Function.Name)

	require.Len(t, result.ToolCalls, 1)
	assert.Equal(t, "call_0", result.ToolCalls[0].Id)
	assert.Equal(t, "CurrentWeather", result.ToolCalls[0].Function.Name)
	assert.JSONEq(t, `{"lat":38.7,"lon":-9.1}`, result.ToolCalls[0].Function.Arguments)
}

// TestOllamaClient_ChatStream forwards tokens in order and returns the same content.
func TestOllamaClient_ChatStream(t *testing.T) {
	client, _ := newTestOllamaClient(t, func(w http.ResponseWriter, r *http.Request) {
		lines := []string{
			`{"message":{"role":"assistant","content":"Hel"},"done":false}`,
			`{"message":{"role":"assistant","content":"lo"},"done":false}`,
			`{"message":{"role":"assistant","content":""},"done":true,"done_reason":"stop"}`,
		}
		_, _ = w.Write([]byte(strings.Join(lines, "\n") + "\n"))
	})

	var tokens []string
	result, err := client.ChatStream(context.Background(),
		[]datatypes.Message{datatypes.UserMessage("hi")}, GenerationParams{},
		func(tok string) error {
			tokens = append(tokens, tok)
			return nil
		})
	require.NoError(t, err)
	assert.Equal(t, []string{"Hel", "lo"}, tokens)
	assert.Equal(t, "Hello", result.Content)
	assert.Equal(t, "stop", result.FinishReason)
}

// TestOllamaClient_ChatStream_CallbackAbort stops when the consumer fails.
func TestOllamaClient_ChatStream_CallbackAbort(t *testing.T) {
	client, _ := newTestOllamaClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"message":{"content":"a"},"done":false}` + "\n" + `{"message":{"content":"b"},"done":true}` + "\n"))
	})

	stop := errors.New("client went away")
	calls := 0
	_, err := client.ChatStream(context.Background(), nil, GenerationParams{}, func(string) error {
		calls++
		return stop
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 1, calls)
}

// TestOllamaClient_ModelNotFound turns 404 into a pull hint.
func TestOllamaClient_ModelNotFound(t *testing.T) {
	client, _ := newTestOllamaClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"model \"test-model\" not found, try pulling it first"}`))
	})

	_, err := client.Chat(context.Background(), nil, GenerationParams{})
	require.Error(t, err)

	var me *ModelError
	require.True(t, errors.As(err, &me))
	assert.Equal(t, http.StatusNotFound, me.StatusCode)
	assert.False(t, me.Unavailable())
	assert.Contains(t, err.Error(), "ollama pull test-model")
}

// TestOllamaClient_ServerError is reported as unavailable.
func TestOllamaClient_ServerError(t *testing.T) {
	client, _ := newTestOllamaClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})

	_, err := client.Chat(context.Background(), nil, GenerationParams{})
	var me *ModelError
	require.True(t, errors.As(err, &me))
	assert.True(t, me.Unavailable())
}

// TestOllamaClient_Embed keeps input order.
func TestOllamaClient_Embed(t *testing.T) {
	client, _ := newTestOllamaClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/embed", r.URL.Path)
		var req ollamaEmbedRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		assert.Equal(t, "nomic-embed-text", req.Model)
		assert.Equal(t, []string{"a", "b"}, req.Input)
		_, _ = w.Write([]byte(`{"embeddings":[[1,0],[0,1]]}`))
	})

	vectors, err := client.Embed(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{1, 0}, {0, 1}}, vectors)

	empty, err := client.Embed(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, empty)
}

// TestOllamaClient_Unsupported covers the media gaps.
func TestOllamaClient_Unsupported(t *testing.T) {
	client, _ := newTestOllamaClient(t, func(w http.ResponseWriter, r *http.Request) {})

	_, err := client.GenerateImage(context.Background(), "a cat")
	assert.ErrorIs(t, err, ErrUnsupported)

	_, err = client.Speak(context.Background(), "hello")
	assert.ErrorIs(t, err, ErrUnsupported)
}

// TestOllamaClient_DescribeImage inlines the image as base64.
func TestOllamaClient_DescribeImage(t *testing.T) {
	client, _ := newTestOllamaClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req ollamaChatRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		require.Len(t, req.Messages, 1)
		assert.Equal(t, []string{"AQID"}, req.Messages[0].Images)
		_, _ = w.Write([]byte(`{"message":{"role":"assistant","content":"three bytes"},"done":true}`))
	})

	desc, err := client.DescribeImage(context.Background(), "what is this?", []byte{1, 2, 3}, "image/png")
	require.NoError(t, err)
	assert.Equal(t, "three bytes", desc)
}

// TestToOllamaMessages replaces invalid tool arguments with an empty object.
func TestToOllamaMessages(t *testing.T) {
	msgs := toOllamaMessages([]datatypes.Message{{
		Role: datatypes.RoleAssistant,
		ToolCalls: []datatypes.ToolCall{
			{Function: datatypes.ToolFunction{Name: "a", Arguments: `{"x":1}`}},
			{Function: datatypes.ToolFunction{Name: "b", Arguments: `not json`}},
		},
	}})
	require.Len(t, msgs[0].ToolCalls, 2)
	assert.JSONEq(t, `{"x":1}`, string(msgs[0].ToolCalls[0].Function.Arguments))
	assert.JSONEq(t, `{}`, string(msgs[0].ToolCalls[1].Function.Arguments))
}
