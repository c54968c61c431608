// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package llm hides chat-completion, embedding and media providers behind
// small interfaces so the orchestrator can be tested with fakes.
package llm

import (
	"context"
	"errors"

	"github.com/AleutianAI/askai/services/orchestrator/datatypes"
)

// ErrUnsupported is returned by backends that lack a capability, for
// example speech synthesis on Ollama.
var ErrUnsupported = errors.New("operation not supported by this model backend")

// GenerationParams tunes a single model call. Nil pointers leave the
// provider default in place.
type GenerationParams struct {
	Temperature *float32 `json:"temperature"`
	TopP        *float32 `json:"top_p"`
	MaxTokens   *int     `json:"max_tokens"`
	Stop        []string `json:"stop"`

	// Tools offered to the model for this call.
	Tools []ToolDefinition `json:"tools,omitempty"`

	// JSONMode asks the provider to constrain output to a JSON object.
	JSONMode bool `json:"json_mode"`
}

// ToolDefinition is the provider-neutral description of a callable tool.
// Parameters is a JSON schema object.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// ChatResult is the assistant turn produced by one model call.
type ChatResult struct {
	Content      string
	ToolCalls    []datatypes.ToolCall
	FinishReason string
}

// Message converts the result into an assistant message for the history.
func (r *ChatResult) Message() datatypes.Message {
	return datatypes.Message{
		Role:      datatypes.RoleAssistant,
		Content:   r.Content,
		ToolCalls: r.ToolCalls,
	}
}

// TokenCallback receives streamed content in generation order. Returning
// an error aborts the stream.
type TokenCallback func(token string) error

// LLMClient is a chat-completion backend.
type LLMClient interface {
	// Chat runs one blocking completion.
	Chat(ctx context.Context, messages []datatypes.Message, params GenerationParams) (*ChatResult, error)

	// ChatStream runs one completion, delivering content tokens to onToken
	// as they arrive. The returned result holds the same content and tool
	// calls a blocking Chat would have produced.
	ChatStream(ctx context.Context, messages []datatypes.Message, params GenerationParams, onToken TokenCallback) (*ChatResult, error)
}

// Embedder turns text into vectors for similarity search.
type Embedder interface {
	// Embed returns one vector per input, in input order.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// MediaClient covers the non-text endpoints.
type MediaClient interface {
	DescribeImage(ctx context.Context, prompt string, image []byte, mimeType string) (string, error)
	GenerateImage(ctx context.Context, prompt string) ([]byte, error)
	Speak(ctx context.Context, text string) ([]byte, error)
}
