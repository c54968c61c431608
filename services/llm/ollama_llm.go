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
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/AleutianAI/askai/services/orchestrator/datatypes"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const providerOllama = "ollama"

var ollamaTracer = otel.Tracer("askai.llm.ollama")

// OllamaConfig points the client at a local Ollama server.
type OllamaConfig struct {
	BaseURL        string
	Model          string
	EmbeddingModel string
	Timeout        time.Duration
}

// OllamaClient implements LLMClient and Embedder over the Ollama REST API.
// Of MediaClient it supports only DescribeImage.
type OllamaClient struct {
	httpClient *http.Client
	cfg        OllamaConfig
}

type ollamaMessage struct {
	Role      string           `json:"role"`
	Content   string           `json:"content"`
	Images    []string         `json:"images,omitempty"`
	ToolCalls []ollamaToolCall `json:"tool_calls,omitempty"`
}

type ollamaToolCall struct {
	Function struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	} `json:"function"`
}

type ollamaTool struct {
	Type     string         `json:"type"`
	Function ToolDefinition `json:"function"`
}

type ollamaChatRequest struct {
	Model    string                 `json:"model"`
	Messages []ollamaMessage        `json:"messages"`
	Stream   bool                   `json:"stream"`
	Format   string                 `json:"format,omitempty"`
	Tools    []ollamaTool           `json:"tools,omitempty"`
	Options  map[string]interface{} `json:"options,omitempty"`
}

type ollamaChatResponse struct {
	Message    ollamaMessage `json:"message"`
	Done       bool          `json:"done"`
	DoneReason string        `json:"done_reason"`
	Error      string        `json:"error"`
}

type ollamaEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type ollamaEmbedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// NewOllamaClient builds a client. BaseURL is required; the model
// defaults to llama3.1 and the embedding model to nomic-embed-text.
func NewOllamaClient(cfg OllamaConfig) (*OllamaClient, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("ollama base URL not set")
	}
	cfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	if cfg.Model == "" {
		slog.Warn("Ollama model not set, defaulting to llama3.1")
		cfg.Model = "llama3.1"
	}
	if cfg.EmbeddingModel == "" {
		cfg.EmbeddingModel = "nomic-embed-text"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Minute
	}
	slog.Info("Initializing Ollama client", "base_url", cfg.BaseURL, "model", cfg.Model)
	return &OllamaClient{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		cfg:        cfg,
	}, nil
}

// Chat implements LLMClient.
func (o *OllamaClient) Chat(ctx context.Context, messages []datatypes.Message, params GenerationParams) (*ChatResult, error) {
	ctx, span := ollamaTracer.Start(ctx, "OllamaClient.Chat")
	defer span.End()
	span.SetAttributes(
		attribute.String("llm.model", o.cfg.Model),
		attribute.Int("llm.num_messages", len(messages)),
	)

	resp, err := o.post(ctx, "/api/chat", o.buildRequest(messages, params, false))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, o.wrap("chat", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, o.wrap("chat", fmt.Errorf("read response: %w", err))
	}
	if resp.StatusCode != http.StatusOK {
		slog.Error("Ollama chat returned an error", "status_code", resp.StatusCode, "response", string(body))
		span.SetStatus(codes.Error, "non-200 response")
		return nil, o.statusError("chat", resp.StatusCode, body)
	}

	var out ollamaChatResponse
	if err := json.Unmarshal(body, &out); err != nil {
		slog.Error("Failed to parse JSON chat response from Ollama", "error", err)
		return nil, o.wrap("chat", fmt.Errorf("parse response: %w", err))
	}
	return &ChatResult{
		Content:      out.Message.Content,
		ToolCalls:    fromOllamaToolCalls(out.Message.ToolCalls, 0),
		FinishReason: out.DoneReason,
	}, nil
}

// ChatStream implements LLMClient by reading the NDJSON stream.
func (o *OllamaClient) ChatStream(ctx context.Context, messages []datatypes.Message, params GenerationParams, onToken TokenCallback) (*ChatResult, error) {
	ctx, span := ollamaTracer.Start(ctx, "OllamaClient.ChatStream")
	defer span.End()
	span.SetAttributes(attribute.String("llm.model", o.cfg.Model))

	resp, err := o.post(ctx, "/api/chat", o.buildRequest(messages, params, true))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, o.wrap("chat stream", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, o.statusError("chat stream", resp.StatusCode, body)
	}

	result := &ChatResult{}
	var content strings.Builder

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var chunk ollamaChatResponse
		if err := json.Unmarshal(line, &chunk); err != nil {
			return nil, o.wrap("chat stream", fmt.Errorf("parse chunk: %w", err))
		}
		if chunk.Error != "" {
			return nil, o.wrap("chat stream", errors.New(chunk.Error))
		}
		if tok := chunk.Message.Content; tok != "" {
			content.WriteString(tok)
			if onToken != nil {
				if err := onToken(tok); err != nil {
					return nil, err
				}
			}
		}
		result.ToolCalls = append(result.ToolCalls, fromOllamaToolCalls(chunk.Message.ToolCalls, len(result.ToolCalls))...)
		if chunk.Done {
			result.FinishReason = chunk.DoneReason
			break
		}
	}
	if err := scanner.Err(); err != nil {
		span.RecordError(err)
		return nil, o.wrap("chat stream", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, o.wrap("chat stream", err)
	}

	result.Content = content.String()
	return result, nil
}

// Embed implements Embedder using /api/embed.
func (o *OllamaClient) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	ctx, span := ollamaTracer.Start(ctx, "OllamaClient.Embed")
	defer span.End()

	resp, err := o.post(ctx, "/api/embed", ollamaEmbedRequest{Model: o.cfg.EmbeddingModel, Input: texts})
	if err != nil {
		span.RecordError(err)
		return nil, o.wrap("embed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, o.wrap("embed", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, o.statusError("embed", resp.StatusCode, body)
	}

	var out ollamaEmbedResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, o.wrap("embed", fmt.Errorf("parse response: %w", err))
	}
	if len(out.Embeddings) != len(texts) {
		return nil, o.wrap("embed", fmt.Errorf("got %d embeddings for %d inputs", len(out.Embeddings), len(texts)))
	}
	return out.Embeddings, nil
}

// DescribeImage sends the image inline to a multimodal model such as llava.
func (o *OllamaClient) DescribeImage(ctx context.Context, prompt string, image []byte, mimeType string) (string, error) {
	msgs := []ollamaMessage{{
		Role:    datatypes.RoleUser,
		Content: prompt,
		Images:  []string{base64.StdEncoding.EncodeToString(image)},
	}}
	req := ollamaChatRequest{Model: o.cfg.Model, Messages: msgs, Stream: false}

	resp, err := o.post(ctx, "/api/chat", req)
	if err != nil {
		return "", o.wrap("vision", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", o.wrap("vision", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", o.statusError("vision", resp.StatusCode, body)
	}
	var out ollamaChatResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", o.wrap("vision", fmt.Errorf("parse response: %w", err))
	}
	return out.Message.Content, nil
}

// GenerateImage is not available on Ollama.
func (o *OllamaClient) GenerateImage(ctx context.Context, prompt string) ([]byte, error) {
	return nil, o.wrap("image", ErrUnsupported)
}

// Speak is not available on Ollama.
func (o *OllamaClient) Speak(ctx context.Context, text string) ([]byte, error) {
	return nil, o.wrap("speech", ErrUnsupported)
}

func (o *OllamaClient) buildRequest(messages []datatypes.Message, params GenerationParams, stream bool) ollamaChatRequest {
	options := make(map[string]interface{})
	if params.Temperature != nil {
		options["temperature"] = *params.Temperature
	}
	if params.TopP != nil {
		options["top_p"] = *params.TopP
	}
	if params.MaxTokens != nil {
		options["num_predict"] = *params.MaxTokens
	}
	if len(params.Stop) > 0 {
		options["stop"] = params.Stop
	}

	req := ollamaChatRequest{
		Model:    o.cfg.Model,
		Messages: toOllamaMessages(messages),
		Stream:   stream,
		Options:  options,
	}
	if params.JSONMode {
		req.Format = "json"
	}
	for _, t := range params.Tools {
		req.Tools = append(req.Tools, ollamaTool{Type: "function", Function: t})
	}
	return req
}

func (o *OllamaClient) post(ctx context.Context, path string, payload any) (*http.Response, error) {
	reqBody, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.cfg.BaseURL+path, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return o.httpClient.Do(req)
}

func (o *OllamaClient) wrap(op string, err error) error {
	return &ModelError{Provider: providerOllama, Op: op, Err: err}
}

// statusError keeps Ollama's "model not found" hint readable.
func (o *OllamaClient) statusError(op string, status int, body []byte) error {
	var errResp struct {
		Error string `json:"error"`
	}
	msg := string(body)
	if json.Unmarshal(body, &errResp) == nil && errResp.Error != "" {
		msg = errResp.Error
	}
	if status == http.StatusNotFound && strings.Contains(msg, "not found") {
		msg = fmt.Sprintf("model '%s' not found. Please run: 'ollama pull %s'", o.cfg.Model, o.cfg.Model)
	}
	return &ModelError{Provider: providerOllama, Op: op, StatusCode: status, Err: errors.New(msg)}
}

func toOllamaMessages(messages []datatypes.Message) []ollamaMessage {
	out := make([]ollamaMessage, 0, len(messages))
	for _, m := range messages {
		msg := ollamaMessage{Role: m.Role, Content: m.Content}
		for _, tc := range m.ToolCalls {
			var call ollamaToolCall
			call.Function.Name = tc.Function.Name
			args := json.RawMessage(tc.Function.Arguments)
			if !json.Valid(args) {
				args = json.RawMessage("{}")
			}
			call.Function.Arguments = args
			msg.ToolCalls = append(msg.ToolCalls, call)
		}
		out = append(out, msg)
	}
	return out
}

// fromOllamaToolCalls assigns synthetic ids because Ollama does not
// return any; offset keeps ids unique across stream chunks.
func fromOllamaToolCalls(calls []ollamaToolCall, offset int) []datatypes.ToolCall {
	if len(calls) == 0 {
		return nil
	}
	out := make([]datatypes.ToolCall, 0, len(calls))
	for i, tc := range calls {
		args := string(tc.Function.Arguments)
		if args == "" {
			args = "{}"
		}
		out = append(out, datatypes.ToolCall{
			Id:   fmt.Sprintf("call_%d", offset+i),
			Type: "function",
			Function: datatypes.ToolFunction{
				Name:      tc.Function.Name,
				Arguments: args,
			},
		})
	}
	return out
}

var (
	_ LLMClient   = (*OllamaClient)(nil)
	_ Embedder    = (*OllamaClient)(nil)
	_ MediaClient = (*OllamaClient)(nil)
)
