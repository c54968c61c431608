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
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"

	"github.com/AleutianAI/askai/services/orchestrator/datatypes"
	"github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const providerOpenAI = "openai"

var openaiTracer = otel.Tracer("askai.llm.openai")

// OpenAIConfig selects the models used for each capability.
type OpenAIConfig struct {
	APIKey         string
	BaseURL        string
	Model          string
	EmbeddingModel string
	ImageModel     string
	SpeechModel    string
	Voice          string
}

// OpenAIClient implements LLMClient, Embedder and MediaClient on the
// OpenAI API.
type OpenAIClient struct {
	client *openai.Client
	cfg    OpenAIConfig
}

// NewOpenAIClient builds a client.
//
// # Description
//
// The API key comes from cfg, then OPENAI_API_KEY, then the mounted secret
// /run/secrets/openai_api_key. Unset model names fall back to gpt-4o-mini,
// text-embedding-3-small, dall-e-3, tts-1 and the alloy voice.
//
// # Outputs
//
//   - *OpenAIClient: Ready client.
//   - error: Non-nil when no API key can be found.
func NewOpenAIClient(cfg OpenAIConfig) (*OpenAIClient, error) {
	cfg.APIKey = ResolveSecret(cfg.APIKey, "OPENAI_API_KEY", "openai_api_key")
	if cfg.APIKey == "" {
		slog.Error("OPENAI_API_KEY environment variable not set and secret not found")
		return nil, fmt.Errorf("OPENAI_API_KEY environment variable not set")
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
		slog.Warn("OpenAI model not set, defaulting to gpt-4o-mini")
	}
	if cfg.EmbeddingModel == "" {
		cfg.EmbeddingModel = string(openai.SmallEmbedding3)
	}
	if cfg.ImageModel == "" {
		cfg.ImageModel = openai.CreateImageModelDallE3
	}
	if cfg.SpeechModel == "" {
		cfg.SpeechModel = string(openai.TTSModel1)
	}
	if cfg.Voice == "" {
		cfg.Voice = string(openai.VoiceAlloy)
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	slog.Info("Initializing OpenAI client", "model", cfg.Model, "embedding_model", cfg.EmbeddingModel)
	return &OpenAIClient{
		client: openai.NewClientWithConfig(clientCfg),
		cfg:    cfg,
	}, nil
}

// Chat implements LLMClient.
func (o *OpenAIClient) Chat(ctx context.Context, messages []datatypes.Message, params GenerationParams) (*ChatResult, error) {
	ctx, span := openaiTracer.Start(ctx, "OpenAIClient.Chat")
	defer span.End()
	span.SetAttributes(
		attribute.String("llm.model", o.cfg.Model),
		attribute.Int("llm.num_messages", len(messages)),
		attribute.Int("llm.num_tools", len(params.Tools)),
	)

	resp, err := o.client.CreateChatCompletion(ctx, o.buildRequest(messages, params))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "chat completion failed")
		slog.Error("OpenAI API call failed", "error", err)
		return nil, o.wrapError("chat", err)
	}
	if len(resp.Choices) == 0 {
		return nil, &ModelError{Provider: providerOpenAI, Op: "chat", Err: errors.New("no choices returned")}
	}

	choice := resp.Choices[0]
	slog.Debug("Received response from OpenAI", "finish_reason", choice.FinishReason)
	return &ChatResult{
		Content:      choice.Message.Content,
		ToolCalls:    fromOpenAIToolCalls(choice.Message.ToolCalls),
		FinishReason: string(choice.FinishReason),
	}, nil
}

// ChatStream implements LLMClient. Tool call fragments are accumulated by
// their stream index and returned once the stream ends.
func (o *OpenAIClient) ChatStream(ctx context.Context, messages []datatypes.Message, params GenerationParams, onToken TokenCallback) (*ChatResult, error) {
	ctx, span := openaiTracer.Start(ctx, "OpenAIClient.ChatStream")
	defer span.End()
	span.SetAttributes(attribute.String("llm.model", o.cfg.Model))

	req := o.buildRequest(messages, params)
	req.Stream = true

	stream, err := o.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "stream open failed")
		return nil, o.wrapError("chat stream", err)
	}
	defer stream.Close()

	result := &ChatResult{}
	var content []byte
	calls := map[int]*datatypes.ToolCall{}

	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "stream receive failed")
			return nil, o.wrapError("chat stream", err)
		}
		if len(chunk.Choices) == 0 {
			continue
		}

		choice := chunk.Choices[0]
		if choice.FinishReason != "" {
			result.FinishReason = string(choice.FinishReason)
		}
		if delta := choice.Delta.Content; delta != "" {
			content = append(content, delta...)
			if onToken != nil {
				if err := onToken(delta); err != nil {
					return nil, err
				}
			}
		}
		for i, tc := range choice.Delta.ToolCalls {
			idx := i
			if tc.Index != nil {
				idx = *tc.Index
			}
			acc, ok := calls[idx]
			if !ok {
				acc = &datatypes.ToolCall{Type: string(openai.ToolTypeFunction)}
				calls[idx] = acc
			}
			if tc.ID != "" {
				acc.Id = tc.ID
			}
			if tc.Function.Name != "" {
				acc.Function.Name = tc.Function.Name
			}
			acc.Function.Arguments += tc.Function.Arguments
		}
	}

	result.Content = string(content)
	indexes := make([]int, 0, len(calls))
	for idx := range calls {
		indexes = append(indexes, idx)
	}
	sort.Ints(indexes)
	for _, idx := range indexes {
		result.ToolCalls = append(result.ToolCalls, *calls[idx])
	}
	return result, nil
}

// Embed implements Embedder.
func (o *OpenAIClient) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	ctx, span := openaiTracer.Start(ctx, "OpenAIClient.Embed")
	defer span.End()
	span.SetAttributes(attribute.Int("llm.num_inputs", len(texts)))

	resp, err := o.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: texts,
		Model: openai.EmbeddingModel(o.cfg.EmbeddingModel),
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "embedding failed")
		return nil, o.wrapError("embed", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, &ModelError{Provider: providerOpenAI, Op: "embed",
			Err: fmt.Errorf("got %d embeddings for %d inputs", len(resp.Data), len(texts))}
	}

	vectors := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(vectors) {
			return nil, &ModelError{Provider: providerOpenAI, Op: "embed", Err: fmt.Errorf("embedding index %d out of range", d.Index)}
		}
		vectors[d.Index] = d.Embedding
	}
	return vectors, nil
}

// DescribeImage implements MediaClient with a vision chat message.
func (o *OpenAIClient) DescribeImage(ctx context.Context, prompt string, image []byte, mimeType string) (string, error) {
	ctx, span := openaiTracer.Start(ctx, "OpenAIClient.DescribeImage")
	defer span.End()

	dataURL := fmt.Sprintf("data:%s;base64,%s", mimeType, base64.StdEncoding.EncodeToString(image))
	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: o.cfg.Model,
		Messages: []openai.ChatCompletionMessage{{
			Role: openai.ChatMessageRoleUser,
			MultiContent: []openai.ChatMessagePart{
				{Type: openai.ChatMessagePartTypeText, Text: prompt},
				{Type: openai.ChatMessagePartTypeImageURL, ImageURL: &openai.ChatMessageImageURL{
					URL:    dataURL,
					Detail: openai.ImageURLDetailAuto,
				}},
			},
		}},
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "vision failed")
		return "", o.wrapError("vision", err)
	}
	if len(resp.Choices) == 0 {
		return "", &ModelError{Provider: providerOpenAI, Op: "vision", Err: errors.New("no choices returned")}
	}
	return resp.Choices[0].Message.Content, nil
}

// GenerateImage implements MediaClient. The image is requested as base64
// so the PNG bytes never touch a temporary URL.
func (o *OpenAIClient) GenerateImage(ctx context.Context, prompt string) ([]byte, error) {
	ctx, span := openaiTracer.Start(ctx, "OpenAIClient.GenerateImage")
	defer span.End()

	resp, err := o.client.CreateImage(ctx, openai.ImageRequest{
		Prompt:         prompt,
		Model:          o.cfg.ImageModel,
		N:              1,
		Size:           openai.CreateImageSize1024x1024,
		ResponseFormat: openai.CreateImageResponseFormatB64JSON,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "image generation failed")
		return nil, o.wrapError("image", err)
	}
	if len(resp.Data) == 0 || resp.Data[0].B64JSON == "" {
		return nil, &ModelError{Provider: providerOpenAI, Op: "image", Err: errors.New("empty image payload")}
	}

	png, err := base64.StdEncoding.DecodeString(resp.Data[0].B64JSON)
	if err != nil {
		return nil, &ModelError{Provider: providerOpenAI, Op: "image", Err: fmt.Errorf("decode image: %w", err)}
	}
	return png, nil
}

// Speak implements MediaClient and returns MP3 audio.
func (o *OpenAIClient) Speak(ctx context.Context, text string) ([]byte, error) {
	ctx, span := openaiTracer.Start(ctx, "OpenAIClient.Speak")
	defer span.End()

	resp, err := o.client.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          openai.SpeechModel(o.cfg.SpeechModel),
		Input:          text,
		Voice:          openai.SpeechVoice(o.cfg.Voice),
		ResponseFormat: openai.SpeechResponseFormatMp3,
		Speed:          1.0,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "speech failed")
		return nil, o.wrapError("speech", err)
	}
	defer resp.Close()

	audio, err := io.ReadAll(resp)
	if err != nil {
		return nil, &ModelError{Provider: providerOpenAI, Op: "speech", Err: fmt.Errorf("read audio: %w", err)}
	}
	if len(audio) == 0 {
		return nil, &ModelError{Provider: providerOpenAI, Op: "speech", Err: errors.New("empty audio payload")}
	}
	return audio, nil
}

func (o *OpenAIClient) buildRequest(messages []datatypes.Message, params GenerationParams) openai.ChatCompletionRequest {
	req := openai.ChatCompletionRequest{
		Model:    o.cfg.Model,
		Messages: toOpenAIMessages(messages),
	}
	if params.Temperature != nil {
		req.Temperature = *params.Temperature
	}
	if params.MaxTokens != nil {
		req.MaxCompletionTokens = *params.MaxTokens
	}
	if params.TopP != nil {
		req.TopP = *params.TopP
	}
	if len(params.Stop) > 0 {
		req.Stop = params.Stop
	}
	if params.JSONMode {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}
	for _, t := range params.Tools {
		req.Tools = append(req.Tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}
	return req
}

func (o *OpenAIClient) wrapError(op string, err error) error {
	me := &ModelError{Provider: providerOpenAI, Op: op, Err: err}

	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		me.StatusCode = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		me.StatusCode = reqErr.HTTPStatusCode
	}
	return me
}

func toOpenAIMessages(messages []datatypes.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		msg := openai.ChatCompletionMessage{
			Role:       m.Role,
			Content:    m.Content,
			Name:       m.Name,
			ToolCallID: m.ToolCallID,
		}
		for _, tc := range m.ToolCalls {
			msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
				ID:   tc.Id,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      tc.Function.Name,
					Arguments: tc.Function.Arguments,
				},
			})
		}
		out = append(out, msg)
	}
	return out
}

func fromOpenAIToolCalls(calls []openai.ToolCall) []datatypes.ToolCall {
	if len(calls) == 0 {
		return nil
	}
	out := make([]datatypes.ToolCall, 0, len(calls))
	for _, tc := range calls {
		out = append(out, datatypes.ToolCall{
			Id:   tc.ID,
			Type: string(tc.Type),
			Function: datatypes.ToolFunction{
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			},
		})
	}
	return out
}

var (
	_ LLMClient   = (*OpenAIClient)(nil)
	_ Embedder    = (*OpenAIClient)(nil)
	_ MediaClient = (*OpenAIClient)(nil)
)
