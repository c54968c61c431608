// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package services provides business logic services for the orchestrator.
//
// ChatService turns a question into one of several orchestration modes:
//   - Direct: the question is sent as-is
//   - Structured: a template asks for JSON that is parsed into a type
//   - Guarded: a two-stage capital lookup that refuses unrelated queries
//   - RAG: retrieved passages are rendered into the prompt
//   - Tool-augmented: the model may call registered tools in a loop
//   - Search: tool-augmented with a per-conversation memory window
//
// Handlers stay thin; every mode is testable with fake collaborators.
package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/AleutianAI/askai/services/llm"
	"github.com/AleutianAI/askai/services/orchestrator/datatypes"
	"github.com/AleutianAI/askai/services/orchestrator/memory"
	"github.com/AleutianAI/askai/services/orchestrator/observability"
	"github.com/AleutianAI/askai/services/orchestrator/prompts"
	"github.com/AleutianAI/askai/services/orchestrator/tools"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var chatTracer = otel.Tracer("askai.services.chat")

// =============================================================================
// Interfaces
// =============================================================================

// DocumentRetriever returns passages similar to a query.
//
// # Description
//
// Implemented by retrieval.Retriever. Results are sorted by descending
// similarity, hold at most topK passages and never fall below
// minSimilarity. An empty result is not an error.
type DocumentRetriever interface {
	Retrieve(ctx context.Context, query string, topK int, minSimilarity float64) ([]datatypes.Document, error)
}

// =============================================================================
// Configuration
// =============================================================================

const (
	DefaultTopK              = 4
	DefaultMinSimilarity     = 0.2
	DefaultMaxToolIterations = 5
)

// ChatConfig tunes the orchestration modes. Zero values take defaults.
type ChatConfig struct {
	TopK              int
	MinSimilarity     float64
	MaxToolIterations int
	// ReReading repeats the user question ("Read the question again") to
	// improve reasoning on weaker models.
	ReReading bool
}

func (c ChatConfig) withDefaults() ChatConfig {
	if c.TopK <= 0 {
		c.TopK = DefaultTopK
	}
	if c.MinSimilarity <= 0 {
		c.MinSimilarity = DefaultMinSimilarity
	}
	if c.MaxToolIterations <= 0 {
		c.MaxToolIterations = DefaultMaxToolIterations
	}
	return c
}

// ChatDependencies are the collaborators of a ChatService. Retriever,
// Tools, and Memory may be nil when the corresponding modes are unused.
type ChatDependencies struct {
	LLM       llm.LLMClient
	Retriever DocumentRetriever
	Tools     *tools.Registry
	Memory    memory.Store
	Prompts   *prompts.Renderer
	Metrics   *observability.Metrics
}

// =============================================================================
// Service
// =============================================================================

// ChatService orchestrates every text mode.
//
// # Thread Safety
//
// Safe for concurrent use. The service holds no per-request state; the
// memory store serializes writes per conversation.
type ChatService struct {
	llm       llm.LLMClient
	retriever DocumentRetriever
	tools     *tools.Registry
	memory    memory.Store
	prompts   *prompts.Renderer
	metrics   *observability.Metrics
	cfg       ChatConfig
}

// NewChatService wires a ChatService. It fails only when a required
// collaborator is missing.
func NewChatService(deps ChatDependencies, cfg ChatConfig) (*ChatService, error) {
	if deps.LLM == nil {
		return nil, fmt.Errorf("chat service: LLM client is required")
	}
	if deps.Prompts == nil {
		return nil, fmt.Errorf("chat service: prompt renderer is required")
	}
	return &ChatService{
		llm:       deps.LLM,
		retriever: deps.Retriever,
		tools:     deps.Tools,
		memory:    deps.Memory,
		prompts:   deps.Prompts,
		metrics:   deps.Metrics,
		cfg:       cfg.withDefaults(),
	}, nil
}

// Config returns the effective configuration.
func (s *ChatService) Config() ChatConfig { return s.cfg }

// Chat sends the question as the only user message and returns the raw
// model text.
func (s *ChatService) Chat(ctx context.Context, question string) (string, error) {
	ctx, span := chatTracer.Start(ctx, "ChatService.Chat")
	defer span.End()

	userText, err := s.userText(question)
	if err != nil {
		return "", recordSpanError(span, err)
	}
	result, err := s.complete(ctx, observability.ModeDirect, []datatypes.Message{datatypes.UserMessage(userText)}, llm.GenerationParams{}, nil)
	if err != nil {
		return "", recordSpanError(span, err)
	}
	return result.Content, nil
}

// Ask answers from retrieved documents.
//
// # Description
//
// Retrieves with the configured topK and threshold, renders the system
// message and the RAG template with the passages joined by newlines, and
// makes one model call. No passages still renders the template with an
// empty DOCUMENTS section.
//
// # Outputs
//
//   - string: The model answer.
//   - error: *UpstreamModelError for retrieval or model failures,
//     *prompts.TemplateError if a template cannot render.
func (s *ChatService) Ask(ctx context.Context, question string) (string, error) {
	ctx, span := chatTracer.Start(ctx, "ChatService.Ask")
	defer span.End()

	if s.retriever == nil {
		return "", recordSpanError(span, fmt.Errorf("ask: no document retriever configured"))
	}

	docs, err := s.retriever.Retrieve(ctx, question, s.cfg.TopK, s.cfg.MinSimilarity)
	if err != nil {
		return "", recordSpanError(span, &UpstreamModelError{Op: "retrieve", Err: err})
	}
	s.metrics.RecordRetrieval(len(docs))
	span.SetAttributes(attribute.Int("rag.passages", len(docs)))

	input, err := s.userText(question)
	if err != nil {
		return "", recordSpanError(span, err)
	}
	system, err := s.prompts.Render(prompts.RAGSystem, nil)
	if err != nil {
		return "", recordSpanError(span, err)
	}
	user, err := s.prompts.Render(prompts.RAGPrompt, map[string]string{
		"input":     input,
		"documents": strings.Join(datatypes.Contents(docs), "\n"),
	})
	if err != nil {
		return "", recordSpanError(span, err)
	}
	slog.Info("final prompt", "mode", observability.ModeRAG, "prompt", user)

	result, err := s.complete(ctx, observability.ModeRAG, []datatypes.Message{
		datatypes.SystemMessage(system),
		datatypes.UserMessage(user),
	}, llm.GenerationParams{}, nil)
	if err != nil {
		return "", recordSpanError(span, err)
	}
	return result.Content, nil
}

// Capital asks for the capital of stateOrCountry as a JSON object.
func (s *ChatService) Capital(ctx context.Context, stateOrCountry string) (*datatypes.GetCapitalResponse, error) {
	ctx, span := chatTracer.Start(ctx, "ChatService.Capital")
	defer span.End()

	format, err := s.prompts.Render(prompts.CapitalFormat, nil)
	if err != nil {
		return nil, recordSpanError(span, err)
	}
	user, err := s.prompts.Render(prompts.CapitalPrompt, map[string]string{
		"stateOrCountry": stateOrCountry,
		"format":         format,
	})
	if err != nil {
		return nil, recordSpanError(span, err)
	}
	slog.Info("final prompt", "mode", observability.ModeStructured, "prompt", user)

	result, err := s.complete(ctx, observability.ModeStructured, []datatypes.Message{datatypes.UserMessage(user)}, llm.GenerationParams{}, nil)
	if err != nil {
		return nil, recordSpanError(span, err)
	}

	var resp datatypes.GetCapitalResponse
	if err := decodeModelJSON(result.Content, &resp); err != nil {
		return nil, recordSpanError(span, err)
	}
	if strings.TrimSpace(resp.Answer) == "" {
		return nil, recordSpanError(span, &FormatError{Raw: result.Content, Err: fmt.Errorf("answer is empty")})
	}
	resp.Answer = strings.TrimSpace(resp.Answer)
	return &resp, nil
}

// CapitalWithInfo returns a structured record about a capital city.
//
// # Description
//
// Two model calls. The first runs with the capital-only guard and the
// info template. If the parsed record is missing a capital or the model
// flagged the query as unrelated, an *InvalidArgumentError is returned
// and no second call is made. Otherwise a strict JSON-only call confirms
// the capital name, which replaces the first-stage value before the record
// is normalized.
//
// # Outputs
//
//   - *datatypes.CapitalWithInfo: Trimmed record with population >= 0.
//   - error: *InvalidArgumentError, *FormatError or *UpstreamModelError.
func (s *ChatService) CapitalWithInfo(ctx context.Context, stateOrCountry string) (*datatypes.CapitalWithInfo, error) {
	ctx, span := chatTracer.Start(ctx, "ChatService.CapitalWithInfo")
	defer span.End()

	guard, err := s.prompts.Render(prompts.CapitalGuardSystem, nil)
	if err != nil {
		return nil, recordSpanError(span, err)
	}
	format, err := s.prompts.Render(prompts.CapitalInfoFormat, nil)
	if err != nil {
		return nil, recordSpanError(span, err)
	}
	user, err := s.prompts.Render(prompts.CapitalWithInfoPrompt, map[string]string{
		"stateOrCountry": stateOrCountry,
		"format":         format,
	})
	if err != nil {
		return nil, recordSpanError(span, err)
	}
	slog.Info("final prompt", "mode", observability.ModeGuarded, "prompt", user)

	first, err := s.complete(ctx, observability.ModeGuarded, []datatypes.Message{
		datatypes.SystemMessage(guard),
		datatypes.UserMessage(user),
	}, llm.GenerationParams{}, nil)
	if err != nil {
		return nil, recordSpanError(span, err)
	}

	var record datatypes.CapitalWithInfo
	parseErr := decodeModelJSON(first.Content, &record)
	if parseErr != nil || strings.TrimSpace(record.Capital) == "" || record.IsOutOfDomain() {
		slog.Warn("Query rejected as not capital related", "query", stateOrCountry, "parse_error", parseErr)
		return nil, recordSpanError(span, &InvalidArgumentError{
			Message: fmt.Sprintf("The query '%s' is not about capitals. Please provide a query related to capital cities.", stateOrCountry),
		})
	}

	strict, err := s.prompts.Render(prompts.CapitalStrictSystem, nil)
	if err != nil {
		return nil, recordSpanError(span, err)
	}
	second, err := s.complete(ctx, observability.ModeGuarded, []datatypes.Message{
		datatypes.SystemMessage(strict),
		datatypes.UserMessage(user),
	}, llm.GenerationParams{JSONMode: true}, nil)
	if err != nil {
		return nil, recordSpanError(span, err)
	}

	var confirmed struct {
		Capital string `json:"capital"`
	}
	if err := decodeModelJSON(second.Content, &confirmed); err != nil {
		return nil, recordSpanError(span, err)
	}
	if c := strings.TrimSpace(confirmed.Capital); c != "" {
		record.Capital = c
	}
	if err := record.Normalize(); err != nil {
		return nil, recordSpanError(span, &FormatError{Raw: first.Content, Err: err})
	}
	slog.Debug("Capital record", "record", record.FormattedString())
	return &record, nil
}

// =============================================================================
// Helpers
// =============================================================================

// userText applies the optional re-reading rewrite and logs both forms.
func (s *ChatService) userText(question string) (string, error) {
	slog.Info("original prompt", "prompt", question)
	if !s.cfg.ReReading {
		return question, nil
	}
	rewritten, err := s.prompts.Render(prompts.ReReading, map[string]string{"question": question})
	if err != nil {
		return "", err
	}
	slog.Info("final prompt", "prompt", rewritten)
	return rewritten, nil
}

// complete makes one model call, streaming when onToken is set, and
// records its outcome.
func (s *ChatService) complete(ctx context.Context, mode observability.Mode, msgs []datatypes.Message, params llm.GenerationParams, onToken llm.TokenCallback) (*llm.ChatResult, error) {
	start := time.Now()
	var (
		result *llm.ChatResult
		err    error
	)
	if onToken != nil {
		result, err = s.llm.ChatStream(ctx, msgs, params, onToken)
	} else {
		result, err = s.llm.Chat(ctx, msgs, params)
	}
	s.metrics.RecordModelCall(mode, time.Since(start), err == nil)
	if err != nil {
		slog.Error("Model call failed", "mode", mode, "error", err)
		return nil, &UpstreamModelError{Op: string(mode), Err: err}
	}
	if result == nil {
		return nil, &UpstreamModelError{Op: string(mode), Err: fmt.Errorf("model returned no result")}
	}
	slog.Info("model output", "mode", mode, "output", result.Content, "tool_calls", len(result.ToolCalls))
	return result, nil
}

// decodeModelJSON strips an optional markdown fence and decodes the first
// JSON value in text into dst.
func decodeModelJSON(text string, dst any) error {
	cleaned := stripMarkdownFence(text)
	if cleaned == "" {
		return &FormatError{Raw: text, Err: fmt.Errorf("empty model output")}
	}
	if err := json.Unmarshal([]byte(cleaned), dst); err != nil {
		return &FormatError{Raw: text, Err: err}
	}
	return nil
}

// stripMarkdownFence removes a surrounding ``` or ```json fence.
func stripMarkdownFence(text string) string {
	t := strings.TrimSpace(text)
	if !strings.HasPrefix(t, "```") {
		return t
	}
	t = strings.TrimPrefix(t, "```")
	if nl := strings.IndexByte(t, '\n'); nl >= 0 {
		t = t[nl+1:]
	} else {
		t = strings.TrimPrefix(t, "json")
	}
	t = strings.TrimSpace(t)
	t = strings.TrimSuffix(t, "```")
	return strings.TrimSpace(t)
}

func recordSpanError(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
