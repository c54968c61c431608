// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/AleutianAI/askai/services/llm"
	"github.com/AleutianAI/askai/services/orchestrator/datatypes"
	"github.com/AleutianAI/askai/services/orchestrator/observability"
	"github.com/AleutianAI/askai/services/orchestrator/prompts"
	"github.com/AleutianAI/askai/services/orchestrator/tools"
	"go.opentelemetry.io/otel/attribute"
)

// toolRun is one tool-augmented conversation.
type toolRun struct {
	mode      observability.Mode
	messages  []datatypes.Message
	toolNames []string
	onToken   llm.TokenCallback
	// strict surfaces an InvalidInput error from a lone tool call instead
	// of handing it back to the model.
	strict bool
}

// toolOutcome is either a text answer or the result of a ReturnDirect
// tool, which skips any further model turn. Answer is the text of every
// model turn in order, so it equals what a streaming caller received.
type toolOutcome struct {
	Answer     string
	Direct     any
	DirectTool string
}

// runTools drives the model/tool loop.
//
// # Description
//
// Each iteration calls the model with the run's tool definitions. When the
// model requests tools they are invoked in order through the registry and
// their results appended as tool messages. Text the model writes alongside
// a tool request ("Let me check...") stays part of the answer. A tool
// failure is reported to the model as "error: ..." content so it can phrase
// the answer, except an InvalidInput from a ReturnDirect tool requested
// alone, which is returned to the caller. A successful ReturnDirect tool
// ends the loop with its raw result. The loop gives up with a *FormatError
// after MaxToolIterations model calls that all asked for tools.
func (s *ChatService) runTools(ctx context.Context, run toolRun) (*toolOutcome, error) {
	if s.tools == nil {
		return nil, fmt.Errorf("%s: no tool registry configured", run.mode)
	}
	var params llm.GenerationParams
	offered := make(map[string]bool, len(run.toolNames))
	if len(run.toolNames) > 0 {
		params.Tools = s.tools.Definitions(run.toolNames...)
		for _, n := range run.toolNames {
			offered[n] = true
		}
	}
	messages := append([]datatypes.Message(nil), run.messages...)
	var answer strings.Builder

	for iteration := 1; iteration <= s.cfg.MaxToolIterations; iteration++ {
		result, err := s.complete(ctx, run.mode, messages, params, run.onToken)
		if err != nil {
			return nil, err
		}
		answer.WriteString(result.Content)
		if len(result.ToolCalls) == 0 {
			return &toolOutcome{Answer: answer.String()}, nil
		}
		messages = append(messages, result.Message())

		for _, call := range result.ToolCalls {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			name := call.Function.Name
			spec, known := s.tools.Get(name)
			known = known && offered[name]
			slog.Info("Invoking tool", "tool", name, "arguments", call.Function.Arguments, "iteration", iteration)

			var (
				out any
				err error
			)
			if offered[name] {
				out, err = s.tools.Invoke(ctx, name, json.RawMessage(call.Function.Arguments))
			} else {
				err = &tools.ToolError{Kind: tools.InvalidInput, Tool: name, Err: fmt.Errorf("tool %q is not available here", name)}
			}
			if err != nil {
				kind := string(tools.UnexpectedFailure)
				if te, ok := tools.AsToolError(err); ok {
					kind = string(te.Kind)
				}
				s.metrics.RecordToolInvocation(name, kind)
				slog.Warn("Tool invocation failed", "tool", name, "kind", kind, "error", err)

				lone := known && len(result.ToolCalls) == 1
				if lone && (spec.ReturnDirect || run.strict) && tools.IsKind(err, tools.InvalidInput) {
					return nil, err
				}
				messages = append(messages, datatypes.ToolResultMessage(call.Id, name, "error: "+err.Error()))
				continue
			}
			s.metrics.RecordToolInvocation(name, "success")

			if spec.ReturnDirect {
				return &toolOutcome{Answer: answer.String(), Direct: out, DirectTool: name}, nil
			}
			content, err := json.Marshal(out)
			if err != nil {
				return nil, fmt.Errorf("encode %s result: %w", name, err)
			}
			messages = append(messages, datatypes.ToolResultMessage(call.Id, name, string(content)))
		}
	}

	return nil, &FormatError{Err: fmt.Errorf("model still requested tools after %d iterations", s.cfg.MaxToolIterations)}
}

// answerWithTools runs a single-purpose tool mode and returns its text.
func (s *ChatService) answerWithTools(ctx context.Context, spanName, systemTemplate, question string, toolNames ...string) (string, error) {
	ctx, span := chatTracer.Start(ctx, spanName)
	defer span.End()
	span.SetAttributes(attribute.StringSlice("tools", toolNames))

	messages, err := s.toolMessages(systemTemplate, nil, question)
	if err != nil {
		return "", recordSpanError(span, err)
	}
	outcome, err := s.runTools(ctx, toolRun{mode: observability.ModeTools, messages: messages, toolNames: toolNames, strict: true})
	if err != nil {
		return "", recordSpanError(span, err)
	}
	if outcome.Direct != nil {
		return "", recordSpanError(span, &FormatError{Err: fmt.Errorf("tool %s returned a binary result", outcome.DirectTool)})
	}
	return outcome.Answer, nil
}

// toolMessages builds system + history + user messages.
func (s *ChatService) toolMessages(systemTemplate string, history []datatypes.Message, question string) ([]datatypes.Message, error) {
	system, err := s.prompts.Render(systemTemplate, nil)
	if err != nil {
		return nil, err
	}
	userText, err := s.userText(question)
	if err != nil {
		return nil, err
	}
	messages := make([]datatypes.Message, 0, len(history)+2)
	messages = append(messages, datatypes.SystemMessage(system))
	messages = append(messages, history...)
	messages = append(messages, datatypes.UserMessage(userText))
	return messages, nil
}

// Weather answers weather questions with the CurrentWeather tool.
func (s *ChatService) Weather(ctx context.Context, question string) (string, error) {
	return s.answerWithTools(ctx, "ChatService.Weather", prompts.WeatherSystem, question, tools.CurrentWeather)
}

// StockPrice answers quote questions with the CurrentStockPrice tool.
func (s *ChatService) StockPrice(ctx context.Context, question string) (string, error) {
	return s.answerWithTools(ctx, "ChatService.StockPrice", prompts.StockSystem, question, tools.CurrentStockPrice)
}

// QRCode asks the model to call generateQRCode and returns the image the
// tool produced, unchanged.
func (s *ChatService) QRCode(ctx context.Context, question string) (*datatypes.QRCodeResponse, error) {
	ctx, span := chatTracer.Start(ctx, "ChatService.QRCode")
	defer span.End()

	messages, err := s.toolMessages(prompts.QRCodeSystem, nil, question)
	if err != nil {
		return nil, recordSpanError(span, err)
	}
	outcome, err := s.runTools(ctx, toolRun{mode: observability.ModeTools, messages: messages, toolNames: []string{tools.GenerateQRCode}, strict: true})
	if err != nil {
		return nil, recordSpanError(span, err)
	}
	image, ok := outcome.Direct.(*datatypes.QRCodeResponse)
	if !ok || len(image.ImageData) == 0 {
		return nil, recordSpanError(span, &FormatError{Raw: outcome.Answer, Err: fmt.Errorf("model did not call %s", tools.GenerateQRCode)})
	}
	return image, nil
}

// searchTools are the tools offered to Search: every registered tool that
// answers in text. ReturnDirect tools produce binary payloads that have
// no place in a conversation answer.
func (s *ChatService) searchTools() []string {
	if s.tools == nil {
		return nil
	}
	var names []string
	for _, spec := range s.tools.Specs() {
		if !spec.ReturnDirect {
			names = append(names, spec.Name)
		}
	}
	return names
}

// Search answers within a conversation.
//
// # Description
//
// Reads the memory window for conversationID, prepends the customer-score
// system prompt and runs the tool loop. Only after the answer is complete
// are the user question and the answer appended to memory, in one Append.
// A failed or cancelled run leaves memory untouched.
func (s *ChatService) Search(ctx context.Context, conversationID, question string) (string, error) {
	return s.search(ctx, "ChatService.Search", observability.ModeSearch, conversationID, question, nil)
}

// SearchStream is Search with the model output delivered through onToken
// as it is generated. The returned answer is the concatenated stream.
func (s *ChatService) SearchStream(ctx context.Context, conversationID, question string, onToken llm.TokenCallback) (string, error) {
	if onToken == nil {
		return "", fmt.Errorf("search stream: token callback is required")
	}
	return s.search(ctx, "ChatService.SearchStream", observability.ModeStream, conversationID, question, onToken)
}

func (s *ChatService) search(ctx context.Context, spanName string, mode observability.Mode, conversationID, question string, onToken llm.TokenCallback) (string, error) {
	ctx, span := chatTracer.Start(ctx, spanName)
	defer span.End()
	span.SetAttributes(attribute.String("conversation.id", conversationID))

	if s.memory == nil {
		return "", recordSpanError(span, fmt.Errorf("search: no conversation memory configured"))
	}
	history, err := s.memory.Get(ctx, conversationID)
	if err != nil {
		return "", recordSpanError(span, fmt.Errorf("load conversation %s: %w", conversationID, err))
	}
	span.SetAttributes(attribute.Int("conversation.history", len(history)))

	messages, err := s.toolMessages(prompts.SearchSystem, history, question)
	if err != nil {
		return "", recordSpanError(span, err)
	}
	outcome, err := s.runTools(ctx, toolRun{mode: mode, messages: messages, toolNames: s.searchTools(), onToken: onToken})
	if err != nil {
		return "", recordSpanError(span, err)
	}
	if err := ctx.Err(); err != nil {
		return "", recordSpanError(span, err)
	}

	if err := s.memory.Append(ctx, conversationID,
		datatypes.UserMessage(question),
		datatypes.AssistantMessage(outcome.Answer),
	); err != nil {
		return "", recordSpanError(span, fmt.Errorf("save conversation %s: %w", conversationID, err))
	}
	return outcome.Answer, nil
}
