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
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/AleutianAI/askai/services/llm"
	"github.com/AleutianAI/askai/services/orchestrator/datatypes"
	"github.com/AleutianAI/askai/services/orchestrator/memory"
	"github.com/AleutianAI/askai/services/orchestrator/prompts"
	"github.com/AleutianAI/askai/services/orchestrator/tools"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Mocks
// =============================================================================

// MockLLMClient replays scripted results in order and records every call.
type MockLLMClient struct {
	mu        sync.Mutex
	Responses []*llm.ChatResult
	Err       error
	Calls     [][]datatypes.Message
	Params    []llm.GenerationParams
	Streamed  int
}

func (m *MockLLMClient) next(messages []datatypes.Message, params llm.GenerationParams) (*llm.ChatResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, append([]datatypes.Message(nil), messages...))
	m.Params = append(m.Params, params)
	if m.Err != nil {
		return nil, m.Err
	}
	if len(m.Responses) == 0 {
		return nil, errors.New("mock: no scripted response left")
	}
	r := m.Responses[0]
	if len(m.Responses) > 1 {
		m.Responses = m.Responses[1:]
	}
	return r, nil
}

func (m *MockLLMClient) Chat(_ context.Context, messages []datatypes.Message, params llm.GenerationParams) (*llm.ChatResult, error) {
	return m.next(messages, params)
}

// ChatStream delivers the scripted content one word at a time.
func (m *MockLLMClient) ChatStream(_ context.Context, messages []datatypes.Message, params llm.GenerationParams, onToken llm.TokenCallback) (*llm.ChatResult, error) {
	r, err := m.next(messages, params)
	if err != nil {
		return nil, err
	}
	for _, tok := range splitTokens(r.Content) {
		if err := onToken(tok); err != nil {
			return nil, err
		}
		m.mu.Lock()
		m.Streamed++
		m.mu.Unlock()
	}
	return r, nil
}

func (m *MockLLMClient) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}

func splitTokens(s string) []string {
	var out []string
	for _, w := range strings.SplitAfter(s, " ") {
		if w != "" {
			out = append(out, w)
		}
	}
	return out
}

// MockRetriever returns fixed documents.
type MockRetriever struct {
	Docs          []datatypes.Document
	Err           error
	Calls         int
	TopK          int
	MinSimilarity float64
}

func (m *MockRetriever) Retrieve(_ context.Context, _ string, topK int, minSimilarity float64) ([]datatypes.Document, error) {
	m.Calls++
	m.TopK = topK
	m.MinSimilarity = minSimilarity
	return m.Docs, m.Err
}

// MockMediaClient records media calls.
type MockMediaClient struct {
	Text       string
	Image      []byte
	Audio      []byte
	Err        error
	LastPrompt string
	LastMime   string
}

func (m *MockMediaClient) DescribeImage(_ context.Context, prompt string, _ []byte, mimeType string) (string, error) {
	m.LastPrompt, m.LastMime = prompt, mimeType
	return m.Text, m.Err
}

func (m *MockMediaClient) GenerateImage(_ context.Context, prompt string) ([]byte, error) {
	m.LastPrompt = prompt
	return m.Image, m.Err
}

func (m *MockMediaClient) Speak(_ context.Context, text string) ([]byte, error) {
	m.LastPrompt = text
	return m.Audio, m.Err
}

// =============================================================================
// Helpers
// =============================================================================

func text(content string) *llm.ChatResult {
	return &llm.ChatResult{Content: content, FinishReason: "stop"}
}

func toolCall(id, name, args string) *llm.ChatResult {
	return &llm.ChatResult{
		FinishReason: "tool_calls",
		ToolCalls: []datatypes.ToolCall{{
			Id:       id,
			Type:     "function",
			Function: datatypes.ToolFunction{Name: name, Arguments: args},
		}},
	}
}

func newRenderer(t *testing.T) *prompts.Renderer {
	t.Helper()
	r, err := prompts.New()
	require.NoError(t, err)
	return r
}

func newTestService(t *testing.T, client llm.LLMClient, deps ChatDependencies, cfg ChatConfig) *ChatService {
	t.Helper()
	deps.LLM = client
	deps.Prompts = newRenderer(t)
	svc, err := NewChatService(deps, cfg)
	require.NoError(t, err)
	return svc
}

// ninjasServer counts outbound calls and answers with body.
func ninjasServer(t *testing.T, body string) (*tools.NinjasClient, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(server.Close)
	return tools.NewNinjasClient(tools.NinjasConfig{BaseURL: server.URL, APIKey: "k"}), &calls
}

// =============================================================================
// Direct
// =============================================================================

func TestNewChatService_RequiresCollaborators(t *testing.T) {
	_, err := NewChatService(ChatDependencies{Prompts: newRenderer(t)}, ChatConfig{})
	assert.Error(t, err)
	_, err = NewChatService(ChatDependencies{LLM: &MockLLMClient{}}, ChatConfig{})
	assert.Error(t, err)

	svc, err := NewChatService(ChatDependencies{LLM: &MockLLMClient{}, Prompts: newRenderer(t)}, ChatConfig{})
	require.NoError(t, err)
	assert.Equal(t, DefaultTopK, svc.Config().TopK)
	assert.Equal(t, DefaultMinSimilarity, svc.Config().MinSimilarity)
	assert.Equal(t, DefaultMaxToolIterations, svc.Config().MaxToolIterations)
}

func TestChat_SendsRawQuestion(t *testing.T) {
	mock := &MockLLMClient{Responses: []*llm.ChatResult{text("Hello there")}}
	svc := newTestService(t, mock, ChatDependencies{}, ChatConfig{})

	answer, err := svc.Chat(context.Background(), "Hi!")
	require.NoError(t, err)
	assert.Equal(t, "Hello there", answer)

	require.Len(t, mock.Calls, 1)
	assert.Equal(t, []datatypes.Message{datatypes.UserMessage("Hi!")}, mock.Calls[0])
}

func TestChat_ReReading(t *testing.T) {
	mock := &MockLLMClient{Responses: []*llm.ChatResult{text("ok")}}
	svc := newTestService(t, mock, ChatDependencies{}, ChatConfig{ReReading: true})

	_, err := svc.Chat(context.Background(), "Why is the sky blue?")
	require.NoError(t, err)
	assert.Equal(t, "Why is the sky blue?\nRead the question again: Why is the sky blue?", mock.Calls[0][0].Content)
}

func TestChat_UpstreamError(t *testing.T) {
	mock := &MockLLMClient{Err: &llm.ModelError{Provider: "openai", Op: "chat", StatusCode: 429, Err: errors.New("slow down")}}
	svc := newTestService(t, mock, ChatDependencies{}, ChatConfig{})

	_, err := svc.Chat(context.Background(), "Hi")
	require.Error(t, err)
	assert.True(t, IsUpstreamModelError(err))

	var ue *UpstreamModelError
	require.True(t, errors.As(err, &ue))
	assert.True(t, ue.Unavailable())
}

// =============================================================================
// Structured / Guarded
// =============================================================================

func TestCapital(t *testing.T) {
	tests := []struct {
		name   string
		output string
		want   string
	}{
		{"plain json", `{"answer":"Paris"}`, "Paris"},
		{"fenced json", "```json\n{\"answer\": \" Paris \"}\n```", "Paris"},
		{"bare fence", "```\n{\"answer\":\"Paris\"}\n```", "Paris"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := &MockLLMClient{Responses: []*llm.ChatResult{text(tt.output)}}
			svc := newTestService(t, mock, ChatDependencies{}, ChatConfig{})

			resp, err := svc.Capital(context.Background(), "France")
			require.NoError(t, err)
			assert.Equal(t, tt.want, resp.Answer)

			user := mock.Calls[0][0].Content
			assert.True(t, strings.HasPrefix(user, "What is the capital of France?\n"))
			assert.Contains(t, user, `"answer"`)
			assert.NotContains(t, user, "{stateOrCountry}")
		})
	}
}

func TestCapital_FormatError(t *testing.T) {
	for _, output := range []string{"Paris", `{"answer":""}`, ""} {
		mock := &MockLLMClient{Responses: []*llm.ChatResult{text(output)}}
		svc := newTestService(t, mock, ChatDependencies{}, ChatConfig{})

		_, err := svc.Capital(context.Background(), "France")
		assert.True(t, IsFormatError(err), "output %q: %v", output, err)
		assert.Equal(t, 1, mock.CallCount(), "no retry expected")
	}
}

func TestCapitalWithInfo_OutOfDomainMakesOneCall(t *testing.T) {
	outputs := []string{
		`{"stateOrCountry":"What's 2+2?","capital":"NOT_CAPITAL_RELATED"}`,
		`{"stateOrCountry":"x","capital":"not_capital_related"}`,
		`{"stateOrCountry":"x","capital":"This is not related to capitals"}`,
		`{"stateOrCountry":"x","capital":"Not applicable"}`,
		`I only answer questions about capitals.`,
		`{"stateOrCountry":"x","capital":""}`,
	}
	for _, output := range outputs {
		t.Run(output, func(t *testing.T) {
			mock := &MockLLMClient{Responses: []*llm.ChatResult{text(output)}}
			svc := newTestService(t, mock, ChatDependencies{}, ChatConfig{})

			_, err := svc.CapitalWithInfo(context.Background(), "What's 2+2?")
			require.Error(t, err)
			assert.True(t, IsInvalidArgument(err))
			assert.Equal(t, "The query 'What's 2+2?' is not about capitals. Please provide a query related to capital cities.", err.Error())
			assert.Equal(t, 1, mock.CallCount())
		})
	}
}

func TestCapitalWithInfo_TwoStage(t *testing.T) {
	mock := &MockLLMClient{Responses: []*llm.ChatResult{
		text(`{"stateOrCountry":" France ","capital":"paris","population":2102650,"region":"Île-de-France","language":"French","currency":"Euro"}`),
		text(`{"capital": "Paris"}`),
	}}
	svc := newTestService(t, mock, ChatDependencies{}, ChatConfig{})

	info, err := svc.CapitalWithInfo(context.Background(), "France")
	require.NoError(t, err)
	assert.Equal(t, "France", info.StateOrCountry)
	assert.Equal(t, "Paris", info.Capital)
	require.NotNil(t, info.Population)
	assert.Equal(t, int64(2102650), *info.Population)
	assert.Equal(t, "Euro", info.Currency)

	require.Len(t, mock.Calls, 2)
	assert.Equal(t, datatypes.RoleSystem, mock.Calls[0][0].Role)
	assert.Contains(t, mock.Calls[0][0].Content, "NOT_CAPITAL_RELATED")
	assert.Contains(t, mock.Calls[1][0].Content, `{"capital": "capital_name"}`)
	assert.True(t, mock.Params[1].JSONMode)
}

func TestCapitalWithInfo_BadShapeIsFormatError(t *testing.T) {
	tests := map[string][]*llm.ChatResult{
		"negative population": {
			text(`{"stateOrCountry":"France","capital":"Paris","population":-1}`),
			text(`{"capital":"Paris"}`),
		},
		"missing population": {
			text(`{"stateOrCountry":"France","capital":"Paris"}`),
			text(`{"capital":"Paris"}`),
		},
		"strict stage not json": {
			text(`{"stateOrCountry":"France","capital":"Paris","population":1}`),
			text(`The capital is Paris.`),
		},
	}
	for name, responses := range tests {
		t.Run(name, func(t *testing.T) {
			mock := &MockLLMClient{Responses: responses}
			svc := newTestService(t, mock, ChatDependencies{}, ChatConfig{})

			_, err := svc.CapitalWithInfo(context.Background(), "France")
			assert.True(t, IsFormatError(err), "got %v", err)
			assert.Equal(t, 2, mock.CallCount())
		})
	}
}

// =============================================================================
// RAG
// =============================================================================

func TestAsk_EmptyRetrievalStillRenders(t *testing.T) {
	mock := &MockLLMClient{Responses: []*llm.ChatResult{text("I don't know the answer.")}}
	retriever := &MockRetriever{}
	svc := newTestService(t, mock, ChatDependencies{Retriever: retriever}, ChatConfig{})

	answer, err := svc.Ask(context.Background(), "What is Aleutian?")
	require.NoError(t, err)
	assert.Equal(t, "I don't know the answer.", answer)
	assert.Equal(t, 4, retriever.TopK)
	assert.Equal(t, 0.2, retriever.MinSimilarity)

	require.Len(t, mock.Calls[0], 2)
	assert.Equal(t, datatypes.RoleSystem, mock.Calls[0][0].Role)
	user := mock.Calls[0][1].Content
	assert.Contains(t, user, "QUESTION:\nWhat is Aleutian?")
	assert.True(t, strings.HasSuffix(user, "DOCUMENTS:\n"), "documents section should be empty: %q", user)
	assert.NotContains(t, user, "{")
}

func TestAsk_JoinsPassages(t *testing.T) {
	mock := &MockLLMClient{Responses: []*llm.ChatResult{text("answer")}}
	retriever := &MockRetriever{Docs: []datatypes.Document{{Content: "first passage"}, {Content: "second passage"}}}
	svc := newTestService(t, mock, ChatDependencies{Retriever: retriever}, ChatConfig{TopK: 2, MinSimilarity: 0.5})

	_, err := svc.Ask(context.Background(), "q")
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(mock.Calls[0][1].Content, "DOCUMENTS:\nfirst passage\nsecond passage"))
	assert.Equal(t, 2, retriever.TopK)
	assert.Equal(t, 0.5, retriever.MinSimilarity)
}

func TestAsk_RetrieverErrorIsUpstream(t *testing.T) {
	mock := &MockLLMClient{}
	svc := newTestService(t, mock, ChatDependencies{Retriever: &MockRetriever{Err: errors.New("weaviate down")}}, ChatConfig{})

	_, err := svc.Ask(context.Background(), "q")
	assert.True(t, IsUpstreamModelError(err))
	assert.Equal(t, 0, mock.CallCount())
}

// =============================================================================
// Tools
// =============================================================================

func TestWeather_ToolLoop(t *testing.T) {
	client, calls := ninjasServer(t, `{"temp":18,"humidity":60}`)
	mock := &MockLLMClient{Responses: []*llm.ChatResult{
		toolCall("call_1", tools.CurrentWeather, `{"lat":48.8566,"lon":2.3522}`),
		text("It is 18°C in Paris."),
	}}
	svc := newTestService(t, mock, ChatDependencies{Tools: tools.NewRegistry(tools.WeatherTool(client))}, ChatConfig{})

	answer, err := svc.Weather(context.Background(), "Weather in Paris?")
	require.NoError(t, err)
	assert.Equal(t, "It is 18°C in Paris.", answer)
	assert.Equal(t, int32(1), calls.Load())

	require.Len(t, mock.Calls, 2)
	require.Len(t, mock.Params[0].Tools, 1)
	assert.Equal(t, tools.CurrentWeather, mock.Params[0].Tools[0].Name)
	assert.Contains(t, mock.Calls[0][0].Content, "CurrentWeather")

	second := mock.Calls[1]
	toolMsg := second[len(second)-1]
	assert.Equal(t, datatypes.RoleTool, toolMsg.Role)
	assert.Equal(t, "call_1", toolMsg.ToolCallID)
	var weather datatypes.WeatherResponse
	require.NoError(t, json.Unmarshal([]byte(toolMsg.Content), &weather))
	assert.Equal(t, 18.0, weather.Temp)
}

func TestWeather_OutOfRangeIsInvalidInput(t *testing.T) {
	client, calls := ninjasServer(t, `{}`)
	mock := &MockLLMClient{Responses: []*llm.ChatResult{
		toolCall("call_1", tools.CurrentWeather, `{"lat":91,"lon":0}`),
		text("should never be requested"),
	}}
	svc := newTestService(t, mock, ChatDependencies{Tools: tools.NewRegistry(tools.WeatherTool(client))}, ChatConfig{})

	_, err := svc.Weather(context.Background(), "Weather at 91,0?")
	require.Error(t, err)
	assert.True(t, tools.IsKind(err, tools.InvalidInput))
	assert.Equal(t, int32(0), calls.Load())
	assert.Equal(t, 1, mock.CallCount())
}

func TestSearch_ToolErrorGoesBackToModel(t *testing.T) {
	client, calls := ninjasServer(t, `{}`)
	mock := &MockLLMClient{Responses: []*llm.ChatResult{
		toolCall("call_1", tools.CurrentWeather, `{"lat":123,"lon":0}`),
		text("Those coordinates are not valid."),
	}}
	reg := tools.NewRegistry(tools.WeatherTool(client))
	svc := newTestService(t, mock, ChatDependencies{Tools: reg, Memory: memory.NewMemoryStore(10)}, ChatConfig{})

	answer, err := svc.Search(context.Background(), "c", "Weather at 123,0?")
	require.NoError(t, err)
	assert.Equal(t, "Those coordinates are not valid.", answer)
	assert.Equal(t, int32(0), calls.Load())

	second := mock.Calls[1]
	assert.True(t, strings.HasPrefix(second[len(second)-1].Content, "error: "))
}

func TestStockPrice_EndToEnd(t *testing.T) {
	client, _ := ninjasServer(t, `{"ticker":"AAPL","name":"Apple Inc.","price":192.53,"exchange":"NASDAQ","currency":"USD"}`)
	mock := &MockLLMClient{Responses: []*llm.ChatResult{
		toolCall("call_1", tools.CurrentStockPrice, `{"ticker":"AAPL"}`),
		text("AAPL is trading at 192.53 USD."),
	}}
	svc := newTestService(t, mock, ChatDependencies{Tools: tools.NewRegistry(tools.StockPriceTool(client))}, ChatConfig{})

	answer, err := svc.StockPrice(context.Background(), "Apple stock price?")
	require.NoError(t, err)
	assert.Contains(t, answer, "AAPL")
	assert.Contains(t, answer, "192.53")

	second := mock.Calls[1]
	assert.Contains(t, second[len(second)-1].Content, "192.53")
}

func TestQRCode_ReturnDirect(t *testing.T) {
	png := []byte{0x89, 'P', 'N', 'G'}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(png)
	}))
	t.Cleanup(server.Close)
	client := tools.NewNinjasClient(tools.NinjasConfig{BaseURL: server.URL})

	mock := &MockLLMClient{Responses: []*llm.ChatResult{
		toolCall("call_1", tools.GenerateQRCode, `{"data":"https://example.com"}`),
		text("should never be requested"),
	}}
	svc := newTestService(t, mock, ChatDependencies{Tools: tools.NewRegistry(tools.QRCodeTool(client))}, ChatConfig{})

	img, err := svc.QRCode(context.Background(), "QR for https://example.com")
	require.NoError(t, err)
	assert.Equal(t, png, img.ImageData)
	assert.Equal(t, "image/png", img.ContentType)
	assert.Equal(t, 1, mock.CallCount())
}

func TestQRCode_InvalidInputSurfaces(t *testing.T) {
	client, calls := ninjasServer(t, `{}`)
	mock := &MockLLMClient{Responses: []*llm.ChatResult{
		toolCall("call_1", tools.GenerateQRCode, `{"data":"  "}`),
	}}
	svc := newTestService(t, mock, ChatDependencies{Tools: tools.NewRegistry(tools.QRCodeTool(client))}, ChatConfig{})

	_, err := svc.QRCode(context.Background(), "QR for nothing")
	require.Error(t, err)
	assert.True(t, tools.IsKind(err, tools.InvalidInput))
	assert.Equal(t, int32(0), calls.Load())
}

func TestQRCode_ModelAnsweredInText(t *testing.T) {
	client, _ := ninjasServer(t, `{}`)
	mock := &MockLLMClient{Responses: []*llm.ChatResult{text("I cannot do that.")}}
	svc := newTestService(t, mock, ChatDependencies{Tools: tools.NewRegistry(tools.QRCodeTool(client))}, ChatConfig{})

	_, err := svc.QRCode(context.Background(), "QR please")
	assert.True(t, IsFormatError(err))
}

func TestToolLoop_BoundedIterations(t *testing.T) {
	mock := &MockLLMClient{Responses: []*llm.ChatResult{
		toolCall("call_x", tools.GetCustomerScore, `{}`),
	}}
	reg := tools.NewRegistry(tools.CustomerScoreTools(tools.DefaultCustomers())...)
	svc := newTestService(t, mock, ChatDependencies{Tools: reg, Memory: memory.NewMemoryStore(10)}, ChatConfig{MaxToolIterations: 3})

	_, err := svc.Search(context.Background(), "c1", "loop forever")
	assert.True(t, IsFormatError(err))
	assert.Equal(t, 3, mock.CallCount())
}

func TestToolLoop_UnofferedToolIsRejected(t *testing.T) {
	client, calls := ninjasServer(t, `{}`)
	mock := &MockLLMClient{Responses: []*llm.ChatResult{
		toolCall("call_1", tools.CurrentStockPrice, `{"ticker":"AAPL"}`),
		text("I can only check the weather."),
	}}
	reg := tools.NewRegistry(tools.WeatherTool(client), tools.StockPriceTool(client))
	svc := newTestService(t, mock, ChatDependencies{Tools: reg}, ChatConfig{})

	answer, err := svc.Weather(context.Background(), "AAPL?")
	require.NoError(t, err)
	assert.Equal(t, "I can only check the weather.", answer)
	assert.Equal(t, int32(0), calls.Load())
}

// =============================================================================
// Search with memory
// =============================================================================

func TestSearch_UsesAndUpdatesMemory(t *testing.T) {
	store := memory.NewMemoryStore(10)
	reg := tools.NewRegistry(tools.CustomerScoreTools(tools.DefaultCustomers())...)
	mock := &MockLLMClient{Responses: []*llm.ChatResult{
		toolCall("call_1", tools.GetCustomerScoreByName, `{"name":"Eduardo Alvim"}`),
		text("Eduardo Alvim has a score of 8.9."),
	}}
	svc := newTestService(t, mock, ChatDependencies{Tools: reg, Memory: store}, ChatConfig{})
	ctx := context.Background()

	answer, err := svc.Search(ctx, "conv-1", "What is Eduardo's score?")
	require.NoError(t, err)
	assert.Equal(t, "Eduardo Alvim has a score of 8.9.", answer)

	history, err := store.Get(ctx, "conv-1")
	require.NoError(t, err)
	assert.Equal(t, []datatypes.Message{
		datatypes.UserMessage("What is Eduardo's score?"),
		datatypes.AssistantMessage("Eduardo Alvim has a score of 8.9."),
	}, history)

	assert.Contains(t, mock.Calls[0][0].Content, "Customer does not exist")
	offered := make([]string, 0, len(mock.Params[0].Tools))
	for _, d := range mock.Params[0].Tools {
		offered = append(offered, d.Name)
	}
	assert.ElementsMatch(t, []string{tools.GetCustomerScore, tools.GetCustomerScoreByName}, offered)

	mock.Responses = []*llm.ChatResult{text("You asked about Eduardo.")}
	_, err = svc.Search(ctx, "conv-1", "Who did I ask about?")
	require.NoError(t, err)
	last := mock.Calls[len(mock.Calls)-1]
	require.Len(t, last, 4)
	assert.Equal(t, "What is Eduardo's score?", last[1].Content)
	assert.Equal(t, "Who did I ask about?", last[3].Content)
}

func TestSearch_ExcludesReturnDirectTools(t *testing.T) {
	mock := &MockLLMClient{Responses: []*llm.ChatResult{text("hi")}}
	reg := tools.DefaultRegistry(tools.Dependencies{})
	svc := newTestService(t, mock, ChatDependencies{Tools: reg, Memory: memory.NewMemoryStore(10)}, ChatConfig{})

	_, err := svc.Search(context.Background(), "c", "hello")
	require.NoError(t, err)
	for _, d := range mock.Params[0].Tools {
		assert.NotEqual(t, tools.GenerateQRCode, d.Name)
	}
	assert.Len(t, mock.Params[0].Tools, len(reg.Names())-1)
}

func TestSearch_FailureWritesNothing(t *testing.T) {
	store := memory.NewMemoryStore(10)
	mock := &MockLLMClient{Err: errors.New("model offline")}
	svc := newTestService(t, mock, ChatDependencies{Tools: tools.NewRegistry(), Memory: store}, ChatConfig{})

	_, err := svc.Search(context.Background(), "conv-1", "hello")
	require.Error(t, err)

	history, err := store.Get(context.Background(), "conv-1")
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestSearchStream_TokensMatchBlockingAnswer(t *testing.T) {
	const final = "Jane Doe has the highest score at 9.1."
	script := func() []*llm.ChatResult {
		return []*llm.ChatResult{toolCall("call_1", tools.GetCustomerScore, `{}`), text(final)}
	}
	reg := tools.NewRegistry(tools.CustomerScoreTools(tools.DefaultCustomers())...)

	blockingMock := &MockLLMClient{Responses: script()}
	blocking := newTestService(t, blockingMock, ChatDependencies{Tools: reg, Memory: memory.NewMemoryStore(10)}, ChatConfig{})
	want, err := blocking.Search(context.Background(), "c", "Who scores highest?")
	require.NoError(t, err)

	store := memory.NewMemoryStore(10)
	streamMock := &MockLLMClient{Responses: script()}
	streaming := newTestService(t, streamMock, ChatDependencies{Tools: reg, Memory: store}, ChatConfig{})

	var tokens []string
	got, err := streaming.SearchStream(context.Background(), "c", "Who scores highest?", func(tok string) error {
		tokens = append(tokens, tok)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.Equal(t, want, strings.Join(tokens, ""))
	assert.Greater(t, len(tokens), 1)

	history, _ := store.Get(context.Background(), "c")
	assert.Len(t, history, 2)
}

func TestSearchStream_ToolTurnTextIsPartOfAnswer(t *testing.T) {
	script := func() []*llm.ChatResult {
		preamble := toolCall("call_1", tools.GetCustomerScoreByName, `{"name":"Jane Doe"}`)
		preamble.Content = "Let me look that up. "
		return []*llm.ChatResult{preamble, text("Score is 9.1")}
	}
	reg := tools.NewRegistry(tools.CustomerScoreTools(tools.DefaultCustomers())...)

	blockingStore := memory.NewMemoryStore(10)
	blocking := newTestService(t, &MockLLMClient{Responses: script()}, ChatDependencies{Tools: reg, Memory: blockingStore}, ChatConfig{})
	want, err := blocking.Search(context.Background(), "c", "What is Jane's score?")
	require.NoError(t, err)
	assert.Equal(t, "Let me look that up. Score is 9.1", want)

	streamStore := memory.NewMemoryStore(10)
	streaming := newTestService(t, &MockLLMClient{Responses: script()}, ChatDependencies{Tools: reg, Memory: streamStore}, ChatConfig{})
	var streamed strings.Builder
	got, err := streaming.SearchStream(context.Background(), "c", "What is Jane's score?", func(tok string) error {
		streamed.WriteString(tok)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.Equal(t, want, streamed.String())

	history, err := streamStore.Get(context.Background(), "c")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, want, history[1].Content)
}

func TestSearchStream_AbortWritesNothing(t *testing.T) {
	store := memory.NewMemoryStore(10)
	mock := &MockLLMClient{Responses: []*llm.ChatResult{text("one two three four")}}
	svc := newTestService(t, mock, ChatDependencies{Tools: tools.NewRegistry(), Memory: store}, ChatConfig{})

	seen := 0
	_, err := svc.SearchStream(context.Background(), "c", "count", func(string) error {
		seen++
		if seen == 2 {
			return context.Canceled
		}
		return nil
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)

	history, _ := store.Get(context.Background(), "c")
	assert.Empty(t, history)
}

func TestSearchStream_CancelledContextWritesNothing(t *testing.T) {
	store := memory.NewMemoryStore(10)
	mock := &MockLLMClient{Responses: []*llm.ChatResult{text("done")}}
	svc := newTestService(t, mock, ChatDependencies{Tools: tools.NewRegistry(), Memory: store}, ChatConfig{})

	ctx, cancel := context.WithCancel(context.Background())
	_, err := svc.SearchStream(ctx, "c", "hi", func(string) error {
		cancel()
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)

	history, _ := store.Get(context.Background(), "c")
	assert.Empty(t, history)
}

// =============================================================================
// Media
// =============================================================================

func TestMediaService_Describe(t *testing.T) {
	media := &MockMediaClient{Text: "A cat on a sofa."}
	svc, err := NewMediaService(media, newRenderer(t), nil)
	require.NoError(t, err)

	png := []byte("\x89PNG\r\n\x1a\n0000000000")
	out, err := svc.Describe(context.Background(), "cat.png", png, "")
	require.NoError(t, err)
	assert.Equal(t, "A cat on a sofa.", out)
	assert.Equal(t, "image/png", media.LastMime)
	assert.Equal(t, "Explain what do you see in this picture?", media.LastPrompt)
}

func TestMediaService_DescribeRejectsBadInput(t *testing.T) {
	svc, err := NewMediaService(&MockMediaClient{}, newRenderer(t), nil)
	require.NoError(t, err)

	_, err = svc.Describe(context.Background(), "empty.png", nil, "image/png")
	assert.True(t, IsInvalidArgument(err))

	_, err = svc.Describe(context.Background(), "notes.txt", []byte("plain text"), "")
	assert.True(t, IsInvalidArgument(err))
}

func TestMediaService_UnsupportedBackend(t *testing.T) {
	unsupported := &llm.ModelError{Provider: "ollama", Op: "speak", Err: llm.ErrUnsupported}
	svc, err := NewMediaService(&MockMediaClient{Err: unsupported}, newRenderer(t), nil)
	require.NoError(t, err)

	_, err = svc.Speak(context.Background(), "hello")
	assert.True(t, IsUpstreamModelError(err))
	assert.ErrorIs(t, err, llm.ErrUnsupported)

	_, err = svc.GenerateImage(context.Background(), "a lighthouse")
	assert.ErrorIs(t, err, llm.ErrUnsupported)
}

func TestMediaService_GenerateAndSpeak(t *testing.T) {
	media := &MockMediaClient{Image: []byte("png"), Audio: []byte("mp3")}
	svc, err := NewMediaService(media, newRenderer(t), nil)
	require.NoError(t, err)

	img, err := svc.GenerateImage(context.Background(), "a lighthouse")
	require.NoError(t, err)
	assert.Equal(t, []byte("png"), img)

	audio, err := svc.Speak(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, []byte("mp3"), audio)
	assert.Equal(t, "hello", media.LastPrompt)
}

// =============================================================================
// Helpers
// =============================================================================

func TestStripMarkdownFence(t *testing.T) {
	tests := map[string]string{
		`{"a":1}`:                    `{"a":1}`,
		"  {\"a\":1}\n":              `{"a":1}`,
		"```json\n{\"a\":1}\n```":    `{"a":1}`,
		"```\n{\"a\":1}\n```":        `{"a":1}`,
		"```json {\"a\":1}```":       `{"a":1}`,
		"```json\n{\"a\":1}\n```\n ": `{"a":1}`,
	}
	for in, want := range tests {
		assert.Equal(t, want, stripMarkdownFence(in), "input %q", in)
	}
}

func TestUpstreamModelError_Unavailable(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{&llm.ModelError{StatusCode: 0}, true},
		{&llm.ModelError{StatusCode: 429}, true},
		{&llm.ModelError{StatusCode: 503}, true},
		{&llm.ModelError{StatusCode: 400}, false},
		{&llm.ModelError{StatusCode: 401}, false},
		{errors.New("no provider status"), true},
	}
	for _, tt := range tests {
		ue := &UpstreamModelError{Op: "chat", Err: tt.err}
		assert.Equal(t, tt.want, ue.Unavailable(), fmt.Sprint(tt.err))
	}
}
