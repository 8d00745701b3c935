package ai

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
)

type scriptedModel struct {
	mu       sync.Mutex
	steps    [][]Delta
	requests []ChatRequest
}

func (m *scriptedModel) StreamChat(_ context.Context, req ChatRequest) (ChatStream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)
	if len(m.steps) == 0 {
		return nil, errors.New("no scripted step left")
	}
	step := m.steps[0]
	m.steps = m.steps[1:]
	return &scriptedStream{deltas: step}, nil
}

type scriptedStream struct {
	deltas []Delta
	closed bool
}

func (s *scriptedStream) Recv() (Delta, error) {
	if s.closed || len(s.deltas) == 0 {
		return Delta{}, io.EOF
	}
	d := s.deltas[0]
	s.deltas = s.deltas[1:]
	return d, nil
}

func (s *scriptedStream) Close() error {
	s.closed = true
	return nil
}

type echoInput struct {
	Word string `json:"word" validate:"required"`
}

type echoOutput struct {
	Echo string `json:"echo"`
}

func TestTextStreamRunsToolsAndContinues(t *testing.T) {
	model := &scriptedModel{steps: [][]Delta{
		{
			{Text: "Let me "},
			{Text: "check."},
			{ToolCalls: []ToolCallDelta{{Index: 0, ID: "call_1", Name: "echo", Arguments: `{"wo`}}},
			{ToolCalls: []ToolCallDelta{{Index: 0, Arguments: `rd":"hi"}`}}},
			{FinishReason: "tool_calls", Usage: &Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15}},
		},
		{
			{Text: " Done."},
			{FinishReason: "stop", Usage: &Usage{PromptTokens: 20, CompletionTokens: 2, TotalTokens: 22}},
		},
	}}
	var got, callIDs []string
	tool := NewTool("echo", "Echo a word.", func(ctx context.Context, in echoInput) (echoOutput, error) {
		got = append(got, in.Word)
		callIDs = append(callIDs, ToolCallID(ctx))
		return echoOutput{Echo: in.Word}, nil
	})
	gen := &Generator{Model: model}
	s := gen.Stream(context.Background(), ChatRequest{Messages: []Message{{Role: RoleUser, Content: "go"}}}, NewToolset(tool))

	var text strings.Builder
	for s.Next() {
		text.WriteString(s.Text())
	}
	if err := s.Err(); err != nil {
		t.Fatalf("stream error: %v", err)
	}
	if text.String() != "Let me check. Done." {
		t.Fatalf("unexpected text: %q", text.String())
	}
	if len(got) != 1 || got[0] != "hi" {
		t.Fatalf("tool not called with parsed args: %v", got)
	}
	if len(callIDs) != 1 || callIDs[0] != "call_1" {
		t.Fatalf("tool context carried call ids %v, want [call_1]", callIDs)
	}
	if s.Usage().TotalTokens != 37 || s.Steps() != 2 {
		t.Fatalf("unexpected usage/steps: %+v %d", s.Usage(), s.Steps())
	}
	if len(model.requests) != 2 {
		t.Fatalf("expected 2 model calls, got %d", len(model.requests))
	}
	second := model.requests[1].Messages
	if len(second) != 3 {
		t.Fatalf("expected user, assistant tool call, tool result; got %d messages", len(second))
	}
	if second[1].Role != RoleAssistant || len(second[1].ToolCalls) != 1 || second[1].Content != "Let me check." {
		t.Fatalf("unexpected assistant tool-call message: %+v", second[1])
	}
	if second[2].Role != RoleTool || second[2].ToolCallID != "call_1" || second[2].Content != `{"echo":"hi"}` {
		t.Fatalf("unexpected tool result message: %+v", second[2])
	}
	if len(model.requests[0].Tools) != 1 || model.requests[0].Tools[0].Name != "echo" {
		t.Fatalf("tool spec not declared: %+v", model.requests[0].Tools)
	}
}

func TestTextStreamRejectsInvalidToolInput(t *testing.T) {
	model := &scriptedModel{steps: [][]Delta{
		{{ToolCalls: []ToolCallDelta{{Index: 0, ID: "c", Name: "echo", Arguments: `{"word":""}`}}}},
		{{Text: "ok"}},
	}}
	called := false
	tool := NewTool("echo", "Echo a word.", func(_ context.Context, in echoInput) (echoOutput, error) {
		called = true
		return echoOutput{}, nil
	})
	var observed error
	gen := &Generator{Model: model, OnToolCall: func(_ string, err error) { observed = err }}
	s := gen.Stream(context.Background(), ChatRequest{}, NewToolset(tool))
	for s.Next() {
	}
	if s.Err() != nil {
		t.Fatalf("unexpected error: %v", s.Err())
	}
	if called {
		t.Fatalf("handler must not run for invalid input")
	}
	if !errors.Is(observed, ErrInvalidArguments) {
		t.Fatalf("expected ErrInvalidArguments, got %v", observed)
	}
	result := model.requests[1].Messages[1].Content
	if !strings.Contains(result, `"error"`) {
		t.Fatalf("expected error result spliced back, got %q", result)
	}
}

func TestTextStreamStopsAtMaxSteps(t *testing.T) {
	loop := []Delta{{ToolCalls: []ToolCallDelta{{Index: 0, ID: "c", Name: "echo", Arguments: `{"word":"x"}`}}}}
	model := &scriptedModel{steps: [][]Delta{loop, loop, loop}}
	calls := 0
	tool := NewTool("echo", "", func(_ context.Context, in echoInput) (echoOutput, error) {
		calls++
		return echoOutput{Echo: in.Word}, nil
	})
	gen := &Generator{Model: model, MaxSteps: 2}
	s := gen.Stream(context.Background(), ChatRequest{}, NewToolset(tool))
	for s.Next() {
	}
	if s.Steps() != 2 || calls != 2 {
		t.Fatalf("expected 2 steps and 2 tool calls, got %d/%d", s.Steps(), calls)
	}
}

func TestTextStreamCancel(t *testing.T) {
	model := &scriptedModel{steps: [][]Delta{{{Text: "a"}, {Text: "b"}, {Text: "c"}}}}
	ctx, cancel := context.WithCancel(context.Background())
	s := (&Generator{Model: model}).Stream(ctx, ChatRequest{}, nil)
	if !s.Next() || s.Text() != "a" {
		t.Fatalf("expected first fragment")
	}
	cancel()
	if s.Next() {
		t.Fatalf("expected stream to stop after cancel")
	}
	if !errors.Is(s.Err(), context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", s.Err())
	}
	if s.FullText() != "a" {
		t.Fatalf("output after cancel must be discarded, got %q", s.FullText())
	}
}

func TestToolSchemaFromStruct(t *testing.T) {
	type input struct {
		DocumentID string `json:"documentId" jsonschema:"description=Target document" validate:"required,entityid"`
	}
	tool := NewTool("t", "d", func(context.Context, input) (struct{}, error) { return struct{}{}, nil })
	var schema map[string]any
	if err := json.Unmarshal(tool.Spec().Parameters, &schema); err != nil {
		t.Fatalf("schema json: %v", err)
	}
	if schema["type"] != "object" {
		t.Fatalf("expected object schema, got %v", schema["type"])
	}
	props, _ := schema["properties"].(map[string]any)
	if _, ok := props["documentId"]; !ok {
		t.Fatalf("missing documentId property: %v", schema)
	}
	if _, err := tool.Call(context.Background(), json.RawMessage(`{"documentId":"nope"}`)); !errors.Is(err, ErrInvalidArguments) {
		t.Fatalf("expected entityid validation failure, got %v", err)
	}
	if _, err := tool.Call(context.Background(), json.RawMessage(`{"documentId":"11111111-1111-4111-8111-111111111111","extra":1}`)); !errors.Is(err, ErrInvalidArguments) {
		t.Fatalf("expected unknown field rejection, got %v", err)
	}
}

func TestWordChunker(t *testing.T) {
	var w WordChunker
	var chunks []string
	for _, frag := range []string{"Hel", "lo wo", "rld,  how ", "are", " you"} {
		chunks = append(chunks, w.Push(frag)...)
	}
	if rest := w.Flush(); rest != "" {
		chunks = append(chunks, rest)
	}
	want := []string{"Hello ", "world,  ", "how ", "are ", "you"}
	if strings.Join(chunks, "|") != strings.Join(want, "|") {
		t.Fatalf("unexpected chunks: %q", chunks)
	}
}

func TestToolCallIDDefaultsEmpty(t *testing.T) {
	if got := ToolCallID(context.Background()); got != "" {
		t.Fatalf("ToolCallID on bare context = %q", got)
	}
	if got := ToolCallID(WithToolCallID(context.Background(), "call_7")); got != "call_7" {
		t.Fatalf("ToolCallID = %q, want call_7", got)
	}
}
