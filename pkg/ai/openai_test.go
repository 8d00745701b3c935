package ai

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestOpenAIClientStreamChat(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("unexpected auth header %q", got)
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		w.Header().Set("Content-Type", "text/event-stream")
		chunks := []string{
			`{"id":"1","object":"chat.completion.chunk","created":1,"model":"m","choices":[{"index":0,"delta":{"role":"assistant","content":"Hi"}}]}`,
			`{"id":"1","object":"chat.completion.chunk","created":1,"model":"m","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"id":"call_1","type":"function","function":{"name":"echo","arguments":"{\"word\":\"x\"}"}}]},"finish_reason":"tool_calls"}]}`,
			`{"id":"1","object":"chat.completion.chunk","created":1,"model":"m","choices":[],"usage":{"prompt_tokens":3,"completion_tokens":4,"total_tokens":7}}`,
		}
		for _, c := range chunks {
			_, _ = io.WriteString(w, "data: "+c+"\n\n")
		}
		_, _ = io.WriteString(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	client, err := NewOpenAIClient(OpenAIConfig{APIKey: "sk-test", BaseURL: srv.URL + "/v1", Model: "gpt-4o-mini"})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	tool := NewTool("echo", "Echo.", func(_ context.Context, in echoInput) (echoOutput, error) { return echoOutput{}, nil })
	stream, err := client.StreamChat(context.Background(), ChatRequest{
		System:    "be brief",
		Messages:  []Message{{Role: RoleUser, Content: "hello"}},
		MaxTokens: 50,
		Tools:     []ToolSpec{tool.Spec()},
	})
	if err != nil {
		t.Fatalf("stream chat: %v", err)
	}
	defer stream.Close()

	var deltas []Delta
	for {
		d, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("recv: %v", err)
		}
		deltas = append(deltas, d)
	}
	if len(deltas) != 3 {
		t.Fatalf("expected 3 deltas, got %d", len(deltas))
	}
	if deltas[0].Text != "Hi" {
		t.Fatalf("unexpected text delta: %+v", deltas[0])
	}
	if len(deltas[1].ToolCalls) != 1 || deltas[1].ToolCalls[0].Name != "echo" || deltas[1].FinishReason != "tool_calls" {
		t.Fatalf("unexpected tool call delta: %+v", deltas[1])
	}
	if deltas[2].Usage == nil || deltas[2].Usage.TotalTokens != 7 {
		t.Fatalf("unexpected usage delta: %+v", deltas[2])
	}

	if body["model"] != "gpt-4o-mini" || body["stream"] != true {
		t.Fatalf("unexpected request body: %v", body)
	}
	msgs, _ := body["messages"].([]any)
	if len(msgs) != 2 {
		t.Fatalf("expected system + user messages, got %d", len(msgs))
	}
	tools, _ := body["tools"].([]any)
	if len(tools) != 1 {
		t.Fatalf("expected tool declaration, got %v", body["tools"])
	}
}

func TestOpenAIClientGenerateText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"1","object":"chat.completion","created":1,"model":"m","choices":[{"index":0,"message":{"role":"assistant","content":"  Remembering Ada  "},"finish_reason":"stop"}]}`)
	}))
	defer srv.Close()

	client, err := NewOpenAIClient(OpenAIConfig{BaseURL: srv.URL + "/v1", Model: "m"})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	text, err := client.GenerateText(context.Background(), "title it", "Make it shorter")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if text != "Remembering Ada" {
		t.Fatalf("unexpected text %q", text)
	}
}

func TestOpenAIClientRequiresModel(t *testing.T) {
	if _, err := NewOpenAIClient(OpenAIConfig{}); err == nil {
		t.Fatalf("expected error for missing model")
	}
}
