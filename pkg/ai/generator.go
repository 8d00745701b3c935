package ai

import (
	"context"
	"encoding/json"
)

// TextGenerator generates text from a system prompt and user prompt.
// Used for short one-shot tasks such as chat titles.
type TextGenerator interface {
	GenerateText(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// ChatModel opens one streamed completion over a conversation.
type ChatModel interface {
	StreamChat(ctx context.Context, req ChatRequest) (ChatStream, error)
}

// ChatStream yields deltas until io.EOF.
type ChatStream interface {
	Recv() (Delta, error)
	Close() error
}

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

type Message struct {
	Role       Role
	Content    string
	ToolCalls  []ToolCall
	ToolCallID string
}

type ToolCall struct {
	ID        string
	Name      string
	Arguments string
}

// ToolSpec is the model-facing declaration of a tool.
type ToolSpec struct {
	Name        string
	Description string
	Parameters  json.RawMessage
}

type ChatRequest struct {
	System    string
	Messages  []Message
	MaxTokens int
	Tools     []ToolSpec
}

type Usage struct {
	PromptTokens     int `json:"promptTokens"`
	CompletionTokens int `json:"completionTokens"`
	TotalTokens      int `json:"totalTokens"`
}

func (u *Usage) add(o Usage) {
	u.PromptTokens += o.PromptTokens
	u.CompletionTokens += o.CompletionTokens
	u.TotalTokens += o.TotalTokens
}

// Delta is one streamed chunk. Tool call fragments with the same Index
// belong to the same call.
type Delta struct {
	Text         string
	ToolCalls    []ToolCallDelta
	FinishReason string
	Usage        *Usage
}

type ToolCallDelta struct {
	Index     int
	ID        string
	Name      string
	Arguments string
}
