// Package aitest provides scripted models for tests of code built on pkg/ai.
package aitest

import (
	"context"
	"errors"
	"io"
	"sync"

	"deathmatter/pkg/ai"
)

// ScriptedModel replays one scripted step per StreamChat call and records
// every request it receives.
type ScriptedModel struct {
	mu       sync.Mutex
	steps    [][]ai.Delta
	requests []ai.ChatRequest
	// Err, when set, is returned by StreamChat instead of a stream.
	Err error
}

func NewScriptedModel(steps ...[]ai.Delta) *ScriptedModel {
	return &ScriptedModel{steps: steps}
}

func (m *ScriptedModel) StreamChat(_ context.Context, req ai.ChatRequest) (ai.ChatStream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)
	if m.Err != nil {
		return nil, m.Err
	}
	if len(m.steps) == 0 {
		return nil, errors.New("aitest: no scripted step left")
	}
	step := m.steps[0]
	m.steps = m.steps[1:]
	return &stream{deltas: step}, nil
}

// Push appends steps to the script.
func (m *ScriptedModel) Push(steps ...[]ai.Delta) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.steps = append(m.steps, steps...)
}

// Requests returns a copy of the requests seen so far.
func (m *ScriptedModel) Requests() []ai.ChatRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ai.ChatRequest(nil), m.requests...)
}

type stream struct {
	deltas []ai.Delta
	closed bool
}

func (s *stream) Recv() (ai.Delta, error) {
	if s.closed || len(s.deltas) == 0 {
		return ai.Delta{}, io.EOF
	}
	d := s.deltas[0]
	s.deltas = s.deltas[1:]
	return d, nil
}

func (s *stream) Close() error {
	s.closed = true
	return nil
}

// Text is a step that streams the given fragments and stops.
func Text(fragments ...string) []ai.Delta {
	out := make([]ai.Delta, 0, len(fragments)+1)
	for _, f := range fragments {
		out = append(out, ai.Delta{Text: f})
	}
	return append(out, ai.Delta{FinishReason: "stop", Usage: &ai.Usage{PromptTokens: 10, CompletionTokens: len(fragments), TotalTokens: 10 + len(fragments)}})
}

// ToolCall is a step that optionally says something and then calls one tool.
func ToolCall(text, id, name, arguments string) []ai.Delta {
	var out []ai.Delta
	if text != "" {
		out = append(out, ai.Delta{Text: text})
	}
	return append(out, ai.Delta{
		ToolCalls:    []ai.ToolCallDelta{{Index: 0, ID: id, Name: name, Arguments: arguments}},
		FinishReason: "tool_calls",
	})
}

// StaticText is a TextGenerator that always returns the same answer.
type StaticText struct {
	Text string
	Err  error
}

func (s StaticText) GenerateText(context.Context, string, string) (string, error) {
	return s.Text, s.Err
}
