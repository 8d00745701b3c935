package ai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
)

const defaultMaxSteps = 5

// Generator runs multi-step generations: text streams until the model asks
// for tools, the tools run, their results are appended, and generation resumes.
type Generator struct {
	Model ChatModel
	// MaxSteps bounds the number of model calls per generation.
	MaxSteps int
	// OnToolCall, when set, observes every dispatched tool call.
	OnToolCall func(name string, err error)
}

// Stream starts a generation. Nothing is sent until the first Next call.
func (g *Generator) Stream(ctx context.Context, req ChatRequest, tools *Toolset) *TextStream {
	ctx, cancel := context.WithCancel(ctx)
	maxSteps := g.MaxSteps
	if maxSteps <= 0 {
		maxSteps = defaultMaxSteps
	}
	if tools != nil && len(req.Tools) == 0 {
		req.Tools = tools.Specs()
	}
	req.Messages = append([]Message(nil), req.Messages...)
	return &TextStream{
		ctx:        ctx,
		cancel:     cancel,
		model:      g.Model,
		req:        req,
		tools:      tools,
		maxSteps:   maxSteps,
		onToolCall: g.OnToolCall,
		calls:      make(map[int]*ToolCall),
	}
}

// TextStream is a lazy, finite, non-restartable sequence of text fragments.
//
//	for s.Next() {
//		fmt.Print(s.Text())
//	}
//	if err := s.Err(); err != nil { ... }
type TextStream struct {
	ctx        context.Context
	cancel     context.CancelFunc
	model      ChatModel
	req        ChatRequest
	tools      *Toolset
	maxSteps   int
	onToolCall func(string, error)

	cur      ChatStream
	steps    int
	fragment string
	stepText strings.Builder
	full     strings.Builder
	calls    map[int]*ToolCall
	usage    Usage
	err      error
	done     bool
}

// Next advances to the next text fragment. Tool calls requested by the model
// are executed inside Next before generation continues.
func (s *TextStream) Next() bool {
	for !s.done {
		if err := s.ctx.Err(); err != nil {
			s.fail(err)
			return false
		}
		if s.cur == nil {
			if s.steps >= s.maxSteps {
				s.finish()
				return false
			}
			cur, err := s.model.StreamChat(s.ctx, s.req)
			if err != nil {
				s.fail(err)
				return false
			}
			s.cur = cur
			s.steps++
		}
		d, err := s.cur.Recv()
		if errors.Is(err, io.EOF) {
			_ = s.cur.Close()
			s.cur = nil
			if len(s.calls) == 0 {
				s.finish()
				return false
			}
			if err := s.runTools(); err != nil {
				s.fail(err)
				return false
			}
			continue
		}
		if err != nil {
			if ctxErr := s.ctx.Err(); ctxErr != nil {
				err = ctxErr
			}
			s.fail(fmt.Errorf("model stream: %w", err))
			return false
		}
		if d.Usage != nil {
			s.usage.add(*d.Usage)
		}
		for _, tc := range d.ToolCalls {
			call := s.calls[tc.Index]
			if call == nil {
				call = &ToolCall{}
				s.calls[tc.Index] = call
			}
			if tc.ID != "" {
				call.ID = tc.ID
			}
			if tc.Name != "" {
				call.Name = tc.Name
			}
			call.Arguments += tc.Arguments
		}
		if d.Text != "" {
			s.fragment = d.Text
			s.stepText.WriteString(d.Text)
			s.full.WriteString(d.Text)
			return true
		}
	}
	return false
}

func (s *TextStream) runTools() error {
	indexes := make([]int, 0, len(s.calls))
	for idx := range s.calls {
		indexes = append(indexes, idx)
	}
	sort.Ints(indexes)
	calls := make([]ToolCall, 0, len(indexes))
	for i, idx := range indexes {
		call := *s.calls[idx]
		if call.ID == "" {
			call.ID = fmt.Sprintf("call_%d_%d", s.steps, i)
		}
		calls = append(calls, call)
	}
	s.req.Messages = append(s.req.Messages, Message{
		Role:      RoleAssistant,
		Content:   s.stepText.String(),
		ToolCalls: calls,
	})
	for _, call := range calls {
		result, err := s.tools.Dispatch(WithToolCallID(s.ctx, call.ID), call.Name, call.Arguments)
		if s.onToolCall != nil {
			s.onToolCall(call.Name, err)
		}
		if ctxErr := s.ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		s.req.Messages = append(s.req.Messages, Message{
			Role:       RoleTool,
			Content:    result,
			ToolCallID: call.ID,
		})
	}
	s.stepText.Reset()
	s.calls = make(map[int]*ToolCall)
	return nil
}

func (s *TextStream) fail(err error) {
	if s.err == nil {
		s.err = err
	}
	s.finish()
}

func (s *TextStream) finish() {
	s.done = true
	s.fragment = ""
	if s.cur != nil {
		_ = s.cur.Close()
		s.cur = nil
	}
	s.cancel()
}

// Text returns the fragment produced by the last successful Next.
func (s *TextStream) Text() string { return s.fragment }

// Err returns the error that ended the stream, if any.
func (s *TextStream) Err() error { return s.err }

// Usage returns token usage summed over all steps so far.
func (s *TextStream) Usage() Usage { return s.usage }

// FullText returns every fragment emitted so far.
func (s *TextStream) FullText() string { return s.full.String() }

// Steps returns the number of model calls made.
func (s *TextStream) Steps() int { return s.steps }

// Close stops the generation and releases the connection. Further output is discarded.
func (s *TextStream) Close() {
	if !s.done {
		s.finish()
	}
}
