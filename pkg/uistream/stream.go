// Package uistream merges model text and structured tool events into one
// ordered stream of UI message parts.
//
// A Stream has exactly one producer (the Execute callback, run on its own
// goroutine) and one consumer (whoever drains Parts or calls WriteSSE).
// Sends are unbuffered, so the consumer observes parts in production order.
package uistream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"deathmatter/pkg/domain"
	"deathmatter/pkg/ids"
)

const (
	TypeStart     = "start"
	TypeTextStart = "text-start"
	TypeTextDelta = "text-delta"
	TypeTextEnd   = "text-end"
	TypeError     = "error"
	TypeFinish    = "finish"

	dataPrefix = "data-"
)

// Part is one element of the stream. Structured events use Type "data-<name>".
type Part struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	Delta     string `json:"delta,omitempty"`
	Data      any    `json:"data,omitempty"`
	ErrorText string `json:"errorText,omitempty"`
	MessageID string `json:"messageId,omitempty"`
}

// IsData reports whether p is a structured event.
func (p Part) IsData() bool { return strings.HasPrefix(p.Type, dataPrefix) }

// Summary describes a finished stream.
type Summary struct {
	MessageID string
	// Parts is the assistant message assembled from everything produced:
	// text deltas joined per block, data events collapsed to their last state.
	Parts    []domain.Part
	Err      error
	Canceled bool
}

type Options struct {
	MessageID string
	Execute   func(ctx context.Context, w *Writer) error
	// OnFinish runs once after Execute returns, before the stream closes. Its
	// context is detached from the request so persistence survives an abort.
	OnFinish func(ctx context.Context, s Summary)
	// ErrorText renders an Execute error for the client. Defaults to a generic message.
	ErrorText func(error) string
}

type Stream struct {
	parts  chan Part
	cancel context.CancelFunc
	done   chan struct{}
}

// New starts the producer goroutine.
func New(ctx context.Context, opts Options) *Stream {
	ctx, cancel := context.WithCancel(ctx)
	if opts.MessageID == "" {
		opts.MessageID = ids.New()
	}
	s := &Stream{
		parts:  make(chan Part),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go s.run(ctx, opts)
	return s
}

func (s *Stream) run(ctx context.Context, opts Options) {
	defer close(s.done)
	defer close(s.parts)
	defer s.cancel()

	w := &Writer{ctx: ctx, out: s.parts}
	err := w.send(Part{Type: TypeStart, MessageID: opts.MessageID})
	if err == nil && opts.Execute != nil {
		err = opts.Execute(ctx, w)
	}
	if err == nil {
		err = w.EndText()
	} else {
		_ = w.EndText()
	}
	canceled := ctx.Err() != nil
	if err != nil && !canceled {
		text := "An error occurred."
		if opts.ErrorText != nil {
			text = opts.ErrorText(err)
		}
		_ = w.send(Part{Type: TypeError, ErrorText: text})
	}
	if !canceled {
		_ = w.send(Part{Type: TypeFinish})
	}
	if opts.OnFinish != nil {
		if canceled && err == nil {
			err = ctx.Err()
		}
		opts.OnFinish(context.WithoutCancel(ctx), Summary{
			MessageID: opts.MessageID,
			Parts:     w.assembled(),
			Err:       err,
			Canceled:  canceled,
		})
	}
}

// Parts returns the consumer side of the stream. It closes after OnFinish.
func (s *Stream) Parts() <-chan Part { return s.parts }

// Cancel stops the producer. Parts already produced are not rolled back.
func (s *Stream) Cancel() { s.cancel() }

// Wait blocks until the producer and OnFinish have returned.
func (s *Stream) Wait() { <-s.done }

// WriteSSE drains the stream as server-sent events, flushing after each part.
// If the client goes away, the producer is canceled and the rest is discarded.
func (s *Stream) WriteSSE(w http.ResponseWriter) error {
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Vercel-AI-UI-Message-Stream", "v1")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	rc := http.NewResponseController(w)

	var writeErr error
	for p := range s.parts {
		if writeErr != nil {
			continue
		}
		raw, err := json.Marshal(p)
		if err != nil {
			writeErr = fmt.Errorf("encode part: %w", err)
			s.cancel()
			continue
		}
		if writeErr = writeEvent(w, rc, string(raw)); writeErr != nil {
			s.cancel()
		}
	}
	s.Wait()
	if writeErr != nil {
		return writeErr
	}
	return writeEvent(w, rc, "[DONE]")
}

// WriteText drains the stream as plain text, dropping structured events.
func (s *Stream) WriteText(w http.ResponseWriter) error {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	rc := http.NewResponseController(w)
	var writeErr error
	for p := range s.parts {
		if writeErr != nil || p.Type != TypeTextDelta {
			continue
		}
		if _, err := io.WriteString(w, p.Delta); err != nil {
			writeErr = err
			s.cancel()
			continue
		}
		if err := rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
			writeErr = err
			s.cancel()
		}
	}
	s.Wait()
	return writeErr
}

func writeEvent(w io.Writer, rc *http.ResponseController, payload string) error {
	if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
		return err
	}
	if err := rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
		return err
	}
	return nil
}

// Writer is the producer handle passed to Execute. It is not safe for
// concurrent use; tool handlers run on the producer goroutine.
type Writer struct {
	ctx    context.Context
	out    chan<- Part
	textID string

	parts   []domain.Part
	textIdx map[string]int
	dataIdx map[string]int
}

// WriteText appends a text delta, opening a text block if none is open.
func (w *Writer) WriteText(delta string) error {
	if delta == "" {
		return nil
	}
	if w.textID == "" {
		w.textID = ids.New()
		if err := w.send(Part{Type: TypeTextStart, ID: w.textID}); err != nil {
			return err
		}
	}
	return w.send(Part{Type: TypeTextDelta, ID: w.textID, Delta: delta})
}

// EndText closes the open text block, if any.
func (w *Writer) EndText() error {
	if w.textID == "" {
		return nil
	}
	id := w.textID
	w.textID = ""
	return w.send(Part{Type: TypeTextEnd, ID: id})
}

// WriteData emits a structured event named "data-<name>". Events sharing an
// id update the same logical part.
func (w *Writer) WriteData(name, id string, data any) error {
	if err := w.EndText(); err != nil {
		return err
	}
	return w.send(Part{Type: dataPrefix + name, ID: id, Data: data})
}

func (w *Writer) send(p Part) error {
	if err := w.ctx.Err(); err != nil {
		return err
	}
	w.record(p)
	select {
	case w.out <- p:
		return nil
	case <-w.ctx.Done():
		return w.ctx.Err()
	}
}

func (w *Writer) record(p Part) {
	if w.textIdx == nil {
		w.textIdx = make(map[string]int)
		w.dataIdx = make(map[string]int)
	}
	switch {
	case p.Type == TypeTextDelta:
		if i, ok := w.textIdx[p.ID]; ok {
			w.parts[i].Text += p.Delta
			return
		}
		w.textIdx[p.ID] = len(w.parts)
		w.parts = append(w.parts, domain.Part{Type: "text", Text: p.Delta})
	case p.IsData():
		raw, err := json.Marshal(p.Data)
		if err != nil {
			return
		}
		key := p.Type + "\x00" + p.ID
		if i, ok := w.dataIdx[key]; ok {
			w.parts[i].Data = raw
			return
		}
		w.dataIdx[key] = len(w.parts)
		w.parts = append(w.parts, domain.Part{Type: p.Type, ID: p.ID, Data: raw})
	}
}

func (w *Writer) assembled() []domain.Part {
	out := make([]domain.Part, len(w.parts))
	copy(out, w.parts)
	return out
}
