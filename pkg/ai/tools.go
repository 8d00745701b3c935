package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/invopop/jsonschema"

	"deathmatter/pkg/ids"
)

var (
	ErrUnknownTool      = errors.New("ai: unknown tool")
	ErrInvalidArguments = errors.New("ai: invalid tool arguments")
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := ids.RegisterValidation(v); err != nil {
		panic(err)
	}
	return v
}

// Tool is a named capability the model may call mid-generation.
type Tool interface {
	Spec() ToolSpec
	Call(ctx context.Context, args json.RawMessage) (any, error)
}

// FuncTool adapts a typed handler into a Tool. The JSON schema comes from
// In's struct tags; arguments are decoded strictly and then validated with
// `validate` tags before fn runs.
type FuncTool[In, Out any] struct {
	spec ToolSpec
	fn   func(context.Context, In) (Out, error)
}

// NewTool builds a FuncTool. In must be a struct type.
func NewTool[In, Out any](name, description string, fn func(context.Context, In) (Out, error)) *FuncTool[In, Out] {
	r := &jsonschema.Reflector{DoNotReference: true, Anonymous: true}
	schema := r.Reflect(new(In))
	schema.Version = ""
	params, err := json.Marshal(schema)
	if err != nil {
		panic(fmt.Sprintf("tool %s: schema: %v", name, err))
	}
	return &FuncTool[In, Out]{
		spec: ToolSpec{Name: name, Description: description, Parameters: params},
		fn:   fn,
	}
}

func (t *FuncTool[In, Out]) Spec() ToolSpec { return t.spec }

func (t *FuncTool[In, Out]) Call(ctx context.Context, args json.RawMessage) (any, error) {
	in, err := t.decode(args)
	if err != nil {
		return nil, err
	}
	return t.fn(ctx, in)
}

func (t *FuncTool[In, Out]) decode(args json.RawMessage) (In, error) {
	var in In
	if len(bytes.TrimSpace(args)) == 0 {
		args = json.RawMessage("{}")
	}
	dec := json.NewDecoder(bytes.NewReader(args))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&in); err != nil {
		return in, fmt.Errorf("%w: %s: %v", ErrInvalidArguments, t.spec.Name, err)
	}
	if err := validate.Struct(in); err != nil {
		return in, fmt.Errorf("%w: %s: %v", ErrInvalidArguments, t.spec.Name, err)
	}
	return in, nil
}

// Toolset is a registry of tools keyed by name.
type Toolset struct {
	tools map[string]Tool
}

func NewToolset(tools ...Tool) *Toolset {
	ts := &Toolset{tools: make(map[string]Tool, len(tools))}
	for _, t := range tools {
		ts.tools[t.Spec().Name] = t
	}
	return ts
}

// Specs returns tool declarations sorted by name.
func (ts *Toolset) Specs() []ToolSpec {
	if ts == nil {
		return nil
	}
	out := make([]ToolSpec, 0, len(ts.tools))
	for _, t := range ts.tools {
		out = append(out, t.Spec())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (ts *Toolset) Lookup(name string) (Tool, bool) {
	if ts == nil {
		return nil, false
	}
	t, ok := ts.tools[strings.TrimSpace(name)]
	return t, ok
}

// Dispatch runs the named tool and returns its JSON-encoded result. Errors
// are also rendered as a JSON result so the model can see what went wrong.
func (ts *Toolset) Dispatch(ctx context.Context, name, args string) (string, error) {
	t, ok := ts.Lookup(name)
	if !ok {
		err := fmt.Errorf("%w: %s", ErrUnknownTool, name)
		return errorResult(err), err
	}
	out, err := t.Call(ctx, json.RawMessage(args))
	if err != nil {
		return errorResult(err), err
	}
	raw, err := json.Marshal(out)
	if err != nil {
		return errorResult(err), err
	}
	return string(raw), nil
}

type toolCallIDKey struct{}

// WithToolCallID records the model's id for the tool call being dispatched.
func WithToolCallID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, toolCallIDKey{}, id)
}

// ToolCallID returns the id of the tool call running under ctx, or "".
func ToolCallID(ctx context.Context) string {
	id, _ := ctx.Value(toolCallIDKey{}).(string)
	return id
}

func errorResult(err error) string {
	raw, _ := json.Marshal(map[string]string{"error": err.Error()})
	return string(raw)
}
