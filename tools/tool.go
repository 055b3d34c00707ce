package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/PipeOpsHQ/opsbrain/types"
	"github.com/invopop/jsonschema"
	"github.com/xeipuuv/gojsonschema"
)

// Tool is one executable action. Validate normalizes raw input and must be
// called before Execute.
type Tool interface {
	Definition() types.ToolDefinition
	Validate(raw json.RawMessage) (json.RawMessage, error)
	Execute(ctx context.Context, input json.RawMessage) (any, error)
}

// ValidationError lists every schema problem found in one input document.
type ValidationError struct {
	Tool     string
	Problems []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid input for %s: %s", e.Tool, strings.Join(e.Problems, "; "))
}

// SchemaTool derives its JSON schema from the input struct T. Unknown
// fields, missing required fields and out-of-range values are rejected
// rather than clamped.
type SchemaTool[T any] struct {
	def      types.ToolDefinition
	schema   *gojsonschema.Schema
	defaults func(*T)
	check    func(T) error
	run      func(ctx context.Context, in T) (any, error)
}

// Definitions are inlined, so the root schema is the struct itself for
// named and unnamed input types alike.
var reflector = &jsonschema.Reflector{
	DoNotReference: true,
	Anonymous:      true,
}

// SchemaFor reflects the JSON schema of T as a plain map.
func SchemaFor[T any]() (m map[string]any, raw []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			m, raw, err = nil, nil, fmt.Errorf("reflect schema of %T: %v", *new(T), r)
		}
	}()
	s := reflector.Reflect(new(T))
	if s == nil {
		return nil, nil, fmt.Errorf("reflect schema of %T: empty schema", *new(T))
	}
	s.Version = ""
	s.Definitions = nil
	raw, err = json.Marshal(s)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal schema: %w", err)
	}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, nil, fmt.Errorf("decode schema: %w", err)
	}
	return m, raw, nil
}

func NewSchemaTool[T any](name, description string, writes bool, run func(ctx context.Context, in T) (any, error)) (*SchemaTool[T], error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("tool name is required")
	}
	if run == nil {
		return nil, fmt.Errorf("tool %q has no execute function", name)
	}
	m, raw, err := SchemaFor[T]()
	if err != nil {
		return nil, fmt.Errorf("tool %q: %w", name, err)
	}
	compiled, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return nil, fmt.Errorf("tool %q: compile schema: %w", name, err)
	}
	return &SchemaTool[T]{
		def: types.ToolDefinition{
			Name:        name,
			Description: description,
			Writes:      writes,
			JSONSchema:  m,
		},
		schema: compiled,
		run:    run,
	}, nil
}

// WithDefaults sets a hook that fills optional fields after decoding.
func (t *SchemaTool[T]) WithDefaults(fn func(*T)) *SchemaTool[T] {
	t.defaults = fn
	return t
}

// WithCheck adds a semantic check that runs during Validate, after the
// schema passes. Its error is reported as a ValidationError.
func (t *SchemaTool[T]) WithCheck(fn func(T) error) *SchemaTool[T] {
	t.check = fn
	return t
}

func (t *SchemaTool[T]) Definition() types.ToolDefinition {
	return t.def
}

func (t *SchemaTool[T]) Validate(raw json.RawMessage) (json.RawMessage, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		raw = json.RawMessage(`{}`)
	}
	res, err := t.schema.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return nil, &ValidationError{Tool: t.def.Name, Problems: []string{err.Error()}}
	}
	if !res.Valid() {
		problems := make([]string, 0, len(res.Errors()))
		for _, e := range res.Errors() {
			problems = append(problems, e.String())
		}
		return nil, &ValidationError{Tool: t.def.Name, Problems: problems}
	}
	in, err := t.decode(raw)
	if err != nil {
		return nil, err
	}
	if t.check != nil {
		if err := t.check(in); err != nil {
			return nil, &ValidationError{Tool: t.def.Name, Problems: []string{err.Error()}}
		}
	}
	if t.defaults != nil {
		t.defaults(&in)
	}
	out, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("encode %s input: %w", t.def.Name, err)
	}
	return out, nil
}

func (t *SchemaTool[T]) Execute(ctx context.Context, input json.RawMessage) (any, error) {
	in, err := t.decode(input)
	if err != nil {
		return nil, err
	}
	return t.run(ctx, in)
}

func (t *SchemaTool[T]) decode(raw json.RawMessage) (T, error) {
	var in T
	if len(bytes.TrimSpace(raw)) == 0 {
		return in, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&in); err != nil {
		return in, &ValidationError{Tool: t.def.Name, Problems: []string{err.Error()}}
	}
	return in, nil
}
