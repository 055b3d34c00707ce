package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/PipeOpsHQ/opsbrain/policy"
	"github.com/PipeOpsHQ/opsbrain/types"
)

var ErrUnknownTool = errors.New("unknown tool")

type approvalKey struct{}

// WithApproval marks ctx as carrying an explicit human approval.
func WithApproval(ctx context.Context, approved bool) context.Context {
	return context.WithValue(ctx, approvalKey{}, approved)
}

// ApprovedFromContext reports whether the current execution was approved.
func ApprovedFromContext(ctx context.Context) bool {
	v, _ := ctx.Value(approvalKey{}).(bool)
	return v
}

// Registry maps tool names to implementations. Every execution consults
// the policy engine first.
type Registry struct {
	mu     sync.RWMutex
	tools  map[string]Tool
	policy *policy.Engine
}

func NewRegistry(engine *policy.Engine) *Registry {
	return &Registry{tools: map[string]Tool{}, policy: engine}
}

func (r *Registry) Policy() *policy.Engine { return r.policy }

func (r *Registry) Register(t Tool) error {
	if t == nil {
		return fmt.Errorf("tool is required")
	}
	name := strings.TrimSpace(t.Definition().Name)
	if name == "" {
		return fmt.Errorf("tool name is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("tool %q already registered", name)
	}
	r.tools[name] = t
	return nil
}

func (r *Registry) MustRegister(t Tool) {
	if err := r.Register(t); err != nil {
		panic(err)
	}
}

func (r *Registry) Lookup(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.tools))
	for n := range r.tools {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Catalog returns definitions annotated with the policy's risk and approval
// requirement.
func (r *Registry) Catalog() []types.ToolDefinition {
	r.mu.RLock()
	out := make([]types.ToolDefinition, 0, len(r.tools))
	for name, t := range r.tools {
		def := t.Definition()
		if rule, ok := r.policy.ToolRule(name); ok {
			def.Risk = rule.Risk
			def.RequiresApproval = rule.RequiresApproval
		}
		out = append(out, def)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Validate checks raw against the named tool's schema and returns the
// normalized input.
func (r *Registry) Validate(name string, raw json.RawMessage) (json.RawMessage, error) {
	t, ok := r.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownTool, name)
	}
	return t.Validate(raw)
}

// Execute re-checks policy, validates and runs the tool. No retries. A
// panicking executor is reported as an error.
func (r *Registry) Execute(ctx context.Context, name string, input json.RawMessage, approved bool) (out any, err error) {
	defer func() {
		if p := recover(); p != nil {
			out, err = nil, fmt.Errorf("tool %s panicked: %v", name, p)
		}
	}()
	if err := policy.Require(r.policy.EvaluateToolExecution(name, approved)); err != nil {
		return nil, err
	}
	t, ok := r.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownTool, name)
	}
	normalized, err := t.Validate(input)
	if err != nil {
		return nil, err
	}
	return t.Execute(WithApproval(ctx, approved), normalized)
}
