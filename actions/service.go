package actions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/PipeOpsHQ/opsbrain/ledger"
	"github.com/PipeOpsHQ/opsbrain/observe"
	"github.com/PipeOpsHQ/opsbrain/policy"
	"github.com/PipeOpsHQ/opsbrain/tools"
	"github.com/PipeOpsHQ/opsbrain/types"
)

var (
	// ErrApprovalRequired is returned by Dispatch when the tool cannot run
	// unattended. The run stays proposed.
	ErrApprovalRequired = errors.New("approval required")
	ErrRunFailed        = errors.New("tool run failed")
)

// Outcome is the ledger record after an operation plus, for executed runs,
// the in-memory tool result.
type Outcome struct {
	Run    ledger.ToolRun
	Result any
}

// Err reports a run that ended in error.
func (o Outcome) Err() error {
	if o.Run.Status != ledger.StatusError {
		return nil
	}
	return fmt.Errorf("%w: %s: %s", ErrRunFailed, o.Run.ToolName, o.Run.Error)
}

type Option func(*Service)

func WithProposer(p Proposer) Option {
	return func(s *Service) {
		if p != nil {
			s.proposer = p
		}
	}
}

func WithSink(sink observe.Sink) Option {
	return func(s *Service) {
		if sink != nil {
			s.sink = sink
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithAutoExecute enables operate mode: proposals for tools that need no
// approval run immediately.
func WithAutoExecute(enabled bool) Option {
	return func(s *Service) { s.autoExecute = enabled }
}

type Service struct {
	store       ledger.Store
	registry    *tools.Registry
	proposer    Proposer
	sink        observe.Sink
	now         func() time.Time
	autoExecute bool
}

func NewService(store ledger.Store, registry *tools.Registry, opts ...Option) *Service {
	s := &Service{
		store:    store,
		registry: registry,
		proposer: NewKeywordProposer(),
		sink:     observe.NoopSink{},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) Registry() *tools.Registry { return s.registry }

func (s *Service) AutoExecute() bool { return s.autoExecute }

// Propose records call as a proposed run. Input is stored verbatim.
func (s *Service) Propose(ctx context.Context, sessionID, messageID string, call types.ToolCall) (ledger.ToolRun, error) {
	run := ledger.New(sessionID, messageID, call.Name, call.Input, s.now())
	if err := ledger.Create(ctx, s.store, run); err != nil {
		return ledger.ToolRun{}, fmt.Errorf("record proposal: %w", err)
	}
	s.emit(ctx, run, "", "")
	log.Debug().Str("component", "actions").Str("run_id", run.ID).Str("tool", run.ToolName).Msg("tool_run_proposed")
	return run, nil
}

// ProposeFromMessage records every candidate the proposer finds in text.
// In operate mode candidates that may run unattended are executed right
// away.
func (s *Service) ProposeFromMessage(ctx context.Context, sessionID, messageID, text string) ([]Outcome, error) {
	calls := s.proposer.Propose(text)
	out := make([]Outcome, 0, len(calls))
	for _, call := range calls {
		run, err := s.Propose(ctx, sessionID, messageID, call)
		if err != nil {
			return out, err
		}
		if !s.autoExecute || !s.registry.Policy().CanRunUnattended(call.Name) {
			out = append(out, Outcome{Run: run})
			continue
		}
		outcome, err := s.approveAndRun(ctx, run.ID, ledger.ActorAuto, false)
		if err != nil {
			return out, err
		}
		out = append(out, outcome)
	}
	return out, nil
}

// Decide approves or rejects a proposed run. An approved run is validated,
// checked against policy again and executed once; any failure along that
// path ends the run in error and is reported through the Outcome, not the
// returned error.
func (s *Service) Decide(ctx context.Context, id string, approved bool) (Outcome, error) {
	if !approved {
		run, err := s.advance(ctx, id, ledger.ActorUser, func(r *ledger.ToolRun) error {
			return r.Transition(ledger.StatusRejected, s.now())
		})
		if err != nil {
			return Outcome{}, err
		}
		return Outcome{Run: run}, nil
	}
	return s.approveAndRun(ctx, id, ledger.ActorUser, true)
}

// Dispatch records and, when policy allows unattended execution, runs a
// tool on behalf of origin. Tools that need approval are left proposed.
func (s *Service) Dispatch(ctx context.Context, origin, toolName string, input json.RawMessage) (Outcome, error) {
	run, err := s.Propose(ctx, origin, "", types.ToolCall{Name: toolName, Input: input})
	if err != nil {
		return Outcome{}, err
	}
	decision := s.registry.Policy().EvaluateToolExecution(toolName, false)
	if decision.Code == policy.CodeToolApprovalRequired {
		return Outcome{Run: run}, fmt.Errorf("%w: %s", ErrApprovalRequired, toolName)
	}
	outcome, err := s.approveAndRun(ctx, run.ID, ledger.ActorAutomation, false)
	if err != nil {
		return outcome, err
	}
	return outcome, outcome.Err()
}

func (s *Service) Get(ctx context.Context, id string) (ledger.ToolRun, error) {
	return s.store.Get(ctx, id)
}

func (s *Service) List(ctx context.Context, query ledger.ListQuery) ([]ledger.ToolRun, error) {
	return s.store.List(ctx, query)
}

func (s *Service) approveAndRun(ctx context.Context, id, actor string, approved bool) (Outcome, error) {
	run, err := s.advance(ctx, id, actor, func(r *ledger.ToolRun) error {
		return r.Transition(ledger.StatusApproved, s.now())
	})
	if err != nil {
		return Outcome{}, err
	}
	// Once approved the run must reach a terminal state even if the caller
	// gives up.
	finish := context.WithoutCancel(ctx)

	normalized, err := s.registry.Validate(run.ToolName, run.Input)
	if err != nil {
		return s.fail(finish, run, actor, err.Error())
	}

	decision := s.registry.Policy().EvaluateToolExecution(run.ToolName, approved)
	if !decision.Allowed {
		return s.fail(finish, run, actor, decision.String())
	}

	started := s.now()
	result, err := s.registry.Execute(ctx, run.ToolName, normalized, approved)
	if err != nil {
		log.Warn().Str("component", "actions").Str("run_id", run.ID).Str("tool", run.ToolName).Err(err).Msg("tool_run_failed")
		return s.fail(finish, run, actor, err.Error())
	}
	encoded, err := json.Marshal(result)
	if err != nil {
		return s.fail(finish, run, actor, fmt.Sprintf("encode result: %v", err))
	}

	done, err := s.advance(finish, run.ID, actor, func(r *ledger.ToolRun) error {
		return r.Succeed(encoded, s.now())
	})
	if err != nil {
		return Outcome{Run: run}, err
	}
	log.Info().Str("component", "actions").Str("run_id", done.ID).Str("tool", done.ToolName).
		Dur("elapsed", s.now().Sub(started)).Msg("tool_run_executed")
	return Outcome{Run: done, Result: result}, nil
}

func (s *Service) fail(ctx context.Context, run ledger.ToolRun, actor, msg string) (Outcome, error) {
	failed, err := s.advance(ctx, run.ID, actor, func(r *ledger.ToolRun) error {
		return r.Fail(msg, s.now())
	})
	if err != nil {
		return Outcome{Run: run}, err
	}
	return Outcome{Run: failed}, nil
}

// advance applies one transition in its own unit of work and emits the
// matching event. A lost race against a concurrent writer is reported as
// ErrNotProposed since the run moved on.
func (s *Service) advance(ctx context.Context, id, actor string, mutate func(*ledger.ToolRun) error) (ledger.ToolRun, error) {
	var from ledger.Status
	run, err := ledger.Advance(ctx, s.store, id, func(r *ledger.ToolRun) error {
		from = r.Status
		if err := mutate(r); err != nil {
			return err
		}
		r.Actor = actor
		return nil
	})
	if errors.Is(err, ledger.ErrConflict) && from == ledger.StatusProposed {
		err = fmt.Errorf("%w: %v", ledger.ErrNotProposed, err)
	}
	if err != nil {
		return ledger.ToolRun{}, err
	}
	s.emit(ctx, run, string(from), run.Error)
	return run, nil
}

func (s *Service) emit(ctx context.Context, run ledger.ToolRun, from, errMsg string) {
	event := observe.ToolRunEvent(run.ID, run.SessionID, run.ToolName, from, string(run.Status), errMsg)
	if err := s.sink.Emit(ctx, event); err != nil {
		log.Warn().Str("component", "actions").Err(err).Msg("event_emit_failed")
	}
}
