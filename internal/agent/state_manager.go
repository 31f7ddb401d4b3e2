// internal/agent/state_manager.go
package agent

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/wayfarer-cli/internal/config"
	"github.com/xkilldash9x/wayfarer-cli/internal/retrypolicy"
	"github.com/xkilldash9x/wayfarer-cli/internal/toolcall"
)

// Bounds for the diagnostic side-structures. History has its own configured
// bound; contexts and trace use fixed caps with evict-oldest-half semantics.
const (
	maxContexts    = 100
	contextsTrimTo = 50
	maxTraceEvents = 200
	traceTrimTo    = 100
)

// ErrNoActiveContext is returned by GetActiveContext before any context has
// been created.
var ErrNoActiveContext = fmt.Errorf("state manager not initialized: %w", retrypolicy.ErrPrecondition)

// ErrStepAbandoned is returned when a write targets a step that was already
// rolled back by the act timeout. The in-flight cycle for that step may still
// be unwinding; its writes are rejected rather than raced.
var ErrStepAbandoned = errors.New("step abandoned")

// StateManager owns context creation and chaining, the history arena, and the
// process trace. All mutation happens under a single exclusive critical
// section per agent instance. Violated invariants raise immediately; they
// indicate bugs, not runtime conditions.
type StateManager struct {
	logger    *zap.Logger
	cfg       config.AgentConfig
	sessionID string

	mu       sync.Mutex
	history  *AgentHistory
	trace    []TraceEvent
	contexts []*ExecutionContext
	active   *ExecutionContext

	// lastAbandonedStep is the highest step rolled back by the act timeout.
	// Trace events at or below it are dropped; steps only ever advance, so a
	// single watermark suffices.
	lastAbandonedStep int
}

// NewStateManager builds a manager for one agent session.
func NewStateManager(logger *zap.Logger, cfg config.AgentConfig, sessionID string) *StateManager {
	return &StateManager{
		logger:    logger.Named("state_manager"),
		cfg:       cfg,
		sessionID: sessionID,
		history:   NewAgentHistory(cfg.MaxHistorySize),
	}
}

// History returns the shared history arena.
func (m *StateManager) History() *AgentHistory {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.history
}

// GetOrCreateActiveContext returns the active execution context, creating the
// session's base context on first use and chaining a fresh context from the
// previous one when opts.MultiAct is set. Chained contexts inherit the
// session id and advance the step counter by exactly one.
func (m *StateManager) GetOrCreateActiveContext(opts ActionOptions) (*ExecutionContext, error) {
	if opts.MultiAct && opts.FromResolve {
		return nil, fmt.Errorf("multiAct cannot be combined with fromResolve: %w", retrypolicy.ErrPrecondition)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active == nil {
		m.active = m.newContextLocked(1, opts.Action, nil)
		m.logger.Debug("Created base execution context.",
			zap.String("session_id", m.sessionID),
			zap.String("instruction", opts.Action))
		return m.active, nil
	}

	// Abandoned contexts are never written again; a follow-up act chains past
	// them even without MultiAct.
	if opts.MultiAct || (m.active.AgentState != nil && m.active.AgentState.abandoned) {
		prev := m.active
		instruction := opts.Action
		if instruction == "" {
			instruction = prev.Instruction
		}
		m.active = m.newContextLocked(prev.Step+1, instruction, prev.AgentState)
		m.logger.Debug("Chained execution context.",
			zap.Int("step", m.active.Step),
			zap.String("session_id", m.sessionID))
	}

	return m.active, nil
}

// newContextLocked builds a context plus its fresh AgentState and appends it
// to the bounded contexts list.
func (m *StateManager) newContextLocked(step int, instruction string, prev *AgentState) *ExecutionContext {
	state := &AgentState{
		Instruction: instruction,
		Step:        step,
	}
	if prev != nil {
		state.PrevStep = prev.Step
	}

	execCtx := &ExecutionContext{
		Step:           step,
		Instruction:    instruction,
		AgentState:     state,
		PrevAgentState: prev,
		History:        m.history,
		SessionID:      m.sessionID,
		StepStartTime:  time.Now().UTC(),
	}
	if prev != nil {
		if prev.ToolCallResult != nil {
			execCtx.PrevMessage = prev.ToolCallResult.Expression
		}
		if prev.Exception != nil {
			execCtx.PrevError = prev.Exception.Error()
		}
	}

	m.contexts = append(m.contexts, execCtx)
	if len(m.contexts) > maxContexts {
		m.contexts = append([]*ExecutionContext(nil), m.contexts[len(m.contexts)-contextsTrimTo:]...)
	}
	return execCtx
}

// GetActiveContext returns the active context. It errors when the manager was
// never initialized and panics when the active context is not the tail of the
// context list -- that is an invariant check for internal consistency bugs,
// not a tolerated condition.
func (m *StateManager) GetActiveContext() (*ExecutionContext, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active == nil {
		return nil, ErrNoActiveContext
	}
	if len(m.contexts) == 0 || m.contexts[len(m.contexts)-1] != m.active {
		panic(fmt.Sprintf("state manager invariant violated: active context (step %d) is not the context list tail", m.active.Step))
	}
	if m.active.AgentState != nil && m.active.Step != m.active.AgentState.Step {
		panic(fmt.Sprintf("state manager invariant violated: context step %d != agent state step %d", m.active.Step, m.active.AgentState.Step))
	}
	return m.active, nil
}

// UpdateAgentState mutates the current step's AgentState in place with the
// chosen tool, the model's narrative, and the dispatch outcome. It must run
// before the state is appended to history; appended states are sealed.
func (m *StateManager) UpdateAgentState(
	execCtx *ExecutionContext,
	desc *ActionDescription,
	call *toolcall.ToolCall,
	result *toolcall.Evaluation,
	description string,
	exception *retrypolicy.ClassifiedError,
) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	state := execCtx.AgentState
	if state == nil {
		return fmt.Errorf("execution context for step %d has no agent state: %w", execCtx.Step, retrypolicy.ErrPrecondition)
	}
	if state.abandoned {
		return fmt.Errorf("agent state for step %d: %w", state.Step, ErrStepAbandoned)
	}
	if state.sealed {
		return fmt.Errorf("agent state for step %d already appended to history: %w", state.Step, retrypolicy.ErrPrecondition)
	}

	if call != nil {
		state.Domain = call.Domain
		state.Method = call.Method
	}
	if description != "" {
		state.Description = description
	}
	if desc != nil {
		state.ScreenshotContentSummary = desc.ScreenshotContentSummary
		state.CurrentPageContentSummary = desc.CurrentPageContentSummary
		state.EvaluationPreviousGoal = desc.EvaluationPreviousGoal
		state.NextGoal = desc.NextGoal
		state.Thinking = desc.Thinking
		state.IsComplete = desc.IsComplete
	}
	state.ToolCallResult = result
	state.Exception = exception
	return nil
}

// AddToHistory seals the state and appends it to the arena, triggering the
// bounded-eviction rule on overflow. Exactly one append happens per completed
// step.
func (m *StateManager) AddToHistory(state *AgentState) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if state.abandoned {
		return fmt.Errorf("agent state for step %d: %w", state.Step, ErrStepAbandoned)
	}
	if state.sealed {
		return fmt.Errorf("agent state for step %d appended twice: %w", state.Step, retrypolicy.ErrPrecondition)
	}
	if last := m.history.Last(); last != nil && last.Step >= state.Step {
		return fmt.Errorf("history order violated: step %d after step %d: %w", state.Step, last.Step, retrypolicy.ErrPrecondition)
	}
	state.sealed = true
	m.history.append(state)
	return nil
}

// RemoveLastIfStep is the rollback hook: when a step must be retried or was
// abandoned mid-flight (e.g. the act timeout fired after a partial append),
// the partially recorded state is removed so it cannot pollute the chain.
func (m *StateManager) RemoveLastIfStep(step int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.removeLastIfStepLocked(step)
}

func (m *StateManager) removeLastIfStepLocked(step int) bool {
	last := m.history.Last()
	if last == nil || last.Step < step {
		return false
	}
	m.history.entries = m.history.entries[:len(m.history.entries)-1]
	last.sealed = false
	m.logger.Debug("Rolled back history entry.", zap.Int("step", last.Step))
	return true
}

// AbandonContext is the timeout path's single critical section: it marks the
// context's state abandoned, rolls back any partially recorded history entry
// for its step, and records the diagnostic event. Once abandoned, the step's
// in-flight cycle can no longer update state, append to history, or add
// trace events, regardless of when it finally unwinds.
func (m *StateManager) AbandonContext(execCtx *ExecutionContext, msg string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if execCtx.AgentState != nil {
		execCtx.AgentState.abandoned = true
	}
	m.removeLastIfStepLocked(execCtx.Step)
	if execCtx.Step > m.lastAbandonedStep {
		m.lastAbandonedStep = execCtx.Step
	}
	m.addTraceLocked(TraceEvent{
		Step:      execCtx.Step,
		Event:     "act.timeout",
		Message:   msg,
		Timestamp: time.Now().UTC(),
	})
	m.logger.Debug("Abandoned execution context.", zap.Int("step", execCtx.Step))
}

// AddTrace records a diagnostic event, evicting the oldest half when the
// trace exceeds its cap. Events attributed to an abandoned step are dropped;
// they can only come from that step's unwinding cycle.
func (m *StateManager) AddTrace(ev TraceEvent) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if ev.Step != 0 && ev.Step <= m.lastAbandonedStep {
		return
	}
	m.addTraceLocked(ev)
}

func (m *StateManager) addTraceLocked(ev TraceEvent) {
	m.trace = append(m.trace, ev)
	if len(m.trace) > maxTraceEvents {
		m.trace = append([]TraceEvent(nil), m.trace[len(m.trace)-traceTrimTo:]...)
	}
}

// Trace returns a copy of the retained trace events, oldest-first.
func (m *StateManager) Trace() []TraceEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]TraceEvent, len(m.trace))
	copy(out, m.trace)
	return out
}

// ClearUpHistory is cooperative maintenance: it removes the n oldest history
// entries, trims the contexts list to its floor when over cap, and halves the
// trace when over cap. If trimming dropped the active context it is reset to
// the new tail (or left unset when nothing remains).
func (m *StateManager) ClearUpHistory(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if n > 0 {
		if n > len(m.history.entries) {
			n = len(m.history.entries)
		}
		m.history.entries = append([]*AgentState(nil), m.history.entries[n:]...)
	}

	if len(m.contexts) > maxContexts {
		m.contexts = append([]*ExecutionContext(nil), m.contexts[len(m.contexts)-contextsTrimTo:]...)
	}
	if m.active != nil {
		found := false
		for _, c := range m.contexts {
			if c == m.active {
				found = true
				break
			}
		}
		if !found {
			if len(m.contexts) > 0 {
				m.active = m.contexts[len(m.contexts)-1]
			} else {
				m.active = nil
			}
		}
	}

	if len(m.trace) > maxTraceEvents {
		m.trace = append([]TraceEvent(nil), m.trace[len(m.trace)-traceTrimTo:]...)
	}
}

// LastCompletedStep returns the step of the most recent history entry, or 0.
func (m *StateManager) LastCompletedStep() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if last := m.history.Last(); last != nil {
		return last.Step
	}
	return 0
}
