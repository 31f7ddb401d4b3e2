// internal/agent/state_manager_test.go
package agent

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/wayfarer-cli/internal/retrypolicy"
	"github.com/xkilldash9x/wayfarer-cli/internal/toolcall"
)

func newTestStateManager(t *testing.T, maxHistory int) *StateManager {
	t.Helper()
	cfg := testAgentConfig()
	cfg.MaxHistorySize = maxHistory
	return NewStateManager(zap.NewNop(), cfg, "session-test")
}

// advance runs one full create-update-append cycle, the way the loop does.
func advance(t *testing.T, m *StateManager, opts ActionOptions) *ExecutionContext {
	t.Helper()
	execCtx, err := m.GetOrCreateActiveContext(opts)
	require.NoError(t, err)
	require.NoError(t, m.AddToHistory(execCtx.AgentState))
	return execCtx
}

func TestBaseContextStartsAtStepOne(t *testing.T) {
	m := newTestStateManager(t, 10)

	execCtx, err := m.GetOrCreateActiveContext(ActionOptions{Action: "find the docs"})
	require.NoError(t, err)
	assert.Equal(t, 1, execCtx.Step)
	assert.Equal(t, "find the docs", execCtx.Instruction)
	assert.Equal(t, "session-test", execCtx.SessionID)
	assert.Nil(t, execCtx.PrevAgentState)
	assert.Zero(t, execCtx.AgentState.PrevStep)
}

func TestMultiActChainsByExactlyOne(t *testing.T) {
	m := newTestStateManager(t, 10)

	first := advance(t, m, ActionOptions{Action: "start"})
	second, err := m.GetOrCreateActiveContext(ActionOptions{MultiAct: true})
	require.NoError(t, err)

	assert.Equal(t, first.Step+1, second.Step)
	assert.Equal(t, "start", second.Instruction, "empty action inherits the previous instruction")
	assert.Same(t, first.AgentState, second.PrevAgentState)
	assert.Equal(t, first.Step, second.AgentState.PrevStep)
	assert.Equal(t, first.SessionID, second.SessionID)
}

func TestGetOrCreateWithoutMultiActReturnsSameContext(t *testing.T) {
	m := newTestStateManager(t, 10)

	first, err := m.GetOrCreateActiveContext(ActionOptions{Action: "start"})
	require.NoError(t, err)
	again, err := m.GetOrCreateActiveContext(ActionOptions{Action: "ignored"})
	require.NoError(t, err)
	assert.Same(t, first, again)
}

func TestMultiActWithFromResolveRejected(t *testing.T) {
	m := newTestStateManager(t, 10)

	_, err := m.GetOrCreateActiveContext(ActionOptions{MultiAct: true, FromResolve: true})
	require.Error(t, err)
	assert.True(t, errors.Is(err, retrypolicy.ErrPrecondition))
}

func TestGetActiveContextUninitialized(t *testing.T) {
	m := newTestStateManager(t, 10)

	_, err := m.GetActiveContext()
	require.ErrorIs(t, err, ErrNoActiveContext)
	assert.True(t, errors.Is(err, retrypolicy.ErrPrecondition))
}

func TestGetActiveContextPanicsWhenActiveIsNotTail(t *testing.T) {
	m := newTestStateManager(t, 10)
	_, err := m.GetOrCreateActiveContext(ActionOptions{Action: "start"})
	require.NoError(t, err)

	// Corrupt the invariant directly; only a bug could produce this state.
	m.mu.Lock()
	m.active = &ExecutionContext{Step: 99, AgentState: &AgentState{Step: 99}}
	m.mu.Unlock()

	require.Panics(t, func() { _, _ = m.GetActiveContext() })
}

func TestGetActiveContextPanicsOnStepMismatch(t *testing.T) {
	m := newTestStateManager(t, 10)
	execCtx, err := m.GetOrCreateActiveContext(ActionOptions{Action: "start"})
	require.NoError(t, err)

	m.mu.Lock()
	execCtx.AgentState.Step = 7
	m.mu.Unlock()

	require.Panics(t, func() { _, _ = m.GetActiveContext() })
}

func TestUpdateAfterAppendRejected(t *testing.T) {
	m := newTestStateManager(t, 10)
	execCtx := advance(t, m, ActionOptions{Action: "start"})

	err := m.UpdateAgentState(execCtx, nil, nil, nil, "too late", nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, retrypolicy.ErrPrecondition))
}

func TestDoubleAppendRejected(t *testing.T) {
	m := newTestStateManager(t, 10)
	execCtx := advance(t, m, ActionOptions{Action: "start"})

	err := m.AddToHistory(execCtx.AgentState)
	require.Error(t, err)
	assert.True(t, errors.Is(err, retrypolicy.ErrPrecondition))
}

func TestAppendOrderViolationRejected(t *testing.T) {
	m := newTestStateManager(t, 10)
	advance(t, m, ActionOptions{Action: "start"})

	stale := &AgentState{Step: 1}
	err := m.AddToHistory(stale)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "order violated")
}

func TestUpdateAgentStateCopiesNarrative(t *testing.T) {
	m := newTestStateManager(t, 10)
	execCtx, err := m.GetOrCreateActiveContext(ActionOptions{Action: "start"})
	require.NoError(t, err)

	call := &toolcall.ToolCall{Domain: "browser", Method: "navigate"}
	eval := &toolcall.Evaluation{Value: "ok", Expression: "browser.navigate()"}
	desc := &ActionDescription{
		NextGoal:   "click the login button",
		Thinking:   "the form is visible",
		IsComplete: false,
	}
	require.NoError(t, m.UpdateAgentState(execCtx, desc, call, eval, "open the page", nil))

	st := execCtx.AgentState
	assert.Equal(t, "browser", st.Domain)
	assert.Equal(t, "navigate", st.Method)
	assert.Equal(t, "open the page", st.Description)
	assert.Equal(t, "click the login button", st.NextGoal)
	assert.Equal(t, "the form is visible", st.Thinking)
	assert.Same(t, eval, st.ToolCallResult)
}

func TestRemoveLastIfStep(t *testing.T) {
	m := newTestStateManager(t, 10)
	execCtx := advance(t, m, ActionOptions{Action: "start"})

	require.True(t, m.RemoveLastIfStep(execCtx.Step))
	assert.Zero(t, m.History().Len())

	// The rolled-back state is unsealed and can be appended again.
	require.NoError(t, m.AddToHistory(execCtx.AgentState))
	assert.Equal(t, 1, m.History().Len())

	// A second removal targeting a later step is a no-op.
	assert.False(t, m.RemoveLastIfStep(execCtx.Step+1))
	assert.Equal(t, 1, m.History().Len())
}

func TestRemoveLastIfStepOnEmptyHistory(t *testing.T) {
	m := newTestStateManager(t, 10)
	assert.False(t, m.RemoveLastIfStep(1))
}

func TestAbandonContextBlocksAllWrites(t *testing.T) {
	m := newTestStateManager(t, 10)
	execCtx := advance(t, m, ActionOptions{Action: "start"})

	m.AbandonContext(execCtx, "step 1 aborted")

	// The partial history entry is rolled back and the abort is traced.
	assert.Zero(t, m.History().Len())
	trace := m.Trace()
	require.Len(t, trace, 1)
	assert.Equal(t, "act.timeout", trace[0].Event)

	// Every write path for the dead step is rejected or dropped.
	err := m.UpdateAgentState(execCtx, nil, nil, nil, "too late", retrypolicy.Wrap(errors.New("late failure")))
	assert.ErrorIs(t, err, ErrStepAbandoned)
	assert.Empty(t, execCtx.AgentState.Description)
	assert.Nil(t, execCtx.AgentState.Exception)

	assert.ErrorIs(t, m.AddToHistory(execCtx.AgentState), ErrStepAbandoned)
	assert.Zero(t, m.History().Len())

	m.AddTrace(TraceEvent{Step: execCtx.Step, Event: "act.executed"})
	assert.Len(t, m.Trace(), 1, "events for the dead step are dropped")
}

func TestAbandonedContextIsChainedPast(t *testing.T) {
	m := newTestStateManager(t, 10)
	first, err := m.GetOrCreateActiveContext(ActionOptions{Action: "start"})
	require.NoError(t, err)

	m.AbandonContext(first, "step 1 aborted")

	// Even without MultiAct the next act gets a fresh step; the dead context
	// is never handed out again.
	second, err := m.GetOrCreateActiveContext(ActionOptions{Action: "retry"})
	require.NoError(t, err)
	assert.Equal(t, first.Step+1, second.Step)
	require.NoError(t, m.UpdateAgentState(second, nil, nil, nil, "retried", nil))
	require.NoError(t, m.AddToHistory(second.AgentState))

	m.AddTrace(TraceEvent{Step: second.Step, Event: "act.executed"})
	trace := m.Trace()
	assert.Equal(t, "act.executed", trace[len(trace)-1].Event, "the successor step traces normally")
}

func TestHistoryEviction(t *testing.T) {
	m := newTestStateManager(t, 5)

	advance(t, m, ActionOptions{Action: "start"})
	for i := 0; i < 10; i++ {
		advance(t, m, ActionOptions{MultiAct: true})
	}

	history := m.History()
	require.Equal(t, 5, history.Len(), "growth beyond twice the bound compacts to the bound")
	states := history.States()
	assert.Equal(t, 7, states[0].Step)
	assert.Equal(t, 11, states[len(states)-1].Step)

	// Evicted steps are gone from the arena; retained ones still resolve.
	assert.Nil(t, history.StateAt(3))
	require.NotNil(t, history.StateAt(9))
	assert.Equal(t, 9, history.StateAt(9).Step)
}

func TestHistoryGrowsToTwiceBoundBeforeCompacting(t *testing.T) {
	h := NewAgentHistory(5)
	for i := 1; i <= 10; i++ {
		h.append(&AgentState{Step: i})
	}
	assert.Equal(t, 10, h.Len(), "no compaction at exactly twice the bound")

	h.append(&AgentState{Step: 11})
	assert.Equal(t, 5, h.Len())
	assert.Equal(t, 7, h.States()[0].Step)
}

func TestLastCompletedStep(t *testing.T) {
	m := newTestStateManager(t, 10)
	assert.Zero(t, m.LastCompletedStep())

	advance(t, m, ActionOptions{Action: "start"})
	advance(t, m, ActionOptions{MultiAct: true})
	assert.Equal(t, 2, m.LastCompletedStep())
}

func TestTraceCapEvictsOldestHalf(t *testing.T) {
	m := newTestStateManager(t, 10)

	for i := 1; i <= maxTraceEvents+1; i++ {
		m.AddTrace(TraceEvent{Step: i, Event: "tick"})
	}

	trace := m.Trace()
	require.Len(t, trace, traceTrimTo)
	assert.Equal(t, maxTraceEvents+1, trace[len(trace)-1].Step, "the newest event survives")
	assert.Equal(t, maxTraceEvents+1-traceTrimTo+1, trace[0].Step)
}

func TestContextsTrimmedAtCap(t *testing.T) {
	m := newTestStateManager(t, maxContexts*2)

	advance(t, m, ActionOptions{Action: "start"})
	for i := 0; i < maxContexts; i++ {
		advance(t, m, ActionOptions{MultiAct: true})
	}

	m.mu.Lock()
	n := len(m.contexts)
	tail := m.contexts[n-1]
	active := m.active
	m.mu.Unlock()

	assert.LessOrEqual(t, n, maxContexts)
	assert.Same(t, tail, active, "the active context survives trimming")

	// The invariant still holds after trims.
	_, err := m.GetActiveContext()
	require.NoError(t, err)
}

func TestClearUpHistory(t *testing.T) {
	m := newTestStateManager(t, 20)
	for i := 0; i < 6; i++ {
		opts := ActionOptions{MultiAct: i > 0}
		if i == 0 {
			opts.Action = "start"
		}
		advance(t, m, opts)
	}

	m.ClearUpHistory(4)
	history := m.History()
	require.Equal(t, 2, history.Len())
	assert.Equal(t, 5, history.States()[0].Step)

	// Larger n than entries clears everything without panicking.
	m.ClearUpHistory(100)
	assert.Zero(t, m.History().Len())
}

func TestStateAtBinarySearch(t *testing.T) {
	h := NewAgentHistory(100)
	for i := 1; i <= 50; i++ {
		h.append(&AgentState{Step: i, Description: fmt.Sprintf("step %d", i)})
	}

	for _, step := range []int{1, 25, 50} {
		st := h.StateAt(step)
		require.NotNil(t, st, "step %d", step)
		assert.Equal(t, step, st.Step)
	}
	assert.Nil(t, h.StateAt(0))
	assert.Nil(t, h.StateAt(51))
}
