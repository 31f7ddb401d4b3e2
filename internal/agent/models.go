// internal/agent/models.go
package agent

import (
	"time"

	"github.com/xkilldash9x/wayfarer-cli/api/schemas"
	"github.com/xkilldash9x/wayfarer-cli/internal/retrypolicy"
	"github.com/xkilldash9x/wayfarer-cli/internal/toolcall"
)

// ActionOptions are the caller-supplied parameters for one act/observe entry
// point. MultiAct chains a fresh execution context from the previously active
// one; FromResolve marks a nested sub-resolution call and is mutually
// exclusive with MultiAct.
type ActionOptions struct {
	Action      string `json:"action"`       // Natural-language goal for this step; may refine the run instruction.
	MultiAct    bool   `json:"multi_act"`    // Chain a new context from the last active one.
	FromResolve bool   `json:"from_resolve"` // Set by nested resolution; incompatible with MultiAct.
}

// AgentState captures the world and the agent's last decision at one step.
// States form a chain through PrevStep: the "previous state" is a lookup into
// the history arena rather than a live back-reference, so deep runs do not
// retain an unbounded object graph.
type AgentState struct {
	Instruction string `json:"instruction"`
	Step        int    `json:"step"`

	// Chosen tool, if the step reached dispatch.
	Domain      string `json:"domain,omitempty"`
	Method      string `json:"method,omitempty"`
	Description string `json:"description,omitempty"`

	// Model-produced summaries copied in by the state manager.
	ScreenshotContentSummary  string `json:"screenshot_content_summary,omitempty"`
	CurrentPageContentSummary string `json:"current_page_content_summary,omitempty"`
	EvaluationPreviousGoal    string `json:"evaluation_previous_goal,omitempty"`
	NextGoal                  string `json:"next_goal,omitempty"`
	Thinking                  string `json:"thinking,omitempty"`

	ToolCallResult *toolcall.Evaluation         `json:"tool_call_result,omitempty"`
	Exception      *retrypolicy.ClassifiedError `json:"-"`

	// PrevStep identifies the parent state in the history arena; 0 means no
	// parent (the base state of a session).
	PrevStep int `json:"prev_step,omitempty"`

	// BrowserUseState is the page snapshot shown to the model for this step.
	BrowserUseState *schemas.PageSnapshot `json:"browser_use_state,omitempty"`

	IsComplete bool `json:"is_complete"`

	// sealed flips when the state is appended to history; mutation afterwards
	// is a programmer error.
	sealed bool

	// abandoned flips when the step's act cycle was rolled back by the act
	// timeout. Writes against an abandoned state are rejected.
	abandoned bool
}

// ExecutionContext is the mutable per-step record threaded through the loop.
// Exactly one context is active per agent instance at a time.
type ExecutionContext struct {
	Step           int
	Instruction    string
	Event          string // Free-form stage label for tracing.
	AgentState     *AgentState
	PrevAgentState *AgentState // Back-reference only; equals History.StateAt(AgentState.PrevStep).
	History        *AgentHistory
	SessionID      string
	StepStartTime  time.Time
	Screenshot     *schemas.Screenshot

	// PrevMessage and PrevError are snapshots of the previous step's tool
	// result and failure, taken under the state manager's lock at creation so
	// the observe stage never reads the previous state concurrently with a
	// late write.
	PrevMessage string
	PrevError   string
}

// AgentHistory is the append-only arena of completed step states. It is
// bounded: when the length exceeds twice the configured maximum it compacts
// down to the most recent max entries. Eviction rather than
// truncation-on-write keeps steady-state appends cheap.
type AgentHistory struct {
	maxSize int
	entries []*AgentState
}

// NewAgentHistory builds a history bounded to maxSize entries after
// compaction.
func NewAgentHistory(maxSize int) *AgentHistory {
	if maxSize <= 0 {
		maxSize = 1
	}
	return &AgentHistory{maxSize: maxSize}
}

// append adds a state and compacts on overflow. Callers hold the state
// manager's lock.
func (h *AgentHistory) append(state *AgentState) {
	h.entries = append(h.entries, state)
	if len(h.entries) > 2*h.maxSize {
		keep := h.entries[len(h.entries)-h.maxSize:]
		compacted := make([]*AgentState, len(keep))
		copy(compacted, keep)
		h.entries = compacted
	}
}

// Len returns the number of retained states.
func (h *AgentHistory) Len() int { return len(h.entries) }

// Last returns the most recent state, or nil when empty.
func (h *AgentHistory) Last() *AgentState {
	if len(h.entries) == 0 {
		return nil
	}
	return h.entries[len(h.entries)-1]
}

// States returns the retained states oldest-first. The slice is a copy; the
// states themselves are shared and must be treated as read-only.
func (h *AgentHistory) States() []*AgentState {
	out := make([]*AgentState, len(h.entries))
	copy(out, h.entries)
	return out
}

// StateAt finds the retained state for a given step, or nil if it was never
// recorded or has been evicted. Entries are strictly ordered by step.
func (h *AgentHistory) StateAt(step int) *AgentState {
	lo, hi := 0, len(h.entries)-1
	for lo <= hi {
		mid := (lo + hi) / 2
		switch {
		case h.entries[mid].Step == step:
			return h.entries[mid]
		case h.entries[mid].Step < step:
			lo = mid + 1
		default:
			hi = mid - 1
		}
	}
	return nil
}

// TraceEvent is a lightweight diagnostic record, independent of the
// authoritative history.
type TraceEvent struct {
	Step       int       `json:"step"`
	Event      string    `json:"event"`
	Method     string    `json:"method,omitempty"`
	IsComplete bool      `json:"is_complete"`
	Message    string    `json:"message,omitempty"`
	Items      int       `json:"items,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// ActResult is the outcome of one act/extract/summarize entry point. Ordinary
// operational failures surface here, never as raised errors.
type ActResult struct {
	Success    bool               `json:"success"`
	Message    string             `json:"message"`
	Action     string             `json:"action,omitempty"`
	IsComplete bool               `json:"is_complete"`
	Detail     *DetailedActResult `json:"detail,omitempty"`
}

// DetailedActResult is opt-in diagnostic data (AgentConfig.RetainDetail).
// When retention is off nothing references the step's description or
// evaluation, so the step graph stays garbage-eligible.
type DetailedActResult struct {
	Step        int                  `json:"step"`
	SessionID   string               `json:"session_id"`
	Description *ActionDescription   `json:"description,omitempty"`
	Evaluation  *toolcall.Evaluation `json:"evaluation,omitempty"`
}

// ObserveResult is one model-proposed candidate for a single observation.
type ObserveResult struct {
	Call        toolcall.ToolCall `json:"call"`
	Description string            `json:"description,omitempty"`
}

// ActionDescription is everything the inference collaborator produced for one
// observation: zero or more candidates, a completion flag, and the
// natural-language summaries threaded into the agent state.
type ActionDescription struct {
	Candidates []ObserveResult `json:"candidates,omitempty"`
	IsComplete bool            `json:"is_complete"`
	Summary    string          `json:"summary,omitempty"`

	ScreenshotContentSummary  string `json:"screenshot_content_summary,omitempty"`
	CurrentPageContentSummary string `json:"current_page_content_summary,omitempty"`
	EvaluationPreviousGoal    string `json:"evaluation_previous_goal,omitempty"`
	NextGoal                  string `json:"next_goal,omitempty"`
	Thinking                  string `json:"thinking,omitempty"`
}

// ObserveParams is the model-facing input assembled from the active context.
type ObserveParams struct {
	Instruction string
	Step        int
	Snapshot    *schemas.PageSnapshot
	Screenshot  *schemas.Screenshot
	// PrevMessage and PrevError summarize the previous step's outcome so the
	// model can react to failures.
	PrevMessage string
	PrevError   string
}

// ExtractParams is the input to the extraction and summarization entry
// points.
type ExtractParams struct {
	Instruction string
	Snapshot    *schemas.PageSnapshot
	// Schema optionally constrains the shape of the extracted JSON object.
	Schema map[string]interface{}
}
