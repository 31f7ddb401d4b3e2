// internal/agent/agent.go
package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	json "github.com/json-iterator/go"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/wayfarer-cli/api/schemas"
	"github.com/xkilldash9x/wayfarer-cli/internal/config"
	"github.com/xkilldash9x/wayfarer-cli/internal/retrypolicy"
	"github.com/xkilldash9x/wayfarer-cli/internal/toolcall"
)

// Lifecycle event types emitted around every public entry point.
const (
	EventRunBefore       = "agent.run.before"
	EventRunAfter        = "agent.run.after"
	EventActBefore       = "agent.act.before"
	EventActAfter        = "agent.act.after"
	EventObserveBefore   = "agent.observe.before"
	EventObserveAfter    = "agent.observe.after"
	EventExtractBefore   = "agent.extract.before"
	EventExtractAfter    = "agent.extract.after"
	EventSummarizeBefore = "agent.summarize.before"
	EventSummarizeAfter  = "agent.summarize.after"
)

// BasicBrowserAgent is the observe/act/extract state machine. Steps execute
// strictly sequentially: step N+1 never starts before step N's result is
// recorded. Many agent instances may run concurrently in one process, each
// with its own context chain, history, and driver session.
type BasicBrowserAgent struct {
	logger     *zap.Logger
	cfg        config.AgentConfig
	state      *StateManager
	dispatcher *toolcall.Dispatcher
	inference  InferenceClient
	driver     DriverTarget
	notifier   EventNotifier
	retrier    *retrypolicy.Executor
	sessionID  string
}

// snapshotRetries bounds the extra attempts when reading page state; the
// retry pacing comes from the configured policy.
const snapshotRetries = 2

// New validates the configuration and assembles an agent. Configuration
// errors are the only construction-time failures surfaced to the caller.
func New(
	logger *zap.Logger,
	cfg config.AgentConfig,
	dispatcher *toolcall.Dispatcher,
	inference InferenceClient,
	driver DriverTarget,
	notifier EventNotifier,
) (*BasicBrowserAgent, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("agent config: %w", err)
	}
	if dispatcher == nil {
		return nil, fmt.Errorf("agent requires a tool dispatcher")
	}
	if inference == nil {
		return nil, fmt.Errorf("agent requires an inference client")
	}
	if driver == nil {
		return nil, fmt.Errorf("agent requires a driver target")
	}
	if notifier == nil {
		notifier = NopNotifier{}
	}
	retrier, err := retrypolicy.NewExecutor(cfg.Retry, logger)
	if err != nil {
		return nil, fmt.Errorf("agent retry policy: %w", err)
	}

	sessionID := uuid.NewString()
	return &BasicBrowserAgent{
		logger:     logger.Named("browser_agent").With(zap.String("session_id", sessionID)),
		cfg:        cfg,
		state:      NewStateManager(logger, cfg, sessionID),
		dispatcher: dispatcher,
		inference:  inference,
		driver:     driver,
		notifier:   notifier,
		retrier:    retrier,
		sessionID:  sessionID,
	}, nil
}

// SessionID returns the agent's session identity.
func (a *BasicBrowserAgent) SessionID() string { return a.sessionID }

// State exposes the state manager for inspection (history, trace).
func (a *BasicBrowserAgent) State() *StateManager { return a.state }

// Run drives the full loop: act until the model signals completion or the
// step budget is exhausted, then return the full history. MaxSteps is a hard
// stop even on incomplete tasks, so the loop always terminates. Ordinary
// operational failures never raise; the returned error is reserved for
// invariant violations.
func (a *BasicBrowserAgent) Run(ctx context.Context, instruction string) (*AgentHistory, error) {
	a.logger.Info("Starting run.", zap.String("instruction", instruction))
	a.notify(EventRunBefore, map[string]interface{}{"instruction": instruction})

	opts := ActionOptions{Action: instruction}
	var lastResult *ActResult
	for {
		res, err := a.Act(ctx, opts)
		if err != nil {
			a.notify(EventRunAfter, map[string]interface{}{"error": err.Error()})
			return a.state.History(), err
		}
		lastResult = res
		if res.IsComplete {
			break
		}
		if a.currentStep() >= a.cfg.MaxSteps {
			a.logger.Info("Step budget exhausted.", zap.Int("max_steps", a.cfg.MaxSteps))
			break
		}
		if ctx.Err() != nil {
			break
		}
		// Subsequent steps chain a fresh context from the active one.
		opts.MultiAct = true
	}

	history := a.state.History()
	payload := map[string]interface{}{"steps": history.Len()}
	if lastResult != nil {
		payload["is_complete"] = lastResult.IsComplete
	}
	a.notify(EventRunAfter, payload)
	a.logger.Info("Run finished.", zap.Int("recorded_steps", history.Len()))
	return history, nil
}

// currentStep is the step of the active context, falling back to the last
// completed step before any context exists. Timed-out steps advance the
// context chain even though they roll back history, which keeps Run
// terminating under persistent timeouts.
func (a *BasicBrowserAgent) currentStep() int {
	execCtx, err := a.state.GetActiveContext()
	if err != nil {
		return a.state.LastCompletedStep()
	}
	return execCtx.Step
}

// Act wraps one observe+act cycle in the configured act timeout. A timeout is
// terminal for the step -- no retry happens at this level -- and is converted
// into a failed, non-complete result whose message embeds the configured
// timeout. The run continues with the next step.
func (a *BasicBrowserAgent) Act(ctx context.Context, opts ActionOptions) (*ActResult, error) {
	a.notify(EventActBefore, map[string]interface{}{"action": opts.Action, "multi_act": opts.MultiAct})

	res, err := a.actWithTimeout(ctx, opts)

	payload := map[string]interface{}{"action": opts.Action}
	if res != nil {
		payload["success"] = res.Success
		payload["is_complete"] = res.IsComplete
	}
	if err != nil {
		payload["error"] = err.Error()
	}
	a.notify(EventActAfter, payload)
	return res, err
}

// actOutcome carries the inner cycle's result across the timeout boundary.
type actOutcome struct {
	res *ActResult
	err error
}

func (a *BasicBrowserAgent) actWithTimeout(ctx context.Context, opts ActionOptions) (*ActResult, error) {
	execCtx, err := a.state.GetOrCreateActiveContext(opts)
	if err != nil {
		// Precondition violations (multiAct + fromResolve) raise to the caller.
		return nil, err
	}
	execCtx.StepStartTime = time.Now().UTC()

	stepCtx, cancel := context.WithTimeout(ctx, a.cfg.ActTimeout)
	defer cancel()

	outcome := make(chan actOutcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				a.logger.Error("Panic recovered in act cycle.",
					zap.Int("step", execCtx.Step),
					zap.Any("panic_value", r),
					zap.Stack("stack"))
				outcome <- actOutcome{err: fmt.Errorf("panic in act cycle at step %d: %v", execCtx.Step, r)}
			}
		}()
		res, err := a.doAct(stepCtx, execCtx, opts)
		outcome <- actOutcome{res: res, err: err}
	}()

	select {
	case out := <-outcome:
		return out.res, out.err
	case <-stepCtx.Done():
		// The in-flight operation for this step is cancelled; the overall run
		// is not aborted. Abandoning the context rolls back any partially
		// recorded state and blocks every later write from the still-unwinding
		// cycle, so a half-finished step cannot pollute the chain.
		msg := fmt.Sprintf("act step %d aborted: exceeded configured timeout of %s", execCtx.Step, a.cfg.ActTimeout)
		if ctx.Err() != nil {
			msg = fmt.Sprintf("act step %d cancelled: %v", execCtx.Step, ctx.Err())
		}
		a.state.AbandonContext(execCtx, msg)
		a.logger.Warn("Act cycle timed out.", zap.Int("step", execCtx.Step), zap.Duration("timeout", a.cfg.ActTimeout))
		return &ActResult{Success: false, Message: msg, Action: opts.Action}, nil
	}
}

// doAct is one full observe -> select -> execute cycle.
func (a *BasicBrowserAgent) doAct(ctx context.Context, execCtx *ExecutionContext, opts ActionOptions) (*ActResult, error) {
	execCtx.Event = "act"

	desc, err := a.observeStage(ctx, execCtx)
	if err != nil {
		wrapped := retrypolicy.Wrap(err)
		a.state.AddTrace(TraceEvent{Step: execCtx.Step, Event: "observe.failed", Message: err.Error()})
		if uerr := a.state.UpdateAgentState(execCtx, nil, nil, nil, "", wrapped); uerr != nil {
			return nil, uerr
		}
		if aerr := a.appendIfLive(execCtx); aerr != nil {
			return nil, aerr
		}
		return &ActResult{Success: false, Message: fmt.Sprintf("observe failed: %v", err), Action: opts.Action}, nil
	}

	// Completion signal: the model says the overall task is done. Terminal,
	// zero tool dispatches for this step.
	if desc.IsComplete {
		if err := a.state.UpdateAgentState(execCtx, desc, nil, nil, desc.Summary, nil); err != nil {
			return nil, err
		}
		if err := a.appendIfLive(execCtx); err != nil {
			return nil, err
		}
		a.state.AddTrace(TraceEvent{Step: execCtx.Step, Event: "act.complete", IsComplete: true, Message: desc.Summary})
		a.logger.Info("Task reported complete.", zap.Int("step", execCtx.Step))
		res := &ActResult{Success: true, IsComplete: true, Action: opts.Action,
			Message: completionMessage(desc)}
		a.attachDetail(res, execCtx, desc, nil)
		return res, nil
	}

	return a.selectAndExecute(ctx, execCtx, opts, desc)
}

// selectAndExecute tries candidates in the order returned, stopping at the
// first success. At most one successful dispatch happens per step; candidates
// after the first success are never attempted.
func (a *BasicBrowserAgent) selectAndExecute(ctx context.Context, execCtx *ExecutionContext, opts ActionOptions, desc *ActionDescription) (*ActResult, error) {
	candidates := desc.Candidates
	if len(candidates) > a.cfg.MaxResultsToTry {
		candidates = candidates[:a.cfg.MaxResultsToTry]
	}

	var lastErr error
	for i, cand := range candidates {
		if ctx.Err() != nil {
			lastErr = ctx.Err()
			break
		}

		if cand.Call.Method == "" {
			lastErr = fmt.Errorf("candidate %d has no resolvable method: %w", i+1, retrypolicy.ErrInvalidArgument)
			a.state.AddTrace(TraceEvent{Step: execCtx.Step, Event: "act.candidate.skipped",
				Message: lastErr.Error(), Items: i + 1})
			continue
		}

		eval := a.dispatcher.CallFunctionOn(ctx, cand.Call)
		if eval.Succeeded() {
			if err := a.state.UpdateAgentState(execCtx, desc, &cand.Call, &eval, cand.Description, nil); err != nil {
				return nil, err
			}
			if err := a.appendIfLive(execCtx); err != nil {
				return nil, err
			}
			a.state.AddTrace(TraceEvent{Step: execCtx.Step, Event: "act.executed",
				Method: cand.Call.Qualified(), Message: eval.Expression, Items: i + 1})
			a.logger.Debug("Candidate executed.",
				zap.Int("step", execCtx.Step),
				zap.Int("candidate", i+1),
				zap.String("call", cand.Call.Qualified()))
			res := &ActResult{Success: true, Message: fmt.Sprintf("executed %s", eval.Expression), Action: opts.Action}
			a.attachDetail(res, execCtx, desc, &eval)
			return res, nil
		}

		lastErr = eval.Exception
		a.state.AddTrace(TraceEvent{Step: execCtx.Step, Event: "act.candidate.failed",
			Method: cand.Call.Qualified(), Message: eval.Exception.Error(), Items: i + 1})
		a.logger.Debug("Candidate failed, trying next.",
			zap.Int("step", execCtx.Step),
			zap.Int("candidate", i+1),
			zap.Error(eval.Exception))
	}

	// All candidates failed (or none were usable). This is a terminal step
	// outcome, not a classified error; the run continues at the next step.
	var msg string
	if len(candidates) == 0 {
		msg = "model returned no candidates"
	} else {
		msg = fmt.Sprintf("all %d candidates failed; last error: %v", len(candidates), lastErr)
	}
	if err := a.state.UpdateAgentState(execCtx, desc, nil, nil, "", retrypolicy.Wrap(lastErrOr(lastErr, msg))); err != nil {
		return nil, err
	}
	if err := a.appendIfLive(execCtx); err != nil {
		return nil, err
	}
	a.state.AddTrace(TraceEvent{Step: execCtx.Step, Event: "act.exhausted",
		Message: msg, Items: len(candidates)})
	return &ActResult{Success: false, Message: msg, Action: opts.Action}, nil
}

func lastErrOr(err error, msg string) error {
	if err != nil {
		return err
	}
	return fmt.Errorf("%s", msg)
}

func completionMessage(desc *ActionDescription) string {
	if desc.Summary != "" {
		return desc.Summary
	}
	return "task reported complete"
}

// appendIfLive appends the context's state to history. An abandoned step
// counts as aborted and leaves no record; the rejection is arbitrated by the
// state manager's lock, not by a racy context check.
func (a *BasicBrowserAgent) appendIfLive(execCtx *ExecutionContext) error {
	err := a.state.AddToHistory(execCtx.AgentState)
	if errors.Is(err, ErrStepAbandoned) {
		return nil
	}
	return err
}

// snapshotWithRetry reads the page state, retrying transient and timeout
// failures under the configured policy. Validation and permanent failures
// surface after a single attempt.
func (a *BasicBrowserAgent) snapshotWithRetry(ctx context.Context) (*schemas.PageSnapshot, error) {
	var snapshot *schemas.PageSnapshot
	err := a.retrier.Execute(ctx, func(ctx context.Context) error {
		s, serr := a.driver.Snapshot(ctx)
		if serr != nil {
			return serr
		}
		snapshot = s
		return nil
	}, nil, func(attempt int, err error) {
		a.logger.Debug("Page snapshot failed, retrying.", zap.Int("attempt", attempt), zap.Error(err))
	}, snapshotRetries)
	return snapshot, err
}

// observeStage gathers page state, optionally overlays highlights for the
// duration of the model call, takes a screenshot, and asks the inference
// collaborator for candidates. The highlight overlay is a scoped resource:
// removal is guaranteed on every exit path, including panics.
func (a *BasicBrowserAgent) observeStage(ctx context.Context, execCtx *ExecutionContext) (*ActionDescription, error) {
	execCtx.Event = "observe"

	// Sync the latest page state into the context so stale state is never
	// shown to the model.
	snapshot, err := a.snapshotWithRetry(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to sync browser state: %w", err)
	}
	execCtx.AgentState.BrowserUseState = snapshot

	if a.cfg.HighlightElements && len(snapshot.Elements) > 0 {
		if herr := a.driver.HighlightElements(ctx, snapshot.Elements); herr != nil {
			a.logger.Debug("Highlight overlay failed, continuing without.", zap.Error(herr))
		} else {
			defer func() {
				clearCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
				defer cancel()
				if cerr := a.driver.ClearHighlights(clearCtx); cerr != nil {
					a.logger.Warn("Failed to clear highlight overlay.", zap.Error(cerr))
				}
			}()
		}
	}

	shot, err := a.driver.CaptureScreenshot(ctx)
	if err != nil {
		// A missing screenshot degrades the observation, it does not abort it.
		a.logger.Debug("Screenshot capture failed.", zap.Error(err))
		shot = nil
	}
	execCtx.Screenshot = shot

	// The prev-state fields were snapshotted under the state manager's lock
	// when the context was created, so no live state is read here.
	params := ObserveParams{
		Instruction: execCtx.Instruction,
		Step:        execCtx.Step,
		Snapshot:    snapshot,
		Screenshot:  shot,
		PrevMessage: execCtx.PrevMessage,
		PrevError:   execCtx.PrevError,
	}

	infCtx, cancel := context.WithTimeout(ctx, a.cfg.LLMInferenceTimeout)
	defer cancel()
	desc, err := a.inference.Observe(infCtx, params)
	if err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}
	if desc == nil {
		return nil, fmt.Errorf("inference returned no action description")
	}
	return desc, nil
}

// Observe is an independent entry point: it runs the observe stage and
// returns the model's candidates without executing anything. It reuses the
// same context management as Act but never participates in candidate retry.
func (a *BasicBrowserAgent) Observe(ctx context.Context, opts ActionOptions) (*ActionDescription, error) {
	a.notify(EventObserveBefore, map[string]interface{}{"action": opts.Action})

	execCtx, err := a.state.GetOrCreateActiveContext(opts)
	if err != nil {
		a.notify(EventObserveAfter, map[string]interface{}{"error": err.Error()})
		return nil, err
	}

	desc, err := a.observeStage(ctx, execCtx)
	payload := map[string]interface{}{"step": execCtx.Step}
	if err != nil {
		payload["error"] = err.Error()
		a.state.AddTrace(TraceEvent{Step: execCtx.Step, Event: "observe.failed", Message: err.Error()})
	} else {
		payload["candidates"] = len(desc.Candidates)
		a.state.AddTrace(TraceEvent{Step: execCtx.Step, Event: "observe.done",
			IsComplete: desc.IsComplete, Items: len(desc.Candidates)})
	}
	a.notify(EventObserveAfter, payload)
	return desc, err
}

// Extract performs a two-stage call: extract content, then assess completion
// and metadata, merged into one result. Total failure of either stage
// downgrades to a failed result instead of propagating.
func (a *BasicBrowserAgent) Extract(ctx context.Context, opts ActionOptions) *ActResult {
	a.notify(EventExtractBefore, map[string]interface{}{"action": opts.Action})
	res := a.doExtract(ctx, opts)
	a.notify(EventExtractAfter, map[string]interface{}{
		"action":  opts.Action,
		"success": res.Success,
	})
	return res
}

func (a *BasicBrowserAgent) doExtract(ctx context.Context, opts ActionOptions) *ActResult {
	execCtx, err := a.state.GetOrCreateActiveContext(opts)
	if err != nil {
		return &ActResult{Success: false, Message: err.Error(), Action: opts.Action}
	}
	execCtx.Event = "extract"

	snapshot, err := a.snapshotWithRetry(ctx)
	if err != nil {
		a.state.AddTrace(TraceEvent{Step: execCtx.Step, Event: "extract.failed", Message: err.Error()})
		return &ActResult{Success: false, Message: fmt.Sprintf("failed to sync browser state: %v", err), Action: opts.Action}
	}
	execCtx.AgentState.BrowserUseState = snapshot

	// Both stages run concurrently under the inference timeout; each failure
	// is captured rather than cancelling the sibling.
	var (
		content, assessment       map[string]interface{}
		contentErr, assessmentErr error
	)
	stageCtx, cancel := context.WithTimeout(ctx, a.cfg.LLMInferenceTimeout)
	defer cancel()

	g, gctx := errgroup.WithContext(stageCtx)
	g.Go(func() error {
		content, contentErr = a.inference.Extract(gctx, ExtractParams{
			Instruction: opts.Action,
			Snapshot:    snapshot,
		})
		return nil
	})
	g.Go(func() error {
		assessment, assessmentErr = a.inference.Extract(gctx, ExtractParams{
			Instruction: "Assess whether the overall task is complete and collect page metadata.",
			Snapshot:    snapshot,
			Schema: map[string]interface{}{
				"is_complete": "bool",
				"metadata":    "object",
			},
		})
		return nil
	})
	_ = g.Wait()

	if contentErr != nil && assessmentErr != nil {
		msg := fmt.Sprintf("extract failed: content: %v; assessment: %v", contentErr, assessmentErr)
		a.state.AddTrace(TraceEvent{Step: execCtx.Step, Event: "extract.failed", Message: msg})
		return &ActResult{Success: false, Message: msg, Action: opts.Action}
	}

	merged := make(map[string]interface{}, 2)
	if contentErr == nil {
		merged["content"] = content
	}
	isComplete := false
	if assessmentErr == nil {
		merged["assessment"] = assessment
		if v, ok := assessment["is_complete"].(bool); ok {
			isComplete = v
		}
	}

	body, merr := json.Marshal(merged)
	if merr != nil {
		body = []byte(fmt.Sprintf("%v", merged))
	}
	a.state.AddTrace(TraceEvent{Step: execCtx.Step, Event: "extract.done",
		IsComplete: isComplete, Items: len(merged)})
	return &ActResult{
		Success:    contentErr == nil,
		IsComplete: isComplete,
		Message:    string(body),
		Action:     opts.Action,
	}
}

// Summarize asks the model for a digest of the run so far. Failures downgrade
// to a failed result.
func (a *BasicBrowserAgent) Summarize(ctx context.Context) *ActResult {
	a.notify(EventSummarizeBefore, nil)
	res := a.doSummarize(ctx)
	a.notify(EventSummarizeAfter, map[string]interface{}{"success": res.Success})
	return res
}

func (a *BasicBrowserAgent) doSummarize(ctx context.Context) *ActResult {
	history := a.state.History()
	digest := make([]map[string]interface{}, 0, history.Len())
	var lastSnapshot *AgentState
	for _, st := range history.States() {
		entry := map[string]interface{}{
			"step":        st.Step,
			"method":      st.Method,
			"description": st.Description,
			"is_complete": st.IsComplete,
		}
		if st.Exception != nil {
			entry["error"] = st.Exception.Error()
		}
		digest = append(digest, entry)
		lastSnapshot = st
	}

	params := ExtractParams{
		Instruction: "Summarize the progress of this browsing session.",
		Schema:      map[string]interface{}{"summary": "string", "steps": digest},
	}
	if lastSnapshot != nil {
		params.Snapshot = lastSnapshot.BrowserUseState
	}

	infCtx, cancel := context.WithTimeout(ctx, a.cfg.LLMInferenceTimeout)
	defer cancel()
	obj, err := a.inference.Extract(infCtx, params)
	if err != nil {
		return &ActResult{Success: false, Message: fmt.Sprintf("summarize failed: %v", err)}
	}

	body, merr := json.Marshal(obj)
	if merr != nil {
		body = []byte(fmt.Sprintf("%v", obj))
	}
	return &ActResult{Success: true, Message: string(body)}
}

// attachDetail wires the opt-in diagnostic payload when retention is enabled.
func (a *BasicBrowserAgent) attachDetail(res *ActResult, execCtx *ExecutionContext, desc *ActionDescription, eval *toolcall.Evaluation) {
	if !a.cfg.RetainDetail {
		return
	}
	res.Detail = &DetailedActResult{
		Step:        execCtx.Step,
		SessionID:   execCtx.SessionID,
		Description: desc,
		Evaluation:  eval,
	}
}

// notify emits a lifecycle event. Fire-and-forget: a panicking or failing
// notifier must never block or fail the operation being observed.
func (a *BasicBrowserAgent) notify(eventType string, payload map[string]interface{}) {
	defer func() {
		if r := recover(); r != nil {
			a.logger.Debug("Event notifier panicked.", zap.String("event", eventType), zap.Any("panic_value", r))
		}
	}()
	if payload == nil {
		payload = map[string]interface{}{}
	}
	payload["session_id"] = a.sessionID
	a.notifier.Emit(eventType, payload)
}
