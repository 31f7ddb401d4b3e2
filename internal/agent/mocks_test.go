// internal/agent/mocks_test.go
package agent

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/wayfarer-cli/api/schemas"
	"github.com/xkilldash9x/wayfarer-cli/internal/config"
	"github.com/xkilldash9x/wayfarer-cli/internal/retrypolicy"
	"github.com/xkilldash9x/wayfarer-cli/internal/toolcall"
)

// fakeInference scripts the model's answers.
type fakeInference struct {
	mu           sync.Mutex
	observeFn    func(ctx context.Context, params ObserveParams) (*ActionDescription, error)
	extractFn    func(ctx context.Context, params ExtractParams) (map[string]interface{}, error)
	observeCalls []ObserveParams
	extractCalls []ExtractParams
}

func (f *fakeInference) Observe(ctx context.Context, params ObserveParams) (*ActionDescription, error) {
	f.mu.Lock()
	f.observeCalls = append(f.observeCalls, params)
	fn := f.observeFn
	f.mu.Unlock()
	if fn == nil {
		return &ActionDescription{}, nil
	}
	return fn(ctx, params)
}

func (f *fakeInference) Extract(ctx context.Context, params ExtractParams) (map[string]interface{}, error) {
	f.mu.Lock()
	f.extractCalls = append(f.extractCalls, params)
	fn := f.extractFn
	f.mu.Unlock()
	if fn == nil {
		return map[string]interface{}{}, nil
	}
	return fn(ctx, params)
}

func (f *fakeInference) observeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.observeCalls)
}

// fakeDriver serves canned page state and records highlight lifecycle calls.
type fakeDriver struct {
	mu         sync.Mutex
	snapshotFn func(ctx context.Context) (*schemas.PageSnapshot, error)
	snapshots  int
	highlights int
	clears     int
	shots      int
}

func defaultSnapshot() *schemas.PageSnapshot {
	return &schemas.PageSnapshot{
		URL:   "https://example.test/start",
		Title: "Start",
		Elements: []schemas.InteractiveElement{
			{Index: 1, Tag: "a", Selector: "#go", Text: "Go", Visible: true},
		},
		CapturedAt: time.Now().UTC(),
	}
}

func (f *fakeDriver) Snapshot(ctx context.Context) (*schemas.PageSnapshot, error) {
	f.mu.Lock()
	f.snapshots++
	fn := f.snapshotFn
	f.mu.Unlock()
	if fn != nil {
		return fn(ctx)
	}
	return defaultSnapshot(), nil
}

func (f *fakeDriver) CaptureScreenshot(ctx context.Context) (*schemas.Screenshot, error) {
	f.mu.Lock()
	f.shots++
	f.mu.Unlock()
	return &schemas.Screenshot{
		Meta: schemas.ScreenshotMeta{Format: "png", Width: 800, Height: 600, TakenAt: time.Now().UTC()},
		Data: []byte{0x89, 0x50, 0x4e, 0x47},
	}, nil
}

func (f *fakeDriver) HighlightElements(ctx context.Context, elements []schemas.InteractiveElement) error {
	f.mu.Lock()
	f.highlights++
	f.mu.Unlock()
	return nil
}

func (f *fakeDriver) ClearHighlights(ctx context.Context) error {
	f.mu.Lock()
	f.clears++
	f.mu.Unlock()
	return nil
}

func (f *fakeDriver) counts() (snapshots, highlights, clears int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snapshots, f.highlights, f.clears
}

// recordingNotifier captures emitted lifecycle events in order.
type recordingNotifier struct {
	mu     sync.Mutex
	events []string
}

func (n *recordingNotifier) Emit(eventType string, payload map[string]interface{}) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, eventType)
}

func (n *recordingNotifier) seen() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, len(n.events))
	copy(out, n.events)
	return out
}

// panicNotifier blows up on every event; the loop must contain it.
type panicNotifier struct{}

func (panicNotifier) Emit(string, map[string]interface{}) { panic("notifier boom") }

// stubExecutor binds a scripted method table to a domain name.
type stubExecutor struct {
	domain string
	table  toolcall.MethodTable
}

func (s *stubExecutor) Domain() string                { return s.domain }
func (s *stubExecutor) Methods() toolcall.MethodTable { return s.table }

// callCounter counts handler invocations across candidates.
type callCounter struct {
	mu    sync.Mutex
	calls map[string]int
}

func newCallCounter() *callCounter {
	return &callCounter{calls: make(map[string]int)}
}

func (c *callCounter) hit(method string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls[method]++
}

func (c *callCounter) count(method string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[method]
}

func (c *callCounter) total() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, v := range c.calls {
		n += v
	}
	return n
}

func testAgentConfig() config.AgentConfig {
	return config.AgentConfig{
		MaxSteps:            10,
		MaxResultsToTry:     3,
		ActTimeout:          2 * time.Second,
		LLMInferenceTimeout: time.Second,
		MaxHistorySize:      20,
		Retry:               retrypolicy.DefaultPolicy(),
	}
}

// browserTable wires navigate/fail/hang handlers against a shared counter.
func browserTable(counter *callCounter) toolcall.MethodTable {
	return toolcall.MethodTable{
		"navigate": {
			Name:        "navigate",
			Description: "Navigate to a URL.",
			Args:        []toolcall.ArgSpec{{Name: "url", Required: true}},
			Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
				counter.hit("navigate")
				return "navigated", nil
			},
		},
		"fail": {
			Name:        "fail",
			Description: "Always fails.",
			Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
				counter.hit("fail")
				return nil, errors.New("element not found")
			},
		},
		"hang": {
			Name:        "hang",
			Description: "Blocks until the context is cancelled.",
			Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
				counter.hit("hang")
				<-ctx.Done()
				return nil, ctx.Err()
			},
		},
	}
}

func newTestAgent(t *testing.T, cfg config.AgentConfig, inf InferenceClient, drv DriverTarget, notifier EventNotifier, table toolcall.MethodTable) *BasicBrowserAgent {
	t.Helper()
	logger := zap.NewNop()
	router := toolcall.NewRouter(logger, nil, &stubExecutor{domain: "browser", table: table})
	dispatcher := toolcall.NewDispatcher(logger, router)
	ag, err := New(logger, cfg, dispatcher, inf, drv, notifier)
	require.NoError(t, err)
	return ag
}

func candidate(method, desc string, args map[string]interface{}) ObserveResult {
	return ObserveResult{
		Call:        toolcall.ToolCall{Domain: "browser", Method: method, Arguments: args},
		Description: desc,
	}
}
