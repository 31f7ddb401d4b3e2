// internal/agent/interfaces.go
package agent

import (
	"context"

	"github.com/xkilldash9x/wayfarer-cli/api/schemas"
)

// InferenceClient is the external collaborator that turns observed state into
// candidate tool calls. Implementations are expected to honor the context
// deadline; the loop wraps every call in config.LLMInferenceTimeout.
type InferenceClient interface {
	// Observe proposes zero or more candidate tool calls for the current
	// page state, plus a completion flag and narrative summaries.
	Observe(ctx context.Context, params ObserveParams) (*ActionDescription, error)
	// Extract pulls a structured JSON object out of the current page state.
	Extract(ctx context.Context, params ExtractParams) (map[string]interface{}, error)
}

// DriverTarget is the slice of the browser driver the observe stage needs.
// Tool execution reaches the driver through the dispatch contract instead.
type DriverTarget interface {
	// Snapshot captures the current page state (URL, title, interactive
	// elements) for the model.
	Snapshot(ctx context.Context) (*schemas.PageSnapshot, error)
	// CaptureScreenshot grabs the current viewport.
	CaptureScreenshot(ctx context.Context) (*schemas.Screenshot, error)
	// HighlightElements overlays visual markers on the given elements for
	// the duration of the model call.
	HighlightElements(ctx context.Context, elements []schemas.InteractiveElement) error
	// ClearHighlights removes any overlay markers.
	ClearHighlights(ctx context.Context) error
}

// EventNotifier receives lifecycle notifications. Emit must be non-blocking;
// the loop swallows panics from implementations and never lets a notifier
// failure affect the operation being notified about.
type EventNotifier interface {
	Emit(eventType string, payload map[string]interface{})
}

// NopNotifier discards all events.
type NopNotifier struct{}

func (NopNotifier) Emit(string, map[string]interface{}) {}
