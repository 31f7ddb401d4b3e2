// api/schemas/schemas.go
package schemas

import "time"

// InteractiveElement describes a single actionable element discovered on the
// current page. The agent presents these to the model so it can pick a target
// by index instead of inventing selectors.
type InteractiveElement struct {
	Index    int               `json:"index"`              // Stable index for this snapshot only.
	Tag      string            `json:"tag"`                // Lowercase tag name (a, button, input, ...).
	Selector string            `json:"selector"`           // Best-effort unique CSS selector.
	Text     string            `json:"text,omitempty"`     // Trimmed visible text, capped.
	Attrs    map[string]string `json:"attrs,omitempty"`    // Relevant attributes (href, type, name, ...).
	Visible  bool              `json:"visible"`            // Whether the element is in the viewport.
	XPath    string            `json:"xpath,omitempty"`    // Fallback locator.
	AriaRole string            `json:"aria_role,omitempty"`
}

// ScrollPosition records where the viewport sits relative to the full page.
type ScrollPosition struct {
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	PageHeight float64 `json:"page_height"`
	ViewHeight float64 `json:"view_height"`
}

// PageSnapshot is the browser state shown to the model at observe time. It is
// captured fresh at the start of every step so the model never reasons over a
// stale DOM.
type PageSnapshot struct {
	URL          string               `json:"url"`
	Title        string               `json:"title"`
	Elements     []InteractiveElement `json:"elements,omitempty"`
	Scroll       ScrollPosition       `json:"scroll"`
	TabCount     int                  `json:"tab_count,omitempty"`
	CapturedAt   time.Time            `json:"captured_at"`
	ContentText  string               `json:"content_text,omitempty"` // Readable page text, capped.
}

// ScreenshotMeta is a handle to a captured screenshot. The raw bytes are held
// by the handle itself; history entries keep only the metadata.
type ScreenshotMeta struct {
	Format    string    `json:"format"` // "png" or "jpeg".
	Width     int       `json:"width"`
	Height    int       `json:"height"`
	SizeBytes int       `json:"size_bytes"`
	TakenAt   time.Time `json:"taken_at"`
}

// Screenshot couples image bytes with their metadata.
type Screenshot struct {
	Meta ScreenshotMeta `json:"meta"`
	Data []byte         `json:"-"`
}
