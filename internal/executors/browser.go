// internal/executors/browser.go
package executors

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/wayfarer-cli/api/schemas"
	"github.com/xkilldash9x/wayfarer-cli/internal/toolcall"
)

// BrowserDriver is the slice of the driver session the browser domain
// dispatches against.
type BrowserDriver interface {
	Navigate(ctx context.Context, url string) error
	Click(ctx context.Context, selector string) error
	TypeText(ctx context.Context, selector, text string, clearFirst bool) error
	SelectOption(ctx context.Context, selector, value string) error
	Scroll(ctx context.Context, dx, dy float64) error
	GoBack(ctx context.Context) error
	Reload(ctx context.Context) error
	Evaluate(ctx context.Context, expression string) (interface{}, error)
	CaptureScreenshot(ctx context.Context) (*schemas.Screenshot, error)
}

// BrowserExecutor exposes page interaction as a dispatchable method table.
type BrowserExecutor struct {
	logger *zap.Logger
	driver BrowserDriver
	table  toolcall.MethodTable
}

// NewBrowserExecutor binds the method table to a driver session.
func NewBrowserExecutor(logger *zap.Logger, driver BrowserDriver) *BrowserExecutor {
	e := &BrowserExecutor{
		logger: logger.Named("browser_executor"),
		driver: driver,
	}
	e.table = toolcall.MethodTable{
		"navigate": {
			Name:        "navigate",
			Description: "Navigate the page to a URL.",
			Args:        []toolcall.ArgSpec{{Name: "url", Required: true, Description: "Absolute URL to load."}},
			Handler:     e.navigate,
		},
		"click": {
			Name:        "click",
			Description: "Click the element matching a CSS selector.",
			Args:        []toolcall.ArgSpec{{Name: "selector", Required: true, Description: "CSS selector of the target element."}},
			Handler:     e.click,
		},
		"type_text": {
			Name:        "type_text",
			Description: "Type text into the element matching a CSS selector.",
			Args: []toolcall.ArgSpec{
				{Name: "selector", Required: true, Description: "CSS selector of the input."},
				{Name: "text", Required: true, Description: "Text to type."},
				{Name: "clear", Description: "Clear the field first (default true)."},
			},
			Handler: e.typeText,
		},
		"select_option": {
			Name:        "select_option",
			Description: "Select an option of a <select> element by value.",
			Args: []toolcall.ArgSpec{
				{Name: "selector", Required: true, Description: "CSS selector of the select."},
				{Name: "value", Required: true, Description: "Option value to select."},
			},
			Handler: e.selectOption,
		},
		"scroll": {
			Name:        "scroll",
			Description: "Scroll the viewport by a pixel delta.",
			Args: []toolcall.ArgSpec{
				{Name: "dx", Description: "Horizontal delta in pixels."},
				{Name: "dy", Description: "Vertical delta in pixels (default one viewport)."},
			},
			Handler: e.scroll,
		},
		"go_back": {
			Name:        "go_back",
			Description: "Navigate back in session history.",
			Handler:     e.goBack,
		},
		"reload": {
			Name:        "reload",
			Description: "Reload the current page.",
			Handler:     e.reload,
		},
		"wait": {
			Name:        "wait",
			Description: "Pause for a number of seconds (capped at 30).",
			Args:        []toolcall.ArgSpec{{Name: "seconds", Description: "Seconds to wait (default 1)."}},
			Handler:     e.wait,
		},
		"evaluate": {
			Name:        "evaluate",
			Description: "Evaluate a JavaScript expression in the page.",
			Args:        []toolcall.ArgSpec{{Name: "expression", Required: true, Description: "JavaScript expression."}},
			Handler:     e.evaluate,
		},
		"screenshot": {
			Name:        "screenshot",
			Description: "Capture the current viewport.",
			Handler:     e.screenshot,
		},
	}
	return e
}

func (e *BrowserExecutor) Domain() string                { return "browser" }
func (e *BrowserExecutor) Methods() toolcall.MethodTable { return e.table }

// Alias exposes the same method table under another domain name, so the
// low-level "driver" domain routes to the identical handlers.
func (e *BrowserExecutor) Alias(domain string) toolcall.Executor {
	return aliasExecutor{domain: domain, table: e.table}
}

type aliasExecutor struct {
	domain string
	table  toolcall.MethodTable
}

func (a aliasExecutor) Domain() string                { return a.domain }
func (a aliasExecutor) Methods() toolcall.MethodTable { return a.table }

func (e *BrowserExecutor) navigate(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	url, err := stringArg(args, "url")
	if err != nil {
		return nil, err
	}
	if err := e.driver.Navigate(ctx, url); err != nil {
		return nil, err
	}
	return "navigated to " + url, nil
}

func (e *BrowserExecutor) click(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	selector, err := stringArg(args, "selector")
	if err != nil {
		return nil, err
	}
	if err := e.driver.Click(ctx, selector); err != nil {
		return nil, err
	}
	return "clicked " + selector, nil
}

func (e *BrowserExecutor) typeText(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	selector, err := stringArg(args, "selector")
	if err != nil {
		return nil, err
	}
	text, err := stringArg(args, "text")
	if err != nil {
		return nil, err
	}
	clearFirst, err := boolArg(args, "clear", true)
	if err != nil {
		return nil, err
	}
	if err := e.driver.TypeText(ctx, selector, text, clearFirst); err != nil {
		return nil, err
	}
	return "typed into " + selector, nil
}

func (e *BrowserExecutor) selectOption(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	selector, err := stringArg(args, "selector")
	if err != nil {
		return nil, err
	}
	value, err := stringArg(args, "value")
	if err != nil {
		return nil, err
	}
	if err := e.driver.SelectOption(ctx, selector, value); err != nil {
		return nil, err
	}
	return "selected " + value, nil
}

func (e *BrowserExecutor) scroll(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	dx, err := floatArg(args, "dx", 0)
	if err != nil {
		return nil, err
	}
	dy, err := floatArg(args, "dy", 720)
	if err != nil {
		return nil, err
	}
	if err := e.driver.Scroll(ctx, dx, dy); err != nil {
		return nil, err
	}
	return "scrolled", nil
}

func (e *BrowserExecutor) goBack(ctx context.Context, _ map[string]interface{}) (interface{}, error) {
	if err := e.driver.GoBack(ctx); err != nil {
		return nil, err
	}
	return "went back", nil
}

func (e *BrowserExecutor) reload(ctx context.Context, _ map[string]interface{}) (interface{}, error) {
	if err := e.driver.Reload(ctx); err != nil {
		return nil, err
	}
	return "reloaded", nil
}

func (e *BrowserExecutor) wait(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	seconds, err := floatArg(args, "seconds", 1)
	if err != nil {
		return nil, err
	}
	if seconds < 0 {
		seconds = 0
	}
	if seconds > 30 {
		seconds = 30
	}
	select {
	case <-time.After(time.Duration(seconds * float64(time.Second))):
		return "waited", nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (e *BrowserExecutor) evaluate(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	expression, err := stringArg(args, "expression")
	if err != nil {
		return nil, err
	}
	return e.driver.Evaluate(ctx, expression)
}

func (e *BrowserExecutor) screenshot(ctx context.Context, _ map[string]interface{}) (interface{}, error) {
	shot, err := e.driver.CaptureScreenshot(ctx)
	if err != nil {
		return nil, err
	}
	return shot.Meta, nil
}
