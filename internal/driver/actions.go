// internal/driver/actions.go
package driver

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/wayfarer-cli/api/schemas"
)

// Navigate loads a URL and waits for the document body to be ready, bounded
// by the configured navigation timeout.
func (s *Session) Navigate(ctx context.Context, url string) error {
	timeout := s.cfg.NavigationTimeout
	if timeout <= 0 {
		timeout = 90 * time.Second
	}
	navCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := s.run(navCtx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	); err != nil {
		return fmt.Errorf("navigate to %s: %w", url, err)
	}
	s.logger.Debug("Navigated.", zap.String("url", url))
	return nil
}

// Click dispatches a click on the first element matching the selector.
func (s *Session) Click(ctx context.Context, selector string) error {
	if err := s.run(ctx,
		chromedp.WaitVisible(selector, chromedp.ByQuery),
		chromedp.Click(selector, chromedp.ByQuery),
	); err != nil {
		return fmt.Errorf("click %s: %w", selector, err)
	}
	return nil
}

// TypeText focuses the element and types, optionally clearing it first.
func (s *Session) TypeText(ctx context.Context, selector, text string, clearFirst bool) error {
	tasks := chromedp.Tasks{
		chromedp.WaitVisible(selector, chromedp.ByQuery),
		chromedp.Focus(selector, chromedp.ByQuery),
	}
	if clearFirst {
		tasks = append(tasks, chromedp.Clear(selector, chromedp.ByQuery))
	}
	tasks = append(tasks, chromedp.SendKeys(selector, text, chromedp.ByQuery))

	if err := s.run(ctx, tasks); err != nil {
		return fmt.Errorf("type into %s: %w", selector, err)
	}
	return nil
}

// SelectOption sets a <select> element to the option with the given value.
func (s *Session) SelectOption(ctx context.Context, selector, value string) error {
	if err := s.run(ctx,
		chromedp.WaitVisible(selector, chromedp.ByQuery),
		chromedp.SetValue(selector, value, chromedp.ByQuery),
	); err != nil {
		return fmt.Errorf("select option on %s: %w", selector, err)
	}
	return nil
}

// Scroll moves the viewport by a pixel delta.
func (s *Session) Scroll(ctx context.Context, dx, dy float64) error {
	script := fmt.Sprintf("window.scrollBy(%f, %f); true", dx, dy)
	if err := s.run(ctx, chromedp.Evaluate(script, nil)); err != nil {
		return fmt.Errorf("scroll: %w", err)
	}
	return nil
}

// GoBack navigates back in session history.
func (s *Session) GoBack(ctx context.Context) error {
	if err := s.run(ctx, chromedp.NavigateBack()); err != nil {
		return fmt.Errorf("go back: %w", err)
	}
	return nil
}

// Reload reloads the current page.
func (s *Session) Reload(ctx context.Context) error {
	if err := s.run(ctx, chromedp.Reload()); err != nil {
		return fmt.Errorf("reload: %w", err)
	}
	return nil
}

// Evaluate runs a JavaScript expression and returns its JSON-decoded result.
func (s *Session) Evaluate(ctx context.Context, expression string) (interface{}, error) {
	var result interface{}
	if err := s.run(ctx, chromedp.Evaluate(expression, &result)); err != nil {
		return nil, fmt.Errorf("evaluate: %w", err)
	}
	return result, nil
}

// CaptureScreenshot grabs the current viewport as PNG.
func (s *Session) CaptureScreenshot(ctx context.Context) (*schemas.Screenshot, error) {
	var buf []byte
	if err := s.run(ctx, chromedp.CaptureScreenshot(&buf)); err != nil {
		return nil, fmt.Errorf("capture screenshot: %w", err)
	}
	shot := &schemas.Screenshot{
		Meta: schemas.ScreenshotMeta{
			Format:    "png",
			Width:     s.cfg.Viewport.Width,
			Height:    s.cfg.Viewport.Height,
			SizeBytes: len(buf),
			TakenAt:   time.Now().UTC(),
		},
		Data: buf,
	}
	return shot, nil
}
