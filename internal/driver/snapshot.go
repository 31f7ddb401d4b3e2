// internal/driver/snapshot.go
package driver

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/chromedp"
	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/wayfarer-cli/api/schemas"
)

// snapshotScript walks the DOM for interactive elements and returns the page
// state the model reasons over. Executed fresh on every observe.
const snapshotScript = `(() => {
  const interactiveSelector = 'a[href], button, input, select, textarea, [onclick], [role="button"], [role="link"], [role="tab"], [contenteditable="true"]';
  const nodes = Array.from(document.querySelectorAll(interactiveSelector));
  const viewH = window.innerHeight || 0;
  const viewW = window.innerWidth || 0;

  const cssPath = (el) => {
    if (el.id) return '#' + CSS.escape(el.id);
    const parts = [];
    let node = el;
    while (node && node.nodeType === Node.ELEMENT_NODE && parts.length < 6) {
      let part = node.localName;
      const parent = node.parentElement;
      if (parent) {
        const siblings = Array.from(parent.children).filter(c => c.localName === node.localName);
        if (siblings.length > 1) part += ':nth-of-type(' + (siblings.indexOf(node) + 1) + ')';
      }
      parts.unshift(part);
      if (node.id) { parts[0] = '#' + CSS.escape(node.id); break; }
      node = parent;
    }
    return parts.join(' > ');
  };

  const elements = [];
  nodes.forEach((el, i) => {
    if (elements.length >= 150) return;
    const rect = el.getBoundingClientRect();
    if (rect.width === 0 && rect.height === 0) return;
    const attrs = {};
    for (const name of ['href', 'type', 'name', 'value', 'placeholder', 'title', 'alt']) {
      const v = el.getAttribute(name);
      if (v) attrs[name] = v.slice(0, 200);
    }
    elements.push({
      index: elements.length + 1,
      tag: el.localName,
      selector: cssPath(el),
      text: (el.innerText || el.value || '').trim().slice(0, 120),
      attrs: attrs,
      visible: rect.bottom > 0 && rect.top < viewH && rect.right > 0 && rect.left < viewW,
      aria_role: el.getAttribute('role') || '',
    });
  });

  return JSON.stringify({
    url: location.href,
    title: document.title,
    elements: elements,
    scroll: {
      x: window.scrollX,
      y: window.scrollY,
      page_height: document.documentElement.scrollHeight,
      view_height: viewH,
    },
    content_text: (document.body ? document.body.innerText : '').slice(0, 8000),
  });
})()`

// highlightScript overlays numbered markers on the given selectors.
const highlightScript = `((selectors) => {
  const container = document.createElement('div');
  container.id = '__wayfarer_highlights';
  container.style.cssText = 'position:absolute;top:0;left:0;pointer-events:none;z-index:2147483647;';
  selectors.forEach((sel, i) => {
    let el;
    try { el = document.querySelector(sel); } catch (e) { return; }
    if (!el) return;
    const rect = el.getBoundingClientRect();
    const marker = document.createElement('div');
    marker.style.cssText = 'position:absolute;border:2px solid #e33;background:rgba(238,51,51,0.08);' +
      'left:' + (rect.left + window.scrollX) + 'px;top:' + (rect.top + window.scrollY) + 'px;' +
      'width:' + rect.width + 'px;height:' + rect.height + 'px;';
    const label = document.createElement('span');
    label.textContent = String(i + 1);
    label.style.cssText = 'position:absolute;top:-10px;left:-10px;background:#e33;color:#fff;' +
      'font:10px monospace;padding:1px 3px;border-radius:2px;';
    marker.appendChild(label);
    container.appendChild(marker);
  });
  document.documentElement.appendChild(container);
  return true;
})`

const clearHighlightScript = `(() => {
  const el = document.getElementById('__wayfarer_highlights');
  if (el) el.remove();
  return true;
})()`

// Snapshot captures the page state for the observe stage.
func (s *Session) Snapshot(ctx context.Context) (*schemas.PageSnapshot, error) {
	var raw string
	if err := s.run(ctx, chromedp.Evaluate(snapshotScript, &raw)); err != nil {
		return nil, fmt.Errorf("capture page snapshot: %w", err)
	}

	var snapshot schemas.PageSnapshot
	if err := json.Unmarshal([]byte(raw), &snapshot); err != nil {
		return nil, fmt.Errorf("decode page snapshot: %w", err)
	}
	snapshot.CapturedAt = time.Now().UTC()
	s.logger.Debug("Captured page snapshot.",
		zap.String("url", snapshot.URL),
		zap.Int("elements", len(snapshot.Elements)))
	return &snapshot, nil
}

// HighlightElements overlays markers on the given elements so screenshots can
// reference them by number.
func (s *Session) HighlightElements(ctx context.Context, elements []schemas.InteractiveElement) error {
	selectors := make([]string, 0, len(elements))
	for _, el := range elements {
		if el.Selector != "" {
			selectors = append(selectors, el.Selector)
		}
	}
	if len(selectors) == 0 {
		return nil
	}

	encoded, err := json.Marshal(selectors)
	if err != nil {
		return fmt.Errorf("encode highlight selectors: %w", err)
	}
	script := fmt.Sprintf("%s(%s)", highlightScript, encoded)
	if err := s.run(ctx, chromedp.Evaluate(script, nil)); err != nil {
		return fmt.Errorf("apply highlight overlay: %w", err)
	}
	return nil
}

// ClearHighlights removes the overlay. Runs detached from the caller's
// cancellation so cleanup still happens when the step was aborted.
func (s *Session) ClearHighlights(ctx context.Context) error {
	clearCtx, cancel := context.WithTimeout(detach(ctx), 5*time.Second)
	defer cancel()
	if err := s.run(clearCtx, chromedp.Evaluate(clearHighlightScript, nil)); err != nil {
		return fmt.Errorf("clear highlight overlay: %w", err)
	}
	return nil
}
