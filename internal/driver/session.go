// internal/driver/session.go
package driver

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/wayfarer-cli/internal/agent"
	"github.com/xkilldash9x/wayfarer-cli/internal/config"
	"github.com/xkilldash9x/wayfarer-cli/internal/executors"
)

// The session serves both the observe stage and the browser tool domain.
var (
	_ agent.DriverTarget      = (*Session)(nil)
	_ executors.BrowserDriver = (*Session)(nil)
)

// Session owns one Chrome tab over CDP. Each agent holds its session
// exclusively; nothing here is safe for concurrent step execution and nothing
// needs to be, because steps are strictly sequential.
type Session struct {
	id     string
	logger *zap.Logger
	cfg    config.BrowserConfig

	allocCancel context.CancelFunc
	ctx         context.Context
	cancel      context.CancelFunc

	mu       sync.Mutex
	isClosed bool
}

// NewSession launches a browser (or connects to a fresh tab) and verifies it
// responds before handing the session back.
func NewSession(ctx context.Context, cfg config.BrowserConfig, logger *zap.Logger) (*Session, error) {
	sessionID := uuid.NewString()

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, buildAllocatorOptions(cfg)...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx)

	s := &Session{
		id:          sessionID,
		logger:      logger.Named("driver").With(zap.String("session_id", sessionID)),
		cfg:         cfg,
		allocCancel: allocCancel,
		ctx:         tabCtx,
		cancel:      tabCancel,
	}

	// Confirm the browser is alive before anything depends on it, and pin
	// the viewport so snapshots and screenshots match the configured size.
	setup := []chromedp.Action{chromedp.Navigate("about:blank")}
	if cfg.Viewport.Width > 0 && cfg.Viewport.Height > 0 {
		setup = append(setup, chromedp.ActionFunc(func(ctx context.Context) error {
			return emulation.SetDeviceMetricsOverride(
				int64(cfg.Viewport.Width), int64(cfg.Viewport.Height), 1.0, false).Do(ctx)
		}))
	}
	if cfg.DisableCache {
		setup = append(setup, chromedp.ActionFunc(func(ctx context.Context) error {
			return network.SetCacheDisabled(true).Do(ctx)
		}))
	}

	probeCtx, probeCancel := context.WithTimeout(tabCtx, 30*time.Second)
	defer probeCancel()
	if err := chromedp.Run(probeCtx, setup...); err != nil {
		s.Close()
		return nil, fmt.Errorf("browser failed to start or respond: %w", err)
	}

	s.logger.Debug("Browser session started.", zap.Bool("headless", cfg.Headless))
	return s, nil
}

func buildAllocatorOptions(cfg config.BrowserConfig) []chromedp.ExecAllocatorOption {
	var opts []chromedp.ExecAllocatorOption
	for _, opt := range chromedp.DefaultExecAllocatorOptions[:] {
		opts = append(opts, opt)
	}

	opts = append(opts,
		chromedp.Flag("headless", cfg.Headless),
		chromedp.Flag("ignore-certificate-errors", cfg.IgnoreTLSErrors),
		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("disable-gpu", cfg.Headless),
	)
	if cfg.DisableCache {
		opts = append(opts, chromedp.Flag("disk-cache-size", "0"))
	}
	if cfg.Viewport.Width > 0 && cfg.Viewport.Height > 0 {
		opts = append(opts, chromedp.WindowSize(cfg.Viewport.Width, cfg.Viewport.Height))
	}

	// Custom flags from configuration, "--name=value" or "--name".
	for _, arg := range cfg.Args {
		parts := strings.SplitN(arg, "=", 2)
		name := strings.TrimPrefix(parts[0], "--")
		if len(parts) == 2 {
			opts = append(opts, chromedp.Flag(name, parts[1]))
		} else {
			opts = append(opts, chromedp.Flag(name, true))
		}
	}

	if runtime.GOOS == "linux" {
		opts = append(opts,
			chromedp.Flag("no-sandbox", true),
			chromedp.Flag("disable-dev-shm-usage", true),
		)
	}
	return opts
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Close tears the tab and browser down. Idempotent.
func (s *Session) Close() {
	s.mu.Lock()
	if s.isClosed {
		s.mu.Unlock()
		return
	}
	s.isClosed = true
	s.mu.Unlock()

	s.logger.Debug("Closing browser session.")
	if s.cancel != nil {
		s.cancel()
	}
	if s.allocCancel != nil {
		s.allocCancel()
	}
}

// run executes chromedp actions under both the session lifetime and the
// caller's deadline.
func (s *Session) run(ctx context.Context, actions ...chromedp.Action) error {
	s.mu.Lock()
	closed := s.isClosed
	s.mu.Unlock()
	if closed {
		return fmt.Errorf("browser session %s is closed", s.id)
	}

	runCtx, cancel := combineContext(s.ctx, ctx)
	defer cancel()
	return chromedp.Run(runCtx, actions...)
}
