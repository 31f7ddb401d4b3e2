// internal/driver/context.go
package driver

import (
	"context"
	"time"
)

// combineContext derives a context from primary (which carries the CDP target
// values) that is also cancelled when secondary is. chromedp operations need
// the session context's values and the caller's deadline at the same time.
func combineContext(primary, secondary context.Context) (context.Context, context.CancelFunc) {
	combined, cancel := context.WithCancel(primary)
	go func() {
		select {
		case <-secondary.Done():
			cancel()
		case <-combined.Done():
		}
	}()
	return combined, cancel
}

// valueOnlyContext inherits values but ignores cancellation, for cleanup work
// that must outlive the caller's deadline.
type valueOnlyContext struct {
	context.Context
}

func (valueOnlyContext) Deadline() (time.Time, bool) { return time.Time{}, false }
func (valueOnlyContext) Done() <-chan struct{}       { return nil }
func (valueOnlyContext) Err() error                  { return nil }

func detach(ctx context.Context) context.Context {
	return valueOnlyContext{ctx}
}
