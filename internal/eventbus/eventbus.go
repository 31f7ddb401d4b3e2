// internal/eventbus/eventbus.go
package eventbus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Event is the envelope for everything published on the bus. Lifecycle
// notifications from the agent loop, tool dispatch traces, anything a
// frontend wants to observe.
type Event struct {
	ID        string
	Timestamp time.Time
	Type      string
	Payload   map[string]interface{}
}

// Bus is a topic-keyed pub/sub fanout. Publish applies backpressure (blocks
// when a subscriber's buffer is full); TryPublish drops instead, which is
// what fire-and-forget lifecycle notifications want.
type Bus struct {
	logger *zap.Logger

	mu          sync.RWMutex
	subscribers map[string][]chan Event
	catchAll    []chan Event
	bufferSize  int

	// deliveryWg tracks messages delivered via Publish and not yet
	// acknowledged; Close waits for it.
	deliveryWg sync.WaitGroup
	// activeWg tracks in-flight Publish calls.
	activeWg sync.WaitGroup

	closed  bool
	closeMu sync.Mutex
}

// New builds a bus whose subscriber channels buffer bufferSize events.
func New(logger *zap.Logger, bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	return &Bus{
		logger:      logger.Named("event_bus"),
		subscribers: make(map[string][]chan Event),
		bufferSize:  bufferSize,
	}
}

// Publish delivers the event to every subscriber of its type, blocking while
// buffers are full. Each delivery must be acknowledged with Ack before Close
// can complete.
func (b *Bus) Publish(ctx context.Context, ev Event) (err error) {
	b.closeMu.Lock()
	if b.closed {
		b.closeMu.Unlock()
		return fmt.Errorf("cannot publish %q: event bus is closed", ev.Type)
	}
	b.activeWg.Add(1)
	b.closeMu.Unlock()
	defer b.activeWg.Done()

	// Sends can race channel closure during shutdown; the recover undoes the
	// delivery accounting for the send that never landed.
	defer func() {
		if r := recover(); r != nil {
			b.deliveryWg.Done()
			b.logger.Debug("Recovered from publish during shutdown.", zap.Any("panic_value", r))
			err = fmt.Errorf("failed to publish %q: event bus is shutting down", ev.Type)
		}
	}()

	ev = b.enrich(ev)

	for _, ch := range b.targets(ev.Type) {
		b.deliveryWg.Add(1)
		select {
		case ch <- ev:
		case <-ctx.Done():
			b.deliveryWg.Done()
			return ctx.Err()
		}
	}
	return nil
}

// TryPublish delivers to whichever subscribers have buffer room and drops the
// rest. It reports whether every subscriber received the event. Deliveries
// made this way need no acknowledgement.
func (b *Bus) TryPublish(ev Event) bool {
	b.closeMu.Lock()
	if b.closed {
		b.closeMu.Unlock()
		return false
	}
	b.activeWg.Add(1)
	b.closeMu.Unlock()
	defer b.activeWg.Done()

	defer func() {
		if r := recover(); r != nil {
			b.logger.Debug("Recovered from publish during shutdown.", zap.Any("panic_value", r))
		}
	}()

	ev = b.enrich(ev)

	all := true
	for _, ch := range b.targets(ev.Type) {
		select {
		case ch <- ev:
		default:
			all = false
		}
	}
	return all
}

func (b *Bus) enrich(ev Event) Event {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	return ev
}

// targets snapshots the subscriber channels for a type so no lock is held
// during sends.
func (b *Bus) targets(eventType string) []chan Event {
	b.mu.RLock()
	defer b.mu.RUnlock()
	subs := b.subscribers[eventType]
	out := make([]chan Event, 0, len(subs)+len(b.catchAll))
	out = append(out, subs...)
	out = append(out, b.catchAll...)
	return out
}

// Subscribe registers for the given event types and returns the receive
// channel plus an unsubscribe func. With no types it receives everything.
func (b *Bus) Subscribe(eventTypes ...string) (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, b.bufferSize)

	if len(eventTypes) == 0 {
		b.catchAll = append(b.catchAll, ch)
	}
	for _, t := range eventTypes {
		b.subscribers[t] = append(b.subscribers[t], ch)
	}

	unsubscribe := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if b.closedLocked() {
			return
		}

		if len(eventTypes) == 0 {
			for i, c := range b.catchAll {
				if c == ch {
					b.catchAll = append(b.catchAll[:i], b.catchAll[i+1:]...)
					break
				}
			}
		}
		for _, t := range eventTypes {
			subs := b.subscribers[t]
			for i, c := range subs {
				if c == ch {
					b.subscribers[t] = append(subs[:i], subs[i+1:]...)
					break
				}
			}
		}
		close(ch)
	}

	return ch, unsubscribe
}

func (b *Bus) closedLocked() bool {
	b.closeMu.Lock()
	defer b.closeMu.Unlock()
	return b.closed
}

// Ack signals that a Publish-delivered event has been consumed.
func (b *Bus) Ack(Event) {
	b.deliveryWg.Done()
}

// Close stops the bus: no new publishes, all subscriber channels closed,
// then waits for in-flight publishes and unacknowledged deliveries.
func (b *Bus) Close() {
	b.closeMu.Lock()
	if b.closed {
		b.closeMu.Unlock()
		return
	}
	b.closed = true
	b.closeMu.Unlock()

	b.mu.Lock()
	unique := make(map[chan Event]struct{})
	for _, subs := range b.subscribers {
		for _, ch := range subs {
			unique[ch] = struct{}{}
		}
	}
	for _, ch := range b.catchAll {
		unique[ch] = struct{}{}
	}
	for ch := range unique {
		close(ch)
	}
	b.subscribers = make(map[string][]chan Event)
	b.catchAll = nil
	b.mu.Unlock()

	b.activeWg.Wait()
	b.deliveryWg.Wait()
}

// Notifier adapts the bus to the agent loop's fire-and-forget notification
// contract: Emit never blocks, and drops are logged at debug only.
type Notifier struct {
	bus    *Bus
	logger *zap.Logger
}

// NewNotifier wraps a bus for lifecycle notification use.
func NewNotifier(bus *Bus, logger *zap.Logger) *Notifier {
	return &Notifier{bus: bus, logger: logger.Named("event_notifier")}
}

// Emit publishes a lifecycle event, dropping it if any subscriber is full.
func (n *Notifier) Emit(eventType string, payload map[string]interface{}) {
	if !n.bus.TryPublish(Event{Type: eventType, Payload: payload}) {
		n.logger.Debug("Dropped lifecycle event.", zap.String("event", eventType))
	}
}
