// Package bus implements the in-process typed publish/subscribe channel that
// couples the engine, quota manager, planner, and learning recorder to their
// consumers. Delivery is synchronous and FIFO per subscriber; handlers must
// not block. There is no replay and no persistence.
package bus

import "sync"

// Kind identifies an event variant.
type Kind string

// The event taxonomy. Payload types are defined in events.go.
const (
	KindQuotaUpdate           Kind = "quota-update"
	KindQuotaWarning          Kind = "quota-warning"
	KindPlanStarted           Kind = "plan-started"
	KindPlanReady             Kind = "plan-ready"
	KindPlanFailed            Kind = "plan-failed"
	KindExecutionStarted      Kind = "execution-started"
	KindStoryStarted          Kind = "story-started"
	KindStoryProgress         Kind = "story-progress"
	KindStoryCompleted        Kind = "story-completed"
	KindStoryFailed           Kind = "story-failed"
	KindExecutionPaused       Kind = "execution-paused"
	KindExecutionResumed      Kind = "execution-resumed"
	KindExecutionStopped      Kind = "execution-stopped"
	KindExecutionComplete     Kind = "execution-complete"
	KindLearningRecorded      Kind = "learning-recorded"
	KindRecommendationUpdated Kind = "recommendation-updated"
	KindStateSnapshot         Kind = "state-snapshot"
)

// Event is implemented by every event variant.
type Event interface {
	Kind() Kind
}

// Handler processes one event. Handlers run synchronously on the emitter's
// goroutine and must return promptly.
type Handler func(Event)

// Bus is the process-wide event channel. The zero value is not usable; use
// New. Safe for concurrent use.
type Bus struct {
	mu       sync.Mutex
	handlers map[Kind][]Handler
	wildcard []Handler
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{handlers: make(map[Kind][]Handler)}
}

// On registers a handler for one event kind. Handlers fire in registration
// order.
func (b *Bus) On(kind Kind, handler Handler) {
	if handler == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[kind] = append(b.handlers[kind], handler)
}

// OnAll registers a wildcard handler that receives every event. Wildcard
// handlers fire after the kind-specific ones.
func (b *Bus) OnAll(handler Handler) {
	if handler == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.wildcard = append(b.wildcard, handler)
}

// Emit delivers the event to all matching handlers synchronously, in
// registration order.
func (b *Bus) Emit(event Event) {
	if event == nil {
		return
	}

	b.mu.Lock()
	kindHandlers := make([]Handler, len(b.handlers[event.Kind()]))
	copy(kindHandlers, b.handlers[event.Kind()])
	allHandlers := make([]Handler, len(b.wildcard))
	copy(allHandlers, b.wildcard)
	b.mu.Unlock()

	for _, h := range kindHandlers {
		h(event)
	}
	for _, h := range allHandlers {
		h(event)
	}
}

// RemoveAll unregisters every handler.
func (b *Bus) RemoveAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = make(map[Kind][]Handler)
	b.wildcard = nil
}
