package core

import (
	"context"
	"fmt"
	"sync"

	"roundcore/pkg/domain"
)

// SignalHandler receives a lifecycle event. Handlers run synchronously in
// registration order; a handler error or panic is captured and does not stop
// delivery to the remaining handlers.
type SignalHandler func(ctx context.Context, event LifecycleEvent) error

type signalRegistration struct {
	name    string
	handler SignalHandler
}

// SignalBus dispatches round lifecycle events to registered handlers.
// Broadcast is best effort: the triggering operation succeeds regardless of
// handler outcomes, and failures are reported back per handler.
type SignalBus struct {
	mu       sync.RWMutex
	handlers map[domain.EventType][]signalRegistration
}

// HandlerError records a single handler failure during a broadcast.
type HandlerError struct {
	Handler string
	Event   domain.EventType
	Err     error
}

func (e HandlerError) Error() string {
	return fmt.Sprintf("signal handler %s failed for %s: %v", e.Handler, e.Event, e.Err)
}

func (e HandlerError) Unwrap() error {
	return e.Err
}

// NewSignalBus constructs an empty bus.
func NewSignalBus() *SignalBus {
	return &SignalBus{
		handlers: make(map[domain.EventType][]signalRegistration),
	}
}

// Subscribe registers a named handler for an event type. The name appears in
// broadcast error reports.
func (b *SignalBus) Subscribe(event domain.EventType, name string, handler SignalHandler) {
	if handler == nil {
		return
	}
	b.mu.Lock()
	b.handlers[event] = append(b.handlers[event], signalRegistration{name: name, handler: handler})
	b.mu.Unlock()
}

// Broadcast delivers the event to every subscribed handler. Each handler runs
// even when an earlier one fails or panics; the returned slice holds one entry
// per failed handler and is nil when all succeed.
func (b *SignalBus) Broadcast(ctx context.Context, event LifecycleEvent) []HandlerError {
	b.mu.RLock()
	registrations := make([]signalRegistration, len(b.handlers[event.Type]))
	copy(registrations, b.handlers[event.Type])
	b.mu.RUnlock()

	var failures []HandlerError
	for _, reg := range registrations {
		if err := b.invoke(ctx, reg, event); err != nil {
			failures = append(failures, HandlerError{Handler: reg.name, Event: event.Type, Err: err})
		}
	}
	return failures
}

func (b *SignalBus) invoke(ctx context.Context, reg signalRegistration, event LifecycleEvent) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return reg.handler(ctx, event)
}
