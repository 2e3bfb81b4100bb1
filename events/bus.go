// Package events is the host's event API: plugins subscribe to named events
// and the host dispatches them as things happen.
package events

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event names dispatched by the host.
const (
	CapabilityInvoked = "capability.invoked"
	CapabilityFailed  = "capability.failed"
	GraphChanged      = "graph.changed"
	TabRegistered     = "extension.tab.registered"
	PluginLoaded      = "plugin.loaded"
	PluginUnloaded    = "plugin.unloaded"
)

// Names returns every event name the host dispatches.
func Names() []string {
	return []string{CapabilityInvoked, CapabilityFailed, GraphChanged, TabRegistered, PluginLoaded, PluginUnloaded}
}

// Event is delivered to listeners.
type Event struct {
	Name string         `json:"name"`
	Data map[string]any `json:"data,omitempty"`
	Time time.Time      `json:"time"`
}

// Listener handles an event. Listeners run synchronously on the dispatching
// goroutine and must not block for long.
type Listener func(ctx context.Context, e Event)

// ListenerID identifies a registered listener so it can be removed later.
type ListenerID string

type registration struct {
	id       ListenerID
	listener Listener
}

// Bus routes events to listeners. It is safe for concurrent use.
type Bus struct {
	mu        sync.RWMutex
	listeners map[string][]registration
	logger    *slog.Logger
}

// NewBus creates an empty bus. A nil logger falls back to slog.Default().
func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		listeners: make(map[string][]registration),
		logger:    logger,
	}
}

// AddEventListener subscribes listener to event and returns its id.
func (b *Bus) AddEventListener(event string, listener Listener) (ListenerID, error) {
	if event == "" {
		return "", fmt.Errorf("events: event name is required")
	}
	if listener == nil {
		return "", fmt.Errorf("events: listener for %q must not be nil", event)
	}

	id := ListenerID(uuid.NewString())
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listeners[event] = append(b.listeners[event], registration{id: id, listener: listener})
	return id, nil
}

// RemoveEventListener unsubscribes the listener registered under id. It
// reports whether a listener was removed.
func (b *Bus) RemoveEventListener(event string, id ListenerID) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	regs := b.listeners[event]
	for i := range regs {
		if regs[i].id == id {
			regs = append(regs[:i:i], regs[i+1:]...)
			if len(regs) == 0 {
				delete(b.listeners, event)
			} else {
				b.listeners[event] = regs
			}
			return true
		}
	}
	return false
}

// ListenerCount returns the number of listeners subscribed to event.
func (b *Bus) ListenerCount(event string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.listeners[event])
}

// Dispatch delivers an event to its listeners in registration order and
// returns how many were called. Listeners may add or remove listeners; such
// changes apply from the next dispatch.
func (b *Bus) Dispatch(ctx context.Context, event string, data map[string]any) int {
	b.mu.RLock()
	regs := make([]registration, len(b.listeners[event]))
	copy(regs, b.listeners[event])
	b.mu.RUnlock()

	e := Event{Name: event, Data: data, Time: time.Now()}
	for _, r := range regs {
		b.call(ctx, r, e)
	}
	return len(regs)
}

func (b *Bus) call(ctx context.Context, r registration, e Event) {
	defer func() {
		if rec := recover(); rec != nil {
			b.logger.Error("event listener panicked",
				"event", e.Name,
				"listener", string(r.id),
				"panic", fmt.Sprint(rec),
			)
		}
	}()
	r.listener(ctx, e)
}
