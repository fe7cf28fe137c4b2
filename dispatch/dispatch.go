// Package dispatch provides a registry mapping event names to handlers, so
// new event kinds are added by registration alone rather than by growing a
// switch over every known name.
package dispatch

import (
	"encoding/json"
	"sync"
)

// HandlerFunc handles one decoded event payload. Handlers are closures bound
// to whatever receiver they update; the registry knows nothing about it.
type HandlerFunc func(payload json.RawMessage)

// Registry maps an event-name string to its handler. Lookup is an ordinary
// string-keyed map: the map hashes internally and confirms full key equality
// on collision, so distinct names can never alias each other.
//
// A Registry is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{handlers: make(map[string]HandlerFunc)}
}

// Register binds a handler under name. Registering the same name again
// replaces the previous handler; the override is intentional, not an error.
func (r *Registry) Register(name string, fn HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[name] = fn
}

// Has reports whether a handler is registered under name.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.handlers[name]
	return ok
}

// Dispatch invokes the handler registered under name synchronously with
// payload. It reports whether a handler was found; an unknown name is a
// recoverable condition for the caller to log, not a fault.
func (r *Registry) Dispatch(name string, payload json.RawMessage) bool {
	r.mu.RLock()
	fn, ok := r.handlers[name]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	fn(payload)
	return true
}
