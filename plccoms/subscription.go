package plccoms

import (
	"log/slog"
	"sort"
	"sync"
)

// Callback receives a variable update. Callbacks run on the receive
// goroutine and should hand off long work to their own goroutine.
type Callback func(name string, value Value)

// CallbackID identifies a registered callback for later removal.
type CallbackID uint64

type subscriptionEntry struct {
	id       CallbackID
	callback Callback
}

// subscriptionRegistry holds per-variable and global change callbacks.
// Registration order is preserved for dispatch. Entries survive
// reconnection; the variable names keyed here drive wire resubscription.
type subscriptionRegistry struct {
	lock      sync.Mutex
	nextID    CallbackID
	variables map[string][]subscriptionEntry
	globals   []subscriptionEntry
}

func newSubscriptionRegistry() *subscriptionRegistry {
	return &subscriptionRegistry{variables: make(map[string][]subscriptionEntry)}
}

func (registry *subscriptionRegistry) addVariable(name string, callback Callback) CallbackID {
	registry.lock.Lock()
	defer registry.lock.Unlock()

	registry.nextID++
	registry.variables[name] = append(registry.variables[name], subscriptionEntry{
		id:       registry.nextID,
		callback: callback,
	})
	return registry.nextID
}

func (registry *subscriptionRegistry) addGlobal(callback Callback) CallbackID {
	registry.lock.Lock()
	defer registry.lock.Unlock()

	registry.nextID++
	registry.globals = append(registry.globals, subscriptionEntry{
		id:       registry.nextID,
		callback: callback,
	})
	return registry.nextID
}

// remove deletes the callback with the given ID from whichever list holds
// it. Variable entries left empty are dropped entirely so the variable no
// longer participates in resubscription.
func (registry *subscriptionRegistry) remove(id CallbackID) bool {
	registry.lock.Lock()
	defer registry.lock.Unlock()

	for index, entry := range registry.globals {
		if entry.id == id {
			registry.globals = append(registry.globals[:index], registry.globals[index+1:]...)
			return true
		}
	}

	for name, entries := range registry.variables {
		for index, entry := range entries {
			if entry.id == id {
				entries = append(entries[:index], entries[index+1:]...)
				if len(entries) == 0 {
					delete(registry.variables, name)
				} else {
					registry.variables[name] = entries
				}
				return true
			}
		}
	}

	return false
}

// removeVariable drops every callback registered for name.
func (registry *subscriptionRegistry) removeVariable(name string) {
	registry.lock.Lock()
	delete(registry.variables, name)
	registry.lock.Unlock()
}

// variableNames returns the monitored variable names in sorted order,
// used to replay EN commands after a reconnect.
func (registry *subscriptionRegistry) variableNames() []string {
	registry.lock.Lock()
	names := make([]string, 0, len(registry.variables))
	for name := range registry.variables {
		names = append(names, name)
	}
	registry.lock.Unlock()

	sort.Strings(names)
	return names
}

// callbacksFor returns the dispatch list for a variable: its own
// callbacks in registration order, then the global callbacks.
func (registry *subscriptionRegistry) callbacksFor(name string) []Callback {
	registry.lock.Lock()
	defer registry.lock.Unlock()

	callbacks := make([]Callback, 0, len(registry.variables[name])+len(registry.globals))
	for _, entry := range registry.variables[name] {
		callbacks = append(callbacks, entry.callback)
	}
	for _, entry := range registry.globals {
		callbacks = append(callbacks, entry.callback)
	}
	return callbacks
}

// dispatch invokes every callback for a variable update. Each call runs
// in its own failure boundary: a panicking callback is logged and the
// remaining callbacks still run.
func (registry *subscriptionRegistry) dispatch(name string, value Value, logger *slog.Logger) {
	for _, callback := range registry.callbacksFor(name) {
		invokeCallback(callback, name, value, logger)
	}
}

func invokeCallback(callback Callback, name string, value Value, logger *slog.Logger) {
	defer func() {
		if recovered := recover(); recovered != nil && logger != nil {
			logger.Error("callback panic", "variable", name, "panic", recovered)
		}
	}()
	callback(name, value)
}
