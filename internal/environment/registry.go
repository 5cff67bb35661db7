// Package environment implements the name-keyed registry that test units use
// to hand state to one another.
//
// The registry is deliberately not safe for concurrent use; units execute one
// at a time and are the only writers.
package environment

import (
	"fmt"

	"clustertest/pkg/logging"
)

// ClientsKey is the entry bound by the orchestrator before any unit runs.
const ClientsKey = "clients"

// Entry is a single binding.
type Entry struct {
	Name     string
	Value    interface{}
	Producer string
}

// MissingError reports the first required name that is not bound.
type MissingError struct {
	Name string
}

func (e *MissingError) Error() string {
	return fmt.Sprintf("missing environment entry %q", e.Name)
}

// Registry maps names to values. A name keeps its first value for the lifetime
// of the registry.
type Registry struct {
	entries map[string]*Entry
	order   []string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[string]*Entry),
	}
}

// Provide binds name to value. If name is already bound the existing value is
// kept, a warning is logged and false is returned.
func (r *Registry) Provide(name string, value interface{}, producer string) bool {
	if existing, ok := r.entries[name]; ok {
		logging.Warn("Environment", "%s tried to overwrite environment entry %q (provided by %s); keeping the original value",
			producerOrUnknown(producer), name, producerOrUnknown(existing.Producer))
		return false
	}

	r.entries[name] = &Entry{Name: name, Value: value, Producer: producer}
	r.order = append(r.order, name)
	logging.Debug("Environment", "%s provided %q", producerOrUnknown(producer), name)
	return true
}

// Lookup returns the value bound to name.
func (r *Registry) Lookup(name string) (interface{}, bool) {
	entry, ok := r.entries[name]
	if !ok {
		return nil, false
	}
	return entry.Value, true
}

// RequireAll resolves names in order. The first unbound name yields a
// *MissingError.
func (r *Registry) RequireAll(names []string) (Values, error) {
	values := Values{
		names:  make([]string, 0, len(names)),
		values: make([]interface{}, 0, len(names)),
	}
	for _, name := range names {
		value, ok := r.Lookup(name)
		if !ok {
			return Values{}, &MissingError{Name: name}
		}
		values.names = append(values.names, name)
		values.values = append(values.values, value)
	}
	return values, nil
}

// Entries returns a copy of all bindings in the order they were made.
func (r *Registry) Entries() []Entry {
	out := make([]Entry, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, *r.entries[name])
	}
	return out
}

// Len returns the number of bound names.
func (r *Registry) Len() int {
	return len(r.order)
}

func producerOrUnknown(p string) string {
	if p == "" {
		return "<unknown>"
	}
	return p
}

// Values holds resolved dependencies in the order they were required.
type Values struct {
	names  []string
	values []interface{}
}

// Len returns the number of resolved values.
func (v Values) Len() int {
	return len(v.values)
}

// At returns the i-th resolved value.
func (v Values) At(i int) interface{} {
	return v.values[i]
}

// Get returns the value resolved for name.
func (v Values) Get(name string) (interface{}, bool) {
	for i, n := range v.names {
		if n == name {
			return v.values[i], true
		}
	}
	return nil, false
}

// Names returns the resolved names in order.
func (v Values) Names() []string {
	return append([]string(nil), v.names...)
}

// Map returns the resolved values keyed by name.
func (v Values) Map() map[string]interface{} {
	m := make(map[string]interface{}, len(v.names))
	for i, n := range v.names {
		m[n] = v.values[i]
	}
	return m
}
