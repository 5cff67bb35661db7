package runner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"clustertest/internal/environment"
)

// Status is the outcome of a single unit.
type Status string

const (
	// StatusPass indicates the unit passed
	StatusPass Status = "PASS"
	// StatusFail indicates the unit failed
	StatusFail Status = "FAIL"
	// StatusSkip indicates a required environment entry was missing
	StatusSkip Status = "SKIP"
)

// ErrCheckNotTrue is the failure reported when a check ran out of attempts
// without ever returning true and without raising an error.
var ErrCheckNotTrue = errors.New("check function failed to return a true value")

// CheckFunc reports whether the state a unit asserts has been reached. A
// false result means "not yet"; an error means the check itself is broken.
type CheckFunc func(ctx context.Context, scope *Scope) (bool, error)

// ActionFunc performs a unit's one-shot action.
type ActionFunc func(ctx context.Context, scope *Scope) error

// Unit is one test definition.
type Unit struct {
	// Name is the human-readable unit name
	Name string
	// Source identifies where the unit was defined, usually a file path
	Source string
	// Description is optional free text shown in verbose output
	Description string
	// Requires lists environment entries that must be bound before the unit runs
	Requires []string
	// Provides lists environment entries the unit promises to bind
	Provides []string
	// Check is the optional idempotency and convergence predicate
	Check CheckFunc
	// Do is the optional one-shot action
	Do ActionFunc
	// WaitTime is the number of extra check attempts allowed
	WaitTime int
}

// Validate checks the unit definition for structural errors.
func (u Unit) Validate() error {
	if u.Name == "" {
		return fmt.Errorf("unit name must not be empty")
	}
	if u.WaitTime < 0 {
		return fmt.Errorf("unit %q: wait_time must not be negative, got %d", u.Name, u.WaitTime)
	}
	return nil
}

// Scope is what a unit's check and action see: its resolved dependencies and
// a way to bind the entries it provides.
type Scope struct {
	unit     *Unit
	values   environment.Values
	registry *environment.Registry
	provided map[string]interface{}
}

// NewScope creates a scope for unit. It is exported so that checks and actions
// can be exercised outside a Runner.
func NewScope(unit *Unit, values environment.Values, registry *environment.Registry) *Scope {
	return &Scope{
		unit:     unit,
		values:   values,
		registry: registry,
		provided: make(map[string]interface{}),
	}
}

// Unit returns the unit being executed.
func (s *Scope) Unit() *Unit {
	return s.unit
}

// Values returns the resolved dependencies in the order they were required.
func (s *Scope) Values() environment.Values {
	return s.values
}

// Get returns a resolved dependency, or a value this unit provided, by name.
func (s *Scope) Get(name string) (interface{}, bool) {
	if v, ok := s.values.Get(name); ok {
		return v, true
	}
	v, ok := s.provided[name]
	return v, ok
}

// Vars returns the resolved dependencies merged with the values this unit
// provided so far.
func (s *Scope) Vars() map[string]interface{} {
	vars := s.values.Map()
	for name, v := range s.provided {
		if _, ok := vars[name]; !ok {
			vars[name] = v
		}
	}
	return vars
}

// Provide binds name in the shared registry on behalf of the unit. When name
// was already bound the unit sees the original value from then on.
func (s *Scope) Provide(name string, value interface{}) bool {
	if !s.registry.Provide(name, value, s.unit.Name) {
		if existing, ok := s.registry.Lookup(name); ok {
			s.provided[name] = existing
		}
		return false
	}
	s.provided[name] = value
	return true
}

// Result is the outcome of executing one unit.
type Result struct {
	// Unit is the unit name
	Unit string `json:"unit"`
	// Source is where the unit was defined
	Source string `json:"source,omitempty"`
	// Status is PASS, FAIL or SKIP
	Status Status `json:"status"`
	// Error holds the failure detail, present iff Status is FAIL
	Error string `json:"error,omitempty"`
	// Missing names the unbound dependency, present iff Status is SKIP
	Missing string `json:"missing,omitempty"`
	// CheckAttempts counts convergence check invocations
	CheckAttempts int `json:"check_attempts"`
	// StartTime when unit execution began
	StartTime time.Time `json:"start_time"`
	// EndTime when unit execution completed
	EndTime time.Time `json:"end_time"`
	// Duration of unit execution
	Duration time.Duration `json:"duration"`

	err error
}

// Err returns the underlying failure, if any.
func (r Result) Err() error {
	return r.err
}
