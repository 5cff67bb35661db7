package suite

import (
	"context"
	"errors"
	"fmt"

	"clustertest/internal/environment"
	"clustertest/internal/runner"
	"clustertest/internal/session"
	"clustertest/internal/template"
	"clustertest/pkg/logging"
)

// Compile turns a definition into a runner unit whose action and check call
// tools through the sessions bound under the clients entry.
func Compile(def *Definition) runner.Unit {
	unit := runner.Unit{
		Name:        def.Name,
		Source:      def.Source,
		Description: def.Description,
		Requires:    append([]string(nil), def.Requires...),
		Provides:    append([]string(nil), def.Provides...),
		WaitTime:    def.WaitTime,
	}

	engine := template.New()
	if len(def.Do) > 0 {
		steps := def.Do
		unit.Do = func(ctx context.Context, scope *runner.Scope) error {
			return runDo(ctx, engine, scope, steps)
		}
	}
	if len(def.Check) > 0 {
		steps := def.Check
		unit.Check = func(ctx context.Context, scope *runner.Scope) (bool, error) {
			return runCheck(ctx, engine, scope, steps)
		}
	}
	return unit
}

// LoadUnits loads every unit file under dir and compiles it.
func LoadUnits(dir string) ([]runner.Unit, error) {
	defs, err := Load(dir)
	if err != nil {
		return nil, err
	}
	units := make([]runner.Unit, 0, len(defs))
	for _, def := range defs {
		units = append(units, Compile(def))
	}
	return units, nil
}

func runDo(ctx context.Context, engine *template.Engine, scope *runner.Scope, steps []Step) error {
	for i, step := range steps {
		result, callErr, expect, err := call(ctx, engine, scope, step)
		if err != nil {
			return fmt.Errorf("do step %d (%s): %w", i+1, step.Tool, err)
		}
		if err := expect.Verify(result, callErr); err != nil {
			return fmt.Errorf("do step %d (%s): %w", i+1, step.Tool, err)
		}
		if step.Bind != "" {
			scope.Provide(step.Bind, result.Value())
		}
	}
	return nil
}

func runCheck(ctx context.Context, engine *template.Engine, scope *runner.Scope, steps []Step) (bool, error) {
	unit := scope.Unit().Name
	for i, step := range steps {
		result, callErr, expect, err := call(ctx, engine, scope, step)
		if err != nil {
			return false, fmt.Errorf("check step %d (%s): %w", i+1, step.Tool, err)
		}

		var toolErr *session.ToolError
		if callErr != nil && !errors.As(callErr, &toolErr) {
			return false, fmt.Errorf("check step %d (%s): %w", i+1, step.Tool, callErr)
		}

		if err := expect.Verify(result, callErr); err != nil {
			logging.Debug("Suite", "%s: check step %d (%s) not satisfied: %v", unit, i+1, step.Tool, err)
			return false, nil
		}
	}
	return true, nil
}

// call renders the step against the scope and performs the tool call. err is
// set when the step could not be issued at all.
func call(ctx context.Context, engine *template.Engine, scope *runner.Scope, step Step) (result *session.Result, callErr error, expect Expectation, err error) {
	s, err := client(scope, step.Client)
	if err != nil {
		return nil, nil, expect, err
	}

	vars := scope.Vars()
	var args map[string]interface{}
	if step.Args != nil {
		rendered, err := engine.Replace(step.Args, vars)
		if err != nil {
			return nil, nil, expect, fmt.Errorf("failed to render args: %w", err)
		}
		args = rendered.(map[string]interface{})
	}

	expect, err = step.Expect.render(engine, vars)
	if err != nil {
		return nil, nil, expect, fmt.Errorf("failed to render expectation: %w", err)
	}

	result, callErr = s.CallTool(ctx, step.Tool, args)
	return result, callErr, expect, nil
}

// client returns the session with the given index from the clients entry.
func client(scope *runner.Scope, index int) (session.Session, error) {
	value, ok := scope.Get(environment.ClientsKey)
	if !ok {
		return nil, &environment.MissingError{Name: environment.ClientsKey}
	}
	sessions, ok := value.([]session.Session)
	if !ok {
		return nil, fmt.Errorf("environment entry %q has unexpected type %T", environment.ClientsKey, value)
	}
	if index < 0 || index >= len(sessions) {
		return nil, fmt.Errorf("client index %d out of range, %d client(s) available", index, len(sessions))
	}
	return sessions[index], nil
}
