package suite

// Definition is one unit record as written in a YAML file.
type Definition struct {
	// Name is the human-readable unit name
	Name string `yaml:"name"`
	// Description is shown in verbose output
	Description string `yaml:"description,omitempty"`
	// Requires lists environment entries needed before the unit runs
	Requires []string `yaml:"requires,omitempty"`
	// Provides lists environment entries the unit binds
	Provides []string `yaml:"provides,omitempty"`
	// WaitTime is the number of extra check attempts
	WaitTime int `yaml:"wait_time,omitempty"`
	// Do holds the action steps, executed once in order
	Do []Step `yaml:"do,omitempty"`
	// Check holds the convergence steps, all of which must pass
	Check []Step `yaml:"check,omitempty"`

	// Source is the file the definition was loaded from
	Source string `yaml:"-"`
}

// Step is a single tool call against one client.
type Step struct {
	// Client is the index into the clients entry
	Client int `yaml:"client"`
	// Tool is the MCP tool to invoke
	Tool string `yaml:"tool"`
	// Args are the tool arguments, templated against the unit's variables
	Args map[string]interface{} `yaml:"args,omitempty"`
	// Bind names the environment entry the result is bound to (do steps only)
	Bind string `yaml:"bind,omitempty"`
	// Expect defines what counts as a successful call
	Expect Expectation `yaml:"expect,omitempty"`
}

// Expectation defines what result is expected from a step.
type Expectation struct {
	// Success indicates whether the tool call should succeed, true when unset
	Success *bool `yaml:"success,omitempty"`
	// ErrorContains checks that the error message contains each text
	ErrorContains []string `yaml:"error_contains,omitempty"`
	// Contains checks that the response contains each text
	Contains []string `yaml:"contains,omitempty"`
	// NotContains checks that the response contains none of the texts
	NotContains []string `yaml:"not_contains,omitempty"`
	// JSONPath maps gjson paths into the response to their expected values
	JSONPath map[string]interface{} `yaml:"json_path,omitempty"`
}

// ExpectSuccess reports whether the call is expected to succeed.
func (e Expectation) ExpectSuccess() bool {
	return e.Success == nil || *e.Success
}
