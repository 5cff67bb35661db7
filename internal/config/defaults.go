package config

import (
	"os"
	"time"
)

// For mocking in tests
var osExecutable = os.Executable

const (
	DefaultHost          = "localhost"
	DefaultBasePort      = 18000
	DefaultPath          = "/mcp"
	DefaultReadyTimeout  = 10 * time.Second
	DefaultShutdownGrace = 5 * time.Second
	DefaultRetryInterval = time.Second
	DefaultTestsDir      = "scenarios"
)

// DefaultCommand runs the built-in chat service from the clustertest binary
// itself.
func DefaultCommand() []string {
	self, err := osExecutable()
	if err != nil || self == "" {
		self = "clustertest"
	}
	return []string{
		self, "serve",
		"--index", "{{ index }}",
		"--host", "{{ host }}",
		"--port", "{{ port }}",
		"--peers", "{{ peers }}",
		"--replication-delay", "500ms",
	}
}

// GetDefaultConfig returns the built-in configuration.
func GetDefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Command:  DefaultCommand(),
			Host:     DefaultHost,
			BasePort: DefaultBasePort,
			Path:     DefaultPath,
			Ready:    ReadyConfig{Type: ProbeTCP},
			Env:      map[string]string{},
		},
		Bootstrap: BootstrapConfig{
			ReadyTimeout:  DefaultReadyTimeout,
			ShutdownGrace: DefaultShutdownGrace,
		},
		Runner: RunnerConfig{
			RetryInterval: DefaultRetryInterval,
		},
		Tests: TestsConfig{
			Dir: DefaultTestsDir,
		},
	}
}
