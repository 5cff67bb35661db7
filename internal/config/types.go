package config

import (
	"time"
)

// Config is the top-level configuration structure for clustertest.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Bootstrap BootstrapConfig `yaml:"bootstrap"`
	Runner    RunnerConfig    `yaml:"runner"`
	Tests     TestsConfig     `yaml:"tests"`
}

// ServerConfig describes how service instances are started and reached.
type ServerConfig struct {
	// Command is the command line of one instance. Arguments may use the
	// {{ index }}, {{ port }}, {{ host }} and {{ peers }} placeholders.
	Command  []string          `yaml:"command,omitempty"`
	Host     string            `yaml:"host,omitempty"`
	BasePort int               `yaml:"basePort,omitempty"`
	Path     string            `yaml:"path,omitempty"`
	TLS      TLSConfig         `yaml:"tls,omitempty"`
	Ready    ReadyConfig       `yaml:"ready,omitempty"`
	Env      map[string]string `yaml:"env,omitempty"`
}

// TLSConfig selects the client transport scheme.
type TLSConfig struct {
	Enabled bool `yaml:"enabled,omitempty"`
}

// ReadyConfig selects the readiness probe.
type ReadyConfig struct {
	Type    string `yaml:"type,omitempty"`    // "tcp" or "log"
	Pattern string `yaml:"pattern,omitempty"` // regular expression for "log"
}

// BootstrapConfig bounds instance startup and shutdown.
type BootstrapConfig struct {
	ReadyTimeout  time.Duration `yaml:"readyTimeout,omitempty"`
	ShutdownGrace time.Duration `yaml:"shutdownGrace,omitempty"`
}

// RunnerConfig tunes unit execution.
type RunnerConfig struct {
	// RetryInterval is the pause between convergence check attempts
	RetryInterval time.Duration `yaml:"retryInterval,omitempty"`
}

// TestsConfig locates the unit files.
type TestsConfig struct {
	Dir string `yaml:"dir,omitempty"`
}

// Probe types accepted in ready.type.
const (
	ProbeTCP = "tcp"
	ProbeLog = "log"
)
