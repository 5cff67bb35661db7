package config

import (
	"errors"
	"fmt"
	"regexp"
)

const (
	minPort = 1024
	maxPort = 65535
)

// Validate checks the configuration for a run of n instances.
func (c Config) Validate(n int) error {
	var errs []error

	if n < 1 {
		errs = append(errs, fmt.Errorf("number of instances must be at least 1, got %d", n))
	}
	if len(c.Server.Command) == 0 || c.Server.Command[0] == "" {
		errs = append(errs, errors.New("server.command must not be empty"))
	}
	if c.Server.Host == "" {
		errs = append(errs, errors.New("server.host must not be empty"))
	}

	base := c.Server.BasePort
	if base < minPort || base > maxPort {
		errs = append(errs, fmt.Errorf("server.basePort %d is outside %d-%d", base, minPort, maxPort))
	} else if n >= 1 && base+n-1 > maxPort {
		errs = append(errs, fmt.Errorf("%d instances starting at port %d exceed port %d", n, base, maxPort))
	}

	switch c.Server.Ready.Type {
	case "", ProbeTCP:
	case ProbeLog:
		if c.Server.Ready.Pattern == "" {
			errs = append(errs, errors.New("server.ready.pattern is required for the log probe"))
		} else if _, err := regexp.Compile(c.Server.Ready.Pattern); err != nil {
			errs = append(errs, fmt.Errorf("server.ready.pattern is invalid: %w", err))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown readiness probe type %q", c.Server.Ready.Type))
	}

	if c.Bootstrap.ReadyTimeout <= 0 {
		errs = append(errs, fmt.Errorf("bootstrap.readyTimeout must be positive, got %v", c.Bootstrap.ReadyTimeout))
	}
	if c.Bootstrap.ShutdownGrace <= 0 {
		errs = append(errs, fmt.Errorf("bootstrap.shutdownGrace must be positive, got %v", c.Bootstrap.ShutdownGrace))
	}
	if c.Runner.RetryInterval < 0 {
		errs = append(errs, fmt.Errorf("runner.retryInterval must not be negative, got %v", c.Runner.RetryInterval))
	}
	if c.Tests.Dir == "" {
		errs = append(errs, errors.New("tests.dir must not be empty"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}
