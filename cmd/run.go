package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"clustertest/internal/bootstrap"
	"clustertest/internal/config"
	"clustertest/internal/environment"
	"clustertest/internal/runner"
	"clustertest/internal/session"
	"clustertest/internal/suite"
	"clustertest/pkg/logging"
)

// runOptions carries the command line switches that are not part of the
// configuration files.
type runOptions struct {
	Number    int
	ClientLog bool
	ServerLog bool
	ReportDir string
	Verbose   bool
}

// withInterrupt cancels the returned context on the first SIGINT or SIGTERM
// and exits the process on the second.
func withInterrupt(parent context.Context) (context.Context, func()) {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)

	sigChan := make(chan os.Signal, 2)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	done := make(chan struct{})

	go func() {
		select {
		case <-sigChan:
		case <-done:
			return
		}
		logging.Warn("CLI", "Received interrupt signal, stopping tests and shutting down instances...")
		cancel()

		select {
		case <-sigChan:
			logging.Warn("CLI", "Received second interrupt signal, exiting immediately")
			os.Exit(1)
		case <-done:
		}
	}()

	return ctx, func() {
		signal.Stop(sigChan)
		close(done)
		cancel()
	}
}

// orchestrate boots the instances, connects the clients and runs the units.
// Instances are shut down before it returns, whatever the outcome.
func orchestrate(ctx context.Context, cfg config.Config, opts runOptions, stdout, stderr io.Writer) error {
	units, err := suite.LoadUnits(cfg.Tests.Dir)
	if err != nil {
		return fmt.Errorf("failed to load test units: %w", err)
	}
	if len(units) == 0 {
		logging.Warn("CLI", "No unit files found in %s", cfg.Tests.Dir)
	}

	launcher := &bootstrap.ProcessLauncher{
		Command: cfg.Server.Command,
		Host:    cfg.Server.Host,
		Peers:   bootstrap.PeerAddresses(cfg.Server.Host, cfg.Server.BasePort, opts.Number),
		Env:     cfg.Server.Env,
		Probe: bootstrap.Probe{
			Type:    cfg.Server.Ready.Type,
			Pattern: cfg.Server.Ready.Pattern,
		},
		ServerLog: opts.ServerLog,
	}
	coordinator := bootstrap.NewCoordinator(launcher,
		bootstrap.WithReadyTimeout(cfg.Bootstrap.ReadyTimeout),
		bootstrap.WithShutdownGrace(cfg.Bootstrap.ShutdownGrace),
	)
	shutdown := func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Bootstrap.ShutdownGrace+2*time.Second)
		defer cancel()
		if shutdownErr := coordinator.Shutdown(shutdownCtx); shutdownErr != nil {
			logging.Warn("CLI", "Shutting down instances: %v", shutdownErr)
		}
	}
	// An interrupt stops the instances right away, even mid-bootstrap or while
	// a unit is blocked. Shutdown runs once; later callers wait for it.
	stopAfter := context.AfterFunc(ctx, shutdown)
	defer func() {
		stopAfter()
		shutdown()
	}()

	instances, err := coordinator.Bootstrap(ctx, opts.Number, cfg.Server.BasePort)
	if err != nil {
		return err
	}

	targets := make([]session.Target, len(instances))
	for i, instance := range instances {
		targets[i] = session.Target{Index: instance.Index, Host: cfg.Server.Host, Port: instance.Port}
	}
	dialer := &session.Dialer{
		TLS:        cfg.Server.TLS.Enabled,
		Path:       cfg.Server.Path,
		Trace:      opts.ClientLog,
		ClientName: "clustertest",
	}
	pool, err := session.Connect(ctx, dialer, targets)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := pool.Close(); closeErr != nil {
			logging.Debug("CLI", "Closing client sessions: %v", closeErr)
		}
	}()

	registry := environment.NewRegistry()
	registry.Provide(environment.ClientsKey, pool.Sessions(), "bootstrap")

	reporters := runner.MultiReporter{runner.NewConsoleReporter(stdout, stderr, opts.Verbose)}
	if opts.ReportDir != "" {
		reporters = append(reporters, runner.NewJSONReporter(opts.ReportDir, stderr))
	}

	r := runner.New(registry, reporters, runner.WithRetryInterval(cfg.Runner.RetryInterval))
	summary := r.Run(ctx, units)
	if ctx.Err() != nil {
		return fmt.Errorf("run interrupted: %w", ctx.Err())
	}
	return summary.Err()
}
