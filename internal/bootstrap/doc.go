// Package bootstrap starts the service instances under test and owns them
// until the run ends.
//
// A Coordinator launches N instances concurrently through a Launcher and
// races each instance's readiness signal against a timeout. Bootstrap
// succeeds only when every instance is ready; otherwise the output of the
// instances that failed is logged and an error is returned.
//
// The default launcher, ProcessLauncher, runs each instance as a process in
// its own process group and detects readiness either by dialing its port or
// by matching a line of its output:
//
//	launcher := &bootstrap.ProcessLauncher{
//		Command: []string{"clustertest", "serve", "--port", "{{ port }}"},
//		Probe:   bootstrap.Probe{Type: bootstrap.ProbeTCP},
//	}
//	coordinator := bootstrap.NewCoordinator(launcher)
//	defer coordinator.Shutdown(context.Background())
//	instances, err := coordinator.Bootstrap(ctx, 2, 18000)
//
// Shutdown sends SIGTERM to every process group and escalates to SIGKILL
// after the grace period.
package bootstrap
