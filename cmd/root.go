package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"clustertest/internal/config"
	"clustertest/internal/runner"
	"clustertest/pkg/logging"
)

var (
	rootNumber     int
	rootClientLog  bool
	rootServerLog  bool
	rootBasePort   int
	rootHost       string
	rootTestsDir   string
	rootConfigPath string
	rootReportDir  string
	rootVerbose    bool
	rootDebug      bool
	rootLogLevel   string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "clustertest",
	Short: "Boot a cluster of service instances and run integration tests against it",
	Long: `clustertest starts N service instances on consecutive ports, waits until
every instance is ready, opens one MCP client session per instance and then
runs the unit files found in the tests directory in lexicographic order.

Units share state through an environment: the client sessions are bound under
"clients", and units bind further names with "provides" for the units that
"requires" them. A unit whose requirements are missing is skipped.

Example usage:
  clustertest                         # 2 instances of the built-in chat service
  clustertest -N 3 -S                 # 3 instances, stream their output
  clustertest -C --tests e2e          # trace client traffic, units from ./e2e
  clustertest --config run.yaml       # custom service command and timeouts

The exit code is 0 when no unit failed and 1 otherwise.`,
	Args: cobra.NoArgs,
	// SilenceUsage is set to true to prevent printing usage message on errors
	// handled by us (e.g. failed bootstrap, failed tests)
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runRoot,
}

// SetVersion sets the version for the root command
func SetVersion(v string) {
	rootCmd.Version = v
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "clustertest version %s\n" .Version}}`)

	err := rootCmd.Execute()
	if err == nil {
		return
	}
	// The summary already reported the failures.
	if !errors.Is(err, runner.ErrTestsFailed) {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	os.Exit(1)
}

func init() {
	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newVersionCmd())

	flags := rootCmd.Flags()
	flags.IntVarP(&rootNumber, "number", "N", 2, "Number of service instances to boot")
	flags.BoolVarP(&rootClientLog, "client-log", "C", false, "Log every client request, response and server notification")
	flags.BoolVarP(&rootServerLog, "server-log", "S", false, "Log the output of every service instance")
	flags.IntVar(&rootBasePort, "base-port", config.DefaultBasePort, "Port of the first instance, instance i listens on base-port+i")
	flags.StringVar(&rootHost, "host", config.DefaultHost, "Host the instances listen on")
	flags.StringVar(&rootTestsDir, "tests", config.DefaultTestsDir, "Directory containing the unit files")
	flags.StringVar(&rootConfigPath, "config", "", "Path to a configuration file layered over the user and project config")
	flags.StringVar(&rootReportDir, "report", "", "Directory to save a JSON report of the run")
	flags.BoolVarP(&rootVerbose, "verbose", "v", false, "Print unit descriptions and attempt counts")
	flags.BoolVar(&rootDebug, "debug", false, "Enable debug logging, shorthand for --log-level debug")
	flags.StringVar(&rootLogLevel, "log-level", "info", "Log level: debug, info, warn or error")
}

func runRoot(cmd *cobra.Command, args []string) error {
	level, err := resolveLogLevel(rootLogLevel, rootDebug)
	if err != nil {
		return err
	}
	logging.InitForCLI(level, cmd.ErrOrStderr())

	cfg, err := config.LoadConfig(rootConfigPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	applyRootFlags(cmd, &cfg)
	if err := cfg.Validate(rootNumber); err != nil {
		return err
	}

	ctx, stop := withInterrupt(cmd.Context())
	defer stop()

	return orchestrate(ctx, cfg, runOptions{
		Number:    rootNumber,
		ClientLog: rootClientLog,
		ServerLog: rootServerLog,
		ReportDir: rootReportDir,
		Verbose:   rootVerbose,
	}, cmd.OutOrStdout(), cmd.ErrOrStderr())
}

// resolveLogLevel parses the --log-level value. --debug wins over it.
func resolveLogLevel(name string, debug bool) (logging.LogLevel, error) {
	if debug {
		return logging.LevelDebug, nil
	}
	level, err := logging.ParseLevel(name)
	if err != nil {
		return logging.LevelInfo, fmt.Errorf("invalid --log-level: %w", err)
	}
	return level, nil
}

// applyRootFlags lets explicitly set flags override the configuration files.
func applyRootFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("base-port") {
		cfg.Server.BasePort = rootBasePort
	}
	if flags.Changed("host") {
		cfg.Server.Host = rootHost
	}
	if flags.Changed("tests") {
		cfg.Tests.Dir = rootTestsDir
	}
}
