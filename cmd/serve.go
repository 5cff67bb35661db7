package cmd

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"clustertest/internal/chatserver"
	"clustertest/internal/config"
	"clustertest/pkg/logging"
)

// serveOptions holds the flags of one serve invocation.
type serveOptions struct {
	index            int
	host             string
	port             int
	path             string
	peers            string
	replicationDelay time.Duration
	debug            bool
}

// newServeCmd creates the command running one instance of the built-in chat
// service. clustertest starts it once per instance unless server.command
// points at another service.
func newServeCmd() *cobra.Command {
	opts := &serveOptions{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run one instance of the built-in chat service",
		Long: `Runs one instance of the chat service used by the default test units.

The instance keeps rooms and messages in memory and exposes them as MCP tools
(create_room, list_rooms, join_room, send_message, list_messages) over
streamable HTTP. Every write is forwarded to the instances listed in --peers,
after --replication-delay, so a cluster converges eventually.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, opts)
		},
	}

	cmd.Flags().IntVar(&opts.index, "index", 0, "Index of this instance in the cluster")
	cmd.Flags().StringVar(&opts.host, "host", config.DefaultHost, "Host to listen on")
	cmd.Flags().IntVar(&opts.port, "port", config.DefaultBasePort, "Port to listen on")
	cmd.Flags().StringVar(&opts.path, "path", config.DefaultPath, "Path of the MCP endpoint")
	cmd.Flags().StringVar(&opts.peers, "peers", "", "Comma separated host:port addresses of the other instances")
	cmd.Flags().DurationVar(&opts.replicationDelay, "replication-delay", 0, "Delay before a write is forwarded to the peers")
	cmd.Flags().BoolVar(&opts.debug, "debug", false, "Enable debug logging")

	return cmd
}

func runServe(cmd *cobra.Command, opts *serveOptions) error {
	level := logging.LevelInfo
	if opts.debug {
		level = logging.LevelDebug
	}
	logging.InitForCLI(level, cmd.ErrOrStderr())

	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := chatserver.New(chatserver.Config{
		Index:            opts.index,
		Host:             opts.host,
		Port:             opts.port,
		Path:             opts.path,
		Peers:            splitPeers(opts.peers),
		ReplicationDelay: opts.replicationDelay,
		Version:          rootCmd.Version,
	})
	return srv.Serve(ctx)
}

func splitPeers(s string) []string {
	var peers []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			peers = append(peers, p)
		}
	}
	return peers
}
