package chatserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"clustertest/internal/session"
	"clustertest/pkg/logging"
)

// NotificationMethod is sent to connected clients after every write.
const NotificationMethod = "notifications/chat"

// Config configures one chat service instance.
type Config struct {
	// Index is the ordinal of this instance in the cluster
	Index int
	// Host is the address to listen on
	Host string
	// Port is the port to listen on
	Port int
	// Path is the MCP endpoint path, session.DefaultPath when empty
	Path string
	// Peers are the host:port addresses of the other instances
	Peers []string
	// ReplicationDelay postpones forwarding every write to the peers
	ReplicationDelay time.Duration
	// Version is reported to clients during initialize
	Version string
}

// Server is a chat service instance exposing its operations as MCP tools.
type Server struct {
	cfg        Config
	store      *Store
	mcpServer  *server.MCPServer
	httpServer *server.StreamableHTTPServer
	replicator *Replicator
	now        func() time.Time
}

// New creates a server and starts replication workers for its peers.
func New(cfg Config) *Server {
	if cfg.Path == "" {
		cfg.Path = session.DefaultPath
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}

	s := &Server{
		cfg:   cfg,
		store: NewStore(),
		now:   time.Now,
	}

	// Peers are usually stopping too when replication ends, so closing
	// sessions to them waits only briefly.
	dialer := &session.Dialer{
		Path:         cfg.Path,
		ClientName:   fmt.Sprintf("clustertest-replicator-%d", cfg.Index),
		OnError:      func(session.Session, error, session.Call) {},
		CloseTimeout: 500 * time.Millisecond,
	}
	s.replicator = NewReplicator(cfg.Index, cfg.Peers, cfg.ReplicationDelay, dialer)

	s.mcpServer = server.NewMCPServer(
		"clustertest-chat",
		cfg.Version,
		server.WithToolCapabilities(true),
	)
	s.registerTools()
	s.httpServer = server.NewStreamableHTTPServer(s.mcpServer)
	return s
}

// Handler returns the HTTP handler serving the MCP endpoint.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle(s.cfg.Path, s.httpServer)
	return mux
}

// Store exposes the instance's data.
func (s *Server) Store() *Store {
	return s.store
}

// Serve listens on the configured address and blocks until ctx is done.
func (s *Server) Serve(ctx context.Context) error {
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		s.replicator.Close()
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	httpServer := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.Serve(listener)
	}()

	logging.Info("ChatServer", "Instance %d listening on %s%s (%d peer(s))", s.cfg.Index, listener.Addr(), s.cfg.Path, len(s.cfg.Peers))

	select {
	case err := <-errCh:
		s.replicator.Close()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("chat server stopped: %w", err)
	case <-ctx.Done():
	}

	logging.Info("ChatServer", "Instance %d shutting down", s.cfg.Index)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s.replicator.Close()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down chat server: %w", err)
	}
	return nil
}

// Close stops replication. Serve calls it on return.
func (s *Server) Close() {
	s.replicator.Close()
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(
		mcp.NewTool("create_room",
			mcp.WithDescription("Create a chat room"),
			mcp.WithString("name", mcp.Required(), mcp.Description("Room name")),
		),
		s.handleCreateRoom,
	)
	s.mcpServer.AddTool(
		mcp.NewTool("list_rooms",
			mcp.WithDescription("List all chat rooms known to this instance"),
		),
		s.handleListRooms,
	)
	s.mcpServer.AddTool(
		mcp.NewTool("join_room",
			mcp.WithDescription("Add a user to a room"),
			mcp.WithString("room_id", mcp.Required(), mcp.Description("Room id")),
			mcp.WithString("user", mcp.Required(), mcp.Description("User name")),
		),
		s.handleJoinRoom,
	)
	s.mcpServer.AddTool(
		mcp.NewTool("send_message",
			mcp.WithDescription("Post a message to a room"),
			mcp.WithString("room_id", mcp.Required(), mcp.Description("Room id")),
			mcp.WithString("user", mcp.Required(), mcp.Description("Author")),
			mcp.WithString("text", mcp.Required(), mcp.Description("Message text")),
		),
		s.handleSendMessage,
	)
	s.mcpServer.AddTool(
		mcp.NewTool("list_messages",
			mcp.WithDescription("List the messages of a room"),
			mcp.WithString("room_id", mcp.Required(), mcp.Description("Room id")),
		),
		s.handleListMessages,
	)
	s.mcpServer.AddTool(
		mcp.NewTool("replicate",
			mcp.WithDescription("Apply a write forwarded by a peer instance"),
			mcp.WithString("kind", mcp.Required(), mcp.Enum(KindRoom, KindJoin, KindMessage)),
			mcp.WithString("payload", mcp.Required(), mcp.Description("JSON encoded record")),
			mcp.WithNumber("origin", mcp.Description("Index of the originating instance")),
		),
		s.handleReplicate,
	)
}

func (s *Server) handleCreateRoom(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.GetArguments()
	name, err := requireString(args, "name")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	room := Room{
		ID:        uuid.NewString(),
		Name:      name,
		Members:   []string{},
		CreatedAt: s.now().UTC(),
		Origin:    s.cfg.Index,
	}
	s.store.AddRoom(room)
	s.publish(ctx, KindRoom, room)

	return jsonResult(room)
}

func (s *Server) handleListRooms(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(s.store.Rooms())
}

func (s *Server) handleJoinRoom(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.GetArguments()
	roomID, err := requireString(args, "room_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	user, err := requireString(args, "user")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	membership := Membership{RoomID: roomID, User: user}
	added, err := s.store.Join(membership)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if added {
		s.publish(ctx, KindJoin, membership)
	}

	room, err := s.store.Room(roomID)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(room)
}

func (s *Server) handleSendMessage(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.GetArguments()
	roomID, err := requireString(args, "room_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	user, err := requireString(args, "user")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	text, err := requireString(args, "text")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	msg := Message{
		ID:        uuid.NewString(),
		RoomID:    roomID,
		User:      user,
		Text:      text,
		CreatedAt: s.now().UTC(),
		Origin:    s.cfg.Index,
	}
	if _, err := s.store.AddMessage(msg); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	s.publish(ctx, KindMessage, msg)

	return jsonResult(msg)
}

func (s *Server) handleListMessages(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	roomID, err := requireString(request.GetArguments(), "room_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	messages, err := s.store.Messages(roomID)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(messages)
}

// handleReplicate applies a peer's write locally. Replicated writes are never
// forwarded again.
func (s *Server) handleReplicate(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.GetArguments()
	kind, err := requireString(args, "kind")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	payload, err := requireString(args, "payload")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	if err := s.apply(kind, []byte(payload)); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	s.notify(ctx, kind, json.RawMessage(payload))
	return mcp.NewToolResultText("ok"), nil
}

func (s *Server) apply(kind string, payload []byte) error {
	switch kind {
	case KindRoom:
		var room Room
		if err := json.Unmarshal(payload, &room); err != nil {
			return fmt.Errorf("invalid room payload: %w", err)
		}
		s.store.AddRoom(room)
		return nil
	case KindJoin:
		var m Membership
		if err := json.Unmarshal(payload, &m); err != nil {
			return fmt.Errorf("invalid join payload: %w", err)
		}
		_, err := s.store.Join(m)
		return err
	case KindMessage:
		var msg Message
		if err := json.Unmarshal(payload, &msg); err != nil {
			return fmt.Errorf("invalid message payload: %w", err)
		}
		_, err := s.store.AddMessage(msg)
		return err
	default:
		return fmt.Errorf("unknown replication kind %q", kind)
	}
}

// publish notifies the caller and queues the write for the peers.
func (s *Server) publish(ctx context.Context, kind string, record interface{}) {
	ev, err := NewEvent(kind, s.cfg.Index, record)
	if err != nil {
		logging.Error("ChatServer", err, "Not replicating %s write", kind)
		return
	}
	s.notify(ctx, kind, ev.Payload)
	s.replicator.Publish(ev)
}

func (s *Server) notify(ctx context.Context, kind string, payload json.RawMessage) {
	var record interface{}
	_ = json.Unmarshal(payload, &record)
	err := s.mcpServer.SendNotificationToClient(ctx, NotificationMethod, map[string]any{
		"kind":     kind,
		"instance": s.cfg.Index,
		"record":   record,
	})
	if err != nil {
		logging.Debug("ChatServer", "Could not notify client of %s write: %v", kind, err)
	}
}

func requireString(args map[string]interface{}, key string) (string, error) {
	raw, ok := args[key]
	if !ok {
		return "", fmt.Errorf("%s is required", key)
	}
	value, ok := raw.(string)
	if !ok || value == "" {
		return "", fmt.Errorf("%s must be a non-empty string", key)
	}
	return value, nil
}

func jsonResult(v interface{}) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode result: %w", err)
	}
	return mcp.NewToolResultText(string(data)), nil
}
