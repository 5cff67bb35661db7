package session

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"

	"clustertest/pkg/logging"
)

const (
	// DefaultPath is the streamable HTTP endpoint path
	DefaultPath = "/mcp"
	// DefaultInitTimeout bounds the initialize handshake
	DefaultInitTimeout = 30 * time.Second
	// DefaultCallTimeout bounds a single tool call
	DefaultCallTimeout = 30 * time.Second
	// DefaultCloseTimeout bounds the wait for the server to end a session
	DefaultCloseTimeout = 2 * time.Second
)

// Dialer opens MCP sessions over streamable HTTP.
type Dialer struct {
	// TLS selects the https scheme
	TLS bool
	// Path is the endpoint path, DefaultPath when empty
	Path string
	// InitTimeout bounds the initialize handshake, DefaultInitTimeout when zero
	InitTimeout time.Duration
	// CallTimeout bounds each tool call, DefaultCallTimeout when zero
	CallTimeout time.Duration
	// CloseTimeout bounds the wait for the session delete request on Close,
	// DefaultCloseTimeout when zero
	CloseTimeout time.Duration
	// OnError observes failed calls, LogErrorHook when nil
	OnError ErrorHook
	// Trace wraps every session in Traced and logs server notifications
	Trace bool
	// ClientName is reported to the server during initialize
	ClientName string
}

// URL returns the endpoint for host:port.
func (d *Dialer) URL(host string, port int) string {
	scheme := "http"
	if d.TLS {
		scheme = "https"
	}
	path := d.Path
	if path == "" {
		path = DefaultPath
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return fmt.Sprintf("%s://%s%s", scheme, net.JoinHostPort(host, strconv.Itoa(port)), path)
}

// Connect opens a session to the instance with the given index and runs the
// initialize handshake.
func (d *Dialer) Connect(ctx context.Context, index int, host string, port int) (Session, error) {
	endpoint := d.URL(host, port)
	logging.Debug("Session", "Connecting to instance %d at %s", index, endpoint)

	roundTripper := newSessionTransport()
	httpClient, err := client.NewStreamableHttpClient(endpoint,
		transport.WithHTTPBasicClient(&http.Client{Transport: roundTripper}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create streamable HTTP client for %s: %w", endpoint, err)
	}

	if err := httpClient.Start(ctx); err != nil {
		return nil, fmt.Errorf("failed to start streamable HTTP client for %s: %w", endpoint, err)
	}

	if d.Trace {
		log := subsystem(index)
		httpClient.OnNotification(func(notification mcp.JSONRPCNotification) {
			params, _ := json.Marshal(notification.Params)
			logging.Info(log, "<- notification %s %s", notification.Method, params)
		})
	}

	initRequest := mcp.InitializeRequest{}
	initRequest.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initRequest.Params.ClientInfo = mcp.Implementation{
		Name:    d.clientName(),
		Version: "1.0.0",
	}
	initRequest.Params.Capabilities = mcp.ClientCapabilities{}

	initCtx, cancel := context.WithTimeout(ctx, durationOr(d.InitTimeout, DefaultInitTimeout))
	defer cancel()

	if _, err := httpClient.Initialize(initCtx, initRequest); err != nil {
		httpClient.Close()
		return nil, fmt.Errorf("failed to initialize MCP session with %s: %w", endpoint, err)
	}

	hook := d.OnError
	if hook == nil {
		hook = LogErrorHook
	}

	mcpSess := &mcpSession{
		index:        index,
		endpoint:     endpoint,
		client:       httpClient,
		onError:      hook,
		callTimeout:  durationOr(d.CallTimeout, DefaultCallTimeout),
		closeTimeout: durationOr(d.CloseTimeout, DefaultCloseTimeout),
		ended:        roundTripper.ended,
	}
	if st, ok := httpClient.GetTransport().(*transport.StreamableHTTP); ok {
		mcpSess.sessionID = st.GetSessionId
	}
	var s Session = mcpSess
	if d.Trace {
		s = Traced(s)
	}

	logging.Debug("Session", "Connected to instance %d at %s", index, endpoint)
	return s, nil
}

func (d *Dialer) clientName() string {
	if d.ClientName == "" {
		return "clustertest"
	}
	return d.ClientName
}

// sessionTransport reports when the request ending the server side session
// has completed. The mcp-go client sends it in the background from Close.
type sessionTransport struct {
	base  http.RoundTripper
	once  sync.Once
	ended chan struct{}
}

func newSessionTransport() *sessionTransport {
	return &sessionTransport{
		base:  http.DefaultTransport,
		ended: make(chan struct{}),
	}
}

func (t *sessionTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.base.RoundTrip(req)
	if req.Method == http.MethodDelete {
		t.once.Do(func() { close(t.ended) })
	}
	return resp, err
}

// mcpSession implements Session on top of an mcp-go client.
type mcpSession struct {
	index        int
	endpoint     string
	client       client.MCPClient
	onError      ErrorHook
	callTimeout  time.Duration
	closeTimeout time.Duration
	// sessionID reports the server assigned session, if any
	sessionID func() string
	// ended is closed once the session delete request completed
	ended <-chan struct{}
}

func (s *mcpSession) Index() int {
	return s.index
}

func (s *mcpSession) Endpoint() string {
	return s.endpoint
}

func (s *mcpSession) CallTool(ctx context.Context, tool string, args map[string]interface{}) (*Result, error) {
	call := Call{Tool: tool, Args: args}

	callCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()

	request := mcp.CallToolRequest{}
	request.Params.Name = tool
	if args != nil {
		request.Params.Arguments = args
	}

	response, err := s.client.CallTool(callCtx, request)
	if err != nil {
		err = fmt.Errorf("tool call %s on %s failed: %w", tool, s.endpoint, err)
		s.onError(s, err, call)
		return nil, err
	}

	result := NewResult(textOf(response), response.IsError)
	call.Result = result
	if result.IsError {
		err := &ToolError{Tool: tool, Message: result.Text}
		s.onError(s, err, call)
		return result, err
	}
	return result, nil
}

func (s *mcpSession) ListTools(ctx context.Context) ([]string, error) {
	listCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()

	result, err := s.client.ListTools(listCtx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, fmt.Errorf("failed to list tools on %s: %w", s.endpoint, err)
	}

	names := make([]string, 0, len(result.Tools))
	for _, tool := range result.Tools {
		names = append(names, tool.Name)
	}
	return names, nil
}

// Close ends the session and waits, up to closeTimeout, until the server has
// answered the delete request so the instance can be stopped right after.
func (s *mcpSession) Close() error {
	pending := s.sessionID != nil && s.sessionID() != ""
	err := s.client.Close()
	if !pending || s.ended == nil {
		return err
	}

	select {
	case <-s.ended:
	case <-time.After(s.closeTimeout):
		logging.Debug("Session", "Instance %d did not end session within %v", s.index, s.closeTimeout)
	}
	return err
}

// textOf joins the text content items of a tool result.
func textOf(result *mcp.CallToolResult) string {
	var parts []string
	for _, content := range result.Content {
		if textContent, ok := mcp.AsTextContent(content); ok {
			parts = append(parts, textContent.Text)
		}
	}
	return strings.Join(parts, "\n")
}

func durationOr(d, fallback time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return fallback
}
