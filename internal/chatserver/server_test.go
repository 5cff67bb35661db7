package chatserver

import (
	"context"
	"errors"
	"net"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clustertest/internal/session"
)

// startCluster runs n chat servers that replicate to each other and returns
// one client session per server.
func startCluster(t *testing.T, n int, delay time.Duration) ([]*Server, []session.Session) {
	t.Helper()

	listeners := make([]*httptest.Server, n)
	addrs := make([]string, n)
	for i := range listeners {
		listeners[i] = httptest.NewUnstartedServer(nil)
		addrs[i] = listeners[i].Listener.Addr().String()
	}

	servers := make([]*Server, n)
	for i := range servers {
		var peers []string
		for j, addr := range addrs {
			if j != i {
				peers = append(peers, addr)
			}
		}
		servers[i] = New(Config{Index: i, Peers: peers, ReplicationDelay: delay})
		listeners[i].Config.Handler = servers[i].Handler()
		listeners[i].Start()
		t.Cleanup(listeners[i].Close)
		t.Cleanup(servers[i].Close)
	}

	dialer := &session.Dialer{OnError: func(session.Session, error, session.Call) {}}
	sessions := make([]session.Session, n)
	for i, addr := range addrs {
		host, portStr, err := net.SplitHostPort(addr)
		require.NoError(t, err)
		port, err := strconv.Atoi(portStr)
		require.NoError(t, err)

		s, err := dialer.Connect(context.Background(), i, host, port)
		require.NoError(t, err)
		t.Cleanup(func() { s.Close() })
		sessions[i] = s
	}
	return servers, sessions
}

func call(t *testing.T, s session.Session, tool string, args map[string]interface{}) map[string]interface{} {
	t.Helper()
	result, err := s.CallTool(context.Background(), tool, args)
	require.NoError(t, err)
	data, ok := result.Data.(map[string]interface{})
	require.True(t, ok, "expected a JSON object from %s, got %q", tool, result.Text)
	return data
}

func TestServer_Tools(t *testing.T) {
	_, sessions := startCluster(t, 1, 0)
	s := sessions[0]
	ctx := context.Background()

	tools, err := s.ListTools(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"create_room", "list_rooms", "join_room", "send_message", "list_messages", "replicate"}, tools)

	room := call(t, s, "create_room", map[string]interface{}{"name": "general"})
	assert.Equal(t, "general", room["name"])
	assert.Equal(t, float64(0), room["origin"])
	roomID, _ := room["id"].(string)
	require.NotEmpty(t, roomID)

	joined := call(t, s, "join_room", map[string]interface{}{"room_id": roomID, "user": "alice"})
	assert.Equal(t, []interface{}{"alice"}, joined["members"])

	msg := call(t, s, "send_message", map[string]interface{}{"room_id": roomID, "user": "alice", "text": "hi"})
	assert.Equal(t, "hi", msg["text"])

	result, err := s.CallTool(ctx, "list_messages", map[string]interface{}{"room_id": roomID})
	require.NoError(t, err)
	messages, ok := result.Data.([]interface{})
	require.True(t, ok)
	assert.Len(t, messages, 1)

	result, err = s.CallTool(ctx, "list_rooms", nil)
	require.NoError(t, err)
	assert.Contains(t, result.Text, roomID)
}

func TestServer_ToolErrors(t *testing.T) {
	_, sessions := startCluster(t, 1, 0)
	s := sessions[0]
	ctx := context.Background()

	tests := []struct {
		name    string
		tool    string
		args    map[string]interface{}
		wantErr string
	}{
		{"missing name", "create_room", map[string]interface{}{}, "name is required"},
		{"empty name", "create_room", map[string]interface{}{"name": ""}, "non-empty string"},
		{"unknown room join", "join_room", map[string]interface{}{"room_id": "nope", "user": "bob"}, "room nope not found"},
		{"unknown room message", "send_message", map[string]interface{}{"room_id": "nope", "user": "bob", "text": "hi"}, "room nope not found"},
		{"unknown room list", "list_messages", map[string]interface{}{"room_id": "nope"}, "room nope not found"},
		{"bad replicate kind", "replicate", map[string]interface{}{"kind": "poll", "payload": "{}"}, "unknown replication kind"},
		{"bad replicate payload", "replicate", map[string]interface{}{"kind": KindRoom, "payload": "{"}, "invalid room payload"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := s.CallTool(ctx, tt.tool, tt.args)
			var toolErr *session.ToolError
			require.True(t, errors.As(err, &toolErr), "expected a tool error, got %v", err)
			assert.True(t, result.IsError)
			assert.Contains(t, toolErr.Message, tt.wantErr)
		})
	}
}

func TestServer_Replicate(t *testing.T) {
	servers, sessions := startCluster(t, 1, 0)

	payload := `{"id":"r9","name":"remote","members":["zed"],"origin":4}`
	_, err := sessions[0].CallTool(context.Background(), "replicate", map[string]interface{}{
		"kind": KindRoom, "payload": payload, "origin": 4,
	})
	require.NoError(t, err)

	// Replays are harmless.
	_, err = sessions[0].CallTool(context.Background(), "replicate", map[string]interface{}{
		"kind": KindRoom, "payload": payload, "origin": 4,
	})
	require.NoError(t, err)

	room, err := servers[0].Store().Room("r9")
	require.NoError(t, err)
	assert.Equal(t, "remote", room.Name)
	assert.Equal(t, 4, room.Origin)
	assert.Len(t, servers[0].Store().Rooms(), 1)
}

func TestServer_ReplicatesToPeers(t *testing.T) {
	servers, sessions := startCluster(t, 3, 0)

	room := call(t, sessions[0], "create_room", map[string]interface{}{"name": "general"})
	roomID := room["id"].(string)

	for i := 1; i < 3; i++ {
		store := servers[i].Store()
		assert.Eventually(t, func() bool {
			_, err := store.Room(roomID)
			return err == nil
		}, 5*time.Second, 20*time.Millisecond, "room should reach instance %d", i)
	}

	call(t, sessions[1], "join_room", map[string]interface{}{"room_id": roomID, "user": "bob"})
	call(t, sessions[1], "send_message", map[string]interface{}{"room_id": roomID, "user": "bob", "text": "hello from 1"})

	assert.Eventually(t, func() bool {
		room, err := servers[0].Store().Room(roomID)
		if err != nil || len(room.Members) != 1 {
			return false
		}
		messages, err := servers[0].Store().Messages(roomID)
		return err == nil && len(messages) == 1 && messages[0].Text == "hello from 1"
	}, 5*time.Second, 20*time.Millisecond)

	// Replicated writes are not forwarded again, so instance 2 sees the
	// message exactly once.
	assert.Eventually(t, func() bool {
		messages, err := servers[2].Store().Messages(roomID)
		return err == nil && len(messages) == 1
	}, 5*time.Second, 20*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	messages, err := servers[2].Store().Messages(roomID)
	require.NoError(t, err)
	assert.Len(t, messages, 1)
}

func TestServer_ReplicationDelay(t *testing.T) {
	servers, sessions := startCluster(t, 2, 300*time.Millisecond)

	room := call(t, sessions[0], "create_room", map[string]interface{}{"name": "slow"})
	roomID := room["id"].(string)

	_, err := servers[1].Store().Room(roomID)
	assert.Error(t, err, "the peer should not see the room before the delay")

	assert.Eventually(t, func() bool {
		_, err := servers[1].Store().Room(roomID)
		return err == nil
	}, 5*time.Second, 20*time.Millisecond)
}

func TestServer_Serve(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())

	srv := New(Config{Index: 0, Host: "127.0.0.1", Port: port})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()

	dialer := &session.Dialer{OnError: func(session.Session, error, session.Call) {}}
	var s session.Session
	require.Eventually(t, func() bool {
		s, err = dialer.Connect(context.Background(), 0, "127.0.0.1", port)
		return err == nil
	}, 5*time.Second, 20*time.Millisecond)
	defer s.Close()

	call(t, s, "create_room", map[string]interface{}{"name": "general"})

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}

func TestServer_ServeListenError(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()

	srv := New(Config{Host: "127.0.0.1", Port: l.Addr().(*net.TCPAddr).Port})
	err = srv.Serve(context.Background())
	assert.ErrorContains(t, err, "failed to listen")
}
