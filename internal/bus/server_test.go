package bus

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/coder/websocket"
)

// dial connects a test observer to the server.
func dial(t *testing.T, addr string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws://"+addr, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", addr, err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

// readFrame reads one JSON frame into a generic map.
func readFrame(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("unmarshal frame: %v", err)
	}
	return m
}

func startTestServer(t *testing.T, b *Bus, opts ...ServerOption) *Server {
	t.Helper()
	srv := NewServer(b, opts...)
	if err := srv.Start("localhost:0"); err != nil {
		t.Fatalf("start server: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Stop(ctx)
	})
	return srv
}

func TestServer_ReplayIsFirstMessage(t *testing.T) {
	b := New()
	defer b.Stop()

	// Populate the replay buffer before anyone connects.
	watcher := b.Subscribe()
	b.ConversationStart(1700000000)
	b.ConversationTurn("user", "hi", 0)
	recv(t, watcher)
	recv(t, watcher)
	watcher.Close()

	srv := startTestServer(t, b)
	conn := dial(t, srv.Addr())

	frame := readFrame(t, conn)
	if frame["type"] != TypeReplay {
		t.Fatalf("first frame type = %v, want %q", frame["type"], TypeReplay)
	}
	events, ok := frame["events"].([]any)
	if !ok {
		t.Fatalf("events field is %T, want array", frame["events"])
	}
	if len(events) != 2 {
		t.Fatalf("replayed %d events, want 2", len(events))
	}
	first := events[0].(map[string]any)
	if first["type"] != TypeConversationStart {
		t.Errorf("replay[0].type = %v, want %q", first["type"], TypeConversationStart)
	}
}

func TestServer_EmptyReplayIsEmptyArray(t *testing.T) {
	b := New()
	defer b.Stop()
	srv := startTestServer(t, b)
	conn := dial(t, srv.Addr())

	frame := readFrame(t, conn)
	events, ok := frame["events"].([]any)
	if !ok {
		t.Fatalf("events field is %T, want array (not null)", frame["events"])
	}
	if len(events) != 0 {
		t.Errorf("replayed %d events, want 0", len(events))
	}
}

func TestServer_LiveEventsFollowReplay(t *testing.T) {
	b := New()
	defer b.Stop()
	srv := startTestServer(t, b)
	conn := dial(t, srv.Addr())

	readFrame(t, conn) // replay

	b.LLMToken("hel", 0)
	frame := readFrame(t, conn)
	if frame["type"] != TypeLLMToken {
		t.Fatalf("frame type = %v, want %q", frame["type"], TypeLLMToken)
	}
	data := frame["data"].(map[string]any)
	if data["token"] != "hel" {
		t.Errorf("token = %v, want %q", data["token"], "hel")
	}
	if data["token_index"] != 0.0 {
		t.Errorf("token_index = %v, want 0", data["token_index"])
	}
	if frame["version"] != ProtocolVersion {
		t.Errorf("version = %v, want %q", frame["version"], ProtocolVersion)
	}
}

func TestServer_InboundMessageBecomesClientMessage(t *testing.T) {
	b := New()
	defer b.Stop()
	srv := startTestServer(t, b)

	sub := b.Subscribe()
	defer sub.Close()

	conn := dial(t, srv.Addr())
	readFrame(t, conn) // replay

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	payload := []byte(`{"type":"dashboard","data":{"action":"pause"}}`)
	if err := conn.Write(ctx, websocket.MessageText, payload); err != nil {
		t.Fatalf("write: %v", err)
	}

	env := recv(t, sub)
	if env.Type != TypeClientMessage {
		t.Fatalf("event type = %q, want %q", env.Type, TypeClientMessage)
	}
	if env.Data["client_type"] != "dashboard" {
		t.Errorf("client_type = %v, want %q", env.Data["client_type"], "dashboard")
	}
}

func TestServer_ConnectDisconnectCallbacks(t *testing.T) {
	b := New()
	defer b.Stop()

	connected := make(chan string, 1)
	disconnected := make(chan string, 1)
	srv := startTestServer(t, b,
		OnConnect(func(id string) { connected <- id }),
		OnDisconnect(func(id string) { disconnected <- id }),
	)

	conn := dial(t, srv.Addr())
	var id string
	select {
	case id = <-connected:
	case <-time.After(2 * time.Second):
		t.Fatal("connect callback never fired")
	}
	if id == "" {
		t.Error("empty client id")
	}

	conn.Close(websocket.StatusNormalClosure, "")
	select {
	case gone := <-disconnected:
		if gone != id {
			t.Errorf("disconnect id = %q, want %q", gone, id)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("disconnect callback never fired")
	}
}

func TestServer_StartTwiceIsIdempotent(t *testing.T) {
	b := New()
	defer b.Stop()
	srv := startTestServer(t, b)

	if err := srv.Start("localhost:0"); err != nil {
		t.Errorf("second Start returned error: %v", err)
	}
}

func TestServer_StopTwiceIsIdempotent(t *testing.T) {
	b := New()
	defer b.Stop()

	srv := NewServer(b)
	if err := srv.Start("localhost:0"); err != nil {
		t.Fatalf("start: %v", err)
	}
	ctx := context.Background()
	if err := srv.Stop(ctx); err != nil {
		t.Errorf("first Stop: %v", err)
	}
	if err := srv.Stop(ctx); err != nil {
		t.Errorf("second Stop: %v", err)
	}
}
