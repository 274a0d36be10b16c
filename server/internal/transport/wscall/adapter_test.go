package wscall

import (
	"context"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"lesson-sync/server/internal/syncproto"
)

var quietLogger = log.New(io.Discard, "", 0)

// mockRelay 模拟 relay 的单个课程频道：记录收到的帧，按需下发帧。
type mockRelay struct {
	server   *httptest.Server
	upgrader websocket.Upgrader

	mu       sync.Mutex
	conn     *websocket.Conn
	received [][]byte
	ready    chan struct{}
}

func newMockRelay() *mockRelay {
	m := &mockRelay{ready: make(chan struct{})}
	m.server = httptest.NewServer(http.HandlerFunc(m.handle))
	return m
}

func (m *mockRelay) handle(w http.ResponseWriter, r *http.Request) {
	conn, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	m.mu.Lock()
	m.conn = conn
	m.mu.Unlock()
	close(m.ready)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		m.mu.Lock()
		m.received = append(m.received, data)
		m.mu.Unlock()
	}
}

func (m *mockRelay) url() string {
	return "ws" + strings.TrimPrefix(m.server.URL, "http")
}

func (m *mockRelay) send(t *testing.T, frame string) {
	t.Helper()
	<-m.ready
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
		t.Fatalf("mock relay write: %v", err)
	}
}

func (m *mockRelay) receivedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.received)
}

func (m *mockRelay) close() {
	m.mu.Lock()
	if m.conn != nil {
		m.conn.Close()
	}
	m.mu.Unlock()
	m.server.Close()
}

func dial(t *testing.T, m *mockRelay) *Adapter {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	a, err := Dial(ctx, Config{URL: m.url(), Logger: quietLogger})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { a.Close() })
	return a
}

// TestAdapterReadyOnlyAfterJoined 验证连上之后、joined 之前发送的帧被静默丢弃。
func TestAdapterReadyOnlyAfterJoined(t *testing.T) {
	m := newMockRelay()
	defer m.close()
	a := dial(t, m)

	if a.IsReady() {
		t.Fatalf("adapter must not be ready before joined")
	}
	a.Send(&syncproto.MaterialSync{StateVersion: 1, Action: syncproto.ActionPlay})

	m.send(t, `{"t":"joined","participantId":"p-1"}`)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := a.WaitJoined(ctx); err != nil {
		t.Fatalf("wait joined: %v", err)
	}
	if !a.IsReady() || a.ParticipantID() != "p-1" {
		t.Fatalf("expected ready as p-1, got ready=%v id=%q", a.IsReady(), a.ParticipantID())
	}

	a.Send(&syncproto.MaterialSync{StateVersion: 2, Action: syncproto.ActionPause})

	deadline := time.Now().Add(2 * time.Second)
	for m.receivedCount() < 1 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.received) != 1 {
		t.Fatalf("expected exactly the post-join frame, got %d", len(m.received))
	}
	env, err := syncproto.Decode(m.received[0])
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if msg, ok := env.(*syncproto.MaterialSync); !ok || msg.StateVersion != 2 {
		t.Fatalf("unexpected frame: %s", m.received[0])
	}
}

// TestAdapterDispatchesInbound 验证入站帧被解码分发，坏帧只丢弃不影响后续帧。
func TestAdapterDispatchesInbound(t *testing.T) {
	m := newMockRelay()
	defer m.close()
	a := dial(t, m)

	got := make(chan syncproto.Envelope, 4)
	a.OnMessage(func(env syncproto.Envelope) { got <- env })

	m.send(t, `{"t":"joined","participantId":"p-2"}`)
	m.send(t, `not json`)
	m.send(t, `{"type":"SOMETHING_NEW"}`)
	m.send(t, `{"t":"WORKSPACE_SYNC","open":true}`)

	select {
	case env := <-got:
		ws, ok := env.(*syncproto.WorkspaceSync)
		if !ok || !ws.Open {
			t.Fatalf("unexpected envelope: %#v", env)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timeout waiting for inbound frame")
	}
	select {
	case env := <-got:
		t.Fatalf("unexpected extra envelope: %#v", env)
	default:
	}
}

// TestAdapterCloseIdempotent 验证重复 Close 安全，关闭后 Send 不 panic。
func TestAdapterCloseIdempotent(t *testing.T) {
	m := newMockRelay()
	defer m.close()
	a := dial(t, m)
	m.send(t, `{"t":"joined","participantId":"p-3"}`)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := a.WaitJoined(ctx); err != nil {
		t.Fatalf("wait joined: %v", err)
	}

	a.Close()
	a.Close()
	a.Send(&syncproto.WorkspaceSync{Open: true})

	if a.IsReady() {
		t.Fatalf("closed adapter must not be ready")
	}
	select {
	case <-a.Done():
	default:
		t.Fatalf("expected done channel closed")
	}
}

func TestDialRequiresURL(t *testing.T) {
	if _, err := Dial(context.Background(), Config{Logger: quietLogger}); err == nil {
		t.Fatalf("expected error for empty url")
	}
}
