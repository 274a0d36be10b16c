package relay

import (
	"context"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"lesson-sync/server/internal/syncproto"
	"lesson-sync/server/internal/timeline"
	"lesson-sync/server/internal/transport/wscall"
)

var quietLogger = log.New(io.Discard, "", 0)

type testRelay struct {
	server   *httptest.Server
	registry *Registry
}

func newTestRelay(t *testing.T) *testRelay {
	t.Helper()
	reg := NewRegistry(Config{
		Logger:       quietLogger,
		PingInterval: 50 * time.Millisecond,
		Journal:      timeline.NewInMemoryStore(0),
	})
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		q := r.URL.Query()
		reg.Serve(q.Get("lesson"), q.Get("participant"), conn)
	}))
	t.Cleanup(func() {
		reg.Close()
		srv.Close()
	})
	return &testRelay{server: srv, registry: reg}
}

func (r *testRelay) url(lesson, participant string) string {
	return "ws" + strings.TrimPrefix(r.server.URL, "http") + "/?lesson=" + lesson + "&participant=" + participant
}

func (r *testRelay) join(t *testing.T, lesson, participant string) (*wscall.Adapter, chan syncproto.Envelope) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	a, err := wscall.Dial(ctx, wscall.Config{URL: r.url(lesson, participant), Logger: quietLogger})
	if err != nil {
		t.Fatalf("dial %s: %v", participant, err)
	}
	t.Cleanup(func() { a.Close() })

	got := make(chan syncproto.Envelope, 128)
	a.OnMessage(func(env syncproto.Envelope) { got <- env })

	if err := a.WaitJoined(ctx); err != nil {
		t.Fatalf("wait joined %s: %v", participant, err)
	}
	return a, got
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timeout: %s", msg)
}

// TestHubFansOutToOthers 验证一帧转发给同课其他所有人，不回送给发送方。
func TestHubFansOutToOthers(t *testing.T) {
	relay := newTestRelay(t)
	tutor, tutorGot := relay.join(t, "L1", "tutor")
	_, studentGot := relay.join(t, "L1", "student")
	_, observerGot := relay.join(t, "L1", "observer")
	_, otherLessonGot := relay.join(t, "L2", "someone")

	tutor.Send(&syncproto.MaterialSync{StateVersion: 1, MaterialID: "M1", Action: syncproto.ActionOpen})

	for name, ch := range map[string]chan syncproto.Envelope{"student": studentGot, "observer": observerGot} {
		select {
		case env := <-ch:
			if msg, ok := env.(*syncproto.MaterialSync); !ok || msg.MaterialID != "M1" {
				t.Fatalf("%s: unexpected envelope %#v", name, env)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("%s never received the frame", name)
		}
	}

	select {
	case env := <-tutorGot:
		t.Fatalf("sender received its own frame: %#v", env)
	case env := <-otherLessonGot:
		t.Fatalf("frame leaked into another lesson: %#v", env)
	case <-time.After(100 * time.Millisecond):
	}

	hub, ok := relay.registry.Lookup("L1")
	if !ok {
		t.Fatalf("expected hub for L1")
	}
	waitFor(t, func() bool { return hub.Stats().Forwarded == 2 }, "expected 2 forwarded writes")
}

// TestHubPreservesSenderOrder 验证同一发送方的帧按发送顺序到达。
func TestHubPreservesSenderOrder(t *testing.T) {
	relay := newTestRelay(t)
	tutor, _ := relay.join(t, "L1", "tutor")
	_, studentGot := relay.join(t, "L1", "student")

	const n = 50
	for i := 1; i <= n; i++ {
		tutor.Send(&syncproto.MaterialSync{StateVersion: int64(i), Action: syncproto.ActionSeek, Time: syncproto.Float(float64(i))})
	}

	for i := 1; i <= n; i++ {
		select {
		case env := <-studentGot:
			msg := env.(*syncproto.MaterialSync)
			if msg.StateVersion != int64(i) {
				t.Fatalf("expected version %d, got %d", i, msg.StateVersion)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timeout at frame %d", i)
		}
	}
}

// TestHubRejectsUndecodableFrames 验证无法解码的帧不会扩散。
func TestHubRejectsUndecodableFrames(t *testing.T) {
	relay := newTestRelay(t)
	_, studentGot := relay.join(t, "L1", "student")

	conn, _, err := websocket.DefaultDialer.Dial(relay.url("L1", "raw"), nil)
	if err != nil {
		t.Fatalf("dial raw: %v", err)
	}
	defer conn.Close()
	if _, _, err := conn.ReadMessage(); err != nil {
		t.Fatalf("read joined: %v", err)
	}

	conn.WriteMessage(websocket.TextMessage, []byte("garbage"))
	conn.WriteMessage(websocket.TextMessage, []byte(`{"t":"joined","participantId":"spoof"}`))
	conn.WriteMessage(websocket.TextMessage, []byte(`{"t":"WORKSPACE_SYNC","open":true}`))

	select {
	case env := <-studentGot:
		if _, ok := env.(*syncproto.WorkspaceSync); !ok {
			t.Fatalf("unexpected envelope %#v", env)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("valid frame never arrived")
	}

	hub, _ := relay.registry.Lookup("L1")
	if got := hub.Stats().Rejected; got != 2 {
		t.Fatalf("expected 2 rejected frames, got %d", got)
	}
}

// TestRegistryReleasesEmptyHub 验证最后一个参与者离开后 Hub 被回收。
func TestRegistryReleasesEmptyHub(t *testing.T) {
	relay := newTestRelay(t)
	a, _ := relay.join(t, "L1", "tutor")

	if _, ok := relay.registry.Lookup("L1"); !ok {
		t.Fatalf("expected hub while a participant is connected")
	}
	a.Close()

	waitFor(t, func() bool {
		_, ok := relay.registry.Lookup("L1")
		return !ok
	}, "hub was never released")
}

// TestHubReplacesDuplicateParticipant 验证同一参与者重连时旧连接被踢掉。
func TestHubReplacesDuplicateParticipant(t *testing.T) {
	relay := newTestRelay(t)
	first, _ := relay.join(t, "L1", "student")
	_, _ = relay.join(t, "L1", "tutor")
	_, _ = relay.join(t, "L1", "student")

	select {
	case <-first.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("old connection was not closed")
	}

	hub, _ := relay.registry.Lookup("L1")
	waitFor(t, func() bool { return hub.Len() == 2 }, "expected 2 peers after replacement")
}

// TestHubKick 验证 Kick 断开指定参与者。
func TestHubKick(t *testing.T) {
	relay := newTestRelay(t)
	_, _ = relay.join(t, "L1", "tutor")
	student, _ := relay.join(t, "L1", "student")

	hub, _ := relay.registry.Lookup("L1")
	if !hub.Kick("student") {
		t.Fatalf("expected kick to find the student")
	}
	if hub.Kick("nobody") {
		t.Fatalf("kick of unknown participant must report false")
	}

	select {
	case <-student.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("kicked connection was not closed")
	}
	waitFor(t, func() bool { return hub.Len() == 1 }, "expected 1 peer after kick")
}

// TestHubRecordsJournal 转发过的帧按转发顺序写入 timeline，课程回收后清空。
func TestHubRecordsJournal(t *testing.T) {
	relay := newTestRelay(t)
	tutor, _ := relay.join(t, "L1", "tutor")
	student, _ := relay.join(t, "L1", "student")

	tutor.Send(&syncproto.MaterialSync{StateVersion: 1, MaterialID: "M1", Action: syncproto.ActionOpen})
	tutor.Send(&syncproto.MaterialSync{StateVersion: 2, MaterialID: "M1", Action: syncproto.ActionPlay})

	journal := relay.registry.Journal()
	ctx := context.Background()
	waitFor(t, func() bool {
		entries, _ := journal.List(ctx, "L1", 0)
		return len(entries) == 2
	}, "expected 2 journal entries")

	entries, _ := journal.List(ctx, "L1", 0)
	if entries[0].Action != "open" || entries[1].Action != "play" || entries[1].Version != 2 {
		t.Fatalf("unexpected entries: %+v", entries)
	}
	if entries[0].From != "tutor" || entries[0].Type != syncproto.TypeMaterialSync {
		t.Fatalf("unexpected entry: %+v", entries[0])
	}

	tutor.Close()
	student.Close()
	waitFor(t, func() bool {
		_, ok := relay.registry.Lookup("L1")
		return !ok
	}, "hub should be released")
	if entries, _ := journal.List(ctx, "L1", 0); len(entries) != 0 {
		t.Fatalf("journal should be dropped with the hub, got %d entries", len(entries))
	}
}

// TestRegistryServeSkipsRetiredHub 验证拿到刚被回收的 Hub 时，连接转到新 Hub 而不是被关闭。
func TestRegistryServeSkipsRetiredHub(t *testing.T) {
	reg := NewRegistry(Config{Logger: quietLogger})
	defer reg.Close()

	stale := reg.Hub("L1")
	reg.release(stale)
	if _, ok := reg.Lookup("L1"); ok {
		t.Fatalf("empty hub should be released")
	}

	staleServed := make(chan bool, 1)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		participant := r.URL.Query().Get("participant")
		staleServed <- stale.Serve(participant, conn)
		reg.Serve("L1", participant, conn)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?participant=student"
	a, err := wscall.Dial(ctx, wscall.Config{URL: url, Logger: quietLogger})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer a.Close()
	if err := a.WaitJoined(ctx); err != nil {
		t.Fatalf("expected to join a fresh hub: %v", err)
	}

	if <-staleServed {
		t.Fatalf("retired hub must refuse the connection")
	}
	fresh, ok := reg.Lookup("L1")
	if !ok || fresh == stale || !fresh.Has("student") {
		t.Fatalf("expected student on a fresh hub")
	}
}
