package workspace

import (
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"lesson-sync/server/internal/model"
	"lesson-sync/server/internal/syncproto"
	"lesson-sync/server/internal/transport"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

var quietLogger = log.New(io.Discard, "", 0)

// newSession 默认关闭自动恢复（RecoveryDelay 一小时），需要时由 mutate 覆盖。
func newSession(t *testing.T, hub *transport.MemoryHub, id string, role model.Role, clock *fakeClock, mutate func(*Options)) (*Session, *transport.MemoryEndpoint) {
	t.Helper()
	ep := hub.Join(id)
	opts := Options{
		LessonID:      "L1",
		ParticipantID: id,
		Role:          role,
		Transport:     ep,
		Now:           clock.Now,
		Logger:        quietLogger,
		RecoveryDelay: time.Hour,
	}
	if mutate != nil {
		mutate(&opts)
	}
	s, err := New(opts)
	if err != nil {
		t.Fatalf("new session %s: %v", id, err)
	}
	t.Cleanup(s.Close)
	return s, ep
}

// settle 交替清空各方事件循环，覆盖 request → snapshot 这类多跳往返。
func settle(sessions ...*Session) {
	for i := 0; i < 4; i++ {
		for _, s := range sessions {
			s.Flush()
		}
	}
}

func eventually(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v: %s", timeout, msg)
}

func materialFrames(envs []syncproto.Envelope) []*syncproto.MaterialSync {
	var out []*syncproto.MaterialSync
	for _, env := range envs {
		if msg, ok := env.(*syncproto.MaterialSync); ok {
			out = append(out, msg)
		}
	}
	return out
}

func countAction(envs []syncproto.Envelope, action syncproto.ActionKind) int {
	n := 0
	for _, env := range envs {
		switch msg := env.(type) {
		case *syncproto.MaterialSync:
			if msg.Action == action {
				n++
			}
		case *syncproto.ContentSync:
			if msg.Action.Kind == action {
				n++
			}
		case *syncproto.GrammarSync:
			if msg.Action == action {
				n++
			}
		}
	}
	return n
}

var m1 = model.Material{ID: "M1", Title: "Past simple", URL: "https://cdn.example/m1.mp4", Kind: "video"}
