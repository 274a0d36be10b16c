package workspace

import (
	"testing"
	"time"

	"lesson-sync/server/internal/model"
	"lesson-sync/server/internal/syncproto"
	"lesson-sync/server/internal/transport"
)

// TestContentFocusAndLock 验证 open/focus/lockScroll 依次到达跟随端。
func TestContentFocusAndLock(t *testing.T) {
	clock := newFakeClock()
	hub := transport.NewMemoryHub(quietLogger)
	tutor, _ := newSession(t, hub, "tutor", model.RoleTutor, clock, nil)
	student, _ := newSession(t, hub, "student", model.RoleStudent, clock, nil)

	tutor.Content().Open("M2")
	tutor.Content().Focus("block-3")
	tutor.Content().SetScrollLock(true)
	settle(tutor, student)

	want := model.ContentState{Open: true, MaterialID: "M2", FocusBlockID: "block-3", Locked: true}
	if got := student.Content().State(); got != want {
		t.Fatalf("expected %+v, got %+v", want, got)
	}
	if student.Content().Version() != 3 {
		t.Fatalf("expected version 3, got %d", student.Content().Version())
	}
	if !student.Host().WorkspaceOpen() {
		t.Fatalf("expected content open to force the panel open")
	}
}

// TestContentNavigateIsTransient 验证 navigate 只产生本地提示，不占用版本号。
// 场景：老师先 navigate 两次（重复投递），再 focus；focus 不能被判成过期。
func TestContentNavigateIsTransient(t *testing.T) {
	clock := newFakeClock()
	hub := transport.NewMemoryHub(quietLogger)
	tutor, _ := newSession(t, hub, "tutor", model.RoleTutor, clock, nil)
	student, _ := newSession(t, hub, "student", model.RoleStudent, clock, nil)

	var cues []Cue
	unsubscribe := student.Cues().Subscribe(func(c Cue) { cues = append(cues, c) })
	defer unsubscribe()

	tutor.Content().Open("M2")
	tutor.Content().Navigate("sec-1", "row-4")
	tutor.Content().Navigate("sec-1", "row-4")
	tutor.Content().Focus("block-1")
	settle(tutor, student)

	if len(cues) != 2 {
		t.Fatalf("expected 2 navigate cues, got %d", len(cues))
	}
	if cues[0].Kind != CueNavigate || cues[0].SectionID != "sec-1" || cues[0].RowID != "row-4" {
		t.Fatalf("unexpected cue: %+v", cues[0])
	}
	if tutor.Content().Version() != 2 {
		t.Fatalf("navigate must not consume versions, tutor at %d", tutor.Content().Version())
	}
	if got := student.Content().State().FocusBlockID; got != "block-1" {
		t.Fatalf("expected focus after navigate to apply, got %q", got)
	}
	if stale := student.Stats().Content.Stale; stale != 0 {
		t.Fatalf("expected no stale frames, got %d", stale)
	}

	var navs []int64
	for _, env := range hub.Sent("tutor") {
		if msg, ok := env.(*syncproto.ContentSync); ok && msg.Action.Kind == syncproto.ActionNavigate {
			navs = append(navs, msg.StateVersion)
		}
	}
	if len(navs) != 2 || navs[0] != 1 || navs[1] != 1 {
		t.Fatalf("expected navigate stamped with current version 1, got %v", navs)
	}
}

// TestContentSnapshotRecovery 验证后加入的学生通过快照拿到聚焦与锁定状态。
func TestContentSnapshotRecovery(t *testing.T) {
	clock := newFakeClock()
	hub := transport.NewMemoryHub(quietLogger)
	tutor, _ := newSession(t, hub, "tutor", model.RoleTutor, clock, nil)

	tutor.Content().Open("M2")
	tutor.Content().Focus("block-9")
	tutor.Content().SetScrollLock(true)

	student, _ := newSession(t, hub, "student", model.RoleStudent, clock, func(o *Options) {
		o.RecoveryDelay = 10 * time.Millisecond
	})
	eventually(t, 2*time.Second, func() bool { return student.Content().State().Open }, "content never recovered")

	want := tutor.Content().State()
	if got := student.Content().State(); got != want {
		t.Fatalf("expected %+v, got %+v", want, got)
	}
}

// TestContentFollowerIgnoresRemoteRequests 验证跟随端不回答 stateRequest。
func TestContentFollowerIgnoresRemoteRequests(t *testing.T) {
	clock := newFakeClock()
	hub := transport.NewMemoryHub(quietLogger)
	student, _ := newSession(t, hub, "student", model.RoleStudent, clock, nil)
	probe := hub.Join("probe")

	probe.Send(&syncproto.ContentSync{Action: syncproto.ContentAction{Kind: syncproto.ActionStateRequest}})
	student.Flush()

	if n := len(hub.Sent("student")); n != 0 {
		t.Fatalf("follower must not answer state requests, sent %d", n)
	}
}

// TestContentTransportNotReady 验证通道未就绪时本地状态照常更新，发送只计数丢弃。
func TestContentTransportNotReady(t *testing.T) {
	clock := newFakeClock()
	hub := transport.NewMemoryHub(quietLogger)
	tutor, ep := newSession(t, hub, "tutor", model.RoleTutor, clock, nil)
	ep.SetReady(false)

	tutor.Content().Open("M2")
	tutor.Content().Focus("block-1")
	tutor.Content().SetScrollLock(true)

	want := model.ContentState{Open: true, MaterialID: "M2", FocusBlockID: "block-1", Locked: true}
	if got := tutor.Content().State(); got != want {
		t.Fatalf("expected %+v, got %+v", want, got)
	}
	if n := len(hub.Sent("tutor")); n != 0 {
		t.Fatalf("expected zero outgoing frames, got %d", n)
	}
	if dropped := tutor.Stats().Content.Dropped; dropped != 3 {
		t.Fatalf("expected 3 dropped content sends, got %d", dropped)
	}
}

// TestContentOutOfOrderDelivery 验证 [1,3,2] 乱序到达时 focus block-2 胜出。
func TestContentOutOfOrderDelivery(t *testing.T) {
	clock := newFakeClock()
	hub := transport.NewMemoryHub(quietLogger)
	tutor, _ := newSession(t, hub, "tutor", model.RoleTutor, clock, nil)
	student, _ := newSession(t, hub, "student", model.RoleStudent, clock, nil)

	hub.SetHold(true)
	tutor.Content().Open("M2")
	tutor.Content().Focus("block-1")
	tutor.Content().Focus("block-2")
	if hub.Held() != 3 {
		t.Fatalf("expected 3 held frames, got %d", hub.Held())
	}

	hub.Release(0, 2, 1)
	settle(tutor, student)

	if got := student.Content().State(); got.FocusBlockID != "block-2" {
		t.Fatalf("expected block-2 to win, got %+v", got)
	}
	if student.Content().Version() != 3 {
		t.Fatalf("expected version 3, got %d", student.Content().Version())
	}
	if stale := student.Stats().Content.Stale; stale != 1 {
		t.Fatalf("expected 1 stale action, got %d", stale)
	}
}
