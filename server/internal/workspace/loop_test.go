package workspace

import (
	"sync/atomic"
	"testing"
)

func TestEventLoopRunsTasksInOrder(t *testing.T) {
	l := newEventLoop("test", 16, quietLogger)
	defer l.close()

	var got []int
	for i := 0; i < 5; i++ {
		i := i
		l.post(func() { got = append(got, i) })
	}
	l.call(func() {})

	for i, v := range got {
		if v != i {
			t.Fatalf("expected FIFO order, got %v", got)
		}
	}
	if len(got) != 5 {
		t.Fatalf("expected 5 tasks, got %d", len(got))
	}
}

func TestEventLoopRecoversPanics(t *testing.T) {
	l := newEventLoop("test", 4, quietLogger)
	defer l.close()

	l.call(func() { panic("boom") })

	var ran atomic.Bool
	if !l.call(func() { ran.Store(true) }) || !ran.Load() {
		t.Fatalf("loop must keep running after a panic")
	}
}

func TestEventLoopClosed(t *testing.T) {
	l := newEventLoop("test", 4, quietLogger)
	l.close()

	if l.call(func() {}) {
		t.Fatalf("call on closed loop must return false")
	}
	if l.post(func() {}) {
		t.Fatalf("post on closed loop must return false")
	}
}

func TestEventLoopDropsWhenFull(t *testing.T) {
	l := newEventLoop("test", 1, quietLogger)
	defer l.close()

	block := make(chan struct{})
	started := make(chan struct{})
	l.post(func() {
		close(started)
		<-block
	})
	<-started

	if !l.post(func() {}) {
		t.Fatalf("expected first queued task accepted")
	}
	if l.post(func() {}) {
		t.Fatalf("expected task dropped on full queue")
	}
	close(block)
	l.call(func() {})

	if s := l.stats(); s.Dropped != 1 {
		t.Fatalf("expected 1 dropped, got %+v", s)
	}
}
