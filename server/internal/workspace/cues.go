package workspace

import (
	"sync"
	"time"
)

// CueKind 是本地 UI 编排提示的类型。
type CueKind string

const (
	// CueNavigate 滚动到指定行并做一次脉冲高亮。
	CueNavigate CueKind = "navigate"
)

// Cue 是一次性的本地 UI 提示，从不序列化为持久状态。
type Cue struct {
	Kind      CueKind
	SectionID string
	RowID     string
	At        time.Time
}

// CueBus 是进程内的发布/订阅，作用域为当前 Session。
// 订阅者在事件循环协程里被同步调用，不能阻塞，也不能回调 Session 的公开方法。
type CueBus struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]func(Cue)
}

func newCueBus() *CueBus {
	return &CueBus{subs: make(map[int]func(Cue))}
}

// Subscribe 注册订阅者，返回取消函数。
func (b *CueBus) Subscribe(fn func(Cue)) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.subs[id] = fn
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subs, id)
	}
}

// Publish 通知所有订阅者。
func (b *CueBus) Publish(cue Cue) {
	b.mu.RLock()
	subs := make([]func(Cue), 0, len(b.subs))
	for _, fn := range b.subs {
		subs = append(subs, fn)
	}
	b.mu.RUnlock()

	for _, fn := range subs {
		fn(cue)
	}
}
