package workspace

import (
	"sync"
	"time"

	"lesson-sync/server/internal/syncproto"
)

// BlockBinder 是某个内容块上的媒体信号发送器（拖动进度、播放/暂停）。
// 信号不带版本、不排序、可以丢，任意角色都能发。
type BlockBinder struct {
	s          *Session
	blockID    string
	materialID string
}

// Play 通知镜像端该块在 position 处开始播放。
func (b *BlockBinder) Play(position float64) { b.send(syncproto.ActionPlay, position) }

// Pause 通知镜像端该块在 position 处暂停。
func (b *BlockBinder) Pause(position float64) { b.send(syncproto.ActionPause, position) }

// Seek 连续拖动时每次都可以调用，不做限流。
func (b *BlockBinder) Seek(position float64) { b.send(syncproto.ActionSeek, position) }

func (b *BlockBinder) send(kind syncproto.ActionKind, position float64) {
	b.s.sendEphemeral(&syncproto.BlockMediaSync{
		BlockID:    b.blockID,
		MaterialID: b.materialID,
		Kind:       kind,
		Value:      syncproto.Float(position),
	})
}

// BlockSignal 是收到的最新一条块级媒体信号。
type BlockSignal struct {
	BlockID    string
	MaterialID string
	Kind       syncproto.ActionKind
	Value      float64
	HasValue   bool
	ReceivedAt time.Time
}

// MirrorView 保存每个块最后收到的信号，后到覆盖先到，不关心顺序。
type MirrorView struct {
	mu     sync.RWMutex
	latest map[string]BlockSignal
	nextID int
	subs   map[int]func(BlockSignal)
}

func newMirrorView() *MirrorView {
	return &MirrorView{
		latest: make(map[string]BlockSignal),
		subs:   make(map[int]func(BlockSignal)),
	}
}

// Latest 返回某个块最近一次信号。
func (m *MirrorView) Latest(blockID string) (BlockSignal, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sig, ok := m.latest[blockID]
	return sig, ok
}

// Subscribe 注册信号回调，返回取消函数。
func (m *MirrorView) Subscribe(fn func(BlockSignal)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	id := m.nextID
	m.subs[id] = fn
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.subs, id)
	}
}

func (m *MirrorView) record(msg *syncproto.BlockMediaSync, now time.Time) {
	if msg.BlockID == "" {
		return
	}
	sig := BlockSignal{
		BlockID:    msg.BlockID,
		MaterialID: msg.MaterialID,
		Kind:       msg.Kind,
		ReceivedAt: now,
	}
	if msg.Value != nil {
		sig.Value = *msg.Value
		sig.HasValue = true
	}

	m.mu.Lock()
	m.latest[msg.BlockID] = sig
	subs := make([]func(BlockSignal), 0, len(m.subs))
	for _, fn := range m.subs {
		subs = append(subs, fn)
	}
	m.mu.Unlock()

	for _, fn := range subs {
		fn(sig)
	}
}
