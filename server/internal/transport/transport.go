package transport

import (
	"errors"
	"log"
	"sync"

	"lesson-sync/server/internal/syncproto"
)

// ErrNotReady 通道尚未就绪（例如通话还没 joined）。只用于日志，不会返回给调用方。
var ErrNotReady = errors.New("transport not ready")

// Handler 处理一条已解码的同步消息。
type Handler func(env syncproto.Envelope)

// Transport 把底层实时数据通道（房间 pub/sub 或通话广播）封装成统一接口。
//
// 契约：
// - Send 尽力而为、非阻塞，永远不向调用方抛错；未就绪时静默丢弃。
// - 同一发送方的消息按发送顺序到达，不同发送方之间无顺序保证，可能丢失。
// - 自己发出的消息不会回送给自己的 Handler。
type Transport interface {
	Send(env syncproto.Envelope)
	OnMessage(handler Handler) (unsubscribe func())
	IsReady() bool
}

// Handlers 是线程安全的订阅表，供各适配器复用。
type Handlers struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]Handler
}

// Add 注册处理器，返回幂等的取消函数。
func (h *Handlers) Add(handler Handler) func() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.subs == nil {
		h.subs = make(map[int]Handler)
	}
	h.nextID++
	id := h.nextID
	h.subs[id] = handler

	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		delete(h.subs, id)
	}
}

// Len 返回当前订阅数。
func (h *Handlers) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Dispatch 按注册顺序无关地通知所有处理器。处理器在锁外调用。
func (h *Handlers) Dispatch(env syncproto.Envelope) {
	h.mu.RLock()
	handlers := make([]Handler, 0, len(h.subs))
	for _, handler := range h.subs {
		handlers = append(handlers, handler)
	}
	h.mu.RUnlock()

	for _, handler := range handlers {
		handler(env)
	}
}

// DispatchRaw 解码一帧并分发；无法识别的帧记录日志后丢弃。
func (h *Handlers) DispatchRaw(data []byte, logger *log.Logger, prefix string) {
	env, err := syncproto.Decode(data)
	if err != nil {
		if logger != nil {
			logger.Printf("[%s] dropping inbound frame: %v", prefix, err)
		}
		return
	}
	h.Dispatch(env)
}
