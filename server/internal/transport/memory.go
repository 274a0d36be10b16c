package transport

import (
	"log"
	"sync"
	"sync/atomic"

	"lesson-sync/server/internal/syncproto"
)

// MemoryHub 是进程内的广播通道，用于测试与本地演示。
// 帧会真实地编码/解码一次，因此线上格式与网络适配器一致。
// 支持丢包（SetDrop）与扣留后乱序释放（SetHold/Release）来模拟不可靠网络。
type MemoryHub struct {
	mu        sync.Mutex
	endpoints map[string]*MemoryEndpoint
	drop      func(from, to string, env syncproto.Envelope) bool
	hold      bool
	held      []heldFrame
	frames    map[string][][]byte
	logger    *log.Logger
}

type heldFrame struct {
	from string
	to   string
	data []byte
}

type delivery struct {
	to   *MemoryEndpoint
	data []byte
}

// NewMemoryHub 创建空的进程内通道。
func NewMemoryHub(logger *log.Logger) *MemoryHub {
	if logger == nil {
		logger = log.Default()
	}
	return &MemoryHub{
		endpoints: make(map[string]*MemoryEndpoint),
		frames:    make(map[string][][]byte),
		logger:    logger,
	}
}

// Join 注册一个参与者端点，默认已就绪。
func (h *MemoryHub) Join(participantID string) *MemoryEndpoint {
	ep := &MemoryEndpoint{id: participantID, hub: h}
	ep.ready.Store(true)

	h.mu.Lock()
	h.endpoints[participantID] = ep
	h.mu.Unlock()
	return ep
}

// SetDrop 设置丢包规则，返回 true 的帧不会送达 to。
func (h *MemoryHub) SetDrop(fn func(from, to string, env syncproto.Envelope) bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.drop = fn
}

// SetHold 开启后所有帧被扣留，直到 Release。
func (h *MemoryHub) SetHold(hold bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.hold = hold
}

// Held 返回当前扣留的帧数。
func (h *MemoryHub) Held() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.held)
}

// Release 按给定下标顺序投递扣留的帧；不传参数时按 FIFO 全部投递。
// 未被点名的帧继续扣留。
func (h *MemoryHub) Release(order ...int) {
	h.mu.Lock()
	var picked []heldFrame
	if len(order) == 0 {
		picked = h.held
		h.held = nil
	} else {
		used := make(map[int]bool, len(order))
		for _, idx := range order {
			if idx < 0 || idx >= len(h.held) || used[idx] {
				continue
			}
			used[idx] = true
			picked = append(picked, h.held[idx])
		}
		remaining := h.held[:0:0]
		for i, f := range h.held {
			if !used[i] {
				remaining = append(remaining, f)
			}
		}
		h.held = remaining
	}

	deliveries := make([]delivery, 0, len(picked))
	for _, f := range picked {
		if ep, ok := h.endpoints[f.to]; ok {
			deliveries = append(deliveries, delivery{to: ep, data: f.data})
		}
	}
	h.mu.Unlock()

	h.deliver(deliveries)
}

// Sent 返回某参与者真正写到通道上的消息（就绪状态下发出的）。
func (h *MemoryHub) Sent(participantID string) []syncproto.Envelope {
	h.mu.Lock()
	frames := append([][]byte(nil), h.frames[participantID]...)
	h.mu.Unlock()

	out := make([]syncproto.Envelope, 0, len(frames))
	for _, data := range frames {
		env, err := syncproto.Decode(data)
		if err != nil {
			continue
		}
		out = append(out, env)
	}
	return out
}

func (h *MemoryHub) route(from string, data []byte) {
	h.mu.Lock()
	h.frames[from] = append(h.frames[from], data)

	var deliveries []delivery
	for id, ep := range h.endpoints {
		if id == from {
			continue
		}
		if h.drop != nil {
			env, err := syncproto.Decode(data)
			if err == nil && h.drop(from, id, env) {
				continue
			}
		}
		if h.hold {
			h.held = append(h.held, heldFrame{from: from, to: id, data: data})
			continue
		}
		deliveries = append(deliveries, delivery{to: ep, data: data})
	}
	h.mu.Unlock()

	h.deliver(deliveries)
}

func (h *MemoryHub) deliver(deliveries []delivery) {
	for _, d := range deliveries {
		d.to.handlers.DispatchRaw(d.data, h.logger, "Memory")
	}
}

func (h *MemoryHub) leave(participantID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.endpoints, participantID)
}

// MemoryEndpoint 是 MemoryHub 上一个参与者的 Transport 实现。
type MemoryEndpoint struct {
	id       string
	hub      *MemoryHub
	ready    atomic.Bool
	handlers Handlers
}

var _ Transport = (*MemoryEndpoint)(nil)

// ID 返回参与者 ID。
func (e *MemoryEndpoint) ID() string { return e.id }

// Send 未就绪时静默丢弃；编码失败只记日志。
func (e *MemoryEndpoint) Send(env syncproto.Envelope) {
	defer func() {
		if r := recover(); r != nil {
			e.hub.logger.Printf("[Memory] send panic recovered: %v", r)
		}
	}()

	if !e.IsReady() {
		return
	}
	data, err := syncproto.Encode(env)
	if err != nil {
		e.hub.logger.Printf("[Memory] encode failed: %v", err)
		return
	}
	e.hub.route(e.id, data)
}

func (e *MemoryEndpoint) OnMessage(handler Handler) func() {
	return e.handlers.Add(handler)
}

func (e *MemoryEndpoint) IsReady() bool {
	return e.ready.Load()
}

// SetReady 模拟通话 joined/断开。
func (e *MemoryEndpoint) SetReady(ready bool) {
	e.ready.Store(ready)
}

// Close 离开通道，之后的 Send 全部丢弃。
func (e *MemoryEndpoint) Close() {
	e.ready.Store(false)
	e.hub.leave(e.id)
}
