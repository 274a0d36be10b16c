// Package relay 是“通话作用域广播通道”的服务端：每节课一个 Hub，
// 把任一参与者发来的帧原样转发给同课的其他参与者。
//
// Hub 不理解同步语义（版本、权威方都由客户端的 Session 负责），
// 只保证：同一发送方的帧按接收顺序转发、不回送给发送方、无法解码的帧不扩散。
package relay

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"lesson-sync/server/internal/syncproto"
	"lesson-sync/server/internal/timeline"
)

// FrameJoined 登记完成后发给新参与者的控制帧类型，客户端据此判定就绪。
const FrameJoined = "joined"

// JoinedFrame 是 joined 控制帧。
type JoinedFrame struct {
	T             string `json:"t"`
	LessonID      string `json:"lessonId"`
	ParticipantID string `json:"participantId"`
	Peers         int    `json:"peers"`
}

// Config Hub 配置
type Config struct {
	PingInterval  time.Duration
	WriteTimeout  time.Duration
	QueueCapacity int
	Logger        *log.Logger
	// Journal 为 nil 时不记录转发历史。
	Journal timeline.Store
}

func (c *Config) applyDefaults() {
	if c.PingInterval == 0 {
		c.PingInterval = 30 * time.Second
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 5 * time.Second
	}
	if c.Logger == nil {
		c.Logger = log.Default()
	}
}

// Hub 是一节课的广播频道。
type Hub struct {
	lessonID string
	config   Config
	queue    *FrameQueue

	mu    sync.RWMutex
	peers map[string]*peer
	// retired Registry 已把 Hub 摘掉，不再接受新参与者
	retired bool

	// onEmpty 最后一个参与者离开时回调（Registry 用来回收）
	onEmpty func(h *Hub)

	statsLock sync.Mutex
	forwarded int64
	rejected  int64
	failed    int64

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	closeChan chan struct{}
	logger    *log.Logger
}

// NewHub 创建课程频道并启动转发与心跳协程。
func NewHub(lessonID string, config Config) *Hub {
	config.applyDefaults()
	ctx, cancel := context.WithCancel(context.Background())

	h := &Hub{
		lessonID:  lessonID,
		config:    config,
		peers:     make(map[string]*peer),
		ctx:       ctx,
		cancel:    cancel,
		closeChan: make(chan struct{}),
		logger:    config.Logger,
	}
	h.queue = NewFrameQueue(lessonID, config.QueueCapacity, h.fanOut, config.Logger)

	go h.pingLoop()

	h.logger.Printf("[Relay] hub created lesson=%s", lessonID)
	return h
}

func (h *Hub) LessonID() string { return h.lessonID }

// Serve 登记参与者并阻塞读取，直到连接断开或 Hub 关闭。
// 同一 participantID 重复连接时，旧连接被踢掉。
// Hub 已被 Registry 回收时返回 false，conn 保持原样，调用方应换新 Hub 重试。
func (h *Hub) Serve(participantID string, conn *websocket.Conn) bool {
	p := newPeer(participantID, conn, h.config.WriteTimeout)

	h.mu.Lock()
	if h.retired {
		h.mu.Unlock()
		return false
	}
	select {
	case <-h.closeChan:
		h.mu.Unlock()
		p.close(websocket.CloseGoingAway, "lesson closed")
		return true
	default:
	}
	old := h.peers[participantID]
	h.peers[participantID] = p
	count := len(h.peers)
	h.mu.Unlock()

	if old != nil {
		h.logger.Printf("[Relay] replacing connection lesson=%s participant=%s", h.lessonID, participantID)
		old.close(websocket.ClosePolicyViolation, "replaced by a newer connection")
	}

	if err := p.writeJSON(JoinedFrame{
		T:             FrameJoined,
		LessonID:      h.lessonID,
		ParticipantID: participantID,
		Peers:         count,
	}); err != nil {
		h.logger.Printf("[Relay] joined frame failed lesson=%s participant=%s: %v", h.lessonID, participantID, err)
		h.leave(p)
		return true
	}
	h.logger.Printf("[Relay] participant joined lesson=%s participant=%s peers=%d", h.lessonID, participantID, count)

	h.readLoop(p, conn)
	h.leave(p)
	return true
}

// retireIfEmpty 在没有参与者时把 Hub 标记为已回收。与 Serve 的登记共用 h.mu，二者只有一个能赢。
func (h *Hub) retireIfEmpty() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.peers) > 0 {
		return false
	}
	h.retired = true
	return true
}

func (h *Hub) readLoop(p *peer, conn *websocket.Conn) {
	for {
		select {
		case <-p.closeChan:
			return
		case <-h.closeChan:
			return
		default:
		}

		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Printf("[Relay] read error lesson=%s participant=%s: %v", h.lessonID, p.id, err)
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		env, err := syncproto.Decode(data)
		if err != nil {
			h.statsLock.Lock()
			h.rejected++
			h.statsLock.Unlock()
			h.logger.Printf("[Relay] rejecting frame lesson=%s from=%s: %v", h.lessonID, p.id, err)
			continue
		}
		h.queue.Enqueue(&Frame{From: p.id, Data: data, Envelope: env, ReceivedAt: time.Now()})
	}
}

// fanOut 在队列协程里执行，逐个写给除发送方以外的参与者。
func (h *Hub) fanOut(ctx context.Context, f *Frame) {
	h.record(ctx, f)

	h.mu.RLock()
	targets := make([]*peer, 0, len(h.peers))
	for id, p := range h.peers {
		if id != f.From {
			targets = append(targets, p)
		}
	}
	h.mu.RUnlock()

	for _, p := range targets {
		err := p.writeText(f.Data)
		h.statsLock.Lock()
		if err != nil {
			h.failed++
		} else {
			h.forwarded++
		}
		h.statsLock.Unlock()
		if err != nil {
			h.logger.Printf("[Relay] forward failed lesson=%s to=%s: %v", h.lessonID, p.id, err)
		}
	}
}

func (h *Hub) record(ctx context.Context, f *Frame) {
	if h.config.Journal == nil || f.Envelope == nil {
		return
	}
	typ, action, version := timeline.Describe(f.Envelope)
	if _, err := h.config.Journal.Append(ctx, h.lessonID, &timeline.Entry{
		From:    f.From,
		Type:    typ,
		Action:  action,
		Version: version,
		At:      f.ReceivedAt,
	}); err != nil {
		h.logger.Printf("[Relay] journal append failed lesson=%s: %v", h.lessonID, err)
	}
}

func (h *Hub) leave(p *peer) {
	p.close(websocket.CloseNormalClosure, "")

	h.mu.Lock()
	if cur, ok := h.peers[p.id]; ok && cur == p {
		delete(h.peers, p.id)
	}
	remaining := len(h.peers)
	onEmpty := h.onEmpty
	h.mu.Unlock()

	h.logger.Printf("[Relay] participant left lesson=%s participant=%s peers=%d", h.lessonID, p.id, remaining)
	if remaining == 0 && onEmpty != nil {
		onEmpty(h)
	}
}

// Kick 断开某个参与者。
func (h *Hub) Kick(participantID string) bool {
	h.mu.RLock()
	p, ok := h.peers[participantID]
	h.mu.RUnlock()
	if !ok {
		return false
	}
	p.close(websocket.CloseNormalClosure, "removed from lesson")
	return true
}

// Peers 返回在线参与者 ID（已排序）。
func (h *Hub) Peers() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	ids := make([]string, 0, len(h.peers))
	for id := range h.peers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.peers)
}

func (h *Hub) pingLoop() {
	ticker := time.NewTicker(h.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-h.closeChan:
			return
		case <-ticker.C:
			h.mu.RLock()
			peers := make([]*peer, 0, len(h.peers))
			for _, p := range h.peers {
				peers = append(peers, p)
			}
			h.mu.RUnlock()

			for _, p := range peers {
				if err := p.ping(); err != nil {
					h.logger.Printf("[Relay] ping failed lesson=%s participant=%s: %v", h.lessonID, p.id, err)
				}
			}
		}
	}
}

// HubStats Hub 统计
type HubStats struct {
	LessonID  string     `json:"lessonId"`
	Peers     []string   `json:"peers"`
	Forwarded int64      `json:"forwarded"`
	Rejected  int64      `json:"rejected"`
	Failed    int64      `json:"failed"`
	Queue     QueueStats `json:"queue"`
}

func (h *Hub) Stats() HubStats {
	h.statsLock.Lock()
	forwarded, rejected, failed := h.forwarded, h.rejected, h.failed
	h.statsLock.Unlock()

	return HubStats{
		LessonID:  h.lessonID,
		Peers:     h.Peers(),
		Forwarded: forwarded,
		Rejected:  rejected,
		Failed:    failed,
		Queue:     h.queue.Stats(),
	}
}

// Close 断开所有参与者并停止协程，可重复调用。
func (h *Hub) Close() {
	h.closeOnce.Do(func() {
		h.logger.Printf("[Relay] closing hub lesson=%s", h.lessonID)

		h.mu.Lock()
		close(h.closeChan)
		peers := make([]*peer, 0, len(h.peers))
		for _, p := range h.peers {
			peers = append(peers, p)
		}
		h.peers = make(map[string]*peer)
		h.mu.Unlock()

		for _, p := range peers {
			p.close(websocket.CloseGoingAway, "lesson closed")
		}
		h.cancel()
		h.queue.Close()
	})
}

// Has 参与者当前是否在线。
func (h *Hub) Has(participantID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.peers[participantID]
	return ok
}
