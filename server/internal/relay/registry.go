package relay

import (
	"context"
	"sort"
	"sync"

	"github.com/gorilla/websocket"

	"lesson-sync/server/internal/timeline"
)

// Registry 管理 lessonID → Hub，最后一个参与者离开时回收 Hub。
type Registry struct {
	mu     sync.Mutex
	hubs   map[string]*Hub
	config Config
}

func NewRegistry(config Config) *Registry {
	config.applyDefaults()
	return &Registry{
		hubs:   make(map[string]*Hub),
		config: config,
	}
}

// Hub 返回课程频道，不存在时创建。
func (r *Registry) Hub(lessonID string) *Hub {
	r.mu.Lock()
	defer r.mu.Unlock()

	if h, ok := r.hubs[lessonID]; ok {
		return h
	}
	h := NewHub(lessonID, r.config)
	h.onEmpty = r.release
	r.hubs[lessonID] = h
	return h
}

// Lookup 只查询，不创建。
func (r *Registry) Lookup(lessonID string) (*Hub, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.hubs[lessonID]
	return h, ok
}

// Serve 把连接接入课程频道并阻塞到连接断开，返回实际服务它的 Hub。
// 取到的 Hub 恰好在登记前被回收时，换一个新 Hub 重试。
func (r *Registry) Serve(lessonID, participantID string, conn *websocket.Conn) *Hub {
	for {
		h := r.Hub(lessonID)
		if h.Serve(participantID, conn) {
			return h
		}
	}
}

func (r *Registry) release(h *Hub) {
	r.mu.Lock()
	cur, ok := r.hubs[h.lessonID]
	// 回收前再确认一次：Serve 可能刚把新参与者登记进来
	if !ok || cur != h || !h.retireIfEmpty() {
		r.mu.Unlock()
		return
	}
	delete(r.hubs, h.lessonID)
	if r.config.Journal != nil {
		r.config.Journal.Drop(context.Background(), h.lessonID)
	}
	r.mu.Unlock()

	h.Close()
}

// Journal 返回转发历史存储，未配置时为 nil。
func (r *Registry) Journal() timeline.Store {
	return r.config.Journal
}

// Lessons 返回当前活跃的课程 ID（已排序）。
func (r *Registry) Lessons() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.hubs))
	for id := range r.hubs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Close 关闭所有 Hub。
func (r *Registry) Close() {
	r.mu.Lock()
	hubs := make([]*Hub, 0, len(r.hubs))
	for _, h := range r.hubs {
		hubs = append(hubs, h)
	}
	r.hubs = make(map[string]*Hub)
	r.mu.Unlock()

	for _, h := range hubs {
		h.Close()
	}
}
