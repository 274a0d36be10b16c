package relay

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"lesson-sync/server/internal/syncproto"
)

// FrameHandler 处理一帧入站数据（由 Hub 注入：转发给其他参与者）。
type FrameHandler func(ctx context.Context, f *Frame)

// Frame 是某个参与者发来的一帧原始数据。
type Frame struct {
	From       string
	Data       []byte
	Envelope   syncproto.Envelope
	ReceivedAt time.Time
}

// FrameQueue 为单个课程频道提供串行转发（Actor Model）。
// 所有参与者的入站帧进入同一个队列，保证同一发送方的帧按接收顺序转发。
type FrameQueue struct {
	lessonID string
	handler  FrameHandler
	frames   chan *Frame
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	logger   *log.Logger

	mu        sync.Mutex
	total     int64
	processed int64
	dropped   int64
}

const defaultQueueCapacity = 256

// NewFrameQueue 创建并启动转发协程。
func NewFrameQueue(lessonID string, capacity int, handler FrameHandler, logger *log.Logger) *FrameQueue {
	if logger == nil {
		logger = log.Default()
	}
	if capacity <= 0 {
		capacity = defaultQueueCapacity
	}

	ctx, cancel := context.WithCancel(context.Background())
	q := &FrameQueue{
		lessonID: lessonID,
		handler:  handler,
		frames:   make(chan *Frame, capacity),
		ctx:      ctx,
		cancel:   cancel,
		logger:   logger,
	}

	q.wg.Add(1)
	go q.processLoop()
	return q
}

// Enqueue 异步入队，队列满时丢弃（背压控制）。
func (q *FrameQueue) Enqueue(f *Frame) error {
	select {
	case <-q.ctx.Done():
		return fmt.Errorf("frame queue closed")
	default:
	}

	select {
	case q.frames <- f:
		q.mu.Lock()
		q.total++
		q.mu.Unlock()
		return nil
	default:
		q.mu.Lock()
		q.dropped++
		q.mu.Unlock()
		q.logger.Printf("[Relay] ⚠️  queue full, dropping frame lesson=%s from=%s", q.lessonID, f.From)
		return fmt.Errorf("frame queue full")
	}
}

func (q *FrameQueue) processLoop() {
	defer q.wg.Done()

	for {
		select {
		case <-q.ctx.Done():
			return
		case f := <-q.frames:
			q.process(f)
		}
	}
}

func (q *FrameQueue) process(f *Frame) {
	start := time.Now()
	q.handler(q.ctx, f)

	q.mu.Lock()
	q.processed++
	q.mu.Unlock()

	if elapsed := time.Since(start); elapsed > time.Second {
		q.logger.Printf("[Relay] ⚠️  slow fan-out lesson=%s from=%s took=%v", q.lessonID, f.From, elapsed)
	}
}

// Close 停止转发协程，未处理的帧直接丢弃。
func (q *FrameQueue) Close() {
	q.cancel()
	q.wg.Wait()
}

// QueueStats 队列统计
type QueueStats struct {
	Total     int64 `json:"total"`
	Processed int64 `json:"processed"`
	Dropped   int64 `json:"dropped"`
	Pending   int   `json:"pending"`
	Capacity  int   `json:"capacity"`
}

func (q *FrameQueue) Stats() QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return QueueStats{
		Total:     q.total,
		Processed: q.processed,
		Dropped:   q.dropped,
		Pending:   len(q.frames),
		Capacity:  cap(q.frames),
	}
}
