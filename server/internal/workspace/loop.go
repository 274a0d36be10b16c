package workspace

import (
	"context"
	"log"
	"sync"
)

const defaultLoopCapacity = 256

// eventLoop 为单个参与者的 Session 提供串行执行（Actor Model）。
// 入站消息、本地意图、恢复定时器全部在同一个协程里执行，
// 因此状态机内部不需要加锁。
//
// 注意：不要在 loop 协程内部调用 call，会死锁。
type eventLoop struct {
	name   string
	tasks  chan func()
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger *log.Logger

	mu        sync.Mutex
	total     int64
	processed int64
	dropped   int64
}

// LoopStats 是事件循环的统计信息。
type LoopStats struct {
	Total     int64 `json:"total"`
	Processed int64 `json:"processed"`
	Dropped   int64 `json:"dropped"`
	Pending   int   `json:"pending"`
}

func newEventLoop(name string, capacity int, logger *log.Logger) *eventLoop {
	if capacity <= 0 {
		capacity = defaultLoopCapacity
	}
	if logger == nil {
		logger = log.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	l := &eventLoop{
		name:   name,
		tasks:  make(chan func(), capacity),
		ctx:    ctx,
		cancel: cancel,
		logger: logger,
	}
	l.wg.Add(1)
	go l.run()
	return l
}

// post 异步投递，队列满或已关闭时丢弃。
func (l *eventLoop) post(task func()) bool {
	select {
	case <-l.ctx.Done():
		return false
	default:
	}

	select {
	case l.tasks <- task:
		l.mu.Lock()
		l.total++
		l.mu.Unlock()
		return true
	default:
		l.mu.Lock()
		l.dropped++
		l.mu.Unlock()
		l.logger.Printf("[Session] ⚠️  loop %s full, dropping task", l.name)
		return false
	}
}

// call 同步投递并等待执行完成；已关闭时返回 false。
func (l *eventLoop) call(task func()) bool {
	done := make(chan struct{})
	wrapped := func() {
		defer close(done)
		task()
	}

	select {
	case <-l.ctx.Done():
		return false
	case l.tasks <- wrapped:
		l.mu.Lock()
		l.total++
		l.mu.Unlock()
	}

	select {
	case <-done:
		return true
	case <-l.ctx.Done():
		return false
	}
}

func (l *eventLoop) run() {
	defer l.wg.Done()
	for {
		select {
		case <-l.ctx.Done():
			return
		case task := <-l.tasks:
			l.exec(task)
		}
	}
}

func (l *eventLoop) exec(task func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Printf("[Session] ❌ task panic in loop %s: %v", l.name, r)
		}
		l.mu.Lock()
		l.processed++
		l.mu.Unlock()
	}()
	task()
}

func (l *eventLoop) close() {
	l.cancel()
	l.wg.Wait()
}

func (l *eventLoop) stats() LoopStats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return LoopStats{
		Total:     l.total,
		Processed: l.processed,
		Dropped:   l.dropped,
		Pending:   len(l.tasks),
	}
}
