package transport

import (
	"context"
	"log"
	"sync"
)

const defaultOutboxCapacity = 256

// Outbox 为适配器提供“非阻塞发送 + 单协程顺序写出”。
// 队列满时丢弃（背压控制），写出失败只记日志。
type Outbox struct {
	name   string
	write  func(ctx context.Context, data []byte) error
	ch     chan []byte
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger *log.Logger

	mu      sync.Mutex
	sent    int64
	dropped int64
	failed  int64
}

// NewOutbox 创建并启动写出协程。
func NewOutbox(name string, capacity int, write func(ctx context.Context, data []byte) error, logger *log.Logger) *Outbox {
	if capacity <= 0 {
		capacity = defaultOutboxCapacity
	}
	if logger == nil {
		logger = log.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	o := &Outbox{
		name:   name,
		write:  write,
		ch:     make(chan []byte, capacity),
		ctx:    ctx,
		cancel: cancel,
		logger: logger,
	}
	o.wg.Add(1)
	go o.loop()
	return o
}

// Push 非阻塞入队，返回是否入队成功。
func (o *Outbox) Push(data []byte) bool {
	select {
	case <-o.ctx.Done():
		return false
	default:
	}

	select {
	case o.ch <- data:
		return true
	default:
		o.mu.Lock()
		o.dropped++
		o.mu.Unlock()
		o.logger.Printf("[%s] ⚠️  outbox full, dropping frame (%d bytes)", o.name, len(data))
		return false
	}
}

func (o *Outbox) loop() {
	defer o.wg.Done()
	for {
		select {
		case <-o.ctx.Done():
			return
		case data := <-o.ch:
			err := o.write(o.ctx, data)
			o.mu.Lock()
			if err != nil {
				o.failed++
			} else {
				o.sent++
			}
			o.mu.Unlock()
			if err != nil {
				o.logger.Printf("[%s] write failed: %v", o.name, err)
			}
		}
	}
}

// Close 停止写出协程，未写出的帧直接丢弃。
func (o *Outbox) Close() {
	o.cancel()
	o.wg.Wait()
}

// Stats 返回发送统计。
func (o *Outbox) Stats() (sent, dropped, failed int64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.sent, o.dropped, o.failed
}
