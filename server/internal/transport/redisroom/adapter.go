// Package redisroom 是“房间式 pub/sub 通道”的适配器：每节课对应一个 Redis 频道。
// Redis 会把发布者自己的消息也推回来，因此每帧都带上发送方 ID，读循环据此过滤回声。
package redisroom

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"lesson-sync/server/internal/syncproto"
	"lesson-sync/server/internal/transport"
)

const DefaultChannelPrefix = "lesson:"

// Config 适配器配置。Client 由调用方创建并负责关闭。
type Config struct {
	Client         *redis.Client
	LessonID       string
	ParticipantID  string
	ChannelPrefix  string
	PublishTimeout time.Duration
	OutboxCapacity int
	Logger         *log.Logger
}

// frame 是频道上的实际负载。
type frame struct {
	From    string          `json:"from"`
	Payload json.RawMessage `json:"payload"`
}

// Adapter 实现 transport.Transport。
type Adapter struct {
	client        *redis.Client
	pubsub        *redis.PubSub
	channel       string
	participantID string

	handlers transport.Handlers
	outbox   *transport.Outbox
	ready    atomic.Bool

	publishTimeout time.Duration
	closeOnce      sync.Once
	wg             sync.WaitGroup
	logger         *log.Logger
}

var _ transport.Transport = (*Adapter)(nil)

// ChannelName 返回课程对应的 Redis 频道名。
func ChannelName(prefix, lessonID string) string {
	if prefix == "" {
		prefix = DefaultChannelPrefix
	}
	return prefix + lessonID
}

// Open 订阅课程频道，等到 Redis 确认订阅后才返回，此时适配器已就绪。
func Open(ctx context.Context, cfg Config) (*Adapter, error) {
	if cfg.Client == nil {
		return nil, errors.New("redisroom: client is required")
	}
	if cfg.LessonID == "" || cfg.ParticipantID == "" {
		return nil, errors.New("redisroom: lesson id and participant id are required")
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	if cfg.PublishTimeout == 0 {
		cfg.PublishTimeout = 3 * time.Second
	}

	channel := ChannelName(cfg.ChannelPrefix, cfg.LessonID)
	pubsub := cfg.Client.Subscribe(ctx, channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", channel, err)
	}

	a := &Adapter{
		client:         cfg.Client,
		pubsub:         pubsub,
		channel:        channel,
		participantID:  cfg.ParticipantID,
		publishTimeout: cfg.PublishTimeout,
		logger:         cfg.Logger,
	}
	a.outbox = transport.NewOutbox("RedisRoom", cfg.OutboxCapacity, a.publish, cfg.Logger)
	a.ready.Store(true)

	a.wg.Add(1)
	go a.readLoop(pubsub.Channel())

	a.logger.Printf("[RedisRoom] subscribed channel=%s participant=%s", channel, cfg.ParticipantID)
	return a, nil
}

// Send 编码并包上发送方 ID 后入队。未就绪时静默丢弃。
func (a *Adapter) Send(env syncproto.Envelope) {
	defer func() {
		if r := recover(); r != nil {
			a.logger.Printf("[RedisRoom] send panic recovered: %v", r)
		}
	}()

	if !a.IsReady() {
		return
	}
	payload, err := syncproto.Encode(env)
	if err != nil {
		a.logger.Printf("[RedisRoom] encode failed: %v", err)
		return
	}
	data, err := json.Marshal(frame{From: a.participantID, Payload: payload})
	if err != nil {
		a.logger.Printf("[RedisRoom] wrap failed: %v", err)
		return
	}
	a.outbox.Push(data)
}

func (a *Adapter) OnMessage(handler transport.Handler) func() {
	return a.handlers.Add(handler)
}

func (a *Adapter) IsReady() bool {
	return a.ready.Load()
}

// Channel 返回订阅的频道名。
func (a *Adapter) Channel() string {
	return a.channel
}

// Stats 返回发布统计。
func (a *Adapter) Stats() (sent, dropped, failed int64) {
	return a.outbox.Stats()
}

func (a *Adapter) publish(ctx context.Context, data []byte) error {
	ctx, cancel := context.WithTimeout(ctx, a.publishTimeout)
	defer cancel()
	if err := a.client.Publish(ctx, a.channel, data).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", a.channel, err)
	}
	return nil
}

func (a *Adapter) readLoop(ch <-chan *redis.Message) {
	defer a.wg.Done()

	for msg := range ch {
		var f frame
		if err := json.Unmarshal([]byte(msg.Payload), &f); err != nil {
			a.logger.Printf("[RedisRoom] dropping unwrapped frame: %v", err)
			continue
		}
		if f.From == a.participantID {
			continue
		}
		a.handlers.DispatchRaw(f.Payload, a.logger, "RedisRoom")
	}
}

// Close 退订并停止读写协程，可重复调用。
func (a *Adapter) Close() error {
	var closeErr error
	a.closeOnce.Do(func() {
		a.ready.Store(false)
		a.outbox.Close()
		closeErr = a.pubsub.Close()
		a.wg.Wait()
		a.logger.Printf("[RedisRoom] closed channel=%s participant=%s", a.channel, a.participantID)
	})
	return closeErr
}
