// Package wscall 是“通话作用域广播通道”的适配器：
// 参与者通过 websocket 连到 relay 的课程频道，relay 把每一帧转发给同一课程的其他人。
// 连接建立后必须等到 relay 的 joined 帧才算就绪，这一点对上层透明。
package wscall

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"lesson-sync/server/internal/syncproto"
	"lesson-sync/server/internal/transport"
)

// FrameJoined 是 relay 在登记完参与者后下发的控制帧类型。
const FrameJoined = "joined"

// Config 适配器配置
type Config struct {
	// URL 形如 ws://host/api/lessons/<lessonId>/channel?participant=<id>
	URL    string
	Header http.Header

	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	OutboxCapacity   int

	Logger *log.Logger
}

// Adapter 实现 transport.Transport。
type Adapter struct {
	conn     *websocket.Conn
	connLock sync.Mutex

	handlers transport.Handlers
	outbox   *transport.Outbox

	ready         atomic.Bool
	participantID atomic.Value
	joined        chan struct{}
	joinedOnce    sync.Once

	closeOnce sync.Once
	closeChan chan struct{}

	writeTimeout time.Duration
	logger       *log.Logger
}

var _ transport.Transport = (*Adapter)(nil)

type controlFrame struct {
	T             string `json:"t"`
	ParticipantID string `json:"participantId,omitempty"`
}

// Dial 连接 relay 并启动读循环。返回时连接已建立，但不一定已就绪。
func Dial(ctx context.Context, cfg Config) (*Adapter, error) {
	if cfg.URL == "" {
		return nil, errors.New("wscall: url is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	if cfg.HandshakeTimeout == 0 {
		cfg.HandshakeTimeout = 15 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 5 * time.Second
	}

	dialer := websocket.Dialer{HandshakeTimeout: cfg.HandshakeTimeout}
	conn, resp, err := dialer.DialContext(ctx, cfg.URL, cfg.Header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial relay: status=%d err=%w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("dial relay: %w", err)
	}

	a := &Adapter{
		conn:         conn,
		joined:       make(chan struct{}),
		closeChan:    make(chan struct{}),
		writeTimeout: cfg.WriteTimeout,
		logger:       cfg.Logger,
	}
	a.participantID.Store("")
	a.outbox = transport.NewOutbox("WSCall", cfg.OutboxCapacity, a.write, cfg.Logger)

	go a.readLoop(conn)

	a.logger.Printf("[WSCall] connected to relay: %s", cfg.URL)
	return a, nil
}

// Send 编码后入队，由 outbox 协程顺序写出。未就绪时静默丢弃。
func (a *Adapter) Send(env syncproto.Envelope) {
	defer func() {
		if r := recover(); r != nil {
			a.logger.Printf("[WSCall] send panic recovered: %v", r)
		}
	}()

	if !a.IsReady() {
		return
	}
	data, err := syncproto.Encode(env)
	if err != nil {
		a.logger.Printf("[WSCall] encode failed: %v", err)
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

// WaitJoined 阻塞到 relay 确认加入、连接关闭或 ctx 结束。
func (a *Adapter) WaitJoined(ctx context.Context) error {
	select {
	case <-a.joined:
		return nil
	case <-a.closeChan:
		return errors.New("wscall: connection closed before joined")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ParticipantID 返回 relay 在 joined 帧里确认的参与者 ID。
func (a *Adapter) ParticipantID() string {
	return a.participantID.Load().(string)
}

// Done 在连接关闭后关闭。
func (a *Adapter) Done() <-chan struct{} {
	return a.closeChan
}

// Stats 返回写出统计。
func (a *Adapter) Stats() (sent, dropped, failed int64) {
	return a.outbox.Stats()
}

// readLoop 持有连接的本地引用，Close 置空 a.conn 后这里通过读错误退出。
func (a *Adapter) readLoop(conn *websocket.Conn) {
	defer a.Close()

	for {
		select {
		case <-a.closeChan:
			return
		default:
		}

		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				a.logger.Printf("[WSCall] read error: %v", err)
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		var ctrl controlFrame
		if err := json.Unmarshal(data, &ctrl); err == nil && ctrl.T == FrameJoined {
			a.markJoined(ctrl.ParticipantID)
			continue
		}
		a.handlers.DispatchRaw(data, a.logger, "WSCall")
	}
}

func (a *Adapter) markJoined(participantID string) {
	a.joinedOnce.Do(func() {
		a.participantID.Store(participantID)
		a.ready.Store(true)
		close(a.joined)
		a.logger.Printf("[WSCall] joined as %s", participantID)
	})
}

func (a *Adapter) write(ctx context.Context, data []byte) error {
	a.connLock.Lock()
	defer a.connLock.Unlock()

	if a.conn == nil {
		return errors.New("relay connection is closed")
	}
	a.conn.SetWriteDeadline(time.Now().Add(a.writeTimeout))
	if err := a.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write to relay: %w", err)
	}
	return nil
}

// Close 关闭连接，可重复调用。
func (a *Adapter) Close() error {
	var closeErr error

	a.closeOnce.Do(func() {
		a.ready.Store(false)
		close(a.closeChan)
		a.outbox.Close()

		a.connLock.Lock()
		defer a.connLock.Unlock()
		if a.conn == nil {
			return
		}
		a.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		closeErr = a.conn.Close()
		a.conn = nil
		a.logger.Printf("[WSCall] closed")
	})

	return closeErr
}
