package relay

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// peer 是课程频道里的一个参与者连接。写操作串行化，读只在 Hub.Serve 的协程里进行。
type peer struct {
	id       string
	conn     *websocket.Conn
	connLock sync.Mutex

	writeTimeout time.Duration
	closeOnce    sync.Once
	closeChan    chan struct{}
}

func newPeer(id string, conn *websocket.Conn, writeTimeout time.Duration) *peer {
	return &peer{
		id:           id,
		conn:         conn,
		writeTimeout: writeTimeout,
		closeChan:    make(chan struct{}),
	}
}

func (p *peer) writeText(data []byte) error {
	p.connLock.Lock()
	defer p.connLock.Unlock()

	if p.conn == nil {
		return errors.New("peer connection is closed")
	}
	p.conn.SetWriteDeadline(time.Now().Add(p.writeTimeout))
	if err := p.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write to %s: %w", p.id, err)
	}
	return nil
}

func (p *peer) writeJSON(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal control frame: %w", err)
	}
	return p.writeText(data)
}

func (p *peer) ping() error {
	p.connLock.Lock()
	defer p.connLock.Unlock()

	if p.conn == nil {
		return errors.New("peer connection is closed")
	}
	return p.conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(5*time.Second))
}

func (p *peer) close(code int, reason string) {
	p.closeOnce.Do(func() {
		close(p.closeChan)

		p.connLock.Lock()
		defer p.connLock.Unlock()
		if p.conn == nil {
			return
		}
		p.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(code, reason),
			time.Now().Add(time.Second),
		)
		p.conn.Close()
		p.conn = nil
	})
}
