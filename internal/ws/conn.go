package ws

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Conn is the transport handle the session core addresses. The registry, hub
// and handlers only ever see this interface; the gorilla-backed clientConn
// below is the production implementation.
type Conn interface {
	ID() string
	WriteJSON(v any) error
	Open() bool
	Close() error
}

type clientConn struct {
	id      string
	rawConn *websocket.Conn
	done    chan struct{} // closed with the connection; releases the pinger
	mu      sync.Mutex
	closed  bool
}

func newClientConn(rawConn *websocket.Conn) *clientConn {
	return &clientConn{
		id:      uuid.New().String(),
		rawConn: rawConn,
		done:    make(chan struct{}),
	}
}

func (c *clientConn) ID() string { return c.id }

func (c *clientConn) WriteJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return websocket.ErrCloseSent
	}
	_ = c.rawConn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.rawConn.WriteJSON(v)
}

// ping shares the write mutex with WriteJSON; gorilla allows one writer only.
func (c *clientConn) ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return websocket.ErrCloseSent
	}
	_ = c.rawConn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.rawConn.WriteMessage(websocket.PingMessage, nil)
}

func (c *clientConn) Open() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed
}

func (c *clientConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	close(c.done)
	return c.rawConn.Close()
}
