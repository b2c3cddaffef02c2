package api

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"fleet-tracker/internal/logger"
)

const (
	readLimit    = 1 << 20
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingInterval = (pongWait * 9) / 10
)

var errConnClosed = errors.New("websocket connection closed")

// tracking upgrades the request and keeps the subscriber registered until
// its socket fails.
func (s *Server) tracking(w http.ResponseWriter, r *http.Request) {
	networkID := r.URL.Query().Get(":network")
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warnf("websocket upgrade: %v", err)
		return
	}
	conn := newWSConn(ws, s.log.With("network", networkID))
	defer conn.Close()

	ctx := r.Context()
	if err := s.manager.Subscribe(ctx, networkID, conn); err != nil {
		s.log.Warnf("subscribe %s: %v", networkID, err)
		return
	}
	defer s.manager.Unsubscribe(networkID, conn.ID())

	go conn.pingLoop()
	conn.readLoop(func(msg []byte) {
		s.manager.HandleCommand(ctx, networkID, conn, msg)
	})
}

// WSConn adapts a gorilla connection to broadcast.Conn. Writes are
// serialised; control frames may be sent concurrently.
type WSConn struct {
	id  string
	ws  *websocket.Conn
	log logger.Logger

	mu        sync.Mutex
	closed    atomic.Bool
	done      chan struct{}
	closeOnce sync.Once
}

func newWSConn(ws *websocket.Conn, log logger.Logger) *WSConn {
	return &WSConn{id: uuid.NewString(), ws: ws, log: log, done: make(chan struct{})}
}

func (c *WSConn) ID() string { return c.id }

func (c *WSConn) Open() bool { return !c.closed.Load() }

func (c *WSConn) Send(ctx context.Context, msg []byte) error {
	if c.closed.Load() {
		return errConnClosed
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	deadline := time.Now().Add(writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = c.ws.SetWriteDeadline(deadline)
	if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
		_ = c.Close()
		return err
	}
	return nil
}

func (c *WSConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		close(c.done)
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait))
		err = c.ws.Close()
	})
	return err
}

func (c *WSConn) pingLoop() {
	t := time.NewTicker(pingInterval)
	defer t.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-t.C:
		}
		if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
			c.log.Debugf("ping %s: %v", c.id, err)
			_ = c.Close()
			return
		}
	}
}

// readLoop hands every inbound text frame to handle until the socket fails.
func (c *WSConn) readLoop(handle func([]byte)) {
	c.ws.SetReadLimit(readLimit)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		kind, msg, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.Debugf("read %s: %v", c.id, err)
			}
			_ = c.Close()
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
		if kind == websocket.TextMessage {
			handle(msg)
		}
	}
}
