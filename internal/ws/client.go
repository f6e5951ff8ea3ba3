package ws

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/pliu/nowchat/internal/channel"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// Client is one WebSocket connection. Its read pump dispatches inbound
// frames in order and its write pump drains the send queue.
type Client struct {
	id      ConnID
	hub     *Hub
	conn    *websocket.Conn
	send    chan []byte
	addr    string
	limiter *rate.Limiter

	mu     sync.RWMutex
	closed bool
}

func newClient(hub *Hub, conn *websocket.Conn, addr string) *Client {
	return &Client{
		hub:     hub,
		conn:    conn,
		send:    make(chan []byte, hub.cfg.SendBuffer),
		addr:    addr,
		limiter: rate.NewLimiter(rate.Limit(hub.cfg.RatePerSecond), hub.cfg.RateBurst),
	}
}

func (c *Client) ID() ConnID {
	return c.id
}

// enqueue reports false when the client is closed or its queue is full.
func (c *Client) enqueue(data []byte) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// close closes the send queue once and reports whether this call did it.
func (c *Client) close() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.closed = true
	close(c.send)
	return true
}

func (c *Client) isClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

func (c *Client) closeConn() {
	if c.conn == nil {
		return
	}
	if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
		c.hub.logger.Warn("close connection", "conn", c.id, "error", err)
	}
}

func (c *Client) readPump(ctx context.Context) {
	defer func() {
		c.hub.Unregister(c)
		c.closeConn()
	}()

	c.conn.SetReadLimit(c.hub.cfg.MaxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			c.logReadError(err)
			return
		}
		if !c.limiter.Allow() {
			c.hub.logger.Warn("rate limit exceeded, discarding event", "conn", c.id, "addr", c.addr)
			continue
		}
		c.hub.Dispatch(ctx, c, raw)
	}
}

func (c *Client) logReadError(err error) {
	logger := c.hub.logger
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		logger.Warn("frame exceeds read limit", "conn", c.id, "limit", c.hub.cfg.MaxMessageSize)
	case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived):
		logger.Debug("client disconnected", "conn", c.id, "error", err)
	case errors.Is(err, io.EOF) || isExpectedCloseError(err):
		logger.Debug("connection closed", "conn", c.id, "error", err)
	default:
		logger.Warn("read error", "conn", c.id, "error", err)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.closeConn()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				if !isExpectedCloseError(err) {
					c.hub.logger.Warn("write error", "conn", c.id, "error", err)
				}
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, websocket.ErrCloseSent) {
		return true
	}
	s := err.Error()
	return strings.Contains(s, "use of closed network connection") || strings.Contains(s, "broken pipe")
}

// start runs the pumps of c until the connection ends.
func (h *Hub) start(c *Client) {
	h.wg.Add(2)
	go func() {
		defer h.wg.Done()
		c.writePump()
	}()
	go func() {
		defer h.wg.Done()
		c.readPump(h.ctx)
	}()
}

// ServeWs upgrades the request and registers the connection. When the query
// names both peers (peerA/peerB, or userFrom/userTo) the connection is bound
// to their channel right away.
func ServeWs(hub *Hub, w http.ResponseWriter, r *http.Request) {
	if hub.ctx.Err() != nil {
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	}

	conn, err := hub.upgrader.Upgrade(w, r, nil)
	if err != nil {
		hub.logger.Warn("websocket upgrade failed", "addr", r.RemoteAddr, "error", err)
		return
	}

	c := newClient(hub, conn, r.RemoteAddr)
	if !hub.admit(c, pairFromQuery(r)) {
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
		conn.Close()
	}
}

func pairFromQuery(r *http.Request) channel.Pair {
	q := r.URL.Query()
	pair := channel.Pair{A: q.Get("peerA"), B: q.Get("peerB")}
	if !pair.Valid() {
		pair = channel.Pair{A: q.Get("userFrom"), B: q.Get("userTo")}
	}
	return pair
}
