package relay

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vizlink/vizlink/internal/metrics"
	"github.com/vizlink/vizlink/internal/protocol"
	"github.com/vizlink/vizlink/internal/ratelimit"
)

const writeWait = 10 * time.Second

// sendQueueSize bounds per-connection outbound buffering. A connection that
// cannot drain its queue is dropped rather than blocking the hub.
const sendQueueSize = 64

// Purpose classifies a connection at admit time. Replication connections
// never count against the media-participant cap.
type Purpose int

const (
	PurposeMedia Purpose = iota
	PurposeReplication
)

func (p Purpose) String() string {
	if p == PurposeReplication {
		return "replication"
	}
	return "media"
}

// client is one WebSocket connection tracked by the hub. Media participants
// additionally carry a relay-assigned numeric id and an opaque video id.
type client struct {
	hub     *Hub
	conn    *websocket.Conn
	purpose Purpose

	id      int64  // 0 for replication connections
	videoID string // empty for replication connections

	send    chan []byte
	limiter *ratelimit.TokenBucket

	closeOnce sync.Once
	done      chan struct{}
}

func newClient(h *Hub, conn *websocket.Conn, purpose Purpose) *client {
	rate := int64(h.cfg.MaxMessagesPerSecond)
	return &client{
		hub:     h,
		conn:    conn,
		purpose: purpose,
		send:    make(chan []byte, sendQueueSize),
		limiter: ratelimit.NewTokenBucket(nil, rate, rate),
		done:    make(chan struct{}),
	}
}

// enqueue hands an envelope to the write pump. A sender with a full queue is
// dropped: a stuck transport must not back-pressure the hub.
func (c *client) enqueue(msg protocol.Envelope) bool {
	payload, err := json.Marshal(msg)
	if err != nil {
		return false
	}
	select {
	case c.send <- payload:
		return true
	case <-c.done:
		return false
	default:
		c.hub.log.Warn("dropping slow client", "client_id", c.id, "purpose", c.purpose.String())
		c.close()
		return false
	}
}

func (c *client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

func (c *client) readPump() {
	defer func() {
		c.close()
		c.hub.onDisconnect(c)
	}()

	c.conn.SetReadLimit(c.hub.cfg.MaxMessageBytes)
	_ = c.conn.SetReadDeadline(time.Now().Add(c.hub.cfg.WSIdleTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.hub.cfg.WSIdleTimeout))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			// A transport error is treated identically to a clean close for
			// cleanup purposes.
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(c.hub.cfg.WSIdleTimeout))

		if !c.limiter.Allow(1) {
			c.hub.metrics.Inc(metrics.MessagesRateLimit)
			c.hub.log.Warn("rate limit exceeded", "client_id", c.id)
			return
		}

		msg, err := protocol.Parse(data)
		if err != nil {
			// Protocol errors are logged and dropped; the connection stays open.
			c.hub.metrics.Inc(metrics.MessagesMalformed)
			c.hub.log.Debug("dropping malformed message", "client_id", c.id, "err", err)
			continue
		}

		c.hub.dispatch(c, msg)
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(c.hub.cfg.WSPingInterval)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case payload := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *client) logAttrs() []any {
	return []any{
		slog.Int64("client_id", c.id),
		slog.String("purpose", c.purpose.String()),
		slog.String("remote_addr", c.conn.RemoteAddr().String()),
	}
}
