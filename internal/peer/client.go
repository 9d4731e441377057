// Package peer implements the participant side of a vizlink session: the
// signaling transport, the per-peer negotiation state machine, connection
// liveness sampling, document sync over the replication relay, and the
// reconnection monitor that ties their lifetimes together.
package peer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vizlink/vizlink/internal/protocol"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 20
)

// ErrClientClosed is returned by Send after Close.
var ErrClientClosed = errors.New("peer: signaling client closed")

// Client is one WebSocket connection to the relay. Incoming envelopes are
// validated before delivery; the channel closes when the connection dies.
type Client struct {
	conn *websocket.Conn
	log  *slog.Logger

	incoming chan protocol.Envelope
	outgoing chan protocol.Envelope
	done     chan struct{}

	mu       sync.Mutex
	closed   bool
	readErr  error
	clean    bool // latched when the read loop exits
	readDone chan struct{}
}

// Dial connects to the relay at serverURL. The connection purpose is carried
// in the query string so the relay can classify it before the first message.
func Dial(ctx context.Context, serverURL, purpose string, log *slog.Logger) (*Client, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return nil, fmt.Errorf("peer: invalid server URL: %w", err)
	}
	if purpose != "" {
		q := u.Query()
		q.Set("type", purpose)
		u.RawQuery = q.Encode()
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("peer: connect %s: %w", u.Host, err)
	}

	c := &Client{
		conn:     conn,
		log:      log,
		incoming: make(chan protocol.Envelope, 16),
		outgoing: make(chan protocol.Envelope, 16),
		done:     make(chan struct{}),
		readDone: make(chan struct{}),
	}

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	c.conn.SetPingHandler(func(appData string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return c.conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(writeWait))
	})

	go c.readPump()
	go c.writePump()

	return c, nil
}

func (c *Client) readPump() {
	defer func() {
		c.conn.Close()
		close(c.incoming)
		close(c.readDone)
	}()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			c.readErr = err
			// Latch cleanliness now: a local Close arriving after the
			// transport already failed must not relabel the loss as clean.
			c.clean = c.closed ||
				websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway)
			c.mu.Unlock()
			return
		}

		msg, err := protocol.Parse(data)
		if err != nil {
			c.log.Warn("dropping malformed relay message", slog.Any("error", err))
			continue
		}
		c.incoming <- msg
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg := <-c.outgoing:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// Send queues one envelope for delivery.
func (c *Client) Send(msg protocol.Envelope) error {
	select {
	case c.outgoing <- msg:
		return nil
	case <-c.done:
		return ErrClientClosed
	case <-c.readDone:
		return ErrClientClosed
	}
}

// Incoming returns the channel of validated inbound envelopes. It closes when
// the connection is gone.
func (c *Client) Incoming() <-chan protocol.Envelope {
	return c.incoming
}

// Close shuts the connection down cleanly. Safe to call more than once.
func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()
	close(c.done)
}

// CloseWasClean reports whether the connection ended in an orderly way: a
// local Close before the transport failed, or a normal/going-away close frame
// from the relay. The verdict is latched when the read loop exits, so a later
// local Close cannot relabel an abrupt loss as clean. Unclean closes are what
// the reconnection monitor reacts to.
func (c *Client) CloseWasClean() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.readErr != nil {
		return c.clean
	}
	return c.closed
}
