// Package wsadapter bridges a Manager subscription to a single WebSocket
// client connection. It owns the bounded outbound queue Manager fans events
// into, and applies the per-client filtering rules (language allow-list,
// blocked/blocking accounts, blocked domains) that the core Manager deliberately
// does not know about.
package wsadapter

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/busgate/internal/domain"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBufferSize = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Restricted at the reverse proxy / admin auth layer, not here.
		return true
	},
}

// Client adapts one WebSocket connection to a Manager subscription. It
// implements subtable.OutboundQueue via TrySend/Closed so Manager can fan
// out to it without any WebSocket-specific knowledge.
type Client struct {
	conn *websocket.Conn
	send chan *domain.Event
	sub  domain.Subscription
	log  *slog.Logger

	mu     sync.Mutex
	closed bool
}

// NewClient wraps an upgraded WebSocket connection for the given
// subscription criteria.
func NewClient(conn *websocket.Conn, sub domain.Subscription, log *slog.Logger) *Client {
	return &Client{
		conn: conn,
		send: make(chan *domain.Event, sendBufferSize),
		sub:  sub,
		log:  log,
	}
}

// TrySend is the nonblocking fan-out entry point Manager calls. It only
// enqueues; filtering and JSON encoding happen in writePump so that a slow
// client never makes Manager do per-client work while holding its lock.
func (c *Client) TrySend(ev *domain.Event) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- ev:
		return true
	default:
		return false
	}
}

// Closed reports whether this client's connection has already torn down.
func (c *Client) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Client) markClosed() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// Upgrade upgrades r into a WebSocket and wraps it in a Client for the
// already-built Subscription. It does not start the pumps: callers register
// the returned Client with Manager.Subscribe and then call Run.
func Upgrade(w http.ResponseWriter, r *http.Request, sub domain.Subscription, log *slog.Logger) (*Client, error) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	return NewClient(conn, sub, log), nil
}

// Run starts the read and write pumps and blocks until the connection
// closes or ctx is cancelled. Callers should run it in its own goroutine
// after registering the Client with Manager.Subscribe.
func (c *Client) Run(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		c.readPump()
	}()
	c.writePump(ctx)
	<-done
}

// readPump only drains control frames (pings/closes); this gateway's
// subscriptions are fixed at connect time via query parameters, so no
// client-sent subscription management protocol is needed.
func (c *Client) readPump() {
	defer c.markClosed()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Warn("wsadapter: unexpected close", "error", err)
			}
			return
		}
	}
}

// writePump applies per-event filtering (§6's "adapter, not core" rule),
// encodes surviving events, and writes them as WebSocket text frames, plus
// periodic ping frames for keepalive.
func (c *Client) writePump(ctx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case ev, ok := <-c.send:
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if ev.Kind != domain.EventPing && !c.allows(ev) {
				continue
			}
			payload, err := ev.ToJSON()
			if err != nil {
				c.log.Warn("wsadapter: encode event failed", "error", err)
				continue
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if ev.Kind == domain.EventPing {
				if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
				continue
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
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

// allows applies the block/language filtering rules from the original
// streaming filter logic: language allow-list (public timelines only),
// blocked/blocking accounts among author+mentions+reblog author, and
// blocked source domains.
func (c *Client) allows(ev *domain.Event) bool {
	if !ev.IsUpdate() {
		return true
	}

	if c.sub.Timeline.IsPublic() && len(c.sub.AllowedLangs) > 0 && !ev.LanguageUnset() {
		if _, ok := c.sub.AllowedLangs[ev.Language()]; !ok {
			return false
		}
	}

	involved := ev.InvolvedUsers()
	for id := range involved {
		if _, blocked := c.sub.Blocks.BlockedUsers[id]; blocked {
			return false
		}
		if _, blocking := c.sub.Blocks.BlockingUsers[id]; blocking {
			return false
		}
	}

	if host := ev.SentFrom(); host != "" {
		if _, blocked := c.sub.Blocks.BlockedDomains[host]; blocked {
			return false
		}
	}

	return true
}
