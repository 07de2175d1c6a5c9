// Package ws serves the client WebSocket endpoint. Connections are handed
// to the fan-out adapter for delivery; the hub only pumps frames and
// handles room join/leave requests.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/livebid/internal/domain"
	"github.com/alanyoungcy/livebid/internal/fanout"
	"github.com/alanyoungcy/livebid/internal/server/middleware"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBufferSize = 256
)

// Registry tracks live connections on this node.
type Registry interface {
	Register(ctx context.Context, c fanout.Conn)
	Unregister(ctx context.Context, c fanout.Conn)
	Touch(ctx context.Context, userID string)
}

// Rooms resolves and applies auction room membership.
type Rooms interface {
	Join(ctx context.Context, connID, auctionID string, now time.Time) error
	Leave(ctx context.Context, connID, auctionID string) error
}

// Config tunes the hub.
type Config struct {
	AllowedOrigins []string
	ConnectLimit   int // per IP per ConnectWindow; 0 disables
	ConnectWindow  time.Duration
}

// Hub upgrades HTTP requests and runs one read and one write pump per
// connection.
type Hub struct {
	cfg      Config
	registry Registry
	rooms    Rooms
	limiter  domain.RateLimiter
	upgrader websocket.Upgrader
	logger   *slog.Logger

	mu     sync.Mutex
	base   context.Context // connections end when it is done
	stop   context.CancelFunc
	closed bool // set once Run starts waiting; no pumps start after it
	wg     sync.WaitGroup
}

// NewHub creates a Hub. limiter may be nil.
func NewHub(cfg Config, registry Registry, rooms Rooms, limiter domain.RateLimiter, logger *slog.Logger) *Hub {
	h := &Hub{
		cfg:      cfg,
		registry: registry,
		rooms:    rooms,
		limiter:  limiter,
		logger:   logger.With(slog.String("component", "ws")),
	}
	h.base, h.stop = context.WithCancel(context.Background())
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || middleware.OriginAllowed(cfg.AllowedOrigins, origin)
		},
	}
	return h
}

// Run blocks until ctx is cancelled, then ends every connection and waits
// for their pumps to finish.
func (h *Hub) Run(ctx context.Context) error {
	<-ctx.Done()
	h.mu.Lock()
	h.closed = true
	h.stop()
	h.mu.Unlock()
	h.wg.Wait()
	return nil
}

// clientFrame is what clients send.
type clientFrame struct {
	Action    string `json:"action"` // join, leave, ping
	AuctionID string `json:"auction_id"`
}

// serverFrame answers a clientFrame. Domain events use domain.Event.
type serverFrame struct {
	Type      string `json:"type"` // joined, left, pong, error
	AuctionID string `json:"auctionId,omitempty"`
	Error     string `json:"error,omitempty"`
}

// HandleWS upgrades the request after checking the per-IP connect budget.
// GET /ws?user_id=...
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		http.Error(w, `{"error":"user_id is required"}`, http.StatusBadRequest)
		return
	}

	if h.limiter != nil && h.cfg.ConnectLimit > 0 {
		ip := middleware.ClientIP(r)
		ok, err := h.limiter.Allow(r.Context(), domain.RateLimitKey(ip, "connect"), h.cfg.ConnectLimit, h.cfg.ConnectWindow)
		switch {
		case err != nil:
			h.logger.WarnContext(r.Context(), "ws: rate limiter unavailable", slog.String("error", err.Error()))
		case !ok:
			w.Header().Set("Content-Type", "application/json; charset=utf-8")
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"error":"too many attempts, slow down"}`))
			return
		}
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		http.Error(w, `{"error":"shutting down"}`, http.StatusServiceUnavailable)
		return
	}
	h.wg.Add(2)
	base := h.base
	h.mu.Unlock()

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.wg.Add(-2)
		h.logger.WarnContext(r.Context(), "ws: upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &client{
		id:   uuid.NewString(),
		user: userID,
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBufferSize),
		done: make(chan struct{}),
	}

	ctx, cancel := context.WithCancel(base)
	h.registry.Register(ctx, c)

	go func() {
		defer h.wg.Done()
		c.writePump(ctx)
	}()
	go func() {
		defer h.wg.Done()
		defer cancel()
		c.readPump(ctx)
	}()
}

// client is one WebSocket connection. It implements fanout.Conn.
type client struct {
	id   string
	user string
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once
}

func (c *client) ID() string     { return c.id }
func (c *client) UserID() string { return c.user }

// Send queues frame; a full buffer drops it.
func (c *client) Send(frame []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- frame:
		return true
	default:
		c.hub.logger.Warn("ws: dropping frame for slow client",
			slog.String("conn_id", c.id),
			slog.String("user_id", c.user),
		)
		return false
	}
}

func (c *client) close() {
	c.once.Do(func() { close(c.done) })
}

func (c *client) readPump(ctx context.Context) {
	defer func() {
		c.close()
		// Unregister must run even though ctx is cancelling.
		c.hub.registry.Unregister(context.WithoutCancel(ctx), c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		c.hub.registry.Touch(ctx, c.user)
		return nil
	})

	// Unblock ReadMessage on shutdown.
	go func() {
		select {
		case <-ctx.Done():
			c.conn.SetReadDeadline(time.Now())
		case <-c.done:
		}
	}()

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) && ctx.Err() == nil {
				c.hub.logger.Debug("ws: unexpected close", slog.String("error", err.Error()))
			}
			return
		}
		c.hub.registry.Touch(ctx, c.user)

		var f clientFrame
		if err := json.Unmarshal(message, &f); err != nil {
			c.reply(serverFrame{Type: "error", Error: "malformed frame"})
			continue
		}
		c.handle(ctx, f)
	}
}

func (c *client) handle(ctx context.Context, f clientFrame) {
	switch f.Action {
	case "ping":
		c.reply(serverFrame{Type: "pong"})
	case "join":
		if f.AuctionID == "" {
			c.reply(serverFrame{Type: "error", Error: "auction_id is required"})
			return
		}
		if err := c.hub.rooms.Join(ctx, c.id, f.AuctionID, time.Now()); err != nil {
			c.reply(serverFrame{Type: "error", AuctionID: f.AuctionID, Error: joinError(err)})
			return
		}
		c.reply(serverFrame{Type: "joined", AuctionID: f.AuctionID})
	case "leave":
		if err := c.hub.rooms.Leave(ctx, c.id, f.AuctionID); err != nil {
			c.hub.logger.WarnContext(ctx, "ws: leave failed",
				slog.String("conn_id", c.id),
				slog.String("auction_id", f.AuctionID),
				slog.String("error", err.Error()),
			)
		}
		c.reply(serverFrame{Type: "left", AuctionID: f.AuctionID})
	default:
		c.reply(serverFrame{Type: "error", Error: "unknown action"})
	}
}

func joinError(err error) string {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return "auction not found"
	case errors.Is(err, domain.ErrAuctionNotActive):
		return "auction has ended"
	default:
		return "join failed, please retry"
	}
}

func (c *client) reply(f serverFrame) {
	data, err := json.Marshal(f)
	if err != nil {
		return
	}
	c.Send(data)
}

func (c *client) writePump(ctx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			return
		case <-ctx.Done():
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
			return
		case frame := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
