// Package fanout delivers real-time events to clients connected to any node.
// Each node keeps its own connections and room membership in memory and
// relays everything else through Redis pub/sub.
package fanout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/livebid/internal/domain"
)

// Conn is a live client connection held by this node.
type Conn interface {
	ID() string
	UserID() string
	// Send queues frame without blocking and reports whether it was queued.
	Send(frame []byte) bool
}

// Config tunes the adapter.
type Config struct {
	NodeID            string
	HeartbeatInterval time.Duration
	PresenceTTL       time.Duration
	ClientTTL         time.Duration
}

func (c *Config) applyDefaults() {
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 20 * time.Second
	}
	if c.PresenceTTL <= 0 {
		c.PresenceTTL = 60 * time.Second
	}
	if c.ClientTTL <= 0 {
		c.ClientTTL = 300 * time.Second
	}
}

// Adapter is the FanoutAdapter of one node.
type Adapter struct {
	cfg       Config
	bus       domain.SignalBus
	presence  domain.PresenceTracker
	directory domain.ClientDirectory
	rooms     domain.RoomRegistry
	codec     PayloadCodec
	startedAt time.Time
	ready     chan struct{}
	logger    *slog.Logger

	mu        sync.RWMutex
	conns     map[string]Conn                // conn id -> conn
	byUser    map[string]map[string]struct{} // user id -> conn ids
	byRoom    map[string]map[string]struct{} // room id -> conn ids
	connRooms map[string]map[string]struct{} // conn id -> room ids
}

// New creates an Adapter. codec may be nil for PlainCodec.
func New(
	cfg Config,
	bus domain.SignalBus,
	presence domain.PresenceTracker,
	directory domain.ClientDirectory,
	rooms domain.RoomRegistry,
	codec PayloadCodec,
	logger *slog.Logger,
) *Adapter {
	cfg.applyDefaults()
	if codec == nil {
		codec = PlainCodec{}
	}
	return &Adapter{
		cfg:       cfg,
		bus:       bus,
		presence:  presence,
		directory: directory,
		rooms:     rooms,
		codec:     codec,
		startedAt: time.Now().UTC(),
		ready:     make(chan struct{}),
		logger:    logger.With(slog.String("component", "fanout"), slog.String("node_id", cfg.NodeID)),
		conns:     make(map[string]Conn),
		byUser:    make(map[string]map[string]struct{}),
		byRoom:    make(map[string]map[string]struct{}),
		connRooms: make(map[string]map[string]struct{}),
	}
}

// NodeID returns this node's identifier.
func (a *Adapter) NodeID() string {
	return a.cfg.NodeID
}

// Ready is closed once Run has subscribed to every fan-out channel.
func (a *Adapter) Ready() <-chan struct{} {
	return a.ready
}

// LocalClientCount returns the number of connections held by this node.
func (a *Adapter) LocalClientCount() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.conns)
}

// Register adds a connection and points the user's client address at this
// node.
func (a *Adapter) Register(ctx context.Context, c Conn) {
	a.mu.Lock()
	a.conns[c.ID()] = c
	addToSet(a.byUser, c.UserID(), c.ID())
	a.mu.Unlock()

	a.setAddress(ctx, c.UserID())
	a.logger.InfoContext(ctx, "fanout: client registered",
		slog.String("conn_id", c.ID()),
		slog.String("user_id", c.UserID()),
		slog.Int("local_clients", a.LocalClientCount()),
	)
}

// Unregister removes a connection and its local room memberships. When it
// was the user's last connection on this node the user leaves those rooms
// and the client address is released.
func (a *Adapter) Unregister(ctx context.Context, c Conn) {
	connID, userID := c.ID(), c.UserID()

	a.mu.Lock()
	if _, ok := a.conns[connID]; !ok {
		a.mu.Unlock()
		return
	}
	delete(a.conns, connID)
	removeFromSet(a.byUser, userID, connID)
	var vacated []string
	for roomID := range a.connRooms[connID] {
		removeFromSet(a.byRoom, roomID, connID)
		if !a.userInRoomLocked(userID, roomID) {
			vacated = append(vacated, roomID)
		}
	}
	delete(a.connRooms, connID)
	lastConn := len(a.byUser[userID]) == 0
	a.mu.Unlock()

	for _, roomID := range vacated {
		if err := a.rooms.Leave(ctx, roomID, userID); err != nil {
			a.warn(ctx, "fanout: leave room on disconnect", err, slog.String("room_id", roomID))
		}
	}
	if lastConn {
		if err := a.directory.Release(ctx, userID, a.cfg.NodeID); err != nil {
			a.warn(ctx, "fanout: release client address", err, slog.String("user_id", userID))
		}
		// A new connection for the user may have registered while the
		// address was being released.
		a.mu.Lock()
		back := len(a.byUser[userID]) > 0
		a.mu.Unlock()
		if back {
			a.setAddress(ctx, userID)
		}
	}
	a.logger.InfoContext(ctx, "fanout: client unregistered",
		slog.String("conn_id", connID),
		slog.String("user_id", userID),
	)
}

// JoinRoom subscribes a local connection to roomID and records the user in
// the shared room membership until expireAt.
func (a *Adapter) JoinRoom(ctx context.Context, connID, roomID string, expireAt time.Time) error {
	a.mu.Lock()
	c, ok := a.conns[connID]
	if !ok {
		a.mu.Unlock()
		return fmt.Errorf("fanout: join room %s: connection %s: %w", roomID, connID, domain.ErrNotFound)
	}
	addToSet(a.byRoom, roomID, connID)
	addToSet(a.connRooms, connID, roomID)
	a.mu.Unlock()

	if err := a.rooms.Join(ctx, roomID, c.UserID(), expireAt); err != nil {
		a.warn(ctx, "fanout: record room membership", err, slog.String("room_id", roomID))
	}
	return nil
}

// LeaveRoom unsubscribes a local connection from roomID.
func (a *Adapter) LeaveRoom(ctx context.Context, connID, roomID string) error {
	a.mu.Lock()
	c, ok := a.conns[connID]
	if !ok {
		a.mu.Unlock()
		return fmt.Errorf("fanout: leave room %s: connection %s: %w", roomID, connID, domain.ErrNotFound)
	}
	removeFromSet(a.byRoom, roomID, connID)
	removeFromSet(a.connRooms, connID, roomID)
	stillIn := a.userInRoomLocked(c.UserID(), roomID)
	a.mu.Unlock()

	if !stillIn {
		if err := a.rooms.Leave(ctx, roomID, c.UserID()); err != nil {
			a.warn(ctx, "fanout: remove room membership", err, slog.String("room_id", roomID))
		}
	}
	return nil
}

// Touch refreshes the client address of a user connected to this node.
func (a *Adapter) Touch(ctx context.Context, userID string) {
	a.mu.RLock()
	_, local := a.byUser[userID]
	a.mu.RUnlock()
	if local {
		a.setAddress(ctx, userID)
	}
}

// Broadcast delivers ev to every client on every node.
func (a *Adapter) Broadcast(ctx context.Context, ev domain.Event) error {
	frame, err := encodeFrame(ev)
	if err != nil {
		return err
	}

	a.deliverAll(frame)
	a.publish(ctx, ChannelBroadcast, wireMessage{}, frame)
	return nil
}

// SendToRoom delivers ev to every member of roomID on every node.
func (a *Adapter) SendToRoom(ctx context.Context, roomID string, ev domain.Event) error {
	frame, err := encodeFrame(ev)
	if err != nil {
		return err
	}

	a.deliverRoom(roomID, frame)
	a.publish(ctx, ChannelRoom, wireMessage{RoomID: roomID}, frame)
	return nil
}

// SendToUser delivers ev to userID's connections. Local connections are
// served directly; otherwise the message is addressed to the node named by
// the user's client address. Users with no address are offline and the
// event is dropped.
func (a *Adapter) SendToUser(ctx context.Context, userID string, ev domain.Event) error {
	frame, err := encodeFrame(ev)
	if err != nil {
		return err
	}

	if a.deliverUser(userID, frame) > 0 {
		return nil
	}

	nodeID, err := a.directory.Lookup(ctx, userID)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		a.logger.DebugContext(ctx, "fanout: user offline, dropping direct message", slog.String("user_id", userID))
		return nil
	case err != nil:
		a.warn(ctx, "fanout: lookup client address", err, slog.String("user_id", userID))
		return nil
	case nodeID == a.cfg.NodeID:
		// Stale address left behind by a connection this node already lost.
		return nil
	}

	a.publish(ctx, ChannelDirect, wireMessage{UserID: userID, TargetNodeID: nodeID}, frame)
	return nil
}

// Run subscribes to the fan-out channels and keeps this node's presence
// alive until ctx is cancelled. Presence is deregistered on the way out.
func (a *Adapter) Run(ctx context.Context) error {
	channels := []string{ChannelBroadcast, ChannelRoom, ChannelDirect}
	subs := make(map[string]<-chan []byte, len(channels))
	for _, ch := range channels {
		msgs, err := a.bus.Subscribe(ctx, ch)
		if err != nil {
			return fmt.Errorf("fanout: subscribe %s: %w", ch, err)
		}
		subs[ch] = msgs
	}
	close(a.ready)
	a.logger.InfoContext(ctx, "fanout: subscribed", slog.Any("channels", channels))

	g, gctx := errgroup.WithContext(ctx)
	for ch, msgs := range subs {
		g.Go(func() error {
			a.consume(gctx, ch, msgs)
			return nil
		})
	}
	g.Go(func() error {
		a.heartbeatLoop(gctx)
		return nil
	})
	err := g.Wait()

	deregCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if derr := a.presence.Deregister(deregCtx, a.cfg.NodeID); derr != nil {
		a.warn(deregCtx, "fanout: deregister presence", derr)
	}
	return err
}

func (a *Adapter) consume(ctx context.Context, channel string, msgs <-chan []byte) {
	for {
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-msgs:
			if !ok {
				if ctx.Err() == nil {
					a.logger.WarnContext(ctx, "fanout: subscription closed", slog.String("channel", channel))
				}
				return
			}
			a.handle(ctx, channel, raw)
		}
	}
}

// handle delivers one message received from another node.
func (a *Adapter) handle(ctx context.Context, channel string, raw []byte) {
	var msg wireMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		a.warn(ctx, "fanout: decode wire message", err, slog.String("channel", channel))
		return
	}
	if msg.OriginNodeID == a.cfg.NodeID {
		return
	}

	frame, err := a.codec.Open(msg.Payload)
	if err != nil {
		a.warn(ctx, "fanout: open payload", err,
			slog.String("channel", channel),
			slog.String("origin_node_id", msg.OriginNodeID),
		)
		return
	}

	switch channel {
	case ChannelBroadcast:
		a.deliverAll(frame)
	case ChannelRoom:
		a.deliverRoom(msg.RoomID, frame)
	case ChannelDirect:
		if msg.TargetNodeID != "" && msg.TargetNodeID != a.cfg.NodeID {
			return
		}
		a.deliverUser(msg.UserID, frame)
	}
}

func (a *Adapter) heartbeatLoop(ctx context.Context) {
	a.heartbeat(ctx)

	ticker := time.NewTicker(a.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.heartbeat(ctx)
		}
	}
}

// heartbeat refreshes this node's presence record and the client address
// of every locally connected user.
func (a *Adapter) heartbeat(ctx context.Context) {
	a.mu.RLock()
	users := make([]string, 0, len(a.byUser))
	for userID := range a.byUser {
		users = append(users, userID)
	}
	count := len(a.conns)
	a.mu.RUnlock()

	p := domain.NodePresence{
		NodeID:           a.cfg.NodeID,
		LastHeartbeatAt:  time.Now().UTC(),
		LocalClientCount: count,
		StartedAt:        a.startedAt,
	}
	if err := a.presence.Heartbeat(ctx, p, a.cfg.PresenceTTL); err != nil {
		a.warn(ctx, "fanout: presence heartbeat", err)
	}
	for _, userID := range users {
		a.setAddress(ctx, userID)
	}
}

func (a *Adapter) setAddress(ctx context.Context, userID string) {
	if err := a.directory.Set(ctx, userID, a.cfg.NodeID, a.cfg.ClientTTL); err != nil {
		a.warn(ctx, "fanout: set client address", err, slog.String("user_id", userID))
	}
}

// publish seals frame into msg and publishes it. Failures are logged: local
// delivery already happened and remote nodes simply miss the event.
func (a *Adapter) publish(ctx context.Context, channel string, msg wireMessage, frame []byte) {
	payload, err := a.codec.Seal(frame)
	if err != nil {
		a.warn(ctx, "fanout: seal payload", err, slog.String("channel", channel))
		return
	}
	msg.OriginNodeID = a.cfg.NodeID
	msg.Timestamp = time.Now().UTC()
	msg.Payload = payload

	raw, err := json.Marshal(msg)
	if err != nil {
		a.warn(ctx, "fanout: encode wire message", err, slog.String("channel", channel))
		return
	}
	if err := a.bus.Publish(ctx, channel, raw); err != nil {
		a.warn(ctx, "fanout: publish", err, slog.String("channel", channel))
	}
}

func (a *Adapter) deliverAll(frame []byte) {
	a.mu.RLock()
	targets := make([]Conn, 0, len(a.conns))
	for _, c := range a.conns {
		targets = append(targets, c)
	}
	a.mu.RUnlock()
	a.send(targets, frame)
}

func (a *Adapter) deliverRoom(roomID string, frame []byte) {
	a.mu.RLock()
	targets := a.connsLocked(a.byRoom[roomID])
	a.mu.RUnlock()
	a.send(targets, frame)
}

func (a *Adapter) deliverUser(userID string, frame []byte) int {
	a.mu.RLock()
	targets := a.connsLocked(a.byUser[userID])
	a.mu.RUnlock()
	a.send(targets, frame)
	return len(targets)
}

func (a *Adapter) connsLocked(ids map[string]struct{}) []Conn {
	out := make([]Conn, 0, len(ids))
	for id := range ids {
		if c, ok := a.conns[id]; ok {
			out = append(out, c)
		}
	}
	return out
}

func (a *Adapter) send(targets []Conn, frame []byte) {
	for _, c := range targets {
		if !c.Send(frame) {
			a.logger.Warn("fanout: dropping frame for slow client",
				slog.String("conn_id", c.ID()),
				slog.String("user_id", c.UserID()),
			)
		}
	}
}

func (a *Adapter) userInRoomLocked(userID, roomID string) bool {
	for connID := range a.byUser[userID] {
		if _, ok := a.connRooms[connID][roomID]; ok {
			return true
		}
	}
	return false
}

func (a *Adapter) warn(ctx context.Context, msg string, err error, attrs ...any) {
	attrs = append(attrs, slog.String("error", err.Error()))
	a.logger.WarnContext(ctx, msg, attrs...)
}

func addToSet(m map[string]map[string]struct{}, key, member string) {
	set, ok := m[key]
	if !ok {
		set = make(map[string]struct{})
		m[key] = set
	}
	set[member] = struct{}{}
}

func removeFromSet(m map[string]map[string]struct{}, key, member string) {
	set, ok := m[key]
	if !ok {
		return
	}
	delete(set, member)
	if len(set) == 0 {
		delete(m, key)
	}
}
