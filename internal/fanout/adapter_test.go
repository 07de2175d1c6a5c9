package fanout

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/livebid/internal/cache/redis"
	"github.com/alanyoungcy/livebid/internal/domain"
)

type fakeConn struct {
	id, user string
	mu       sync.Mutex
	frames   [][]byte
}

func newConn(id, user string) *fakeConn { return &fakeConn{id: id, user: user} }

func (c *fakeConn) ID() string     { return c.id }
func (c *fakeConn) UserID() string { return c.user }

func (c *fakeConn) Send(frame []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, frame)
	return true
}

func (c *fakeConn) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.frames)
}

func (c *fakeConn) last(t *testing.T) domain.Event {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	require.NotEmpty(t, c.frames)
	var ev domain.Event
	require.NoError(t, json.Unmarshal(c.frames[len(c.frames)-1], &ev))
	return ev
}

type node struct {
	adapter   *Adapter
	presence  *redis.PresenceTracker
	directory *redis.ClientDirectory
	rooms     *redis.RoomRegistry
	cancel    context.CancelFunc
	done      chan error
}

func startNode(t *testing.T, mr *miniredis.Miniredis, nodeID string, codec PayloadCodec) *node {
	t.Helper()

	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	c := redis.Wrap(rdb)

	n := &node{
		presence:  redis.NewPresenceTracker(c),
		directory: redis.NewClientDirectory(c),
		rooms:     redis.NewRoomRegistry(c),
		done:      make(chan error, 1),
	}
	n.adapter = New(Config{NodeID: nodeID, HeartbeatInterval: time.Hour},
		redis.NewSignalBus(c), n.presence, n.directory, n.rooms, codec,
		slog.New(slog.NewTextHandler(io.Discard, nil)))

	ctx, cancel := context.WithCancel(context.Background())
	n.cancel = cancel
	go func() { n.done <- n.adapter.Run(ctx) }()
	t.Cleanup(func() { n.stop(t) })

	select {
	case <-n.adapter.Ready():
	case <-time.After(2 * time.Second):
		t.Fatalf("node %s did not subscribe", nodeID)
	}
	return n
}

func (n *node) stop(t *testing.T) {
	t.Helper()
	if n.cancel == nil {
		return
	}
	n.cancel()
	n.cancel = nil
	select {
	case err := <-n.done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("adapter did not stop")
	}
}

func testEvent(t *testing.T, typ domain.EventType, auctionID string) domain.Event {
	t.Helper()
	ev, err := domain.NewEvent(typ, auctionID, map[string]string{"auctionId": auctionID}, time.Now())
	require.NoError(t, err)
	return ev
}

func joinRoom(t *testing.T, n *node, c *fakeConn, roomID string) {
	t.Helper()
	require.NoError(t, n.adapter.JoinRoom(context.Background(), c.ID(), roomID, time.Now().Add(time.Hour)))
}

// settle gives in-flight pub/sub messages time to arrive so duplicate
// deliveries would be observed.
func settle() { time.Sleep(150 * time.Millisecond) }

func TestAdapter_RoomDeliveryAcrossNodes(t *testing.T) {
	mr := miniredis.RunT(t)
	a := startNode(t, mr, "node-a", nil)
	b := startNode(t, mr, "node-b", nil)
	ctx := context.Background()

	alice := newConn("c-alice", "alice")
	bob := newConn("c-bob", "bob")
	carol := newConn("c-carol", "carol")
	a.adapter.Register(ctx, alice)
	b.adapter.Register(ctx, bob)
	b.adapter.Register(ctx, carol)
	joinRoom(t, a, alice, "auc-1")
	joinRoom(t, b, bob, "auc-1")
	joinRoom(t, b, carol, "auc-2")

	ev := testEvent(t, domain.EventBidAccepted, "auc-1")
	require.NoError(t, a.adapter.SendToRoom(ctx, "auc-1", ev))

	require.Eventually(t, func() bool { return bob.count() == 1 }, 2*time.Second, 10*time.Millisecond)
	settle()

	require.Equal(t, 1, alice.count(), "origin node must not re-deliver its own publish")
	require.Equal(t, 1, bob.count())
	require.Zero(t, carol.count(), "non-members receive nothing")

	got := bob.last(t)
	require.Equal(t, domain.EventBidAccepted, got.Type)
	require.Equal(t, "auc-1", got.AuctionID)

	members, err := a.rooms.Members(ctx, "auc-1")
	require.NoError(t, err)
	require.Equal(t, []string{"alice", "bob"}, members)
}

func TestAdapter_BroadcastReachesEveryClientOnce(t *testing.T) {
	mr := miniredis.RunT(t)
	a := startNode(t, mr, "node-a", nil)
	b := startNode(t, mr, "node-b", nil)
	ctx := context.Background()

	alice := newConn("c-alice", "alice")
	bob := newConn("c-bob", "bob")
	a.adapter.Register(ctx, alice)
	b.adapter.Register(ctx, bob)

	require.NoError(t, b.adapter.Broadcast(ctx, testEvent(t, domain.EventNotification, "auc-9")))

	require.Eventually(t, func() bool { return alice.count() == 1 }, 2*time.Second, 10*time.Millisecond)
	settle()
	require.Equal(t, 1, alice.count())
	require.Equal(t, 1, bob.count())
}

func TestAdapter_DirectMessageFollowsClientAddress(t *testing.T) {
	mr := miniredis.RunT(t)
	a := startNode(t, mr, "node-a", nil)
	b := startNode(t, mr, "node-b", nil)
	ctx := context.Background()

	dave := newConn("c-dave", "dave")
	b.adapter.Register(ctx, dave)

	nodeID, err := a.directory.Lookup(ctx, "dave")
	require.NoError(t, err)
	require.Equal(t, "node-b", nodeID)

	require.NoError(t, a.adapter.SendToUser(ctx, "dave", testEvent(t, domain.EventNotification, "auc-1")))
	require.Eventually(t, func() bool { return dave.count() == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, a.adapter.SendToUser(ctx, "nobody", testEvent(t, domain.EventNotification, "auc-1")),
		"offline users are skipped silently")

	// A stale address naming a third node must not be delivered by node-b.
	require.NoError(t, a.directory.Set(ctx, "dave", "node-c", time.Minute))
	require.NoError(t, a.adapter.SendToUser(ctx, "dave", testEvent(t, domain.EventNotification, "auc-1")))
	settle()
	require.Equal(t, 1, dave.count())
}

func TestAdapter_LocalDirectMessageSkipsPubSub(t *testing.T) {
	mr := miniredis.RunT(t)
	a := startNode(t, mr, "node-a", nil)
	ctx := context.Background()

	erin1 := newConn("c-erin-1", "erin")
	erin2 := newConn("c-erin-2", "erin")
	a.adapter.Register(ctx, erin1)
	a.adapter.Register(ctx, erin2)

	require.NoError(t, a.adapter.SendToUser(ctx, "erin", testEvent(t, domain.EventNotification, "auc-1")))
	settle()
	require.Equal(t, 1, erin1.count())
	require.Equal(t, 1, erin2.count())
}

func TestAdapter_UnregisterReleasesAddressAndRooms(t *testing.T) {
	mr := miniredis.RunT(t)
	a := startNode(t, mr, "node-a", nil)
	ctx := context.Background()

	tab1 := newConn("c-1", "frank")
	tab2 := newConn("c-2", "frank")
	a.adapter.Register(ctx, tab1)
	a.adapter.Register(ctx, tab2)
	joinRoom(t, a, tab1, "auc-1")
	joinRoom(t, a, tab2, "auc-1")

	a.adapter.Unregister(ctx, tab1)
	members, err := a.rooms.Members(ctx, "auc-1")
	require.NoError(t, err)
	require.Equal(t, []string{"frank"}, members, "another tab still watches the room")
	_, err = a.directory.Lookup(ctx, "frank")
	require.NoError(t, err)

	a.adapter.Unregister(ctx, tab2)
	members, err = a.rooms.Members(ctx, "auc-1")
	require.NoError(t, err)
	require.Empty(t, members)
	_, err = a.directory.Lookup(ctx, "frank")
	require.ErrorIs(t, err, domain.ErrNotFound)

	require.ErrorIs(t, a.adapter.JoinRoom(ctx, "c-1", "auc-1", time.Now().Add(time.Hour)), domain.ErrNotFound)
}

func TestAdapter_LeaveRoomStopsDelivery(t *testing.T) {
	mr := miniredis.RunT(t)
	a := startNode(t, mr, "node-a", nil)
	ctx := context.Background()

	gina := newConn("c-gina", "gina")
	a.adapter.Register(ctx, gina)
	joinRoom(t, a, gina, "auc-1")
	require.NoError(t, a.adapter.LeaveRoom(ctx, "c-gina", "auc-1"))

	require.NoError(t, a.adapter.SendToRoom(ctx, "auc-1", testEvent(t, domain.EventBidAccepted, "auc-1")))
	settle()
	require.Zero(t, gina.count())
}

func TestAdapter_PresenceLifecycle(t *testing.T) {
	mr := miniredis.RunT(t)
	a := startNode(t, mr, "node-a", nil)
	b := startNode(t, mr, "node-b", nil)
	ctx := context.Background()
	a.adapter.Register(ctx, newConn("c-1", "u1"))
	a.adapter.heartbeat(ctx)

	require.Eventually(t, func() bool {
		nodes, err := a.presence.Nodes(ctx)
		if err != nil || len(nodes) != 2 {
			return false
		}
		return nodes[0].NodeID == "node-a" && nodes[0].LocalClientCount == 1
	}, 2*time.Second, 20*time.Millisecond)

	b.stop(t)
	nodes, err := a.presence.Nodes(ctx)
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	require.Equal(t, "node-a", nodes[0].NodeID)
}

func TestAdapter_SealedPayloads(t *testing.T) {
	key := "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"
	codecA, err := NewSecretBoxCodec(key)
	require.NoError(t, err)
	codecB, err := NewSecretBoxCodec(key)
	require.NoError(t, err)

	mr := miniredis.RunT(t)
	a := startNode(t, mr, "node-a", codecA)
	b := startNode(t, mr, "node-b", codecB)
	ctx := context.Background()

	hank := newConn("c-hank", "hank")
	b.adapter.Register(ctx, hank)
	joinRoom(t, b, hank, "auc-1")

	require.NoError(t, a.adapter.SendToRoom(ctx, "auc-1", testEvent(t, domain.EventBidAccepted, "auc-1")))
	require.Eventually(t, func() bool { return hank.count() == 1 }, 2*time.Second, 10*time.Millisecond)
	require.Equal(t, "auc-1", hank.last(t).AuctionID)
}

// racingDirectory runs onRelease before delegating the first Release, the
// way a reconnect landing between Unregister's unlock and Release would.
type racingDirectory struct {
	domain.ClientDirectory
	onRelease func()
}

func (d *racingDirectory) Release(ctx context.Context, userID, nodeID string) error {
	if f := d.onRelease; f != nil {
		d.onRelease = nil
		f()
	}
	return d.ClientDirectory.Release(ctx, userID, nodeID)
}

func TestAdapter_ReconnectDuringUnregisterKeepsAddress(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	c := redis.Wrap(rdb)
	ctx := context.Background()

	dir := &racingDirectory{ClientDirectory: redis.NewClientDirectory(c)}
	a := New(Config{NodeID: "node-a", HeartbeatInterval: time.Hour},
		redis.NewSignalBus(c), redis.NewPresenceTracker(c), dir, redis.NewRoomRegistry(c), nil,
		slog.New(slog.NewTextHandler(io.Discard, nil)))

	oldTab := newConn("c-old", "ivy")
	newTab := newConn("c-new", "ivy")
	a.Register(ctx, oldTab)
	dir.onRelease = func() { a.Register(ctx, newTab) }

	a.Unregister(ctx, oldTab)

	nodeID, err := dir.Lookup(ctx, "ivy")
	require.NoError(t, err)
	require.Equal(t, "node-a", nodeID)
	require.Equal(t, 1, a.LocalClientCount())
}
