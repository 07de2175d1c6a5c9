package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/livebid/internal/domain"
)

func setupTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	return Wrap(rdb), mr
}

func TestRateLimiter_FixedWindow(t *testing.T) {
	c, mr := setupTestClient(t)
	rl := NewRateLimiter(c)
	ctx := context.Background()
	key := domain.RateLimitKey("user-1", "bid")

	for i := 0; i < 5; i++ {
		ok, err := rl.Allow(ctx, key, 5, time.Minute)
		require.NoError(t, err)
		require.True(t, ok, "call %d should be allowed", i+1)
	}

	ok, err := rl.Allow(ctx, key, 5, time.Minute)
	require.NoError(t, err)
	require.False(t, ok, "6th call inside the window must be rejected")

	require.Greater(t, mr.TTL("ratelimit:user-1:bid"), time.Duration(0))

	mr.FastForward(time.Minute)

	ok, err = rl.Allow(ctx, key, 5, time.Minute)
	require.NoError(t, err)
	require.True(t, ok, "counter resets after the window elapses")
}

func TestRateLimiter_KeysAreIndependent(t *testing.T) {
	c, _ := setupTestClient(t)
	rl := NewRateLimiter(c)
	ctx := context.Background()

	ok, err := rl.Allow(ctx, domain.RateLimitKey("a", "bid"), 1, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = rl.Allow(ctx, domain.RateLimitKey("a", "bid"), 1, time.Minute)
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = rl.Allow(ctx, domain.RateLimitKey("a", "connect"), 1, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestRateLimiter_SharedAcrossClients(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()

	newLimiter := func() *RateLimiter {
		rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { _ = rdb.Close() })
		return NewRateLimiter(Wrap(rdb))
	}
	nodeA, nodeB := newLimiter(), newLimiter()

	for i := 0; i < 3; i++ {
		ok, err := nodeA.Allow(ctx, "u:bid", 4, time.Minute)
		require.NoError(t, err)
		require.True(t, ok)
	}
	ok, err := nodeB.Allow(ctx, "u:bid", 4, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = nodeB.Allow(ctx, "u:bid", 4, time.Minute)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestPresenceTracker_ExpiresAfterTTL(t *testing.T) {
	c, mr := setupTestClient(t)
	pt := NewPresenceTracker(c)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, pt.Heartbeat(ctx, domain.NodePresence{NodeID: "node-a", LastHeartbeatAt: now, LocalClientCount: 3}, 60*time.Second))
	require.NoError(t, pt.Heartbeat(ctx, domain.NodePresence{NodeID: "node-b", LastHeartbeatAt: now}, 60*time.Second))

	mr.FastForward(59 * time.Second)
	// node-b keeps heartbeating, node-a does not.
	require.NoError(t, pt.Heartbeat(ctx, domain.NodePresence{NodeID: "node-b", LastHeartbeatAt: now.Add(59 * time.Second)}, 60*time.Second))

	nodes, err := pt.Nodes(ctx)
	require.NoError(t, err)
	require.Len(t, nodes, 2, "node-a must still be present before its TTL elapses")
	require.Equal(t, "node-a", nodes[0].NodeID)
	require.Equal(t, 3, nodes[0].LocalClientCount)

	mr.FastForward(time.Second)

	nodes, err = pt.Nodes(ctx)
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	require.Equal(t, "node-b", nodes[0].NodeID)
}

func TestPresenceTracker_Deregister(t *testing.T) {
	c, _ := setupTestClient(t)
	pt := NewPresenceTracker(c)
	ctx := context.Background()

	require.NoError(t, pt.Heartbeat(ctx, domain.NodePresence{NodeID: "node-a"}, time.Minute))
	require.NoError(t, pt.Deregister(ctx, "node-a"))

	nodes, err := pt.Nodes(ctx)
	require.NoError(t, err)
	require.Empty(t, nodes)
}

func TestClientDirectory_ReleaseOnlyOwnAddress(t *testing.T) {
	c, mr := setupTestClient(t)
	dir := NewClientDirectory(c)
	ctx := context.Background()

	_, err := dir.Lookup(ctx, "u1")
	require.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, dir.Set(ctx, "u1", "node-a", 300*time.Second))
	// The user reconnects to node-b before node-a notices the disconnect.
	require.NoError(t, dir.Set(ctx, "u1", "node-b", 300*time.Second))
	require.NoError(t, dir.Release(ctx, "u1", "node-a"))

	nodeID, err := dir.Lookup(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, "node-b", nodeID)

	require.NoError(t, dir.Release(ctx, "u1", "node-b"))
	_, err = dir.Lookup(ctx, "u1")
	require.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, dir.Set(ctx, "u2", "node-a", 300*time.Second))
	mr.FastForward(300 * time.Second)
	_, err = dir.Lookup(ctx, "u2")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRoomRegistry_MembershipAndExpiry(t *testing.T) {
	c, mr := setupTestClient(t)
	rooms := NewRoomRegistry(c)
	ctx := context.Background()
	expireAt := time.Now().Add(2 * time.Hour)

	require.NoError(t, rooms.Join(ctx, "auc-1", "bob", expireAt))
	require.NoError(t, rooms.Join(ctx, "auc-1", "alice", expireAt))
	require.NoError(t, rooms.Join(ctx, "auc-1", "alice", expireAt))
	require.NoError(t, rooms.Join(ctx, "auc-2", "carol", expireAt))

	members, err := rooms.Members(ctx, "auc-1")
	require.NoError(t, err)
	require.Equal(t, []string{"alice", "bob"}, members)

	require.NoError(t, rooms.Leave(ctx, "auc-1", "bob"))
	members, err = rooms.Members(ctx, "auc-1")
	require.NoError(t, err)
	require.Equal(t, []string{"alice"}, members)

	require.NoError(t, rooms.Expire(ctx, "auc-1", time.Now().Add(time.Minute)))
	mr.FastForward(2 * time.Minute)

	members, err = rooms.Members(ctx, "auc-1")
	require.NoError(t, err)
	require.Empty(t, members)

	members, err = rooms.Members(ctx, "auc-2")
	require.NoError(t, err)
	require.Equal(t, []string{"carol"}, members)
}

func TestLockManager_ExclusiveUntilUnlock(t *testing.T) {
	c, _ := setupTestClient(t)
	lm := NewLockManager(c)
	ctx := context.Background()

	unlock, err := lm.Acquire(ctx, "lifecycle:sweep", time.Minute)
	require.NoError(t, err)

	_, err = lm.Acquire(ctx, "lifecycle:sweep", time.Minute)
	require.ErrorIs(t, err, domain.ErrLockHeld)

	unlock()
	unlock()

	unlock2, err := lm.Acquire(ctx, "lifecycle:sweep", time.Minute)
	require.NoError(t, err)
	unlock2()
}

func TestSignalBus_PublishSubscribe(t *testing.T) {
	c, _ := setupTestClient(t)
	bus := NewSignalBus(c)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := bus.Subscribe(ctx, "fanout:room")
	require.NoError(t, err)

	require.NoError(t, bus.Publish(ctx, "fanout:room", []byte(`{"x":1}`)))

	select {
	case got := <-ch:
		require.JSONEq(t, `{"x":1}`, string(got))
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for published payload")
	}

	cancel()
	require.Eventually(t, func() bool {
		select {
		case _, ok := <-ch:
			return !ok
		default:
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)
}
