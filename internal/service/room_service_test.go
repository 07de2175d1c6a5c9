package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/livebid/internal/domain"
	"github.com/alanyoungcy/livebid/internal/store/memory"
)

// fakeMembership forwards joins to a RoomRegistry keyed by connection id.
type fakeMembership struct {
	mu    sync.Mutex
	rooms domain.RoomRegistry
	left  []string
}

func (m *fakeMembership) JoinRoom(ctx context.Context, connID, roomID string, expireAt time.Time) error {
	return m.rooms.Join(ctx, roomID, connID, expireAt)
}

func (m *fakeMembership) LeaveRoom(ctx context.Context, connID, roomID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.left = append(m.left, roomID+"/"+connID)
	return nil
}

func TestRoomService_JoinUsesAuctionEndPlusGrace(t *testing.T) {
	store := memory.NewStore()
	rooms := newFakeRooms()
	svc := NewRoomService(store, rooms, &fakeMembership{rooms: rooms}, 24*time.Hour, discardLogger())
	ctx := context.Background()
	a := seedAuction(t, store, "a1", auctionOpts{})

	require.NoError(t, svc.Join(ctx, "alice", "a1", t0))
	expireAt, ok := rooms.expiry("a1")
	require.True(t, ok)
	require.Equal(t, a.EndsAt.Add(24*time.Hour), expireAt)

	watchers, err := svc.Watchers(ctx, "a1")
	require.NoError(t, err)
	require.Equal(t, []string{"alice"}, watchers)

	err = svc.Join(ctx, "bob", "a1", a.EndsAt.Add(24*time.Hour))
	require.ErrorIs(t, err, domain.ErrAuctionNotActive, "rooms close after the grace period")

	err = svc.Join(ctx, "bob", "missing", t0)
	require.ErrorIs(t, err, domain.ErrNotFound)

	_, err = svc.Watchers(ctx, "missing")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRoomService_Leave(t *testing.T) {
	store := memory.NewStore()
	members := &fakeMembership{rooms: newFakeRooms()}
	svc := NewRoomService(store, newFakeRooms(), members, time.Hour, discardLogger())

	require.NoError(t, svc.Leave(context.Background(), "conn-1", "a1"))
	require.Equal(t, []string{"a1/conn-1"}, members.left)
}
