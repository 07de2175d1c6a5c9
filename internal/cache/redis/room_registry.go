package redis

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/alanyoungcy/livebid/internal/domain"
	"github.com/redis/go-redis/v9"
)

// RoomRegistry implements domain.RoomRegistry with one Redis set per
// auction. The set carries an absolute expiry so membership outlives the
// auction by a grace period and then disappears on its own.
type RoomRegistry struct {
	rdb *redis.Client
}

// NewRoomRegistry creates a RoomRegistry backed by the given Client.
func NewRoomRegistry(c *Client) *RoomRegistry {
	return &RoomRegistry{rdb: c.Underlying()}
}

func roomMembersKey(auctionID string) string {
	return "room:" + auctionID + ":members"
}

// Join adds userID to the auction's membership set and moves the set's
// expiry to expireAt.
func (r *RoomRegistry) Join(ctx context.Context, auctionID, userID string, expireAt time.Time) error {
	key := roomMembersKey(auctionID)
	_, err := r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SAdd(ctx, key, userID)
		pipe.ExpireAt(ctx, key, expireAt)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis: join room %s: %w", auctionID, err)
	}
	return nil
}

// Leave removes userID from the auction's membership set.
func (r *RoomRegistry) Leave(ctx context.Context, auctionID, userID string) error {
	if err := r.rdb.SRem(ctx, roomMembersKey(auctionID), userID).Err(); err != nil {
		return fmt.Errorf("redis: leave room %s: %w", auctionID, err)
	}
	return nil
}

// Members returns the cross-node membership of the auction, sorted.
func (r *RoomRegistry) Members(ctx context.Context, auctionID string) ([]string, error) {
	members, err := r.rdb.SMembers(ctx, roomMembersKey(auctionID)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: room members %s: %w", auctionID, err)
	}
	sort.Strings(members)
	return members, nil
}

// Expire pins the membership set's expiry to expireAt. It is a no-op when
// the set does not exist.
func (r *RoomRegistry) Expire(ctx context.Context, auctionID string, expireAt time.Time) error {
	if err := r.rdb.ExpireAt(ctx, roomMembersKey(auctionID), expireAt).Err(); err != nil {
		return fmt.Errorf("redis: expire room %s: %w", auctionID, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.RoomRegistry = (*RoomRegistry)(nil)
