package domain

import (
	"context"
	"time"
)

// NodePresence is the heartbeat record a node keeps in the shared registry.
type NodePresence struct {
	NodeID           string    `json:"nodeId"`
	LastHeartbeatAt  time.Time `json:"lastHeartbeatAt"`
	LocalClientCount int       `json:"localClientCount"`
	StartedAt        time.Time `json:"startedAt"`
}

// PresenceTracker registers live nodes with a TTL.
type PresenceTracker interface {
	Heartbeat(ctx context.Context, p NodePresence, ttl time.Duration) error
	Deregister(ctx context.Context, nodeID string) error
	Nodes(ctx context.Context) ([]NodePresence, error)
}

// ClientDirectory maps users to the node holding their live connection.
type ClientDirectory interface {
	Set(ctx context.Context, userID, nodeID string, ttl time.Duration) error
	Lookup(ctx context.Context, userID string) (nodeID string, err error)
	// Release removes the mapping only while it still points at nodeID.
	Release(ctx context.Context, userID, nodeID string) error
}

// RoomRegistry tracks which users watch which auction across all nodes.
type RoomRegistry interface {
	Join(ctx context.Context, auctionID, userID string, expireAt time.Time) error
	Leave(ctx context.Context, auctionID, userID string) error
	Members(ctx context.Context, auctionID string) ([]string, error)
	Expire(ctx context.Context, auctionID string, expireAt time.Time) error
}

// RateLimiter provides distributed fixed-window rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// RateLimitKey builds the counter key for identifier performing action.
func RateLimitKey(identifier, action string) string {
	return identifier + ":" + action
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// SignalBus provides cross-node publish/subscribe.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}
