package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/alanyoungcy/livebid/internal/domain"
	"github.com/redis/go-redis/v9"
)

const nodeKeyPrefix = "node:"

// scanBatch is the COUNT hint for SCAN when listing nodes.
const scanBatch = 100

// PresenceTracker implements domain.PresenceTracker with one expiring key per
// node. A node that stops heartbeating disappears when its key expires.
type PresenceTracker struct {
	rdb *redis.Client
}

// NewPresenceTracker creates a PresenceTracker backed by the given Client.
func NewPresenceTracker(c *Client) *PresenceTracker {
	return &PresenceTracker{rdb: c.Underlying()}
}

func nodeKey(nodeID string) string {
	return nodeKeyPrefix + nodeID
}

// Heartbeat writes the node's presence record and resets its TTL.
func (pt *PresenceTracker) Heartbeat(ctx context.Context, p domain.NodePresence, ttl time.Duration) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("redis: marshal presence %s: %w", p.NodeID, err)
	}
	if err := pt.rdb.Set(ctx, nodeKey(p.NodeID), data, ttl).Err(); err != nil {
		return fmt.Errorf("redis: heartbeat %s: %w", p.NodeID, err)
	}
	return nil
}

// Deregister removes the node's presence record immediately.
func (pt *PresenceTracker) Deregister(ctx context.Context, nodeID string) error {
	if err := pt.rdb.Del(ctx, nodeKey(nodeID)).Err(); err != nil {
		return fmt.Errorf("redis: deregister %s: %w", nodeID, err)
	}
	return nil
}

// Nodes returns every node whose presence key has not expired, sorted by id.
func (pt *PresenceTracker) Nodes(ctx context.Context) ([]domain.NodePresence, error) {
	var keys []string
	iter := pt.rdb.Scan(ctx, 0, nodeKeyPrefix+"*", scanBatch).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis: scan nodes: %w", err)
	}
	if len(keys) == 0 {
		return nil, nil
	}

	vals, err := pt.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: mget nodes: %w", err)
	}

	nodes := make([]domain.NodePresence, 0, len(vals))
	for i, v := range vals {
		s, ok := v.(string)
		if !ok {
			// Expired between SCAN and MGET.
			continue
		}
		var p domain.NodePresence
		if err := json.Unmarshal([]byte(s), &p); err != nil {
			return nil, fmt.Errorf("redis: decode presence %s: %w", keys[i], err)
		}
		if p.NodeID == "" {
			p.NodeID = strings.TrimPrefix(keys[i], nodeKeyPrefix)
		}
		nodes = append(nodes, p)
	}

	sort.Slice(nodes, func(i, j int) bool { return nodes[i].NodeID < nodes[j].NodeID })
	return nodes, nil
}

// Compile-time interface check.
var _ domain.PresenceTracker = (*PresenceTracker)(nil)
