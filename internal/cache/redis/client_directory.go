package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/alanyoungcy/livebid/internal/domain"
	"github.com/redis/go-redis/v9"
)

// releaseLua deletes a client address only while it still names the caller's
// node, so a node losing a user never erases the address another node has
// just written for the same user.
const releaseLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

// ClientDirectory implements domain.ClientDirectory with expiring
// client:{userId} -> nodeId keys.
type ClientDirectory struct {
	rdb       *redis.Client
	releaseSc *redis.Script
}

// NewClientDirectory creates a ClientDirectory backed by the given Client.
func NewClientDirectory(c *Client) *ClientDirectory {
	return &ClientDirectory{
		rdb:       c.Underlying(),
		releaseSc: redis.NewScript(releaseLua),
	}
}

func clientKey(userID string) string {
	return "client:" + userID
}

// Set records that userID is connected to nodeID and resets the TTL.
func (d *ClientDirectory) Set(ctx context.Context, userID, nodeID string, ttl time.Duration) error {
	if err := d.rdb.Set(ctx, clientKey(userID), nodeID, ttl).Err(); err != nil {
		return fmt.Errorf("redis: set client %s: %w", userID, err)
	}
	return nil
}

// Lookup returns the node currently holding userID's connection. It returns
// domain.ErrNotFound when the user has no live address.
func (d *ClientDirectory) Lookup(ctx context.Context, userID string) (string, error) {
	nodeID, err := d.rdb.Get(ctx, clientKey(userID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", domain.ErrNotFound
		}
		return "", fmt.Errorf("redis: lookup client %s: %w", userID, err)
	}
	return nodeID, nil
}

// Release removes userID's address if it still points at nodeID.
func (d *ClientDirectory) Release(ctx context.Context, userID, nodeID string) error {
	if err := d.releaseSc.Run(ctx, d.rdb, []string{clientKey(userID)}, nodeID).Err(); err != nil {
		return fmt.Errorf("redis: release client %s: %w", userID, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.ClientDirectory = (*ClientDirectory)(nil)
