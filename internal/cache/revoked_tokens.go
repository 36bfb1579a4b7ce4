package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RevokedTokenCache is a deny-list of refresh token values known to be
// revoked. Revocation is terminal, so an entry can never become stale; a miss
// only means the store has to be asked.
type RevokedTokenCache interface {
	MarkRevoked(ctx context.Context, value string) error
	IsRevoked(ctx context.Context, value string) (bool, error)
}

type redisRevokedTokenCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisRevokedTokenCache stores entries under <prefix>:<sha256(value)>.
// ttl should cover the refresh token lifetime; expired tokens are rejected by
// their own payload afterwards.
func NewRedisRevokedTokenCache(client *redis.Client, prefix string, ttl time.Duration) RevokedTokenCache {
	prefix = strings.TrimRight(prefix, ":")
	if prefix == "" {
		prefix = "refresh:revoked"
	}
	return &redisRevokedTokenCache{client: client, prefix: prefix, ttl: ttl}
}

func (c *redisRevokedTokenCache) key(value string) string {
	sum := sha256.Sum256([]byte(value))
	return c.prefix + ":" + hex.EncodeToString(sum[:])
}

func (c *redisRevokedTokenCache) MarkRevoked(ctx context.Context, value string) error {
	return c.client.Set(ctx, c.key(value), 1, c.ttl).Err()
}

func (c *redisRevokedTokenCache) IsRevoked(ctx context.Context, value string) (bool, error) {
	n, err := c.client.Exists(ctx, c.key(value)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

type noopRevokedTokenCache struct{}

// NewNoopRevokedTokenCache is used when Redis is not configured.
func NewNoopRevokedTokenCache() RevokedTokenCache {
	return noopRevokedTokenCache{}
}

func (noopRevokedTokenCache) MarkRevoked(context.Context, string) error       { return nil }
func (noopRevokedTokenCache) IsRevoked(context.Context, string) (bool, error) { return false, nil }
