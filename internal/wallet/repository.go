package wallet

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
)

// ErrNoSnapshot is returned when nothing is cached for a (network, asset).
var ErrNoSnapshot = errors.New("balance snapshot not found")

// BalanceCache stores snapshots keyed by (network, asset).
type BalanceCache interface {
	Put(ctx context.Context, s Snapshot) error
	Get(ctx context.Context, network, asset string) (Snapshot, error)
	List(ctx context.Context, network string) ([]Snapshot, error)
}

// RedisCache keeps one hash per network, one field per asset.
type RedisCache struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewRedisCache builds a cache backed by Redis. ttl bounds how long a network
// hash survives without writes; zero keeps it forever.
func NewRedisCache(client redis.UniversalClient, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, prefix: "wallet:balances:", ttl: ttl}
}

func (c *RedisCache) key(network string) string {
	return c.prefix + network
}

// Put upserts a snapshot.
func (c *RedisCache) Put(ctx context.Context, s Snapshot) error {
	payload, err := json.Marshal(s)
	if err != nil {
		return err
	}
	pipe := c.client.TxPipeline()
	pipe.HSet(ctx, c.key(s.Network), s.Asset, payload)
	if c.ttl > 0 {
		pipe.Expire(ctx, c.key(s.Network), c.ttl)
	}
	_, err = pipe.Exec(ctx)
	return err
}

// Get reads one snapshot.
func (c *RedisCache) Get(ctx context.Context, network, asset string) (Snapshot, error) {
	raw, err := c.client.HGet(ctx, c.key(network), asset).Bytes()
	if errors.Is(err, redis.Nil) {
		return Snapshot{}, ErrNoSnapshot
	}
	if err != nil {
		return Snapshot{}, err
	}
	var s Snapshot
	if err := json.Unmarshal(raw, &s); err != nil {
		return Snapshot{}, fmt.Errorf("decode snapshot %s/%s: %w", network, asset, err)
	}
	return s, nil
}

// List returns every cached snapshot for a network.
func (c *RedisCache) List(ctx context.Context, network string) ([]Snapshot, error) {
	fields, err := c.client.HGetAll(ctx, c.key(network)).Result()
	if err != nil {
		return nil, err
	}
	out := make([]Snapshot, 0, len(fields))
	for asset, raw := range fields {
		var s Snapshot
		if err := json.Unmarshal([]byte(raw), &s); err != nil {
			return nil, fmt.Errorf("decode snapshot %s/%s: %w", network, asset, err)
		}
		out = append(out, s)
	}
	return out, nil
}
