package cache

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Cache is the caching interface. All cache operations go through
// here. Implementations must be safe for concurrent use.
type Cache interface {
	Ping(ctx context.Context) error
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Delete(ctx context.Context, key string) error
	IncrWithExpiry(ctx context.Context, key string, expiry time.Duration) (int64, error)

	// Job snapshots back orchestrator recovery after a restart. Saved
	// snapshots are indexed so Recover can enumerate them.
	SaveJobSnapshot(ctx context.Context, jobID uuid.UUID, data []byte, ttl time.Duration) error
	LoadJobSnapshot(ctx context.Context, jobID uuid.UUID) ([]byte, bool, error)
	ClearJobSnapshot(ctx context.Context, jobID uuid.UUID) error
	ListJobSnapshots(ctx context.Context) ([]uuid.UUID, error)
}

// RedisCache implements the Cache interface using go-redis/v9.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache creates a new RedisCache from a Redis URL.
func NewRedisCache(redisURL string) (*RedisCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	return &RedisCache{client: redis.NewClient(opts)}, nil
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.client.Set(ctx, key, value, ttl).Err()
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

func (c *RedisCache) Delete(ctx context.Context, key string) error {
	return c.client.Del(ctx, key).Err()
}

func (c *RedisCache) IncrWithExpiry(ctx context.Context, key string, expiry time.Duration) (int64, error) {
	pipe := c.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, expiry)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

func (c *RedisCache) SaveJobSnapshot(ctx context.Context, jobID uuid.UUID, data []byte, ttl time.Duration) error {
	pipe := c.client.TxPipeline()
	pipe.Set(ctx, JobSnapshotKey(jobID), data, ttl)
	pipe.SAdd(ctx, jobIndexKey, jobID.String())
	_, err := pipe.Exec(ctx)
	return err
}

func (c *RedisCache) LoadJobSnapshot(ctx context.Context, jobID uuid.UUID) ([]byte, bool, error) {
	return c.Get(ctx, JobSnapshotKey(jobID))
}

func (c *RedisCache) ClearJobSnapshot(ctx context.Context, jobID uuid.UUID) error {
	pipe := c.client.TxPipeline()
	pipe.Del(ctx, JobSnapshotKey(jobID))
	pipe.SRem(ctx, jobIndexKey, jobID.String())
	_, err := pipe.Exec(ctx)
	return err
}

func (c *RedisCache) ListJobSnapshots(ctx context.Context) ([]uuid.UUID, error) {
	members, err := c.client.SMembers(ctx, jobIndexKey).Result()
	if err != nil {
		return nil, err
	}

	ids := make([]uuid.UUID, 0, len(members))
	for _, m := range members {
		id, err := uuid.Parse(m)
		if err != nil {
			// Stale junk in the index; drop it.
			c.client.SRem(ctx, jobIndexKey, m)
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}
