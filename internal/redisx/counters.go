package redisx

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Counters implements the admission gate's CounterStore on Redis, so the
// rate accounting is shared across API instances.
type Counters struct{ RDB *redis.Client }

func (c *Counters) IncrWindow(ctx context.Context, key string, window time.Duration) (int64, error) {
	pipe := c.RDB.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.ExpireNX(ctx, key, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

func (c *Counters) SetNX(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return c.RDB.SetNX(ctx, key, "1", ttl).Result()
}
