package quota

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/suPer8Hu/intelliavatar/internal/job"
)

// RedisGate keeps quota counters in Redis, one integer key per owner and
// feature. Keys never expire.
type RedisGate struct {
	rdb    *redis.Client
	limits Limits
	prefix string
}

var _ Gate = (*RedisGate)(nil)

func NewRedisGate(rdb *redis.Client, limits Limits) *RedisGate {
	return &RedisGate{rdb: rdb, limits: limits, prefix: "quota"}
}

func (g *RedisGate) key(ownerID uint64, feature job.Feature) string {
	return fmt.Sprintf("%s:%d:%s", g.prefix, ownerID, feature)
}

func (g *RedisGate) Check(ctx context.Context, ownerID uint64, feature job.Feature) (Usage, error) {
	limit := g.limits.Limit(feature)
	if limit == 0 {
		return usage(0, 0), nil
	}
	used, err := g.rdb.Get(ctx, g.key(ownerID, feature)).Int()
	if err != nil && !errors.Is(err, redis.Nil) {
		return Usage{}, err
	}
	return usage(used, limit), nil
}

// acquireScript increments KEYS[1] only while it is below ARGV[1] and returns
// {acquired, count}.
var acquireScript = redis.NewScript(`
local n = tonumber(redis.call('GET', KEYS[1]) or '0')
if n >= tonumber(ARGV[1]) then
  return {0, n}
end
return {1, redis.call('INCR', KEYS[1])}
`)

func (g *RedisGate) Acquire(ctx context.Context, ownerID uint64, feature job.Feature) (Usage, error) {
	limit := g.limits.Limit(feature)
	if limit == 0 {
		return usage(0, 0), nil
	}
	res, err := acquireScript.Run(ctx, g.rdb, []string{g.key(ownerID, feature)}, limit).Int64Slice()
	if err != nil {
		return Usage{}, err
	}
	if len(res) != 2 {
		return Usage{}, fmt.Errorf("quota script: unexpected reply %v", res)
	}
	return Usage{Allowed: res[0] == 1, Used: int(res[1]), Limit: limit}, nil
}
