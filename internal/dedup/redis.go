package dedup

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"MemberSend/internal/metrics"
)

const keyPrefix = "membersend:dedup:"

// RedisGate shares suppression markers between instances using SET NX with
// the cooldown as TTL. Redis errors fail open.
type RedisGate struct {
	rdb      *redis.Client
	cooldown time.Duration
	log      *zap.Logger
}

func NewRedisGate(rdb *redis.Client, cooldown time.Duration, log *zap.Logger) *RedisGate {
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	return &RedisGate{
		rdb:      rdb,
		cooldown: cooldown,
		log:      log,
	}
}

func (g *RedisGate) ShouldSuppress(ctx context.Context, key string) bool {
	set, err := g.rdb.SetNX(ctx, keyPrefix+key, 1, g.cooldown).Result()
	if err != nil {
		g.log.Warn("dedup SETNX failed, not suppressing",
			zap.String("key", key),
			zap.Error(err),
		)
		return false
	}

	if !set {
		metrics.DedupSuppressed.Inc()
		g.log.Debug("duplicate request suppressed", zap.String("key", key))
	}

	return !set
}

func (g *RedisGate) Forget(ctx context.Context, key string) {
	if err := g.rdb.Del(ctx, keyPrefix+key).Err(); err != nil {
		g.log.Warn("dedup DEL failed", zap.String("key", key), zap.Error(err))
	}
}
