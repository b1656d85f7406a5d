package progress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "membersend:job:"

// RedisTracker shares job state between instances.
type RedisTracker struct {
	rdb       *redis.Client
	retention time.Duration
}

func NewRedisTracker(rdb *redis.Client, retention time.Duration) *RedisTracker {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &RedisTracker{
		rdb:       rdb,
		retention: retention,
	}
}

func (t *RedisTracker) Get(ctx context.Context, key string) (Job, bool, error) {
	data, err := t.rdb.Get(ctx, keyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return Job{}, false, nil
	}
	if err != nil {
		return Job{}, false, fmt.Errorf("get job %s: %w", key, err)
	}

	var stored redisJob
	if err := json.Unmarshal(data, &stored); err != nil {
		return Job{}, false, fmt.Errorf("decode job %s: %w", key, err)
	}

	return stored.job(), true, nil
}

func (t *RedisTracker) Set(ctx context.Context, job Job) error {
	data, err := json.Marshal(newRedisJob(job))
	if err != nil {
		return fmt.Errorf("encode job %s: %w", job.Key, err)
	}

	if err := t.rdb.Set(ctx, keyPrefix+job.Key, data, ttlFor(job.Status, t.retention)).Err(); err != nil {
		return fmt.Errorf("set job %s: %w", job.Key, err)
	}

	return nil
}

// redisJob carries the tenant id, which Job hides from API responses.
type redisJob struct {
	Job
	Tenant string `json:"tenant_id"`
}

func newRedisJob(j Job) redisJob {
	return redisJob{Job: j, Tenant: j.TenantID}
}

func (r redisJob) job() Job {
	j := r.Job
	j.TenantID = r.Tenant
	return j
}
