// Package progress holds the live state of dispatch jobs for polling
// clients. It is a cache, not a record of truth: entries disappear a short
// retention window after the job ends, and the campaign row keeps the
// durable outcome.
//
// The in-memory tracker is scoped to one process. Deployments with more
// than one instance must use the Redis tracker or route every poll for a
// job to the instance running it.
package progress

import (
	"context"
	"math"
	"time"

	"github.com/patrickmn/go-cache"
)

const (
	DefaultRetention = 5 * time.Minute

	// activeTTL bounds entries for jobs whose worker died without a
	// terminal write.
	activeTTL = 24 * time.Hour
)

type Status string

const (
	StatusStarting  Status = "starting"
	StatusSending   Status = "sending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

type Job struct {
	Key        string    `json:"key"`
	TenantID   string    `json:"-"`
	CampaignID int64     `json:"campaign_id"`
	Status     Status    `json:"status"`
	Current    int       `json:"current"`
	Total      int       `json:"total"`
	Sent       int       `json:"sent"`
	Failed     int       `json:"failed"`
	Error      string    `json:"error,omitempty"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Percentage is round(current/total*100) with total clamped to at least 1.
func (j Job) Percentage() int {
	total := j.Total
	if total < 1 {
		total = 1
	}
	return int(math.Round(float64(j.Current) / float64(total) * 100))
}

type Tracker interface {
	Get(ctx context.Context, key string) (Job, bool, error)
	Set(ctx context.Context, job Job) error
}

func ttlFor(status Status, retention time.Duration) time.Duration {
	if status.Terminal() {
		return retention
	}
	return activeTTL
}

type MemoryTracker struct {
	jobs      *cache.Cache
	retention time.Duration
}

func NewMemoryTracker(retention time.Duration) *MemoryTracker {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &MemoryTracker{
		jobs:      cache.New(activeTTL, time.Minute),
		retention: retention,
	}
}

func (t *MemoryTracker) Get(ctx context.Context, key string) (Job, bool, error) {
	v, ok := t.jobs.Get(key)
	if !ok {
		return Job{}, false, nil
	}
	return v.(Job), true, nil
}

func (t *MemoryTracker) Set(ctx context.Context, job Job) error {
	t.jobs.Set(job.Key, job, ttlFor(job.Status, t.retention))
	return nil
}
