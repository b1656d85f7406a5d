// Package dedup suppresses rapid duplicate mutations such as a double
// submitted form. It is best effort: store constraints stay authoritative.
package dedup

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"MemberSend/internal/metrics"
)

const (
	DefaultCooldown = 5 * time.Second
	DefaultCapacity = 1000
)

type Gate interface {
	// ShouldSuppress reports whether key was seen within the cooldown.
	// An unsuppressed call marks key as seen.
	ShouldSuppress(ctx context.Context, key string) bool

	// Forget drops the marker for key so a retry is not suppressed.
	Forget(ctx context.Context, key string)
}

// Key scopes a request fingerprint to its tenant.
func Key(tenantID string, parts ...string) string {
	return tenantID + "|" + strings.Join(parts, "|")
}

// MemoryGate keeps last-seen markers in process memory. When it grows past
// capacity only the most recently seen half is kept.
type MemoryGate struct {
	seen     *cache.Cache
	capacity int
	log      *zap.Logger

	pruneMu sync.Mutex
}

func NewMemoryGate(cooldown time.Duration, capacity int, log *zap.Logger) *MemoryGate {
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	if capacity <= 1 {
		capacity = DefaultCapacity
	}

	cleanup := 2 * cooldown
	if cleanup < time.Minute {
		cleanup = time.Minute
	}

	return &MemoryGate{
		seen:     cache.New(cooldown, cleanup),
		capacity: capacity,
		log:      log,
	}
}

func (g *MemoryGate) ShouldSuppress(ctx context.Context, key string) bool {
	// Add fails only while an unexpired entry exists.
	if err := g.seen.Add(key, struct{}{}, cache.DefaultExpiration); err != nil {
		metrics.DedupSuppressed.Inc()
		g.log.Debug("duplicate request suppressed", zap.String("key", key))
		return true
	}

	if g.seen.ItemCount() > g.capacity {
		g.prune()
	}

	return false
}

func (g *MemoryGate) Forget(ctx context.Context, key string) {
	g.seen.Delete(key)
}

func (g *MemoryGate) prune() {
	g.pruneMu.Lock()
	defer g.pruneMu.Unlock()

	g.seen.DeleteExpired()

	items := g.seen.Items()
	if len(items) <= g.capacity {
		return
	}

	type entry struct {
		key     string
		expires int64
	}

	entries := make([]entry, 0, len(items))
	for k, item := range items {
		entries = append(entries, entry{key: k, expires: item.Expiration})
	}

	// Every entry shares the same cooldown, so later expiry means seen later.
	sort.Slice(entries, func(i, j int) bool { return entries[i].expires > entries[j].expires })

	keep := g.capacity / 2
	for _, e := range entries[keep:] {
		g.seen.Delete(e.key)
	}

	g.log.Debug("dedup gate pruned",
		zap.Int("before", len(entries)),
		zap.Int("after", keep),
	)
}

// Len is the number of live markers.
func (g *MemoryGate) Len() int {
	return g.seen.ItemCount()
}
