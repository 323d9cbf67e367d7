package proxy

import (
	"fmt"
	"sync"

	gocache "github.com/patrickmn/go-cache"

	"github.com/dhannusch/pincer/config/params"
)

// Limiter counts requests per (keyId, adapter, action, minuteBucket).
// Counters are isolate-local and best-effort: they provide deterministic
// limiting within one process and no guarantee across processes. Buckets
// evict automatically once they age past the configured window, bounding
// memory without a sweeper of our own.
type Limiter struct {
	mu       sync.Mutex
	counters *gocache.Cache
}

// NewLimiter constructs a limiter with bucket eviction from the boundary
// config.
func NewLimiter() *Limiter {
	eviction := params.BoundaryConfig().RateBucketEviction
	return &Limiter{counters: gocache.New(eviction, eviction/2)}
}

// Allow reports whether one more request fits the per-minute budget, and
// counts it when it does. The bucket is the current minute, so a budget of n
// admits exactly n requests per bucket.
func (l *Limiter) Allow(keyID, adapter, action string, nowMs, ratePerMinute int64) bool {
	bucket := nowMs / 60000
	key := fmt.Sprintf("%s:%s:%s:%d", keyID, adapter, action, bucket)

	l.mu.Lock()
	defer l.mu.Unlock()
	count := int64(0)
	if v, ok := l.counters.Get(key); ok {
		count = v.(int64)
	}
	if count >= ratePerMinute {
		return false
	}
	l.counters.SetDefault(key, count+1)
	return true
}
