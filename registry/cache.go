package registry

import (
	stdtime "time"

	lru "github.com/hashicorp/golang-lru"
	"golang.org/x/sync/singleflight"

	"github.com/dhannusch/pincer/db/kv"
	"github.com/dhannusch/pincer/manifest"
)

// cachedAdapter is the materialized hot-path view of one adapter: its active
// index entry plus the resolved manifest snapshot. present is false when the
// adapter has no active entry at all.
type cachedAdapter struct {
	present   bool
	entry     kv.ActiveEntry
	man       *manifest.Manifest
	fetchedAt stdtime.Time
}

// readCache is a short-TTL, isolate-local cache in front of the registry
// index and manifest snapshots. Concurrent misses for the same adapter are
// collapsed through singleflight so a cold cache does not stampede the store.
type readCache struct {
	ttl stdtime.Duration
	lru *lru.Cache
	sf  singleflight.Group
	now func() stdtime.Time
}

func newReadCache(size int, ttl stdtime.Duration, now func() stdtime.Time) (*readCache, error) {
	c, err := lru.New(size)
	if err != nil {
		return nil, err
	}
	return &readCache{ttl: ttl, lru: c, now: now}, nil
}

func (c *readCache) get(adapterID string) (*cachedAdapter, bool) {
	v, ok := c.lru.Get(adapterID)
	if !ok {
		return nil, false
	}
	cached, ok := v.(*cachedAdapter)
	if !ok || c.now().Sub(cached.fetchedAt) > c.ttl {
		return nil, false
	}
	return cached, true
}

func (c *readCache) load(adapterID string, loader func() (*cachedAdapter, error)) (*cachedAdapter, error) {
	v, err, _ := c.sf.Do(adapterID, func() (interface{}, error) {
		if cached, ok := c.get(adapterID); ok {
			return cached, nil
		}
		cached, err := loader()
		if err != nil {
			return nil, err
		}
		cached.fetchedAt = c.now()
		c.lru.Add(adapterID, cached)
		return cached, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*cachedAdapter), nil
}

// invalidate drops one adapter's entry. Every registry write path calls
// either this or purge before returning.
func (c *readCache) invalidate(adapterID string) {
	c.lru.Remove(adapterID)
}

func (c *readCache) purge() {
	c.lru.Purge()
}
