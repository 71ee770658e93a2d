package slack

import (
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	eventDedupCacheSize = 2048
	eventDedupTTL       = 10 * time.Minute
)

// deduper drops Slack retries of an event it has already accepted.
type deduper struct {
	mu    sync.Mutex
	cache *lru.Cache[string, time.Time]
	ttl   time.Duration
	now   func() time.Time
}

func newDeduper(size int, ttl time.Duration) (*deduper, error) {
	cache, err := lru.New[string, time.Time](size)
	if err != nil {
		return nil, fmt.Errorf("slack event deduper init: %w", err)
	}
	return &deduper{cache: cache, ttl: ttl, now: time.Now}, nil
}

// seen records key and reports whether it was already recorded within the TTL.
func (d *deduper) seen(key string) bool {
	if key == "" {
		return false
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	if ts, ok := d.cache.Get(key); ok {
		if now.Sub(ts) <= d.ttl {
			return true
		}
		d.cache.Remove(key)
	}
	d.cache.Add(key, now)
	return false
}

// forget drops key so the next delivery is processed.
func (d *deduper) forget(key string) {
	if key == "" {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cache.Remove(key)
}
