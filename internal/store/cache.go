package store

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// CachedCalibrations fronts a CalibrationStore with an expiring LRU for
// Load. Misses are not cached. Save invalidates the entry it replaces.
type CachedCalibrations struct {
	CalibrationStore
	cache *expirable.LRU[string, CalibrationParams]
}

// NewCachedCalibrations caches up to size calibrations for ttl.
func NewCachedCalibrations(inner CalibrationStore, size int, ttl time.Duration) *CachedCalibrations {
	return &CachedCalibrations{
		CalibrationStore: inner,
		cache:            expirable.NewLRU[string, CalibrationParams](size, nil, ttl),
	}
}

func cacheKey(metric, host string) string {
	return metric + "\x00" + host
}

// Save implements CalibrationStore.
func (c *CachedCalibrations) Save(ctx context.Context, metric, host string, params CalibrationParams) error {
	c.cache.Remove(cacheKey(metric, host))
	return c.CalibrationStore.Save(ctx, metric, host, params)
}

// Load implements CalibrationStore.
func (c *CachedCalibrations) Load(ctx context.Context, metric, host string) (*CalibrationParams, error) {
	key := cacheKey(metric, host)
	if p, ok := c.cache.Get(key); ok {
		return &p, nil
	}
	p, err := c.CalibrationStore.Load(ctx, metric, host)
	if err != nil {
		return nil, err
	}
	c.cache.Add(key, *p)
	return p, nil
}
