package store

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// PriceSource is the subset of the store client the cache needs.
type PriceSource interface {
	PriceList(ctx context.Context) (map[string]float64, error)
}

// PriceListCache holds an in-process snapshot of the store's price
// list. The store signals staleness with a remote timestamp (exposed
// via [Client.PriceListVersion]); consumers pass it to RefreshIfStale
// before reading. Constructed once at process start and shared by
// reference.
type PriceListCache struct {
	mu              sync.RWMutex
	data            map[string]float64
	lastRefreshedAt time.Time

	source PriceSource
	logger *slog.Logger
}

// NewPriceListCache creates an empty cache backed by the given source.
func NewPriceListCache(source PriceSource, logger *slog.Logger) *PriceListCache {
	if logger == nil {
		logger = slog.Default()
	}
	return &PriceListCache{
		data:   make(map[string]float64),
		source: source,
		logger: logger,
	}
}

// RefreshIfStale reloads the snapshot when the remote timestamp is
// newer than the last refresh. Concurrent callers may race to refresh;
// the later write wins and both observe fresh data.
func (c *PriceListCache) RefreshIfStale(ctx context.Context, remoteTimestamp time.Time) error {
	c.mu.RLock()
	fresh := !c.lastRefreshedAt.Before(remoteTimestamp)
	c.mu.RUnlock()
	if fresh {
		return nil
	}

	prices, err := c.source.PriceList(ctx)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.data = prices
	c.lastRefreshedAt = time.Now()
	c.mu.Unlock()

	c.logger.Info("price list refreshed",
		"entries", len(prices),
		"remote_ts", remoteTimestamp,
	)
	return nil
}

// Price returns the cached price for a SKU.
func (c *PriceListCache) Price(sku string) (float64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.data[sku]
	return p, ok
}

// LastRefreshedAt returns when the snapshot was last reloaded.
func (c *PriceListCache) LastRefreshedAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastRefreshedAt
}
