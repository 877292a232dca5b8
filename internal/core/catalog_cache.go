package core

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/target/catalog-sync/internal/domain/model"
)

// CacheRepository defines the interface for caching operations.
// The core defines it and the data layer provides implementations.
type CacheRepository interface {
	// Set stores a value with the given TTL. A TTL of 0 never expires.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Get returns nil when the key doesn't exist or has expired.
	Get(ctx context.Context, key string) ([]byte, error)

	// Delete reports whether the key existed.
	Delete(ctx context.Context, key string) (bool, error)

	Exists(ctx context.Context, key string) (bool, error)

	// SetTTL reports whether the key exists and its TTL was updated.
	SetTTL(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// SetIfNotExists atomically sets a key only if it doesn't already exist and reports whether
	// it was set. Used for distributed locks.
	SetIfNotExists(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)

	Health(ctx context.Context) error
}

// DefaultCatalogCacheTTL bounds how stale a cached main catalog may be.
const DefaultCatalogCacheTTL = 5 * time.Minute

// CatalogCache keeps recent main-catalog listings so a fan-out of jobs against many target stores
// does not page through the main store once per job. Only complete listings are cached.
type CatalogCache struct {
	cache CacheRepository
	ttl   time.Duration
}

// CatalogCacheOptions bundles dependencies for NewCatalogCache.
type CatalogCacheOptions struct {
	Cache CacheRepository
	TTL   time.Duration
}

// NewCatalogCache creates a CatalogCache. It returns nil when no cache repository is configured;
// a nil *CatalogCache behaves as an always-empty cache.
func NewCatalogCache(opts CatalogCacheOptions) *CatalogCache {
	if opts.Cache == nil {
		return nil
	}
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = DefaultCatalogCacheTTL
	}
	return &CatalogCache{cache: opts.Cache, ttl: ttl}
}

// CatalogKey is the cache key of a store's main catalog.
func CatalogKey(domain string) string {
	return "catalog:main:" + model.NormalizeDomain(domain)
}

// Get returns the cached catalog of domain. ok is false on a miss.
func (c *CatalogCache) Get(ctx context.Context, domain string) ([]*model.Product, bool, error) {
	if c == nil {
		return nil, false, nil
	}
	raw, err := c.cache.Get(ctx, CatalogKey(domain))
	if err != nil {
		return nil, false, err
	}
	if len(raw) == 0 {
		return nil, false, nil
	}
	var products []*model.Product
	if err := json.Unmarshal(raw, &products); err != nil {
		return nil, false, fmt.Errorf("decode cached catalog: %w", err)
	}
	return products, true, nil
}

// Put caches listing when it is complete and reports whether it was stored.
func (c *CatalogCache) Put(ctx context.Context, domain string, listing *model.Listing) (bool, error) {
	if c == nil || listing == nil || !listing.Complete {
		return false, nil
	}
	raw, err := json.Marshal(listing.Products)
	if err != nil {
		return false, fmt.Errorf("encode catalog: %w", err)
	}
	if err := c.cache.Set(ctx, CatalogKey(domain), raw, c.ttl); err != nil {
		return false, err
	}
	return true, nil
}

// Invalidate drops the cached catalog of domain.
func (c *CatalogCache) Invalidate(ctx context.Context, domain string) error {
	if c == nil {
		return nil
	}
	_, err := c.cache.Delete(ctx, CatalogKey(domain))
	return err
}
