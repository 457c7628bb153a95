package cache

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/kjstillabower/drone/internal/models"
)

// keyPrefix namespaces location entries in shared cache servers.
const keyPrefix = "location:"

// Cache stores resolved locations keyed by normalized city name.
// Get returns cached data if present and not expired, Set stores data with TTL.
type Cache interface {
	Get(ctx context.Context, key string) (models.Location, bool, error)
	Set(ctx context.Context, key string, value models.Location, ttl time.Duration) error
}

// Pinger is implemented by remote backends so health checks can ping them.
type Pinger interface {
	Ping(ctx context.Context) error
}

// InMemoryCache implements Cache using a map with TTL-based expiration.
// Expired entries are removed on access. Safe for concurrent use.
type InMemoryCache struct {
	mu   sync.Mutex
	data map[string]cacheEntry
	now  func() time.Time
}

type cacheEntry struct {
	value     models.Location
	expiresAt time.Time
}

// NewInMemoryCache creates a new in-memory cache instance.
func NewInMemoryCache() *InMemoryCache {
	return &InMemoryCache{
		data: make(map[string]cacheEntry),
		now:  time.Now,
	}
}

// Get returns (location, true, nil) on a hit and (zero, false, nil) on a miss or expiry.
func (c *InMemoryCache) Get(ctx context.Context, key string) (models.Location, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.data[key]
	if !ok {
		return models.Location{}, false, nil
	}
	if c.now().After(entry.expiresAt) {
		delete(c.data, key)
		return models.Location{}, false, nil
	}
	return entry.value, true, nil
}

// Set stores a location that expires after ttl.
func (c *InMemoryCache) Set(ctx context.Context, key string, value models.Location, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = cacheEntry{
		value:     value,
		expiresAt: c.now().Add(ttl),
	}
	return nil
}

// Len returns the number of stored entries, expired or not.
func (c *InMemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.data)
}

func encode(v models.Location) ([]byte, error) {
	return json.Marshal(v)
}

func decode(raw []byte) (models.Location, error) {
	var loc models.Location
	err := json.Unmarshal(raw, &loc)
	return loc, err
}
