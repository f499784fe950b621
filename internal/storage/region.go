package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Key prefixes of the Redis regions.
const (
	visitorKeyPrefix = "engagement:visitor:"
	sessionKeyPrefix = "engagement:session:"
)

// DefaultSessionTTL is how long an untouched session region lives.
const DefaultSessionTTL = 30 * time.Minute

// ErrEmptyScope is returned when a region is requested without an identifier.
var ErrEmptyScope = errors.New("region scope identifier is empty")

// RedisRegion is a key-value region stored under one Redis key prefix.
// A non-zero ttl is applied on every write.
type RedisRegion struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewVisitorRegion returns the durable region of a visitor. Keys never expire.
func NewVisitorRegion(client *redis.Client, visitorID string) (*RedisRegion, error) {
	if visitorID == "" {
		return nil, ErrEmptyScope
	}
	return &RedisRegion{client: client, prefix: visitorKeyPrefix + visitorID + ":"}, nil
}

// NewSessionRegion returns the region of one browsing session. Keys expire
// ttl after their last write.
func NewSessionRegion(client *redis.Client, browsingSessionID string, ttl time.Duration) (*RedisRegion, error) {
	if browsingSessionID == "" {
		return nil, ErrEmptyScope
	}
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &RedisRegion{client: client, prefix: sessionKeyPrefix + browsingSessionID + ":", ttl: ttl}, nil
}

// Key returns the full Redis key for key.
func (r *RedisRegion) Key(key string) string {
	return r.prefix + key
}

// Get returns the value of key. A missing key is ok=false with a nil error.
func (r *RedisRegion) Get(ctx context.Context, key string) (string, bool, error) {
	value, err := r.client.Get(ctx, r.Key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get %s: %w", key, err)
	}
	return value, true, nil
}

// Set writes key, refreshing its expiry.
func (r *RedisRegion) Set(ctx context.Context, key, value string) error {
	if err := r.client.Set(ctx, r.Key(key), value, r.ttl).Err(); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

// Remove deletes key.
func (r *RedisRegion) Remove(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.Key(key)).Err(); err != nil {
		return fmt.Errorf("remove %s: %w", key, err)
	}
	return nil
}

// MemoryRegion is an in-process region. It backs the collector when Redis is
// disabled and serves as a test double.
type MemoryRegion struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewMemoryRegion creates an empty MemoryRegion.
func NewMemoryRegion() *MemoryRegion {
	return &MemoryRegion{values: make(map[string]string)}
}

// Get returns the value of key.
func (m *MemoryRegion) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	value, ok := m.values[key]
	return value, ok, nil
}

// Set writes key.
func (m *MemoryRegion) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	return nil
}

// Remove deletes key.
func (m *MemoryRegion) Remove(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
	return nil
}

// Clear deletes every key.
func (m *MemoryRegion) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values = make(map[string]string)
}

// MemoryRegions hands out one MemoryRegion per scope identifier.
type MemoryRegions struct {
	mu      sync.Mutex
	regions map[string]*MemoryRegion
}

// NewMemoryRegions creates an empty set of regions.
func NewMemoryRegions() *MemoryRegions {
	return &MemoryRegions{regions: make(map[string]*MemoryRegion)}
}

// For returns the region of id, creating it on first use.
func (m *MemoryRegions) For(id string) *MemoryRegion {
	m.mu.Lock()
	defer m.mu.Unlock()
	region, ok := m.regions[id]
	if !ok {
		region = NewMemoryRegion()
		m.regions[id] = region
	}
	return region
}
