// cache.go
//
// Shared mock of the Redis presence cache.
package testutil

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/MGallo-Code/argus/internal/model"
	"github.com/MGallo-Code/argus/internal/store"
)

// MockCache implements the presence cache ports for tests.
type MockCache struct {
	StoreErr     error
	TelemetryErr error
	StaleErr     error
	RetryErr     error

	Entries  map[string]map[string]model.Telemetry // recipient -> sender -> latest
	LastSeen map[string]time.Time
	Retries  map[string]int64

	mu sync.Mutex
}

// NewMockCache returns an empty MockCache.
func NewMockCache() *MockCache {
	return &MockCache{
		Entries:  make(map[string]map[string]model.Telemetry),
		LastSeen: make(map[string]time.Time),
		Retries:  make(map[string]int64),
	}
}

// Put seeds a cache entry without touching presence markers.
func (c *MockCache) Put(recipient, sender string, t model.Telemetry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Entries[recipient] == nil {
		c.Entries[recipient] = make(map[string]model.Telemetry)
	}
	c.Entries[recipient][sender] = t
}

// Seen sets a presence marker directly.
func (c *MockCache) Seen(username string, at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.LastSeen[username] = at
}

func (c *MockCache) StoreTelemetry(_ context.Context, recipient, sender string, t model.Telemetry, seenAt time.Time) error {
	if c.StoreErr != nil {
		return c.StoreErr
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Entries[recipient] == nil {
		c.Entries[recipient] = make(map[string]model.Telemetry)
	}
	c.Entries[recipient][sender] = t
	c.LastSeen[sender] = seenAt
	delete(c.Retries, sender)
	return nil
}

func (c *MockCache) Telemetry(_ context.Context, recipient, sender string) (*model.Telemetry, error) {
	if c.TelemetryErr != nil {
		return nil, c.TelemetryErr
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.Entries[recipient][sender]
	if !ok {
		return nil, store.ErrCacheMiss
	}
	return &t, nil
}

// StaleUsers matches RedisStore: whole-second scores, both bounds inclusive.
func (c *MockCache) StaleUsers(_ context.Context, from, to time.Time) ([]string, error) {
	if c.StaleErr != nil {
		return nil, c.StaleErr
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for u, at := range c.LastSeen {
		s := at.Unix()
		if s >= from.Unix() && s <= to.Unix() {
			out = append(out, u)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (c *MockCache) RecordRetry(_ context.Context, username string) (int64, error) {
	if c.RetryErr != nil {
		return 0, c.RetryErr
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Retries[username]++
	return c.Retries[username], nil
}
