package presence

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// InMemoryCache is a thread-safe, in-memory presence cache with a fixed TTL.
type InMemoryCache struct {
	mu      sync.RWMutex
	records map[string]Record
	ttl     time.Duration
}

// NewInMemoryCache creates an in-memory presence cache. A zero ttl disables
// expiry.
func NewInMemoryCache(ttl time.Duration) *InMemoryCache {
	return &InMemoryCache{
		records: make(map[string]Record),
		ttl:     ttl,
	}
}

// Set stores a record for a sensor.
func (c *InMemoryCache) Set(_ context.Context, sensorID string, record Record) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records[sensorID] = record
	return nil
}

// Fetch retrieves a record, treating entries older than the TTL as absent.
func (c *InMemoryCache) Fetch(_ context.Context, sensorID string) (Record, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	record, ok := c.records[sensorID]
	if !ok {
		return Record{}, fmt.Errorf("sensor '%s' not found in presence cache", sensorID)
	}
	if c.ttl > 0 && time.Since(record.CheckedAt) > c.ttl {
		return Record{}, fmt.Errorf("presence record for sensor '%s' has expired", sensorID)
	}
	return record, nil
}

// Delete removes a sensor's record.
func (c *InMemoryCache) Delete(_ context.Context, sensorID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.records, sensorID)
	return nil
}

// Close is a no-op for the in-memory implementation.
func (c *InMemoryCache) Close() error {
	return nil
}
