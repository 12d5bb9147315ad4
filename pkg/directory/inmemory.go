// Package directory provides SensorDirectory implementations backing the
// gateway's registry population.
package directory

import (
	"context"
	"fmt"
	"sync"

	"github.com/illmade-knight/go-sensor-gateway/pkg/gateway"
)

// InMemoryDirectory is a thread-safe, in-memory sensor directory. It is suited
// to tests and small fixed deployments configured at startup.
type InMemoryDirectory struct {
	mu      sync.RWMutex
	sensors map[string]gateway.Sensor
}

// NewInMemoryDirectory creates a directory seeded with the given sensors.
func NewInMemoryDirectory(sensors ...gateway.Sensor) *InMemoryDirectory {
	d := &InMemoryDirectory{sensors: make(map[string]gateway.Sensor)}
	for _, s := range sensors {
		d.sensors[s.ID] = s
	}
	return d
}

// ListAll returns every known sensor.
func (d *InMemoryDirectory) ListAll(_ context.Context) ([]gateway.Sensor, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]gateway.Sensor, 0, len(d.sensors))
	for _, s := range d.sensors {
		out = append(out, s)
	}
	return out, nil
}

// Upsert adds or replaces a sensor record.
func (d *InMemoryDirectory) Upsert(s gateway.Sensor) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sensors[s.ID] = s
}

// Delete removes a sensor record by ID.
func (d *InMemoryDirectory) Delete(id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.sensors[id]; !ok {
		return fmt.Errorf("sensor '%s' not found in directory", id)
	}
	delete(d.sensors, id)
	return nil
}
