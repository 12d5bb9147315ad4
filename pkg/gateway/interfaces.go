package gateway

import (
	"context"
	"errors"
)

// Sensor is the identity record the gateway reads from the directory. Topic is
// the base topic; it is only ever used as a namespace root for the derived
// directional sub-topics.
type Sensor struct {
	ID    string `json:"id" firestore:"id"`
	Name  string `json:"name" firestore:"name"`
	Topic string `json:"topic" firestore:"topic"`
}

// SensorDirectory is the persistent source of sensor records. The gateway
// queries it once per successful broker connection to populate its live
// registry; it never writes to it.
type SensorDirectory interface {
	ListAll(ctx context.Context) ([]Sensor, error)
}

// TimeSeriesStore receives every ingested data sample. The timestamp is
// integer microseconds since epoch, passed through from the wire unchanged.
type TimeSeriesStore interface {
	Append(ctx context.Context, sensorID string, timestampMicros int64, value float64) error
}

// EventStreamPublisher is the optional secondary analytics path. Publish
// failures are logged by the ingester and never affect the primary store
// outcome, so implementations should not retry inline.
type EventStreamPublisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
}

// ErrNotConnected is returned when a command is published while the broker
// connection is down. This is a caller precondition violation, unlike transient
// transport faults which the gateway logs and absorbs.
var ErrNotConnected = errors.New("mqtt client is not connected")
