// Package tsstore persists sensor readings to a time-series table, batching
// writes so the ingestion path never blocks on a storage round trip.
package tsstore

import (
	"errors"
	"time"
)

// SensorReading is the stored row for one ingested data sample.
type SensorReading struct {
	SensorID  string    `bigquery:"sensor_id" json:"sensor_id"`
	Timestamp time.Time `bigquery:"timestamp" json:"timestamp"`
	Value     float64   `bigquery:"value" json:"value"`
}

// Wire timestamps are 16-digit microsecond epochs; anything else is device
// clock garbage and is rejected before it can pollute the table.
var (
	ErrInvalidTimestamp = errors.New("timestamp must be a positive 16-digit microsecond epoch")
	ErrTimestampTooOld  = errors.New("timestamp predates the deployment epoch")
)

// minValidMicros is 2024-01-01T00:00:00Z; no deployed sensor predates it.
const minValidMicros = int64(1704067200000000)

const maxValidMicros = int64(9999999999999999)

// NewSensorReading validates a wire timestamp/value pair and converts the
// microsecond epoch into a time.Time for storage.
func NewSensorReading(sensorID string, timestampMicros int64, value float64) (*SensorReading, error) {
	if timestampMicros <= 0 || timestampMicros > maxValidMicros || timestampMicros < int64(1000000000000000) {
		return nil, ErrInvalidTimestamp
	}
	if timestampMicros < minValidMicros {
		return nil, ErrTimestampTooOld
	}
	return &SensorReading{
		SensorID:  sensorID,
		Timestamp: time.UnixMicro(timestampMicros).UTC(),
		Value:     value,
	}, nil
}
