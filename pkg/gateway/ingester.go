package gateway

import (
	"context"

	"github.com/rs/zerolog"
)

// TelemetryIngester handles every inbound data sample: it attributes the
// message to a sensor through the registry, persists it to the time-series
// store, and best-effort forwards it to the secondary event stream. A fault in
// any single message must never take the handler down, so everything short of a
// successful store write is logged and dropped.
type TelemetryIngester struct {
	registry *SensorRegistry
	store    TimeSeriesStore
	stream   EventStreamPublisher
	presence PresenceRecorder
	logger   zerolog.Logger
}

// NewTelemetryIngester creates an ingester. The stream publisher and presence
// recorder may be nil when those secondary paths are not deployed.
func NewTelemetryIngester(
	registry *SensorRegistry,
	store TimeSeriesStore,
	stream EventStreamPublisher,
	presence PresenceRecorder,
	logger zerolog.Logger,
) *TelemetryIngester {
	return &TelemetryIngester{
		registry: registry,
		store:    store,
		stream:   stream,
		presence: presence,
		logger:   logger.With().Str("component", "TelemetryIngester").Logger(),
	}
}

// Ingest processes a single parsed data sample received on the given
// deviceToServer topic. The raw payload is what gets forwarded to the event
// stream, unchanged from the wire.
func (i *TelemetryIngester) Ingest(ctx context.Context, topic string, env *TelemetryEnvelope, raw []byte) {
	if env.IsReply() {
		// Command replies are owned by the ping correlation path.
		return
	}
	if env.Value == nil {
		i.logger.Debug().Str("topic", topic).Msg("Inbound message carries neither ans nor value, dropping.")
		return
	}

	sensorID, ok := i.registry.Resolve(topic)
	if !ok {
		i.logger.Warn().Str("topic", topic).Msg("Telemetry from unregistered topic, dropping.")
		return
	}

	if err := i.store.Append(ctx, sensorID, env.Timestamp, float64(*env.Value)); err != nil {
		i.logger.Error().Err(err).Str("sensor_id", sensorID).Int64("timestamp_micros", env.Timestamp).
			Msg("Failed to persist sensor reading.")
		return
	}

	if i.stream != nil {
		// Best-effort only: a failure here must never undo or affect the
		// persisted reading, and is never retried inline.
		if err := i.stream.Publish(ctx, topic, raw); err != nil {
			i.logger.Warn().Err(err).Str("sensor_id", sensorID).Msg("Event stream forward failed.")
		}
	}

	if i.presence != nil {
		// Telemetry arrival counts as a publishing liveness signal.
		i.presence.RecordPing(ctx, sensorID, StatusPublishing)
	}
}
