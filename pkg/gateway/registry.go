package gateway

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

// topicSubscriber is the slice of broker behaviour the registry needs. The
// Gateway implements it over its Paho client; tests substitute a fake.
type topicSubscriber interface {
	SubscribeTopic(ctx context.Context, topic string) error
	UnsubscribeTopic(ctx context.Context, topic string) error
}

// SensorRegistry maps each sensor's deviceToServer sub-topic to its identity so
// that inbound messages can be attributed in O(1). Every insert is paired with
// a broker subscribe and every delete with an unsubscribe; the map mutation and
// the broker operation are both attempted even if one fails, with failures
// logged rather than returned, so the registry converges with the broker's
// subscription set rather than wedging on a transient fault.
type SensorRegistry struct {
	mu         sync.RWMutex
	entries    map[string]Sensor
	subscriber topicSubscriber
	logger     zerolog.Logger
}

// NewSensorRegistry creates an empty registry bound to the given subscriber.
func NewSensorRegistry(subscriber topicSubscriber, logger zerolog.Logger) *SensorRegistry {
	return &SensorRegistry{
		entries:    make(map[string]Sensor),
		subscriber: subscriber,
		logger:     logger.With().Str("component", "SensorRegistry").Logger(),
	}
}

// Add inserts the sensor keyed by its deviceToServer topic and subscribes to
// that topic. Subscribing twice is harmless, so Add is safe to call for a
// sensor that is already registered.
func (r *SensorRegistry) Add(ctx context.Context, sensor Sensor) {
	topic := DeviceToServerTopic(sensor.Topic)

	r.mu.Lock()
	r.entries[topic] = sensor
	r.mu.Unlock()

	if err := r.subscriber.SubscribeTopic(ctx, topic); err != nil {
		r.logger.Warn().Err(err).Str("topic", topic).Str("sensor_id", sensor.ID).
			Msg("Failed to subscribe to sensor topic; registry entry kept.")
		return
	}
	r.logger.Debug().Str("topic", topic).Str("sensor_id", sensor.ID).Str("sensor_name", sensor.Name).
		Msg("Sensor registered and topic subscribed.")
}

// Remove deletes the sensor registered under the given base topic and
// unsubscribes from its deviceToServer topic.
func (r *SensorRegistry) Remove(ctx context.Context, baseTopic string) {
	topic := DeviceToServerTopic(baseTopic)

	r.mu.Lock()
	delete(r.entries, topic)
	r.mu.Unlock()

	if err := r.subscriber.UnsubscribeTopic(ctx, topic); err != nil {
		r.logger.Warn().Err(err).Str("topic", topic).
			Msg("Failed to unsubscribe from sensor topic; registry entry removed anyway.")
	}
}

// Resolve returns the sensor ID registered for the given deviceToServer topic.
// It runs on every inbound message.
func (r *SensorRegistry) Resolve(topic string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.entries[topic]
	return entry.ID, ok
}

// Topics returns a snapshot of all registered deviceToServer topics.
func (r *SensorRegistry) Topics() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	topics := make([]string, 0, len(r.entries))
	for topic := range r.entries {
		topics = append(topics, topic)
	}
	return topics
}

// Sensors returns a snapshot of all registered sensor records.
func (r *SensorRegistry) Sensors() []Sensor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sensors := make([]Sensor, 0, len(r.entries))
	for _, sensor := range r.entries {
		sensors = append(sensors, sensor)
	}
	return sensors
}

// Len returns the number of registered sensors.
func (r *SensorRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Clear unsubscribes every registered topic and empties the registry. It is
// invoked on connection loss, where the unsubscribes are expected to fail and
// only matter as best-effort cleanup against a broker that still considers the
// session live.
func (r *SensorRegistry) Clear(ctx context.Context) {
	r.mu.Lock()
	topics := make([]string, 0, len(r.entries))
	for topic := range r.entries {
		topics = append(topics, topic)
	}
	r.entries = make(map[string]Sensor)
	r.mu.Unlock()

	for _, topic := range topics {
		if err := r.subscriber.UnsubscribeTopic(ctx, topic); err != nil {
			r.logger.Debug().Err(err).Str("topic", topic).Msg("Best-effort unsubscribe during clear failed.")
		}
	}
	r.logger.Info().Int("cleared", len(topics)).Msg("Sensor registry cleared.")
}
