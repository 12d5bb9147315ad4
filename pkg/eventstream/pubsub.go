// Package eventstream provides the best-effort secondary analytics path for
// ingested telemetry.
package eventstream

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/rs/zerolog"
)

// PubSubConfig holds configuration for the Pub/Sub event stream publisher.
type PubSubConfig struct {
	ProjectID string
	TopicID   string
	// TopicExistsTimeout bounds the existence check at construction time.
	TopicExistsTimeout time.Duration
	// ConfirmTimeout bounds how long the background confirmation goroutine
	// waits for a publish result before logging it as lost.
	ConfirmTimeout time.Duration
}

// NewPubSubConfigDefaults provides a config with sensible defaults.
func NewPubSubConfigDefaults() *PubSubConfig {
	return &PubSubConfig{
		TopicExistsTimeout: 15 * time.Second,
		ConfirmTimeout:     20 * time.Second,
	}
}

// PubSubPublisher forwards raw telemetry payloads to a Google Pub/Sub topic.
// Publish hands the message to the client's internal batcher and returns
// immediately; delivery confirmation happens on a background goroutine so the
// MQTT receive path is never held up by the analytics pipeline.
type PubSubPublisher struct {
	topic          *pubsub.Topic
	logger         zerolog.Logger
	confirmTimeout time.Duration
}

// NewPubSubPublisher creates a publisher after validating the topic exists.
func NewPubSubPublisher(
	ctx context.Context,
	cfg *PubSubConfig,
	client *pubsub.Client,
	logger zerolog.Logger,
) (*PubSubPublisher, error) {
	if client == nil {
		return nil, fmt.Errorf("pubsub client cannot be nil")
	}

	topic := client.Topic(cfg.TopicID)
	existsCtx, cancel := context.WithTimeout(ctx, cfg.TopicExistsTimeout)
	defer cancel()
	exists, err := topic.Exists(existsCtx)
	if err != nil {
		return nil, fmt.Errorf("failed to check for topic %s: %w", cfg.TopicID, err)
	}
	if !exists {
		return nil, fmt.Errorf("pubsub topic %s does not exist", cfg.TopicID)
	}

	logger.Info().Str("topic_id", cfg.TopicID).Msg("PubSubPublisher initialized successfully.")
	return &PubSubPublisher{
		topic:          topic,
		logger:         logger.With().Str("component", "PubSubPublisher").Str("topic_id", cfg.TopicID).Logger(),
		confirmTimeout: cfg.ConfirmTimeout,
	}, nil
}

// Publish forwards one raw telemetry payload, tagged with its MQTT topic.
func (p *PubSubPublisher) Publish(ctx context.Context, topic string, payload []byte) error {
	res := p.topic.Publish(ctx, &pubsub.Message{
		Data:       payload,
		Attributes: map[string]string{"mqtt_topic": topic},
	})

	// Confirm asynchronously; the ingester treats this path as fire-and-forget
	// and a slow broker must not create backpressure upstream.
	go func() {
		confirmCtx, cancel := context.WithTimeout(context.Background(), p.confirmTimeout)
		defer cancel()
		if _, err := res.Get(confirmCtx); err != nil {
			p.logger.Warn().Err(err).Str("mqtt_topic", topic).Msg("Event stream publish was not confirmed.")
		}
	}()
	return nil
}

// Stop flushes outstanding publishes and releases topic resources.
func (p *PubSubPublisher) Stop() {
	p.topic.Stop()
	p.logger.Info().Msg("PubSubPublisher stopped.")
}
