package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
)

// Status is the caller-facing outcome of a ping, mapped 1:1 from the wire
// replies: pong, pong.publishing, or no reply within the deadline.
type Status string

const (
	StatusOnline     Status = "online"
	StatusPublishing Status = "publishing"
	StatusOffline    Status = "offline"
)

// PresenceRecorder receives ping outcomes for sensors the gateway could
// attribute. It is strictly best-effort; implementations must not block.
type PresenceRecorder interface {
	RecordPing(ctx context.Context, sensorID string, status Status)
}

// RawArchiver receives a copy of every inbound broker payload. Enqueue must
// never block: it is called on the Paho client's network goroutine.
type RawArchiver interface {
	Enqueue(topic string, payload []byte)
}

// Deps bundles the gateway's external collaborators. Directory and Store are
// required; the rest are optional secondary paths.
type Deps struct {
	Directory SensorDirectory
	Store     TimeSeriesStore
	Stream    EventStreamPublisher
	Presence  PresenceRecorder
	Archiver  RawArchiver
}

// Gateway bridges HTTP-triggered session intents to the MQTT broker and
// ingests the telemetry devices publish back. One Gateway owns one physical
// broker connection; construct it once at process start and pass the handle to
// every HTTP handler that needs it.
type Gateway struct {
	cfg      *BrokerConfig
	deps     Deps
	logger   zerolog.Logger
	registry *SensorRegistry
	ingester *TelemetryIngester
	waiters  *pingWaiters

	client    mqtt.Client
	newClient func(opts *mqtt.ClientOptions) mqtt.Client
	ctx       context.Context
	closing   atomic.Bool
	stopOnce  sync.Once
}

// New creates a Gateway. It does not connect until Connect is called.
func New(cfg *BrokerConfig, deps Deps, logger zerolog.Logger) (*Gateway, error) {
	if cfg.BrokerURL == "" {
		return nil, fmt.Errorf("MQTT broker URL is required")
	}
	if deps.Directory == nil {
		return nil, fmt.Errorf("sensor directory is required")
	}
	if deps.Store == nil {
		return nil, fmt.Errorf("time-series store is required")
	}

	g := &Gateway{
		cfg:       cfg,
		deps:      deps,
		logger:    logger.With().Str("component", "Gateway").Logger(),
		waiters:   newPingWaiters(),
		newClient: mqtt.NewClient,
		ctx:       context.Background(),
	}
	g.registry = NewSensorRegistry(g, logger)
	g.ingester = NewTelemetryIngester(g.registry, deps.Store, deps.Stream, deps.Presence, logger)
	return g, nil
}

// SetClientFactoryForTest replaces the Paho client constructor for unit testing.
func (g *Gateway) SetClientFactoryForTest(f func(opts *mqtt.ClientOptions) mqtt.Client) {
	g.newClient = f
}

// Registry exposes the live sensor registry, mainly for tests and diagnostics.
func (g *Gateway) Registry() *SensorRegistry {
	return g.registry
}

// Connect establishes the broker connection. It is idempotent: calling it while
// already connected is a no-op. A failed initial attempt is logged rather than
// returned because the Paho client keeps retrying in the background and the
// OnConnect handler completes setup whenever the connection lands.
func (g *Gateway) Connect(ctx context.Context) error {
	if g.client != nil && g.client.IsConnected() {
		return nil
	}
	g.ctx = ctx
	g.client = g.newClient(g.clientOptions())

	g.logger.Info().Str("broker", g.cfg.BrokerURL).Msg("Attempting to connect to MQTT broker...")
	if token := g.client.Connect(); token.WaitTimeout(g.cfg.ConnectTimeout) && token.Error() != nil {
		g.logger.Error().Err(token.Error()).Msg("Failed to connect to MQTT broker on startup. The Paho client will continue to retry in the background.")
	} else if token.Error() == nil {
		g.logger.Info().Msg("Initial connection to MQTT broker successful.")
	}
	return nil
}

// Close gracefully shuts the gateway down: handlers are neutralised first so
// the gateway does not react to its own disconnect, the registry is cleared,
// and the transport is closed with a grace period for in-flight acks. In-flight
// pings are not cancelled; they time out naturally since no further messages
// arrive.
func (g *Gateway) Close(ctx context.Context) error {
	g.stopOnce.Do(func() {
		g.logger.Info().Int("inflight_pings", g.waiters.len()).Msg("Closing gateway...")
		g.closing.Store(true)
		if g.client != nil && g.client.IsConnected() {
			g.registry.Clear(ctx)
			g.client.Disconnect(500) // 500ms grace period
		}
		g.logger.Info().Msg("Gateway closed.")
	})
	return nil
}

// IsConnected returns the connection status of the underlying Paho client.
func (g *Gateway) IsConnected() bool {
	return g.client != nil && g.client.IsConnected()
}

// ClientTopic returns the topic a web client should subscribe to for a live
// feed of the given sensor. Pure derivation, no I/O.
func (g *Gateway) ClientTopic(baseTopic string) string {
	return DeviceToServerTopic(baseTopic)
}

// AddSensor registers a sensor created while the gateway is already connected
// and subscribes to its topic.
func (g *Gateway) AddSensor(ctx context.Context, sensor Sensor) {
	g.registry.Add(ctx, sensor)
}

// RemoveSensor drops a deleted sensor from the live set and unsubscribes.
func (g *Gateway) RemoveSensor(ctx context.Context, baseTopic string) {
	g.registry.Remove(ctx, baseTopic)
}

// SendStartSignal tells the device on the given base topic to start publishing.
func (g *Gateway) SendStartSignal(ctx context.Context, baseTopic string) error {
	return g.publishCommand(ctx, baseTopic, CommandStart)
}

// SendStopSignal tells the device on the given base topic to stop publishing.
func (g *Gateway) SendStopSignal(ctx context.Context, baseTopic string) error {
	return g.publishCommand(ctx, baseTopic, CommandStop)
}

// SendPingSignal probes the device on the given base topic and waits for a
// correlated reply. It returns StatusOffline with a nil error when the device
// does not answer within the configured deadline; silence is a valid outcome,
// not a fault.
func (g *Gateway) SendPingSignal(ctx context.Context, baseTopic string) (Status, error) {
	if !g.IsConnected() {
		return StatusOffline, ErrNotConnected
	}

	// A ping may target a sensor that has not been registered yet, so make sure
	// its reply topic is subscribed. Subscribing twice is harmless.
	replyTopic := DeviceToServerTopic(baseTopic)
	if err := g.SubscribeTopic(ctx, replyTopic); err != nil {
		g.logger.Warn().Err(err).Str("topic", replyTopic).Msg("Ping subscribe failed, proceeding anyway.")
	}

	id, replyCh := g.waiters.register(replyTopic)
	defer g.waiters.remove(id)

	if err := g.publishCommand(ctx, baseTopic, CommandPing); err != nil {
		return StatusOffline, err
	}

	timer := time.NewTimer(g.cfg.PingTimeout)
	defer timer.Stop()

	status := StatusOffline
	select {
	case reply := <-replyCh:
		if reply == ReplyPongPublishing {
			status = StatusPublishing
		} else {
			status = StatusOnline
		}
	case <-timer.C:
	case <-ctx.Done():
		return StatusOffline, ctx.Err()
	}

	if g.deps.Presence != nil {
		if sensorID, ok := g.registry.Resolve(replyTopic); ok {
			g.deps.Presence.RecordPing(ctx, sensorID, status)
		}
	}
	return status, nil
}

// SubscribeTopic subscribes the gateway to a broker topic, routing its messages
// through the default inbound handler.
func (g *Gateway) SubscribeTopic(_ context.Context, topic string) error {
	if !g.IsConnected() {
		return ErrNotConnected
	}
	if token := g.client.Subscribe(topic, g.cfg.QoS, nil); token.WaitTimeout(g.cfg.OperationTimeout) && token.Error() != nil {
		return fmt.Errorf("subscribe %s: %w", topic, token.Error())
	}
	return nil
}

// UnsubscribeTopic removes a broker subscription.
func (g *Gateway) UnsubscribeTopic(_ context.Context, topic string) error {
	if !g.IsConnected() {
		return ErrNotConnected
	}
	if token := g.client.Unsubscribe(topic); token.WaitTimeout(g.cfg.OperationTimeout) && token.Error() != nil {
		return fmt.Errorf("unsubscribe %s: %w", topic, token.Error())
	}
	return nil
}

// publishCommand serializes a command envelope stamped with the current time
// and publishes it on the sensor's serverToDevice topic. Publishing while
// disconnected is a caller precondition violation and is returned; a transport
// fault on an acknowledged connection is logged and absorbed so a single flaky
// publish cannot take the command path down.
func (g *Gateway) publishCommand(_ context.Context, baseTopic string, cmd Command) error {
	if !g.IsConnected() {
		return ErrNotConnected
	}

	payload, err := json.Marshal(NewCommandEnvelope(cmd))
	if err != nil {
		return fmt.Errorf("marshal command envelope: %w", err)
	}

	topic := ServerToDeviceTopic(baseTopic)
	if token := g.client.Publish(topic, g.cfg.QoS, false, payload); token.WaitTimeout(g.cfg.OperationTimeout) && token.Error() != nil {
		g.logger.Error().Err(token.Error()).Str("topic", topic).Str("cmd", string(cmd)).Msg("Command publish failed.")
	}
	return nil
}

// handleConnect runs on every successful (re)connection. It repopulates the
// registry from the directory and resubscribes every known sensor, which makes
// recovery after an unexpected drop indistinguishable from a fresh start.
func (g *Gateway) handleConnect(_ mqtt.Client) {
	if g.closing.Load() {
		return
	}
	g.logger.Info().Str("broker", g.cfg.BrokerURL).Msg("Connected to MQTT broker.")

	sensors, err := g.deps.Directory.ListAll(g.ctx)
	if err != nil {
		g.logger.Error().Err(err).Msg("Failed to list sensors from directory on connect.")
		return
	}
	for _, sensor := range sensors {
		g.registry.Add(g.ctx, sensor)
	}
	g.logger.Info().Int("sensor_count", len(sensors)).Msg("Sensor registry populated and topics subscribed.")
}

// handleConnectionLost runs on an unsolicited transport drop. The registry is
// cleared so it cannot go stale while the Paho client reconnects in the
// background; handleConnect rebuilds it once the connection returns.
func (g *Gateway) handleConnectionLost(_ mqtt.Client, err error) {
	if g.closing.Load() {
		return
	}
	g.logger.Error().Err(err).Msg("Lost MQTT connection, clearing registry until reconnect.")
	g.registry.Clear(g.ctx)
}

// handleMessage is the single inbound handler for every subscribed topic. It
// dispatches on payload shape: command replies feed the ping correlation table,
// data samples feed the ingester. Malformed payloads are logged and dropped.
func (g *Gateway) handleMessage(_ mqtt.Client, msg mqtt.Message) {
	payload := make([]byte, len(msg.Payload()))
	copy(payload, msg.Payload())
	topic := msg.Topic()

	if g.deps.Archiver != nil {
		g.deps.Archiver.Enqueue(topic, payload)
	}

	env, err := ParseTelemetry(payload)
	if err != nil {
		g.logger.Warn().Err(err).Str("topic", topic).Msg("Dropping malformed inbound message.")
		return
	}

	if env.IsReply() {
		if env.Ans == ReplyPong || env.Ans == ReplyPongPublishing {
			g.waiters.resolve(topic, env.Ans)
		}
		return
	}

	g.ingester.Ingest(g.ctx, topic, env, payload)
}

// clientOptions assembles the Paho client options. Reconnection after an
// unexpected drop is delegated to the Paho client's bounded backoff rather than
// reconnecting unconditionally in the lost-connection handler.
func (g *Gateway) clientOptions() *mqtt.ClientOptions {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(g.cfg.BrokerURL)
	uniqueSuffix := time.Now().UnixNano() % 1000000
	opts.SetClientID(fmt.Sprintf("%s%d", g.cfg.ClientIDPrefix, uniqueSuffix))
	opts.SetUsername(g.cfg.Username)
	opts.SetPassword(g.cfg.Password)
	opts.SetKeepAlive(g.cfg.KeepAlive)
	opts.SetConnectTimeout(g.cfg.ConnectTimeout)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetMaxReconnectInterval(g.cfg.ReconnectWaitMax)
	opts.SetOrderMatters(false)

	opts.SetOnConnectHandler(g.handleConnect)
	opts.SetConnectionLostHandler(g.handleConnectionLost)
	opts.SetDefaultPublishHandler(g.handleMessage)

	lowered := strings.ToLower(g.cfg.BrokerURL)
	if strings.HasPrefix(lowered, "tls://") || strings.HasPrefix(lowered, "ssl://") || strings.HasPrefix(lowered, "mqtts://") {
		tlsConfig, err := newTLSConfig(g.cfg)
		if err != nil {
			g.logger.Error().Err(err).Msg("Failed to create TLS config, proceeding without it.")
		} else {
			opts.SetTLSConfig(tlsConfig)
			g.logger.Info().Msg("TLS configured for MQTT client.")
		}
	}
	return opts
}
