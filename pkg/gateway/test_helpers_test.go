package gateway_test

import (
	"context"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/illmade-knight/go-sensor-gateway/pkg/gateway"
	"github.com/rs/zerolog"
)

// --- Mocks for the Paho MQTT client ---

type mockToken struct{ err error }

func (m *mockToken) Wait() bool                       { return true }
func (m *mockToken) WaitTimeout(_ time.Duration) bool { return true }
func (m *mockToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (m *mockToken) Error() error { return m.err }

type mockMqttMessage struct {
	topic     string
	payload   []byte
	messageID uint16
}

func (m *mockMqttMessage) Topic() string     { return m.topic }
func (m *mockMqttMessage) Payload() []byte   { return m.payload }
func (m *mockMqttMessage) MessageID() uint16 { return m.messageID }
func (m *mockMqttMessage) Duplicate() bool   { return false }
func (m *mockMqttMessage) Qos() byte         { return 1 }
func (m *mockMqttMessage) Retained() bool    { return false }
func (m *mockMqttMessage) Ack()              {}

type publishedRecord struct {
	topic   string
	payload []byte
}

type mockMqttClient struct {
	mu               sync.Mutex
	isConnected      bool
	disconnectCalled bool
	subscribed       map[string]int
	unsubscribed     []string
	published        []publishedRecord
	publishErr       error
}

func newMockMqttClient() *mockMqttClient {
	return &mockMqttClient{subscribed: make(map[string]int)}
}

func (m *mockMqttClient) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.isConnected
}
func (m *mockMqttClient) IsConnectionOpen() bool { return m.IsConnected() }
func (m *mockMqttClient) Connect() mqtt.Token {
	m.mu.Lock()
	m.isConnected = true
	m.mu.Unlock()
	return &mockToken{}
}
func (m *mockMqttClient) Disconnect(_ uint) {
	m.mu.Lock()
	m.isConnected = false
	m.disconnectCalled = true
	m.mu.Unlock()
}
func (m *mockMqttClient) Subscribe(topic string, _ byte, _ mqtt.MessageHandler) mqtt.Token {
	m.mu.Lock()
	m.subscribed[topic]++
	m.mu.Unlock()
	return &mockToken{}
}
func (m *mockMqttClient) Unsubscribe(topics ...string) mqtt.Token {
	m.mu.Lock()
	m.unsubscribed = append(m.unsubscribed, topics...)
	m.mu.Unlock()
	return &mockToken{}
}
func (m *mockMqttClient) Publish(topic string, _ byte, _ bool, payload interface{}) mqtt.Token {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.publishErr != nil {
		return &mockToken{err: m.publishErr}
	}
	m.published = append(m.published, publishedRecord{topic: topic, payload: payload.([]byte)})
	return &mockToken{}
}
func (m *mockMqttClient) SubscribeMultiple(_ map[string]byte, _ mqtt.MessageHandler) mqtt.Token {
	return &mockToken{}
}
func (m *mockMqttClient) AddRoute(_ string, _ mqtt.MessageHandler) {}
func (m *mockMqttClient) OptionsReader() mqtt.ClientOptionsReader {
	return mqtt.ClientOptionsReader{}
}

func (m *mockMqttClient) publishedRecords() []publishedRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]publishedRecord, len(m.published))
	copy(out, m.published)
	return out
}

func (m *mockMqttClient) subscribeCount(topic string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.subscribed[topic]
}

func (m *mockMqttClient) disconnect() {
	m.mu.Lock()
	m.isConnected = false
	m.mu.Unlock()
}

// --- Fake collaborators ---

type fakeDirectory struct {
	mu      sync.Mutex
	sensors []gateway.Sensor
	err     error
	calls   int
}

func (d *fakeDirectory) ListAll(_ context.Context) ([]gateway.Sensor, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	if d.err != nil {
		return nil, d.err
	}
	return d.sensors, nil
}

type appendRecord struct {
	sensorID        string
	timestampMicros int64
	value           float64
}

type fakeStore struct {
	mu      sync.Mutex
	appends []appendRecord
	err     error
}

func (s *fakeStore) Append(_ context.Context, sensorID string, timestampMicros int64, value float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.appends = append(s.appends, appendRecord{sensorID, timestampMicros, value})
	return nil
}

func (s *fakeStore) records() []appendRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]appendRecord, len(s.appends))
	copy(out, s.appends)
	return out
}

type streamRecord struct {
	topic   string
	payload []byte
}

type fakeStream struct {
	mu        sync.Mutex
	published []streamRecord
	err       error
}

func (p *fakeStream) Publish(_ context.Context, topic string, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.published = append(p.published, streamRecord{topic, payload})
	return nil
}

func (p *fakeStream) records() []streamRecord {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]streamRecord, len(p.published))
	copy(out, p.published)
	return out
}

type presenceRecord struct {
	sensorID string
	status   gateway.Status
}

type fakePresence struct {
	mu      sync.Mutex
	records []presenceRecord
}

func (p *fakePresence) RecordPing(_ context.Context, sensorID string, status gateway.Status) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.records = append(p.records, presenceRecord{sensorID, status})
}

func (p *fakePresence) recorded() []presenceRecord {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]presenceRecord, len(p.records))
	copy(out, p.records)
	return out
}

// --- Test harness ---

type testHarness struct {
	gw        *gateway.Gateway
	client    *mockMqttClient
	opts      *mqtt.ClientOptions
	directory *fakeDirectory
	store     *fakeStore
	stream    *fakeStream
	presence  *fakePresence
}

func testBrokerConfig() *gateway.BrokerConfig {
	return &gateway.BrokerConfig{
		BrokerURL:        "tcp://localhost:1883",
		ClientIDPrefix:   "test-gateway-",
		KeepAlive:        10 * time.Second,
		ConnectTimeout:   2 * time.Second,
		ReconnectWaitMax: 5 * time.Second,
		OperationTimeout: time.Second,
		PingTimeout:      120 * time.Millisecond,
		QoS:              1,
	}
}

// newTestHarness builds a connected gateway backed by a mock Paho client. The
// Paho connection callbacks are captured from the client options so tests can
// simulate broker events directly.
func newTestHarness(t *testing.T, cfg *gateway.BrokerConfig, sensors []gateway.Sensor) *testHarness {
	t.Helper()

	h := &testHarness{
		client:    newMockMqttClient(),
		directory: &fakeDirectory{sensors: sensors},
		store:     &fakeStore{},
		stream:    &fakeStream{},
		presence:  &fakePresence{},
	}

	gw, err := gateway.New(cfg, gateway.Deps{
		Directory: h.directory,
		Store:     h.store,
		Stream:    h.stream,
		Presence:  h.presence,
	}, zerolog.Nop())
	if err != nil {
		t.Fatalf("failed to build gateway: %v", err)
	}
	h.gw = gw

	gw.SetClientFactoryForTest(func(opts *mqtt.ClientOptions) mqtt.Client {
		h.opts = opts
		return h.client
	})

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	if err := gw.Connect(ctx); err != nil {
		t.Fatalf("failed to connect gateway: %v", err)
	}
	// Simulate the broker acknowledging the connection, which in production
	// fires on the Paho client's network goroutine.
	h.opts.OnConnect(h.client)

	return h
}

// deliver pushes an inbound broker message through the gateway's handler.
func (h *testHarness) deliver(topic string, payload string) {
	h.opts.DefaultPublishHandler(h.client, &mockMqttMessage{
		topic:   topic,
		payload: []byte(payload),
	})
}
