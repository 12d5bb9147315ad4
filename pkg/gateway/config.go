package gateway

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"
)

// BrokerConfig holds all necessary configuration for the gateway's Paho MQTT client.
type BrokerConfig struct {
	// BrokerURL is the full URL of the MQTT broker to connect to.
	// Example: "tls://mqtt.example.com:8883"
	BrokerURL string
	// Username for authenticating with the MQTT broker.
	Username string
	// Password for authenticating with the MQTT broker.
	Password string
	// ClientIDPrefix is a prefix for the MQTT client ID. A unique suffix is
	// automatically added to ensure client uniqueness, which is required by most brokers.
	ClientIDPrefix string
	// KeepAlive is the interval at which the client sends keep-alive pings to the broker.
	KeepAlive time.Duration
	// ConnectTimeout is the timeout for the initial connection attempt.
	ConnectTimeout time.Duration
	// ReconnectWaitMax bounds the Paho client's reconnect backoff after an
	// unexpected connection loss.
	ReconnectWaitMax time.Duration
	// OperationTimeout bounds individual subscribe, unsubscribe and publish
	// acknowledgements.
	OperationTimeout time.Duration
	// PingTimeout is how long SendPingSignal waits for a device reply before
	// reporting the sensor offline.
	PingTimeout time.Duration
	// QoS is the quality-of-service level used for all subscriptions and publishes.
	QoS byte
	// CACertFile is an optional path to a CA certificate file for verifying the broker's certificate.
	CACertFile string
	// ClientCertFile is an optional path to a client certificate file for mTLS authentication.
	ClientCertFile string
	// ClientKeyFile is an optional path to a client key file for mTLS authentication.
	ClientKeyFile string
	// InsecureSkipVerify skips TLS certificate verification.
	// This is NOT recommended for production environments.
	InsecureSkipVerify bool
}

// Env constants for broker settings.
const (
	EnvBrokerURL             = "MQTT_BROKER_URL"
	EnvBrokerUsername        = "MQTT_USERNAME"
	EnvBrokerPassword        = "MQTT_PASSWORD"
	EnvSkipVerify            = "MQTT_INSECURE_SKIP_VERIFY"
	EnvKeepAliveSeconds      = "MQTT_KEEP_ALIVE_SECONDS"
	EnvConnectTimeoutSeconds = "MQTT_CONNECT_TIMEOUT_SECONDS"
	EnvPingTimeoutMillis     = "MQTT_PING_TIMEOUT_MILLIS"
)

// LoadBrokerConfigFromEnv loads broker configuration from environment variables,
// populating timeouts and keep-alive intervals with sensible defaults if the
// environment variables are not set.
func LoadBrokerConfigFromEnv() *BrokerConfig {
	cfg := &BrokerConfig{
		BrokerURL:        os.Getenv(EnvBrokerURL),
		Username:         os.Getenv(EnvBrokerUsername),
		Password:         os.Getenv(EnvBrokerPassword),
		ClientIDPrefix:   "sensor-gateway-",
		KeepAlive:        60 * time.Second,       // Default
		ConnectTimeout:   10 * time.Second,       // Default
		ReconnectWaitMax: 120 * time.Second,      // Default
		OperationTimeout: 5 * time.Second,        // Default
		PingTimeout:      500 * time.Millisecond, // Default
		QoS:              1,
	}
	if skipVerify := os.Getenv(EnvSkipVerify); skipVerify == "true" {
		cfg.InsecureSkipVerify = true
	}

	// Parse durations if set in env, otherwise use defaults.
	if ka := os.Getenv(EnvKeepAliveSeconds); ka != "" {
		s, err := time.ParseDuration(ka + "s")
		if err == nil {
			cfg.KeepAlive = s
		} else {
			log.Printf("gateway: error parsing keepAlive seconds: %s, using default", err)
		}
	}
	if ct := os.Getenv(EnvConnectTimeoutSeconds); ct != "" {
		s, err := time.ParseDuration(ct + "s")
		if err == nil {
			cfg.ConnectTimeout = s
		} else {
			log.Printf("gateway: error parsing connect timeout seconds: %s, using default", err)
		}
	}
	if pt := os.Getenv(EnvPingTimeoutMillis); pt != "" {
		s, err := time.ParseDuration(pt + "ms")
		if err == nil {
			cfg.PingTimeout = s
		} else {
			log.Printf("gateway: error parsing ping timeout millis: %s, using default", err)
		}
	}

	return cfg
}

// newTLSConfig is a helper to create a tls.Config for tls:// broker URLs.
func newTLSConfig(cfg *BrokerConfig) (*tls.Config, error) {
	tlsConfig := &tls.Config{InsecureSkipVerify: cfg.InsecureSkipVerify}
	if cfg.CACertFile != "" {
		caCert, err := os.ReadFile(cfg.CACertFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA cert file %s: %w", cfg.CACertFile, err)
		}
		caCertPool := x509.NewCertPool()
		if !caCertPool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("failed to append CA cert from %s", cfg.CACertFile)
		}
		tlsConfig.RootCAs = caCertPool
	}
	if cfg.ClientCertFile != "" && cfg.ClientKeyFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.ClientCertFile, cfg.ClientKeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load client certificate/key pair: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}
	return tlsConfig, nil
}
