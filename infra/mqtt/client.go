// Package mqtt implements the node's MQTT adapters on Eclipse Paho: the
// transport carrying transactive signals between nodes and the client
// reading and writing device points through a gateway.
package mqtt

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"time"

	"github.com/cenkalti/backoff/v4"
	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/kilianp07/transactive/core/monitoring"
	coremqtt "github.com/kilianp07/transactive/core/mqtt"
	"github.com/kilianp07/transactive/infra/logger"
)

// Config defines the connection parameters for the Paho MQTT client.
type Config struct {
	Broker       string          `json:"broker"`
	ClientID     string          `json:"client_id"`
	Username     string          `json:"username"`
	Password     string          `json:"password"`
	TopicPrefix  string          `json:"topic_prefix"`
	UseTLS       bool            `json:"use_tls"`
	ClientCert   string          `json:"client_cert"`
	ClientKey    string          `json:"client_key"`
	CABundle     string          `json:"ca_bundle"`
	AuthMethod   string          `json:"auth_method"`
	QoS          map[string]byte `json:"qos"`
	LWTTopic     string          `json:"lwt_topic"`
	LWTPayload   string          `json:"lwt_payload"`
	LWTQoS       byte            `json:"lwt_qos"`
	LWTRetain    bool            `json:"lwt_retain"`
	MaxRetries   int             `json:"max_retries"`
	BackoffMS    int             `json:"backoff_ms"`
	AckTimeoutMS int             `json:"ack_timeout_ms"`
	// MaxValueAgeSeconds rejects point readings older than this. Zero
	// accepts any age.
	MaxValueAgeSeconds int         `json:"max_value_age_seconds"`
	TLSConfig          *tls.Config `json:"-"`
}

// SetDefaults fills zero values with defaults.
func (c *Config) SetDefaults() {
	if c.TopicPrefix == "" {
		c.TopicPrefix = coremqtt.DefaultPrefix
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.BackoffMS <= 0 {
		c.BackoffMS = 100
	}
	if c.AckTimeoutMS <= 0 {
		c.AckTimeoutMS = 5000
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.Broker == "" {
		return fmt.Errorf("mqtt broker is required")
	}
	if c.ClientID == "" {
		return fmt.Errorf("mqtt client_id is required")
	}
	return nil
}

func (c Config) qos(kind string) byte {
	if q, ok := c.QoS[kind]; ok {
		return q
	}
	return 0
}

func (c Config) topics() coremqtt.Topics { return coremqtt.Topics{Prefix: c.TopicPrefix} }

// pahoClient is the subset of paho.Client used by the adapters.
type pahoClient interface {
	IsConnected() bool
	Connect() paho.Token
	Disconnect(quiesce uint)
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
	Subscribe(topic string, qos byte, callback paho.MessageHandler) paho.Token
}

var newMQTTClient = func(opts *paho.ClientOptions) pahoClient {
	return paho.NewClient(opts)
}

// NewClientOptions builds mqtt client options from Config.
func NewClientOptions(cfg Config) (*paho.ClientOptions, error) {
	opts := paho.NewClientOptions().AddBroker(cfg.Broker).SetClientID(cfg.ClientID)
	opts.AutoReconnect = true
	if cfg.AuthMethod == "username_password" || cfg.AuthMethod == "both" || cfg.AuthMethod == "" {
		if cfg.Username != "" {
			opts.SetUsername(cfg.Username)
		}
		if cfg.Password != "" {
			opts.SetPassword(cfg.Password)
		}
	}
	if cfg.UseTLS {
		tlsCfg, err := cfg.LoadTLSConfig()
		if err != nil {
			return nil, err
		}
		opts.SetTLSConfig(tlsCfg)
	}
	if cfg.LWTTopic != "" {
		opts.SetWill(cfg.LWTTopic, cfg.LWTPayload, cfg.LWTQoS, cfg.LWTRetain)
	}
	return opts, nil
}

// LoadTLSConfig loads the TLS configuration from the file paths in the config.
func (c Config) LoadTLSConfig() (*tls.Config, error) {
	if c.TLSConfig != nil {
		return c.TLSConfig, nil
	}
	if c.ClientCert == "" || c.ClientKey == "" || c.CABundle == "" {
		return nil, fmt.Errorf("tls config requires client_cert, client_key and ca_bundle")
	}
	cert, err := tls.LoadX509KeyPair(c.ClientCert, c.ClientKey)
	if err != nil {
		return nil, fmt.Errorf("load cert: %w", err)
	}
	caBytes, err := os.ReadFile(c.CABundle)
	if err != nil {
		return nil, fmt.Errorf("read ca: %w", err)
	}
	pool := x509.NewCertPool()
	pool.AppendCertsFromPEM(caBytes)
	return &tls.Config{Certificates: []tls.Certificate{cert}, RootCAs: pool, MinVersion: tls.VersionTLS12}, nil
}

// subscription is restored on every (re)connect.
type subscription struct {
	topic   string
	qos     byte
	handler paho.MessageHandler
}

// conn wraps a connected paho client with retrying publishes.
type conn struct {
	cfg     Config
	cli     pahoClient
	log     logger.Logger
	monitor monitoring.Monitor
}

func dial(cfg Config, log logger.Logger, subs ...subscription) (*conn, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	opts, err := NewClientOptions(cfg)
	if err != nil {
		return nil, err
	}
	log = logger.OrNew(log, "mqtt")
	c := &conn{cfg: cfg, log: log, monitor: monitoring.NopMonitor{}}
	opts.OnConnect = func(pc paho.Client) {
		log.Infof("MQTT connected to %s", cfg.Broker)
		for _, s := range subs {
			if token := pc.Subscribe(s.topic, s.qos, s.handler); token.Wait() && token.Error() != nil {
				log.Errorf("subscribe %s: %v", s.topic, token.Error())
			}
		}
	}
	opts.OnConnectionLost = func(_ paho.Client, err error) {
		log.Errorf("connection lost: %v", err)
	}
	opts.OnReconnecting = func(_ paho.Client, _ *paho.ClientOptions) {
		log.Warnf("reconnecting to MQTT broker")
	}
	cli := newMQTTClient(opts)
	if token := cli.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("connect %s: %w", cfg.Broker, token.Error())
	}
	c.cli = cli
	return c, nil
}

// publish sends payload, retrying with exponential backoff up to MaxRetries
// times or until ctx is done.
func (c *conn) publish(ctx context.Context, topic string, qos byte, payload []byte, tags map[string]string) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Duration(c.cfg.BackoffMS) * time.Millisecond
	b.MaxElapsedTime = 0
	attempt := 0
	op := func() error {
		attempt++
		token := c.cli.Publish(topic, qos, false, payload)
		token.Wait()
		if err := token.Error(); err != nil {
			c.log.Errorf("publish %s attempt %d failed: %v", topic, attempt, err)
			return err
		}
		return nil
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(c.cfg.MaxRetries)), ctx)
	if err := backoff.Retry(op, policy); err != nil {
		err = fmt.Errorf("publish %s: %w", topic, err)
		c.monitor.CaptureException(err, tags)
		return err
	}
	return nil
}

func (c *conn) disconnect() {
	if c.cli != nil && c.cli.IsConnected() {
		c.cli.Disconnect(250)
	}
}
