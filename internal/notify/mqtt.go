package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"
)

// DefaultTopicPrefix roots every MQTT topic.
const DefaultTopicPrefix = "borrowd/notifications"

// MQTTConfig configures the MQTT sink.
type MQTTConfig struct {
	BrokerURL   string
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string
	QoS         byte
}

// MQTTSink publishes each notification to <prefix>/<event>.
type MQTTSink struct {
	client mqtt.Client
	prefix string
	qos    byte
}

// ConnectMQTT connects to the broker, retrying in the background after the
// first successful connect.
func ConnectMQTT(cfg MQTTConfig) (*MQTTSink, error) {
	if cfg.BrokerURL == "" {
		return nil, errors.New("MQTT broker URL is empty")
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "borrowd"
	}
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = DefaultTopicPrefix
	}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.BrokerURL).
		SetClientID(cfg.ClientID).
		SetUsername(cfg.Username).
		SetPassword(cfg.Password).
		SetConnectTimeout(5 * time.Second).
		SetKeepAlive(30 * time.Second).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(2 * time.Second)

	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		log.Warn().Err(err).Str("broker", cfg.BrokerURL).Msg("MQTT connection lost")
	}
	opts.OnConnect = func(_ mqtt.Client) {
		log.Info().Str("broker", cfg.BrokerURL).Str("client_id", cfg.ClientID).Msg("MQTT connected")
	}

	c := mqtt.NewClient(opts)
	if err := awaitConnect(c, cfg.BrokerURL, 10*time.Second); err != nil {
		return nil, err
	}
	return NewMQTTSink(c, cfg.TopicPrefix, cfg.QoS), nil
}

// awaitConnect waits for the first connect. On failure the client is
// disconnected, which also stops its connect retry loop.
func awaitConnect(c mqtt.Client, broker string, timeout time.Duration) error {
	tok := c.Connect()
	if !tok.WaitTimeout(timeout) {
		c.Disconnect(0)
		return fmt.Errorf("timed out connecting to MQTT broker %s", broker)
	}
	if err := tok.Error(); err != nil {
		c.Disconnect(0)
		return fmt.Errorf("failed to connect to MQTT broker: %w", err)
	}
	return nil
}

// NewMQTTSink wraps a connected client.
func NewMQTTSink(client mqtt.Client, topicPrefix string, qos byte) *MQTTSink {
	if topicPrefix == "" {
		topicPrefix = DefaultTopicPrefix
	}
	return &MQTTSink{client: client, prefix: strings.TrimRight(topicPrefix, "/"), qos: qos}
}

// Topic returns the topic a notification is published to.
func (s *MQTTSink) Topic(n Notification) string {
	return s.prefix + "/" + n.Event
}

func (s *MQTTSink) Name() string { return "mqtt" }

func (s *MQTTSink) Publish(ctx context.Context, n Notification) error {
	body, err := n.Marshal()
	if err != nil {
		return err
	}
	tok := s.client.Publish(s.Topic(n), s.qos, false, body)
	select {
	case <-tok.Done():
		return tok.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *MQTTSink) Close() error {
	s.client.Disconnect(250)
	return nil
}
