package sink

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/wartag/tagwire/config"
	"github.com/wartag/tagwire/scheduler"
)

// MQTTSink publishes scheduler Events to an MQTT broker, one retained
// message per event under <root_topic>/events. Grounded on
// mqtt/publisher.go's Publisher.Start/Publish: same broker-URL/TLS
// construction, same AutoReconnect/ConnectRetry options, same
// connect-with-timeout handshake.
type MQTTSink struct {
	cfg    *config.MQTTSinkConfig
	client pahomqtt.Client
	topic  string
}

// NewMQTTSink connects to the broker named in cfg and returns a ready
// Sink, or an error if the initial connect fails.
func NewMQTTSink(cfg *config.MQTTSinkConfig) (*MQTTSink, error) {
	opts := pahomqtt.NewClientOptions()
	if cfg.UseTLS {
		opts.AddBroker(fmt.Sprintf("ssl://%s:%d", cfg.Broker, cfg.Port))
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	} else {
		opts.AddBroker(fmt.Sprintf("tcp://%s:%d", cfg.Broker, cfg.Port))
	}
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetKeepAlive(30 * time.Second)

	client := pahomqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(5 * time.Second) {
		return nil, fmt.Errorf("sink: mqtt connect to %s:%d timed out", cfg.Broker, cfg.Port)
	}
	if token.Error() != nil {
		return nil, fmt.Errorf("sink: mqtt connect to %s:%d: %w", cfg.Broker, cfg.Port, token.Error())
	}

	return &MQTTSink{
		cfg:    cfg,
		client: client,
		topic:  cfg.RootTopic + "/events",
	}, nil
}

// Publish sends one retained QoS-1 message for ev.
func (s *MQTTSink) Publish(ctx context.Context, ev scheduler.Event) error {
	payload, err := marshal(newMessage(ev))
	if err != nil {
		return err
	}
	token := s.client.Publish(s.topic, 1, true, payload)
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	if !token.WaitTimeout(2 * time.Second) {
		return fmt.Errorf("sink: mqtt publish to %s timed out", s.topic)
	}
	return token.Error()
}

// Close disconnects from the broker, allowing in-flight publishes 500ms
// to drain (mirrors mqtt/publisher.go's Stop).
func (s *MQTTSink) Close() error {
	s.client.Disconnect(500)
	return nil
}
