package sink

import (
	"context"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/bryanchriswhite/riverwatch/internal/config"
	"github.com/bryanchriswhite/riverwatch/internal/logger"
)

const (
	mqttConnectTimeout = 5 * time.Second
	mqttPublishTimeout = 2 * time.Second
)

// MQTTSink publishes the JSON body to a topic. The client reconnects on
// its own; sends fail while it is offline.
type MQTTSink struct {
	client mqtt.Client
	topic  string
	qos    byte
}

// NewMQTTSink connects to the broker. A broker that is not reachable yet
// is not an error; paho keeps retrying in the background.
func NewMQTTSink(cfg config.MQTTConfig) (*MQTTSink, error) {
	if cfg.Broker == "" || cfg.Topic == "" {
		return nil, fmt.Errorf("mqtt sink needs broker and topic")
	}
	log := logger.WithComponent("sink")

	broker := cfg.Broker
	if !strings.Contains(broker, "://") {
		broker = "tcp://" + broker
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = func(c mqtt.Client) {
		log.Info().Str("broker", broker).Msg("MQTT connection established")
	}
	opts.OnConnectionLost = func(c mqtt.Client, err error) {
		log.Warn().Err(err).Str("broker", broker).Msg("MQTT connection lost, will auto-reconnect")
	}

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(mqttConnectTimeout) {
		log.Warn().Str("broker", broker).Msg("MQTT broker not reachable yet, retrying in background")
	} else if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connection failed: %w", err)
	}

	return &MQTTSink{client: client, topic: cfg.Topic, qos: cfg.QoS}, nil
}

// Name returns the sink name
func (s *MQTTSink) Name() string {
	return TypeMQTT
}

// Send publishes msg and waits for the broker acknowledgement.
func (s *MQTTSink) Send(ctx context.Context, msg *Message) error {
	if !s.client.IsConnectionOpen() {
		return fmt.Errorf("%w: mqtt not connected", ErrSendFailure)
	}

	wait := mqttPublishTimeout
	if deadline, ok := ctx.Deadline(); ok {
		wait = time.Until(deadline)
	}

	token := s.client.Publish(s.topic, s.qos, false, msg.Body)
	if !token.WaitTimeout(wait) {
		return fmt.Errorf("%w: mqtt publish timeout", ErrSendFailure)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %v", ErrSendFailure, err)
	}
	return nil
}

// Close disconnects from the broker
func (s *MQTTSink) Close() error {
	s.client.Disconnect(250)
	return nil
}
