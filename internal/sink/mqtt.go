package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	sds011 "github.com/hjkoskel/sds011sampler"
	"github.com/hjkoskel/sds011sampler/internal/config"
)

// part of mqtt.Client we need
type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

type MQTTSink struct {
	client  publisher
	topic   string
	timeout time.Duration
}

func NewMQTTSink(cfg config.MQTTConfig) (*MQTTSink, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID("sds011-" + uuid.NewString()).
		SetAutoReconnect(true).
		SetConnectTimeout(timeout)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	c := mqtt.NewClient(opts)
	token := c.Connect()
	if !token.WaitTimeout(timeout) {
		return nil, fmt.Errorf("mqtt connect to %v timed out", cfg.Broker)
	}
	if token.Error() != nil {
		return nil, fmt.Errorf("mqtt connect to %v: %w", cfg.Broker, token.Error())
	}
	return newMQTTSink(c, cfg.Topic, timeout), nil
}

func newMQTTSink(client publisher, topic string, timeout time.Duration) *MQTTSink {
	return &MQTTSink{client: client, topic: topic, timeout: timeout}
}

func (p *MQTTSink) Name() string {
	return "mqtt"
}

func (p *MQTTSink) Record(ctx context.Context, r sds011.Reading) error {
	payload, err := json.Marshal(NewPayload(r))
	if err != nil {
		return err
	}
	token := p.client.Publish(p.topic, 0, false, payload)
	timeout := p.timeout
	if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) < timeout {
		timeout = time.Until(deadline)
	}
	if !token.WaitTimeout(timeout) {
		return fmt.Errorf("publish to %v timed out", p.topic)
	}
	return token.Error()
}

func (p *MQTTSink) Close() error {
	p.client.Disconnect(250)
	return nil
}
