// Package publish forwards detection events to an MQTT broker.
package publish

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/jeongseonghan/scsync/internal/pipeline"
)

const (
	connectTimeout = 10 * time.Second
	publishTimeout = 5 * time.Second
	quiesceMillis  = 250
)

// ErrNotConnected is returned by Publish when the broker link is down.
var ErrNotConnected = errors.New("mqtt not connected")

// Config configures a Publisher.
type Config struct {
	Broker         string
	Topic          string
	ClientIDPrefix string
	Username       string
	Password       string
}

// client is the subset of mqtt.Client the publisher uses.
type client interface {
	IsConnected() bool
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

// Publisher publishes every detection as JSON to <topic>/detection.
type Publisher struct {
	client client
	topic  string
	logger *log.Logger
}

// Connect dials the broker and returns a publisher bound to it.
func Connect(cfg Config, logger *log.Logger) (*Publisher, error) {
	if cfg.Broker == "" {
		return nil, errors.New("mqtt broker not set")
	}
	if logger == nil {
		logger = log.New(io.Discard)
	}
	logger = logger.WithPrefix("mqtt")

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(clientID(cfg.ClientIDPrefix))
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetOnConnectHandler(func(mqtt.Client) {
		logger.Info("connected", "broker", cfg.Broker)
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warn("connection lost", "err", err)
	})
	opts.SetReconnectingHandler(func(mqtt.Client, *mqtt.ClientOptions) {
		logger.Info("reconnecting", "broker", cfg.Broker)
	})

	c := mqtt.NewClient(opts)
	token := c.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return nil, fmt.Errorf("connect to %s: timed out", cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to %s: %w", cfg.Broker, err)
	}

	return newPublisher(c, cfg.Topic, logger), nil
}

func newPublisher(c client, topic string, logger *log.Logger) *Publisher {
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &Publisher{client: c, topic: DetectionTopic(topic), logger: logger}
}

// DetectionTopic returns the topic detections are published on.
func DetectionTopic(base string) string {
	base = strings.TrimRight(base, "/")
	if base == "" {
		return "detection"
	}
	return base + "/detection"
}

func clientID(prefix string) string {
	if prefix == "" {
		prefix = "scsync"
	}
	return prefix + "-" + uuid.NewString()
}

// Topic returns the detection topic.
func (p *Publisher) Topic() string { return p.topic }

// Publish sends one event at QoS 0 and waits briefly for the client to
// hand it off.
func (p *Publisher) Publish(e pipeline.Event) error {
	if !p.client.IsConnected() {
		return ErrNotConnected
	}
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	token := p.client.Publish(p.topic, 0, false, data)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publish to %s: timed out", p.topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish to %s: %w", p.topic, err)
	}
	return nil
}

// OnDetection implements pipeline.Observer. Failures are logged and the
// event is dropped.
func (p *Publisher) OnDetection(e pipeline.Event) {
	if err := p.Publish(e); err != nil {
		p.logger.Warn("publish failed", "boundary", e.Boundary, "err", err)
	}
}

// Close disconnects from the broker.
func (p *Publisher) Close() {
	if p.client.IsConnected() {
		p.client.Disconnect(quiesceMillis)
		p.logger.Info("disconnected")
	}
}
