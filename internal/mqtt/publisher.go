package mqtt

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"

	"github.com/nugget/wellpen/internal/config"
	"github.com/nugget/wellpen/internal/events"
)

// eventBuffer is the bus subscription depth. Events beyond it are
// dropped by the bus rather than stalling a turn.
const eventBuffer = 256

// Publisher forwards bus events to the broker.
type Publisher struct {
	cfg        config.MQTTConfig
	instanceID string
	bus        *events.Bus
	logger     *slog.Logger
	cm         *autopaho.ConnectionManager

	// publish is swapped in tests.
	publish func(ctx context.Context, msg *paho.Publish) error
}

// New creates a Publisher but does not connect. Call [Publisher.Start]
// to connect and begin forwarding.
func New(cfg config.MQTTConfig, instanceID string, bus *events.Bus, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Publisher{
		cfg:        cfg,
		instanceID: instanceID,
		bus:        bus,
		logger:     logger.With("component", "mqtt"),
	}
	p.publish = p.brokerPublish
	return p
}

// Start connects to the broker and forwards events until ctx is
// cancelled.
func (p *Publisher) Start(ctx context.Context) error {
	brokerURL, err := url.Parse(p.cfg.Broker)
	if err != nil {
		return fmt.Errorf("parse mqtt broker URL: %w", err)
	}

	availTopic := p.availabilityTopic()
	pahoCfg := autopaho.ClientConfig{
		ServerUrls:      []*url.URL{brokerURL},
		KeepAlive:       30,
		ConnectUsername: p.cfg.Username,
		ConnectPassword: []byte(p.cfg.Password),
		WillMessage: &paho.WillMessage{
			Topic:   availTopic,
			Payload: []byte("offline"),
			QoS:     1,
			Retain:  true,
		},
		OnConnectionUp: func(cm *autopaho.ConnectionManager, _ *paho.Connack) {
			p.logger.Info("mqtt connected to broker", "broker", p.cfg.Broker)
			p.publishAvailability(ctx, cm, "online")
		},
		OnConnectError: func(err error) {
			p.logger.Warn("mqtt connection error", "error", err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: p.clientID(),
		},
	}
	if brokerURL.Scheme == "mqtts" || brokerURL.Scheme == "ssl" {
		pahoCfg.TlsCfg = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	cm, err := autopaho.NewConnection(ctx, pahoCfg)
	if err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	p.cm = cm

	connCtx, connCancel := context.WithTimeout(ctx, 30*time.Second)
	defer connCancel()
	if err := cm.AwaitConnection(connCtx); err != nil {
		p.logger.Warn("mqtt initial connection timed out, will retry in background", "error", err)
	}

	p.bus.Consume(ctx, eventBuffer, func(e events.Event) {
		p.handle(ctx, e)
	})
	return nil
}

// Stop publishes "offline" and disconnects.
func (p *Publisher) Stop(ctx context.Context) error {
	if p.cm == nil {
		return nil
	}
	p.publishAvailability(ctx, p.cm, "offline")
	return p.cm.Disconnect(ctx)
}

func (p *Publisher) clientID() string {
	if p.instanceID == "" {
		return p.cfg.ClientID
	}
	short := p.instanceID
	if len(short) > 8 {
		short = short[len(short)-8:]
	}
	return p.cfg.ClientID + "-" + short
}

func (p *Publisher) availabilityTopic() string {
	return p.cfg.TopicPrefix + "/availability"
}

// topicFor maps an event to its topic and QoS. Coordinator events are
// scoped to their conversation and delivered at least once; loop
// chatter is best effort.
func (p *Publisher) topicFor(e events.Event) (string, byte) {
	if e.Source == events.SourceCoordinator {
		conv, _ := e.Data["conversation_id"].(string)
		if conv == "" {
			conv = "unknown"
		}
		return fmt.Sprintf("%s/conversations/%s/%s", p.cfg.TopicPrefix, conv, e.Kind), 1
	}
	return fmt.Sprintf("%s/%s/%s", p.cfg.TopicPrefix, e.Source, e.Kind), 0
}

func (p *Publisher) handle(ctx context.Context, e events.Event) {
	payload, err := json.Marshal(e)
	if err != nil {
		p.logger.Error("mqtt marshal event", "kind", e.Kind, "error", err)
		return
	}
	topic, qos := p.topicFor(e)
	if err := p.publish(ctx, &paho.Publish{Topic: topic, Payload: payload, QoS: qos}); err != nil {
		p.logger.Debug("mqtt event publish failed", "topic", topic, "error", err)
		return
	}
	p.logger.Log(ctx, config.LevelTrace, "mqtt event published", "topic", topic, "bytes", len(payload))
}

func (p *Publisher) brokerPublish(ctx context.Context, msg *paho.Publish) error {
	if p.cm == nil {
		return fmt.Errorf("mqtt publisher not started")
	}
	_, err := p.cm.Publish(ctx, msg)
	return err
}

func (p *Publisher) publishAvailability(ctx context.Context, cm *autopaho.ConnectionManager, status string) {
	if _, err := cm.Publish(ctx, &paho.Publish{
		Topic:   p.availabilityTopic(),
		Payload: []byte(status),
		QoS:     1,
		Retain:  true,
	}); err != nil {
		p.logger.Warn("mqtt availability publish failed", "status", status, "error", err)
	} else {
		p.logger.Info("mqtt availability published", "status", status)
	}
}
