// Package notify publishes task activity to an MQTT broker so
// home-automation systems and other subscribers can react to todo
// changes without polling the API.
package notify

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

	"github.com/nugget/docket-ai-agent/internal/config"
	"github.com/nugget/docket-ai-agent/internal/events"
)

// Notifier manages the MQTT connection, maintains a retained
// availability topic with birth and will messages, and republishes
// task-change events from the bus.
type Notifier struct {
	cfg    config.MQTTConfig
	bus    *events.Bus
	logger *slog.Logger
	cm     *autopaho.ConnectionManager
}

// New creates a Notifier but does not connect. Call [Notifier.Start]
// to begin the connection and forwarding loop.
func New(cfg config.MQTTConfig, bus *events.Bus, logger *slog.Logger) *Notifier {
	return &Notifier{
		cfg:    cfg,
		bus:    bus,
		logger: logger.With("component", "notify"),
	}
}

// Start connects to the MQTT broker and forwards task events until ctx
// is cancelled. On every (re-)connect it publishes an "online"
// availability message; the broker publishes the "offline" will if the
// process dies uncleanly.
func (n *Notifier) Start(ctx context.Context) error {
	brokerURL, err := url.Parse(n.cfg.BrokerURL)
	if err != nil {
		return fmt.Errorf("parse mqtt broker URL: %w", err)
	}

	availTopic := n.availabilityTopic()

	pahoCfg := autopaho.ClientConfig{
		ServerUrls:      []*url.URL{brokerURL},
		KeepAlive:       30,
		ConnectUsername: n.cfg.Username,
		ConnectPassword: []byte(n.cfg.Password),
		WillMessage: &paho.WillMessage{
			Topic:   availTopic,
			Payload: []byte("offline"),
			QoS:     1,
			Retain:  true,
		},
		OnConnectionUp: func(cm *autopaho.ConnectionManager, _ *paho.Connack) {
			n.logger.Info("mqtt connected to broker", "broker", n.cfg.BrokerURL)
			n.publishAvailability(ctx, cm, "online")
		},
		OnConnectError: func(err error) {
			n.logger.Warn("mqtt connection error", "error", err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: "docket-" + n.cfg.DeviceName,
		},
	}

	// mqtts:// and ssl:// brokers get a TLS dialer.
	if brokerURL.Scheme == "mqtts" || brokerURL.Scheme == "ssl" {
		pahoCfg.TlsCfg = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
	}

	cm, err := autopaho.NewConnection(ctx, pahoCfg)
	if err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	n.cm = cm

	// Wait for the initial connection before forwarding events.
	connCtx, connCancel := context.WithTimeout(ctx, 30*time.Second)
	defer connCancel()
	if err := cm.AwaitConnection(connCtx); err != nil {
		// autopaho keeps retrying in the background.
		n.logger.Warn("mqtt initial connection timed out, will retry in background", "error", err)
	}

	n.forward(ctx)
	return nil
}

// Stop publishes the "offline" availability message and then closes
// the broker connection, so subscribers see a deliberate exit rather
// than a dropped one.
func (n *Notifier) Stop(ctx context.Context) error {
	if n.cm == nil {
		return nil
	}
	n.publishAvailability(ctx, n.cm, "offline")
	return n.cm.Disconnect(ctx)
}

// AwaitConnection blocks until the broker connection is established or
// ctx expires. Used by connwatch health probes.
func (n *Notifier) AwaitConnection(ctx context.Context) error {
	if n.cm == nil {
		return fmt.Errorf("mqtt notifier not started")
	}
	return n.cm.AwaitConnection(ctx)
}

// --- Topic layout ---

func (n *Notifier) baseTopic() string {
	return n.cfg.TopicPrefix + "/" + n.cfg.DeviceName
}

func (n *Notifier) availabilityTopic() string {
	return n.baseTopic() + "/availability"
}

func (n *Notifier) eventTopic(kind string) string {
	return n.baseTopic() + "/event/" + kind
}

// --- Event forwarding ---

// taskEventPayload is the JSON body published for one task change.
type taskEventPayload struct {
	Kind   string    `json:"kind"`
	Source string    `json:"source"`
	Owner  string    `json:"owner,omitempty"`
	TaskID string    `json:"task_id,omitempty"`
	Title  string    `json:"title,omitempty"`
	At     time.Time `json:"at"`
}

func eventPayload(e events.Event) ([]byte, error) {
	owner, _ := e.Data["owner"].(string)
	taskID, _ := e.Data["task_id"].(string)
	title, _ := e.Data["title"].(string)
	return json.Marshal(taskEventPayload{
		Kind:   e.Kind,
		Source: e.Source,
		Owner:  owner,
		TaskID: taskID,
		Title:  title,
		At:     e.Timestamp,
	})
}

// forward consumes bus events until ctx is cancelled, publishing the
// task-change subset.
func (n *Notifier) forward(ctx context.Context) {
	ch := n.bus.Subscribe(64)
	defer n.bus.Unsubscribe(ch)

	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			if !e.TaskChanged() {
				continue
			}
			n.publishEvent(ctx, e)
		}
	}
}

func (n *Notifier) publishEvent(ctx context.Context, e events.Event) {
	payload, err := eventPayload(e)
	if err != nil {
		n.logger.Error("mqtt marshal event payload", "kind", e.Kind, "error", err)
		return
	}

	if _, err := n.cm.Publish(ctx, &paho.Publish{
		Topic:   n.eventTopic(e.Kind),
		Payload: payload,
		QoS:     1,
	}); err != nil {
		n.logger.Warn("mqtt event publish failed", "kind", e.Kind, "error", err)
	} else {
		n.logger.Debug("mqtt event published", "kind", e.Kind, "topic", n.eventTopic(e.Kind))
	}
}

func (n *Notifier) publishAvailability(ctx context.Context, cm *autopaho.ConnectionManager, status string) {
	if _, err := cm.Publish(ctx, &paho.Publish{
		Topic:   n.availabilityTopic(),
		Payload: []byte(status),
		QoS:     1,
		Retain:  true,
	}); err != nil {
		n.logger.Warn("mqtt availability publish failed", "status", status, "error", err)
	} else {
		n.logger.Info("mqtt availability published", "status", status)
	}
}
