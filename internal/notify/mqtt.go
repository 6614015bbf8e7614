package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"moodline/internal/models"
)

type MQTTConfig struct {
	Broker   string
	ClientID string
	Username string
	Password string
	Topic    string
}

// Publisher is the subset of mqtt.Client used for dispatch.
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// NewMQTTClient connects to the broker with auto-reconnect enabled.
func NewMQTTClient(cfg MQTTConfig) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetCleanSession(true)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}
	return client, nil
}

// MQTTNotifier publishes each alert to <topic>/<partyID>, where the
// responsible party's devices subscribe.
type MQTTNotifier struct {
	publisher Publisher
	topic     string
	logger    *zap.Logger
}

func NewMQTTNotifier(publisher Publisher, topic string, logger *zap.Logger) *MQTTNotifier {
	if topic == "" {
		topic = "moodline/alerts"
	}
	return &MQTTNotifier{publisher: publisher, topic: strings.TrimSuffix(topic, "/"), logger: logger}
}

func (n *MQTTNotifier) Notify(ctx context.Context, partyID string, summary models.AlertSummary) (bool, error) {
	payload, err := json.Marshal(summary)
	if err != nil {
		return false, err
	}
	topic := n.topic + "/" + partyID
	token := n.publisher.Publish(topic, 1, false, payload)
	select {
	case <-token.Done():
	case <-ctx.Done():
		return false, fmt.Errorf("publish to %s: %w", topic, ctx.Err())
	}
	if err := token.Error(); err != nil {
		return false, fmt.Errorf("publish to %s: %w", topic, err)
	}
	n.logger.Debug("alert published", zap.String("topic", topic), zap.String("alert_id", summary.AlertID))
	return true, nil
}
