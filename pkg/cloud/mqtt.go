package cloud

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
)

const (
	defaultTopicPrefix = "lpgmon"
	mqttQoS            = 1
	mqttConnectTimeout = 10 * time.Second
)

// MQTTStore denotes a document store publishing documents to an MQTT broker:
// the current state is a retained message, history entries are published on
// per-document topics
type MQTTStore struct {
	broker      string
	clientID    string
	topicPrefix string

	client  mqtt.Client
	current map[string]CurrentState
}

// NewMQTTStore instantiates a new (not yet connected) MQTT store
func NewMQTTStore(broker, clientID, topicPrefix string) *MQTTStore {
	if topicPrefix == "" {
		topicPrefix = defaultTopicPrefix
	}
	return &MQTTStore{
		broker:      broker,
		clientID:    clientID,
		topicPrefix: topicPrefix,
		current:     make(map[string]CurrentState),
	}
}

// SignIn connects to the broker using the account credentials
func (m *MQTTStore) SignIn(ctx context.Context, creds Credentials) error {
	opts := mqtt.NewClientOptions().
		AddBroker(m.broker).
		SetClientID(m.clientID).
		SetUsername(creds.Email).
		SetPassword(creds.Secret).
		SetAutoReconnect(false).
		SetConnectTimeout(mqttConnectTimeout)

	client := mqtt.NewClient(opts)
	if err := wait(ctx, client.Connect()); err != nil {
		return fmt.Errorf("failed to connect to MQTT broker %s: %w", m.broker, err)
	}

	if m.client != nil {
		m.client.Disconnect(250)
	}
	m.client = client

	return nil
}

// PatchCurrent merges the fields into the last published current state
// document and publishes the result (retained), since a retained message
// replaces its predecessor as a whole
func (m *MQTTStore) PatchCurrent(ctx context.Context, deviceID string, doc CurrentState) error {
	if doc.DeviceName == "" {
		doc.DeviceName = m.current[deviceID].DeviceName
	}
	if err := m.publish(ctx, m.CurrentTopic(deviceID), true, doc); err != nil {
		return err
	}
	m.current[deviceID] = doc

	return nil
}

// AppendHistory publishes a new history document
func (m *MQTTStore) AppendHistory(ctx context.Context, deviceID string, entry HistoryEntry) (string, error) {
	id := uuid.NewString()
	if err := m.publish(ctx, m.HistoryTopic(deviceID, id), false, entry); err != nil {
		return "", err
	}

	return id, nil
}

// Close disconnects from the broker
func (m *MQTTStore) Close() error {
	if m.client != nil {
		m.client.Disconnect(250)
		m.client = nil
	}

	return nil
}

// CurrentTopic returns the topic of the current state document of a device
func (m *MQTTStore) CurrentTopic(deviceID string) string {
	return fmt.Sprintf("%s/%s/current", m.topicPrefix, deviceID)
}

// HistoryTopic returns the topic of a single history document of a device
func (m *MQTTStore) HistoryTopic(deviceID, docID string) string {
	return fmt.Sprintf("%s/%s/history/%s", m.topicPrefix, deviceID, docID)
}

////////////////////////////////////////////////////////////////////////////////

func (m *MQTTStore) publish(ctx context.Context, topic string, retained bool, payload interface{}) error {
	if m.client == nil || !m.client.IsConnected() {
		return ErrNoSession
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal document: %w", err)
	}

	if err := wait(ctx, m.client.Publish(topic, mqttQoS, retained, data)); err != nil {
		return fmt.Errorf("failed to publish to `%s`: %w", topic, err)
	}

	return nil
}

func wait(ctx context.Context, token mqtt.Token) error {
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return fmt.Errorf("timed out waiting for broker: %w", ctx.Err())
	}
}
