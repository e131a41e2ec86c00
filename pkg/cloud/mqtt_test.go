package cloud

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type token struct {
	done chan struct{}
	err  error
}

func newToken(err error) *token {
	t := &token{done: make(chan struct{}), err: err}
	close(t.done)
	return t
}

func (t *token) Wait() bool { return true }
func (t *token) WaitTimeout(time.Duration) bool { return true }
func (t *token) Done() <-chan struct{} { return t.done }
func (t *token) Error() error { return t.err }

type message struct {
	topic    string
	retained bool
	payload  []byte
}

// client records all publications, all other methods are unused
type client struct {
	mqtt.Client

	connected bool
	published []message
}

func (c *client) IsConnected() bool {
	return c.connected
}

func (c *client) Publish(topic string, _ byte, retained bool, payload interface{}) mqtt.Token {
	c.published = append(c.published, message{topic, retained, payload.([]byte)})
	return newToken(nil)
}

func (c *client) Disconnect(uint) {
	c.connected = false
}

func TestMQTTPatchCurrentMerges(t *testing.T) {
	ctx := context.Background()
	c := &client{connected: true}
	m := NewMQTTStore("tcp://localhost:1883", "test", "")
	m.client = c

	require.Nil(t, m.PatchCurrent(ctx, "A1B2C3D4E5F6", CurrentState{CurrentWeightGrams: 14500, Timestamp: "2024-03-01T12:00:00Z", DeviceName: "Kitchen"}))
	require.Nil(t, m.PatchCurrent(ctx, "A1B2C3D4E5F6", CurrentState{CurrentWeightGrams: 14480, Timestamp: "2024-03-01T12:00:10Z"}))
	require.Nil(t, m.PatchCurrent(ctx, "FFFFFFFFFFFF", CurrentState{CurrentWeightGrams: 1000, Timestamp: "2024-03-01T12:00:10Z"}))

	require.Len(t, c.published, 3)
	for _, msg := range c.published {
		assert.True(t, msg.retained)
	}
	assert.Equal(t, "lpgmon/A1B2C3D4E5F6/current", c.published[1].topic)

	var doc map[string]interface{}
	require.Nil(t, json.Unmarshal(c.published[1].payload, &doc))
	assert.Equal(t, map[string]interface{}{
		"current_weight_grams": 14480.,
		"timestamp":            "2024-03-01T12:00:10Z",
		"device_name":          "Kitchen",
	}, doc)

	// Documents of other devices are unaffected
	doc = nil
	require.Nil(t, json.Unmarshal(c.published[2].payload, &doc))
	assert.NotContains(t, doc, "device_name")

	// A renamed device replaces the name
	require.Nil(t, m.PatchCurrent(ctx, "A1B2C3D4E5F6", CurrentState{CurrentWeightGrams: 14470, Timestamp: "2024-03-01T12:00:20Z", DeviceName: "Garage"}))
	require.Nil(t, m.PatchCurrent(ctx, "A1B2C3D4E5F6", CurrentState{CurrentWeightGrams: 14460, Timestamp: "2024-03-01T12:00:30Z"}))
	doc = nil
	require.Nil(t, json.Unmarshal(c.published[4].payload, &doc))
	assert.Equal(t, "Garage", doc["device_name"])
}

func TestMQTTConnectionLost(t *testing.T) {
	ctx := context.Background()
	c := &client{connected: true}
	m := NewMQTTStore("tcp://localhost:1883", "test", "")
	m.client = c

	require.Nil(t, m.PatchCurrent(ctx, "A1B2C3D4E5F6", CurrentState{DeviceName: "Kitchen"}))

	c.connected = false
	assert.ErrorIs(t, m.PatchCurrent(ctx, "A1B2C3D4E5F6", CurrentState{}), ErrNoSession)
	_, err := m.AppendHistory(ctx, "A1B2C3D4E5F6", HistoryEntry{})
	assert.ErrorIs(t, err, ErrNoSession)
	assert.Len(t, c.published, 1)
}
