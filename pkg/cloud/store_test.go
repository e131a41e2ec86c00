package cloud_test

import (
	"context"
	"testing"
	"time"

	"github.com/fako1024/lpgmon/pkg/cloud"
	"github.com/stretchr/testify/assert"
)

func TestTimestamp(t *testing.T) {
	ts := time.Date(2024, 3, 1, 13, 4, 5, 600, time.FixedZone("CET", 3600))
	assert.Equal(t, "2024-03-01T12:04:05Z", cloud.Timestamp(ts))
}

func TestRedisKeys(t *testing.T) {
	assert.Equal(t, "devices:A1B2C3D4E5F6", cloud.CurrentKey(testDeviceID))
	assert.Equal(t, "devices:A1B2C3D4E5F6:history", cloud.HistoryIndexKey(testDeviceID))
	assert.Equal(t, "devices:A1B2C3D4E5F6:history:doc1", cloud.HistoryKey(testDeviceID, "doc1"))
}

func TestMQTTTopics(t *testing.T) {
	m := cloud.NewMQTTStore("tcp://localhost:1883", "test", "")
	assert.Equal(t, "lpgmon/A1B2C3D4E5F6/current", m.CurrentTopic(testDeviceID))
	assert.Equal(t, "lpgmon/A1B2C3D4E5F6/history/doc1", m.HistoryTopic(testDeviceID, "doc1"))

	m = cloud.NewMQTTStore("tcp://localhost:1883", "test", "home/gas")
	assert.Equal(t, "home/gas/A1B2C3D4E5F6/current", m.CurrentTopic(testDeviceID))
}

func TestWritesWithoutSession(t *testing.T) {
	ctx := context.Background()
	entry := cloud.HistoryEntry{WeightGrams: 14500, Timestamp: cloud.Timestamp(testStart)}

	for _, store := range []cloud.DocumentStore{
		cloud.NewRedisStore("localhost:6379", 0),
		cloud.NewMQTTStore("tcp://localhost:1883", "test", ""),
	} {
		assert.ErrorIs(t, store.PatchCurrent(ctx, testDeviceID, cloud.CurrentState{}), cloud.ErrNoSession)
		_, err := store.AppendHistory(ctx, testDeviceID, entry)
		assert.ErrorIs(t, err, cloud.ErrNoSession)
		assert.Nil(t, store.Close())
	}
}
