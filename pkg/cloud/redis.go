package cloud

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

const (

	// DeviceKeyPrefix is the key prefix of all per-device documents
	DeviceKeyPrefix = "devices:"

	redisDialTimeout  = 5 * time.Second
	redisReadTimeout  = 3 * time.Second
	redisWriteTimeout = 3 * time.Second
)

// RedisStore denotes a document store backed by Redis: documents are hashes,
// the history collection is indexed by a sorted set scored by unix time
type RedisStore struct {
	addr string
	db   int

	client *redis.Client
}

// NewRedisStore instantiates a new (not yet authenticated) Redis store
func NewRedisStore(addr string, db int) *RedisStore {
	return &RedisStore{
		addr: addr,
		db:   db,
	}
}

// SignIn connects to Redis using the account credentials as ACL user / password
func (r *RedisStore) SignIn(ctx context.Context, creds Credentials) error {
	client := redis.NewClient(&redis.Options{
		Addr:         r.addr,
		Username:     creds.Email,
		Password:     creds.Secret,
		DB:           r.db,
		PoolSize:     2,
		DialTimeout:  redisDialTimeout,
		ReadTimeout:  redisReadTimeout,
		WriteTimeout: redisWriteTimeout,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return fmt.Errorf("failed to authenticate with Redis at %s: %w", r.addr, err)
	}

	// Replace any previous session
	if r.client != nil {
		_ = r.client.Close()
	}
	r.client = client

	return nil
}

// PatchCurrent merges the current state fields into the device hash
func (r *RedisStore) PatchCurrent(ctx context.Context, deviceID string, doc CurrentState) error {
	if r.client == nil {
		return ErrNoSession
	}

	values := []interface{}{
		"current_weight_grams", doc.CurrentWeightGrams,
		"timestamp", doc.Timestamp,
	}
	if doc.DeviceName != "" {
		values = append(values, "device_name", doc.DeviceName)
	}

	if err := r.client.HSet(ctx, CurrentKey(deviceID), values...).Err(); err != nil {
		return fmt.Errorf("failed to patch current state: %w", err)
	}

	return nil
}

// AppendHistory stores a new history document and indexes it by time
func (r *RedisStore) AppendHistory(ctx context.Context, deviceID string, entry HistoryEntry) (string, error) {
	if r.client == nil {
		return "", ErrNoSession
	}

	score := float64(time.Now().Unix())
	if ts, err := time.Parse(time.RFC3339, entry.Timestamp); err == nil {
		score = float64(ts.Unix())
	}

	id := uuid.NewString()
	pipe := r.client.TxPipeline()
	pipe.HSet(ctx, HistoryKey(deviceID, id),
		"weight_grams", entry.WeightGrams,
		"timestamp", entry.Timestamp,
	)
	pipe.ZAdd(ctx, HistoryIndexKey(deviceID), &redis.Z{
		Score:  score,
		Member: id,
	})

	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("failed to append history entry: %w", err)
	}

	return id, nil
}

// Close terminates the connection to Redis
func (r *RedisStore) Close() error {
	if r.client == nil {
		return nil
	}
	err := r.client.Close()
	r.client = nil

	return err
}

// CurrentKey returns the key of the current state document of a device
func CurrentKey(deviceID string) string {
	return DeviceKeyPrefix + deviceID
}

// HistoryIndexKey returns the key of the history index of a device
func HistoryIndexKey(deviceID string) string {
	return DeviceKeyPrefix + deviceID + ":history"
}

// HistoryKey returns the key of a single history document of a device
func HistoryKey(deviceID, docID string) string {
	return HistoryIndexKey(deviceID) + ":" + docID
}
