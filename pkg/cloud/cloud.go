package cloud

import (
	"context"
	"errors"
	"time"
)

// ErrNoSession denotes a write attempt without an authenticated session
var ErrNoSession = errors.New("no authenticated cloud session")

// Credentials denotes the remote account used to authenticate a session
type Credentials struct {
	Email  string
	Secret string
}

// CurrentState denotes the per-device "current state" document (merge write)
type CurrentState struct {
	CurrentWeightGrams float64 `json:"current_weight_grams"`
	Timestamp          string  `json:"timestamp"`
	DeviceName         string  `json:"device_name,omitempty"`
}

// HistoryEntry denotes a single document in the per-device history collection
type HistoryEntry struct {
	WeightGrams float64 `json:"weight_grams"`
	Timestamp   string  `json:"timestamp"`
}

// DocumentStore denotes the remote document store the device reports to
type DocumentStore interface {

	// SignIn establishes an authenticated session, replacing any prior one
	SignIn(ctx context.Context, creds Credentials) error

	// PatchCurrent merges the provided fields into the current state document
	PatchCurrent(ctx context.Context, deviceID string, doc CurrentState) error

	// AppendHistory creates a new document in the history collection of the
	// device and returns its ID
	AppendHistory(ctx context.Context, deviceID string, entry HistoryEntry) (string, error)

	// Close terminates the session (if any)
	Close() error
}

// Timestamp formats t as ISO-8601 / RFC 3339 UTC, as stored in documents
func Timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
