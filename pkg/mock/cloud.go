package mock

import (
	"context"
	"fmt"
	"sync"

	"github.com/fako1024/lpgmon/pkg/cloud"
)

// DocumentStore denotes an in-memory document store recording all write
// attempts, with failure injection
type DocumentStore struct {
	session   *cloud.Credentials
	current   map[string]map[string]interface{}
	history   map[string][]cloud.HistoryEntry
	patches   []cloud.CurrentState
	appends   int
	signIns   int
	failPatch bool
	failAdd   bool
	failAuth  bool

	mu sync.Mutex
}

// NewDocumentStore instantiates a new, empty mock document store
func NewDocumentStore() *DocumentStore {
	return &DocumentStore{
		current: make(map[string]map[string]interface{}),
		history: make(map[string][]cloud.HistoryEntry),
	}
}

// SignIn establishes a mock session (unless sign in failures are injected)
func (d *DocumentStore) SignIn(_ context.Context, creds cloud.Credentials) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.signIns++
	if d.failAuth {
		return fmt.Errorf("sign in as `%s`: %w", creds.Email, ErrInjected)
	}
	d.session = &creds

	return nil
}

// PatchCurrent merges the document into the current state of the device
func (d *DocumentStore) PatchCurrent(_ context.Context, deviceID string, doc cloud.CurrentState) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.patches = append(d.patches, doc)
	if d.session == nil {
		return cloud.ErrNoSession
	}
	if d.failPatch {
		return ErrInjected
	}

	cur := d.current[deviceID]
	if cur == nil {
		cur = make(map[string]interface{})
		d.current[deviceID] = cur
	}
	cur["current_weight_grams"] = doc.CurrentWeightGrams
	cur["timestamp"] = doc.Timestamp
	if doc.DeviceName != "" {
		cur["device_name"] = doc.DeviceName
	}

	return nil
}

// AppendHistory appends the entry to the history of the device
func (d *DocumentStore) AppendHistory(_ context.Context, deviceID string, entry cloud.HistoryEntry) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.appends++
	if d.session == nil {
		return "", cloud.ErrNoSession
	}
	if d.failAdd {
		return "", ErrInjected
	}
	d.history[deviceID] = append(d.history[deviceID], entry)

	return fmt.Sprintf("%s-%d", deviceID, len(d.history[deviceID])), nil
}

// Close terminates the mock session
func (d *DocumentStore) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.session = nil

	return nil
}

// FailSignIn toggles sign in failures
func (d *DocumentStore) FailSignIn(fail bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.failAuth = fail
}

// FailPatch toggles current state write failures
func (d *DocumentStore) FailPatch(fail bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.failPatch = fail
}

// FailAppend toggles history write failures
func (d *DocumentStore) FailAppend(fail bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.failAdd = fail
}

// SignIns returns the number of sign in attempts
func (d *DocumentStore) SignIns() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.signIns
}

// Current returns a copy of the current state document of a device
func (d *DocumentStore) Current(deviceID string) map[string]interface{} {
	d.mu.Lock()
	defer d.mu.Unlock()

	res := make(map[string]interface{}, len(d.current[deviceID]))
	for k, v := range d.current[deviceID] {
		res[k] = v
	}
	return res
}

// Patches returns all current state write attempts
func (d *DocumentStore) Patches() []cloud.CurrentState {
	d.mu.Lock()
	defer d.mu.Unlock()

	return append([]cloud.CurrentState(nil), d.patches...)
}

// History returns the stored history entries of a device
func (d *DocumentStore) History(deviceID string) []cloud.HistoryEntry {
	d.mu.Lock()
	defer d.mu.Unlock()

	return append([]cloud.HistoryEntry(nil), d.history[deviceID]...)
}

// Appends returns the number of history write attempts
func (d *DocumentStore) Appends() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.appends
}
