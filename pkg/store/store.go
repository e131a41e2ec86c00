package store

import (
	"errors"
	"fmt"
)

// DefaultNamespace is the namespace holding the provisioning record
const DefaultNamespace = "lpg-config"

// Persisted keys of the provisioning record
const (
	KeyNetworkName     = "ssid"
	KeyNetworkPassword = "pass"
	KeyFriendlyName    = "dev_name"
	KeyAccountEmail    = "fb_email"
	KeyAccountSecret   = "fb_pass"
)

// Keys lists all keys of the provisioning record
var Keys = []string{
	KeyNetworkName,
	KeyNetworkPassword,
	KeyFriendlyName,
	KeyAccountEmail,
	KeyAccountSecret,
}

// ProvisioningRecord denotes the credentials supplied during provisioning
type ProvisioningRecord struct {
	NetworkName     string
	NetworkPassword string
	AccountEmail    string
	AccountSecret   string
	FriendlyName    string
}

// Values returns the record as key / value pairs, as persisted
func (r ProvisioningRecord) Values() map[string]string {
	return map[string]string{
		KeyNetworkName:     r.NetworkName,
		KeyNetworkPassword: r.NetworkPassword,
		KeyFriendlyName:    r.FriendlyName,
		KeyAccountEmail:    r.AccountEmail,
		KeyAccountSecret:   r.AccountSecret,
	}
}

// Session denotes an open handle to a namespace of the key-value storage
type Session interface {

	// Get returns the value of a key and if it exists
	Get(key string) (string, bool, error)

	// Put stores a value
	Put(key, value string) error

	// Clear removes all keys of the namespace
	Clear() error

	// Close commits and releases the session
	Close() error
}

// Backend denotes a key-value storage surviving power loss
type Backend interface {

	// Open opens a session for the given namespace
	Open(namespace string) (Session, error)
}

// Store denotes the persistent configuration store: every operation opens a
// session, uses it and closes it again, no handle is held in between
type Store struct {
	backend   Backend
	namespace string
}

// New instantiates a new Store on top of the provided backend
func New(backend Backend, namespace string) *Store {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	return &Store{
		backend:   backend,
		namespace: namespace,
	}
}

// Load reads the provisioning record. The device counts as configured if both
// network name and password are present
func (s *Store) Load() (rec ProvisioningRecord, configured bool, err error) {
	sess, err := s.backend.Open(s.namespace)
	if err != nil {
		return rec, false, fmt.Errorf("failed to open namespace `%s`: %w", s.namespace, err)
	}
	defer func() {
		if cerr := sess.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	var present [2]bool
	for _, field := range []struct {
		key     string
		target  *string
		present *bool
	}{
		{KeyNetworkName, &rec.NetworkName, &present[0]},
		{KeyNetworkPassword, &rec.NetworkPassword, &present[1]},
		{KeyFriendlyName, &rec.FriendlyName, nil},
		{KeyAccountEmail, &rec.AccountEmail, nil},
		{KeyAccountSecret, &rec.AccountSecret, nil},
	} {
		v, ok, gerr := sess.Get(field.key)
		if gerr != nil {
			return rec, false, fmt.Errorf("failed to read key `%s`: %w", field.key, gerr)
		}
		*field.target = v
		if field.present != nil {
			*field.present = ok
		}
	}

	return rec, present[0] && present[1], nil
}

// Save overwrites the provisioning record
func (s *Store) Save(rec ProvisioningRecord) (err error) {
	sess, err := s.backend.Open(s.namespace)
	if err != nil {
		return fmt.Errorf("failed to open namespace `%s`: %w", s.namespace, err)
	}
	defer func() {
		if cerr := sess.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	values := rec.Values()
	for _, key := range Keys {
		if err = sess.Put(key, values[key]); err != nil {
			return fmt.Errorf("failed to write key `%s`: %w", key, err)
		}
	}

	return nil
}

// Clear erases the provisioning record
func (s *Store) Clear() (err error) {
	sess, err := s.backend.Open(s.namespace)
	if err != nil {
		return fmt.Errorf("failed to open namespace `%s`: %w", s.namespace, err)
	}
	defer func() {
		if cerr := sess.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	return sess.Clear()
}

// ErrClosed denotes the use of a closed session
var ErrClosed = errors.New("session already closed")
