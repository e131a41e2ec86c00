package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testRecord = ProvisioningRecord{
	NetworkName:     "Home",
	NetworkPassword: "secret1",
	AccountEmail:    "user@example.com",
	AccountSecret:   "hunter2",
	FriendlyName:    "Kitchen",
}

func testBackends(t *testing.T) map[string]Backend {
	return map[string]Backend{
		"memory": NewMemory(),
		"sqlite": NewSQLite(filepath.Join(t.TempDir(), "config.db")),
	}
}

func TestUnconfigured(t *testing.T) {
	for name, backend := range testBackends(t) {
		t.Run(name, func(t *testing.T) {
			rec, configured, err := New(backend, "").Load()
			require.Nil(t, err)
			assert.False(t, configured)
			assert.Equal(t, ProvisioningRecord{}, rec)
		})
	}
}

func TestSaveLoad(t *testing.T) {
	for name, backend := range testBackends(t) {
		t.Run(name, func(t *testing.T) {
			s := New(backend, "")
			require.Nil(t, s.Save(testRecord))

			rec, configured, err := s.Load()
			require.Nil(t, err)
			assert.True(t, configured)
			assert.Equal(t, testRecord, rec)

			// Saving the same record again is a pure overwrite
			require.Nil(t, s.Save(testRecord))
			rec, configured, err = s.Load()
			require.Nil(t, err)
			assert.True(t, configured)
			assert.Equal(t, testRecord, rec)
		})
	}
}

func TestEmptyPasswordIsConfigured(t *testing.T) {
	for name, backend := range testBackends(t) {
		t.Run(name, func(t *testing.T) {
			s := New(backend, "")
			rec := testRecord
			rec.NetworkPassword = ""
			require.Nil(t, s.Save(rec))

			loaded, configured, err := s.Load()
			require.Nil(t, err)
			assert.True(t, configured)
			assert.Equal(t, rec, loaded)
		})
	}
}

func TestClear(t *testing.T) {
	for name, backend := range testBackends(t) {
		t.Run(name, func(t *testing.T) {
			s := New(backend, "")
			require.Nil(t, s.Save(testRecord))
			require.Nil(t, s.Clear())

			rec, configured, err := s.Load()
			require.Nil(t, err)
			assert.False(t, configured)
			assert.Equal(t, ProvisioningRecord{}, rec)
		})
	}
}

func TestNamespaceIsolation(t *testing.T) {
	for name, backend := range testBackends(t) {
		t.Run(name, func(t *testing.T) {
			require.Nil(t, New(backend, "a").Save(testRecord))
			_, configured, err := New(backend, "b").Load()
			require.Nil(t, err)
			assert.False(t, configured)
		})
	}
}

func TestScopedSessions(t *testing.T) {
	m := NewMemory()
	s := New(m, "")

	require.Nil(t, s.Save(testRecord))
	_, _, err := s.Load()
	require.Nil(t, err)
	require.Nil(t, s.Clear())
	assert.Equal(t, 3, m.Opens())

	sess, err := m.Open(DefaultNamespace)
	require.Nil(t, err)
	require.Nil(t, sess.Close())
	assert.ErrorIs(t, sess.Put("ssid", "x"), ErrClosed)
	assert.ErrorIs(t, sess.Close(), ErrClosed)
}

func TestPersistedLayout(t *testing.T) {
	m := NewMemory()
	require.Nil(t, New(m, "").Save(testRecord))

	assert.Equal(t, map[string]string{
		"ssid":     "Home",
		"pass":     "secret1",
		"dev_name": "Kitchen",
		"fb_email": "user@example.com",
		"fb_pass":  "hunter2",
	}, m.Snapshot(DefaultNamespace))
}
