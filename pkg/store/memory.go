package store

import "sync"

// Memory denotes a volatile in-memory backend (used for simulation and tests)
type Memory struct {
	data  map[string]map[string]string
	opens int

	mu sync.Mutex
}

// NewMemory instantiates a new, empty in-memory backend
func NewMemory() *Memory {
	return &Memory{
		data: make(map[string]map[string]string),
	}
}

// Open opens a session for the given namespace
func (m *Memory) Open(namespace string) (Session, error) {
	m.mu.Lock()
	m.opens++
	m.mu.Unlock()

	return &memorySession{
		backend:   m,
		namespace: namespace,
		pending:   make(map[string]string),
	}, nil
}

// Opens returns the number of sessions opened so far
func (m *Memory) Opens() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.opens
}

// Snapshot returns a copy of all keys stored in a namespace
func (m *Memory) Snapshot(namespace string) map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()

	res := make(map[string]string, len(m.data[namespace]))
	for k, v := range m.data[namespace] {
		res[k] = v
	}
	return res
}

type memorySession struct {
	backend   *Memory
	namespace string
	pending   map[string]string
	clear     bool
	closed    bool
}

func (s *memorySession) Get(key string) (string, bool, error) {
	if s.closed {
		return "", false, ErrClosed
	}
	if v, ok := s.pending[key]; ok {
		return v, true, nil
	}
	if s.clear {
		return "", false, nil
	}

	s.backend.mu.Lock()
	defer s.backend.mu.Unlock()
	v, ok := s.backend.data[s.namespace][key]

	return v, ok, nil
}

func (s *memorySession) Put(key, value string) error {
	if s.closed {
		return ErrClosed
	}
	s.pending[key] = value

	return nil
}

func (s *memorySession) Clear() error {
	if s.closed {
		return ErrClosed
	}
	s.clear = true
	s.pending = make(map[string]string)

	return nil
}

func (s *memorySession) Close() error {
	if s.closed {
		return ErrClosed
	}
	s.closed = true

	s.backend.mu.Lock()
	defer s.backend.mu.Unlock()

	ns := s.backend.data[s.namespace]
	if ns == nil || s.clear {
		ns = make(map[string]string)
		s.backend.data[s.namespace] = ns
	}
	for k, v := range s.pending {
		ns[k] = v
	}

	return nil
}
