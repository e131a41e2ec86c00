package mock

import (
	"errors"
	"sync"
	"time"
)

const defaultSampleDelay = 100 * time.Millisecond

// Clock denotes a mock clock that only advances when slept on (or advanced
// explicitly)
type Clock struct {
	now time.Time
	mu  sync.Mutex
}

// NewClock instantiates a new mock clock starting at the provided time
func NewClock(start time.Time) *Clock {
	return &Clock{now: start}
}

// Now returns the current mock time
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.now
}

// Sleep advances the mock time by d without blocking
func (c *Clock) Sleep(d time.Duration) {
	c.Advance(d)
}

// Advance advances the mock time by d
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if d > 0 {
		c.now = c.now.Add(d)
	}
}

// Sleeper denotes anything that can block for a duration (e.g. a clock)
type Sleeper interface {
	Sleep(time.Duration)
}

// Transducer denotes a mock weight transducer delivering a configurable raw
// value, optionally decreasing with every sample (simulating consumption)
type Transducer struct {
	raw         float64
	drift       float64
	ready       bool
	err         error
	reads       int
	sampleDelay time.Duration
	sleeper     Sleeper

	mu sync.Mutex
}

// NewTransducer instantiates a new mock transducer delivering raw, sleeping
// on the provided sleeper (if any) for each sample
func NewTransducer(raw float64, sleeper Sleeper) *Transducer {
	return &Transducer{
		raw:         raw,
		ready:       true,
		sampleDelay: defaultSampleDelay,
		sleeper:     sleeper,
	}
}

// IsReady returns if the mock transducer reports readiness
func (t *Transducer) IsReady() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.ready
}

// ReadRaw returns the current raw value (after applying the drift)
func (t *Transducer) ReadRaw() (float64, error) {
	t.mu.Lock()
	t.reads++
	v, err := t.raw, t.err
	t.raw -= t.drift
	sleeper, delay := t.sleeper, t.sampleDelay
	t.mu.Unlock()

	if sleeper != nil {
		sleeper.Sleep(delay)
	}
	if err != nil {
		return 0, err
	}

	return v, nil
}

// Set sets the raw value returned by subsequent reads
func (t *Transducer) Set(raw float64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.raw = raw
}

// SetDrift sets the amount the raw value decreases by per sample
func (t *Transducer) SetDrift(drift float64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.drift = drift
}

// SetReady sets the readiness of the transducer
func (t *Transducer) SetReady(ready bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.ready = ready
}

// SetError makes subsequent reads fail (nil restores normal operation)
func (t *Transducer) SetError(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.err = err
}

// Reads returns the total number of samples read so far
func (t *Transducer) Reads() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.reads
}

// ErrInjected denotes a failure injected into a mock
var ErrInjected = errors.New("injected failure")
