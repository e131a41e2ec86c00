package network

import (
	"time"

	"github.com/fako1024/lpgmon/pkg/clock"
	"github.com/fako1024/lpgmon/pkg/logging"
)

// WithRetry sets the connection attempt ceiling and the delay between attempts
func WithRetry(maxAttempts int, delay time.Duration) func(*Manager) {
	return func(m *Manager) {
		if maxAttempts > 0 {
			m.maxAttempts = maxAttempts
		}
		if delay > 0 {
			m.attemptDelay = delay
		}
	}
}

// WithPortalPort sets the port the provisioning portal listens on
func WithPortalPort(port int) func(*Manager) {
	return func(m *Manager) {
		m.portalPort = port
	}
}

// WithClock sets the clock used for delays between attempts
func WithClock(c clock.Clock) func(*Manager) {
	return func(m *Manager) {
		m.clock = c
	}
}

// WithStateChangeHandler defines a handler function that is called upon state change
func WithStateChangeHandler(fn func(from, to State)) func(*Manager) {
	return func(m *Manager) {
		m.onChange = fn
	}
}

// WithAttemptHandler defines a handler function that is called upon every
// connection attempt
func WithAttemptHandler(fn func()) func(*Manager) {
	return func(m *Manager) {
		m.onAttempt = fn
	}
}

// WithLogger sets the logger
func WithLogger(logger logging.Logger) func(*Manager) {
	return func(m *Manager) {
		m.logger = logger
	}
}
