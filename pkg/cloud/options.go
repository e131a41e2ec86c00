package cloud

import (
	"github.com/fako1024/lpgmon/pkg/clock"
	"github.com/fako1024/lpgmon/pkg/logging"
)

// WithPolicy sets the sync policy
func WithPolicy(p Policy) func(*Engine) {
	return func(e *Engine) {
		e.policy = p
	}
}

// WithClock sets the clock used for all cadence decisions
func WithClock(c clock.Clock) func(*Engine) {
	return func(e *Engine) {
		e.clock = c
	}
}

// WithAlerter sets the audible signal used upon write failures
func WithAlerter(a Alerter) func(*Engine) {
	return func(e *Engine) {
		e.alerter = a
	}
}

// WithObserver sets a function that is called upon every executed (i.e. not
// skipped) cadence step
func WithObserver(fn func(cadence string, o Outcome, weight float64)) func(*Engine) {
	return func(e *Engine) {
		e.observer = fn
	}
}

// WithLogger sets the logger
func WithLogger(logger logging.Logger) func(*Engine) {
	return func(e *Engine) {
		e.logger = logger
	}
}
