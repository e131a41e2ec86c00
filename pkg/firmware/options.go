package firmware

import (
	"github.com/fako1024/lpgmon/pkg/clock"
	"github.com/fako1024/lpgmon/pkg/logging"
	"github.com/fako1024/lpgmon/pkg/metrics"
)

// WithSettings sets the timing and wiring parameters
func WithSettings(s Settings) func(*Loop) {
	return func(l *Loop) {
		l.settings = s
	}
}

// WithClock sets the clock driving all timers and delays
func WithClock(c clock.Clock) func(*Loop) {
	return func(l *Loop) {
		l.clock = c
	}
}

// WithMetrics sets the metrics collectors to update
func WithMetrics(m *metrics.Metrics) func(*Loop) {
	return func(l *Loop) {
		l.metrics = m
	}
}

// WithLogger sets the logger, which is passed on to all components
func WithLogger(logger logging.Logger) func(*Loop) {
	return func(l *Loop) {
		l.logger = logger
	}
}
