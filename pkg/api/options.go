package api

import (
	"time"

	"github.com/fako1024/lpgmon/pkg/logging"
)

// WithReplyTimeout sets the maximum time a submission waits for the main loop
func WithReplyTimeout(timeout time.Duration) func(*Server) {
	return func(s *Server) {
		if timeout > 0 {
			s.replyTimeout = timeout
		}
	}
}

// WithResultHandler defines a handler function that is called with the result
// of every configuration submission
func WithResultHandler(fn func(result string)) func(*Server) {
	return func(s *Server) {
		s.onResult = fn
	}
}

// WithLogger sets the logger
func WithLogger(logger logging.Logger) func(*Server) {
	return func(s *Server) {
		s.logger = logger
	}
}
