package scale

import "github.com/fako1024/lpgmon/pkg/logging"

// WithFactor sets the calibration factor (raw counts per gram)
func WithFactor(factor float64) func(*Sensor) {
	return func(s *Sensor) {
		s.factor = factor
	}
}

// WithTareSamples sets the number of samples averaged during tare
func WithTareSamples(n int) func(*Sensor) {
	return func(s *Sensor) {
		if n > 0 {
			s.tareSamples = n
		}
	}
}

// WithLogger sets the logger
func WithLogger(logger logging.Logger) func(*Sensor) {
	return func(s *Sensor) {
		s.logger = logger
	}
}
