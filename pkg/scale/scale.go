package scale

import (
	"errors"
	"fmt"
	"time"

	"github.com/fako1024/lpgmon/pkg/logging"
)

const (
	defaultTareSamples = 10
	defaultFactor      = 1.
)

var (

	// ErrNotReady denotes that the transducer did not report readiness
	ErrNotReady = errors.New("weight transducer not ready")

	// ErrInvalidSampleCount denotes a request for a non-positive number of samples
	ErrInvalidSampleCount = errors.New("invalid number of samples requested")
)

// Transducer denotes a raw weight transducer (e.g. a load cell amplifier)
type Transducer interface {

	// IsReady returns if the transducer is able to deliver samples
	IsReady() bool

	// ReadRaw blocks until a single raw sample is available and returns it
	ReadRaw() (float64, error)
}

// Sensor denotes a calibrated weight sensor, converting raw transducer
// counts to grams using a fixed linear factor and a tare offset
type Sensor struct {
	transducer  Transducer
	factor      float64
	offset      float64
	tareSamples int

	logger logging.Logger
}

// New instantiates a new Sensor for the provided transducer, executing
// functional options, if any
func New(t Transducer, options ...func(*Sensor)) (*Sensor, error) {
	if t == nil {
		return nil, errors.New("no transducer provided")
	}

	s := &Sensor{
		transducer:  t,
		factor:      defaultFactor,
		tareSamples: defaultTareSamples,
		logger:      &logging.NullLogger{},
	}

	// Execute functional options (if any), see options.go for implementation
	for _, option := range options {
		option(s)
	}

	if s.factor == 0 {
		return nil, errors.New("calibration factor must not be zero")
	}

	return s, nil
}

// IsReady returns if the underlying transducer is ready
func (s *Sensor) IsReady() bool {
	return s.transducer.IsReady()
}

// Tare zeroes the baseline using the average of a fixed number of raw samples
func (s *Sensor) Tare() error {
	raw, err := s.readRaw(s.tareSamples)
	if err != nil {
		return fmt.Errorf("failed to tare sensor: %w", err)
	}
	s.offset = raw
	s.logger.Debugf("tared sensor, offset is now %.2f", s.offset)

	return nil
}

// Offset returns the current tare offset (in raw counts)
func (s *Sensor) Offset() float64 {
	return s.offset
}

// Read returns the calibrated weight averaged over n samples, blocking for
// approximately n times the sample period of the transducer
func (s *Sensor) Read(n int) (DataPoint, error) {
	raw, err := s.readRaw(n)
	if err != nil {
		return DataPoint{}, err
	}

	return DataPoint{
		TimeStamp: time.Now(),
		Unit:      UnitGrams,
		Weight:    (raw - s.offset) / s.factor,
		Samples:   n,
	}, nil
}

// Calibrate derives the calibration factor from a reference weight (in grams)
// placed on the tared sensor, averaging n samples. The factor is applied to
// all subsequent readings and returned
func (s *Sensor) Calibrate(known float64, n int) (float64, error) {
	if known <= 0 {
		return 0, fmt.Errorf("invalid reference weight: %.2f", known)
	}

	raw, err := s.readRaw(n)
	if err != nil {
		return 0, fmt.Errorf("failed to read reference weight: %w", err)
	}

	factor := (raw - s.offset) / known
	if factor == 0 {
		return 0, errors.New("reference weight not detected")
	}
	s.factor = factor

	return factor, nil
}

// Factor returns the calibration factor (raw counts per gram)
func (s *Sensor) Factor() float64 {
	return s.factor
}

// ReadRaw returns the uncalibrated average over n samples
func (s *Sensor) ReadRaw(n int) (float64, error) {
	return s.readRaw(n)
}

////////////////////////////////////////////////////////////////////////////////

func (s *Sensor) readRaw(n int) (float64, error) {
	if n <= 0 {
		return 0, fmt.Errorf("%w: %d", ErrInvalidSampleCount, n)
	}

	var sum float64
	for i := 0; i < n; i++ {
		v, err := s.transducer.ReadRaw()
		if err != nil {
			return 0, fmt.Errorf("failed to read sample %d/%d: %w", i+1, n, err)
		}
		sum += v
	}

	return sum / float64(n), nil
}
