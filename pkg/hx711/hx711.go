package hx711

import (
	"fmt"
	"time"

	"github.com/fako1024/lpgmon/pkg/logging"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/devices/v3/hx711"
	"periph.io/x/host/v3"
)

const defaultTimeout = 500 * time.Millisecond

// HX711 denotes a load cell attached via a HX711 24-bit amplifier
type HX711 struct {
	dev     *hx711.Dev
	timeout time.Duration

	logger logging.Logger
}

// New instantiates a new HX711 transducer on the given clock / data pins
// (e.g. "GPIO5" / "GPIO6"), executing functional options, if any
func New(clockPin, dataPin string, options ...func(*HX711)) (*HX711, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize host drivers: %w", err)
	}

	clk := gpioreg.ByName(clockPin)
	if clk == nil {
		return nil, fmt.Errorf("failed to find clock pin `%s`", clockPin)
	}
	data := gpioreg.ByName(dataPin)
	if data == nil {
		return nil, fmt.Errorf("failed to find data pin `%s`", dataPin)
	}

	dev, err := hx711.New(clk, data)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize HX711: %w", err)
	}

	h := &HX711{
		dev:     dev,
		timeout: defaultTimeout,
		logger:  &logging.NullLogger{},
	}

	// Execute functional options (if any)
	for _, option := range options {
		option(h)
	}
	h.logger.Debugf("initialized HX711 on clock pin %s / data pin %s", clockPin, dataPin)

	return h, nil
}

// WithTimeout sets the maximum time to wait for a conversion
func WithTimeout(timeout time.Duration) func(*HX711) {
	return func(h *HX711) {
		if timeout > 0 {
			h.timeout = timeout
		}
	}
}

// WithLogger sets the logger
func WithLogger(logger logging.Logger) func(*HX711) {
	return func(h *HX711) {
		h.logger = logger
	}
}

// IsReady returns if a conversion result is available
func (h *HX711) IsReady() bool {
	return h.dev.IsReady()
}

// ReadRaw waits for the next conversion and returns the raw count
func (h *HX711) ReadRaw() (float64, error) {
	v, err := h.dev.ReadTimeout(h.timeout)
	if err != nil {
		return 0, fmt.Errorf("failed to read from HX711: %w", err)
	}

	return float64(v), nil
}

// Close powers down the amplifier
func (h *HX711) Close() error {
	return h.dev.Halt()
}
