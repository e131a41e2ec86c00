package gpio

import (
	"fmt"
	"time"

	"github.com/fako1024/lpgmon/pkg/clock"
)

// Level denotes the logical level of a binary line
type Level int

const (

	// Low denotes a low (0) line level
	Low Level = 0

	// High denotes a high (1) line level
	High Level = 1
)

// ParseLevel parses a level from its textual representation
func ParseLevel(s string) (Level, error) {
	switch s {
	case "low", "LOW", "0":
		return Low, nil
	case "high", "HIGH", "1":
		return High, nil
	}
	return Low, fmt.Errorf("invalid line level `%s`", s)
}

// Input denotes a binary input (e.g. a push button)
type Input interface {
	Read() (Level, error)
}

// Output denotes a binary output (e.g. an LED or a buzzer)
type Output interface {
	Set(Level) error
}

const defaultPulse = 100 * time.Millisecond

// Buzzer denotes an active buzzer attached to a binary output
type Buzzer struct {
	out   Output
	pulse time.Duration
	clock clock.Clock
}

// NewBuzzer instantiates a new Buzzer, pulses lasting pulse (on and off each)
func NewBuzzer(out Output, clk clock.Clock, pulse time.Duration) *Buzzer {
	if pulse <= 0 {
		pulse = defaultPulse
	}
	return &Buzzer{
		out:   out,
		pulse: pulse,
		clock: clk,
	}
}

// Buzz requests the buzzer to beep n times, blocking for n * 2 * pulse
func (b *Buzzer) Buzz(n int) (err error) {

	if n <= 0 {
		return fmt.Errorf("invalid number of beeps requested: %d", n)
	}

	// Ensure the buzzer is silenced whatever happens
	defer func() {
		if derr := b.out.Set(Low); derr != nil && err == nil {
			err = derr
		}
	}()

	for i := 0; i < n; i++ {
		if err = b.out.Set(High); err != nil {
			return
		}
		b.clock.Sleep(b.pulse)
		if err = b.out.Set(Low); err != nil {
			return
		}
		b.clock.Sleep(b.pulse)
	}

	return nil
}

// LED denotes a status LED attached to a binary output
type LED struct {
	out   Output
	state bool
	known bool
}

// NewLED instantiates a new LED
func NewLED(out Output) *LED {
	return &LED{
		out: out,
	}
}

// Set turns the LED on / off, touching the line only on changes
func (l *LED) Set(on bool) error {
	if l.known && l.state == on {
		return nil
	}

	level := Low
	if on {
		level = High
	}
	if err := l.out.Set(level); err != nil {
		return err
	}
	l.state, l.known = on, true

	return nil
}

// IsOn returns the last state set
func (l *LED) IsOn() bool {
	return l.state
}
