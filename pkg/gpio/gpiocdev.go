package gpio

import (
	"fmt"

	"github.com/warthog618/go-gpiocdev"
)

// Line denotes a GPIO line requested via the Linux GPIO character device
type Line struct {
	line *gpiocdev.Line
}

// RequestInput requests a line on chip as input with pull-up bias
func RequestInput(chip string, offset int) (*Line, error) {
	l, err := gpiocdev.RequestLine(chip, offset, gpiocdev.AsInput, gpiocdev.WithPullUp)
	if err != nil {
		return nil, fmt.Errorf("failed to request input line %s/%d: %w", chip, offset, err)
	}

	return &Line{line: l}, nil
}

// RequestOutput requests a line on chip as output, initially low
func RequestOutput(chip string, offset int) (*Line, error) {
	l, err := gpiocdev.RequestLine(chip, offset, gpiocdev.AsOutput(int(Low)))
	if err != nil {
		return nil, fmt.Errorf("failed to request output line %s/%d: %w", chip, offset, err)
	}

	return &Line{line: l}, nil
}

// Read returns the current level of the line
func (l *Line) Read() (Level, error) {
	v, err := l.line.Value()
	if err != nil {
		return Low, err
	}
	if v != 0 {
		return High, nil
	}

	return Low, nil
}

// Set drives the line to the given level
func (l *Line) Set(level Level) error {
	return l.line.SetValue(int(level))
}

// Close releases the line
func (l *Line) Close() error {
	return l.line.Close()
}
