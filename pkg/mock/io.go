package mock

import (
	"sync"

	"github.com/fako1024/lpgmon/pkg/gpio"
)

// Input denotes a mock binary input, returning a sequence of levels (the
// last level is repeated once the sequence is exhausted)
type Input struct {
	levels []gpio.Level
	reads  int

	mu sync.Mutex
}

// NewInput instantiates a new mock input returning the provided levels
func NewInput(levels ...gpio.Level) *Input {
	if len(levels) == 0 {
		levels = []gpio.Level{gpio.High}
	}
	return &Input{levels: levels}
}

// Read returns the next level of the sequence
func (i *Input) Read() (gpio.Level, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	idx := i.reads
	if idx >= len(i.levels) {
		idx = len(i.levels) - 1
	}
	i.reads++

	return i.levels[idx], nil
}

// Reads returns the number of reads so far
func (i *Input) Reads() int {
	i.mu.Lock()
	defer i.mu.Unlock()

	return i.reads
}

// Output denotes a mock binary output recording all levels set
type Output struct {
	history []gpio.Level

	mu sync.Mutex
}

// Set records the level
func (o *Output) Set(l gpio.Level) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.history = append(o.history, l)

	return nil
}

// Level returns the last level set (Low if never set)
func (o *Output) Level() gpio.Level {
	o.mu.Lock()
	defer o.mu.Unlock()

	if len(o.history) == 0 {
		return gpio.Low
	}
	return o.history[len(o.history)-1]
}

// Pulses returns the number of low-to-high transitions
func (o *Output) Pulses() int {
	o.mu.Lock()
	defer o.mu.Unlock()

	n, last := 0, gpio.Low
	for _, l := range o.history {
		if l == gpio.High && last == gpio.Low {
			n++
		}
		last = l
	}

	return n
}
