package clock

import "time"

// Clock denotes a source of wall-clock time that can also block the caller
type Clock interface {

	// Now returns the current time
	Now() time.Time

	// Sleep blocks for the given duration
	Sleep(d time.Duration)
}

// Real denotes the system clock
type Real struct{}

// Now returns the current system time
func (Real) Now() time.Time {
	return time.Now()
}

// Sleep pauses the calling goroutine for at least d
func (Real) Sleep(d time.Duration) {
	time.Sleep(d)
}
