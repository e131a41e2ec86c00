package display

import (
	"fmt"
	"io"
	"strings"
)

const (
	consoleCols = 21
	consoleRows = 4
)

// Console denotes a display rendering its frame to a writer (e.g. stdout),
// used when running without display hardware
type Console struct {
	w    io.Writer
	buf  *buffer
	last string
}

// NewConsole instantiates a new Console display writing to w
func NewConsole(w io.Writer) *Console {
	return &Console{
		w:   w,
		buf: newBuffer(consoleCols, consoleRows),
	}
}

// Clear blanks the frame buffer
func (c *Console) Clear() {
	c.buf.clear()
}

// SetCursor moves the cursor
func (c *Console) SetCursor(col, row int) {
	c.buf.setCursor(col, row)
}

// Print writes text at the cursor
func (c *Console) Print(text string) {
	c.buf.print(text)
}

// Flush writes the frame if it changed since the last flush
func (c *Console) Flush() error {
	frame := strings.Join(c.buf.lines(), " | ")
	if frame == c.last {
		return nil
	}
	c.last = frame

	_, err := fmt.Fprintf(c.w, "[display] %s\n", strings.TrimRight(frame, " |"))
	return err
}

// Lines returns the current frame buffer content
func (c *Console) Lines() []string {
	return c.buf.lines()
}
