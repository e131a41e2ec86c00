package display

import "strings"

// Display denotes a small character display
type Display interface {

	// Clear blanks the frame buffer and homes the cursor
	Clear()

	// SetCursor moves the cursor to the given column / row
	SetCursor(col, row int)

	// Print writes text at the cursor, advancing it
	Print(text string)

	// Flush transfers the frame buffer to the device
	Flush() error
}

// Show clears the display, prints one line per row and flushes
func Show(d Display, lines ...string) error {
	d.Clear()
	for i, line := range lines {
		d.SetCursor(0, i)
		d.Print(line)
	}
	return d.Flush()
}

// buffer denotes a fixed-size grid of characters with a cursor
type buffer struct {
	cols, rows int
	cells      [][]rune
	col, row   int
}

func newBuffer(cols, rows int) *buffer {
	b := &buffer{
		cols: cols,
		rows: rows,
	}
	b.clear()

	return b
}

func (b *buffer) clear() {
	b.cells = make([][]rune, b.rows)
	for i := range b.cells {
		b.cells[i] = []rune(strings.Repeat(" ", b.cols))
	}
	b.col, b.row = 0, 0
}

func (b *buffer) setCursor(col, row int) {
	b.col, b.row = col, row
}

// print writes text at the cursor, clipping at the right edge of the row
func (b *buffer) print(text string) {
	if b.row < 0 || b.row >= b.rows {
		return
	}
	for _, r := range text {
		if r == '\n' {
			b.col, b.row = 0, b.row+1
			if b.row >= b.rows {
				return
			}
			continue
		}
		if b.col >= 0 && b.col < b.cols {
			b.cells[b.row][b.col] = r
		}
		b.col++
	}
}

// lines returns the buffer content with trailing blanks removed
func (b *buffer) lines() []string {
	res := make([]string, b.rows)
	for i, row := range b.cells {
		res[i] = strings.TrimRight(string(row), " ")
	}
	return res
}
