package display

import (
	"fmt"
	"image"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/devices/v3/ssd1306"
	"periph.io/x/devices/v3/ssd1306/image1bit"
	"periph.io/x/host/v3"
)

// OLED denotes a SSD1306 based I²C OLED display
type OLED struct {
	bus  i2c.BusCloser
	dev  *ssd1306.Dev
	face *basicfont.Face
	buf  *buffer
}

// NewOLED opens the I²C bus (empty name selects the first available bus) and
// initializes the display
func NewOLED(busName string) (*OLED, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize host drivers: %w", err)
	}

	bus, err := i2creg.Open(busName)
	if err != nil {
		return nil, fmt.Errorf("failed to open I²C bus `%s`: %w", busName, err)
	}

	dev, err := ssd1306.NewI2C(bus, &ssd1306.DefaultOpts)
	if err != nil {
		_ = bus.Close()
		return nil, fmt.Errorf("failed to initialize display: %w", err)
	}

	face := basicfont.Face7x13
	bounds := dev.Bounds()

	return &OLED{
		bus:  bus,
		dev:  dev,
		face: face,
		buf:  newBuffer(bounds.Dx()/face.Advance, bounds.Dy()/face.Height),
	}, nil
}

// Clear blanks the frame buffer
func (o *OLED) Clear() {
	o.buf.clear()
}

// SetCursor moves the cursor
func (o *OLED) SetCursor(col, row int) {
	o.buf.setCursor(col, row)
}

// Print writes text at the cursor
func (o *OLED) Print(text string) {
	o.buf.print(text)
}

// Flush renders the frame buffer and transfers it to the display
func (o *OLED) Flush() error {
	img := image1bit.NewVerticalLSB(o.dev.Bounds())
	drawer := font.Drawer{
		Dst:  img,
		Src:  &image.Uniform{C: image1bit.On},
		Face: o.face,
	}

	for i, line := range o.buf.lines() {
		drawer.Dot = fixed.P(0, i*o.face.Height+o.face.Ascent)
		drawer.DrawString(line)
	}

	return o.dev.Draw(o.dev.Bounds(), img, image.Point{})
}

// Close halts the display and releases the bus
func (o *OLED) Close() error {
	if err := o.dev.Halt(); err != nil {
		return err
	}
	return o.bus.Close()
}
