package display

import (
	"fmt"
	"image"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/devices/v3/ssd1306/image1bit"
)

const (
	oledWidth  = 128
	oledHeight = 64

	ctrlCommand byte = 0x00
	ctrlData    byte = 0x40

	// basicfont.Face7x13 cell size.
	glyphWidth  = 7
	glyphHeight = 13
)

// initSequence configures a 128x64 panel with the internal charge pump and
// horizontal addressing.
var initSequence = []byte{
	0xAE,       // display off
	0xD5, 0x80, // clock divide
	0xA8, 0x3F, // multiplex 64
	0xD3, 0x00, // no offset
	0x40,       // start line 0
	0x8D, 0x14, // charge pump on
	0x20, 0x00, // horizontal addressing
	0xA1,       // segment remap
	0xC8,       // COM scan descending
	0xDA, 0x12, // COM pins
	0x81, 0xCF, // contrast
	0xD9, 0xF1, // precharge
	0xDB, 0x40, // VCOMH
	0xA4,       // follow RAM
	0xA6,       // normal, not inverted
	0xAF,       // display on
}

// OLED is a 128x64 SSD1306 on I²C.
type OLED struct {
	dev *i2c.Dev
	img *image1bit.VerticalLSB
}

// NewOLED initializes the panel at addr and clears it.
func NewOLED(bus i2c.Bus, addr uint16) (*OLED, error) {
	o := &OLED{
		dev: &i2c.Dev{Bus: bus, Addr: addr},
		img: image1bit.NewVerticalLSB(image.Rect(0, 0, oledWidth, oledHeight)),
	}
	if err := o.command(initSequence...); err != nil {
		return nil, fmt.Errorf("ssd1306 init: %w", err)
	}
	if err := o.flush(); err != nil {
		return nil, err
	}
	return o, nil
}

// Columns is how many glyphs fit on one line.
func (o *OLED) Columns() int {
	return oledWidth / glyphWidth
}

// Show renders f, one line per text row.
func (o *OLED) Show(f Frame) error {
	o.img = render(f)
	return o.flush()
}

// Halt blanks the panel and turns it off.
func (o *OLED) Halt() error {
	o.img = image1bit.NewVerticalLSB(image.Rect(0, 0, oledWidth, oledHeight))
	if err := o.flush(); err != nil {
		return err
	}
	return o.command(0xAE)
}

func render(f Frame) *image1bit.VerticalLSB {
	img := image1bit.NewVerticalLSB(image.Rect(0, 0, oledWidth, oledHeight))
	d := &font.Drawer{
		Dst:  img,
		Src:  &image.Uniform{image1bit.On},
		Face: basicfont.Face7x13,
	}
	for i, line := range f {
		d.Dot = fixed.P(0, (i+1)*glyphHeight)
		d.DrawString(line)
	}
	return img
}

func (o *OLED) command(cmds ...byte) error {
	return o.dev.Tx(append([]byte{ctrlCommand}, cmds...), nil)
}

// flush writes the whole frame buffer. VerticalLSB matches the controller's
// page layout byte for byte.
func (o *OLED) flush() error {
	if err := o.command(0x21, 0, oledWidth-1, 0x22, 0, oledHeight/8-1); err != nil {
		return fmt.Errorf("ssd1306 address window: %w", err)
	}
	if err := o.dev.Tx(append([]byte{ctrlData}, o.img.Pix...), nil); err != nil {
		return fmt.Errorf("ssd1306 write: %w", err)
	}
	return nil
}
