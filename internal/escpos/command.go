// Package escpos turns label content into ESC/POS command bytes. Nothing in
// this package performs I/O or keeps state between calls.
package escpos

import (
	"bytes"

	"btlabel/internal/imaging"
)

const (
	esc = 0x1B
	gs  = 0x1D
)

// maxFeedLines is the largest n accepted by ESC d n
const maxFeedLines = 255

// maxRasterBand is the row count sent per GS v 0 command
const maxRasterBand = 255

// Character size values for GS ! n (width and height multipliers)
const (
	sizeNormal byte = 0x00
	sizeDouble byte = 0x11
	sizeLarge  byte = 0x22
)

// Command builds an ESC/POS byte stream
type Command struct {
	buf bytes.Buffer
}

func New() *Command {
	return &Command{}
}

// Init resets the printer to power-on defaults (ESC @)
func (c *Command) Init() *Command {
	c.buf.Write([]byte{esc, '@'})
	return c
}

// CodeTable selects the character code table (ESC t n)
func (c *Command) CodeTable(n byte) *Command {
	c.buf.Write([]byte{esc, 't', n})
	return c
}

// CharSize sets the character magnification (GS ! n)
func (c *Command) CharSize(n byte) *Command {
	c.buf.Write([]byte{gs, '!', n})
	return c
}

// Emphasis turns bold on or off (ESC E n)
func (c *Command) Emphasis(on bool) *Command {
	var n byte
	if on {
		n = 1
	}
	c.buf.Write([]byte{esc, 'E', n})
	return c
}

// Raw appends bytes unchanged
func (c *Command) Raw(p []byte) *Command {
	c.buf.Write(p)
	return c
}

// Feed prints the buffer and feeds n lines (ESC d n), split into several
// commands when n exceeds what one command can carry
func (c *Command) Feed(lines int) *Command {
	for lines > 0 {
		n := lines
		if n > maxFeedLines {
			n = maxFeedLines
		}
		c.buf.Write([]byte{esc, 'd', byte(n)})
		lines -= n
	}
	return c
}

// qr writes one GS ( k function for QR code symbol (cn = 49)
func (c *Command) qr(fn byte, data ...byte) *Command {
	n := len(data) + 2
	c.buf.Write([]byte{gs, '(', 'k', byte(n), byte(n >> 8), '1', fn})
	c.buf.Write(data)
	return c
}

// QRModel selects model 2 symbols
func (c *Command) QRModel() *Command {
	return c.qr('A', '2', 0)
}

// QRModuleSize sets the module size in dots, 1-16
func (c *Command) QRModuleSize(n byte) *Command {
	return c.qr('C', n)
}

// QRErrorCorrection sets the level, 0 (L) to 3 (H)
func (c *Command) QRErrorCorrection(level byte) *Command {
	return c.qr('E', '0'+level)
}

// QRStore loads symbol data into the printer's symbol storage area
func (c *Command) QRStore(data []byte) *Command {
	return c.qr('P', append([]byte{'0'}, data...)...)
}

// QRPrint prints the stored symbol
func (c *Command) QRPrint() *Command {
	return c.qr('Q', '0')
}

// Raster prints a bitmap with GS v 0, in bands of at most maxRasterBand rows
func (c *Command) Raster(bm imaging.Bitmap) *Command {
	wb := bm.WidthBytes()
	for y := 0; y < bm.Height; y += maxRasterBand {
		rows := bm.Height - y
		if rows > maxRasterBand {
			rows = maxRasterBand
		}
		c.buf.Write([]byte{gs, 'v', '0', 0, byte(wb), byte(wb >> 8), byte(rows), byte(rows >> 8)})
		c.buf.Write(bm.Data[y*wb : (y+rows)*wb])
	}
	return c
}

// Cut feeds to the cutter and performs a partial cut (GS V 66 0)
func (c *Command) Cut() *Command {
	c.buf.Write([]byte{gs, 'V', 66, 0})
	return c
}

// Bytes returns a copy of the command stream
func (c *Command) Bytes() []byte {
	return bytes.Clone(c.buf.Bytes())
}
