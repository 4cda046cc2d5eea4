// Package tspl builds TSPL/TSPL2 commands for gap-label printers that do
// not speak ESC/POS.
package tspl

import (
	"fmt"
	"strings"
)

// LabelSize represents a supported label dimension
type LabelSize struct {
	Name   string
	Width  float64 // mm
	Height float64 // mm
	PixelW int     // printable dots across
	PixelH int     // printable dots down
}

// Common label sizes at 203 dpi
var (
	Label12x40 = LabelSize{"12x40mm", 12.0, 40.0, 96, 284}
	Label14x40 = LabelSize{"14x40mm", 14.0, 40.0, 96, 284}
	Label14x50 = LabelSize{"14x50mm", 14.0, 50.0, 96, 355}
	Label15x30 = LabelSize{"15x30mm", 15.0, 30.0, 96, 213}
	Label40x30 = LabelSize{"40x30mm", 40.0, 30.0, 320, 240}
	Label50x30 = LabelSize{"50x30mm", 50.0, 30.0, 400, 240}
	Label58x40 = LabelSize{"58x40mm", 58.0, 40.0, 464, 320}
)

var AllSizes = []LabelSize{Label12x40, Label14x40, Label14x50, Label15x30, Label40x30, Label50x30, Label58x40}

// LookupSize finds a size in AllSizes by name
func LookupSize(name string) (LabelSize, bool) {
	for _, s := range AllSizes {
		if strings.EqualFold(s.Name, name) {
			return s, true
		}
	}
	return LabelSize{}, false
}

// Command builds TSPL2 commands
type Command struct {
	buf strings.Builder
}

func New() *Command {
	return &Command{}
}

// Size sets label dimensions
func (c *Command) Size(width, height float64) *Command {
	fmt.Fprintf(&c.buf, "SIZE %.1f mm,%.1f mm\r\n", width, height)
	return c
}

// Gap sets gap between labels
func (c *Command) Gap(gap, offset float64) *Command {
	fmt.Fprintf(&c.buf, "GAP %.1f mm,%.1f mm\r\n", gap, offset)
	return c
}

// Direction sets print direction (0 or 1)
func (c *Command) Direction(dir, mirror int) *Command {
	fmt.Fprintf(&c.buf, "DIRECTION %d,%d\r\n", dir, mirror)
	return c
}

// Density sets print darkness (0-15)
func (c *Command) Density(level int) *Command {
	level = min(max(level, 0), 15)
	fmt.Fprintf(&c.buf, "DENSITY %d\r\n", level)
	return c
}

// CodePage selects the character set for TEXT
func (c *Command) CodePage(page string) *Command {
	fmt.Fprintf(&c.buf, "CODEPAGE %s\r\n", page)
	return c
}

// CLS clears the image buffer
func (c *Command) CLS() *Command {
	c.buf.WriteString("CLS\r\n")
	return c
}

// Text draws one line in a built-in font. content must already be in the
// printer's code page.
func (c *Command) Text(x, y int, font string, xMul, yMul int, content []byte) *Command {
	fmt.Fprintf(&c.buf, `TEXT %d,%d,"%s",0,%d,%d,"`, x, y, font, xMul, yMul)
	c.buf.WriteString(escape(string(content)))
	c.buf.WriteString("\"\r\n")
	return c
}

// QRCode draws a QR symbol with cells of cell dots
func (c *Command) QRCode(x, y int, level string, cell int, content []byte) *Command {
	fmt.Fprintf(&c.buf, `QRCODE %d,%d,%s,%d,A,0,"`, x, y, level, cell)
	c.buf.WriteString(escape(string(content)))
	c.buf.WriteString("\"\r\n")
	return c
}

// Bitmap adds a bitmap image. data is 1 bit per dot, rows of widthBytes,
// where a 0 bit prints.
func (c *Command) Bitmap(x, y, widthBytes, height int, data []byte) *Command {
	fmt.Fprintf(&c.buf, "BITMAP %d,%d,%d,%d,0,", x, y, widthBytes, height)
	c.buf.Write(data)
	c.buf.WriteString("\r\n")
	return c
}

// Print prints n copies
func (c *Command) Print(copies int) *Command {
	fmt.Fprintf(&c.buf, "PRINT %d\r\n", copies)
	return c
}

// Bytes returns the raw command bytes to send to printer
func (c *Command) Bytes() []byte {
	return []byte(c.buf.String())
}

// String returns the command as a string (for debugging)
func (c *Command) String() string {
	return c.buf.String()
}

// escape quotes s for a TSPL string argument. A raw line break would end
// the command early.
func escape(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	s = strings.ReplaceAll(s, "\n", `\n`)
	s = strings.ReplaceAll(s, "\r", `\r`)
	s = strings.ReplaceAll(s, "\t", `\t`)
	return s
}
