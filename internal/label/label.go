// Package label describes what goes on a label, independent of any printer
// command set.
package label

import (
	"fmt"
	"image"
)

// FontSize selects one of the printer's character magnifications
type FontSize int

const (
	Normal FontSize = iota
	Double
	Large
)

func (s FontSize) String() string {
	switch s {
	case Normal:
		return "normal"
	case Double:
		return "double"
	case Large:
		return "large"
	}
	return fmt.Sprintf("FontSize(%d)", int(s))
}

// ParseFontSize accepts the names returned by String
func ParseFontSize(s string) (FontSize, error) {
	switch s {
	case "", "normal":
		return Normal, nil
	case "double":
		return Double, nil
	case "large":
		return Large, nil
	}
	return Normal, fmt.Errorf("unknown font size %q", s)
}

// ECLevel is the QR error correction level
type ECLevel int

const (
	ECLow ECLevel = iota
	ECMedium
	ECQuartile
	ECHigh
)

func (l ECLevel) String() string {
	switch l {
	case ECLow:
		return "L"
	case ECMedium:
		return "M"
	case ECQuartile:
		return "Q"
	case ECHigh:
		return "H"
	}
	return fmt.Sprintf("ECLevel(%d)", int(l))
}

// ParseECLevel accepts L, M, Q or H
func ParseECLevel(s string) (ECLevel, error) {
	switch s {
	case "L", "l":
		return ECLow, nil
	case "", "M", "m":
		return ECMedium, nil
	case "Q", "q":
		return ECQuartile, nil
	case "H", "h":
		return ECHigh, nil
	}
	return ECMedium, fmt.Errorf("unknown error correction level %q", s)
}

// Element is one printable item. The set of element types is closed.
type Element interface {
	element()
}

// Text is a run of characters in one font setting. Line breaks are not
// implied; add a Feed or a "\n" in Text.
type Text struct {
	Text string
	Size FontSize
	Bold bool
}

// QR is a QR code symbol. Size is the module size in dots.
type QR struct {
	Payload         string
	Size            int
	ErrorCorrection ECLevel
}

// Feed advances the paper by Lines text lines
type Feed struct {
	Lines int
}

// Image is a raster graphic scaled to the paper width when encoded
type Image struct {
	Source    image.Image
	Threshold uint8
	Invert    bool
}

func (Text) element()  {}
func (QR) element()    {}
func (Feed) element()  {}
func (Image) element() {}

// Content is an ordered list of elements, printed top to bottom
type Content struct {
	Elements []Element
}

// New builds a Content from elements
func New(elements ...Element) Content {
	return Content{Elements: elements}
}

// Len returns the number of elements
func (c Content) Len() int {
	return len(c.Elements)
}
