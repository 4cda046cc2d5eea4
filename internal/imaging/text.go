package imaging

import (
	"image"
	"image/color"
	"image/draw"
	"strings"

	"github.com/golang/freetype"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/math/fixed"
)

// PrinterDPI is the head resolution of common 58mm/80mm thermal printers
const PrinterDPI = 203

const margin = 4

// TextOptions configures text rendering
type TextOptions struct {
	FontSize      float64 // points
	Invert        bool    // white text on black
	WordBreakOnly bool    // only break lines on spaces
	Center        bool
}

var goRegular *truetype.Font

func init() {
	f, err := truetype.Parse(goregular.TTF)
	if err != nil {
		panic(err)
	}
	goRegular = f
}

// RenderText rasterises text into an image width dots wide. The height grows
// with the number of wrapped lines. Any Unicode the Go font covers can be
// printed this way, unlike the printer's built-in code page.
func RenderText(text string, width int, opts TextOptions) image.Image {
	if opts.FontSize <= 0 {
		opts.FontSize = 12
	}

	face := truetype.NewFace(goRegular, &truetype.Options{Size: opts.FontSize, DPI: PrinterDPI})
	defer face.Close()
	metrics := face.Metrics()
	lineHeight := metrics.Height.Ceil()

	var lines []string
	if opts.WordBreakOnly {
		lines = wrapWords(text, face, width-2*margin)
	} else {
		lines = wrapRunes(text, face, width-2*margin)
	}
	height := len(lines)*lineHeight + 2*margin

	bg, fg := color.White, color.Black
	if opts.Invert {
		bg, fg = color.Black, color.White
	}

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(img, img.Bounds(), &image.Uniform{bg}, image.Point{}, draw.Src)

	c := freetype.NewContext()
	c.SetDPI(PrinterDPI)
	c.SetFont(goRegular)
	c.SetFontSize(opts.FontSize)
	c.SetClip(img.Bounds())
	c.SetDst(img)
	c.SetSrc(&image.Uniform{fg})
	c.SetHinting(font.HintingFull)

	y := margin + metrics.Ascent.Ceil()
	for _, line := range lines {
		x := margin
		if opts.Center {
			x = (width - measureString(face, line)) / 2
		}
		c.DrawString(line, freetype.Pt(x, y))
		y += lineHeight
	}

	return img
}

// wrapRunes breaks anywhere a line would overflow
func wrapRunes(text string, face font.Face, maxWidth int) []string {
	var lines []string
	for _, para := range strings.Split(text, "\n") {
		var current string
		for _, r := range para {
			next := current + string(r)
			if measureString(face, next) > maxWidth && current != "" {
				lines = append(lines, current)
				current = string(r)
			} else {
				current = next
			}
		}
		lines = append(lines, current)
	}
	return lines
}

// wrapWords breaks on spaces, splitting single words only when they cannot
// fit a line on their own
func wrapWords(text string, face font.Face, maxWidth int) []string {
	var lines []string

	for _, para := range strings.Split(text, "\n") {
		words := strings.Fields(para)
		if len(words) == 0 {
			lines = append(lines, "")
			continue
		}

		var current string
		for _, word := range words {
			candidate := word
			if current != "" {
				candidate = current + " " + word
			}
			if measureString(face, candidate) <= maxWidth {
				current = candidate
				continue
			}
			if current != "" {
				lines = append(lines, current)
			}
			if measureString(face, word) > maxWidth {
				broken := wrapRunes(word, face, maxWidth)
				lines = append(lines, broken[:len(broken)-1]...)
				current = broken[len(broken)-1]
			} else {
				current = word
			}
		}
		lines = append(lines, current)
	}

	return lines
}

// measureString returns the advance width of s in pixels
func measureString(face font.Face, s string) int {
	var width fixed.Int26_6
	for _, r := range s {
		if adv, ok := face.GlyphAdvance(r); ok {
			width += adv
		}
	}
	return width.Ceil()
}
