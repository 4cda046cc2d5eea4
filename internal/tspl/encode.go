package tspl

import (
	"errors"
	"fmt"
	"image"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"

	"btlabel/internal/escpos"
	"btlabel/internal/imaging"
	"btlabel/internal/label"
)

const (
	// font "3" is 16x24 dots at 203 dpi
	font       = "3"
	fontWidth  = 16
	fontHeight = 24
	lineGap    = 4
	margin     = 8

	maxQRCell = 10
)

// qrCapacityH is the byte-mode capacity of QR versions 1-40 at level H.
// Sizing a symbol from it never underestimates for the lower levels.
var qrCapacityH = [...]int{
	7, 14, 24, 34, 44, 58, 64, 84, 98, 119,
	137, 155, 177, 194, 220, 250, 280, 310, 338, 382,
	403, 439, 461, 511, 535, 593, 625, 658, 698, 742,
	790, 842, 898, 958, 983, 1051, 1093, 1139, 1219, 1273,
}

// codePages maps config names to a charset and its CODEPAGE argument
var codePages = map[string]struct {
	charset *charmap.Charmap
	page    string
}{
	"cp437":        {charmap.CodePage437, "437"},
	"cp850":        {charmap.CodePage850, "850"},
	"cp852":        {charmap.CodePage852, "852"},
	"cp860":        {charmap.CodePage860, "860"},
	"cp863":        {charmap.CodePage863, "863"},
	"cp865":        {charmap.CodePage865, "865"},
	"windows-1252": {charmap.Windows1252, "1252"},
}

// Encoder lays a label.Content out on one die-cut label
type Encoder struct {
	Size         LabelSize
	Gap          float64 // mm
	Density      int
	Charset      *charmap.Charmap
	CodePage     string
	MaxQRPayload int
}

var Default = Encoder{
	Size:         Label40x30,
	Gap:          2,
	Density:      8,
	Charset:      charmap.CodePage437,
	CodePage:     "437",
	MaxQRPayload: escpos.DefaultMaxQRPayload,
}

// WithCodePage returns a copy of e using the named code page
func (e Encoder) WithCodePage(name string) (Encoder, error) {
	cp, ok := codePages[strings.ToLower(name)]
	if !ok {
		return e, fmt.Errorf("code page %q not available for TSPL", name)
	}
	e.Charset = cp.charset
	e.CodePage = cp.page
	return e, nil
}

// Width returns the printable width in dots
func (e Encoder) Width() int {
	return e.Size.PixelW
}

// EncodeLabel returns one TSPL job that prints content on a single label.
// Text without a trailing "\n" leaves the cursor on the same line, as on a
// receipt printer. Content that runs past the bottom of the label is
// rejected.
func (e Encoder) EncodeLabel(content label.Content) ([]byte, error) {
	cmd := New().
		Size(e.Size.Width, e.Size.Height).
		Gap(e.Gap, 0).
		Direction(0, 0).
		Density(e.Density).
		CodePage(e.CodePage).
		CLS()

	cur := &cursor{x: margin, y: margin}
	for i, el := range content.Elements {
		if err := e.place(cmd, el, cur); err != nil {
			var encErr *escpos.EncodingError
			if errors.As(err, &encErr) {
				encErr.Element = i
			}
			return nil, err
		}
		if bottom := cur.bottom(); bottom > e.Size.PixelH {
			return nil, invalid(i, "content needs %d dots, label has %d", bottom, e.Size.PixelH)
		}
	}

	cmd.Print(1)
	return cmd.Bytes(), nil
}

// cursor tracks where the next element goes. height is the tallest text on
// the line being filled.
type cursor struct {
	x, y   int
	height int
}

func (c *cursor) pending() bool {
	return c.x > margin
}

func (c *cursor) newline() {
	c.y += max(c.height, fontHeight) + lineGap
	c.x = margin
	c.height = 0
}

func (c *cursor) bottom() int {
	return c.y + c.height
}

func (e Encoder) place(cmd *Command, el label.Element, cur *cursor) error {
	switch v := el.(type) {
	case label.Text:
		return e.placeText(cmd, v, cur)
	case label.QR:
		return e.placeQR(cmd, v, cur)
	case label.Feed:
		return placeFeed(v.Lines, cur)
	case label.Image:
		return e.placeImage(cmd, v.Source, v.Threshold, v.Invert, cur)
	}
	return invalid(-1, "unknown element type %T", el)
}

func (e Encoder) placeText(cmd *Command, t label.Text, cur *cursor) error {
	var mul int
	switch t.Size {
	case label.Normal:
		mul = 1
	case label.Double:
		mul = 2
	case label.Large:
		mul = 3
	default:
		return invalid(-1, "font size %d", int(t.Size))
	}

	lines := strings.Split(t.Text, "\n")
	for i, line := range lines {
		if i > 0 {
			cur.newline()
		}
		body, err := e.transcode(line)
		if err != nil {
			return err
		}
		if len(body) == 0 {
			continue
		}
		cmd.Text(cur.x, cur.y, font, mul, mul, body)
		if t.Bold {
			cmd.Text(cur.x+1, cur.y, font, mul, mul, body)
		}
		cur.x += len(body) * fontWidth * mul
		cur.height = max(cur.height, fontHeight*mul)
	}
	return nil
}

// placeFeed advances by whole text lines. A line still being filled is
// finished by the first of them.
func placeFeed(lines int, cur *cursor) error {
	if lines < 0 {
		return invalid(-1, "negative feed %d", lines)
	}
	if lines > 0 && cur.pending() {
		cur.newline()
		lines--
	}
	cur.y += lines * (fontHeight + lineGap)
	return nil
}

func (e Encoder) transcode(text string) ([]byte, error) {
	out := make([]byte, 0, len(text))
	for i, r := range text {
		if r == utf8.RuneError {
			return nil, &escpos.EncodingError{Kind: escpos.UnsupportedCharacter, Element: -1,
				Detail: fmt.Sprintf("invalid UTF-8 at byte %d", i)}
		}
		b, ok := e.Charset.EncodeRune(r)
		if !ok {
			return nil, &escpos.EncodingError{Kind: escpos.UnsupportedCharacter, Element: -1,
				Detail: fmt.Sprintf("%q (U+%04X) at byte %d", r, r, i)}
		}
		out = append(out, b)
	}
	return out, nil
}

func (e Encoder) placeQR(cmd *Command, q label.QR, cur *cursor) error {
	if len(q.Payload) > e.MaxQRPayload {
		return &escpos.EncodingError{Kind: escpos.PayloadTooLarge, Element: -1,
			Detail: fmt.Sprintf("%d bytes exceeds %d", len(q.Payload), e.MaxQRPayload)}
	}
	if q.Payload == "" {
		return invalid(-1, "empty QR payload")
	}
	if q.ErrorCorrection < label.ECLow || q.ErrorCorrection > label.ECHigh {
		return invalid(-1, "error correction level %d", int(q.ErrorCorrection))
	}
	if q.Size < 1 {
		return invalid(-1, "QR module size %d", q.Size)
	}
	cell := min(q.Size, maxQRCell)

	if cur.pending() {
		cur.newline()
	}
	cmd.QRCode(margin, cur.y, q.ErrorCorrection.String(), cell, []byte(q.Payload))
	cur.y += qrModules(len(q.Payload))*cell + lineGap
	return nil
}

// qrModules returns the side of the smallest symbol that holds n bytes,
// quiet zone excluded
func qrModules(n int) int {
	version := len(qrCapacityH)
	for i, c := range qrCapacityH {
		if n <= c {
			version = i + 1
			break
		}
	}
	return 17 + 4*version
}

func (e Encoder) placeImage(cmd *Command, img image.Image, threshold uint8, invert bool, cur *cursor) error {
	if img == nil || img.Bounds().Empty() {
		return invalid(-1, "empty image")
	}
	bm := imaging.ToMonochrome(img, e.Width()-2*margin, threshold, invert)
	if bm.Height == 0 {
		return invalid(-1, "label width %d too small", e.Width())
	}
	if cur.pending() {
		cur.newline()
	}

	// TSPL prints 0 bits
	data := make([]byte, len(bm.Data))
	for i, b := range bm.Data {
		data[i] = ^b
	}
	cmd.Bitmap(margin, cur.y, bm.WidthBytes(), bm.Height, data)
	cur.y += bm.Height + lineGap
	return nil
}

func invalid(element int, format string, args ...any) *escpos.EncodingError {
	return &escpos.EncodingError{Kind: escpos.InvalidElement, Element: element, Detail: fmt.Sprintf(format, args...)}
}
