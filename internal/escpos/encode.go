package escpos

import (
	"errors"
	"fmt"
	"image"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"

	"btlabel/internal/imaging"
	"btlabel/internal/label"
)

const (
	// DefaultMaxQRPayload bounds the bytes stored in one QR symbol
	DefaultMaxQRPayload = 2048
	// DefaultPaperWidth is the printable width of 58mm paper at 203 dpi
	DefaultPaperWidth = 384

	minQRModule = 1
	maxQRModule = 16
)

// codePages maps config names to a charset and its ESC t table number
var codePages = map[string]struct {
	charset *charmap.Charmap
	table   byte
}{
	"cp437":        {charmap.CodePage437, 0},
	"cp850":        {charmap.CodePage850, 2},
	"cp860":        {charmap.CodePage860, 3},
	"cp863":        {charmap.CodePage863, 4},
	"cp865":        {charmap.CodePage865, 5},
	"windows-1252": {charmap.Windows1252, 16},
	"cp866":        {charmap.CodePage866, 17},
	"cp852":        {charmap.CodePage852, 18},
	"cp858":        {charmap.CodePage858, 19},
}

// Encoder holds the printer-specific constants the encoding depends on.
// The zero value is not usable; start from Default.
type Encoder struct {
	Charset      *charmap.Charmap
	CodeTable    byte
	MaxQRPayload int
	PaperWidth   int // dots
}

// Default encodes for a 58mm printer using code page 437
var Default = Encoder{
	Charset:      charmap.CodePage437,
	CodeTable:    0,
	MaxQRPayload: DefaultMaxQRPayload,
	PaperWidth:   DefaultPaperWidth,
}

// WithCodePage returns a copy of e using the named code page (e.g. "cp858")
func (e Encoder) WithCodePage(name string) (Encoder, error) {
	cp, ok := codePages[strings.ToLower(name)]
	if !ok {
		return e, fmt.Errorf("unknown code page %q", name)
	}
	e.Charset = cp.charset
	e.CodeTable = cp.table
	return e, nil
}

// Width returns the paper width in dots
func (e Encoder) Width() int {
	return e.PaperWidth
}

// EncodeText selects the font, writes text in the printer's code page and
// restores the default font. No line feed is added.
func (e Encoder) EncodeText(text string, size label.FontSize, bold bool) ([]byte, error) {
	var n byte
	switch size {
	case label.Normal:
		n = sizeNormal
	case label.Double:
		n = sizeDouble
	case label.Large:
		n = sizeLarge
	default:
		return nil, encodingError(InvalidElement, "font size %d", int(size))
	}

	body, err := e.transcode(text)
	if err != nil {
		return nil, err
	}

	return New().
		CodeTable(e.CodeTable).
		CharSize(n).
		Emphasis(bold).
		Raw(body).
		Emphasis(false).
		CharSize(sizeNormal).
		Bytes(), nil
}

func (e Encoder) transcode(text string) ([]byte, error) {
	out := make([]byte, 0, len(text))
	for i, r := range text {
		if r == utf8.RuneError {
			return nil, encodingError(UnsupportedCharacter, "invalid UTF-8 at byte %d", i)
		}
		b, ok := e.Charset.EncodeRune(r)
		if !ok {
			return nil, encodingError(UnsupportedCharacter, "%q (U+%04X) at byte %d", r, r, i)
		}
		out = append(out, b)
	}
	return out, nil
}

// EncodeQR builds the GS ( k sequence that stores and prints one symbol.
// size is the module size in dots; it must be positive and is capped at 16.
func (e Encoder) EncodeQR(payload string, size int, ec label.ECLevel) ([]byte, error) {
	if len(payload) > e.MaxQRPayload {
		return nil, encodingError(PayloadTooLarge, "%d bytes exceeds %d", len(payload), e.MaxQRPayload)
	}
	if payload == "" {
		return nil, encodingError(InvalidElement, "empty QR payload")
	}
	if ec < label.ECLow || ec > label.ECHigh {
		return nil, encodingError(InvalidElement, "error correction level %d", int(ec))
	}
	if size < minQRModule {
		return nil, encodingError(InvalidElement, "QR module size %d", size)
	}
	if size > maxQRModule {
		size = maxQRModule
	}

	return New().
		QRModel().
		QRModuleSize(byte(size)).
		QRErrorCorrection(byte(ec)).
		QRStore([]byte(payload)).
		QRPrint().
		Bytes(), nil
}

// EncodeFeed feeds the paper. Zero lines encodes to nothing.
func (e Encoder) EncodeFeed(lines int) ([]byte, error) {
	if lines < 0 {
		return nil, encodingError(InvalidElement, "negative feed %d", lines)
	}
	return New().Feed(lines).Bytes(), nil
}

// EncodeImage prints img as a raster scaled to the paper width
func (e Encoder) EncodeImage(img image.Image, threshold uint8, invert bool) ([]byte, error) {
	if img == nil || img.Bounds().Empty() {
		return nil, encodingError(InvalidElement, "empty image")
	}
	bm := imaging.ToMonochrome(img, e.PaperWidth, threshold, invert)
	if bm.Height == 0 {
		return nil, encodingError(InvalidElement, "paper width %d too small", e.PaperWidth)
	}
	return New().Raster(bm).Bytes(), nil
}

// Encode encodes a single element
func (e Encoder) Encode(el label.Element) ([]byte, error) {
	switch v := el.(type) {
	case label.Text:
		return e.EncodeText(v.Text, v.Size, v.Bold)
	case label.QR:
		return e.EncodeQR(v.Payload, v.Size, v.ErrorCorrection)
	case label.Feed:
		return e.EncodeFeed(v.Lines)
	case label.Image:
		return e.EncodeImage(v.Source, v.Threshold, v.Invert)
	}
	return nil, encodingError(InvalidElement, "unknown element type %T", el)
}

// EncodeLabel returns the full byte stream for one print job. An empty
// label encodes to a single line feed. If any element fails, nothing is
// returned.
func (e Encoder) EncodeLabel(content label.Content) ([]byte, error) {
	if content.Len() == 0 {
		return e.EncodeFeed(1)
	}

	cmd := New()
	for i, el := range content.Elements {
		b, err := e.Encode(el)
		if err != nil {
			var encErr *EncodingError
			if errors.As(err, &encErr) {
				encErr.Element = i
			}
			return nil, err
		}
		cmd.Raw(b)
	}
	return cmd.Bytes(), nil
}

func EncodeText(text string, size label.FontSize, bold bool) ([]byte, error) {
	return Default.EncodeText(text, size, bold)
}

func EncodeQR(payload string, size int, ec label.ECLevel) ([]byte, error) {
	return Default.EncodeQR(payload, size, ec)
}

func EncodeFeed(lines int) ([]byte, error) {
	return Default.EncodeFeed(lines)
}

func EncodeLabel(content label.Content) ([]byte, error) {
	return Default.EncodeLabel(content)
}
