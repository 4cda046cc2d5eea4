package tspl

import (
	"bytes"
	"errors"
	"image"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"btlabel/internal/escpos"
	"btlabel/internal/label"
)

const header = "SIZE 40.0 mm,30.0 mm\r\n" +
	"GAP 2.0 mm,0.0 mm\r\n" +
	"DIRECTION 0,0\r\n" +
	"DENSITY 8\r\n" +
	"CODEPAGE 437\r\n" +
	"CLS\r\n"

func TestCommandBuilder(t *testing.T) {
	got := New().Size(40, 30).Gap(2, 0).Direction(0, 0).Density(20).CLS().Print(1).String()
	assert.Equal(t, "SIZE 40.0 mm,30.0 mm\r\nGAP 2.0 mm,0.0 mm\r\nDIRECTION 0,0\r\nDENSITY 15\r\nCLS\r\nPRINT 1\r\n", got)
}

func TestTextEscapesQuotes(t *testing.T) {
	got := New().Text(8, 8, "3", 1, 1, []byte(`say "hi" \o/`)).String()
	assert.Equal(t, `TEXT 8,8,"3",0,1,1,"say \"hi\" \\o/"`+"\r\n", got)
}

func TestControlCharactersStayInsideOneCommand(t *testing.T) {
	tests := []struct {
		name    string
		content label.Content
		want    string
	}{
		{
			name:    "text",
			content: label.New(label.Text{Text: "a\rb\tc"}),
			want:    `TEXT 8,8,"3",0,1,1,"a\rb\tc"`,
		},
		{
			name:    "qr",
			content: label.New(label.QR{Payload: "WIFI:S:x;\nP:y;", Size: 2, ErrorCorrection: label.ECMedium}),
			want:    `QRCODE 8,8,M,2,A,0,"WIFI:S:x;\nP:y;"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := Default.EncodeLabel(tt.content)
			require.NoError(t, err)

			lines := strings.Split(strings.TrimSuffix(string(data), "\r\n"), "\r\n")
			assert.Contains(t, lines, tt.want)
			for _, line := range lines {
				assert.NotContains(t, line, "\n")
				assert.NotContains(t, line, "\r")
			}
		})
	}
}

func TestLookupSize(t *testing.T) {
	s, ok := LookupSize("14X40mm")
	require.True(t, ok)
	assert.Equal(t, Label14x40, s)

	_, ok = LookupSize("1x1mm")
	assert.False(t, ok)
}

func TestEncodeLabel(t *testing.T) {
	data, err := Default.EncodeLabel(label.New(label.Text{Text: "Hello\n"}, label.Feed{Lines: 1}))
	require.NoError(t, err)

	want := header + `TEXT 8,8,"3",0,1,1,"Hello"` + "\r\nPRINT 1\r\n"
	assert.Equal(t, want, string(data))
}

func TestEmptyLabelPrintsBlank(t *testing.T) {
	data, err := Default.EncodeLabel(label.Content{})
	require.NoError(t, err)
	assert.Equal(t, header+"PRINT 1\r\n", string(data))
}

func TestTextLayout(t *testing.T) {
	data, err := Default.EncodeLabel(label.New(
		label.Text{Text: "ab"},
		label.Text{Text: "cd\n", Bold: true},
		label.Text{Text: "x", Size: label.Double},
	))
	require.NoError(t, err)

	s := string(data)
	assert.Contains(t, s, `TEXT 8,8,"3",0,1,1,"ab"`)
	// continues the line, bold drawn twice
	assert.Contains(t, s, `TEXT 40,8,"3",0,1,1,"cd"`)
	assert.Contains(t, s, `TEXT 41,8,"3",0,1,1,"cd"`)
	assert.Contains(t, s, `TEXT 8,36,"3",0,2,2,"x"`)
}

func TestQRPlacement(t *testing.T) {
	data, err := Default.EncodeLabel(label.New(
		label.Text{Text: "a"},
		label.QR{Payload: "hello", Size: 4, ErrorCorrection: label.ECHigh},
	))
	require.NoError(t, err)
	assert.Contains(t, string(data), `QRCODE 8,36,H,4,A,0,"hello"`)

	data, err = Default.EncodeLabel(label.New(label.QR{Payload: "x", Size: 40, ErrorCorrection: label.ECMedium}))
	require.NoError(t, err)
	assert.Contains(t, string(data), `QRCODE 8,8,M,10,A,0,"x"`)
}

func TestQRModules(t *testing.T) {
	assert.Equal(t, 21, qrModules(1))
	assert.Equal(t, 21, qrModules(7))
	assert.Equal(t, 25, qrModules(8))
	assert.Equal(t, 177, qrModules(5000))
}

func TestImageIsInvertedForTSPL(t *testing.T) {
	black := image.NewGray(image.Rect(0, 0, 16, 1))

	data, err := Default.EncodeLabel(label.New(label.Image{Source: black}))
	require.NoError(t, err)

	// 304 dots across is 38 bytes, scaled to 19 rows
	want := append([]byte("BITMAP 8,8,38,19,0,"), make([]byte, 38*19)...)
	assert.True(t, bytes.Contains(data, want))
}

func TestEncodingErrors(t *testing.T) {
	tests := []struct {
		name    string
		content label.Content
		element int
		want    error
	}{
		{
			name:    "unsupported character",
			content: label.New(label.Text{Text: "ok\n"}, label.Text{Text: "€"}),
			element: 1,
			want:    escpos.ErrUnsupportedCharacter,
		},
		{
			name:    "payload too large",
			content: label.New(label.QR{Payload: strings.Repeat("a", escpos.DefaultMaxQRPayload+1)}),
			element: 0,
			want:    escpos.ErrPayloadTooLarge,
		},
		{
			name:    "zero module size",
			content: label.New(label.Text{Text: "a\n"}, label.QR{Payload: "x"}),
			element: 1,
			want:    escpos.ErrInvalidElement,
		},
		{
			name:    "empty payload",
			content: label.New(label.QR{}),
			element: 0,
			want:    escpos.ErrInvalidElement,
		},
		{
			name:    "negative feed",
			content: label.New(label.Text{Text: "a"}, label.Feed{Lines: -1}),
			element: 1,
			want:    escpos.ErrInvalidElement,
		},
		{
			name:    "past the bottom",
			content: label.New(label.Feed{Lines: 20}),
			element: 0,
			want:    escpos.ErrInvalidElement,
		},
		{
			name:    "empty image",
			content: label.New(label.Image{}),
			element: 0,
			want:    escpos.ErrInvalidElement,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := Default.EncodeLabel(tt.content)
			require.Error(t, err)
			assert.Nil(t, data)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)

			var encErr *escpos.EncodingError
			require.ErrorAs(t, err, &encErr)
			assert.Equal(t, tt.element, encErr.Element)
		})
	}
}

func TestWithCodePage(t *testing.T) {
	enc, err := Default.WithCodePage("cp850")
	require.NoError(t, err)

	data, err := enc.EncodeLabel(label.New(label.Text{Text: "é"}))
	require.NoError(t, err)
	assert.Contains(t, string(data), "CODEPAGE 850\r\n")
	assert.Contains(t, string(data), "\"\x82\"")

	_, err = Default.WithCodePage("cp858")
	assert.Error(t, err)
}
