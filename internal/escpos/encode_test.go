package escpos

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"btlabel/internal/label"
)

func TestEncodeText(t *testing.T) {
	testCases := []struct {
		name string
		size label.FontSize
		bold bool
		want []byte
	}{
		{"Normal", label.Normal, false, []byte{esc, 't', 0, gs, '!', 0x00, esc, 'E', 0, 'H', 'i', esc, 'E', 0, gs, '!', 0}},
		{"DoubleBold", label.Double, true, []byte{esc, 't', 0, gs, '!', 0x11, esc, 'E', 1, 'H', 'i', esc, 'E', 0, gs, '!', 0}},
		{"Large", label.Large, false, []byte{esc, 't', 0, gs, '!', 0x22, esc, 'E', 0, 'H', 'i', esc, 'E', 0, gs, '!', 0}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := EncodeText("Hi", tc.size, tc.bold)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestEncodeTextCodePage(t *testing.T) {
	got, err := EncodeText("é", label.Normal, false)
	require.NoError(t, err)
	assert.Contains(t, string(got), string([]byte{0x82}), "é is 0x82 in code page 437")
	assert.NotContains(t, string(got), "é", "no raw UTF-8 on the wire")

	enc, err := Default.WithCodePage("cp858")
	require.NoError(t, err)
	got, err = enc.EncodeText("€", label.Normal, false)
	require.NoError(t, err)
	assert.Equal(t, []byte{esc, 't', 19}, got[:3])
	assert.Contains(t, string(got), string([]byte{0xD5}))

	_, err = Default.WithCodePage("klingon")
	assert.Error(t, err)
}

func TestEncodeTextUnsupportedCharacter(t *testing.T) {
	for _, text := range []string{"snow ☃ man", "bad \xff utf8"} {
		got, err := EncodeText(text, label.Normal, false)
		assert.Nil(t, got)
		assert.ErrorIs(t, err, ErrUnsupportedCharacter)

		var encErr *EncodingError
		require.True(t, errors.As(err, &encErr))
		assert.Equal(t, UnsupportedCharacter, encErr.Kind)
	}
}

func TestEncodeQR(t *testing.T) {
	got, err := EncodeQR("abc", 6, label.ECMedium)
	require.NoError(t, err)

	want := []byte{
		gs, '(', 'k', 4, 0, '1', 'A', '2', 0,
		gs, '(', 'k', 3, 0, '1', 'C', 6,
		gs, '(', 'k', 3, 0, '1', 'E', '1',
		gs, '(', 'k', 6, 0, '1', 'P', '0', 'a', 'b', 'c',
		gs, '(', 'k', 3, 0, '1', 'Q', '0',
	}
	assert.Equal(t, want, got)
}

func TestEncodeQRModuleSize(t *testing.T) {
	big, err := EncodeQR("x", 40, label.ECHigh)
	require.NoError(t, err)
	assert.True(t, bytes.Contains(big, []byte{'1', 'C', 16}))

	small, err := EncodeQR("x", 1, label.ECLow)
	require.NoError(t, err)
	assert.True(t, bytes.Contains(small, []byte{'1', 'C', 1}))

	for _, size := range []int{0, -3} {
		got, err := EncodeQR("x", size, label.ECLow)
		assert.Nil(t, got)
		assert.ErrorIs(t, err, ErrInvalidElement, "size %d", size)
	}
}

func TestEncodeQRPayloadTooLarge(t *testing.T) {
	payload := strings.Repeat("a", Default.MaxQRPayload+1)

	got, err := EncodeQR(payload, 4, label.ECLow)
	assert.Empty(t, got)
	assert.ErrorIs(t, err, ErrPayloadTooLarge)

	_, err = EncodeQR(strings.Repeat("a", Default.MaxQRPayload), 4, label.ECLow)
	assert.NoError(t, err, "exactly the maximum is allowed")
}

func TestEncodeQRLargePayloadLength(t *testing.T) {
	payload := strings.Repeat("z", 300)
	got, err := EncodeQR(payload, 4, label.ECLow)
	require.NoError(t, err)

	// store function: pL pH = len+3
	idx := bytes.Index(got, []byte{'1', 'P', '0'})
	require.Greater(t, idx, 2)
	assert.Equal(t, byte(303&0xff), got[idx-2])
	assert.Equal(t, byte(303>>8), got[idx-1])
}

func TestEncodeFeed(t *testing.T) {
	got, err := EncodeFeed(0)
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = EncodeFeed(3)
	require.NoError(t, err)
	assert.Equal(t, []byte{esc, 'd', 3}, got)

	got, err = EncodeFeed(300)
	require.NoError(t, err)
	assert.Equal(t, []byte{esc, 'd', 255, esc, 'd', 45}, got)

	_, err = EncodeFeed(-1)
	assert.ErrorIs(t, err, ErrInvalidElement)
}

func TestEncodeLabelEmpty(t *testing.T) {
	got, err := EncodeLabel(label.Content{})
	require.NoError(t, err)

	feed, _ := EncodeFeed(1)
	assert.Equal(t, feed, got)
	assert.NotContains(t, string(got), string([]byte{gs}), "no font or QR commands")
}

func TestEncodeLabelOrderAndPurity(t *testing.T) {
	content := label.New(
		label.Text{Text: "Hello", Size: label.Normal},
		label.Feed{Lines: 2},
		label.QR{Payload: "https://example.com", Size: 4, ErrorCorrection: label.ECQuartile},
		label.Text{Text: "Bye", Size: label.Large, Bold: true},
	)

	first, err := EncodeLabel(content)
	require.NoError(t, err)
	second, err := EncodeLabel(content)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	var want []byte
	for _, el := range content.Elements {
		b, err := Default.Encode(el)
		require.NoError(t, err)
		want = append(want, b...)
	}
	assert.Equal(t, want, first)
}

func TestEncodeLabelFailsAtomically(t *testing.T) {
	content := label.New(
		label.Text{Text: "ok"},
		label.QR{Payload: strings.Repeat("q", Default.MaxQRPayload+10), Size: 3},
	)

	got, err := EncodeLabel(content)
	assert.Nil(t, got)

	var encErr *EncodingError
	require.True(t, errors.As(err, &encErr))
	assert.Equal(t, PayloadTooLarge, encErr.Kind)
	assert.Equal(t, 1, encErr.Element)
	assert.Contains(t, err.Error(), "element 1")
}

func TestEncodeImage(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 16, 4))
	for x := 0; x < 8; x++ {
		for y := 0; y < 4; y++ {
			img.SetGray(x, y, color.Gray{0})
		}
	}
	for x := 8; x < 16; x++ {
		for y := 0; y < 4; y++ {
			img.SetGray(x, y, color.Gray{255})
		}
	}

	enc := Default
	enc.PaperWidth = 16
	got, err := enc.EncodeImage(img, 0, false)
	require.NoError(t, err)

	header := []byte{gs, 'v', '0', 0, 2, 0, 4, 0}
	require.Equal(t, header, got[:len(header)])
	assert.Equal(t, []byte{0xFF, 0x00, 0xFF, 0x00, 0xFF, 0x00, 0xFF, 0x00}, got[len(header):])

	_, err = enc.EncodeImage(nil, 0, false)
	assert.ErrorIs(t, err, ErrInvalidElement)
}

func TestCommandBuilder(t *testing.T) {
	got := New().Init().Feed(1).Cut().Bytes()
	assert.Equal(t, []byte{esc, '@', esc, 'd', 1, gs, 'V', 66, 0}, got)
}
