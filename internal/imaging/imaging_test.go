package imaging

import (
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// halves returns a w x h image, black on the left half and white on the right
func halves(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if x < w/2 {
				img.Set(x, y, color.Black)
			} else {
				img.Set(x, y, color.White)
			}
		}
	}
	return img
}

func TestToMonochrome(t *testing.T) {
	bm := ToMonochrome(halves(16, 2), 16, 0, false)
	assert.Equal(t, 16, bm.Width)
	assert.Equal(t, 2, bm.Height)
	assert.Equal(t, 2, bm.WidthBytes())
	assert.Equal(t, []byte{0xFF, 0x00, 0xFF, 0x00}, bm.Data)

	inv := ToMonochrome(halves(16, 2), 16, 0, true)
	assert.Equal(t, []byte{0x00, 0xFF, 0x00, 0xFF}, inv.Data)
}

func TestToMonochromeScales(t *testing.T) {
	tests := []struct {
		name         string
		src          image.Image
		width        int
		wantW, wantH int
	}{
		{"upscale keeps aspect", halves(8, 4), 16, 16, 8},
		{"width rounds down to a byte", halves(16, 16), 20, 16, 16},
		{"downscale", halves(64, 32), 32, 32, 16},
		{"thin image keeps one row", halves(400, 1), 8, 8, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bm := ToMonochrome(tt.src, tt.width, DefaultThreshold, false)
			assert.Equal(t, tt.wantW, bm.Width)
			assert.Equal(t, tt.wantH, bm.Height)
			assert.Len(t, bm.Data, tt.wantW/8*tt.wantH)
		})
	}
}

func TestToMonochromeTooNarrow(t *testing.T) {
	bm := ToMonochrome(halves(8, 8), 7, 0, false)
	assert.Equal(t, 0, bm.Height)
	assert.Empty(t, bm.Data)
}

func TestTransparentIsPaper(t *testing.T) {
	bm := ToMonochrome(image.NewRGBA(image.Rect(0, 0, 8, 8)), 8, 0, false)
	for _, b := range bm.Data {
		assert.Zero(t, b)
	}
}

func TestThreshold(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 8, 1))
	for x := 0; x < 8; x++ {
		img.SetGray(x, 0, color.Gray{Y: uint8(x * 32)})
	}
	// grays 0, 32, 64, 96 are darker than 100
	bm := ToMonochrome(img, 8, 100, false)
	assert.Equal(t, []byte{0xF0}, bm.Data)
}

func TestPreview(t *testing.T) {
	bm := ToMonochrome(halves(16, 2), 16, 0, false)
	img := Preview(bm)
	assert.Equal(t, image.Rect(0, 0, 16, 2), img.Bounds())
	assert.Equal(t, color.Gray{0}, img.At(0, 0))
	assert.Equal(t, color.Gray{255}, img.At(15, 1))
}

func TestLoadImage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logo.png")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, halves(24, 12)))
	require.NoError(t, f.Close())

	img, err := LoadImage(path)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 24, 12), img.Bounds())

	_, err = LoadImage(filepath.Join(t.TempDir(), "missing.png"))
	assert.Error(t, err)
}

func hasInk(img image.Image) bool {
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			if rgbToGray(img.At(x, y)) < DefaultThreshold {
				return true
			}
		}
	}
	return false
}

func TestRenderText(t *testing.T) {
	img := RenderText("Grüße ✓", 384, TextOptions{FontSize: 12})
	assert.Equal(t, 384, img.Bounds().Dx())
	assert.Greater(t, img.Bounds().Dy(), 2*margin)
	assert.True(t, hasInk(img))

	long := RenderText("the quick brown fox jumps over the lazy dog again and again", 384, TextOptions{FontSize: 12, WordBreakOnly: true})
	assert.Greater(t, long.Bounds().Dy(), img.Bounds().Dy())
}

func TestRenderTextInvert(t *testing.T) {
	img := RenderText("A", 64, TextOptions{FontSize: 10, Invert: true})
	// the margin is background, which is black when inverted
	assert.Less(t, rgbToGray(img.At(0, 0)), DefaultThreshold)
}
