package imaging

import (
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

// DefaultThreshold is used when a caller passes a zero threshold
const DefaultThreshold uint8 = 128

// LoadImage loads an image from file
func LoadImage(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return img, nil
}

// Bitmap is a packed 1-bit raster, MSB first, 1 = dot printed
type Bitmap struct {
	Width  int // dots, multiple of 8
	Height int
	Data   []byte
}

// WidthBytes returns the row stride
func (b Bitmap) WidthBytes() int {
	return b.Width / 8
}

// ToMonochrome scales img to width dots, keeping its aspect ratio, and
// thresholds it into a Bitmap. width is rounded down to a multiple of 8.
func ToMonochrome(img image.Image, width int, threshold uint8, invert bool) Bitmap {
	width -= width % 8
	bounds := img.Bounds()
	if width <= 0 || bounds.Dx() <= 0 || bounds.Dy() <= 0 {
		return Bitmap{Width: width}
	}
	if threshold == 0 {
		threshold = DefaultThreshold
	}

	height := bounds.Dy() * width / bounds.Dx()
	if height < 1 {
		height = 1
	}
	scaled := resize(img, width, height)

	bm := Bitmap{
		Width:  width,
		Height: height,
		Data:   make([]byte, width/8*height),
	}
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			var bit byte
			if rgbToGray(scaled.At(x, y)) < threshold {
				bit = 1
			}
			if invert {
				bit ^= 1
			}
			bm.Data[y*bm.WidthBytes()+x/8] |= bit << (7 - x%8)
		}
	}

	return bm
}

// rgbToGray converts a color to grayscale value. Transparent pixels count as
// white paper.
func rgbToGray(c color.Color) uint8 {
	r, g, b, a := c.RGBA()
	if a == 0 {
		return 255
	}
	// 16-bit channels
	gray := (0.299*float64(r) + 0.587*float64(g) + 0.114*float64(b)) / 256
	return uint8(gray)
}

// resize is a nearest-neighbour scale, good enough for thermal heads
func resize(img image.Image, w, h int) image.Image {
	bounds := img.Bounds()
	srcW, srcH := bounds.Dx(), bounds.Dy()

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		srcY := y * srcH / h
		for x := 0; x < w; x++ {
			srcX := x * srcW / w
			dst.Set(x, y, img.At(bounds.Min.X+srcX, bounds.Min.Y+srcY))
		}
	}

	return dst
}

// Preview renders a Bitmap back into a viewable image
func Preview(bm Bitmap) image.Image {
	img := image.NewGray(image.Rect(0, 0, bm.Width, bm.Height))

	for y := 0; y < bm.Height; y++ {
		for x := 0; x < bm.Width; x++ {
			bit := (bm.Data[y*bm.WidthBytes()+x/8] >> (7 - x%8)) & 1
			if bit == 1 {
				img.SetGray(x, y, color.Gray{0})
			} else {
				img.SetGray(x, y, color.Gray{255})
			}
		}
	}

	return img
}
