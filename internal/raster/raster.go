// Package raster converts between demodulated bit streams and grayscale images.
package raster

import (
	"fmt"
	"image"
	"image/png"
	"io"
	"os"
)

// Pack groups bits MSB first into bitsPerPixel-wide pixels and lays them out
// row by row in a width x height grayscale image. Pixel values wider than
// 8 bits keep their top 8 bits; narrower ones are scaled to the full range.
func Pack(bits []byte, width, height, bitsPerPixel int) (*image.Gray, error) {
	if width < 1 || height < 1 || bitsPerPixel < 1 {
		return nil, fmt.Errorf("invalid image geometry %dx%dx%d", width, height, bitsPerPixel)
	}
	if want := width * height * bitsPerPixel; len(bits) != want {
		return nil, fmt.Errorf("need %d bits for a %dx%d image at %d bpp, got %d",
			want, width, height, bitsPerPixel, len(bits))
	}

	img := image.NewGray(image.Rect(0, 0, width, height))
	maxVal := uint64(1)<<bitsPerPixel - 1
	for i := 0; i < width*height; i++ {
		var v uint64
		for _, b := range bits[i*bitsPerPixel : (i+1)*bitsPerPixel] {
			v = v<<1 | uint64(b&1)
		}
		img.Pix[i] = scaleTo8(v, maxVal, bitsPerPixel)
	}
	return img, nil
}

func scaleTo8(v, maxVal uint64, bitsPerPixel int) uint8 {
	switch {
	case bitsPerPixel == 8:
		return uint8(v)
	case bitsPerPixel > 8:
		return uint8(v >> (bitsPerPixel - 8))
	default:
		return uint8(v * 255 / maxVal)
	}
}

// Unpack is the inverse of Pack for 8 bits per pixel.
func Unpack(img *image.Gray) []byte {
	b := img.Bounds()
	bits := make([]byte, 0, b.Dx()*b.Dy()*8)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			v := img.GrayAt(x, y).Y
			for k := 7; k >= 0; k-- {
				bits = append(bits, (v>>k)&1)
			}
		}
	}
	return bits
}

// ToGray converts any image to 8-bit grayscale.
func ToGray(src image.Image) *image.Gray {
	if g, ok := src.(*image.Gray); ok {
		return g
	}
	b := src.Bounds()
	g := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			g.Set(x-b.Min.X, y-b.Min.Y, src.At(x, y))
		}
	}
	return g
}

// EncodePNG writes img as PNG.
func EncodePNG(w io.Writer, img image.Image) error {
	if err := png.Encode(w, img); err != nil {
		return fmt.Errorf("encode png: %w", err)
	}
	return nil
}

// WritePNG writes img to path.
func WritePNG(path string, img image.Image) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create image: %w", err)
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()
	return EncodePNG(f, img)
}

// ReadPNG loads a PNG as grayscale.
func ReadPNG(path string) (*image.Gray, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open image: %w", err)
	}
	defer f.Close()

	img, err := png.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode png %s: %w", path, err)
	}
	return ToGray(img), nil
}
