// Package texture converts legacy raster and block-compressed surface
// formats into portable PNG images. It is a leaf utility: conversion has
// no effect on geometry correctness and each texture is independent, so
// callers may convert in parallel.
package texture

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"

	_ "image/jpeg"

	_ "github.com/ftrvxmtrx/tga"
	"golang.org/x/image/bmp"
)

// Options controls one texture conversion.
type Options struct {
	// Masked applies the legacy palette-key transparency convention:
	// pixels matching palette entry zero become fully transparent. Only
	// meaningful for alpha-tested materials.
	Masked bool

	// Resample halves textures larger than resampleLimit on either axis.
	Resample bool
}

const resampleLimit = 512

// ToPNG decodes a legacy texture, auto-detected by header inspection, and
// re-encodes it as PNG.
func ToPNG(data []byte, opts Options) ([]byte, error) {
	img, err := Decode(data, opts.Masked)
	if err != nil {
		return nil, err
	}

	if opts.Resample {
		b := img.Bounds()
		for b.Dx() > resampleLimit || b.Dy() > resampleLimit {
			img = halve(img)
			b = img.Bounds()
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encoding png: %w", err)
	}
	return buf.Bytes(), nil
}

// Decode sniffs the input format and decodes to NRGBA. Uncompressed
// bitmaps and block-compressed DDS surfaces are handled natively; anything
// else goes through the registered image decoders.
func Decode(data []byte, masked bool) (*image.NRGBA, error) {
	switch {
	case len(data) >= 4 && string(data[:4]) == "DDS ":
		return decodeDDS(data)

	case len(data) >= 2 && string(data[:2]) == "BM":
		img, err := bmp.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("decoding bitmap: %w", err)
		}
		out := toNRGBA(img)
		if masked {
			if key, ok := paletteKey(data); ok {
				applyColorKey(out, key)
			}
		}
		return out, nil

	default:
		img, _, err := image.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("decoding texture: %w", err)
		}
		return toNRGBA(img), nil
	}
}

// paletteKey reads the first palette entry of an 8-bit bitmap, which the
// legacy client treats as the transparency key color.
func paletteKey(data []byte) (color.NRGBA, bool) {
	if len(data) < 18 {
		return color.NRGBA{}, false
	}
	headerSize := binary.LittleEndian.Uint32(data[14:])
	if len(data) < 14+int(headerSize)+4 {
		return color.NRGBA{}, false
	}
	bitCount := binary.LittleEndian.Uint16(data[28:])
	if bitCount != 8 {
		return color.NRGBA{}, false
	}
	p := 14 + int(headerSize)
	// Palette entries are stored BGRA.
	return color.NRGBA{R: data[p+2], G: data[p+1], B: data[p], A: 255}, true
}

// applyColorKey zeroes the alpha of every pixel matching the key color.
func applyColorKey(img *image.NRGBA, key color.NRGBA) {
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			i := img.PixOffset(x, y)
			if img.Pix[i] == key.R && img.Pix[i+1] == key.G && img.Pix[i+2] == key.B {
				img.Pix[i+3] = 0
			}
		}
	}
}

// toNRGBA converts any decoded image to NRGBA.
func toNRGBA(src image.Image) *image.NRGBA {
	if n, ok := src.(*image.NRGBA); ok {
		return n
	}
	b := src.Bounds()
	dst := image.NewNRGBA(b)
	draw.Draw(dst, b, src, b.Min, draw.Src)
	return dst
}

// halve box-filters an image down to half resolution.
func halve(src *image.NRGBA) *image.NRGBA {
	b := src.Bounds()
	w, h := b.Dx()/2, b.Dy()/2
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}
	dst := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var r, g, bl, a int
			for dy := 0; dy < 2; dy++ {
				for dx := 0; dx < 2; dx++ {
					sx := b.Min.X + x*2 + dx
					sy := b.Min.Y + y*2 + dy
					if sx >= b.Max.X {
						sx = b.Max.X - 1
					}
					if sy >= b.Max.Y {
						sy = b.Max.Y - 1
					}
					i := src.PixOffset(sx, sy)
					r += int(src.Pix[i])
					g += int(src.Pix[i+1])
					bl += int(src.Pix[i+2])
					a += int(src.Pix[i+3])
				}
			}
			i := dst.PixOffset(x, y)
			dst.Pix[i] = uint8(r / 4)
			dst.Pix[i+1] = uint8(g / 4)
			dst.Pix[i+2] = uint8(bl / 4)
			dst.Pix[i+3] = uint8(a / 4)
		}
	}
	return dst
}
