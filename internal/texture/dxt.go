package texture

import (
	"encoding/binary"
	"fmt"
	"image"
)

// DDS header layout: magic, 124-byte header with height/width, then the
// pixel format fourCC naming the block compression.
const ddsHeaderSize = 128

func decodeDDS(data []byte) (*image.NRGBA, error) {
	if len(data) < ddsHeaderSize {
		return nil, fmt.Errorf("dds: header truncated: %d bytes", len(data))
	}
	height := int(binary.LittleEndian.Uint32(data[12:]))
	width := int(binary.LittleEndian.Uint32(data[16:]))
	fourCC := string(data[84:88])

	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("dds: invalid dimensions %dx%d", width, height)
	}

	surface := data[ddsHeaderSize:]
	switch fourCC {
	case "DXT1":
		return decodeDXT1(surface, width, height)
	case "DXT5":
		return decodeDXT5(surface, width, height)
	default:
		return nil, fmt.Errorf("dds: unsupported compression %q", fourCC)
	}
}

// color565 expands a packed 5:6:5 color to 8-bit channels.
func color565(c uint16) (r, g, b uint8) {
	r = uint8((c >> 11 & 0x1F) << 3)
	g = uint8((c >> 5 & 0x3F) << 2)
	b = uint8((c & 0x1F) << 3)
	return r | r>>5, g | g>>6, b | b>>5
}

// decodeDXT1 decompresses a BC1 surface: 4x4 pixel blocks of two endpoint
// colors plus 2-bit interpolation indices. The color order encodes whether
// the block carries 1-bit transparency.
func decodeDXT1(data []byte, width, height int) (*image.NRGBA, error) {
	blocksX := (width + 3) / 4
	blocksY := (height + 3) / 4
	if len(data) < blocksX*blocksY*8 {
		return nil, fmt.Errorf("dxt1: surface truncated for %dx%d", width, height)
	}

	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for by := 0; by < blocksY; by++ {
		for bx := 0; bx < blocksX; bx++ {
			block := data[(by*blocksX+bx)*8:]
			c0 := binary.LittleEndian.Uint16(block[0:])
			c1 := binary.LittleEndian.Uint16(block[2:])
			bits := binary.LittleEndian.Uint32(block[4:])

			var palette [4][4]uint8
			r0, g0, b0 := color565(c0)
			r1, g1, b1 := color565(c1)
			palette[0] = [4]uint8{r0, g0, b0, 255}
			palette[1] = [4]uint8{r1, g1, b1, 255}
			if c0 > c1 {
				palette[2] = [4]uint8{
					uint8((2*int(r0) + int(r1)) / 3),
					uint8((2*int(g0) + int(g1)) / 3),
					uint8((2*int(b0) + int(b1)) / 3),
					255,
				}
				palette[3] = [4]uint8{
					uint8((int(r0) + 2*int(r1)) / 3),
					uint8((int(g0) + 2*int(g1)) / 3),
					uint8((int(b0) + 2*int(b1)) / 3),
					255,
				}
			} else {
				palette[2] = [4]uint8{
					uint8((int(r0) + int(r1)) / 2),
					uint8((int(g0) + int(g1)) / 2),
					uint8((int(b0) + int(b1)) / 2),
					255,
				}
				palette[3] = [4]uint8{0, 0, 0, 0}
			}

			writeBlock(img, bx*4, by*4, width, height, func(i int) [4]uint8 {
				return palette[bits>>(2*i)&0x3]
			})
		}
	}
	return img, nil
}

// decodeDXT5 decompresses a BC3 surface: an interpolated 3-bit alpha block
// followed by a DXT1-style color block.
func decodeDXT5(data []byte, width, height int) (*image.NRGBA, error) {
	blocksX := (width + 3) / 4
	blocksY := (height + 3) / 4
	if len(data) < blocksX*blocksY*16 {
		return nil, fmt.Errorf("dxt5: surface truncated for %dx%d", width, height)
	}

	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for by := 0; by < blocksY; by++ {
		for bx := 0; bx < blocksX; bx++ {
			block := data[(by*blocksX+bx)*16:]

			a0, a1 := block[0], block[1]
			var alphas [8]uint8
			alphas[0], alphas[1] = a0, a1
			if a0 > a1 {
				for i := 1; i < 7; i++ {
					alphas[i+1] = uint8(((7-i)*int(a0) + i*int(a1)) / 7)
				}
			} else {
				for i := 1; i < 5; i++ {
					alphas[i+1] = uint8(((5-i)*int(a0) + i*int(a1)) / 5)
				}
				alphas[6] = 0
				alphas[7] = 255
			}
			// 16 3-bit alpha indices packed into 48 bits.
			alphaBits := uint64(block[2]) | uint64(block[3])<<8 | uint64(block[4])<<16 |
				uint64(block[5])<<24 | uint64(block[6])<<32 | uint64(block[7])<<40

			c0 := binary.LittleEndian.Uint16(block[8:])
			c1 := binary.LittleEndian.Uint16(block[10:])
			bits := binary.LittleEndian.Uint32(block[12:])

			var palette [4][3]uint8
			r0, g0, b0 := color565(c0)
			r1, g1, b1 := color565(c1)
			palette[0] = [3]uint8{r0, g0, b0}
			palette[1] = [3]uint8{r1, g1, b1}
			palette[2] = [3]uint8{
				uint8((2*int(r0) + int(r1)) / 3),
				uint8((2*int(g0) + int(g1)) / 3),
				uint8((2*int(b0) + int(b1)) / 3),
			}
			palette[3] = [3]uint8{
				uint8((int(r0) + 2*int(r1)) / 3),
				uint8((int(g0) + 2*int(g1)) / 3),
				uint8((int(b0) + 2*int(b1)) / 3),
			}

			writeBlock(img, bx*4, by*4, width, height, func(i int) [4]uint8 {
				c := palette[bits>>(2*i)&0x3]
				a := alphas[alphaBits>>(3*i)&0x7]
				return [4]uint8{c[0], c[1], c[2], a}
			})
		}
	}
	return img, nil
}

// writeBlock writes one 4x4 block, clipping against the image edge for
// non-multiple-of-four dimensions.
func writeBlock(img *image.NRGBA, ox, oy, width, height int, pixel func(i int) [4]uint8) {
	for i := 0; i < 16; i++ {
		x := ox + i%4
		y := oy + i/4
		if x >= width || y >= height {
			continue
		}
		p := pixel(i)
		off := img.PixOffset(x, y)
		img.Pix[off] = p[0]
		img.Pix[off+1] = p[1]
		img.Pix[off+2] = p[2]
		img.Pix[off+3] = p[3]
	}
}
