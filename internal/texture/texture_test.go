package texture

import (
	"bytes"
	"encoding/binary"
	"image"
	"image/color"
	"image/png"
	"testing"

	"golang.org/x/image/bmp"
)

// encodeBMP round-trips an image through the BMP encoder so tests exercise
// the same byte layout real archives carry.
func encodeBMP(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := bmp.Encode(&buf, img); err != nil {
		t.Fatalf("encoding bmp: %v", err)
	}
	return buf.Bytes()
}

func TestToPNGFromBMP(t *testing.T) {
	src := image.NewNRGBA(image.Rect(0, 0, 4, 2))
	for i := range src.Pix {
		src.Pix[i] = 0xFF
	}

	data, err := ToPNG(encodeBMP(t, src), Options{})
	if err != nil {
		t.Fatalf("converting bmp: %v", err)
	}

	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decoding png output: %v", err)
	}
	if img.Bounds().Dx() != 4 || img.Bounds().Dy() != 2 {
		t.Errorf("dimensions: got %v, want 4x2", img.Bounds())
	}
}

func TestMaskedPaletteBMP(t *testing.T) {
	// Palette entry zero is the transparency key by convention.
	palette := color.Palette{
		color.NRGBA{R: 255, G: 0, B: 255, A: 255},
		color.NRGBA{R: 10, G: 20, B: 30, A: 255},
	}
	src := image.NewPaletted(image.Rect(0, 0, 2, 1), palette)
	src.SetColorIndex(0, 0, 0) // key color
	src.SetColorIndex(1, 0, 1)

	img, err := Decode(encodeBMP(t, src), true)
	if err != nil {
		t.Fatalf("decoding masked bmp: %v", err)
	}

	if _, _, _, a := img.At(0, 0).RGBA(); a != 0 {
		t.Errorf("key-colored pixel should be transparent, alpha %d", a)
	}
	if _, _, _, a := img.At(1, 0).RGBA(); a == 0 {
		t.Error("non-key pixel should stay opaque")
	}
}

func TestUnmaskedPaletteBMPKeepsKeyColor(t *testing.T) {
	palette := color.Palette{
		color.NRGBA{R: 255, G: 0, B: 255, A: 255},
		color.NRGBA{R: 10, G: 20, B: 30, A: 255},
	}
	src := image.NewPaletted(image.Rect(0, 0, 2, 1), palette)
	src.SetColorIndex(0, 0, 0)

	img, err := Decode(encodeBMP(t, src), false)
	if err != nil {
		t.Fatalf("decoding bmp: %v", err)
	}
	if _, _, _, a := img.At(0, 0).RGBA(); a == 0 {
		t.Error("unmasked conversion must not apply the color key")
	}
}

// ddsDXT1 builds a minimal one-block DXT1 surface.
func ddsDXT1(width, height int, c0, c1 uint16, bits uint32) []byte {
	data := make([]byte, ddsHeaderSize+8)
	copy(data[0:4], "DDS ")
	binary.LittleEndian.PutUint32(data[12:], uint32(height))
	binary.LittleEndian.PutUint32(data[16:], uint32(width))
	copy(data[84:88], "DXT1")

	block := data[ddsHeaderSize:]
	binary.LittleEndian.PutUint16(block[0:], c0)
	binary.LittleEndian.PutUint16(block[2:], c1)
	binary.LittleEndian.PutUint32(block[4:], bits)
	return data
}

func TestDecodeDXT1Opaque(t *testing.T) {
	// c0 > c1 selects the fully opaque palette; all indices zero = endpoint 0.
	img, err := Decode(ddsDXT1(4, 4, 0xF800, 0x001F, 0), false)
	if err != nil {
		t.Fatalf("decoding dxt1: %v", err)
	}
	if img.Bounds().Dx() != 4 || img.Bounds().Dy() != 4 {
		t.Fatalf("dimensions: got %v", img.Bounds())
	}
	r, g, b, a := img.At(0, 0).RGBA()
	if r>>8 != 255 || g != 0 || b != 0 || a>>8 != 255 {
		t.Errorf("endpoint color: got %d %d %d %d, want pure red", r>>8, g>>8, b>>8, a>>8)
	}
}

func TestDecodeDXT1Punchthrough(t *testing.T) {
	// c0 <= c1 selects the palette whose index 3 is transparent black.
	img, err := Decode(ddsDXT1(4, 4, 0x001F, 0xF800, 0xFFFFFFFF), false)
	if err != nil {
		t.Fatalf("decoding dxt1: %v", err)
	}
	if _, _, _, a := img.At(0, 0).RGBA(); a != 0 {
		t.Errorf("punch-through pixel should be transparent, alpha %d", a)
	}
}

func TestDecodeDXTTruncated(t *testing.T) {
	data := ddsDXT1(8, 8, 0, 0, 0) // declares 8x8 but carries one block
	if _, err := Decode(data, false); err == nil {
		t.Fatal("expected error for truncated surface")
	}
}

func TestDecodeUnknownFourCC(t *testing.T) {
	data := ddsDXT1(4, 4, 0, 0, 0)
	copy(data[84:88], "DXT3")
	if _, err := Decode(data, false); err == nil {
		t.Fatal("expected error for unsupported compression")
	}
}

func TestResample(t *testing.T) {
	src := image.NewNRGBA(image.Rect(0, 0, 600, 4))
	data, err := ToPNG(encodeBMP(t, src), Options{Resample: true})
	if err != nil {
		t.Fatalf("converting: %v", err)
	}
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decoding png output: %v", err)
	}
	if img.Bounds().Dx() != 300 || img.Bounds().Dy() != 2 {
		t.Errorf("resampled dimensions: got %v, want 300x2", img.Bounds())
	}
}

func TestDecodeGarbage(t *testing.T) {
	if _, err := Decode([]byte("not an image at all"), false); err == nil {
		t.Fatal("expected error for undecodable input")
	}
}
