package wld

import (
	"encoding/binary"
	"math"
)

// reader is a little-endian cursor over a fragment payload. Reads past the
// end return zero values and set the truncated flag, which the decoder
// checks once per fragment instead of after every field.
type reader struct {
	data      []byte
	off       int
	truncated bool
}

func newReader(data []byte) *reader {
	return &reader{data: data}
}

func (r *reader) remaining() int {
	return len(r.data) - r.off
}

func (r *reader) bytes(n int) []byte {
	if n < 0 || r.off+n > len(r.data) {
		r.off = len(r.data)
		r.truncated = true
		return nil
	}
	b := r.data[r.off : r.off+n]
	r.off += n
	return b
}

func (r *reader) skip(n int) {
	r.bytes(n)
}

func (r *reader) uint32() uint32 {
	b := r.bytes(4)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

func (r *reader) int32() int32 {
	return int32(r.uint32())
}

func (r *reader) uint16() uint16 {
	b := r.bytes(2)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint16(b)
}

func (r *reader) int16() int16 {
	return int16(r.uint16())
}

func (r *reader) int8() int8 {
	b := r.bytes(1)
	if b == nil {
		return 0
	}
	return int8(b[0])
}

func (r *reader) float32() float32 {
	return math.Float32frombits(r.uint32())
}
