// Package oez serializes the compact native zone format: little-endian,
// count-prefixed arrays of materials, objects with nested meshes,
// placeables and lights. No compression, no padding. Output depends only
// on the scene, so the same scene always produces byte-identical bytes.
package oez

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/openeq/eqconvert/internal/scene"
)

type writer struct {
	w   *bufio.Writer
	err error
}

func (w *writer) u32(v uint32) {
	if w.err != nil {
		return
	}
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	_, w.err = w.w.Write(buf[:])
}

func (w *writer) f32(v float32) {
	w.u32(math.Float32bits(v))
}

func (w *writer) vec3(v [3]float32) {
	w.f32(v[0])
	w.f32(v[1])
	w.f32(v[2])
}

func (w *writer) str(s string) {
	w.u32(uint32(len(s)))
	if w.err != nil {
		return
	}
	_, w.err = w.w.WriteString(s)
}

// Write serializes the finalized scene. A write failure is fatal for this
// output target only.
func Write(out io.Writer, s *scene.Scene) error {
	w := &writer{w: bufio.NewWriter(out)}

	// Header: one count per entity array.
	w.u32(uint32(len(s.Materials)))
	w.u32(uint32(len(s.Objects)))
	w.u32(uint32(len(s.Placeables)))
	w.u32(uint32(len(s.Lights)))

	for _, mat := range s.Materials {
		w.u32(uint32(mat.Flags))
		w.u32(mat.Param)
		w.u32(uint32(len(mat.Filenames)))
		for _, name := range mat.Filenames {
			w.str(name)
		}
	}

	for _, obj := range s.Objects {
		w.u32(uint32(len(obj.Meshes)))
		for _, mesh := range obj.Meshes {
			w.u32(mesh.MaterialID)
			if mesh.Collidable {
				w.u32(1)
			} else {
				w.u32(0)
			}
			w.u32(uint32(mesh.VertexCount()))
			w.u32(uint32(len(mesh.Indices)))
			for _, f := range mesh.Vertices {
				w.f32(f)
			}
			for _, idx := range mesh.Indices {
				w.u32(idx)
			}
		}
	}

	for _, p := range s.Placeables {
		w.u32(uint32(p.ObjectIndex))
		w.vec3(p.Position)
		w.vec3(p.Rotation)
		w.vec3(p.Scale)
	}

	for _, l := range s.Lights {
		w.vec3(l.Position)
		w.vec3(l.Color)
		w.f32(l.Radius)
		w.f32(l.Attenuation)
		w.u32(l.Flags)
	}

	if w.err != nil {
		return fmt.Errorf("oez: writing scene: %w", w.err)
	}
	if err := w.w.Flush(); err != nil {
		return fmt.Errorf("oez: flushing output: %w", err)
	}
	return nil
}
