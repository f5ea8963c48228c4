package oez

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/openeq/eqconvert/internal/scene"
)

type parser struct {
	data []byte
	off  int
}

func (p *parser) u32() (uint32, error) {
	if p.off+4 > len(p.data) {
		return 0, fmt.Errorf("oez: truncated at offset %d", p.off)
	}
	v := binary.LittleEndian.Uint32(p.data[p.off:])
	p.off += 4
	return v, nil
}

func (p *parser) f32() (float32, error) {
	v, err := p.u32()
	return math.Float32frombits(v), err
}

func (p *parser) vec3() ([3]float32, error) {
	var v [3]float32
	for i := range v {
		f, err := p.f32()
		if err != nil {
			return v, err
		}
		v[i] = f
	}
	return v, nil
}

// array checks a declared element count against the input remaining past
// the cursor, before any buffer is sized from it. Counts are untrusted:
// a corrupt header must not drive allocation.
func (p *parser) array(count uint32, elemSize int) (int, error) {
	if int64(count)*int64(elemSize) > int64(len(p.data)-p.off) {
		return 0, fmt.Errorf("oez: declared count %d exceeds %d bytes remaining at offset %d",
			count, len(p.data)-p.off, p.off)
	}
	return int(count), nil
}

func (p *parser) str() (string, error) {
	n, err := p.u32()
	if err != nil {
		return "", err
	}
	if p.off+int(n) > len(p.data) {
		return "", fmt.Errorf("oez: string of %d bytes truncated at offset %d", n, p.off)
	}
	s := string(p.data[p.off : p.off+int(n)])
	p.off += int(n)
	return s, nil
}

// Read parses native-format bytes back into a scene. It exists for
// downstream consumers of the native format and for round-trip
// verification of the writer.
func Read(data []byte) (*scene.Scene, error) {
	p := &parser{data: data}
	s := scene.NewScene()

	materialCount, err := p.u32()
	if err != nil {
		return nil, err
	}
	objectCount, err := p.u32()
	if err != nil {
		return nil, err
	}
	placeableCount, err := p.u32()
	if err != nil {
		return nil, err
	}
	lightCount, err := p.u32()
	if err != nil {
		return nil, err
	}

	for i := uint32(0); i < materialCount; i++ {
		mat := &scene.Material{}
		flags, err := p.u32()
		if err != nil {
			return nil, err
		}
		mat.Flags = scene.MaterialFlags(flags)
		if mat.Param, err = p.u32(); err != nil {
			return nil, err
		}
		nameCount, err := p.u32()
		if err != nil {
			return nil, err
		}
		for j := uint32(0); j < nameCount; j++ {
			name, err := p.str()
			if err != nil {
				return nil, err
			}
			mat.Filenames = append(mat.Filenames, name)
		}
		s.Materials = append(s.Materials, mat)
	}

	for i := uint32(0); i < objectCount; i++ {
		obj := &scene.Object{}
		meshCount, err := p.u32()
		if err != nil {
			return nil, err
		}
		for j := uint32(0); j < meshCount; j++ {
			mesh := &scene.Mesh{}
			if mesh.MaterialID, err = p.u32(); err != nil {
				return nil, err
			}
			collidable, err := p.u32()
			if err != nil {
				return nil, err
			}
			mesh.Collidable = collidable != 0
			vertexCount, err := p.u32()
			if err != nil {
				return nil, err
			}
			indexCount, err := p.u32()
			if err != nil {
				return nil, err
			}
			nv, err := p.array(vertexCount, scene.VertexStride*4)
			if err != nil {
				return nil, err
			}
			mesh.Vertices = make([]float32, nv*scene.VertexStride)
			for k := range mesh.Vertices {
				if mesh.Vertices[k], err = p.f32(); err != nil {
					return nil, err
				}
			}
			ni, err := p.array(indexCount, 4)
			if err != nil {
				return nil, err
			}
			mesh.Indices = make([]uint32, ni)
			for k := range mesh.Indices {
				if mesh.Indices[k], err = p.u32(); err != nil {
					return nil, err
				}
			}
			obj.Meshes = append(obj.Meshes, mesh)
		}
		s.Objects = append(s.Objects, obj)
	}

	for i := uint32(0); i < placeableCount; i++ {
		pl := &scene.Placeable{}
		objIdx, err := p.u32()
		if err != nil {
			return nil, err
		}
		pl.ObjectIndex = int(objIdx)
		if pl.Position, err = p.vec3(); err != nil {
			return nil, err
		}
		if pl.Rotation, err = p.vec3(); err != nil {
			return nil, err
		}
		if pl.Scale, err = p.vec3(); err != nil {
			return nil, err
		}
		s.Placeables = append(s.Placeables, pl)
	}

	for i := uint32(0); i < lightCount; i++ {
		l := &scene.Light{}
		var err error
		if l.Position, err = p.vec3(); err != nil {
			return nil, err
		}
		if l.Color, err = p.vec3(); err != nil {
			return nil, err
		}
		if l.Radius, err = p.f32(); err != nil {
			return nil, err
		}
		if l.Attenuation, err = p.f32(); err != nil {
			return nil, err
		}
		if l.Flags, err = p.u32(); err != nil {
			return nil, err
		}
		s.Lights = append(s.Lights, l)
	}

	return s, nil
}
