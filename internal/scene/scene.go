// Package scene holds the converted zone model and the two stages that
// produce it: the graph resolver, which walks the fragment table and wires
// positional references into typed entities, and the builder, which
// finalizes material bindings before serialization.
package scene

// MaterialFlags is the render-mode flag set of a material. Opaque is
// implied by the absence of all other bits.
type MaterialFlags uint32

const (
	MatAlphaTested  MaterialFlags = 1 << 1
	MatAlphaBlended MaterialFlags = 1 << 2
	MatEmissive     MaterialFlags = 1 << 3
	MatAnimated     MaterialFlags = 1 << 4

	// MatNotRendered marks invisible collision-only surfaces.
	MatNotRendered MaterialFlags = 1 << 5
)

// Material is an ordered list of texture filenames plus render flags.
// Textures, when attached, holds the raw image bytes aligned with
// Filenames.
type Material struct {
	Flags     MaterialFlags
	Param     uint32
	Filenames []string
	Textures  [][]byte
}

// VertexStride is the number of floats per vertex: position (3), normal
// (3), texture coordinate (2) and bone index (1, used only by skinned
// meshes).
const VertexStride = 9

// Mesh is one draw batch: a material binding, a collidable flag and packed
// vertex/index buffers. Indices are 32-bit; real zone meshes exceed 16-bit
// index range.
type Mesh struct {
	MaterialID uint32
	Collidable bool
	Vertices   []float32 // VertexStride floats per vertex
	Indices    []uint32

	// MaterialMissing marks a binding the resolver could not satisfy: the
	// polygon run selected palette slot MaterialSlot but the material list
	// had no entry for it. MaterialID is meaningless while the flag is set;
	// finalization records the diagnostic and binds the fallback material.
	MaterialMissing bool
	MaterialSlot    int

	// Origin names the caller context for diagnostics: "zone-mesh" or
	// "object-mesh".
	Origin string
}

// VertexCount returns the number of vertices in the buffer.
func (m *Mesh) VertexCount() int { return len(m.Vertices) / VertexStride }

// TriangleCount returns the number of triangles in the index buffer.
func (m *Mesh) TriangleCount() int { return len(m.Indices) / 3 }

// Object is an ordered list of meshes sharing a logical grouping: the zone
// geometry itself, a building, a tree.
type Object struct {
	Name   string
	Meshes []*Mesh
}

// Placeable instances an Object at a transform. Multiple placeables may
// reference the same object.
type Placeable struct {
	ObjectIndex int
	Position    [3]float32
	Rotation    [3]float32 // degrees
	Scale       [3]float32
}

// Light is a point light source.
type Light struct {
	Position    [3]float32
	Color       [3]float32
	Radius      float32
	Attenuation float32
	Flags       uint32
}

// Scene is the root aggregate produced once per conversion run. It is
// immutable once serialization begins.
type Scene struct {
	Materials  []*Material
	Objects    []*Object
	Placeables []*Placeable
	Lights     []*Light

	defaultMaterial int
	nullObject      int
}

// NewScene returns an empty scene.
func NewScene() *Scene {
	return &Scene{defaultMaterial: -1, nullObject: -1}
}

// AddMaterial appends a material and returns its id.
func (s *Scene) AddMaterial(m *Material) int {
	s.Materials = append(s.Materials, m)
	return len(s.Materials) - 1
}

// AddObject appends an object and returns its index.
func (s *Scene) AddObject(o *Object) int {
	s.Objects = append(s.Objects, o)
	return len(s.Objects) - 1
}

// DefaultMaterial returns the id of the fallback material (opaque, no
// texture), creating it on first use. Meshes whose material reference
// cannot be satisfied are bound to it instead of failing the conversion.
func (s *Scene) DefaultMaterial() int {
	if s.defaultMaterial < 0 {
		s.defaultMaterial = s.AddMaterial(&Material{})
	}
	return s.defaultMaterial
}

// NullObject returns the index of the empty sentinel object used for
// placeables whose object reference cannot be satisfied.
func (s *Scene) NullObject() int {
	if s.nullObject < 0 {
		s.nullObject = s.AddObject(&Object{Name: "missing"})
	}
	return s.nullObject
}

// MeshCount returns the total number of meshes across all objects.
func (s *Scene) MeshCount() int {
	n := 0
	for _, o := range s.Objects {
		n += len(o.Meshes)
	}
	return n
}

// VertexCount returns the total vertex count across all meshes.
func (s *Scene) VertexCount() int {
	n := 0
	for _, o := range s.Objects {
		for _, m := range o.Meshes {
			n += m.VertexCount()
		}
	}
	return n
}

// TriangleCount returns the total triangle count across all meshes.
func (s *Scene) TriangleCount() int {
	n := 0
	for _, o := range s.Objects {
		for _, m := range o.Meshes {
			n += m.TriangleCount()
		}
	}
	return n
}
