package wld

import (
	"fmt"
)

// Fragment type tags recognized by the decoder. Anything else is retained
// as an Opaque fragment so positional references to it still resolve.
const (
	TagTextureDef     = 0x03
	TagTextureList    = 0x04
	TagTextureListRef = 0x05
	TagActorDef       = 0x14
	TagObjectInstance = 0x15
	TagLightDef       = 0x1B
	TagLightRef       = 0x1C
	TagPointLight     = 0x28
	TagMeshRef        = 0x2D
	TagMaterialDef    = 0x30
	TagMaterialList   = 0x31
	TagMesh           = 0x36
)

// Ref is a positional fragment reference. Positive values are 1-based
// indices into the fragment table, zero means "no reference", and negative
// values address the string table (name references).
type Ref int32

// Fragment is the closed set of decoded fragment variants.
type Fragment interface {
	Tag() uint32
}

// Opaque holds the raw payload of a fragment whose tag is not recognized or
// whose payload could not be decoded. It keeps the table position occupied.
type Opaque struct {
	RawTag uint32
	Data   []byte
}

func (f *Opaque) Tag() uint32 { return f.RawTag }

// TextureDef (0x03) carries one or more texture filenames; animated
// textures carry one filename per frame.
type TextureDef struct {
	Filenames []string
}

func (f *TextureDef) Tag() uint32 { return TagTextureDef }

// TextureList (0x04) groups texture definitions for a material. The
// declared count field is zero in every archive observed so far, with
// exactly one reference following; DeclaredCount is preserved so callers
// can flag a non-zero value as a potential unknown record variant.
type TextureList struct {
	DeclaredCount uint32
	Refs          []Ref
}

func (f *TextureList) Tag() uint32 { return TagTextureList }

// TextureListRef (0x05) points a material at a texture list.
type TextureListRef struct {
	Ref   Ref
	Flags uint32
}

func (f *TextureListRef) Tag() uint32 { return TagTextureListRef }

// MaterialDef (0x30) carries render flags and the texture binding chain.
type MaterialDef struct {
	Flags         uint32
	RenderMethod  uint32
	Brightness    float32
	ScaledAmbient float32
	TextureRef    Ref
}

func (f *MaterialDef) Tag() uint32 { return TagMaterialDef }

// MaterialList (0x31) is the material palette a mesh's per-polygon material
// indices select from.
type MaterialList struct {
	Flags uint32
	Refs  []Ref
}

func (f *MaterialList) Tag() uint32 { return TagMaterialList }

// Polygon is one triangle of a mesh fragment. The passable flag marks
// geometry the client does not collide with.
type Polygon struct {
	Flags uint16
	V     [3]uint16
}

// PolygonPassable marks a triangle as non-collidable.
const PolygonPassable = 0x10

// Run is a run-length group record: Count consecutive elements share Index.
// Meshes use runs both for bone assignments and per-polygon materials.
type Run struct {
	Count uint16
	Index uint16
}

// Mesh (0x36) is packed zone/object geometry. Vertices are decoded to world
// units here (center offset and fixed-point scale already applied).
type Mesh struct {
	Flags        uint32
	MaterialList Ref
	AnimRef      Ref
	Center       [3]float32
	Vertices     [][3]float32
	TexCoords    [][2]float32
	Normals      [][3]float32
	Colors       []uint32
	Polygons     []Polygon
	BoneRuns     []Run
	MaterialRuns []Run
}

func (f *Mesh) Tag() uint32 { return TagMesh }

// MeshRef (0x2D) is the indirection actor definitions use to reference mesh
// fragments.
type MeshRef struct {
	Ref   Ref
	Flags uint32
}

func (f *MeshRef) Tag() uint32 { return TagMeshRef }

// ActorDef (0x14) groups mesh references into one logical object.
type ActorDef struct {
	Flags    uint32
	Callback Ref
	Refs     []Ref
}

func (f *ActorDef) Tag() uint32 { return TagActorDef }

// ObjectInstance (0x15) places an actor in the zone. Rotation is stored in
// degrees; Scale is the uniform scale the record carries.
type ObjectInstance struct {
	Ref      Ref
	Flags    uint32
	Position [3]float32
	Rotation [3]float32
	Scale    [3]float32
}

func (f *ObjectInstance) Tag() uint32 { return TagObjectInstance }

// LightDef (0x1B) is a light source definition.
type LightDef struct {
	Flags     uint32
	Intensity float32
	Color     [3]float32
}

func (f *LightDef) Tag() uint32 { return TagLightDef }

// LightRef (0x1C) points a placement at a light definition.
type LightRef struct {
	Ref   Ref
	Flags uint32
}

func (f *LightRef) Tag() uint32 { return TagLightRef }

// PointLight (0x28) places a light in the zone with a radius.
type PointLight struct {
	LightRef Ref
	Flags    uint32
	Position [3]float32
	Radius   float32
}

func (f *PointLight) Tag() uint32 { return TagPointLight }

// rotationScale converts the placement rotation encoding (512ths of a full
// turn) to degrees.
const rotationScale = float32(360) / 512

func decodeTextureDef(r *reader) (*TextureDef, error) {
	count := int(r.uint32()) + 1
	names := make([]string, 0, count)
	for i := 0; i < count; i++ {
		nameLen := int(r.uint16())
		raw := r.bytes(nameLen)
		if r.truncated {
			return nil, fmt.Errorf("texture def truncated at filename %d", i)
		}
		name := decodeString(raw)
		names = append(names, cstring(name, 0))
	}
	return &TextureDef{Filenames: names}, nil
}

func decodeTextureList(r *reader) (*TextureList, error) {
	declared := r.uint32()

	// Format quirk: the count field is always zero in observed archives and
	// exactly one reference follows. A non-zero count is decoded as written
	// but reported by the resolver as a possible second record variant.
	count := int(declared)
	if count == 0 {
		count = 1
	}
	refs := make([]Ref, 0, count)
	for i := 0; i < count; i++ {
		refs = append(refs, Ref(r.int32()))
	}
	if r.truncated {
		return nil, fmt.Errorf("texture list truncated after %d of %d refs", len(refs), count)
	}
	return &TextureList{DeclaredCount: declared, Refs: refs}, nil
}

func decodeTextureListRef(r *reader) (*TextureListRef, error) {
	f := &TextureListRef{
		Ref:   Ref(r.int32()),
		Flags: r.uint32(),
	}
	if r.truncated {
		return nil, fmt.Errorf("texture list ref truncated")
	}
	return f, nil
}

func decodeMaterialDef(r *reader) (*MaterialDef, error) {
	f := &MaterialDef{
		Flags:        r.uint32(),
		RenderMethod: r.uint32(),
	}
	r.skip(4) // pen color
	f.Brightness = r.float32()
	f.ScaledAmbient = r.float32()
	f.TextureRef = Ref(r.int32())
	if f.Flags&0x2 != 0 {
		r.skip(8) // pair field, present only when flagged
	}
	if r.truncated {
		return nil, fmt.Errorf("material def truncated")
	}
	return f, nil
}

func decodeMaterialList(r *reader) (*MaterialList, error) {
	f := &MaterialList{Flags: r.uint32()}
	count := int(r.uint32())
	for i := 0; i < count; i++ {
		f.Refs = append(f.Refs, Ref(r.int32()))
	}
	if r.truncated {
		return nil, fmt.Errorf("material list truncated after %d of %d refs", len(f.Refs), count)
	}
	return f, nil
}

func decodeMesh(r *reader, oldVersion bool) (*Mesh, error) {
	f := &Mesh{
		Flags:        r.uint32(),
		MaterialList: Ref(r.int32()),
		AnimRef:      Ref(r.int32()),
	}
	r.skip(8) // unknown dword pair
	f.Center = [3]float32{r.float32(), r.float32(), r.float32()}
	r.skip(12) // unknown params
	r.skip(4)  // max distance
	r.skip(24) // bounding box

	vertCount := int(r.uint16())
	uvCount := int(r.uint16())
	normalCount := int(r.uint16())
	colorCount := int(r.uint16())
	polyCount := int(r.uint16())
	boneRunCount := int(r.uint16())
	materialRunCount := int(r.uint16())
	vertexTexRunCount := int(r.uint16())
	r.skip(2) // size of optional trailing data
	scaleRaw := r.uint16()
	if r.truncated {
		return nil, fmt.Errorf("mesh header truncated")
	}

	scale := float32(1) / float32(int32(1)<<scaleRaw)

	f.Vertices = make([][3]float32, vertCount)
	for i := range f.Vertices {
		f.Vertices[i] = [3]float32{
			f.Center[0] + float32(r.int16())*scale,
			f.Center[1] + float32(r.int16())*scale,
			f.Center[2] + float32(r.int16())*scale,
		}
	}

	f.TexCoords = make([][2]float32, uvCount)
	for i := range f.TexCoords {
		if oldVersion {
			// Old-format texture coordinates are 8.8 fixed point.
			f.TexCoords[i] = [2]float32{
				float32(r.int16()) / 256,
				float32(r.int16()) / 256,
			}
		} else {
			f.TexCoords[i] = [2]float32{r.float32(), r.float32()}
		}
	}

	f.Normals = make([][3]float32, normalCount)
	for i := range f.Normals {
		f.Normals[i] = [3]float32{
			float32(r.int8()) / 127,
			float32(r.int8()) / 127,
			float32(r.int8()) / 127,
		}
	}

	f.Colors = make([]uint32, colorCount)
	for i := range f.Colors {
		f.Colors[i] = r.uint32()
	}

	f.Polygons = make([]Polygon, polyCount)
	for i := range f.Polygons {
		f.Polygons[i] = Polygon{
			Flags: r.uint16(),
			V:     [3]uint16{r.uint16(), r.uint16(), r.uint16()},
		}
	}

	f.BoneRuns = make([]Run, boneRunCount)
	for i := range f.BoneRuns {
		f.BoneRuns[i] = Run{Count: r.uint16(), Index: r.uint16()}
	}

	f.MaterialRuns = make([]Run, materialRunCount)
	for i := range f.MaterialRuns {
		f.MaterialRuns[i] = Run{Count: r.uint16(), Index: r.uint16()}
	}

	// Vertex-texture runs and the optional trailing section are not used by
	// the conversion and are left unread.
	_ = vertexTexRunCount

	if r.truncated {
		return nil, fmt.Errorf("mesh arrays truncated (%d verts, %d polys declared)", vertCount, polyCount)
	}
	return f, nil
}

func decodeMeshRef(r *reader) (*MeshRef, error) {
	f := &MeshRef{
		Ref:   Ref(r.int32()),
		Flags: r.uint32(),
	}
	if r.truncated {
		return nil, fmt.Errorf("mesh ref truncated")
	}
	return f, nil
}

func decodeActorDef(r *reader) (*ActorDef, error) {
	f := &ActorDef{
		Flags:    r.uint32(),
		Callback: Ref(r.int32()),
	}
	actionCount := int(r.uint32())
	refCount := int(r.uint32())
	r.skip(4) // bounds ref
	if f.Flags&0x1 != 0 {
		r.skip(4) // current action
	}
	if f.Flags&0x2 != 0 {
		r.skip(28) // location
	}
	for i := 0; i < actionCount; i++ {
		lodCount := int(r.uint32())
		r.skip(4)
		r.skip(4 * lodCount)
	}
	for i := 0; i < refCount; i++ {
		f.Refs = append(f.Refs, Ref(r.int32()))
	}
	if r.truncated {
		return nil, fmt.Errorf("actor def truncated after %d of %d refs", len(f.Refs), refCount)
	}
	return f, nil
}

func decodeObjectInstance(r *reader) (*ObjectInstance, error) {
	f := &ObjectInstance{
		Ref:   Ref(r.int32()),
		Flags: r.uint32(),
	}
	r.skip(4) // sphere ref
	f.Position = [3]float32{r.float32(), r.float32(), r.float32()}

	// Rotation is stored (z, y, x) in 512ths of a turn.
	rz := r.float32() * rotationScale
	ry := r.float32() * rotationScale
	rx := r.float32() * rotationScale
	f.Rotation = [3]float32{rx, ry, rz}

	// Only one axis of the stored scale triple carries a meaningful value in
	// observed archives; placements scale uniformly.
	r.skip(4)
	s := r.float32()
	r.skip(4)
	if s == 0 {
		s = 1
	}
	f.Scale = [3]float32{s, s, s}

	if r.truncated {
		return nil, fmt.Errorf("object instance truncated")
	}
	return f, nil
}

func decodeLightDef(r *reader) (*LightDef, error) {
	f := &LightDef{
		Flags:     r.uint32(),
		Intensity: 1,
		Color:     [3]float32{1, 1, 1},
	}
	frameCount := int(r.uint32())
	if f.Flags&0x1 != 0 {
		r.skip(4) // current frame
	}
	if f.Flags&0x2 != 0 {
		r.skip(4) // sleep
	}
	if f.Flags&0x4 != 0 {
		for i := 0; i < frameCount; i++ {
			level := r.float32()
			if i == 0 {
				f.Intensity = level
			}
		}
	}
	if f.Flags&0x10 != 0 {
		for i := 0; i < frameCount; i++ {
			c := [3]float32{r.float32(), r.float32(), r.float32()}
			if i == 0 {
				f.Color = c
			}
		}
	}
	if r.truncated {
		return nil, fmt.Errorf("light def truncated")
	}
	return f, nil
}

func decodeLightRef(r *reader) (*LightRef, error) {
	f := &LightRef{
		Ref:   Ref(r.int32()),
		Flags: r.uint32(),
	}
	if r.truncated {
		return nil, fmt.Errorf("light ref truncated")
	}
	return f, nil
}

func decodePointLight(r *reader) (*PointLight, error) {
	f := &PointLight{
		LightRef: Ref(r.int32()),
		Flags:    r.uint32(),
	}
	f.Position = [3]float32{r.float32(), r.float32(), r.float32()}
	f.Radius = r.float32()
	if r.truncated {
		return nil, fmt.Errorf("point light truncated")
	}
	return f, nil
}
