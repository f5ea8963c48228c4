package scene

import (
	"testing"

	"github.com/openeq/eqconvert/internal/wld"
)

// quadMesh builds a decoded mesh fragment: four vertices, two triangles,
// one material run selecting palette slot zero.
func quadMesh(materialList wld.Ref, polyFlags uint16) *wld.Mesh {
	return &wld.Mesh{
		MaterialList: materialList,
		Vertices: [][3]float32{
			{0, 0, 0}, {1, 0, 0}, {1, 1, 0}, {0, 1, 0},
		},
		Normals: [][3]float32{
			{0, 0, 1}, {0, 0, 1}, {0, 0, 1}, {0, 0, 1},
		},
		TexCoords: [][2]float32{
			{0, 0}, {1, 0}, {1, 1}, {0, 1},
		},
		Polygons: []wld.Polygon{
			{Flags: polyFlags, V: [3]uint16{0, 1, 2}},
			{Flags: polyFlags, V: [3]uint16{0, 2, 3}},
		},
		MaterialRuns: []wld.Run{{Count: 2, Index: 0}},
	}
}

func materialTable() []wld.Entry {
	return []wld.Entry{
		{Tag: wld.TagMaterialDef, Frag: &wld.MaterialDef{RenderMethod: 0x13}}, // 1
		{Tag: wld.TagMaterialList, Frag: &wld.MaterialList{Refs: []wld.Ref{1}}}, // 2
	}
}

func TestResolveZoneBuildsMesh(t *testing.T) {
	entries := materialTable()
	entries = append(entries, wld.Entry{Tag: wld.TagMesh, Frag: quadMesh(2, 0)})
	table := &wld.Table{Fragments: entries}

	rec := &Recorder{}
	r := NewResolver(rec)
	r.ResolveZone(table, "gfaydark")

	s := r.Scene
	if len(s.Materials) != 1 {
		t.Fatalf("materials: got %d, want 1", len(s.Materials))
	}
	if s.Materials[0].Flags&MatAlphaTested == 0 {
		t.Errorf("render method 0x13 should map to alpha tested, got flags %b", s.Materials[0].Flags)
	}
	if len(s.Objects) != 1 {
		t.Fatalf("objects: got %d, want 1", len(s.Objects))
	}
	obj := s.Objects[0]
	if obj.Name != "gfaydark" {
		t.Errorf("zone object name: got %q", obj.Name)
	}
	if len(obj.Meshes) != 1 {
		t.Fatalf("meshes: got %d, want 1", len(obj.Meshes))
	}

	mesh := obj.Meshes[0]
	if mesh.VertexCount() != 4 {
		t.Errorf("vertices: got %d, want 4", mesh.VertexCount())
	}
	if len(mesh.Indices) != 6 {
		t.Errorf("indices: got %d, want 6", len(mesh.Indices))
	}
	if mesh.MaterialID != 0 {
		t.Errorf("material id: got %d, want 0", mesh.MaterialID)
	}
	if !mesh.Collidable {
		t.Error("polygons without the passable flag must be collidable")
	}
	if rec.Count() != 0 {
		t.Errorf("clean input produced %d anomalies: %v", rec.Count(), rec.Anomalies)
	}

	// First vertex: position, normal, uv, bone.
	want := []float32{0, 0, 0, 0, 0, 1, 0, 0, 0}
	for i, v := range want {
		if mesh.Vertices[i] != v {
			t.Errorf("vertex float %d: got %v, want %v", i, mesh.Vertices[i], v)
		}
	}
}

func TestCollidableSplit(t *testing.T) {
	entries := materialTable()
	mesh := quadMesh(2, 0)
	mesh.Polygons[1].Flags = wld.PolygonPassable
	entries = append(entries, wld.Entry{Tag: wld.TagMesh, Frag: mesh})

	r := NewResolver(&Recorder{})
	r.ResolveZone(&wld.Table{Fragments: entries}, "zone")

	obj := r.Scene.Objects[0]
	if len(obj.Meshes) != 2 {
		t.Fatalf("expected collidable/passable split into 2 meshes, got %d", len(obj.Meshes))
	}
	if !obj.Meshes[0].Collidable || obj.Meshes[1].Collidable {
		t.Errorf("split order: got collidable=%v,%v", obj.Meshes[0].Collidable, obj.Meshes[1].Collidable)
	}
	// Both splits share the shared vertices via their own remapped buffers.
	if obj.Meshes[0].VertexCount() != 3 || obj.Meshes[1].VertexCount() != 3 {
		t.Errorf("remapped vertex counts: got %d and %d, want 3 and 3",
			obj.Meshes[0].VertexCount(), obj.Meshes[1].VertexCount())
	}
}

func TestResolveObjectsAndPlacement(t *testing.T) {
	entries := materialTable()
	entries = append(entries,
		wld.Entry{Tag: wld.TagMesh, Frag: quadMesh(2, 0)},                                    // 3
		wld.Entry{Tag: wld.TagMeshRef, Frag: &wld.MeshRef{Ref: 3}},                           // 4
		wld.Entry{Tag: wld.TagActorDef, Name: "TREE_ACTORDEF", Frag: &wld.ActorDef{Refs: []wld.Ref{4}}}, // 5
		wld.Entry{Tag: wld.TagObjectInstance, Frag: &wld.ObjectInstance{
			Ref:      5,
			Position: [3]float32{10, 20, 30},
			Rotation: [3]float32{0, 0, 90},
			Scale:    [3]float32{2, 2, 2},
		}},
	)

	rec := &Recorder{}
	r := NewResolver(rec)
	r.ResolveObjects(&wld.Table{Fragments: entries})

	s := r.Scene
	if len(s.Objects) != 1 {
		t.Fatalf("objects: got %d, want 1", len(s.Objects))
	}
	if s.Objects[0].Name != "TREE_ACTORDEF" {
		t.Errorf("object name: got %q", s.Objects[0].Name)
	}
	if len(s.Objects[0].Meshes) != 1 {
		t.Fatalf("object meshes: got %d, want 1", len(s.Objects[0].Meshes))
	}
	if s.Objects[0].Meshes[0].Origin != "object-mesh" {
		t.Errorf("mesh origin: got %q", s.Objects[0].Meshes[0].Origin)
	}

	if len(s.Placeables) != 1 {
		t.Fatalf("placeables: got %d, want 1", len(s.Placeables))
	}
	p := s.Placeables[0]
	if p.ObjectIndex != 0 {
		t.Errorf("placeable object index: got %d, want 0", p.ObjectIndex)
	}
	if p.Position != [3]float32{10, 20, 30} {
		t.Errorf("placeable position: got %v", p.Position)
	}
	if rec.Count() != 0 {
		t.Errorf("clean input produced anomalies: %v", rec.Anomalies)
	}
}

func TestUnresolvedSlotSurvivesLaterMaterials(t *testing.T) {
	// An object table whose mesh run selects slot 1 of a single-entry
	// material list, followed by a zone table that registers two more
	// materials. The later registrations must not satisfy the unresolved
	// binding: finalization still diagnoses it and binds the fallback.
	objMesh := quadMesh(2, 0)
	objMesh.MaterialRuns = []wld.Run{{Count: 2, Index: 1}}
	objEntries := materialTable()
	objEntries = append(objEntries,
		wld.Entry{Tag: wld.TagMesh, Frag: objMesh}, // 3
		wld.Entry{Tag: wld.TagActorDef, Name: "CHEST_ACTORDEF", Frag: &wld.ActorDef{Refs: []wld.Ref{3}}}, // 4
	)

	zoneEntries := []wld.Entry{
		{Tag: wld.TagMaterialDef, Frag: &wld.MaterialDef{RenderMethod: 0x13}},      // 1
		{Tag: wld.TagMaterialDef, Frag: &wld.MaterialDef{RenderMethod: 0x05}},      // 2
		{Tag: wld.TagMaterialList, Frag: &wld.MaterialList{Refs: []wld.Ref{1, 2}}}, // 3
		{Tag: wld.TagMesh, Frag: quadMesh(3, 0)},                                   // 4
	}

	rec := &Recorder{}
	r := NewResolver(rec)
	r.ResolveObjects(&wld.Table{Fragments: objEntries})
	r.ResolveZone(&wld.Table{Fragments: zoneEntries}, "zone")
	Finalize(r.Scene, rec, nil)

	s := r.Scene
	outOfRange := 0
	for _, a := range rec.Anomalies {
		if a.Kind == AnomalyMaterialOutOfRange {
			outOfRange++
		}
	}
	if outOfRange != 1 {
		t.Fatalf("expected exactly 1 out-of-range material anomaly, got %d: %v", outOfRange, rec.Anomalies)
	}

	mesh := s.Objects[0].Meshes[0]
	if mesh.MaterialMissing {
		t.Error("finalization must clear the unresolved binding")
	}
	if mesh.MaterialID != uint32(s.DefaultMaterial()) {
		t.Errorf("unresolved binding should get the fallback material %d, got %d",
			s.DefaultMaterial(), mesh.MaterialID)
	}
	// 1 object-table material + 2 zone-table materials + the fallback.
	if len(s.Materials) != 4 {
		t.Errorf("materials: got %d, want 4", len(s.Materials))
	}
}

func TestForwardTextureReferenceDangles(t *testing.T) {
	// The material at fragment 1 points ahead to a texture list decoded
	// later in the stream. References only point backward, so the chain
	// must dangle instead of resolving.
	entries := []wld.Entry{
		{Tag: wld.TagMaterialDef, Frag: &wld.MaterialDef{TextureRef: 3}},                       // 1
		{Tag: wld.TagTextureDef, Frag: &wld.TextureDef{Filenames: []string{"late.bmp"}}},       // 2
		{Tag: wld.TagTextureList, Frag: &wld.TextureList{Refs: []wld.Ref{2}}},                  // 3
	}

	rec := &Recorder{}
	r := NewResolver(rec)
	r.ResolveZone(&wld.Table{Fragments: entries}, "zone")

	if got := r.Scene.Materials[0].Filenames; len(got) != 0 {
		t.Errorf("forward texture chain should leave material untextured, got %v", got)
	}
	if rec.Count() != 1 || rec.Anomalies[0].Kind != AnomalyDanglingReference {
		t.Fatalf("expected 1 dangling reference anomaly, got %v", rec.Anomalies)
	}
}

func TestDanglingPlacementUsesNullObject(t *testing.T) {
	entries := []wld.Entry{
		{Tag: wld.TagObjectInstance, Frag: &wld.ObjectInstance{Ref: 7}},
	}

	rec := &Recorder{}
	r := NewResolver(rec)
	r.ResolveObjects(&wld.Table{Fragments: entries})

	s := r.Scene
	if len(s.Placeables) != 1 {
		t.Fatalf("placeables: got %d, want 1", len(s.Placeables))
	}
	idx := s.Placeables[0].ObjectIndex
	if s.Objects[idx].Name != "missing" {
		t.Errorf("dangling placement should bind the sentinel object, got %q", s.Objects[idx].Name)
	}
	if rec.Count() != 1 {
		t.Fatalf("expected exactly 1 anomaly, got %d: %v", rec.Count(), rec.Anomalies)
	}
	if rec.Anomalies[0].Kind != AnomalyDanglingReference {
		t.Errorf("anomaly kind: got %q", rec.Anomalies[0].Kind)
	}
}

func TestDanglingTextureListRecorded(t *testing.T) {
	entries := []wld.Entry{
		{Tag: wld.TagMaterialDef, Frag: &wld.MaterialDef{RenderMethod: 0x13, TextureRef: 9}},
	}

	rec := &Recorder{}
	r := NewResolver(rec)
	r.ResolveZone(&wld.Table{Fragments: entries}, "zone")

	if len(r.Scene.Materials) != 1 {
		t.Fatalf("materials: got %d, want 1", len(r.Scene.Materials))
	}
	if len(r.Scene.Materials[0].Filenames) != 0 {
		t.Errorf("dangling texture chain should leave material untextured, got %v",
			r.Scene.Materials[0].Filenames)
	}
	if rec.Count() != 1 || rec.Anomalies[0].Kind != AnomalyDanglingReference {
		t.Fatalf("expected 1 dangling reference anomaly, got %v", rec.Anomalies)
	}
}

func TestTextureListVariantFlagged(t *testing.T) {
	entries := []wld.Entry{
		{Tag: wld.TagTextureDef, Frag: &wld.TextureDef{Filenames: []string{"a.bmp"}}},          // 1
		{Tag: wld.TagTextureList, Frag: &wld.TextureList{DeclaredCount: 1, Refs: []wld.Ref{1}}}, // 2
		{Tag: wld.TagMaterialDef, Frag: &wld.MaterialDef{TextureRef: 2}},                        // 3
	}

	rec := &Recorder{}
	r := NewResolver(rec)
	r.ResolveZone(&wld.Table{Fragments: entries}, "zone")

	mat := r.Scene.Materials[0]
	if len(mat.Filenames) != 1 || mat.Filenames[0] != "a.bmp" {
		t.Errorf("variant list should still resolve filenames, got %v", mat.Filenames)
	}
	if rec.Count() != 1 || rec.Anomalies[0].Kind != AnomalyTextureListVariant {
		t.Fatalf("expected texture list variant anomaly, got %v", rec.Anomalies)
	}
}

func TestAnimatedMaterialFlag(t *testing.T) {
	entries := []wld.Entry{
		{Tag: wld.TagTextureDef, Frag: &wld.TextureDef{Filenames: []string{"fire1.bmp", "fire2.bmp"}}}, // 1
		{Tag: wld.TagTextureList, Frag: &wld.TextureList{Refs: []wld.Ref{1}}},                          // 2
		{Tag: wld.TagMaterialDef, Frag: &wld.MaterialDef{RenderMethod: 0x0B, TextureRef: 2}},           // 3
	}

	r := NewResolver(&Recorder{})
	r.ResolveZone(&wld.Table{Fragments: entries}, "zone")

	mat := r.Scene.Materials[0]
	if mat.Flags&MatAnimated == 0 {
		t.Error("multiple texture frames should set the animated flag")
	}
	if mat.Flags&MatEmissive == 0 {
		t.Error("render method 0x0B should map to emissive")
	}
}

func TestResolveLights(t *testing.T) {
	entries := []wld.Entry{
		{Tag: wld.TagLightDef, Frag: &wld.LightDef{Intensity: 2, Color: [3]float32{1, 0.5, 0.25}}}, // 1
		{Tag: wld.TagLightRef, Frag: &wld.LightRef{Ref: 1}},                                        // 2
		{Tag: wld.TagPointLight, Frag: &wld.PointLight{
			LightRef: 2,
			Position: [3]float32{5, 6, 7},
			Radius:   40,
		}},
		{Tag: wld.TagPointLight, Frag: &wld.PointLight{LightRef: 9}}, // dangling
	}

	rec := &Recorder{}
	r := NewResolver(rec)
	r.ResolveLights(&wld.Table{Fragments: entries})

	s := r.Scene
	if len(s.Lights) != 2 {
		t.Fatalf("lights: got %d, want 2", len(s.Lights))
	}
	l := s.Lights[0]
	if l.Color != [3]float32{2, 1, 0.5} {
		t.Errorf("light color should be scaled by intensity, got %v", l.Color)
	}
	if l.Radius != 40 || l.Position != [3]float32{5, 6, 7} {
		t.Errorf("light placement: got pos %v radius %v", l.Position, l.Radius)
	}
	if s.Lights[1].Color != [3]float32{1, 1, 1} {
		t.Errorf("dangling light def should fall back to white, got %v", s.Lights[1].Color)
	}
	if rec.Count() != 1 {
		t.Errorf("expected 1 anomaly for the dangling light, got %d", rec.Count())
	}
}

func TestMaterialFlagsMapping(t *testing.T) {
	cases := []struct {
		method uint32
		want   MaterialFlags
	}{
		{0x00, MatNotRendered},
		{0x13, MatAlphaTested},
		{0x14, MatAlphaTested},
		{0x05, MatAlphaBlended},
		{0x17, MatAlphaBlended},
		{0x0B, MatEmissive},
		{0x4B, MatEmissive},
		{0x80000013, MatAlphaTested}, // high bit is a user flag, ignored
		{0x07, 0},                    // unknown mode renders opaque
	}
	for _, c := range cases {
		if got := materialFlags(c.method); got != c.want {
			t.Errorf("materialFlags(0x%X): got %b, want %b", c.method, got, c.want)
		}
	}
}

func TestSceneTotalsAccumulate(t *testing.T) {
	s := NewScene()
	obj := &Object{Name: "zone"}

	// 16 meshes of 1318 vertices and 6 meshes carrying 3863 triangles each.
	for i := 0; i < 16; i++ {
		mesh := &Mesh{Vertices: make([]float32, 1318*VertexStride)}
		if i < 6 {
			mesh.Indices = make([]uint32, 3863*3)
		}
		obj.Meshes = append(obj.Meshes, mesh)
	}
	s.AddObject(obj)

	if got := s.VertexCount(); got != 21088 {
		t.Errorf("vertex total: got %d, want 21088", got)
	}
	if got := s.TriangleCount(); got != 23178 {
		t.Errorf("triangle total: got %d, want 23178", got)
	}
	if got := s.MeshCount(); got != 16 {
		t.Errorf("mesh total: got %d, want 16", got)
	}
}
