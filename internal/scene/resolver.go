package scene

import (
	"fmt"

	"github.com/openeq/eqconvert/internal/wld"
)

// Resolver converts fragment tables into scene entities. Each table is
// walked once, in order; outgoing references are wired to previously
// resolved entries only, per the format's back-reference invariant.
// Material ids and object indices are global across all tables of a run,
// so object definitions resolved from a companion archive are visible to
// the placements decoded later.
type Resolver struct {
	Scene *Scene
	Rec   *Recorder

	objectsByName map[string]int
	states        map[*wld.Table]*tableState
}

// NewResolver creates a resolver producing into a fresh scene.
func NewResolver(rec *Recorder) *Resolver {
	return &Resolver{
		Scene:         NewScene(),
		Rec:           rec,
		objectsByName: make(map[string]int),
		states:        make(map[*wld.Table]*tableState),
	}
}

// tableState holds the per-table positional mappings. Reference indices
// are only meaningful inside the table that declared them.
type tableState struct {
	t           *wld.Table
	materialIDs map[int]int // 1-based fragment index -> material id
	objectIdx   map[int]int // 1-based fragment index -> object index
}

// ResolveZone converts zone geometry: every mesh fragment of the table is
// collected into a single object named after the zone.
func (r *Resolver) ResolveZone(t *wld.Table, zoneName string) {
	st := r.resolveMaterials(t)

	obj := &Object{Name: zoneName}
	for i := range t.Fragments {
		m, ok := t.Fragments[i].Frag.(*wld.Mesh)
		if !ok {
			continue
		}
		obj.Meshes = append(obj.Meshes, r.buildMeshes(st, m, i+1, "zone-mesh")...)
	}
	if len(obj.Meshes) > 0 {
		r.Scene.AddObject(obj)
	}
}

// ResolveObjects converts actor definitions into objects and object
// instances into placeables.
func (r *Resolver) ResolveObjects(t *wld.Table) {
	st := r.resolveMaterials(t)

	for i := range t.Fragments {
		entry := &t.Fragments[i]
		switch frag := entry.Frag.(type) {
		case *wld.ActorDef:
			obj := &Object{Name: entry.Name}
			for _, ref := range frag.Refs {
				m, meshAt, ok := r.meshForRef(st, ref, i+1, entry.Name)
				if !ok {
					continue
				}
				obj.Meshes = append(obj.Meshes, r.buildMeshes(st, m, meshAt, "object-mesh")...)
			}
			idx := r.Scene.AddObject(obj)
			st.objectIdx[i+1] = idx
			if entry.Name != "" {
				r.objectsByName[entry.Name] = idx
			}

		case *wld.ObjectInstance:
			r.resolvePlaceable(st, entry, frag)
		}
	}
}

// ResolveLights converts point light placements into light entities.
func (r *Resolver) ResolveLights(t *wld.Table) {
	for i := range t.Fragments {
		pl, ok := t.Fragments[i].Frag.(*wld.PointLight)
		if !ok {
			continue
		}

		light := &Light{
			Position:    pl.Position,
			Radius:      pl.Radius,
			Attenuation: 200,
			Color:       [3]float32{1, 1, 1},
			Flags:       pl.Flags,
		}
		if def, ok := r.lightDef(t, pl.LightRef, i+1); ok {
			light.Color = [3]float32{
				def.Color[0] * def.Intensity,
				def.Color[1] * def.Intensity,
				def.Color[2] * def.Intensity,
			}
		} else if pl.LightRef != 0 {
			r.Rec.Record(AnomalyDanglingReference,
				fmt.Sprintf("light %d", i+1),
				fmt.Sprintf("light definition reference %d not resolvable, using white", pl.LightRef))
		}
		r.Scene.Lights = append(r.Scene.Lights, light)
	}
}

// lightDef follows the placement -> reference -> definition chain. at is
// the placement's 1-based fragment index; each hop must point backward.
func (r *Resolver) lightDef(t *wld.Table, ref wld.Ref, at int) (*wld.LightDef, bool) {
	entry, ok := t.LookupBefore(ref, at)
	if !ok {
		return nil, false
	}
	if lr, ok := entry.Frag.(*wld.LightRef); ok {
		entry, ok = t.LookupBefore(lr.Ref, int(ref))
		if !ok {
			return nil, false
		}
	}
	def, ok := entry.Frag.(*wld.LightDef)
	return def, ok
}

// resolveMaterials walks the table once and registers every material
// definition, recording the fragment index -> material id mapping used by
// mesh fragments later in the same table. A table already seen keeps its
// state, so resolving geometry and objects from the same file does not
// register its materials twice.
func (r *Resolver) resolveMaterials(t *wld.Table) *tableState {
	if st, ok := r.states[t]; ok {
		return st
	}
	st := &tableState{
		t:           t,
		materialIDs: make(map[int]int),
		objectIdx:   make(map[int]int),
	}

	for i := range t.Fragments {
		def, ok := t.Fragments[i].Frag.(*wld.MaterialDef)
		if !ok {
			continue
		}

		mat := &Material{
			Param:     def.RenderMethod,
			Flags:     materialFlags(def.RenderMethod),
			Filenames: r.textureFilenames(t, def.TextureRef, i+1),
		}
		if len(mat.Filenames) > 1 {
			mat.Flags |= MatAnimated
		}
		st.materialIDs[i+1] = r.Scene.AddMaterial(mat)
	}

	r.states[t] = st
	return st
}

// textureFilenames follows the material -> texture-list-reference ->
// texture-list -> texture-definition chain, tolerating dangling links.
// Every hop must point backward from the fragment making it.
func (r *Resolver) textureFilenames(t *wld.Table, ref wld.Ref, matFrag int) []string {
	if ref == 0 {
		return nil
	}
	entity := fmt.Sprintf("material fragment %d", matFrag)

	entry, ok := t.LookupBefore(ref, matFrag)
	if !ok {
		r.Rec.Record(AnomalyDanglingReference, entity,
			fmt.Sprintf("texture list reference %d not resolvable", ref))
		return nil
	}
	listAt := int(ref)
	if lr, ok2 := entry.Frag.(*wld.TextureListRef); ok2 {
		entry, ok = t.LookupBefore(lr.Ref, listAt)
		if !ok {
			r.Rec.Record(AnomalyDanglingReference, entity,
				fmt.Sprintf("texture list %d not resolvable", lr.Ref))
			return nil
		}
		listAt = int(lr.Ref)
	}

	list, ok := entry.Frag.(*wld.TextureList)
	if !ok {
		return nil
	}
	if list.DeclaredCount != 0 {
		// Every archive observed so far declares zero and carries one
		// reference; a non-zero count may be an unknown record variant.
		r.Rec.Record(AnomalyTextureListVariant, entity,
			fmt.Sprintf("texture list declares count %d, possible unknown record variant", list.DeclaredCount))
	}

	var names []string
	for _, texRef := range list.Refs {
		texEntry, ok := t.LookupBefore(texRef, listAt)
		if !ok {
			r.Rec.Record(AnomalyDanglingReference, entity,
				fmt.Sprintf("texture definition %d not resolvable", texRef))
			continue
		}
		if def, ok := texEntry.Frag.(*wld.TextureDef); ok {
			names = append(names, def.Filenames...)
		}
	}
	return names
}

// meshForRef resolves an actor's mesh reference, which may point at the
// mesh fragment directly or through a mesh-reference indirection. at is
// the actor's 1-based fragment index; the returned index is the mesh
// fragment's own position, used to bound its material list lookup.
func (r *Resolver) meshForRef(st *tableState, ref wld.Ref, at int, actor string) (*wld.Mesh, int, bool) {
	if ref == 0 {
		return nil, 0, false
	}
	entity := fmt.Sprintf("actor %q", actor)

	entry, ok := st.t.LookupBefore(ref, at)
	if !ok {
		r.Rec.Record(AnomalyDanglingReference, entity,
			fmt.Sprintf("mesh reference %d not resolvable", ref))
		return nil, 0, false
	}
	meshAt := int(ref)
	if mr, ok2 := entry.Frag.(*wld.MeshRef); ok2 {
		entry, ok = st.t.LookupBefore(mr.Ref, meshAt)
		if !ok {
			r.Rec.Record(AnomalyDanglingReference, entity,
				fmt.Sprintf("mesh fragment %d not resolvable", mr.Ref))
			return nil, 0, false
		}
		meshAt = int(mr.Ref)
	}
	m, ok := entry.Frag.(*wld.Mesh)
	return m, meshAt, ok
}

// resolvePlaceable wires an object instance to a previously resolved
// object, by fragment index or by actor name. A reference that cannot be
// satisfied binds the empty sentinel object.
func (r *Resolver) resolvePlaceable(st *tableState, entry *wld.Entry, inst *wld.ObjectInstance) {
	objIdx := -1
	switch {
	case inst.Ref > 0:
		if idx, ok := st.objectIdx[int(inst.Ref)]; ok {
			objIdx = idx
		}
	case inst.Ref < 0:
		name := st.t.NameAt(int32(inst.Ref))
		if idx, ok := r.objectsByName[name]; ok {
			objIdx = idx
		}
	default:
		// Reference zero is legal absence; nothing to place.
		return
	}

	if objIdx < 0 {
		r.Rec.Record(AnomalyDanglingReference,
			fmt.Sprintf("placement %q", st.t.NameAt(int32(inst.Ref))),
			fmt.Sprintf("object reference %d not resolvable, using empty object", inst.Ref))
		objIdx = r.Scene.NullObject()
	}

	r.Scene.Placeables = append(r.Scene.Placeables, &Placeable{
		ObjectIndex: objIdx,
		Position:    inst.Position,
		Rotation:    inst.Rotation,
		Scale:       inst.Scale,
	})
}

// materialPalette resolves a mesh's material list into global material
// ids. meshAt is the mesh fragment's 1-based index; the list and every
// material it names must precede the fragment referencing them. Dangling
// links substitute the fallback material.
func (r *Resolver) materialPalette(st *tableState, ref wld.Ref, meshAt int, origin string) []int {
	if ref == 0 {
		return nil
	}
	entry, ok := st.t.LookupBefore(ref, meshAt)
	if !ok {
		r.Rec.Record(AnomalyDanglingReference, origin,
			fmt.Sprintf("material list reference %d not resolvable", ref))
		return nil
	}
	list, ok := entry.Frag.(*wld.MaterialList)
	if !ok {
		return nil
	}

	ids := make([]int, 0, len(list.Refs))
	for _, matRef := range list.Refs {
		if id, ok := st.materialIDs[int(matRef)]; ok && int(matRef) < int(ref) {
			ids = append(ids, id)
		} else {
			r.Rec.Record(AnomalyDanglingReference, origin,
				fmt.Sprintf("material reference %d not resolvable, using fallback material", matRef))
			ids = append(ids, r.Scene.DefaultMaterial())
		}
	}
	return ids
}

// buildMeshes splits one mesh fragment into scene meshes, one per
// (material run, collidable) pair, remapping vertex indices per split.
// meshAt is the mesh fragment's 1-based index. Material bindings the
// palette cannot satisfy stay unresolved for the builder to diagnose.
func (r *Resolver) buildMeshes(st *tableState, m *wld.Mesh, meshAt int, origin string) []*Mesh {
	palette := r.materialPalette(st, m.MaterialList, meshAt, origin)

	bones := vertexBones(m)

	type key struct {
		slot       int
		collidable bool
	}
	groups := make(map[key][]int)
	var order []key

	// Per-polygon material slots come from run-length records aligned with
	// polygon order.
	runIdx, runLeft := 0, 0
	if len(m.MaterialRuns) > 0 {
		runLeft = int(m.MaterialRuns[0].Count)
	}
	for pi := range m.Polygons {
		for runIdx < len(m.MaterialRuns)-1 && runLeft == 0 {
			runIdx++
			runLeft = int(m.MaterialRuns[runIdx].Count)
		}
		slot := 0
		if runIdx < len(m.MaterialRuns) {
			slot = int(m.MaterialRuns[runIdx].Index)
			if runLeft > 0 {
				runLeft--
			}
		}
		k := key{
			slot:       slot,
			collidable: m.Polygons[pi].Flags&wld.PolygonPassable == 0,
		}
		if _, seen := groups[k]; !seen {
			order = append(order, k)
		}
		groups[k] = append(groups[k], pi)
	}

	var out []*Mesh
	for _, k := range order {
		mesh := &Mesh{
			Collidable: k.collidable,
			Origin:     origin,
		}
		if k.slot < len(palette) {
			mesh.MaterialID = uint32(palette[k.slot])
		} else {
			// Some polygons legitimately reference slots beyond a
			// single-texture material list. The binding stays unresolved;
			// the builder diagnoses it and substitutes the fallback
			// material. Materials registered by tables resolved later must
			// not be able to satisfy it retroactively.
			mesh.MaterialMissing = true
			mesh.MaterialSlot = k.slot
		}

		remap := make(map[uint16]uint32)
		for _, pi := range groups[k] {
			poly := &m.Polygons[pi]
			for _, v := range poly.V {
				idx, seen := remap[v]
				if !seen {
					idx = uint32(len(remap))
					remap[v] = idx
					mesh.Vertices = append(mesh.Vertices, vertexFloats(m, bones, int(v))...)
				}
				mesh.Indices = append(mesh.Indices, idx)
			}
		}
		out = append(out, mesh)
	}
	return out
}

// vertexBones expands the bone assignment runs into a per-vertex bone
// index. Unskinned meshes have no runs and every vertex gets bone zero.
func vertexBones(m *wld.Mesh) []float32 {
	bones := make([]float32, len(m.Vertices))
	v := 0
	for _, run := range m.BoneRuns {
		for i := 0; i < int(run.Count) && v < len(bones); i++ {
			bones[v] = float32(run.Index)
			v++
		}
	}
	return bones
}

// vertexFloats packs one vertex into the 9-float layout: position, normal,
// texture coordinate, bone index.
func vertexFloats(m *wld.Mesh, bones []float32, v int) []float32 {
	out := make([]float32, 0, VertexStride)
	if v < len(m.Vertices) {
		out = append(out, m.Vertices[v][0], m.Vertices[v][1], m.Vertices[v][2])
	} else {
		out = append(out, 0, 0, 0)
	}
	if v < len(m.Normals) {
		out = append(out, m.Normals[v][0], m.Normals[v][1], m.Normals[v][2])
	} else {
		out = append(out, 0, 0, 1)
	}
	if v < len(m.TexCoords) {
		out = append(out, m.TexCoords[v][0], m.TexCoords[v][1])
	} else {
		out = append(out, 0, 0)
	}
	if v < len(bones) {
		out = append(out, bones[v])
	} else {
		out = append(out, 0)
	}
	return out
}

// materialFlags maps the fragment render method to the scene flag set.
// The numeric modes are implementation constants observed in real
// archives; unknown modes render opaque.
func materialFlags(renderMethod uint32) MaterialFlags {
	mode := renderMethod &^ 0x80000000
	switch mode {
	case 0x00:
		return MatNotRendered
	case 0x13, 0x14:
		return MatAlphaTested
	case 0x05, 0x17:
		return MatAlphaBlended
	case 0x0B, 0x4B:
		return MatEmissive
	default:
		return 0
	}
}
