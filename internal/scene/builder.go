package scene

import (
	"fmt"
)

// BuildOptions configures mesh/material finalization.
type BuildOptions struct {
	// IncludeCollision keeps invisible collision-only meshes in the scene.
	IncludeCollision bool

	// OptimizeMeshes coalesces meshes sharing a material binding within
	// each object.
	OptimizeMeshes bool
}

// DefaultBuildOptions returns the finalization defaults.
func DefaultBuildOptions() *BuildOptions {
	return &BuildOptions{
		IncludeCollision: true,
		OptimizeMeshes:   true,
	}
}

// Finalize validates every mesh's material binding and applies the
// configured mesh transforms. After it returns the scene is considered
// complete and must not be mutated.
//
// An out-of-range material index is not corruption: some polygons
// legitimately reference indices beyond a single-texture material list.
// Each offending mesh gets exactly one diagnostic and a fallback binding.
func Finalize(s *Scene, rec *Recorder, opts *BuildOptions) {
	if opts == nil {
		opts = DefaultBuildOptions()
	}

	// Bindings are validated against the material list as resolved; the
	// lazily created fallback does not widen the valid range.
	materialCount := uint32(len(s.Materials))

	for oi, obj := range s.Objects {
		for mi, mesh := range obj.Meshes {
			switch {
			case mesh.MaterialMissing:
				rec.Record(AnomalyMaterialOutOfRange,
					fmt.Sprintf("%s %d of object %d (%s)", mesh.Origin, mi, oi, obj.Name),
					fmt.Sprintf("material slot %d beyond material list, using fallback material",
						mesh.MaterialSlot))
				mesh.MaterialID = uint32(s.DefaultMaterial())
				mesh.MaterialMissing = false
			case mesh.MaterialID >= materialCount:
				rec.Record(AnomalyMaterialOutOfRange,
					fmt.Sprintf("%s %d of object %d (%s)", mesh.Origin, mi, oi, obj.Name),
					fmt.Sprintf("material index %d out of range (%d materials), using fallback material",
						mesh.MaterialID, materialCount))
				mesh.MaterialID = uint32(s.DefaultMaterial())
			}
		}
	}

	if !opts.IncludeCollision {
		for _, obj := range s.Objects {
			kept := obj.Meshes[:0]
			for _, mesh := range obj.Meshes {
				if s.Materials[mesh.MaterialID].Flags&MatNotRendered != 0 {
					continue
				}
				kept = append(kept, mesh)
			}
			obj.Meshes = kept
		}
	}

	if opts.OptimizeMeshes {
		for _, obj := range s.Objects {
			obj.Meshes = coalesce(obj.Meshes)
		}
	}
}

// AttachTextures associates each material's texture filenames with raw
// image bytes from the archive, queueing them for image conversion. A
// missing texture degrades the material to untextured.
func AttachTextures(s *Scene, lookup func(name string) ([]byte, bool), rec *Recorder) {
	for id, mat := range s.Materials {
		mat.Textures = make([][]byte, len(mat.Filenames))
		for i, name := range mat.Filenames {
			data, ok := lookup(name)
			if !ok {
				rec.Record(AnomalyMissingTexture,
					fmt.Sprintf("material %d", id),
					fmt.Sprintf("texture %q not present in archive", name))
				continue
			}
			mat.Textures[i] = data
		}
	}
}

// coalesce merges meshes that share a material id and collidable flag,
// preserving first-seen order. Vertex indices are rebased onto the merged
// buffer.
func coalesce(meshes []*Mesh) []*Mesh {
	type key struct {
		material   uint32
		collidable bool
	}
	merged := make(map[key]*Mesh)
	var out []*Mesh

	for _, mesh := range meshes {
		k := key{material: mesh.MaterialID, collidable: mesh.Collidable}
		dst, ok := merged[k]
		if !ok {
			merged[k] = mesh
			out = append(out, mesh)
			continue
		}
		base := uint32(dst.VertexCount())
		dst.Vertices = append(dst.Vertices, mesh.Vertices...)
		for _, idx := range mesh.Indices {
			dst.Indices = append(dst.Indices, base+idx)
		}
	}
	return out
}
