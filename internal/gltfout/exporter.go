// Package gltfout emits the interchange form of a converted scene: a
// single self-contained glTF 2.0 binary (GLB) with packed vertex/index
// buffers, one node per placeable and embedded PNG textures.
//
// Coordinate convention: source data is Z-up; every vertex, normal and
// placement transform goes through the single reversible mapping
// (x, y, z) -> (x, z, -y) to the glTF Y-up convention, with triangle
// winding reversed to preserve front faces.
package gltfout

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"math"
	"runtime"
	"sync"

	"github.com/qmuntal/gltf"
	"github.com/qmuntal/gltf/modeler"

	"github.com/openeq/eqconvert/internal/scene"
	"github.com/openeq/eqconvert/internal/texture"
)

// Options configures one export.
type Options struct {
	// TextureResample halves oversized textures during conversion.
	TextureResample bool

	// Workers bounds the texture conversion pool. Zero means NumCPU.
	Workers int
}

// Export writes the scene as a GLB container. The scene must be finalized;
// it is not mutated.
func Export(w io.Writer, s *scene.Scene, opts *Options) error {
	if opts == nil {
		opts = &Options{}
	}

	doc := gltf.NewDocument()
	doc.Asset.Generator = "eqconvert"

	pngs := convertTextures(s, opts)

	// Materials and their textures, in scene material order.
	for id, mat := range s.Materials {
		gm := &gltf.Material{
			Name: fmt.Sprintf("material_%d", id),
			PBRMetallicRoughness: &gltf.PBRMetallicRoughness{
				MetallicFactor:  gltf.Float(0),
				RoughnessFactor: gltf.Float(1),
			},
		}
		if png := pngs[id]; png != nil {
			imgIdx, err := modeler.WriteImage(doc, mat.Filenames[0], "image/png", bytes.NewReader(png))
			if err != nil {
				return fmt.Errorf("gltf: embedding texture for material %d: %w", id, err)
			}
			doc.Textures = append(doc.Textures, &gltf.Texture{Source: gltf.Index(imgIdx)})
			gm.PBRMetallicRoughness.BaseColorTexture = &gltf.TextureInfo{
				Index: uint32(len(doc.Textures) - 1),
			}
		}
		switch {
		case mat.Flags&scene.MatAlphaBlended != 0:
			gm.AlphaMode = gltf.AlphaBlend
		case mat.Flags&scene.MatAlphaTested != 0:
			gm.AlphaMode = gltf.AlphaMask
			gm.AlphaCutoff = gltf.Float(0.5)
		}
		doc.Materials = append(doc.Materials, gm)
	}

	// One glTF mesh per object, one primitive per scene mesh.
	meshForObject := make([]int, len(s.Objects))
	for oi, obj := range s.Objects {
		meshForObject[oi] = -1
		var prims []*gltf.Primitive
		for _, mesh := range obj.Meshes {
			if mesh.VertexCount() == 0 || len(mesh.Indices) == 0 {
				continue
			}
			prims = append(prims, writePrimitive(doc, mesh))
		}
		if len(prims) == 0 {
			continue
		}
		doc.Meshes = append(doc.Meshes, &gltf.Mesh{
			Name:       obj.Name,
			Primitives: prims,
		})
		meshForObject[oi] = len(doc.Meshes) - 1
	}

	// One node per placeable; objects never placed (the zone geometry)
	// get an identity node so they are still part of the scene.
	placed := make([]bool, len(s.Objects))
	for _, p := range s.Placeables {
		placed[p.ObjectIndex] = true
		meshIdx := meshForObject[p.ObjectIndex]
		if meshIdx < 0 {
			continue
		}
		addNode(doc, &gltf.Node{
			Name:        s.Objects[p.ObjectIndex].Name,
			Mesh:        gltf.Index(uint32(meshIdx)),
			Translation: convertTranslation(p.Position),
			Rotation:    convertRotation(p.Rotation),
			Scale:       convertScale(p.Scale),
		})
	}
	for oi := range s.Objects {
		if placed[oi] || meshForObject[oi] < 0 {
			continue
		}
		addNode(doc, &gltf.Node{
			Name:        s.Objects[oi].Name,
			Mesh:        gltf.Index(uint32(meshForObject[oi])),
			Translation: [3]float64{0, 0, 0},
			Rotation:    [4]float64{0, 0, 0, 1},
			Scale:       [3]float64{1, 1, 1},
		})
	}

	enc := gltf.NewEncoder(w)
	enc.AsBinary = true
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("gltf: encoding document: %w", err)
	}
	return nil
}

func addNode(doc *gltf.Document, node *gltf.Node) {
	doc.Nodes = append(doc.Nodes, node)
	doc.Scenes[0].Nodes = append(doc.Scenes[0].Nodes, uint32(len(doc.Nodes)-1))
}

// writePrimitive unpacks the 9-float vertex layout into separate position,
// normal and texture coordinate accessors, applying the axis convention
// and reversing winding.
func writePrimitive(doc *gltf.Document, mesh *scene.Mesh) *gltf.Primitive {
	n := mesh.VertexCount()
	positions := make([][3]float32, n)
	normals := make([][3]float32, n)
	uvs := make([][2]float32, n)
	for i := 0; i < n; i++ {
		v := mesh.Vertices[i*scene.VertexStride:]
		positions[i] = [3]float32{v[0], v[2], -v[1]}
		normals[i] = normalize([3]float32{v[3], v[5], -v[4]})
		uvs[i] = [2]float32{v[6], v[7]}
	}

	indices := make([]uint32, 0, len(mesh.Indices))
	for i := 0; i+2 < len(mesh.Indices); i += 3 {
		indices = append(indices, mesh.Indices[i], mesh.Indices[i+2], mesh.Indices[i+1])
	}

	return &gltf.Primitive{
		Attributes: map[string]uint32{
			gltf.POSITION:   modeler.WritePosition(doc, positions),
			gltf.NORMAL:     modeler.WriteNormal(doc, normals),
			gltf.TEXCOORD_0: modeler.WriteTextureCoord(doc, uvs),
		},
		Indices:  gltf.Index(modeler.WriteIndices(doc, indices)),
		Material: gltf.Index(mesh.MaterialID),
	}
}

// convertTextures converts each material's first texture to PNG with a
// bounded worker pool. Textures are independent, so conversion order does
// not matter; results are keyed by material id to keep output
// deterministic.
func convertTextures(s *scene.Scene, opts *Options) [][]byte {
	pngs := make([][]byte, len(s.Materials))

	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	work := make(chan int, len(s.Materials))
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for id := range work {
				mat := s.Materials[id]
				if len(mat.Textures) == 0 || mat.Textures[0] == nil {
					continue
				}
				png, err := texture.ToPNG(mat.Textures[0], texture.Options{
					Masked:   mat.Flags&scene.MatAlphaTested != 0,
					Resample: opts.TextureResample,
				})
				if err != nil {
					slog.Warn("Texture conversion failed, material stays untextured",
						"material", id, "texture", mat.Filenames[0], "error", err)
					continue
				}
				pngs[id] = png
			}
		}()
	}
	for id := range s.Materials {
		work <- id
	}
	close(work)
	wg.Wait()

	return pngs
}

func normalize(v [3]float32) [3]float32 {
	l := float32(math.Sqrt(float64(v[0]*v[0] + v[1]*v[1] + v[2]*v[2])))
	if l == 0 {
		return [3]float32{0, 1, 0}
	}
	return [3]float32{v[0] / l, v[1] / l, v[2] / l}
}

func convertTranslation(p [3]float32) [3]float64 {
	return [3]float64{float64(p[0]), float64(p[2]), float64(-p[1])}
}

func convertScale(sc [3]float32) [3]float64 {
	return [3]float64{float64(sc[0]), float64(sc[2]), float64(sc[1])}
}

// quat is a unit quaternion (w, x, y, z).
type quat struct {
	w, x, y, z float64
}

func quatMul(a, b quat) quat {
	return quat{
		w: a.w*b.w - a.x*b.x - a.y*b.y - a.z*b.z,
		x: a.w*b.x + a.x*b.w + a.y*b.z - a.z*b.y,
		y: a.w*b.y - a.x*b.z + a.y*b.w + a.z*b.x,
		z: a.w*b.z + a.x*b.y - a.y*b.x + a.z*b.w,
	}
}

func quatAxisAngle(x, y, z, deg float64) quat {
	half := deg * math.Pi / 360
	s := math.Sin(half)
	return quat{w: math.Cos(half), x: x * s, y: y * s, z: z * s}
}

// axisSwap rotates the Z-up frame into the Y-up frame; it is the
// quaternion form of the (x, y, z) -> (x, z, -y) mapping.
var axisSwap = quatAxisAngle(1, 0, 0, -90)

// convertRotation builds the node rotation from the source Euler angles
// (degrees, applied yaw-about-Z, pitch-about-Y, roll-about-X) and
// conjugates it into the Y-up frame.
func convertRotation(rot [3]float32) [4]float64 {
	q := quatMul(
		quatAxisAngle(0, 0, 1, float64(rot[2])),
		quatMul(
			quatAxisAngle(0, 1, 0, float64(rot[1])),
			quatAxisAngle(1, 0, 0, float64(rot[0])),
		),
	)
	inv := quat{w: axisSwap.w, x: -axisSwap.x, y: -axisSwap.y, z: -axisSwap.z}
	q = quatMul(axisSwap, quatMul(q, inv))

	// Renormalize against accumulated rounding.
	l := math.Sqrt(q.w*q.w + q.x*q.x + q.y*q.y + q.z*q.z)
	if l == 0 {
		return [4]float64{0, 0, 0, 1}
	}
	return [4]float64{q.x / l, q.y / l, q.z / l, q.w / l}
}
