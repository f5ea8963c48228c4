// Package convert orchestrates a zone conversion end to end: archive
// loading, fragment decoding, scene resolution, texture attachment and
// serialization to the native and interchange output formats.
package convert

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/openeq/eqconvert/internal/config"
	"github.com/openeq/eqconvert/internal/gltfout"
	"github.com/openeq/eqconvert/internal/oez"
	"github.com/openeq/eqconvert/internal/pfs"
	"github.com/openeq/eqconvert/internal/report"
	"github.com/openeq/eqconvert/internal/scene"
	"github.com/openeq/eqconvert/internal/wld"
)

// Options configures one zone conversion.
type Options struct {
	// EQData is the directory holding the game archives.
	EQData string

	// Output is the directory receiving converted files.
	Output string

	TextureResample  bool
	IncludeCollision bool
	OptimizeMeshes   bool

	// Report, when non-nil, receives a run record after conversion.
	Report *report.Database
}

// FromConfig builds conversion options from loaded configuration.
func FromConfig(cfg *config.Config) *Options {
	return &Options{
		EQData:           cfg.EQData,
		Output:           cfg.Output,
		TextureResample:  cfg.TextureResample,
		IncludeCollision: cfg.IncludeCollision,
		OptimizeMeshes:   cfg.OptimizeMeshes,
	}
}

// Result summarizes one completed conversion.
type Result struct {
	Zone      string
	Scene     *scene.Scene
	Anomalies []scene.Anomaly
	Duration  time.Duration

	// Output paths, empty when the corresponding write failed.
	NativePath string
	GLTFPath   string

	// Per-target write errors. A failed target does not abort the other.
	NativeErr error
	GLTFErr   error
}

// Zone converts one zone by name: the archive <zone>.s3d is required, the
// companion <zone>_obj.s3d is merged in when present. Returns an error only
// for failures that prevent producing any output at all.
func Zone(ctx context.Context, zoneName string, opts *Options) (*Result, error) {
	start := time.Now()

	data, err := os.ReadFile(filepath.Join(opts.EQData, zoneName+".s3d"))
	if err != nil {
		return nil, fmt.Errorf("reading zone archive: %w", err)
	}
	archive, err := pfs.Load(data)
	if err != nil {
		return nil, fmt.Errorf("loading zone archive: %w", err)
	}

	// The companion archive carries shared object geometry and textures.
	// Its absence is normal for zones without placed objects.
	objPath := filepath.Join(opts.EQData, zoneName+"_obj.s3d")
	if objData, err := os.ReadFile(objPath); err == nil {
		objArchive, err := pfs.Load(objData)
		if err != nil {
			slog.Warn("Skipping unreadable companion archive", "path", objPath, "error", err)
		} else {
			archive.Merge(objArchive)
		}
	}

	rec := &scene.Recorder{}
	s, err := BuildScene(archive, zoneName, rec, &scene.BuildOptions{
		IncludeCollision: opts.IncludeCollision,
		OptimizeMeshes:   opts.OptimizeMeshes,
	})
	if err != nil {
		return nil, err
	}

	res := &Result{
		Zone:      zoneName,
		Scene:     s,
		Anomalies: rec.Anomalies,
	}

	if err := os.MkdirAll(opts.Output, 0o755); err != nil {
		return nil, fmt.Errorf("creating output directory: %w", err)
	}

	// Each output target fails independently; one broken target must not
	// cost the other.
	nativePath := filepath.Join(opts.Output, zoneName+".oez")
	if err := writeNative(nativePath, s); err != nil {
		res.NativeErr = err
		slog.Error("Native output failed", "path", nativePath, "error", err)
	} else {
		res.NativePath = nativePath
	}

	gltfPath := filepath.Join(opts.Output, zoneName+".glb")
	if err := writeGLTF(gltfPath, s, opts); err != nil {
		res.GLTFErr = err
		slog.Error("Interchange output failed", "path", gltfPath, "error", err)
	} else {
		res.GLTFPath = gltfPath
	}

	if res.NativeErr != nil && res.GLTFErr != nil {
		return res, fmt.Errorf("all output targets failed: %w", res.NativeErr)
	}

	res.Duration = time.Since(start)

	if opts.Report != nil {
		run := &report.Run{
			Zone:       zoneName,
			StartedAt:  start,
			Duration:   res.Duration,
			Materials:  len(s.Materials),
			Objects:    len(s.Objects),
			Meshes:     s.MeshCount(),
			Vertices:   s.VertexCount(),
			Triangles:  s.TriangleCount(),
			Placeables: len(s.Placeables),
			Lights:     len(s.Lights),
		}
		if err := opts.Report.RecordRun(ctx, run, res.Anomalies); err != nil {
			slog.Warn("Recording conversion run failed", "zone", zoneName, "error", err)
		}
	}

	return res, nil
}

// BuildScene resolves every scene file found in the archive into one
// finalized scene with textures attached. Resolution order matters: object
// definitions must exist before the placement file references them by name.
func BuildScene(archive *pfs.Archive, zoneName string, rec *scene.Recorder, buildOpts *scene.BuildOptions) (*scene.Scene, error) {
	r := scene.NewResolver(rec)

	if data, ok := archive.File(zoneName + "_obj.wld"); ok {
		t, err := wld.Decode(data)
		if err != nil {
			slog.Warn("Skipping unreadable object definition file", "zone", zoneName, "error", err)
		} else {
			r.ResolveObjects(t)
		}
	}

	zoneData, ok := archive.File(zoneName + ".wld")
	if !ok {
		return nil, fmt.Errorf("archive has no scene file for zone %q", zoneName)
	}
	zoneTable, err := wld.Decode(zoneData)
	if err != nil {
		return nil, fmt.Errorf("decoding zone geometry: %w", err)
	}
	r.ResolveZone(zoneTable, zoneName)
	// Some archives carry object definitions and placements in the zone
	// file itself instead of the companion files.
	r.ResolveObjects(zoneTable)

	if data, ok := archive.File("objects.wld"); ok {
		t, err := wld.Decode(data)
		if err != nil {
			slog.Warn("Skipping unreadable placement file", "zone", zoneName, "error", err)
		} else {
			r.ResolveObjects(t)
		}
	}

	if data, ok := archive.File("lights.wld"); ok {
		t, err := wld.Decode(data)
		if err != nil {
			slog.Warn("Skipping unreadable light file", "zone", zoneName, "error", err)
		} else {
			r.ResolveLights(t)
		}
	}

	scene.AttachTextures(r.Scene, archive.File, rec)
	scene.Finalize(r.Scene, rec, buildOpts)

	return r.Scene, nil
}

func writeNative(path string, s *scene.Scene) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating native output: %w", err)
	}
	if err := oez.Write(f, s); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func writeGLTF(path string, s *scene.Scene, opts *Options) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating interchange output: %w", err)
	}
	if err := gltfout.Export(f, s, &gltfout.Options{TextureResample: opts.TextureResample}); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
