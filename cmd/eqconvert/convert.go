package main

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"github.com/spf13/cobra"

	"github.com/openeq/eqconvert/internal/convert"
	"github.com/openeq/eqconvert/internal/report"
	"github.com/openeq/eqconvert/internal/utils"
)

type ConversionStats struct {
	StartTime      time.Time
	EndTime        time.Time
	TotalZones     int
	ConvertedZones int
	FailedZones    int
	Vertices       int64
	Triangles      int64
	Anomalies      int
}

var (
	includeCollision bool
	optimizeMeshes   bool
	resampleTextures bool
)

var convertCmd = &cobra.Command{
	Use:   "convert [zone...]",
	Short: "Convert zone archives into native and glTF output",
	Long: `Convert loads each named zone archive (and its companion object
archive when present), decodes the scene description files inside,
resolves them into a scene and writes two outputs per zone: a compact
native file and a self-contained glTF binary.

A zone that fails to convert does not abort the remaining zones.
Recoverable data irregularities never fail a zone; they are substituted,
logged and counted in the summary.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		stats := &ConversionStats{
			StartTime:  time.Now(),
			TotalZones: len(args),
		}

		var memStatsStart runtime.MemStats
		runtime.ReadMemStats(&memStatsStart)

		slog.Info("Starting conversion...", "zones", len(args))

		opts := convert.FromConfig(cfg)
		if cmd.Flags().Changed("include-collision") {
			opts.IncludeCollision = includeCollision
		}
		if cmd.Flags().Changed("optimize-meshes") {
			opts.OptimizeMeshes = optimizeMeshes
		}
		if cmd.Flags().Changed("resample-textures") {
			opts.TextureResample = resampleTextures
		}

		if cfg.ReportDB != "" {
			db, err := report.New(report.DefaultOptions(cfg.ReportDB))
			if err != nil {
				return fmt.Errorf("opening report database: %w", err)
			}
			defer db.Close()
			opts.Report = db
		}

		progress := utils.NewProgress(len(args), !(noProgress || cfg.LogFormat == "json" || cfg.LogLevel == "debug"))

		ctx := context.Background()
		for i, zone := range args {
			progress.Update(i+1, zone)

			res, err := convert.Zone(ctx, zone, opts)
			if err != nil {
				slog.Error("Zone conversion failed", "zone", zone, "error", err)
				stats.FailedZones++
				continue
			}

			stats.ConvertedZones++
			stats.Vertices += int64(res.Scene.VertexCount())
			stats.Triangles += int64(res.Scene.TriangleCount())
			stats.Anomalies += len(res.Anomalies)

			slog.Info("Zone converted",
				"zone", zone,
				"materials", len(res.Scene.Materials),
				"objects", len(res.Scene.Objects),
				"meshes", res.Scene.MeshCount(),
				"placeables", len(res.Scene.Placeables),
				"lights", len(res.Scene.Lights),
				"anomalies", len(res.Anomalies),
				"duration", utils.Duration(res.Duration))
		}

		progress.Finish()
		stats.EndTime = time.Now()

		totalDuration := stats.EndTime.Sub(stats.StartTime)

		var memStatsEnd runtime.MemStats
		runtime.ReadMemStats(&memStatsEnd)
		totalMemoryMB := float64(memStatsEnd.Alloc) / 1024.0 / 1024.0

		var triangleRate float64
		if seconds := totalDuration.Seconds(); seconds > 0 {
			triangleRate = float64(stats.Triangles) / seconds
		}
		successRate := float64(stats.ConvertedZones) / float64(stats.TotalZones) * 100

		fmt.Printf("Zones converted: %d/%d (%.1f%%)\n", stats.ConvertedZones, stats.TotalZones, successRate)
		fmt.Printf("Vertices: %s\n", utils.Number(stats.Vertices))
		fmt.Printf("Triangles: %s\n", utils.Number(stats.Triangles))
		fmt.Printf("Anomalies recovered: %d\n", stats.Anomalies)
		fmt.Printf("Total duration: %s\n", utils.Duration(totalDuration))
		fmt.Printf("Triangle rate: %s triangles/sec\n", utils.Rate(triangleRate))
		fmt.Printf("Memory usage: %.2fmb\n", totalMemoryMB)

		// Recoverable anomalies never change the exit status; only zones
		// that produced no output count as failures.
		if stats.FailedZones == stats.TotalZones {
			return fmt.Errorf("all %d zones failed to convert", stats.TotalZones)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(convertCmd)
	convertCmd.Flags().BoolVar(&includeCollision, "include-collision", true, "keep invisible collision-only meshes")
	convertCmd.Flags().BoolVar(&optimizeMeshes, "optimize-meshes", true, "coalesce meshes sharing a material")
	convertCmd.Flags().BoolVar(&resampleTextures, "resample-textures", false, "halve textures larger than 512px")
}
