package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"

	"github.com/openeq/eqconvert/internal/config"
)

var (
	cfg     *config.Config
	cfgFile string

	eqdata     string
	output     string
	reportDB   string
	logLevel   string
	logFormat  string
	noProgress bool
)

var rootCmd = &cobra.Command{
	Use:   "eqconvert",
	Short: "EverQuest zone asset conversion tool",
	Long: `eqconvert extracts legacy EverQuest zone archives (.s3d) and converts
their geometry, materials, placements and lights into a compact native
format plus a standard glTF binary for use in modern tooling.

Conversion is tolerant by design: recoverable irregularities in the
source data are substituted and reported rather than failing the run.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}

		if cmd.Flags().Changed("eqdata") {
			cfg.EQData = eqdata
		}
		if cmd.Flags().Changed("output") {
			cfg.Output = output
		}
		if cmd.Flags().Changed("report-db") {
			cfg.ReportDB = reportDB
		}
		if cmd.Flags().Changed("log-level") {
			cfg.LogLevel = logLevel
		}
		if cmd.Flags().Changed("log-format") {
			cfg.LogFormat = logFormat
		}

		var level slog.Level
		switch cfg.LogLevel {
		case "debug":
			level = slog.LevelDebug
		case "info":
			level = slog.LevelInfo
		case "warn":
			level = slog.LevelWarn
		case "error":
			level = slog.LevelError
		default:
			level = slog.LevelInfo
		}

		var handler slog.Handler
		if cfg.LogFormat == "json" {
			handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
				Level: level,
			})
		} else {
			handler = tint.NewHandler(os.Stderr, &tint.Options{
				Level: level,
			})
		}

		logger := slog.New(handler)
		slog.SetDefault(logger)

		slog.Debug("Configuration",
			"eqdata", cfg.EQData,
			"output", cfg.Output,
			"report_db", cfg.ReportDB,
			"texture_resample", cfg.TextureResample,
			"include_collision", cfg.IncludeCollision,
			"optimize_meshes", cfg.OptimizeMeshes,
			"log_level", cfg.LogLevel,
			"log_format", cfg.LogFormat)

		return nil
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is eqconvert.yaml in pwd)")
	rootCmd.PersistentFlags().StringVarP(&eqdata, "eqdata", "e", "", "directory containing game archives")
	rootCmd.PersistentFlags().StringVarP(&output, "output", "o", "", "directory receiving converted files")
	rootCmd.PersistentFlags().StringVar(&reportDB, "report-db", "", "SQLite file recording conversion runs and anomalies")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "log format (text, json)")
	rootCmd.PersistentFlags().BoolVar(&noProgress, "no-progress", false, "disable progress bar")
}
