package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/openeq/eqconvert/internal/pfs"
	"github.com/openeq/eqconvert/internal/utils"
	"github.com/openeq/eqconvert/internal/wld"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect <archive>",
	Short: "List the contents of a zone archive",
	Long: `Inspect decompresses an archive and prints its file listing. With
--fragments it also decodes every scene description file inside and
prints per-tag fragment counts, which is useful for triaging archives
that convert with anomalies.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		showFragments, err := cmd.Flags().GetBool("fragments")
		if err != nil {
			return fmt.Errorf("failed to get fragments flag: %w", err)
		}

		path := args[0]
		if !filepath.IsAbs(path) {
			if _, err := os.Stat(path); err != nil {
				path = filepath.Join(cfg.EQData, path)
			}
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading archive: %w", err)
		}

		archive, err := pfs.Load(data)
		if err != nil {
			return fmt.Errorf("loading archive: %w", err)
		}

		names := archive.Files()
		fmt.Printf("Archive: %s\n", path)
		fmt.Printf("Files: %d (%d chunks)\n", len(names), archive.Len())
		for _, name := range names {
			contents, _ := archive.File(name)
			fmt.Printf("  %-32s %s bytes\n", name, utils.Number(int64(len(contents))))
		}

		if !showFragments {
			return nil
		}

		for _, name := range names {
			if filepath.Ext(name) != ".wld" {
				continue
			}
			contents, _ := archive.File(name)
			table, err := wld.Decode(contents)
			if err != nil {
				slog.Error("Failed to decode scene file", "file", name, "error", err)
				continue
			}

			counts := make(map[uint32]int)
			for i := range table.Fragments {
				counts[table.Fragments[i].Tag]++
			}

			fmt.Printf("\n%s: %d fragments (old version: %v)\n", name, len(table.Fragments), table.OldVersion)
			for tag := uint32(0); tag <= 0xFF; tag++ {
				if n, ok := counts[tag]; ok {
					fmt.Printf("  0x%02X: %d\n", tag, n)
				}
			}
		}

		return nil
	},
}

func init() {
	rootCmd.AddCommand(inspectCmd)
	inspectCmd.Flags().Bool("fragments", false, "decode scene files and print fragment counts")
}
