package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/andresmejia3/thermalgait/internal/store"
	"github.com/andresmejia3/thermalgait/internal/utils"
)

var (
	resetDB    bool
	resetFiles bool
	resetYes   bool
)

var resetCmd = &cobra.Command{
	Use:         "reset",
	Short:       "Reset system state (job database, rendered energy images)",
	Long:        "Clears all data. By default, it resets everything. Use flags to clear specific components.",
	Annotations: map[string]string{needsDB: "true"},
	Run: func(cmd *cobra.Command, args []string) {
		// If no flags are set, default to clearing EVERYTHING
		if !resetDB && !resetFiles {
			resetDB = true
			resetFiles = true
		}

		reader := bufio.NewReader(os.Stdin)
		ctx := cmd.Context()

		// Collect image directories before the jobs that reference them are dropped.
		var dirs []string
		if resetFiles {
			var err error
			if dirs, err = energyImageDirs(ctx, DB, Cfg.Energy.OutputDir); err != nil {
				utils.Die("Failed to list energy images", err, nil)
			}
			if len(dirs) > 0 && confirm(reader, fmt.Sprintf("⚠️  Are you sure you want to delete %d energy image directories?", len(dirs))) {
				fmt.Println("🗑️  Clearing Energy Images...")
				for _, d := range dirs {
					removeDir(d)
				}
			}
		}

		if resetDB {
			if confirm(reader, "⚠️  Are you sure you want to DROP all analysis jobs?") {
				fmt.Println("🗑️  Clearing Database...")
				if err := DB.Reset(ctx); err != nil {
					utils.Die("Failed to reset database", err, nil)
				}
			}
		}

		fmt.Println("✨ System Reset Complete.")
	},
}

func init() {
	resetCmd.Flags().BoolVar(&resetDB, "jobs", false, "Clear the job database")
	resetCmd.Flags().BoolVar(&resetFiles, "files", false, "Clear rendered energy images")
	resetCmd.Flags().BoolVarP(&resetYes, "yes", "y", false, "Do not ask for confirmation")
	rootCmd.AddCommand(resetCmd)
}

// energyImageDirs lists the directories holding rendered energy images:
// the configured output directory, or each job's own image directory.
func energyImageDirs(ctx context.Context, s store.Store, outputDir string) ([]string, error) {
	if outputDir != "" {
		return []string{outputDir}, nil
	}
	list, err := s.ListJobs(ctx, store.Filter{})
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	var dirs []string
	for _, job := range list {
		if job.EnergyImagePath == "" {
			continue
		}
		d := filepath.Dir(job.EnergyImagePath)
		if !seen[d] {
			seen[d] = true
			dirs = append(dirs, d)
		}
	}
	return dirs, nil
}

func confirm(r *bufio.Reader, prompt string) bool {
	if resetYes {
		return true
	}
	fmt.Printf("%s [y/N]: ", prompt)
	res, _ := r.ReadString('\n')
	res = strings.TrimSpace(strings.ToLower(res))
	return res == "y" || res == "yes"
}

func removeDir(path string) {
	if err := os.RemoveAll(path); err != nil {
		fmt.Fprintf(os.Stderr, "⚠️  Failed to remove %s: %v\n", path, err)
	}
}
