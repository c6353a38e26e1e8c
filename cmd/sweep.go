package cmd

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"mediadrop/internal"
	"mediadrop/storage"
)

var olderThan time.Duration

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run one janitor pass over a storage directory",
	Long: `Delete files from a storage directory that no process is holding. Only
on-disk .lock markers are consulted, so a running server must use
--persist-locks for its reservations to be honoured.

Without --older-than every unlocked file is eligible.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := os.Stat(config.StorageDir); err != nil {
			return internal.NewConfigurationError("storage directory is not usable", err).
				WithContext("path", config.StorageDir)
		}

		report := runSweep(config.StorageDir, olderThan, time.Now())
		if !config.QuietMode {
			printSweepReport(os.Stdout, report)
		}
		if report.Failed > 0 {
			return fmt.Errorf("%d files could not be removed", report.Failed)
		}
		return nil
	},
}

// runSweep performs a single marker-guarded pass. Files modified after
// now-olderThan are kept.
func runSweep(dir string, olderThan time.Duration, now time.Time) internal.SweepReport {
	janitor := storage.NewJanitor(dir, storage.NewMarkerStore(dir), 0)
	janitor.SetBoundary(now.Add(-olderThan))
	return janitor.Sweep()
}

func printSweepReport(w io.Writer, report internal.SweepReport) {
	for _, name := range report.Deleted {
		fmt.Fprintf(w, "%s %s\n", color.RedString("deleted"), name)
	}
	fmt.Fprintf(w, "%s %d deleted, %d kept, %d failed in %s\n",
		color.GreenString("Sweep complete:"), len(report.Deleted), report.Skipped, report.Failed,
		report.Duration.Round(time.Millisecond))
}

func init() {
	sweepCmd.Flags().StringVar(&storageDir, "storage-dir", "", "Directory to sweep (env: MEDIADROP_STORAGE_DIR)")
	sweepCmd.Flags().DurationVar(&olderThan, "older-than", 0, "Only delete files last modified at least this long ago")
}
