package cmd

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"mediadrop/internal"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Args:  cobra.NoArgs,
	// No config is needed to print the version
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "mediadrop %s (%s, %s/%s)\n", internal.Version, runtime.Version(), runtime.GOOS, runtime.GOARCH)
	},
}
