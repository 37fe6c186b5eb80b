package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Set at build time with -ldflags "-X .../commands.Version=..."
var (
	Version   = "dev"
	GitCommit = "none"
	BuildDate = "unknown"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print classdraw version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "classdraw %s\n", Version)
			if GitCommit != "none" {
				fmt.Fprintf(out, "Git commit: %s\n", GitCommit)
			}
			if BuildDate != "unknown" {
				fmt.Fprintf(out, "Build date: %s\n", BuildDate)
			}
		},
	}
}
