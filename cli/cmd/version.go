package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"callboard/pkg/version"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print CLI version info",
		RunE: func(cmd *cobra.Command, args []string) error {
			info := version.GetInfo("callboard")
			if jsonOutput() {
				return printJSON(cmd.OutOrStdout(), info)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "callboard CLI\n")
			fmt.Fprintf(out, " - version: %s\n", info.Version)
			fmt.Fprintf(out, " - git: %s\n", info.ShortCommit())
			fmt.Fprintf(out, " - built: %s\n", info.BuildDate)
			fmt.Fprintf(out, " - go: %s\n", info.GoVersion)
			return nil
		},
	}
}
