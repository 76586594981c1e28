package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show server counters",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
			defer cancel()

			st, err := newClient(cmd).Status(ctx)
			if err != nil {
				return err
			}
			if jsonOutput() {
				return printJSON(cmd.OutOrStdout(), st)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s %s at %s (%s)\n", st.Service, st.Status, viper.GetString("server"), st.Environment)
			fmt.Fprintf(out, " - version: %s\n", st.Version)
			fmt.Fprintf(out, " - uptime: %s\n", st.Uptime)
			fmt.Fprintf(out, " - announcements: %d/%d (%d pending)\n", st.TotalAnnouncements, st.Capacity, st.PendingAnnouncements)
			fmt.Fprintf(out, " - displays connected: %d\n", st.ConnectedClients)
			if st.LatestAnnouncement != nil {
				fmt.Fprintf(out, " - latest: %s\n", formatAnnouncement(*st.LatestAnnouncement))
			}
			return nil
		},
	}
}
