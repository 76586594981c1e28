package cmd

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	api "callboard/pkg/api/callboard"
)

func newListCmd() *cobra.Command {
	var pending bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent announcements, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
			defer cancel()

			client := newClient(cmd)
			var resp *api.ListResponse
			var err error
			title := "Announcements"
			if pending {
				resp, err = client.ListPending(ctx)
				title = "Pending announcements"
			} else {
				resp, err = client.List(ctx)
			}
			if err != nil {
				return err
			}

			if jsonOutput() {
				return printJSON(cmd.OutOrStdout(), resp)
			}
			printAnnouncements(cmd.OutOrStdout(), title, resp.Announcements)
			return nil
		},
	}
	cmd.Flags().BoolVar(&pending, "pending", false, "only announcements not yet processed")
	return cmd
}
