package cmd

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"
)

func newAckCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "ack <id>",
		Aliases: []string{"processed"},
		Short:   "Mark an announcement as processed",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return usageError(cmd, fmt.Sprintf("id must be an integer, got %q", args[0]))
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
			defer cancel()
			if err := newClient(cmd).MarkProcessed(ctx, id); err != nil {
				return err
			}

			if jsonOutput() {
				return printJSON(cmd.OutOrStdout(), map[string]interface{}{"success": true, "id": id})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Announcement #%d marked as processed\n", id)
			return nil
		},
	}
}
