package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"callboard/pkg/models"
)

var (
	pendingMark   = color.New(color.FgYellow, color.Bold).SprintFunc()
	processedMark = color.New(color.FgGreen).SprintFunc()
	locationText  = color.New(color.FgCyan).SprintFunc()
)

type usageErr struct{ msg string }

func (e *usageErr) Error() string { return e.msg }

func usageError(cmd *cobra.Command, msg string) error {
	return &usageErr{msg: fmt.Sprintf("%s: %s", cmd.CommandPath(), msg)}
}

// IsUsageError reports whether err came from bad flags or arguments.
func IsUsageError(err error) bool {
	var u *usageErr
	return errors.As(err, &u)
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// setColor turns colour off unless w is a terminal.
func setColor(w io.Writer) {
	f, ok := w.(*os.File)
	color.NoColor = !ok || !(isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd()))
}

func formatAnnouncement(a models.Announcement) string {
	state := pendingMark("pending")
	if a.Processed {
		state = processedMark("processed")
	}
	return fmt.Sprintf("#%-4d %s  %-24s %s  [%s]",
		a.ID,
		a.ReceivedAt.Local().Format("15:04:05"),
		a.Payload.PersonName,
		locationText(a.Payload.Location),
		state,
	)
}

func printAnnouncements(w io.Writer, title string, list []models.Announcement) {
	fmt.Fprintf(w, "%s (%d)\n", title, len(list))
	for _, a := range list {
		fmt.Fprintf(w, " %s\n", formatAnnouncement(a))
	}
}
