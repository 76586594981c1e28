package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	api "callboard/pkg/api/callboard"
	"callboard/pkg/clients/callboard"
	"callboard/pkg/models"
)

func newWatchCmd() *cobra.Command {
	var ack, history bool
	var limit, retries int

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow announcements live, like a waiting-room display",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			client := newClient(cmd)
			wsURL, err := client.WebSocketURL()
			if err != nil {
				return err
			}

			w, err := callboard.Dial(ctx, wsURL, callboard.DialOptions{
				MaxRetries: retries,
				BaseDelay:  500 * time.Millisecond,
				MaxDelay:   10 * time.Second,
			})
			if err != nil {
				return err
			}
			defer w.Close()

			if history {
				if err := w.RequestHistory(); err != nil {
					return err
				}
			}

			p := &watchPrinter{out: cmd.OutOrStdout(), json: jsonOutput()}
			seen := 0
			for {
				select {
				case <-ctx.Done():
					return nil
				case ev, ok := <-w.Events():
					if !ok {
						if err := w.Err(); err != nil {
							return fmt.Errorf("connection lost: %w", err)
						}
						return nil
					}
					if err := p.print(ev); err != nil {
						return err
					}
					if ack {
						for _, a := range toAcknowledge(ev) {
							if err := w.Acknowledge(a.ID); err != nil {
								return err
							}
						}
					}
					if ev.Type == api.TypeNewAnnouncement {
						seen++
						if limit > 0 && seen >= limit {
							return nil
						}
					}
				}
			}
		},
	}

	cmd.Flags().BoolVar(&ack, "ack", false, "mark every displayed announcement as processed")
	cmd.Flags().BoolVar(&history, "history", false, "request recent history after connecting")
	cmd.Flags().IntVar(&limit, "limit", 0, "exit after this many new announcements (0 = run until interrupted)")
	cmd.Flags().IntVar(&retries, "retries", 5, "connection attempts after the first (-1 = forever)")
	return cmd
}

func toAcknowledge(ev callboard.Event) []models.Announcement {
	switch ev.Type {
	case api.TypeNewAnnouncement:
		if ev.Announcement != nil && !ev.Announcement.Processed {
			return []models.Announcement{*ev.Announcement}
		}
	case api.TypePendingBacklog:
		return ev.Announcements
	}
	return nil
}

type watchPrinter struct {
	out  io.Writer
	json bool
}

type watchLine struct {
	Type          string                    `json:"type"`
	Timestamp     time.Time                 `json:"timestamp"`
	Announcement  *models.Announcement      `json:"announcement,omitempty"`
	Announcements []models.Announcement     `json:"announcements,omitempty"`
	ProcessedID   int64                     `json:"processed_id,omitempty"`
	Status        *api.ConnectionStatusData `json:"status,omitempty"`
}

func (p *watchPrinter) print(ev callboard.Event) error {
	if p.json {
		return json.NewEncoder(p.out).Encode(watchLine{
			Type:          ev.Type,
			Timestamp:     ev.Timestamp,
			Announcement:  ev.Announcement,
			Announcements: ev.Announcements,
			ProcessedID:   ev.ProcessedID,
			Status:        ev.Status,
		})
	}

	switch ev.Type {
	case api.TypePendingBacklog:
		printAnnouncements(p.out, "Pending announcements", ev.Announcements)
	case api.TypeHistory:
		printAnnouncements(p.out, "History", ev.Announcements)
	case api.TypeNewAnnouncement:
		if ev.Announcement != nil {
			fmt.Fprintf(p.out, "NEW %s\n", formatAnnouncement(*ev.Announcement))
		}
	case api.TypeProcessed:
		fmt.Fprintf(p.out, "processed #%d\n", ev.ProcessedID)
	case api.TypeConnectionStatus:
		if ev.Status != nil {
			fmt.Fprintf(p.out, "connected (%d displays)\n", ev.Status.TotalClients)
		}
	default:
		fmt.Fprintf(p.out, "%s\n", ev.Type)
	}
	return nil
}
