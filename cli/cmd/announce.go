package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	api "callboard/pkg/api/callboard"
	"callboard/pkg/kafka"
	"callboard/pkg/models"
)

func newAnnounceCmd() *cobra.Command {
	var location, name, via string
	var seq int64
	var test bool

	cmd := &cobra.Command{
		Use:   "announce",
		Short: "Call a patient to a location",
		Example: `  callboard announce --location "Room 3" --name "Jane Doe"
  callboard announce --location "Room 3" --name "Jane Doe" --via kafka --brokers kafka:9092
  callboard announce --test`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
			defer cancel()

			if test {
				resp, err := newClient(cmd).TestAnnouncement(ctx)
				if err != nil {
					return err
				}
				return printSubmit(cmd, resp)
			}

			if strings.TrimSpace(location) == "" || strings.TrimSpace(name) == "" {
				return usageError(cmd, "--location and --name are required")
			}

			var seqHint interface{}
			if cmd.Flags().Changed("seq") {
				seqHint = seq
			}
			payload, err := models.NewPayload(seqHint, location, name)
			if err != nil {
				return err
			}

			switch via {
			case "", "http":
				resp, err := newClient(cmd).Submit(ctx, payload)
				if err != nil {
					return err
				}
				return printSubmit(cmd, resp)
			case "kafka":
				return announceViaKafka(ctx, cmd, payload)
			default:
				return usageError(cmd, "--via must be http or kafka")
			}
		},
	}

	cmd.Flags().StringVar(&location, "location", "", "where the patient should go (e.g. \"Room 3\")")
	cmd.Flags().StringVar(&name, "name", "", "patient name to display")
	cmd.Flags().Int64Var(&seq, "seq", 0, "sequence hint passed through to displays")
	cmd.Flags().StringVar(&via, "via", "http", "transport: http|kafka")
	cmd.Flags().BoolVar(&test, "test", false, "ask the server to publish its test announcement")
	cmd.Flags().String("brokers", "", "comma-separated Kafka brokers (for --via kafka)")
	cmd.Flags().String("topic", "", "Kafka topic (for --via kafka)")
	_ = viper.BindPFlag("kafka.brokers", cmd.Flags().Lookup("brokers"))
	_ = viper.BindPFlag("kafka.topic", cmd.Flags().Lookup("topic"))
	return cmd
}

func printSubmit(cmd *cobra.Command, resp *api.SubmitResponse) error {
	if jsonOutput() {
		return printJSON(cmd.OutOrStdout(), resp)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Announced %s\n", formatAnnouncement(resp.Announcement))
	fmt.Fprintf(cmd.OutOrStdout(), " - displays connected: %d\n", resp.ConnectedClients)
	return nil
}

func kafkaBrokers() []string {
	var brokers []string
	for _, b := range strings.Split(viper.GetString("kafka.brokers"), ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}

func announceViaKafka(ctx context.Context, cmd *cobra.Command, payload models.Payload) error {
	brokers := kafkaBrokers()
	if len(brokers) == 0 {
		return usageError(cmd, "--brokers (or kafka.brokers in config) is required for --via kafka")
	}
	topic := viper.GetString("kafka.topic")

	producer, err := kafka.NewProducer(kafka.ProducerConfig{
		Brokers:  brokers,
		ClientID: viper.GetString("kafka.client_id"),
	}, cliLogger(cmd))
	if err != nil {
		return err
	}
	defer producer.Close()

	value, err := json.Marshal(api.SubmitRequest{Announcement: payload})
	if err != nil {
		return err
	}
	key := uuid.NewString()
	if err := producer.Produce(ctx, topic, []byte(key), value, map[string]string{"source": "callboard-cli"}); err != nil {
		return err
	}

	if jsonOutput() {
		return printJSON(cmd.OutOrStdout(), map[string]interface{}{
			"success": true,
			"topic":   topic,
			"key":     key,
		})
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Queued %s on %s (key %s)\n", payload.String(), topic, key)
	return nil
}
