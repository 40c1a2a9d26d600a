package queue

import (
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/recrutai/engage-server-go/cmd/engagectl/internal/client"
	"github.com/recrutai/engage-server-go/internal/model"
	"github.com/recrutai/engage-server-go/internal/service"
)

func NewSweepCommand(newClient client.Factory) *cobra.Command {
	return &cobra.Command{
		Use:     "sweep",
		Short:   "Deliver due queued messages now",
		Args:    cobra.NoArgs,
		Example: `  engagectl sweep`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var result service.SweepResult
			if err := newClient().Do(cmd.Context(), http.MethodPost, "/v1/queue/sweep", nil, &result); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "processed %d: %d sent, %d retried, %d failed, %d skipped (%d reclaimed)\n",
				result.Processed, result.Sent, result.Retried, result.Failed, result.Skipped, result.Reclaimed)
			return nil
		},
	}
}

func NewReplayFailedCommand(newClient client.Factory) *cobra.Command {
	return &cobra.Command{
		Use:     "replay-failed",
		Short:   "Return failed messages to the queue with a fresh attempt budget",
		Args:    cobra.NoArgs,
		Example: `  engagectl replay-failed`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var result struct {
				Replayed int64 `json:"replayed"`
			}
			if err := newClient().Do(cmd.Context(), http.MethodPost, "/v1/queue/replay", nil, &result); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "replayed %d failed messages\n", result.Replayed)
			return nil
		},
	}
}

func NewPurgeCommand(newClient client.Factory) *cobra.Command {
	var days int

	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete sent messages older than a number of days",
		Args:  cobra.NoArgs,
		Example: `  engagectl purge --older-than-days 30
  engagectl purge --older-than-days 7 --server http://engage:8080`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if days < 1 {
				return fmt.Errorf("--older-than-days must be at least 1")
			}
			var result struct {
				Purged int64 `json:"purged"`
			}
			path := fmt.Sprintf("/v1/queue/purge?olderThanDays=%d", days)
			if err := newClient().Do(cmd.Context(), http.MethodPost, path, nil, &result); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "purged %d sent messages older than %d days\n", result.Purged, days)
			return nil
		},
	}

	cmd.Flags().IntVar(&days, "older-than-days", 0, "Age in days of sent messages to delete (required)")
	_ = cmd.MarkFlagRequired("older-than-days")

	return cmd
}

func NewStatsCommand(newClient client.Factory) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:     "stats",
		Short:   "Show outbound queue counts per status",
		Args:    cobra.NoArgs,
		Example: `  engagectl stats --json`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var stats model.OutboundStats
			if err := newClient().Do(cmd.Context(), http.MethodGet, "/v1/queue/stats", nil, &stats); err != nil {
				return err
			}
			if asJSON {
				return client.PrintJSON(cmd.OutOrStdout(), stats)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "pending:    %d\n", stats.Pending)
			fmt.Fprintf(out, "processing: %d\n", stats.Processing)
			fmt.Fprintf(out, "sent:       %d\n", stats.Sent)
			fmt.Fprintf(out, "failed:     %d\n", stats.Failed)
			fmt.Fprintf(out, "total:      %d\n", stats.Total)
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print raw JSON")

	return cmd
}
