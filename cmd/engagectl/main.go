package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/recrutai/engage-server-go/cmd/engagectl/internal/client"
	"github.com/recrutai/engage-server-go/cmd/engagectl/internal/intent"
	"github.com/recrutai/engage-server-go/cmd/engagectl/internal/queue"
)

func NewEngagectlCommand() *cobra.Command {
	var serverURL string

	cmd := &cobra.Command{
		Use:          "engagectl",
		Short:        "Operate the candidate engagement server",
		Example:      "engagectl stats",
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVar(&serverURL, "server", "",
		"Server base URL (default: $"+client.ServerURLEnv+" or "+client.DefaultServerURL+")")

	newClient := func() *client.Client {
		return client.New(client.ServerURL(serverURL))
	}

	cmd.AddCommand(
		queue.NewSweepCommand(newClient),
		queue.NewReplayFailedCommand(newClient),
		queue.NewPurgeCommand(newClient),
		queue.NewStatsCommand(newClient),
		intent.NewClassifyCommand(newClient),
	)

	return cmd
}

func main() {
	cmd := NewEngagectlCommand()
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
