package intent

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/spf13/cobra"

	"github.com/recrutai/engage-server-go/cmd/engagectl/internal/client"
	"github.com/recrutai/engage-server-go/internal/service"
)

func NewClassifyCommand(newClient client.Factory) *cobra.Command {
	return &cobra.Command{
		Use:   "classify <text>",
		Short: "Classify a candidate reply",
		Args:  cobra.MinimumNArgs(1),
		Example: `  engagectl classify "posso remarcar para amanhã?"
  engagectl classify quero desistir`,
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]string{"text": strings.Join(args, " ")}
			var cls service.Classification
			if err := newClient().Do(cmd.Context(), http.MethodPost, "/v1/intents/classify", body, &cls); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s (confidence %.2f, tier %s)\n", cls.Label, cls.Confidence, cls.Tier)
			return nil
		},
	}
}
