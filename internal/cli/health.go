package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/smartcode/reviewctl/internal/api"
	"github.com/smartcode/reviewctl/internal/review"
)

// healthCmd checks whether the review service is reachable
var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check that the review service is online",
	Long: `Check that the review service is online and how busy it is.

Examples:
  reviewctl health
  reviewctl health -j`,
	Args: cobra.NoArgs,
	RunE: runHealth,
}

func init() {
	rootCmd.AddCommand(healthCmd)
}

func runHealth(cmd *cobra.Command, args []string) error {
	client, err := newClient(cmd, review.Options{NoHistory: true})
	if err != nil {
		return err
	}
	defer client.Close()

	h, err := client.Health(cmd.Context())
	if err != nil {
		if jsonOutput {
			printJSON(cmd.OutOrStdout(), map[string]any{
				"online": false,
				"server": cfg.ServerURL,
				"error":  api.UserMessage(err),
			})
		} else {
			errorLabel.Fprintf(cmd.OutOrStdout(), "✗ Service offline: %s\n", cfg.ServerURL)
			fmt.Fprintln(cmd.OutOrStdout(), api.UserMessage(err))
		}
		return ErrAlreadyHandled
	}

	if jsonOutput {
		printJSON(cmd.OutOrStdout(), map[string]any{
			"online": h.Up(),
			"server": cfg.ServerURL,
			"value":  h,
		})
		return nil
	}

	if h.Up() {
		okLabel.Fprintf(cmd.OutOrStdout(), "✓ Service online: %s\n", cfg.ServerURL)
	} else {
		warnLabel.Fprintf(cmd.OutOrStdout(), "! Service status %s: %s\n", h.Status, cfg.ServerURL)
	}
	if h.MaxSessions > 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "Sessions: %d of %d in use\n", h.CurrentSessions, h.MaxSessions)
	}
	if h.Busy() {
		warnLabel.Fprintln(cmd.OutOrStdout(), "The service is busy; analyses may take longer than usual.")
	}
	return nil
}
