package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/smartcode/reviewctl/internal/config"
	"github.com/smartcode/reviewctl/internal/session"
)

// configCmd represents the config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage CLI configuration",
	Long:  `Manage CLI configuration settings like the review server address.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		serverFlag, _ := cmd.Flags().GetString("server")
		if serverFlag != "" {
			return setServerConfig(cmd, serverFlag)
		}

		// If no specific flag is provided, show help
		cmd.Help()
		return nil
	},
}

// configShowCmd prints the effective configuration
var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	Long: `Show the effective configuration after defaults, the .env file and environment
overrides have been applied.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if jsonOutput {
			printJSON(cmd.OutOrStdout(), map[string]any{
				"config_file": cfg.Path(),
				"server_url":  cfg.ServerURL,
				"session":     cfg.SessionPath(),
				"history":     cfg.HistoryPath(),
				"log_level":   cfg.LogLevel,
			})
			return nil
		}
		out, err := yaml.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("unable to render configuration: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "# %s\n%s", cfg.Path(), out)
		return nil
	},
}

// configClearCmd represents the config clear command
var configClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove the stored session",
	Long: `Remove the locally stored session record. The session is not ended on the server;
use "reviewctl session end" for that.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		store := session.NewFileStore(cfg.SessionPath())
		if err := store.Clear(); err != nil {
			return err
		}

		if jsonOutput {
			printJSON(cmd.OutOrStdout(), map[string]int{"result": 1})
		} else {
			fmt.Fprintln(cmd.OutOrStdout(), "Stored session cleared. Start a new one with \"reviewctl session create\"")
		}
		return nil
	},
}

func init() {
	configCmd.Flags().String("server", "", "Set the server URL (e.g., review.example.com:8080)")

	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configClearCmd)
	rootCmd.AddCommand(configCmd)
}

// setServerConfig stores the server URL in the config file, keeping the other settings
func setServerConfig(cmd *cobra.Command, server string) error {
	server = config.MorphServer(server)
	if server == "" {
		return errors.New("server URL cannot be empty")
	}

	cfg.ServerURL = server
	if err := cfg.ValidateConfig(); err != nil {
		return err
	}
	if err := cfg.WriteConfig(""); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	if jsonOutput {
		printJSON(cmd.OutOrStdout(), map[string]string{
			"server":      cfg.ServerURL,
			"config_file": cfg.Path(),
		})
	} else {
		okLabel.Fprintf(cmd.OutOrStdout(), "✓ Server configured: %s\n", cfg.ServerURL)
		fmt.Fprintf(cmd.OutOrStdout(), "Config file: %s\n", cfg.Path())
	}
	return nil
}
