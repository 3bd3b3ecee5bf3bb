package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/smartcode/reviewctl/internal/api"
	"github.com/smartcode/reviewctl/internal/common/logtrace"
	"github.com/smartcode/reviewctl/internal/config"
	"github.com/smartcode/reviewctl/internal/notify"
	"github.com/smartcode/reviewctl/internal/review"
)

var (
	// Global flags
	jsonOutput bool
	configFile string
	verbose    bool
)

// cfg is the configuration loaded before every command runs.
var cfg *config.Config

var ErrAlreadyHandled = errors.New("already handled")

var okLabel = color.New(color.FgGreen)
var warnLabel = color.New(color.FgYellow)
var errorLabel = color.New(color.FgRed)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "reviewctl [command] [flags]",
	Short: "reviewctl - command line client for the SmartCode review service",
	Long: `reviewctl is a command line client for the SmartCode code review service.
It manages your review session and submits code or archives for AI review.

Examples:
  # Point the CLI at a server
  reviewctl config --server review.example.com:8080

  # Start a session and verify it with the code sent by email
  reviewctl session create --email alice@example.com --name Alice
  reviewctl session verify 123456

  # Review a file
  reviewctl analyze code main.py

  # Review a project archive
  reviewctl analyze zip project.zip`,
	PersistentPreRunE: preRunHandlePersistents,
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

func init() {
	// Set up persistent flags
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "", "", "Path to configuration file to override default")
	rootCmd.PersistentFlags().BoolVarP(&jsonOutput, "json", "j", false, "Output in JSON format")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	// Add commands
	rootCmd.AddCommand(newVersionCmd())
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	rootCmd.SilenceErrors = true // Prevent Cobra from printing the error
	rootCmd.SilenceUsage = true  // Prevent Cobra from printing usage on error

	err := rootCmd.Execute()
	if err != nil {
		if errors.Is(err, ErrAlreadyHandled) {
			os.Exit(1)
		}
		if jsonOutput {
			kv := map[string]string{
				"error": api.UserMessage(err),
			}
			printJSON(os.Stdout, kv)
		} else {
			errorLabel.Fprintf(os.Stderr, "Error: %v\n", api.UserMessage(err))
		}
		os.Exit(1)
	}
}

// preRunHandlePersistents loads the configuration and sets up logging before command execution
func preRunHandlePersistents(cmd *cobra.Command, args []string) error {
	c, err := config.LoadConfig(configFile)
	if err != nil {
		return err
	}
	cfg = c

	level := cfg.LogLevel
	if verbose {
		level = "debug"
	}
	logtrace.InitLoggerTo(cmd.ErrOrStderr(), level, true)
	return nil
}

// newClient assembles a review client. Notifications go to stderr unless JSON output is
// requested.
func newClient(cmd *cobra.Command, opts review.Options) (*review.Client, error) {
	if opts.Sink == nil {
		opts.Sink = newSink(cmd)
	}
	return review.New(cfg, opts)
}

func newSink(cmd *cobra.Command) notify.Sink {
	if jsonOutput {
		return notify.Nop
	}
	return notify.NewConsole(cmd.ErrOrStderr(), false)
}

// newVersionCmd creates and returns a new version command
func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number of reviewctl",
		Run: func(cmd *cobra.Command, args []string) {
			configPath := cfg.Path()
			if configPath == "" {
				configPath = "unknown"
			}

			if jsonOutput {
				kv := map[string]string{
					"version":     getCLIVersion(),
					"config_file": configPath,
				}
				printJSON(cmd.OutOrStdout(), kv)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "reviewctl %s\n", getCLIVersion())
				fmt.Fprintf(cmd.OutOrStdout(), "Config file: %s\n", configPath)
			}
		},
	}
}

// printJSON prints the given value as indented JSON
func printJSON(w io.Writer, data any) {
	jsonData, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return
	}
	fmt.Fprintln(w, string(jsonData))
}

// getCLIVersion returns the current CLI version
func getCLIVersion() string {
	return "v0.1.0"
}
