package cli

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/smartcode/reviewctl/internal/analysis"
	"github.com/smartcode/reviewctl/internal/review"
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Submit code for review",
	Long: `Submit code for review and wait for the result. An active, verified session is
required; see "reviewctl session".`,
}

var analyzeCodeCmd = &cobra.Command{
	Use:   "code FILE|-",
	Short: "Review a single source file, or standard input with -",
	Long: `Review a single source file. Use - to read the code from standard input.
The language is guessed from the file extension unless --language is given.

Examples:
  reviewctl analyze code main.py
  cat App.java | reviewctl analyze code - --language java`,
	Args: cobra.ExactArgs(1),
	RunE: runAnalyzeCode,
}

var analyzeZipCmd = &cobra.Command{
	Use:   "zip FILE",
	Short: "Review a project archive (.zip, .tar.gz or .rar)",
	Args:  cobra.ExactArgs(1),
	RunE:  runAnalyzeZip,
}

var analyzeStatusCmd = &cobra.Command{
	Use:   "status ANALYSIS_ID",
	Short: "Fetch the status of an analysis once",
	Args:  cobra.ExactArgs(1),
	RunE:  runAnalyzeStatus,
}

func init() {
	analyzeCodeCmd.Flags().StringP("language", "l", "", "Language of the code; guessed from the file extension when empty")
	for _, c := range []*cobra.Command{analyzeCodeCmd, analyzeZipCmd} {
		c.Flags().Bool("no-wait", false, "Print the analysis id and return without waiting for the result")
	}

	analyzeCmd.AddCommand(analyzeCodeCmd, analyzeZipCmd, analyzeStatusCmd)
	rootCmd.AddCommand(analyzeCmd)
}

func runAnalyzeCode(cmd *cobra.Command, args []string) error {
	language, _ := cmd.Flags().GetString("language")

	var code []byte
	var err error
	if args[0] == "-" {
		code, err = io.ReadAll(cmd.InOrStdin())
	} else {
		code, err = os.ReadFile(args[0])
		if language == "" {
			language = analysis.DetectLanguage(args[0])
		}
	}
	if err != nil {
		return fmt.Errorf("unable to read code: %w", err)
	}
	p := analysis.CodePayload(string(code), language)
	if args[0] != "-" {
		p.FileName = args[0]
	}
	return runAnalysis(cmd, p)
}

func runAnalyzeZip(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("unable to read archive: %w", err)
	}
	return runAnalysis(cmd, analysis.ArchivePayload(filepath.Base(args[0]), data))
}

// runAnalysis submits p and, unless --no-wait is set, follows it to a terminal state.
// Interrupting the CLI stops tracking; the service keeps the analysis.
func runAnalysis(cmd *cobra.Command, p analysis.Payload) error {
	noWait, _ := cmd.Flags().GetBool("no-wait")

	opts := review.Options{}
	if !jsonOutput {
		w := cmd.ErrOrStderr()
		opts.Handlers = analysis.Handlers{
			OnProgress: func(j analysis.Job) { printProgress(w, j) },
			OnPartial:  func(j analysis.Job) { printPartial(w, j) },
		}
	}
	client, err := newClient(cmd, opts)
	if err != nil {
		return err
	}
	defer client.Close()

	if noWait {
		job, err := client.Tracker().Submit(cmd.Context(), p)
		if err != nil {
			return err
		}
		if jsonOutput {
			printJSON(cmd.OutOrStdout(), job)
		} else {
			fmt.Fprintf(cmd.OutOrStdout(), "Analysis submitted: %s\n", job.AnalysisID)
			fmt.Fprintf(cmd.OutOrStdout(), "Check it with: reviewctl analyze status %s\n", job.AnalysisID)
		}
		return nil
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	job, err := client.Analyze(ctx, p)
	if err != nil {
		return err
	}

	if jsonOutput {
		printJSON(cmd.OutOrStdout(), job)
		return nil
	}
	fmt.Fprintln(cmd.ErrOrStderr())
	printResult(cmd.OutOrStdout(), job)
	return nil
}

func runAnalyzeStatus(cmd *cobra.Command, args []string) error {
	client, err := newClient(cmd, review.Options{NoHistory: true})
	if err != nil {
		return err
	}
	defer client.Close()

	resp, err := client.Tracker().Status(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	if jsonOutput {
		printJSON(cmd.OutOrStdout(), resp)
		return nil
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Analysis:  %s\n", resp.AnalysisID)
	fmt.Fprintf(w, "Status:    %s\n", resp.Status)
	fmt.Fprintf(w, "Progress:  %d%%\n", resp.ProgressPercentage)
	if resp.Message != "" {
		fmt.Fprintf(w, "Message:   %s\n", resp.Message)
	}
	if resp.Result != nil {
		fmt.Fprintln(w)
		printReview(w, resp.Result)
	}
	return nil
}
