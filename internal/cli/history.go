package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/smartcode/reviewctl/internal/history"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recently completed analyses",
	Long: `List the analyses completed on this machine, newest first. Only the most recent
entries are kept (50 by default, see history_limit in the config file).`,
	Args: cobra.NoArgs,
	RunE: runHistory,
}

func init() {
	historyCmd.Flags().IntP("limit", "n", 10, "Number of entries to show")
	rootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, args []string) error {
	limit, _ := cmd.Flags().GetInt("limit")

	store, err := history.Open(cfg.HistoryPath(), cfg.HistoryLimit)
	if err != nil {
		return err
	}
	defer store.Close()

	entries, err := store.List(cmd.Context(), limit)
	if err != nil {
		return err
	}

	if jsonOutput {
		if entries == nil {
			entries = []history.Entry{}
		}
		printJSON(cmd.OutOrStdout(), entries)
		return nil
	}
	if len(entries) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No analyses yet.")
		return nil
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ANALYSIS\tDATE\tSOURCE\tLANGUAGE\tSCORE\tISSUES")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%.1f\t%d\n",
			e.AnalysisID, e.CreatedAt.Local().Format("2006-01-02 15:04"), e.Source, orDash(e.Language), e.OverallScore, e.IssueCount)
	}
	return tw.Flush()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
