package cli

import (
	"bufio"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/smartcode/reviewctl/internal/review"
	"github.com/smartcode/reviewctl/internal/session"
)

const (
	conflictAsk      = "ask"
	conflictDiscard  = "discard"
	conflictContinue = "continue"
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Manage the review session",
	Long: `Manage the review session. A session is created for an email address, verified with
the one-time code sent to that address and then used for a limited number of analyses.`,
}

var sessionCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a session and send a verification code",
	Long: `Create a session for an email address. The service mails a six digit code that is
entered with "reviewctl session verify".

If a session is already active the CLI asks whether to discard it or keep using it; use
--on-conflict to decide up front.

Examples:
  reviewctl session create --email alice@example.com --name Alice
  reviewctl session create --email alice@example.com --name Alice --on-conflict discard`,
	Args: cobra.NoArgs,
	RunE: runSessionCreate,
}

var sessionVerifyCmd = &cobra.Command{
	Use:   "verify CODE",
	Short: "Verify the pending session with the emailed code",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionVerify,
}

var sessionStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the current session",
	Args:  cobra.NoArgs,
	RunE:  runSessionStatus,
}

var sessionEndCmd = &cobra.Command{
	Use:   "end",
	Short: "End the current session",
	Args:  cobra.NoArgs,
	RunE:  runSessionEnd,
}

func init() {
	sessionCreateCmd.Flags().String("email", "", "Email address the verification code is sent to")
	sessionCreateCmd.Flags().String("name", "", "Your name")
	sessionCreateCmd.Flags().String("on-conflict", conflictAsk, "What to do when a session is already active: ask, discard or continue")
	sessionCreateCmd.MarkFlagRequired("email")

	sessionVerifyCmd.Flags().String("session-id", "", "Session to verify; defaults to the pending session")

	sessionCmd.AddCommand(sessionCreateCmd, sessionVerifyCmd, sessionStatusCmd, sessionEndCmd)
	rootCmd.AddCommand(sessionCmd)
}

func runSessionCreate(cmd *cobra.Command, args []string) error {
	email, _ := cmd.Flags().GetString("email")
	name, _ := cmd.Flags().GetString("name")
	onConflict, _ := cmd.Flags().GetString("on-conflict")
	switch onConflict {
	case conflictAsk, conflictDiscard, conflictContinue:
	default:
		return fmt.Errorf("invalid --on-conflict value %q: use ask, discard or continue", onConflict)
	}

	client, err := newClient(cmd, review.Options{NoHistory: true})
	if err != nil {
		return err
	}
	defer client.Close()
	ctrl := client.Session()

	s, err := ctrl.CreateSession(cmd.Context(), email, name)
	if errors.Is(err, session.ErrSessionConflict) {
		choice, cerr := conflictChoice(cmd, onConflict, ctrl.PendingConflict())
		if cerr != nil {
			return cerr
		}
		s, err = ctrl.ResolveConflict(cmd.Context(), choice)
		if err == nil && choice == session.DiscardAndRetry {
			s, err = ctrl.CreateSession(cmd.Context(), email, name)
		} else if err == nil {
			return printSession(cmd, s, ctrl.State())
		}
	}
	if err != nil {
		return err
	}

	if jsonOutput {
		printJSON(cmd.OutOrStdout(), map[string]any{
			"sessionId": s.SessionID,
			"state":     ctrl.State(),
		})
		return nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Verification code sent to %s\n", session.MaskEmail(s.Email))
	fmt.Fprintln(cmd.OutOrStdout(), "Verify with: reviewctl session verify <code>")
	return nil
}

// conflictChoice decides how to resolve a conflict, prompting when asked to.
func conflictChoice(cmd *cobra.Command, mode string, existing *session.Session) (session.ConflictChoice, error) {
	switch mode {
	case conflictDiscard:
		return session.DiscardAndRetry, nil
	case conflictContinue:
		return session.ContinueExisting, nil
	}
	if jsonOutput {
		return 0, errors.New("a session is already active: rerun with --on-conflict discard or continue")
	}

	if existing != nil {
		warnLabel.Fprintf(cmd.ErrOrStderr(), "Session %s for %s is still active.\n", existing.SessionID, session.MaskEmail(existing.Email))
	}
	fmt.Fprint(cmd.ErrOrStderr(), "Discard it and create a new one? [y/N] ")
	answer, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && answer == "" {
		return session.ContinueExisting, nil
	}
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return session.DiscardAndRetry, nil
	}
	return session.ContinueExisting, nil
}

func runSessionVerify(cmd *cobra.Command, args []string) error {
	sessionID, _ := cmd.Flags().GetString("session-id")

	client, err := newClient(cmd, review.Options{NoHistory: true})
	if err != nil {
		return err
	}
	defer client.Close()

	s, err := client.Session().VerifyOTP(cmd.Context(), sessionID, strings.TrimSpace(args[0]))
	if err != nil {
		return err
	}
	return printSession(cmd, s, client.Session().State())
}

func runSessionStatus(cmd *cobra.Command, args []string) error {
	client, err := newClient(cmd, review.Options{NoHistory: true})
	if err != nil {
		return err
	}
	defer client.Close()

	s := client.Session().Snapshot()
	if s == nil {
		if jsonOutput {
			printJSON(cmd.OutOrStdout(), map[string]any{"state": client.Session().State()})
		} else {
			fmt.Fprintln(cmd.OutOrStdout(), "No active session. Create one with \"reviewctl session create\"")
		}
		return nil
	}
	return printSession(cmd, s, client.Session().State())
}

func runSessionEnd(cmd *cobra.Command, args []string) error {
	client, err := newClient(cmd, review.Options{NoHistory: true})
	if err != nil {
		return err
	}
	defer client.Close()

	if err := client.Session().EndSession(cmd.Context()); err != nil {
		return err
	}
	if jsonOutput {
		printJSON(cmd.OutOrStdout(), map[string]int{"result": 1})
	} else {
		okLabel.Fprintln(cmd.OutOrStdout(), "✓ "+session.MsgEnded)
	}
	return nil
}

func printSession(cmd *cobra.Command, s *session.Session, state session.State) error {
	now := time.Now()
	if jsonOutput {
		printJSON(cmd.OutOrStdout(), map[string]any{
			"state":            state,
			"session":          s,
			"remainingSeconds": int(s.Remaining(now).Seconds()),
			"analysesLeft":     s.QuotaLeft(),
		})
		return nil
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Session:   %s\n", s.SessionID)
	fmt.Fprintf(w, "State:     %s\n", state)
	fmt.Fprintf(w, "Email:     %s\n", session.MaskEmail(s.Email))
	if s.Verified {
		okLabel.Fprintln(w, "Verified:  yes")
		fmt.Fprintf(w, "Expires:   %s (%s left)\n", s.ExpiresAt.Local().Format("15:04:05"), s.Remaining(now).Round(time.Second))
		fmt.Fprintf(w, "Analyses:  %d of %d used\n", s.AnalysisCount, s.MaxAnalysisCount)
	} else {
		warnLabel.Fprintln(w, "Verified:  no, run \"reviewctl session verify <code>\"")
	}
	return nil
}
