package cmd

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	cliconfig "ticket-reconciliation-service/cmd/reconciler/config"
	"ticket-reconciliation-service/internal/models"
	"ticket-reconciliation-service/internal/storage"
	"ticket-reconciliation-service/internal/triage"
	"ticket-reconciliation-service/pkg/errors"
)

var (
	reviewBatch    string
	reviewer       string
	reviewNote     string
	reviewOverride bool
)

var headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86"))

var reviewCmd = &cobra.Command{
	Use:   "review",
	Short: "Work the manual review queue",
	Long: `Review lists outcomes that need a human decision and records accept or
reject verdicts. All review commands require --db pointing at the database
written by 'reconcile --db'.`,
}

var reviewListCmd = &cobra.Command{
	Use:   "list",
	Short: "List outcomes awaiting review",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd.Context(), func(store *storage.SQLiteStore, queue *triage.ReviewQueue) error {
			var (
				outcomes []*models.MatchOutcome
				err      error
			)
			if reviewBatch != "" {
				outcomes, err = store.ListByBatch(cmd.Context(), reviewBatch)
			} else {
				outcomes, err = queue.Pending(cmd.Context())
			}
			if err != nil {
				return err
			}
			printOutcomes(cmd.OutOrStdout(), outcomes)
			return nil
		})
	},
}

var reviewAcceptCmd = &cobra.Command{
	Use:   "accept <outcome-id>",
	Short: "Accept a match",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return decide(cmd, args[0], true)
	},
}

var reviewRejectCmd = &cobra.Command{
	Use:   "reject <outcome-id>",
	Short: "Reject a match",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return decide(cmd, args[0], false)
	},
}

var reviewEscalateCmd = &cobra.Command{
	Use:   "escalate",
	Short: "Flag review items older than the escalation age",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd.Context(), func(_ *storage.SQLiteStore, queue *triage.ReviewQueue) error {
			escalated, err := queue.Escalate(cmd.Context(), time.Now())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Escalated %d outcome(s)\n", len(escalated))
			if len(escalated) > 0 {
				printOutcomes(cmd.OutOrStdout(), escalated)
			}
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(reviewCmd)
	reviewCmd.AddCommand(reviewListCmd, reviewAcceptCmd, reviewRejectCmd, reviewEscalateCmd)

	reviewListCmd.Flags().StringVar(&reviewBatch, "batch", "", "list every outcome of a batch instead of the pending queue")

	for _, c := range []*cobra.Command{reviewAcceptCmd, reviewRejectCmd} {
		c.Flags().StringVar(&reviewer, "reviewer", "", "name of the reviewer (required)")
		c.Flags().StringVar(&reviewNote, "note", "", "note appended to the outcome reason")
		c.Flags().BoolVar(&reviewOverride, "override", false, "allow changing an auto-accepted outcome")
		c.MarkFlagRequired("reviewer")
	}
}

func decide(cmd *cobra.Command, id string, accept bool) error {
	return withStore(cmd.Context(), func(_ *storage.SQLiteStore, queue *triage.ReviewQueue) error {
		outcome, err := queue.Decide(cmd.Context(), triage.Decision{
			OutcomeID: id,
			Accept:    accept,
			Reviewer:  reviewer,
			Override:  reviewOverride,
			Note:      reviewNote,
			At:        time.Now(),
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Outcome %s is now %s\n", outcome.ID, outcome.State)
		return nil
	})
}

// withStore opens the --db store and hands a review queue over it to fn
func withStore(ctx context.Context, fn func(*storage.SQLiteStore, *triage.ReviewQueue) error) error {
	path := viper.GetString("db")
	if path == "" {
		return errors.ConfigurationError(errors.CodeMissingConfig, "db", nil, nil).
			WithSuggestion("Pass --db with the database written by 'reconcile --db'")
	}

	cfg, err := cliconfig.CreatePipelineConfig(viper.GetString("profile"), viper.GetViper())
	if err != nil {
		return err
	}

	store, err := storage.Open(ctx, path)
	if err != nil {
		return err
	}
	defer store.Close()

	return fn(store, triage.NewReviewQueue(store, cfg))
}

func printOutcomes(w io.Writer, outcomes []*models.MatchOutcome) {
	if len(outcomes) == 0 {
		fmt.Fprintln(w, "No outcomes")
		return
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, headerStyle.Render("ID")+"\tTICKET\tIMAGE\tCONFIDENCE\tSTATE\tAGE\tREASON")
	now := time.Now()
	for _, o := range outcomes {
		flag := ""
		if o.Flagged {
			flag = " *"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%.1f%%\t%s%s\t%s\t%s\n",
			o.ID, o.TicketID, orDash(o.ImageID), o.Confidence, o.State, flag,
			now.Sub(o.CreatedAt).Truncate(time.Minute), o.Reason)
	}
	tw.Flush()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
