package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"math-mentor/api/internal/app"
	"math-mentor/api/internal/types"
)

var (
	casesLimit      int
	feedbackComment string
)

var casesCmd = &cobra.Command{
	Use:   "cases",
	Short: "Inspect solved cases and record reviewer feedback",
}

var casesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the most recent cases",
	Args:  cobra.NoArgs,
	RunE: withMemory(func(a *app.App, args []string) error {
		for _, r := range a.Memory.Recent(casesLimit) {
			fmt.Printf("%s  %s  %-14s %-9s %s → %s\n",
				r.ID, r.CreatedAt.Format("2006-01-02 15:04"), r.Parsed.Topic, r.FeedbackState(), r.Parsed.Text, r.Answer)
		}
		return nil
	}),
}

var casesShowCmd = &cobra.Command{
	Use:   "show [id]",
	Short: "Print one case as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: withMemory(func(a *app.App, args []string) error {
		rec, ok := a.Memory.Get(args[0])
		if !ok {
			return fmt.Errorf("case %s not found", args[0])
		}
		return printJSON(rec)
	}),
}

var casesStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show feedback counts",
	Args:  cobra.NoArgs,
	RunE: withMemory(func(a *app.App, args []string) error {
		st := a.Memory.Stats()
		fmt.Printf("total %d  correct %d  incorrect %d  pending %d\n", st.Total, st.Correct, st.Incorrect, st.Pending)
		return nil
	}),
}

var casesFeedbackCmd = &cobra.Command{
	Use:   "feedback [id] [correct|incorrect]",
	Short: "Record reviewer feedback for a case",
	Long: `Marks a case correct or incorrect. For incorrect cases pass the corrected
problem text as --comment: it becomes a correction pattern applied to future
inputs of the same kind.`,
	Args: cobra.ExactArgs(2),
	RunE: withMemory(func(a *app.App, args []string) error {
		fb, ok := types.ParseFeedback(args[1])
		if !ok || fb == types.FeedbackPending {
			return errors.New("feedback must be correct or incorrect")
		}
		ctx, cancel := signalContext()
		defer cancel()
		found, err := a.Memory.SetFeedback(ctx, args[0], fb, feedbackComment)
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("case %s not found", args[0])
		}
		fmt.Printf("%s marked %s\n", args[0], fb)
		return nil
	}),
}

func init() {
	casesListCmd.Flags().IntVarP(&casesLimit, "limit", "n", 20, "Number of cases (0 = all)")
	casesFeedbackCmd.Flags().StringVar(&feedbackComment, "comment", "", "Reviewer comment or corrected text")
	casesCmd.AddCommand(casesListCmd, casesShowCmd, casesStatsCmd, casesFeedbackCmd)
	rootCmd.AddCommand(casesCmd)
}

func withMemory(fn func(a *app.App, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()
		a, err := app.OpenMemory(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer a.Close()
		return fn(a, args)
	}
}
