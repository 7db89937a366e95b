package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nvandessel/skillroute/internal/adjust"
	"github.com/nvandessel/skillroute/internal/detector"
	"github.com/nvandessel/skillroute/internal/models"
)

func newRecommendCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "recommend <request...>",
		Short: "Recommend a tool and command for a request",
		Long: `Classify a natural-language request and print the recommended tool,
skills, and command, adjusted by past satisfaction.

The request is logged as a conversation so feedback can be attached to it.
Use --peek to classify without logging or adjusting.

Examples:
  skillroute recommend summarize this pdf report
  skillroute recommend --peek "refactor the parser"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			peek, _ := cmd.Flags().GetBool("peek")
			request := strings.Join(args, " ")

			router, _, logger, err := openRouter(cmd, nil)
			if err != nil {
				return err
			}
			defer closeRouter(router, logger)

			out := cmd.OutOrStdout()
			if peek {
				rec, err := router.Peek(request)
				if err != nil {
					return err
				}
				if jsonOut {
					return writeJSON(out, rec)
				}
				printRecommendation(out, rec, nil)
				return nil
			}

			adj, err := router.Adaptive(cmd.Context(), request)
			if err != nil {
				return err
			}
			if jsonOut {
				return writeJSON(out, adj)
			}
			printRecommendation(out, adj.Recommendation, adj.Rules)
			return nil
		},
	}

	cmd.Flags().Bool("peek", false, "Classify without logging a conversation")
	return cmd
}

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run <request...>",
		Short: "Recommend a command and execute it",
		Long: `Produce an adaptive recommendation and execute its command. If the
primary command fails, the alternatives are tried in order.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			request := strings.Join(args, " ")

			router, _, logger, err := openRouter(cmd, nil)
			if err != nil {
				return err
			}
			defer closeRouter(router, logger)

			res, err := router.Run(cmd.Context(), request)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if jsonOut {
				return writeJSON(out, res)
			}
			printRecommendation(out, res.Recommendation, res.Rules)
			fmt.Fprintln(out)

			execution := res.Execution
			if execution.UsedAlternative >= 0 {
				fmt.Fprintf(out, "Primary failed; used alternative %d\n", execution.UsedAlternative+1)
			}
			fmt.Fprintf(out, "$ %s\n", execution.Command)
			if execution.Stdout != "" {
				fmt.Fprint(out, execution.Stdout)
			}
			if execution.Stderr != "" {
				fmt.Fprint(cmd.ErrOrStderr(), execution.Stderr)
			}
			if !execution.OK() {
				return fmt.Errorf("command failed with exit code %d", execution.ReturnCode)
			}
			return nil
		},
	}
}

func newFeedbackCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "feedback <conversation-id> <score> [text...]",
		Short: "Rate a recommendation from 1 (bad) to 5 (great)",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			id := args[0]
			score, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("score must be an integer from 1 to 5, got %q", args[1])
			}
			text := strings.Join(args[2:], " ")

			router, _, logger, err := openRouter(cmd, nil)
			if err != nil {
				return err
			}
			defer closeRouter(router, logger)

			if err := router.SubmitFeedback(cmd.Context(), id, score, text); err != nil {
				return err
			}

			if jsonOut {
				return writeJSON(cmd.OutOrStdout(), map[string]interface{}{
					"conversation_id": id,
					"score":           score,
					"recorded":        true,
				})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Recorded score %d for %s\n", score, id)
			return nil
		},
	}
}

func newFollowUpCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "follow-up <conversation-id> <message...>",
		Short: "Record what the user said after a recommendation",
		Long: `Record a follow-up message for a conversation. Satisfaction is
inferred from the message unless the conversation was already rated.`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			id := args[0]
			message := strings.Join(args[1:], " ")

			router, _, logger, err := openRouter(cmd, nil)
			if err != nil {
				return err
			}
			defer closeRouter(router, logger)

			// The buffer does not outlive this process, so analyze now.
			outcome, err := router.FollowUp(cmd.Context(), id, message, true)
			if err != nil {
				return err
			}

			if jsonOut {
				return writeJSON(cmd.OutOrStdout(), outcome)
			}
			switch outcome.Status {
			case detector.StatusScored:
				fmt.Fprintf(cmd.OutOrStdout(), "Inferred score %d for %s\n", outcome.Score, id)
			default:
				fmt.Fprintf(cmd.OutOrStdout(), "No score inferred for %s (%s)\n", id, outcome.Status)
			}
			return nil
		},
	}
	return cmd
}

func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent conversations and satisfaction",
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			limit, _ := cmd.Flags().GetInt("limit")
			unsatisfied, _ := cmd.Flags().GetBool("unsatisfied")
			showStats, _ := cmd.Flags().GetBool("stats")
			if limit <= 0 {
				return fmt.Errorf("--limit must be positive, got %d", limit)
			}

			router, _, logger, err := openRouter(cmd, nil)
			if err != nil {
				return err
			}
			defer closeRouter(router, logger)

			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			if showStats {
				stats, err := router.Stats(ctx)
				if err != nil {
					return err
				}
				if jsonOut {
					return writeJSON(out, stats)
				}
				fmt.Fprintf(out, "Conversations: %d (%d rated, %d auto-detected, %d unsatisfied)\n",
					stats.Conversations, stats.Rated, stats.AutoDetected, stats.Unsatisfied)
				if stats.Average != nil {
					fmt.Fprintf(out, "Average satisfaction: %.2f\n", *stats.Average)
				} else {
					fmt.Fprintln(out, "Average satisfaction: n/a")
				}
				fmt.Fprintf(out, "Trend: %+.2f over the last %d scores\n", stats.History.Trend, stats.History.Window)
				fmt.Fprintf(out, "Classifier: %s\n", stats.Classifier)
				return nil
			}

			var convs []models.Conversation
			if unsatisfied {
				convs, err = router.Store().UnsatisfiedConversations(ctx)
				if len(convs) > limit {
					convs = convs[:limit]
				}
			} else {
				convs, err = router.Store().RecentConversations(ctx, limit)
			}
			if err != nil {
				return fmt.Errorf("failed to read history: %w", err)
			}

			if jsonOut {
				if convs == nil {
					convs = []models.Conversation{}
				}
				return writeJSON(out, map[string]interface{}{
					"conversations": convs,
					"count":         len(convs),
				})
			}
			if len(convs) == 0 {
				fmt.Fprintln(out, "No conversations found.")
				return nil
			}
			for _, c := range convs {
				score := "-"
				if c.SatisfactionScore != nil {
					score = strconv.Itoa(*c.SatisfactionScore)
					if c.FeedbackSource == models.FeedbackAuto {
						score += " (auto)"
					}
				}
				fmt.Fprintf(out, "%s  %s  %-12s  score %s\n  %s\n",
					c.ID, c.Timestamp.Local().Format("2006-01-02 15:04"), c.Tool, score, c.UserInput)
			}
			return nil
		},
	}

	cmd.Flags().Int("limit", 10, "Maximum conversations to show")
	cmd.Flags().Bool("unsatisfied", false, "Only show conversations scored 2 or lower, or not yet scored")
	cmd.Flags().Bool("stats", false, "Show aggregate satisfaction instead of conversations")
	return cmd
}

func printRecommendation(w io.Writer, rec models.Recommendation, rules []adjust.Rule) {
	if rec.ConversationID != "" {
		fmt.Fprintf(w, "Conversation: %s\n", rec.ConversationID)
	}
	fmt.Fprintf(w, "Tool: %s (confidence %.2f)\n", rec.Primary.Tool, rec.Confidence)
	if len(rec.Primary.Skills) > 0 {
		fmt.Fprintf(w, "Skills: %s\n", strings.Join(rec.Primary.Skills, ", "))
	}
	fmt.Fprintf(w, "Command: %s\n", rec.Primary.Command)
	if rec.Explanation != "" {
		fmt.Fprintf(w, "Why: %s\n", rec.Explanation)
	}
	if rec.ConfidenceExplanation != "" {
		fmt.Fprintf(w, "    %s\n", rec.ConfidenceExplanation)
	}
	if len(rules) > 0 {
		names := make([]string, len(rules))
		for i, r := range rules {
			names[i] = string(r)
		}
		fmt.Fprintf(w, "Adjusted by: %s\n", strings.Join(names, ", "))
	}
	if len(rec.Alternatives) > 0 {
		fmt.Fprintln(w, "Alternatives:")
		for i, alt := range rec.Alternatives {
			fmt.Fprintf(w, "  %d. %s (%.2f): %s\n", i+1, alt.Tool, alt.Confidence, alt.Command)
			if alt.Reason != "" {
				fmt.Fprintf(w, "     %s\n", alt.Reason)
			}
		}
	}
}
