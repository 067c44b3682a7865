package cli

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/craftclass/jury/internal/app"
	"github.com/craftclass/jury/internal/jury"
	"github.com/craftclass/jury/internal/output"
	juryerr "github.com/craftclass/jury/pkg/errors"
)

//nolint:gochecknoglobals // Cobra CLI pattern requires package-level command variables
var (
	aggregateCmd = &cobra.Command{
		Use:   "aggregate <group-id>",
		Short: "Aggregate a group's encrypted scores (admin)",
		Long: `Compute the encrypted weighted average of every score in a group.

The aggregate stays encrypted until it is decrypted with 'jury award decrypt'.`,
		Example: `  jury aggregate 0`,
		Args:    cobra.ExactArgs(1),
		RunE:    runAggregate,
	}

	awardCmd = &cobra.Command{
		Use:   "award",
		Short: "Decrypt and publish group awards",
		Long:  `Decrypt aggregated group scores and publish their award tiers.`,
	}

	awardDecryptCmd = &cobra.Command{
		Use:   "decrypt <group-id>",
		Short: "Decrypt an aggregated group score",
		Long: `Decrypt an aggregated group score for the connected account.

The wallet is asked to sign a decryption permit once; later decryptions
reuse it until it expires.`,
		Example: `  jury award decrypt 0
  jury award decrypt 0 -o json`,
		Args: cobra.ExactArgs(1),
		RunE: runAwardDecrypt,
	}

	awardPublishCmd = &cobra.Command{
		Use:   "publish <group-id> <score>",
		Short: "Publish a decrypted group score (admin)",
		Long: `Publish a group's decrypted score. The contract assigns the tier:

  Gold    85 and above
  Silver  75 and above
  Bronze  65 and above`,
		Example: `  jury award publish 0 82`,
		Args:    cobra.ExactArgs(2),
		RunE:    runAwardPublish,
	}

	resultsCmd = &cobra.Command{
		Use:     "results",
		Short:   "List published awards",
		Long:    `List every group with a published award, its score and tier.`,
		Example: `  jury results`,
		Args:    cobra.NoArgs,
		RunE:    runResults,
	}

	deadlineCmd = &cobra.Command{
		Use:   "deadline",
		Short: "Show or set the scoring deadline",
		Long:  `Show the scoring deadline. Scores are rejected after it passes.`,
		Example: `  jury deadline
  jury deadline set 1767225600`,
		Args: cobra.NoArgs,
		RunE: runDeadlineShow,
	}

	deadlineSetCmd = &cobra.Command{
		Use:   "set <unix-time|RFC3339>",
		Short: "Set the scoring deadline (admin)",
		Long:  `Set the scoring deadline. Accepts a unix timestamp or an RFC3339 time.`,
		Example: `  jury deadline set 1767225600
  jury deadline set 2026-12-31T23:59:59Z`,
		Args: cobra.ExactArgs(1),
		RunE: runDeadlineSet,
	}

	activityCmd = &cobra.Command{
		Use:   "activity",
		Short: "Show recent contract activity",
		Long: `Show the latest contract events: groups created, works registered,
scores submitted, groups aggregated and awards published.`,
		Example: `  jury activity
  jury activity --blocks 5000`,
		Args: cobra.NoArgs,
		RunE: runActivity,
	}

	activityBlocks uint64
)

//nolint:gochecknoinits // Cobra CLI pattern requires init for command registration
func init() {
	rootCmd.AddCommand(aggregateCmd, awardCmd, resultsCmd, deadlineCmd, activityCmd)
	aggregateCmd.GroupID = "jury"
	awardCmd.GroupID = "jury"
	resultsCmd.GroupID = "jury"
	deadlineCmd.GroupID = "jury"
	activityCmd.GroupID = "jury"
	awardCmd.AddCommand(awardDecryptCmd, awardPublishCmd)
	deadlineCmd.AddCommand(deadlineSetCmd)
	activityCmd.Flags().Uint64Var(&activityBlocks, "blocks", jury.DefaultActivityBlocks, "how many recent blocks to scan")
}

func runAggregate(cmd *cobra.Command, args []string) error {
	id, err := parseID("group", args[0])
	if err != nil {
		return err
	}
	return withApp(cmd, writeTimeout, func(ctx context.Context, a *app.App) error {
		c, err := deployed(a)
		if err != nil {
			return err
		}
		if c.GetGroup(ctx, id) == nil {
			return groupNotFound(id)
		}
		tx, err := c.AggregateGroup(ctx, id)
		if err != nil {
			return err
		}

		res := struct {
			GroupID    uint64 `json:"group_id"`
			JudgeCount uint64 `json:"judge_count"`
			txView
		}{GroupID: id, txView: newTxView(tx)}
		if agg := c.GroupAggregate(ctx, id); agg != nil {
			res.JudgeCount = u64(agg.JudgeCount)
		}

		return formatter.Result(res, func(w io.Writer) error {
			output.Successf(w, "Group #%d aggregated from %d judges", id, res.JudgeCount)
			res.write(w)
			return nil
		})
	})
}

type decryptView struct {
	GroupID uint64 `json:"group_id"`
	Score   uint64 `json:"score"`
	Tier    string `json:"tier"`
}

func runAwardDecrypt(cmd *cobra.Command, args []string) error {
	id, err := parseID("group", args[0])
	if err != nil {
		return err
	}
	return withApp(cmd, writeTimeout, func(ctx context.Context, a *app.App) error {
		c, err := ready(ctx, a)
		if err != nil {
			return err
		}
		if agg := c.GroupAggregate(ctx, id); agg == nil || !agg.Aggregated {
			return juryerr.WithSuggestion(
				juryerr.WithDetails(juryerr.ErrInvalidInput, map[string]string{"group": args[0], "reason": "not aggregated"}),
				fmt.Sprintf("run 'jury aggregate %d' first", id),
			)
		}
		score, err := c.DecryptGroupScore(ctx, id)
		if err != nil {
			return err
		}

		v := decryptView{GroupID: id, Score: u64(score)}
		v.Tier = jury.TierFor(uint(v.Score)).String()

		return formatter.Result(v, func(w io.Writer) error {
			out(w, "Group #%d score: %d (%s)\n", id, v.Score, v.Tier)
			out(w, "  publish with: jury award publish %d %d\n", id, v.Score)
			return nil
		})
	})
}

func runAwardPublish(cmd *cobra.Command, args []string) error {
	id, err := parseID("group", args[0])
	if err != nil {
		return err
	}
	raw, err := strconv.ParseUint(args[1], 10, 8)
	if err != nil || raw > jury.MaxScore {
		return juryerr.WithSuggestion(
			juryerr.WithDetails(juryerr.ErrInvalidScore, map[string]string{"score": args[1]}),
			"the score must be between 0 and 100",
		)
	}
	score := uint8(raw)

	return withApp(cmd, writeTimeout, func(ctx context.Context, a *app.App) error {
		c, err := deployed(a)
		if err != nil {
			return err
		}
		tx, err := c.PublishAward(ctx, id, score)
		if err != nil {
			return err
		}

		res := struct {
			awardView
			GroupID uint64 `json:"group_id"`
			txView
		}{GroupID: id, txView: newTxView(tx)}
		res.Score = score
		res.Tier = jury.TierFor(uint(score)).String()
		if award := c.PublishedAward(ctx, id); award != nil && award.Published {
			res.Tier = award.Tier.String()
		}

		return formatter.Result(res, func(w io.Writer) error {
			output.Successf(w, "Group #%d awarded %s (%d)", id, res.Tier, score)
			res.write(w)
			return nil
		})
	})
}

type resultView struct {
	GroupID uint64 `json:"group_id"`
	Name    string `json:"name"`
	Works   int    `json:"works"`
	Score   uint8  `json:"score"`
	Tier    string `json:"tier"`
}

func runResults(cmd *cobra.Command, _ []string) error {
	return withApp(cmd, readTimeout, func(ctx context.Context, a *app.App) error {
		c, err := deployed(a)
		if err != nil {
			return err
		}
		var views []resultView
		for _, g := range c.ListGroups(ctx) {
			id := u64(g.ID)
			award := c.PublishedAward(ctx, id)
			if award == nil || !award.Published {
				continue
			}
			views = append(views, resultView{
				GroupID: id,
				Name:    groupName(g),
				Works:   len(g.WorkIDs),
				Score:   award.Score,
				Tier:    award.Tier.String(),
			})
		}
		if views == nil {
			views = []resultView{}
		}

		return formatter.Result(views, func(w io.Writer) error {
			if len(views) == 0 {
				outln(w, "No awards published yet")
				return nil
			}
			tbl := output.NewTable("GROUP", "NAME", "WORKS", "SCORE", "TIER")
			tbl.AlignRight(0, 2, 3)
			for _, v := range views {
				tbl.AddRow(strconv.FormatUint(v.GroupID, 10), v.Name, strconv.Itoa(v.Works), strconv.Itoa(int(v.Score)), v.Tier)
			}
			return tbl.Render(w)
		})
	})
}

type deadlineView struct {
	Deadline uint64 `json:"deadline"`
	Time     string `json:"time,omitempty"`
	Passed   bool   `json:"passed"`
}

func newDeadlineView(ts uint64, now time.Time) deadlineView {
	v := deadlineView{Deadline: ts}
	if ts == 0 {
		return v
	}
	t := time.Unix(int64(ts), 0).UTC() //nolint:gosec // unix seconds fit in int64
	v.Time = t.Format(time.RFC3339)
	v.Passed = now.After(t)
	return v
}

func (v deadlineView) WriteText(w io.Writer) error {
	switch {
	case v.Deadline == 0:
		outln(w, "No scoring deadline set")
	case v.Passed:
		out(w, "Scoring closed at %s\n", v.Time)
	default:
		out(w, "Scoring open until %s\n", v.Time)
	}
	return nil
}

// parseDeadline accepts unix seconds or an RFC3339 time.
func parseDeadline(arg string) (uint64, error) {
	if ts, err := strconv.ParseUint(arg, 10, 64); err == nil {
		return ts, nil
	}
	t, err := time.Parse(time.RFC3339, arg)
	if err != nil || t.Unix() < 0 {
		return 0, juryerr.WithSuggestion(
			juryerr.WithDetails(juryerr.ErrInvalidInput, map[string]string{"deadline": arg}),
			"use unix seconds or an RFC3339 time such as 2026-12-31T23:59:59Z",
		)
	}
	return uint64(t.Unix()), nil
}

func runDeadlineShow(cmd *cobra.Command, _ []string) error {
	return withApp(cmd, readTimeout, func(ctx context.Context, a *app.App) error {
		c, err := deployed(a)
		if err != nil {
			return err
		}
		return formatter.Print(newDeadlineView(c.ScoringDeadline(ctx), time.Now()))
	})
}

func runDeadlineSet(cmd *cobra.Command, args []string) error {
	ts, err := parseDeadline(args[0])
	if err != nil {
		return err
	}
	return withApp(cmd, writeTimeout, func(ctx context.Context, a *app.App) error {
		c, err := deployed(a)
		if err != nil {
			return err
		}
		tx, err := c.SetScoringDeadline(ctx, ts)
		if err != nil {
			return err
		}

		res := struct {
			deadlineView
			txView
		}{newDeadlineView(ts, time.Now()), newTxView(tx)}

		return formatter.Result(res, func(w io.Writer) error {
			output.Successf(w, "Scoring deadline set to %s", res.Time)
			res.txView.write(w)
			return nil
		})
	})
}

func runActivity(cmd *cobra.Command, _ []string) error {
	return withApp(cmd, readTimeout, func(ctx context.Context, a *app.App) error {
		c, err := deployed(a)
		if err != nil {
			return err
		}
		events := c.RecentActivity(ctx, activityBlocks)
		if events == nil {
			events = []jury.Event{}
		}

		return formatter.Result(events, func(w io.Writer) error {
			if len(events) == 0 {
				outln(w, "No recent activity")
				return nil
			}
			writeEvents(w, events)
			return nil
		})
	})
}

func writeEvents(w io.Writer, events []jury.Event) {
	for _, e := range events {
		when := "#" + strconv.FormatUint(e.BlockNumber, 10)
		if !e.Time.IsZero() {
			when = e.Time.UTC().Format(time.DateTime)
		}
		out(w, "%-19s  %s\n", when, e.Summary())
	}
}
