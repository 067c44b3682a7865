package cli

import (
	"context"
	"io"
	"math/big"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/craftclass/jury/internal/app"
	"github.com/craftclass/jury/internal/jury"
	"github.com/craftclass/jury/internal/output"
	juryerr "github.com/craftclass/jury/pkg/errors"
)

//nolint:gochecknoglobals // Cobra CLI pattern requires package-level command variables
var (
	scoreCmd = &cobra.Command{
		Use:   "score",
		Short: "Submit and check encrypted scores",
		Long: `Judges score works on three criteria from 0 to 100.

The sub-scores are encrypted on this machine before they are sent; only
the weighted group aggregate is ever decrypted.

Weights: craftsmanship 40%, detail 35%, originality 25%.`,
	}

	scoreSubmitCmd = &cobra.Command{
		Use:   "submit <work-id>",
		Short: "Encrypt and submit a score for a work",
		Long: `Encrypt the three sub-scores and submit them for a work.

With --preview only the weighted score is printed; nothing is sent.`,
		Example: `  jury score submit 0 --craftsmanship 80 --detail 70 --originality 90
  jury score submit 0 -c 80 -d 70 -r 90 --preview`,
		Args: cobra.ExactArgs(1),
		RunE: runScoreSubmit,
	}

	scoreCheckCmd = &cobra.Command{
		Use:   "check <work-id>",
		Short: "Check whether a judge has scored a work",
		Long: `Check whether a judge has scored a work. Without --judge the
connected account is checked.`,
		Example: `  jury score check 0
  jury score check 0 --judge 0x70997970C51812dc3A010C7d01b50e0d17dc79C8`,
		Args: cobra.ExactArgs(1),
		RunE: runScoreCheck,
	}

	scoreCraftsmanship uint16
	scoreDetail        uint16
	scoreOriginality   uint16
	scorePreview       bool
	scoreJudge         string
)

//nolint:gochecknoinits // Cobra CLI pattern requires init for command registration
func init() {
	rootCmd.AddCommand(scoreCmd)
	scoreCmd.GroupID = "jury"
	scoreCmd.AddCommand(scoreSubmitCmd, scoreCheckCmd)

	f := scoreSubmitCmd.Flags()
	f.Uint16VarP(&scoreCraftsmanship, "craftsmanship", "c", 0, "craftsmanship score, 0-100 (required)")
	f.Uint16VarP(&scoreDetail, "detail", "d", 0, "detail score, 0-100 (required)")
	f.Uint16VarP(&scoreOriginality, "originality", "r", 0, "originality score, 0-100 (required)")
	f.BoolVar(&scorePreview, "preview", false, "print the weighted score without submitting")
	_ = scoreSubmitCmd.MarkFlagRequired("craftsmanship")
	_ = scoreSubmitCmd.MarkFlagRequired("detail")
	_ = scoreSubmitCmd.MarkFlagRequired("originality")

	scoreCheckCmd.Flags().StringVar(&scoreJudge, "judge", "", "judge address (default: connected account)")
}

type scoreView struct {
	WorkID   uint64     `json:"work_id"`
	Score    jury.Score `json:"score"`
	Weighted float64    `json:"weighted"`
	Preview  bool       `json:"preview,omitempty"`
	*txView
}

func runScoreSubmit(cmd *cobra.Command, args []string) error {
	workID, err := parseID("work", args[0])
	if err != nil {
		return err
	}
	score := jury.Score{Craftsmanship: scoreCraftsmanship, Detail: scoreDetail, Originality: scoreOriginality}
	if err := score.Validate(); err != nil {
		return juryerr.WithSuggestion(err, "each sub-score must be between 0 and 100")
	}
	v := scoreView{WorkID: workID, Score: score, Weighted: jury.WeightedPreview(score)}

	if scorePreview {
		v.Preview = true
		return formatter.Result(v, func(w io.Writer) error {
			out(w, "Weighted score: %.2f / 100\n", v.Weighted)
			out(w, "  craftsmanship %d x 0.40, detail %d x 0.35, originality %d x 0.25\n",
				score.Craftsmanship, score.Detail, score.Originality)
			return nil
		})
	}

	return withApp(cmd, writeTimeout, func(ctx context.Context, a *app.App) error {
		c, err := deployed(a)
		if err != nil {
			return err
		}
		if c.GetWork(ctx, workID) == nil {
			return workNotFound(workID)
		}
		if c.HasScored(ctx, workID) {
			return juryerr.WithSuggestion(
				juryerr.WithDetails(juryerr.ErrInvalidInput, map[string]string{"work": args[0], "reason": "already scored"}),
				"you have already scored this work",
			)
		}

		c, err = ready(ctx, a)
		if err != nil {
			return err
		}
		tx, err := c.SubmitScore(ctx, workID, score)
		if err != nil {
			return err
		}
		tv := newTxView(tx)
		v.txView = &tv

		return formatter.Result(v, func(w io.Writer) error {
			output.Successf(w, "Encrypted score submitted for work #%d", workID)
			out(w, "  weighted preview: %.2f / 100\n", v.Weighted)
			tv.write(w)
			return nil
		})
	})
}

func runScoreCheck(cmd *cobra.Command, args []string) error {
	workID, err := parseID("work", args[0])
	if err != nil {
		return err
	}
	return withApp(cmd, readTimeout, func(ctx context.Context, a *app.App) error {
		c, err := deployed(a)
		if err != nil {
			return err
		}
		judge := c.Binding().Account()
		if scoreJudge != "" {
			if judge, err = parseAddress(scoreJudge); err != nil {
				return err
			}
		}
		scored, err := c.Binding().HasJudgeScoredWork(ctx, new(big.Int).SetUint64(workID), judge)
		if err != nil {
			return err
		}

		res := struct {
			WorkID uint64 `json:"work_id"`
			Judge  string `json:"judge"`
			Scored bool   `json:"scored"`
			Judges uint64 `json:"judges"`
		}{workID, judge.Hex(), scored, c.WorkJudgeCount(ctx, workID)}

		return formatter.Result(res, func(w io.Writer) error {
			verb := "has not scored"
			if scored {
				verb = "has scored"
			}
			out(w, "%s %s work #%d\n", jury.ShortAddress(judge), verb, workID)
			out(w, "  judges so far: %s\n", strconv.FormatUint(res.Judges, 10))
			return nil
		})
	})
}
