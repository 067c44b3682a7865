package cli

import (
	"context"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/craftclass/jury/internal/app"
	"github.com/craftclass/jury/internal/jury"
	"github.com/craftclass/jury/internal/output"
	juryerr "github.com/craftclass/jury/pkg/errors"
)

//nolint:gochecknoglobals // Cobra CLI pattern requires package-level command variables
var (
	workCmd = &cobra.Command{
		Use:   "work",
		Short: "Manage craft works",
		Long:  `Register craft works into groups and inspect them.`,
	}

	workRegisterCmd = &cobra.Command{
		Use:   "register <title>",
		Short: "Register a work in a group (admin)",
		Long: `Register a work in an existing group.

Categories: leather, wood, mixed.`,
		Example: `  jury work register "Saddle bag" --category leather --group 0`,
		Args:    cobra.MinimumNArgs(1),
		RunE:    runWorkRegister,
	}

	workShowCmd = &cobra.Command{
		Use:     "show <work-id>",
		Short:   "Show a work",
		Long:    `Show a work, its judge count and whether you have scored it.`,
		Example: `  jury work show 0`,
		Args:    cobra.ExactArgs(1),
		RunE:    runWorkShow,
	}

	workListCmd = &cobra.Command{
		Use:     "list",
		Short:   "List works",
		Long:    `List every registered work across all groups.`,
		Example: `  jury work list`,
		Args:    cobra.NoArgs,
		RunE:    runWorkList,
	}

	workCategory string
	workGroup    uint64
)

//nolint:gochecknoinits // Cobra CLI pattern requires init for command registration
func init() {
	rootCmd.AddCommand(workCmd)
	workCmd.GroupID = "jury"
	workCmd.AddCommand(workRegisterCmd, workShowCmd, workListCmd)

	workRegisterCmd.Flags().StringVarP(&workCategory, "category", "c", "", "work category: leather, wood, mixed (required)")
	workRegisterCmd.Flags().Uint64VarP(&workGroup, "group", "g", 0, "group id to register into (required)")
	_ = workRegisterCmd.MarkFlagRequired("category")
	_ = workRegisterCmd.MarkFlagRequired("group")
}

type workView struct {
	ID         string `json:"id"`
	Title      string `json:"title"`
	Category   string `json:"category"`
	GroupID    string `json:"group_id"`
	Registered string `json:"registered"`
	Judges     uint64 `json:"judges"`
	Scored     bool   `json:"scored_by_you"`
}

func newWorkView(ctx context.Context, c *jury.Client, w *jury.Work) workView {
	id := u64(w.ID)
	return workView{
		ID:         bigString(w.ID),
		Title:      w.Title,
		Category:   w.Category.String(),
		GroupID:    bigString(w.GroupID),
		Registered: unixTime(w.Timestamp),
		Judges:     c.WorkJudgeCount(ctx, id),
		Scored:     c.HasScored(ctx, id),
	}
}

func worksTable(views []workView) *output.Table {
	tbl := output.NewTable("ID", "TITLE", "CATEGORY", "GROUP", "JUDGES", "SCORED")
	tbl.AlignRight(0, 3, 4)
	for _, v := range views {
		scored := ""
		if v.Scored {
			scored = "yes"
		}
		tbl.AddRow(v.ID, v.Title, v.Category, v.GroupID, strconv.FormatUint(v.Judges, 10), scored)
	}
	return tbl
}

func groupNotFound(id uint64) error {
	return juryerr.WithDetails(juryerr.ErrNotFound, map[string]string{"group": strconv.FormatUint(id, 10)})
}

func workNotFound(id uint64) error {
	return juryerr.WithDetails(juryerr.ErrNotFound, map[string]string{"work": strconv.FormatUint(id, 10)})
}

func runWorkRegister(cmd *cobra.Command, args []string) error {
	title := strings.TrimSpace(strings.Join(args, " "))
	category, err := jury.ParseCategory(workCategory)
	if err != nil {
		return juryerr.WithSuggestion(err, "use one of: leather, wood, mixed")
	}
	return withApp(cmd, writeTimeout, func(ctx context.Context, a *app.App) error {
		c, err := deployed(a)
		if err != nil {
			return err
		}
		id, tx, err := c.RegisterWork(ctx, title, category, workGroup)
		if err != nil {
			return err
		}

		res := struct {
			WorkID   string `json:"work_id"`
			Title    string `json:"title"`
			Category string `json:"category"`
			GroupID  uint64 `json:"group_id"`
			txView
		}{idString(id), title, category.String(), workGroup, newTxView(tx)}

		return formatter.Result(res, func(w io.Writer) error {
			output.Successf(w, "Work #%s %q (%s) registered in group #%d", res.WorkID, title, res.Category, workGroup)
			res.write(w)
			return nil
		})
	})
}

func runWorkShow(cmd *cobra.Command, args []string) error {
	id, err := parseID("work", args[0])
	if err != nil {
		return err
	}
	return withApp(cmd, readTimeout, func(ctx context.Context, a *app.App) error {
		c, err := deployed(a)
		if err != nil {
			return err
		}
		work := c.GetWork(ctx, id)
		if work == nil {
			return workNotFound(id)
		}
		v := newWorkView(ctx, c, work)

		return formatter.Result(v, func(w io.Writer) error {
			out(w, "Work #%s: %s\n", v.ID, v.Title)
			out(w, "  category:   %s\n", v.Category)
			out(w, "  group:      #%s\n", v.GroupID)
			out(w, "  registered: %s\n", v.Registered)
			out(w, "  judges:     %d\n", v.Judges)
			if v.Scored {
				outln(w, "  You have scored this work")
			}
			return nil
		})
	})
}

func runWorkList(cmd *cobra.Command, _ []string) error {
	return withApp(cmd, readTimeout, func(ctx context.Context, a *app.App) error {
		c, err := deployed(a)
		if err != nil {
			return err
		}
		works := c.ListWorks(ctx)
		views := make([]workView, 0, len(works))
		for _, work := range works {
			views = append(views, newWorkView(ctx, c, work))
		}

		return formatter.Result(views, func(w io.Writer) error {
			if len(views) == 0 {
				outln(w, "No works yet")
				return nil
			}
			return worksTable(views).Render(w)
		})
	})
}
