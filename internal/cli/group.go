package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/craftclass/jury/internal/app"
	"github.com/craftclass/jury/internal/jury"
	"github.com/craftclass/jury/internal/output"
)

//nolint:gochecknoglobals // Cobra CLI pattern requires package-level command variables
var (
	groupCmd = &cobra.Command{
		Use:   "group",
		Short: "Manage work groups",
		Long:  `Create and inspect the groups works are scored in.`,
	}

	groupCreateCmd = &cobra.Command{
		Use:     "create <name>",
		Short:   "Create a group (admin)",
		Long:    `Create a new group. The new group id is printed.`,
		Example: `  jury group create "Spring Leather"`,
		Args:    cobra.MinimumNArgs(1),
		RunE:    runGroupCreate,
	}

	groupListCmd = &cobra.Command{
		Use:     "list",
		Short:   "List groups",
		Long:    `List every group with its work count, judge count and status.`,
		Example: `  jury group list`,
		Args:    cobra.NoArgs,
		RunE:    runGroupList,
	}

	groupShowCmd = &cobra.Command{
		Use:     "show <group-id>",
		Short:   "Show a group with its works and result",
		Long:    `Show a group, its registered works and its published award.`,
		Example: `  jury group show 0`,
		Args:    cobra.ExactArgs(1),
		RunE:    runGroupShow,
	}
)

//nolint:gochecknoinits // Cobra CLI pattern requires init for command registration
func init() {
	rootCmd.AddCommand(groupCmd)
	groupCmd.GroupID = "jury"
	groupCmd.AddCommand(groupCreateCmd, groupListCmd, groupShowCmd)
}

// groupName falls back to a numbered label for unnamed groups.
func groupName(g *jury.Group) string {
	if g.Name != "" {
		return g.Name
	}
	return "Group " + bigString(g.ID)
}

type groupView struct {
	ID         uint64     `json:"id"`
	Name       string     `json:"name"`
	WorkIDs    []string   `json:"work_ids"`
	Aggregated bool       `json:"aggregated"`
	JudgeCount uint64     `json:"judge_count"`
	Award      *awardView `json:"award,omitempty"`
	Works      []workView `json:"works,omitempty"`
}

type awardView struct {
	Score uint8  `json:"score"`
	Tier  string `json:"tier"`
}

func newGroupView(ctx context.Context, c *jury.Client, g *jury.Group) groupView {
	id := u64(g.ID)
	v := groupView{ID: id, Name: groupName(g), WorkIDs: []string{}}
	for _, w := range g.WorkIDs {
		v.WorkIDs = append(v.WorkIDs, bigString(w))
	}
	if agg := c.GroupAggregate(ctx, id); agg != nil {
		v.Aggregated = agg.Aggregated
		v.JudgeCount = u64(agg.JudgeCount)
	}
	if award := c.PublishedAward(ctx, id); award != nil && award.Published {
		v.Award = &awardView{Score: award.Score, Tier: award.Tier.String()}
	}
	return v
}

func runGroupCreate(cmd *cobra.Command, args []string) error {
	name := strings.TrimSpace(strings.Join(args, " "))
	return withApp(cmd, writeTimeout, func(ctx context.Context, a *app.App) error {
		c, err := deployed(a)
		if err != nil {
			return err
		}
		id, tx, err := c.CreateGroup(ctx, name)
		if err != nil {
			return err
		}

		res := struct {
			GroupID string `json:"group_id"`
			Name    string `json:"name"`
			txView
		}{idString(id), name, newTxView(tx)}

		return formatter.Result(res, func(w io.Writer) error {
			output.Successf(w, "Group #%s %q created", res.GroupID, name)
			res.write(w)
			return nil
		})
	})
}

func runGroupList(cmd *cobra.Command, _ []string) error {
	return withApp(cmd, readTimeout, func(ctx context.Context, a *app.App) error {
		c, err := deployed(a)
		if err != nil {
			return err
		}
		groups := c.ListGroups(ctx)
		views := make([]groupView, 0, len(groups))
		for _, g := range groups {
			views = append(views, newGroupView(ctx, c, g))
		}

		return formatter.Result(views, func(w io.Writer) error {
			if len(views) == 0 {
				outln(w, "No groups yet")
				return nil
			}
			tbl := output.NewTable("ID", "NAME", "WORKS", "JUDGES", "STATUS")
			tbl.AlignRight(0, 2, 3)
			for _, v := range views {
				tbl.AddRow(fmt.Sprint(v.ID), v.Name, fmt.Sprint(len(v.WorkIDs)), fmt.Sprint(v.JudgeCount), v.status())
			}
			return tbl.Render(w)
		})
	})
}

func (v groupView) status() string {
	switch {
	case v.Award != nil:
		return fmt.Sprintf("%s (%d)", v.Award.Tier, v.Award.Score)
	case v.Aggregated:
		return "aggregated"
	default:
		return "scoring"
	}
}

func runGroupShow(cmd *cobra.Command, args []string) error {
	id, err := parseID("group", args[0])
	if err != nil {
		return err
	}
	return withApp(cmd, readTimeout, func(ctx context.Context, a *app.App) error {
		c, err := deployed(a)
		if err != nil {
			return err
		}
		g := c.GetGroup(ctx, id)
		if g == nil {
			return groupNotFound(id)
		}
		v := newGroupView(ctx, c, g)
		for _, wid := range g.WorkIDs {
			if w := c.GetWork(ctx, u64(wid)); w != nil {
				v.Works = append(v.Works, newWorkView(ctx, c, w))
			}
		}

		return formatter.Result(v, func(w io.Writer) error {
			out(w, "Group #%d: %s\n", v.ID, v.Name)
			out(w, "  status: %s\n", v.status())
			out(w, "  judges: %d\n", v.JudgeCount)
			outln(w)
			if len(v.Works) == 0 {
				outln(w, "No works registered")
				return nil
			}
			return worksTable(v.Works).Render(w)
		})
	})
}
