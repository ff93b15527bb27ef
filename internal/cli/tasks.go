package cli

import (
	"strings"

	"github.com/spf13/cobra"

	"tasktree/internal/mutate"
)

func newTasksCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "tasks",
		Aliases: []string{"task"},
		Short:   "Task commands",
	}

	cmd.AddCommand(newTasksListCmd(app))
	cmd.AddCommand(newTasksShowCmd(app))
	cmd.AddCommand(newTasksAddCmd(app))
	cmd.AddCommand(newTasksSetCompletedCmd(app, true))
	cmd.AddCommand(newTasksSetCompletedCmd(app, false))
	cmd.AddCommand(newTasksRenameCmd(app))
	cmd.AddCommand(newTasksMoveCmd(app))
	cmd.AddCommand(newTasksDeleteCmd(app))
	cmd.AddCommand(newTasksExportCmd(app))

	return cmd
}

// placementFlags registers --after and --order; --order counts only when set.
type placementFlags struct {
	afterID string
	order   int
}

func (p *placementFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&p.afterID, "after", "", "Place right after this sibling task id")
	cmd.Flags().IntVar(&p.order, "order", 0, "Explicit sort order (siblings at or after it shift down)")
}

func (p *placementFlags) placement(cmd *cobra.Command) mutate.Placement {
	out := mutate.Placement{AfterID: strings.TrimSpace(p.afterID)}
	if cmd.Flags().Changed("order") {
		n := p.order
		out.SortOrder = &n
	}
	return out
}

func optionalID(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

func newTasksListCmd(app *App) *cobra.Command {
	var flat bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks as a forest (or flat with --flat)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := app.service(cmd.Context())
			if err != nil {
				return writeErr(cmd, err)
			}
			if flat {
				tasks, err := svc.Tasks(cmd.Context())
				if err != nil {
					return writeErr(cmd, err)
				}
				return writeData(cmd, app, tasks)
			}
			roots, err := svc.Forest(cmd.Context())
			if err != nil {
				return writeErr(cmd, err)
			}
			return writeData(cmd, app, roots)
		},
	}
	cmd.Flags().BoolVar(&flat, "flat", false, "List tasks flat, grouped by parent")
	return cmd
}

func newTasksShowCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "show <task-id>",
		Short: "Show a task with its subtree",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := app.service(cmd.Context())
			if err != nil {
				return writeErr(cmd, err)
			}
			n, err := svc.Subtree(cmd.Context(), args[0])
			if err != nil {
				return writeErr(cmd, err)
			}
			return writeData(cmd, app, n)
		},
	}
}

func newTasksAddCmd(app *App) *cobra.Command {
	var parentID string
	var templateID string
	var pf placementFlags

	cmd := &cobra.Command{
		Use:   "add <title...>",
		Short: "Add a task",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := app.service(cmd.Context())
			if err != nil {
				return writeErr(cmd, err)
			}
			ch, err := svc.AddTask(cmd.Context(), mutate.AddTaskInput{
				Title:      strings.Join(args, " "),
				ParentID:   optionalID(parentID),
				TemplateID: optionalID(templateID),
				Placement:  pf.placement(cmd),
			})
			if err != nil {
				return writeErr(cmd, err)
			}
			return writeData(cmd, app, ch)
		},
	}
	cmd.Flags().StringVar(&parentID, "parent", "", "Parent task id (default: new root)")
	cmd.Flags().StringVar(&templateID, "template", "", "Template id this task came from")
	pf.register(cmd)
	return cmd
}

func newTasksSetCompletedCmd(app *App, completed bool) *cobra.Command {
	use, short := "complete <task-id>", "Mark a task and its subtree completed"
	if !completed {
		use, short = "reopen <task-id>", "Mark a task and its subtree not completed"
	}
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := app.service(cmd.Context())
			if err != nil {
				return writeErr(cmd, err)
			}
			ch, err := svc.SetCompleted(cmd.Context(), args[0], completed)
			if err != nil {
				return writeErr(cmd, err)
			}
			return writeData(cmd, app, ch)
		},
	}
}

func newTasksRenameCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "rename <task-id> <title...>",
		Short: "Change a task's title",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := app.service(cmd.Context())
			if err != nil {
				return writeErr(cmd, err)
			}
			ch, err := svc.RenameTask(cmd.Context(), args[0], strings.Join(args[1:], " "))
			if err != nil {
				return writeErr(cmd, err)
			}
			return writeData(cmd, app, ch)
		},
	}
}

func newTasksMoveCmd(app *App) *cobra.Command {
	var parentID string
	var pf placementFlags

	cmd := &cobra.Command{
		Use:   "move <task-id>",
		Short: "Reparent or reorder a task (no --parent moves it to the root list)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := app.service(cmd.Context())
			if err != nil {
				return writeErr(cmd, err)
			}
			ch, err := svc.MoveTask(cmd.Context(), args[0], optionalID(parentID), pf.placement(cmd))
			if err != nil {
				return writeErr(cmd, err)
			}
			return writeData(cmd, app, ch)
		},
	}
	cmd.Flags().StringVar(&parentID, "parent", "", "New parent task id")
	pf.register(cmd)
	return cmd
}

func newTasksDeleteCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:     "delete <task-id>",
		Aliases: []string{"rm"},
		Short:   "Delete a task and its subtree",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := app.service(cmd.Context())
			if err != nil {
				return writeErr(cmd, err)
			}
			ch, err := svc.DeleteTask(cmd.Context(), args[0])
			if err != nil {
				return writeErr(cmd, err)
			}
			return writeData(cmd, app, ch)
		},
	}
}
