package cli

import (
	"github.com/spf13/cobra"

	"tasktree/internal/publish"
)

func newTasksExportCmd(app *App) *cobra.Command {
	var to string
	var opt publish.WriteOptions

	cmd := &cobra.Command{
		Use:   "export <task-id>",
		Short: "Write a task subtree as a Markdown checklist",
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
			res, err := publish.WriteTask(n, to, opt)
			if err != nil {
				return writeErr(cmd, err)
			}
			return writeData(cmd, app, res)
		},
	}
	cmd.Flags().StringVar(&to, "to", "", "Output directory")
	cmd.Flags().BoolVar(&opt.SkipCompleted, "skip-completed", false, "Leave completed subtrees out")
	cmd.Flags().BoolVar(&opt.Overwrite, "overwrite", false, "Replace an existing file")
	return cmd
}

func newTemplatesExportCmd(app *App) *cobra.Command {
	var to string
	var opt publish.WriteOptions

	cmd := &cobra.Command{
		Use:   "export <template-id>",
		Short: "Write an expanded template as Markdown",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := app.service(cmd.Context())
			if err != nil {
				return writeErr(cmd, err)
			}
			n, err := svc.TemplateTree(cmd.Context(), args[0])
			if err != nil {
				return writeErr(cmd, err)
			}
			res, err := publish.WriteTemplate(n, to, opt)
			if err != nil {
				return writeErr(cmd, err)
			}
			return writeData(cmd, app, res)
		},
	}
	cmd.Flags().StringVar(&to, "to", "", "Output directory")
	cmd.Flags().BoolVar(&opt.Overwrite, "overwrite", false, "Replace an existing file")
	return cmd
}
