package cli

import (
	"strings"

	"github.com/spf13/cobra"

	"tasktree/internal/mutate"
)

func newTemplatesCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "templates",
		Aliases: []string{"template", "tpl"},
		Short:   "Template graph commands",
	}

	cmd.AddCommand(newTemplatesListCmd(app))
	cmd.AddCommand(newTemplatesTreeCmd(app))
	cmd.AddCommand(newTemplatesHierarchyCmd(app))
	cmd.AddCommand(newTemplatesCreateCmd(app))
	cmd.AddCommand(newTemplatesEditCmd(app))
	cmd.AddCommand(newTemplatesRelateCmd(app))
	cmd.AddCommand(newTemplatesUnrelateCmd(app))
	cmd.AddCommand(newTemplatesDeleteCmd(app))
	cmd.AddCommand(newTemplatesInstantiateCmd(app))
	cmd.AddCommand(newTemplatesExportCmd(app))

	return cmd
}

func newTemplatesListCmd(app *App) *cobra.Command {
	var includePrivate bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List root-visible templates",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := app.service(cmd.Context())
			if err != nil {
				return writeErr(cmd, err)
			}
			tpls, err := svc.ListTemplates(cmd.Context(), includePrivate)
			if err != nil {
				return writeErr(cmd, err)
			}
			return writeData(cmd, app, tpls)
		},
	}
	cmd.Flags().BoolVar(&includePrivate, "private", false, "Include private templates")
	return cmd
}

func newTemplatesTreeCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "tree <template-id>",
		Short: "Show a template expanded along every path",
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
			return writeData(cmd, app, n)
		},
	}
}

func newTemplatesHierarchyCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "hierarchy",
		Short: "Dump every template and relation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := app.service(cmd.Context())
			if err != nil {
				return writeErr(cmd, err)
			}
			h, err := svc.TemplateHierarchy(cmd.Context())
			if err != nil {
				return writeErr(cmd, err)
			}
			return writeData(cmd, app, h)
		},
	}
}

func newTemplatesCreateCmd(app *App) *cobra.Command {
	var private, rootLevel bool
	var parentID string
	var position int

	cmd := &cobra.Command{
		Use:   "create <title...>",
		Short: "Create a template, optionally under a parent template",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := app.service(cmd.Context())
			if err != nil {
				return writeErr(cmd, err)
			}
			in := mutate.CreateTemplateInput{
				Title:     strings.Join(args, " "),
				Private:   private,
				RootLevel: rootLevel,
				ParentID:  strings.TrimSpace(parentID),
			}
			if cmd.Flags().Changed("position") {
				p := position
				in.Position = &p
			}
			ch, err := svc.CreateTemplate(cmd.Context(), in)
			if err != nil {
				return writeErr(cmd, err)
			}
			return writeData(cmd, app, ch)
		},
	}
	cmd.Flags().BoolVar(&private, "private", false, "Hide from the template list unless --private is passed")
	cmd.Flags().BoolVar(&rootLevel, "root-level", false, "Keep listed at the top level even when linked under a parent")
	cmd.Flags().StringVar(&parentID, "parent", "", "Link under this template")
	cmd.Flags().IntVar(&position, "position", 0, "Position under --parent (default: last)")
	return cmd
}

func newTemplatesEditCmd(app *App) *cobra.Command {
	var title string
	var private, rootLevel bool
	var unlink bool
	var contextRelationID string

	cmd := &cobra.Command{
		Use:   "edit <template-id>",
		Short: "Edit a template in place, or fork it for one parent with --unlink",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var e mutate.TemplateEdit
			if cmd.Flags().Changed("title") {
				e.Title = &title
			}
			if cmd.Flags().Changed("private") {
				e.Private = &private
			}
			if cmd.Flags().Changed("root-level") {
				e.RootLevel = &rootLevel
			}
			e.Unlink = unlink
			e.ContextRelationID = strings.TrimSpace(contextRelationID)
			if unlink && e.ContextRelationID == "" {
				return writeErr(cmd, errMissingArg("--context (the relation to fork for)"))
			}

			svc, err := app.service(cmd.Context())
			if err != nil {
				return writeErr(cmd, err)
			}
			ch, err := svc.EditTemplate(cmd.Context(), args[0], e)
			if err != nil {
				return writeErr(cmd, err)
			}
			return writeData(cmd, app, ch)
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "New title")
	cmd.Flags().BoolVar(&private, "private", false, "Set the private flag")
	cmd.Flags().BoolVar(&rootLevel, "root-level", false, "Set the root-level flag")
	cmd.Flags().BoolVar(&unlink, "unlink", false, "Edit an independent copy for --context instead of the shared template")
	cmd.Flags().StringVar(&contextRelationID, "context", "", "Relation id the template is being edited through")
	return cmd
}

func newTemplatesRelateCmd(app *App) *cobra.Command {
	var position int

	cmd := &cobra.Command{
		Use:   "relate <parent-id> <child-id>",
		Short: "Link a template under another",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := app.service(cmd.Context())
			if err != nil {
				return writeErr(cmd, err)
			}
			var pos *int
			if cmd.Flags().Changed("position") {
				p := position
				pos = &p
			}
			ch, err := svc.RelateTemplates(cmd.Context(), args[0], args[1], pos)
			if err != nil {
				return writeErr(cmd, err)
			}
			return writeData(cmd, app, ch)
		},
	}
	cmd.Flags().IntVar(&position, "position", 0, "Position under the parent (default: last)")
	return cmd
}

func newTemplatesUnrelateCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "unrelate <relation-id>",
		Short: "Remove a template link",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := app.service(cmd.Context())
			if err != nil {
				return writeErr(cmd, err)
			}
			ch, err := svc.UnrelateTemplates(cmd.Context(), args[0])
			if err != nil {
				return writeErr(cmd, err)
			}
			return writeData(cmd, app, ch)
		},
	}
}

func newTemplatesDeleteCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:     "delete <template-id>",
		Aliases: []string{"rm"},
		Short:   "Delete a template and its links",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := app.service(cmd.Context())
			if err != nil {
				return writeErr(cmd, err)
			}
			ch, err := svc.DeleteTemplate(cmd.Context(), args[0])
			if err != nil {
				return writeErr(cmd, err)
			}
			return writeData(cmd, app, ch)
		},
	}
}

func newTemplatesInstantiateCmd(app *App) *cobra.Command {
	var parentID string

	cmd := &cobra.Command{
		Use:   "instantiate <template-id>",
		Short: "Create tasks from a template",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := app.service(cmd.Context())
			if err != nil {
				return writeErr(cmd, err)
			}
			ch, err := svc.Instantiate(cmd.Context(), args[0], optionalID(parentID))
			if err != nil {
				return writeErr(cmd, err)
			}
			return writeData(cmd, app, ch)
		},
	}
	cmd.Flags().StringVar(&parentID, "parent", "", "Task to create the copy under (default: new root)")
	return cmd
}
