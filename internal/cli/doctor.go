package cli

import (
	"github.com/spf13/cobra"
)

func newDoctorCmd(app *App) *cobra.Command {
	var fix bool
	var fail bool

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check snapshot invariants (and repair completion with --fix)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := app.service(cmd.Context())
			if err != nil {
				return writeErr(cmd, err)
			}

			var repaired []string
			if fix {
				ch, err := svc.Repair(cmd.Context())
				if err != nil {
					return writeErr(cmd, err)
				}
				repaired = ch.Affected
			}

			report, err := svc.Doctor(cmd.Context())
			if err != nil {
				return writeErr(cmd, err)
			}

			meta := map[string]any{
				"issues":    len(report.Issues),
				"hasErrors": report.HasErrors(),
			}
			if fix {
				meta["repaired"] = repaired
			}
			var hints []string
			if !fix && report.HasErrors() {
				hints = append(hints, "tasktree doctor --fix")
			}

			if err := writeOut(cmd, app, map[string]any{
				"data":   report,
				"meta":   meta,
				"_hints": hints,
			}); err != nil {
				return err
			}

			if fail && report.HasErrors() {
				return ErrDoctorIssuesFound
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&fix, "fix", false, "Re-derive every parent's completion from its children first")
	cmd.Flags().BoolVar(&fail, "fail", false, "Exit with non-zero status if errors remain")
	return cmd
}
