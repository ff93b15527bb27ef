package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"tasktree/internal/mutate"
)

// ErrDoctorIssuesFound is returned by `doctor --fail` when errors remain.
var ErrDoctorIssuesFound = errors.New("doctor found issues")

// ExitCode maps an error to the process exit status.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	if errors.Is(err, ErrDoctorIssuesFound) {
		return 6
	}
	switch mutate.KindOf(err) {
	case mutate.KindInvalidRequest:
		return 2
	case mutate.KindReferenceNotFound:
		return 3
	case mutate.KindCycleDetected, mutate.KindWouldOrphanTemplate:
		return 4
	case mutate.KindPersistenceFailure:
		return 5
	default:
		return 1
	}
}

func writeErr(cmd *cobra.Command, err error) error {
	if kind := mutate.KindOf(err); kind != mutate.KindInternal {
		fmt.Fprintf(cmd.ErrOrStderr(), "%s: %s\n", kind, err.Error())
	} else {
		fmt.Fprintln(cmd.ErrOrStderr(), err.Error())
	}
	return err
}

func errMissingArg(name string) error {
	return fmt.Errorf("%w: missing %s", mutate.ErrInvalidRequest, name)
}
