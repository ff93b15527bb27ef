package mutate

import (
	"errors"
	"fmt"

	"tasktree/internal/graph"
)

// Kind classifies an error for callers (CLI exit text, HTTP status).
type Kind string

const (
	KindReferenceNotFound   Kind = "reference_not_found"
	KindCycleDetected       Kind = "cycle_detected"
	KindWouldOrphanTemplate Kind = "would_orphan_template"
	KindPersistenceFailure  Kind = "persistence_failure"
	KindInvalidRequest      Kind = "invalid_request"
	KindInternal            Kind = "internal"
)

var ErrInvalidRequest = errors.New("invalid request")

type NotFoundError struct {
	Kind string
	ID   string
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.ID)
}

// CycleError is the relation graph's cycle error, re-exported for callers
// that only import mutate.
type CycleError = graph.CycleError

type OrphanTemplateError struct {
	TemplateID string
}

func (e OrphanTemplateError) Error() string {
	return fmt.Sprintf("template %s would become unreachable (no parents and not root-level)", e.TemplateID)
}

// PersistenceError wraps a storage failure. Writes applied before the failure
// are not rolled back by the caller.
type PersistenceError struct {
	Op  string
	Err error
}

func (e PersistenceError) Error() string {
	return fmt.Sprintf("persistence failure during %s: %v", e.Op, e.Err)
}

func (e PersistenceError) Unwrap() error { return e.Err }

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidRequest, fmt.Sprintf(format, args...))
}

// KindOf maps err to its Kind. nil maps to "".
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var nf NotFoundError
	var cy CycleError
	var or OrphanTemplateError
	var pe PersistenceError
	var el graph.ExpansionLimitError
	switch {
	case errors.As(err, &pe):
		return KindPersistenceFailure
	case errors.As(err, &nf):
		return KindReferenceNotFound
	case errors.As(err, &cy):
		return KindCycleDetected
	case errors.As(err, &or):
		return KindWouldOrphanTemplate
	case errors.Is(err, ErrInvalidRequest), errors.As(err, &el):
		return KindInvalidRequest
	default:
		return KindInternal
	}
}
