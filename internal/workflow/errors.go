package workflow

import (
	"fmt"

	"github.com/go-faster/errors"

	"tally/api/internal/store"
)

var (
	// ErrInvalidTarget means the item or group a change points at cannot be
	// resolved. No request is created.
	ErrInvalidTarget = errors.New("invalid target")
	ErrPermission    = errors.New("permission denied")
	ErrInvalidState  = errors.New("invalid state")
	ErrConflict      = errors.New("conflict")
	ErrNotFound      = errors.New("not found")
	ErrInvalidInput  = errors.New("invalid input")
)

// ApplyError reports a change that could not be written to its item. The
// request it belongs to, if any, is still pending.
type ApplyError struct {
	RequestID string
	Kind      store.ChangeKind
	Err       error
}

func (e *ApplyError) Error() string {
	if e.RequestID == "" {
		return fmt.Sprintf("apply %s change: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("apply %s change for request %s: %v", e.Kind, e.RequestID, e.Err)
}

func (e *ApplyError) Unwrap() error {
	return e.Err
}

func invalidInput(format string, args ...any) error {
	return errors.Wrap(ErrInvalidInput, fmt.Sprintf(format, args...))
}

// notFoundAs converts a store miss into the given workflow error.
func notFoundAs(err, target error, what string) error {
	if errors.Is(err, store.ErrNotFound) {
		return errors.Wrap(target, what)
	}
	return err
}
