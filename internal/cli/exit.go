package cli

import (
	"context"
	"errors"

	"github.com/tis24dev/pgsave/internal/archive"
	"github.com/tis24dev/pgsave/internal/backup"
	"github.com/tis24dev/pgsave/internal/remote"
	"github.com/tis24dev/pgsave/internal/transfer"
	"github.com/tis24dev/pgsave/internal/types"
)

// ExitError carries the process exit code a failed (or intentionally
// non-zero) command run must terminate with. archive-get uses it to pass
// the raw fetch code through: exit 1 there means "segment absent", not
// failure, so Err may be nil.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return types.ExitCode(e.Code).String()
}

func (e *ExitError) Unwrap() error { return e.Err }

// Exit wraps an error with an explicit exit code.
func Exit(code types.ExitCode, err error) *ExitError {
	return &ExitError{Code: code.Int(), Err: err}
}

// exitWith wraps err with the most specific exit code: cancellation,
// session, and transfer failures override the operation's fallback code.
func exitWith(fallback types.ExitCode, err error) *ExitError {
	switch {
	case errors.Is(err, context.Canceled):
		fallback = types.ExitSignalError
	case errors.Is(err, remote.ErrSession):
		fallback = types.ExitRemoteError
	case errors.Is(err, transfer.ErrTransfer):
		fallback = types.ExitTransferError
	}
	return Exit(fallback, err)
}

// CodeFor maps a command error to the process exit code.
func CodeFor(err error) int {
	if err == nil {
		return types.ExitSuccess.Int()
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	switch {
	case errors.Is(err, archive.ErrMissingArgument):
		return types.ExitArgumentError.Int()
	case errors.Is(err, backup.ErrUnsafeState):
		return types.ExitUnsafeStateError.Int()
	case errors.Is(err, remote.ErrBothRemote):
		return types.ExitConfigError.Int()
	case errors.Is(err, context.Canceled):
		return types.ExitSignalError.Int()
	case errors.Is(err, remote.ErrSession):
		return types.ExitRemoteError.Int()
	case errors.Is(err, transfer.ErrTransfer):
		return types.ExitTransferError.Int()
	}
	return types.ExitGenericError.Int()
}
