// Package types defines shared application data types.
package types

// ExitCode represents the application's exit codes.
type ExitCode int

const (
	// ExitSuccess - Execution completed successfully, including
	// intentionally skipped work (lock already held, stop marker present).
	ExitSuccess ExitCode = 0

	// ExitGenericError - Unspecified generic error.
	ExitGenericError ExitCode = 1

	// ExitConfigError - Configuration error (missing settings, contradictory
	// remote topology, operation invoked on the wrong host).
	ExitConfigError ExitCode = 2

	// ExitArgumentError - Required positional argument absent.
	ExitArgumentError ExitCode = 3

	// ExitLockError - I/O failure while creating or inspecting a lock file.
	ExitLockError ExitCode = 4

	// ExitTransferError - File transfer service failure.
	ExitTransferError ExitCode = 5

	// ExitBackupError - Error during the backup operation.
	ExitBackupError ExitCode = 6

	// ExitUnsafeStateError - Backup requested with no-start-stop while the
	// database appears to be running, and --force was not given.
	ExitUnsafeStateError ExitCode = 7

	// ExitArchiveError - Error in the archive push/get pipeline.
	ExitArchiveError ExitCode = 8

	// ExitExpireError - Error while computing or applying retention.
	ExitExpireError ExitCode = 9

	// ExitRemoteError - Remote session could not be established.
	ExitRemoteError ExitCode = 10

	// ExitSignalError - Terminated by an external signal.
	ExitSignalError ExitCode = 12

	// ExitPanicError - Unhandled panic caught.
	ExitPanicError ExitCode = 13
)

// String returns a human-readable description of the exit code.
func (e ExitCode) String() string {
	switch e {
	case ExitSuccess:
		return "success"
	case ExitGenericError:
		return "generic error"
	case ExitConfigError:
		return "configuration error"
	case ExitArgumentError:
		return "missing argument"
	case ExitLockError:
		return "lock error"
	case ExitTransferError:
		return "transfer error"
	case ExitBackupError:
		return "backup error"
	case ExitUnsafeStateError:
		return "unsafe backup state"
	case ExitArchiveError:
		return "archive error"
	case ExitExpireError:
		return "expire error"
	case ExitRemoteError:
		return "remote session error"
	case ExitSignalError:
		return "terminated by signal"
	case ExitPanicError:
		return "panic"
	default:
		return "unknown"
	}
}

// Int returns the exit code as a plain int for os.Exit.
func (e ExitCode) Int() int {
	return int(e)
}
