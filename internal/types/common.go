package types

import "strings"

// BackupType represents the kind of backup snapshot.
type BackupType string

const (
	// BackupFull - Complete copy of the cluster data directory.
	BackupFull BackupType = "full"

	// BackupDiff - Files changed since the last full backup.
	BackupDiff BackupType = "diff"

	// BackupIncr - Files changed since the last backup of any type.
	BackupIncr BackupType = "incr"
)

// String returns the string representation of the backup type.
func (b BackupType) String() string {
	return string(b)
}

// ParseBackupType converts a CLI/config value into a BackupType.
// Returns BackupFull and false when the value is not recognized.
func ParseBackupType(s string) (BackupType, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "full":
		return BackupFull, true
	case "diff", "differential":
		return BackupDiff, true
	case "incr", "incremental":
		return BackupIncr, true
	default:
		return BackupFull, false
	}
}

// RemoteSide identifies which host (if any) is reached over the remote session.
type RemoteSide int

const (
	// RemoteNone - Both the database and the repository are local.
	RemoteNone RemoteSide = iota

	// RemoteDatabase - The database host is remote.
	RemoteDatabase

	// RemoteBackup - The backup (repository) host is remote.
	RemoteBackup
)

// String returns the string representation of the remote side.
func (r RemoteSide) String() string {
	switch r {
	case RemoteDatabase:
		return "db"
	case RemoteBackup:
		return "backup"
	default:
		return "none"
	}
}

// LogLevel represents the logging level.
type LogLevel int

const (
	// LogLevelDebug - Debug logs (maximum detail)
	LogLevelDebug LogLevel = 5

	// LogLevelInfo - General information
	LogLevelInfo LogLevel = 4

	// LogLevelWarning - Warnings
	LogLevelWarning LogLevel = 3

	// LogLevelError - Errors
	LogLevelError LogLevel = 2

	// LogLevelCritical - Critical errors
	LogLevelCritical LogLevel = 1

	// LogLevelNone - No logs
	LogLevelNone LogLevel = 0
)

// String returns the string representation of the log level.
func (l LogLevel) String() string {
	switch l {
	case LogLevelDebug:
		return "DEBUG"
	case LogLevelInfo:
		return "INFO"
	case LogLevelWarning:
		return "WARNING"
	case LogLevelError:
		return "ERROR"
	case LogLevelCritical:
		return "CRITICAL"
	case LogLevelNone:
		return "NONE"
	default:
		return "UNKNOWN"
	}
}

// ParseLogLevel converts a CLI/config value into a LogLevel.
// Returns LogLevelInfo and false when the value is not recognized.
func ParseLogLevel(s string) (LogLevel, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LogLevelDebug, true
	case "info":
		return LogLevelInfo, true
	case "warning", "warn":
		return LogLevelWarning, true
	case "error":
		return LogLevelError, true
	case "critical":
		return LogLevelCritical, true
	case "none":
		return LogLevelNone, true
	default:
		return LogLevelInfo, false
	}
}
