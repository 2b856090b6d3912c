// Package remote resolves which side of a stanza (database or backup) is
// remote and manages the long-lived SSH session used to reach it.
package remote

import (
	"errors"
	"fmt"

	"github.com/tis24dev/pgsave/internal/config"
	"github.com/tis24dev/pgsave/internal/types"
)

// ErrBothRemote rejects configurations where the database and the backup
// repository both carry a host: at most one side may be remote.
var ErrBothRemote = errors.New("both db.host and backup.host are set: at most one side may be remote")

// Operation names used for placement checks and lock files. Expire takes
// the backup lock rather than one of its own: the two operations mutate the
// same backup directories and must never overlap.
const (
	OpBackup      = "backup"
	OpExpire      = "expire"
	OpArchivePush = "archive-push"
	OpArchiveGet  = "archive-get"
	OpArchive     = "archive" // spool drain lock
	OpInfo        = "info"
)

// Resolve decides which side of the stanza is remote.
func Resolve(st *config.Stanza) (types.RemoteSide, error) {
	dbRemote := st.DB.IsRemote()
	backupRemote := st.Backup.IsRemote()

	switch {
	case dbRemote && backupRemote:
		return types.RemoteNone, ErrBothRemote
	case backupRemote:
		return types.RemoteBackup, nil
	case dbRemote:
		return types.RemoteDatabase, nil
	default:
		return types.RemoteNone, nil
	}
}

// Endpoint returns the endpoint descriptor for the resolved remote side,
// or the zero value when nothing is remote.
func EndpointFor(st *config.Stanza, side types.RemoteSide) config.Endpoint {
	switch side {
	case types.RemoteDatabase:
		return st.DB.Endpoint
	case types.RemoteBackup:
		return st.Backup.Endpoint
	default:
		return config.Endpoint{}
	}
}

// CheckPlacement enforces where each operation may run: archive push/get
// execute on the database host (so the database side must not be remote),
// backup and expire execute on the backup host (so the backup side must not
// be remote). Violations are fatal and detected before any lock is taken.
func CheckPlacement(operation string, side types.RemoteSide) error {
	switch operation {
	case OpArchivePush, OpArchiveGet, OpArchive:
		if side == types.RemoteDatabase {
			return fmt.Errorf("%s must run on the database host, but db.host marks it remote", operation)
		}
	case OpBackup, OpExpire:
		if side == types.RemoteBackup {
			return fmt.Errorf("%s must run on the backup host, but backup.host marks it remote", operation)
		}
	}
	return nil
}
