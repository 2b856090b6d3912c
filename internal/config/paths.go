package config

import (
	"path/filepath"

	"github.com/tis24dev/pgsave/internal/types"
)

// Filesystem layout inside the repository:
//
//	<repo>/lock/<stanza>-<operation>.lock
//	<repo>/log/<stanza>
//	<repo>/backup/<stanza>/<label>/
//	<repo>/archive/<stanza>/<segment>[.gz][.age]
//	<repo>/metrics/pgsave.prom
//
// The archive spool (database host, async mode) mirrors the lock/stop
// conventions under the spool path so the drain can coordinate without
// touching the (possibly remote) repository.

// RepoLockPath returns the lock file for the given operation in the
// repository lock directory.
func (st *Stanza) RepoLockPath(operation string) string {
	return filepath.Join(st.Backup.RepoPath, "lock", st.Name+"-"+operation+".lock")
}

// archiveBase is where archive-side coordination files (drain lock, stop
// marker) live: the local spool when one is configured, the repository
// otherwise.
func (st *Stanza) archiveBase() string {
	if st.Archive.SpoolPath != "" {
		return st.Archive.SpoolPath
	}
	return st.Backup.RepoPath
}

// ArchiveLockPath returns the lock file guarding the spool drain.
func (st *Stanza) ArchiveLockPath() string {
	return filepath.Join(st.archiveBase(), "lock", st.Name+"-archive.lock")
}

// StopMarkerPath returns the operator-controlled sentinel; when present,
// incoming segments are discarded instead of archived.
func (st *Stanza) StopMarkerPath() string {
	return filepath.Join(st.archiveBase(), "lock", st.Name+"-archive.stop")
}

// BackupDir returns the directory holding this stanza's backup snapshots.
func (st *Stanza) BackupDir() string {
	return filepath.Join(st.Backup.RepoPath, "backup", st.Name)
}

// ArchiveRepoDir returns the repository directory holding archived segments.
func (st *Stanza) ArchiveRepoDir() string {
	return filepath.Join(st.Backup.RepoPath, "archive", st.Name)
}

// SpoolOutDir returns the local staging directory segments accumulate in
// before the drain forwards them to the backup host.
func (st *Stanza) SpoolOutDir() string {
	return filepath.Join(st.Archive.SpoolPath, "archive", st.Name, "out")
}

// MetricsDir returns the textfile-collector directory for this repository.
func (st *Stanza) MetricsDir() string {
	return filepath.Join(st.Backup.RepoPath, "metrics")
}

// LocalLogPath returns the stanza log file on whichever base directory is
// local to the running process, or "" when no local base exists.
func (st *Stanza) LocalLogPath(side types.RemoteSide) string {
	base := st.Backup.RepoPath
	if side == types.RemoteBackup {
		// Repository is remote; fall back to the spool if there is one.
		if st.Archive.SpoolPath == "" {
			return ""
		}
		base = st.Archive.SpoolPath
	}
	return filepath.Join(base, "log", st.Name)
}
