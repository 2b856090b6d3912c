// Package transfer implements the file transfer service: copy, compression,
// checksum, and optional age encryption of single files, locally or across
// the SSH session to the remote side.
package transfer

import (
	"context"
	"path/filepath"

	"github.com/tis24dev/pgsave/internal/config"
	"github.com/tis24dev/pgsave/internal/logging"
	"github.com/tis24dev/pgsave/internal/remote"
	"github.com/tis24dev/pgsave/internal/types"
)

// PathCategory names a logical repository location resolved by PathFor.
type PathCategory string

const (
	// CategoryBackup - the stanza's backup snapshot directory.
	CategoryBackup PathCategory = "backup"

	// CategoryArchive - the stanza's WAL archive directory.
	CategoryArchive PathCategory = "archive"

	// CategorySpool - the local spool staging directory.
	CategorySpool PathCategory = "spool"
)

// CopyOptions control the encoding applied to one copy.
type CopyOptions struct {
	Compress      bool
	CompressLevel int
	Checksum      bool
	Encrypt       bool
}

// Result reports one completed copy.
type Result struct {
	// Bytes is the size of the source (pre-encoding) payload.
	Bytes int64

	// Checksum is the sha256 of the source payload, empty when disabled.
	Checksum string

	// Dest is the final destination path including encoding suffixes.
	Dest string
}

// Fetch result codes, returned verbatim as the archive-get process outcome
// so the restore_command caller can tell "no more segments" from failure.
const (
	FetchFound  = 0
	FetchAbsent = 1
	FetchFail   = 2
)

// Service is the transfer capability consumed by the archive pipeline and
// the backup copy engine.
type Service interface {
	// Push copies a local file to the repository side (remote when the
	// backup host is remote).
	Push(ctx context.Context, src, dst string, opts CopyOptions) (*Result, error)

	// Pull copies a cluster-side file (remote when the database host is
	// remote) to a local destination.
	Pull(ctx context.Context, src, dst string, opts CopyOptions) (*Result, error)

	// FetchSegment retrieves the named archive segment from the repository
	// into dst, reversing any encoding. Returns FetchFound, FetchAbsent,
	// or FetchFail.
	FetchSegment(ctx context.Context, name, dst string) (int, error)

	// PathFor resolves a logical path category to an absolute path.
	PathFor(category PathCategory, elem ...string) string
}

// New builds the transfer service for one stanza. mgr may be nil when the
// topology is fully local.
func New(st *config.Stanza, side types.RemoteSide, mgr *remote.Manager, logger *logging.Logger) (Service, error) {
	enc, err := NewEncryptor(st.Encryption)
	if err != nil {
		return nil, err
	}
	return &service{
		st:     st,
		side:   side,
		mgr:    mgr,
		enc:    enc,
		logger: logger,
	}, nil
}

type service struct {
	st     *config.Stanza
	side   types.RemoteSide
	mgr    *remote.Manager
	enc    *Encryptor
	logger *logging.Logger
}

func (s *service) PathFor(category PathCategory, elem ...string) string {
	var base string
	switch category {
	case CategoryBackup:
		base = s.st.BackupDir()
	case CategoryArchive:
		base = s.st.ArchiveRepoDir()
	case CategorySpool:
		base = s.st.SpoolOutDir()
	default:
		base = s.st.Backup.RepoPath
	}
	return filepath.Join(append([]string{base}, elem...)...)
}

// encodedName appends the encoding suffixes the options imply.
func encodedName(dst string, opts CopyOptions) string {
	if opts.Compress {
		dst += ".gz"
	}
	if opts.Encrypt {
		dst += ".age"
	}
	return dst
}
