// Package archive implements the WAL archiving pipeline: synchronous
// segment push, the asynchronous spool drain, and segment retrieval for
// recovery.
package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/tis24dev/pgsave/internal/config"
	"github.com/tis24dev/pgsave/internal/logging"
	"github.com/tis24dev/pgsave/internal/transfer"
	"github.com/tis24dev/pgsave/internal/types"
	"github.com/tis24dev/pgsave/pkg/utils"
)

// ErrMissingArgument marks an archive invocation without its required
// positional arguments.
var ErrMissingArgument = errors.New("missing argument")

// Pipeline handles WAL segments for one stanza.
type Pipeline struct {
	st      *config.Stanza
	side    types.RemoteSide
	svc     transfer.Service
	logger  *logging.Logger
	cfgPath string
}

// NewPipeline builds the archive pipeline. cfgPath is forwarded to the
// detached drain process so it resolves the same configuration.
func NewPipeline(st *config.Stanza, side types.RemoteSide, svc transfer.Service, logger *logging.Logger, cfgPath string) *Pipeline {
	return &Pipeline{st: st, side: side, svc: svc, logger: logger, cfgPath: cfgPath}
}

// Push archives one WAL segment. In sync mode the segment goes straight to
// the repository; in async mode it is staged in the local spool and a drain
// is triggered. A present stop marker discards the segment and reports
// success: the database must believe archiving succeeded so it can recycle
// the segment, which is exactly what the operator asked for.
func (p *Pipeline) Push(ctx context.Context, segPath string) error {
	if segPath == "" {
		return fmt.Errorf("archive-push: segment path: %w", ErrMissingArgument)
	}

	if utils.FileExists(p.st.StopMarkerPath()) {
		p.logger.Info("Stop marker present, discarding segment %s", filepath.Base(segPath))
		return nil
	}

	if p.st.Archive.Async && p.st.Archive.SpoolPath != "" {
		if err := p.spoolSegment(segPath); err != nil {
			return err
		}
		return p.TriggerDrain(ctx)
	}

	name := filepath.Base(segPath)
	result, err := p.svc.Push(ctx, segPath, p.svc.PathFor(transfer.CategoryArchive, name), transfer.CopyOptions{
		Compress:      p.st.Archive.Compress,
		CompressLevel: p.st.Options.CompressLevel,
		Checksum:      p.st.Archive.Checksum,
		Encrypt:       p.st.Encryption.Enabled(),
	})
	if err != nil {
		return fmt.Errorf("archive segment %s: %w", name, err)
	}
	p.logger.Debug("Archived %s (%d bytes)", name, result.Bytes)
	return nil
}

// spoolSegment stages a segment in the local out directory. Compression is
// left to the drain stage so the database's archive hook returns as fast as
// a local copy allows.
func (p *Pipeline) spoolSegment(segPath string) error {
	outDir := p.st.SpoolOutDir()
	if err := os.MkdirAll(outDir, 0o750); err != nil {
		return fmt.Errorf("create spool directory: %w", err)
	}

	name := filepath.Base(segPath)
	dst := filepath.Join(outDir, name)
	tmp := dst + ".tmp"

	src, err := os.Open(segPath)
	if err != nil {
		return fmt.Errorf("open segment %s: %w", segPath, err)
	}
	defer src.Close()

	out, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("stage segment %s: %w", tmp, err)
	}
	if _, err := io.Copy(out, src); err != nil {
		out.Close()
		os.Remove(tmp)
		return fmt.Errorf("stage segment %s: %w", name, err)
	}
	if err := out.Sync(); err != nil {
		out.Close()
		os.Remove(tmp)
		return fmt.Errorf("sync staged segment %s: %w", name, err)
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close staged segment %s: %w", name, err)
	}
	if err := os.Rename(tmp, dst); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("finalize staged segment %s: %w", name, err)
	}
	p.logger.Debug("Spooled %s", name)
	return nil
}
