// Package backup implements the backup copy engine: a worker pool that
// captures cluster files into a snapshot directory under the start/stop
// backup bracket.
package backup

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/tis24dev/pgsave/internal/config"
	"github.com/tis24dev/pgsave/internal/db"
	"github.com/tis24dev/pgsave/internal/logging"
	"github.com/tis24dev/pgsave/internal/remote"
	"github.com/tis24dev/pgsave/internal/storage"
	"github.com/tis24dev/pgsave/internal/transfer"
	"github.com/tis24dev/pgsave/internal/types"
)

// ErrUnsafeState marks a no-start-stop backup refused because the database
// appears to be running.
var ErrUnsafeState = errors.New("database appears to be running")

// ErrArchiveIncomplete marks a backup whose closing WAL segment never
// reached the archive.
var ErrArchiveIncomplete = errors.New("closing WAL segment not archived")

// How long a finished backup waits for its closing WAL segment to appear
// in the archive before failing.
var archiveWaitTimeout = 60 * time.Second

// Options select the behavior of one backup run.
type Options struct {
	Type            types.BackupType
	NoStartStop     bool
	Force           bool
	Compress        bool
	CompressLevel   int
	Hardlink        bool
	NoChecksum      bool
	ThreadMax       int
	ThreadTimeout   time.Duration
	ArchiveRequired bool
	StartFast       bool
}

// Result summarizes one backup run.
type Result struct {
	Label           string
	FilesCopied     int
	FilesReferenced int
	FilesFailed     int

	// WorkersStopped counts copy tasks abandoned because the run was
	// cancelled; reported so an interrupted run is distinguishable from a
	// copy failure.
	WorkersStopped int

	BytesCopied int64
	Consistent  bool
}

// Engine copies one snapshot of the cluster into the repository.
type Engine struct {
	st     *config.Stanza
	ctl    db.Controller
	svc    transfer.Service
	side   types.RemoteSide
	mgr    *remote.Manager
	logger *logging.Logger
	opts   Options

	consistent bool
}

// NewEngine validates the requested run. A no-start-stop backup against a
// running database is refused unless forced, in which case it proceeds
// with a warning and the snapshot is marked inconsistent.
func NewEngine(ctx context.Context, st *config.Stanza, ctl db.Controller, svc transfer.Service, side types.RemoteSide, mgr *remote.Manager, logger *logging.Logger, opts Options) (*Engine, error) {
	if opts.ThreadMax < 1 {
		opts.ThreadMax = 1
	}

	e := &Engine{
		st:         st,
		ctl:        ctl,
		svc:        svc,
		side:       side,
		mgr:        mgr,
		logger:     logger,
		opts:       opts,
		consistent: true,
	}

	if opts.NoStartStop {
		if ctl != nil && ctl.IsRunning(ctx) {
			if !opts.Force {
				return nil, fmt.Errorf("no-start-stop backup refused: %w (use --force to override)", ErrUnsafeState)
			}
			logger.Warning("Database appears to be running; forced no-start-stop backup will be inconsistent")
			e.consistent = false
		}
	}
	return e, nil
}

// Run executes the backup and returns the written manifest.
func (e *Engine) Run(ctx context.Context) (*storage.Manifest, *Result, error) {
	backups, err := storage.ListBackups(e.st.BackupDir())
	if err != nil {
		return nil, nil, err
	}

	btype := e.opts.Type
	prior := storage.LastBackup(backups, btype)
	if btype != types.BackupFull && prior == nil {
		e.logger.Info("No prior backup exists, switching to full")
		btype = types.BackupFull
	}

	label := storage.MakeLabel(btype, prior, time.Now())
	result := &Result{Label: label, Consistent: e.consistent}
	e.logger.Phase("Backup %s (%s)", label, btype)

	var startPos *db.BackupPosition
	if !e.opts.NoStartStop {
		startPos, err = e.ctl.StartBackup(ctx, label, e.opts.StartFast)
		if err != nil {
			return nil, result, fmt.Errorf("start backup: %w", err)
		}
		e.logger.Info("Backup started at %s (segment %s)", startPos.LSN, startPos.WALSegment)
	}

	files, listErr := listClusterFiles(ctx, e.st, e.side, e.mgr)

	var copyErr error
	if listErr == nil {
		copyErr = e.copyFiles(ctx, label, prior, files, result)
	}

	// Stop-backup must run whenever start-backup did, even when the copy
	// stage failed, or the cluster is left in backup mode.
	var stopPos *db.BackupPosition
	if startPos != nil {
		var stopErr error
		stopPos, stopErr = e.ctl.StopBackup(ctx)
		if stopErr != nil {
			if listErr == nil && copyErr == nil {
				return nil, result, fmt.Errorf("stop backup: %w", stopErr)
			}
			e.logger.Error("Stop backup failed after copy error: %v", stopErr)
		} else {
			e.logger.Info("Backup stopped at %s (segment %s)", stopPos.LSN, stopPos.WALSegment)
		}
	}
	if listErr != nil {
		return nil, result, listErr
	}
	if copyErr != nil {
		return nil, result, copyErr
	}

	m := &storage.Manifest{
		Label:      label,
		Stanza:     e.st.Name,
		Type:       btype,
		Timestamp:  time.Now(),
		Consistent: e.consistent,
		Compress:   e.opts.Compress,
		Hardlink:   e.opts.Hardlink,
		Checksum:   !e.opts.NoChecksum,
		Files:      files,
	}
	if prior != nil {
		m.Prior = prior.Label
	}
	if startPos != nil {
		m.WALStart = startPos.WALSegment
	}
	if stopPos != nil {
		m.WALStop = stopPos.WALSegment
	}

	if e.opts.ArchiveRequired && stopPos != nil {
		if err := e.waitForArchivedSegment(ctx, stopPos.WALSegment); err != nil {
			return nil, result, err
		}
	}

	backupDir := e.svc.PathFor(transfer.CategoryBackup, label)
	if err := m.Write(backupDir); err != nil {
		return nil, result, err
	}
	e.logger.Info("Backup %s complete: %d copied, %d referenced, %d bytes",
		label, result.FilesCopied, result.FilesReferenced, result.BytesCopied)
	return m, result, nil
}

// copyFiles distributes copy tasks across the worker pool. Unchanged files
// are referenced against the prior snapshot (hardlinked when enabled)
// instead of copied.
func (e *Engine) copyFiles(ctx context.Context, label string, prior *storage.Manifest, files []storage.FileInfo, result *Result) error {
	backupDir := e.svc.PathFor(transfer.CategoryBackup, label)
	if err := os.MkdirAll(backupDir, 0o750); err != nil {
		return fmt.Errorf("create backup directory: %w", err)
	}

	priorFiles := make(map[string]storage.FileInfo)
	if prior != nil {
		for _, f := range prior.Files {
			priorFiles[f.Path] = f
		}
	}

	var toCopy []int
	for i := range files {
		if prev, ok := priorFiles[files[i].Path]; ok && e.unchanged(files[i], prev) {
			ref := prev.Reference
			if ref == "" {
				ref = prior.Label
			}
			files[i].Reference = ref
			files[i].Checksum = prev.Checksum
			result.FilesReferenced++
			if e.opts.Hardlink {
				if err := e.hardlink(files[i], ref, backupDir); err != nil {
					return err
				}
			}
			continue
		}
		toCopy = append(toCopy, i)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	sem := make(chan struct{}, e.opts.ThreadMax)
	var mu sync.Mutex
	var firstErr error
	var stopped int

	for _, idx := range toCopy {
		idx := idx
		wg.Add(1)
		go func() {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				mu.Lock()
				stopped++
				mu.Unlock()
				return
			}
			defer func() { <-sem }()

			if err := e.copyOne(ctx, label, &files[idx]); err != nil {
				mu.Lock()
				result.FilesFailed++
				if firstErr == nil {
					firstErr = fmt.Errorf("%s: %w", files[idx].Path, err)
				}
				if errors.Is(err, context.Canceled) {
					stopped++
				}
				mu.Unlock()
				cancel()
				return
			}
			mu.Lock()
			result.FilesCopied++
			result.BytesCopied += files[idx].Size
			mu.Unlock()
		}()
	}
	wg.Wait()

	result.WorkersStopped = stopped
	if stopped > 0 {
		e.logger.Warning("%d copy tasks stopped before completion", stopped)
	}
	if firstErr != nil {
		return fmt.Errorf("backup copy failed (%d files): %w", result.FilesFailed, firstErr)
	}
	return ctx.Err()
}

// copyOne transfers a single cluster file, bounded by the thread timeout.
func (e *Engine) copyOne(ctx context.Context, label string, f *storage.FileInfo) error {
	if e.opts.ThreadTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.opts.ThreadTimeout)
		defer cancel()
	}

	src := filepath.Join(e.st.DB.DataPath, f.Path)
	dst := e.svc.PathFor(transfer.CategoryBackup, label, f.Path)
	res, err := e.svc.Pull(ctx, src, dst, transfer.CopyOptions{
		Compress:      e.opts.Compress,
		CompressLevel: e.opts.CompressLevel,
		Checksum:      !e.opts.NoChecksum,
		Encrypt:       e.st.Encryption.Enabled(),
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("copy timed out after %s: %w", e.opts.ThreadTimeout, err)
		}
		return err
	}
	f.Checksum = res.Checksum
	return nil
}

// unchanged decides whether the prior snapshot's copy of a file can be
// reused. Size plus mtime, the same heuristic rsync defaults to.
func (e *Engine) unchanged(cur, prev storage.FileInfo) bool {
	return cur.Size == prev.Size && cur.ModTime.Equal(prev.ModTime)
}

// hardlink links an unchanged file from the referenced snapshot into the
// new one so every snapshot directory is complete on its own.
func (e *Engine) hardlink(f storage.FileInfo, refLabel, backupDir string) error {
	// The referenced copy carries whatever encoding suffix it was stored
	// with; probe the known spellings.
	for _, suffix := range []string{"", ".gz", ".age", ".gz.age"} {
		src := e.svc.PathFor(transfer.CategoryBackup, refLabel, f.Path) + suffix
		if _, err := os.Stat(src); err != nil {
			continue
		}
		dst := filepath.Join(backupDir, f.Path) + suffix
		if err := os.MkdirAll(filepath.Dir(dst), 0o750); err != nil {
			return err
		}
		if err := os.Link(src, dst); err != nil {
			return fmt.Errorf("hardlink %s from %s: %w", f.Path, refLabel, err)
		}
		return nil
	}
	return fmt.Errorf("hardlink %s: no copy found in snapshot %s", f.Path, refLabel)
}

// waitForArchivedSegment polls the archive until the closing segment shows
// up. archive_command runs asynchronously to the backup, so a short wait
// is normal.
func (e *Engine) waitForArchivedSegment(ctx context.Context, segment string) error {
	if segment == "" {
		return fmt.Errorf("%w: closing segment unknown", ErrArchiveIncomplete)
	}

	deadline := time.Now().Add(archiveWaitTimeout)
	tmp, err := os.CreateTemp("", "pgsave-walcheck-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	tmp.Close()
	defer os.Remove(tmpPath)

	for {
		code, err := e.svc.FetchSegment(ctx, segment, tmpPath)
		if err == nil && code == transfer.FetchFound {
			e.logger.Debug("Closing segment %s confirmed in archive", segment)
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%w: %s not seen within %s", ErrArchiveIncomplete, segment, archiveWaitTimeout)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
		}
	}
}
