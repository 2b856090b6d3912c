package archive

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"syscall"

	"github.com/tis24dev/pgsave/internal/lockfile"
	"github.com/tis24dev/pgsave/internal/transfer"
)

// SpoolDrainFlag is the hidden flag the detached drain process is started
// with.
const SpoolDrainFlag = "--spool-drain"

// TriggerDrain starts a spool drain. The caller is the database's
// archive_command hook, so the drain detaches into its own session rather
// than blocking the caller for the duration of a multi-segment transfer.
// With NoDetach set the drain runs inline.
func (p *Pipeline) TriggerDrain(ctx context.Context) error {
	if !p.st.Backup.IsRemote() {
		p.logger.Debug("No backup host configured, spool drain has nowhere to forward")
		return nil
	}

	if p.st.Archive.NoDetach {
		return p.Drain(ctx)
	}

	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolve executable for drain: %w", err)
	}
	args := []string{"archive-push", "--stanza", p.st.Name, SpoolDrainFlag}
	if p.cfgPath != "" {
		args = append(args, "--config", p.cfgPath)
	}

	cmd := exec.Command(exe, args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	cmd.Stdin = nil
	if logPath := p.st.LocalLogPath(p.side); logPath != "" {
		if f, err := openDrainLog(logPath + "-drain.log"); err == nil {
			cmd.Stdout = f
			cmd.Stderr = f
			defer f.Close()
		}
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start drain process: %w", err)
	}
	p.logger.Debug("Spool drain detached (pid %d)", cmd.Process.Pid)
	return cmd.Process.Release()
}

func openDrainLog(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, err
	}
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
}

// Drain forwards spooled segments to the repository until the spool is
// empty. The archive lock makes the drain single-flight per stanza: losing
// the race means another drain already covers whatever we spooled, so
// contention is success, not an error.
func (p *Pipeline) Drain(ctx context.Context) error {
	lock, acquired, err := lockfile.Acquire(p.st.ArchiveLockPath())
	if err != nil {
		return fmt.Errorf("archive lock: %w", err)
	}
	if !acquired {
		p.logger.Debug("Spool drain already running, nothing to do")
		return nil
	}
	defer lock.Release()

	var total int
	for {
		n, err := p.pushBatch(ctx)
		total += n
		if err != nil {
			return err
		}
		if n == 0 {
			break
		}
	}
	p.logger.Info("Spool drain complete, %d segments forwarded", total)
	return nil
}

// pushBatch forwards up to max-mb worth of spooled segments, oldest first,
// and removes each local copy once the repository has it. Returns the
// number of segments transferred; zero means the spool is empty. The size
// bound keeps a single batch from running unboundedly long; the caller
// loops until empty.
func (p *Pipeline) pushBatch(ctx context.Context) (int, error) {
	outDir := p.st.SpoolOutDir()
	entries, err := os.ReadDir(outDir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("read spool %s: %w", outDir, err)
	}

	// WAL segment names are monotonic, so lexical order is age order.
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) == ".tmp" {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	budget := int64(p.st.Archive.MaxMB) * 1024 * 1024
	opts := transfer.CopyOptions{
		Compress:      p.st.Archive.Compress,
		CompressLevel: p.st.Options.CompressLevel,
		Checksum:      p.st.Archive.Checksum,
		Encrypt:       p.st.Encryption.Enabled(),
	}

	var batchBytes int64
	var transferred int
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return transferred, err
		}

		src := filepath.Join(outDir, name)
		info, err := os.Stat(src)
		if err != nil {
			// Raced with a concurrent cleanup; the segment is gone.
			continue
		}
		if transferred > 0 && batchBytes+info.Size() > budget {
			break
		}

		result, err := p.svc.Push(ctx, src, p.svc.PathFor(transfer.CategoryArchive, name), opts)
		if err != nil {
			return transferred, fmt.Errorf("forward segment %s: %w", name, err)
		}
		if err := os.Remove(src); err != nil {
			return transferred, fmt.Errorf("remove spooled segment %s: %w", name, err)
		}
		batchBytes += info.Size()
		transferred++
		p.logger.Debug("Forwarded %s (%d bytes)", name, result.Bytes)
	}
	return transferred, nil
}
