package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/tis24dev/pgsave/internal/types"
)

// encoding suffix combinations FetchSegment probes for, most specific first.
var fetchSuffixes = []string{".gz.age", ".age", ".gz", ""}

// ErrTransfer marks a failed payload copy. The command layer maps it to the
// transfer-specific process exit code.
var ErrTransfer = errors.New("transfer failed")

func (s *service) Push(ctx context.Context, src, dst string, opts CopyOptions) (*Result, error) {
	var res *Result
	var err error
	if s.side == types.RemoteBackup {
		res, err = s.pushRemote(ctx, src, dst, opts)
	} else {
		res, err = s.copyLocal(ctx, src, dst, opts)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTransfer, err)
	}
	return res, nil
}

func (s *service) Pull(ctx context.Context, src, dst string, opts CopyOptions) (*Result, error) {
	var res *Result
	var err error
	if s.side == types.RemoteDatabase {
		res, err = s.pullRemote(ctx, src, dst, opts)
	} else {
		res, err = s.copyLocal(ctx, src, dst, opts)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTransfer, err)
	}
	return res, nil
}

func (s *service) FetchSegment(ctx context.Context, name, dst string) (int, error) {
	if s.side == types.RemoteBackup {
		return s.fetchRemote(ctx, name, dst)
	}
	return s.fetchLocal(ctx, name, dst)
}

// copyLocal streams src into dst applying the requested encoding, writing
// through a temp file and renaming so a partial copy is never observable
// under the final name.
func (s *service) copyLocal(ctx context.Context, src, dst string, opts CopyOptions) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	in, err := os.Open(src)
	if err != nil {
		return nil, fmt.Errorf("open source %s: %w", src, err)
	}
	defer in.Close()

	final := encodedName(dst, opts)
	if err := os.MkdirAll(filepath.Dir(final), 0o755); err != nil {
		return nil, fmt.Errorf("create destination directory: %w", err)
	}

	tmp := final + ".tmp"
	out, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return nil, fmt.Errorf("create temp file %s: %w", tmp, err)
	}

	bytes, checksum, err := encodeStream(out, in, opts, s.enc)
	if err == nil {
		err = out.Sync()
	}
	if cerr := out.Close(); cerr != nil && err == nil {
		err = cerr
	}
	if err == nil {
		err = os.Rename(tmp, final)
	}
	if err != nil {
		os.Remove(tmp)
		return nil, fmt.Errorf("copy %s: %w", src, err)
	}

	s.logger.Debug("Copied %s -> %s (%d bytes)", src, final, bytes)
	return &Result{Bytes: bytes, Checksum: checksum, Dest: final}, nil
}

func (s *service) fetchLocal(ctx context.Context, name, dst string) (int, error) {
	if err := ctx.Err(); err != nil {
		return FetchFail, err
	}

	archiveDir := s.st.ArchiveRepoDir()
	for _, suffix := range fetchSuffixes {
		src := filepath.Join(archiveDir, name+suffix)
		in, err := os.Open(src)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return FetchFail, fmt.Errorf("open segment %s: %w", src, err)
		}

		err = s.decodeToFile(in, filepath.Base(src), dst)
		in.Close()
		if err != nil {
			return FetchFail, err
		}
		s.logger.Debug("Restored segment %s from %s", name, src)
		return FetchFound, nil
	}

	s.logger.Debug("Segment %s not present in %s", name, archiveDir)
	return FetchAbsent, nil
}

// decodeToFile reverses the encoding implied by name's suffixes into dst,
// again through a temp file plus rename.
func (s *service) decodeToFile(in io.Reader, name, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("create destination directory: %w", err)
	}

	tmp := dst + ".tmp"
	out, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("create temp file %s: %w", tmp, err)
	}

	err = decodeStream(out, in, name, s.enc)
	if err == nil {
		err = out.Sync()
	}
	if cerr := out.Close(); cerr != nil && err == nil {
		err = cerr
	}
	if err == nil {
		err = os.Rename(tmp, dst)
	}
	if err != nil {
		os.Remove(tmp)
		return fmt.Errorf("restore %s: %w", name, err)
	}
	return nil
}
