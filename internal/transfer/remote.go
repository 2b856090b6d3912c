package transfer

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/tis24dev/pgsave/internal/remote"
)

// pushRemote streams the encoded payload into `cat` on the backup host.
// The remote write goes through a temp name; mv runs only after the stream
// completed, so a failed transfer never leaves a partial final file.
func (s *service) pushRemote(ctx context.Context, src, dst string, opts CopyOptions) (*Result, error) {
	in, err := os.Open(src)
	if err != nil {
		return nil, fmt.Errorf("open source %s: %w", src, err)
	}
	defer in.Close()

	final := encodedName(dst, opts)
	tmp := final + ".tmp"

	pr, pw := io.Pipe()
	type encodeOut struct {
		bytes    int64
		checksum string
		err      error
	}
	encDone := make(chan encodeOut, 1)
	go func() {
		bytes, checksum, err := encodeStream(pw, in, opts, s.enc)
		pw.CloseWithError(err)
		encDone <- encodeOut{bytes: bytes, checksum: checksum, err: err}
	}()

	writeCmd := fmt.Sprintf("mkdir -p %s && cat > %s",
		shellQuote(filepath.Dir(final)), shellQuote(tmp))
	runErr := s.mgr.Run(ctx, writeCmd, pr, nil)
	pr.Close()
	enc := <-encDone

	if runErr != nil || enc.err != nil {
		// Best-effort cleanup of the remote temp file.
		_ = s.mgr.Run(ctx, "rm -f "+shellQuote(tmp), nil, nil)
		if enc.err != nil {
			return nil, fmt.Errorf("encode %s: %w", src, enc.err)
		}
		return nil, fmt.Errorf("remote write %s: %w", tmp, runErr)
	}

	mvCmd := fmt.Sprintf("mv %s %s", shellQuote(tmp), shellQuote(final))
	if err := s.mgr.Run(ctx, mvCmd, nil, nil); err != nil {
		_ = s.mgr.Run(ctx, "rm -f "+shellQuote(tmp), nil, nil)
		return nil, fmt.Errorf("remote rename %s: %w", final, err)
	}

	s.logger.Debug("Pushed %s -> %s:%s (%d bytes)", src, s.st.Backup.Host, final, enc.bytes)
	return &Result{Bytes: enc.bytes, Checksum: enc.checksum, Dest: final}, nil
}

// pullRemote streams a file from the database host and encodes it into a
// local destination.
func (s *service) pullRemote(ctx context.Context, src, dst string, opts CopyOptions) (*Result, error) {
	final := encodedName(dst, opts)
	if err := os.MkdirAll(filepath.Dir(final), 0o755); err != nil {
		return nil, fmt.Errorf("create destination directory: %w", err)
	}

	tmp := final + ".tmp"
	out, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return nil, fmt.Errorf("create temp file %s: %w", tmp, err)
	}

	pr, pw := io.Pipe()
	type encodeOut struct {
		bytes    int64
		checksum string
		err      error
	}
	encDone := make(chan encodeOut, 1)
	go func() {
		bytes, checksum, err := encodeStream(out, pr, opts, s.enc)
		pr.CloseWithError(err)
		encDone <- encodeOut{bytes: bytes, checksum: checksum, err: err}
	}()

	runErr := s.mgr.Run(ctx, "cat "+shellQuote(src), nil, pw)
	pw.CloseWithError(runErr)
	enc := <-encDone

	err = runErr
	if err == nil {
		err = enc.err
	}
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
		return nil, fmt.Errorf("pull %s:%s: %w", s.st.DB.Host, src, err)
	}

	s.logger.Debug("Pulled %s:%s -> %s (%d bytes)", s.st.DB.Host, src, final, enc.bytes)
	return &Result{Bytes: enc.bytes, Checksum: enc.checksum, Dest: final}, nil
}

// fetchRemote probes the remote archive directory for the segment under its
// possible encodings, downloads the first match, and decodes it locally.
func (s *service) fetchRemote(ctx context.Context, name, dst string) (int, error) {
	archiveDir := s.st.ArchiveRepoDir()
	for _, suffix := range fetchSuffixes {
		src := filepath.Join(archiveDir, name+suffix)

		err := s.mgr.Run(ctx, "test -f "+shellQuote(src), nil, nil)
		if err != nil {
			if remote.ExitStatus(err) == 1 {
				continue
			}
			return FetchFail, fmt.Errorf("probe segment %s: %w", src, err)
		}

		pr, pw := io.Pipe()
		decDone := make(chan error, 1)
		go func() {
			decDone <- s.decodeToFile(pr, filepath.Base(src), dst)
		}()

		runErr := s.mgr.Run(ctx, "cat "+shellQuote(src), nil, pw)
		pw.CloseWithError(runErr)
		decErr := <-decDone
		pr.Close()

		if runErr != nil {
			return FetchFail, fmt.Errorf("download segment %s: %w", src, runErr)
		}
		if decErr != nil {
			return FetchFail, decErr
		}
		s.logger.Debug("Restored segment %s from %s:%s", name, s.st.Backup.Host, src)
		return FetchFound, nil
	}

	s.logger.Debug("Segment %s not present on %s", name, s.st.Backup.Host)
	return FetchAbsent, nil
}

// shellQuote single-quotes a path for the remote shell.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
