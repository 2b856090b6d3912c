package archive

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/tis24dev/pgsave/internal/config"
	"github.com/tis24dev/pgsave/internal/lockfile"
	"github.com/tis24dev/pgsave/internal/logging"
	"github.com/tis24dev/pgsave/internal/transfer"
	"github.com/tis24dev/pgsave/internal/types"
)

type pushCall struct {
	src  string
	dst  string
	opts transfer.CopyOptions
}

// fakeService records transfers instead of performing them.
type fakeService struct {
	st        *config.Stanza
	pushes    []pushCall
	pushErr   error
	fetchCode int
	fetchErr  error
}

func (f *fakeService) Push(ctx context.Context, src, dst string, opts transfer.CopyOptions) (*transfer.Result, error) {
	if f.pushErr != nil {
		return nil, f.pushErr
	}
	f.pushes = append(f.pushes, pushCall{src: src, dst: dst, opts: opts})
	return &transfer.Result{Bytes: 1, Dest: dst}, nil
}

func (f *fakeService) Pull(ctx context.Context, src, dst string, opts transfer.CopyOptions) (*transfer.Result, error) {
	return &transfer.Result{Dest: dst}, nil
}

func (f *fakeService) FetchSegment(ctx context.Context, name, dst string) (int, error) {
	return f.fetchCode, f.fetchErr
}

func (f *fakeService) PathFor(category transfer.PathCategory, elem ...string) string {
	var base string
	switch category {
	case transfer.CategoryArchive:
		base = f.st.ArchiveRepoDir()
	case transfer.CategorySpool:
		base = f.st.SpoolOutDir()
	default:
		base = f.st.BackupDir()
	}
	return filepath.Join(append([]string{base}, elem...)...)
}

func testStanza(t *testing.T) *config.Stanza {
	t.Helper()
	st := &config.Stanza{Name: "main"}
	st.DB.DataPath = "/pgdata"
	st.Backup.RepoPath = t.TempDir()
	st.Archive.MaxMB = 64
	st.Archive.Compress = true
	st.Archive.Checksum = true
	st.Options.CompressLevel = 6
	return st
}

func testPipeline(t *testing.T, st *config.Stanza) (*Pipeline, *fakeService) {
	t.Helper()
	svc := &fakeService{st: st}
	logger := logging.New(types.LogLevelNone, false)
	return NewPipeline(st, types.RemoteNone, svc, logger, ""), svc
}

func writeSegment(t *testing.T, dir, name string, size int) string {
	t.Helper()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, make([]byte, size), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestPushMissingArgument(t *testing.T) {
	p, _ := testPipeline(t, testStanza(t))
	err := p.Push(context.Background(), "")
	if !errors.Is(err, ErrMissingArgument) {
		t.Errorf("Expected ErrMissingArgument, got %v", err)
	}
}

func TestPushStopMarkerDiscards(t *testing.T) {
	st := testStanza(t)
	p, svc := testPipeline(t, st)

	marker := st.StopMarkerPath()
	if err := os.MkdirAll(filepath.Dir(marker), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(marker, nil, 0o600); err != nil {
		t.Fatal(err)
	}

	seg := writeSegment(t, t.TempDir(), "000000010000000000000001", 16)
	if err := p.Push(context.Background(), seg); err != nil {
		t.Fatalf("Stop marker discard must succeed, got %v", err)
	}
	if len(svc.pushes) != 0 {
		t.Error("No transfer should happen with the stop marker present")
	}
}

func TestPushSyncHonorsFlags(t *testing.T) {
	st := testStanza(t)
	st.Archive.Compress = true
	st.Archive.Checksum = false
	p, svc := testPipeline(t, st)

	seg := writeSegment(t, t.TempDir(), "000000010000000000000002", 16)
	if err := p.Push(context.Background(), seg); err != nil {
		t.Fatalf("Push failed: %v", err)
	}
	if len(svc.pushes) != 1 {
		t.Fatalf("Expected 1 transfer, got %d", len(svc.pushes))
	}
	call := svc.pushes[0]
	if call.src != seg {
		t.Errorf("Source = %q, want %q", call.src, seg)
	}
	want := filepath.Join(st.ArchiveRepoDir(), "000000010000000000000002")
	if call.dst != want {
		t.Errorf("Destination = %q, want %q", call.dst, want)
	}
	if !call.opts.Compress || call.opts.Checksum {
		t.Errorf("Options not taken from archive config: %+v", call.opts)
	}
}

func TestPushAsyncSpoolsWithoutCompression(t *testing.T) {
	st := testStanza(t)
	st.Archive.Async = true
	st.Archive.SpoolPath = t.TempDir()
	st.Archive.NoDetach = true
	// No backup host: the drain has nowhere to forward, segments stay
	// spooled.
	p, svc := testPipeline(t, st)

	seg := writeSegment(t, t.TempDir(), "000000010000000000000003", 16)
	if err := p.Push(context.Background(), seg); err != nil {
		t.Fatalf("Push failed: %v", err)
	}
	if len(svc.pushes) != 0 {
		t.Error("Async push without a backup host must not transfer")
	}
	spooled := filepath.Join(st.SpoolOutDir(), "000000010000000000000003")
	data, err := os.ReadFile(spooled)
	if err != nil {
		t.Fatalf("Segment should be staged in the spool: %v", err)
	}
	if len(data) != 16 {
		t.Errorf("Spooled copy is %d bytes, want 16", len(data))
	}
}

func TestDrainForwardsInOrderUntilEmpty(t *testing.T) {
	st := testStanza(t)
	st.Archive.Async = true
	st.Archive.SpoolPath = t.TempDir()
	st.Archive.NoDetach = true
	st.Archive.MaxMB = 1
	st.Backup.Host = "backup.example.com"
	p, svc := testPipeline(t, st)

	// Three segments larger than half the batch budget: one per batch.
	size := 600 * 1024
	writeSegment(t, st.SpoolOutDir(), "000000010000000000000012", size)
	writeSegment(t, st.SpoolOutDir(), "000000010000000000000010", size)
	writeSegment(t, st.SpoolOutDir(), "000000010000000000000011", size)
	writeSegment(t, st.SpoolOutDir(), "000000010000000000000013.tmp", 8)

	n, err := p.pushBatch(context.Background())
	if err != nil {
		t.Fatalf("pushBatch failed: %v", err)
	}
	if n != 1 {
		t.Errorf("Batch should be bounded to 1 segment at this size, got %d", n)
	}

	if err := p.Drain(context.Background()); err != nil {
		t.Fatalf("Drain failed: %v", err)
	}
	if len(svc.pushes) != 3 {
		t.Fatalf("Expected 3 segments forwarded, got %d", len(svc.pushes))
	}
	for i, want := range []string{
		"000000010000000000000010",
		"000000010000000000000011",
		"000000010000000000000012",
	} {
		if got := filepath.Base(svc.pushes[i].src); got != want {
			t.Errorf("pushes[%d] = %s, want %s (oldest first)", i, got, want)
		}
	}

	entries, err := os.ReadDir(st.SpoolOutDir())
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Name() != "000000010000000000000013.tmp" {
		t.Errorf("Only the partial .tmp file should remain, got %v", entries)
	}
}

func TestDrainLockContentionIsQuietSuccess(t *testing.T) {
	st := testStanza(t)
	st.Archive.SpoolPath = t.TempDir()
	st.Backup.Host = "backup.example.com"
	p, svc := testPipeline(t, st)

	writeSegment(t, st.SpoolOutDir(), "000000010000000000000020", 16)

	lock, acquired, err := lockfile.Acquire(st.ArchiveLockPath())
	if err != nil || !acquired {
		t.Fatalf("Pre-acquire failed: %v %v", acquired, err)
	}
	defer lock.Release()

	if err := p.Drain(context.Background()); err != nil {
		t.Fatalf("Contended drain must exit quietly, got %v", err)
	}
	if len(svc.pushes) != 0 {
		t.Error("Contended drain must not transfer")
	}
}

func TestDrainPropagatesTransferFailure(t *testing.T) {
	st := testStanza(t)
	st.Archive.SpoolPath = t.TempDir()
	st.Backup.Host = "backup.example.com"
	p, svc := testPipeline(t, st)
	svc.pushErr = errors.New("connection reset")

	seg := writeSegment(t, st.SpoolOutDir(), "000000010000000000000030", 16)

	if err := p.Drain(context.Background()); err == nil {
		t.Fatal("Drain should surface the transfer failure")
	}
	if _, err := os.Stat(seg); err != nil {
		t.Error("Failed segment must stay spooled for the next drain")
	}
}

func TestGetMissingArguments(t *testing.T) {
	p, _ := testPipeline(t, testStanza(t))
	tests := []struct{ name, dst string }{
		{"", "/tmp/out"},
		{"000000010000000000000001", ""},
		{"", ""},
	}
	for _, tt := range tests {
		if _, err := p.Get(context.Background(), tt.name, tt.dst); !errors.Is(err, ErrMissingArgument) {
			t.Errorf("Get(%q, %q): expected ErrMissingArgument, got %v", tt.name, tt.dst, err)
		}
	}
}

func TestGetReturnsCodeVerbatim(t *testing.T) {
	for _, code := range []int{transfer.FetchFound, transfer.FetchAbsent} {
		st := testStanza(t)
		p, svc := testPipeline(t, st)
		svc.fetchCode = code

		got, err := p.Get(context.Background(), "000000010000000000000001", "/tmp/out")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if got != code {
			t.Errorf("Get code = %d, want %d", got, code)
		}
	}
}

func TestGetFetchFailure(t *testing.T) {
	st := testStanza(t)
	p, svc := testPipeline(t, st)
	svc.fetchCode = transfer.FetchFail
	svc.fetchErr = errors.New("repository unreachable")

	code, err := p.Get(context.Background(), "000000010000000000000001", "/tmp/out")
	if err == nil {
		t.Fatal("Fetch failure should surface as an error")
	}
	if code != transfer.FetchFail {
		t.Errorf("Code = %d, want %d", code, transfer.FetchFail)
	}
}
