package backup

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/tis24dev/pgsave/internal/config"
	"github.com/tis24dev/pgsave/internal/db"
	"github.com/tis24dev/pgsave/internal/logging"
	"github.com/tis24dev/pgsave/internal/storage"
	"github.com/tis24dev/pgsave/internal/transfer"
	"github.com/tis24dev/pgsave/internal/types"
	"github.com/tis24dev/pgsave/pkg/utils"
)

type fakeControl struct {
	running      bool
	startErr     error
	stopErr      error
	startCalled  bool
	stopCalled   bool
	stopCalls    int
	startFastArg bool
}

func (f *fakeControl) IsRunning(ctx context.Context) bool { return f.running }

func (f *fakeControl) StartBackup(ctx context.Context, label string, startFast bool) (*db.BackupPosition, error) {
	f.startCalled = true
	f.startFastArg = startFast
	if f.startErr != nil {
		return nil, f.startErr
	}
	return &db.BackupPosition{LSN: "0/2000028", WALSegment: "000000010000000000000002"}, nil
}

func (f *fakeControl) StopBackup(ctx context.Context) (*db.BackupPosition, error) {
	f.stopCalled = true
	f.stopCalls++
	if f.stopErr != nil {
		return nil, f.stopErr
	}
	return &db.BackupPosition{LSN: "0/3000060", WALSegment: "000000010000000000000003"}, nil
}

// copyService performs real local copies so the snapshot directory can be
// inspected; archived segment names are served from a set.
type copyService struct {
	st       *config.Stanza
	archived map[string]bool
	pullErr  error

	mu          sync.Mutex
	pulls       int
	holdPulls   bool
	pullStarted chan struct{}
}

func (s *copyService) Push(ctx context.Context, src, dst string, opts transfer.CopyOptions) (*transfer.Result, error) {
	return &transfer.Result{Dest: dst}, nil
}

func (s *copyService) Pull(ctx context.Context, src, dst string, opts transfer.CopyOptions) (*transfer.Result, error) {
	s.mu.Lock()
	s.pulls++
	if s.pullStarted != nil {
		close(s.pullStarted)
		s.pullStarted = nil
	}
	hold := s.holdPulls
	s.mu.Unlock()
	if hold {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if s.pullErr != nil {
		return nil, s.pullErr
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return nil, err
	}
	in, err := os.Open(src)
	if err != nil {
		return nil, err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return nil, err
	}
	defer out.Close()
	n, err := io.Copy(out, in)
	if err != nil {
		return nil, err
	}
	sum, err := utils.ComputeSHA256(src)
	if err != nil {
		return nil, err
	}
	return &transfer.Result{Bytes: n, Checksum: sum, Dest: dst}, nil
}

func (s *copyService) FetchSegment(ctx context.Context, name, dst string) (int, error) {
	if s.archived[name] {
		return transfer.FetchFound, nil
	}
	return transfer.FetchAbsent, nil
}

func (s *copyService) PathFor(category transfer.PathCategory, elem ...string) string {
	var base string
	switch category {
	case transfer.CategoryArchive:
		base = s.st.ArchiveRepoDir()
	default:
		base = s.st.BackupDir()
	}
	return filepath.Join(append([]string{base}, elem...)...)
}

func clusterFixture(t *testing.T) *config.Stanza {
	t.Helper()
	st := &config.Stanza{Name: "main"}
	st.DB.DataPath = t.TempDir()
	st.Backup.RepoPath = t.TempDir()

	write := func(rel, content string) {
		path := filepath.Join(st.DB.DataPath, rel)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
			t.Fatal(err)
		}
	}
	write("PG_VERSION", "16\n")
	write("global/pg_control", "control")
	write("base/1/1234", "relation data")
	write("pg_wal/000000010000000000000001", "wal, archived separately")
	write("postmaster.pid", "1234")
	write("base/pgsql_tmp/pgsql_tmp123", "scratch")
	return st
}

func testEngine(t *testing.T, st *config.Stanza, ctl db.Controller, opts Options) (*Engine, *copyService) {
	t.Helper()
	svc := &copyService{st: st, archived: map[string]bool{"000000010000000000000003": true}}
	logger := logging.New(types.LogLevelNone, false)
	e, err := NewEngine(context.Background(), st, ctl, svc, types.RemoteNone, nil, logger, opts)
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	return e, svc
}

func TestListLocalSkips(t *testing.T) {
	st := clusterFixture(t)
	files, err := listLocal(st.DB.DataPath)
	if err != nil {
		t.Fatalf("listLocal failed: %v", err)
	}

	got := make(map[string]bool)
	for _, f := range files {
		got[f.Path] = true
	}
	for _, want := range []string{"PG_VERSION", "global/pg_control", "base/1/1234"} {
		if !got[want] {
			t.Errorf("Expected %s in listing", want)
		}
	}
	for _, skip := range []string{
		"pg_wal/000000010000000000000001",
		"postmaster.pid",
		"base/pgsql_tmp/pgsql_tmp123",
	} {
		if got[skip] {
			t.Errorf("%s must be skipped", skip)
		}
	}
}

func TestNewEngineUnsafeState(t *testing.T) {
	st := clusterFixture(t)
	svc := &copyService{st: st}
	logger := logging.New(types.LogLevelNone, false)

	_, err := NewEngine(context.Background(), st, &fakeControl{running: true}, svc, types.RemoteNone, nil, logger,
		Options{Type: types.BackupFull, NoStartStop: true})
	if !errors.Is(err, ErrUnsafeState) {
		t.Fatalf("Expected ErrUnsafeState, got %v", err)
	}

	e, err := NewEngine(context.Background(), st, &fakeControl{running: true}, svc, types.RemoteNone, nil, logger,
		Options{Type: types.BackupFull, NoStartStop: true, Force: true})
	if err != nil {
		t.Fatalf("Forced engine should construct: %v", err)
	}
	if e.consistent {
		t.Error("Forced no-start-stop backup must be marked inconsistent")
	}
	if logger.WarningCount() == 0 {
		t.Error("Force override must log a warning")
	}
}

func TestRunFullBackup(t *testing.T) {
	st := clusterFixture(t)
	ctl := &fakeControl{running: true}
	e, _ := testEngine(t, st, ctl, Options{
		Type:            types.BackupFull,
		ThreadMax:       2,
		ArchiveRequired: true,
		StartFast:       true,
	})

	m, result, err := e.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !ctl.startCalled || !ctl.stopCalled {
		t.Error("Start and stop backup must both run")
	}
	if !ctl.startFastArg {
		t.Error("start-fast must be forwarded to the control call")
	}
	if m.WALStart != "000000010000000000000002" || m.WALStop != "000000010000000000000003" {
		t.Errorf("WAL bracket = %q..%q", m.WALStart, m.WALStop)
	}
	if !m.Consistent {
		t.Error("Bracketed backup must be consistent")
	}
	if result.FilesCopied != 3 || result.FilesFailed != 0 {
		t.Errorf("Copied %d / failed %d, want 3 / 0", result.FilesCopied, result.FilesFailed)
	}

	// The snapshot must reload from disk.
	loaded, err := storage.LoadManifest(filepath.Join(st.BackupDir(), m.Label))
	if err != nil {
		t.Fatalf("Manifest not readable: %v", err)
	}
	if loaded.Label != m.Label || len(loaded.Files) != 3 {
		t.Errorf("Reloaded manifest mismatch: %+v", loaded)
	}
	if _, err := os.Stat(filepath.Join(st.BackupDir(), m.Label, "base/1/1234")); err != nil {
		t.Errorf("Copied file missing from snapshot: %v", err)
	}

	// Recorded checksums must match the source payloads.
	for _, f := range loaded.Files {
		want, err := utils.ComputeSHA256(filepath.Join(st.DB.DataPath, f.Path))
		if err != nil {
			t.Fatal(err)
		}
		if f.Checksum != want {
			t.Errorf("Checksum mismatch for %s: %s", f.Path, f.Checksum)
		}
	}
}

func TestRunIncrReferencesUnchanged(t *testing.T) {
	st := clusterFixture(t)
	ctl := &fakeControl{}
	e, _ := testEngine(t, st, ctl, Options{Type: types.BackupFull, ThreadMax: 1})
	full, _, err := e.Run(context.Background())
	if err != nil {
		t.Fatalf("Full backup failed: %v", err)
	}

	// Touch one relation; the rest stays as the full captured it.
	changed := filepath.Join(st.DB.DataPath, "base/1/1234")
	if err := os.WriteFile(changed, []byte("updated relation"), 0o600); err != nil {
		t.Fatal(err)
	}
	future := time.Now().Add(2 * time.Second)
	if err := os.Chtimes(changed, future, future); err != nil {
		t.Fatal(err)
	}

	e2, svc := testEngine(t, st, &fakeControl{}, Options{Type: types.BackupIncr, ThreadMax: 1})
	svc.pulls = 0
	m, result, err := e2.Run(context.Background())
	if err != nil {
		t.Fatalf("Incremental failed: %v", err)
	}

	if m.RootLabel() != full.Label {
		t.Errorf("Incremental root = %s, want %s", m.RootLabel(), full.Label)
	}
	if m.Prior != full.Label {
		t.Errorf("Prior = %s, want %s", m.Prior, full.Label)
	}
	if result.FilesCopied != 1 {
		t.Errorf("Only the changed file should be copied, got %d", result.FilesCopied)
	}
	if result.FilesReferenced != 2 {
		t.Errorf("Unchanged files should be referenced, got %d", result.FilesReferenced)
	}
	if svc.pulls != 1 {
		t.Errorf("Transfer service saw %d pulls, want 1", svc.pulls)
	}
	for _, f := range m.Files {
		if f.Path == "base/1/1234" && f.Reference != "" {
			t.Error("Changed file must not carry a reference")
		}
		if f.Path == "PG_VERSION" && f.Reference != full.Label {
			t.Errorf("Unchanged file reference = %q, want %q", f.Reference, full.Label)
		}
	}
}

func TestRunCopyFailureStillStopsBackup(t *testing.T) {
	st := clusterFixture(t)
	ctl := &fakeControl{}
	e, svc := testEngine(t, st, ctl, Options{Type: types.BackupFull, ThreadMax: 2})
	svc.pullErr = errors.New("disk full")

	_, result, err := e.Run(context.Background())
	if err == nil {
		t.Fatal("Run should fail when copies fail")
	}
	if !ctl.stopCalled {
		t.Error("Stop backup must run even after a copy failure")
	}
	if result.FilesFailed == 0 {
		t.Error("Failed copies must be counted")
	}
}

func TestRunCancelStopsWorkers(t *testing.T) {
	st := clusterFixture(t)
	ctl := &fakeControl{}
	e, svc := testEngine(t, st, ctl, Options{Type: types.BackupFull, ThreadMax: 1})

	started := make(chan struct{})
	svc.holdPulls = true
	svc.pullStarted = started

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()
	defer cancel()

	_, result, err := e.Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Cancelled run should report context.Canceled, got %v", err)
	}
	// Every copy task must be accounted for: the one blocked inside its
	// transfer plus the ones still queued behind the single worker slot.
	if result.WorkersStopped != 3 {
		t.Errorf("WorkersStopped = %d, want 3", result.WorkersStopped)
	}
	if !ctl.stopCalled {
		t.Error("Stop backup must run so the cluster leaves backup mode")
	}
	if ctl.stopCalls != 1 {
		t.Errorf("Stop backup ran %d times, want exactly once", ctl.stopCalls)
	}
}

func TestRunArchiveRequiredMissingSegment(t *testing.T) {
	old := archiveWaitTimeout
	archiveWaitTimeout = 0
	defer func() { archiveWaitTimeout = old }()

	st := clusterFixture(t)
	e, svc := testEngine(t, st, &fakeControl{}, Options{
		Type:            types.BackupFull,
		ThreadMax:       1,
		ArchiveRequired: true,
	})
	svc.archived = map[string]bool{}

	_, _, err := e.Run(context.Background())
	if !errors.Is(err, ErrArchiveIncomplete) {
		t.Fatalf("Expected ErrArchiveIncomplete, got %v", err)
	}
}

func TestRunHardlinkSnapshot(t *testing.T) {
	st := clusterFixture(t)
	e, _ := testEngine(t, st, &fakeControl{}, Options{Type: types.BackupFull, ThreadMax: 1})
	full, _, err := e.Run(context.Background())
	if err != nil {
		t.Fatalf("Full backup failed: %v", err)
	}

	e2, _ := testEngine(t, st, &fakeControl{}, Options{
		Type: types.BackupIncr, ThreadMax: 1, Hardlink: true,
	})
	m, _, err := e2.Run(context.Background())
	if err != nil {
		t.Fatalf("Hardlinked incremental failed: %v", err)
	}

	linked := filepath.Join(st.BackupDir(), m.Label, "PG_VERSION")
	orig := filepath.Join(st.BackupDir(), full.Label, "PG_VERSION")
	li, err := os.Stat(linked)
	if err != nil {
		t.Fatalf("Hardlinked file missing: %v", err)
	}
	oi, err := os.Stat(orig)
	if err != nil {
		t.Fatal(err)
	}
	if !os.SameFile(li, oi) {
		t.Error("Unchanged file should be a hardlink into the prior snapshot")
	}
}
