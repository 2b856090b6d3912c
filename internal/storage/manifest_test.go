package storage

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/tis24dev/pgsave/internal/types"
)

func TestMakeLabel(t *testing.T) {
	now := time.Date(2026, 8, 30, 14, 30, 0, 0, time.UTC)
	full := &Manifest{Label: "20260829-020000F", Type: types.BackupFull}
	diff := &Manifest{Label: "20260829-020000F_20260830-020000D", Type: types.BackupDiff}

	tests := []struct {
		name  string
		btype types.BackupType
		prior *Manifest
		want  string
	}{
		{"full ignores prior", types.BackupFull, full, "20260830-143000F"},
		{"diff chains to full", types.BackupDiff, full, "20260829-020000F_20260830-143000D"},
		{"incr from full", types.BackupIncr, full, "20260829-020000F_20260830-143000I"},
		{"incr keeps diff's root", types.BackupIncr, diff, "20260829-020000F_20260830-143000I"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := MakeLabel(tt.btype, tt.prior, now); got != tt.want {
				t.Errorf("MakeLabel = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRootLabel(t *testing.T) {
	full := &Manifest{Label: "20260830-020000F"}
	if got := full.RootLabel(); got != "20260830-020000F" {
		t.Errorf("Full root = %q", got)
	}
	diff := &Manifest{Label: "20260830-020000F_20260830-140000D"}
	if got := diff.RootLabel(); got != "20260830-020000F" {
		t.Errorf("Diff root = %q", got)
	}
}

func TestManifestRoundTrip(t *testing.T) {
	dir := t.TempDir()
	m := &Manifest{
		Label:      "20260830-020000F",
		Stanza:     "main",
		Type:       types.BackupFull,
		Timestamp:  time.Date(2026, 8, 30, 2, 0, 0, 0, time.UTC),
		WALStart:   "000000010000000000000010",
		WALStop:    "000000010000000000000011",
		Consistent: true,
		Compress:   true,
		Checksum:   true,
		Files: []FileInfo{
			{Path: "base/1/1234", Size: 8192, Checksum: "ab"},
			{Path: "PG_VERSION", Size: 3, Checksum: "cd", Reference: "20260829-020000F"},
		},
	}
	if err := m.Write(dir); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	got, err := LoadManifest(dir)
	if err != nil {
		t.Fatalf("LoadManifest failed: %v", err)
	}
	if got.Label != m.Label || got.Type != m.Type || !got.Consistent {
		t.Errorf("Round trip mismatch: %+v", got)
	}
	if len(got.Files) != 2 || got.Files[1].Reference != "20260829-020000F" {
		t.Errorf("File entries lost: %+v", got.Files)
	}
	if got.TotalBytes() != 8195 {
		t.Errorf("TotalBytes = %d", got.TotalBytes())
	}
}

func TestListBackupsOrderAndSkips(t *testing.T) {
	dir := t.TempDir()
	write := func(label string, ts time.Time) {
		sub := filepath.Join(dir, label)
		if err := os.MkdirAll(sub, 0o755); err != nil {
			t.Fatal(err)
		}
		m := &Manifest{Label: label, Stanza: "main", Type: types.BackupFull, Timestamp: ts}
		if err := m.Write(sub); err != nil {
			t.Fatal(err)
		}
	}
	write("20260830-020000F", time.Date(2026, 8, 30, 2, 0, 0, 0, time.UTC))
	write("20260828-020000F", time.Date(2026, 8, 28, 2, 0, 0, 0, time.UTC))
	write("20260829-020000F", time.Date(2026, 8, 29, 2, 0, 0, 0, time.UTC))

	// A directory without a manifest is an interrupted backup, not an error.
	if err := os.MkdirAll(filepath.Join(dir, "20260831-020000F"), 0o755); err != nil {
		t.Fatal(err)
	}
	// Stray files in the backup directory are ignored.
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}

	backups, err := ListBackups(dir)
	if err != nil {
		t.Fatalf("ListBackups failed: %v", err)
	}
	if len(backups) != 3 {
		t.Fatalf("Expected 3 backups, got %d", len(backups))
	}
	for i, want := range []string{"20260828-020000F", "20260829-020000F", "20260830-020000F"} {
		if backups[i].Label != want {
			t.Errorf("backups[%d] = %q, want %q", i, backups[i].Label, want)
		}
	}
}

func TestListBackupsMissingDir(t *testing.T) {
	backups, err := ListBackups(filepath.Join(t.TempDir(), "nope"))
	if err != nil {
		t.Fatalf("Missing backup dir should not be an error: %v", err)
	}
	if len(backups) != 0 {
		t.Errorf("Expected empty list, got %d", len(backups))
	}
}

func TestLastBackup(t *testing.T) {
	backups := []*Manifest{
		{Label: "20260828-020000F", Type: types.BackupFull},
		{Label: "20260828-020000F_20260829-020000D", Type: types.BackupDiff},
		{Label: "20260828-020000F_20260829-080000I", Type: types.BackupIncr},
	}

	// A full backup is self-contained and never has a prior.
	if got := LastBackup(backups, types.BackupFull); got != nil {
		t.Errorf("Full prior = %v, want nil", got)
	}
	// A differential chains to the last full, never to another diff.
	if got := LastBackup(backups, types.BackupDiff); got == nil || got.Label != "20260828-020000F" {
		t.Errorf("Diff prior = %v", got)
	}
	// An incremental chains to whatever ran last.
	if got := LastBackup(backups, types.BackupIncr); got == nil || got.Label != "20260828-020000F_20260829-080000I" {
		t.Errorf("Incr prior = %v", got)
	}

	if got := LastBackup(nil, types.BackupFull); got != nil {
		t.Errorf("Empty history should yield nil, got %v", got)
	}
}
