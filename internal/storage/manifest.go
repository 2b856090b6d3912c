// Package storage manages the backup repository: snapshot manifests, the
// backup inventory, and the retention/expiration engine.
package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tis24dev/pgsave/internal/types"
)

// ManifestFileName is the per-snapshot metadata file inside each backup
// directory. Plain YAML on purpose: recovery must be possible with nothing
// but a shell.
const ManifestFileName = "backup.manifest"

const labelTimeFormat = "20060102-150405"

// FileInfo describes one cluster file captured by a backup.
type FileInfo struct {
	// Path is relative to the cluster data directory.
	Path     string    `yaml:"path"`
	Size     int64     `yaml:"size"`
	ModTime  time.Time `yaml:"mtime"`
	Checksum string    `yaml:"checksum,omitempty"`

	// Reference names the earlier backup whose copy of this file is reused
	// (hardlink or unchanged-file reference in diff/incr backups).
	Reference string `yaml:"reference,omitempty"`
}

// Manifest records one backup snapshot.
type Manifest struct {
	Label     string           `yaml:"label"`
	Stanza    string           `yaml:"stanza"`
	Type      types.BackupType `yaml:"type"`
	Prior     string           `yaml:"prior,omitempty"`
	Timestamp time.Time        `yaml:"timestamp"`

	// WAL positions bracketing the backup; the stop segment must reach the
	// archive before the snapshot is recoverable.
	WALStart string `yaml:"wal-start,omitempty"`
	WALStop  string `yaml:"wal-stop,omitempty"`

	// Consistent is false for forced no-start-stop backups taken while the
	// database appeared to be running.
	Consistent bool `yaml:"consistent"`

	Compress bool `yaml:"compress"`
	Hardlink bool `yaml:"hardlink"`
	Checksum bool `yaml:"checksum"`

	Files []FileInfo `yaml:"files"`
}

// MakeLabel builds a backup label. Full backups stand alone; dependent
// backups chain onto their root full's label so ancestry is visible in the
// directory name (pgBackRest-style).
func MakeLabel(t types.BackupType, prior *Manifest, now time.Time) string {
	stamp := now.Format(labelTimeFormat)
	switch t {
	case types.BackupFull:
		return stamp + "F"
	case types.BackupDiff:
		return prior.RootLabel() + "_" + stamp + "D"
	default:
		return prior.RootLabel() + "_" + stamp + "I"
	}
}

// RootLabel returns the label of the full backup this manifest's chain is
// rooted at (its own label for a full backup).
func (m *Manifest) RootLabel() string {
	if i := strings.IndexByte(m.Label, '_'); i >= 0 {
		return m.Label[:i]
	}
	return m.Label
}

// TotalBytes sums the sizes of all captured files.
func (m *Manifest) TotalBytes() int64 {
	var total int64
	for _, f := range m.Files {
		total += f.Size
	}
	return total
}

// Write stores the manifest inside the backup directory.
func (m *Manifest) Write(backupDir string) error {
	data, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	path := filepath.Join(backupDir, ManifestFileName)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write manifest %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("finalize manifest %s: %w", path, err)
	}
	return nil
}

// LoadManifest reads one backup's manifest file.
func LoadManifest(backupDir string) (*Manifest, error) {
	path := filepath.Join(backupDir, ManifestFileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest %s: %w", path, err)
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest %s: %w", path, err)
	}
	return &m, nil
}

// ListBackups loads every snapshot manifest under the stanza backup
// directory, oldest first. Directories without a manifest (an interrupted
// backup that never finalized) are skipped; they are invisible to both the
// inventory and retention, and never count as retained.
func ListBackups(backupDir string) ([]*Manifest, error) {
	entries, err := os.ReadDir(backupDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read backup directory %s: %w", backupDir, err)
	}

	var backups []*Manifest
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		m, err := LoadManifest(filepath.Join(backupDir, entry.Name()))
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return nil, err
		}
		backups = append(backups, m)
	}

	sort.Slice(backups, func(i, j int) bool {
		if backups[i].Timestamp.Equal(backups[j].Timestamp) {
			return backups[i].Label < backups[j].Label
		}
		return backups[i].Timestamp.Before(backups[j].Timestamp)
	})
	return backups, nil
}

// LastBackup returns the newest backup the given type depends on: the last
// full for a differential, the last backup of any type for an incremental.
// Returns nil when no suitable prior exists (caller falls back to full).
func LastBackup(backups []*Manifest, t types.BackupType) *Manifest {
	for i := len(backups) - 1; i >= 0; i-- {
		switch t {
		case types.BackupDiff:
			if backups[i].Type == types.BackupFull {
				return backups[i]
			}
		case types.BackupIncr:
			return backups[i]
		}
	}
	return nil
}
