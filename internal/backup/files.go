package backup

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/tis24dev/pgsave/internal/config"
	"github.com/tis24dev/pgsave/internal/remote"
	"github.com/tis24dev/pgsave/internal/storage"
	"github.com/tis24dev/pgsave/internal/types"
)

// Directories whose contents are never copied: WAL is archived separately,
// the rest is runtime state Postgres rebuilds on start.
var skipDirs = map[string]bool{
	"pg_wal":       true,
	"pg_xlog":      true,
	"pg_replslot":  true,
	"pg_dynshmem":  true,
	"pg_notify":    true,
	"pg_serial":    true,
	"pg_snapshots": true,
	"pg_stat_tmp":  true,
	"pg_subtrans":  true,
}

var skipFiles = map[string]bool{
	"postmaster.pid":  true,
	"postmaster.opts": true,
}

func skipEntry(name string) bool {
	if skipFiles[name] {
		return true
	}
	return strings.HasPrefix(name, "pgsql_tmp")
}

// listClusterFiles enumerates the files a backup must capture, relative to
// the cluster data directory. For a remote database the listing runs over
// the SSH session.
func listClusterFiles(ctx context.Context, st *config.Stanza, side types.RemoteSide, mgr *remote.Manager) ([]storage.FileInfo, error) {
	if side == types.RemoteDatabase {
		return listRemote(ctx, st, mgr)
	}
	return listLocal(st.DB.DataPath)
}

func listLocal(dataPath string) ([]storage.FileInfo, error) {
	var files []storage.FileInfo
	err := filepath.WalkDir(dataPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, relErr := filepath.Rel(dataPath, path)
		if relErr != nil {
			return relErr
		}
		if rel == "." {
			return nil
		}
		if d.IsDir() {
			if skipDirs[rel] {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || skipEntry(d.Name()) {
			return nil
		}
		info, infoErr := d.Info()
		if infoErr != nil {
			return infoErr
		}
		files = append(files, storage.FileInfo{
			Path:    rel,
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("enumerate cluster files in %s: %w", dataPath, err)
	}
	return files, nil
}

// listRemote runs find on the database host and parses size, mtime, and
// relative path per line. Prune expressions mirror the local skip set.
func listRemote(ctx context.Context, st *config.Stanza, mgr *remote.Manager) ([]storage.FileInfo, error) {
	var prune []string
	for dir := range skipDirs {
		prune = append(prune, fmt.Sprintf("-path './%s' -prune -o", dir))
	}
	command := fmt.Sprintf("cd %s && find . %s -type f -printf '%%s\\t%%T@\\t%%P\\n'",
		shellQuote(st.DB.DataPath), strings.Join(prune, " "))

	var out bytes.Buffer
	if err := mgr.Run(ctx, command, nil, &out); err != nil {
		return nil, fmt.Errorf("enumerate remote cluster files: %w", err)
	}

	var files []storage.FileInfo
	scanner := bufio.NewScanner(&out)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		parts := strings.SplitN(line, "\t", 3)
		if len(parts) != 3 || parts[2] == "" {
			continue
		}
		rel := parts[2]
		if skipEntry(filepath.Base(rel)) {
			continue
		}
		size, err := strconv.ParseInt(parts[0], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse remote listing line %q: %w", line, err)
		}
		mtime, err := strconv.ParseFloat(parts[1], 64)
		if err != nil {
			return nil, fmt.Errorf("parse remote listing line %q: %w", line, err)
		}
		sec := int64(mtime)
		files = append(files, storage.FileInfo{
			Path:    rel,
			Size:    size,
			ModTime: time.Unix(sec, int64((mtime-float64(sec))*1e9)),
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read remote listing: %w", err)
	}
	return files, nil
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
