// Package db wraps the database control commands the backup engine needs:
// start/stop backup calls over psql and a process-lock liveness probe.
package db

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/tis24dev/pgsave/internal/config"
	"github.com/tis24dev/pgsave/internal/logging"
	"github.com/tis24dev/pgsave/internal/remote"
)

// execCommand is swapped out by tests.
var execCommand = exec.CommandContext

// BackupPosition reports the WAL position returned by a control call.
type BackupPosition struct {
	LSN        string
	WALSegment string
}

// commandRunner executes a shell command on the database host. Satisfied by
// remote.Manager; nil when the database side is local.
type commandRunner interface {
	Run(ctx context.Context, command string, stdin io.Reader, stdout io.Writer) error
}

// Controller is the database control surface consumed by the backup engine.
type Controller interface {
	// IsRunning reports whether the database's process lock file is present.
	IsRunning(ctx context.Context) bool

	// StartBackup invokes pg_backup_start with the given label.
	StartBackup(ctx context.Context, label string, startFast bool) (*BackupPosition, error)

	// StopBackup invokes pg_backup_stop and returns the stop position.
	StopBackup(ctx context.Context) (*BackupPosition, error)
}

// Control issues control calls to one stanza's database through psql. The
// connection goes over TCP, so it works equally when the database host is
// remote to the process running the backup.
type Control struct {
	st     *config.Stanza
	run    commandRunner
	logger *logging.Logger
}

// New creates a control handle for the stanza. run reaches the database
// host when it is remote; pass the remote manager (or nil for local).
func New(st *config.Stanza, run commandRunner, logger *logging.Logger) *Control {
	return &Control{st: st, run: run, logger: logger}
}

// IsRunning checks for postmaster.pid in the data directory, through the
// remote session when the database host is remote. Only a clean "file
// absent" verdict reports not-running; an unreachable host counts as
// running so the no-start-stop safety gate stays closed.
func (c *Control) IsRunning(ctx context.Context) bool {
	path := filepath.Join(c.st.DB.DataPath, "postmaster.pid")
	if c.st.DB.IsRemote() {
		err := c.run.Run(ctx, "test -f "+shellQuote(path), nil, nil)
		if err == nil {
			return true
		}
		return remote.ExitStatus(err) != 1
	}
	_, err := os.Stat(path)
	return err == nil
}

// shellQuote single-quotes a path for the remote shell.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// StartBackup begins an online backup. startFast requests an immediate
// checkpoint instead of waiting for a scheduled one.
func (c *Control) StartBackup(ctx context.Context, label string, startFast bool) (*BackupPosition, error) {
	fast := "false"
	if startFast {
		fast = "true"
	}
	query := fmt.Sprintf(
		"select lsn, pg_walfile_name(lsn) from (select pg_backup_start('%s', %s) as lsn) s",
		label, fast)

	out, err := c.psql(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("pg_backup_start: %w", err)
	}
	pos, err := parsePosition(out)
	if err != nil {
		return nil, fmt.Errorf("pg_backup_start: %w", err)
	}
	c.logger.Debug("Backup started at %s (segment %s)", pos.LSN, pos.WALSegment)
	return pos, nil
}

// StopBackup ends the online backup and returns the stop position; the
// segment holding it must reach the archive before the backup is consistent.
func (c *Control) StopBackup(ctx context.Context) (*BackupPosition, error) {
	query := "select lsn, pg_walfile_name(lsn) from (select (pg_backup_stop(true)).lsn as lsn) s"

	out, err := c.psql(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("pg_backup_stop: %w", err)
	}
	pos, err := parsePosition(out)
	if err != nil {
		return nil, fmt.Errorf("pg_backup_stop: %w", err)
	}
	c.logger.Debug("Backup stopped at %s (segment %s)", pos.LSN, pos.WALSegment)
	return pos, nil
}

func (c *Control) psql(ctx context.Context, query string) (string, error) {
	args := []string{"-At", "-F", "|", "-p", fmt.Sprintf("%d", c.st.DB.Port)}
	if c.st.DB.IsRemote() {
		args = append(args, "-h", c.st.DB.Host)
	}
	if c.st.DB.DBUser != "" {
		args = append(args, "-U", c.st.DB.DBUser)
	}
	if c.st.DB.Database != "" {
		args = append(args, "-d", c.st.DB.Database)
	}
	args = append(args, "-c", query)

	cmd := execCommand(ctx, c.st.DB.PsqlPath, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			return "", fmt.Errorf("%s: %w (%s)", c.st.DB.PsqlPath, err, msg)
		}
		return "", fmt.Errorf("%s: %w", c.st.DB.PsqlPath, err)
	}
	return strings.TrimSpace(stdout.String()), nil
}

func parsePosition(out string) (*BackupPosition, error) {
	fields := strings.Split(strings.TrimSpace(out), "|")
	if len(fields) != 2 || fields[0] == "" || fields[1] == "" {
		return nil, fmt.Errorf("unexpected control output %q", out)
	}
	return &BackupPosition{LSN: fields[0], WALSegment: fields[1]}, nil
}
