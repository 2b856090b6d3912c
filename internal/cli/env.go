// Package cli wires the pgsave commands: per-operation flag handling plus
// the Env setup/teardown every operation shares.
package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/term"

	"github.com/tis24dev/pgsave/internal/config"
	"github.com/tis24dev/pgsave/internal/lockfile"
	"github.com/tis24dev/pgsave/internal/logging"
	"github.com/tis24dev/pgsave/internal/remote"
	"github.com/tis24dev/pgsave/internal/transfer"
	"github.com/tis24dev/pgsave/internal/types"
	"github.com/tis24dev/pgsave/pkg/utils"
)

// Env is the per-run orchestration context: resolved configuration, remote
// topology, logging, and the transfer service. Built once per command,
// torn down exactly once on every exit path.
type Env struct {
	Cfg     *config.Config
	Stanza  *config.Stanza
	Side    types.RemoteSide
	Logger  *logging.Logger
	Session *logging.Session
	Mgr     *remote.Manager
	Svc     transfer.Service

	lock *lockfile.Lock
}

// newEnv resolves the stanza, checks operation placement, opens the stanza
// log, and builds the remote session manager and transfer service. The
// lock, when the operation needs one, is acquired separately so lock
// contention can be reported as skipped work rather than a setup failure.
func newEnv(g *globalFlags, operation string) (*Env, error) {
	cfg, err := config.Load(g.configPath)
	if err != nil {
		return nil, Exit(types.ExitConfigError, err)
	}

	st, err := cfg.Stanza(g.stanza)
	if err != nil {
		return nil, Exit(types.ExitConfigError, err)
	}

	side, err := remote.Resolve(st)
	if err != nil {
		return nil, Exit(types.ExitConfigError, err)
	}
	if err := remote.CheckPlacement(operation, side); err != nil {
		return nil, Exit(types.ExitConfigError, err)
	}

	level := cfg.LogLevel
	if g.logLevel != "" {
		parsed, ok := types.ParseLogLevel(g.logLevel)
		if !ok {
			return nil, Exit(types.ExitArgumentError, fmt.Errorf("unknown log level %q", g.logLevel))
		}
		level = parsed
	}

	useColor := cfg.UseColor && term.IsTerminal(int(os.Stderr.Fd()))
	logger := logging.New(level, useColor)
	// Log file failures are not fatal; stderr still works.
	if logPath := st.LocalLogPath(side); logPath != "" {
		if err := utils.EnsureDir(filepath.Dir(logPath)); err != nil {
			logger.Warning("Cannot create log directory: %v", err)
		} else if err := logger.OpenLogFile(logPath); err != nil {
			logger.Warning("Cannot open log file: %v", err)
		}
	}

	env := &Env{
		Cfg:    cfg,
		Stanza: st,
		Side:   side,
		Logger: logger,
	}
	env.Session = logging.StartSession(logger, operation, st.Name)

	if side != types.RemoteNone {
		env.Mgr = remote.NewManager(remote.EndpointFor(st, side), logger)
	}

	svc, err := transfer.New(st, side, env.Mgr, logger)
	if err != nil {
		env.Close(err)
		return nil, Exit(types.ExitConfigError, err)
	}
	env.Svc = svc
	return env, nil
}

// AcquireLock takes the per-(stanza, operation) repository lock. Returns
// false without error when another live process holds it; the operation is
// skipped, which is a success outcome.
func (e *Env) AcquireLock(operation string) (bool, error) {
	lock, acquired, err := lockfile.Acquire(e.Stanza.RepoLockPath(operation))
	if err != nil {
		return false, Exit(types.ExitLockError, err)
	}
	if !acquired {
		e.Logger.Skip("Another %s is already running for stanza %s", operation, e.Stanza.Name)
		return false, nil
	}
	e.lock = lock
	return true, nil
}

// Close tears the run down: session trailer, remote session, lock, log
// file. Idempotent per resource; safe on every exit path including
// signal-driven cancellation.
func (e *Env) Close(runErr error) {
	if e == nil {
		return
	}
	e.Session.End(runErr)
	if e.Mgr != nil {
		e.Mgr.Close()
	}
	if e.lock != nil {
		if err := e.lock.Release(); err != nil {
			e.Logger.Warning("Release lock: %v", err)
		}
		e.lock = nil
	}
	if e.Logger != nil {
		e.Logger.CloseLogFile()
	}
}
