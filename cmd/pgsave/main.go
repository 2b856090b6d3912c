// Command pgsave is the PostgreSQL backup, WAL archiving, and retention
// tool. It is invoked by operators (backup, expire, info) and by Postgres
// itself through archive_command and restore_command.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/tis24dev/pgsave/internal/cli"
	"github.com/tis24dev/pgsave/internal/types"
)

func main() {
	os.Exit(run())
}

func run() (code int) {
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stderr, "panic: %v\n%s\n", r, debug.Stack())
			code = types.ExitPanicError.Int()
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Signal-driven teardown runs through the same context cancellation as
	// any other failure: remote sessions close, worker pools stop, the run
	// trailer is logged. Locks are left in place; the next run detects the
	// dead holder and reclaims them.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	go func() {
		sig := <-sigCh
		fmt.Fprintf(os.Stderr, "received %s, shutting down\n", sig)
		cancel()
		// A second signal aborts immediately.
		<-sigCh
		os.Exit(types.ExitSignalError.Int())
	}()

	root := cli.NewRootCommand()
	err := root.ExecuteContext(ctx)
	if err == nil {
		return types.ExitSuccess.Int()
	}

	// Intentional non-zero outcomes (archive-get "segment absent") carry
	// no error to print.
	var exitErr *cli.ExitError
	if !errors.As(err, &exitErr) || exitErr.Err != nil {
		fmt.Fprintf(os.Stderr, "pgsave: %v\n", err)
	}
	return cli.CodeFor(err)
}
