package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/tis24dev/pgsave/internal/archive"
	"github.com/tis24dev/pgsave/internal/remote"
	"github.com/tis24dev/pgsave/internal/transfer"
	"github.com/tis24dev/pgsave/internal/types"
)

func newArchivePushCommand(g *globalFlags) *cobra.Command {
	var spoolDrain bool

	cmd := &cobra.Command{
		Use:   "archive-push <segment-path>",
		Short: "Archive one WAL segment (archive_command)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := newEnv(g, remote.OpArchivePush)
			if err != nil {
				return err
			}
			var runErr error
			defer func() { env.Close(runErr) }()

			pipe := archive.NewPipeline(env.Stanza, env.Side, env.Svc, env.Logger, g.configPath)

			if spoolDrain {
				if err := pipe.Drain(cmd.Context()); err != nil {
					runErr = err
					return exitWith(types.ExitArchiveError, err)
				}
				return nil
			}

			var segPath string
			if len(args) > 0 {
				segPath = args[0]
			}
			if err := pipe.Push(cmd.Context(), segPath); err != nil {
				runErr = err
				if errors.Is(err, archive.ErrMissingArgument) {
					return err
				}
				return exitWith(types.ExitArchiveError, err)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&spoolDrain, "spool-drain", false, "drain the archive spool (internal)")
	cmd.Flags().MarkHidden("spool-drain")
	return cmd
}

func newArchiveGetCommand(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "archive-get <segment> <destination>",
		Short: "Fetch one WAL segment from the archive (restore_command)",
		Long: `Fetch one archived WAL segment into the destination path. The exit code
is the fetch result: 0 when the segment was restored, 1 when it is not in
the archive (normal at end of recovery), 2 on failure.`,
		Args: cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := newEnv(g, remote.OpArchiveGet)
			if err != nil {
				return err
			}
			var runErr error
			defer func() { env.Close(runErr) }()

			var name, dst string
			if len(args) > 0 {
				name = args[0]
			}
			if len(args) > 1 {
				dst = args[1]
			}

			pipe := archive.NewPipeline(env.Stanza, env.Side, env.Svc, env.Logger, g.configPath)
			code, err := pipe.Get(cmd.Context(), name, dst)
			if err != nil {
				runErr = err
				if errors.Is(err, archive.ErrMissingArgument) {
					return err
				}
				// Recovery reads the exit status, not the log: the raw
				// fetch code goes through verbatim.
				return &ExitError{Code: code, Err: err}
			}
			if code != transfer.FetchFound {
				return &ExitError{Code: code}
			}
			return nil
		},
	}
}
