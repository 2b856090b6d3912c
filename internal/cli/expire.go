package cli

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/tis24dev/pgsave/internal/metrics"
	"github.com/tis24dev/pgsave/internal/remote"
	"github.com/tis24dev/pgsave/internal/storage"
	"github.com/tis24dev/pgsave/internal/types"
)

func newExpireCommand(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "expire",
		Short: "Remove backups and archive segments outside the retention policy",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := newEnv(g, remote.OpExpire)
			if err != nil {
				return err
			}
			var runErr error
			defer func() { env.Close(runErr) }()

			// Backup and expire share one lock: backup applies retention
			// itself on completion, and a standalone expire must never
			// delete directories out from under an in-flight backup.
			acquired, err := env.AcquireLock(remote.OpBackup)
			if err != nil || !acquired {
				runErr = err
				return err
			}

			started := time.Now()
			result, err := storage.Expire(env.Stanza, env.Logger)
			if err != nil {
				runErr = err
				return exitWith(types.ExitExpireError, err)
			}

			exportRunMetrics(env, "expire", started, &metrics.RunMetrics{
				BackupsRetained: result.BackupsKept,
				BackupsExpired:  len(result.BackupsRemoved),
				SegmentsExpired: result.SegmentsRemoved,
			})
			return nil
		},
	}
}
