package cli

import (
	"errors"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/tis24dev/pgsave/internal/backup"
	"github.com/tis24dev/pgsave/internal/db"
	"github.com/tis24dev/pgsave/internal/metrics"
	"github.com/tis24dev/pgsave/internal/remote"
	"github.com/tis24dev/pgsave/internal/storage"
	"github.com/tis24dev/pgsave/internal/types"
	"github.com/tis24dev/pgsave/internal/version"
)

func newBackupCommand(g *globalFlags) *cobra.Command {
	var (
		backupType  string
		noStartStop bool
		force       bool
	)

	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Take a backup of the stanza's cluster",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			btype, ok := types.ParseBackupType(backupType)
			if !ok {
				return Exit(types.ExitArgumentError, errors.New("--type must be full, diff, or incr"))
			}

			env, err := newEnv(g, remote.OpBackup)
			if err != nil {
				return err
			}
			var runErr error
			defer func() { env.Close(runErr) }()

			acquired, err := env.AcquireLock(remote.OpBackup)
			if err != nil || !acquired {
				runErr = err
				return err
			}

			st := env.Stanza
			opts := backup.Options{
				Type:            btype,
				NoStartStop:     noStartStop,
				Force:           force,
				Compress:        st.Options.Compress,
				CompressLevel:   st.Options.CompressLevel,
				Hardlink:        st.Options.Hardlink,
				NoChecksum:      st.Options.NoChecksum,
				ThreadMax:       st.Options.ThreadMax,
				ThreadTimeout:   st.Options.ThreadTimeout,
				ArchiveRequired: st.Options.ArchiveRequired,
				StartFast:       st.Options.StartFast,
			}

			var ctl db.Controller = db.New(st, env.Mgr, env.Logger)
			engine, err := backup.NewEngine(cmd.Context(), st, ctl, env.Svc, env.Side, env.Mgr, env.Logger, opts)
			if err != nil {
				runErr = err
				return err
			}

			started := time.Now()
			m, result, err := engine.Run(cmd.Context())
			if err != nil {
				runErr = err
				return exitWith(types.ExitBackupError, err)
			}

			// A finished backup immediately applies retention so the
			// repository never grows past policy between scheduled expires.
			expireResult, err := storage.Expire(st, env.Logger)
			if err != nil {
				runErr = err
				return exitWith(types.ExitExpireError, err)
			}

			exportRunMetrics(env, "backup", started, &metrics.RunMetrics{
				BackupType:      m.Type.String(),
				BackupLabel:     m.Label,
				FilesCopied:     result.FilesCopied,
				FilesReferenced: result.FilesReferenced,
				FilesFailed:     result.FilesFailed,
				BytesCopied:     result.BytesCopied,
				BackupsRetained: expireResult.BackupsKept,
				BackupsExpired:  len(expireResult.BackupsRemoved),
				SegmentsExpired: expireResult.SegmentsRemoved,
			})
			return nil
		},
	}

	cmd.Flags().StringVar(&backupType, "type", "incr", "backup type (full|diff|incr)")
	cmd.Flags().BoolVar(&noStartStop, "no-start-stop", false, "skip the start/stop backup bracket (cluster must be stopped)")
	cmd.Flags().BoolVar(&force, "force", false, "with --no-start-stop, proceed even if the database appears to be running")
	return cmd
}

// exportRunMetrics fills the ambient fields and writes the textfile. Export
// failures are logged, never fatal: metrics must not break a backup.
func exportRunMetrics(env *Env, operation string, started time.Time, m *metrics.RunMetrics) {
	hostname, _ := os.Hostname()
	m.Stanza = env.Stanza.Name
	m.Operation = operation
	m.Hostname = hostname
	m.Version = version.String()
	m.StartTime = started
	m.EndTime = time.Now()
	m.Duration = time.Since(started)
	m.ErrorCount = env.Logger.ErrorCount()
	m.WarningCount = env.Logger.WarningCount()

	exporter := metrics.NewPrometheusExporter(env.Stanza.MetricsDir(), env.Logger)
	if err := exporter.Export(m); err != nil {
		env.Logger.Warning("Metrics export: %v", err)
	}
}
