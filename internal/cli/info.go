package cli

import (
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/tis24dev/pgsave/internal/remote"
	"github.com/tis24dev/pgsave/internal/storage"
	"github.com/tis24dev/pgsave/internal/tui"
	"github.com/tis24dev/pgsave/internal/types"
	"github.com/tis24dev/pgsave/pkg/utils"
)

func newInfoCommand(g *globalFlags) *cobra.Command {
	var interactive bool

	cmd := &cobra.Command{
		Use:   "info",
		Short: "Show the stanza's backup inventory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := newEnv(g, remote.OpInfo)
			if err != nil {
				return err
			}
			var runErr error
			defer func() { env.Close(runErr) }()

			if env.Side == types.RemoteBackup {
				runErr = errors.New("info reads the repository directly and must run on the backup host")
				return Exit(types.ExitConfigError, runErr)
			}

			backups, err := storage.ListBackups(env.Stanza.BackupDir())
			if err != nil {
				runErr = err
				return Exit(types.ExitGenericError, err)
			}

			if interactive {
				tui.SetAbortContext(cmd.Context())
				if err := tui.NewBrowser(env.Stanza.Name, backups).Run(); err != nil {
					runErr = err
					return Exit(types.ExitGenericError, err)
				}
				return nil
			}

			out := cmd.OutOrStdout()
			if len(backups) == 0 {
				fmt.Fprintf(out, "stanza %s: no backups\n", env.Stanza.Name)
				return nil
			}

			fmt.Fprintf(out, "stanza: %s\n\n", env.Stanza.Name)
			w := tabwriter.NewWriter(out, 2, 4, 2, ' ', 0)
			fmt.Fprintln(w, "LABEL\tTYPE\tTIMESTAMP\tSIZE\tWAL STOP\tSTATE")
			var total int64
			for _, m := range backups {
				state := "consistent"
				if !m.Consistent {
					state = "inconsistent"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
					m.Label,
					utils.TitleCase(m.Type.String()),
					m.Timestamp.Format("2006-01-02 15:04:05"),
					utils.FormatBytes(m.TotalBytes()),
					m.WALStop,
					state,
				)
				total += m.TotalBytes()
			}
			w.Flush()
			fmt.Fprintf(out, "\n%d backups, %s\n", len(backups), utils.FormatBytes(total))
			return nil
		},
	}

	cmd.Flags().BoolVar(&interactive, "interactive", false, "browse the inventory in a full-screen view")
	return cmd
}
