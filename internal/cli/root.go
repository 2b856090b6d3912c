package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tis24dev/pgsave/internal/config"
	"github.com/tis24dev/pgsave/internal/version"
)

type globalFlags struct {
	stanza     string
	configPath string
	logLevel   string
}

// NewRootCommand builds the pgsave command tree.
func NewRootCommand() *cobra.Command {
	g := &globalFlags{}

	root := &cobra.Command{
		Use:   "pgsave",
		Short: "PostgreSQL backup, WAL archiving, and retention",
		Long: `pgsave manages physical PostgreSQL backups: full/differential/incremental
snapshots, continuous WAL archiving (archive_command / restore_command),
and policy-driven expiration of obsolete backups and segments.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&g.stanza, "stanza", "", "stanza to operate on")
	root.PersistentFlags().StringVarP(&g.configPath, "config", "c", config.DefaultPath, "configuration file")
	root.PersistentFlags().StringVar(&g.logLevel, "log-level", "", "override configured log level (error|warning|info|debug)")

	root.AddCommand(
		newBackupCommand(g),
		newExpireCommand(g),
		newArchivePushCommand(g),
		newArchiveGetCommand(g),
		newInfoCommand(g),
		newVersionCommand(),
	)
	return root
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the pgsave version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "pgsave %s\n", version.Detailed())
		},
	}
}
