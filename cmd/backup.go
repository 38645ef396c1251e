package cmd

import (
	"github.com/spf13/cobra"
)

// newBackupCmd creates the 'backup' subcommand: dump the cars table now.
func newBackupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "backup",
		Short: "Dump all stored listings to JSON and CSV files",

		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			return appInstance.Backup(cmd.Context())
		},
	}
}
