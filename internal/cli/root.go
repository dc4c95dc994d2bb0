// Package cli wires the cobra command tree for the pipeline binary.
package cli

import (
	"github.com/spf13/cobra"
)

func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "dwh-pipeline",
		Short: "Batch pipeline: source API -> staging -> SCD2 snapshots -> star schema",
		Long: `dwh-pipeline ingests operational records from the source API in daily
batches, keeps an immutable SCD2 change history per business entity, and
materializes an analytics-ready star schema. Datasets are declared in a
YAML descriptor file; one generic workflow serves them all.`,
		SilenceUsage: true,
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Help()
		},
	}

	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newDWHCmd())
	rootCmd.AddCommand(newBackupCmd())

	return rootCmd
}
