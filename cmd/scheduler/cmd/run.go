package cmd

import (
	"github.com/spf13/cobra"

	"github.com/namanarora00/scheduler/internal/scheduler"
)

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the scheduler workers, the delayed-job mover and the recovery sweeper",
		RunE: func(cmd *cobra.Command, args []string) error {
			return scheduler.Run(loadConfig())
		},
	}
}
