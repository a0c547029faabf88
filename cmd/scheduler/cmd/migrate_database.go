package cmd

import (
	"github.com/spf13/cobra"

	"github.com/namanarora00/scheduler/internal/common/database"
	"github.com/namanarora00/scheduler/internal/repository"
)

func migrateDbCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrateDatabase",
		Short: "Apply pending schema migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			config := loadConfig()
			db, err := database.OpenPgxPool(cmd.Context(), config.Postgres)
			if err != nil {
				return err
			}
			defer db.Close()
			return repository.UpdateDatabase(cmd.Context(), db)
		},
	}
}
