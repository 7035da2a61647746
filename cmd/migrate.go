package main

import (
	"nfcunha/orchestrator/core/repository"
	"nfcunha/orchestrator/database"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the database schema and exit",
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			db, err := database.Open(cfg.Store.DBPath)
			if err != nil {
				return err
			}
			defer db.Close()

			if cfg.Store.Driver == "bolt" {
				store, err := repository.OpenBoltContainerStore(cfg.Store.BoltPath)
				if err != nil {
					return err
				}
				defer store.Close()
			}

			logrus.Info("Database schema is up to date")
			return nil
		},
	}
}
