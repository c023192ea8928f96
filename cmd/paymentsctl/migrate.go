package main

import (
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/spf13/cobra"

	"github.com/joaopba/hcc-med-pay-flow-sub001/internal/repository/postgres"
)

func newMigrateCmd() *cobra.Command {
	var steps int
	cmd := &cobra.Command{
		Use:       "migrate <up|down>",
		Short:     "Apply or roll back database migrations",
		Args:      cobra.ExactValidArgs(1),
		ValidArgs: []string{"up", "down"},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			db, err := postgres.NewDB(cfg.Database)
			if err != nil {
				return err
			}
			defer db.Close()

			driver, err := migratepg.WithInstance(db.DB, &migratepg.Config{})
			if err != nil {
				return fmt.Errorf("failed to create migration driver: %w", err)
			}
			m, err := migrate.NewWithDatabaseInstance(cfg.Database.MigrationsPath, "postgres", driver)
			if err != nil {
				return fmt.Errorf("failed to load migrations: %w", err)
			}

			switch {
			case args[0] == "up" && steps > 0:
				err = m.Steps(steps)
			case args[0] == "up":
				err = m.Up()
			case steps > 0:
				err = m.Steps(-steps)
			default:
				err = m.Down()
			}
			if err != nil && !errors.Is(err, migrate.ErrNoChange) {
				return fmt.Errorf("failed to migrate %s: %w", args[0], err)
			}

			version, dirty, verr := m.Version()
			if verr != nil && !errors.Is(verr, migrate.ErrNilVersion) {
				return verr
			}
			fmt.Fprintf(cmd.OutOrStdout(), "schema version %d (dirty=%t)\n", version, dirty)
			return nil
		},
	}
	cmd.Flags().IntVar(&steps, "steps", 0, "number of migrations to apply; 0 means all")
	return cmd
}
