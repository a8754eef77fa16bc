package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/docutag/lincat/db"
	"github.com/docutag/lincat/logger"
)

func newMigrateCommand(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
	}

	open := func() (*db.DB, error) {
		return db.Open(db.Config{Driver: c.cfg.DatabaseDriver, DSN: c.cfg.DatabaseURL})
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply pending migrations",
			RunE: func(cmd *cobra.Command, _ []string) error {
				database, err := open()
				if err != nil {
					return err
				}
				defer database.Close()

				if err := db.Migrate(database.DB(), database.Driver()); err != nil {
					return err
				}
				c.log.Info("migrations applied", logger.String("driver", database.Driver()))
				return nil
			},
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back the latest migration",
			RunE: func(cmd *cobra.Command, _ []string) error {
				database, err := open()
				if err != nil {
					return err
				}
				defer database.Close()

				if err := db.Rollback(database.DB(), database.Driver()); err != nil {
					return err
				}
				c.log.Info("latest migration rolled back", logger.String("driver", database.Driver()))
				return nil
			},
		},
		&cobra.Command{
			Use:   "status",
			Short: "List migrations and whether they are applied",
			RunE: func(cmd *cobra.Command, _ []string) error {
				database, err := open()
				if err != nil {
					return err
				}
				defer database.Close()

				status, err := db.GetMigrationStatus(database.DB(), database.Driver())
				if err != nil {
					return err
				}

				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "VERSION\tNAME\tAPPLIED")
				for _, s := range status {
					fmt.Fprintf(w, "%d\t%s\t%v\n", s.Version, s.Name, s.Applied)
				}
				return w.Flush()
			},
		},
	)
	return cmd
}
