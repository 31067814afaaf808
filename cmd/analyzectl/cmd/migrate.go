package cmd

import (
	"github.com/spf13/cobra"
)

func newMigrateCmd(migrate Migrator) *cobra.Command {
	var dsn string
	c := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := migrate(dsn); err != nil {
				return err
			}
			cmd.Println("migrations applied")
			return nil
		},
	}
	c.Flags().StringVar(&dsn, "dsn", "", "Postgres DSN (default DB_URL)")
	return c
}
