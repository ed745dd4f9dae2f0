package cmd

import (
	"github.com/spf13/cobra"

	"github.com/monocle-dev/relay/db"
	"github.com/monocle-dev/relay/internal/logging"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create any missing relay tables",
	Long: `Create the tables the relay reads and writes when they do not exist yet.
Intended for local development; in production the web tier owns the schema.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		conn, err := db.ConnectDatabase(cfg.DB.DSN)
		if err != nil {
			return err
		}

		if err := db.MigrateDatabase(conn); err != nil {
			return err
		}

		logging.Component("migrate").Info("migrations complete")
		return nil
	},
}
