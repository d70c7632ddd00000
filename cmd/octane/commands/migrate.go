package commands

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		Long: `Apply the embedded schema migrations to the configured database.

Migrations are idempotent; running migrate on an up-to-date database does nothing.`,
		Example: `  octane migrate --config /etc/octane/octane.yaml`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			store, err := openStore(cmd.Context(), cfg.Database)
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.Migrate(cmd.Context()); err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			log.Info().Str("driver", cfg.Database.Driver).Msg("Database schema is up to date")
			return nil
		},
	}
}
