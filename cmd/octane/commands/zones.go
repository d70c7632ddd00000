package commands

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newZonesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "zones <project-id>",
		Short: "Show the availability zones a project is restricted to",
		Long: `Look up the compute_zones attribute of a project in the identity service.

An unrestricted project (attribute absent, empty or ALL) prints "unrestricted".`,
		Example: `  octane zones 9a3f... --json`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.Identity.AuthURL == "" {
				return fmt.Errorf("identity.auth_url is not configured")
			}

			r, err := newZoneResolver(cmd.Context(), cfg.Identity, log.Logger)
			if err != nil {
				return err
			}
			allowed, err := r.GetRestrictedZones(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			text := "unrestricted"
			if allowed != nil {
				text = strings.Join(allowed, "\n")
			}
			return printResult(text, map[string]any{
				"project_id":       args[0],
				"restricted":       allowed != nil,
				"restricted_zones": allowed,
			})
		},
	}
}
