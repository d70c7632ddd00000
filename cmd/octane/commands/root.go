package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/octane-lb/octane/pkg/config"
)

var (
	// Global flags
	configPath string
	jsonOutput bool
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "octane",
		Short: "Octane - load balancer control plane",
		Long: `Octane orchestrates the lifecycle of amphora-based load balancers.

It consumes provisioning jobs from a queue, runs the matching flow for each
one (create, update, delete, failover), keeps a pool of spare amphorae ready
and writes the final provisioning status back to the database.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	rootCmd.AddCommand(newServeCommand())
	rootCmd.AddCommand(newMigrateCommand())
	rootCmd.AddCommand(newJobCommand())
	rootCmd.AddCommand(newFailoverCommand())
	rootCmd.AddCommand(newAmphoraCommand())
	rootCmd.AddCommand(newZonesCommand())
	rootCmd.AddCommand(newFlowsCommand())

	return rootCmd
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}
