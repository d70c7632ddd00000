package commands

import (
	"github.com/spf13/cobra"

	"github.com/octane-lb/octane/pkg/controller"
)

func newFailoverCommand() *cobra.Command {
	var submit bool

	cmd := &cobra.Command{
		Use:   "failover",
		Short: "Replace failed amphorae",
		Long: `Fail over one amphora, or every amphora of a load balancer.

A load balancer failover replaces BACKUP amphorae first. On failure the load
balancer is left in ERROR.`,
	}
	cmd.PersistentFlags().BoolVar(&submit, "submit", false, "submit the job to the queue instead of running it")

	cmd.AddCommand(&cobra.Command{
		Use:     "amphora <amphora-id>",
		Short:   "Fail over a single amphora",
		Example: `  octane failover amphora 0d6b...`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOrSubmit(cmd.Context(), submit, args[0], "failover_amphora",
				controller.AmphoraParams{AmphoraID: args[0]})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:     "loadbalancer <load-balancer-id>",
		Aliases: []string{"lb"},
		Short:   "Fail over every amphora of a load balancer",
		Example: `  octane failover lb 6f1c... --submit`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOrSubmit(cmd.Context(), submit, args[0], "failover_loadbalancer",
				controller.LoadBalancerParams{LoadBalancerID: args[0]})
		},
	})

	return cmd
}
