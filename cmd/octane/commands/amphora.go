package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/octane-lb/octane/pkg/controller"
)

func newAmphoraCommand() *cobra.Command {
	var submit bool

	cmd := &cobra.Command{
		Use:   "amphora",
		Short: "Maintain amphorae",
	}
	cmd.PersistentFlags().BoolVar(&submit, "submit", false, "submit the job to the queue instead of running it")

	cmd.AddCommand(&cobra.Command{
		Use:   "rotate-cert <amphora-id>",
		Short: "Install a fresh server certificate on an amphora",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOrSubmit(cmd.Context(), submit, args[0], "amphora_cert_rotation",
				controller.AmphoraParams{AmphoraID: args[0]})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "agent-config <amphora-id>",
		Short: "Rewrite the agent configuration of an amphora",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOrSubmit(cmd.Context(), submit, args[0], "update_amphora_agent_config",
				controller.AmphoraParams{AmphoraID: args[0]})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "delete <amphora-id>",
		Short: "Delete an amphora and release its compute instance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOrSubmit(cmd.Context(), submit, args[0], "delete_amphora",
				controller.AmphoraParams{AmphoraID: args[0]})
		},
	})

	var zone string
	createSpare := &cobra.Command{
		Use:   "create-spare",
		Short: "Build one spare amphora",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), func(a *app) error {
				id, err := a.worker.CreateAmphora(cmd.Context(), controller.CreateAmphoraParams{AvailabilityZone: zone})
				if err != nil {
					return err
				}
				if id == "" {
					return fmt.Errorf("spare amphora build failed, see the log for the cause")
				}
				return printResult(id, map[string]string{"amphora_id": id, "availability_zone": zone})
			})
		},
	}
	createSpare.Flags().StringVar(&zone, "availability-zone", "", "availability zone of the spare")
	cmd.AddCommand(createSpare)

	return cmd
}
