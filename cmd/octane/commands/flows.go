package commands

import (
	"fmt"
	"io"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/octane-lb/octane/pkg/amphora"
	"github.com/octane-lb/octane/pkg/engine"
	"github.com/octane-lb/octane/pkg/flows"
)

func newFlowsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "flows",
		Short: "Inspect the flow catalog",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List registered flows",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			reg, err := catalogRegistry()
			if err != nil {
				return err
			}
			return listFlows(cmd.OutOrStdout(), reg)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "show <flow>",
		Short: "Print a flow as a DOT graph",
		Long: `Print the task graph of a flow in DOT format, grouped by execution level.
Render it with Graphviz: octane flows show octane-failover-amphora-master_or_backup | dot -Tsvg`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := catalogRegistry()
			if err != nil {
				return err
			}
			return showFlow(cmd.OutOrStdout(), reg, args[0])
		},
	})

	return cmd
}

// catalogRegistry builds the catalog without a database; flows are only
// built, never run.
func catalogRegistry() (*engine.Registry, error) {
	logger := zerolog.Nop()
	return flows.NewRegistry(flows.Deps{Driver: amphora.NewNoopDriver(logger), Logger: logger})
}

func listFlows(w io.Writer, reg *engine.Registry) error {
	for _, name := range reg.Names() {
		flow, err := reg.Build(name, engine.NewStore())
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "%-45s %d tasks\n", name, len(flow.Tasks())); err != nil {
			return err
		}
	}
	return nil
}

func showFlow(w io.Writer, reg *engine.Registry, name string) error {
	flow, err := reg.Build(name, engine.NewStore())
	if err != nil {
		return err
	}
	builder := engine.NewDAGBuilder()
	if _, err := builder.BuildGraph(flow); err != nil {
		return fmt.Errorf("invalid flow %s: %w", name, err)
	}
	_, err = io.WriteString(w, builder.ToDOT(name))
	return err
}
