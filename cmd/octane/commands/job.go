package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/octane-lb/octane/pkg/controller"
	"github.com/octane-lb/octane/pkg/queue"
)

func newJobCommand() *cobra.Command {
	var submit bool

	cmd := &cobra.Command{
		Use:   "job <operation> <payload>",
		Short: "Run or submit a controller job",
		Long: `Run one controller operation in-process, or submit it to the job topic
with --submit. The payload is the JSON parameter object of the operation.

Operations:
  ` + strings.Join(controller.Operations(), "\n  "),
		Example: `  # Build a load balancer that the API has committed
  octane job create_load_balancer '{"loadbalancer_id":"6f1c..."}'

  # Queue a member update for a running controller
  octane job update_member '{"member_id":"a3e0...","updates":{"weight":5}}' --submit`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var payload json.RawMessage
			if err := json.Unmarshal([]byte(args[1]), &payload); err != nil {
				return fmt.Errorf("payload is not valid JSON: %w", err)
			}
			return runOrSubmit(cmd.Context(), submit, args[0], args[0], payload)
		},
	}

	cmd.Flags().BoolVar(&submit, "submit", false, "submit the job to the queue instead of running it")

	return cmd
}

// runOrSubmit runs operation through the worker, or writes it to the job
// topic keyed by key when submit is set.
func runOrSubmit(ctx context.Context, submit bool, key, operation string, params any) error {
	if submit {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if !cfg.Queue.Enabled {
			return fmt.Errorf("--submit needs the queue to be enabled")
		}
		jw := queue.NewJobWriter(cfg.Queue.Brokers, cfg.Queue.Topic)
		defer jw.Close()
		if err := jw.Submit(ctx, key, operation, params); err != nil {
			return err
		}
		log.Info().Str("operation", operation).Str("topic", cfg.Queue.Topic).Msg("Job submitted")
		return nil
	}

	payload, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("failed to encode %s parameters: %w", operation, err)
	}
	return withApp(ctx, func(a *app) error {
		if err := a.worker.Dispatch(ctx, operation, payload); err != nil {
			return err
		}
		log.Info().Str("operation", operation).Msg("Job completed")
		return nil
	})
}
