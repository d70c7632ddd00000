package commands

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/octane-lb/octane/pkg/config"
	"github.com/octane-lb/octane/pkg/housekeeping"
	"github.com/octane-lb/octane/pkg/queue"
	"github.com/octane-lb/octane/pkg/telemetry"
)

func newServeCommand() *cobra.Command {
	var migrate bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the controller",
		Long: `Run the controller until interrupted.

serve starts:
  - the job consumer, when the queue is enabled
  - the event writer, when an events topic is set
  - the spare pool loop, when housekeeping is enabled
  - the metrics endpoint, when metrics are enabled
  - a watcher on the config file that applies the log level and the spare
    pool size without a restart`,
		Example: `  # Run with a config file, migrating the schema first
  octane serve --config /etc/octane/octane.yaml --migrate`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), migrate)
		},
	}

	cmd.Flags().BoolVar(&migrate, "migrate", false, "apply database migrations before starting")

	return cmd
}

func serve(ctx context.Context, migrate bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	// loggers pass everything and the global level filters, so a reload
	// can lower the level as well as raise it
	level := cfg.Telemetry.Logging.Level
	cfg.Telemetry.Logging.Level = "trace"
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close()
	cfg.Telemetry.Logging.Level = level
	telemetry.SetGlobalLevel(level)

	logger := a.tel.Logger.NewComponentLogger("serve").Zerolog()

	if migrate {
		if err := a.store.Migrate(ctx); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	if err := a.tel.StartMetricsServer(); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	pool := housekeeping.NewSparePool(a.store, a.worker,
		cfg.Controller.SpareAmphoraPoolSize, cfg.Housekeeping.Zones, a.tel.Metrics, logger)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-ctx.Done()
		return nil
	})

	if cfg.Queue.Enabled {
		consumer := queue.NewConsumer(queue.Config{
			Brokers:        cfg.Queue.Brokers,
			Topic:          cfg.Queue.Topic,
			GroupID:        cfg.Queue.GroupID,
			Workers:        cfg.Controller.Workers,
			MinBytes:       cfg.Queue.MinBytes,
			MaxBytes:       cfg.Queue.MaxBytes,
			MaxWait:        cfg.Queue.MaxWait,
			CommitInterval: cfg.Queue.CommitInterval,
		}, a.worker, queue.WithMetrics(a.tel.Metrics), queue.WithLogger(logger))
		defer consumer.Close()
		g.Go(func() error { return consumer.Run(ctx) })

		if cfg.Queue.EventsTopic != "" {
			events := queue.NewEventWriter(cfg.Queue.Brokers, cfg.Queue.EventsTopic, logger)
			defer events.Close()
			events.Attach(a.tel.Events, nil)
		}
	}

	if cfg.Housekeeping.Enabled {
		g.Go(func() error { return pool.Run(ctx, cfg.Housekeeping.Interval) })
	}

	if configPath != "" {
		w := config.NewWatcher(configPath, cfg, logger)
		w.OnChange(applyReload(a, pool, logger))
		g.Go(func() error { return w.Run(ctx) })
	}

	logger.Info().
		Bool("queue", cfg.Queue.Enabled).
		Bool("housekeeping", cfg.Housekeeping.Enabled).
		Bool("restrict_zones", cfg.Identity.RestrictZones).
		Str("amphora_driver", cfg.Amphora.Driver).
		Msg("Controller started")

	err = g.Wait()
	logger.Info().Msg("Controller stopped")
	return err
}

// applyReload applies the settings that can change without a restart.
func applyReload(a *app, pool *housekeeping.SparePool, logger zerolog.Logger) config.ChangeFunc {
	return func(prev, next *config.Config) {
		if prev.Telemetry.Logging.Level != next.Telemetry.Logging.Level {
			telemetry.SetGlobalLevel(next.Telemetry.Logging.Level)
			logger.Info().Str("level", next.Telemetry.Logging.Level).Msg("Log level changed")
		}
		if size := next.Controller.SpareAmphoraPoolSize; size != prev.Controller.SpareAmphoraPoolSize {
			a.worker.SetSparePoolSize(size)
			pool.SetSize(size)
			logger.Info().Int("size", size).Msg("Spare pool size changed")
		}
	}
}
