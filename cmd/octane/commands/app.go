package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/octane-lb/octane/pkg/amphora"
	"github.com/octane-lb/octane/pkg/amphora/agent"
	"github.com/octane-lb/octane/pkg/config"
	"github.com/octane-lb/octane/pkg/controller"
	"github.com/octane-lb/octane/pkg/engine"
	"github.com/octane-lb/octane/pkg/flows"
	"github.com/octane-lb/octane/pkg/stores"
	"github.com/octane-lb/octane/pkg/telemetry"
	"github.com/octane-lb/octane/pkg/zones"
)

// app holds the wired controller used by every command that touches the database.
type app struct {
	cfg    *config.Config
	tel    *telemetry.Telemetry
	store  *stores.SQLStore
	engine *engine.Engine
	worker *controller.Worker
	zones  *zones.Resolver
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	tel, err := telemetry.NewTelemetry(&cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	logger := tel.Logger.Zerolog()

	store, err := openStore(ctx, cfg.Database)
	if err != nil {
		_ = tel.Shutdown(ctx)
		return nil, err
	}

	driver, err := newDriver(cfg.Amphora, logger)
	if err != nil {
		_ = store.Close()
		_ = tel.Shutdown(ctx)
		return nil, err
	}

	reg, err := flows.NewRegistry(flows.Deps{Store: store, Driver: driver, Logger: logger})
	if err != nil {
		_ = store.Close()
		_ = tel.Shutdown(ctx)
		return nil, fmt.Errorf("failed to build flow catalog: %w", err)
	}
	eng := engine.NewEngine(reg,
		engine.WithMaxParallel(cfg.Controller.MaxParallel),
		engine.WithEventPublisher(tel.EngineEvents()),
	)

	a := &app{cfg: cfg, tel: tel, store: store, engine: eng}
	opts := []controller.Option{controller.WithTelemetry(tel)}
	if cfg.Identity.RestrictZones {
		if a.zones, err = newZoneResolver(ctx, cfg.Identity, logger); err != nil {
			a.close()
			return nil, err
		}
		opts = append(opts, controller.WithZoneRestrictor(a.zones))
	}
	a.worker = controller.NewWorker(store, store, eng, cfg.Controller.WorkerConfig(), opts...)
	return a, nil
}

func (a *app) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.tel.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("Telemetry shutdown failed")
	}
	if err := a.store.Close(); err != nil {
		log.Warn().Err(err).Msg("Failed to close store")
	}
}

func openStore(ctx context.Context, cfg config.DatabaseConfig) (*stores.SQLStore, error) {
	store, err := stores.NewSQLStore(cfg.StoreConfig())
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

func newDriver(cfg config.AmphoraConfig, logger zerolog.Logger) (amphora.Driver, error) {
	compute := amphora.NewNoopDriver(logger)
	if cfg.Driver != "ssh" {
		return compute, nil
	}
	a, err := agent.New(cfg.SSH.AgentConfig(), logger)
	if err != nil {
		return nil, err
	}
	return amphora.Combine(compute, a), nil
}

func newZoneResolver(ctx context.Context, cfg config.IdentityConfig, logger zerolog.Logger) (*zones.Resolver, error) {
	identity, err := zones.NewKeystoneClient(ctx, cfg.KeystoneConfig())
	if err != nil {
		return nil, err
	}
	return zones.NewResolver(identity, zones.WithTTL(cfg.ZoneCacheTTL), zones.WithLogger(logger)), nil
}

// withApp loads the configuration, wires the controller and runs fn.
func withApp(ctx context.Context, fn func(*app) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close()
	return fn(a)
}

// printResult writes v as JSON with --json, or text otherwise.
func printResult(text string, v any) error {
	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	fmt.Println(text)
	return nil
}
