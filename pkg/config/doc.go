// Package config loads the octane controller configuration.
//
// # Overview
//
// Configuration is read from a YAML file, overlaid with environment variables,
// and validated with struct tags. Every section has defaults, so an empty file
// produces a working single-node controller backed by SQLite and the no-op
// amphora driver.
//
// # Sources
//
// Values are applied in order, later sources winning:
//
//  1. Defaults from Default()
//  2. The YAML file passed to Load
//  3. Environment variables (OCTANE_DATABASE_DSN, OCTANE_QUEUE_BROKERS, LOG_LEVEL, ...)
//
// # Sections
//
//   - database: store driver (sqlite or pgx), DSN and pool sizes
//   - controller: spare pool size, anti-affinity, worker count and the
//     convergence retry policy
//   - queue: Kafka brokers, the job topic and the event topic
//   - amphora: the amphora driver and its SSH agent settings
//   - identity: the identity service used for restricted zones
//   - housekeeping: the spare pool maintenance loop
//   - telemetry: logging, tracing, metrics and events
//
// # Hot reload
//
// Watcher follows the file with fsnotify and hands every successfully
// reloaded Config to the registered callbacks. Only a few settings are
// applied live (the log level and the spare pool size); the rest need a
// restart.
//
// # Usage Example
//
//	cfg, err := config.Load("/etc/octane/octane.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	w := config.NewWatcher("/etc/octane/octane.yaml", cfg, logger)
//	w.OnChange(func(prev, next *config.Config) {
//	    telemetry.SetGlobalLevel(next.Telemetry.Logging.Level)
//	})
//	go w.Run(ctx)
package config
