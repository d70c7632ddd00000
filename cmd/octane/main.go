// Command octane runs the load balancer controller and its operator tools.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/octane-lb/octane/cmd/octane/commands"
	"github.com/octane-lb/octane/pkg/telemetry"
)

// Set with -ldflags at build time.
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

func main() {
	// CLI output until a command builds the configured telemetry logger.
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	telemetry.SetGlobalLevel(os.Getenv("LOG_LEVEL"))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := commands.Execute(ctx, Version, Commit, BuildDate)
	stop()
	if err != nil {
		log.Error().Err(err).Msg("octane failed")
		os.Exit(1)
	}
}
