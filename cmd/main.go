// Package main provides the entry point for the homegrid hub.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/resident-x/homegrid/internal/config"
	"github.com/resident-x/homegrid/internal/domain"
	"github.com/resident-x/homegrid/internal/history"
	"github.com/resident-x/homegrid/internal/inventory"
	"github.com/resident-x/homegrid/internal/metrics"
	"github.com/resident-x/homegrid/internal/pubsub"
	"github.com/resident-x/homegrid/internal/service"
	"github.com/resident-x/homegrid/internal/store"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	code := run(os.Args[1:])
	os.Exit(code)
}

type options struct {
	configFile  string
	showVersion bool
}

func parseFlags(args []string) (options, error) {
	var opts options
	fs := flag.NewFlagSet("homegrid", flag.ContinueOnError)
	fs.StringVar(&opts.configFile, "config", "config.yaml", "Path to configuration file")
	fs.BoolVar(&opts.showVersion, "version", false, "Show version information")
	err := fs.Parse(args)
	return opts, err
}

func run(args []string) int {
	opts, err := parseFlags(args)
	if err != nil {
		return 2
	}

	if opts.showVersion {
		fmt.Printf("homegrid hub %s\n", version)
		return 0
	}

	cfg, err := config.Load(opts.configFile)
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		return 1
	}

	initLogger(cfg.LogLevel)
	log.Info().Str("version", version).Msg("Starting homegrid hub")
	if zerolog.GlobalLevel() <= zerolog.DebugLevel {
		cfg.Print()
	}

	hub, err := buildHub(cfg)
	if err != nil {
		log.Error().Err(err).Msg("Failed to build hub")
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		log.Info().Msg("Shutdown signal received")
	}()

	if err := hub.Run(ctx); err != nil {
		log.Error().Err(err).Msg("Hub failed to start")
		return 1
	}

	log.Info().Msg("Hub stopped")
	return 0
}

// buildHub wires the hub's collaborators from cfg.
func buildHub(cfg *config.Config) (*service.Hub, error) {
	snapshots, err := store.Open(cfg.Storage.SnapshotFile)
	if err != nil {
		return nil, fmt.Errorf("snapshot store: %w", err)
	}

	entries, err := inventory.Load(cfg.Storage.InventoryFile)
	if err != nil {
		return nil, fmt.Errorf("inventory: %w", err)
	}

	var sink domain.TelemetrySink
	sink, err = history.New(cfg)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to connect to history database, history disabled")
		sink = history.NoopSink{}
	}

	hub, err := service.NewHub(cfg, service.Dependencies{
		Store:     snapshots,
		Sessions:  pubsub.NewSessionFactory(cfg),
		Inventory: entries,
		Sink:      sink,
		Metrics:   metrics.New(),
		Version:   version,
	})
	if err != nil {
		sink.Close()
		return nil, err
	}

	return hub, nil
}

// initLogger configures the global zerolog logger.
func initLogger(level string) {
	output := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}

	logLevel, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		fmt.Printf("Invalid log level '%s', defaulting to 'info'\n", level)
		logLevel = zerolog.InfoLevel
	}

	zerolog.SetGlobalLevel(logLevel)
	log.Logger = zerolog.New(output).
		With().
		Timestamp().
		Caller().
		Logger()
}
