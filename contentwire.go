package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/contentwire/contentwire/admin"
	"github.com/contentwire/contentwire/cfg"
	"github.com/contentwire/contentwire/channel"
	_ "github.com/contentwire/contentwire/channel/sink"
	"github.com/contentwire/contentwire/commitq"
	"github.com/contentwire/contentwire/emitter"
	"github.com/contentwire/contentwire/store/sqlitestore"
	"github.com/contentwire/contentwire/telemetry"
)

func main() {
	flag.Parse()

	// Load configuration
	err := cfg.Load(*cfg.ConfigPathFlag)
	if err != nil {
		panic(err)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		panic(fmt.Sprintf("Invalid configuration: %v", err))
	}

	// Setup logging
	var writer io.Writer = zerolog.NewConsoleWriter()
	if cfg.Config.Logging.Format == "json" {
		writer = os.Stdout
	}
	gLog := zerolog.New(writer).
		With().
		Timestamp().
		Uint64("node_id", cfg.Config.NodeID).
		Logger()

	if cfg.Config.Logging.Verbose {
		log.Logger = gLog.Level(zerolog.DebugLevel)
	} else {
		log.Logger = gLog.Level(zerolog.InfoLevel)
	}

	log.Info().Msg("Contentwire - committed content changes, live on the wire")
	log.Debug().Msg("Initializing telemetry")
	telemetry.InitializeTelemetry()

	// Open the content store
	log.Info().Str("path", cfg.Config.Store.Path).Msg("Opening content store")
	contentStore, err := sqlitestore.Open(cfg.Config.Store.Path, cfg.Config.NodeID)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open content store")
		return
	}
	defer contentStore.Close()

	for _, m := range cfg.Config.Models {
		relations := make([]sqlitestore.Relation, 0, len(m.Relations))
		for _, rel := range m.Relations {
			relations = append(relations, sqlitestore.Relation{
				Field:  rel.Field,
				Target: rel.Target,
				Column: rel.Column,
			})
		}
		contentStore.RegisterModel(sqlitestore.ModelSchema{
			UID:           m.UID,
			Table:         m.Table,
			PrivateFields: m.PrivateFields,
			Relations:     relations,
		})
	}

	// Build the channel bus from sink configuration
	log.Info().Int("sinks", len(cfg.Config.Sinks)).Msg("Initializing channel sinks")
	bus, err := channel.NewBus(cfg.Config.Sinks)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize channel")
		return
	}
	defer bus.Close()

	// Wire the emission coordinator
	coordinator, err := emitter.New(emitter.Options{
		Reader:               contentStore,
		Scheduler:            commitq.NewScheduler(contentStore),
		Channel:              bus,
		ContentSanitizer:     contentStore,
		ExtraSensitiveFields: cfg.Config.Sanitize.ExtraFields,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create emission coordinator")
		return
	}

	for _, sub := range emitter.SubscriptionsFromConfig(cfg.Config.Subscriptions) {
		coordinator.Add(sub)
	}
	coordinator.Register(contentStore)

	// Start the admin surface
	if cfg.Config.Admin.Enabled {
		admin.Serve(admin.NewHandlers(coordinator))
	}

	log.Info().
		Int("subscriptions", len(cfg.Config.Subscriptions)).
		Int("sinks", len(cfg.Config.Sinks)).
		Msg("Contentwire ready")

	// Block until shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info().Msg("Shutting down")
}
