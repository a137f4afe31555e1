// Command hyperspace-node is the process entrypoint: it loads
// configuration, opens the catalog and collection manager, and wires a
// rpcsurface.Service over them. No transport listener is started here —
// that is left to whatever gRPC/HTTP adapter sits in front of the
// Service in a deployed build — but the process lifecycle (startup
// ordering, signal handling, exit codes per spec §6) lives here.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/hyperspacedb/hyperspacedb/internal/catalog"
	"github.com/hyperspacedb/hyperspacedb/internal/collection"
	"github.com/hyperspacedb/hyperspacedb/internal/config"
	"github.com/hyperspacedb/hyperspacedb/internal/rpcsurface"
	"github.com/hyperspacedb/hyperspacedb/internal/telemetry"
)

const (
	exitOK = iota
	exitConfigError
	exitStorageCorruption
	exitBindFailure
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "path to an optional config file")
	logLevel := flag.String("log-level", "info", "zerolog level (debug, info, warn, error)")
	pretty := flag.Bool("pretty-log", false, "write human-readable console logs instead of JSON")
	flag.Parse()

	log := telemetry.NewLogger("hyperspace-node", os.Stderr, *pretty)
	telemetry.SetGlobalLevel(*logLevel)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Error().Err(err).Msg("failed to load configuration")
		return exitConfigError
	}

	catalogPath := cfg.DataDir + "/catalog.db"
	cat, err := catalog.Open(catalogPath)
	if err != nil {
		log.Error().Err(err).Str("path", catalogPath).Msg("failed to open catalog")
		return exitStorageCorruption
	}
	defer cat.Close()

	manager := collection.NewManager(cat, collection.ManagerConfig{
		DataDir:          cfg.DataDir,
		HNSW:             cfg.HNSW,
		WALSyncMode:      cfg.WALSyncMode,
		IdleEvictAfter:   cfg.IdleEvictAfter,
		SnapshotInterval: cfg.SnapshotInterval,
	})
	defer func() {
		if err := manager.Close(); err != nil {
			log.Warn().Err(err).Msg("error shutting down collection manager")
		}
	}()

	service := rpcsurface.NewService(manager, cfg.APIKey, log)

	startupCtx := context.Background()
	names, err := service.ListCollections(startupCtx, "")
	if err != nil {
		log.Warn().Err(err).Msg("failed to enumerate existing collections at startup")
	}

	log.Info().
		Str("data_dir", cfg.DataDir).
		Str("listen_rpc", cfg.ListenRPC).
		Str("listen_http", cfg.ListenHTTP).
		Int("collections", len(names)).
		Msg("hyperspace-node ready")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	log.Info().Msg("shutdown signal received, draining indexers")
	return exitOK
}
