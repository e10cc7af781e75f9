package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/chaitanyaBytes/solana-grpc-indexer/internal/archive"
	"github.com/chaitanyaBytes/solana-grpc-indexer/internal/checkpoint"
	"github.com/chaitanyaBytes/solana-grpc-indexer/internal/clickhouse"
	"github.com/chaitanyaBytes/solana-grpc-indexer/internal/config"
	"github.com/chaitanyaBytes/solana-grpc-indexer/internal/logging"
	"github.com/chaitanyaBytes/solana-grpc-indexer/internal/metrics"
	"github.com/chaitanyaBytes/solana-grpc-indexer/internal/notify"
	"github.com/chaitanyaBytes/solana-grpc-indexer/internal/pipeline"
	"github.com/chaitanyaBytes/solana-grpc-indexer/internal/source"
	"github.com/chaitanyaBytes/solana-grpc-indexer/internal/window"
	"github.com/chaitanyaBytes/solana-grpc-indexer/internal/writer"
)

func main() {
	configPath := flag.String("config", "", "path to config file (optional, env vars apply either way)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logging.Setup(logging.Config{Format: cfg.Logging.Format, Level: cfg.Logging.Level})
	slog.Info("solana indexer starting",
		"version", pipeline.Version,
		"git_sha", pipeline.GitSHA,
		"network", cfg.Network,
		"indexer_id", cfg.IndexerID,
	)

	if err := run(cfg); err != nil {
		slog.Error("indexer failed", "error", err)
		os.Exit(1)
	}
	slog.Info("indexer stopped cleanly")
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Metrics.Enabled {
		metrics.Init("solana_indexer")
		go func() {
			if err := metrics.StartServer(cfg.Metrics.Address); err != nil {
				slog.Error("metrics server failed", "error", err)
			}
		}()
		slog.Info("metrics server listening", "address", cfg.Metrics.Address)
	}

	cps, err := checkpoint.NewStore(checkpoint.Config{
		Enabled: cfg.Checkpoint.Enabled,
		Dir:     cfg.Checkpoint.Dir,
	})
	if err != nil {
		return fmt.Errorf("create checkpoint store: %w", err)
	}
	if cp, err := cps.Load(ctx); err == nil {
		slog.Info("resuming from checkpoint",
			"slot", cp.Slot, "offset", cp.Offset, "rows", cp.Rows, "updated_at", cp.UpdatedAt)
	} else if !errors.Is(err, checkpoint.ErrNoCheckpoint) {
		return fmt.Errorf("load checkpoint: %w", err)
	}

	db, err := clickhouse.Open(ctx, cfg.ClickHouse)
	if err != nil {
		return fmt.Errorf("open clickhouse: %w", err)
	}
	defer db.Close()
	if err := db.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}

	src, err := source.New(cfg.Source, cfg.Network, cps)
	if err != nil {
		return fmt.Errorf("create source: %w", err)
	}

	emitter, err := notify.New(cfg.Notify)
	if err != nil {
		return fmt.Errorf("create notifier: %w", err)
	}
	defer emitter.Close()

	deps := writer.Deps{
		Store:        db,
		Checkpoints:  cps,
		Notifier:     emitter,
		NotifyStrict: cfg.Notify.Strict,
		Network:      cfg.Network,
		IndexerID:    cfg.IndexerID,
	}

	var archiver *archive.Archiver
	if cfg.Archive.Enabled {
		archiver, err = archive.New(cfg.Archive, cfg.Network, cfg.IndexerID, pipeline.Version)
		if err != nil {
			return fmt.Errorf("create archive: %w", err)
		}
		deps.Archiver = archiver
	}

	wr := writer.New(cfg.Writer, deps)
	win := window.New(cfg.Window, cfg.Network)

	runErr := pipeline.New(cfg, src, win, wr).Run(ctx)

	if archiver != nil {
		// Flush the tail segment even when the run failed; whatever was
		// committed deserves its cold copy.
		if err := archiver.Close(context.Background()); err != nil {
			slog.Warn("archive close failed", "error", err)
		}
	}

	return runErr
}
