package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/stratamem/strata/internal/config"
	"github.com/stratamem/strata/internal/engine"
	"github.com/stratamem/strata/internal/index"
	"github.com/stratamem/strata/internal/llm"
	"github.com/stratamem/strata/internal/policy"
	"github.com/stratamem/strata/internal/storage"
	"github.com/stratamem/strata/internal/storage/postgres"
	"github.com/stratamem/strata/internal/storage/sqlite"
)

func main() {
	configPath := flag.String("config", "strata.yaml", "Path to YAML config file")
	flag.Parse()

	// Local development convenience; a missing .env is fine.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("WARNING: failed to load .env: %v", err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	recall, archive, indexMap, closer, err := openStorage(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize storage: %v", err)
	}
	defer closer()

	idx, err := index.New(cfg.Index.Backend, cfg.Index.CompactionThreshold)
	if err != nil {
		log.Fatalf("Failed to initialize similarity index: %v", err)
	}

	textGen, err := llm.NewTextGenerator(cfg.LLM)
	if err != nil {
		log.Fatalf("Failed to initialize text model client: %v", err)
	}
	embedder, err := llm.NewEmbeddingGenerator(cfg.LLM)
	if err != nil {
		log.Fatalf("Failed to initialize embedding client: %v", err)
	}
	if textGen == nil {
		log.Println("No model provider configured; running archive-only (no distillation or vector retrieval)")
	}

	mgr, err := engine.New(engine.Deps{
		Recall:   recall,
		Archive:  archive,
		IndexMap: indexMap,
		Index:    idx,
		Policy:   policy.New(cfg.Policy),
		TextGen:  textGen,
		Embedder: embedder,
	}, cfg.Engine)
	if err != nil {
		log.Fatalf("Failed to initialize memory manager: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := mgr.Start(ctx); err != nil {
		log.Fatalf("Failed to start memory manager: %v", err)
	}

	if cfg.Maintenance.Interval > 0 {
		go maintenanceLoop(ctx, mgr, cfg.Maintenance.Interval)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Println("Shutting down gracefully...")
	cancel()
	mgr.Stop()
}

// openStorage builds the three stores on the configured backend and
// returns a single close function for the shared handle.
func openStorage(cfg *config.Config) (storage.RecallStore, storage.ArchiveStore, storage.IndexMapStore, func(), error) {
	switch cfg.Storage.Backend {
	case "postgres":
		db, err := postgres.Open(cfg.Storage.DSN)
		if err != nil {
			return nil, nil, nil, nil, err
		}
		return postgres.NewRecallStore(db), postgres.NewArchiveStore(db), postgres.NewIndexMapStore(db),
			func() { db.Close() }, nil
	default:
		if err := os.MkdirAll(cfg.Storage.DataPath, 0o755); err != nil {
			return nil, nil, nil, nil, err
		}
		db, err := sqlite.Open(filepath.Join(cfg.Storage.DataPath, "strata.db"))
		if err != nil {
			return nil, nil, nil, nil, err
		}
		return sqlite.NewRecallStore(db), sqlite.NewArchiveStore(db), sqlite.NewIndexMapStore(db),
			func() { db.Close() }, nil
	}
}

// maintenanceLoop runs the background sweep until the context ends.
func maintenanceLoop(ctx context.Context, mgr *engine.Manager, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := mgr.RunMaintenance(ctx); err != nil {
				log.Printf("WARNING: maintenance pass failed: %v", err)
			}
		}
	}
}
