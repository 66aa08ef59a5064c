// Package main implements the tephra-compact service binary: the background
// daemon that reorganizes chunks by compacting and splitting them.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/tephradb/tephra/internal/catalog"
	"github.com/tephradb/tephra/internal/compactor"
	"github.com/tephradb/tephra/internal/config"
	"github.com/tephradb/tephra/internal/storage"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file (optional)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	log.Printf("Starting tephra-compact...")
	log.Printf("Data dir: %s", cfg.DataDir)
	log.Printf("Storage backend: %s", cfg.Storage.Backend)
	log.Printf("Sweep interval: %s, tables: %v", cfg.Compactor.Interval, cfg.Compactor.Tables)

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		log.Fatalf("Failed to create data dir: %v", err)
	}

	cat, err := catalog.NewCatalog(cfg.Catalog.Path)
	if err != nil {
		log.Fatalf("Failed to open catalog: %v", err)
	}
	defer cat.Close()
	log.Printf("Catalog open at: %s", cfg.Catalog.Path)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := newObjectStorage(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to initialize storage: %v", err)
	}

	workDir := filepath.Join(cfg.DataDir, "compactor")
	daemon := compactor.NewDaemon(cat, store, workDir, cfg.Compactor)
	if err := daemon.Start(ctx); err != nil {
		log.Fatalf("Failed to start compaction daemon: %v", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Printf("Received %v, shutting down...", sig)

	if err := daemon.Stop(); err != nil {
		log.Fatalf("Failed to stop daemon: %v", err)
	}
	log.Printf("Shutdown complete")
}

func newObjectStorage(ctx context.Context, cfg *config.Config) (storage.ObjectStorage, error) {
	if cfg.Storage.Backend == "s3" {
		return storage.NewS3Storage(ctx, cfg.Storage.Bucket, cfg.Storage.S3)
	}
	return storage.NewLocalStorage(cfg.Storage.LocalPath)
}
