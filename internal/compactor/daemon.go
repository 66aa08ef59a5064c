package compactor

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/tephradb/tephra/internal/catalog"
	"github.com/tephradb/tephra/internal/config"
	"github.com/tephradb/tephra/internal/errors"
	"github.com/tephradb/tephra/internal/storage"
)

// Daemon sweeps the configured tables on an interval and runs one
// reorganization job per table per sweep.
type Daemon struct {
	finder *CandidateFinder
	runner *Runner
	cfg    config.CompactorConfig

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewDaemon creates a compaction daemon.
func NewDaemon(cat catalog.Catalog, store storage.ObjectStorage, workDir string, cfg config.CompactorConfig) *Daemon {
	return &Daemon{
		finder: NewCandidateFinder(cat, cfg.MaxChunksPerJob),
		runner: NewRunner(cat, store, workDir, cfg),
		cfg:    cfg,
	}
}

// Start begins the sweep loop. It runs until the context is cancelled or
// Stop is called.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return fmt.Errorf("compactor: daemon is already running")
	}
	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.running = true
	d.done = make(chan struct{})
	d.mu.Unlock()

	go d.run(ctx)
	return nil
}

// Stop stops the daemon and waits for the current sweep to finish.
func (d *Daemon) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.running {
		return nil
	}
	d.cancel()
	<-d.done
	d.running = false
	return nil
}

func (d *Daemon) run(ctx context.Context) {
	defer close(d.done)

	d.sweep(ctx)

	ticker := time.NewTicker(d.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.sweep(ctx)
		}
	}
}

// sweep runs at most one job per configured table. Individual failures are
// logged and do not halt the sweep, except non-retryable errors, which
// indicate corrupt inputs an operator must look at.
func (d *Daemon) sweep(ctx context.Context) {
	for _, table := range d.cfg.Tables {
		if ctx.Err() != nil {
			return
		}

		group, err := d.finder.FindCandidates(ctx, table)
		if err != nil {
			log.Printf("compactor: table %q: candidate search failed: %v", table, err)
			continue
		}
		if group == nil {
			continue
		}

		if _, err := d.runner.Run(ctx, group); err != nil {
			if !errors.IsRetryable(err) {
				log.Printf("compactor: table %q: job failed permanently: %v", table, err)
			} else {
				log.Printf("compactor: table %q: job failed, will retry next sweep: %v", table, err)
			}
		}
	}
}
