package store

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// PrunerConfig controls scheduled conversation retention.
type PrunerConfig struct {
	// Schedule is a standard cron expression, e.g. "0 3 * * *" for
	// daily at 3 AM. Empty disables scheduled pruning.
	Schedule string

	// Retention is how long idle conversations are kept.
	Retention time.Duration
}

// Pruner deletes stale conversations on a cron schedule.
type Pruner struct {
	store   *Store
	config  PrunerConfig
	cron    *cron.Cron
	mu      sync.Mutex
	logger  *slog.Logger
	running bool
}

// NewPruner creates a retention pruner for the store.
func NewPruner(store *Store, cfg PrunerConfig, logger *slog.Logger) *Pruner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pruner{
		store:  store,
		config: cfg,
		cron:   cron.New(),
		logger: logger.With("component", "store.pruner"),
	}
}

// Start begins scheduled pruning. A missing schedule is not an error,
// the pruner simply stays idle.
func (p *Pruner) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.config.Schedule == "" {
		p.logger.Info("prune schedule not configured, skipping scheduler")
		return nil
	}
	if _, err := cron.ParseStandard(p.config.Schedule); err != nil {
		return fmt.Errorf("invalid cron schedule %q: %w", p.config.Schedule, err)
	}

	if _, err := p.cron.AddFunc(p.config.Schedule, func() {
		p.runPruning(ctx)
	}); err != nil {
		return fmt.Errorf("failed to schedule pruning: %w", err)
	}

	p.cron.Start()
	p.running = true
	p.logger.Info("retention pruner started",
		"schedule", p.config.Schedule,
		"retention", p.config.Retention,
	)

	go func() {
		<-ctx.Done()
		p.Stop()
	}()
	return nil
}

func (p *Pruner) runPruning(ctx context.Context) {
	cutoff := time.Now().Add(-p.config.Retention)
	deleted, err := p.store.Prune(ctx, cutoff)
	if err != nil {
		p.logger.Error("scheduled pruning failed", "error", err)
		return
	}
	if deleted > 0 {
		p.logger.Info("scheduled pruning completed", "deleted_count", deleted)
	} else {
		p.logger.Debug("scheduled pruning completed, no conversations deleted")
	}
}

// Stop halts the scheduler and waits for a running job to finish.
func (p *Pruner) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		<-p.cron.Stop().Done()
		p.running = false
		p.logger.Info("retention pruner stopped")
	}
}
