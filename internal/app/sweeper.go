package app

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"tableforge/internal/config"
)

// Sweeper runs the periodic maintenance jobs: snapshot and history
// retention plus a regular engine CHECKPOINT to flush the WAL.
type Sweeper struct {
	cron *cron.Cron
	app  *App
	cfg  *config.Config
}

// NewSweeper schedules the maintenance jobs. Call Start to begin and
// Stop to shut down.
func NewSweeper(a *App, cfg *config.Config) (*Sweeper, error) {
	s := &Sweeper{cron: cron.New(), app: a, cfg: cfg}

	if _, err := s.cron.AddFunc(cfg.SweepEvery, s.sweep); err != nil {
		return nil, fmt.Errorf("schedule retention sweep: %w", err)
	}
	checkpointSpec := fmt.Sprintf("@every %s", cfg.CheckpointEvery)
	if _, err := s.cron.AddFunc(checkpointSpec, s.checkpoint); err != nil {
		return nil, fmt.Errorf("schedule checkpoint: %w", err)
	}
	return s, nil
}

// Start begins running the scheduled jobs in their own goroutine.
func (s *Sweeper) Start() { s.cron.Start() }

// Stop halts scheduling and waits for running jobs to finish.
func (s *Sweeper) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

func (s *Sweeper) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	pruned := s.app.Snapshots.PruneOlderThan(ctx, time.Now().Add(-s.cfg.SnapshotTTL))
	for _, ref := range pruned {
		s.app.Executor.SnapshotPruned(ref.Table, ref.ID)
	}
	if len(pruned) > 0 {
		s.app.logger.Info("pruned aged snapshots", "count", len(pruned))
	}

	cutoff := time.Now().Add(-s.cfg.HistoryTTL).UnixMilli()
	n, err := s.app.History.PruneOlderThan(ctx, cutoff)
	if err != nil {
		s.app.logger.Warn("history prune failed", "error", err)
	} else if n > 0 {
		s.app.logger.Info("pruned aged history entries", "count", n)
	}
}

func (s *Sweeper) checkpoint() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	if err := s.app.Store.Checkpoint(ctx); err != nil {
		s.app.logger.Warn("periodic checkpoint failed", "error", err)
	}
}
