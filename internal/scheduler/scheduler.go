// Package scheduler runs the nightly check ledger maintenance: pruning
// clients that have not connected within the retention window, flushing the
// write-ahead log, and logging ledger totals.
package scheduler

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/UmedMuzl/SuperMarioOdysseyArchipelago/internal/config"
)

// Ledger is the part of the check store the scheduler maintains.
type Ledger interface {
	PruneInactive(ctx context.Context, cutoff time.Time) (clients, checks int, err error)
	Totals(ctx context.Context) (clients, checks int, err error)
	Checkpoint(ctx context.Context) error
}

// Scheduler manages periodic background tasks.
type Scheduler struct {
	cfg    config.MaintenanceConfig
	ledger Ledger
	dbPath string
	now    func() time.Time
}

// NewScheduler creates a scheduler for ledger, whose file lives at dbPath.
func NewScheduler(cfg *config.Config, ledger Ledger, dbPath string) *Scheduler {
	return &Scheduler{
		cfg:    cfg.Maintenance,
		ledger: ledger,
		dbPath: dbPath,
		now:    time.Now,
	}
}

// Start runs maintenance at the configured time each day until ctx is
// cancelled. It returns immediately when maintenance is disabled.
func (s *Scheduler) Start(ctx context.Context) {
	if !s.cfg.Enabled || s.ledger == nil {
		log.Info().Msg("ledger maintenance disabled")
		return
	}
	log.Info().Msg("scheduler started")

	for {
		nextRun := s.nextRun()
		sleep := nextRun.Sub(s.now())
		if sleep <= 0 {
			sleep = 24 * time.Hour
		}

		log.Info().
			Time("next_run", nextRun).
			Dur("sleep", sleep).
			Msg("ledger maintenance scheduled")

		select {
		case <-ctx.Done():
			log.Info().Msg("scheduler stopped")
			return
		case <-time.After(sleep):
			s.RunMaintenance(ctx)
		}
	}
}

// RunMaintenance performs one maintenance pass.
func (s *Scheduler) RunMaintenance(ctx context.Context) {
	if s.cfg.RetentionDays > 0 {
		cutoff := s.now().Add(-time.Duration(s.cfg.RetentionDays) * 24 * time.Hour)
		clients, checks, err := s.ledger.PruneInactive(ctx, cutoff)
		if err != nil {
			log.Warn().Err(err).Msg("ledger pruning failed")
		} else {
			log.Info().
				Int("clients", clients).
				Int("checks", checks).
				Int("retention_days", s.cfg.RetentionDays).
				Msg("pruned inactive clients")
		}
	}

	if err := s.ledger.Checkpoint(ctx); err != nil {
		log.Warn().Err(err).Msg("ledger checkpoint failed")
	}

	clients, checks, err := s.ledger.Totals(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("failed to collect ledger stats")
		return
	}
	event := log.Info().
		Int("clients", clients).
		Int("checks", checks)
	if info, err := os.Stat(s.dbPath); err == nil {
		event = event.Str("size", formatBytes(info.Size()))
	}
	event.Msg("daily ledger stats")
}

// nextRun returns the next occurrence of the configured time of day.
func (s *Scheduler) nextRun() time.Time {
	hour, minute := 4, 0
	if t, err := time.Parse("15:04", s.cfg.RunAt); err == nil {
		hour, minute = t.Hour(), t.Minute()
	}

	now := s.now()
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	if !next.After(now) {
		next = next.Add(24 * time.Hour)
	}
	return next
}

// formatBytes formats bytes into human-readable format.
func formatBytes(bytes int64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
	)

	switch {
	case bytes >= GB:
		return fmt.Sprintf("%.2f GB", float64(bytes)/float64(GB))
	case bytes >= MB:
		return fmt.Sprintf("%.2f MB", float64(bytes)/float64(MB))
	case bytes >= KB:
		return fmt.Sprintf("%.2f KB", float64(bytes)/float64(KB))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
