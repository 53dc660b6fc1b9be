// Package health runs the connector's periodic checks: idle client cleanup,
// process resource logging and the heartbeat event.
package health

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/UmedMuzl/SuperMarioOdysseyArchipelago/internal/config"
	"github.com/UmedMuzl/SuperMarioOdysseyArchipelago/internal/events"
	"github.com/UmedMuzl/SuperMarioOdysseyArchipelago/internal/util"
)

// Sessions is the part of the session manager the health checks need.
type Sessions interface {
	CleanStale(timeout time.Duration) []uuid.UUID
	Count() int
	Traffic() (in, out int64)
}

// Manager runs periodic health checks.
type Manager struct {
	cfg      *config.Config
	eventBus *events.EventBus
	sessions Sessions
}

// NewManager creates a new health check manager.
func NewManager(cfg *config.Config, eventBus *events.EventBus, sessions Sessions) *Manager {
	return &Manager{
		cfg:      cfg,
		eventBus: eventBus,
		sessions: sessions,
	}
}

// Start runs every check on its own ticker until ctx is cancelled.
func (m *Manager) Start(ctx context.Context) {
	timers := m.cfg.Timers

	checks := []struct {
		name     string
		interval int
		fn       func(context.Context)
	}{
		{"stale_clients", timers.HealthInterval, m.checkStaleClients},
		{"process", timers.HealthInterval, m.checkProcess},
		{"heartbeat", timers.HeartbeatInterval, m.heartbeat},
	}

	started := 0
	for _, check := range checks {
		if check.interval <= 0 {
			continue
		}
		started++
		check := check

		go func() {
			ticker := time.NewTicker(time.Duration(check.interval) * time.Second)
			defer ticker.Stop()

			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					check.fn(ctx)
				}
			}
		}()
	}

	log.Info().Int("checks", started).Msg("health check manager started")

	<-ctx.Done()
	log.Info().Msg("health check manager stopped")
}

// checkStaleClients closes clients that have been silent for longer than
// the stale timeout.
func (m *Manager) checkStaleClients(ctx context.Context) {
	timeout := m.cfg.GetServer().StaleTimeout
	if timeout <= 0 {
		return
	}

	cleaned := m.sessions.CleanStale(time.Duration(timeout) * time.Second)
	if len(cleaned) > 0 {
		log.Info().Int("cleaned", len(cleaned)).Msg("closed stale client connections")
	}
}

func (m *Manager) checkProcess(ctx context.Context) {
	stats, err := util.GetProcessStats()
	if err != nil {
		log.Warn().Err(err).Msg("process stats unavailable")
		return
	}

	log.Debug().
		Float64("cpu_percent", stats.CPUPercent).
		Uint64("rss_mb", stats.RSSMB).
		Int("goroutines", stats.Goroutines).
		Int("clients", m.sessions.Count()).
		Msg("process health")
}

func (m *Manager) heartbeat(ctx context.Context) {
	in, out := m.sessions.Traffic()
	payload := events.HeartbeatPayload{
		Clients:    m.sessions.Count(),
		PacketsIn:  in,
		PacketsOut: out,
	}

	log.Debug().
		Int("clients", payload.Clients).
		Int64("packets_in", in).
		Int64("packets_out", out).
		Msg("heartbeat")

	m.eventBus.Emit(ctx, events.Event{
		Type:    events.EventHeartbeat,
		Source:  "health",
		Payload: payload,
	})
}
