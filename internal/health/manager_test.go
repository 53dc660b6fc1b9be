package health

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/UmedMuzl/SuperMarioOdysseyArchipelago/internal/config"
	"github.com/UmedMuzl/SuperMarioOdysseyArchipelago/internal/events"
)

type fakeSessions struct {
	mu       sync.Mutex
	timeouts []time.Duration
	stale    []uuid.UUID
	count    int
}

func (f *fakeSessions) CleanStale(timeout time.Duration) []uuid.UUID {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.timeouts = append(f.timeouts, timeout)
	return f.stale
}

func (f *fakeSessions) Count() int              { return f.count }
func (f *fakeSessions) Traffic() (int64, int64) { return 12, 7 }

func TestCheckStaleClientsUsesTimeout(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Server.StaleTimeout = 90
	sessions := &fakeSessions{stale: []uuid.UUID{uuid.New()}}
	m := NewManager(cfg, events.NewEventBus(), sessions)

	m.checkStaleClients(context.Background())

	if len(sessions.timeouts) != 1 || sessions.timeouts[0] != 90*time.Second {
		t.Errorf("timeouts = %v, want [90s]", sessions.timeouts)
	}
}

func TestCheckStaleClientsDisabled(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Server.StaleTimeout = 0
	sessions := &fakeSessions{}
	NewManager(cfg, events.NewEventBus(), sessions).checkStaleClients(context.Background())

	if len(sessions.timeouts) != 0 {
		t.Error("a zero stale timeout should disable the check")
	}
}

func TestHeartbeatEmitsCounts(t *testing.T) {
	bus := events.NewEventBus()
	defer bus.Stop()

	got := make(chan events.HeartbeatPayload, 1)
	bus.Subscribe(events.EventHeartbeat, "test", func(ctx context.Context, e events.Event) error {
		got <- e.Payload.(events.HeartbeatPayload)
		return nil
	})

	m := NewManager(config.DefaultConfig(), bus, &fakeSessions{count: 3})
	m.heartbeat(context.Background())

	select {
	case hb := <-got:
		if hb.Clients != 3 || hb.PacketsIn != 12 || hb.PacketsOut != 7 {
			t.Errorf("heartbeat = %+v", hb)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("heartbeat not emitted")
	}
}

func TestStartStopsWithContext(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Timers.HealthInterval = 1
	cfg.Timers.HeartbeatInterval = 0
	m := NewManager(cfg, events.NewEventBus(), &fakeSessions{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Start(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after cancel")
	}
}
