// Package session tracks connected mod clients, records what they report and
// sends them items, shines, chat and slot options.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/UmedMuzl/SuperMarioOdysseyArchipelago/internal/config"
	"github.com/UmedMuzl/SuperMarioOdysseyArchipelago/internal/db"
	"github.com/UmedMuzl/SuperMarioOdysseyArchipelago/internal/events"
	"github.com/UmedMuzl/SuperMarioOdysseyArchipelago/internal/metrics"
	"github.com/UmedMuzl/SuperMarioOdysseyArchipelago/internal/network"
	"github.com/UmedMuzl/SuperMarioOdysseyArchipelago/internal/protocol"
)

const source = "session"

// ErrClientNotFound is returned when sending to a client that is not connected.
var ErrClientNotFound = errors.New("client not found")

// ClientInfo is a point-in-time view of a connected client.
type ClientInfo struct {
	ID           uuid.UUID `json:"id"`
	Remote       string    `json:"remote"`
	Mode         string    `json:"mode"`
	ConnectedAt  time.Time `json:"connected_at"`
	LastActivity time.Time `json:"last_activity"`
	World        int32     `json:"world"`
	Scenario     int32     `json:"scenario"`
	Shines       int       `json:"shines"`
	Items        int       `json:"items"`
	Fillers      int       `json:"fillers"`
	PacketsIn    int64     `json:"packets_in"`
	PacketsOut   int64     `json:"packets_out"`
}

// clientState outlives a single connection so a reconnecting client keeps
// its progress.
type clientState struct {
	world    int32
	scenario int32
	shines   map[int32]struct{}
	items    int
	fillers  int
}

// Manager is the PacketHandler behind the TCP listener.
type Manager struct {
	mu sync.RWMutex

	cfg      *config.Config
	eventBus *events.EventBus
	store    *db.CheckStore
	metrics  *metrics.Metrics
	serverID uuid.UUID

	registry *network.ConnectionRegistry
	clients  map[uuid.UUID]*clientState
}

// NewManager creates a session manager. store and m may be nil.
func NewManager(cfg *config.Config, eventBus *events.EventBus, store *db.CheckStore, m *metrics.Metrics) (*Manager, error) {
	serverID, err := cfg.ServerUUID()
	if err != nil {
		return nil, fmt.Errorf("invalid server id: %w", err)
	}

	return &Manager{
		cfg:      cfg,
		eventBus: eventBus,
		store:    store,
		metrics:  m,
		serverID: serverID,
		registry: network.NewConnectionRegistry(),
		clients:  make(map[uuid.UUID]*clientState),
	}, nil
}

// ServerID returns the identifier stamped on outbound packets.
func (m *Manager) ServerID() uuid.UUID {
	return m.serverID
}

// Registry exposes the live connections.
func (m *Manager) Registry() *network.ConnectionRegistry {
	return m.registry
}

func (m *Manager) emit(ctx context.Context, t events.EventType, payload interface{}) {
	if m.eventBus == nil {
		return
	}
	m.eventBus.Emit(ctx, events.Event{Type: t, Source: source, Payload: payload})
}

func (m *Manager) state(id uuid.UUID) *clientState {
	st, ok := m.clients[id]
	if !ok {
		st = &clientState{scenario: int32(protocol.DefaultScenario), shines: make(map[int32]struct{})}
		m.clients[id] = st
	}
	return st
}

// HandleConnect registers the client and sends Init followed by SlotData.
func (m *Manager) HandleConnect(ctx context.Context, conn *network.Connection) error {
	id := conn.ID()
	logger := conn.Logger()

	if replaced := m.registry.Register(id, conn); replaced {
		logger.Info().Msg("client reconnected, replacing previous connection")
	}

	maxPlayers := m.cfg.GetServer().MaxPlayers
	initPkt := &protocol.InitPacket{MaxPlayers: uint16(maxPlayers)}
	if err := conn.WritePacket(protocol.New(m.serverID, initPkt)); err != nil {
		m.registry.Unregister(id, conn)
		return fmt.Errorf("failed to send init: %w", err)
	}
	if err := conn.WritePacket(protocol.New(m.serverID, m.slotDataPacket())); err != nil {
		m.registry.Unregister(id, conn)
		return fmt.Errorf("failed to send slot data: %w", err)
	}

	m.mu.Lock()
	m.state(id)
	m.mu.Unlock()

	remote := conn.RemoteAddr().String()
	if m.store != nil {
		if err := m.store.TouchClient(ctx, id, remote); err != nil {
			logger.Warn().Err(err).Msg("failed to record client in ledger")
		}
	}

	m.metrics.ClientConnected(conn.Mode().String())
	logger.Info().Str("mode", conn.Mode().String()).Msg("client connected")

	m.emit(ctx, events.EventClientConnected, events.ClientPayload{
		ClientID: id,
		Remote:   remote,
		Mode:     conn.Mode().String(),
	})
	return nil
}

// HandleDisconnect unregisters the connection unless a reconnect already
// replaced it.
func (m *Manager) HandleDisconnect(ctx context.Context, conn *network.Connection, reason string) {
	id := conn.ID()
	m.registry.Unregister(id, conn)
	m.metrics.ClientDisconnected()

	conn.Logger().Info().Str("reason", reason).Msg("client disconnected")

	m.emit(ctx, events.EventClientDisconnected, events.ClientPayload{
		ClientID: id,
		Remote:   conn.RemoteAddr().String(),
		Mode:     conn.Mode().String(),
		Reason:   reason,
	})
}

// HandlePacket dispatches one inbound packet.
func (m *Manager) HandlePacket(ctx context.Context, conn *network.Connection, pkt *protocol.Packet) {
	id := conn.ID()
	logger := conn.Logger()

	if pkt.Ignored() {
		logger.Debug().Str("type", pkt.Header.Type.String()).Uint16("size", pkt.Header.Size).Msg("ignoring packet")
		m.emit(ctx, events.EventPacketIgnored, events.PacketPayload{
			ClientID: id,
			Type:     pkt.Header.Type.String(),
			Size:     int(pkt.Header.Size),
		})
		return
	}

	switch p := pkt.Payload.(type) {
	case *protocol.ShinePacket:
		m.recordShines(ctx, id, []int32{p.ID})

	case *protocol.ShineChecksPacket:
		m.recordShines(ctx, id, p.IDs())

	case *protocol.ItemPacket:
		m.mu.Lock()
		m.state(id).items++
		m.mu.Unlock()
		m.recordCheck(ctx, id, events.CheckItem, p.Kind, p.Name)

	case *protocol.FillerPacket:
		m.mu.Lock()
		m.state(id).fillers++
		m.mu.Unlock()
		m.recordCheck(ctx, id, events.CheckFiller, p.Kind, "")

	case *protocol.ProgressPacket:
		m.mu.Lock()
		st := m.state(id)
		st.world, st.scenario = p.World, p.Scenario
		m.mu.Unlock()

		if m.store != nil {
			if err := m.store.UpdateProgress(ctx, id, p.World, p.Scenario); err != nil {
				logger.Warn().Err(err).Msg("failed to store progress")
			}
		}
		logger.Debug().Int32("world", p.World).Int32("scenario", p.Scenario).Msg("progress")
		m.emit(ctx, events.EventProgressChanged, events.ProgressPayload{
			ClientID: id,
			World:    p.World,
			Scenario: p.Scenario,
		})

	case *protocol.DeathLinkPacket:
		m.relayDeathLink(ctx, id)

	case *protocol.DisconnectPacket:
		logger.Debug().Msg("client announced disconnect")

	default:
		// Connect after the handshake, or server-bound Init/SlotData echoes.
		logger.Debug().Str("type", pkt.Header.Type.String()).Msg("unexpected packet from client")
	}
}

func (m *Manager) recordShines(ctx context.Context, id uuid.UUID, ids []int32) {
	if len(ids) == 0 {
		return
	}

	m.mu.Lock()
	st := m.state(id)
	fresh := make([]int32, 0, len(ids))
	for _, shine := range ids {
		if _, seen := st.shines[shine]; !seen {
			st.shines[shine] = struct{}{}
			fresh = append(fresh, shine)
		}
	}
	m.mu.Unlock()

	if m.store != nil {
		if _, err := m.store.RecordShines(ctx, id, ids); err != nil {
			log.Warn().Err(err).Str("client", id.String()).Msg("failed to record shines")
		}
	}

	for _, shine := range fresh {
		m.metrics.CheckRecorded(string(events.CheckShine))
		m.emit(ctx, events.EventShineCollected, events.CheckPayload{
			ClientID: id,
			Kind:     events.CheckShine,
			Location: shine,
		})
	}
}

func (m *Manager) recordCheck(ctx context.Context, id uuid.UUID, kind events.CheckKind, location int32, name string) {
	if m.store != nil {
		if _, err := m.store.RecordCheck(ctx, id, string(kind), location, name); err != nil {
			log.Warn().Err(err).Str("client", id.String()).Str("kind", string(kind)).Msg("failed to record check")
		}
	}

	m.metrics.CheckRecorded(string(kind))

	t := events.EventItemCollected
	if kind == events.CheckFiller {
		t = events.EventFillerCollected
	}
	m.emit(ctx, t, events.CheckPayload{
		ClientID: id,
		Kind:     kind,
		Location: location,
		Name:     name,
	})
}

func (m *Manager) relayDeathLink(ctx context.Context, origin uuid.UUID) {
	m.metrics.DeathLink()

	relayed := 0
	if m.cfg.GetServer().DeathLinkEnabled {
		n, err := m.registry.Broadcast(protocol.New(m.serverID, &protocol.DeathLinkPacket{}), origin)
		if err != nil {
			log.Error().Err(err).Msg("failed to relay death link")
		}
		relayed = n
	}

	log.Info().Str("origin", origin.String()).Int("relayed", relayed).Msg("death link")
	m.emit(ctx, events.EventDeathLink, events.DeathLinkPayload{Origin: origin, Relayed: relayed})
}

func (m *Manager) slotDataPacket() *protocol.SlotDataPacket {
	sd := m.cfg.GetSlotData()
	return &protocol.SlotDataPacket{
		Clash:     uint16(sd.Clash),
		Raid:      uint16(sd.Raid),
		Regionals: sd.Regionals,
		Captures:  sd.Captures,
	}
}

// Clients returns a snapshot of every connected client, oldest first.
func (m *Manager) Clients() []ClientInfo {
	conns := m.registry.GetAll()
	out := make([]ClientInfo, 0, len(conns))

	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, conn := range conns {
		out = append(out, m.info(conn))
	}
	return out
}

// Client returns the snapshot of one connected client.
func (m *Manager) Client(id uuid.UUID) (ClientInfo, error) {
	conn, ok := m.registry.Get(id)
	if !ok {
		return ClientInfo{}, fmt.Errorf("%w: %s", ErrClientNotFound, id)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.info(conn), nil
}

// info must be called with m.mu held.
func (m *Manager) info(conn *network.Connection) ClientInfo {
	in, out := conn.Counters()
	ci := ClientInfo{
		ID:           conn.ID(),
		Remote:       conn.RemoteAddr().String(),
		Mode:         conn.Mode().String(),
		ConnectedAt:  conn.ConnectedAt(),
		LastActivity: conn.LastActivity(),
		Scenario:     int32(protocol.DefaultScenario),
		PacketsIn:    in,
		PacketsOut:   out,
	}
	if st, ok := m.clients[ci.ID]; ok {
		ci.World = st.world
		ci.Scenario = st.scenario
		ci.Shines = len(st.shines)
		ci.Items = st.items
		ci.Fillers = st.fillers
	}
	return ci
}

// Count returns the number of connected clients.
func (m *Manager) Count() int {
	return m.registry.Count()
}

// CleanStale closes connections idle for longer than timeout.
func (m *Manager) CleanStale(timeout time.Duration) []uuid.UUID {
	return m.registry.CleanStale(timeout)
}

// Traffic sums the packet counters of every connected client.
func (m *Manager) Traffic() (in, out int64) {
	for _, conn := range m.registry.GetAll() {
		i, o := conn.Counters()
		in += i
		out += o
	}
	return in, out
}

// Shutdown closes every client connection.
func (m *Manager) Shutdown() {
	m.registry.CloseAll()
}
