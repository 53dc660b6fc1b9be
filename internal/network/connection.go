// Package network implements the TCP listener the mod connects to and the
// per-client connection wrappers.
package network

import (
	"errors"
	"fmt"
	"net"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/UmedMuzl/SuperMarioOdysseyArchipelago/internal/metrics"
	"github.com/UmedMuzl/SuperMarioOdysseyArchipelago/internal/protocol"
)

// WriteTimeout bounds a single packet write.
const WriteTimeout = 10 * time.Second

// ErrConnectionClosed is returned when writing to a closed connection.
var ErrConnectionClosed = errors.New("connection is closed")

// Connection wraps the TCP stream of one mod client. Reads happen on the
// listener goroutine only; writes may come from any goroutine.
type Connection struct {
	mu      sync.Mutex
	conn    net.Conn
	id      uuid.UUID
	mode    protocol.ConnectionType
	logger  zerolog.Logger
	metrics *metrics.Metrics

	connectedAt  time.Time
	lastActivity time.Time
	closed       bool

	packetsIn  atomic.Int64
	packetsOut atomic.Int64
}

// NewConnection wraps an existing net.Conn.
func NewConnection(conn net.Conn, m *metrics.Metrics) *Connection {
	now := time.Now()
	return &Connection{
		conn:         conn,
		metrics:      m,
		connectedAt:  now,
		lastActivity: now,
		logger:       log.With().Str("component", "connection").Str("remote", conn.RemoteAddr().String()).Logger(),
	}
}

// SetIdentity records the client id and mode from the Connect handshake.
func (c *Connection) SetIdentity(id uuid.UUID, mode protocol.ConnectionType) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.id = id
	c.mode = mode
	c.logger = log.With().
		Str("component", "connection").
		Str("client", id.String()).
		Str("remote", c.conn.RemoteAddr().String()).
		Logger()
}

// ID returns the client identifier, or uuid.Nil before the handshake.
func (c *Connection) ID() uuid.UUID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.id
}

// Mode returns the connection mode sent in the handshake.
func (c *Connection) Mode() protocol.ConnectionType {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// Logger returns the connection's logger.
func (c *Connection) Logger() *zerolog.Logger {
	c.mu.Lock()
	defer c.mu.Unlock()
	l := c.logger
	return &l
}

// ReadPacket reads one packet, waiting at most timeout (zero waits forever).
func (c *Connection) ReadPacket(timeout time.Duration) (*protocol.Packet, error) {
	if timeout > 0 {
		c.conn.SetReadDeadline(time.Now().Add(timeout))
	} else {
		c.conn.SetReadDeadline(time.Time{})
	}

	pkt, err := protocol.ReadPacket(c.conn)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.lastActivity = time.Now()
	c.mu.Unlock()

	c.packetsIn.Add(1)
	c.metrics.PacketReceived(pkt.Header.Type.String(), protocol.HeaderSize+int(pkt.Header.Size))
	return pkt, nil
}

// WritePacket encodes and sends a packet.
func (c *Connection) WritePacket(p *protocol.Packet) error {
	data, err := protocol.Encode(p)
	if err != nil {
		return err
	}
	return c.writeFrame(p.Header.Type, data)
}

// writeFrame sends an already encoded packet.
func (c *Connection) writeFrame(t protocol.PacketType, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrConnectionClosed
	}

	c.conn.SetWriteDeadline(time.Now().Add(WriteTimeout))
	if _, err := c.conn.Write(data); err != nil {
		return fmt.Errorf("failed to write %s packet: %w", t, err)
	}

	c.lastActivity = time.Now()
	c.packetsOut.Add(1)
	c.metrics.PacketSent(t.String(), len(data))
	return nil
}

// Close closes the connection. Further calls are no-ops.
func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}

	c.closed = true
	c.logger.Debug().Msg("connection closed")
	return c.conn.Close()
}

// IsClosed returns whether the connection has been closed.
func (c *Connection) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// LastActivity returns the time of the last read/write activity.
func (c *Connection) LastActivity() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastActivity
}

// ConnectedAt returns the time the connection was established.
func (c *Connection) ConnectedAt() time.Time {
	return c.connectedAt
}

// RemoteAddr returns the remote address of the connection.
func (c *Connection) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// Counters returns the number of packets received and sent.
func (c *Connection) Counters() (in, out int64) {
	return c.packetsIn.Load(), c.packetsOut.Load()
}

// ConnectionRegistry tracks connected clients by id.
type ConnectionRegistry struct {
	mu    sync.RWMutex
	conns map[uuid.UUID]*Connection
}

// NewConnectionRegistry creates a new ConnectionRegistry.
func NewConnectionRegistry() *ConnectionRegistry {
	return &ConnectionRegistry{
		conns: make(map[uuid.UUID]*Connection),
	}
}

// Register adds a connection. A previous connection with the same id is
// closed and replaced; Register reports whether that happened.
func (r *ConnectionRegistry) Register(id uuid.UUID, conn *Connection) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, replaced := r.conns[id]
	if replaced && existing != conn {
		existing.Close()
	}

	r.conns[id] = conn
	log.Debug().Str("client", id.String()).Bool("replaced", replaced).Msg("connection registered")
	return replaced
}

// Unregister removes conn if it is still the registered connection for id.
// A connection that was replaced by a reconnect does not remove its successor.
func (r *ConnectionRegistry) Unregister(id uuid.UUID, conn *Connection) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.conns[id]
	if !ok || current != conn {
		return false
	}
	delete(r.conns, id)
	log.Debug().Str("client", id.String()).Msg("connection unregistered")
	return true
}

// Get returns the connection for a client id.
func (r *ConnectionRegistry) Get(id uuid.UUID) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.conns[id]
	return conn, ok
}

// GetAll returns all active connections ordered by connection time.
func (r *ConnectionRegistry) GetAll() []*Connection {
	r.mu.RLock()
	result := make([]*Connection, 0, len(r.conns))
	for _, c := range r.conns {
		result = append(result, c)
	}
	r.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		return result[i].ConnectedAt().Before(result[j].ConnectedAt())
	})
	return result
}

// Count returns the number of active connections.
func (r *ConnectionRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// CloseAll closes and removes every connection.
func (r *ConnectionRegistry) CloseAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, conn := range r.conns {
		conn.Close()
		delete(r.conns, id)
	}

	log.Info().Msg("all connections closed")
}

// CleanStale closes connections inactive for longer than timeout and
// returns their ids.
func (r *ConnectionRegistry) CleanStale(timeout time.Duration) []uuid.UUID {
	r.mu.Lock()
	defer r.mu.Unlock()

	var cleaned []uuid.UUID
	cutoff := time.Now().Add(-timeout)

	for id, conn := range r.conns {
		last := conn.LastActivity()
		if last.Before(cutoff) {
			conn.Close()
			delete(r.conns, id)
			cleaned = append(cleaned, id)
			log.Warn().
				Str("client", id.String()).
				Time("last_activity", last).
				Msg("cleaned stale connection")
		}
	}

	return cleaned
}

// Broadcast encodes p once and sends it to every client except the one with
// id except. It returns the number of clients reached.
func (r *ConnectionRegistry) Broadcast(p *protocol.Packet, except uuid.UUID) (int, error) {
	data, err := protocol.Encode(p)
	if err != nil {
		return 0, err
	}

	sent := 0
	for _, conn := range r.GetAll() {
		if conn.ID() == except {
			continue
		}
		if err := conn.writeFrame(p.Header.Type, data); err != nil {
			log.Warn().Err(err).Str("client", conn.ID().String()).Msg("broadcast failed")
			continue
		}
		sent++
	}
	return sent, nil
}
