package network

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/UmedMuzl/SuperMarioOdysseyArchipelago/internal/config"
	"github.com/UmedMuzl/SuperMarioOdysseyArchipelago/internal/metrics"
	"github.com/UmedMuzl/SuperMarioOdysseyArchipelago/internal/protocol"
)

// PacketHandler receives the traffic of every client connection.
//
// HandleConnect is called once after a valid Connect packet; returning an
// error rejects the client. HandlePacket is called for every later packet,
// including ones whose payload was not decoded. HandleDisconnect is called
// exactly once for every client that HandleConnect accepted.
type PacketHandler interface {
	HandleConnect(ctx context.Context, conn *Connection) error
	HandlePacket(ctx context.Context, conn *Connection, pkt *protocol.Packet)
	HandleDisconnect(ctx context.Context, conn *Connection, reason string)
}

// ErrHandshake is returned when a client does not open with a Connect packet.
var ErrHandshake = errors.New("handshake failed")

// TCPListener accepts mod clients. Each client must open with a Connect
// packet; afterwards every packet is passed to the PacketHandler.
type TCPListener struct {
	addr             string
	handshakeTimeout time.Duration
	readTimeout      time.Duration
	handler          PacketHandler
	metrics          *metrics.Metrics

	mu       sync.Mutex
	listener net.Listener
	ready    chan struct{}
	wg       sync.WaitGroup
}

// NewTCPListener creates a listener from the server section of cfg.
func NewTCPListener(cfg *config.Config, handler PacketHandler, m *metrics.Metrics) *TCPListener {
	s := cfg.GetServer()
	return &TCPListener{
		addr:             net.JoinHostPort(s.ListenAddress, strconv.Itoa(s.Port)),
		handshakeTimeout: time.Duration(s.HandshakeTimeout) * time.Second,
		readTimeout:      time.Duration(s.ReadTimeout) * time.Second,
		handler:          handler,
		metrics:          m,
		ready:            make(chan struct{}),
	}
}

// Start binds the listener and serves clients until ctx is cancelled.
func (l *TCPListener) Start(ctx context.Context) error {
	if err := l.Listen(ctx); err != nil {
		return err
	}
	return l.Serve(ctx)
}

// Listen binds the configured address.
func (l *TCPListener) Listen(ctx context.Context) error {
	lc := ReuseAddrListenConfig()
	ln, err := lc.Listen(ctx, "tcp", l.addr)
	if err != nil {
		return fmt.Errorf("failed to start TCP listener on %s: %w", l.addr, err)
	}

	l.mu.Lock()
	l.listener = ln
	l.mu.Unlock()
	close(l.ready)

	log.Info().Str("addr", ln.Addr().String()).Msg("TCP listener started")
	return nil
}

// Ready is closed once the listener is bound.
func (l *TCPListener) Ready() <-chan struct{} {
	return l.ready
}

// Addr returns the bound address, or nil before Listen.
func (l *TCPListener) Addr() net.Addr {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.listener == nil {
		return nil
	}
	return l.listener.Addr()
}

// Serve accepts connections until ctx is cancelled, then waits for the
// client goroutines to finish.
func (l *TCPListener) Serve(ctx context.Context) error {
	l.mu.Lock()
	ln := l.listener
	l.mu.Unlock()
	if ln == nil {
		return errors.New("listener not bound")
	}

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				log.Info().Msg("TCP listener stopping")
				l.wg.Wait()
				return nil
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				l.wg.Wait()
				return nil
			}
			log.Error().Err(err).Msg("failed to accept connection")
			continue
		}

		log.Debug().
			Str("remote", conn.RemoteAddr().String()).
			Msg("new client connection")

		l.wg.Add(1)
		go func() {
			defer l.wg.Done()
			l.ServeConn(ctx, conn)
		}()
	}
}

// ServeConn runs the handshake and read loop for a single client.
// It returns when the client disconnects or ctx is cancelled.
func (l *TCPListener) ServeConn(ctx context.Context, rawConn net.Conn) {
	conn := NewConnection(rawConn, l.metrics)
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	if err := l.handshake(conn); err != nil {
		conn.Logger().Warn().Err(err).Msg("rejecting client")
		return
	}
	if err := l.handler.HandleConnect(ctx, conn); err != nil {
		conn.Logger().Warn().Err(err).Msg("client refused")
		return
	}

	reason := l.readLoop(ctx, conn)
	l.handler.HandleDisconnect(ctx, conn, reason)
}

// handshake reads the first packet, which must be a decoded Connect.
func (l *TCPListener) handshake(conn *Connection) error {
	pkt, err := conn.ReadPacket(l.handshakeTimeout)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrHandshake, err)
	}
	connect, ok := pkt.Payload.(*protocol.ConnectPacket)
	if !ok {
		return fmt.Errorf("%w: expected Connect as first packet, got %s", ErrHandshake, pkt.Header.Type)
	}
	if !connect.Mode.Known() {
		conn.Logger().Warn().Int32("mode", int32(connect.Mode)).Msg("unknown connection mode, treating as new connection")
	}
	conn.SetIdentity(pkt.Header.ID, connect.Mode)
	return nil
}

func (l *TCPListener) readLoop(ctx context.Context, conn *Connection) string {
	logger := conn.Logger()

	for {
		if ctx.Err() != nil {
			return "server shutdown"
		}

		pkt, err := conn.ReadPacket(l.readTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return "server shutdown"
			}
			if reason, ok := recoverable(err); ok {
				l.metrics.DecodeError(reason)
				logger.Warn().Err(err).Msg("dropping undecodable packet")
				continue
			}
			return disconnectReason(conn, err)
		}

		l.handler.HandlePacket(ctx, conn, pkt)

		if pkt.Header.Type == protocol.TypeDisconnect {
			return "client disconnect"
		}
	}
}

// recoverable reports whether err left the stream aligned, so the loop can
// skip the packet and keep reading.
func recoverable(err error) (string, bool) {
	// Short reads from the socket are never recoverable.
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return "", false
	}
	switch {
	case errors.Is(err, protocol.ErrUnknownPacketType):
		return "unknown_type", true
	case errors.Is(err, protocol.ErrTruncatedPayload):
		return "truncated_payload", true
	case errors.Is(err, protocol.ErrInvalidEncoding):
		return "invalid_encoding", true
	}
	return "", false
}

func disconnectReason(conn *Connection, err error) string {
	if conn.IsClosed() {
		return "connection closed"
	}
	if errors.Is(err, io.EOF) {
		return "closed by peer"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "read timeout"
	}
	conn.Logger().Error().Err(err).Msg("read error, closing connection")
	return "read error"
}

// Stop closes the listening socket.
func (l *TCPListener) Stop() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.listener != nil {
		return l.listener.Close()
	}
	return nil
}
