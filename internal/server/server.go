// Package server owns the listening socket and the single telemetry peer
// connection.
//
// The server accepts exactly one peer at a time; a newly accepted peer
// replaces the previous one after its socket is torn down. Socket errors are
// never fatal: they surface as a disconnect and the server keeps listening.
// The only error Start returns is a bind failure.
package server

import (
	"errors"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/telemetry-sync/tsc/internal/config"
	"github.com/telemetry-sync/tsc/internal/protocol"
	"github.com/telemetry-sync/tsc/internal/wire"
)

// State is the connection lifecycle state.
type State string

const (
	StateDisconnected State = "disconnected"
	StateListening    State = "listening"
	StateConnected    State = "connected"
)

// Handler receives lifecycle and message callbacks from the server's
// goroutines. Implementations must not block.
type Handler interface {
	HandleConnected(remoteAddr string)
	HandleDisconnected()
	HandleEnvelope(env *protocol.Envelope)
}

// Server listens for the telemetry producer and runs its receive loop.
type Server struct {
	cfg     *config.Config
	handler Handler
	log     zerolog.Logger

	mu       sync.Mutex
	listener net.Listener
	conn     net.Conn
	state    State
	running  bool
	done     chan struct{}
	wg       sync.WaitGroup
}

// New creates a server. Start must be called before any peer can connect.
func New(cfg *config.Config, handler Handler, logger zerolog.Logger) *Server {
	return &Server{
		cfg:     cfg,
		handler: handler,
		log:     logger,
		state:   StateDisconnected,
	}
}

// Start binds the listening socket and launches the accept loop. Calling
// Start while the server is already running is a no-op. A bind failure is
// the only fatal condition and is returned synchronously.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	listener, err := net.Listen("tcp", s.cfg.BindAddr)
	if err != nil {
		return err
	}

	s.listener = listener
	s.running = true
	s.state = StateListening
	s.done = make(chan struct{})

	s.log.Info().Str("addr", s.cfg.BindAddr).Msg("server: listening")

	s.wg.Add(1)
	go s.acceptLoop(listener, s.done)

	return nil
}

// Stop closes the listening and peer sockets, signals the loops to exit, and
// joins them with a bounded timeout. Safe to call from any goroutine and
// idempotent.
func (s *Server) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.done)
	if s.listener != nil {
		s.listener.Close()
	}
	if s.conn != nil {
		s.conn.Close()
	}
	stopTimeout := s.cfg.StopTimeout
	s.mu.Unlock()

	joined := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(joined)
	}()

	select {
	case <-joined:
	case <-time.After(stopTimeout):
		s.log.Warn().Msg("server: worker join timed out")
	}

	s.mu.Lock()
	s.listener = nil
	s.conn = nil
	s.state = StateDisconnected
	s.mu.Unlock()

	s.log.Info().Msg("server: stopped")
}

// State returns the current lifecycle state.
func (s *Server) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Addr returns the bound listener address, useful when the configured port
// is 0.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Send serializes v as one frame and writes it to the connected peer. It
// returns false when no peer is connected or the write fails; this is an
// unavailable capability, not an error.
func (s *Server) Send(v any) bool {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()

	if conn == nil {
		return false
	}

	data, err := wire.Encode(v)
	if err != nil {
		s.log.Warn().Err(err).Msg("server: cannot encode outbound frame")
		return false
	}

	conn.SetWriteDeadline(time.Now().Add(s.cfg.HeartbeatTimeout))
	if _, err := conn.Write(data); err != nil {
		s.log.Warn().Err(err).Msg("server: write to peer failed")
		return false
	}
	return true
}

// acceptLoop waits for peers until Stop. Accept is bounded by a short
// deadline so the done signal is honored promptly.
func (s *Server) acceptLoop(listener net.Listener, done chan struct{}) {
	defer s.wg.Done()

	for {
		select {
		case <-done:
			return
		default:
		}

		if tcp, ok := listener.(*net.TCPListener); ok {
			tcp.SetDeadline(time.Now().Add(s.cfg.AcceptPollInterval))
		}

		conn, err := listener.Accept()
		if err != nil {
			if isTimeout(err) {
				continue
			}
			select {
			case <-done:
				return
			default:
			}
			s.log.Warn().Err(err).Msg("server: accept failed")
			continue
		}

		s.attach(conn, done)
	}
}

// attach makes conn the current peer, tearing down any previous one, and
// launches its receive loop.
func (s *Server) attach(conn net.Conn, done chan struct{}) {
	select {
	case <-done:
		conn.Close()
		return
	default:
	}

	s.mu.Lock()
	if s.conn != nil {
		s.conn.Close()
	}
	s.conn = conn
	s.state = StateConnected
	s.mu.Unlock()

	addr := conn.RemoteAddr().String()
	s.log.Info().Str("peer", addr).Msg("server: peer connected")
	s.handler.HandleConnected(addr)

	s.wg.Add(1)
	go s.receiveLoop(conn, done)
}

// receiveLoop reads the peer's stream, decodes frames, and forwards parsed
// envelopes. The read deadline doubles as the liveness check: when no bytes
// arrive for longer than the heartbeat window the peer is declared dead.
func (s *Server) receiveLoop(conn net.Conn, done chan struct{}) {
	defer s.wg.Done()

	decoder := wire.NewDecoder(s.log)
	buf := make([]byte, 64*1024)
	lastData := time.Now()

	for {
		select {
		case <-done:
			return
		default:
		}

		conn.SetReadDeadline(time.Now().Add(s.cfg.ReadPollInterval))
		n, err := conn.Read(buf)
		if n > 0 {
			lastData = time.Now()
			decoder.Feed(buf[:n])
			s.drainFrames(decoder)
		}
		if err != nil {
			if isTimeout(err) {
				if time.Since(lastData) > s.cfg.HeartbeatTimeout {
					s.log.Warn().
						Dur("silence", time.Since(lastData)).
						Msg("server: heartbeat window exceeded, dropping peer")
					s.detach(conn)
					return
				}
				continue
			}
			if !errors.Is(err, net.ErrClosed) {
				s.log.Info().Err(err).Msg("server: peer read ended")
			}
			s.detach(conn)
			return
		}
	}
}

// drainFrames parses every complete frame currently buffered. Protocol
// errors are logged and skipped, exactly like malformed frames.
func (s *Server) drainFrames(decoder *wire.Decoder) {
	for {
		raw, ok := decoder.Next()
		if !ok {
			return
		}
		env, err := protocol.Parse(raw)
		if err != nil {
			s.log.Warn().Err(err).Msg("server: dropping invalid envelope")
			continue
		}
		s.handler.HandleEnvelope(env)
	}
}

// detach closes conn and, when it is still the current peer, transitions
// back to listening and emits the disconnected event. A connection that was
// already replaced by a newer peer is torn down silently.
func (s *Server) detach(conn net.Conn) {
	conn.Close()

	s.mu.Lock()
	current := s.conn == conn
	if current {
		s.conn = nil
		if s.running {
			s.state = StateListening
		}
	}
	s.mu.Unlock()

	if current {
		s.log.Info().Msg("server: peer disconnected")
		s.handler.HandleDisconnected()
	}
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
