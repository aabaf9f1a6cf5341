package server

import (
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"tinychat/logger"
	"tinychat/protocol"
	"tinychat/registry"
	"tinychat/store"
)

type ServerConfig struct {
	Port int

	// PollInterval bounds each socket read so the delivery loop can keep
	// flushing queued messages for an idle-but-connected client.
	PollInterval time.Duration

	WriteTimeout time.Duration
}

// Server owns the listener and the shared registry. One goroutine per
// accepted connection; the registry and store are the only state the
// handlers share.
type Server struct {
	registry *registry.Registry
	store    *store.Store // optional, nil disables roster persistence
	config   *ServerConfig
	log      zerolog.Logger

	mu       sync.Mutex
	listener net.Listener
	conns    map[net.Conn]struct{}
	closed   bool
}

// connState is the per-connection handler state: the bound username, or ""
// while unauthenticated.
type connState struct {
	username string
}

func New(reg *registry.Registry, st *store.Store, config *ServerConfig) *Server {
	if config.PollInterval == 0 {
		config.PollInterval = 500 * time.Millisecond
	}
	if config.WriteTimeout == 0 {
		config.WriteTimeout = 30 * time.Second
	}

	return &Server{
		registry: reg,
		store:    st,
		config:   config,
		log:      logger.New("server"),
		conns:    make(map[net.Conn]struct{}),
	}
}

func (s *Server) Start() error {
	listener, err := net.Listen("tcp", ":"+strconv.Itoa(s.config.Port))
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	s.log.Info().Int("port", s.config.Port).Msg("chat server listening")

	for {
		conn, err := listener.Accept()
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if closed {
				return nil
			}
			s.log.Error().Err(err).Msg("accept failed")
			continue
		}
		go s.handleConnection(conn)
	}
}

// handleConnection runs the delivery loop for one client: flush the bound
// user's immediate queue, then wait a bounded interval for the next frame.
// A framing error is fatal to the connection; a read timeout just starts
// the next cycle.
func (s *Server) handleConnection(conn net.Conn) {
	remoteAddr := conn.RemoteAddr().String()
	s.trackConn(conn)

	c := &connState{}
	defer func() {
		s.untrackConn(conn)
		conn.Close()
		if c.username != "" {
			// presence is released; the account itself survives
			if err := s.registry.Logout(c.username); err == nil {
				s.log.Info().Str("user", c.username).Str("remote", remoteAddr).Msg("client disconnected")
				return
			}
		}
		s.log.Info().Str("remote", remoteAddr).Msg("client disconnected")
	}()

	s.log.Info().Str("remote", remoteAddr).Msg("client connected")

	fr := &protocol.FrameReader{}
	readBuf := make([]byte, 4096)

	for {
		if c.username != "" {
			msgs, err := s.registry.DrainImmediate(c.username)
			if err == nil && len(msgs) > 0 {
				if !s.send(conn, &protocol.DeliverMessage{Messages: msgs}) {
					return
				}
			}
		}

		// surface a buffered frame before touching the socket again
		msg, err := fr.Next()
		if err != nil {
			s.log.Warn().Err(err).Str("remote", remoteAddr).Msg("framing error, closing connection")
			return
		}

		if msg == nil {
			conn.SetReadDeadline(time.Now().Add(s.config.PollInterval))
			n, rerr := conn.Read(readBuf)
			if n > 0 {
				fr.Feed(readBuf[:n])
			}
			if rerr != nil {
				if netErr, ok := rerr.(net.Error); ok && netErr.Timeout() {
					continue
				}
				if rerr != io.EOF && !strings.Contains(rerr.Error(), "use of closed network connection") &&
					rerr != io.ErrClosedPipe {
					s.log.Warn().Err(rerr).Str("remote", remoteAddr).Msg("read failed")
				}
				return
			}
			continue
		}

		s.dispatch(c, msg, conn)
	}
}

// send encodes and writes one message under the write deadline. A failed
// write means the connection is gone; the caller must tear down.
func (s *Server) send(conn net.Conn, m protocol.Message) bool {
	conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
	if _, err := conn.Write(protocol.Encode(m)); err != nil {
		s.log.Warn().Err(err).Msg("write failed")
		return false
	}
	return true
}

func (s *Server) sendError(conn net.Conn, reason string) {
	s.send(conn, &protocol.ErrorMessage{Reason: reason})
}

func (s *Server) trackConn(conn net.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conns[conn] = struct{}{}
}

func (s *Server) untrackConn(conn net.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, conn)
}

// Stats returns server statistics as a formatted string for the control
// socket.
func (s *Server) Stats() string {
	present := 0
	for _, u := range s.registry.ListUsernames() {
		if here, err := s.registry.Present(u); err == nil && here {
			present++
		}
	}

	s.mu.Lock()
	conns := len(s.conns)
	s.mu.Unlock()

	return "connections=" + strconv.Itoa(conns) +
		",accounts=" + strconv.Itoa(s.registry.Count()) +
		",present=" + strconv.Itoa(present)
}

// Shutdown stops accepting and closes every live connection. Handlers
// observe the close on their next read and exit, releasing presence.
func (s *Server) Shutdown() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	if s.listener != nil {
		s.listener.Close()
	}
	conns := make([]net.Conn, 0, len(s.conns))
	for conn := range s.conns {
		conns = append(conns, conn)
	}
	s.mu.Unlock()

	for _, conn := range conns {
		conn.Close()
	}
	s.log.Info().Int("connections", len(conns)).Msg("server shut down")
}
