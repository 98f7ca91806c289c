package reflector

import (
	"context"
	"net"
	"sync"

	"github.com/rs/zerolog"

	"github.com/kelpstream/rtsp-reflector/internal/scheduler"
	"github.com/kelpstream/rtsp-reflector/pkg/auth"
)

// SDPSourceFunc loads a pre-configured SDP description for a pull-mode
// broadcast name not already live in the registry or SDP cache (spec §1:
// "persistence of the SDP cache" and the SDP file itself are external
// collaborators; this hook is the contract the core calls through, per
// spec §6). A nil hook means the reflector only serves broadcasts that
// have been ANNOUNCEd.
type SDPSourceFunc func(name string) ([]byte, bool)

// Server owns the process-wide services every RTSPConnection and
// ReflectorSession is constructed against: the Session Registry, the SDP
// cache, the HTTP tunnel pairing table, and the cooperative scheduler
// (spec §9 "global mutable state ... expose as typed services passed
// explicitly into each pipeline task at construction").
type Server struct {
	Config Config

	Registry *SessionRegistry
	SDPCache *SDPCache
	Tunnel   *TunnelPairing
	SDPSource SDPSourceFunc
	roles    *roleChain
	authV    *auth.Validator

	pool *scheduler.Pool
	log  zerolog.Logger

	// globalMu is the process-wide lock a role may request re-entry under
	// (spec §4.5 role execution).
	globalMu sync.Mutex

	mu       sync.Mutex
	listener net.Listener
	conns    map[string]*RTSPConnection
	closing  bool

	sessMu   sync.Mutex
	sessions map[string]*ClientSession
}

// NewServer wires a Server from cfg. Call Serve to start accepting.
func NewServer(cfg Config) *Server {
	log := newLogger(zerolog.InfoLevel)

	s := &Server{
		Config:   cfg,
		Registry: NewSessionRegistry(log),
		SDPCache: NewSDPCache("|"),
		Tunnel:   NewTunnelPairing(),
		pool:     scheduler.NewPool(cfg.Workers, cfg.Workers*4),
		log:      log.With().Str("component", "server").Logger(),
		conns:    make(map[string]*RTSPConnection),
		sessions: make(map[string]*ClientSession),
	}
	if cfg.AuthUser != "" {
		s.authV = auth.NewValidator(cfg.AuthUser, cfg.AuthPass, nil)
	}
	s.roles = newRoleChain(s)
	return s
}

// registerSession adds cs to the process-wide Session-id directory (spec
// §4.5 "when both the request header and the connection carry a session
// id, the header value wins" needs a global lookup, not just the
// connection's own binding).
func (s *Server) registerSession(cs *ClientSession) {
	s.sessMu.Lock()
	s.sessions[cs.ID] = cs
	s.sessMu.Unlock()
}

// sessionByID looks up a ClientSession by its Session header value.
func (s *Server) sessionByID(id string) (*ClientSession, bool) {
	s.sessMu.Lock()
	defer s.sessMu.Unlock()
	cs, ok := s.sessions[id]
	return cs, ok
}

// forgetSession removes id from the session directory, called on TEARDOWN
// and on keepalive expiry.
func (s *Server) forgetSession(id string) {
	s.sessMu.Lock()
	delete(s.sessions, id)
	s.sessMu.Unlock()
}

// Serve accepts connections on address until ctx is canceled or Close is
// called.
func (s *Server) Serve(ctx context.Context, address string) error {
	ln, err := net.Listen("tcp", address)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	s.log.Info().Str("address", address).Msg("rtsp reflector listening")

	s.pool.Submit(&expireTask{s: s})

	go func() {
		<-ctx.Done()
		ln.Close() //nolint:errcheck
	}()

	for {
		nconn, err := ln.Accept()
		if err != nil {
			s.mu.Lock()
			closing := s.closing
			s.mu.Unlock()
			if closing {
				return nil
			}
			return err
		}

		conn := newRTSPConnection(s, nconn)
		s.mu.Lock()
		s.conns[conn.id] = conn
		s.mu.Unlock()

		conn.start()
	}
}

// Addr reports the listener's bound address, nil before Serve has bound
// it; with a ":0" configured address this is where the chosen port lives.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Close stops accepting new connections and shuts the scheduler down.
// In-flight connections drain on their own termination paths.
func (s *Server) Close() error {
	s.mu.Lock()
	s.closing = true
	ln := s.listener
	s.mu.Unlock()

	if ln != nil {
		ln.Close() //nolint:errcheck
	}
	s.pool.Close()
	return nil
}

func (s *Server) forgetConn(id string) {
	s.mu.Lock()
	delete(s.conns, id)
	s.mu.Unlock()
}

// connByID returns the live connection for id, used by the tunnel binder
// and by a ReflectorSession signaling its publisher to close.
func (s *Server) connByID(id string) (*RTSPConnection, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conns[id]
	return c, ok
}

// connCount reports how many TCP connections are currently accepted,
// checked against Config.MaxConnections at SETUP time (spec
// §SPEC_FULL item 4, grounded on the original's sMaxConnections check).
func (s *Server) connCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}
