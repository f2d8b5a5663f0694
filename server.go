package rtmp

import (
	"context"
	"crypto/tls"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/torresjeff/go-rtmp/config"
	"go.uber.org/atomic"
	"go.uber.org/zap"
	"golang.org/x/net/netutil"
)

// Server accepts RTMP connections and runs a Session for each of them. Incoming messages go to the
// dispatcher.
type Server struct {
	logger     *zap.Logger
	cfg        *config.Config
	dispatcher Dispatcher
	registry   *SessionRegistry

	connections  atomic.Int64
	shuttingDown atomic.Bool
	wg           sync.WaitGroup

	mu        sync.Mutex
	listeners map[net.Listener]struct{}
	tunnels   []*tunnelServer
}

type tunnelServer struct {
	server  *http.Server
	handler *TunnelHandler
}

// NewServer returns a server using cfg, or config.Default() if cfg is nil.
func NewServer(logger *zap.Logger, cfg *config.Config, dispatcher Dispatcher) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg == nil {
		cfg = config.Default()
	}
	return &Server{
		logger:     logger,
		cfg:        cfg,
		dispatcher: dispatcher,
		registry:   NewSessionRegistry(),
		listeners:  make(map[net.Listener]struct{}),
	}
}

func (s *Server) Registry() *SessionRegistry {
	return s.registry
}

// Connections returns the number of transports currently served.
func (s *Server) Connections() int64 {
	return s.connections.Load()
}

func (s *Server) addr() string {
	if s.cfg.ListenAddr == "" {
		return ":" + config.DefaultPort
	}
	return s.cfg.ListenAddr
}

// Listen listens on the configured address and serves connections until Shutdown is called. If no
// address has been configured, ":1935" is used.
func (s *Server) Listen() error {
	listener, err := net.Listen("tcp", s.addr())
	if err != nil {
		return errors.Wrapf(err, "listen on %s", s.addr())
	}
	return s.Serve(listener)
}

// ListenAndServeTLS serves RTMPS. The certificate and key files of the configuration are used when
// certFile and keyFile are empty.
func (s *Server) ListenAndServeTLS(certFile, keyFile string) error {
	if certFile == "" && keyFile == "" {
		certFile, keyFile = s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile
	}
	certificate, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return errors.Wrap(err, "load tls key pair")
	}
	listener, err := tls.Listen("tcp", s.addr(), &tls.Config{
		Certificates: []tls.Certificate{certificate},
		MinVersion:   tls.VersionTLS12,
	})
	if err != nil {
		return errors.Wrapf(err, "listen on %s", s.addr())
	}
	return s.Serve(listener)
}

// ListenTunnel serves RTMPT on the configured tunnel address until Shutdown is called, in which case
// ErrServerClosed is returned.
func (s *Server) ListenTunnel() error {
	addr := s.cfg.RTMPT.ListenAddr
	if addr == "" {
		addr = ":" + config.DefaultTunnelPort
	}
	tunnel := &tunnelServer{handler: NewTunnelHandler(s.logger, s)}
	tunnel.server = &http.Server{Addr: addr, Handler: tunnel.handler}

	s.mu.Lock()
	if s.shuttingDown.Load() {
		s.mu.Unlock()
		return ErrServerClosed
	}
	s.tunnels = append(s.tunnels, tunnel)
	s.mu.Unlock()

	s.logger.Info("listening for rtmpt", zap.String("addr", addr))
	err := tunnel.server.ListenAndServe()
	if err == http.ErrServerClosed {
		return ErrServerClosed
	}
	return errors.Wrapf(err, "serve rtmpt on %s", addr)
}

// Serve accepts connections on listener until it fails or Shutdown is called, in which case
// ErrServerClosed is returned.
func (s *Server) Serve(listener net.Listener) error {
	if s.cfg.MaxConnections > 0 {
		listener = netutil.LimitListener(listener, s.cfg.MaxConnections)
	}
	if !s.trackListener(listener) {
		_ = listener.Close()
		return ErrServerClosed
	}
	defer s.untrackListener(listener)

	s.logger.Info("listening", zap.String("addr", listener.Addr().String()))
	var backoff time.Duration
	for {
		conn, err := listener.Accept()
		if err != nil {
			if s.shuttingDown.Load() {
				return ErrServerClosed
			}
			if netErr, ok := err.(net.Error); ok && netErr.Temporary() {
				if backoff == 0 {
					backoff = 5 * time.Millisecond
				} else if backoff *= 2; backoff > time.Second {
					backoff = time.Second
				}
				s.logger.Warn("accept failed, retrying", zap.Error(err), zap.Duration("backoff", backoff))
				time.Sleep(backoff)
				continue
			}
			return errors.Wrap(err, "accept")
		}
		backoff = 0

		s.logger.Debug("accepted connection", zap.String("remote", conn.RemoteAddr().String()))
		if !s.addConnection() {
			_ = conn.Close()
			return ErrServerClosed
		}
		go func() {
			defer s.wg.Done()
			_ = s.ServeTransport(context.Background(), conn)
		}()
	}
}

// ServeTransport runs a server session over t until it ends. It is what Serve runs for every accepted
// connection, and what the RTMPT tunnel runs for every opened tunnel.
func (s *Server) ServeTransport(ctx context.Context, t Transport) error {
	session, err := NewSession(s.logger, t, s.dispatcher, s.sessionOptions())
	if err != nil {
		return err
	}

	// Registering under mu guarantees Shutdown either sees the session in CloseAll or refuses it here.
	s.mu.Lock()
	if s.shuttingDown.Load() {
		s.mu.Unlock()
		_ = t.Close()
		return ErrServerClosed
	}
	s.connections.Inc()
	s.registry.Register(session)
	s.mu.Unlock()
	defer func() {
		s.registry.Unregister(session.ID())
		s.connections.Dec()
	}()

	s.logger.Info("starting session", zap.String("session", session.ID()))
	err = session.Run(ctx)
	if err != nil {
		s.logger.Error("session ended with an error", zap.String("session", session.ID()), zap.Error(err))
	} else {
		s.logger.Info("session ended", zap.String("session", session.ID()))
	}
	return err
}

func (s *Server) sessionOptions() SessionOptions {
	opts := DefaultSessionOptions(RoleServer)
	opts.Handshake.EncryptionAllowed = s.cfg.EncryptionAllowed
	opts.Handshake.UnvalidatedConnectionAllowed = s.cfg.UnvalidatedConnectionAllowed
	opts.Stream = MessageStreamOptions{
		Limits:                ChunkSizeLimits{Min: s.cfg.MinChunkSize, Max: s.cfg.MaxChunkSize},
		MaxReservedStreams:    s.cfg.MaxReservedStreams,
		MaxProtocolViolations: s.cfg.MaxProtocolViolations,
	}
	opts.Manager = MessageManagerOptions{
		WindowAckSize: s.cfg.WindowAckSize,
		OutChunkSize:  s.cfg.OutChunkSize,
	}
	opts.HandshakeTimeout = s.cfg.HandshakeTimeout
	opts.IdleTimeout = s.cfg.IdleTimeout
	return opts
}

func (s *Server) trackListener(listener net.Listener) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shuttingDown.Load() {
		return false
	}
	s.listeners[listener] = struct{}{}
	return true
}

// addConnection counts an accepted connection in wg unless Shutdown already started waiting on it.
func (s *Server) addConnection() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shuttingDown.Load() {
		return false
	}
	s.wg.Add(1)
	return true
}

func (s *Server) untrackListener(listener net.Listener) {
	s.mu.Lock()
	delete(s.listeners, listener)
	s.mu.Unlock()
}

// Shutdown stops accepting connections, closes every session and waits for them to end or for ctx to
// be done.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.shuttingDown.Store(true)
	for listener := range s.listeners {
		_ = listener.Close()
	}
	tunnels := s.tunnels
	s.mu.Unlock()

	for _, tunnel := range tunnels {
		if err := tunnel.server.Shutdown(ctx); err != nil {
			return errors.Wrap(err, "shut down rtmpt")
		}
	}
	s.registry.CloseAll()
	for _, tunnel := range tunnels {
		tunnel.handler.Close()
	}

	finished := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
		s.logger.Info("server shut down")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
