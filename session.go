package rtmp

import (
	"context"
	"io"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/torresjeff/go-rtmp/config"
	"github.com/torresjeff/go-rtmp/rand"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

type SessionOptions struct {
	Role      HandshakeRole
	Handshake HandshakeOptions
	Stream    MessageStreamOptions
	Manager   MessageManagerOptions
	// HandshakeTimeout bounds the whole handshake. 0 disables it.
	HandshakeTimeout time.Duration
	// IdleTimeout closes a connection that received nothing for that long. 0 disables it.
	IdleTimeout time.Duration
}

func DefaultSessionOptions(role HandshakeRole) SessionOptions {
	return SessionOptions{
		Role: role,
		Handshake: HandshakeOptions{
			Scheme:                       SchemeDigestValidated,
			EncryptionAllowed:            true,
			UnvalidatedConnectionAllowed: true,
		},
		Stream:           DefaultMessageStreamOptions(),
		Manager:          DefaultMessageManagerOptions(),
		HandshakeTimeout: config.DefaultHandshakeTimeout,
		IdleTimeout:      config.DefaultIdleTimeout,
	}
}

// Session binds a MessageStream to a transport. Run owns the reading side; WriteMessage and
// SetWriteChunkSize may be called from any goroutine.
type Session struct {
	sessionID string
	logger    *zap.Logger
	transport *countingTransport
	stream    *MessageStream
	manager   *MessageManager
	opts      SessionOptions

	// writeMu keeps chunk generation and the write of its bytes together, chunk header compression
	// and the RC4 key stream both depend on the order bytes reach the wire.
	writeMu sync.Mutex
	closed  atomic.Bool

	connectedOnce sync.Once
	connected     chan struct{}
	done          chan struct{}
}

func NewSession(logger *zap.Logger, transport Transport, dispatcher Dispatcher, opts SessionOptions) (*Session, error) {
	if transport == nil {
		return nil, ErrNilTransport
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	sessionID := rand.GenerateUuid()
	logger = logger.With(zap.String("session", sessionID))
	if conn, ok := transport.(net.Conn); ok && conn.RemoteAddr() != nil {
		logger = logger.With(zap.String("remote", conn.RemoteAddr().String()))
	}

	sugar := logger.Sugar()
	var handshaker Handshaker
	if opts.Role == RoleClient {
		handshaker = NewClientHandshake(sugar, opts.Handshake)
	} else {
		handshaker = NewServerHandshake(sugar, opts.Handshake)
	}
	stream := NewMessageStream(sugar, handshaker, opts.Stream)

	return &Session{
		sessionID: sessionID,
		logger:    logger,
		transport: newCountingTransport(transport),
		stream:    stream,
		manager:   NewMessageManager(sugar, opts.Role, stream, dispatcher, opts.Manager),
		opts:      opts,
		connected: make(chan struct{}),
		done:      make(chan struct{}),
	}, nil
}

func (s *Session) ID() string {
	return s.sessionID
}

func (s *Session) State() State {
	return s.stream.State()
}

func (s *Session) Stream() *MessageStream {
	return s.stream
}

// ByteCounter returns the number of bytes moved over the transport so far.
func (s *Session) ByteCounter() ByteCounter {
	return s.transport
}

// Connected is closed once the handshake completed.
func (s *Session) Connected() <-chan struct{} {
	return s.connected
}

// Done is closed once Run returned.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Run performs the handshake and then reads and dispatches messages until the transport fails, the
// peer goes away, Close is called or ctx is cancelled. A clean end of the connection returns nil.
func (s *Session) Run(ctx context.Context) error {
	defer close(s.done)
	defer s.teardown()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			s.logger.Debug("context cancelled, closing session")
			_ = s.Close()
		case <-stop:
		}
	}()

	if s.opts.HandshakeTimeout > 0 {
		if err := s.transport.SetReadDeadline(time.Now().Add(s.opts.HandshakeTimeout)); err != nil {
			return errors.Wrap(err, "set handshake deadline")
		}
	}
	out, err := s.stream.Start()
	if err != nil {
		return err
	}
	if err := s.write(out); err != nil {
		return err
	}

	buf := make([]byte, config.BuffioSize)
	for {
		if s.stream.State() == StateConnected && s.opts.IdleTimeout > 0 {
			if err := s.transport.SetReadDeadline(time.Now().Add(s.opts.IdleTimeout)); err != nil {
				return errors.Wrap(err, "set idle deadline")
			}
		}
		n, readErr := s.transport.Read(buf)
		if n > 0 {
			if err := s.receive(buf[:n]); err != nil {
				if s.closed.Load() {
					return nil
				}
				return err
			}
		}
		if readErr != nil {
			return s.readError(readErr)
		}
	}
}

func (s *Session) receive(data []byte) error {
	wasConnected := s.stream.State() == StateConnected
	out, messages, err := s.stream.Receive(data)
	if writeErr := s.write(out); writeErr != nil {
		return writeErr
	}
	if err != nil {
		return err
	}
	if !wasConnected && s.stream.State() == StateConnected {
		s.logger.Info("handshake completed", zap.Bool("encrypted", s.stream.Encrypted()))
		s.connectedOnce.Do(func() { close(s.connected) })
		if s.opts.HandshakeTimeout > 0 && s.opts.IdleTimeout == 0 {
			if err := s.transport.SetReadDeadline(time.Time{}); err != nil {
				return errors.Wrap(err, "clear handshake deadline")
			}
		}
	}

	if ack := s.manager.Received(len(data)); ack != nil && s.stream.State() == StateConnected {
		if err := s.WriteMessage(ack); err != nil {
			return err
		}
	}
	for _, message := range messages {
		if err := s.manager.Handle(s, message); err != nil {
			return errors.Wrapf(err, "handle %s message", message.Type)
		}
	}
	return nil
}

func (s *Session) readError(err error) error {
	if s.closed.Load() {
		return nil
	}
	if err == io.EOF {
		if s.stream.State() != StateConnected {
			return errors.Wrap(err, "connection closed during handshake")
		}
		s.logger.Debug("peer closed the connection")
		return nil
	}
	if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
		if s.stream.State() == StateConnected {
			return errors.Wrap(err, "idle timeout")
		}
		return errors.Wrap(err, "handshake timeout")
	}
	return errors.Wrap(err, "read")
}

// WriteMessage sends message to the peer.
func (s *Session) WriteMessage(message *Message) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.closed.Load() {
		return ErrSessionClosed
	}
	b, err := s.stream.Send(message)
	if err != nil {
		return err
	}
	return s.writeLocked(b)
}

// SetWriteChunkSize announces size to the peer. Messages written afterwards are split at size.
func (s *Session) SetWriteChunkSize(size uint32) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.closed.Load() {
		return ErrSessionClosed
	}
	b, err := s.stream.SetWriteChunkSize(size)
	if err != nil {
		return err
	}
	return s.writeLocked(b)
}

func (s *Session) write(b []byte) error {
	if len(b) == 0 {
		return nil
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.writeLocked(b)
}

func (s *Session) writeLocked(b []byte) error {
	if s.opts.IdleTimeout > 0 {
		if err := s.transport.SetWriteDeadline(time.Now().Add(s.opts.IdleTimeout)); err != nil {
			return errors.Wrap(err, "set write deadline")
		}
	}
	if _, err := s.transport.Write(b); err != nil {
		return errors.Wrap(err, "write")
	}
	return nil
}

// Close ends the session. Run returns shortly after.
func (s *Session) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	if err := s.stream.Close(); err != nil {
		s.logger.Debug("closing session outside of an established connection", zap.Stringer("state", s.stream.State()))
	}
	return s.transport.Close()
}

func (s *Session) teardown() {
	_ = s.Close()
	s.stream.Disconnect()
	s.logger.Debug("session torn down",
		zap.Uint64("bytesRead", s.transport.ReadBytes()),
		zap.Uint64("bytesWritten", s.transport.WrittenBytes()))
}
