package rtmp

import (
	"sync"

	"github.com/pkg/errors"
	"github.com/torresjeff/go-rtmp/config"
	"go.uber.org/zap"
)

type MessageStreamOptions struct {
	Limits                ChunkSizeLimits
	MaxReservedStreams    int
	MaxProtocolViolations int
}

func DefaultMessageStreamOptions() MessageStreamOptions {
	return MessageStreamOptions{
		Limits:                DefaultChunkSizeLimits(),
		MaxReservedStreams:    config.MaxReservedStreams,
		MaxProtocolViolations: config.MaxProtocolViolations,
	}
}

// MessageStream is the state of one connection: its lifecycle state, the handshake while it runs, the
// chunk multiplexers in both directions, the optional RTMPE ciphers and the message stream ids in use.
// It never touches the transport; bytes go in through Receive and come out of Start, Receive, Send and
// SetWriteChunkSize.
//
// All methods lock the stream, so applying a chunk size change never races with parsing.
type MessageStream struct {
	mu         sync.Mutex
	logger     *zap.SugaredLogger
	state      stateMachine
	handshaker Handshaker

	// pending holds received bytes the handshake could not use yet.
	pending []byte

	handler   *ChunkHandler
	generator *ChunkGenerator
	ciphers   *CipherPair
	streams   *StreamIDPool

	maxViolations int
	violations    int
}

func NewMessageStream(logger *zap.SugaredLogger, handshaker Handshaker, opts MessageStreamOptions) *MessageStream {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if opts.Limits.Max == 0 {
		opts.Limits = DefaultChunkSizeLimits()
	}
	if opts.MaxProtocolViolations <= 0 {
		opts.MaxProtocolViolations = config.MaxProtocolViolations
	}
	if opts.MaxReservedStreams <= 0 {
		opts.MaxReservedStreams = config.MaxReservedStreams
	}
	ms := &MessageStream{
		logger:        logger,
		handshaker:    handshaker,
		handler:       NewChunkHandler(logger, opts.Limits),
		generator:     NewChunkGenerator(opts.Limits),
		streams:       NewStreamIDPool(opts.MaxReservedStreams),
		maxViolations: opts.MaxProtocolViolations,
	}
	ms.state.onTransition = func(from, to State) {
		logger.Debugf("connection state changed from %s to %s", from, to)
	}
	return ms
}

func (ms *MessageStream) State() State {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return ms.state.current()
}

// Streams returns the message stream ids reserved on this connection.
func (ms *MessageStream) Streams() *StreamIDPool {
	return ms.streams
}

// Encrypted reports whether an RTMPE cipher pair is installed.
func (ms *MessageStream) Encrypted() bool {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return ms.ciphers != nil
}

// Start returns the first handshake bytes to send, if the handshaker has any.
func (ms *MessageStream) Start() ([]byte, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	if ms.state.current() != StateConnect {
		return nil, errors.Wrapf(ErrIllegalState, "start in state %s", ms.state.current())
	}
	out, err := ms.handshaker.Start()
	if err != nil {
		ms.fail(err)
		return nil, err
	}
	if out != nil {
		if err := ms.state.transition(StateHandshake); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Receive takes bytes read from the transport. Before the connection is established they go to the
// handshake and out holds the replies to send. Bytes left over once the handshake completes, and every
// byte after that, are decrypted if needed and parsed as chunks; the messages they completed are returned.
//
// A protocol violation is logged and skipped until MaxProtocolViolations happen in a row, at which point
// the connection moves to StateError and the error is returned.
func (ms *MessageStream) Receive(data []byte) (out []byte, messages []*Message, err error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	switch ms.state.current() {
	case StateConnect, StateHandshake:
		out, data, err = ms.handshake(data)
		if err != nil || ms.state.current() != StateConnected {
			return out, nil, err
		}
	case StateConnected:
	default:
		return nil, nil, errors.Wrapf(ErrIllegalState, "received data in state %s", ms.state.current())
	}

	if len(data) > 0 {
		// data may alias the caller's read buffer
		buf := append([]byte(nil), data...)
		ms.ciphers.DecryptInPlace(buf)
		ms.handler.Feed(buf)
	}
	messages, err = ms.drain()
	return out, messages, err
}

// handshake runs the handshaker over the buffered and new bytes. It returns the replies and, once the
// handshake completed, the bytes that follow it.
func (ms *MessageStream) handshake(data []byte) ([]byte, []byte, error) {
	ms.pending = append(ms.pending, data...)
	var out []byte
	for !ms.handshaker.Done() {
		reply, n, err := ms.handshaker.Process(ms.pending)
		if IsNeedMoreData(err) {
			return out, nil, nil
		}
		if err != nil {
			ms.fail(err)
			return out, nil, err
		}
		ms.pending = ms.pending[n:]
		out = append(out, reply...)
		if ms.state.current() == StateConnect {
			if err := ms.state.transition(StateHandshake); err != nil {
				return out, nil, err
			}
		}
	}

	if err := ms.state.transition(StateConnected); err != nil {
		return out, nil, err
	}
	ms.ciphers = ms.handshaker.Ciphers()
	if ms.ciphers != nil {
		ms.logger.Debug("rtmpe cipher pair installed")
	}
	// the handshake is not needed anymore
	ms.handshaker = nil
	rest := ms.pending
	ms.pending = nil
	return out, rest, nil
}

func (ms *MessageStream) drain() ([]*Message, error) {
	var messages []*Message
	for {
		message, err := ms.handler.NextMessage()
		if err == nil {
			ms.violations = 0
			messages = append(messages, message)
			continue
		}
		if IsNeedMoreData(err) {
			return messages, nil
		}
		if !IsProtocolViolation(err) {
			return messages, err
		}
		ms.violations++
		ms.logger.Warnf("protocol violation %d of %d: %v", ms.violations, ms.maxViolations, err)
		if ms.violations >= ms.maxViolations {
			ms.fail(err)
			return messages, errors.Wrap(err, "too many protocol violations")
		}
	}
}

// Send returns the chunks carrying message, encrypted if RTMPE is in use. The bytes must be written to
// the transport in the order Send returned them.
func (ms *MessageStream) Send(message *Message) ([]byte, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	if ms.state.current() != StateConnected {
		return nil, errors.Wrapf(ErrIllegalState, "send in state %s", ms.state.current())
	}
	b, err := ms.generator.Generate(message)
	if err != nil {
		return nil, err
	}
	ms.ciphers.EncryptInPlace(b)
	return b, nil
}

// SetWriteChunkSize returns the Set Chunk Size message announcing size. Messages sent afterwards use
// the new size.
func (ms *MessageStream) SetWriteChunkSize(size uint32) ([]byte, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	if ms.state.current() != StateConnected {
		return nil, errors.Wrapf(ErrIllegalState, "set chunk size in state %s", ms.state.current())
	}
	b, err := ms.generator.SetChunkSizeChunks(size)
	if err != nil {
		return nil, err
	}
	ms.logger.Debugf("write chunk size changed to %d", size)
	ms.ciphers.EncryptInPlace(b)
	return b, nil
}

func (ms *MessageStream) ReadChunkSize() uint32 {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return ms.handler.ReadChunkSize()
}

func (ms *MessageStream) WriteChunkSize() uint32 {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return ms.generator.WriteChunkSize()
}

// Abort discards the partially received message on a chunk stream.
func (ms *MessageStream) Abort(channelID uint32) {
	ms.mu.Lock()
	ms.handler.Abort(channelID)
	ms.mu.Unlock()
}

// Close starts an orderly close. Nothing is received afterwards.
func (ms *MessageStream) Close() error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return ms.state.transition(StateDisconnecting)
}

// Disconnect drops every piece of connection state. It is called once the transport is gone and may be
// called from any state.
func (ms *MessageStream) Disconnect() {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	if ms.state.current() == StateDisconnected {
		return
	}
	_ = ms.state.transition(StateDisconnected)
	ms.handler.Reset()
	ms.streams.Clear()
	ms.pending = nil
	ms.handshaker = nil
	ms.ciphers = nil
}

// fail moves to StateError. The handshake can fail before anything was exchanged, in which case the
// connection is already unusable and only the log records it.
func (ms *MessageStream) fail(err error) {
	if ms.state.transition(StateError) != nil {
		ms.logger.Debugf("connection failed in state %s: %v", ms.state.current(), err)
	}
}
