package rtmp

import (
	"github.com/pkg/errors"
	"github.com/torresjeff/go-rtmp/config"
	"go.uber.org/zap"
)

type MessageManagerOptions struct {
	// WindowAckSize is announced to the peer after connect.
	WindowAckSize uint32
	// OutChunkSize is the write chunk size a server switches to after connect. 0 keeps the default.
	OutChunkSize uint32
}

func DefaultMessageManagerOptions() MessageManagerOptions {
	return MessageManagerOptions{
		WindowAckSize: config.DefaultClientWindowSize,
		OutChunkSize:  config.DefaultOutChunkSize,
	}
}

// MessageManager keeps the protocol control bookkeeping of a connection: acknowledgement windows, peer
// bandwidth, ping replies and, for servers, the connect, createStream and deleteStream commands. Every
// message is forwarded to the dispatcher once it was handled.
//
// A MessageManager is used from the goroutine reading the connection only.
type MessageManager struct {
	logger     *zap.SugaredLogger
	role       HandshakeRole
	stream     *MessageStream
	dispatcher Dispatcher
	opts       MessageManagerOptions

	// ackWindow is the window the peer asked to be acknowledged at, 0 until it sent one.
	ackWindow uint32
	received  uint64
	lastAck   uint64
	peerAcked uint32

	sentWindowAckSize uint32
	bandwidth         uint32
	limitType         uint8
	hasLimit          bool
}

func NewMessageManager(logger *zap.SugaredLogger, role HandshakeRole, stream *MessageStream, dispatcher Dispatcher, opts MessageManagerOptions) *MessageManager {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if dispatcher == nil {
		dispatcher = nopDispatcher{}
	}
	return &MessageManager{
		logger:     logger,
		role:       role,
		stream:     stream,
		dispatcher: dispatcher,
		opts:       opts,
	}
}

// Received counts n bytes read from the transport and returns the Acknowledgement to send when a
// window was completed, nil otherwise.
func (m *MessageManager) Received(n int) *Message {
	m.received += uint64(n)
	if m.ackWindow == 0 || m.received-m.lastAck < uint64(m.ackWindow) {
		return nil
	}
	m.lastAck = m.received
	// the sequence number wraps like every other 32 bit counter of the protocol
	return NewAcknowledgementMessage(uint32(m.received))
}

func (m *MessageManager) BytesReceived() uint64 {
	return m.received
}

// PeerAcknowledged returns the last sequence number the peer acknowledged.
func (m *MessageManager) PeerAcknowledged() uint32 {
	return m.peerAcked
}

// Bandwidth returns the output bandwidth limit set by the peer and its limit type.
func (m *MessageManager) Bandwidth() (uint32, uint8) {
	return m.bandwidth, m.limitType
}

// Handle interprets message, writes the replies it calls for to w and dispatches it.
func (m *MessageManager) Handle(w MessageWriter, message *Message) error {
	var err error
	switch message.Type {
	case Acknowledgement, WindowAcknowledgementSize, SetPeerBandwidth:
		err = m.handleControlMessage(w, message)
	case UserControlMessage:
		err = m.handleUserControlMessage(w, message)
	case CommandMessageAMF0:
		if m.role == RoleServer {
			err = m.handleCommandMessage(w, message)
		}
	}
	if err != nil {
		return err
	}
	return m.dispatcher.Dispatch(w, message)
}

func (m *MessageManager) handleControlMessage(w MessageWriter, message *Message) error {
	switch message.Type {
	case Acknowledgement:
		sequenceNumber, err := ParseUint32Payload(message.Payload)
		if err != nil {
			return err
		}
		m.peerAcked = sequenceNumber
		m.logger.Debugf("peer acknowledged %d bytes", sequenceNumber)
	case WindowAcknowledgementSize:
		size, err := ParseUint32Payload(message.Payload)
		if err != nil {
			return err
		}
		m.ackWindow = size
		m.logger.Debugf("peer window acknowledgement size set to %d", size)
	case SetPeerBandwidth:
		size, limitType, err := ParseSetPeerBandwidth(message.Payload)
		if err != nil {
			return err
		}
		m.setPeerBandwidth(size, limitType)
		if size != m.sentWindowAckSize {
			m.sentWindowAckSize = size
			return w.WriteMessage(NewWindowAckSizeMessage(size))
		}
	}
	return nil
}

func (m *MessageManager) setPeerBandwidth(size uint32, limitType uint8) {
	switch limitType {
	case LimitHard:
	case LimitSoft:
		if m.hasLimit && m.bandwidth < size {
			size = m.bandwidth
		}
	case LimitDynamic:
		// only meaningful after a hard limit, otherwise ignored
		if !m.hasLimit || m.limitType != LimitHard {
			m.logger.Debugf("ignored dynamic peer bandwidth %d", size)
			return
		}
		limitType = LimitHard
	default:
		m.logger.Warnf("ignored peer bandwidth with unknown limit type %d", limitType)
		return
	}
	m.bandwidth = size
	m.limitType = limitType
	m.hasLimit = true
	m.logger.Debugf("peer bandwidth set to %d, limit type %d", size, limitType)
}

func (m *MessageManager) handleUserControlMessage(w MessageWriter, message *Message) error {
	eventType, data, err := ParseUserControl(message.Payload)
	if err != nil {
		return err
	}
	switch eventType {
	case EventPingRequest:
		timestamp, err := ParseUint32Payload(data)
		if err != nil {
			return err
		}
		return w.WriteMessage(NewPingResponseMessage(timestamp))
	case EventStreamBegin, EventStreamEOF, EventStreamDry, EventSetBufferLength, EventStreamIsRecorded, EventPingResponse:
		m.logger.Debugf("user control event %d", eventType)
	default:
		m.logger.Warnf("unknown user control event %d", eventType)
	}
	return nil
}

func (m *MessageManager) handleCommandMessage(w MessageWriter, message *Message) error {
	command, err := ParseCommand(message.Payload)
	if err != nil {
		// not every AMF0 command is one of ours, the dispatcher may still understand it
		m.logger.Debugf("could not parse command: %v", err)
		return nil
	}
	m.logger.Debugf("received command %s, transaction %v", command.Name, command.TransactionID)

	switch command.Name {
	case CommandConnect:
		return m.onConnect(w, command)
	case CommandCreateStream:
		return m.onCreateStream(w, command)
	case CommandDeleteStream:
		return m.onDeleteStream(command)
	}
	return nil
}

func (m *MessageManager) onConnect(w MessageWriter, command *Command) error {
	if err := w.WriteMessage(NewWindowAckSizeMessage(m.opts.WindowAckSize)); err != nil {
		return err
	}
	m.sentWindowAckSize = m.opts.WindowAckSize
	if err := w.WriteMessage(NewSetPeerBandwidthMessage(m.opts.WindowAckSize, LimitDynamic)); err != nil {
		return err
	}
	if m.opts.OutChunkSize != 0 {
		if err := w.SetWriteChunkSize(m.opts.OutChunkSize); err != nil {
			return err
		}
	}
	return m.writeCommand(w, NewConnectResult(command.TransactionID))
}

func (m *MessageManager) onCreateStream(w MessageWriter, command *Command) error {
	streamID, err := m.stream.Streams().Reserve()
	if errors.Cause(err) == ErrCapacityExceeded {
		m.logger.Warnf("createStream rejected: %v", err)
		return m.writeCommand(w, NewErrorResult(command.TransactionID, "NetConnection.Call.Failed", "no more streams can be created"))
	}
	if err != nil {
		return err
	}
	m.logger.Debugf("created stream %d", streamID)
	return m.writeCommand(w, NewCreateStreamResult(command.TransactionID, streamID))
}

func (m *MessageManager) onDeleteStream(command *Command) error {
	streamID, err := command.StreamIDArg()
	if err != nil {
		m.logger.Warnf("deleteStream ignored: %v", err)
		return nil
	}
	m.stream.Streams().Release(streamID)
	m.logger.Debugf("deleted stream %d", streamID)
	return nil
}

func (m *MessageManager) writeCommand(w MessageWriter, command *Command) error {
	message, err := command.Message(0)
	if err != nil {
		return err
	}
	return w.WriteMessage(message)
}
