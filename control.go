package rtmp

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// Peer bandwidth limit types.
const (
	// The peer should limit its output bandwidth to the indicated window size.
	LimitHard uint8 = iota
	// The peer should limit its output bandwidth to the window in this message or the limit already in
	// effect, whichever is smaller.
	LimitSoft
	// Treated as hard if the previous limit type was hard, ignored otherwise.
	LimitDynamic
)

// User control event types.
const (
	EventStreamBegin uint16 = iota
	EventStreamEOF
	EventStreamDry
	EventSetBufferLength
	EventStreamIsRecorded
	_
	EventPingRequest
	EventPingResponse
)

func newProtocolMessage(t MessageType, payload []byte) *Message {
	return &Message{
		ChannelID: ProtocolChannelID,
		Type:      t,
		Payload:   payload,
	}
}

func uint32Payload(v uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, v)
	return b
}

func NewSetChunkSizeMessage(size uint32) *Message {
	return newProtocolMessage(SetChunkSize, uint32Payload(size))
}

// NewAbortMessage asks the peer to discard the partially sent message on a chunk stream.
func NewAbortMessage(channelID uint32) *Message {
	return newProtocolMessage(AbortMessage, uint32Payload(channelID))
}

// NewAcknowledgementMessage acknowledges sequenceNumber bytes received so far.
func NewAcknowledgementMessage(sequenceNumber uint32) *Message {
	return newProtocolMessage(Acknowledgement, uint32Payload(sequenceNumber))
}

func NewWindowAckSizeMessage(size uint32) *Message {
	return newProtocolMessage(WindowAcknowledgementSize, uint32Payload(size))
}

func NewSetPeerBandwidthMessage(size uint32, limitType uint8) *Message {
	payload := make([]byte, 5)
	binary.BigEndian.PutUint32(payload, size)
	payload[4] = limitType
	return newProtocolMessage(SetPeerBandwidth, payload)
}

// NewUserControlMessage builds a user control message with a 4 byte event argument.
func NewUserControlMessage(event uint16, data uint32) *Message {
	payload := make([]byte, 6)
	binary.BigEndian.PutUint16(payload, event)
	binary.BigEndian.PutUint32(payload[2:], data)
	return newProtocolMessage(UserControlMessage, payload)
}

func NewStreamBeginMessage(streamID uint32) *Message {
	return NewUserControlMessage(EventStreamBegin, streamID)
}

func NewStreamEOFMessage(streamID uint32) *Message {
	return NewUserControlMessage(EventStreamEOF, streamID)
}

func NewPingRequestMessage(timestamp uint32) *Message {
	return NewUserControlMessage(EventPingRequest, timestamp)
}

func NewPingResponseMessage(timestamp uint32) *Message {
	return NewUserControlMessage(EventPingResponse, timestamp)
}

// ParseUint32Payload returns the single 4 byte field carried by Set Chunk Size, Abort,
// Acknowledgement and Window Acknowledgement Size messages.
func ParseUint32Payload(payload []byte) (uint32, error) {
	if len(payload) < 4 {
		return 0, errors.Errorf("rtmp: control message payload has %d bytes, want 4", len(payload))
	}
	return binary.BigEndian.Uint32(payload), nil
}

// ParseSetPeerBandwidth returns the window size and limit type of a Set Peer Bandwidth payload.
func ParseSetPeerBandwidth(payload []byte) (uint32, uint8, error) {
	if len(payload) < 5 {
		return 0, 0, errors.Errorf("rtmp: set peer bandwidth payload has %d bytes, want 5", len(payload))
	}
	return binary.BigEndian.Uint32(payload), payload[4], nil
}

// ParseUserControl returns the event type and its (possibly empty) event data.
func ParseUserControl(payload []byte) (uint16, []byte, error) {
	if len(payload) < 2 {
		return 0, nil, errors.Errorf("rtmp: user control payload has %d bytes, want at least 2", len(payload))
	}
	return binary.BigEndian.Uint16(payload), payload[2:], nil
}
