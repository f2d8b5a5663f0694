package rtmp

type MessageType uint8

const (
	SetChunkSize MessageType = 1 + iota
	AbortMessage
	Acknowledgement
	UserControlMessage
	WindowAcknowledgementSize
	SetPeerBandwidth

	AudioMessage MessageType = 8
	VideoMessage MessageType = 9

	DataMessageAMF3         MessageType = 15
	SharedObjectMessageAMF3 MessageType = 16
	CommandMessageAMF3      MessageType = 17

	DataMessageAMF0         MessageType = 18
	SharedObjectMessageAMF0 MessageType = 19
	CommandMessageAMF0      MessageType = 20

	AggregateMessage MessageType = 22
)

func (t MessageType) String() string {
	switch t {
	case SetChunkSize:
		return "SetChunkSize"
	case AbortMessage:
		return "Abort"
	case Acknowledgement:
		return "Acknowledgement"
	case UserControlMessage:
		return "UserControl"
	case WindowAcknowledgementSize:
		return "WindowAcknowledgementSize"
	case SetPeerBandwidth:
		return "SetPeerBandwidth"
	case AudioMessage:
		return "Audio"
	case VideoMessage:
		return "Video"
	case DataMessageAMF3, DataMessageAMF0:
		return "Data"
	case SharedObjectMessageAMF3, SharedObjectMessageAMF0:
		return "SharedObject"
	case CommandMessageAMF3, CommandMessageAMF0:
		return "Command"
	case AggregateMessage:
		return "Aggregate"
	}
	return "Unknown"
}

// IsProtocolControl reports whether t is one of the protocol control messages, which always travel on
// message stream 0 and chunk stream 2.
func (t MessageType) IsProtocolControl() bool {
	return t >= SetChunkSize && t <= SetPeerBandwidth && t != UserControlMessage
}

// Message is a complete logical message reassembled from (or to be split into) chunks.
// Timestamp is always the resolved absolute timestamp, header compression is handled by the chunk layer.
type Message struct {
	ChannelID uint32
	Timestamp uint32
	Type      MessageType
	StreamID  uint32
	Payload   []byte
}

func (m *Message) Length() uint32 {
	return uint32(len(m.Payload))
}
