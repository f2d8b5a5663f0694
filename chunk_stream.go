package rtmp

// chunkStream is the state kept for one chunk stream id on the receiving side.
type chunkStream struct {
	// last is the most recent header, with every field resolved from the headers before it.
	last    ChunkHeader
	hasLast bool
	// timestamp is the absolute timestamp of the current (or last) message.
	timestamp uint32
	// delta is the timestamp delta a type 3 header starting a new message repeats.
	delta uint32
	// extended reports whether type 3 headers on this chunk stream carry an extended timestamp.
	extended bool

	// message is non-nil while a message is being reassembled.
	message   *Message
	remaining uint32
}

func (cs *chunkStream) inFlight() bool {
	return cs.message != nil
}

// abort drops the message being reassembled. The header state is kept, later headers may still be
// compressed against it.
func (cs *chunkStream) abort() {
	cs.message = nil
	cs.remaining = 0
}

// outboundChunkStream is the state kept for one chunk stream id on the sending side, mirroring what
// the peer holds in its chunkStream.
type outboundChunkStream struct {
	used      bool
	streamID  uint32
	length    uint32
	typeID    MessageType
	timestamp uint32
	delta     uint32
	field     uint32
	extended  bool
}
