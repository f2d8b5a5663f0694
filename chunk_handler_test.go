package rtmp

import (
	"bytes"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/torresjeff/go-rtmp/internal/binary24"
	"go.uber.org/zap/zaptest"
)

func newTestChunkHandler(t *testing.T) *ChunkHandler {
	return NewChunkHandler(zaptest.NewLogger(t).Sugar(), DefaultChunkSizeLimits())
}

func encodeHeader(t *testing.T, h ChunkHeader) []byte {
	b, err := AppendChunkHeader(nil, &h)
	require.NoError(t, err)
	return b
}

func TestChunkHandler_PayloadSplitAcrossReads(t *testing.T) {
	handler := newTestChunkHandler(t)
	payload := []byte("0123456789")
	data := append(encodeHeader(t, ChunkHeader{Type: ChunkType0, ChannelID: 4, MessageLength: 10, MessageType: AudioMessage, MessageStreamID: 1}), payload...)

	// header plus the first 4 payload bytes
	first := len(data) - 6
	handler.Feed(data[:first])
	message, err := handler.NextMessage()
	assert.Nil(t, message)
	assert.True(t, IsNeedMoreData(err))
	assert.Equal(t, first, handler.Buffered(), "an incomplete chunk must not be consumed")

	handler.Feed(data[first:])
	message, err = handler.NextMessage()
	require.NoError(t, err)
	assert.Equal(t, &Message{ChannelID: 4, Timestamp: 0, Type: AudioMessage, StreamID: 1, Payload: payload}, message)
	assert.Equal(t, 0, handler.Buffered())

	_, err = handler.NextMessage()
	assert.Equal(t, ErrIncompleteHeader, err)
}

func TestChunkHandler_ByteAtATime(t *testing.T) {
	generator := NewChunkGenerator(DefaultChunkSizeLimits())
	sent := &Message{ChannelID: 6, Timestamp: 1234, Type: VideoMessage, StreamID: 1, Payload: bytes.Repeat([]byte{0xAB}, 300)}
	data, err := generator.Generate(sent)
	require.NoError(t, err)

	handler := newTestChunkHandler(t)
	var received *Message
	for i, b := range data {
		handler.Feed([]byte{b})
		message, err := handler.NextMessage()
		if i < len(data)-1 {
			require.True(t, IsNeedMoreData(err), "byte %d: %v", i, err)
			continue
		}
		require.NoError(t, err)
		received = message
	}
	assert.Equal(t, sent, received)
}

func TestChunkHandler_MultiChunkMessage(t *testing.T) {
	handler := newTestChunkHandler(t)
	payload := bytes.Repeat([]byte{1, 2, 3}, 100) // 300 bytes, 3 chunks of at most 128

	var data []byte
	data = append(data, encodeHeader(t, ChunkHeader{Type: ChunkType0, ChannelID: 4, Timestamp: 40, MessageLength: 300, MessageType: VideoMessage, MessageStreamID: 1})...)
	data = append(data, payload[:128]...)
	data = append(data, encodeHeader(t, ChunkHeader{Type: ChunkType3, ChannelID: 4})...)
	data = append(data, payload[128:256]...)
	data = append(data, encodeHeader(t, ChunkHeader{Type: ChunkType3, ChannelID: 4})...)
	data = append(data, payload[256:]...)
	handler.Feed(data)

	message, err := handler.NextMessage()
	require.NoError(t, err)
	assert.Equal(t, uint32(40), message.Timestamp)
	assert.Equal(t, payload, message.Payload)
}

func TestChunkHandler_HeaderInheritance(t *testing.T) {
	handler := newTestChunkHandler(t)
	var data []byte
	// type 0: absolute timestamp 1000
	data = append(data, encodeHeader(t, ChunkHeader{Type: ChunkType0, ChannelID: 5, Timestamp: 1000, MessageLength: 2, MessageType: AudioMessage, MessageStreamID: 1})...)
	data = append(data, 'a', 'b')
	// type 1: new length, delta 20
	data = append(data, encodeHeader(t, ChunkHeader{Type: ChunkType1, ChannelID: 5, Timestamp: 20, MessageLength: 3, MessageType: AudioMessage})...)
	data = append(data, 'c', 'd', 'e')
	// type 2: same length and type, delta 30
	data = append(data, encodeHeader(t, ChunkHeader{Type: ChunkType2, ChannelID: 5, Timestamp: 30})...)
	data = append(data, 'f', 'g', 'h')
	// type 3: a new message repeating everything, including the delta
	data = append(data, encodeHeader(t, ChunkHeader{Type: ChunkType3, ChannelID: 5})...)
	data = append(data, 'i', 'j', 'k')
	handler.Feed(data)

	want := []struct {
		timestamp uint32
		payload   string
	}{
		{1000, "ab"},
		{1020, "cde"},
		{1050, "fgh"},
		{1080, "ijk"},
	}
	for _, w := range want {
		message, err := handler.NextMessage()
		require.NoError(t, err)
		assert.Equal(t, w.timestamp, message.Timestamp)
		assert.Equal(t, w.payload, string(message.Payload))
		assert.Equal(t, uint32(1), message.StreamID)
		assert.Equal(t, AudioMessage, message.Type)
	}
}

func TestChunkHandler_Type3AfterType0RepeatsZeroDelta(t *testing.T) {
	handler := newTestChunkHandler(t)
	var data []byte
	data = append(data, encodeHeader(t, ChunkHeader{Type: ChunkType0, ChannelID: 5, Timestamp: 500, MessageLength: 1, MessageType: AudioMessage, MessageStreamID: 1})...)
	data = append(data, 'a')
	data = append(data, encodeHeader(t, ChunkHeader{Type: ChunkType3, ChannelID: 5})...)
	data = append(data, 'b')
	handler.Feed(data)

	for range []int{0, 1} {
		message, err := handler.NextMessage()
		require.NoError(t, err)
		assert.Equal(t, uint32(500), message.Timestamp)
	}
}

func TestChunkHandler_TimestampRollover(t *testing.T) {
	handler := newTestChunkHandler(t)
	var data []byte
	data = append(data, encodeHeader(t, ChunkHeader{Type: ChunkType0, ChannelID: 4, Timestamp: 0xFFFFFFFB, MessageLength: 1, MessageType: VideoMessage, MessageStreamID: 1})...)
	data = append(data, 0)
	data = append(data, encodeHeader(t, ChunkHeader{Type: ChunkType2, ChannelID: 4, Timestamp: 10})...)
	data = append(data, 0)
	handler.Feed(data)

	message, err := handler.NextMessage()
	require.NoError(t, err)
	assert.Equal(t, uint32(0xFFFFFFFB), message.Timestamp)

	message, err = handler.NextMessage()
	require.NoError(t, err)
	assert.Equal(t, uint32(5), message.Timestamp)
}

func TestChunkHandler_ExtendedTimestampContinuation(t *testing.T) {
	handler := newTestChunkHandler(t)
	payload := bytes.Repeat([]byte{7}, 200)
	var data []byte
	data = append(data, encodeHeader(t, ChunkHeader{Type: ChunkType0, ChannelID: 4, Timestamp: 0x01000000, MessageLength: 200, MessageType: VideoMessage, MessageStreamID: 1})...)
	data = append(data, payload[:128]...)
	data = append(data, encodeHeader(t, ChunkHeader{Type: ChunkType3, ChannelID: 4, Timestamp: 0x01000000, Extended: true})...)
	data = append(data, payload[128:]...)
	handler.Feed(data)

	message, err := handler.NextMessage()
	require.NoError(t, err)
	assert.Equal(t, uint32(0x01000000), message.Timestamp)
	assert.Equal(t, payload, message.Payload)
}

func TestChunkHandler_Interleaving(t *testing.T) {
	handler := newTestChunkHandler(t)
	video := bytes.Repeat([]byte{'v'}, 200)
	audio := bytes.Repeat([]byte{'a'}, 150)

	var data []byte
	data = append(data, encodeHeader(t, ChunkHeader{Type: ChunkType0, ChannelID: 6, Timestamp: 10, MessageLength: 200, MessageType: VideoMessage, MessageStreamID: 1})...)
	data = append(data, video[:128]...)
	data = append(data, encodeHeader(t, ChunkHeader{Type: ChunkType0, ChannelID: 4, Timestamp: 12, MessageLength: 150, MessageType: AudioMessage, MessageStreamID: 1})...)
	data = append(data, audio[:128]...)
	data = append(data, encodeHeader(t, ChunkHeader{Type: ChunkType3, ChannelID: 6})...)
	data = append(data, video[128:]...)
	data = append(data, encodeHeader(t, ChunkHeader{Type: ChunkType3, ChannelID: 4})...)
	data = append(data, audio[128:]...)
	handler.Feed(data)

	message, err := handler.NextMessage()
	require.NoError(t, err)
	assert.Equal(t, uint32(6), message.ChannelID)
	assert.Equal(t, video, message.Payload)
	assert.Equal(t, uint32(10), message.Timestamp)

	message, err = handler.NextMessage()
	require.NoError(t, err)
	assert.Equal(t, uint32(4), message.ChannelID)
	assert.Equal(t, audio, message.Payload)
	assert.Equal(t, uint32(12), message.Timestamp)
}

func TestChunkHandler_SetChunkSize(t *testing.T) {
	tests := []struct {
		name    string
		size    uint32
		want    uint32
		invalid bool
	}{
		{"valid", 4096, 4096, false},
		{"minimum", 1, 1, false},
		{"zero", 0, 128, true},
		{"tooLarge", 0x1000000, 128, true},
		{"topBitSet", 0x80000080, 128, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := newTestChunkHandler(t)
			generator := NewChunkGenerator(DefaultChunkSizeLimits())
			data, err := generator.Generate(NewSetChunkSizeMessage(tt.size))
			require.NoError(t, err)
			handler.Feed(data)

			_, err = handler.NextMessage()
			if tt.invalid {
				assert.ErrorIs(t, err, ErrInvalidChunkSize)
				assert.True(t, IsProtocolViolation(err))
			} else {
				assert.True(t, IsNeedMoreData(err), "set chunk size must not be returned as a message")
			}
			assert.Equal(t, tt.want, handler.ReadChunkSize())
		})
	}
}

func TestChunkHandler_SetChunkSizeAppliesToLaterChunks(t *testing.T) {
	handler := newTestChunkHandler(t)
	generator := NewChunkGenerator(DefaultChunkSizeLimits())

	announce, err := generator.SetChunkSizeChunks(4096)
	require.NoError(t, err)
	payload := bytes.Repeat([]byte{9}, 1000)
	media, err := generator.Generate(&Message{ChannelID: 4, Type: VideoMessage, StreamID: 1, Payload: payload})
	require.NoError(t, err)
	require.Len(t, media, HeaderLength(ChunkType0)+1000, "1000 bytes fit in a single 4096 byte chunk")

	// both messages in the same read
	handler.Feed(append(announce, media...))
	message, err := handler.NextMessage()
	require.NoError(t, err)
	assert.Equal(t, payload, message.Payload)
	assert.Equal(t, uint32(4096), handler.ReadChunkSize())
}

func TestChunkHandler_Abort(t *testing.T) {
	handler := newTestChunkHandler(t)
	generator := NewChunkGenerator(DefaultChunkSizeLimits())

	var data []byte
	data = append(data, encodeHeader(t, ChunkHeader{Type: ChunkType0, ChannelID: 4, Timestamp: 0, MessageLength: 200, MessageType: VideoMessage, MessageStreamID: 1})...)
	data = append(data, bytes.Repeat([]byte{1}, 128)...)
	abort, err := generator.Generate(NewAbortMessage(4))
	require.NoError(t, err)
	data = append(data, abort...)
	// after the abort the chunk stream may start a new message
	data = append(data, encodeHeader(t, ChunkHeader{Type: ChunkType1, ChannelID: 4, Timestamp: 5, MessageLength: 3, MessageType: VideoMessage})...)
	data = append(data, 'x', 'y', 'z')
	handler.Feed(data)

	message, err := handler.NextMessage()
	require.NoError(t, err)
	assert.Equal(t, "xyz", string(message.Payload))
	assert.Equal(t, uint32(5), message.Timestamp)
}

func TestChunkHandler_NoPreviousChunk(t *testing.T) {
	for _, ct := range []ChunkType{ChunkType1, ChunkType2, ChunkType3} {
		handler := newTestChunkHandler(t)
		handler.Feed(encodeHeader(t, ChunkHeader{Type: ct, ChannelID: 4, MessageLength: 1}))
		_, err := handler.NextMessage()
		assert.ErrorIs(t, err, ErrNoPreviousChunk)
		assert.True(t, IsProtocolViolation(err))
		assert.Equal(t, 0, handler.Buffered())
	}
}

func TestChunkHandler_NewHeaderWhileMessageInFlight(t *testing.T) {
	handler := newTestChunkHandler(t)
	var data []byte
	data = append(data, encodeHeader(t, ChunkHeader{Type: ChunkType0, ChannelID: 4, MessageLength: 200, MessageType: VideoMessage, MessageStreamID: 1})...)
	data = append(data, bytes.Repeat([]byte{1}, 128)...)
	data = append(data, encodeHeader(t, ChunkHeader{Type: ChunkType0, ChannelID: 4, Timestamp: 40, MessageLength: 10, MessageType: VideoMessage, MessageStreamID: 1})...)
	data = append(data, bytes.Repeat([]byte{2}, 10)...)
	data = append(data, encodeHeader(t, ChunkHeader{Type: ChunkType0, ChannelID: 6, MessageLength: 3, MessageType: AudioMessage, MessageStreamID: 1})...)
	data = append(data, 7, 8, 9)
	handler.Feed(data)

	// the new header replaces the partial message
	message, err := handler.NextMessage()
	require.NoError(t, err)
	assert.Equal(t, uint32(4), message.ChannelID)
	assert.Equal(t, uint32(40), message.Timestamp)
	assert.Equal(t, bytes.Repeat([]byte{2}, 10), message.Payload)

	// chunks for other channels buffered behind it are kept
	message, err = handler.NextMessage()
	require.NoError(t, err)
	assert.Equal(t, uint32(6), message.ChannelID)
	assert.Equal(t, []byte{7, 8, 9}, message.Payload)
	assert.Equal(t, 0, handler.Buffered())
}

func TestChunkHandler_AnnouncedLengthDoesNotReserveMemory(t *testing.T) {
	const channels = 200
	var data []byte
	for id := uint32(400); id < 400+channels; id++ {
		data = append(data, encodeHeader(t, ChunkHeader{Type: ChunkType0, ChannelID: id, MessageLength: binary24.MaxUint24, MessageType: VideoMessage, MessageStreamID: 1})...)
		data = append(data, bytes.Repeat([]byte{0xEE}, 128)...)
	}

	handler := NewChunkHandler(nil, DefaultChunkSizeLimits())
	var before, after runtime.MemStats
	runtime.GC()
	runtime.ReadMemStats(&before)

	handler.Feed(data)
	message, err := handler.NextMessage()
	runtime.ReadMemStats(&after)

	assert.Nil(t, message)
	assert.Equal(t, ErrIncompleteHeader, err)
	assert.Equal(t, 0, handler.Buffered())
	require.Len(t, handler.streams, channels)
	for id, cs := range handler.streams {
		require.True(t, cs.inFlight(), "chunk stream %d", id)
		assert.LessOrEqual(t, cap(cs.message.Payload), int(handler.ReadChunkSize()), "chunk stream %d", id)
	}
	grown := after.TotalAlloc - before.TotalAlloc
	assert.Less(t, grown, uint64(100*len(data)), "allocated %d bytes for %d bytes of input", grown, len(data))
}

func TestChunkHandler_ZeroLengthMessage(t *testing.T) {
	handler := newTestChunkHandler(t)
	handler.Feed(encodeHeader(t, ChunkHeader{Type: ChunkType0, ChannelID: 3, MessageLength: 0, MessageType: CommandMessageAMF0}))
	message, err := handler.NextMessage()
	require.NoError(t, err)
	assert.Empty(t, message.Payload)
}

func TestChunkHandler_Reset(t *testing.T) {
	handler := newTestChunkHandler(t)
	handler.Feed(encodeHeader(t, ChunkHeader{Type: ChunkType0, ChannelID: 4, MessageLength: 1, MessageType: AudioMessage}))
	handler.Feed([]byte{0})
	_, err := handler.NextMessage()
	require.NoError(t, err)

	handler.Reset()
	handler.Feed(encodeHeader(t, ChunkHeader{Type: ChunkType3, ChannelID: 4}))
	_, err = handler.NextMessage()
	assert.ErrorIs(t, err, ErrNoPreviousChunk)
}
