package rtmp

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunkGenerator_HeaderCompression(t *testing.T) {
	generator := NewChunkGenerator(DefaultChunkSizeLimits())
	audio := func(ts uint32, n int) *Message {
		return &Message{ChannelID: 4, Timestamp: ts, Type: AudioMessage, StreamID: 1, Payload: make([]byte, n)}
	}

	steps := []struct {
		name    string
		message *Message
		want    ChunkType
	}{
		{"firstUse", audio(1000, 10), ChunkType0},
		{"lengthChanged", audio(1020, 11), ChunkType1},
		{"deltaChanged", audio(1050, 11), ChunkType2},
		{"deltaRepeated", audio(1080, 11), ChunkType3},
		{"typeChanged", &Message{ChannelID: 4, Timestamp: 1110, Type: VideoMessage, StreamID: 1, Payload: make([]byte, 11)}, ChunkType1},
		{"streamChanged", &Message{ChannelID: 4, Timestamp: 1140, Type: VideoMessage, StreamID: 2, Payload: make([]byte, 11)}, ChunkType0},
	}
	for _, step := range steps {
		data, err := generator.Generate(step.message)
		require.NoError(t, err)
		assert.Equal(t, step.want, DecodeHeaderFormat(data[0]), step.name)
	}
}

func TestChunkGenerator_SplitsAtChunkSize(t *testing.T) {
	generator := NewChunkGenerator(DefaultChunkSizeLimits())
	payload := bytes.Repeat([]byte{0x11}, 300)
	data, err := generator.Generate(&Message{ChannelID: 4, Type: VideoMessage, StreamID: 1, Payload: payload})
	require.NoError(t, err)

	// 12 byte header + 128, then two 1 byte type 3 headers
	require.Len(t, data, 12+128+1+128+1+44)
	assert.Equal(t, ChunkType3, DecodeHeaderFormat(data[12+128]))
	assert.Equal(t, ChunkType3, DecodeHeaderFormat(data[12+128+1+128]))
}

func TestChunkGenerator_SetChunkSizeChunks(t *testing.T) {
	generator := NewChunkGenerator(DefaultChunkSizeLimits())

	_, err := generator.SetChunkSizeChunks(0)
	assert.ErrorIs(t, err, ErrInvalidChunkSize)
	assert.Equal(t, uint32(128), generator.WriteChunkSize())

	data, err := generator.SetChunkSizeChunks(4096)
	require.NoError(t, err)
	assert.Equal(t, uint32(4096), generator.WriteChunkSize())
	assert.Equal(t, []byte{0x02, 0, 0, 0, 0, 0, 4, byte(SetChunkSize), 0, 0, 0, 0, 0, 0, 0x10, 0}, data)
}

func TestChunkGenerator_InvalidChannel(t *testing.T) {
	generator := NewChunkGenerator(DefaultChunkSizeLimits())
	_, err := generator.Generate(&Message{ChannelID: 1, Type: AudioMessage})
	assert.ErrorIs(t, err, ErrInvalidChannelID)
}

// Every message written by the generator must be read back unchanged, whatever header compression and
// chunk sizes were involved.
func TestChunkGeneratorHandlerRoundTrip(t *testing.T) {
	for _, chunkSize := range []uint32{1, 64, 128, 4096} {
		generator := NewChunkGenerator(DefaultChunkSizeLimits())
		handler := newTestChunkHandler(t)
		require.NoError(t, generator.SetWriteChunkSize(chunkSize))
		require.NoError(t, handler.SetReadChunkSize(chunkSize))

		messages := []*Message{
			{ChannelID: 3, Timestamp: 0, Type: CommandMessageAMF0, StreamID: 0, Payload: []byte("connect")},
			{ChannelID: 4, Timestamp: 0xFFFFFF00, Type: AudioMessage, StreamID: 1, Payload: bytes.Repeat([]byte{1}, 200)},
			{ChannelID: 6, Timestamp: 0xFFFFFF10, Type: VideoMessage, StreamID: 1, Payload: bytes.Repeat([]byte{2}, 500)},
			{ChannelID: 4, Timestamp: 0xFFFFFF20, Type: AudioMessage, StreamID: 1, Payload: bytes.Repeat([]byte{3}, 200)},
			{ChannelID: 4, Timestamp: 0xFFFFFF40, Type: AudioMessage, StreamID: 1, Payload: bytes.Repeat([]byte{4}, 200)},
			// rollover
			{ChannelID: 4, Timestamp: 0x00000010, Type: AudioMessage, StreamID: 1, Payload: bytes.Repeat([]byte{5}, 200)},
			{ChannelID: 4, Timestamp: 0x00000030, Type: AudioMessage, StreamID: 1, Payload: bytes.Repeat([]byte{6}, 200)},
			{ChannelID: 6, Timestamp: 0x02000000, Type: VideoMessage, StreamID: 1, Payload: bytes.Repeat([]byte{7}, 300)},
			{ChannelID: 6, Timestamp: 0x04000000, Type: VideoMessage, StreamID: 1, Payload: bytes.Repeat([]byte{8}, 300)},
			{ChannelID: 6, Timestamp: 0x06000000, Type: VideoMessage, StreamID: 1, Payload: bytes.Repeat([]byte{9}, 300)},
			{ChannelID: 320, Timestamp: 7, Type: DataMessageAMF0, StreamID: 3, Payload: []byte{}},
			{ChannelID: 64, Timestamp: 8, Type: DataMessageAMF0, StreamID: 3, Payload: []byte("meta")},
		}

		var wire []byte
		for _, m := range messages {
			var err error
			wire, err = generator.AppendChunks(wire, m)
			require.NoError(t, err)
		}
		handler.Feed(wire)

		for i, want := range messages {
			got, err := handler.NextMessage()
			require.NoError(t, err, "chunk size %d message %d", chunkSize, i)
			assert.Equal(t, want.ChannelID, got.ChannelID)
			assert.Equal(t, want.Timestamp, got.Timestamp, "chunk size %d message %d", chunkSize, i)
			assert.Equal(t, want.Type, got.Type)
			assert.Equal(t, want.StreamID, got.StreamID)
			assert.Equal(t, len(want.Payload), len(got.Payload))
			assert.True(t, bytes.Equal(want.Payload, got.Payload))
		}
		assert.Equal(t, 0, handler.Buffered())
	}
}
