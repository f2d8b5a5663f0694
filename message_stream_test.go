package rtmp

import (
	"bytes"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// handshakerMock completes after consuming need bytes and replying with reply.
type handshakerMock struct {
	start []byte
	need  int
	reply []byte
	err   error
	done  bool
}

var errDuringHandshake = errors.New("error during handshake")

func (h *handshakerMock) Start() ([]byte, error) {
	return h.start, nil
}

func (h *handshakerMock) Process(in []byte) ([]byte, int, error) {
	if h.err != nil {
		return nil, 0, h.err
	}
	if len(in) < h.need {
		return nil, 0, ErrIncompleteHandshake
	}
	h.done = true
	return h.reply, h.need, nil
}

func (h *handshakerMock) Done() bool {
	return h.done
}

func (h *handshakerMock) Ciphers() *CipherPair {
	return nil
}

// connectStreams runs a real handshake between a client and a server message stream.
func connectStreams(t *testing.T, opts HandshakeOptions) (client, server *MessageStream) {
	logger := zaptest.NewLogger(t).Sugar()
	client = NewMessageStream(logger, NewClientHandshake(logger, opts), DefaultMessageStreamOptions())
	server = NewMessageStream(logger, NewServerHandshake(logger, HandshakeOptions{EncryptionAllowed: true}), DefaultMessageStreamOptions())

	c0c1, err := client.Start()
	require.NoError(t, err)
	assert.Equal(t, StateHandshake, client.State())

	s0s1s2, messages, err := server.Receive(c0c1)
	require.NoError(t, err)
	require.Empty(t, messages)
	assert.Equal(t, StateHandshake, server.State())

	c2, _, err := client.Receive(s0s1s2)
	require.NoError(t, err)
	require.Equal(t, StateConnected, client.State())

	out, _, err := server.Receive(c2)
	require.NoError(t, err)
	require.Empty(t, out)
	require.Equal(t, StateConnected, server.State())
	return client, server
}

func TestNewMessageStream(t *testing.T) {
	ms := NewMessageStream(nil, &handshakerMock{}, DefaultMessageStreamOptions())
	assert.Equal(t, StateConnect, ms.State())
	assert.EqualValues(t, 128, ms.ReadChunkSize())
	assert.EqualValues(t, 128, ms.WriteChunkSize())
	assert.False(t, ms.Encrypted())
}

func TestMessageStream_Handshake(t *testing.T) {
	handshakeTests := []struct {
		name       string
		handshaker *handshakerMock
		input      []byte
		state      State
		err        error
	}{
		{"handshakeSuccessful", &handshakerMock{need: 3, reply: []byte{9}}, []byte{1, 2, 3}, StateConnected, nil},
		{"handshakeNeedsMoreData", &handshakerMock{need: 3}, []byte{1}, StateConnect, nil},
		{"handshakeReturnsError", &handshakerMock{err: errDuringHandshake}, []byte{1}, StateError, errDuringHandshake},
	}

	for _, tt := range handshakeTests {
		t.Run(tt.name, func(t *testing.T) {
			ms := NewMessageStream(zaptest.NewLogger(t).Sugar(), tt.handshaker, DefaultMessageStreamOptions())
			_, _, err := ms.Receive(tt.input)
			assert.Equal(t, tt.err, errors.Cause(err))
			assert.Equal(t, tt.state, ms.State())
		})
	}
}

func TestMessageStream_HandshakeAcrossReads(t *testing.T) {
	ms := NewMessageStream(zaptest.NewLogger(t).Sugar(), &handshakerMock{need: 4, reply: []byte{7}}, DefaultMessageStreamOptions())

	out, _, err := ms.Receive([]byte{1, 2})
	require.NoError(t, err)
	assert.Empty(t, out)

	out, _, err = ms.Receive([]byte{3, 4})
	require.NoError(t, err)
	assert.Equal(t, []byte{7}, out)
	assert.Equal(t, StateConnected, ms.State())
}

func TestMessageStream_LeftoverBytesAreChunks(t *testing.T) {
	generator := NewChunkGenerator(DefaultChunkSizeLimits())
	chunks, err := generator.Generate(&Message{ChannelID: 4, Timestamp: 10, Type: AudioMessage, StreamID: 1, Payload: []byte{1, 2, 3}})
	require.NoError(t, err)

	ms := NewMessageStream(zaptest.NewLogger(t).Sugar(), &handshakerMock{need: 2}, DefaultMessageStreamOptions())
	_, messages, err := ms.Receive(append([]byte{0, 0}, chunks...))
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, []byte{1, 2, 3}, messages[0].Payload)
	assert.EqualValues(t, 10, messages[0].Timestamp)
}

func TestMessageStream_SendBeforeConnected(t *testing.T) {
	ms := NewMessageStream(nil, &handshakerMock{need: 1}, DefaultMessageStreamOptions())
	_, err := ms.Send(NewPingRequestMessage(1))
	assert.ErrorIs(t, err, ErrIllegalState)
	_, err = ms.SetWriteChunkSize(4096)
	assert.ErrorIs(t, err, ErrIllegalState)
}

func TestMessageStream_Exchange(t *testing.T) {
	streamTests := []struct {
		name string
		opts HandshakeOptions
	}{
		{"legacy", HandshakeOptions{Scheme: SchemeLegacy}},
		{"digest", HandshakeOptions{Scheme: SchemeDigestValidated}},
		{"encrypted", HandshakeOptions{Encrypted: true}},
	}

	for _, tt := range streamTests {
		t.Run(tt.name, func(t *testing.T) {
			client, server := connectStreams(t, tt.opts)
			assert.Equal(t, tt.opts.Encrypted, client.Encrypted())
			assert.Equal(t, tt.opts.Encrypted, server.Encrypted())

			payload := bytes.Repeat([]byte{0xAB}, 1000)
			var wire []byte
			for i := 0; i < 3; i++ {
				b, err := client.Send(&Message{ChannelID: 6, Timestamp: uint32(i * 40), Type: VideoMessage, StreamID: 1, Payload: payload})
				require.NoError(t, err)
				wire = append(wire, b...)
			}
			if tt.opts.Encrypted {
				assert.NotContains(t, string(wire), string(payload[:64]))
			}

			var received []*Message
			// one byte at a time exercises every partial read
			for i := range wire {
				_, messages, err := server.Receive(wire[i : i+1])
				require.NoError(t, err)
				received = append(received, messages...)
			}
			require.Len(t, received, 3)
			for i, message := range received {
				assert.Equal(t, payload, message.Payload)
				assert.EqualValues(t, i*40, message.Timestamp)
				assert.Equal(t, VideoMessage, message.Type)
			}
		})
	}
}

func TestMessageStream_ChunkSizeRenegotiation(t *testing.T) {
	client, server := connectStreams(t, HandshakeOptions{Encrypted: true})

	announce, err := client.SetWriteChunkSize(4096)
	require.NoError(t, err)
	assert.EqualValues(t, 4096, client.WriteChunkSize())

	payload := bytes.Repeat([]byte{0x01}, 5000)
	data, err := client.Send(&Message{ChannelID: 6, Type: VideoMessage, StreamID: 1, Payload: payload})
	require.NoError(t, err)

	_, messages, err := server.Receive(append(announce, data...))
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, payload, messages[0].Payload)
	assert.EqualValues(t, 4096, server.ReadChunkSize())
}

func TestMessageStream_ProtocolViolations(t *testing.T) {
	logger := zaptest.NewLogger(t).Sugar()
	opts := DefaultMessageStreamOptions()
	opts.MaxProtocolViolations = 2
	ms := NewMessageStream(logger, &handshakerMock{}, opts)
	_, _, err := ms.Receive(nil)
	require.NoError(t, err)
	require.Equal(t, StateConnected, ms.State())

	// a type 3 chunk on a chunk stream that never carried a header
	orphan := []byte{0xC5, 0x00}

	_, _, err = ms.Receive(orphan)
	require.NoError(t, err)
	assert.Equal(t, StateConnected, ms.State())

	_, _, err = ms.Receive(orphan)
	assert.ErrorIs(t, err, ErrNoPreviousChunk)
	assert.Equal(t, StateError, ms.State())

	_, _, err = ms.Receive(orphan)
	assert.ErrorIs(t, err, ErrIllegalState)
}

func TestMessageStream_ViolationCounterResets(t *testing.T) {
	opts := DefaultMessageStreamOptions()
	opts.MaxProtocolViolations = 2
	ms := NewMessageStream(nil, &handshakerMock{}, opts)
	_, _, err := ms.Receive(nil)
	require.NoError(t, err)

	generator := NewChunkGenerator(DefaultChunkSizeLimits())
	valid, err := generator.Generate(&Message{ChannelID: 4, Type: AudioMessage, StreamID: 1, Payload: []byte{1}})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, _, err = ms.Receive([]byte{0xC5, 0x00})
		require.NoError(t, err)
		_, messages, err := ms.Receive(valid)
		require.NoError(t, err)
		require.Len(t, messages, 1)
	}
	assert.Equal(t, StateConnected, ms.State())
}

func TestMessageStream_CloseAndDisconnect(t *testing.T) {
	client, _ := connectStreams(t, HandshakeOptions{Scheme: SchemeDigestValidated})
	_, err := client.Streams().Reserve()
	require.NoError(t, err)

	require.NoError(t, client.Close())
	assert.Equal(t, StateDisconnecting, client.State())
	_, _, err = client.Receive([]byte{0})
	assert.ErrorIs(t, err, ErrIllegalState)

	client.Disconnect()
	assert.Equal(t, StateDisconnected, client.State())
	assert.Equal(t, 0, client.Streams().Len())
	// idempotent
	client.Disconnect()
	assert.Equal(t, StateDisconnected, client.State())
}
