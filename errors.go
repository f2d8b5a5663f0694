package rtmp

import "github.com/pkg/errors"

// Returned when more input is required. No state is consumed, so feed more bytes and retry.
var ErrIncompleteHeader = errors.New("rtmp: incomplete chunk header")
var ErrIncompleteChunk = errors.New("rtmp: incomplete chunk payload")
var ErrIncompleteHandshake = errors.New("rtmp: incomplete handshake packet")

// Returned when a peer sends a malformed or out of range field. The operation is rejected and
// the previous state is kept.
var ErrInvalidChannelID = errors.New("rtmp: invalid chunk stream id")
var ErrInvalidChunkSize = errors.New("rtmp: invalid chunk size")
var ErrInvalidStreamID = errors.New("rtmp: invalid message stream id")
var ErrInvalidChunkType = errors.New("rtmp: invalid chunk type")
var ErrNoPreviousChunk = errors.New("rtmp: received chunk type that depends on a previous chunk, but no previous chunk was found")

var ErrHandshakeRejected = errors.New("rtmp: handshake rejected")
var ErrUnsupportedRTMPVersion = errors.New("rtmp: the version of RTMP is not supported")
var ErrCapacityExceeded = errors.New("rtmp: stream id pool exhausted")
var ErrIllegalState = errors.New("rtmp: operation not allowed in the current connection state")

var ErrNilTransport = errors.New("rtmp: expected transport to be non-nil, but got a nil value")
var ErrSessionClosed = errors.New("rtmp: session closed")
var ErrServerClosed = errors.New("rtmp: server closed")

// IsNeedMoreData reports whether err only means that the input buffer was too short.
func IsNeedMoreData(err error) bool {
	switch errors.Cause(err) {
	case ErrIncompleteHeader, ErrIncompleteChunk, ErrIncompleteHandshake:
		return true
	}
	return false
}

// IsProtocolViolation reports whether err was caused by an invalid field sent by the peer.
func IsProtocolViolation(err error) bool {
	switch errors.Cause(err) {
	case ErrInvalidChannelID, ErrInvalidChunkSize, ErrInvalidStreamID, ErrInvalidChunkType, ErrNoPreviousChunk:
		return true
	}
	return false
}
