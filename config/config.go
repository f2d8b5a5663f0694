package config

import "time"

const DefaultPort = "1935"
const DefaultTunnelPort = "8080"

const BuffioSize = 1024 * 64

const DefaultClientWindowSize uint32 = 2500000

// DefaultChunkSize is the chunk size both directions start with before any Set Chunk Size message.
const DefaultChunkSize uint32 = 128

// DefaultOutChunkSize is the chunk size a server announces right after the handshake.
const DefaultOutChunkSize uint32 = 4096

const MinChunkSize uint32 = 1

// MaxChunkSize bounds both directions. The protocol allows up to 0x7FFFFFFF, but a chunk can never
// carry more than a whole message, and message lengths are 24 bits wide.
const MaxChunkSize uint32 = 0xFFFFFF

// MaxReservedStreams is the number of message streams a connection may have open at once.
const MaxReservedStreams = 256

// MaxProtocolViolations is how many invalid fields in a row a peer may send before the connection
// is moved to the error state.
const MaxProtocolViolations = 3

const DefaultHandshakeTimeout = 10 * time.Second
const DefaultIdleTimeout = 60 * time.Second

// DefaultPollingInterval is the first delay hint, in tunnel polling units, sent to RTMPT clients.
const DefaultPollingInterval byte = 0x01

const FlashMediaServerVersion string = "FMS/3,5,7,7009"

const Capabilities int = 31

const Mode int = 1
