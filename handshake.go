package rtmp

import (
	"bytes"
	"encoding/binary"

	"github.com/pkg/errors"
	"github.com/torresjeff/go-rtmp/rand"
	"go.uber.org/zap"
)

const RtmpVersion3 = 3

// RtmpVersionEncrypted is the C0/S0 version of an RTMPE handshake.
const RtmpVersionEncrypted = 6

type HandshakeRole uint8

const (
	// RoleServer accepts C0+C1, answers with S0+S1+S2 and waits for C2.
	RoleServer HandshakeRole = iota
	// RoleClient sends C0+C1, waits for S0+S1+S2 and answers with C2.
	RoleClient
)

// HandshakeScheme is the kind of C1/S1 packets exchanged.
type HandshakeScheme uint8

const (
	// SchemeLegacy exchanges random packets that are echoed back.
	SchemeLegacy HandshakeScheme = iota
	// SchemeDigestValidated embeds HMAC-SHA256 digests in every packet.
	SchemeDigestValidated
)

func (s HandshakeScheme) String() string {
	if s == SchemeDigestValidated {
		return "digest"
	}
	return "legacy"
}

type HandshakeOptions struct {
	// Scheme is the scheme a client uses. A server picks it from C1.
	Scheme HandshakeScheme
	// Encrypted makes a client request RTMPE. It implies SchemeDigestValidated.
	Encrypted bool
	// EncryptionAllowed makes a server accept RTMPE requests.
	EncryptionAllowed bool
	// UnvalidatedConnectionAllowed makes a server keep a connection whose C2 fails validation.
	UnvalidatedConnectionAllowed bool
}

type handshakePhase uint8

const (
	phaseStart handshakePhase = iota
	phaseWaitS0S1S2
	phaseWaitC2
	phaseDone
)

// Handshake implements both roles of the RTMP handshake, in plain and encrypted (RTMPE) mode.
type Handshake struct {
	logger    *zap.SugaredLogger
	role      HandshakeRole
	opts      HandshakeOptions
	scheme    HandshakeScheme
	layout    digestLayout
	encrypted bool
	version   byte
	phase     handshakePhase

	// local is the C1 or S1 that was sent, localDigest the digest embedded in it.
	local       []byte
	localDigest []byte
	keys        *dhKeyPair
	ciphers     *CipherPair
	validated   bool
}

func NewServerHandshake(logger *zap.SugaredLogger, opts HandshakeOptions) *Handshake {
	return newHandshake(logger, RoleServer, opts)
}

func NewClientHandshake(logger *zap.SugaredLogger, opts HandshakeOptions) *Handshake {
	if opts.Encrypted {
		opts.Scheme = SchemeDigestValidated
	}
	return newHandshake(logger, RoleClient, opts)
}

func newHandshake(logger *zap.SugaredLogger, role HandshakeRole, opts HandshakeOptions) *Handshake {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Handshake{logger: logger, role: role, opts: opts, scheme: opts.Scheme}
}

func (h *Handshake) Done() bool {
	return h.phase == phaseDone
}

func (h *Handshake) Ciphers() *CipherPair {
	return h.ciphers
}

// Scheme returns the scheme in use. For a server it is only known once C1 was processed.
func (h *Handshake) Scheme() HandshakeScheme {
	return h.scheme
}

func (h *Handshake) Encrypted() bool {
	return h.encrypted
}

// Validated reports whether the peer's last packet passed validation. It can only be false for a
// completed server handshake that tolerated an unvalidated C2.
func (h *Handshake) Validated() bool {
	return h.validated
}

func (h *Handshake) Start() ([]byte, error) {
	if h.role == RoleServer {
		return nil, nil
	}
	if h.phase != phaseStart {
		return nil, errors.Wrap(ErrIllegalState, "handshake already started")
	}

	h.version = RtmpVersion3
	if h.opts.Encrypted {
		h.version = RtmpVersionEncrypted
		h.encrypted = true
	}
	c0c1 := make([]byte, 1+handshakePacketSize)
	c0c1[0] = h.version
	c1 := c0c1[1:]
	// time stays 0
	if err := rand.GenerateCryptoSafeRandomData(c1[8:]); err != nil {
		return nil, err
	}
	if h.scheme == SchemeDigestValidated {
		binary.BigEndian.PutUint32(c1[4:8], clientHandshakeVersion)
		h.layout = layoutDigestFirst
		if h.encrypted {
			keys, err := newDHKeyPair()
			if err != nil {
				return nil, err
			}
			h.keys = keys
			copy(c1[h.layout.keyOffset(c1):], keys.public)
		}
		h.localDigest = writeDigest(c1, h.layout, clientPartialKey)
	}
	h.local = append([]byte(nil), c1...)
	h.phase = phaseWaitS0S1S2
	h.logger.Debugf("client handshake: sending C0+C1, version %d, %s scheme", h.version, h.scheme)
	return c0c1, nil
}

func (h *Handshake) Process(in []byte) ([]byte, int, error) {
	switch {
	case h.role == RoleServer && h.phase == phaseStart:
		return h.processC0C1(in)
	case h.role == RoleServer && h.phase == phaseWaitC2:
		return h.processC2(in)
	case h.role == RoleClient && h.phase == phaseWaitS0S1S2:
		return h.processS0S1S2(in)
	case h.role == RoleClient && h.phase == phaseStart:
		return nil, 0, errors.Wrap(ErrIllegalState, "client handshake must be started before processing input")
	}
	return nil, 0, errors.Wrap(ErrIllegalState, "handshake already completed")
}

func (h *Handshake) processC0C1(in []byte) ([]byte, int, error) {
	const size = 1 + handshakePacketSize
	if len(in) < size {
		return nil, 0, ErrIncompleteHandshake
	}
	switch in[0] {
	case RtmpVersion3:
	case RtmpVersionEncrypted:
		if !h.opts.EncryptionAllowed {
			return nil, 0, errors.Wrap(ErrHandshakeRejected, "encrypted handshakes are not allowed")
		}
		h.encrypted = true
	default:
		return nil, 0, errors.Wrapf(ErrUnsupportedRTMPVersion, "version %d", in[0])
	}
	h.version = in[0]
	c1 := in[1:size]

	out := make([]byte, 1+2*handshakePacketSize)
	out[0] = h.version
	s1 := out[1 : 1+handshakePacketSize]
	s2 := out[1+handshakePacketSize:]

	var clientDigest []byte
	found := false
	// A zero version means the client does not implement the digest scheme.
	if binary.BigEndian.Uint32(c1[4:8]) != 0 {
		h.layout, clientDigest, found = findDigest(c1, clientPartialKey)
	}
	if !found && h.encrypted {
		return nil, 0, errors.Wrap(ErrHandshakeRejected, "encrypted handshake without a valid C1 digest")
	}

	if err := rand.GenerateCryptoSafeRandomData(s1[8:]); err != nil {
		return nil, 0, err
	}
	if !found {
		h.scheme = SchemeLegacy
		copy(s2, c1)
	} else {
		h.scheme = SchemeDigestValidated
		copy(s1[0:4], c1[0:4])
		binary.BigEndian.PutUint32(s1[4:8], serverHandshakeVersion)
		if h.encrypted {
			if err := h.agree(s1, c1); err != nil {
				return nil, 0, err
			}
		}
		h.localDigest = writeDigest(s1, h.layout, serverPartialKey)

		if err := rand.GenerateCryptoSafeRandomData(s2[:c2s2DigestOffset]); err != nil {
			return nil, 0, err
		}
		writeResponseDigest(s2, serverFullKey, clientDigest)
	}
	h.local = append([]byte(nil), s1...)
	h.phase = phaseWaitC2
	h.logger.Debugf("server handshake: received C0+C1, version %d, %s scheme, sending S0+S1+S2", h.version, h.scheme)
	return out, size, nil
}

func (h *Handshake) processC2(in []byte) ([]byte, int, error) {
	if len(in) < handshakePacketSize {
		return nil, 0, ErrIncompleteHandshake
	}
	c2 := in[:handshakePacketSize]
	h.validated = bytes.Equal(c2[8:], h.local[8:])
	if !h.validated && h.scheme == SchemeDigestValidated {
		h.validated = validResponseDigest(c2, clientFullKey, h.localDigest)
	}
	if !h.validated {
		if !h.opts.UnvalidatedConnectionAllowed {
			return nil, 0, errors.Wrap(ErrHandshakeRejected, "C2 does not match S1")
		}
		h.logger.Warn("server handshake: C2 failed validation, accepting unvalidated connection")
	}
	h.phase = phaseDone
	h.logger.Debug("server handshake: received C2, handshake completed")
	return nil, handshakePacketSize, nil
}

func (h *Handshake) processS0S1S2(in []byte) ([]byte, int, error) {
	const size = 1 + 2*handshakePacketSize
	if len(in) < size {
		return nil, 0, ErrIncompleteHandshake
	}
	if in[0] != RtmpVersion3 && in[0] != RtmpVersionEncrypted {
		return nil, 0, errors.Wrapf(ErrUnsupportedRTMPVersion, "version %d", in[0])
	}
	if in[0] != h.version {
		return nil, 0, errors.Wrapf(ErrHandshakeRejected, "server answered version %d to version %d", in[0], h.version)
	}
	s1 := in[1 : 1+handshakePacketSize]
	s2 := in[1+handshakePacketSize : size]

	var serverDigest []byte
	found := false
	if h.scheme == SchemeDigestValidated && binary.BigEndian.Uint32(s1[4:8]) != 0 {
		var layout digestLayout
		layout, serverDigest, found = findDigest(s1, serverPartialKey)
		if found && h.encrypted && layout != h.layout {
			return nil, 0, errors.Wrap(ErrHandshakeRejected, "S1 uses a different key layout than C1")
		}
	}

	// S2 either echoes C1 or carries a digest keyed with the C1 digest.
	valid := bytes.Equal(s2[8:], h.local[8:])
	if !valid && h.scheme == SchemeDigestValidated {
		valid = validResponseDigest(s2, serverFullKey, h.localDigest)
	}
	if !valid {
		return nil, 0, errors.Wrap(ErrHandshakeRejected, "S2 does not match C1")
	}
	h.validated = true

	if h.encrypted {
		if !found {
			return nil, 0, errors.Wrap(ErrHandshakeRejected, "encrypted handshake without a valid S1 digest")
		}
		peer := s1[h.layout.keyOffset(s1) : h.layout.keyOffset(s1)+publicKeyLength]
		if err := h.deriveCiphers(peer); err != nil {
			return nil, 0, err
		}
	}

	c2 := make([]byte, handshakePacketSize)
	if found {
		if err := rand.GenerateCryptoSafeRandomData(c2[:c2s2DigestOffset]); err != nil {
			return nil, 0, err
		}
		writeResponseDigest(c2, clientFullKey, serverDigest)
	} else {
		copy(c2, s1)
	}
	h.phase = phaseDone
	h.logger.Debugf("client handshake: received S0+S1+S2, sending C2, %s scheme", h.scheme)
	return c2, size, nil
}

// agree places a fresh public key in the server's S1 and derives the ciphers from the client's key in C1.
func (h *Handshake) agree(s1, c1 []byte) error {
	keys, err := newDHKeyPair()
	if err != nil {
		return err
	}
	h.keys = keys
	copy(s1[h.layout.keyOffset(s1):], keys.public)
	peer := c1[h.layout.keyOffset(c1) : h.layout.keyOffset(c1)+publicKeyLength]
	return h.deriveCiphers(peer)
}

func (h *Handshake) deriveCiphers(peerPublic []byte) error {
	secret, err := h.keys.sharedSecret(peerPublic)
	if err != nil {
		return errors.Wrap(ErrHandshakeRejected, err.Error())
	}
	ciphers, err := newCipherPair(secret, h.keys.public, peerPublic)
	if err != nil {
		return err
	}
	h.ciphers = ciphers
	return nil
}
