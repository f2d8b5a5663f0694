package rtmp

import (
	"crypto/cipher"
	"crypto/rc4"

	"github.com/pkg/errors"
)

const rc4KeyLength = 16

// CipherPair holds the stream ciphers negotiated by an RTMPE handshake. Encrypt is applied to every
// byte sent after the handshake and Decrypt to every byte received.
type CipherPair struct {
	Encrypt cipher.Stream
	Decrypt cipher.Stream
}

// newCipherPair derives the RC4 keys from the shared secret. Each side encrypts with a key derived
// from the peer's public key and decrypts with one derived from its own, so both ends agree.
// Both key streams are then advanced past 1536 bytes.
func newCipherPair(secret, ownPublic, peerPublic []byte) (*CipherPair, error) {
	out, err := rc4.NewCipher(hmacSHA256(secret, peerPublic)[:rc4KeyLength])
	if err != nil {
		return nil, errors.Wrap(err, "create rc4 encrypt cipher")
	}
	in, err := rc4.NewCipher(hmacSHA256(secret, ownPublic)[:rc4KeyLength])
	if err != nil {
		return nil, errors.Wrap(err, "create rc4 decrypt cipher")
	}
	var discard [handshakePacketSize]byte
	out.XORKeyStream(discard[:], discard[:])
	in.XORKeyStream(discard[:], discard[:])
	return &CipherPair{Encrypt: out, Decrypt: in}, nil
}

// EncryptInPlace encrypts b in place. A nil pair leaves b untouched.
func (c *CipherPair) EncryptInPlace(b []byte) {
	if c != nil && c.Encrypt != nil {
		c.Encrypt.XORKeyStream(b, b)
	}
}

// DecryptInPlace decrypts b in place. A nil pair leaves b untouched.
func (c *CipherPair) DecryptInPlace(b []byte) {
	if c != nil && c.Decrypt != nil {
		c.Decrypt.XORKeyStream(b, b)
	}
}
