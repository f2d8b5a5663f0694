package rtmp

import (
	"crypto/hmac"
	"crypto/sha256"
)

const (
	handshakePacketSize = 1536
	digestLength        = sha256.Size
	publicKeyLength     = 128

	// S2 and C2 end with a digest of the 1504 bytes before it.
	c2s2DigestOffset = handshakePacketSize - digestLength

	serverHandshakeVersion uint32 = 0x04050001
	clientHandshakeVersion uint32 = 0x80000702
)

var (
	clientFullKey = []byte{
		'G', 'e', 'n', 'u', 'i', 'n', 'e', ' ', 'A', 'd', 'o', 'b', 'e', ' ',
		'F', 'l', 'a', 's', 'h', ' ', 'P', 'l', 'a', 'y', 'e', 'r', ' ',
		'0', '0', '1', // partial key
		0xF0, 0xEE, 0xC2, 0x4A, 0x80, 0x68, 0xBE, 0xE8, 0x2E, 0x00, 0xD0, 0xD1,
		0x02, 0x9E, 0x7E, 0x57, 0x6E, 0xEC, 0x5D, 0x2D, 0x29, 0x80, 0x6F, 0xAB,
		0x93, 0xB8, 0xE6, 0x36, 0xCF, 0xEB, 0x31, 0xAE,
	}
	serverFullKey = []byte{
		'G', 'e', 'n', 'u', 'i', 'n', 'e', ' ', 'A', 'd', 'o', 'b', 'e', ' ',
		'F', 'l', 'a', 's', 'h', ' ', 'M', 'e', 'd', 'i', 'a', ' ',
		'S', 'e', 'r', 'v', 'e', 'r', ' ',
		'0', '0', '1', // partial key
		0xF0, 0xEE, 0xC2, 0x4A, 0x80, 0x68, 0xBE, 0xE8, 0x2E, 0x00, 0xD0, 0xD1,
		0x02, 0x9E, 0x7E, 0x57, 0x6E, 0xEC, 0x5D, 0x2D, 0x29, 0x80, 0x6F, 0xAB,
		0x93, 0xB8, 0xE6, 0x36, 0xCF, 0xEB, 0x31, 0xAE,
	}

	clientPartialKey = clientFullKey[:30]
	serverPartialKey = serverFullKey[:36]
)

// digestLayout says where the digest and the Diffie-Hellman public key live in a C1 or S1 packet.
// The 1528 bytes after time and version are split into two 764 byte blocks, one holding the digest
// and the other the key, in either order.
type digestLayout uint8

const (
	// digest block first: |time|version|digest: 764 bytes|key: 764 bytes|
	layoutDigestFirst digestLayout = iota
	// key block first: |time|version|key: 764 bytes|digest: 764 bytes|
	layoutKeyFirst
)

func (l digestLayout) digestBase() int {
	if l == layoutDigestFirst {
		return 8
	}
	return 772
}

// digestOffset returns the position of the 32 byte digest: the sum of the 4 offset bytes at the
// start of the digest block, modulo 728, past those 4 bytes.
func (l digestLayout) digestOffset(p []byte) int {
	base := l.digestBase()
	sum := int(p[base]) + int(p[base+1]) + int(p[base+2]) + int(p[base+3])
	return sum%728 + base + 4
}

// keyOffset returns the position of the 128 byte public key. Its 4 offset bytes sit at the end of
// the key block.
func (l digestLayout) keyOffset(p []byte) int {
	var base int
	if l == layoutDigestFirst {
		base = 772
	} else {
		base = 8
	}
	end := base + 760
	sum := int(p[end]) + int(p[end+1]) + int(p[end+2]) + int(p[end+3])
	return sum%632 + base
}

// hmacSHA256 returns the HMAC of the concatenated parts.
func hmacSHA256(key []byte, parts ...[]byte) []byte {
	h := hmac.New(sha256.New, key)
	for _, p := range parts {
		h.Write(p)
	}
	return h.Sum(nil)
}

// packetDigest computes the digest of a C1/S1 packet, skipping the 32 bytes where the digest itself goes.
func packetDigest(p []byte, offset int, key []byte) []byte {
	return hmacSHA256(key, p[:offset], p[offset+digestLength:])
}

// writeDigest stores the digest of p at the position given by layout.
func writeDigest(p []byte, layout digestLayout, key []byte) []byte {
	offset := layout.digestOffset(p)
	digest := packetDigest(p, offset, key)
	copy(p[offset:], digest)
	return digest
}

// findDigest probes both layouts and returns the one whose digest verifies with key, along with
// the digest. ok is false if neither does.
func findDigest(p []byte, key []byte) (layout digestLayout, digest []byte, ok bool) {
	// the key first layout is probed first, it is what Flash Player sends
	for _, l := range []digestLayout{layoutKeyFirst, layoutDigestFirst} {
		offset := l.digestOffset(p)
		expected := packetDigest(p, offset, key)
		if hmac.Equal(expected, p[offset:offset+digestLength]) {
			return l, p[offset : offset+digestLength], true
		}
	}
	return 0, nil, false
}

// writeResponseDigest signs a C2/S2 packet: its last 32 bytes are an HMAC of the rest, keyed with an
// HMAC of the digest found in the peer's C1/S1.
func writeResponseDigest(p []byte, fullKey []byte, peerDigest []byte) {
	key := hmacSHA256(fullKey, peerDigest)
	copy(p[c2s2DigestOffset:], hmacSHA256(key, p[:c2s2DigestOffset]))
}

func validResponseDigest(p []byte, fullKey []byte, ourDigest []byte) bool {
	key := hmacSHA256(fullKey, ourDigest)
	return hmac.Equal(hmacSHA256(key, p[:c2s2DigestOffset]), p[c2s2DigestOffset:])
}
