// Package rand wraps the randomness sources used by connections: cryptographically safe bytes for
// handshake packets and keys, and UUIDs for session and tunnel ids.
package rand

import (
	cryptoRand "crypto/rand"
	"io"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Reader is the source of random bytes. Tests may replace it to make handshakes reproducible.
var Reader io.Reader = cryptoRand.Reader

// GenerateCryptoSafeRandomDataN returns a slice of bytes of length n, filled with cryptographically-safe random data.
func GenerateCryptoSafeRandomDataN(n int) ([]byte, error) {
	b := make([]byte, n)
	if err := GenerateCryptoSafeRandomData(b); err != nil {
		return nil, err
	}
	return b, nil
}

// GenerateCryptoSafeRandomData fills b with cryptographically-safe random data.
func GenerateCryptoSafeRandomData(b []byte) error {
	if _, err := io.ReadFull(Reader, b); err != nil {
		return errors.Wrapf(err, "read %d random bytes", len(b))
	}
	return nil
}

// GenerateUuid returns a UUID in string format (including hyphens).
func GenerateUuid() string {
	return uuid.NewString()
}

// GenerateTunnelID returns the id handed to an RTMPT client, a UUID without hyphens so it can be
// used as a single URL path segment.
func GenerateTunnelID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
