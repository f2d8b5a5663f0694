package rtmp

import (
	"math/big"

	"github.com/pkg/errors"
	"github.com/torresjeff/go-rtmp/rand"
)

// The 1024-bit MODP group from RFC 2409 (Oakley group 2), used by RTMPE with generator 2.
var dhPrime, _ = new(big.Int).SetString(
	"FFFFFFFFFFFFFFFFC90FDAA22168C234C4C6628B80DC1CD1"+
		"29024E088A67CC74020BBEA63B139B22514A08798E3404DD"+
		"EF9519B3CD3A431B302B0A6DF25F14374FE1356D6D51C245"+
		"E485B576625E7EC6F44C42E9A637ED6B0BFF5CB6F406B7ED"+
		"EE386BFB5A899FA5AE9F24117C4B1FE649286651ECE65381"+
		"FFFFFFFFFFFFFFFF", 16)

var dhGenerator = big.NewInt(2)

var errInvalidPublicKey = errors.New("rtmp: invalid Diffie-Hellman public key")

type dhKeyPair struct {
	private *big.Int
	// public is always publicKeyLength bytes, left padded with zeros.
	public []byte
}

func newDHKeyPair() (*dhKeyPair, error) {
	b, err := rand.GenerateCryptoSafeRandomDataN(publicKeyLength)
	if err != nil {
		return nil, errors.Wrap(err, "generate dh private key")
	}
	private := new(big.Int).SetBytes(b)
	// keep the exponent inside [2, p-2]
	private.Mod(private, new(big.Int).Sub(dhPrime, big.NewInt(3)))
	private.Add(private, big.NewInt(2))

	public := new(big.Int).Exp(dhGenerator, private, dhPrime)
	return &dhKeyPair{private: private, public: padKey(public)}, nil
}

// sharedSecret computes the shared secret from the peer's public key.
func (k *dhKeyPair) sharedSecret(peerPublic []byte) ([]byte, error) {
	y := new(big.Int).SetBytes(peerPublic)
	// 1 < y < p-1, anything else leaks the secret or forces a trivial one
	if y.Cmp(big.NewInt(1)) <= 0 || y.Cmp(new(big.Int).Sub(dhPrime, big.NewInt(1))) >= 0 {
		return nil, errInvalidPublicKey
	}
	return padKey(new(big.Int).Exp(y, k.private, dhPrime)), nil
}

func padKey(v *big.Int) []byte {
	b := make([]byte, publicKeyLength)
	return v.FillBytes(b)
}
