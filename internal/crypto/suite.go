// Package crypto adapts real public-key primitives to the four operations the
// relay core needs: encrypt for a public key, decrypt with a private key, sign
// and verify.
package crypto

import (
	"bytes"
	"errors"
	"io"

	"github.com/multiformats/go-multihash"
	"github.com/samber/oops"
)

var (
	// ErrDecrypt is returned when a ciphertext does not open under the given key.
	ErrDecrypt = errors.New("decryption failed")

	// ErrInvalidKey is returned for keys of the wrong size or encoding.
	ErrInvalidKey = errors.New("invalid key")
)

// PublicKey is a suite-encoded public key. It carries both the encryption
// half and the signing half of a node identity, so one value names a node.
type PublicKey []byte

// Equal reports whether both keys have the same encoding.
func (k PublicKey) Equal(other PublicKey) bool {
	return bytes.Equal(k, other)
}

// String returns the key fingerprint.
func (k PublicKey) String() string {
	return Fingerprint(k)
}

// PrivateKey is a suite-encoded private key. It never leaves its node.
type PrivateKey []byte

// KeyPair holds a node's key pair.
type KeyPair struct {
	Public  PublicKey
	Private PrivateKey
}

// Suite is the crypto collaborator: authenticated public-key encryption plus
// an unforgeable signature scheme.
type Suite interface {
	Name() string
	GenerateKeyPair(rand io.Reader) (*KeyPair, error)
	Encrypt(plaintext []byte, recipient PublicKey) ([]byte, error)
	Decrypt(ciphertext []byte, own PrivateKey) ([]byte, error)
	Sign(message []byte, own PrivateKey) ([]byte, error)
	// Verify never panics; malformed keys or signatures yield false.
	Verify(message, signature []byte, signer PublicKey) bool
}

// Suite names accepted by SuiteByName.
const (
	SuiteNaCl           = "nacl"
	SuiteHPKEDilithium3 = "hpke-dilithium3"
)

// SuiteByName returns the suite registered under name. An empty name selects
// the NaCl suite.
func SuiteByName(name string) (Suite, error) {
	switch name {
	case "", SuiteNaCl:
		return NewNaCl(), nil
	case SuiteHPKEDilithium3:
		return NewHPKEDilithium3(), nil
	default:
		return nil, oops.In("crypto").With("suite", name).Errorf("unknown crypto suite %q", name)
	}
}

// Fingerprint returns the base58 sha2-256 multihash of a public key.
func Fingerprint(pub PublicKey) string {
	if len(pub) == 0 {
		return ""
	}
	h, err := multihash.Sum(pub, multihash.SHA2_256, -1)
	if err != nil {
		return ""
	}
	return h.B58String()
}

// ShortFingerprint is the tail of Fingerprint, for log lines.
func ShortFingerprint(pub PublicKey) string {
	fp := Fingerprint(pub)
	if len(fp) > 10 {
		return fp[len(fp)-10:]
	}
	return fp
}
