package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"io"

	"github.com/samber/oops"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/nacl/box"
)

const (
	BoxKeySize = 32

	// NaClPublicKeySize is box public key || ed25519 public key.
	NaClPublicKeySize = BoxKeySize + ed25519.PublicKeySize
	// NaClPrivateKeySize is box private key || ed25519 private key.
	NaClPrivateKeySize = BoxKeySize + ed25519.PrivateKeySize
)

// NaCl encrypts with anonymous sealed boxes (X25519, XSalsa20-Poly1305) and
// signs with Ed25519.
type NaCl struct {
	rand io.Reader
}

// NewNaCl returns the NaCl suite backed by crypto/rand.
func NewNaCl() *NaCl {
	return &NaCl{rand: rand.Reader}
}

func (s *NaCl) Name() string { return SuiteNaCl }

// GenerateKeyPair creates a new identity key pair from r.
func (s *NaCl) GenerateKeyPair(r io.Reader) (*KeyPair, error) {
	if r == nil {
		r = s.rand
	}
	boxPub, boxPriv, err := box.GenerateKey(r)
	if err != nil {
		return nil, oops.In("crypto").Wrapf(err, "generate box key")
	}
	signPub, signPriv, err := ed25519.GenerateKey(r)
	if err != nil {
		return nil, oops.In("crypto").Wrapf(err, "generate ed25519 key")
	}
	pub := make(PublicKey, 0, NaClPublicKeySize)
	pub = append(append(pub, boxPub[:]...), signPub...)
	priv := make(PrivateKey, 0, NaClPrivateKeySize)
	priv = append(append(priv, boxPriv[:]...), signPriv...)
	return &KeyPair{Public: pub, Private: priv}, nil
}

// Encrypt seals plaintext for the recipient. Overhead is box.AnonymousOverhead bytes.
func (s *NaCl) Encrypt(plaintext []byte, recipient PublicKey) ([]byte, error) {
	if len(recipient) != NaClPublicKeySize {
		return nil, oops.In("crypto").With("size", len(recipient)).Wrapf(ErrInvalidKey, "nacl public key")
	}
	var to [BoxKeySize]byte
	copy(to[:], recipient[:BoxKeySize])
	out, err := box.SealAnonymous(nil, plaintext, &to, s.rand)
	if err != nil {
		return nil, oops.In("crypto").Wrapf(err, "seal")
	}
	return out, nil
}

// Decrypt opens a sealed box addressed to own.
func (s *NaCl) Decrypt(ciphertext []byte, own PrivateKey) ([]byte, error) {
	if len(own) != NaClPrivateKeySize {
		return nil, oops.In("crypto").With("size", len(own)).Wrapf(ErrInvalidKey, "nacl private key")
	}
	if len(ciphertext) < box.AnonymousOverhead {
		return nil, ErrDecrypt
	}
	var priv [BoxKeySize]byte
	copy(priv[:], own[:BoxKeySize])
	pubBytes, err := curve25519.X25519(priv[:], curve25519.Basepoint)
	if err != nil {
		return nil, ErrDecrypt
	}
	var pub [BoxKeySize]byte
	copy(pub[:], pubBytes)
	plain, ok := box.OpenAnonymous(nil, ciphertext, &pub, &priv)
	if !ok {
		return nil, ErrDecrypt
	}
	return plain, nil
}

func (s *NaCl) Sign(message []byte, own PrivateKey) ([]byte, error) {
	if len(own) != NaClPrivateKeySize {
		return nil, oops.In("crypto").With("size", len(own)).Wrapf(ErrInvalidKey, "nacl private key")
	}
	return ed25519.Sign(ed25519.PrivateKey(own[BoxKeySize:]), message), nil
}

func (s *NaCl) Verify(message, signature []byte, signer PublicKey) bool {
	if len(signer) != NaClPublicKeySize || len(signature) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(signer[BoxKeySize:]), message, signature)
}
