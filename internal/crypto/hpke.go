package crypto

import (
	"crypto/rand"
	"io"

	"github.com/cloudflare/circl/hpke"
	"github.com/cloudflare/circl/kem"
	"github.com/cloudflare/circl/sign/dilithium/mode3"
	"github.com/samber/oops"
)

// hpkeInfo binds HPKE contexts to this protocol.
var hpkeInfo = []byte("cerberus-onion-layer/v1")

// HPKEDilithium3 encrypts with RFC 9180 HPKE base mode
// (X25519-HKDF-SHA256, HKDF-SHA256, ChaCha20-Poly1305) and signs with
// Dilithium3.
type HPKEDilithium3 struct {
	rand  io.Reader
	suite hpke.Suite
	kem   kem.Scheme
}

func NewHPKEDilithium3() *HPKEDilithium3 {
	return &HPKEDilithium3{
		rand:  rand.Reader,
		suite: hpke.NewSuite(hpke.KEM_X25519_HKDF_SHA256, hpke.KDF_HKDF_SHA256, hpke.AEAD_ChaCha20Poly1305),
		kem:   hpke.KEM_X25519_HKDF_SHA256.Scheme(),
	}
}

func (s *HPKEDilithium3) Name() string { return SuiteHPKEDilithium3 }

func (s *HPKEDilithium3) publicSize() int  { return s.kem.PublicKeySize() + mode3.PublicKeySize }
func (s *HPKEDilithium3) privateSize() int { return s.kem.PrivateKeySize() + mode3.PrivateKeySize }

func (s *HPKEDilithium3) GenerateKeyPair(r io.Reader) (*KeyPair, error) {
	if r == nil {
		r = s.rand
	}
	seed := make([]byte, s.kem.SeedSize())
	if _, err := io.ReadFull(r, seed); err != nil {
		return nil, oops.In("crypto").Wrapf(err, "read kem seed")
	}
	kemPub, kemPriv := s.kem.DeriveKeyPair(seed)
	signPub, signPriv, err := mode3.GenerateKey(r)
	if err != nil {
		return nil, oops.In("crypto").Wrapf(err, "generate dilithium3 key")
	}

	kp, err := kemPub.MarshalBinary()
	if err != nil {
		return nil, oops.In("crypto").Wrapf(err, "marshal kem public key")
	}
	ks, err := kemPriv.MarshalBinary()
	if err != nil {
		return nil, oops.In("crypto").Wrapf(err, "marshal kem private key")
	}
	sp, err := signPub.MarshalBinary()
	if err != nil {
		return nil, oops.In("crypto").Wrapf(err, "marshal dilithium3 public key")
	}
	ss, err := signPriv.MarshalBinary()
	if err != nil {
		return nil, oops.In("crypto").Wrapf(err, "marshal dilithium3 private key")
	}
	return &KeyPair{
		Public:  append(kp, sp...),
		Private: append(ks, ss...),
	}, nil
}

// Encrypt returns enc || ciphertext.
func (s *HPKEDilithium3) Encrypt(plaintext []byte, recipient PublicKey) ([]byte, error) {
	if len(recipient) != s.publicSize() {
		return nil, oops.In("crypto").With("size", len(recipient)).Wrapf(ErrInvalidKey, "hpke public key")
	}
	pk, err := s.kem.UnmarshalBinaryPublicKey(recipient[:s.kem.PublicKeySize()])
	if err != nil {
		return nil, oops.In("crypto").Wrapf(ErrInvalidKey, "hpke public key: %v", err)
	}
	sender, err := s.suite.NewSender(pk, hpkeInfo)
	if err != nil {
		return nil, oops.In("crypto").Wrapf(err, "hpke sender")
	}
	enc, sealer, err := sender.Setup(s.rand)
	if err != nil {
		return nil, oops.In("crypto").Wrapf(err, "hpke setup")
	}
	ct, err := sealer.Seal(plaintext, nil)
	if err != nil {
		return nil, oops.In("crypto").Wrapf(err, "hpke seal")
	}
	return append(enc, ct...), nil
}

func (s *HPKEDilithium3) Decrypt(ciphertext []byte, own PrivateKey) ([]byte, error) {
	if len(own) != s.privateSize() {
		return nil, oops.In("crypto").With("size", len(own)).Wrapf(ErrInvalidKey, "hpke private key")
	}
	encSize := s.kem.CiphertextSize()
	if len(ciphertext) < encSize {
		return nil, ErrDecrypt
	}
	sk, err := s.kem.UnmarshalBinaryPrivateKey(own[:s.kem.PrivateKeySize()])
	if err != nil {
		return nil, oops.In("crypto").Wrapf(ErrInvalidKey, "hpke private key: %v", err)
	}
	receiver, err := s.suite.NewReceiver(sk, hpkeInfo)
	if err != nil {
		return nil, ErrDecrypt
	}
	opener, err := receiver.Setup(ciphertext[:encSize])
	if err != nil {
		return nil, ErrDecrypt
	}
	plain, err := opener.Open(ciphertext[encSize:], nil)
	if err != nil {
		return nil, ErrDecrypt
	}
	return plain, nil
}

func (s *HPKEDilithium3) Sign(message []byte, own PrivateKey) ([]byte, error) {
	if len(own) != s.privateSize() {
		return nil, oops.In("crypto").With("size", len(own)).Wrapf(ErrInvalidKey, "dilithium3 private key")
	}
	var sk mode3.PrivateKey
	if err := sk.UnmarshalBinary(own[s.kem.PrivateKeySize():]); err != nil {
		return nil, oops.In("crypto").Wrapf(ErrInvalidKey, "dilithium3 private key: %v", err)
	}
	sig := make([]byte, mode3.SignatureSize)
	mode3.SignTo(&sk, message, sig)
	return sig, nil
}

func (s *HPKEDilithium3) Verify(message, signature []byte, signer PublicKey) bool {
	if len(signer) != s.publicSize() || len(signature) != mode3.SignatureSize {
		return false
	}
	var pk mode3.PublicKey
	if err := pk.UnmarshalBinary(signer[s.kem.PublicKeySize():]); err != nil {
		return false
	}
	return mode3.Verify(&pk, message, signature)
}
