// Package proof lets a relay attest that it processed a message and lets
// anyone holding the relay's public key check that attestation.
package proof

import (
	"encoding/binary"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/samber/oops"

	"github.com/SWAI-Ltd/cerberus/internal/crypto"
)

var (
	// ErrProofVerificationFailed flags a missing, forged or mismatched relay
	// proof. It is an expected outcome, not a fault.
	ErrProofVerificationFailed = errors.New("relay proof verification failed")

	// ErrEmptyMessageID is returned when generating a proof without a message id.
	ErrEmptyMessageID = errors.New("empty message id")

	// ErrStaleProof is returned by Verifier.Check for stamped proofs outside the
	// freshness window.
	ErrStaleProof = errors.New("relay proof outside freshness window")
)

const domain = "cerberus-relay-proof/v1"

// NewMessageID returns a random message id.
func NewMessageID() string {
	return uuid.NewString()
}

// Proof is a relay's signature over (message id, relay public key), and an
// issue time when stamped.
type Proof struct {
	MessageID string           `json:"message_id"`
	Relay     crypto.PublicKey `json:"relay"`
	// IssuedAt is unix milliseconds; zero means unstamped.
	IssuedAt  int64  `json:"issued_at,omitempty"`
	Signature []byte `json:"signature"`
}

// Stamped reports whether the proof binds an issue time.
func (p Proof) Stamped() bool {
	return p.IssuedAt != 0
}

// Time returns the issue time of a stamped proof.
func (p Proof) Time() time.Time {
	return time.UnixMilli(p.IssuedAt)
}

// signedTuple is the exact byte string a relay signs.
func signedTuple(msgID string, relay crypto.PublicKey, issuedAt int64) []byte {
	buf := make([]byte, 0, len(domain)+len(msgID)+len(relay)+2*binary.MaxVarintLen64+9)
	buf = append(buf, domain...)
	buf = binary.AppendUvarint(buf, uint64(len(msgID)))
	buf = append(buf, msgID...)
	buf = binary.AppendUvarint(buf, uint64(len(relay)))
	buf = append(buf, relay...)
	if issuedAt == 0 {
		return append(buf, 0)
	}
	buf = append(buf, 1)
	return binary.BigEndian.AppendUint64(buf, uint64(issuedAt))
}

// Generate signs (msgID, pub) with priv. Proofs are reusable: signing the
// same inputs again yields another valid proof.
func Generate(suite crypto.Suite, msgID string, priv crypto.PrivateKey, pub crypto.PublicKey) (Proof, error) {
	return generate(suite, msgID, priv, pub, 0)
}

// GenerateAt is Generate with the issue time bound into the signature.
func GenerateAt(suite crypto.Suite, msgID string, priv crypto.PrivateKey, pub crypto.PublicKey, at time.Time) (Proof, error) {
	ms := at.UnixMilli()
	if ms == 0 {
		ms = 1
	}
	return generate(suite, msgID, priv, pub, ms)
}

func generate(suite crypto.Suite, msgID string, priv crypto.PrivateKey, pub crypto.PublicKey, issuedAt int64) (Proof, error) {
	if msgID == "" {
		return Proof{}, ErrEmptyMessageID
	}
	sig, err := suite.Sign(signedTuple(msgID, pub, issuedAt), priv)
	if err != nil {
		return Proof{}, oops.In("proof").With("msg_id", msgID).Wrapf(err, "sign relay proof")
	}
	return Proof{MessageID: msgID, Relay: pub, IssuedAt: issuedAt, Signature: sig}, nil
}

// Verify checks that p is relayPub's proof for msgID. It is a pure predicate:
// malformed, tampered or foreign proofs yield false.
func Verify(suite crypto.Suite, relayPub crypto.PublicKey, p Proof, msgID string) bool {
	if msgID == "" || len(relayPub) == 0 || len(p.Signature) == 0 {
		return false
	}
	if p.MessageID != "" && p.MessageID != msgID {
		return false
	}
	if len(p.Relay) != 0 && !p.Relay.Equal(relayPub) {
		return false
	}
	return suite.Verify(signedTuple(msgID, relayPub, p.IssuedAt), p.Signature, relayPub)
}

// Requirement is what an originator attaches to a message to ask relays for
// proofs.
type Requirement struct {
	Required  bool   `json:"required"`
	MessageID string `json:"message_id"`
	// CreatedAt is unix milliseconds.
	CreatedAt int64 `json:"created_at"`
}

func NewRequirement(msgID string, now time.Time) Requirement {
	return Requirement{Required: true, MessageID: msgID, CreatedAt: now.UnixMilli()}
}

// Verifier adds an optional freshness window on top of Verify.
type Verifier struct {
	Suite crypto.Suite
	// MaxAge bounds how old a stamped proof may be. Zero disables the check.
	MaxAge time.Duration
	// RequireStamp rejects unstamped proofs when MaxAge is set.
	RequireStamp bool
	// Now defaults to time.Now.
	Now func() time.Time
}

func (v *Verifier) now() time.Time {
	if v.Now != nil {
		return v.Now()
	}
	return time.Now()
}

// Check verifies p and, when configured, its freshness.
func (v *Verifier) Check(relayPub crypto.PublicKey, p Proof, msgID string) error {
	if !Verify(v.Suite, relayPub, p, msgID) {
		return oops.In("proof").With("msg_id", msgID).With("relay", crypto.ShortFingerprint(relayPub)).
			Wrapf(ErrProofVerificationFailed, "bad signature")
	}
	if v.MaxAge <= 0 {
		return nil
	}
	if !p.Stamped() {
		if v.RequireStamp {
			return oops.In("proof").With("msg_id", msgID).Wrapf(ErrStaleProof, "unstamped proof")
		}
		return nil
	}
	age := v.now().Sub(p.Time())
	if age > v.MaxAge || age < -v.MaxAge {
		return oops.In("proof").With("msg_id", msgID).With("age", age).Wrapf(ErrStaleProof, "proof age %s", age)
	}
	return nil
}
