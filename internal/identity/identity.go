// Package identity holds node identities: a mesh-unique id plus the node's
// key pair. The private half stays inside the owning Identity.
package identity

import (
	"encoding/hex"
	"io"
	"os"

	"github.com/samber/oops"
	"gopkg.in/yaml.v3"

	"github.com/SWAI-Ltd/cerberus/internal/crypto"
)

// NodeID is an opaque mesh-unique identifier.
type NodeID string

// Peer is the shareable view of a node: its id and public key.
type Peer struct {
	ID        NodeID
	PublicKey crypto.PublicKey
}

// Identity is a provisioned node. It is immutable after creation.
type Identity struct {
	ID     NodeID
	Public crypto.PublicKey
	Suite  string

	private crypto.PrivateKey
}

// Generate provisions a new identity for id using suite.
func Generate(id NodeID, suite crypto.Suite, rand io.Reader) (*Identity, error) {
	if id == "" {
		return nil, oops.In("identity").Errorf("node id is required")
	}
	kp, err := suite.GenerateKeyPair(rand)
	if err != nil {
		return nil, oops.In("identity").With("node", id).Wrapf(err, "generate key pair")
	}
	return &Identity{ID: id, Public: kp.Public, Suite: suite.Name(), private: kp.Private}, nil
}

// FromKeyPair wraps an existing key pair.
func FromKeyPair(id NodeID, suite string, kp *crypto.KeyPair) *Identity {
	return &Identity{ID: id, Public: kp.Public, Suite: suite, private: kp.Private}
}

// PrivateKey returns the node's own private key for local crypto operations.
func (i *Identity) PrivateKey() crypto.PrivateKey {
	return i.private
}

// Peer returns the public view of the identity.
func (i *Identity) Peer() Peer {
	return Peer{ID: i.ID, PublicKey: i.Public}
}

// Fingerprint of the identity's public key.
func (i *Identity) Fingerprint() string {
	return crypto.Fingerprint(i.Public)
}

type keyFile struct {
	ID      string `yaml:"id"`
	Suite   string `yaml:"suite"`
	Public  string `yaml:"public_key"`
	Private string `yaml:"private_key"`
}

// Save writes the identity to path with owner-only permissions.
func Save(path string, id *Identity) error {
	data, err := yaml.Marshal(keyFile{
		ID:      string(id.ID),
		Suite:   id.Suite,
		Public:  hex.EncodeToString(id.Public),
		Private: hex.EncodeToString(id.private),
	})
	if err != nil {
		return oops.In("identity").Wrapf(err, "encode keyfile")
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return oops.In("identity").With("path", path).Wrapf(err, "write keyfile")
	}
	return nil
}

// Load reads an identity written by Save.
func Load(path string) (*Identity, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, oops.In("identity").With("path", path).Wrapf(err, "read keyfile")
	}
	var kf keyFile
	if err := yaml.Unmarshal(data, &kf); err != nil {
		return nil, oops.In("identity").With("path", path).Wrapf(err, "decode keyfile")
	}
	if kf.ID == "" {
		return nil, oops.In("identity").With("path", path).Errorf("keyfile has no id")
	}
	pub, err := hex.DecodeString(kf.Public)
	if err != nil {
		return nil, oops.In("identity").With("path", path).Wrapf(crypto.ErrInvalidKey, "public key: %v", err)
	}
	priv, err := hex.DecodeString(kf.Private)
	if err != nil {
		return nil, oops.In("identity").With("path", path).Wrapf(crypto.ErrInvalidKey, "private key: %v", err)
	}
	return &Identity{ID: NodeID(kf.ID), Suite: kf.Suite, Public: pub, private: priv}, nil
}
