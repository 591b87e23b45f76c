// Package onion builds layered packets for a relay path and peels them one
// layer at a time. Each relay learns only the key of the next hop; the final
// recipient alone sees the message.
package onion

import (
	"errors"
	"log/slog"

	"github.com/samber/oops"

	"github.com/SWAI-Ltd/cerberus/internal/crypto"
)

var (
	// ErrNotForMe means the packet does not decrypt under the given key: it
	// is addressed to another node, corrupted, or already peeled.
	ErrNotForMe = errors.New("packet not addressed to this node")

	// ErrMalformedLayer means the layer decrypted but its content is neither
	// a routing record nor a terminal message.
	ErrMalformedLayer = errors.New("malformed onion layer")

	// ErrNoRecipient is returned by Build without a final recipient key.
	ErrNoRecipient = errors.New("no final recipient")
)

// Packet is an opaque onion. Values are never modified once built.
type Packet []byte

// Layer is the result of peeling one layer.
type Layer struct {
	// Inner is the packet to forward, or the message when Final is set.
	Inner []byte
	// NextHop is the key of the node that can peel Inner. Nil when Final.
	NextHop crypto.PublicKey
	// Index is this relay's position on the path, 0 for the first relay.
	Index int
	// Final marks the innermost layer.
	Final bool
}

// Engine builds and peels onion packets with one crypto suite.
type Engine struct {
	suite crypto.Suite
}

func NewEngine(suite crypto.Suite) *Engine {
	return &Engine{suite: suite}
}

// Suite returns the engine's crypto suite.
func (e *Engine) Suite() crypto.Suite {
	return e.suite
}

// Build wraps message for final, routed through relays in order. The result
// is peelable first by relays[0]; with no relays only final can open it.
func (e *Engine) Build(message []byte, relays []crypto.PublicKey, final crypto.PublicKey) (Packet, error) {
	if len(final) == 0 {
		return nil, ErrNoRecipient
	}
	if len(relays) > MaxRelays {
		return nil, oops.In("onion").With("relays", len(relays)).Errorf("too many relays")
	}

	payload, err := e.suite.Encrypt(marshalTerminal(message), final)
	if err != nil {
		return nil, oops.In("onion").Wrapf(err, "encrypt innermost layer")
	}

	for i := len(relays) - 1; i >= 0; i-- {
		next := final
		if i < len(relays)-1 {
			next = relays[i+1]
		}
		rec := record{index: uint16(i), nextHop: next, inner: payload}
		payload, err = e.suite.Encrypt(rec.marshal(), relays[i])
		if err != nil {
			return nil, oops.In("onion").With("layer", i).Wrapf(err, "encrypt relay layer")
		}
	}

	slog.Debug("onion: packet built", "relays", len(relays), "size", len(payload))
	return Packet(payload), nil
}

// Peel removes the layer addressed to own. A packet that does not decrypt
// fails with ErrNotForMe and is never mistaken for a final message.
func (e *Engine) Peel(packet Packet, own crypto.PrivateKey) (Layer, error) {
	plain, err := e.suite.Decrypt(packet, own)
	if err != nil {
		return Layer{}, oops.In("onion").Wrapf(ErrNotForMe, "%v", err)
	}
	if len(plain) == 0 {
		return Layer{}, oops.In("onion").Wrapf(ErrMalformedLayer, "empty layer")
	}

	switch plain[0] {
	case TagTerminal:
		return Layer{Inner: plain[1:], Final: true}, nil
	case TagIntermediate:
		rec, err := unmarshalRecord(plain)
		if err != nil {
			return Layer{}, err
		}
		return Layer{Inner: rec.inner, NextHop: rec.nextHop, Index: int(rec.index)}, nil
	default:
		return Layer{}, oops.In("onion").With("tag", plain[0]).Wrapf(ErrMalformedLayer, "unknown layer tag")
	}
}
