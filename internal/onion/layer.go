package onion

import (
	"encoding/binary"
	"math"

	"github.com/samber/oops"

	"github.com/SWAI-Ltd/cerberus/internal/crypto"
)

// Every layer plaintext starts with one of these tags.
const (
	TagIntermediate byte = 0x01
	TagTerminal     byte = 0x02
)

// MaxRelays is the most relays one packet can route through.
const MaxRelays = math.MaxUint16

// record is the routing header a relay sees after removing its layer.
type record struct {
	index   uint16
	nextHop crypto.PublicKey
	inner   []byte
}

// marshal encodes tag | index (u16 BE) | uvarint len(nextHop) | nextHop | inner.
func (r record) marshal() []byte {
	buf := make([]byte, 0, 1+2+binary.MaxVarintLen64+len(r.nextHop)+len(r.inner))
	buf = append(buf, TagIntermediate)
	buf = binary.BigEndian.AppendUint16(buf, r.index)
	buf = binary.AppendUvarint(buf, uint64(len(r.nextHop)))
	buf = append(buf, r.nextHop...)
	return append(buf, r.inner...)
}

func unmarshalRecord(b []byte) (record, error) {
	if len(b) < 1 || b[0] != TagIntermediate {
		return record{}, oops.In("onion").Wrapf(ErrMalformedLayer, "not an intermediate record")
	}
	b = b[1:]
	if len(b) < 2 {
		return record{}, oops.In("onion").Wrapf(ErrMalformedLayer, "truncated layer index")
	}
	idx := binary.BigEndian.Uint16(b)
	b = b[2:]
	n, used := binary.Uvarint(b)
	if used <= 0 {
		return record{}, oops.In("onion").Wrapf(ErrMalformedLayer, "bad next hop length")
	}
	b = b[used:]
	if n == 0 || n > uint64(len(b)) {
		return record{}, oops.In("onion").With("next_hop_len", n).Wrapf(ErrMalformedLayer, "next hop out of range")
	}
	next := make(crypto.PublicKey, n)
	copy(next, b[:n])
	inner := make([]byte, len(b)-int(n))
	copy(inner, b[n:])
	if len(inner) == 0 {
		return record{}, oops.In("onion").Wrapf(ErrMalformedLayer, "empty inner packet")
	}
	return record{index: idx, nextHop: next, inner: inner}, nil
}

func marshalTerminal(message []byte) []byte {
	buf := make([]byte, 0, 1+len(message))
	buf = append(buf, TagTerminal)
	return append(buf, message...)
}
