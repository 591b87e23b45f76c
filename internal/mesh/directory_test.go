package mesh

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SWAI-Ltd/cerberus/internal/crypto"
	"github.com/SWAI-Ltd/cerberus/internal/identity"
)

func entry(id string, key byte, addr string) Entry {
	return Entry{Peer: identity.Peer{ID: identity.NodeID(id), PublicKey: crypto.PublicKey{key}}, Addr: addr}
}

func TestDirectory(t *testing.T) {
	d := NewDirectory()
	d.Add(entry("b", 2, "10.0.0.2:6121"))
	d.Add(entry("a", 1, "10.0.0.1:6121"))

	e, ok := d.Lookup("a")
	require.True(t, ok)
	assert.Equal(t, "10.0.0.1:6121", e.Addr)

	e, ok = d.LookupKey(crypto.PublicKey{2})
	require.True(t, ok)
	assert.Equal(t, identity.NodeID("b"), e.Peer.ID)

	entries := d.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, identity.NodeID("a"), entries[0].Peer.ID)

	keys, err := d.Keys([]identity.NodeID{"b", "a"})
	require.NoError(t, err)
	assert.Equal(t, []crypto.PublicKey{{2}, {1}}, keys)

	_, err = d.Keys([]identity.NodeID{"a", "ghost"})
	assert.ErrorIs(t, err, ErrUnknownPeer)
	assert.Contains(t, err.Error(), "ghost")
}

func TestDirectoryRekey(t *testing.T) {
	d := NewDirectory()
	d.Add(entry("a", 1, "10.0.0.1:6121"))
	// Local configuration may re-key: the old address stays, the old key goes.
	d.Add(entry("a", 9, ""))

	e, ok := d.Lookup("a")
	require.True(t, ok)
	assert.Equal(t, "10.0.0.1:6121", e.Addr)
	_, ok = d.LookupKey(crypto.PublicKey{1})
	assert.False(t, ok)
	_, ok = d.LookupKey(crypto.PublicKey{9})
	assert.True(t, ok)

	d.Remove("a")
	_, ok = d.Lookup("a")
	assert.False(t, ok)
	_, ok = d.LookupKey(crypto.PublicKey{9})
	assert.False(t, ok)
}

func TestDirectoryLearnKeepsKeys(t *testing.T) {
	d := NewDirectory()
	d.Add(entry("f", 1, "10.0.0.6:6121"))

	// A different key for a known id is refused.
	err := d.Learn(entry("f", 7, "10.6.6.6:6121"))
	require.ErrorIs(t, err, ErrKeyConflict)
	e, ok := d.Lookup("f")
	require.True(t, ok)
	assert.Equal(t, crypto.PublicKey{1}, e.Peer.PublicKey)
	assert.Equal(t, "10.0.0.6:6121", e.Addr)
	_, ok = d.LookupKey(crypto.PublicKey{7})
	assert.False(t, ok)

	// A known key announced under another id is refused.
	err = d.Learn(entry("g", 1, "10.6.6.6:6121"))
	require.ErrorIs(t, err, ErrKeyConflict)
	_, ok = d.Lookup("g")
	assert.False(t, ok)
	e, ok = d.LookupKey(crypto.PublicKey{1})
	require.True(t, ok)
	assert.Equal(t, identity.NodeID("f"), e.Peer.ID)

	// The right key cannot move a configured address.
	require.NoError(t, d.Learn(entry("f", 1, "10.6.6.6:6121")))
	e, _ = d.Lookup("f")
	assert.Equal(t, "10.0.0.6:6121", e.Addr)
}

func TestDirectoryLearn(t *testing.T) {
	d := NewDirectory()
	require.NoError(t, d.Learn(entry("b", 2, "10.0.0.2:6121")))
	require.NoError(t, d.Learn(entry("b", 2, "10.0.0.3:6121")))
	e, ok := d.Lookup("b")
	require.True(t, ok)
	assert.Equal(t, "10.0.0.3:6121", e.Addr)

	// A configured peer without an address takes the announced one.
	d.Add(entry("c", 3, ""))
	require.NoError(t, d.Learn(entry("c", 3, "10.0.0.4:6121")))
	e, _ = d.Lookup("c")
	assert.Equal(t, "10.0.0.4:6121", e.Addr)

	assert.ErrorIs(t, d.Learn(entry("b", 9, "")), ErrKeyConflict)
}

func TestReachableAddr(t *testing.T) {
	tests := []struct {
		advertised, observed, want string
	}{
		{"10.0.0.5:6121", "10.0.0.9:5000", "10.0.0.5:6121"},
		{"[::]:6121", "10.0.0.9:5000", "10.0.0.9:6121"},
		{"0.0.0.0:7000", "192.168.1.4:6121", "192.168.1.4:7000"},
		{":6121", "192.168.1.4:50123", "192.168.1.4:6121"},
		{"drone-3.local:6121", "192.168.1.4:50123", "drone-3.local:6121"},
		{"mem://A", "mem://B", "mem://A"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, reachableAddr(tt.advertised, tt.observed), tt.advertised)
	}
}
