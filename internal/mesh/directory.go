package mesh

import (
	"errors"
	"sort"
	"sync"

	"github.com/samber/oops"

	"github.com/SWAI-Ltd/cerberus/internal/crypto"
	"github.com/SWAI-Ltd/cerberus/internal/identity"
)

// ErrUnknownPeer is returned when a node id or key has no directory entry.
var ErrUnknownPeer = errors.New("unknown peer")

// ErrKeyConflict is returned when an announcement would bind a node id or a
// public key to something other than what the directory already holds.
var ErrKeyConflict = errors.New("peer key conflict")

// Entry is what a node knows about another: identity and where to reach it.
type Entry struct {
	Peer identity.Peer
	Addr string
}

// Directory maps node ids and public keys to reachable peers. It is safe
// for concurrent use.
type Directory struct {
	mu    sync.RWMutex
	byID  map[identity.NodeID]Entry
	byKey map[string]identity.NodeID
	// pinned ids came from local configuration, not from the network.
	pinned map[identity.NodeID]bool
}

func NewDirectory() *Directory {
	return &Directory{
		byID:   make(map[identity.NodeID]Entry),
		byKey:  make(map[string]identity.NodeID),
		pinned: make(map[identity.NodeID]bool),
	}
}

// Add inserts or replaces the entry for e.Peer.ID and pins it. An empty
// Addr keeps the previously known address. Add is for locally configured
// peers; announcements from the network go through Learn.
func (d *Directory) Add(e Entry) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.put(e)
	d.pinned[e.Peer.ID] = true
}

// Learn records a peer announced over the network. It never rebinds a known
// id to a new key or a known key to a new id. A pinned entry only takes an
// address when it has none.
func (d *Directory) Learn(e Entry) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if id, ok := d.byKey[string(e.Peer.PublicKey)]; ok && id != e.Peer.ID {
		return oops.In("mesh").With("peer", e.Peer.ID).With("bound_to", id).
			Wrapf(ErrKeyConflict, "key already belongs to %s", id)
	}
	if old, ok := d.byID[e.Peer.ID]; ok {
		if !old.Peer.PublicKey.Equal(e.Peer.PublicKey) {
			return oops.In("mesh").With("peer", e.Peer.ID).
				With("known", crypto.ShortFingerprint(old.Peer.PublicKey)).
				With("announced", crypto.ShortFingerprint(e.Peer.PublicKey)).
				Wrapf(ErrKeyConflict, "%s announced a different key", e.Peer.ID)
		}
		if d.pinned[e.Peer.ID] && old.Addr != "" {
			return nil
		}
	}
	d.put(e)
	return nil
}

func (d *Directory) put(e Entry) {
	if old, ok := d.byID[e.Peer.ID]; ok {
		delete(d.byKey, string(old.Peer.PublicKey))
		if e.Addr == "" {
			e.Addr = old.Addr
		}
	}
	d.byID[e.Peer.ID] = e
	d.byKey[string(e.Peer.PublicKey)] = e.Peer.ID
}

// Remove drops id from the directory.
func (d *Directory) Remove(id identity.NodeID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if old, ok := d.byID[id]; ok {
		delete(d.byKey, string(old.Peer.PublicKey))
		delete(d.byID, id)
		delete(d.pinned, id)
	}
}

// Lookup returns the entry for id.
func (d *Directory) Lookup(id identity.NodeID) (Entry, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	e, ok := d.byID[id]
	return e, ok
}

// LookupKey returns the entry whose public key is pub.
func (d *Directory) LookupKey(pub crypto.PublicKey) (Entry, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	id, ok := d.byKey[string(pub)]
	if !ok {
		return Entry{}, false
	}
	e, ok := d.byID[id]
	return e, ok
}

// Entries lists all entries ordered by node id.
func (d *Directory) Entries() []Entry {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Entry, 0, len(d.byID))
	for _, e := range d.byID {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Peer.ID < out[j].Peer.ID })
	return out
}

// Keys resolves the public keys of ids in order.
func (d *Directory) Keys(ids []identity.NodeID) ([]crypto.PublicKey, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	keys := make([]crypto.PublicKey, len(ids))
	for i, id := range ids {
		e, ok := d.byID[id]
		if !ok {
			return nil, &unknownPeerError{id: id}
		}
		keys[i] = e.Peer.PublicKey
	}
	return keys, nil
}

type unknownPeerError struct {
	id identity.NodeID
}

func (e *unknownPeerError) Error() string {
	return "unknown peer: " + string(e.id)
}

func (e *unknownPeerError) Unwrap() error { return ErrUnknownPeer }
