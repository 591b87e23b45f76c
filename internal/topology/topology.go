// Package topology models the link layer's view of who can reach whom.
package topology

import (
	"os"
	"slices"
	"sort"
	"sync"

	"github.com/samber/oops"
	"gopkg.in/yaml.v3"

	"github.com/SWAI-Ltd/cerberus/internal/identity"
)

// View supplies reachable neighbors per node. Path discovery treats a View as
// read-only for the duration of one call; staleness is the caller's concern.
type View interface {
	Neighbors(id identity.NodeID) []identity.NodeID
}

// Static is an immutable adjacency map. Neighbor order is preserved.
type Static map[identity.NodeID][]identity.NodeID

func (s Static) Neighbors(id identity.NodeID) []identity.NodeID {
	return s[id]
}

// Nodes returns all node ids that appear as a key, sorted.
func (s Static) Nodes() []identity.NodeID {
	ids := make([]identity.NodeID, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Table is a mutable adjacency table refreshed by the link layer. It is safe
// for concurrent use.
type Table struct {
	mu    sync.RWMutex
	links map[identity.NodeID][]identity.NodeID
}

func NewTable() *Table {
	return &Table{links: make(map[identity.NodeID][]identity.NodeID)}
}

func (t *Table) Neighbors(id identity.NodeID) []identity.NodeID {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return slices.Clone(t.links[id])
}

// SetNeighbors replaces the neighbor set of id.
func (t *Table) SetNeighbors(id identity.NodeID, neighbors []identity.NodeID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(neighbors) == 0 {
		delete(t.links, id)
		return
	}
	t.links[id] = slices.Clone(neighbors)
}

// Link records a bidirectional link between a and b.
func (t *Table) Link(a, b identity.NodeID) {
	if a == b {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.addLocked(a, b)
	t.addLocked(b, a)
}

func (t *Table) addLocked(from, to identity.NodeID) {
	if slices.Contains(t.links[from], to) {
		return
	}
	t.links[from] = append(t.links[from], to)
}

// Unlink removes the link between a and b in both directions.
func (t *Table) Unlink(a, b identity.NodeID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.links[a] = slices.DeleteFunc(t.links[a], func(n identity.NodeID) bool { return n == b })
	t.links[b] = slices.DeleteFunc(t.links[b], func(n identity.NodeID) bool { return n == a })
}

// Snapshot copies the table into a Static view.
func (t *Table) Snapshot() Static {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s := make(Static, len(t.links))
	for id, ns := range t.links {
		s[id] = slices.Clone(ns)
	}
	return s
}

// Node is one entry of a topology file.
type Node struct {
	ID        identity.NodeID   `yaml:"id"`
	Addr      string            `yaml:"addr,omitempty"`
	Neighbors []identity.NodeID `yaml:"neighbors"`
}

// File is the on-disk topology description used by the CLI and simulator.
type File struct {
	Nodes []Node `yaml:"nodes"`
}

// View returns the file's adjacency as a Static view.
func (f *File) View() Static {
	s := make(Static, len(f.Nodes))
	for _, n := range f.Nodes {
		s[n.ID] = slices.Clone(n.Neighbors)
	}
	return s
}

// LoadFile parses a YAML topology file. Every neighbor must be declared as a
// node.
func LoadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, oops.In("topology").With("path", path).Wrapf(err, "read topology")
	}
	return Parse(data)
}

func Parse(data []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, oops.In("topology").Wrapf(err, "decode topology")
	}
	known := make(map[identity.NodeID]struct{}, len(f.Nodes))
	for _, n := range f.Nodes {
		if n.ID == "" {
			return nil, oops.In("topology").Errorf("node without id")
		}
		if _, dup := known[n.ID]; dup {
			return nil, oops.In("topology").With("node", n.ID).Errorf("duplicate node %q", n.ID)
		}
		known[n.ID] = struct{}{}
	}
	for _, n := range f.Nodes {
		for _, nb := range n.Neighbors {
			if _, ok := known[nb]; !ok {
				return nil, oops.In("topology").With("node", n.ID).Errorf("node %q lists unknown neighbor %q", n.ID, nb)
			}
		}
	}
	return &f, nil
}
