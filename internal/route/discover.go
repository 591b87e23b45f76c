// Package route finds candidate relay paths through the mesh and ranks them.
package route

import (
	"errors"
	"slices"
	"strings"

	"github.com/SWAI-Ltd/cerberus/internal/identity"
	"github.com/SWAI-Ltd/cerberus/internal/topology"
)

// DefaultMaxHops bounds path enumeration when the caller passes no cap.
const DefaultMaxHops = 8

// ErrNoPathFound reports that discovery produced no candidate path. It is a
// normal outcome; the caller may retry with a refreshed topology.
var ErrNoPathFound = errors.New("no path found")

// Path is an ordered, loop-free sequence of nodes: originator first, final
// recipient last.
type Path []identity.NodeID

// Hops is the number of links traversed.
func (p Path) Hops() int {
	if len(p) == 0 {
		return 0
	}
	return len(p) - 1
}

// Relays returns the intermediate nodes, excluding originator and recipient.
func (p Path) Relays() []identity.NodeID {
	if len(p) < 3 {
		return nil
	}
	return slices.Clone(p[1 : len(p)-1])
}

func (p Path) Contains(id identity.NodeID) bool {
	return slices.Contains(p, id)
}

// Valid reports whether p has at least two nodes and no repeats.
func (p Path) Valid() bool {
	if len(p) < 2 {
		return false
	}
	seen := make(map[identity.NodeID]struct{}, len(p))
	for _, id := range p {
		if _, dup := seen[id]; dup {
			return false
		}
		seen[id] = struct{}{}
	}
	return true
}

func (p Path) String() string {
	parts := make([]string, len(p))
	for i, id := range p {
		parts[i] = string(id)
	}
	return strings.Join(parts, "->")
}

type frontier struct {
	node identity.NodeID
	path Path
}

// Discover enumerates every simple path from -> to in view with at most
// maxHops links, breadth first. A maxHops below 1 falls back to
// DefaultMaxHops; longer routes are pruned silently. Paths come out shortest
// first, ties in neighbor order. An empty result means no path.
func Discover(view topology.View, from, to identity.NodeID, maxHops int) []Path {
	if maxHops < 1 {
		maxHops = DefaultMaxHops
	}
	if from == to {
		return nil
	}

	var found []Path
	queue := []frontier{{node: from, path: Path{from}}}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		if cur.node == to {
			found = append(found, cur.path)
			continue
		}
		if cur.path.Hops() >= maxHops {
			continue
		}
		expanded := make(map[identity.NodeID]struct{})
		for _, nb := range view.Neighbors(cur.node) {
			if _, dup := expanded[nb]; dup || cur.path.Contains(nb) {
				continue
			}
			expanded[nb] = struct{}{}
			next := make(Path, len(cur.path), len(cur.path)+1)
			copy(next, cur.path)
			queue = append(queue, frontier{node: nb, path: append(next, nb)})
		}
	}
	return found
}
