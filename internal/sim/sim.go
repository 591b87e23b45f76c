// Package sim runs the full relay pipeline over a static topology in one
// process: discover, score, select, build, peel hop by hop with proofs, and
// audit at the recipient.
package sim

import (
	"crypto/rand"
	"errors"
	"io"
	"log/slog"

	"github.com/samber/oops"

	"github.com/SWAI-Ltd/cerberus/internal/crypto"
	"github.com/SWAI-Ltd/cerberus/internal/identity"
	"github.com/SWAI-Ltd/cerberus/internal/onion"
	"github.com/SWAI-Ltd/cerberus/internal/proof"
	"github.com/SWAI-Ltd/cerberus/internal/route"
	"github.com/SWAI-Ltd/cerberus/internal/topology"
)

// ErrUnknownNode is returned when a sender or recipient is not in the topology.
var ErrUnknownNode = errors.New("node not in topology")

// Hop records what one node did with the packet.
type Hop struct {
	Node    identity.NodeID
	Index   int
	Final   bool
	InSize  int
	OutSize int
}

// Report is the outcome of one simulated send.
type Report struct {
	MessageID  string
	Candidates []route.Scored
	Path       route.Path
	Hops       []Hop
	Message    []byte
	Proofs     []proof.Proof
	Audit      proof.Report
}

// Network is a static mesh with one identity per node.
type Network struct {
	view    topology.Static
	suite   crypto.Suite
	engine  *onion.Engine
	manager *route.Manager
	nodes   map[identity.NodeID]*identity.Identity
	maxHops int
}

type Option func(*Network)

func WithMaxHops(n int) Option {
	return func(s *Network) { s.maxHops = n }
}

func WithManager(m *route.Manager) Option {
	return func(s *Network) { s.manager = m }
}

// New generates an identity for every node of view using randomness from r
// (crypto/rand when nil).
func New(view topology.Static, suite crypto.Suite, r io.Reader, opts ...Option) (*Network, error) {
	if r == nil {
		r = rand.Reader
	}
	n := &Network{
		view:    view,
		suite:   suite,
		engine:  onion.NewEngine(suite),
		manager: route.NewManager(route.DefaultHopModel()),
		nodes:   make(map[identity.NodeID]*identity.Identity, len(view)),
	}
	for _, o := range opts {
		o(n)
	}
	for _, id := range view.Nodes() {
		ident, err := identity.Generate(id, suite, r)
		if err != nil {
			return nil, err
		}
		n.nodes[id] = ident
	}
	return n, nil
}

// Identity returns the generated identity of id.
func (n *Network) Identity(id identity.NodeID) (*identity.Identity, bool) {
	ident, ok := n.nodes[id]
	return ident, ok
}

// Send routes message from one node to another and reports every step.
func (n *Network) Send(from, to identity.NodeID, message []byte) (*Report, error) {
	errb := oops.In("sim").With("from", from).With("to", to)
	if _, ok := n.nodes[from]; !ok {
		return nil, errb.Wrapf(ErrUnknownNode, "sender %s", from)
	}
	recipient, ok := n.nodes[to]
	if !ok {
		return nil, errb.Wrapf(ErrUnknownNode, "recipient %s", to)
	}

	paths := route.Discover(n.view, from, to, n.maxHops)
	if len(paths) == 0 {
		return nil, errb.Wrapf(route.ErrNoPathFound, "discover")
	}
	rep := &Report{MessageID: proof.NewMessageID(), Candidates: n.manager.Rank(paths)}
	rep.Path = rep.Candidates[0].Path

	relays := make([]*identity.Identity, 0, len(rep.Path))
	keys := make([]crypto.PublicKey, 0, len(rep.Path))
	for _, id := range rep.Path.Relays() {
		relays = append(relays, n.nodes[id])
		keys = append(keys, n.nodes[id].Public)
	}
	packet, err := n.engine.Build(message, keys, recipient.Public)
	if err != nil {
		return nil, err
	}

	for _, relay := range relays {
		layer, err := n.engine.Peel(packet, relay.PrivateKey())
		if err != nil {
			return rep, errb.With("hop", relay.ID).Wrapf(err, "peel")
		}
		if layer.Final {
			return rep, errb.With("hop", relay.ID).Wrapf(onion.ErrMalformedLayer, "packet ended early")
		}
		p, err := proof.Generate(n.suite, rep.MessageID, relay.PrivateKey(), relay.Public)
		if err != nil {
			return rep, err
		}
		rep.Proofs = append(rep.Proofs, p)
		rep.Hops = append(rep.Hops, Hop{Node: relay.ID, Index: layer.Index, InSize: len(packet), OutSize: len(layer.Inner)})
		slog.Debug("sim: relayed", "node", relay.ID, "index", layer.Index, "msg_id", rep.MessageID)
		packet = layer.Inner
	}

	layer, err := n.engine.Peel(packet, recipient.PrivateKey())
	if err != nil {
		return rep, errb.With("hop", to).Wrapf(err, "peel")
	}
	if !layer.Final {
		return rep, errb.With("hop", to).Wrapf(onion.ErrMalformedLayer, "recipient got a relay layer")
	}
	rep.Hops = append(rep.Hops, Hop{Node: to, Index: len(relays), Final: true, InSize: len(packet), OutSize: len(layer.Inner)})
	rep.Message = layer.Inner
	rep.Audit = proof.Audit(n.suite, rep.MessageID, keys, rep.Proofs)

	slog.Info("sim: delivered", "msg_id", rep.MessageID, "path", rep.Path.String(), "audit_ok", rep.Audit.OK())
	return rep, nil
}
