// Package mesh runs a relay node: it originates onion-routed messages, peels
// and forwards packets addressed to it, and audits relay proofs on delivery.
package mesh

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/samber/oops"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/SWAI-Ltd/cerberus/internal/crypto"
	"github.com/SWAI-Ltd/cerberus/internal/discovery"
	"github.com/SWAI-Ltd/cerberus/internal/identity"
	"github.com/SWAI-Ltd/cerberus/internal/onion"
	"github.com/SWAI-Ltd/cerberus/internal/proof"
	"github.com/SWAI-Ltd/cerberus/internal/proto"
	"github.com/SWAI-Ltd/cerberus/internal/route"
	"github.com/SWAI-Ltd/cerberus/internal/topology"
	"github.com/SWAI-Ltd/cerberus/internal/transport"
)

const (
	DefaultWorkers    = 4
	DefaultHopTimeout = 10 * time.Second
	DefaultPaths      = 3
)

// TransmitFunc sends a frame to the node listening on addr and returns its
// reply.
type TransmitFunc func(ctx context.Context, addr string, f *proto.Frame) (*proto.Frame, error)

// Delivery is a message that reached this node as its final recipient.
type Delivery struct {
	MessageID string
	Payload   []byte
	Audit     proof.Report
}

// Config for Node
type Config struct {
	Identity *identity.Identity
	Suite    crypto.Suite

	// Addr is the QUIC listen address. Empty runs the node without a
	// listener; frames then arrive through HandleFrame.
	Addr string
	// AdvertiseAddr is announced in Hello frames; defaults to the listener address.
	AdvertiseAddr    string
	DisableDiscovery bool

	MaxHops int
	// Paths is how many ranked routes Send tries before giving up.
	Paths   int
	Weights *route.Weights
	Metrics route.Metrics

	Workers    int
	RateLimit  float64 // inbound frames per second, 0 for unlimited
	Burst      int
	HopTimeout time.Duration

	StampProofs bool
	ProofMaxAge time.Duration

	// Transmit overrides the QUIC transport.
	Transmit  TransmitFunc
	OnDeliver func(Delivery)
}

// Node is a cerberus mesh node: originator, relay and recipient at once.
type Node struct {
	id        *identity.Identity
	suite     crypto.Suite
	engine    *onion.Engine
	manager   *route.Manager
	table     *topology.Table
	dir       *Directory
	verifier  *proof.Verifier
	limiter   *rate.Limiter
	transmit  TransmitFunc
	onDeliver func(Delivery)

	maxHops     int
	paths       int
	hopTimeout  time.Duration
	stampProofs bool
	advertise   string

	server *transport.Server
	disc   *discovery.Discovery
	jobs   chan job
	ctx    context.Context
	cancel context.CancelFunc
	group  *errgroup.Group
}

type job struct {
	ctx   context.Context
	frame *proto.OnionFrame
	done  chan step
}

// NewNode creates a new mesh node and starts its workers, listener and
// discovery.
func NewNode(ctx context.Context, cfg Config) (*Node, error) {
	if cfg.Identity == nil {
		return nil, oops.In("mesh").Errorf("identity is required")
	}
	if cfg.Suite == nil {
		s, err := crypto.SuiteByName(cfg.Identity.Suite)
		if err != nil {
			return nil, err
		}
		cfg.Suite = s
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.Paths <= 0 {
		cfg.Paths = DefaultPaths
	}
	if cfg.HopTimeout <= 0 {
		cfg.HopTimeout = DefaultHopTimeout
	}
	if cfg.Transmit == nil {
		cfg.Transmit = transport.Exchange
	}

	var feedback route.Feedback
	if cfg.Metrics == nil {
		h := route.NewHistory(route.DefaultHopModel(), route.DefaultHistoryAlpha)
		cfg.Metrics, feedback = h, h
	} else if fb, ok := cfg.Metrics.(route.Feedback); ok {
		feedback = fb
	}
	opts := []route.Option{route.WithFeedback(feedback)}
	if cfg.Weights != nil {
		opts = append(opts, route.WithWeights(*cfg.Weights))
	}

	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	if cfg.Burst <= 0 {
		cfg.Burst = cfg.Workers * 4
	}

	ctx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(ctx)
	n := &Node{
		id:          cfg.Identity,
		suite:       cfg.Suite,
		engine:      onion.NewEngine(cfg.Suite),
		manager:     route.NewManager(cfg.Metrics, opts...),
		table:       topology.NewTable(),
		dir:         NewDirectory(),
		verifier:    &proof.Verifier{Suite: cfg.Suite, MaxAge: cfg.ProofMaxAge},
		limiter:     rate.NewLimiter(limit, cfg.Burst),
		transmit:    cfg.Transmit,
		onDeliver:   cfg.OnDeliver,
		maxHops:     cfg.MaxHops,
		paths:       cfg.Paths,
		hopTimeout:  cfg.HopTimeout,
		stampProofs: cfg.StampProofs,
		advertise:   cfg.AdvertiseAddr,
		jobs:        make(chan job),
		ctx:         gctx,
		cancel:      cancel,
		group:       g,
	}
	n.dir.Add(Entry{Peer: n.id.Peer(), Addr: cfg.AdvertiseAddr})

	for i := 0; i < cfg.Workers; i++ {
		g.Go(func() error {
			n.worker(gctx)
			return nil
		})
	}

	if cfg.Addr != "" {
		server, err := transport.ListenQUIC(ctx, cfg.Addr, n.handleConn)
		if err != nil {
			n.Close()
			return nil, err
		}
		n.server = server
		if n.advertise == "" {
			n.advertise = server.LocalAddr()
		}
		n.dir.Add(Entry{Peer: n.id.Peer(), Addr: n.advertise})
		slog.Info("node listening", "node", n.id.ID, "addr", server.LocalAddr(), "suite", n.suite.Name())
	}

	if !cfg.DisableDiscovery && n.server != nil {
		port := 0
		if _, p, err := discovery.ParseAddr(n.server.LocalAddr()); err == nil {
			port = p
		}
		disc, err := discovery.New(string(n.id.ID), port, n.id.Fingerprint(), func(p discovery.Peer) {
			n.onPeerDiscovered(ctx, p)
		})
		if err != nil {
			n.Close()
			return nil, err
		}
		n.disc = disc
	}
	return n, nil
}

func (n *Node) onPeerDiscovered(ctx context.Context, p discovery.Peer) {
	id := identity.NodeID(p.NodeID)
	if p.Removed {
		n.table.Unlink(n.id.ID, id)
		slog.Debug("peer gone", "node", n.id.ID, "peer", id)
		return
	}
	slog.Debug("peer discovered", "node", n.id.ID, "peer", id, "addr", p.Addr)
	go func() {
		hctx, cancel := context.WithTimeout(ctx, n.hopTimeout)
		defer cancel()
		if err := n.Introduce(hctx, p.Addr); err != nil {
			slog.Warn("hello failed", "peer", id, "addr", p.Addr, "err", err)
		}
	}()
}

// ID returns the node id.
func (n *Node) ID() identity.NodeID {
	return n.id.ID
}

// PublicKey returns the node's public key.
func (n *Node) PublicKey() crypto.PublicKey {
	return n.id.Public
}

// Addr returns the address announced to peers.
func (n *Node) Addr() string {
	return n.advertise
}

// Directory exposes the node's peer directory.
func (n *Node) Directory() *Directory {
	return n.dir
}

// Topology exposes the node's topology table.
func (n *Node) Topology() *topology.Table {
	return n.table
}

// Manager exposes the path manager, for scoring diagnostics.
func (n *Node) Manager() *route.Manager {
	return n.manager
}

// AddPeer registers a known peer. When neighbor is set the peer is also
// recorded as directly reachable.
func (n *Node) AddPeer(e Entry, neighbor bool) {
	n.dir.Add(e)
	if neighbor {
		n.table.Link(n.id.ID, e.Peer.ID)
	}
}

func (n *Node) hello() *proto.Frame {
	neighbors := n.table.Neighbors(n.id.ID)
	ids := make([]string, len(neighbors))
	for i, nb := range neighbors {
		ids[i] = string(nb)
	}
	return &proto.Frame{Type: proto.FrameTypeHello, Hello: &proto.HelloFrame{
		NodeID:    string(n.id.ID),
		PublicKey: n.id.Public,
		Addr:      n.advertise,
		Suite:     n.suite.Name(),
		Neighbors: ids,
	}}
}

// Introduce exchanges Hello frames with the node at addr and links it as a
// neighbor.
func (n *Node) Introduce(ctx context.Context, addr string) error {
	reply, err := n.transmit(ctx, addr, n.hello())
	if err != nil {
		return err
	}
	if reply.Type != proto.FrameTypeHello {
		return oops.In("mesh").With("addr", addr).Errorf("expected hello, got frame type %d", reply.Type)
	}
	if err := proto.Validate(reply); err != nil {
		return oops.In("mesh").With("addr", addr).Wrapf(err, "invalid hello")
	}
	if reply.Hello.Addr == "" {
		reply.Hello.Addr = addr
	} else {
		reply.Hello.Addr = reachableAddr(reply.Hello.Addr, addr)
	}
	return n.learn(reply.Hello)
}

// learn applies a Hello. Hellos are unauthenticated, so a key that
// contradicts the directory is refused and nothing from the frame is used.
func (n *Node) learn(h *proto.HelloFrame) error {
	peer := identity.NodeID(h.NodeID)
	if peer == n.id.ID {
		return nil
	}
	if err := n.dir.Learn(Entry{Peer: identity.Peer{ID: peer, PublicKey: h.PublicKey}, Addr: h.Addr}); err != nil {
		slog.Warn("hello rejected", "node", n.id.ID, "peer", peer, "addr", h.Addr,
			"fp", crypto.ShortFingerprint(h.PublicKey), "err", err)
		return err
	}
	if len(h.Neighbors) > 0 {
		nbs := make([]identity.NodeID, len(h.Neighbors))
		for i, nb := range h.Neighbors {
			nbs[i] = identity.NodeID(nb)
		}
		n.table.SetNeighbors(peer, nbs)
	}
	n.table.Link(n.id.ID, peer)
	slog.Debug("peer learned", "node", n.id.ID, "peer", peer, "fp", crypto.ShortFingerprint(h.PublicKey))
	return nil
}

// Send routes payload to the node to over the best discovered path and
// returns the message id. Up to Config.Paths ranked routes are tried in
// order; each attempt is reported to the path manager.
func (n *Node) Send(ctx context.Context, to identity.NodeID, payload []byte) (string, route.Path, error) {
	paths := route.Discover(n.table.Snapshot(), n.id.ID, to, n.maxHops)
	if len(paths) == 0 {
		return "", nil, oops.In("mesh").With("to", to).Wrapf(route.ErrNoPathFound, "send")
	}
	candidates := n.manager.SelectTop(paths, n.paths)

	var lastErr error
	for _, p := range candidates {
		msgID, err := n.sendVia(ctx, p, payload)
		if err == nil {
			return msgID, p, nil
		}
		lastErr = err
		slog.Warn("send attempt failed", "node", n.id.ID, "path", p.String(), "err", err)
		if ctx.Err() != nil {
			break
		}
	}
	return "", nil, lastErr
}

func (n *Node) sendVia(ctx context.Context, p route.Path, payload []byte) (string, error) {
	relayKeys, err := n.dir.Keys(p.Relays())
	if err != nil {
		return "", oops.In("mesh").With("path", p.String()).Wrapf(err, "resolve relays")
	}
	finalKeys, err := n.dir.Keys(p[len(p)-1:])
	if err != nil {
		return "", oops.In("mesh").With("path", p.String()).Wrapf(err, "resolve recipient")
	}
	first, ok := n.dir.Lookup(p[1])
	if !ok || first.Addr == "" {
		return "", oops.In("mesh").With("hop", p[1]).Wrapf(ErrUnknownPeer, "no address for first hop")
	}

	pkt, err := n.engine.Build(payload, relayKeys, finalKeys[0])
	if err != nil {
		return "", err
	}
	msgID := proof.NewMessageID()
	req := proof.NewRequirement(msgID, time.Now())
	f := &proto.Frame{Type: proto.FrameTypeOnion, Onion: &proto.OnionFrame{
		MessageID:   msgID,
		Requirement: &req,
		Packet:      pkt,
	}}

	hctx, cancel := context.WithTimeout(ctx, n.hopTimeout)
	defer cancel()
	start := time.Now()
	reply, err := n.transmit(hctx, first.Addr, f)
	latency := float64(time.Since(start).Milliseconds())
	if err == nil {
		err = replyErr(reply)
	}
	n.manager.UpdateMetrics(p, route.Observation{Success: err == nil, Latency: &latency})
	if err != nil {
		return "", oops.In("mesh").With("msg_id", msgID).With("path", p.String()).Wrapf(err, "transmit")
	}
	slog.Info("message sent", "node", n.id.ID, "msg_id", msgID, "hops", p.Hops())
	return msgID, nil
}

// ErrRejected wraps an error frame returned by a peer.
var ErrRejected = errors.New("rejected by peer")

func replyErr(f *proto.Frame) error {
	switch {
	case f == nil:
		return oops.In("mesh").Wrapf(ErrRejected, "no reply")
	case f.Type == proto.FrameTypeAck && f.Ack != nil && f.Ack.OK:
		return nil
	case f.Type == proto.FrameTypeError && f.Error != nil:
		return oops.In("mesh").With("code", f.Error.Code).Wrapf(ErrRejected, "%s", f.Error.Message)
	default:
		return oops.In("mesh").With("type", f.Type).Wrapf(ErrRejected, "unexpected reply")
	}
}

// Close shuts down the node
func (n *Node) Close() error {
	n.cancel()
	if n.disc != nil {
		n.disc.Close()
	}
	var err error
	if n.server != nil {
		err = n.server.Close()
	}
	_ = n.group.Wait()
	return err
}
