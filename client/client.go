// Package client provides the Cerberus developer SDK: send onion-routed
// messages over the mesh and read deliveries from a channel, with
// context.Context for timeouts.
package client

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/SWAI-Ltd/cerberus/internal/crypto"
	"github.com/SWAI-Ltd/cerberus/internal/identity"
	"github.com/SWAI-Ltd/cerberus/internal/mesh"
	"github.com/SWAI-Ltd/cerberus/internal/route"
)

const (
	// DefaultDeliveryBuffer is the buffer size for the Deliveries() channel.
	DefaultDeliveryBuffer = 64
)

// ErrClosed is returned when using a client after Close.
var ErrClosed = errors.New("client closed")

// Delivery is a message received by this client as final recipient.
type Delivery struct {
	MessageID string
	Payload   []byte
	// Verified is true when every relay proof attached to the message checked out.
	Verified bool
	// Relays is how many relays left a valid proof.
	Relays int
}

// Config configures the Cerberus client.
type Config struct {
	// Addr is the local QUIC listen address (e.g. ":0" for any port).
	Addr string
	// NodeID is a human-readable identifier for this node (e.g. "drone-1").
	NodeID string
	// Identity overrides the generated keypair, e.g. one loaded from a keyfile.
	Identity *identity.Identity
	// Suite names the crypto suite; defaults to crypto.SuiteNaCl.
	Suite string
	// DisableDiscovery disables mDNS (set true in containers).
	DisableDiscovery bool
	// MaxHops caps route length; 0 uses route.DefaultMaxHops.
	MaxHops int
	// DeliveryBuffer sets the capacity of Deliveries(); 0 uses DefaultDeliveryBuffer.
	DeliveryBuffer int
	// ProofMaxAge, when set, stamps relay proofs and rejects older ones.
	ProofMaxAge time.Duration
}

// Client is the developer-facing Cerberus client. Use Send and read from
// Deliveries().
type Client struct {
	node       *mesh.Node
	deliveries chan Delivery
	maxHops    int
	closed     bool
	mu         sync.RWMutex
}

// New creates a new Cerberus client listening on cfg.Addr.
func New(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.Addr == "" {
		cfg.Addr = ":0"
	}
	if cfg.Suite == "" {
		cfg.Suite = crypto.SuiteNaCl
	}
	suite, err := crypto.SuiteByName(cfg.Suite)
	if err != nil {
		return nil, err
	}
	id := cfg.Identity
	if id == nil {
		if id, err = identity.Generate(identity.NodeID(cfg.NodeID), suite, nil); err != nil {
			return nil, err
		}
	}
	buf := cfg.DeliveryBuffer
	if buf <= 0 {
		buf = DefaultDeliveryBuffer
	}

	c := &Client{deliveries: make(chan Delivery, buf), maxHops: cfg.MaxHops}
	node, err := mesh.NewNode(ctx, mesh.Config{
		Identity:         id,
		Suite:            suite,
		Addr:             cfg.Addr,
		DisableDiscovery: cfg.DisableDiscovery,
		MaxHops:          cfg.MaxHops,
		StampProofs:      cfg.ProofMaxAge > 0,
		ProofMaxAge:      cfg.ProofMaxAge,
		OnDeliver:        c.deliver,
	})
	if err != nil {
		return nil, err
	}
	c.node = node
	return c, nil
}

func (c *Client) deliver(d mesh.Delivery) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return
	}
	select {
	case c.deliveries <- Delivery{
		MessageID: d.MessageID,
		Payload:   d.Payload,
		Verified:  d.Audit.OK(),
		Relays:    len(d.Audit.Verified),
	}:
	default:
		slog.Warn("client: delivery buffer full, dropping", "msg_id", d.MessageID)
	}
}

// Send routes payload to the node with id to and returns the message id.
func (c *Client) Send(ctx context.Context, to string, payload []byte) (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return "", ErrClosed
	}
	msgID, _, err := c.node.Send(ctx, identity.NodeID(to), payload)
	return msgID, err
}

// Route returns the path Send would try first, without sending.
func (c *Client) Route(to string) (route.Path, error) {
	paths := route.Discover(c.node.Topology().Snapshot(), c.node.ID(), identity.NodeID(to), c.maxHops)
	top := c.node.Manager().SelectTop(paths, 1)
	if len(top) == 0 {
		return nil, route.ErrNoPathFound
	}
	return top[0], nil
}

// Introduce contacts the node at addr and links it as a neighbor.
func (c *Client) Introduce(ctx context.Context, addr string) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrClosed
	}
	return c.node.Introduce(ctx, addr)
}

// AddPeer registers a peer's key and address. Set neighbor when the peer is
// one hop away.
func (c *Client) AddPeer(id string, pub crypto.PublicKey, addr string, neighbor bool) {
	c.node.AddPeer(mesh.Entry{Peer: identity.Peer{ID: identity.NodeID(id), PublicKey: pub}, Addr: addr}, neighbor)
}

// Link records that a and b are direct neighbors.
func (c *Client) Link(a, b string) {
	c.node.Topology().Link(identity.NodeID(a), identity.NodeID(b))
}

// Deliveries returns the channel of received messages. Read until the client is closed.
func (c *Client) Deliveries() <-chan Delivery {
	return c.deliveries
}

// ID returns this client's node id.
func (c *Client) ID() string {
	return string(c.node.ID())
}

// PublicKey returns this client's public key.
func (c *Client) PublicKey() crypto.PublicKey {
	return c.node.PublicKey()
}

// Addr returns the local QUIC listen address.
func (c *Client) Addr() string {
	return c.node.Addr()
}

// Close shuts down the client and closes the Deliveries() channel.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.deliveries)
	c.mu.Unlock()
	return c.node.Close()
}
