package mesh

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"time"

	"github.com/SWAI-Ltd/cerberus/internal/crypto"
	"github.com/SWAI-Ltd/cerberus/internal/onion"
	"github.com/SWAI-Ltd/cerberus/internal/proof"
	"github.com/SWAI-Ltd/cerberus/internal/proto"
	"github.com/SWAI-Ltd/cerberus/internal/transport"
)

// handleConn serves frames from one inbound stream until it closes. Relays
// never see the payload, only the next hop's key. Work on a frame stops once
// the stream is gone, since nobody is left to read the reply.
func (n *Node) handleConn(c *transport.Conn) {
	defer c.Close()
	ctx, cancel := context.WithCancel(c.Context())
	defer cancel()
	stop := context.AfterFunc(n.ctx, cancel)
	defer stop()

	var f proto.Frame
	for {
		if err := c.RecvFrame(&f); err != nil {
			return
		}
		if f.Type == proto.FrameTypeHello && f.Hello != nil {
			f.Hello.Addr = reachableAddr(f.Hello.Addr, c.RemoteAddr())
		}
		reply := n.HandleFrame(ctx, &f)
		if reply == nil {
			continue
		}
		if err := c.SendFrame(reply); err != nil {
			slog.Debug("relay: reply failed", "remote", c.RemoteAddr(), "err", err)
			return
		}
	}
}

// reachableAddr replaces an empty or wildcard host in advertised with the
// host the frame actually came from.
func reachableAddr(advertised, observed string) string {
	obsHost, _, err := net.SplitHostPort(observed)
	if err != nil {
		return advertised
	}
	host, port, err := net.SplitHostPort(advertised)
	if err != nil {
		return advertised
	}
	if ip := net.ParseIP(host); host != "" && (ip == nil || !ip.IsUnspecified()) {
		return advertised
	}
	return net.JoinHostPort(obsHost, port)
}

// HandleFrame processes one inbound frame and returns the reply. Hello is
// answered inline; onion frames go through the worker pool and are refused
// with BUSY when the inbound rate limit is exceeded.
func (n *Node) HandleFrame(ctx context.Context, f *proto.Frame) *proto.Frame {
	if err := proto.Validate(f); err != nil {
		return proto.NewError(proto.CodeInvalidFrame, err.Error())
	}
	switch f.Type {
	case proto.FrameTypeHello:
		if err := n.learn(f.Hello); err != nil {
			return proto.NewError(proto.CodeKeyConflict, err.Error())
		}
		return n.hello()
	case proto.FrameTypeOnion:
		if !n.limiter.Allow() {
			slog.Warn("relay: rate limited", "node", n.id.ID, "msg_id", f.Onion.MessageID)
			return proto.NewError(proto.CodeBusy, "inbound rate exceeded")
		}
		j := job{ctx: ctx, frame: f.Onion, done: make(chan step, 1)}
		select {
		case n.jobs <- j:
		case <-ctx.Done():
			return proto.NewError(proto.CodeBusy, "cancelled")
		case <-n.ctx.Done():
			return proto.NewError(proto.CodeBusy, "shutting down")
		}
		var st step
		select {
		case st = <-j.done:
		case <-ctx.Done():
			return proto.NewError(proto.CodeBusy, "cancelled")
		}
		if st.reply != nil {
			return st.reply
		}
		// Downstream waits never hold a worker.
		return n.forward(ctx, st)
	default:
		return proto.NewError(proto.CodeInvalidFrame, "unexpected frame")
	}
}

// step is a worker's decision on one onion frame: a reply to return now, or
// a frame to hand to the next hop.
type step struct {
	reply *proto.Frame
	next  Entry
	index int
	out   *proto.OnionFrame
}

func (n *Node) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case j := <-n.jobs:
			if j.ctx.Err() != nil {
				slog.Debug("relay: dropping abandoned frame", "node", n.id.ID, "msg_id", j.frame.MessageID)
				j.done <- step{reply: proto.NewError(proto.CodeBusy, "cancelled")}
				continue
			}
			j.done <- n.processOnion(j.frame)
		}
	}
}

func (n *Node) processOnion(o *proto.OnionFrame) step {
	layer, err := n.engine.Peel(o.Packet, n.id.PrivateKey())
	switch {
	case errors.Is(err, onion.ErrNotForMe):
		slog.Debug("relay: layer not for me", "node", n.id.ID, "msg_id", o.MessageID)
		return step{reply: proto.NewError(proto.CodeNotForMe, "layer does not decrypt")}
	case err != nil:
		slog.Warn("relay: malformed layer", "node", n.id.ID, "msg_id", o.MessageID, "err", err)
		return step{reply: proto.NewError(proto.CodeMalformed, err.Error())}
	}

	if layer.Final {
		n.deliver(o, layer.Inner)
		return step{reply: proto.NewAck(o.MessageID)}
	}
	return n.relayStep(o, layer)
}

// relayStep resolves the next hop and attaches this node's proof.
func (n *Node) relayStep(o *proto.OnionFrame, layer onion.Layer) step {
	next, ok := n.dir.LookupKey(layer.NextHop)
	if !ok || next.Addr == "" {
		slog.Warn("relay: unknown next hop", "node", n.id.ID, "msg_id", o.MessageID,
			"next", crypto.ShortFingerprint(layer.NextHop))
		return step{reply: proto.NewError(proto.CodeUnknownHop, "no route to "+crypto.ShortFingerprint(layer.NextHop))}
	}

	out := &proto.OnionFrame{
		MessageID:   o.MessageID,
		Requirement: o.Requirement,
		Packet:      layer.Inner,
		Proofs:      append([]proof.Proof(nil), o.Proofs...),
	}
	if o.Requirement != nil && o.Requirement.Required {
		var p proof.Proof
		var err error
		if n.stampProofs {
			p, err = proof.GenerateAt(n.suite, o.MessageID, n.id.PrivateKey(), n.id.Public, time.Now())
		} else {
			p, err = proof.Generate(n.suite, o.MessageID, n.id.PrivateKey(), n.id.Public)
		}
		if err != nil {
			slog.Error("relay: proof generation failed", "node", n.id.ID, "msg_id", o.MessageID, "err", err)
			return step{reply: proto.NewError(proto.CodeInvalidFrame, "proof generation failed")}
		}
		out.Proofs = append(out.Proofs, p)
	}
	return step{next: next, index: layer.Index, out: out}
}

func (n *Node) forward(ctx context.Context, st step) *proto.Frame {
	hctx, cancel := context.WithTimeout(ctx, n.hopTimeout)
	defer cancel()
	reply, err := n.transmit(hctx, st.next.Addr, &proto.Frame{Type: proto.FrameTypeOnion, Onion: st.out})
	if err != nil {
		slog.Warn("relay: forward failed", "node", n.id.ID, "msg_id", st.out.MessageID, "next", st.next.Peer.ID, "err", err)
		return proto.NewError(proto.CodeUnknownHop, err.Error())
	}
	slog.Debug("relay: forwarded", "node", n.id.ID, "msg_id", st.out.MessageID, "index", st.index, "next", st.next.Peer.ID)
	// Downstream failures propagate back to the originator unchanged.
	return reply
}

func (n *Node) deliver(o *proto.OnionFrame, payload []byte) {
	// The recipient cannot see the path, so it audits the relays that
	// signed: every attached proof must verify against its own key.
	var relays []crypto.PublicKey
	seen := make(map[string]bool)
	for _, p := range o.Proofs {
		if len(p.Relay) == 0 || seen[string(p.Relay)] {
			continue
		}
		seen[string(p.Relay)] = true
		relays = append(relays, p.Relay)
	}
	rep := n.verifier.Audit(o.MessageID, relays, o.Proofs)
	slog.Info("message delivered", "node", n.id.ID, "msg_id", o.MessageID,
		"size", len(payload), "proofs", len(rep.Verified), "audit_ok", rep.OK())
	if n.onDeliver != nil {
		n.onDeliver(Delivery{MessageID: o.MessageID, Payload: payload, Audit: rep})
	}
}
