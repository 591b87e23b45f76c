package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/SWAI-Ltd/cerberus/internal/crypto"
	"github.com/SWAI-Ltd/cerberus/internal/identity"
	"github.com/SWAI-Ltd/cerberus/internal/mesh"
	"github.com/SWAI-Ltd/cerberus/internal/topology"
)

func addNodeFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("id", "", "node id (defaults to the keyfile's id)")
	f.String("addr", ":6121", "QUIC listen address")
	f.String("advertise", "", "address announced to peers")
	f.String("key", "cerberus.key", "keyfile written by keygen")
	f.Bool("discovery", true, "find neighbors with mDNS")
	f.Int("paths", mesh.DefaultPaths, "ranked routes to try per message")
	f.Int("workers", mesh.DefaultWorkers, "concurrent onion frames processed")
	f.Float64("rate-limit", 0, "inbound onion frames per second, 0 for unlimited")
	f.Duration("hop-timeout", mesh.DefaultHopTimeout, "per-hop transmit timeout")
	f.Bool("stamp-proofs", false, "timestamp relay proofs")
	f.Duration("proof-max-age", 0, "reject stamped proofs older than this")
}

func newNodeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "node",
		Short: "Run a mesh node that relays and receives onion messages",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			n, err := startNode(ctx, func(d mesh.Delivery) {
				slog.Info("message received", "msg_id", d.MessageID, "size", len(d.Payload), "audit_ok", d.Audit.OK())
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", d.MessageID, d.Payload)
			})
			if err != nil {
				return err
			}
			defer n.Close()

			fmt.Fprintf(cmd.OutOrStdout(), "node %s listening on %s\nfingerprint %s\n",
				n.ID(), n.Addr(), crypto.Fingerprint(n.PublicKey()))
			<-ctx.Done()
			return nil
		},
	}
	addNodeFlags(cmd)
	return cmd
}

func newSendCmd() *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "send <to> <message>",
		Short: "Start a node, send one onion-routed message and exit",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			n, err := startNode(ctx, nil)
			if err != nil {
				return err
			}
			defer n.Close()

			sctx, scancel := context.WithTimeout(ctx, timeout)
			defer scancel()
			msgID, path, err := n.Send(sctx, identity.NodeID(args[0]), []byte(args[1]))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "sent %s via %s\n", msgID, path)
			return nil
		},
	}
	addNodeFlags(cmd)
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "overall send timeout")
	return cmd
}

// startNode builds a mesh node from the loaded config: identity from the
// keyfile, static peers, the optional topology file, then hellos to every
// peer with a known address.
func startNode(ctx context.Context, onDeliver func(mesh.Delivery)) (*mesh.Node, error) {
	id, err := identity.Load(cfg.Node.KeyFile)
	if err != nil {
		return nil, oops.In("cli").Hint("run `cerberus keygen` first").Wrap(err)
	}
	if cfg.Node.ID != "" && identity.NodeID(cfg.Node.ID) != id.ID {
		return nil, oops.In("cli").With("config", cfg.Node.ID).With("keyfile", id.ID).
			Errorf("node id does not match keyfile")
	}
	if id.Suite != cfg.Crypto.Suite {
		slog.Warn("keyfile suite overrides config", "keyfile", id.Suite, "config", cfg.Crypto.Suite)
	}
	suite, err := crypto.SuiteByName(id.Suite)
	if err != nil {
		return nil, err
	}

	weights := cfg.Routing.Weights
	n, err := mesh.NewNode(ctx, mesh.Config{
		Identity:         id,
		Suite:            suite,
		Addr:             cfg.Node.Addr,
		AdvertiseAddr:    cfg.Node.AdvertiseAddr,
		DisableDiscovery: !cfg.Node.Discovery,
		MaxHops:          cfg.Routing.MaxHops,
		Paths:            cfg.Routing.Paths,
		Weights:          &weights,
		Workers:          cfg.Relay.Workers,
		RateLimit:        cfg.Relay.RateLimit,
		Burst:            cfg.Relay.Burst,
		HopTimeout:       cfg.Relay.HopTimeout,
		StampProofs:      cfg.Proof.Stamp,
		ProofMaxAge:      cfg.Proof.MaxAge,
		OnDeliver:        onDeliver,
	})
	if err != nil {
		return nil, err
	}

	for _, p := range cfg.Node.Peers {
		e, err := p.Entry()
		if err != nil {
			n.Close()
			return nil, err
		}
		n.AddPeer(e, false)
	}

	// The topology file supplies links, and addresses for peers configured
	// without one.
	if cfg.Node.Topology != "" {
		f, err := topology.LoadFile(cfg.Node.Topology)
		if err != nil {
			n.Close()
			return nil, err
		}
		for _, tn := range f.Nodes {
			n.Topology().SetNeighbors(tn.ID, tn.Neighbors)
			if e, ok := n.Directory().Lookup(tn.ID); ok && e.Addr == "" && tn.Addr != "" {
				e.Addr = tn.Addr
				n.Directory().Add(e)
			}
		}
	}

	var addrs []string
	for _, e := range n.Directory().Entries() {
		if e.Peer.ID != n.ID() && e.Addr != "" {
			addrs = append(addrs, e.Addr)
		}
	}

	// Hellos are best effort; unreachable peers may come up later via mDNS.
	g, gctx := errgroup.WithContext(ctx)
	for _, addr := range addrs {
		addr := addr
		g.Go(func() error {
			hctx, cancel := context.WithTimeout(gctx, cfg.Relay.HopTimeout)
			defer cancel()
			if err := n.Introduce(hctx, addr); err != nil {
				slog.Warn("peer unreachable", "addr", addr, "err", err)
			}
			return nil
		})
	}
	_ = g.Wait()
	return n, nil
}
