package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/SWAI-Ltd/cerberus/internal/crypto"
	"github.com/SWAI-Ltd/cerberus/internal/identity"
	"github.com/SWAI-Ltd/cerberus/internal/route"
	"github.com/SWAI-Ltd/cerberus/internal/sim"
	"github.com/SWAI-Ltd/cerberus/internal/topology"
)

func newKeygenCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "keygen <node-id>",
		Short: "Generate a node keypair and write it to a keyfile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			suite, err := crypto.SuiteByName(cfg.Crypto.Suite)
			if err != nil {
				return err
			}
			id, err := identity.Generate(identity.NodeID(args[0]), suite, nil)
			if err != nil {
				return err
			}
			if err := identity.Save(out, id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\nid          %s\nsuite       %s\nfingerprint %s\npublic_key  %x\n",
				out, id.ID, id.Suite, id.Fingerprint(), []byte(id.Public))
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "cerberus.key", "keyfile to write")
	return cmd
}

func loadTopology() (topology.Static, error) {
	if cfg.Node.Topology == "" {
		return nil, oops.In("cli").Errorf("--topology is required")
	}
	f, err := topology.LoadFile(cfg.Node.Topology)
	if err != nil {
		return nil, err
	}
	return f.View(), nil
}

func newPathsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "paths <from> <to>",
		Short: "Discover and score every route between two nodes of a topology",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			view, err := loadTopology()
			if err != nil {
				return err
			}
			paths := route.Discover(view, identity.NodeID(args[0]), identity.NodeID(args[1]), cfg.Routing.MaxHops)
			if len(paths) == 0 {
				return oops.In("cli").With("from", args[0]).With("to", args[1]).Wrap(route.ErrNoPathFound)
			}
			m := route.NewManager(route.DefaultHopModel(), route.WithWeights(cfg.Routing.Weights))
			printRanked(cmd.OutOrStdout(), m.Rank(paths))
			return nil
		},
	}
}

func printRanked(w io.Writer, ranked []route.Scored) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RANK\tSCORE\tHOPS\tPATH")
	for i, s := range ranked {
		fmt.Fprintf(tw, "%d\t%.4f\t%d\t%s\n", i+1, s.Score, s.Path.Hops(), s.Path)
	}
	tw.Flush()
}

func newSimulateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "simulate <from> <to> <message>",
		Short: "Run one message through an in-process mesh built from a topology",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			view, err := loadTopology()
			if err != nil {
				return err
			}
			suite, err := crypto.SuiteByName(cfg.Crypto.Suite)
			if err != nil {
				return err
			}
			m := route.NewManager(route.DefaultHopModel(), route.WithWeights(cfg.Routing.Weights))
			net, err := sim.New(view, suite, nil, sim.WithMaxHops(cfg.Routing.MaxHops), sim.WithManager(m))
			if err != nil {
				return err
			}
			rep, err := net.Send(identity.NodeID(args[0]), identity.NodeID(args[1]), []byte(args[2]))
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "message %s (%s)\n\n", rep.MessageID, suite.Name())
			printRanked(out, rep.Candidates)
			fmt.Fprintf(out, "\nselected %s\n", rep.Path)
			for _, h := range rep.Hops {
				role := "relay"
				if h.Final {
					role = "recipient"
				}
				fmt.Fprintf(out, "  %-10s %-12s %5d -> %5d bytes\n", role, h.Node, h.InSize, h.OutSize)
			}
			fmt.Fprintf(out, "delivered %q\n", rep.Message)
			fmt.Fprintf(out, "proofs verified %d/%d\n", len(rep.Audit.Verified), len(rep.Path.Relays()))
			return rep.Audit.Err()
		},
	}
}
