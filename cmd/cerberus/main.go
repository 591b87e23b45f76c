// Command cerberus runs and inspects onion-routed mesh relay nodes.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/SWAI-Ltd/cerberus/internal/config"
)

var (
	cfgFile string
	v       *viper.Viper
	cfg     *config.Config
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "cerberus",
		Short:         "Multi-hop onion relay for mesh networks",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			var err error
			if v, err = config.New(cfgFile); err != nil {
				return err
			}
			if err := bindFlags(cmd); err != nil {
				return err
			}
			if cfg, err = config.FromViper(v); err != nil {
				return err
			}
			h, err := cfg.Log.Handler(os.Stderr)
			if err != nil {
				return err
			}
			slog.SetDefault(slog.New(h))
			return nil
		},
	}
	pf := root.PersistentFlags()
	pf.StringVarP(&cfgFile, "config", "c", "", "YAML config file")
	pf.String("log-level", "info", "debug | info | warn | error")
	pf.String("log-format", "text", "text | json")
	pf.String("suite", "nacl", "crypto suite: nacl | hpke-dilithium3")
	pf.Int("max-hops", 8, "longest route considered, in hops")
	pf.String("topology", "", "YAML topology file")

	root.AddCommand(newNodeCmd(), newSendCmd(), newKeygenCmd(), newPathsCmd(), newSimulateCmd())
	return root
}

// flagKeys maps flag names to config keys.
var flagKeys = map[string]string{
	"log-level":     "log.level",
	"log-format":    "log.format",
	"suite":         "crypto.suite",
	"max-hops":      "routing.max_hops",
	"topology":      "node.topology",
	"id":            "node.id",
	"addr":          "node.addr",
	"advertise":     "node.advertise_addr",
	"key":           "node.key_file",
	"discovery":     "node.discovery",
	"paths":         "routing.paths",
	"workers":       "relay.workers",
	"rate-limit":    "relay.rate_limit",
	"hop-timeout":   "relay.hop_timeout",
	"stamp-proofs":  "proof.stamp",
	"proof-max-age": "proof.max_age",
}

// bindFlags lets explicitly set flags override file and environment values.
func bindFlags(cmd *cobra.Command) error {
	for name, key := range flagKeys {
		f := cmd.Flags().Lookup(name)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return err
		}
	}
	return nil
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		select {
		case <-sig:
			slog.Info("shutting down")
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		slog.Error("cerberus failed", "err", err)
		os.Exit(1)
	}
}
