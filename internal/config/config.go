// Package config loads node settings from defaults, an optional YAML file
// and CERBERUS_* environment variables.
package config

import (
	"encoding/hex"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/viper"

	"github.com/SWAI-Ltd/cerberus/internal/crypto"
	"github.com/SWAI-Ltd/cerberus/internal/identity"
	"github.com/SWAI-Ltd/cerberus/internal/mesh"
	"github.com/SWAI-Ltd/cerberus/internal/route"
)

const EnvPrefix = "CERBERUS"

// Peer is a statically configured mesh peer.
type Peer struct {
	ID        string `mapstructure:"id"`
	Addr      string `mapstructure:"addr"`
	PublicKey string `mapstructure:"public_key"` // hex
}

type NodeConfig struct {
	ID            string
	Addr          string
	AdvertiseAddr string
	KeyFile       string
	Discovery     bool
	Topology      string
	Peers         []Peer
}

type RoutingConfig struct {
	MaxHops int
	Paths   int
	Weights route.Weights
}

type CryptoConfig struct {
	Suite string
}

type RelayConfig struct {
	Workers    int
	RateLimit  float64
	Burst      int
	HopTimeout time.Duration
}

type ProofConfig struct {
	Stamp  bool
	MaxAge time.Duration
}

type LogConfig struct {
	Level  string
	Format string
}

// Config is the typed view of all settings.
type Config struct {
	Node    NodeConfig
	Routing RoutingConfig
	Crypto  CryptoConfig
	Relay   RelayConfig
	Proof   ProofConfig
	Log     LogConfig
}

// SetDefaults registers the default for every key on v.
func SetDefaults(v *viper.Viper) {
	w := route.DefaultWeights()

	v.SetDefault("node.id", "")
	v.SetDefault("node.addr", ":6121")
	v.SetDefault("node.advertise_addr", "")
	v.SetDefault("node.key_file", "cerberus.key")
	v.SetDefault("node.discovery", true)
	v.SetDefault("node.topology", "")
	v.SetDefault("node.peers", []Peer{})

	v.SetDefault("routing.max_hops", route.DefaultMaxHops)
	v.SetDefault("routing.paths", mesh.DefaultPaths)
	v.SetDefault("routing.weights.reliability", w.Reliability)
	v.SetDefault("routing.weights.security", w.Security)
	v.SetDefault("routing.weights.latency", w.Latency)
	v.SetDefault("routing.weights.bandwidth", w.Bandwidth)
	v.SetDefault("routing.weights.hops", w.Hops)

	v.SetDefault("crypto.suite", crypto.SuiteNaCl)

	v.SetDefault("relay.workers", mesh.DefaultWorkers)
	v.SetDefault("relay.rate_limit", 0.0)
	v.SetDefault("relay.burst", 0)
	v.SetDefault("relay.hop_timeout", mesh.DefaultHopTimeout)

	v.SetDefault("proof.stamp", false)
	v.SetDefault("proof.max_age", time.Duration(0))

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// New returns a viper instance with defaults and environment binding. When
// file is non-empty it is read as YAML and must exist.
func New(file string) (*viper.Viper, error) {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, oops.In("config").With("file", file).Wrapf(err, "read config")
		}
	}
	return v, nil
}

// FromViper builds a Config from v and validates it.
func FromViper(v *viper.Viper) (*Config, error) {
	var peers []Peer
	if err := v.UnmarshalKey("node.peers", &peers); err != nil {
		return nil, oops.In("config").Wrapf(err, "node.peers")
	}
	weights := route.Weights{
		Reliability: v.GetFloat64("routing.weights.reliability"),
		Security:    v.GetFloat64("routing.weights.security"),
		Latency:     v.GetFloat64("routing.weights.latency"),
		Bandwidth:   v.GetFloat64("routing.weights.bandwidth"),
		Hops:        v.GetFloat64("routing.weights.hops"),
	}

	cfg := &Config{
		Node: NodeConfig{
			ID:            v.GetString("node.id"),
			Addr:          v.GetString("node.addr"),
			AdvertiseAddr: v.GetString("node.advertise_addr"),
			KeyFile:       v.GetString("node.key_file"),
			Discovery:     v.GetBool("node.discovery"),
			Topology:      v.GetString("node.topology"),
			Peers:         peers,
		},
		Routing: RoutingConfig{
			MaxHops: v.GetInt("routing.max_hops"),
			Paths:   v.GetInt("routing.paths"),
			Weights: weights,
		},
		Crypto: CryptoConfig{Suite: v.GetString("crypto.suite")},
		Relay: RelayConfig{
			Workers:    v.GetInt("relay.workers"),
			RateLimit:  v.GetFloat64("relay.rate_limit"),
			Burst:      v.GetInt("relay.burst"),
			HopTimeout: v.GetDuration("relay.hop_timeout"),
		},
		Proof: ProofConfig{
			Stamp:  v.GetBool("proof.stamp"),
			MaxAge: v.GetDuration("proof.max_age"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
		},
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the node cannot run with.
func (c *Config) Validate() error {
	errb := oops.In("config")
	if _, err := crypto.SuiteByName(c.Crypto.Suite); err != nil {
		return errb.With("suite", c.Crypto.Suite).Wrapf(err, "crypto.suite")
	}
	if c.Routing.MaxHops < 1 {
		return errb.With("max_hops", c.Routing.MaxHops).Errorf("routing.max_hops must be at least 1")
	}
	if c.Routing.Paths < 1 {
		return errb.With("paths", c.Routing.Paths).Errorf("routing.paths must be at least 1")
	}
	w := c.Routing.Weights
	for name, x := range map[string]float64{
		"reliability": w.Reliability, "security": w.Security, "latency": w.Latency,
		"bandwidth": w.Bandwidth, "hops": w.Hops,
	} {
		if x < 0 {
			return errb.With("weight", name).Errorf("routing.weights.%s must not be negative", name)
		}
	}
	if c.Relay.RateLimit < 0 {
		return errb.Errorf("relay.rate_limit must not be negative")
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return errb.With("format", c.Log.Format).Errorf("log.format must be text or json")
	}
	return nil
}

// Handler builds the slog handler described by l.
func (l LogConfig) Handler(w io.Writer) (slog.Handler, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return nil, oops.In("config").With("level", l.Level).Wrapf(err, "log.level")
	}
	opts := &slog.HandlerOptions{Level: level}
	if l.Format == "json" {
		return slog.NewJSONHandler(w, opts), nil
	}
	return slog.NewTextHandler(w, opts), nil
}

// Entry converts a configured peer into a directory entry.
func (p Peer) Entry() (mesh.Entry, error) {
	if p.ID == "" {
		return mesh.Entry{}, oops.In("config").Errorf("peer without id")
	}
	pub, err := hex.DecodeString(p.PublicKey)
	if err != nil || len(pub) == 0 {
		return mesh.Entry{}, oops.In("config").With("peer", p.ID).Wrapf(crypto.ErrInvalidKey, "public_key")
	}
	return mesh.Entry{
		Peer: identity.Peer{ID: identity.NodeID(p.ID), PublicKey: pub},
		Addr: p.Addr,
	}, nil
}
