package config

import (
	"time"

	"github.com/edgemesh/axcore/pkg/gossip"
)

// GossipConfig controls the gossip engine's cadence and timeouts (spec
// §4.5, SPEC_FULL.md §3.12 "gossip cadence, block-fetch timeout").
type GossipConfig struct {
	// ListenAddr is where this node accepts incoming swarm WebSocket
	// connections from peers (spec §4.5 transport). An empty or absent
	// listen_addr in the YAML file resolves to the default address, since
	// an empty value does not override a default during the merge.
	ListenAddr string `yaml:"listen_addr"`

	// Seeds are peers dialed on startup (spec §4.5 "peers are
	// discovered... or configured directly as seeds").
	Seeds []SeedConfig `yaml:"seeds"`

	RootMapInterval  time.Duration `yaml:"root_map_interval"`
	MaxBlockBytes    int           `yaml:"max_block_bytes"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	FetchTimeout     time.Duration `yaml:"fetch_timeout"`
	ValidateTimeout  time.Duration `yaml:"validate_timeout"`
	ValidateMaxDepth int           `yaml:"validate_max_depth"`
	PresenceTimeout  time.Duration `yaml:"presence_timeout"`
}

// SeedConfig is one statically configured swarm peer to dial on startup.
// The gossip transport has no handshake that discovers a peer's identity
// (Dial/HandleConnection both take it as a parameter), so a seed's node
// id must be known out of band.
type SeedConfig struct {
	NodeID  string `yaml:"node_id"`
	Address string `yaml:"address"`
}

// DefaultGossipConfig mirrors pkg/gossip.DefaultConfig so a node with no
// gossip section in its YAML still gets the spec's defaults.
func DefaultGossipConfig() *GossipConfig {
	d := gossip.DefaultConfig()
	return &GossipConfig{
		ListenAddr:       "127.0.0.1:4455",
		RootMapInterval:  d.RootMapInterval,
		MaxBlockBytes:    d.MaxBlockBytes,
		WriteTimeout:     d.WriteTimeout,
		FetchTimeout:     d.FetchTimeout,
		ValidateTimeout:  d.ValidateTimeout,
		ValidateMaxDepth: d.ValidateMaxDepth,
		PresenceTimeout:  d.PresenceTimeout,
	}
}

// ToEngineConfig converts to the gossip package's own Config type.
func (g GossipConfig) ToEngineConfig() gossip.Config {
	return gossip.Config{
		RootMapInterval:  g.RootMapInterval,
		MaxBlockBytes:    g.MaxBlockBytes,
		WriteTimeout:     g.WriteTimeout,
		FetchTimeout:     g.FetchTimeout,
		ValidateTimeout:  g.ValidateTimeout,
		ValidateMaxDepth: g.ValidateMaxDepth,
		PresenceTimeout:  g.PresenceTimeout,
	}
}
