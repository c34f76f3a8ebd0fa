package config

import (
	"encoding/base64"
	"fmt"
	"strings"
)

// SwarmConfig identifies the gossip swarm this node joins: a topic name and
// the pre-shared key that scopes it (spec §6 "topic derived from the
// swarm's pre-shared key"; rust/actyx/ax-core/src/node/components/store.rs
// resolves the same pair of fields before deriving on-disk paths).
type SwarmConfig struct {
	// Topic names the swarm. "/" is replaced with "_" when deriving
	// on-disk file names (spec §6 "On-disk layout").
	Topic string `yaml:"topic"`

	// SwarmKey is the base64-encoded 32-byte pre-shared key.
	SwarmKey string `yaml:"swarm_key"`
}

// FileTopic returns the topic with "/" replaced by "_", as used to derive
// on-disk file and directory names.
func (s SwarmConfig) FileTopic() string {
	return strings.ReplaceAll(s.Topic, "/", "_")
}

// PresharedKey decodes SwarmKey into its 32 raw bytes.
func (s SwarmConfig) PresharedKey() ([32]byte, error) {
	var key [32]byte
	raw, err := base64.StdEncoding.DecodeString(s.SwarmKey)
	if err != nil {
		return key, fmt.Errorf("config: swarm_key is not valid base64: %w", err)
	}
	if len(raw) != 32 {
		return key, fmt.Errorf("config: swarm_key must decode to 32 bytes, got %d", len(raw))
	}
	copy(key[:], raw)
	return key, nil
}
