package config

import "github.com/edgemesh/axcore/pkg/banyan"

// TreeConfig controls the Banyan tree's leaf and fanout shape (spec §4.3).
type TreeConfig struct {
	MaxLeafSize int `yaml:"max_leaf_size"`
	MaxFanout   int `yaml:"max_fanout"`
}

// DefaultTreeConfig mirrors pkg/banyan.DefaultConfig.
func DefaultTreeConfig() *TreeConfig {
	d := banyan.DefaultConfig()
	return &TreeConfig{MaxLeafSize: d.MaxLeafSize, MaxFanout: d.MaxFanout}
}

// ToTreeConfig converts to the banyan package's own Config type.
func (t TreeConfig) ToTreeConfig() banyan.Config {
	return banyan.Config{MaxLeafSize: t.MaxLeafSize, MaxFanout: t.MaxFanout}
}
