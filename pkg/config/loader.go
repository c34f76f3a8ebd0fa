package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// axcoreYAMLConfig is the shape of axcore.yaml. Duration fields are parsed
// from plain strings (e.g. "10s") rather than bound directly to
// time.Duration, mirroring the teacher's CacheTTL handling in the original
// runbooks config.
type axcoreYAMLConfig struct {
	Swarm     SwarmConfig     `yaml:"swarm"`
	Storage   StorageConfig   `yaml:"storage"`
	HTTP      HTTPConfig      `yaml:"http"`
	Tree      TreeConfig      `yaml:"tree"`
	Query     QueryConfig     `yaml:"query"`
	Gossip    gossipYAML      `yaml:"gossip"`
	Retention retentionYAML   `yaml:"retention"`
}

type gossipYAML struct {
	ListenAddr       string       `yaml:"listen_addr"`
	Seeds            []SeedConfig `yaml:"seeds"`
	RootMapInterval  string       `yaml:"root_map_interval"`
	MaxBlockBytes    int          `yaml:"max_block_bytes"`
	WriteTimeout     string       `yaml:"write_timeout"`
	FetchTimeout     string       `yaml:"fetch_timeout"`
	ValidateTimeout  string       `yaml:"validate_timeout"`
	ValidateMaxDepth int          `yaml:"validate_max_depth"`
	PresenceTimeout  string       `yaml:"presence_timeout"`
}

type retentionYAML struct {
	MaxAge            string `yaml:"max_age"`
	MaxCount          int    `yaml:"max_count"`
	MaxSizeBytes      int64  `yaml:"max_size_bytes"`
	SweepInterval     string `yaml:"sweep_interval"`
	HighestSeenExpiry string `yaml:"highest_seen_expiry"`
}

// Initialize loads, validates, and returns ready-to-use configuration.
// This is the primary entry point for configuration loading.
//
// Steps performed:
//  1. Load axcore.yaml from configDir
//  2. Expand environment variables
//  3. Merge built-in defaults with the user-provided sections
//  4. Validate the resolved configuration
func Initialize(ctx context.Context, configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)
	log.Info("initializing configuration")

	cfg, err := load(ctx, configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	log.Info("configuration initialized", "topic", cfg.Swarm.Topic, "workingDir", cfg.Storage.WorkingDir)
	return cfg, nil
}

func load(_ context.Context, configDir string) (*Config, error) {
	var raw axcoreYAMLConfig
	if err := loadYAML(configDir, "axcore.yaml", &raw); err != nil {
		return nil, NewLoadError("axcore.yaml", err)
	}

	storage := DefaultStorageConfig()
	if err := mergo.Merge(storage, raw.Storage, mergo.WithOverride); err != nil {
		return nil, fmt.Errorf("failed to merge storage config: %w", err)
	}

	httpCfg := DefaultHTTPConfig()
	if err := mergo.Merge(httpCfg, raw.HTTP, mergo.WithOverride); err != nil {
		return nil, fmt.Errorf("failed to merge http config: %w", err)
	}

	tree := DefaultTreeConfig()
	if err := mergo.Merge(tree, raw.Tree, mergo.WithOverride); err != nil {
		return nil, fmt.Errorf("failed to merge tree config: %w", err)
	}

	queryCfg := DefaultQueryConfig()
	if err := mergo.Merge(queryCfg, raw.Query, mergo.WithOverride); err != nil {
		return nil, fmt.Errorf("failed to merge query config: %w", err)
	}

	gossipUser, err := resolveGossipYAML(raw.Gossip)
	if err != nil {
		return nil, fmt.Errorf("invalid gossip config: %w", err)
	}
	gossipCfg := DefaultGossipConfig()
	if err := mergo.Merge(gossipCfg, gossipUser, mergo.WithOverride); err != nil {
		return nil, fmt.Errorf("failed to merge gossip config: %w", err)
	}

	retentionUser, err := resolveRetentionYAML(raw.Retention)
	if err != nil {
		return nil, fmt.Errorf("invalid retention config: %w", err)
	}
	retentionCfg := DefaultRetentionConfig()
	if err := mergo.Merge(retentionCfg, retentionUser, mergo.WithOverride); err != nil {
		return nil, fmt.Errorf("failed to merge retention config: %w", err)
	}

	return &Config{
		configDir: configDir,
		Swarm:     raw.Swarm,
		Storage:   storage,
		HTTP:      httpCfg,
		Tree:      tree,
		Query:     queryCfg,
		Gossip:    gossipCfg,
		Retention: retentionCfg,
	}, nil
}

func loadYAML(configDir, filename string, target any) error {
	path := filepath.Join(configDir, filename)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return err
	}

	data = ExpandEnv(data)
	if err := yaml.Unmarshal(data, target); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidYAML, err)
	}
	return nil
}

func resolveGossipYAML(raw gossipYAML) (*GossipConfig, error) {
	cfg := &GossipConfig{
		ListenAddr:       raw.ListenAddr,
		Seeds:            raw.Seeds,
		MaxBlockBytes:    raw.MaxBlockBytes,
		ValidateMaxDepth: raw.ValidateMaxDepth,
	}
	var err error
	if cfg.RootMapInterval, err = parseDuration("gossip.root_map_interval", raw.RootMapInterval); err != nil {
		return nil, err
	}
	if cfg.WriteTimeout, err = parseDuration("gossip.write_timeout", raw.WriteTimeout); err != nil {
		return nil, err
	}
	if cfg.FetchTimeout, err = parseDuration("gossip.fetch_timeout", raw.FetchTimeout); err != nil {
		return nil, err
	}
	if cfg.ValidateTimeout, err = parseDuration("gossip.validate_timeout", raw.ValidateTimeout); err != nil {
		return nil, err
	}
	if cfg.PresenceTimeout, err = parseDuration("gossip.presence_timeout", raw.PresenceTimeout); err != nil {
		return nil, err
	}
	return cfg, nil
}

func resolveRetentionYAML(raw retentionYAML) (*RetentionConfig, error) {
	cfg := &RetentionConfig{MaxCount: raw.MaxCount, MaxSizeBytes: raw.MaxSizeBytes}
	var err error
	if cfg.MaxAge, err = parseDuration("retention.max_age", raw.MaxAge); err != nil {
		return nil, err
	}
	if cfg.SweepInterval, err = parseDuration("retention.sweep_interval", raw.SweepInterval); err != nil {
		return nil, err
	}
	if cfg.HighestSeenExpiry, err = parseDuration("retention.highest_seen_expiry", raw.HighestSeenExpiry); err != nil {
		return nil, err
	}
	return cfg, nil
}

func parseDuration(field, raw string) (time.Duration, error) {
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, NewValidationError(field, "", err)
	}
	return d, nil
}

func validate(cfg *Config) error {
	if cfg.Swarm.Topic == "" {
		return NewValidationError("swarm", "topic", fmt.Errorf("%w: must not be empty", ErrValidationFailed))
	}
	if _, err := cfg.Swarm.PresharedKey(); err != nil {
		return NewValidationError("swarm", "swarm_key", err)
	}
	if cfg.HTTP.ListenAddr == "" {
		return NewValidationError("http", "listen_addr", fmt.Errorf("%w: must not be empty", ErrValidationFailed))
	}
	if cfg.Gossip.MaxBlockBytes <= 0 {
		return NewValidationError("gossip", "max_block_bytes", fmt.Errorf("%w: must be positive", ErrValidationFailed))
	}
	if cfg.Tree.MaxFanout <= 1 {
		return NewValidationError("tree", "max_fanout", fmt.Errorf("%w: must be greater than 1", ErrValidationFailed))
	}
	return nil
}
