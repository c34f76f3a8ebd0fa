package config

import "time"

// RetentionConfig controls ephemeral retention of a stream's Banyan tree:
// age, count, and payload-size based pruning (spec §3 lifecycle bullet;
// SPEC_FULL.md §3.13), run periodically by pkg/retention.
type RetentionConfig struct {
	// MaxAge is the maximum age of an event before it becomes eligible for
	// pruning. Zero disables age-based pruning.
	MaxAge time.Duration `yaml:"max_age"`

	// MaxCount is the maximum number of events retained per stream. Zero
	// disables count-based pruning.
	MaxCount int `yaml:"max_count"`

	// MaxSizeBytes is the maximum total payload size retained per stream,
	// measured as the sum of the events' raw payload lengths; compressed
	// block size is not measured. Zero disables size-based pruning.
	MaxSizeBytes int64 `yaml:"max_size_bytes"`

	// SweepInterval is how often the retention sweep runs.
	SweepInterval time.Duration `yaml:"sweep_interval"`

	// HighestSeenExpiry is parsed from configuration (zero by default), but
	// no component reads it: an unvalidatable root (one referencing an
	// ephemerally-pruned ancestor) stays in highest_seen indefinitely
	// whatever its value.
	HighestSeenExpiry time.Duration `yaml:"highest_seen_expiry"`
}

// DefaultRetentionConfig returns the built-in retention defaults: no
// pruning, no highest-seen expiry, matching the spec's "best-effort, no
// Byzantine resistance" framing until an operator opts in.
func DefaultRetentionConfig() *RetentionConfig {
	return &RetentionConfig{
		SweepInterval: 1 * time.Hour,
	}
}
