package config

import "github.com/edgemesh/axcore/pkg/query"

// QueryConfig carries node-wide defaults for the query engine's feature
// gating (spec §4.7; SPEC_FULL.md §3.12 "query feature defaults"). A
// client query's own FEATURES(...) pragma is layered on top of these, so
// an operator can pre-enable a feature for every query on a node instead
// of requiring every client to declare it.
type QueryConfig struct {
	// DefaultFeatures are feature names treated as declared on every query
	// evaluated by this node, in addition to whatever the query itself
	// declares.
	DefaultFeatures []string `yaml:"default_features"`

	// AllowAlpha unlocks Alpha-tier features node-wide, equivalent to
	// every query implicitly carrying the "zøg" token.
	AllowAlpha bool `yaml:"allow_alpha"`
}

// DefaultQueryConfig returns the built-in query defaults: nothing
// pre-enabled, matching the spec's "Alpha requires the magic token"
// default posture.
func DefaultQueryConfig() *QueryConfig {
	return &QueryConfig{}
}

// FeatureSet builds the query.FeatureSet this configuration contributes,
// to be merged onto a query's own declared pragma.
func (q QueryConfig) FeatureSet() query.FeatureSet {
	names := q.DefaultFeatures
	if q.AllowAlpha {
		names = append(append([]string{}, names...), "zøg")
	}
	return query.NewFeatureSet(names...)
}
