package query

import "fmt"

// Feature names a gateable language construct (spec §4.7 "Feature gating").
type Feature string

const (
	FeatureAggregate    Feature = "aggregate"
	FeatureSubQuery     Feature = "subQuery"
	FeatureTimeRange    Feature = "timeRange"
	FeatureLamportRange Feature = "lamportRange"
	FeatureArraySource  Feature = "arraySource"
)

// Tier is a construct's stability tag: Released needs no declaration, Beta
// and Alpha must be named in a query's FEATURES(...) pragma, and Alpha
// additionally requires the "zøg" token to be enabled.
type Tier int

const (
	Released Tier = iota
	Beta
	Alpha
)

// tierOf is the construct-to-tier registry. aggregate is Alpha (the engine's
// literal example scenario declares FEATURES(aggregate zøg)); the others are
// Beta — named but not gated behind the magic token.
var tierOf = map[Feature]Tier{
	FeatureAggregate:    Alpha,
	FeatureSubQuery:     Beta,
	FeatureTimeRange:    Beta,
	FeatureLamportRange: Beta,
	FeatureArraySource:  Beta,
}

// zogToken is the magic alpha-unlock token (spec §4.7 "Alpha features
// further require the magic token zøg").
const zogToken = "zøg"

// FeatureSet is a query's declared FEATURES(...) pragma.
type FeatureSet struct {
	names map[string]bool
	zog   bool
}

// NewFeatureSet builds a FeatureSet from the pragma's space-separated names.
func NewFeatureSet(names ...string) FeatureSet {
	fs := FeatureSet{names: make(map[string]bool, len(names))}
	for _, n := range names {
		if n == zogToken {
			fs.zog = true
			continue
		}
		fs.names[n] = true
	}
	return fs
}

func (fs FeatureSet) has(f Feature) bool { return fs.names[string(f)] }

// Merge returns the union of fs and other. Used to layer node-wide feature
// defaults from configuration on top of a query's own FEATURES(...) pragma,
// so an operator can pre-enable a feature for every query on a node instead
// of requiring every client to declare it.
func (fs FeatureSet) Merge(other FeatureSet) FeatureSet {
	out := FeatureSet{names: make(map[string]bool, len(fs.names)+len(other.names)), zog: fs.zog || other.zog}
	for k := range fs.names {
		out.names[k] = true
	}
	for k := range other.names {
		out.names[k] = true
	}
	return out
}

// Endpoint names where a query can be evaluated, each restricting which
// features are valid (spec §4.7 "The endpoint... further restricts which
// features are valid").
type Endpoint int

const (
	EndpointQuery Endpoint = iota
	EndpointSubscribe
	EndpointSubscribeMonotonic
)

// endpointDisallows reports features that are never valid on an endpoint
// regardless of declaration — a terminal AGGREGATE stage cannot run on an
// unbounded live subscription (spec §4.7 example: "aggregate is invalid on
// SubscribeMonotonic").
func endpointDisallows(ep Endpoint, f Feature) bool {
	if f == FeatureAggregate {
		return ep == EndpointSubscribe || ep == EndpointSubscribeMonotonic
	}
	return false
}

// CheckFeatures validates every construct a parsed query actually uses
// against its declared FEATURES(...) pragma and the endpoint it will run on,
// failing before any evaluation begins (spec §4.7).
func CheckFeatures(q *Query, ep Endpoint) error {
	used := UsedFeatures(q)
	var undeclared []Feature
	for _, f := range used {
		if endpointDisallows(ep, f) {
			return fmt.Errorf("%w: feature %q is not valid on this endpoint", ErrFeatureNotDeclared, f)
		}
		tier := tierOf[f]
		if tier == Released {
			continue
		}
		if !q.Declared.has(f) {
			undeclared = append(undeclared, f)
			continue
		}
		if tier == Alpha && !q.Declared.zog {
			return fmt.Errorf("%w: alpha feature %q requires the %q token to be enabled", ErrFeatureNotDeclared, f, zogToken)
		}
	}
	if len(undeclared) > 0 {
		return fmt.Errorf("%w: the query uses features that are not enabled: %v", ErrFeatureNotDeclared, undeclared)
	}
	return nil
}

// UsedFeatures walks a parsed query and returns every gateable construct it
// references, in first-encountered order with duplicates removed.
func UsedFeatures(q *Query) []Feature {
	var out []Feature
	seen := map[Feature]bool{}
	add := func(f Feature) {
		if !seen[f] {
			seen[f] = true
			out = append(out, f)
		}
	}

	if q.Source.Kind == SourceLiteral {
		add(FeatureArraySource)
	}
	for _, c := range q.Source.DNF {
		if c.TimeRange != nil {
			add(FeatureTimeRange)
		}
		if c.LamportRng != nil {
			add(FeatureLamportRange)
		}
	}
	for _, st := range q.Stages {
		switch s := st.(type) {
		case *AggregateStage:
			add(FeatureAggregate)
			walkExprFeatures(s.Expr, add)
		case *FilterStage:
			walkExprFeatures(s.Expr, add)
		case *SelectStage:
			for _, e := range s.Exprs {
				walkExprFeatures(e, add)
			}
		case *LetStage:
			walkExprFeatures(s.Expr, add)
		}
	}
	return out
}

func walkExprFeatures(e Expr, add func(Feature)) {
	switch v := e.(type) {
	case *SubQueryExpr:
		add(FeatureSubQuery)
		for _, f := range UsedFeatures(v.Query) {
			add(f)
		}
	case *Unary:
		walkExprFeatures(v.X, add)
	case *Binary:
		walkExprFeatures(v.L, add)
		walkExprFeatures(v.R, add)
	case *Property:
		walkExprFeatures(v.Base, add)
	case *Index:
		walkExprFeatures(v.Base, add)
		walkExprFeatures(v.Idx, add)
	case *ArrayLit:
		for _, el := range v.Elems {
			walkExprFeatures(el, add)
		}
	case *ObjectLit:
		for _, el := range v.Fields {
			walkExprFeatures(el, add)
		}
	case *Spread:
		walkExprFeatures(v.X, add)
	case *Call:
		for _, a := range v.Args {
			walkExprFeatures(a, add)
		}
	}
}
