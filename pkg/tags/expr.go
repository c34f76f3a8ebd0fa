package tags

import (
	"fmt"
)

// Expr is a boolean combination (AND, OR — no NOT) of atoms over tags,
// time, Lamport range, app id, and local-origin (spec §4.1).
type Expr interface {
	isExpr()
}

// And matches when every operand matches.
type And struct{ Operands []Expr }

// Or matches when any operand matches.
type Or struct{ Operands []Expr }

// TagAtom matches events whose tag set contains Tag.
type TagAtom struct{ Tag Tag }

// AnyEventAtom matches every event.
type AnyEventAtom struct{}

// IsLocalAtom matches events whose owning stream belongs to the local node.
type IsLocalAtom struct{}

// TimeRangeAtom bounds the event's wall-clock timestamp, in microseconds
// since epoch. Either bound may be absent (zero FromSet/ToSet).
type TimeRangeAtom struct {
	FromMicros, ToMicros int64
	FromSet, ToSet       bool
}

// LamportRangeAtom bounds the event's Lamport timestamp.
type LamportRangeAtom struct {
	From, To       uint64
	FromSet, ToSet bool
}

// AppIDAtom matches events produced by a specific app id.
type AppIDAtom struct{ AppID string }

// Interpolation is a parsed string template over bound query variables;
// Parts alternate literal text and variable names (variable slots carry
// IsVar=true). Nothing in this module evaluates it to a tag.
type Interpolation struct {
	Parts []InterpPart
}

// InterpPart is one literal/variable segment of an Interpolation.
type InterpPart struct {
	Literal string
	Var     string
	IsVar   bool
}

func (*And) isExpr()              {}
func (*Or) isExpr()                {}
func (*TagAtom) isExpr()           {}
func (*AnyEventAtom) isExpr()      {}
func (*IsLocalAtom) isExpr()       {}
func (*TimeRangeAtom) isExpr()     {}
func (*LamportRangeAtom) isExpr()  {}
func (*AppIDAtom) isExpr()         {}
func (*Interpolation) isExpr()     {}

// Conjunct is one disjunct of a DNF-converted expression: a tag set that
// must be a subset of the event's tags, plus any non-tag constraints that
// must also hold.
type Conjunct struct {
	Tags        Set
	Local       bool
	TimeRange   *TimeRangeAtom
	LamportRng  *LamportRangeAtom
	AppID       string
	HasAppID    bool
	HasAny      bool // an AnyEventAtom was present: Tags constraint is vacuous
	Interps     []Interpolation
}

// DNF is a disjunctive normal form: an OR of Conjuncts.
type DNF []Conjunct

// ToDNF converts an arbitrary tag expression to disjunctive normal form by
// distributing AND over OR. Interpolations are carried on the conjunct's
// Interps unresolved; they are never merged into Tags, and Matches and
// DisjointFromTagUnion ignore them.
func ToDNF(e Expr) (DNF, error) {
	switch v := e.(type) {
	case *TagAtom:
		return DNF{{Tags: Set{v.Tag}}}, nil
	case *AnyEventAtom:
		return DNF{{HasAny: true}}, nil
	case *IsLocalAtom:
		return DNF{{Local: true}}, nil
	case *TimeRangeAtom:
		cp := *v
		return DNF{{TimeRange: &cp}}, nil
	case *LamportRangeAtom:
		cp := *v
		return DNF{{LamportRng: &cp}}, nil
	case *AppIDAtom:
		return DNF{{AppID: v.AppID, HasAppID: true}}, nil
	case *Interpolation:
		return DNF{{Interps: []Interpolation{*v}}}, nil
	case *Or:
		var out DNF
		for _, op := range v.Operands {
			sub, err := ToDNF(op)
			if err != nil {
				return nil, err
			}
			out = append(out, sub...)
		}
		return out, nil
	case *And:
		if len(v.Operands) == 0 {
			return DNF{{HasAny: true}}, nil
		}
		acc, err := ToDNF(v.Operands[0])
		if err != nil {
			return nil, err
		}
		for _, op := range v.Operands[1:] {
			next, err := ToDNF(op)
			if err != nil {
				return nil, err
			}
			acc = crossProduct(acc, next)
		}
		return acc, nil
	default:
		return nil, fmt.Errorf("tags: unknown expression node %T", e)
	}
}

func crossProduct(a, b DNF) DNF {
	out := make(DNF, 0, len(a)*len(b))
	for _, ca := range a {
		for _, cb := range b {
			out = append(out, mergeConjunct(ca, cb))
		}
	}
	return out
}

func mergeConjunct(a, b Conjunct) Conjunct {
	m := Conjunct{
		Tags:     a.Tags.Union(b.Tags),
		Local:    a.Local || b.Local,
		HasAny:   a.HasAny && b.HasAny,
		Interps:  append(append([]Interpolation(nil), a.Interps...), b.Interps...),
	}
	if a.TimeRange != nil {
		m.TimeRange = a.TimeRange
	}
	if b.TimeRange != nil {
		m.TimeRange = intersectTimeRange(m.TimeRange, b.TimeRange)
	}
	if a.LamportRng != nil {
		m.LamportRng = a.LamportRng
	}
	if b.LamportRng != nil {
		m.LamportRng = intersectLamportRange(m.LamportRng, b.LamportRng)
	}
	if a.HasAppID {
		m.AppID, m.HasAppID = a.AppID, true
	}
	if b.HasAppID {
		m.AppID, m.HasAppID = b.AppID, true
	}
	return m
}

func intersectTimeRange(a, b *TimeRangeAtom) *TimeRangeAtom {
	if a == nil {
		return b
	}
	out := *a
	if b.FromSet && (!out.FromSet || b.FromMicros > out.FromMicros) {
		out.FromMicros, out.FromSet = b.FromMicros, true
	}
	if b.ToSet && (!out.ToSet || b.ToMicros < out.ToMicros) {
		out.ToMicros, out.ToSet = b.ToMicros, true
	}
	return &out
}

func intersectLamportRange(a, b *LamportRangeAtom) *LamportRangeAtom {
	if a == nil {
		return b
	}
	out := *a
	if b.FromSet && (!out.FromSet || b.From > out.From) {
		out.From, out.FromSet = b.From, true
	}
	if b.ToSet && (!out.ToSet || b.To < out.To) {
		out.To, out.ToSet = b.To, true
	}
	return &out
}

// OnlyLocal reports whether every disjunct requires the local-origin atom —
// the property the event store uses to decide whether a subscription can be
// served purely from local streams (spec §4.1, §4.4).
func (d DNF) OnlyLocal() bool {
	for _, c := range d {
		if !c.Local {
			return false
		}
	}
	return len(d) > 0
}

// Matches reports whether the conjunct's tag/app-id/local constraints are
// satisfied by the given event tag set, app id, and local-origin flag. Time
// and Lamport range matching is the caller's responsibility (it needs the
// event's own Lamport/timestamp, not carried by this signature) — use
// MatchesRanges for that.
func (c Conjunct) Matches(eventTags Set, appID string, isLocal bool) bool {
	if c.Local && !isLocal {
		return false
	}
	if c.HasAppID && c.AppID != appID {
		return false
	}
	if !c.HasAny && !eventTags.IsSupersetOf(c.Tags) {
		return false
	}
	return true
}

// MatchesRanges reports whether the conjunct's time/Lamport range
// constraints (if any) admit the given values.
func (c Conjunct) MatchesRanges(lamport uint64, timestampMicros int64) bool {
	if c.LamportRng != nil {
		if c.LamportRng.FromSet && lamport < c.LamportRng.From {
			return false
		}
		if c.LamportRng.ToSet && lamport > c.LamportRng.To {
			return false
		}
	}
	if c.TimeRange != nil {
		if c.TimeRange.FromSet && timestampMicros < c.TimeRange.FromMicros {
			return false
		}
		if c.TimeRange.ToSet && timestampMicros > c.TimeRange.ToMicros {
			return false
		}
	}
	return true
}

// Matches reports whether the event (described by its tags/app-id/locality)
// matches any disjunct's tag/app-id/local constraints.
func (d DNF) Matches(eventTags Set, appID string, isLocal bool) bool {
	for _, c := range d {
		if c.Matches(eventTags, appID, isLocal) {
			return true
		}
	}
	return false
}

// DisjointFromTagUnion reports whether every disjunct in d requires at
// least one tag absent from union — used by Banyan tree traversal to prune
// a subtree whose summarized tag union cannot possibly satisfy any
// disjunct (spec §4.3).
func (d DNF) DisjointFromTagUnion(union Set) bool {
	for _, c := range d {
		if c.HasAny {
			return false
		}
		disjoint := false
		for _, t := range c.Tags {
			if !union.Contains(t) {
				disjoint = true
				break
			}
		}
		if !disjoint {
			return false
		}
	}
	return true
}
