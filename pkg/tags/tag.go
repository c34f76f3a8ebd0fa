// Package tags implements the normalized tag alphabet and tag-set algebra
// used to label events, plus the DNF-based tag expression language used by
// queries and subscriptions (spec §4.1).
package tags

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// ErrEmptyTag is returned when constructing a tag from the empty string.
var ErrEmptyTag = errors.New("tags: empty tag is not allowed")

// Tag is a non-empty Unicode string normalized to NFC on construction.
// Equality and ordering are byte-wise on the normalized representation.
type Tag string

// New normalizes s to NFC and rejects the empty string.
func New(s string) (Tag, error) {
	if s == "" {
		return "", ErrEmptyTag
	}
	n := norm.NFC.String(s)
	if n == "" {
		return "", ErrEmptyTag
	}
	return Tag(n), nil
}

// MustNew panics on an invalid tag; for use with compile-time-known literals.
func MustNew(s string) Tag {
	t, err := New(s)
	if err != nil {
		panic(err)
	}
	return t
}

func (t Tag) String() string { return string(t) }

// Set is a sorted, deduplicated collection of tags.
type Set []Tag

// NewSet builds a normalized, sorted, deduplicated tag set.
func NewSet(raw ...string) (Set, error) {
	out := make(Set, 0, len(raw))
	for _, r := range raw {
		t, err := New(r)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out.normalized(), nil
}

func (s Set) normalized() Set {
	cp := append(Set(nil), s...)
	sort.Slice(cp, func(i, j int) bool { return cp[i] < cp[j] })
	out := cp[:0]
	for i, t := range cp {
		if i == 0 || t != out[len(out)-1] {
			out = append(out, t)
		}
	}
	return out
}

// Contains reports whether t is a member of s.
func (s Set) Contains(t Tag) bool {
	i := sort.Search(len(s), func(i int) bool { return s[i] >= t })
	return i < len(s) && s[i] == t
}

// IsSupersetOf reports whether s contains every tag in other — the core
// matching predicate for a DNF conjunct against an event's tag set.
func (s Set) IsSupersetOf(other Set) bool {
	for _, t := range other {
		if !s.Contains(t) {
			return false
		}
	}
	return true
}

// Union returns the sorted union of s and other.
func (s Set) Union(other Set) Set {
	merged := append(append(Set(nil), s...), other...)
	return merged.normalized()
}

// Intersect returns the sorted intersection of s and other.
func (s Set) Intersect(other Set) Set {
	out := make(Set, 0)
	for _, t := range s {
		if other.Contains(t) {
			out = append(out, t)
		}
	}
	return out
}

// Difference returns tags in s that are not in other.
func (s Set) Difference(other Set) Set {
	out := make(Set, 0)
	for _, t := range s {
		if !other.Contains(t) {
			out = append(out, t)
		}
	}
	return out
}

// String renders the set in the ':'-joined wire form used by the original
// tag printer (spec grounded on rust/sdk/src/tags.rs).
func (s Set) String() string {
	parts := make([]string, len(s))
	for i, t := range s {
		parts[i] = string(t)
	}
	return strings.Join(parts, ":")
}

// ParseSet parses the ':'-joined wire form produced by String, normalizing
// each component to NFC. Round-trips with String after normalization.
func ParseSet(s string) (Set, error) {
	if s == "" {
		return Set{}, nil
	}
	parts := strings.Split(s, ":")
	return NewSet(parts...)
}

// Equal reports whether two sets contain exactly the same tags.
func (s Set) Equal(other Set) bool {
	if len(s) != len(other) {
		return false
	}
	for i := range s {
		if s[i] != other[i] {
			return false
		}
	}
	return true
}

func (s Set) validate() error {
	for _, t := range s {
		if t == "" {
			return fmt.Errorf("tags: %w", ErrEmptyTag)
		}
	}
	return nil
}
