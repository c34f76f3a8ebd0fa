package query

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/edgemesh/axcore/pkg/event"
	"github.com/edgemesh/axcore/pkg/nodeid"
	"github.com/edgemesh/axcore/pkg/tags"
)

func mustTags(t *testing.T, raw ...string) tags.Set {
	t.Helper()
	s, err := tags.NewSet(raw...)
	require.NoError(t, err)
	return s
}

func mustEncode(t *testing.T, v any) []byte {
	t.Helper()
	data, err := ToCBOR(fromAnyForTest(v))
	require.NoError(t, err)
	return data
}

// fromAnyForTest builds a Value from a plain Go literal (float64/string/etc)
// for constructing test fixtures, reusing the same conversion CBOR decoding
// will produce at runtime.
func fromAnyForTest(v any) Value { return fromAny(v) }

func runOverValues(t *testing.T, q *Query, vals []Value, runSub SubQueryRunner) []Value {
	t.Helper()
	f := NewFeeder(q, runSub)
	var out []Value
	order := f.PreferredOrder()
	for _, v := range vals {
		out = append(out, f.Feed(v)...)
		if f.IsDone(order) {
			break
		}
	}
	out = append(out, f.Flush()...)
	return out
}

func runOverEvents(t *testing.T, q *Query, events []event.Event, isLocal func(nodeid.StreamID) bool, runSub SubQueryRunner) []Value {
	t.Helper()
	var vals []Value
	for _, e := range events {
		if q.Source.Kind == SourceTags && !q.Source.DNF.Matches(e.Tags, e.AppID, isLocal(e.Stream)) {
			continue
		}
		vals = append(vals, EventValue(e))
	}
	return runOverValues(t, q, vals, runSub)
}

func TestFilterSelectBasic(t *testing.T) {
	q, err := ParseQuery(`FROM 'a' FILTER _ > 1 SELECT _ * 10`)
	require.NoError(t, err)

	events := []event.Event{
		{Tags: mustTags(t, "a"), AppID: "app", Payload: mustEncode(t, float64(1))},
		{Tags: mustTags(t, "a"), AppID: "app", Payload: mustEncode(t, float64(2))},
		{Tags: mustTags(t, "a"), AppID: "app", Payload: mustEncode(t, float64(3))},
	}
	out := runOverEvents(t, q, events, func(nodeid.StreamID) bool { return true }, nil)
	require.Len(t, out, 2)
	require.Equal(t, Number(20), out[0])
	require.Equal(t, Number(30), out[1])
}

// Scenario 2 (spec §8): a beta construct used without FEATURES fails before
// execution.
func TestFeatureGatingRejectsUndeclaredTimeRange(t *testing.T) {
	q, err := ParseQuery(`FROM from(2021-07-20Z) & 'x'`)
	require.NoError(t, err)
	err = CheckFeatures(q, EndpointQuery)
	require.Error(t, err)
}

func TestFeatureGatingAcceptsDeclaredTimeRange(t *testing.T) {
	q, err := ParseQuery(`FEATURES(timeRange) FROM from(2021-07-20Z) & 'x'`)
	require.NoError(t, err)
	require.NoError(t, CheckFeatures(q, EndpointQuery))
}

func TestAggregateInvalidOnSubscribeMonotonic(t *testing.T) {
	q, err := ParseQuery(`FEATURES(aggregate zøg) FROM 'x' AGGREGATE SUM(1)`)
	require.NoError(t, err)
	require.NoError(t, CheckFeatures(q, EndpointQuery))
	require.Error(t, CheckFeatures(q, EndpointSubscribeMonotonic))
}

// Scenario 3 (spec §8): three events tagged x, one tagged y; AGGREGATE
// SUM(1) yields exactly one event whose payload is 3.
func TestAggregateSumTerminates(t *testing.T) {
	q, err := ParseQuery(`FEATURES(aggregate zøg) FROM 'x' AGGREGATE SUM(1)`)
	require.NoError(t, err)
	require.NoError(t, CheckFeatures(q, EndpointQuery))

	events := []event.Event{
		{Tags: mustTags(t, "x"), AppID: "app", Payload: mustEncode(t, float64(1))},
		{Tags: mustTags(t, "x"), AppID: "app", Payload: mustEncode(t, float64(1))},
		{Tags: mustTags(t, "x"), AppID: "app", Payload: mustEncode(t, float64(1))},
		{Tags: mustTags(t, "y"), AppID: "app", Payload: mustEncode(t, float64(1))},
	}
	out := runOverEvents(t, q, events, func(nodeid.StreamID) bool { return true }, nil)
	require.Len(t, out, 1)
	require.Equal(t, Number(3), out[0])
}

// Scenario 4 (spec §8): sub-query composition.
func TestSubQueryComposition(t *testing.T) {
	q, err := ParseQuery(`FEATURES(aggregate subQuery zøg) FROM 'outer' SELECT 1 + (FROM 'inner' AGGREGATE SUM(_))[0]`)
	require.NoError(t, err)
	require.NoError(t, CheckFeatures(q, EndpointQuery))

	innerEvents := []event.Event{
		{Tags: mustTags(t, "inner"), AppID: "app", Payload: mustEncode(t, float64(2))},
		{Tags: mustTags(t, "inner"), AppID: "app", Payload: mustEncode(t, float64(3))},
	}
	runSub := func(sub *Query, cx *EvalContext) ([]Value, error) {
		return runOverEvents(t, sub, innerEvents, func(nodeid.StreamID) bool { return true }, nil), nil
	}

	outerEvents := []event.Event{
		{Tags: mustTags(t, "outer"), AppID: "app", Payload: mustEncode(t, "whatever")},
	}
	out := runOverEvents(t, q, outerEvents, func(nodeid.StreamID) bool { return true }, runSub)
	require.Len(t, out, 1)
	require.Equal(t, Number(6), out[0])
}

// Boundary case (spec §8): AGGREGATE LAST(_) over empty input yields one
// error value, not silence.
func TestAggregateOverEmptyInputYieldsError(t *testing.T) {
	q, err := ParseQuery(`FEATURES(aggregate zøg) FROM 'never-published' AGGREGATE LAST(_)`)
	require.NoError(t, err)
	out := runOverEvents(t, q, nil, func(nodeid.StreamID) bool { return true }, nil)
	require.Len(t, out, 1)
	require.True(t, out[0].IsError())
}

// Boundary case (spec §8): LIMIT 0 yields no events and terminates
// immediately.
func TestLimitZeroTerminatesImmediately(t *testing.T) {
	q, err := ParseQuery(`FROM 'a' LIMIT 0`)
	require.NoError(t, err)
	f := NewFeeder(q, nil)
	require.True(t, f.IsDone(f.PreferredOrder()))
	out := f.Feed(Number(1))
	require.Empty(t, out)
}

func TestLetBindsVariableForLaterStages(t *testing.T) {
	q, err := ParseQuery(`FROM 'a' LET n := _ * 2 SELECT n + 1`)
	require.NoError(t, err)
	events := []event.Event{
		{Tags: mustTags(t, "a"), AppID: "app", Payload: mustEncode(t, float64(5))},
	}
	out := runOverEvents(t, q, events, func(nodeid.StreamID) bool { return true }, nil)
	require.Len(t, out, 1)
	require.Equal(t, Number(11), out[0])
}

func TestDivisionByZeroIsInBandError(t *testing.T) {
	q, err := ParseQuery(`FROM 'a' SELECT 1 / _`)
	require.NoError(t, err)
	events := []event.Event{
		{Tags: mustTags(t, "a"), AppID: "app", Payload: mustEncode(t, float64(0))},
	}
	out := runOverEvents(t, q, events, func(nodeid.StreamID) bool { return true }, nil)
	require.Len(t, out, 1)
	require.True(t, out[0].IsError())
}

func TestSelectSpreadFlattensArray(t *testing.T) {
	q, err := ParseQuery(`FROM 'a' SELECT ..._`)
	require.NoError(t, err)
	events := []event.Event{
		{Tags: mustTags(t, "a"), AppID: "app", Payload: mustEncode(t, []any{float64(1), float64(2)})},
	}
	out := runOverEvents(t, q, events, func(nodeid.StreamID) bool { return true }, nil)
	require.Equal(t, []Value{Number(1), Number(2)}, out)
}
